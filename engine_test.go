package galdrdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/rthomasv3/galdrdb/txn"
)

func openTestEngine(t *testing.T, dir string) *Engine {
	t.Helper()
	e, err := Open(&Options{Path: dir})
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	return e
}

type person struct {
	Name string `json:"name"`
	Age  int    `json:"age"`
}

func TestEngineBasicDurability(t *testing.T) {
	dir := t.TempDir()

	e := openTestEngine(t, dir)
	col, err := e.CreateCollection("people", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	id, err := col.Insert(person{Name: "ada", Age: 36}, "", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(&Options{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	col2, err := e2.GetCollection("people")
	if err != nil {
		t.Fatalf("GetCollection after reopen: %v", err)
	}
	var got person
	ok, err := col2.Get(id, &got)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !ok {
		t.Fatal("document not found after reopen")
	}
	if got.Name != "ada" || got.Age != 36 {
		t.Fatalf("got %+v, want {ada 36}", got)
	}
}

func TestEngineUncommittedTransactionDiscarded(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)

	col, err := e.CreateCollection("people", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	committedID, err := col.Insert(person{Name: "grace"}, "", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	tx := e.BeginTxn(false)
	uncommittedID, err := tx.Insert("people", []byte(`{"name":"never"}`), "", nil)
	if err != nil {
		t.Fatalf("Insert in open transaction: %v", err)
	}
	// No Commit, no Rollback: the transaction's buffered page writes were
	// never flushed to the WAL, simulating a process that never reached
	// commit before going away.
	_ = uncommittedID

	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	e2, err := Open(&Options{Path: dir})
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer e2.Close()

	col2, err := e2.GetCollection("people")
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if ok, err := col2.Get(committedID, nil); err != nil || !ok {
		t.Fatalf("committed document missing after reopen: ok=%v err=%v", ok, err)
	}
	if ok, err := col2.Get(uncommittedID, nil); err != nil || ok {
		t.Fatalf("uncommitted document survived recovery: ok=%v err=%v", ok, err)
	}
}

func TestEngineWriteConflict(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	col, err := e.CreateCollection("docs", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	id, err := col.Insert(person{Name: "v1"}, "doc-1", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}

	txReader := e.BeginTxn(false)

	txWriter := e.BeginTxn(false)
	if _, err := txWriter.Update("docs", id, []byte(`{"name":"v2"}`), nil); err != nil {
		t.Fatalf("writer update: %v", err)
	}
	if err := txWriter.Commit(); err != nil {
		t.Fatalf("writer commit: %v", err)
	}

	_, err = txReader.Update("docs", id, []byte(`{"name":"v1-conflict"}`), nil)
	if _, ok := err.(*txn.WriteConflict); !ok {
		txReader.Rollback()
		t.Fatalf("expected *txn.WriteConflict, got %T (%v)", err, err)
	}
	txReader.Rollback()
}

func TestEngineSnapshotIsolation(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	col, err := e.CreateCollection("docs", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	reader := e.BeginTxn(true)
	defer reader.Rollback()

	if _, err := col.Insert(person{Name: "late"}, "doc-2", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if _, ok, err := reader.GetByID("docs", "doc-2"); err != nil || ok {
		t.Fatalf("reader snapshot saw a document committed after it began: ok=%v err=%v", ok, err)
	}

	fresh := e.BeginTxn(true)
	defer fresh.Rollback()
	if _, ok, err := fresh.GetByID("docs", "doc-2"); err != nil || !ok {
		t.Fatalf("fresh snapshot should see the committed document: ok=%v err=%v", ok, err)
	}
}

func TestEngineCheckpointReclaimsWAL(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	col, err := e.CreateCollection("docs", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	for i := 0; i < 8; i++ {
		if _, err := col.Insert(person{Name: "x"}, "", nil); err != nil {
			t.Fatalf("Insert %d: %v", i, err)
		}
	}

	if err := e.Checkpoint(); err != nil {
		t.Fatalf("Checkpoint: %v", err)
	}
	if got := e.walFile.NextFrameNumber(); got != 1 {
		t.Fatalf("NextFrameNumber after checkpoint = %d, want 1 (WAL truncated)", got)
	}
}

func TestEngineRecoversPastTornWALTail(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)

	col, err := e.CreateCollection("docs", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	id, err := col.Insert(person{Name: "durable"}, "", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := e.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	walPath := filepath.Join(dir, walFileName)
	f, err := os.OpenFile(walPath, os.O_RDWR|os.O_APPEND, 0644)
	if err != nil {
		t.Fatalf("open wal for corruption: %v", err)
	}
	if _, err := f.Write(make([]byte, 64)); err != nil {
		t.Fatalf("append torn bytes: %v", err)
	}
	if err := f.Close(); err != nil {
		t.Fatalf("close corrupted wal: %v", err)
	}

	e2, err := Open(&Options{Path: dir})
	if err != nil {
		t.Fatalf("reopen past torn tail: %v", err)
	}
	defer e2.Close()

	col2, err := e2.GetCollection("docs")
	if err != nil {
		t.Fatalf("GetCollection: %v", err)
	}
	if ok, err := col2.Get(id, nil); err != nil || !ok {
		t.Fatalf("durable document missing after torn-tail recovery: ok=%v err=%v", ok, err)
	}
}

func TestEngineDropCollection(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	col, err := e.CreateCollection("temp", "")
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}
	if _, err := col.Insert(person{Name: "gone"}, "only", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	if err := e.DropCollection("temp"); err != nil {
		t.Fatalf("DropCollection: %v", err)
	}

	names := e.ListCollections()
	for _, n := range names {
		if n == "temp" {
			t.Fatal("dropped collection still listed")
		}
	}
	if _, err := e.GetCollection("temp"); err == nil {
		t.Fatal("expected error getting a dropped collection")
	}
}

func TestEngineSchemaValidation(t *testing.T) {
	dir := t.TempDir()
	e := openTestEngine(t, dir)
	defer e.Close()

	schema := `{"type":"object","required":["name"],"properties":{"name":{"type":"string"}}}`
	col, err := e.CreateCollection("typed", schema)
	if err != nil {
		t.Fatalf("CreateCollection: %v", err)
	}

	if _, err := col.Insert(map[string]any{"age": 5}, "", nil); err == nil {
		t.Fatal("expected schema validation error for a document missing name")
	}
	if _, err := col.Insert(map[string]any{"name": "valid"}, "", nil); err != nil {
		t.Fatalf("Insert of a valid document failed: %v", err)
	}
}
