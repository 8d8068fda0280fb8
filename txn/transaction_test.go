package txn

import (
	"path/filepath"
	"sync"
	"testing"

	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/storage"
	"github.com/rthomasv3/galdrdb/wal"
	"github.com/rthomasv3/galdrdb/walio"
)

// fakeIndex is an in-memory stand-in for the Index Collaborator, enough to
// exercise the Transaction commit protocol without the slotted-page detail
// docstore adds on top.
type fakeIndex struct {
	mu      sync.Mutex
	nextLoc uint64
	docs    map[mvcc.Location][]byte
}

func newFakeIndex() *fakeIndex {
	return &fakeIndex{docs: make(map[mvcc.Location][]byte)}
}

func (f *fakeIndex) alloc(data []byte) mvcc.Location {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.nextLoc++
	loc := mvcc.Location{PageID: f.nextLoc, SlotIndex: 0}
	cp := make([]byte, len(data))
	copy(cp, data)
	f.docs[loc] = cp
	return loc
}

func (f *fakeIndex) CommitInsert(ctx *walio.TxContext, collection, docID string, data []byte, indexFields map[string]any) (mvcc.Location, error) {
	return f.alloc(data), nil
}

func (f *fakeIndex) CommitUpdate(ctx *walio.TxContext, collection, docID string, data []byte, oldIndexFields, newIndexFields map[string]any) (mvcc.Location, error) {
	return f.alloc(data), nil
}

func (f *fakeIndex) CommitDelete(ctx *walio.TxContext, collection, docID string) error {
	return nil
}

func (f *fakeIndex) ReadDocument(loc mvcc.Location) ([]byte, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.docs[loc], nil
}

func (f *fakeIndex) SearchDocIDRange(collection, start, end string, includeStart, includeEnd bool) ([]string, error) {
	return nil, nil
}

func (f *fakeIndex) SearchSecondary(collection, field string, value any) ([]string, error) {
	return nil, nil
}

type fakeIDs struct {
	mu   sync.Mutex
	next map[string]uint64
}

func newFakeIDs() *fakeIDs { return &fakeIDs{next: make(map[string]uint64)} }

func (f *fakeIDs) NextDocID(collection string) string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.next[collection]++
	return itoa(f.next[collection])
}

func itoa(n uint64) string {
	if n == 0 {
		return "0"
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

func newTestManager(t *testing.T) *Manager {
	t.Helper()
	dir := t.TempDir()
	base, err := storage.NewPager(filepath.Join(dir, "data.db"))
	if err != nil {
		t.Fatalf("NewPager: %v", err)
	}
	walFile, err := wal.Create(filepath.Join(dir, "data.wal"), storage.PageSize)
	if err != nil {
		t.Fatalf("wal.Create: %v", err)
	}
	t.Cleanup(func() {
		base.Close()
		walFile.Close()
	})

	var lk sync.Mutex
	pio := walio.New(base, walFile, &lk)
	t.Cleanup(pio.Close)

	txMgr := mvcc.NewTxManager()
	versions := mvcc.NewVersionIndex()
	return NewManager(txMgr, versions, pio, newFakeIndex(), newFakeIDs(), &lk)
}

func TestInsertAndReadYourOwnWrites(t *testing.T) {
	mgr := newTestManager(t)
	tx := mgr.Begin(false)

	id, err := tx.Insert("C", []byte(`{"name":"a"}`), "", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	data, ok, err := tx.GetByID("C", id)
	if err != nil || !ok {
		t.Fatalf("GetByID: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"name":"a"}` {
		t.Fatalf("unexpected data: %s", data)
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestBasicDurabilityAcrossTransactions(t *testing.T) {
	mgr := newTestManager(t)
	tx1 := mgr.Begin(false)
	id, err := tx1.Insert("C", []byte(`{"name":"a"}`), "1", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := tx1.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	tx2 := mgr.Begin(true)
	data, ok, err := tx2.GetByID("C", id)
	if err != nil || !ok {
		t.Fatalf("GetByID: ok=%v err=%v", ok, err)
	}
	if string(data) != `{"name":"a"}` {
		t.Fatalf("unexpected data: %s", data)
	}
}

func TestWriteConflictOnConcurrentUpdate(t *testing.T) {
	mgr := newTestManager(t)
	seed := mgr.Begin(false)
	if _, err := seed.Insert("C", []byte(`{"v":0}`), "7", nil); err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if err := seed.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	t1 := mgr.Begin(false)
	t2 := mgr.Begin(false)

	if ok, err := t1.Update("C", "7", []byte(`{"v":1}`), nil); err != nil || !ok {
		t.Fatalf("t1 Update: ok=%v err=%v", ok, err)
	}
	if ok, err := t2.Update("C", "7", []byte(`{"v":2}`), nil); err != nil || !ok {
		t.Fatalf("t2 Update: ok=%v err=%v", ok, err)
	}

	if err := t1.Commit(); err != nil {
		t.Fatalf("expected t1 to commit cleanly, got %v", err)
	}
	err := t2.Commit()
	if err == nil {
		t.Fatal("expected t2 to raise WriteConflict")
	}
	wc, ok := err.(*WriteConflict)
	if !ok {
		t.Fatalf("expected *WriteConflict, got %T: %v", err, err)
	}
	if wc.Collection != "C" || wc.DocID != "7" {
		t.Fatalf("unexpected conflict detail: %+v", wc)
	}
}

func TestUncommittedTransactionInvisibleAfterRollback(t *testing.T) {
	mgr := newTestManager(t)
	tx := mgr.Begin(false)
	id, err := tx.Insert("C", []byte(`{"name":"a"}`), "2", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	tx.Rollback()

	other := mgr.Begin(true)
	if _, ok, _ := other.GetByID("C", id); ok {
		t.Fatal("expected rolled-back insert to be invisible to a new transaction")
	}
}

func TestDeleteCancelsInTxInsert(t *testing.T) {
	mgr := newTestManager(t)
	tx := mgr.Begin(false)
	id, err := tx.Insert("C", []byte(`{"name":"a"}`), "3", nil)
	if err != nil {
		t.Fatalf("Insert: %v", err)
	}
	if ok, err := tx.Delete("C", id); err != nil || !ok {
		t.Fatalf("Delete: ok=%v err=%v", ok, err)
	}
	if tx.writes.len() != 0 {
		t.Fatalf("expected insert+delete to cancel out, write set has %d entries", tx.writes.len())
	}
	if err := tx.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}
}

func TestSnapshotIsolationQuery(t *testing.T) {
	mgr := newTestManager(t)

	writer := mgr.Begin(false)
	for i := 1; i <= 10; i++ {
		if _, err := writer.Insert("C", []byte(`{}`), itoa(uint64(i)), nil); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := writer.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	reader := mgr.Begin(true)

	writer2 := mgr.Begin(false)
	for i := 11; i <= 20; i++ {
		if _, err := writer2.Insert("C", []byte(`{}`), itoa(uint64(i)), nil); err != nil {
			t.Fatalf("Insert: %v", err)
		}
	}
	if err := writer2.Commit(); err != nil {
		t.Fatalf("Commit: %v", err)
	}

	results, err := reader.Query("C", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 10 {
		t.Fatalf("expected reader's stable snapshot to see 10 docs, got %d", len(results))
	}

	fresh := mgr.Begin(true)
	results, err = fresh.Query("C", nil)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(results) != 20 {
		t.Fatalf("expected a new transaction to see 20 docs, got %d", len(results))
	}
}
