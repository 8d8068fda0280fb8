// Package txn implements the Transaction and its commit protocol (spec
// §4.3): the per-session object that stages document mutations in a
// write-set and, on commit, validates against the Version Index, drives a
// batched WAL Page I/O commit, and publishes new versions.
package txn

import (
	"fmt"
	"sort"
	"sync"

	"github.com/rthomasv3/galdrdb/mvcc"
	"github.com/rthomasv3/galdrdb/walio"
)

// State is a transaction's lifecycle state (spec §3 "Lifecycles").
type State int

const (
	StateActive State = iota
	StateCommitting
	StateCommitted
	StateAborted
)

func (s State) String() string {
	switch s {
	case StateActive:
		return "active"
	case StateCommitting:
		return "committing"
	case StateCommitted:
		return "committed"
	case StateAborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// Manager wires together the Transaction Manager, Version Index, WAL Page
// I/O and Index Collaborator that every Transaction needs, and owns the
// commit serialization lock shared with walio.PageIO's autocommit path
// (spec §5's lock ordering: tx_manager.lock -> commit_lock -> ...).
type Manager struct {
	txMgr      *mvcc.TxManager
	versions   *mvcc.VersionIndex
	pageIO     *walio.PageIO
	index      IndexCollaborator
	ids        NextIDSource
	commitLock *sync.Mutex

	commitCount     uint64
	checkpointEvery uint64
}

// NewManager constructs a transaction Manager. commitLock must be the same
// *sync.Mutex passed to walio.New so that both packages serialize commits
// on one lock object.
func NewManager(txMgr *mvcc.TxManager, versions *mvcc.VersionIndex, pageIO *walio.PageIO, index IndexCollaborator, ids NextIDSource, commitLock *sync.Mutex) *Manager {
	return &Manager{
		txMgr:           txMgr,
		versions:        versions,
		pageIO:          pageIO,
		index:           index,
		ids:             ids,
		commitLock:      commitLock,
		checkpointEvery: 64,
	}
}

// Begin starts a new transaction, capturing its snapshot atomically with
// registration (spec §4.1).
func (m *Manager) Begin(readOnly bool) *Transaction {
	txID, snapshotCSN := m.txMgr.Begin()
	return &Transaction{
		mgr:         m,
		txID:        txID,
		snapshotCSN: snapshotCSN,
		readOnly:    readOnly,
		state:       StateActive,
		writes:      newWriteSet(),
	}
}

// Transaction is the per-session handle returned by Manager.Begin.
type Transaction struct {
	mgr         *Manager
	txID        mvcc.TxID
	snapshotCSN mvcc.CSN
	readOnly    bool
	state       State
	writes      *writeSet
	walCtx      *walio.TxContext
	commitCSN   mvcc.CSN
}

func (t *Transaction) TxID() mvcc.TxID       { return t.txID }
func (t *Transaction) SnapshotCSN() mvcc.CSN { return t.snapshotCSN }
func (t *Transaction) State() State          { return t.state }
func (t *Transaction) IsReadOnly() bool      { return t.readOnly }

// CommitCSN returns the commit sequence number this transaction was
// assigned. Only meaningful once State() is StateCommitted; zero
// otherwise, matching a read-only transaction's zero commitCSN.
func (t *Transaction) CommitCSN() mvcc.CSN {
	if t.state != StateCommitted {
		return 0
	}
	return t.commitCSN
}

// Collections returns the distinct collection names this transaction's
// write set touched, for callers that need to persist per-collection
// bookkeeping (such as a highest-commit-CSN watermark) after a successful
// Commit.
func (t *Transaction) Collections() []string {
	seen := make(map[string]bool)
	var out []string
	for _, e := range t.writes.ordered() {
		if !seen[e.Collection] {
			seen[e.Collection] = true
			out = append(out, e.Collection)
		}
	}
	return out
}

func (t *Transaction) requireActive(op string) error {
	if t.state != StateActive {
		return &StateViolation{CurrentState: t.state, AttemptedOp: op}
	}
	return nil
}

// GetByID implements read-your-own-writes over the Version Index.
func (t *Transaction) GetByID(collection, id string) ([]byte, bool, error) {
	if err := t.requireActive("get_by_id"); err != nil {
		return nil, false, err
	}
	if e, ok := t.writes.get(collection, id); ok {
		if e.Op == OpDelete {
			return nil, false, nil
		}
		return e.Data, true, nil
	}
	v := t.mgr.versions.GetVisibleVersion(collection, id, t.snapshotCSN)
	if v == nil {
		return nil, false, nil
	}
	data, err := t.mgr.index.ReadDocument(v.Location)
	if err != nil {
		return nil, false, err
	}
	return data, true, nil
}

// Insert stages a new document. If id is empty, one is allocated from the
// NextIDSource seeded from the collection's next_id counter.
func (t *Transaction) Insert(collection string, data []byte, id string, indexFields map[string]any) (string, error) {
	if err := t.requireActive("insert"); err != nil {
		return "", err
	}
	if t.readOnly {
		return "", &StateViolation{CurrentState: t.state, AttemptedOp: "insert on read-only transaction"}
	}

	if id != "" {
		latest := t.mgr.versions.GetLatestVersion(collection, id)
		if latest != nil && !latest.IsDeleted {
			return "", &WriteConflict{Collection: collection, DocID: id, ConflictingTxID: latest.CreatedByTx}
		}
	} else {
		id = t.mgr.ids.NextDocID(collection)
	}

	t.writes.put(&WriteSetEntry{
		Op:             OpInsert,
		Collection:     collection,
		DocID:          id,
		Data:           data,
		NewIndexFields: indexFields,
		InTxInsert:     true,
	})
	return id, nil
}

// Update stages a document replacement. Returns false (no error) if the
// document does not exist, per spec §4.3/§7 NotFound semantics.
func (t *Transaction) Update(collection, id string, data []byte, indexFields map[string]any) (bool, error) {
	if err := t.requireActive("update"); err != nil {
		return false, err
	}
	if t.readOnly {
		return false, &StateViolation{CurrentState: t.state, AttemptedOp: "update on read-only transaction"}
	}

	existing, hasEntry := t.writes.get(collection, id)
	latest := t.mgr.versions.GetLatestVersion(collection, id)

	if latest == nil || latest.IsDeleted {
		if !hasEntry || existing.Op == OpDelete {
			return false, nil
		}
	} else if latest.CreatedByCSN > t.snapshotCSN {
		return false, &WriteConflict{Collection: collection, DocID: id, ConflictingTxID: latest.CreatedByTx}
	}

	var oldFields map[string]any
	inTxInsert := hasEntry && existing.InTxInsert
	if hasEntry {
		oldFields = existing.NewIndexFields
	} else if latest != nil {
		oldFields = nil // the collaborator clears the document's earlier secondary entries itself
	}

	t.writes.put(&WriteSetEntry{
		Op:             OpUpdate,
		Collection:     collection,
		DocID:          id,
		Data:           data,
		OldIndexFields: oldFields,
		NewIndexFields: indexFields,
		InTxInsert:     inTxInsert,
	})
	return true, nil
}

// Delete stages a tombstone. An Insert followed by a Delete of the same
// document within one transaction cancels both entries (spec §3).
func (t *Transaction) Delete(collection, id string) (bool, error) {
	if err := t.requireActive("delete"); err != nil {
		return false, err
	}
	if t.readOnly {
		return false, &StateViolation{CurrentState: t.state, AttemptedOp: "delete on read-only transaction"}
	}

	existing, hasEntry := t.writes.get(collection, id)
	if hasEntry && existing.Op == OpInsert && existing.InTxInsert {
		t.writes.remove(collection, id)
		return true, nil
	}

	latest := t.mgr.versions.GetLatestVersion(collection, id)
	if latest == nil || latest.IsDeleted {
		if !hasEntry {
			return false, nil
		}
	} else if latest.CreatedByCSN > t.snapshotCSN {
		return false, &WriteConflict{Collection: collection, DocID: id, ConflictingTxID: latest.CreatedByTx}
	}

	t.writes.put(&WriteSetEntry{Op: OpDelete, Collection: collection, DocID: id})
	return true, nil
}

// QueryResult is one document returned by Query.
type QueryResult struct {
	DocID string
	Data  []byte
}

// Query overlays the Version Index's visible set with this transaction's
// own write set (spec §4.3).
func (t *Transaction) Query(collection string, pred Predicate) ([]QueryResult, error) {
	if err := t.requireActive("query"); err != nil {
		return nil, err
	}

	seen := make(map[string]bool)
	var out []QueryResult

	for _, v := range t.mgr.versions.GetAllVisible(collection, t.snapshotCSN) {
		seen[v.DocID] = true
		if e, ok := t.writes.get(collection, v.DocID); ok {
			if e.Op == OpDelete {
				continue
			}
			if pred == nil || pred(v.DocID, e.Data) {
				out = append(out, QueryResult{DocID: v.DocID, Data: e.Data})
			}
			continue
		}
		data, err := t.mgr.index.ReadDocument(v.Location)
		if err != nil {
			return nil, err
		}
		if pred == nil || pred(v.DocID, data) {
			out = append(out, QueryResult{DocID: v.DocID, Data: data})
		}
	}

	for _, e := range t.writes.forCollection(collection) {
		if seen[e.DocID] || e.Op == OpDelete {
			continue
		}
		if pred == nil || pred(e.DocID, e.Data) {
			out = append(out, QueryResult{DocID: e.DocID, Data: e.Data})
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].DocID < out[j].DocID })
	return out, nil
}

// Commit drives the 8-step protocol of spec §4.3.
func (t *Transaction) Commit() error {
	if err := t.requireActive("commit"); err != nil {
		return err
	}

	if t.readOnly {
		t.state = StateCommitted
		t.mgr.txMgr.MarkCommitted(t.txID)
		return nil
	}

	// Step 1: transition, acquire commit serialization lock.
	t.state = StateCommitting
	t.mgr.commitLock.Lock()

	entries := t.writes.ordered()

	// Step 2: revalidate against the current Version Index.
	for _, e := range entries {
		latest := t.mgr.versions.GetLatestVersion(e.Collection, e.DocID)
		if latest != nil && latest.CreatedByCSN > t.snapshotCSN {
			t.mgr.commitLock.Unlock()
			t.state = StateAborted
			return &WriteConflict{Collection: e.Collection, DocID: e.DocID, ConflictingTxID: latest.CreatedByTx}
		}
	}

	// Step 3: allocate the commit CSN under the lock.
	csn := t.mgr.txMgr.NextCommitCSN()
	t.commitCSN = csn

	// Step 4: materialize page mutations via the index collaborator.
	ctx := t.mgr.pageIO.BeginTxn(uint64(t.txID))
	t.walCtx = ctx

	type resolved struct {
		entry *WriteSetEntry
		loc   mvcc.Location
	}
	resolvedEntries := make([]resolved, 0, len(entries))

	for _, e := range entries {
		var loc mvcc.Location
		var err error
		switch e.Op {
		case OpInsert:
			loc, err = t.mgr.index.CommitInsert(ctx, e.Collection, e.DocID, e.Data, e.NewIndexFields)
		case OpUpdate:
			loc, err = t.mgr.index.CommitUpdate(ctx, e.Collection, e.DocID, e.Data, e.OldIndexFields, e.NewIndexFields)
		case OpDelete:
			err = t.mgr.index.CommitDelete(ctx, e.Collection, e.DocID)
		}
		if err != nil {
			t.mgr.pageIO.AbortTxn(ctx)
			t.mgr.commitLock.Unlock()
			t.state = StateAborted
			return fmt.Errorf("commit: materializing %s/%s: %w", e.Collection, e.DocID, err)
		}
		resolvedEntries = append(resolvedEntries, resolved{entry: e, loc: loc})
	}

	// Step 5: flush the batched frame group and fsync.
	if err := t.mgr.pageIO.CommitTxn(ctx); err != nil {
		t.mgr.pageIO.AbortTxn(ctx)
		t.mgr.commitLock.Unlock()
		t.state = StateAborted
		return err
	}

	// Step 6: publish versions.
	for _, r := range resolvedEntries {
		switch r.entry.Op {
		case OpDelete:
			t.mgr.versions.MarkDeleted(r.entry.Collection, r.entry.DocID, csn, t.txID)
		default:
			t.mgr.versions.AddVersion(r.entry.Collection, r.entry.DocID, csn, r.loc, t.txID)
		}
	}

	// Step 7: mark committed, release the commit lock.
	t.mgr.txMgr.MarkCommitted(t.txID)
	t.mgr.commitLock.Unlock()
	t.state = StateCommitted

	// Step 8: opportunistic checkpoint and garbage collection.
	t.mgr.commitCount++
	if t.mgr.commitCount%t.mgr.checkpointEvery == 0 {
		_ = t.mgr.pageIO.Checkpoint()
		t.mgr.versions.GarbageCollect(t.mgr.txMgr.OldestActiveSnapshotCSN())
	}

	return nil
}

// Rollback clears the write set and marks the transaction aborted. No WAL
// interaction occurs if BeginTxn was never reached during Commit.
func (t *Transaction) Rollback() {
	if t.state != StateActive && t.state != StateCommitting {
		return
	}
	if t.walCtx != nil {
		t.mgr.pageIO.AbortTxn(t.walCtx)
		t.walCtx = nil
	}
	t.writes.clear()
	t.state = StateAborted
	t.mgr.txMgr.MarkAborted(t.txID)
}
