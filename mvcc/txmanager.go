package mvcc

import "sync"

// TxManager allocates monotonic transaction ids and commit sequence
// numbers, tracks active transactions and the snapshot CSN each observes,
// and computes the oldest-active bound used to drive garbage collection
// (spec §4.1). All operations are total: the only failure mode is an
// invariant violation, which is a programming bug and panics rather than
// returning an error, matching the contract's stated failure semantics.
type TxManager struct {
	mu sync.Mutex

	nextTxID       TxID
	lastCommittted TxID
	commitSeq      CSN // highest committed CSN so far
	activeSnap     map[TxID]CSN
}

// NewTxManager constructs a fresh manager with no committed history.
func NewTxManager() *TxManager {
	return &TxManager{
		activeSnap: make(map[TxID]CSN),
	}
}

// Begin allocates a transaction id and captures the current highest
// committed CSN as its snapshot, atomically registering it as active.
// Atomicity of "allocate id + capture snapshot + register" under a single
// lock is required so a concurrent garbage collector can never observe a
// tx id without also seeing its snapshot.
func (tm *TxManager) Begin() (txID TxID, snapshotCSN CSN) {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	tm.nextTxID++
	txID = tm.nextTxID
	snapshotCSN = tm.commitSeq
	tm.activeSnap[txID] = snapshotCSN
	return txID, snapshotCSN
}

// NextCommitCSN allocates the next commit sequence number. Callers must
// hold the commit serialization lock (§5) for the duration of the commit;
// TxManager's own lock only protects this allocation.
func (tm *TxManager) NextCommitCSN() CSN {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	tm.commitSeq++
	return tm.commitSeq
}

// MarkCommitted unregisters txID's active snapshot and advances
// last-committed monotonically.
func (tm *TxManager) MarkCommitted(txID TxID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.activeSnap, txID)
	if txID > tm.lastCommittted {
		tm.lastCommittted = txID
	}
}

// MarkAborted unregisters txID's active snapshot without advancing
// last-committed.
func (tm *TxManager) MarkAborted(txID TxID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	delete(tm.activeSnap, txID)
}

// OldestActiveSnapshotCSN returns the minimum snapshot CSN across active
// transactions, or MaxCSN if none are active.
func (tm *TxManager) OldestActiveSnapshotCSN() CSN {
	tm.mu.Lock()
	defer tm.mu.Unlock()

	oldest := MaxCSN
	for _, snap := range tm.activeSnap {
		if snap < oldest {
			oldest = snap
		}
	}
	return oldest
}

// ActiveCount reports the number of currently active transactions.
func (tm *TxManager) ActiveCount() int {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return len(tm.activeSnap)
}

// SetLastCommitted is a replay hook used by recovery to restore
// last_committed_tx_id from the highest tx id seen in replayed frames.
func (tm *TxManager) SetLastCommitted(txID TxID) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if txID > tm.lastCommittted {
		tm.lastCommittted = txID
	}
	if txID > tm.nextTxID {
		tm.nextTxID = txID
	}
}

// SetCommitSequence is a replay hook used by recovery to restore the
// commit sequence counter from the highest committed CSN recorded in
// collection metadata.
func (tm *TxManager) SetCommitSequence(csn CSN) {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	if csn > tm.commitSeq {
		tm.commitSeq = csn
	}
}

// LastCommittedTxID returns the highest tx id marked committed so far.
func (tm *TxManager) LastCommittedTxID() TxID {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.lastCommittted
}

// CurrentCommitSequence returns the highest CSN assigned so far, without
// allocating a new one.
func (tm *TxManager) CurrentCommitSequence() CSN {
	tm.mu.Lock()
	defer tm.mu.Unlock()
	return tm.commitSeq
}
