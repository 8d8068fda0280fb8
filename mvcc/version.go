// Package mvcc implements the Version Index and Transaction Manager: the
// in-memory MVCC bookkeeping that sits between the Transaction layer and
// the WAL-backed page store. Visibility is decided solely by Commit
// Sequence Number (CSN); TxId is carried only as an opaque diagnostic
// field, per the Design Notes' resolution of the TxId-vs-CSN question.
package mvcc

import "math"

// CSN is the Commit Sequence Number: a monotonic integer that orders
// committed transactions and drives MVCC visibility.
type CSN uint64

// MaxCSN is the "no active snapshot" sentinel used to bound garbage
// collection when no transaction is active.
const MaxCSN CSN = math.MaxUint64

// TxID is an opaque, monotonically increasing transaction identifier. 0 is
// reserved for "none". It never participates in a visibility decision.
type TxID uint64

// Location addresses a document payload inside a page.
type Location struct {
	PageID    uint64
	SlotIndex uint32
}

// Version is one historical state of a document. Versions for a given
// (collection, doc id) form a chain ordered by CreatedByCSN descending.
//
// DeletedCSN is carried for data-model fidelity but, per the Version
// Index's own stated simplification, is not propagated onto predecessor
// versions on ordinary Insert/Update: get_visible_version instead picks
// the version with the largest CreatedByCSN <= S and checks its IsDeleted
// flag directly, which is sufficient for correctness against any snapshot
// without having to touch older entries at write time.
type Version struct {
	DocID        string
	CreatedByCSN CSN
	DeletedCSN   CSN // 0 means unset
	Location     Location
	IsDeleted    bool
	CreatedByTx  TxID // diagnostic only, never compared for visibility
}
