package txn

import (
	"fmt"

	"github.com/rthomasv3/galdrdb/mvcc"
)

// WriteConflict is raised when a write-set entry's document has moved past
// the transaction's snapshot CSN by the time of validation or commit.
type WriteConflict struct {
	Collection      string
	DocID           string
	ConflictingTxID mvcc.TxID
}

func (e *WriteConflict) Error() string {
	return fmt.Sprintf("write conflict on %s/%s: conflicting tx %d", e.Collection, e.DocID, e.ConflictingTxID)
}

// StateViolation is raised when an operation is attempted against a
// transaction in a state that forbids it (e.g. write on a read-only
// transaction, any operation on an already-terminal transaction).
type StateViolation struct {
	CurrentState State
	AttemptedOp  string
}

func (e *StateViolation) Error() string {
	return fmt.Sprintf("invalid operation %q in state %s", e.AttemptedOp, e.CurrentState)
}

// NotFound describes a missing document. Update and Delete of a
// nonexistent document return false with a nil error instead, and nothing
// in this package constructs a NotFound.
type NotFound struct {
	Collection string
	DocID      string
}

func (e *NotFound) Error() string {
	return fmt.Sprintf("document not found: %s/%s", e.Collection, e.DocID)
}
