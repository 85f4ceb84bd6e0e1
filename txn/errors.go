package txn

import (
	"errors"
	"fmt"
)

var (
	ErrNoTransaction  = errors.New("txn: no active transaction")
	ErrNotActive      = errors.New("txn: transaction is not active")
	ErrRollbackOnly   = errors.New("txn: transaction was marked rollback-only and has been rolled back")
	ErrNilParticipant = errors.New("txn: participant is nil")
)

// CommitError reports the participant whose commit failed. The
// transaction has been rolled back by the time it is returned.
type CommitError struct {
	TxnID       uint64
	Participant string
	Index       int
	Err         error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("transaction %d: commit of participant %s (#%d) failed, rolled back: %v",
		e.TxnID, e.Participant, e.Index, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// PanicError carries a panic recovered inside Execute
type PanicError struct {
	Value any
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("transaction body panicked: %v", e.Value)
}
