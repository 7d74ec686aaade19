package journallayer

import (
	"fmt"

	"journalstore/blob"
)

// ErrClosed is returned by Transaction.Commit (and so by
// Layer.CreateRecoverableTemporary) when a journal write is attempted after
// the Layer was closed. Other Layer methods do not check for Close.
var ErrClosed = fmt.Errorf("journallayer: layer is closed")

// ErrNotFound names the not-found condition for an object or temporary. No
// function in this package returns it: OpenObject and OpenTemporary report
// a missing id as (nil, nil).
var ErrNotFound = fmt.Errorf("journallayer: not found")

// ConflictError is returned when opening an object or recoverable temporary
// that already has a live handle elsewhere in the process. The registry
// enforces at most one open handle per id; a second caller sees this error
// rather than silently sharing state with the first.
type ConflictError struct {
	ObjectID   blob.ObjectId
	RecoveryID blob.RecoveryId
	isTemp     bool
}

func (e *ConflictError) Error() string {
	if e.isTemp {
		return fmt.Sprintf("journallayer: recoverable temporary %s already has an open handle", e.RecoveryID)
	}
	return fmt.Sprintf("journallayer: object %s already has an open handle", e.ObjectID)
}

// FatalError wraps whatever error broke the write queue after a journal
// sync had already been acknowledged. Once the process observes one of
// these there is no in-process recovery: Layer.handleFatal logs it and the
// process exits, because the only sound way to get back to a consistent state is a
// fresh Recovery pass over the journal on the next startup.
type FatalError struct {
	Cause error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("journallayer: fatal commit failure, process must restart and recover: %v", e.Cause)
}

func (e *FatalError) Unwrap() error {
	return e.Cause
}
