package oplog

import (
	stderrors "errors"
	"fmt"

	"github.com/autom8ter/docrepl/errors"
)

// RollbackError reports that the upstream log no longer continues from the last applied checkpoint,
// typically because the upstream discarded unacknowledged writes.
type RollbackError struct {
	// LastGood is the last checkpoint known to be on the upstream log
	LastGood Checkpoint
	// Got is the operation that broke the chain, if any
	Got    *Operation
	Reason string
}

func (r *RollbackError) Error() string {
	if r.Got != nil {
		return fmt.Sprintf("upstream rollback after %s: %s (got %s)", r.LastGood, r.Reason, r.Got)
	}
	return fmt.Sprintf("upstream rollback after %s: %s", r.LastGood, r.Reason)
}

// NewRollbackError returns an Integrity coded error wrapping a RollbackError
func NewRollbackError(lastGood Checkpoint, got *Operation, reason string, args ...any) error {
	return errors.Wrap(&RollbackError{
		LastGood: lastGood,
		Got:      got,
		Reason:   fmt.Sprintf(reason, args...),
	}, errors.Integrity, "")
}

// AsRollback extracts the RollbackError from err
func AsRollback(err error) (*RollbackError, bool) {
	var rb *RollbackError
	if stderrors.As(err, &rb) {
		return rb, true
	}
	return nil, false
}
