package domain

import (
	"errors"
	"fmt"
)

// ErrDuplicateVote indicates the voter already has a committed vote for the
// film. Surfaced synchronously by the submit path, never retried.
var ErrDuplicateVote = errors.New("domain: voter already rated this film")

// ValidationError rejects a submission before it reaches the queue.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// TransientStoreError wraps a record-store failure that is safe to retry:
// the write may not have happened, and redelivery is idempotent.
type TransientStoreError struct {
	Op  string
	Err error
}

func (e *TransientStoreError) Error() string {
	return fmt.Sprintf("store %s failed: %v", e.Op, e.Err)
}

func (e *TransientStoreError) Unwrap() error {
	return e.Err
}
