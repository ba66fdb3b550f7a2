package repository

import "fmt"

// PersistenceError wraps any store failure other than a duplicate
// idempotency key, which Save resolves itself.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error { return e.Err }
