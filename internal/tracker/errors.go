package tracker

import (
	"errors"
	"fmt"
)

// ErrNotFound means the referenced issue does not exist.
var ErrNotFound = errors.New("issue not found")

// ValidationError reports a field that could not be coerced to its type.
type ValidationError struct {
	Field string
	Value string
	Err   error
}

func (e *ValidationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("invalid %s %q: %v", e.Field, e.Value, e.Err)
	}
	return fmt.Sprintf("invalid %s %q", e.Field, e.Value)
}

func (e *ValidationError) Unwrap() error { return e.Err }

// StoreError wraps a failed store read or write. Store errors are transient:
// idempotent operations such as Update may be retried.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string { return "store " + e.Op + ": " + e.Err.Error() }

func (e *StoreError) Unwrap() error { return e.Err }

func storeErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StoreError{Op: op, Err: err}
}

// IsPermanent reports whether retrying the failed operation cannot succeed.
func IsPermanent(err error) bool {
	var ve *ValidationError
	return errors.Is(err, ErrNotFound) || errors.As(err, &ve)
}
