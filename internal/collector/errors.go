package collector

import (
	"errors"
	"fmt"
)

// ErrIdentityConflict marks an upsert rejected by the business-key uniqueness
// rule: another serial number already holds the same business identity.
var ErrIdentityConflict = errors.New("business identity already stored under another serial number")

// ValidationError reports a malformed or missing field in an upstream payload.
type ValidationError struct {
	Field  string
	Reason string
}

// NewValidationError builds a ValidationError.
func NewValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// PersistenceError wraps an unrecoverable store failure. It aborts the run.
type PersistenceError struct {
	Op  string
	Err error
}

// NewPersistenceError wraps err with the failing operation.
func NewPersistenceError(op string, err error) *PersistenceError {
	return &PersistenceError{Op: op, Err: err}
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persistence: %s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// IsItemScoped reports whether err should only skip the current item.
func IsItemScoped(err error) bool {
	var verr *ValidationError
	return errors.As(err, &verr) || errors.Is(err, ErrIdentityConflict)
}
