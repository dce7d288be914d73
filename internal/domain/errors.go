package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound reports an Update or Delete against an identifier that does not
// exist in the store.
var ErrNotFound = errors.New("entity not found")

// ErrUnavailable is surfaced when bounded retries of transient store failures
// have been exhausted.
var ErrUnavailable = errors.New("store unavailable")

// ValidationError reports a malformed or missing payload field. It is always
// raised before any transaction opens.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// ReferentialIntegrityError reports a reference to a nonexistent or inactive
// parent entity.
type ReferentialIntegrityError struct {
	Type EntityType
	ID   string
}

func (e *ReferentialIntegrityError) Error() string {
	return fmt.Sprintf("referenced %s %s does not exist or is inactive", e.Type, e.ID)
}

// ConflictError reports a unique-constraint violation: duplicate service name,
// duplicate route path+method, duplicate snapshot version name, and so on.
type ConflictError struct {
	Constraint string
	Value      string
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("conflict on %s: %q already exists", e.Constraint, e.Value)
}

// TransientError wraps a store failure worth retrying: lock contention,
// serialization failure, deadlock, timeout.
type TransientError struct {
	Err error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("transient store error: %v", e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

// IsTransient reports whether err should be retried by the gateway.
func IsTransient(err error) bool {
	var te *TransientError
	return errors.As(err, &te)
}
