package core

import (
	"errors"
	"fmt"
)

var (
	// ErrAuthRequired means the catalog session is missing or no longer valid
	ErrAuthRequired = errors.New("authentication required")
	// ErrUpstreamUnavailable means the similarity service could not be queried
	ErrUpstreamUnavailable = errors.New("upstream unavailable")
	// ErrNoMatch means a catalog search returned no items
	ErrNoMatch = errors.New("no catalog match")
)

// ValidationError reports a missing or invalid request field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid request: " + e.Reason
	}
	return fmt.Sprintf("invalid request: %s: %s", e.Field, e.Reason)
}

func newValidationError(field, reason string) *ValidationError {
	return &ValidationError{Field: field, Reason: reason}
}

// CommitError reports a failed playlist write. Op is "create" or "append".
type CommitError struct {
	Op  string
	Err error
}

func (e *CommitError) Error() string {
	return fmt.Sprintf("playlist %s failed: %v", e.Op, e.Err)
}

func (e *CommitError) Unwrap() error {
	return e.Err
}

// IsValidationError reports whether err carries a ValidationError.
func IsValidationError(err error) bool {
	var ve *ValidationError
	return errors.As(err, &ve)
}

// IsCommitError reports whether err carries a CommitError.
func IsCommitError(err error) bool {
	var ce *CommitError
	return errors.As(err, &ce)
}
