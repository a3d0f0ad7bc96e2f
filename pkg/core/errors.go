// Package core provides the enrichment pipeline client and its configuration.
package core

import (
	"context"
	"errors"
	"fmt"

	"github.com/oceanbase/impression-go/pkg/intelligence"
	"github.com/oceanbase/impression-go/pkg/llm"
	"github.com/oceanbase/impression-go/pkg/parser"
	"github.com/oceanbase/impression-go/pkg/storage"
)

// Predefined errors for common failure scenarios.
var (
	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrInvalidInput indicates that a message lacks a user id or text.
	ErrInvalidInput = errors.New("invalid input")

	// ErrProfileNotFound indicates that no profile exists for the user.
	ErrProfileNotFound = errors.New("profile not found")

	// ErrStateNotFound indicates that no message has been recorded for the user.
	ErrStateNotFound = errors.New("message state not found")

	// ErrUnknownDimension indicates a dimension name outside the eight known ones.
	ErrUnknownDimension = errors.New("unknown dimension")
)

// ImpressionError wraps errors with operation context.
//
// Example:
//
//	err := &ImpressionError{
//	    Op:  "Process",
//	    Err: ErrInvalidInput,
//	}
//	// Error() returns: "impression: Process: invalid input"
type ImpressionError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns a formatted error message.
//
// The format is: "impression: <Op>: <Err>"
func (e *ImpressionError) Error() string {
	return fmt.Sprintf("impression: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ImpressionError) Unwrap() error {
	return e.Err
}

// NewImpressionError creates a new ImpressionError wrapping the given error.
//
// If err is nil, returns nil.
//
// Parameters:
//   - op: Name of the operation (e.g., "Process", "GetProfile")
//   - err: The underlying error to wrap
//
// Returns an ImpressionError, or nil if err is nil.
func NewImpressionError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &ImpressionError{
		Op:  op,
		Err: err,
	}
}

// ErrorKind classifies a failure for callers that decide how to degrade.
type ErrorKind string

const (
	KindNone          ErrorKind = ""
	KindTransport     ErrorKind = "transport"
	KindParse         ErrorKind = "parse"
	KindPersistence   ErrorKind = "persistence"
	KindConfiguration ErrorKind = "configuration"
	KindInput         ErrorKind = "input"
	KindUnknown       ErrorKind = "unknown"
)

// KindOf returns the kind of err.
//
// Transport failures are recovered by the heuristic in the importance
// filter and are soft failures elsewhere. Parse failures fail only their
// sub-step. Persistence failures are logged at the point of use.
// Configuration errors are raised before any network attempt.
func KindOf(err error) ErrorKind {
	switch {
	case err == nil:
		return KindNone
	case errors.Is(err, llm.ErrNotConfigured), errors.Is(err, ErrInvalidConfig):
		return KindConfiguration
	case errors.Is(err, llm.ErrTransport), errors.Is(err, llm.ErrEmptyResponse),
		errors.Is(err, context.DeadlineExceeded):
		return KindTransport
	case errors.Is(err, parser.ErrNoFields), errors.Is(err, intelligence.ErrUnknownSentiment):
		return KindParse
	case errors.Is(err, storage.ErrPersistence):
		return KindPersistence
	case errors.Is(err, ErrInvalidInput), errors.Is(err, ErrUnknownDimension),
		errors.Is(err, ErrProfileNotFound), errors.Is(err, ErrStateNotFound):
		return KindInput
	default:
		return KindUnknown
	}
}
