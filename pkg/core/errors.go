// Package core is the public entry point of the memory engine: it wires the
// store, the hierarchy resolver, the intelligence components and the
// sharing workflow into one Client.
package core

import (
	"errors"
	"fmt"

	"github.com/oceanbase/scopemem-go/pkg/sharing"
	"github.com/oceanbase/scopemem-go/pkg/storage"
)

// Predefined errors for common failure scenarios. Store and workflow
// sentinels are re-exported so callers only need this package.
var (
	// ErrNotFound indicates that a requested memory or proposal was not
	// found, or is not visible to the caller.
	ErrNotFound = storage.ErrNotFound

	// ErrConflict indicates a lost race on a state transition.
	ErrConflict = storage.ErrConflict

	// ErrDuplicate indicates that an open memory with the same content
	// already exists in the anchor.
	ErrDuplicate = storage.ErrDuplicate

	// ErrVersionConflict indicates that a memory kept changing while an
	// update was retried.
	ErrVersionConflict = storage.ErrVersionConflict

	// ErrPermissionDenied indicates that the actor may not perform the
	// operation.
	ErrPermissionDenied = sharing.ErrPermissionDenied

	// ErrInvalidProposal indicates a proposal that does not widen visibility.
	ErrInvalidProposal = sharing.ErrInvalidProposal

	// ErrInvalidConfig indicates that the provided configuration is invalid.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrConnectionFailed indicates that a connection to the storage backend failed.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrEmbeddingFailed indicates that embedding generation failed.
	ErrEmbeddingFailed = errors.New("embedding generation failed")

	// ErrInvalidInput indicates that the provided input is invalid.
	ErrInvalidInput = errors.New("invalid input")

	// ErrStorageOperation indicates that a storage operation failed.
	ErrStorageOperation = errors.New("storage operation failed")

	// ErrLLMOperation indicates that an LLM operation failed.
	ErrLLMOperation = errors.New("llm operation failed")
)

// MemoryError wraps errors with operation context.
//
// Example:
//
//	err := &MemoryError{Op: "IngestCandidate", Err: ErrInvalidInput}
//	// Error() returns: "scopemem: IngestCandidate: invalid input"
type MemoryError struct {
	// Op is the name of the operation that failed.
	Op string

	// Err is the underlying error.
	Err error
}

// Error returns "scopemem: <Op>: <Err>".
func (e *MemoryError) Error() string {
	return fmt.Sprintf("scopemem: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *MemoryError) Unwrap() error {
	return e.Err
}

// NewMemoryError creates a new MemoryError wrapping err. It returns nil if
// err is nil.
func NewMemoryError(op string, err error) error {
	if err == nil {
		return nil
	}
	return &MemoryError{Op: op, Err: err}
}

// invalidInput wraps ErrInvalidInput with a reason.
func invalidInput(op, format string, args ...interface{}) error {
	return NewMemoryError(op, fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...)))
}
