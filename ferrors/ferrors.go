// Package ferrors provides typed error handling for fspy-go, in the
// same shape as the container runtime this module grew out of: a
// classification enum plus a wrapping struct that supports errors.Is
// and errors.As, so callers can branch on *kind* of failure without
// string-matching messages.
//
// The three kinds spec.md's error-handling design names are
// ErrSpawnSetup, ErrTargetRuntime and ErrSupervisorRuntime; the rest are
// the ambient kinds any operation in this codebase needs.
package ferrors

import (
	"errors"
	"fmt"
)

// Kind represents the category of an error.
type Kind int

const (
	// ErrSpawnSetup indicates payload construction, fd duplication, or
	// shm creation failed before a traced command could even start.
	// Fatal to the trace.
	ErrSpawnSetup Kind = iota
	// ErrTargetRuntime indicates the agent failed to initialize inside
	// a specific traced process. Surfaced per-child; that child's
	// observations may be empty, but the trace as a whole continues.
	ErrTargetRuntime
	// ErrSupervisorRuntime indicates a seccomp-notify I/O or
	// process-memory-read failure. Logged, never fatal — the offending
	// syscall is always resumed in the kernel.
	ErrSupervisorRuntime
	// ErrNotFound indicates a resource (session, chunk, record) was not
	// found.
	ErrNotFound
	// ErrInvalidConfig indicates a configuration or argument error.
	ErrInvalidConfig
	// ErrResolve indicates the exec resolver could not resolve a
	// program (ENOENT/EACCES/loop/name-too-long).
	ErrResolve
	// ErrRing indicates a shared-memory ring operation failed (size
	// error, fd exhaustion, mmap failure).
	ErrRing
	// ErrInternal indicates a bug or unexpected internal state.
	ErrInternal
)

// String returns a human-readable name for the error kind.
func (k Kind) String() string {
	switch k {
	case ErrSpawnSetup:
		return "spawn setup error"
	case ErrTargetRuntime:
		return "target runtime error"
	case ErrSupervisorRuntime:
		return "supervisor runtime error"
	case ErrNotFound:
		return "not found"
	case ErrInvalidConfig:
		return "invalid config"
	case ErrResolve:
		return "resolve error"
	case ErrRing:
		return "ring error"
	case ErrInternal:
		return "internal error"
	default:
		return "unknown error"
	}
}

// FspyError represents an error that occurred during a trace operation.
type FspyError struct {
	// Op is the operation that failed (e.g. "trace", "install-filter").
	Op string
	// Session is the trace session ID, if applicable.
	Session string
	// Err is the underlying error.
	Err error
	// Kind is the error classification.
	Kind Kind
	// Detail provides additional context about the error.
	Detail string
}

// Error returns the error message.
func (e *FspyError) Error() string {
	if e == nil {
		return "<nil>"
	}

	var msg string
	if e.Session != "" {
		msg = fmt.Sprintf("session %s: ", e.Session)
	}
	if e.Op != "" {
		msg += fmt.Sprintf("%s: ", e.Op)
	}
	if e.Detail != "" {
		msg += e.Detail
	} else {
		msg += e.Kind.String()
	}
	if e.Err != nil {
		msg += fmt.Sprintf(": %v", e.Err)
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *FspyError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// Is reports whether the error matches the target. It matches if the
// target is a *FspyError with the same Kind, or if the underlying error
// matches.
func (e *FspyError) Is(target error) bool {
	if e == nil {
		return target == nil
	}
	if t, ok := target.(*FspyError); ok {
		return e.Kind == t.Kind
	}
	return false
}

// New creates a new FspyError with the given kind.
func New(kind Kind, op string, detail string) *FspyError {
	return &FspyError{Op: op, Kind: kind, Detail: detail}
}

// Wrap wraps an error with operation context.
func Wrap(err error, kind Kind, op string) *FspyError {
	return &FspyError{Op: op, Err: err, Kind: kind}
}

// WrapWithSession wraps an error with operation and session context.
func WrapWithSession(err error, kind Kind, op string, session string) *FspyError {
	return &FspyError{Op: op, Session: session, Err: err, Kind: kind}
}

// WrapWithDetail wraps an error with additional detail.
func WrapWithDetail(err error, kind Kind, op string, detail string) *FspyError {
	return &FspyError{Op: op, Err: err, Kind: kind, Detail: detail}
}

// IsKind checks if an error is of a specific kind.
func IsKind(err error, kind Kind) bool {
	var ferr *FspyError
	if errors.As(err, &ferr) {
		return ferr.Kind == kind
	}
	return false
}

// GetKind returns the error kind if the error is a FspyError.
func GetKind(err error) (Kind, bool) {
	var ferr *FspyError
	if errors.As(err, &ferr) {
		return ferr.Kind, true
	}
	return 0, false
}

// Re-export standard library functions for convenience, matching the
// teacher package's convention so call sites only ever import one
// errors-shaped package.
var (
	Is     = errors.Is
	As     = errors.As
	Unwrap = errors.Unwrap
)
