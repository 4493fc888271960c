// Package tferrors defines the typed error categories that cross every
// tuneforge API boundary: a stable Kind tag plus a free-text message, with
// no stack traces leaking into the public surface. A closed set of
// category constants and a single error struct know how to format and
// classify themselves.
package tferrors

import "fmt"

// Kind is the closed set of error categories a tuneforge operation can
// fail with.
type Kind string

const (
	// Validation covers malformed search spaces, out-of-range bounds, and
	// incompatible distribution combinations; raised synchronously from
	// study creation.
	Validation Kind = "validation"
	// StorageTransient covers store errors the coordinator should retry
	// (bounded backoff, <=3 attempts) before giving up.
	StorageTransient Kind = "storage-transient"
	// StoragePermanent covers store errors that are terminal for the
	// study.
	StoragePermanent Kind = "storage-permanent"
	// Numeric covers NaN/Inf scores and degenerate density estimates.
	Numeric Kind = "numeric"
	// ScoringFunction covers a user scoring-function panic/error;
	// recorded as a failed trial, budget continues.
	ScoringFunction Kind = "scoring-function"
	// Logic covers an internal invariant violation; terminal for the
	// study and never recovered from.
	Logic Kind = "logic"
)

// Error is the tuneforge error type: a stable category tag, a free-text
// message, and an optional wrapped cause (not part of the public
// Error() string, reachable via Unwrap for %w-style inspection).
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

// New builds an *Error of the given kind with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an *Error of the given kind around an existing error,
// keeping the cause reachable through Unwrap without exposing it in
// Error().
func Wrap(kind Kind, cause error, format string, args ...any) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

func (e *Error) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return string(e.Kind)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is reports whether err is a *Error of the given kind.
func Is(err error, kind Kind) bool {
	te, ok := err.(*Error)
	return ok && te.Kind == kind
}

// IsRetriable reports whether err is a storage error the coordinator
// should retry with backoff rather than fail the trial outright.
func IsRetriable(err error) bool {
	return Is(err, StorageTransient)
}
