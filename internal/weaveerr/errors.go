// Package weaveerr defines the error taxonomy shared across the runtime
// (§7 of the spec: NotFound, WriteIsolationViolation, InactiveTransaction,
// Inconsistent, UnsupportedMediaType, RecursionLimit, SyncTimeout,
// FrozenDocument, InvalidIdentity, CycleViolation).
//
// Core operations return *Error via normal error returns; only programmer
// errors (nil handle, internal invariant breach) panic.
package weaveerr

import "fmt"

// Code discriminates error kinds. Mirrors engine.RuntimeErrorCode in spirit:
// a small closed set of string codes usable in telemetry and CLI output.
type Code string

const (
	NotFound                 Code = "NOT_FOUND"
	WriteIsolationViolation  Code = "WRITE_ISOLATION_VIOLATION"
	InactiveTransaction      Code = "INACTIVE_TRANSACTION"
	Inconsistent             Code = "INCONSISTENT"
	UnsupportedMediaType     Code = "UNSUPPORTED_MEDIA_TYPE"
	RecursionLimit           Code = "RECURSION_LIMIT"
	SyncTimeout              Code = "SYNC_TIMEOUT"
	FrozenDocument           Code = "FROZEN_DOCUMENT"
	InvalidIdentity          Code = "INVALID_IDENTITY"
	CycleViolation           Code = "CYCLE_VIOLATION"
)

// Error is the single error type for all core operations. Details carries
// kind-specific structured payload (e.g. {open, requested} for
// WriteIsolationViolation, or the deepest resolved prefix for NotFound).
type Error struct {
	Code    Code
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	if len(e.Details) == 0 {
		return fmt.Sprintf("%s: %s", e.Code, e.Message)
	}
	return fmt.Sprintf("%s: %s %v", e.Code, e.Message, e.Details)
}

// Is lets errors.Is(err, &weaveerr.Error{Code: weaveerr.NotFound}) match
// any *Error with that code, mirroring engine.IsCycleError's errors.As usage.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

func New(code Code, message string, details map[string]any) *Error {
	return &Error{Code: code, Message: message, Details: details}
}

func NotFoundf(deepestPrefix []string, format string, args ...any) *Error {
	return &Error{
		Code:    NotFound,
		Message: fmt.Sprintf(format, args...),
		Details: map[string]any{"deepestPrefix": deepestPrefix},
	}
}

func WriteIsolation(open, requested string) *Error {
	return &Error{
		Code:    WriteIsolationViolation,
		Message: "writer already bound to a different space",
		Details: map[string]any{"open": open, "requested": requested},
	}
}

func Inactive(status string) *Error {
	return &Error{
		Code:    InactiveTransaction,
		Message: fmt.Sprintf("transaction is %s", status),
	}
}

func InconsistentReads(offending []map[string]any) *Error {
	return &Error{
		Code:    Inconsistent,
		Message: "commit invalidated by concurrent confirmed changes",
		Details: map[string]any{"reads": offending},
	}
}

func Frozen(space, entityID string) *Error {
	return &Error{
		Code:    FrozenDocument,
		Message: "write to a frozen document",
		Details: map[string]any{"space": space, "entityId": entityID},
	}
}

func Recursion(limit int) *Error {
	return &Error{
		Code:    RecursionLimit,
		Message: fmt.Sprintf("proxy recursion depth exceeded limit %d", limit),
	}
}

func InvalidIdentityf(format string, args ...any) *Error {
	return &Error{Code: InvalidIdentity, Message: fmt.Sprintf(format, args...)}
}

func Cyclef(format string, args ...any) *Error {
	return &Error{Code: CycleViolation, Message: fmt.Sprintf(format, args...)}
}

func SyncTimeoutf(format string, args ...any) *Error {
	return &Error{Code: SyncTimeout, Message: fmt.Sprintf(format, args...)}
}
