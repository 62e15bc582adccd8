package syserr

import (
	"errors"
	"fmt"
)

// Kind classifies a syscall failure. The set is closed: every error that
// crosses the dispatcher boundary is one of these values, with Ok marking
// success. Statistics and recovery plans are keyed by Kind, so adding a
// value here is a compile-time obligation for both tables.
type Kind uint8

const (
	Ok Kind = iota
	InvalidArgument
	ValueOutOfRange
	InvalidPointer
	PermissionDenied
	FileNotFound
	ResourceUnavailable
	MemoryAllocationFailed
	OperationNotSupported
	SecurityViolation
	Internal

	// KindCount is one past the last Kind; sized arrays index by Kind.
	KindCount
)

var ErrUnknownKind = errors.New("unknown error kind")

var kindNames = [KindCount]string{
	Ok:                     "ok",
	InvalidArgument:        "invalid_argument",
	ValueOutOfRange:        "value_out_of_range",
	InvalidPointer:         "invalid_pointer",
	PermissionDenied:       "permission_denied",
	FileNotFound:           "file_not_found",
	ResourceUnavailable:    "resource_unavailable",
	MemoryAllocationFailed: "memory_allocation_failed",
	OperationNotSupported:  "operation_not_supported",
	SecurityViolation:      "security_violation",
	Internal:               "internal",
}

// Caller-safe messages. These are stable and never mention addresses,
// other callers' ids, or anything else about kernel internals.
var kindMessages = [KindCount]string{
	Ok:                     "operation completed successfully",
	InvalidArgument:        "an argument to the call was malformed",
	ValueOutOfRange:        "an integer argument was outside its permitted range",
	InvalidPointer:         "a pointer argument did not reference accessible memory",
	PermissionDenied:       "the caller is not permitted to make this call",
	FileNotFound:           "the requested file does not exist",
	ResourceUnavailable:    "a required resource is temporarily unavailable",
	MemoryAllocationFailed: "the system could not allocate memory for the call",
	OperationNotSupported:  "the requested operation is not supported",
	SecurityViolation:      "the call violated a security policy",
	Internal:               "an internal error occurred",
}

func (k Kind) Valid() bool { return k < KindCount }

func (k Kind) String() string {
	if !k.Valid() {
		return fmt.Sprintf("kind(%d)", uint8(k))
	}
	return kindNames[k]
}

// Message returns the stable, caller-safe sentence for k. Selection is
// pure: same kind in, same string out.
func (k Kind) Message() string {
	if !k.Valid() {
		return kindMessages[Internal]
	}
	return kindMessages[k]
}

// Code is the numeric error code handed back through the architecture
// return convention. Zero means success.
func (k Kind) Code() uint64 { return uint64(k) }

// ParseKind maps a snake_case kind name (as used in plan files) back to
// its Kind.
func ParseKind(s string) (Kind, error) {
	for k, name := range kindNames {
		if name == s {
			return Kind(k), nil
		}
	}

	return KindCount, fmt.Errorf("%w: %q", ErrUnknownKind, s)
}

// Severity tags error records for downstream log routing.
type Severity uint8

const (
	SeverityNormal Severity = iota
	SeverityElevated
)

func (s Severity) String() string {
	if s == SeverityElevated {
		return "elevated"
	}
	return "normal"
}

// Severity returns the default record severity for k. Security
// violations and internal faults are routed at elevated severity.
func (k Kind) Severity() Severity {
	switch k {
	case SecurityViolation, Internal:
		return SeverityElevated
	default:
		return SeverityNormal
	}
}

// Error adapts a Kind to the error interface for callers that thread
// kinds through error-returning code (the retry driver does this).
type Error struct {
	Kind Kind
}

func (e *Error) Error() string { return e.Kind.String() }

// KindOf extracts the Kind from an error produced by this package,
// or Internal for foreign errors.
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}

	var ke *Error
	if errors.As(err, &ke) {
		return ke.Kind
	}

	return Internal
}
