// Package simerr defines the kernel's error taxonomy: sentinel errors for
// errors.Is comparisons plus a structured wrapping type that carries the
// operation, kind, and entity ID involved.
package simerr

import (
	"errors"
	"fmt"
)

// Sentinel errors. Compare with errors.Is, never with ==, since handlers
// may wrap these inside a *KernelError.
var (
	ErrAgentNotFound       = errors.New("agent not found")
	ErrAgentAlreadyExists  = errors.New("agent already exists")
	ErrInvalidDirectReport = errors.New("direct report references unknown agent")

	ErrCommunicationNotFound = errors.New("communication not found")
	ErrUnknownRecipient      = errors.New("unknown recipient agent")
	ErrUnknownSender         = errors.New("unknown sender agent")
	ErrInvalidPriority       = errors.New("priority out of range")
	ErrInvalidKind           = errors.New("unrecognized enum value")

	ErrAlreadyRunning = errors.New("kernel already running")
	ErrNotRunning     = errors.New("kernel not running")

	ErrOverloaded         = errors.New("delivery queue saturated")
	ErrBackendUnavailable = errors.New("generator backend unavailable")
	ErrDeadlineExceeded   = errors.New("operation deadline exceeded")

	ErrThreadNotFound = errors.New("escalation thread not found")
	ErrWisdomNotFound = errors.New("no wisdom record for topic or communication")

	ErrPersistenceDisabled = errors.New("persistence is not enabled for this run")
)

// Kind classifies a KernelError the way spec §7 enumerates error kinds.
type Kind string

const (
	KindInvalidArgument    Kind = "invalid_argument"
	KindConflict           Kind = "conflict"
	KindOverloaded         Kind = "overloaded"
	KindBackendUnavailable Kind = "backend_unavailable"
	KindInternal           Kind = "internal"
)

// KernelError is the structured error returned by public Kernel operations.
// It is grounded on gomind's core.FrameworkError: an Op/Kind/ID/Message
// wrapper around a sentinel error, giving callers both errors.Is
// compatibility and a machine-readable Kind for JSON error responses.
type KernelError struct {
	Op      string
	Kind    Kind
	ID      string
	Message string
	Err     error
}

func (e *KernelError) Error() string {
	if e.ID != "" {
		return fmt.Sprintf("%s [%s]: %s: %v", e.Op, e.ID, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Message, e.Err)
}

func (e *KernelError) Unwrap() error { return e.Err }

// New builds a KernelError, defaulting Message to the wrapped error's text.
func New(op string, kind Kind, id string, err error) *KernelError {
	msg := ""
	if err != nil {
		msg = err.Error()
	}
	return &KernelError{Op: op, Kind: kind, ID: id, Message: msg, Err: err}
}

// KindOf extracts the Kind from err if it is (or wraps) a *KernelError,
// otherwise returns KindInternal.
func KindOf(err error) Kind {
	var ke *KernelError
	if errors.As(err, &ke) {
		return ke.Kind
	}
	return KindInternal
}
