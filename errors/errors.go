package errors

import (
	stderrors "errors"
	"fmt"
	"strings"
)

// Is and As forward to the standard library so callers never need a second
// errors import.

func Is(err, target error) bool { return stderrors.Is(err, target) }

func As(err error, target any) bool { return stderrors.As(err, target) }

// Phase indicates where in the actor lifecycle the error occurred
type Phase string

const (
	PhaseInit     Phase = "init"     // interpreter construction and configuration
	PhaseDispatch Phase = "dispatch" // message delivery into the script
	PhaseAlloc    Phase = "alloc"    // memory accounting
	PhaseRegistry Phase = "registry" // handle and handler bookkeeping
	PhaseEngine   Phase = "engine"   // raw engine operations
)

// Kind categorizes the error
type Kind string

const (
	KindInitFailure       Kind = "init_failure"
	KindAllocationRefused Kind = "allocation_refused"
	KindNoHandler         Kind = "no_handler"
	KindHandlerFault      Kind = "handler_fault"
	KindInterrupted       Kind = "interrupted"
	KindDuplicateBinding  Kind = "duplicate_binding"
	KindNotFound          Kind = "not_found"
	KindNotInitialized    Kind = "not_initialized"
	KindInvalidInput      Kind = "invalid_input"
	KindTerminated        Kind = "terminated"
	KindInvalidState      Kind = "invalid_state"
)

// Error is the structured error type used throughout the module
type Error struct {
	Value  any
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
}

// Error implements the error interface
func (e *Error) Error() string {
	var b strings.Builder

	b.WriteByte('[')
	b.WriteString(string(e.Phase))
	b.WriteString("] ")
	b.WriteString(string(e.Kind))

	if e.Detail != "" {
		b.WriteString(": ")
		b.WriteString(e.Detail)
	}

	if e.Cause != nil {
		b.WriteString(" (caused by: ")
		b.WriteString(e.Cause.Error())
		b.WriteByte(')')
	}

	return b.String()
}

// Unwrap returns the underlying error
func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target matches this error. Two Errors match when their
// Phase and Kind agree, so sentinel values can be compared with errors.Is
// without carrying detail text.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// New creates a structured error
func New(phase Phase, kind Kind, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail}
}

// Wrap wraps an existing error with phase and kind context
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return &Error{Phase: phase, Kind: kind, Detail: detail, Cause: cause}
}

// Convenience constructors for the error kinds the service reports upward

// AllocationRefused reports an allocation the accountant would not approve.
// It is a soft failure: the engine converts it into its own out-of-memory
// path, never a host crash.
func AllocationRefused(requested, limit uint64) *Error {
	return &Error{
		Phase:  PhaseAlloc,
		Kind:   KindAllocationRefused,
		Detail: fmt.Sprintf("%d bytes requested, %d byte limit", requested, limit),
		Value:  requested,
	}
}

// NoHandler reports a dispatch attempted before any handler was registered
func NoHandler() *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindNoHandler,
		Detail: "no dispatch handler registered",
	}
}

// HandlerFault reports a script-level fault recovered at the dispatch
// boundary. The actor stays alive; the cause carries the fault description.
func HandlerFault(cause error) *Error {
	return &Error{
		Phase: PhaseDispatch,
		Kind:  KindHandlerFault,
		Cause: cause,
	}
}

// Interrupted reports a dispatch skipped because the trap signal requested
// interruption; the message is considered undelivered.
func Interrupted() *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindInterrupted,
		Detail: "dispatch skipped by trap signal",
	}
}

// DuplicateBinding reports a handle bound twice. This is a host-runtime bug,
// fatal to the caller.
func DuplicateBinding(handle any) *Error {
	return &Error{
		Phase:  PhaseRegistry,
		Kind:   KindDuplicateBinding,
		Detail: "handle already bound",
		Value:  handle,
	}
}

// NotFound reports a lookup of an unbound handle or a missing export
func NotFound(phase Phase, what string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotFound,
		Detail: fmt.Sprintf("%s not found", what),
	}
}

// NotInitialized reports use of a service or engine before init
func NotInitialized(what string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s not initialized", what),
	}
}

// InvalidInput creates an invalid input error
func InvalidInput(phase Phase, detail string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindInvalidInput,
		Detail: detail,
	}
}

// Terminated reports an operation on a torn-down service
func Terminated(what string) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindTerminated,
		Detail: fmt.Sprintf("%s already terminated", what),
	}
}

// InvalidState reports a lifecycle transition the state machine refused
func InvalidState(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseDispatch,
		Kind:   KindInvalidState,
		Detail: detail,
		Cause:  cause,
	}
}

// InitFailure wraps an engine construction or configuration failure. The
// actor never reaches ready after this.
func InitFailure(cause error, detail string) *Error {
	return &Error{
		Phase:  PhaseInit,
		Kind:   KindInitFailure,
		Detail: detail,
		Cause:  cause,
	}
}
