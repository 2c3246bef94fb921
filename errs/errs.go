// Package errs defines the stable, bit-exact error taxonomy shared by every
// exported engine operation. Errors carry a stack of call sites the way
// github.com/pkg/errors attaches one, so failures can be traced back to the
// storage op or commit phase that raised them without adding ad-hoc wrapping
// at every layer.
package errs

import (
	"fmt"

	"github.com/pkg/errors"
)

// Kind is a stable, wire-exact error code. Values must never be renumbered;
// append only.
type Kind uint16

const (
	Ok Kind = iota
	TooSmallPayloadBuffer
	KeyNotFound
	DuplicateKey
	ProcNotFound
	XctAlreadyRunning
	NoXct
	RaceAbort
	Timeout
	InvalidLoggerCount
	DependentModuleUnavailableInit
	DependentModuleUnavailableUninit
	MemoryNoFreePages
	ReadSetOverflow
	WriteSetOverflow
	FatalInternal
)

func (k Kind) String() string {
	switch k {
	case Ok:
		return "ok"
	case TooSmallPayloadBuffer:
		return "too_small_payload_buffer"
	case KeyNotFound:
		return "key_not_found"
	case DuplicateKey:
		return "duplicate_key"
	case ProcNotFound:
		return "proc_not_found"
	case XctAlreadyRunning:
		return "xct_already_running"
	case NoXct:
		return "no_xct"
	case RaceAbort:
		return "race_abort"
	case Timeout:
		return "timeout"
	case InvalidLoggerCount:
		return "invalid_logger_count"
	case DependentModuleUnavailableInit:
		return "dependent_module_unavailable_init"
	case DependentModuleUnavailableUninit:
		return "dependent_module_unavailable_uninit"
	case MemoryNoFreePages:
		return "memory_no_free_pages"
	case ReadSetOverflow:
		return "read_set_overflow"
	case WriteSetOverflow:
		return "write_set_overflow"
	case FatalInternal:
		return "fatal_internal"
	default:
		return fmt.Sprintf("kind(%d)", uint16(k))
	}
}

// Stack is an error carrying a Kind plus the call-site stack pkg/errors
// attached at the point the Kind was first raised.
type Stack struct {
	kind  Kind
	cause error
}

func (s *Stack) Error() string {
	if s.cause == nil {
		return s.kind.String()
	}
	return fmt.Sprintf("%s: %s", s.kind, s.cause)
}

// Unwrap exposes the underlying pkg/errors stack to errors.Is/As and to
// anything printing with "%+v".
func (s *Stack) Unwrap() error { return s.cause }

// Format forwards to the wrapped pkg/errors value so "%+v" still prints a
// full stack trace.
func (s *Stack) Format(f fmt.State, verb rune) {
	if fm, ok := s.cause.(fmt.Formatter); ok {
		fm.Format(f, verb)
		return
	}
	fmt.Fprint(f, s.Error())
}

// New raises a fresh Stack for kind with msg as the leaf message.
func New(kind Kind, msg string) error {
	return &Stack{kind: kind, cause: errors.WithStack(errors.New(msg))}
}

// Newf is New with fmt.Sprintf formatting.
func Newf(kind Kind, format string, args ...any) error {
	return New(kind, fmt.Sprintf(format, args...))
}

// Wrap attaches kind and a call-site stack to an existing error. Returns nil
// if err is nil.
func Wrap(err error, kind Kind, msg string) error {
	if err == nil {
		return nil
	}
	return &Stack{kind: kind, cause: errors.Wrap(err, msg)}
}

// KindOf recovers the Kind from err, or Ok if err is nil, or FatalInternal if
// err does not carry a Kind (a bug in the caller — every exported operation
// is expected to return *Stack on failure).
func KindOf(err error) Kind {
	if err == nil {
		return Ok
	}
	var s *Stack
	if errors.As(err, &s) {
		return s.kind
	}
	return FatalInternal
}

// Is reports whether err's Kind equals kind.
func Is(err error, kind Kind) bool {
	return KindOf(err) == kind
}
