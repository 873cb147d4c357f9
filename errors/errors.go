package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in the host lifecycle the error occurred
type Phase string

const (
	PhaseLoad        Phase = "load"        // byte acquisition and decoding
	PhaseCompile     Phase = "compile"     // wazero compilation and export checks
	PhaseInstantiate Phase = "instantiate" // sandbox instantiation
	PhaseSchedule    Phase = "schedule"    // tick loop and replay cycles
	PhaseHost        Phase = "host"        // host import handlers
	PhasePin         Phase = "pin"         // pin I/O
	PhaseConfig      Phase = "config"      // configuration parsing and validation
)

// Kind categorizes the error
type Kind string

const (
	KindDecode           Kind = "decode"
	KindSandbox          Kind = "sandbox"
	KindMissingExport    Kind = "missing_export"
	KindBadImport        Kind = "bad_import"
	KindNotInitialized   Kind = "not_initialized"
	KindStaleInstance    Kind = "stale_instance"
	KindCycleLimit       Kind = "cycle_limit"
	KindRewindIncomplete Kind = "rewind_incomplete"
	KindInstanceFailed   Kind = "instance_failed"
	KindGuestTrap        Kind = "guest_trap"
	KindAllocation       Kind = "allocation"
	KindCanceled         Kind = "canceled"
	KindInvalidInput     Kind = "invalid_input"
)

// Error is the structured error type used throughout the host
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

// sandboxKinds are reported to callers as sandbox failures.
var sandboxKinds = map[Kind]bool{
	KindSandbox:       true,
	KindMissingExport: true,
	KindBadImport:     true,
}

// Is reports whether target matches this error.
// A target with an empty Phase matches on Kind alone, and ErrSandbox also
// matches missing exports and bad imports.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	if t.Phase == "" {
		if t.Kind == KindSandbox {
			return sandboxKinds[e.Kind]
		}
		return e.Kind == t.Kind
	}
	return e.Phase == t.Phase && e.Kind == t.Kind
}

// Sentinels for errors.Is checks. They match any phase.
var (
	ErrDecode           = &Error{Kind: KindDecode}
	ErrSandbox          = &Error{Kind: KindSandbox}
	ErrMissingExport    = &Error{Kind: KindMissingExport}
	ErrBadImport        = &Error{Kind: KindBadImport}
	ErrNotInitialized   = &Error{Kind: KindNotInitialized}
	ErrStaleInstance    = &Error{Kind: KindStaleInstance}
	ErrCycleLimit       = &Error{Kind: KindCycleLimit}
	ErrRewindIncomplete = &Error{Kind: KindRewindIncomplete}
	ErrInstanceFailed   = &Error{Kind: KindInstanceFailed}
	ErrCanceled         = &Error{Kind: KindCanceled}
	ErrInvalidInput     = &Error{Kind: KindInvalidInput}
)

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{
		err: Error{
			Phase: phase,
			Kind:  kind,
		},
	}
}

// Value sets the offending value
func (b *Builder) Value(v any) *Builder {
	b.err.Value = v
	return b
}

// Cause sets the underlying error
func (b *Builder) Cause(err error) *Builder {
	b.err.Cause = err
	return b
}

// Detail sets the human-readable detail message
func (b *Builder) Detail(msg string, args ...any) *Builder {
	if len(args) > 0 {
		b.err.Detail = fmt.Sprintf(msg, args...)
	} else {
		b.err.Detail = msg
	}
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Load creates a LoadError: the input is neither raw bytecode nor its text encoding,
// or it could not be fetched.
func Load(detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseLoad,
		Kind:   KindDecode,
		Detail: detail,
		Cause:  cause,
	}
}

// Sandbox creates a SandboxError for compilation or instantiation failures
func Sandbox(phase Phase, detail string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindSandbox,
		Detail: detail,
		Cause:  cause,
	}
}

// MissingExports reports every required export the guest lacks
func MissingExports(names []string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindMissingExport,
		Detail: "guest is missing " + strings.Join(names, ", "),
		Value:  names,
	}
}

// BadImport reports an import whose signature the host cannot satisfy
func BadImport(module, name, detail string) *Error {
	return &Error{
		Phase:  PhaseCompile,
		Kind:   KindBadImport,
		Detail: fmt.Sprintf("%s.%s: %s", module, name, detail),
	}
}

// NotInitialized creates a not-initialized error for an operation attempted before Init
func NotInitialized(phase Phase, operation string) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindNotInitialized,
		Detail: fmt.Sprintf("%s called before init", operation),
	}
}

// StaleInstance creates an error for a callback that references a torn-down instance
func StaleInstance(generation, current uint64) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindStaleInstance,
		Detail: fmt.Sprintf("callback from generation %d, active generation %d", generation, current),
		Value:  generation,
	}
}

// Scheduling creates a scheduling error raised by the tick loop
func Scheduling(kind Kind, detail string, cause error) *Error {
	return &Error{
		Phase:  PhaseSchedule,
		Kind:   kind,
		Detail: detail,
		Cause:  cause,
	}
}

// GuestTrap wraps a trap raised while guest code was running
func GuestTrap(phase Phase, export string, cause error) *Error {
	return &Error{
		Phase:  phase,
		Kind:   KindGuestTrap,
		Detail: fmt.Sprintf("call %s", export),
		Cause:  cause,
	}
}

// AllocationFailed creates an allocation failure error
func AllocationFailed(size uint32, cause error) *Error {
	return &Error{
		Phase:  PhaseHost,
		Kind:   KindAllocation,
		Detail: fmt.Sprintf("failed to allocate %d bytes in guest memory", size),
		Value:  size,
		Cause:  cause,
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
