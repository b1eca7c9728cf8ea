package errors

import (
	"fmt"
	"strings"
)

// Phase indicates where in processing the error occurred
type Phase string

const (
	PhaseCompile     Phase = "compile"     // IR lowering
	PhaseLoad        Phase = "load"        // object-code loading
	PhaseInstantiate Phase = "instantiate" // module instantiation
	PhaseRuntime     Phase = "runtime"     // guest execution
	PhaseCompartment Phase = "compartment" // compartment resource management
	PhaseGC          Phase = "gc"          // garbage collection
)

// Kind categorizes the error
type Kind string

const (
	KindLink                   Kind = "link_error"
	KindOutOfMemory            Kind = "out_of_memory"
	KindOutOfBoundsMemory      Kind = "out_of_bounds_memory_access"
	KindOutOfBoundsTable       Kind = "out_of_bounds_table_access"
	KindResourceIDExhausted    Kind = "resource_id_exhausted"
	KindTooManyMutableGlobals  Kind = "too_many_mutable_globals"
	KindUnimplementedIntrinsic Kind = "called_unimplemented_intrinsic"
	KindInvalidArgument        Kind = "invalid_argument"
	KindUnreachable            Kind = "unreachable_executed"
	KindIntegerDivide          Kind = "integer_divide_by_zero_or_overflow"
	KindIndirectCallMismatch   Kind = "indirect_call_signature_mismatch"
	KindException              Kind = "wasm_exception"
	KindInvalidModule          Kind = "invalid_module"
	KindFatal                  Kind = "fatal"
)

// Error is the structured error type used throughout the runtime.
// Args holds the offending objects and addresses, e.g. the memory
// instance plus the faulting address for an out-of-bounds access.
type Error struct {
	Cause  error
	Phase  Phase
	Kind   Kind
	Detail string
	Args   []any
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

	if len(e.Args) > 0 {
		b.WriteString(" (")
		for i, arg := range e.Args {
			if i > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "%v", arg)
		}
		b.WriteByte(')')
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

// Is reports whether target matches this error
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Phase == t.Phase && e.Kind == t.Kind
	}
	return false
}

// Builder provides structured error construction
type Builder struct {
	err Error
}

// New creates a new error builder
func New(phase Phase, kind Kind) *Builder {
	return &Builder{err: Error{Phase: phase, Kind: kind}}
}

// Detail sets a human-readable explanation
func (b *Builder) Detail(format string, args ...any) *Builder {
	b.err.Detail = fmt.Sprintf(format, args...)
	return b
}

// Arg appends an offending object or address
func (b *Builder) Arg(arg any) *Builder {
	b.err.Args = append(b.err.Args, arg)
	return b
}

// Cause records the underlying error
func (b *Builder) Cause(cause error) *Builder {
	b.err.Cause = cause
	return b
}

// Build returns the constructed error
func (b *Builder) Build() *Error {
	return &b.err
}

// Convenience constructors for common patterns.

// Link reports an import mismatch, duplicate export, invalid
// initializer, or unresolved intrinsic.
func Link(format string, args ...any) *Error {
	return New(PhaseInstantiate, KindLink).Detail(format, args...).Build()
}

// OutOfMemory reports a failed reservation or commit.
func OutOfMemory(phase Phase, detail string) *Error {
	return New(phase, KindOutOfMemory).Detail("%s", detail).Build()
}

// OutOfBoundsMemory reports an access past the committed pages of a
// memory. The memory object and faulting address ride along as Args.
func OutOfBoundsMemory(memory any, address uint64) *Error {
	return New(PhaseRuntime, KindOutOfBoundsMemory).Arg(memory).Arg(address).Build()
}

// OutOfBoundsTable reports an access past the current elements of a
// table.
func OutOfBoundsTable(table any, index uint64) *Error {
	return New(PhaseRuntime, KindOutOfBoundsTable).Arg(table).Arg(index).Build()
}

// ResourceIDExhausted reports a full compartment id space for the given
// resource kind.
func ResourceIDExhausted(kind string) *Error {
	return New(PhaseCompartment, KindResourceIDExhausted).Detail("no free %s ids", kind).Build()
}

// TooManyMutableGlobals reports a full mutable-global slot bitset.
func TooManyMutableGlobals() *Error {
	return New(PhaseCompartment, KindTooManyMutableGlobals).Build()
}

// UnimplementedIntrinsic reports a call to an intrinsic with no
// implementation.
func UnimplementedIntrinsic(name string) *Error {
	return New(PhaseRuntime, KindUnimplementedIntrinsic).Detail("%s", name).Build()
}

// InvalidArgument reports a host-facing API misuse.
func InvalidArgument(phase Phase, format string, args ...any) *Error {
	return New(phase, KindInvalidArgument).Detail(format, args...).Build()
}

// InvalidModule reports IR the engine cannot lower.
func InvalidModule(format string, args ...any) *Error {
	return New(PhaseCompile, KindInvalidModule).Detail(format, args...).Build()
}

// Fatal reports an invariant violation inside the core.
func Fatal(format string, args ...any) *Error {
	return New(PhaseRuntime, KindFatal).Detail(format, args...).Build()
}

// Wrap attaches phase/kind context to an underlying error
func Wrap(phase Phase, kind Kind, cause error, detail string) *Error {
	return New(phase, kind).Detail("%s", detail).Cause(cause).Build()
}
