package runtime

import "github.com/wippyai/wasm-core/ir"

// ExceptionTypeInstance is one exception type: a signature of argument
// value types plus a debug name.
type ExceptionTypeInstance struct {
	gcHeader
	typ       ir.ExceptionType
	debugName string
}

// CreateExceptionType allocates an exception type instance.
func CreateExceptionType(typ ir.ExceptionType, debugName string) *ExceptionTypeInstance {
	e := &ExceptionTypeInstance{typ: typ, debugName: debugName}
	registerObject(e, KindExceptionType)
	return e
}

// Type returns the exception signature.
func (e *ExceptionTypeInstance) Type() ir.ExceptionType { return e.typ }

// DebugName returns the exception type's debug name.
func (e *ExceptionTypeInstance) DebugName() string { return e.debugName }
