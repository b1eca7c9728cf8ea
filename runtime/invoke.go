package runtime

import (
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Invoke calls a function in a context through the signature's shared
// invoke thunk: arguments are checked against the function type, guest
// traps surface as errors, and results come back typed.
func Invoke(ctx *Context, fn *FunctionInstance, args []ir.Value) ([]ir.Value, error) {
	if ctx == nil {
		return nil, errors.InvalidArgument(errors.PhaseRuntime, "nil context")
	}
	if fn == nil {
		return nil, errors.InvalidArgument(errors.PhaseRuntime, "nil function")
	}
	if fn.any.Entry == nil {
		return nil, errors.InvalidArgument(errors.PhaseRuntime,
			"function %q has no loaded code", fn.debugName)
	}
	thunk := engine.GetInvokeThunk(fn.typ, fn.callingConvention)
	return thunk(fn.anyFunc(), ctx.runtimeData, args)
}
