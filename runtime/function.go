package runtime

import (
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/ir"
)

// FunctionInstance is a callable function: one defined in an
// instantiated module, an intrinsic, or a host function. The calling
// convention determines whether a thunk is required when it is called
// from guest code.
type FunctionInstance struct {
	gcHeader
	moduleInstance    *ModuleInstance
	typ               ir.FunctionType
	callingConvention ir.CallingConvention
	debugName         string

	// any is the function's any-function record: the unit table
	// elements and bindings refer to. Its Entry is nil for a defined
	// function until the loader back-links it.
	any engine.Function

	jitFunction *engine.JITFunction
}

func newFunctionInstance(mi *ModuleInstance, typ ir.FunctionType, entry engine.Entry,
	cc ir.CallingConvention, debugName string) *FunctionInstance {
	f := &FunctionInstance{
		moduleInstance:    mi,
		typ:               typ,
		callingConvention: cc,
		debugName:         debugName,
	}
	f.any = engine.Function{Entry: entry, Type: typ, Object: f}
	registerObject(f, KindFunction)
	return f
}

// NewHostFunction creates a function instance backed by a host entry,
// attached to the given module instance (commonly an intrinsics or
// host module).
func NewHostFunction(mi *ModuleInstance, typ ir.FunctionType, entry engine.Entry,
	cc ir.CallingConvention, debugName string) *FunctionInstance {
	return newFunctionInstance(mi, typ, entry, cc, debugName)
}

// Type returns the function's signature.
func (f *FunctionInstance) Type() ir.FunctionType { return f.typ }

// CallingConvention returns the function's native calling convention.
func (f *FunctionInstance) CallingConvention() ir.CallingConvention { return f.callingConvention }

// DebugName returns the function's debug name.
func (f *FunctionInstance) DebugName() string { return f.debugName }

// ModuleInstance returns the owning module instance.
func (f *FunctionInstance) ModuleInstance() *ModuleInstance { return f.moduleInstance }

// NativeAddress returns the function's loaded base address, or 0 for a
// function with no loaded code (intrinsics, unlinked defs).
func (f *FunctionInstance) NativeAddress() uint64 {
	if f.jitFunction == nil {
		return 0
	}
	return f.jitFunction.BaseAddress
}

// anyFunc returns the function's any-function record.
func (f *FunctionInstance) anyFunc() *engine.Function { return &f.any }

// linkNative back-links the function to its loaded code.
func (f *FunctionInstance) linkNative(jf *engine.JITFunction) {
	f.jitFunction = jf
	f.any.Entry = jf.Entry
	jf.Type = engine.JITFunctionTypeWasm
	jf.FunctionInstance = f
}

func (f *FunctionInstance) trace(visit func(Object)) {
	visit(f.moduleInstance)
}
