package engine

import (
	"sync"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// InvokeThunk calls a function record from host code: it checks and
// untags the typed arguments, runs the entry, and tags the results.
type InvokeThunk func(fn *Function, ctx *ContextRuntimeData, args []ir.Value) ([]ir.Value, error)

var invokeThunks = struct {
	sync.Mutex
	cache map[string]InvokeThunk
}{cache: map[string]InvokeThunk{}}

// GetInvokeThunk returns the invoke thunk for a signature. Thunks are
// shared across equal signatures.
func GetInvokeThunk(t ir.FunctionType, cc ir.CallingConvention) InvokeThunk {
	key := t.Key() + "/" + cc.String()
	invokeThunks.Lock()
	defer invokeThunks.Unlock()
	if thunk, ok := invokeThunks.cache[key]; ok {
		return thunk
	}

	thunk := makeInvokeThunk(t)
	registerJITFunction(&JITFunction{Type: JITFunctionTypeInvokeThunk, NumBytes: 1})
	invokeThunks.cache[key] = thunk
	return thunk
}

func makeInvokeThunk(t ir.FunctionType) InvokeThunk {
	return func(fn *Function, ctx *ContextRuntimeData, args []ir.Value) ([]ir.Value, error) {
		if len(args) != len(t.Params) {
			return nil, errors.InvalidArgument(errors.PhaseRuntime,
				"expected %d arguments, got %d", len(t.Params), len(args))
		}
		raw := make([]uint64, len(args))
		for i, arg := range args {
			if arg.Type != t.Params[i] {
				return nil, errors.InvalidArgument(errors.PhaseRuntime,
					"argument %d: expected %s, got %s", i, t.Params[i], arg.Type)
			}
			raw[i] = arg.Bits
		}

		rawResults, err := fn.Entry(ctx, raw)
		if err != nil {
			return nil, err
		}
		if len(rawResults) != len(t.Results) {
			return nil, errors.Fatal("entry returned %d results, signature has %d",
				len(rawResults), len(t.Results))
		}
		results := make([]ir.Value, len(rawResults))
		for i, bits := range rawResults {
			results[i] = ir.Value{Type: t.Results[i], UntaggedValue: ir.UntaggedValue{Bits: bits}}
		}
		return results, nil
	}
}

var intrinsicThunks = struct {
	sync.Mutex
	cache map[*Function]*Function
}{cache: map[*Function]*Function{}}

// GetIntrinsicThunk wraps a function whose calling convention is not
// wasm so it presents a wasm-ABI entry. Wasm-convention functions pass
// through unchanged.
func GetIntrinsicThunk(code *Function, t ir.FunctionType, cc ir.CallingConvention) *Function {
	if cc == ir.CallingConventionWasm {
		return code
	}

	intrinsicThunks.Lock()
	defer intrinsicThunks.Unlock()
	if thunk, ok := intrinsicThunks.cache[code]; ok {
		return thunk
	}

	// The uniform Entry convention already passes the context's runtime
	// data as the hidden first argument, so the thunk is a new record
	// presenting the wasm ABI over the same entry.
	thunk := &Function{
		Entry:  code.Entry,
		Type:   t,
		Object: code.Object,
	}
	registerJITFunction(&JITFunction{Type: JITFunctionTypeIntrinsicThunk, NumBytes: 1})
	intrinsicThunks.cache[code] = thunk
	return thunk
}
