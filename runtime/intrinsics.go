package runtime

import (
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// IntrinsicsModuleName is the fixed name of the built-in module every
// compartment exposes to guest code.
const IntrinsicsModuleName = "wavmIntrinsics"

// instantiateIntrinsics builds the compartment's intrinsics module
// instance: memory and table growth, size queries, and the
// exception-throw entry. Every intrinsic receives the current context's
// runtime data as its hidden first argument.
func instantiateIntrinsics(c *Compartment) *ModuleInstance {
	mi := &ModuleInstance{
		compartment:         c,
		exportMap:           map[string]Object{},
		passiveDataSegments: map[uint32][]byte{},
		passiveElemSegments: map[uint32][]Object{},
		debugName:           IntrinsicsModuleName,
	}
	registerObject(mi, KindModuleInstance)
	c.mu.Lock()
	c.modules[mi] = struct{}{}
	c.mu.Unlock()

	export := func(name string, typ ir.FunctionType, entry engine.Entry) {
		fn := newFunctionInstance(mi, typ, entry, ir.CallingConventionIntrinsic, name)
		mi.functions = append(mi.functions, fn)
		mi.exportMap[name] = fn
	}

	i32 := ir.ValueTypeI32
	i64 := ir.ValueTypeI64

	export("memory.grow",
		ir.FunctionType{Params: []ir.ValueType{i32, i64}, Results: []ir.ValueType{i32}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			data := memoryData(ctx, args[1])
			if data == nil {
				return nil, errors.UnimplementedIntrinsic("memory.grow")
			}
			prev := data.Grow(uint64(uint32(args[0])))
			return []uint64{uint64(uint32(prev))}, nil
		})

	export("memory.size",
		ir.FunctionType{Params: []ir.ValueType{i64}, Results: []ir.ValueType{i32}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			data := memoryData(ctx, args[0])
			if data == nil {
				return nil, errors.UnimplementedIntrinsic("memory.size")
			}
			return []uint64{uint64(uint32(data.NumPages()))}, nil
		})

	export("table.grow",
		ir.FunctionType{Params: []ir.ValueType{i32, i64}, Results: []ir.ValueType{i32}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			data := tableData(ctx, args[1])
			if data == nil {
				return nil, errors.UnimplementedIntrinsic("table.grow")
			}
			prev := data.Grow(uint64(uint32(args[0])))
			return []uint64{uint64(uint32(prev))}, nil
		})

	export("table.size",
		ir.FunctionType{Params: []ir.ValueType{i64}, Results: []ir.ValueType{i32}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			data := tableData(ctx, args[0])
			if data == nil {
				return nil, errors.UnimplementedIntrinsic("table.size")
			}
			return []uint64{uint64(uint32(data.NumElements()))}, nil
		})

	export("table.copy",
		ir.FunctionType{Params: []ir.ValueType{i32, i32, i32, i64}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			data := tableData(ctx, args[3])
			if data == nil {
				return nil, errors.UnimplementedIntrinsic("table.copy")
			}
			dest, src, n := uint64(uint32(args[0])), uint64(uint32(args[1])), uint64(uint32(args[2]))
			size := data.NumElements()
			if src+n > size || dest+n > size {
				return nil, errors.OutOfBoundsTable(data.Owner, dest+n)
			}
			if dest <= src {
				for i := uint64(0); i < n; i++ {
					data.Store(dest+i, data.Load(src+i))
				}
			} else {
				for i := n; i > 0; i-- {
					data.Store(dest+i-1, data.Load(src+i-1))
				}
			}
			return nil, nil
		})

	export("throwException",
		ir.FunctionType{Params: []ir.ValueType{i64, i64}},
		func(ctx *engine.ContextRuntimeData, args []uint64) ([]uint64, error) {
			return nil, errors.New(errors.PhaseRuntime, errors.KindException).
				Detail("exception thrown by guest code").
				Arg(args[0]).Arg(args[1]).Build()
		})

	return mi
}

func memoryData(ctx *engine.ContextRuntimeData, id uint64) *engine.MemoryData {
	if ctx == nil || id >= uint64(len(ctx.Compartment.Memories)) {
		return nil
	}
	return ctx.Compartment.Memories[id]
}

func tableData(ctx *engine.ContextRuntimeData, id uint64) *engine.TableData {
	if ctx == nil || id >= uint64(len(ctx.Compartment.Tables)) {
		return nil
	}
	return ctx.Compartment.Tables[id]
}
