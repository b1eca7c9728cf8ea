package engine

import (
	"bytes"
	"errors"
	"testing"

	rterrors "github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// buildModule compiles and loads a module with empty bindings apart
// from what the test supplies.
func buildModule(t *testing.T, m *ir.Module, bindings *Bindings) (*LoadedModule, []*JITFunction, *ContextRuntimeData) {
	t.Helper()
	e := New()
	objectCode, err := e.Compile(m)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if bindings == nil {
		bindings = &Bindings{}
	}
	if bindings.Types == nil {
		bindings.Types = m.Types
	}
	if bindings.DefaultMemoryID == 0 && len(bindings.Memories) == 0 {
		bindings.DefaultMemoryID = InvalidID
	}
	if bindings.DefaultTableID == 0 && len(bindings.Tables) == 0 {
		bindings.DefaultTableID = InvalidID
	}
	loaded, jitFunctions, err := e.Load(objectCode, bindings)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{}}
	return loaded, jitFunctions, ctx
}

func singleFuncModule(results []ir.ValueType, params []ir.ValueType, locals []ir.ValueType, code []ir.Instr) *ir.Module {
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Params: params, Results: results}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Locals: locals, Code: code}}
	return m
}

func TestCompileDeterministic(t *testing.T) {
	m := singleFuncModule([]ir.ValueType{ir.ValueTypeI32}, nil, nil, []ir.Instr{
		{Op: ir.OpI32Const, I64: 42},
	})
	e := New()
	a, err := e.Compile(m)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	b, err := e.Compile(m)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal IR must produce bitwise-equal object code")
	}
}

func TestConstReturn(t *testing.T) {
	m := singleFuncModule([]ir.ValueType{ir.ValueTypeI32}, nil, nil, []ir.Instr{
		{Op: ir.OpI32Const, I64: 42},
	})
	_, fns, ctx := buildModule(t, m, nil)
	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if len(results) != 1 || results[0] != 42 {
		t.Fatalf("got %v, want [42]", results)
	}
}

func TestParamsAndLocals(t *testing.T) {
	i32 := ir.ValueTypeI32
	// f(a, b) { tmp = a + b; return tmp * b }
	m := singleFuncModule([]ir.ValueType{i32}, []ir.ValueType{i32, i32}, []ir.ValueType{i32}, []ir.Instr{
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpLocalGet, Index: 1},
		{Op: ir.OpI32Add},
		{Op: ir.OpLocalSet, Index: 2},
		{Op: ir.OpLocalGet, Index: 2},
		{Op: ir.OpLocalGet, Index: 1},
		{Op: ir.OpI32Mul},
	})
	_, fns, ctx := buildModule(t, m, nil)
	results, err := fns[0].Entry(ctx, []uint64{3, 4})
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 28 {
		t.Fatalf("got %d, want 28", results[0])
	}
}

func TestIfElse(t *testing.T) {
	i32 := ir.ValueTypeI32
	// f(x) { if x != 0 { return 1 } else { return 2 } }
	m := singleFuncModule([]ir.ValueType{i32}, []ir.ValueType{i32}, nil, []ir.Instr{
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpIf, Block: ir.BlockSig{HasResult: true, Result: i32}},
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpElse},
		{Op: ir.OpI32Const, I64: 2},
		{Op: ir.OpEnd},
	})
	_, fns, ctx := buildModule(t, m, nil)

	results, err := fns[0].Entry(ctx, []uint64{7})
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 1 {
		t.Errorf("if(7) = %d, want 1", results[0])
	}
	results, err = fns[0].Entry(ctx, []uint64{0})
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 2 {
		t.Errorf("if(0) = %d, want 2", results[0])
	}
}

func TestLoopSum(t *testing.T) {
	i32 := ir.ValueTypeI32
	// f(n) { sum = 0; while n != 0 { sum += n; n-- }; return sum }
	m := singleFuncModule([]ir.ValueType{i32}, []ir.ValueType{i32}, []ir.ValueType{i32}, []ir.Instr{
		{Op: ir.OpBlock},
		{Op: ir.OpLoop},
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpI32Eqz},
		{Op: ir.OpBrIf, Index: 1},
		{Op: ir.OpLocalGet, Index: 1},
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpI32Add},
		{Op: ir.OpLocalSet, Index: 1},
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpI32Sub},
		{Op: ir.OpLocalSet, Index: 0},
		{Op: ir.OpBr, Index: 0},
		{Op: ir.OpEnd},
		{Op: ir.OpEnd},
		{Op: ir.OpLocalGet, Index: 1},
	})
	_, fns, ctx := buildModule(t, m, nil)
	results, err := fns[0].Entry(ctx, []uint64{10})
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 55 {
		t.Fatalf("sum(10) = %d, want 55", results[0])
	}
}

func TestBlockBranchWithResult(t *testing.T) {
	i32 := ir.ValueTypeI32
	// block (result i32): push 5, br 0 carries it past dead code
	m := singleFuncModule([]ir.ValueType{i32}, nil, nil, []ir.Instr{
		{Op: ir.OpBlock, Block: ir.BlockSig{HasResult: true, Result: i32}},
		{Op: ir.OpI32Const, I64: 5},
		{Op: ir.OpBr, Index: 0},
		{Op: ir.OpI32Const, I64: 9},
		{Op: ir.OpEnd},
	})
	_, fns, ctx := buildModule(t, m, nil)
	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 5 {
		t.Fatalf("got %d, want 5", results[0])
	}
}

func TestCallBetweenDefs(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{
		{Results: []ir.ValueType{i32}},
		{Params: []ir.ValueType{i32}, Results: []ir.ValueType{i32}},
	}
	m.Functions.Defs = []ir.FunctionDef{
		{TypeIndex: 0, Code: []ir.Instr{
			{Op: ir.OpI32Const, I64: 20},
			{Op: ir.OpCall, Index: 1},
		}},
		{TypeIndex: 1, Code: []ir.Instr{
			{Op: ir.OpLocalGet, Index: 0},
			{Op: ir.OpLocalGet, Index: 0},
			{Op: ir.OpI32Add},
		}},
	}
	_, fns, ctx := buildModule(t, m, nil)
	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 40 {
		t.Fatalf("got %d, want 40", results[0])
	}
}

func TestCallImport(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Functions.Imports = []ir.FunctionImport{{TypeIndex: 0}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpCall, Index: 0},
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpI32Add},
	}}}

	imported := &Function{
		Type: m.Types[0],
		Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
			return []uint64{41}, nil
		},
	}
	bindings := &Bindings{
		Types:           m.Types,
		FunctionImports: []FunctionBinding{{Code: imported}},
		DefaultMemoryID: InvalidID,
		DefaultTableID:  InvalidID,
	}
	_, fns, ctx := buildModule(t, m, bindings)
	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 42 {
		t.Fatalf("got %d, want 42", results[0])
	}
}

func memoryFixture(pages uint64) *MemoryData {
	md := &MemoryData{}
	buf := make([]byte, pages*ir.NumBytesPerPage)
	md.Publish(buf, pages)
	md.Grow = func(delta uint64) int64 {
		prev := md.NumPages()
		grown := make([]byte, (prev+delta)*ir.NumBytesPerPage)
		copy(grown, md.Bytes())
		md.Publish(grown, prev+delta)
		return int64(prev)
	}
	return md
}

func TestMemoryOps(t *testing.T) {
	i32 := ir.ValueTypeI32
	// store 99 at [8], load it back
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 8},
		{Op: ir.OpI32Const, I64: 99},
		{Op: ir.OpI32Store, Align: 2},
		{Op: ir.OpI32Const, I64: 8},
		{Op: ir.OpI32Load, Align: 2},
	}}}

	md := memoryFixture(1)
	bindings := &Bindings{
		Types:           m.Types,
		Memories:        []MemoryBinding{{ID: 0}},
		DefaultMemoryID: 0,
		DefaultTableID:  InvalidID,
	}
	_, fns, _ := buildModule(t, m, bindings)
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{Memories: []*MemoryData{md}}}
	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 99 {
		t.Fatalf("got %d, want 99", results[0])
	}
}

func TestMemoryLoadOutOfBounds(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 65533},
		{Op: ir.OpI32Load, Align: 2},
	}}}

	md := memoryFixture(1)
	bindings := &Bindings{
		Types:           m.Types,
		Memories:        []MemoryBinding{{ID: 0}},
		DefaultMemoryID: 0,
		DefaultTableID:  InvalidID,
	}
	_, fns, _ := buildModule(t, m, bindings)
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{Memories: []*MemoryData{md}}}
	_, err := fns[0].Entry(ctx, nil)
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindOutOfBoundsMemory}) {
		t.Fatalf("expected out-of-bounds-memory-access, got %v", err)
	}
}

func TestMemoryGrowIntrinsic(t *testing.T) {
	i32 := ir.ValueTypeI32
	// grow by 2 pages, return previous page count; then memory.size
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 4}}}}
	m.Functions.Defs = []ir.FunctionDef{
		{TypeIndex: 0, Code: []ir.Instr{
			{Op: ir.OpI32Const, I64: 2},
			{Op: ir.OpMemoryGrow},
		}},
		{TypeIndex: 0, Code: []ir.Instr{
			{Op: ir.OpMemorySize},
		}},
	}

	md := memoryFixture(1)
	growIntrinsic := &Function{
		Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
			prev := ctx.Compartment.Memories[args[1]].Grow(uint64(uint32(args[0])))
			return []uint64{uint64(uint32(prev))}, nil
		},
	}
	bindings := &Bindings{
		Intrinsics:      map[string]FunctionBinding{"memory.grow": {Code: growIntrinsic}},
		Types:           m.Types,
		Memories:        []MemoryBinding{{ID: 0}},
		DefaultMemoryID: 0,
		DefaultTableID:  InvalidID,
	}
	_, fns, _ := buildModule(t, m, bindings)
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{Memories: []*MemoryData{md}}}

	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("grow failed: %v", err)
	}
	if results[0] != 1 {
		t.Errorf("grow returned %d, want previous page count 1", results[0])
	}
	results, err = fns[1].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("size failed: %v", err)
	}
	if results[0] != 3 {
		t.Errorf("size = %d, want 3", results[0])
	}
}

func TestUnresolvedIntrinsic(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 4}}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpMemoryGrow},
	}}}

	e := New()
	objectCode, err := e.Compile(m)
	if err != nil {
		t.Fatalf("Compile failed: %v", err)
	}
	_, _, err = e.Load(objectCode, &Bindings{
		Types:           m.Types,
		Memories:        []MemoryBinding{{ID: 0}},
		DefaultMemoryID: 0,
		DefaultTableID:  InvalidID,
	})
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseLoad, Kind: rterrors.KindLink}) {
		t.Fatalf("expected link error, got %v", err)
	}
}

func TestCallIndirect(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{
		{Params: []ir.ValueType{i32}, Results: []ir.ValueType{i32}},
		{Results: []ir.ValueType{i32}},
	}
	m.Tables.Defs = []ir.TableDef{{Type: ir.TableType{ElementType: ir.ValueTypeFuncRef, Size: ir.SizeConstraints{Min: 2, Max: 2}}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 1, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 21},
		{Op: ir.OpI32Const, I64: 0},
		{Op: ir.OpCallIndirect, Index: 0},
	}}}

	td := &TableData{}
	td.InitElements(2)
	td.SetNumElements(2)
	double := &Function{
		Type: m.Types[0],
		Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
			return []uint64{args[0] * 2}, nil
		},
	}
	td.Store(0, double)

	bindings := &Bindings{
		Types:           m.Types,
		Tables:          []TableBinding{{ID: 0}},
		DefaultMemoryID: InvalidID,
		DefaultTableID:  0,
	}
	_, fns, _ := buildModule(t, m, bindings)
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{Tables: []*TableData{td}}}

	results, err := fns[0].Entry(ctx, nil)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if results[0] != 42 {
		t.Fatalf("got %d, want 42", results[0])
	}
}

func TestCallIndirectSentinel(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Tables.Defs = []ir.TableDef{{Type: ir.TableType{ElementType: ir.ValueTypeFuncRef, Size: ir.SizeConstraints{Min: 2, Max: 2}}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpCallIndirect, Index: 0},
	}}}

	td := &TableData{}
	td.InitElements(2)
	td.SetNumElements(2)

	bindings := &Bindings{
		Types:           m.Types,
		Tables:          []TableBinding{{ID: 0}},
		DefaultMemoryID: InvalidID,
		DefaultTableID:  0,
	}
	_, fns, _ := buildModule(t, m, bindings)
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{Tables: []*TableData{td}}}

	_, err := fns[0].Entry(ctx, nil)
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindOutOfBoundsTable}) {
		t.Fatalf("expected out-of-bounds-table-access through the sentinel, got %v", err)
	}
}

func TestTraps(t *testing.T) {
	i32 := ir.ValueTypeI32

	t.Run("unreachable", func(t *testing.T) {
		m := singleFuncModule(nil, nil, nil, []ir.Instr{{Op: ir.OpUnreachable}})
		_, fns, ctx := buildModule(t, m, nil)
		_, err := fns[0].Entry(ctx, nil)
		if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindUnreachable}) {
			t.Fatalf("expected unreachable trap, got %v", err)
		}
	})

	t.Run("divide by zero", func(t *testing.T) {
		m := singleFuncModule([]ir.ValueType{i32}, nil, nil, []ir.Instr{
			{Op: ir.OpI32Const, I64: 1},
			{Op: ir.OpI32Const, I64: 0},
			{Op: ir.OpI32DivU},
		})
		_, fns, ctx := buildModule(t, m, nil)
		_, err := fns[0].Entry(ctx, nil)
		if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindIntegerDivide}) {
			t.Fatalf("expected divide trap, got %v", err)
		}
	})

	t.Run("signed overflow", func(t *testing.T) {
		m := singleFuncModule([]ir.ValueType{i32}, nil, nil, []ir.Instr{
			{Op: ir.OpI32Const, I64: -0x80000000},
			{Op: ir.OpI32Const, I64: -1},
			{Op: ir.OpI32DivS},
		})
		_, fns, ctx := buildModule(t, m, nil)
		_, err := fns[0].Entry(ctx, nil)
		if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindIntegerDivide}) {
			t.Fatalf("expected divide trap, got %v", err)
		}
	})
}

func TestCompileRejectsMultipleResults(t *testing.T) {
	i32 := ir.ValueTypeI32
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32, i32}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 1},
		{Op: ir.OpI32Const, I64: 2},
	}}}
	if _, err := New().Compile(m); err == nil {
		t.Fatal("expected an error for multi-result signature")
	}
}

func TestCompileRejectsUnbalancedBlocks(t *testing.T) {
	m := singleFuncModule(nil, nil, nil, []ir.Instr{{Op: ir.OpBlock}})
	if _, err := New().Compile(m); err == nil {
		t.Fatal("expected an error for unterminated block")
	}
}

func TestJITFunctionByAddress(t *testing.T) {
	m := singleFuncModule([]ir.ValueType{ir.ValueTypeI32}, nil, nil, []ir.Instr{
		{Op: ir.OpI32Const, I64: 7},
	})
	_, fns, _ := buildModule(t, m, nil)
	jf := fns[0]
	if got := JITFunctionByAddress(jf.BaseAddress); got != jf {
		t.Errorf("base address resolves to %v, want the function", got)
	}
	if got := JITFunctionByAddress(jf.BaseAddress + jf.NumBytes - 1); got != jf {
		t.Errorf("last byte of range should resolve to the function, got %v", got)
	}
}

func TestUnloadUnregistersAddresses(t *testing.T) {
	m := singleFuncModule([]ir.ValueType{ir.ValueTypeI32}, nil, nil, []ir.Instr{
		{Op: ir.OpI32Const, I64: 7},
	})
	loaded, fns, _ := buildModule(t, m, nil)
	addr := fns[0].BaseAddress
	New().Unload(loaded)
	if got := JITFunctionByAddress(addr); got != nil {
		t.Errorf("unloaded address still resolves to %v", got)
	}
}

func TestInvokeThunkTyped(t *testing.T) {
	i32 := ir.ValueTypeI32
	ft := ir.FunctionType{Params: []ir.ValueType{i32}, Results: []ir.ValueType{i32}}

	fn := &Function{
		Type: ft,
		Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
			return []uint64{args[0] + 1}, nil
		},
	}
	ctx := &ContextRuntimeData{Compartment: &CompartmentRuntimeData{}}

	thunk := GetInvokeThunk(ft, ir.CallingConventionWasm)
	results, err := thunk(fn, ctx, []ir.Value{ir.I32Value(41)})
	if err != nil {
		t.Fatalf("thunk failed: %v", err)
	}
	if results[0].AsI32() != 42 {
		t.Errorf("got %d, want 42", results[0].AsI32())
	}

	if _, err := thunk(fn, ctx, []ir.Value{ir.I64Value(41)}); err == nil {
		t.Error("expected a type error for i64 argument")
	}
	if _, err := thunk(fn, ctx, nil); err == nil {
		t.Error("expected an arity error")
	}
}

func TestIntrinsicThunkPassThrough(t *testing.T) {
	ft := ir.FunctionType{}
	fn := &Function{Type: ft, Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
		return nil, nil
	}}
	if got := GetIntrinsicThunk(fn, ft, ir.CallingConventionWasm); got != fn {
		t.Error("wasm calling convention should pass through unchanged")
	}
	thunk := GetIntrinsicThunk(fn, ft, ir.CallingConventionIntrinsic)
	if thunk == fn {
		t.Error("intrinsic calling convention should wrap")
	}
	if again := GetIntrinsicThunk(fn, ft, ir.CallingConventionIntrinsic); again != thunk {
		t.Error("thunks should be cached per function")
	}
}
