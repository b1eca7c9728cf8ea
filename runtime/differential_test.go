package runtime

import (
	"context"
	"testing"

	"github.com/tetratelabs/wazero"

	"github.com/wippyai/wasm-core/ir"
)

// The differential tests encode IR to a standard wasm binary, run it
// under wazero, and compare results with this runtime's engine on the
// same IR.

func runHere(t *testing.T, c *Compartment, m *ir.Module, name string, args ...ir.Value) []ir.Value {
	t.Helper()
	instance, err := InstantiateModule(c, compile(t, m), ImportBindings{}, "diff")
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}
	ctx, err := NewContext(c)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	fn, ok := GetInstanceExport(instance, name).(*FunctionInstance)
	if !ok {
		t.Fatalf("no exported function %q", name)
	}
	results, err := Invoke(ctx, fn, args)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	return results
}

func runWazero(t *testing.T, m *ir.Module, name string, args ...uint64) []uint64 {
	t.Helper()
	encoded, err := ir.EncodeModule(m)
	if err != nil {
		t.Fatalf("EncodeModule failed: %v", err)
	}

	ctx := context.Background()
	r := wazero.NewRuntime(ctx)
	defer r.Close(ctx)

	mod, err := r.Instantiate(ctx, encoded)
	if err != nil {
		t.Fatalf("wazero rejected the encoded module: %v", err)
	}
	results, err := mod.ExportedFunction(name).Call(ctx, args...)
	if err != nil {
		t.Fatalf("wazero call failed: %v", err)
	}
	return results
}

func TestDifferentialConstReturn(t *testing.T) {
	c := newTestCompartment(t)
	m := trivialModule()

	ours := runHere(t, c, m, "main")
	theirs := runWazero(t, m, "main")
	if uint64(uint32(ours[0].Bits)) != uint64(uint32(theirs[0])) {
		t.Fatalf("disagreement: ours=%d wazero=%d", ours[0].AsI32(), int32(theirs[0]))
	}
}

func TestDifferentialArithmetic(t *testing.T) {
	c := newTestCompartment(t)
	i32 := ir.ValueTypeI32

	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Params: []ir.ValueType{i32, i32}, Results: []ir.ValueType{i32}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpLocalGet, Index: 1},
		{Op: ir.OpI32Add},
		{Op: ir.OpLocalGet, Index: 0},
		{Op: ir.OpI32Mul},
		{Op: ir.OpI32Const, I64: 7},
		{Op: ir.OpI32Sub},
	}}}
	m.Exports = []ir.Export{{Name: "calc", Kind: ir.ExternFunction, Index: 0}}

	for _, pair := range [][2]int32{{3, 4}, {-5, 9}, {0, 0}, {1 << 20, 3}} {
		a, b := pair[0], pair[1]
		ours := runHere(t, c, m, "calc", ir.I32Value(a), ir.I32Value(b))
		theirs := runWazero(t, m, "calc", uint64(uint32(a)), uint64(uint32(b)))
		if ours[0].AsI32() != int32(uint32(theirs[0])) {
			t.Errorf("calc(%d,%d): ours=%d wazero=%d", a, b, ours[0].AsI32(), int32(uint32(theirs[0])))
		}
	}
}

func TestDifferentialLoop(t *testing.T) {
	c := newTestCompartment(t)
	i32 := ir.ValueTypeI32

	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Params: []ir.ValueType{i32}, Results: []ir.ValueType{i32}}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Locals: []ir.ValueType{i32}, Code: []ir.Instr{
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
	}}}
	m.Exports = []ir.Export{{Name: "sum", Kind: ir.ExternFunction, Index: 0}}

	for _, n := range []int32{0, 1, 10, 1000} {
		ours := runHere(t, c, m, "sum", ir.I32Value(n))
		theirs := runWazero(t, m, "sum", uint64(uint32(n)))
		if ours[0].AsI32() != int32(uint32(theirs[0])) {
			t.Errorf("sum(%d): ours=%d wazero=%d", n, ours[0].AsI32(), int32(uint32(theirs[0])))
		}
	}
}

func TestDifferentialMemory(t *testing.T) {
	c := newTestCompartment(t)
	i32 := ir.ValueTypeI32

	// Load two values planted by a data segment and combine them.
	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Memories.Defs = []ir.MemoryDef{{Type: ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}}}
	m.DataSegments = []ir.DataSegment{{
		IsActive:   true,
		BaseOffset: ir.InitializerExpression{Op: ir.InitI32Const, Value: ir.UntaggedValue{Bits: 0}},
		Data:       []byte{10, 0, 0, 0, 32, 0, 0, 0},
	}}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpI32Const, I64: 0},
		{Op: ir.OpI32Load, Align: 2},
		{Op: ir.OpI32Const, I64: 4},
		{Op: ir.OpI32Load, Align: 2},
		{Op: ir.OpI32Add},
	}}}
	m.Exports = []ir.Export{{Name: "main", Kind: ir.ExternFunction, Index: 0}}

	ours := runHere(t, c, m, "main")
	theirs := runWazero(t, m, "main")
	if ours[0].AsI32() != int32(uint32(theirs[0])) {
		t.Fatalf("ours=%d wazero=%d", ours[0].AsI32(), int32(uint32(theirs[0])))
	}
	if ours[0].AsI32() != 42 {
		t.Fatalf("expected 42, got %d", ours[0].AsI32())
	}
}

func TestDifferentialGlobals(t *testing.T) {
	c := newTestCompartment(t)
	i32 := ir.ValueTypeI32

	m := ir.NewModule()
	m.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	m.Globals.Defs = []ir.GlobalDef{
		{
			Type:        ir.GlobalType{ValueType: i32},
			Initializer: ir.InitializerExpression{Op: ir.InitI32Const, Value: ir.UntaggedValue{Bits: 30}},
		},
		{
			Type:        ir.GlobalType{ValueType: i32, IsMutable: true},
			Initializer: ir.InitializerExpression{Op: ir.InitI32Const, Value: ir.UntaggedValue{Bits: 12}},
		},
	}
	m.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{
		{Op: ir.OpGlobalGet, Index: 0},
		{Op: ir.OpGlobalGet, Index: 1},
		{Op: ir.OpI32Add},
	}}}
	m.Exports = []ir.Export{{Name: "main", Kind: ir.ExternFunction, Index: 0}}

	ours := runHere(t, c, m, "main")
	theirs := runWazero(t, m, "main")
	if ours[0].AsI32() != int32(uint32(theirs[0])) {
		t.Fatalf("ours=%d wazero=%d", ours[0].AsI32(), int32(uint32(theirs[0])))
	}
}
