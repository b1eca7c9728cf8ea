package runtime

import (
	"errors"
	"testing"

	rterrors "github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

func intrinsic(t *testing.T, c *Compartment, name string) *FunctionInstance {
	t.Helper()
	fn, ok := GetInstanceExport(c.wavmIntrinsics, name).(*FunctionInstance)
	if !ok {
		t.Fatalf("no intrinsic %q", name)
	}
	return fn
}

func TestIntrinsicsExported(t *testing.T) {
	c := newTestCompartment(t)
	for _, name := range []string{"memory.grow", "memory.size", "table.grow", "table.size", "table.copy", "throwException"} {
		fn := intrinsic(t, c, name)
		if fn.CallingConvention() != ir.CallingConventionIntrinsic {
			t.Errorf("%s has calling convention %s", name, fn.CallingConvention())
		}
	}
}

func TestTableGrowIntrinsic(t *testing.T) {
	c := newTestCompartment(t)
	tbl, err := CreateTable(c, testTableType(1, 4), "growable")
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	ctx, err := NewContext(c)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	results, err := Invoke(ctx, intrinsic(t, c, "table.grow"),
		[]ir.Value{ir.I32Value(2), ir.I64Value(int64(tbl.ID()))})
	if err != nil {
		t.Fatalf("table.grow failed: %v", err)
	}
	if results[0].AsI32() != 1 {
		t.Errorf("table.grow returned %d, want previous size 1", results[0].AsI32())
	}
	if tbl.NumElements() != 3 {
		t.Errorf("table has %d elements, want 3", tbl.NumElements())
	}

	results, err = Invoke(ctx, intrinsic(t, c, "table.size"),
		[]ir.Value{ir.I64Value(int64(tbl.ID()))})
	if err != nil {
		t.Fatalf("table.size failed: %v", err)
	}
	if results[0].AsI32() != 3 {
		t.Errorf("table.size = %d, want 3", results[0].AsI32())
	}
}

func TestTableCopyIntrinsic(t *testing.T) {
	c := newTestCompartment(t)
	tbl, err := CreateTable(c, testTableType(3, 3), "copied")
	if err != nil {
		t.Fatalf("CreateTable failed: %v", err)
	}
	fn := NewHostFunction(c.wavmIntrinsics, ir.FunctionType{}, nil, ir.CallingConventionWasm, "elem")
	if err := SetTableElement(tbl, 0, fn); err != nil {
		t.Fatalf("SetTableElement failed: %v", err)
	}
	ctx, err := NewContext(c)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}

	// Copy [0,1) to [2,3).
	if _, err := Invoke(ctx, intrinsic(t, c, "table.copy"), []ir.Value{
		ir.I32Value(2), ir.I32Value(0), ir.I32Value(1), ir.I64Value(int64(tbl.ID())),
	}); err != nil {
		t.Fatalf("table.copy failed: %v", err)
	}
	element, err := GetTableElement(tbl, 2)
	if err != nil {
		t.Fatalf("GetTableElement failed: %v", err)
	}
	if element != fn {
		t.Error("copied slot does not hold the source element")
	}

	// Out-of-range copies fault.
	_, err = Invoke(ctx, intrinsic(t, c, "table.copy"), []ir.Value{
		ir.I32Value(2), ir.I32Value(0), ir.I32Value(5), ir.I64Value(int64(tbl.ID())),
	})
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindOutOfBoundsTable}) {
		t.Fatalf("expected out-of-bounds-table-access, got %v", err)
	}
}

func TestThrowExceptionIntrinsic(t *testing.T) {
	c := newTestCompartment(t)
	ctx, err := NewContext(c)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	_, err = Invoke(ctx, intrinsic(t, c, "throwException"),
		[]ir.Value{ir.I64Value(0), ir.I64Value(0)})
	if !errors.Is(err, &rterrors.Error{Phase: rterrors.PhaseRuntime, Kind: rterrors.KindException}) {
		t.Fatalf("expected a wasm exception, got %v", err)
	}
}
