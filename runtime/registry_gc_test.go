package runtime

import (
	"testing"

	"github.com/wippyai/wasm-core/ir"
)

// inRegistry reports whether o is still registered.
func inRegistry(o Object) bool {
	registry.Lock()
	defer registry.Unlock()
	_, ok := registry.objects[o]
	return ok
}

func newTestCompartment(t *testing.T) *Compartment {
	t.Helper()
	c := NewCompartment()
	t.Cleanup(func() {
		RemoveGCRoot(c)
		CollectGarbage()
	})
	return c
}

func TestRootReferencesPinObjects(t *testing.T) {
	c := newTestCompartment(t)

	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}, "pinned")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	AddGCRoot(m)

	CollectGarbage()
	if !inRegistry(m) {
		t.Fatal("rooted memory was collected")
	}

	RemoveGCRoot(m)
	CollectGarbage()
	if inRegistry(m) {
		t.Fatal("unrooted memory survived collection")
	}
}

func TestCompartmentKeepsIntrinsicsAlive(t *testing.T) {
	c := newTestCompartment(t)

	intrinsics := c.wavmIntrinsics
	CollectGarbage()
	if !inRegistry(intrinsics) {
		t.Fatal("intrinsics module of a rooted compartment was collected")
	}
	for _, fn := range intrinsics.functions {
		if !inRegistry(fn) {
			t.Fatalf("intrinsic function %q was collected", fn.debugName)
		}
	}
}

func TestCollectReclaimsCompartmentGraph(t *testing.T) {
	c := NewCompartment()
	m, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 1, Max: 1}}, "doomed")
	if err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}
	intrinsics := c.wavmIntrinsics

	RemoveGCRoot(c)
	CollectGarbage()

	for _, o := range []Object{c, m, intrinsics} {
		if inRegistry(o) {
			t.Errorf("%s survived collection of an unrooted compartment", o.Kind())
		}
	}
}

// TestGCCycle builds two module instances that reference each other (an
// import edge one way, a table element back the other way), drops every
// root, and verifies the whole cycle is reclaimed.
func TestGCCycle(t *testing.T) {
	c := newTestCompartment(t)
	i32 := ir.ValueTypeI32

	// Module A defines and exports a function and a funcref table.
	moduleA := ir.NewModule()
	moduleA.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	moduleA.Tables.Defs = []ir.TableDef{{Type: ir.TableType{ElementType: ir.ValueTypeFuncRef, Size: ir.SizeConstraints{Min: 2, Max: 2}}}}
	moduleA.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{{Op: ir.OpI32Const, I64: 1}}}}
	moduleA.Exports = []ir.Export{
		{Name: "fn", Kind: ir.ExternFunction, Index: 0},
		{Name: "table", Kind: ir.ExternTable, Index: 0},
	}
	compiledA, err := CompileModule(moduleA)
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	instanceA, err := InstantiateModule(c, compiledA, ImportBindings{}, "a")
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}

	// Module B imports A's function and defines its own.
	moduleB := ir.NewModule()
	moduleB.Types = []ir.FunctionType{{Results: []ir.ValueType{i32}}}
	moduleB.Functions.Imports = []ir.FunctionImport{{Ref: ir.ImportRef{Module: "a", Field: "fn"}, TypeIndex: 0}}
	moduleB.Functions.Defs = []ir.FunctionDef{{TypeIndex: 0, Code: []ir.Instr{{Op: ir.OpI32Const, I64: 2}}}}
	compiledB, err := CompileModule(moduleB)
	if err != nil {
		t.Fatalf("CompileModule failed: %v", err)
	}
	fnA := GetInstanceExport(instanceA, "fn").(*FunctionInstance)
	instanceB, err := InstantiateModule(c, compiledB, ImportBindings{Functions: []*FunctionInstance{fnA}}, "b")
	if err != nil {
		t.Fatalf("InstantiateModule failed: %v", err)
	}

	// Close the cycle: B's defined function goes into A's table.
	tableA := GetInstanceExport(instanceA, "table").(*TableInstance)
	if err := SetTableElement(tableA, 0, instanceB.functionDefs[0]); err != nil {
		t.Fatalf("SetTableElement failed: %v", err)
	}

	cycle := []Object{instanceA, instanceB, tableA, fnA, instanceB.functionDefs[0]}

	// Rooted, everything survives.
	AddGCRoot(instanceA)
	AddGCRoot(instanceB)
	CollectGarbage()
	for _, o := range cycle {
		if !inRegistry(o) {
			t.Fatalf("rooted %s was collected", o.Kind())
		}
	}

	// Unrooted, the whole cycle goes; the rooted compartment stays.
	RemoveGCRoot(instanceA)
	RemoveGCRoot(instanceB)
	CollectGarbage()
	for _, o := range cycle {
		if inRegistry(o) {
			t.Errorf("%s survived after all roots were dropped", o.Kind())
		}
	}
	if !inRegistry(c) {
		t.Error("rooted compartment was collected")
	}
}

// TestCollectInvariants checks the post-collection laws: every
// registered object is reachable from a root, and nothing rooted was
// freed.
func TestCollectInvariants(t *testing.T) {
	c := newTestCompartment(t)
	if _, err := CreateMemory(c, ir.MemoryType{Size: ir.SizeConstraints{Min: 0, Max: 1}}, "unreachable"); err != nil {
		t.Fatalf("CreateMemory failed: %v", err)
	}

	CollectGarbage()

	// Re-run the mark from the surviving registry; nothing should be
	// unreachable.
	registry.Lock()
	unreferenced := make(map[Object]struct{}, len(registry.objects))
	for o := range registry.objects {
		unreferenced[o] = struct{}{}
	}
	var pending []Object
	for o := range registry.objects {
		if o.header().numRootReferences.Load() > 0 {
			delete(unreferenced, o)
			pending = append(pending, o)
		}
	}
	for len(pending) > 0 {
		o := pending[len(pending)-1]
		pending = pending[:len(pending)-1]
		o.trace(func(ref Object) {
			if ref == nil {
				return
			}
			if _, ok := unreferenced[ref]; ok {
				delete(unreferenced, ref)
				pending = append(pending, ref)
			}
		})
	}
	leftover := len(unreferenced)
	registry.Unlock()

	if leftover != 0 {
		t.Errorf("%d unreachable objects survived collection", leftover)
	}
}
