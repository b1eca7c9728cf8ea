package runtime

import (
	"sync"

	"github.com/wippyai/wasm-core/engine"
)

// ModuleInstance is one instantiation of a compiled module: its import
// and definition vectors (imports first, in declaration order), its
// export map, the passive segments retained for later initialization,
// and the handle to its loaded object code.
type ModuleInstance struct {
	gcHeader
	compartment *Compartment

	exportMap map[string]Object

	functionDefs []*FunctionInstance

	functions      []*FunctionInstance
	tables         []*TableInstance
	memories       []*MemoryInstance
	globals        []*GlobalInstance
	exceptionTypes []*ExceptionTypeInstance

	startFunction *FunctionInstance
	defaultMemory *MemoryInstance
	defaultTable  *TableInstance

	passiveDataMu       sync.Mutex
	passiveDataSegments map[uint32][]byte

	passiveElemMu       sync.Mutex
	passiveElemSegments map[uint32][]Object

	loaded *engine.LoadedModule

	debugName string
}

// GetInstanceExport looks up an export by name, or nil.
func GetInstanceExport(mi *ModuleInstance, name string) Object {
	return mi.exportMap[name]
}

// GetStartFunction returns the module's start function, or nil.
func GetStartFunction(mi *ModuleInstance) *FunctionInstance { return mi.startFunction }

// GetDefaultMemory returns the instance's default memory, or nil.
func GetDefaultMemory(mi *ModuleInstance) *MemoryInstance { return mi.defaultMemory }

// GetDefaultTable returns the instance's default table, or nil.
func GetDefaultTable(mi *ModuleInstance) *TableInstance { return mi.defaultTable }

// Compartment returns the owning compartment.
func (mi *ModuleInstance) Compartment() *Compartment { return mi.compartment }

// DebugName returns the instance's debug name.
func (mi *ModuleInstance) DebugName() string { return mi.debugName }

// Functions returns the instance's function vector (imports then defs).
func (mi *ModuleInstance) Functions() []*FunctionInstance {
	return append([]*FunctionInstance(nil), mi.functions...)
}

// ExportNames returns the instance's export names, in no particular
// order.
func (mi *ModuleInstance) ExportNames() []string {
	names := make([]string, 0, len(mi.exportMap))
	for name := range mi.exportMap {
		names = append(names, name)
	}
	return names
}

// GetPassiveDataSegment returns a retained passive data segment's
// payload, or nil. The payload is immutable once installed.
func (mi *ModuleInstance) GetPassiveDataSegment(index uint32) []byte {
	mi.passiveDataMu.Lock()
	defer mi.passiveDataMu.Unlock()
	return mi.passiveDataSegments[index]
}

// GetPassiveElemSegment returns a retained passive element segment's
// references, or nil.
func (mi *ModuleInstance) GetPassiveElemSegment(index uint32) []Object {
	mi.passiveElemMu.Lock()
	defer mi.passiveElemMu.Unlock()
	return mi.passiveElemSegments[index]
}

// DropPassiveDataSegment discards a retained passive data segment, as
// the data.drop instruction does.
func (mi *ModuleInstance) DropPassiveDataSegment(index uint32) {
	mi.passiveDataMu.Lock()
	defer mi.passiveDataMu.Unlock()
	delete(mi.passiveDataSegments, index)
}

// DropPassiveElemSegment discards a retained passive element segment.
func (mi *ModuleInstance) DropPassiveElemSegment(index uint32) {
	mi.passiveElemMu.Lock()
	defer mi.passiveElemMu.Unlock()
	delete(mi.passiveElemSegments, index)
}

func (mi *ModuleInstance) trace(visit func(Object)) {
	visit(mi.compartment)
	for _, f := range mi.functions {
		visit(f)
	}
	for _, t := range mi.tables {
		visit(t)
	}
	for _, m := range mi.memories {
		visit(m)
	}
	for _, g := range mi.globals {
		visit(g)
	}
	for _, e := range mi.exceptionTypes {
		visit(e)
	}

	mi.passiveElemMu.Lock()
	for _, segment := range mi.passiveElemSegments {
		for _, o := range segment {
			visit(o)
		}
	}
	mi.passiveElemMu.Unlock()
}

// finalize clears the compartment's weak reference.
func (mi *ModuleInstance) finalize() {
	mi.compartment.mu.Lock()
	delete(mi.compartment.modules, mi)
	mi.compartment.mu.Unlock()
}

// destroy unloads the instance's object code.
func (mi *ModuleInstance) destroy() {
	if mi.loaded != nil {
		activeEngine.Unload(mi.loaded)
		mi.loaded = nil
	}
}
