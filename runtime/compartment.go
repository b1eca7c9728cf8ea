package runtime

import (
	"sync"

	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/ir"
)

// idMap is a fixed-capacity sparse array keyed by resource id. Ids are
// never renumbered: freeing a slot leaves a hole that the next
// allocation may reuse.
type idMap[T comparable] struct {
	slots    []T
	capacity uint32
}

func newIDMap[T comparable](capacity uint32) idMap[T] {
	return idMap[T]{capacity: capacity}
}

// alloc stores v at the lowest free id, or fails when the id space is
// exhausted.
func (m *idMap[T]) alloc(v T) (uint32, bool) {
	var zero T
	for i, slot := range m.slots {
		if slot == zero {
			m.slots[i] = v
			return uint32(i), true
		}
	}
	if uint32(len(m.slots)) >= m.capacity {
		return 0, false
	}
	m.slots = append(m.slots, v)
	return uint32(len(m.slots) - 1), true
}

// insertAt stores v at a specific id, growing the sparse array as
// needed. Used by compartment cloning to preserve ids.
func (m *idMap[T]) insertAt(id uint32, v T) bool {
	if id >= m.capacity {
		return false
	}
	for uint32(len(m.slots)) <= id {
		var zero T
		m.slots = append(m.slots, zero)
	}
	var zero T
	if m.slots[id] != zero {
		return false
	}
	m.slots[id] = v
	return true
}

func (m *idMap[T]) get(id uint32) T {
	var zero T
	if id >= uint32(len(m.slots)) {
		return zero
	}
	return m.slots[id]
}

func (m *idMap[T]) remove(id uint32) {
	if id < uint32(len(m.slots)) {
		var zero T
		m.slots[id] = zero
	}
}

func (m *idMap[T]) each(visit func(id uint32, v T)) {
	var zero T
	for i, slot := range m.slots {
		if slot != zero {
			visit(uint32(i), slot)
		}
	}
}

// Compartment is the unit of isolation: it owns numerically stable ids
// for its memories, tables, and contexts, and the slot allocator for
// mutable globals. Compiled code addresses those resources by id
// through the per-context runtime-data block.
type Compartment struct {
	gcHeader
	mu sync.Mutex

	runtimeData *engine.CompartmentRuntimeData

	// Weak references: the collector does not trace these; each
	// resource clears its own entry when finalized.
	modules  map[*ModuleInstance]struct{}
	globals  map[*GlobalInstance]struct{}
	memories idMap[*MemoryInstance]
	tables   idMap[*TableInstance]
	contexts idMap[*Context]

	globalDataAllocationMask     [MaxMutableGlobals / 64]uint64
	initialContextMutableGlobals [MaxMutableGlobals]ir.UntaggedValue

	wavmIntrinsics *ModuleInstance
}

// NewCompartment creates a compartment, its runtime-data block, and its
// intrinsics module instance. The compartment is returned with one root
// reference.
func NewCompartment() *Compartment {
	c := &Compartment{
		runtimeData: &engine.CompartmentRuntimeData{
			Memories: make([]*engine.MemoryData, MaxMemories),
			Tables:   make([]*engine.TableData, MaxTables),
		},
		modules:  map[*ModuleInstance]struct{}{},
		globals:  map[*GlobalInstance]struct{}{},
		memories: newIDMap[*MemoryInstance](MaxMemories),
		tables:   newIDMap[*TableInstance](MaxTables),
		contexts: newIDMap[*Context](MaxContexts),
	}
	registerObject(c, KindCompartment)
	AddGCRoot(c)
	c.wavmIntrinsics = instantiateIntrinsics(c)
	return c
}

func (c *Compartment) trace(visit func(Object)) {
	visit(c.wavmIntrinsics)
}

// RuntimeData exposes the compartment's runtime-data block to engine
// bindings and contexts.
func (c *Compartment) RuntimeData() *engine.CompartmentRuntimeData { return c.runtimeData }

// MemoryByID resolves a memory id, or nil.
func (c *Compartment) MemoryByID(id uint32) *MemoryInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.memories.get(id)
}

// TableByID resolves a table id, or nil.
func (c *Compartment) TableByID(id uint32) *TableInstance {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.tables.get(id)
}

// ContextByID resolves a context id, or nil.
func (c *Compartment) ContextByID(id uint32) *Context {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.contexts.get(id)
}

// allocMutableGlobalSlot sets the lowest clear bit in the allocation
// mask. Caller holds c.mu.
func (c *Compartment) allocMutableGlobalSlot() (uint32, bool) {
	for word := range c.globalDataAllocationMask {
		bits := c.globalDataAllocationMask[word]
		if bits == ^uint64(0) {
			continue
		}
		for bit := 0; bit < 64; bit++ {
			if bits&(1<<bit) == 0 {
				c.globalDataAllocationMask[word] |= 1 << bit
				return uint32(word*64 + bit), true
			}
		}
	}
	return 0, false
}

// releaseMutableGlobalSlot clears a bit set by allocMutableGlobalSlot.
// Caller holds c.mu.
func (c *Compartment) releaseMutableGlobalSlot(slot uint32) {
	c.globalDataAllocationMask[slot/64] &^= 1 << (slot % 64)
}

// MutableGlobalSlotAllocated reports whether a slot is currently
// allocated.
func (c *Compartment) MutableGlobalSlotAllocated(slot uint32) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.globalDataAllocationMask[slot/64]&(1<<(slot%64)) != 0
}

// memorySnapshot captures one memory for cloning.
type memorySnapshot struct {
	id        uint32
	typ       ir.MemoryType
	debugName string
	contents  []byte
}

// tableSnapshot captures one table for cloning.
type tableSnapshot struct {
	id        uint32
	typ       ir.TableType
	debugName string
	elements  []*FunctionInstance
}

// globalSnapshot captures one global for cloning.
type globalSnapshot struct {
	typ             ir.GlobalType
	mutableGlobalID uint32
	initialValue    ir.UntaggedValue
}

// CloneCompartment produces a fresh compartment holding duplicates of
// src's memories, tables, and globals under the same ids and (for
// mutable globals) the same slot indices, so guest pointer values
// resolve identically in the clone.
func CloneCompartment(src *Compartment) (*Compartment, error) {
	// Snapshot under the source mutex, then build outside it: the
	// factories below take the registry mutex, which is ordered before
	// compartment mutexes.
	src.mu.Lock()
	var memories []memorySnapshot
	src.memories.each(func(id uint32, m *MemoryInstance) {
		m.resizingMu.Lock()
		contents := append([]byte(nil), m.Bytes()...)
		m.resizingMu.Unlock()
		memories = append(memories, memorySnapshot{id: id, typ: m.typ, debugName: m.debugName, contents: contents})
	})
	var tables []tableSnapshot
	src.tables.each(func(id uint32, t *TableInstance) {
		t.resizingMu.Lock()
		elements := t.snapshotElements()
		t.resizingMu.Unlock()
		tables = append(tables, tableSnapshot{id: id, typ: t.typ, debugName: t.debugName, elements: elements})
	})
	var globals []globalSnapshot
	for g := range src.globals {
		globals = append(globals, globalSnapshot{typ: g.typ, mutableGlobalID: g.mutableGlobalID, initialValue: g.initialValue})
	}
	mask := src.globalDataAllocationMask
	template := src.initialContextMutableGlobals
	src.mu.Unlock()

	clone := NewCompartment()
	clone.mu.Lock()
	clone.globalDataAllocationMask = mask
	clone.initialContextMutableGlobals = template
	clone.mu.Unlock()

	for _, snap := range memories {
		if _, err := cloneMemory(clone, snap); err != nil {
			RemoveGCRoot(clone)
			return nil, err
		}
	}
	for _, snap := range tables {
		if _, err := cloneTable(clone, snap); err != nil {
			RemoveGCRoot(clone)
			return nil, err
		}
	}
	for _, snap := range globals {
		cloneGlobal(clone, snap)
	}
	return clone, nil
}
