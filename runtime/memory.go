package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// MemoryInstance is one linear memory. The first NumPages()*64KiB bytes
// of base are committed and zero-initialized; the rest of the region up
// to numReservedBytes is reserved address space the memory may grow
// into without relocating.
type MemoryInstance struct {
	gcHeader
	compartment *Compartment
	id          uint32
	typ         ir.MemoryType

	base             []byte
	numReservedBytes uint64

	resizingMu sync.Mutex

	data      engine.MemoryData
	debugName string
}

// CreateMemory reserves the memory's address region, commits and zeroes
// the initial pages, and assigns a compartment-scoped id.
func CreateMemory(c *Compartment, typ ir.MemoryType, debugName string) (*MemoryInstance, error) {
	reservedPages := typ.Size.Max
	if reservedPages == ir.UnboundedSize {
		reservedPages = defaultReservedPages
	}
	if reservedPages > maxMemoryPages {
		reservedPages = maxMemoryPages
	}
	if reservedPages < typ.Size.Min {
		reservedPages = typ.Size.Min
	}
	if typ.Size.Min > maxMemoryPages {
		return nil, errors.OutOfMemory(errors.PhaseCompartment, "initial page count exceeds the addressable bound")
	}

	base, err := reserveAddressSpace(reservedPages * ir.NumBytesPerPage)
	if err != nil {
		return nil, errors.New(errors.PhaseCompartment, errors.KindOutOfMemory).
			Detail("reserving %d pages", reservedPages).Cause(err).Build()
	}
	if err := commitPages(base[:typ.Size.Min*ir.NumBytesPerPage]); err != nil {
		releaseAddressSpace(base)
		return nil, errors.New(errors.PhaseCompartment, errors.KindOutOfMemory).
			Detail("committing %d pages", typ.Size.Min).Cause(err).Build()
	}

	m := &MemoryInstance{
		compartment:      c,
		id:               engine.InvalidID,
		typ:              typ,
		base:             base,
		numReservedBytes: reservedPages * ir.NumBytesPerPage,
		debugName:        debugName,
	}
	m.data.Owner = m
	m.data.Grow = func(deltaPages uint64) int64 { return m.Grow(deltaPages) }
	registerObject(m, KindMemory)
	m.data.Publish(base[:typ.Size.Min*ir.NumBytesPerPage], typ.Size.Min)

	c.mu.Lock()
	id, ok := c.memories.alloc(m)
	if ok {
		m.id = id
		c.runtimeData.Memories[id] = &m.data
	}
	c.mu.Unlock()
	if !ok {
		unregisterObject(m)
		releaseAddressSpace(base)
		return nil, errors.ResourceIDExhausted("memory")
	}

	Logger().Debug("created memory",
		zap.String("name", debugName),
		zap.Uint32("id", id),
		zap.Uint64("minPages", typ.Size.Min),
		zap.Uint64("reservedPages", reservedPages))
	return m, nil
}

// cloneMemory recreates a snapshotted memory in a new compartment under
// its original id.
func cloneMemory(c *Compartment, snap memorySnapshot) (*MemoryInstance, error) {
	m, err := CreateMemory(c, snap.typ, snap.debugName)
	if err != nil {
		return nil, err
	}

	// CreateMemory allocates the lowest free id; the clone must carry
	// the source id instead.
	c.mu.Lock()
	if m.id != snap.id {
		c.memories.remove(m.id)
		c.runtimeData.Memories[m.id] = nil
		if !c.memories.insertAt(snap.id, m) {
			c.mu.Unlock()
			unregisterObject(m)
			releaseAddressSpace(m.base)
			return nil, errors.ResourceIDExhausted("memory")
		}
		m.id = snap.id
		c.runtimeData.Memories[snap.id] = &m.data
	}
	c.mu.Unlock()

	if uint64(len(snap.contents)) > uint64(len(m.Bytes())) {
		delta := (uint64(len(snap.contents)) - uint64(len(m.Bytes()))) / ir.NumBytesPerPage
		if m.Grow(delta) < 0 {
			return nil, errors.OutOfMemory(errors.PhaseCompartment, "growing cloned memory")
		}
	}
	copy(m.Bytes(), snap.contents)
	return m, nil
}

// ID returns the compartment-scoped memory id.
func (m *MemoryInstance) ID() uint32 { return m.id }

// Type returns the declared memory type.
func (m *MemoryInstance) Type() ir.MemoryType { return m.typ }

// DebugName returns the memory's debug name.
func (m *MemoryInstance) DebugName() string { return m.debugName }

// NumPages returns the current committed page count.
func (m *MemoryInstance) NumPages() uint64 { return m.data.NumPages() }

// Bytes returns the committed span. The slice is valid until the next
// growth is published; concurrent guest writes are visible through it.
func (m *MemoryInstance) Bytes() []byte { return m.data.Bytes() }

// Data returns the memory's runtime-data view.
func (m *MemoryInstance) Data() *engine.MemoryData { return &m.data }

// Grow commits deltaPages additional zeroed pages and returns the
// previous page count, or -1 when the declared maximum or the
// reservation would be exceeded.
func (m *MemoryInstance) Grow(deltaPages uint64) int64 {
	m.resizingMu.Lock()
	defer m.resizingMu.Unlock()

	prev := m.data.NumPages()
	if deltaPages == 0 {
		return int64(prev)
	}

	max := m.typ.Size.Max
	if max == ir.UnboundedSize || max > maxMemoryPages {
		max = maxMemoryPages
	}
	newPages := prev + deltaPages
	if newPages < prev || newPages > max {
		return -1
	}
	newBytes := newPages * ir.NumBytesPerPage
	if newBytes > m.numReservedBytes {
		Logger().Debug("memory growth exceeds reservation",
			zap.String("name", m.debugName),
			zap.Uint64("requestedPages", newPages),
			zap.Uint64("reservedBytes", m.numReservedBytes))
		return -1
	}

	if err := commitPages(m.base[prev*ir.NumBytesPerPage : newBytes]); err != nil {
		Logger().Warn("memory commit failed",
			zap.String("name", m.debugName), zap.Error(err))
		return -1
	}
	m.data.Publish(m.base[:newBytes], newPages)
	return int64(prev)
}

// ReadBytes copies n bytes starting at address, failing with
// out-of-bounds-memory-access past the committed span.
func (m *MemoryInstance) ReadBytes(address, n uint64) ([]byte, error) {
	bytes := m.Bytes()
	if address+n > uint64(len(bytes)) || address+n < address {
		return nil, errors.OutOfBoundsMemory(m, address)
	}
	out := make([]byte, n)
	copy(out, bytes[address:])
	return out, nil
}

// WriteBytes copies data into memory at address, failing with
// out-of-bounds-memory-access past the committed span.
func (m *MemoryInstance) WriteBytes(address uint64, data []byte) error {
	bytes := m.Bytes()
	end := address + uint64(len(data))
	if end > uint64(len(bytes)) || end < address {
		return errors.OutOfBoundsMemory(m, address)
	}
	copy(bytes[address:], data)
	return nil
}

func (m *MemoryInstance) trace(visit func(Object)) {
	visit(m.compartment)
}

// finalize clears the compartment's weak references to this memory.
func (m *MemoryInstance) finalize() {
	m.compartment.mu.Lock()
	m.compartment.memories.remove(m.id)
	m.compartment.runtimeData.Memories[m.id] = nil
	m.compartment.mu.Unlock()
}

// destroy returns the address-space reservation.
func (m *MemoryInstance) destroy() {
	releaseAddressSpace(m.base)
	m.base = nil
}
