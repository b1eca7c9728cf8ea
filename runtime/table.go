package runtime

import (
	"sync"

	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// TableInstance is one table of function references. Element slots are
// published with release ordering and read with acquire ordering; an
// uninitialized or cleared slot reads as the out-of-bounds sentinel, so
// loaded code faults through a sentinel call instead of bounds-checking
// the happy path.
type TableInstance struct {
	gcHeader
	compartment *Compartment
	id          uint32
	typ         ir.TableType

	resizingMu sync.Mutex

	data      engine.TableData
	debugName string
}

// CreateTable allocates the table's reserved element array,
// sentinel-initializes the initial elements, and assigns a
// compartment-scoped id.
func CreateTable(c *Compartment, typ ir.TableType, debugName string) (*TableInstance, error) {
	reserved := typ.Size.Max
	if reserved == ir.UnboundedSize || reserved > defaultReservedTableElements {
		reserved = defaultReservedTableElements
	}
	if reserved < typ.Size.Min {
		reserved = typ.Size.Min
	}

	t := &TableInstance{
		compartment: c,
		id:          engine.InvalidID,
		typ:         typ,
		debugName:   debugName,
	}
	t.data.Owner = t
	t.data.Grow = func(delta uint64) int64 { return t.Grow(delta) }
	t.data.InitElements(reserved)
	registerObject(t, KindTable)
	t.data.SetNumElements(typ.Size.Min)

	c.mu.Lock()
	id, ok := c.tables.alloc(t)
	if ok {
		t.id = id
		c.runtimeData.Tables[id] = &t.data
	}
	c.mu.Unlock()
	if !ok {
		unregisterObject(t)
		return nil, errors.ResourceIDExhausted("table")
	}

	Logger().Debug("created table",
		zap.String("name", debugName),
		zap.Uint32("id", id),
		zap.Uint64("minElements", typ.Size.Min),
		zap.Uint64("reservedElements", reserved))
	return t, nil
}

// cloneTable recreates a snapshotted table in a new compartment under
// its original id.
func cloneTable(c *Compartment, snap tableSnapshot) (*TableInstance, error) {
	t, err := CreateTable(c, snap.typ, snap.debugName)
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	if t.id != snap.id {
		c.tables.remove(t.id)
		c.runtimeData.Tables[t.id] = nil
		if !c.tables.insertAt(snap.id, t) {
			c.mu.Unlock()
			unregisterObject(t)
			return nil, errors.ResourceIDExhausted("table")
		}
		t.id = snap.id
		c.runtimeData.Tables[snap.id] = &t.data
	}
	c.mu.Unlock()

	if uint64(len(snap.elements)) > t.NumElements() {
		if t.Grow(uint64(len(snap.elements))-t.NumElements()) < 0 {
			return nil, errors.OutOfMemory(errors.PhaseCompartment, "growing cloned table")
		}
	}
	for i, fn := range snap.elements {
		if fn != nil {
			if err := SetTableElement(t, uint64(i), fn); err != nil {
				return nil, err
			}
		}
	}
	return t, nil
}

// ID returns the compartment-scoped table id.
func (t *TableInstance) ID() uint32 { return t.id }

// Type returns the declared table type.
func (t *TableInstance) Type() ir.TableType { return t.typ }

// DebugName returns the table's debug name.
func (t *TableInstance) DebugName() string { return t.debugName }

// NumElements returns the current element count.
func (t *TableInstance) NumElements() uint64 { return t.data.NumElements() }

// Data returns the table's runtime-data view.
func (t *TableInstance) Data() *engine.TableData { return &t.data }

// Grow extends the table by delta sentinel-initialized elements and
// returns the previous element count, or -1 when the declared maximum
// or the reservation would be exceeded.
func (t *TableInstance) Grow(delta uint64) int64 {
	t.resizingMu.Lock()
	defer t.resizingMu.Unlock()

	prev := t.data.NumElements()
	if delta == 0 {
		return int64(prev)
	}
	newElements := prev + delta
	if newElements < prev || newElements > t.typ.Size.Max {
		return -1
	}
	if newElements > t.data.NumReservedElements() {
		Logger().Debug("table growth exceeds reservation",
			zap.String("name", t.debugName),
			zap.Uint64("requestedElements", newElements))
		return -1
	}
	t.data.SetNumElements(newElements)
	return int64(prev)
}

// GetTableElement returns the function stored at index, or nil for an
// uninitialized slot. Out-of-range indices fail with
// out-of-bounds-table-access.
func GetTableElement(t *TableInstance, index uint64) (*FunctionInstance, error) {
	if index >= t.data.NumElements() {
		return nil, errors.OutOfBoundsTable(t, index)
	}
	f := t.data.Load(index)
	if f == engine.OutOfBoundsSentinel {
		return nil, nil
	}
	fn, _ := f.Object.(*FunctionInstance)
	return fn, nil
}

// SetTableElement stores a function reference at index with release
// ordering; nil clears the slot back to the sentinel pattern.
// Out-of-range indices fail with out-of-bounds-table-access.
func SetTableElement(t *TableInstance, index uint64, fn *FunctionInstance) error {
	var record *engine.Function
	if fn != nil {
		record = fn.anyFunc()
	}
	if !t.data.Store(index, record) {
		return errors.OutOfBoundsTable(t, index)
	}
	return nil
}

// snapshotElements copies the current element window as function
// instances. Caller holds the resizing mutex.
func (t *TableInstance) snapshotElements() []*FunctionInstance {
	n := t.data.NumElements()
	elements := make([]*FunctionInstance, n)
	for i := uint64(0); i < n; i++ {
		f := t.data.Load(i)
		if f == engine.OutOfBoundsSentinel {
			continue
		}
		elements[i], _ = f.Object.(*FunctionInstance)
	}
	return elements
}

// trace visits the compartment and, under the resizing mutex, every
// current element.
func (t *TableInstance) trace(visit func(Object)) {
	visit(t.compartment)

	t.resizingMu.Lock()
	defer t.resizingMu.Unlock()
	n := t.data.NumElements()
	for i := uint64(0); i < n; i++ {
		f := t.data.Load(i)
		if f == engine.OutOfBoundsSentinel {
			continue
		}
		if fn, ok := f.Object.(*FunctionInstance); ok {
			visit(fn)
		}
	}
}

// finalize clears the compartment's weak references to this table.
func (t *TableInstance) finalize() {
	t.compartment.mu.Lock()
	t.compartment.tables.remove(t.id)
	t.compartment.runtimeData.Tables[t.id] = nil
	t.compartment.mu.Unlock()
}
