package engine

import (
	"sync/atomic"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Entry is the uniform native calling convention: untagged 64-bit
// argument and result words, with the calling context's runtime data as
// the hidden first argument.
type Entry func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error)

// Function is the any-function record a table element or function
// binding refers to. Object points back at the owning runtime function
// instance; it is nil only for the out-of-bounds sentinel.
type Function struct {
	Entry  Entry
	Type   ir.FunctionType
	Object any
}

// OutOfBoundsSentinel is the process-wide record stored in
// uninitialized table slots. Calling it faults with
// out-of-bounds-table-access, which lets loaded code skip bounds checks
// on the happy path.
var OutOfBoundsSentinel = &Function{
	Entry: func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
		return nil, errors.OutOfBoundsTable(nil, 0)
	},
}

// TableReferenceBias is the constant subtracted from reference bits
// before a table slot is written, chosen so the stored pattern 0
// denotes the out-of-bounds sentinel. This implementation stores
// references directly and maps the nil pattern to the sentinel, so the
// bias is zero; it remains part of the loader ABI.
func TableReferenceBias() uint64 { return 0 }

// MemoryData is the runtime-data view of one linear memory, indexed by
// memory id from compiled code. The owning MemoryInstance publishes the
// committed span and page count after creation and growth; Grow is
// installed by the owner and runs under its resizing mutex.
type MemoryData struct {
	bytes    atomic.Pointer[[]byte]
	numPages atomic.Uint64

	Grow func(deltaPages uint64) int64

	// Owner is the runtime MemoryInstance, carried in trap arguments.
	Owner any
}

// Publish atomically installs the committed byte span and page count.
func (m *MemoryData) Publish(b []byte, pages uint64) {
	m.bytes.Store(&b)
	m.numPages.Store(pages)
}

// Bytes returns the currently committed span.
func (m *MemoryData) Bytes() []byte {
	p := m.bytes.Load()
	if p == nil {
		return nil
	}
	return *p
}

// NumPages returns the current page count.
func (m *MemoryData) NumPages() uint64 { return m.numPages.Load() }

// TableData is the runtime-data view of one table. Element slots are
// written with release ordering and read with acquire ordering; a slot
// whose stored pattern is nil reads as the out-of-bounds sentinel.
type TableData struct {
	elements    []atomic.Pointer[Function]
	numElements atomic.Uint64

	Grow func(deltaElements uint64) int64

	// Owner is the runtime TableInstance, carried in trap arguments.
	Owner any
}

// InitElements allocates the reserved element array. Called once by the
// owning TableInstance before the table is published.
func (t *TableData) InitElements(reserved uint64) {
	t.elements = make([]atomic.Pointer[Function], reserved)
}

// NumReservedElements returns the fixed reservation.
func (t *TableData) NumReservedElements() uint64 { return uint64(len(t.elements)) }

// NumElements returns the current element count.
func (t *TableData) NumElements() uint64 { return t.numElements.Load() }

// SetNumElements publishes a new element count after growth.
func (t *TableData) SetNumElements(n uint64) { t.numElements.Store(n) }

// Load reads the element at index with acquire ordering. Out-of-range
// indices and uninitialized slots yield the sentinel.
func (t *TableData) Load(index uint64) *Function {
	if index >= t.numElements.Load() {
		return OutOfBoundsSentinel
	}
	if f := t.elements[index].Load(); f != nil {
		return f
	}
	return OutOfBoundsSentinel
}

// Store writes the element at index with release ordering. A nil
// function clears the slot back to the sentinel pattern. Reports
// whether index was in range.
func (t *TableData) Store(index uint64, f *Function) bool {
	if index >= t.numElements.Load() {
		return false
	}
	t.elements[index].Store(f)
	return true
}

// CompartmentRuntimeData is the per-compartment block compiled code
// indexes by resource id.
type CompartmentRuntimeData struct {
	Memories []*MemoryData
	Tables   []*TableData
}

// ContextRuntimeData is the per-context block: the compartment data
// plus this context's copy of the mutable-globals area.
type ContextRuntimeData struct {
	Compartment    *CompartmentRuntimeData
	MutableGlobals []ir.UntaggedValue

	callDepth int
}
