package engine

import "github.com/wippyai/wasm-core/ir"

// InvalidID marks an absent resource id in a binding.
const InvalidID = ^uint32(0)

// FunctionBinding supplies the callable record for a function import or
// intrinsic.
type FunctionBinding struct {
	Code *Function
}

// TableBinding carries the compartment-scoped id a table index resolves
// to.
type TableBinding struct {
	ID uint32
}

// MemoryBinding carries the compartment-scoped id a memory index
// resolves to.
type MemoryBinding struct {
	ID uint32
}

// GlobalBinding resolves a global index: immutable globals bind a
// pointer to the stored initial value, mutable globals bind the slot
// index into the context's mutable-globals area.
type GlobalBinding struct {
	Type               ir.GlobalType
	MutableGlobalIndex uint32
	ImmutableValue     *ir.UntaggedValue
}

// ExceptionTypeBinding resolves an exception-type index to the runtime
// exception-type object.
type ExceptionTypeBinding struct {
	Type   ir.ExceptionType
	Object any
}

// Bindings is everything the loader needs to bind a compiled module's
// external references: the instantiator builds one per instantiation
// (step 8 of the pipeline).
type Bindings struct {
	// Intrinsics maps symbolic intrinsic names to their entries.
	Intrinsics map[string]FunctionBinding

	Types           []ir.FunctionType
	FunctionImports []FunctionBinding
	Tables          []TableBinding
	Memories        []MemoryBinding
	Globals         []GlobalBinding
	ExceptionTypes  []ExceptionTypeBinding

	DefaultMemoryID uint32
	DefaultTableID  uint32

	// ModuleInstance points back at the owning instance for
	// diagnostics and address-map resolution.
	ModuleInstance any

	TableReferenceBias uint64
}
