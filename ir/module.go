package ir

import "strconv"

// InvalidIndex marks an absent index, e.g. a module with no start
// function.
const InvalidIndex = ^uint32(0)

// NumBytesPerPage is the WebAssembly page size.
const NumBytesPerPage = 65536

// InitializerOp discriminates the forms an initializer expression may
// take. Anything else in a global or segment offset initializer is a
// link error.
type InitializerOp byte

const (
	InitI32Const InitializerOp = iota
	InitI64Const
	InitF32Const
	InitF64Const
	InitV128Const
	InitGetGlobal
	InitRefNull
)

// InitializerExpression is a constant expression evaluated at
// instantiation time: a constant of each value type, a reference to a
// previously-declared imported immutable global, or a null reference.
type InitializerExpression struct {
	Op          InitializerOp
	Value       UntaggedValue
	GlobalIndex uint32
}

// IndexSpace is an ordered import/definition space: imports first, then
// definitions, both in declaration order. Index i refers to the import
// when i < len(Imports) and to Defs[i-len(Imports)] otherwise.
type IndexSpace[I any, D any] struct {
	Imports []I
	Defs    []D
}

// Size returns the total number of entries in the space.
func (s IndexSpace[I, D]) Size() int { return len(s.Imports) + len(s.Defs) }

// ImportRef names an import's source for diagnostics; binding is done by
// the caller of the instantiator, not by name.
type ImportRef struct {
	Module string
	Field  string
}

type FunctionImport struct {
	Ref       ImportRef
	TypeIndex uint32
}

type FunctionDef struct {
	TypeIndex uint32
	Locals    []ValueType
	Code      []Instr
}

type TableImport struct {
	Ref  ImportRef
	Type TableType
}

type TableDef struct {
	Type TableType
}

type MemoryImport struct {
	Ref  ImportRef
	Type MemoryType
}

type MemoryDef struct {
	Type MemoryType
}

type GlobalImport struct {
	Ref  ImportRef
	Type GlobalType
}

type GlobalDef struct {
	Type        GlobalType
	Initializer InitializerExpression
}

type ExceptionTypeImport struct {
	Ref  ImportRef
	Type ExceptionType
}

type ExceptionTypeDef struct {
	Type ExceptionType
}

// ExternKind identifies what an export refers to.
type ExternKind byte

const (
	ExternFunction ExternKind = iota
	ExternTable
	ExternMemory
	ExternGlobal
	ExternExceptionType
)

func (k ExternKind) String() string {
	switch k {
	case ExternFunction:
		return "function"
	case ExternTable:
		return "table"
	case ExternMemory:
		return "memory"
	case ExternGlobal:
		return "global"
	case ExternExceptionType:
		return "exception type"
	default:
		return "<invalid extern kind>"
	}
}

// Export publishes an object from a module under a unique name.
type Export struct {
	Name  string
	Kind  ExternKind
	Index uint32
}

// DataSegment initializes a span of linear memory. Active segments are
// copied at instantiation; passive segments are retained for later bulk
// operations.
type DataSegment struct {
	IsActive    bool
	MemoryIndex uint32
	BaseOffset  InitializerExpression
	Data        []byte
}

// ElemSegment initializes a span of a table with function references.
type ElemSegment struct {
	IsActive   bool
	TableIndex uint32
	BaseOffset InitializerExpression
	Indices    []uint32
}

// Names carries the module's name-section debug names, indexed over the
// full import+definition index space. Slices may be short or empty.
type Names struct {
	Module    string
	Functions []string
	Tables    []string
	Memories  []string
	Globals   []string
}

// Module is the IR of one WebAssembly module, as produced by the
// external decoder/validator.
type Module struct {
	Types          []FunctionType
	Functions      IndexSpace[FunctionImport, FunctionDef]
	Tables         IndexSpace[TableImport, TableDef]
	Memories       IndexSpace[MemoryImport, MemoryDef]
	Globals        IndexSpace[GlobalImport, GlobalDef]
	ExceptionTypes IndexSpace[ExceptionTypeImport, ExceptionTypeDef]

	Exports      []Export
	DataSegments []DataSegment
	ElemSegments []ElemSegment

	// StartFunctionIndex is InvalidIndex when the module declares no
	// start function.
	StartFunctionIndex uint32

	Names Names
}

// NewModule returns an empty module with no start function.
func NewModule() *Module {
	return &Module{StartFunctionIndex: InvalidIndex}
}

// FunctionName returns the debug name for the function at the given
// index in the import+definition space, or the synthesized fallback.
func (m *Module) FunctionName(index uint32) string {
	return entityName(m.Names.Functions, index, "function")
}

// TableName returns the debug name for the table at the given index.
func (m *Module) TableName(index uint32) string {
	return entityName(m.Names.Tables, index, "table")
}

// MemoryName returns the debug name for the memory at the given index.
func (m *Module) MemoryName(index uint32) string {
	return entityName(m.Names.Memories, index, "memory")
}

func entityName(names []string, index uint32, kind string) string {
	if index < uint32(len(names)) && names[index] != "" {
		return names[index]
	}
	return "<" + kind + " #" + strconv.FormatUint(uint64(index), 10) + ">"
}
