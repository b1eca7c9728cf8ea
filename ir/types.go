package ir

import (
	"slices"
	"strings"
)

// ValueType classifies the individual values WebAssembly code computes
// with. The byte values match the binary format encoding.
type ValueType byte

const (
	ValueTypeI32     ValueType = 0x7f
	ValueTypeI64     ValueType = 0x7e
	ValueTypeF32     ValueType = 0x7d
	ValueTypeF64     ValueType = 0x7c
	ValueTypeV128    ValueType = 0x7b
	ValueTypeFuncRef ValueType = 0x70
	ValueTypeAnyRef  ValueType = 0x6f
)

func (v ValueType) String() string {
	switch v {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	case ValueTypeV128:
		return "v128"
	case ValueTypeFuncRef:
		return "funcref"
	case ValueTypeAnyRef:
		return "anyref"
	default:
		return "<invalid value type>"
	}
}

// IsReference reports whether the type is a reference type.
func (v ValueType) IsReference() bool {
	return v == ValueTypeFuncRef || v == ValueTypeAnyRef
}

// FunctionType is the signature of a function: parameters to results.
type FunctionType struct {
	Params  []ValueType
	Results []ValueType
}

// Equal reports exact signature equality. Function import matching and
// call_indirect both use exact equality; there is no function subtyping.
func (ft FunctionType) Equal(other FunctionType) bool {
	return slices.Equal(ft.Params, other.Params) && slices.Equal(ft.Results, other.Results)
}

func (ft FunctionType) String() string {
	var b strings.Builder
	b.WriteByte('(')
	for i, p := range ft.Params {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(p.String())
	}
	b.WriteString(")->(")
	for i, r := range ft.Results {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(r.String())
	}
	b.WriteByte(')')
	return b.String()
}

// Key returns a canonical string usable as a map key for signature
// dedup (thunk caches).
func (ft FunctionType) Key() string { return ft.String() }

// SizeConstraints bound the size of a table or memory. Max is
// UnboundedSize when no maximum was declared.
type SizeConstraints struct {
	Min uint64
	Max uint64
}

// UnboundedSize marks an absent maximum in SizeConstraints.
const UnboundedSize = ^uint64(0)

// IsSubset reports whether sub fits within super: sub reserves at least
// as many initial elements and does not permit growth past super's
// bound. Used for import matching.
func (super SizeConstraints) IsSubset(sub SizeConstraints) bool {
	return sub.Min >= super.Min && sub.Max <= super.Max
}

// TableType declares a table's element type and bounds.
type TableType struct {
	ElementType ValueType
	IsShared    bool
	Size        SizeConstraints
}

// IsSubtype reports whether an instance of type sub satisfies an import
// declared as super.
func (super TableType) IsSubtype(sub TableType) bool {
	return super.ElementType == sub.ElementType &&
		super.IsShared == sub.IsShared &&
		super.Size.IsSubset(sub.Size)
}

// MemoryType declares a memory's page bounds.
type MemoryType struct {
	IsShared bool
	Size     SizeConstraints
}

// IsSubtype reports whether an instance of type sub satisfies an import
// declared as super.
func (super MemoryType) IsSubtype(sub MemoryType) bool {
	return super.IsShared == sub.IsShared && super.Size.IsSubset(sub.Size)
}

// GlobalType declares a global's value type and mutability.
type GlobalType struct {
	ValueType ValueType
	IsMutable bool
}

// IsSubtype reports whether an instance of type sub satisfies an import
// declared as super. Global import matching is exact.
func (super GlobalType) IsSubtype(sub GlobalType) bool {
	return super == sub
}

// ExceptionType is the signature of an exception: the value types of
// its arguments.
type ExceptionType struct {
	Params []ValueType
}

// Equal reports exact signature equality.
func (et ExceptionType) Equal(other ExceptionType) bool {
	return slices.Equal(et.Params, other.Params)
}

// CallingConvention tags how a function's native entry expects to be
// called. It determines whether a thunk is required when the function
// is called from guest code.
type CallingConvention byte

const (
	CallingConventionWasm CallingConvention = iota
	CallingConventionIntrinsic
	CallingConventionC
)

func (cc CallingConvention) String() string {
	switch cc {
	case CallingConventionWasm:
		return "wasm"
	case CallingConventionIntrinsic:
		return "intrinsic"
	case CallingConventionC:
		return "c"
	default:
		return "<invalid calling convention>"
	}
}
