package ir

import "math"

// UntaggedValue is the raw bit pattern of a runtime value, without its
// type tag. Mutable-global slots and the engine's operand stack store
// untagged values; BitsHi is used only by v128.
type UntaggedValue struct {
	Bits   uint64
	BitsHi uint64
}

// Value is a typed runtime value. Ref carries the referent for
// reference-typed values; a nil Ref is a null reference.
type Value struct {
	Type ValueType
	UntaggedValue
	Ref any
}

func I32Value(v int32) Value {
	return Value{Type: ValueTypeI32, UntaggedValue: UntaggedValue{Bits: uint64(uint32(v))}}
}

func I64Value(v int64) Value {
	return Value{Type: ValueTypeI64, UntaggedValue: UntaggedValue{Bits: uint64(v)}}
}

func F32Value(v float32) Value {
	return Value{Type: ValueTypeF32, UntaggedValue: UntaggedValue{Bits: uint64(math.Float32bits(v))}}
}

func F64Value(v float64) Value {
	return Value{Type: ValueTypeF64, UntaggedValue: UntaggedValue{Bits: math.Float64bits(v)}}
}

func V128Value(low, high uint64) Value {
	return Value{Type: ValueTypeV128, UntaggedValue: UntaggedValue{Bits: low, BitsHi: high}}
}

// NullRefValue is a null reference of the given reference type.
func NullRefValue(t ValueType) Value {
	return Value{Type: t}
}

func (v Value) AsI32() int32   { return int32(uint32(v.Bits)) }
func (v Value) AsI64() int64   { return int64(v.Bits) }
func (v Value) AsF32() float32 { return math.Float32frombits(uint32(v.Bits)) }
func (v Value) AsF64() float64 { return math.Float64frombits(v.Bits) }
