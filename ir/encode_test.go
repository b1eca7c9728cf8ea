package ir

import (
	"bytes"
	"testing"
)

func testModule() *Module {
	m := NewModule()
	m.Types = []FunctionType{{Results: []ValueType{ValueTypeI32}}}
	m.Memories.Defs = []MemoryDef{{Type: MemoryType{Size: SizeConstraints{Min: 1, Max: 1}}}}
	m.Functions.Defs = []FunctionDef{{
		TypeIndex: 0,
		Code:      []Instr{{Op: OpI32Const, I64: 42}},
	}}
	m.Exports = []Export{{Name: "main", Kind: ExternFunction, Index: 0}}
	return m
}

func TestEncodeModuleHeader(t *testing.T) {
	encoded, err := EncodeModule(testModule())
	if err != nil {
		t.Fatalf("EncodeModule failed: %v", err)
	}
	wantHeader := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	if !bytes.HasPrefix(encoded, wantHeader) {
		t.Fatalf("missing wasm header, got % x", encoded[:8])
	}
}

func TestEncodeModuleDeterministic(t *testing.T) {
	a, err := EncodeModule(testModule())
	if err != nil {
		t.Fatalf("EncodeModule failed: %v", err)
	}
	b, err := EncodeModule(testModule())
	if err != nil {
		t.Fatalf("EncodeModule failed: %v", err)
	}
	if !bytes.Equal(a, b) {
		t.Error("equal IR should encode to identical bytes")
	}
}

func TestEncodeModuleRejectsExceptionTypes(t *testing.T) {
	m := testModule()
	m.ExceptionTypes.Defs = []ExceptionTypeDef{{Type: ExceptionType{Params: []ValueType{ValueTypeI32}}}}
	if _, err := EncodeModule(m); err == nil {
		t.Fatal("expected an error for exception types")
	}
}

func TestEncodeModuleEmptySectionsOmitted(t *testing.T) {
	m := NewModule()
	encoded, err := EncodeModule(m)
	if err != nil {
		t.Fatalf("EncodeModule failed: %v", err)
	}
	if len(encoded) != 8 {
		t.Errorf("empty module should be header only, got %d bytes", len(encoded))
	}
}

func TestLEB128KnownEncodings(t *testing.T) {
	// Spot-check the signed and unsigned encoders against known wasm encodings.
	if got := appendSleb(nil, -1); !bytes.Equal(got, []byte{0x7f}) {
		t.Errorf("sleb(-1) = % x", got)
	}
	if got := appendSleb(nil, 42); !bytes.Equal(got, []byte{42}) {
		t.Errorf("sleb(42) = % x", got)
	}
	if got := appendSleb(nil, -123456); !bytes.Equal(got, []byte{0xc0, 0xbb, 0x78}) {
		t.Errorf("sleb(-123456) = % x", got)
	}
	if got := appendUleb(nil, 624485); !bytes.Equal(got, []byte{0xe5, 0x8e, 0x26}) {
		t.Errorf("uleb(624485) = % x", got)
	}
}
