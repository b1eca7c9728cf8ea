package ir

import (
	"math"

	"github.com/wippyai/wasm-core/errors"
)

// EncodeModule emits the module as a standard WebAssembly binary so it
// can be exchanged with other runtimes. Exception types have no core
// binary representation and are rejected, as are v128-constant and
// null-reference initializer expressions; the rest of the IR subset is
// encoded, including passive segments.
func EncodeModule(m *Module) ([]byte, error) {
	if m.ExceptionTypes.Size() > 0 {
		return nil, errors.InvalidModule("exception types have no core wasm encoding")
	}

	e := &encoder{module: m}
	buf := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	var err error
	if buf, err = e.section(buf, 1, e.typeSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 2, e.importSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 3, e.functionSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 4, e.tableSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 5, e.memorySection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 6, e.globalSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 7, e.exportSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 8, e.startSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 9, e.elemSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 10, e.codeSection); err != nil {
		return nil, err
	}
	if buf, err = e.section(buf, 11, e.dataSection); err != nil {
		return nil, err
	}
	return buf, nil
}

type encoder struct {
	module *Module
}

// section runs body and, if it produced any payload, appends the section
// id and length-prefixed payload.
func (e *encoder) section(buf []byte, id byte, body func() ([]byte, error)) ([]byte, error) {
	payload, err := body()
	if err != nil {
		return nil, err
	}
	if payload == nil {
		return buf, nil
	}
	buf = append(buf, id)
	buf = appendUleb(buf, uint64(len(payload)))
	return append(buf, payload...), nil
}

func (e *encoder) typeSection() ([]byte, error) {
	if len(e.module.Types) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(e.module.Types)))
	for _, ft := range e.module.Types {
		buf = append(buf, 0x60)
		buf = appendUleb(buf, uint64(len(ft.Params)))
		for _, p := range ft.Params {
			buf = append(buf, byte(p))
		}
		buf = appendUleb(buf, uint64(len(ft.Results)))
		for _, r := range ft.Results {
			buf = append(buf, byte(r))
		}
	}
	return buf, nil
}

func (e *encoder) importSection() ([]byte, error) {
	m := e.module
	count := len(m.Functions.Imports) + len(m.Tables.Imports) +
		len(m.Memories.Imports) + len(m.Globals.Imports)
	if count == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(count))
	for _, imp := range m.Functions.Imports {
		buf = appendName(buf, imp.Ref.Module)
		buf = appendName(buf, imp.Ref.Field)
		buf = append(buf, 0x00)
		buf = appendUleb(buf, uint64(imp.TypeIndex))
	}
	for _, imp := range m.Tables.Imports {
		buf = appendName(buf, imp.Ref.Module)
		buf = appendName(buf, imp.Ref.Field)
		buf = append(buf, 0x01)
		buf = e.appendTableType(buf, imp.Type)
	}
	for _, imp := range m.Memories.Imports {
		buf = appendName(buf, imp.Ref.Module)
		buf = appendName(buf, imp.Ref.Field)
		buf = append(buf, 0x02)
		buf = e.appendLimits(buf, imp.Type.Size, imp.Type.IsShared)
	}
	for _, imp := range m.Globals.Imports {
		buf = appendName(buf, imp.Ref.Module)
		buf = appendName(buf, imp.Ref.Field)
		buf = append(buf, 0x03, byte(imp.Type.ValueType))
		if imp.Type.IsMutable {
			buf = append(buf, 0x01)
		} else {
			buf = append(buf, 0x00)
		}
	}
	return buf, nil
}

func (e *encoder) functionSection() ([]byte, error) {
	defs := e.module.Functions.Defs
	if len(defs) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(defs)))
	for _, def := range defs {
		buf = appendUleb(buf, uint64(def.TypeIndex))
	}
	return buf, nil
}

func (e *encoder) appendLimits(buf []byte, size SizeConstraints, shared bool) []byte {
	flags := byte(0)
	if size.Max != UnboundedSize {
		flags |= 0x01
	}
	if shared {
		flags |= 0x02
	}
	buf = append(buf, flags)
	buf = appendUleb(buf, size.Min)
	if size.Max != UnboundedSize {
		buf = appendUleb(buf, size.Max)
	}
	return buf
}

func (e *encoder) appendTableType(buf []byte, t TableType) []byte {
	buf = append(buf, byte(t.ElementType))
	return e.appendLimits(buf, t.Size, t.IsShared)
}

func (e *encoder) tableSection() ([]byte, error) {
	defs := e.module.Tables.Defs
	if len(defs) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(defs)))
	for _, def := range defs {
		buf = e.appendTableType(buf, def.Type)
	}
	return buf, nil
}

func (e *encoder) memorySection() ([]byte, error) {
	defs := e.module.Memories.Defs
	if len(defs) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(defs)))
	for _, def := range defs {
		buf = e.appendLimits(buf, def.Type.Size, def.Type.IsShared)
	}
	return buf, nil
}

func (e *encoder) appendInitializer(buf []byte, init InitializerExpression) ([]byte, error) {
	switch init.Op {
	case InitI32Const:
		buf = append(buf, 0x41)
		buf = appendSleb(buf, int64(int32(uint32(init.Value.Bits))))
	case InitI64Const:
		buf = append(buf, 0x42)
		buf = appendSleb(buf, int64(init.Value.Bits))
	case InitF32Const:
		buf = append(buf, 0x43)
		buf = appendU32(buf, uint32(init.Value.Bits))
	case InitF64Const:
		buf = append(buf, 0x44)
		buf = appendU64(buf, init.Value.Bits)
	case InitGetGlobal:
		buf = append(buf, 0x23)
		buf = appendUleb(buf, uint64(init.GlobalIndex))
	default:
		return nil, errors.InvalidModule("initializer op %d has no core wasm encoding", init.Op)
	}
	return append(buf, 0x0b), nil
}

func (e *encoder) globalSection() ([]byte, error) {
	defs := e.module.Globals.Defs
	if len(defs) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(defs)))
	var err error
	for _, def := range defs {
		buf = append(buf, byte(def.Type.ValueType))
		if def.Type.IsMutable {
			buf = append(buf, 0x01)
		} else {
			buf = append(buf, 0x00)
		}
		if buf, err = e.appendInitializer(buf, def.Initializer); err != nil {
			return nil, err
		}
	}
	return buf, nil
}

func (e *encoder) exportSection() ([]byte, error) {
	exports := e.module.Exports
	if len(exports) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(exports)))
	for _, exp := range exports {
		buf = appendName(buf, exp.Name)
		switch exp.Kind {
		case ExternFunction:
			buf = append(buf, 0x00)
		case ExternTable:
			buf = append(buf, 0x01)
		case ExternMemory:
			buf = append(buf, 0x02)
		case ExternGlobal:
			buf = append(buf, 0x03)
		default:
			return nil, errors.InvalidModule("export kind %s has no core wasm encoding", exp.Kind)
		}
		buf = appendUleb(buf, uint64(exp.Index))
	}
	return buf, nil
}

func (e *encoder) startSection() ([]byte, error) {
	if e.module.StartFunctionIndex == InvalidIndex {
		return nil, nil
	}
	return appendUleb(nil, uint64(e.module.StartFunctionIndex)), nil
}

func (e *encoder) elemSection() ([]byte, error) {
	segments := e.module.ElemSegments
	if len(segments) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(segments)))
	var err error
	for _, seg := range segments {
		if seg.IsActive {
			buf = appendUleb(buf, uint64(seg.TableIndex))
			if buf, err = e.appendInitializer(buf, seg.BaseOffset); err != nil {
				return nil, err
			}
		} else {
			buf = append(buf, 0x01, 0x00)
		}
		buf = appendUleb(buf, uint64(len(seg.Indices)))
		for _, idx := range seg.Indices {
			buf = appendUleb(buf, uint64(idx))
		}
	}
	return buf, nil
}

func (e *encoder) dataSection() ([]byte, error) {
	segments := e.module.DataSegments
	if len(segments) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(segments)))
	var err error
	for _, seg := range segments {
		if seg.IsActive {
			buf = appendUleb(buf, uint64(seg.MemoryIndex))
			if buf, err = e.appendInitializer(buf, seg.BaseOffset); err != nil {
				return nil, err
			}
		} else {
			buf = append(buf, 0x01)
		}
		buf = appendUleb(buf, uint64(len(seg.Data)))
		buf = append(buf, seg.Data...)
	}
	return buf, nil
}

func (e *encoder) codeSection() ([]byte, error) {
	defs := e.module.Functions.Defs
	if len(defs) == 0 {
		return nil, nil
	}
	buf := appendUleb(nil, uint64(len(defs)))
	for _, def := range defs {
		body, err := e.encodeBody(def)
		if err != nil {
			return nil, err
		}
		buf = appendUleb(buf, uint64(len(body)))
		buf = append(buf, body...)
	}
	return buf, nil
}

var wasmOpcodes = map[Op]byte{
	OpUnreachable: 0x00, OpNop: 0x01,
	OpBlock: 0x02, OpLoop: 0x03, OpIf: 0x04, OpElse: 0x05, OpEnd: 0x0b,
	OpBr: 0x0c, OpBrIf: 0x0d, OpReturn: 0x0f,
	OpCall: 0x10, OpCallIndirect: 0x11,
	OpDrop: 0x1a, OpSelect: 0x1b,
	OpLocalGet: 0x20, OpLocalSet: 0x21, OpLocalTee: 0x22,
	OpGlobalGet: 0x23, OpGlobalSet: 0x24,
	OpI32Load: 0x28, OpI64Load: 0x29, OpF32Load: 0x2a, OpF64Load: 0x2b,
	OpI32Load8U: 0x2d, OpI32Load16U: 0x2f,
	OpI32Store: 0x36, OpI64Store: 0x37, OpF32Store: 0x38, OpF64Store: 0x39,
	OpI32Store8: 0x3a, OpI32Store16: 0x3b,
	OpMemorySize: 0x3f, OpMemoryGrow: 0x40,
	OpI32Const: 0x41, OpI64Const: 0x42, OpF32Const: 0x43, OpF64Const: 0x44,
	OpI32Eqz: 0x45, OpI32Eq: 0x46, OpI32Ne: 0x47,
	OpI32LtS: 0x48, OpI32LtU: 0x49, OpI32GtS: 0x4a, OpI32GtU: 0x4b,
	OpI32LeS: 0x4c, OpI32LeU: 0x4d, OpI32GeS: 0x4e, OpI32GeU: 0x4f,
	OpI64Eqz: 0x50, OpI64Eq: 0x51, OpI64Ne: 0x52, OpI64LtS: 0x53, OpI64LtU: 0x54,
	OpI32Add: 0x6a, OpI32Sub: 0x6b, OpI32Mul: 0x6c,
	OpI32DivS: 0x6d, OpI32DivU: 0x6e, OpI32RemS: 0x6f, OpI32RemU: 0x70,
	OpI32And: 0x71, OpI32Or: 0x72, OpI32Xor: 0x73,
	OpI32Shl: 0x74, OpI32ShrS: 0x75, OpI32ShrU: 0x76,
	OpI64Add: 0x7c, OpI64Sub: 0x7d, OpI64Mul: 0x7e,
	OpI64And: 0x83, OpI64Or: 0x84, OpI64Xor: 0x85,
	OpF64Add: 0xa0, OpF64Sub: 0xa1, OpF64Mul: 0xa2, OpF64Div: 0xa3,
	OpI32WrapI64: 0xa7, OpI64ExtendI32S: 0xac, OpI64ExtendI32U: 0xad,
}

func (e *encoder) encodeBody(def FunctionDef) ([]byte, error) {
	// Locals are emitted as runs of equal types.
	var runs [][2]uint64
	for _, local := range def.Locals {
		if len(runs) > 0 && runs[len(runs)-1][1] == uint64(local) {
			runs[len(runs)-1][0]++
			continue
		}
		runs = append(runs, [2]uint64{1, uint64(local)})
	}
	buf := appendUleb(nil, uint64(len(runs)))
	for _, run := range runs {
		buf = appendUleb(buf, run[0])
		buf = append(buf, byte(run[1]))
	}

	for _, instr := range def.Code {
		opcode, ok := wasmOpcodes[instr.Op]
		if !ok {
			return nil, errors.InvalidModule("op %d has no core wasm encoding", instr.Op)
		}
		buf = append(buf, opcode)
		switch instr.Op {
		case OpBlock, OpLoop, OpIf:
			if instr.Block.HasResult {
				buf = append(buf, byte(instr.Block.Result))
			} else {
				buf = append(buf, 0x40)
			}
		case OpBr, OpBrIf, OpCall, OpLocalGet, OpLocalSet, OpLocalTee, OpGlobalGet, OpGlobalSet:
			buf = appendUleb(buf, uint64(instr.Index))
		case OpCallIndirect:
			buf = appendUleb(buf, uint64(instr.Index))
			buf = append(buf, 0x00)
		case OpI32Load, OpI64Load, OpF32Load, OpF64Load, OpI32Load8U, OpI32Load16U,
			OpI32Store, OpI64Store, OpF32Store, OpF64Store, OpI32Store8, OpI32Store16:
			buf = appendUleb(buf, uint64(instr.Align))
			buf = appendUleb(buf, uint64(instr.Offset))
		case OpMemorySize, OpMemoryGrow:
			buf = append(buf, 0x00)
		case OpI32Const:
			buf = appendSleb(buf, int64(int32(instr.I64)))
		case OpI64Const:
			buf = appendSleb(buf, instr.I64)
		case OpF32Const:
			buf = appendU32(buf, uint32(instr.I64))
		case OpF64Const:
			buf = appendU64(buf, uint64(instr.I64))
		}
	}
	return append(buf, byte(0x0b)), nil
}

// F32Bits and F64Bits build constant immediates for OpF32Const and
// OpF64Const, which carry bit patterns in Instr.I64.
func F32Bits(v float32) int64 { return int64(math.Float32bits(v)) }
func F64Bits(v float64) int64 { return int64(math.Float64bits(v)) }
