package engine

import (
	"encoding/binary"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Object-code format: a deterministic serialization of the validated,
// lowered IR. Layout:
//
//	magic "WCO1"
//	uvarint intrinsicCount, then length-prefixed intrinsic names
//	uvarint defCount, then per def:
//	  uvarint typeIndex
//	  uvarint localCount, then one value-type byte per local
//	  uvarint instrCount, then per instruction an op byte followed by
//	  the op-class immediates

var objectCodeMagic = []byte("WCO1")

type objectFunction struct {
	typeIndex uint32
	locals    []ir.ValueType
	code      []ir.Instr
}

type objectCode struct {
	intrinsics []string
	defs       []objectFunction
}

// compiler validates a module's defined functions against the engine's
// supported subset and serializes them.
type compiler struct {
	module     *ir.Module
	intrinsics []string
}

func (c *compiler) compile() ([]byte, error) {
	m := c.module
	for i, def := range m.Functions.Defs {
		if err := c.checkFunction(uint32(i), def); err != nil {
			return nil, err
		}
	}

	buf := append([]byte(nil), objectCodeMagic...)
	buf = binary.AppendUvarint(buf, uint64(len(c.intrinsics)))
	for _, name := range c.intrinsics {
		buf = binary.AppendUvarint(buf, uint64(len(name)))
		buf = append(buf, name...)
	}
	buf = binary.AppendUvarint(buf, uint64(len(m.Functions.Defs)))
	for _, def := range m.Functions.Defs {
		buf = binary.AppendUvarint(buf, uint64(def.TypeIndex))
		buf = binary.AppendUvarint(buf, uint64(len(def.Locals)))
		for _, local := range def.Locals {
			buf = append(buf, byte(local))
		}
		buf = binary.AppendUvarint(buf, uint64(len(def.Code)))
		for _, instr := range def.Code {
			buf = appendInstr(buf, instr)
		}
	}
	return buf, nil
}

// intrinsicRef interns an intrinsic name and returns its reference
// index. First-use order keeps the output deterministic.
func (c *compiler) intrinsicRef(name string) uint32 {
	for i, existing := range c.intrinsics {
		if existing == name {
			return uint32(i)
		}
	}
	c.intrinsics = append(c.intrinsics, name)
	return uint32(len(c.intrinsics) - 1)
}

func (c *compiler) checkFunction(defIndex uint32, def ir.FunctionDef) error {
	m := c.module
	if def.TypeIndex >= uint32(len(m.Types)) {
		return errors.InvalidModule("function def %d: type index %d out of range", defIndex, def.TypeIndex)
	}
	ft := m.Types[def.TypeIndex]
	if len(ft.Results) > 1 {
		return errors.InvalidModule("function def %d: multiple results are not supported", defIndex)
	}
	numLocals := len(ft.Params) + len(def.Locals)

	depth := 0
	for pc, instr := range def.Code {
		if !instr.Op.Valid() {
			return errors.InvalidModule("function def %d: invalid op %d at %d", defIndex, instr.Op, pc)
		}
		switch instr.Op {
		case ir.OpBlock, ir.OpLoop, ir.OpIf:
			depth++
		case ir.OpEnd:
			if depth == 0 {
				return errors.InvalidModule("function def %d: unbalanced end at %d", defIndex, pc)
			}
			depth--
		case ir.OpBr, ir.OpBrIf:
			if int(instr.Index) > depth {
				return errors.InvalidModule("function def %d: branch depth %d exceeds nesting at %d", defIndex, instr.Index, pc)
			}
		case ir.OpLocalGet, ir.OpLocalSet, ir.OpLocalTee:
			if int(instr.Index) >= numLocals {
				return errors.InvalidModule("function def %d: local index %d out of range", defIndex, instr.Index)
			}
		case ir.OpGlobalGet, ir.OpGlobalSet:
			if int(instr.Index) >= m.Globals.Size() {
				return errors.InvalidModule("function def %d: global index %d out of range", defIndex, instr.Index)
			}
		case ir.OpCall:
			if int(instr.Index) >= m.Functions.Size() {
				return errors.InvalidModule("function def %d: call index %d out of range", defIndex, instr.Index)
			}
		case ir.OpCallIndirect:
			if instr.Index >= uint32(len(m.Types)) {
				return errors.InvalidModule("function def %d: call_indirect type index %d out of range", defIndex, instr.Index)
			}
			if m.Tables.Size() == 0 {
				return errors.InvalidModule("function def %d: call_indirect without a table", defIndex)
			}
		case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
			ir.OpI32Load8U, ir.OpI32Load16U,
			ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
			ir.OpI32Store8, ir.OpI32Store16,
			ir.OpMemorySize:
			if m.Memories.Size() == 0 {
				return errors.InvalidModule("function def %d: memory access without a memory", defIndex)
			}
		case ir.OpMemoryGrow:
			if m.Memories.Size() == 0 {
				return errors.InvalidModule("function def %d: memory.grow without a memory", defIndex)
			}
			c.intrinsicRef("memory.grow")
		}
	}
	if depth != 0 {
		return errors.InvalidModule("function def %d: %d unterminated blocks", defIndex, depth)
	}
	return nil
}

func appendInstr(buf []byte, instr ir.Instr) []byte {
	buf = append(buf, byte(instr.Op))
	switch instr.Op {
	case ir.OpBlock, ir.OpLoop, ir.OpIf:
		if instr.Block.HasResult {
			buf = append(buf, 1, byte(instr.Block.Result))
		} else {
			buf = append(buf, 0, 0)
		}
	case ir.OpBr, ir.OpBrIf, ir.OpCall, ir.OpCallIndirect,
		ir.OpLocalGet, ir.OpLocalSet, ir.OpLocalTee,
		ir.OpGlobalGet, ir.OpGlobalSet:
		buf = binary.AppendUvarint(buf, uint64(instr.Index))
	case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
		ir.OpI32Load8U, ir.OpI32Load16U,
		ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
		ir.OpI32Store8, ir.OpI32Store16:
		buf = binary.AppendUvarint(buf, uint64(instr.Align))
		buf = binary.AppendUvarint(buf, uint64(instr.Offset))
	case ir.OpI32Const, ir.OpI64Const, ir.OpF32Const, ir.OpF64Const:
		buf = binary.AppendVarint(buf, instr.I64)
	}
	return buf
}

type objectReader struct {
	buf []byte
	pos int
}

func (r *objectReader) uvarint() (uint64, error) {
	v, n := binary.Uvarint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("truncated object code at offset %d", r.pos).Build()
	}
	r.pos += n
	return v, nil
}

func (r *objectReader) varint() (int64, error) {
	v, n := binary.Varint(r.buf[r.pos:])
	if n <= 0 {
		return 0, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("truncated object code at offset %d", r.pos).Build()
	}
	r.pos += n
	return v, nil
}

func (r *objectReader) byte() (byte, error) {
	if r.pos >= len(r.buf) {
		return 0, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("truncated object code at offset %d", r.pos).Build()
	}
	b := r.buf[r.pos]
	r.pos++
	return b, nil
}

func (r *objectReader) bytes(n uint64) ([]byte, error) {
	if uint64(len(r.buf)-r.pos) < n {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("truncated object code at offset %d", r.pos).Build()
	}
	b := r.buf[r.pos : r.pos+int(n)]
	r.pos += int(n)
	return b, nil
}

func parseObjectCode(buf []byte) (*objectCode, error) {
	if len(buf) < len(objectCodeMagic) || string(buf[:len(objectCodeMagic)]) != string(objectCodeMagic) {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("bad object-code magic").Build()
	}
	r := &objectReader{buf: buf, pos: len(objectCodeMagic)}
	obj := &objectCode{}

	numIntrinsics, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numIntrinsics; i++ {
		n, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		name, err := r.bytes(n)
		if err != nil {
			return nil, err
		}
		obj.intrinsics = append(obj.intrinsics, string(name))
	}

	numDefs, err := r.uvarint()
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < numDefs; i++ {
		var def objectFunction
		typeIndex, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		def.typeIndex = uint32(typeIndex)

		numLocals, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		for j := uint64(0); j < numLocals; j++ {
			b, err := r.byte()
			if err != nil {
				return nil, err
			}
			def.locals = append(def.locals, ir.ValueType(b))
		}

		numInstrs, err := r.uvarint()
		if err != nil {
			return nil, err
		}
		def.code = make([]ir.Instr, 0, numInstrs)
		for j := uint64(0); j < numInstrs; j++ {
			instr, err := readInstr(r)
			if err != nil {
				return nil, err
			}
			def.code = append(def.code, instr)
		}
		obj.defs = append(obj.defs, def)
	}
	return obj, nil
}

func readInstr(r *objectReader) (ir.Instr, error) {
	opByte, err := r.byte()
	if err != nil {
		return ir.Instr{}, err
	}
	instr := ir.Instr{Op: ir.Op(opByte)}
	if !instr.Op.Valid() {
		return ir.Instr{}, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("invalid op %d in object code", opByte).Build()
	}
	switch instr.Op {
	case ir.OpBlock, ir.OpLoop, ir.OpIf:
		hasResult, err := r.byte()
		if err != nil {
			return ir.Instr{}, err
		}
		result, err := r.byte()
		if err != nil {
			return ir.Instr{}, err
		}
		instr.Block = ir.BlockSig{HasResult: hasResult != 0, Result: ir.ValueType(result)}
	case ir.OpBr, ir.OpBrIf, ir.OpCall, ir.OpCallIndirect,
		ir.OpLocalGet, ir.OpLocalSet, ir.OpLocalTee,
		ir.OpGlobalGet, ir.OpGlobalSet:
		v, err := r.uvarint()
		if err != nil {
			return ir.Instr{}, err
		}
		instr.Index = uint32(v)
	case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
		ir.OpI32Load8U, ir.OpI32Load16U,
		ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
		ir.OpI32Store8, ir.OpI32Store16:
		align, err := r.uvarint()
		if err != nil {
			return ir.Instr{}, err
		}
		offset, err := r.uvarint()
		if err != nil {
			return ir.Instr{}, err
		}
		instr.Align = uint32(align)
		instr.Offset = uint32(offset)
	case ir.OpI32Const, ir.OpI64Const, ir.OpF32Const, ir.OpF64Const:
		v, err := r.varint()
		if err != nil {
			return ir.Instr{}, err
		}
		instr.I64 = v
	}
	return instr, nil
}
