package ir

// Op identifies an instruction in the supported subset. The set covers
// the core numeric, parametric, variable, memory, and control opcodes;
// vector and reference opcodes beyond constants are left to the
// external compiler tiers.
type Op byte

const (
	OpUnreachable Op = iota
	OpNop
	OpBlock
	OpLoop
	OpIf
	OpElse
	OpEnd
	OpBr
	OpBrIf
	OpReturn
	OpCall
	OpCallIndirect

	OpDrop
	OpSelect

	OpLocalGet
	OpLocalSet
	OpLocalTee
	OpGlobalGet
	OpGlobalSet

	OpI32Load
	OpI64Load
	OpF32Load
	OpF64Load
	OpI32Load8U
	OpI32Load16U
	OpI32Store
	OpI64Store
	OpF32Store
	OpF64Store
	OpI32Store8
	OpI32Store16
	OpMemorySize
	OpMemoryGrow

	OpI32Const
	OpI64Const
	OpF32Const
	OpF64Const

	OpI32Eqz
	OpI32Eq
	OpI32Ne
	OpI32LtS
	OpI32LtU
	OpI32GtS
	OpI32GtU
	OpI32LeS
	OpI32LeU
	OpI32GeS
	OpI32GeU

	OpI64Eqz
	OpI64Eq
	OpI64Ne
	OpI64LtS
	OpI64LtU

	OpI32Add
	OpI32Sub
	OpI32Mul
	OpI32DivS
	OpI32DivU
	OpI32RemS
	OpI32RemU
	OpI32And
	OpI32Or
	OpI32Xor
	OpI32Shl
	OpI32ShrS
	OpI32ShrU

	OpI64Add
	OpI64Sub
	OpI64Mul
	OpI64And
	OpI64Or
	OpI64Xor

	OpF64Add
	OpF64Sub
	OpF64Mul
	OpF64Div

	OpI32WrapI64
	OpI64ExtendI32U
	OpI64ExtendI32S

	numOps // keep last
)

// BlockSig is the result signature of a block, loop, or if.
type BlockSig struct {
	HasResult bool
	Result    ValueType
}

// Instr is one instruction. The immediate fields used depend on Op:
//
//	I64           integer constants (i32 sign-extended), f32/f64 bit patterns
//	Index         local/global/function/type/label index, branch depth
//	Offset, Align memory-access immediates
//	Block         block/loop/if signature
type Instr struct {
	Op     Op
	I64    int64
	Index  uint32
	Offset uint32
	Align  uint32
	Block  BlockSig
}

// Valid reports whether op names an instruction in the supported set.
func (op Op) Valid() bool { return op < numOps }
