package engine

import (
	"encoding/binary"
	"math"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// invoke runs one loaded function to completion. Traps surface as
// *errors.Error values and unwind through every frame.
func (m *LoadedModule) invoke(lf *loadedFunction, ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
	if ctx == nil {
		return nil, errors.InvalidArgument(errors.PhaseRuntime, "nil context runtime data")
	}
	ctx.callDepth++
	defer func() { ctx.callDepth-- }()
	if ctx.callDepth > m.engine.maxCallDepth {
		return nil, errors.Fatal("call stack exhausted at depth %d", ctx.callDepth)
	}

	locals := make([]uint64, len(lf.typ.Params)+lf.numLocals)
	copy(locals, args)
	stack := make([]uint64, 0, lf.maxStack)

	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	push := func(v uint64) { stack = append(stack, v) }

	code := lf.code
	pc := 0
	for {
		op := code[pc]
		pc++
		switch op.op {

		case uint16(ir.OpUnreachable):
			return nil, errors.New(errors.PhaseRuntime, errors.KindUnreachable).Build()

		case pBr:
			stack = branchAdjust(stack, op.b)
			pc = int(op.a)

		case pBrIf:
			if pop() != 0 {
				stack = branchAdjust(stack, op.b)
				pc = int(op.a)
			}

		case pBrIfZ:
			if pop() == 0 {
				pc = int(op.a)
			}

		case pReturn:
			keep := int(op.b)
			results := make([]uint64, keep)
			copy(results, stack[len(stack)-keep:])
			return results, nil

		case pCallDef:
			callee := m.funcs[op.a]
			callArgs := takeArgs(&stack, len(callee.typ.Params))
			results, err := m.invoke(callee, ctx, callArgs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)

		case pCallImport:
			callee := m.bindings.FunctionImports[op.a].Code
			callArgs := takeArgs(&stack, len(callee.Type.Params))
			results, err := callee.Entry(ctx, callArgs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)

		case uint16(ir.OpCallIndirect):
			expected := m.bindings.Types[op.a]
			table := ctx.Compartment.Tables[op.b]
			index := pop()
			callee := table.Load(index)
			if callee == OutOfBoundsSentinel {
				return nil, errors.OutOfBoundsTable(table.Owner, index)
			}
			if !callee.Type.Equal(expected) {
				return nil, errors.New(errors.PhaseRuntime, errors.KindIndirectCallMismatch).
					Detail("expected %s, element has %s", expected, callee.Type).Build()
			}
			callArgs := takeArgs(&stack, len(callee.Type.Params))
			results, err := callee.Entry(ctx, callArgs)
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)

		case pCallIntrinsic:
			entry := m.intrinsicEntries[op.a]
			arg := pop()
			results, err := entry(ctx, []uint64{arg, op.b})
			if err != nil {
				return nil, err
			}
			stack = append(stack, results...)

		case uint16(ir.OpDrop):
			pop()

		case uint16(ir.OpSelect):
			c := pop()
			v2 := pop()
			v1 := pop()
			if c != 0 {
				push(v1)
			} else {
				push(v2)
			}

		case uint16(ir.OpLocalGet):
			push(locals[op.a])
		case uint16(ir.OpLocalSet):
			locals[op.a] = pop()
		case uint16(ir.OpLocalTee):
			locals[op.a] = stack[len(stack)-1]

		case pGlobalGetImm:
			push(m.immValues[op.a].Bits)
		case pGlobalGetMut:
			push(ctx.MutableGlobals[op.a].Bits)
		case pGlobalSetMut:
			ctx.MutableGlobals[op.a].Bits = pop()

		case uint16(ir.OpMemorySize):
			push(ctx.Compartment.Memories[op.b].NumPages())

		case uint16(ir.OpI32Load):
			v, err := m.load(ctx, op, &stack, 4)
			if err != nil {
				return nil, err
			}
			push(v)
		case uint16(ir.OpI64Load):
			v, err := m.load(ctx, op, &stack, 8)
			if err != nil {
				return nil, err
			}
			push(v)
		case uint16(ir.OpF32Load):
			v, err := m.load(ctx, op, &stack, 4)
			if err != nil {
				return nil, err
			}
			push(v)
		case uint16(ir.OpF64Load):
			v, err := m.load(ctx, op, &stack, 8)
			if err != nil {
				return nil, err
			}
			push(v)
		case uint16(ir.OpI32Load8U):
			v, err := m.load(ctx, op, &stack, 1)
			if err != nil {
				return nil, err
			}
			push(v)
		case uint16(ir.OpI32Load16U):
			v, err := m.load(ctx, op, &stack, 2)
			if err != nil {
				return nil, err
			}
			push(v)

		case uint16(ir.OpI32Store), uint16(ir.OpF32Store):
			if err := m.store(ctx, op, &stack, 4); err != nil {
				return nil, err
			}
		case uint16(ir.OpI64Store), uint16(ir.OpF64Store):
			if err := m.store(ctx, op, &stack, 8); err != nil {
				return nil, err
			}
		case uint16(ir.OpI32Store8):
			if err := m.store(ctx, op, &stack, 1); err != nil {
				return nil, err
			}
		case uint16(ir.OpI32Store16):
			if err := m.store(ctx, op, &stack, 2); err != nil {
				return nil, err
			}

		case uint16(ir.OpI32Const):
			push(uint64(uint32(op.a)))
		case uint16(ir.OpI64Const):
			push(op.a)
		case uint16(ir.OpF32Const):
			push(uint64(uint32(op.a)))
		case uint16(ir.OpF64Const):
			push(op.a)

		case uint16(ir.OpI32Eqz):
			push(b2u(uint32(pop()) == 0))
		case uint16(ir.OpI32Eq):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l == r))
		case uint16(ir.OpI32Ne):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l != r))
		case uint16(ir.OpI32LtS):
			r, l := int32(pop()), int32(pop())
			push(b2u(l < r))
		case uint16(ir.OpI32LtU):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l < r))
		case uint16(ir.OpI32GtS):
			r, l := int32(pop()), int32(pop())
			push(b2u(l > r))
		case uint16(ir.OpI32GtU):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l > r))
		case uint16(ir.OpI32LeS):
			r, l := int32(pop()), int32(pop())
			push(b2u(l <= r))
		case uint16(ir.OpI32LeU):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l <= r))
		case uint16(ir.OpI32GeS):
			r, l := int32(pop()), int32(pop())
			push(b2u(l >= r))
		case uint16(ir.OpI32GeU):
			r, l := uint32(pop()), uint32(pop())
			push(b2u(l >= r))

		case uint16(ir.OpI64Eqz):
			push(b2u(pop() == 0))
		case uint16(ir.OpI64Eq):
			r, l := pop(), pop()
			push(b2u(l == r))
		case uint16(ir.OpI64Ne):
			r, l := pop(), pop()
			push(b2u(l != r))
		case uint16(ir.OpI64LtS):
			r, l := int64(pop()), int64(pop())
			push(b2u(l < r))
		case uint16(ir.OpI64LtU):
			r, l := pop(), pop()
			push(b2u(l < r))

		case uint16(ir.OpI32Add):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l + r))
		case uint16(ir.OpI32Sub):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l - r))
		case uint16(ir.OpI32Mul):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l * r))
		case uint16(ir.OpI32DivS):
			r, l := int32(pop()), int32(pop())
			if r == 0 || (l == math.MinInt32 && r == -1) {
				return nil, errors.New(errors.PhaseRuntime, errors.KindIntegerDivide).Build()
			}
			push(uint64(uint32(l / r)))
		case uint16(ir.OpI32DivU):
			r, l := uint32(pop()), uint32(pop())
			if r == 0 {
				return nil, errors.New(errors.PhaseRuntime, errors.KindIntegerDivide).Build()
			}
			push(uint64(l / r))
		case uint16(ir.OpI32RemS):
			r, l := int32(pop()), int32(pop())
			if r == 0 {
				return nil, errors.New(errors.PhaseRuntime, errors.KindIntegerDivide).Build()
			}
			if l == math.MinInt32 && r == -1 {
				push(0)
			} else {
				push(uint64(uint32(l % r)))
			}
		case uint16(ir.OpI32RemU):
			r, l := uint32(pop()), uint32(pop())
			if r == 0 {
				return nil, errors.New(errors.PhaseRuntime, errors.KindIntegerDivide).Build()
			}
			push(uint64(l % r))
		case uint16(ir.OpI32And):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l & r))
		case uint16(ir.OpI32Or):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l | r))
		case uint16(ir.OpI32Xor):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l ^ r))
		case uint16(ir.OpI32Shl):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l << (r & 31)))
		case uint16(ir.OpI32ShrS):
			r, l := uint32(pop()), int32(pop())
			push(uint64(uint32(l >> (r & 31))))
		case uint16(ir.OpI32ShrU):
			r, l := uint32(pop()), uint32(pop())
			push(uint64(l >> (r & 31)))

		case uint16(ir.OpI64Add):
			r, l := pop(), pop()
			push(l + r)
		case uint16(ir.OpI64Sub):
			r, l := pop(), pop()
			push(l - r)
		case uint16(ir.OpI64Mul):
			r, l := pop(), pop()
			push(l * r)
		case uint16(ir.OpI64And):
			r, l := pop(), pop()
			push(l & r)
		case uint16(ir.OpI64Or):
			r, l := pop(), pop()
			push(l | r)
		case uint16(ir.OpI64Xor):
			r, l := pop(), pop()
			push(l ^ r)

		case uint16(ir.OpF64Add):
			r, l := math.Float64frombits(pop()), math.Float64frombits(pop())
			push(math.Float64bits(l + r))
		case uint16(ir.OpF64Sub):
			r, l := math.Float64frombits(pop()), math.Float64frombits(pop())
			push(math.Float64bits(l - r))
		case uint16(ir.OpF64Mul):
			r, l := math.Float64frombits(pop()), math.Float64frombits(pop())
			push(math.Float64bits(l * r))
		case uint16(ir.OpF64Div):
			r, l := math.Float64frombits(pop()), math.Float64frombits(pop())
			push(math.Float64bits(l / r))

		case uint16(ir.OpI32WrapI64):
			push(uint64(uint32(pop())))
		case uint16(ir.OpI64ExtendI32U):
			push(uint64(uint32(pop())))
		case uint16(ir.OpI64ExtendI32S):
			push(uint64(int64(int32(pop()))))

		default:
			return nil, errors.Fatal("unknown flat op %d at pc %d", op.op, pc-1)
		}
	}
}

// branchAdjust drops the operands between a branch's keep values and
// its target frame's entry height.
func branchAdjust(stack []uint64, b uint64) []uint64 {
	drop := int(b >> 1)
	keep := int(b & 1)
	if drop == 0 {
		return stack
	}
	n := len(stack)
	copy(stack[n-drop-keep:], stack[n-keep:])
	return stack[:n-drop]
}

func takeArgs(stack *[]uint64, n int) []uint64 {
	s := *stack
	args := make([]uint64, n)
	copy(args, s[len(s)-n:])
	*stack = s[:len(s)-n]
	return args
}

func b2u(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

func (m *LoadedModule) load(ctx *ContextRuntimeData, op flatOp, stack *[]uint64, size uint64) (uint64, error) {
	s := *stack
	addr := s[len(s)-1]
	*stack = s[:len(s)-1]

	mem := ctx.Compartment.Memories[op.b]
	bytes := mem.Bytes()
	ea := uint64(uint32(addr)) + op.a
	if ea+size > uint64(len(bytes)) {
		return 0, errors.OutOfBoundsMemory(mem.Owner, ea)
	}
	switch size {
	case 1:
		return uint64(bytes[ea]), nil
	case 2:
		return uint64(binary.LittleEndian.Uint16(bytes[ea:])), nil
	case 4:
		return uint64(binary.LittleEndian.Uint32(bytes[ea:])), nil
	default:
		return binary.LittleEndian.Uint64(bytes[ea:]), nil
	}
}

func (m *LoadedModule) store(ctx *ContextRuntimeData, op flatOp, stack *[]uint64, size uint64) error {
	s := *stack
	value := s[len(s)-1]
	addr := s[len(s)-2]
	*stack = s[:len(s)-2]

	mem := ctx.Compartment.Memories[op.b]
	bytes := mem.Bytes()
	ea := uint64(uint32(addr)) + op.a
	if ea+size > uint64(len(bytes)) {
		return errors.OutOfBoundsMemory(mem.Owner, ea)
	}
	switch size {
	case 1:
		bytes[ea] = byte(value)
	case 2:
		binary.LittleEndian.PutUint16(bytes[ea:], uint16(value))
	case 4:
		binary.LittleEndian.PutUint32(bytes[ea:], uint32(value))
	default:
		binary.LittleEndian.PutUint64(bytes[ea:], value)
	}
	return nil
}
