package engine

import (
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Flat code: structured control is resolved to jump targets at load
// time so the interpreter runs a single linear dispatch loop.
//
// Ops below 0x100 are ir.Op values executed directly; the pseudo-ops
// carry resolved control and binding information.
const (
	pBr            uint16 = 0x100 + iota // a=target pc, b=drop<<1|keep
	pBrIf                                // pop cond; branch like pBr when non-zero
	pBrIfZ                               // pop cond; jump to a when zero
	pReturn                              // b=result count kept from the stack top
	pCallDef                             // a=function def index
	pCallImport                          // a=function import index
	pCallIntrinsic                       // a=intrinsic index, b=memory id
	pGlobalGetImm                        // a=index into the immutable-value table
	pGlobalGetMut                        // a=mutable-global slot
	pGlobalSetMut                        // a=mutable-global slot
)

type flatOp struct {
	op uint16
	a  uint64
	b  uint64
}

type ctrlFrame struct {
	isLoop      bool
	isIf        bool
	hasResult   bool
	startHeight int
	loopTarget  int
	patches     []int
	elsePatch   int
	dead        bool
}

type lowerer struct {
	m      *LoadedModule
	def    objectFunction
	typ    ir.FunctionType
	code   []flatOp
	frames []ctrlFrame

	height      int
	maxHeight   int
	unreachable bool
}

// lower resolves a function's structured control flow and global,
// memory, and intrinsic references against the module's bindings.
func lower(m *LoadedModule, def objectFunction, funcIndex uint32) (*loadedFunction, error) {
	if def.typeIndex >= uint32(len(m.bindings.Types)) {
		return nil, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("type index %d out of range", def.typeIndex).Build()
	}
	l := &lowerer{m: m, def: def, typ: m.bindings.Types[def.typeIndex]}

	// The function body behaves as one outer block whose end is the
	// implicit return.
	l.frames = append(l.frames, ctrlFrame{hasResult: len(l.typ.Results) > 0, elsePatch: -1})

	for _, instr := range def.code {
		if err := l.lowerInstr(instr); err != nil {
			return nil, err
		}
	}

	// Implicit return; branches to the function frame land here.
	end := len(l.code)
	for _, patch := range l.frames[0].patches {
		l.code[patch].a = uint64(end)
	}
	l.emit(flatOp{op: pReturn, b: uint64(len(l.typ.Results))})

	return &loadedFunction{
		module:    m,
		funcIndex: funcIndex,
		typ:       l.typ,
		numLocals: len(def.locals),
		code:      l.code,
		maxStack:  l.maxHeight + 1,
	}, nil
}

func (l *lowerer) emit(op flatOp) int {
	l.code = append(l.code, op)
	return len(l.code) - 1
}

func (l *lowerer) push(n int) {
	l.height += n
	if l.height > l.maxHeight {
		l.maxHeight = l.height
	}
}

func (l *lowerer) top() *ctrlFrame { return &l.frames[len(l.frames)-1] }

func (l *lowerer) lowerInstr(instr ir.Instr) error {
	if l.unreachable {
		return l.lowerDeadInstr(instr)
	}

	switch instr.Op {
	case ir.OpNop:

	case ir.OpUnreachable:
		l.emit(flatOp{op: uint16(ir.OpUnreachable)})
		l.unreachable = true

	case ir.OpBlock:
		l.frames = append(l.frames, ctrlFrame{
			hasResult:   instr.Block.HasResult,
			startHeight: l.height,
			elsePatch:   -1,
		})

	case ir.OpLoop:
		l.frames = append(l.frames, ctrlFrame{
			isLoop:      true,
			hasResult:   instr.Block.HasResult,
			startHeight: l.height,
			loopTarget:  len(l.code),
			elsePatch:   -1,
		})

	case ir.OpIf:
		l.push(-1)
		patch := l.emit(flatOp{op: pBrIfZ})
		l.frames = append(l.frames, ctrlFrame{
			isIf:        true,
			hasResult:   instr.Block.HasResult,
			startHeight: l.height,
			elsePatch:   patch,
		})

	case ir.OpElse:
		frame := l.top()
		if !frame.isIf || frame.elsePatch < 0 {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("else outside if").Build()
		}
		skip := l.emit(flatOp{op: pBr})
		frame.patches = append(frame.patches, skip)
		l.code[frame.elsePatch].a = uint64(len(l.code))
		frame.elsePatch = -1
		l.height = frame.startHeight

	case ir.OpEnd:
		if len(l.frames) == 1 {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("unbalanced end").Build()
		}
		l.endFrame()

	case ir.OpBr:
		if err := l.lowerBranch(instr.Index, pBr); err != nil {
			return err
		}
		l.unreachable = true

	case ir.OpBrIf:
		l.push(-1)
		if err := l.lowerBranch(instr.Index, pBrIf); err != nil {
			return err
		}

	case ir.OpReturn:
		l.emit(flatOp{op: pReturn, b: uint64(len(l.typ.Results))})
		l.unreachable = true

	case ir.OpCall:
		numImports := uint32(len(l.m.bindings.FunctionImports))
		if int(instr.Index) >= len(l.m.funcTypes) {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("call index %d out of range", instr.Index).Build()
		}
		ft := l.m.funcTypes[instr.Index]
		if instr.Index < numImports {
			l.emit(flatOp{op: pCallImport, a: uint64(instr.Index)})
		} else {
			l.emit(flatOp{op: pCallDef, a: uint64(instr.Index - numImports)})
		}
		l.push(len(ft.Results) - len(ft.Params))

	case ir.OpCallIndirect:
		if l.m.tableID == InvalidID {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("call_indirect without a bound table").Build()
		}
		if int(instr.Index) >= len(l.m.bindings.Types) {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("call_indirect type index %d out of range", instr.Index).Build()
		}
		ft := l.m.bindings.Types[instr.Index]
		l.emit(flatOp{op: uint16(ir.OpCallIndirect), a: uint64(instr.Index), b: uint64(l.m.tableID)})
		l.push(len(ft.Results) - len(ft.Params) - 1)

	case ir.OpDrop:
		l.emit(flatOp{op: uint16(ir.OpDrop)})
		l.push(-1)

	case ir.OpSelect:
		l.emit(flatOp{op: uint16(ir.OpSelect)})
		l.push(-2)

	case ir.OpLocalGet:
		l.emit(flatOp{op: uint16(ir.OpLocalGet), a: uint64(instr.Index)})
		l.push(1)
	case ir.OpLocalSet:
		l.emit(flatOp{op: uint16(ir.OpLocalSet), a: uint64(instr.Index)})
		l.push(-1)
	case ir.OpLocalTee:
		l.emit(flatOp{op: uint16(ir.OpLocalTee), a: uint64(instr.Index)})

	case ir.OpGlobalGet, ir.OpGlobalSet:
		if err := l.lowerGlobal(instr); err != nil {
			return err
		}

	case ir.OpMemorySize:
		l.emit(flatOp{op: uint16(ir.OpMemorySize), b: uint64(l.m.memoryID)})
		l.push(1)

	case ir.OpMemoryGrow:
		idx := l.intrinsicIndex("memory.grow")
		if idx < 0 {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("memory.grow without intrinsic reference").Build()
		}
		l.emit(flatOp{op: pCallIntrinsic, a: uint64(idx), b: uint64(l.m.memoryID)})

	case ir.OpI32Const, ir.OpI64Const, ir.OpF32Const, ir.OpF64Const:
		l.emit(flatOp{op: uint16(instr.Op), a: uint64(instr.I64)})
		l.push(1)

	case ir.OpI32Load, ir.OpI64Load, ir.OpF32Load, ir.OpF64Load,
		ir.OpI32Load8U, ir.OpI32Load16U:
		l.emit(flatOp{op: uint16(instr.Op), a: uint64(instr.Offset), b: uint64(l.m.memoryID)})

	case ir.OpI32Store, ir.OpI64Store, ir.OpF32Store, ir.OpF64Store,
		ir.OpI32Store8, ir.OpI32Store16:
		l.emit(flatOp{op: uint16(instr.Op), a: uint64(instr.Offset), b: uint64(l.m.memoryID)})
		l.push(-2)

	case ir.OpI32Eqz, ir.OpI64Eqz,
		ir.OpI32WrapI64, ir.OpI64ExtendI32U, ir.OpI64ExtendI32S:
		l.emit(flatOp{op: uint16(instr.Op)})

	default:
		// The remaining ops are binary: two pops, one push.
		l.emit(flatOp{op: uint16(instr.Op)})
		l.push(-1)
	}
	return nil
}

// lowerDeadInstr keeps frame nesting consistent through unreachable
// code without emitting anything.
func (l *lowerer) lowerDeadInstr(instr ir.Instr) error {
	switch instr.Op {
	case ir.OpBlock, ir.OpLoop, ir.OpIf:
		l.frames = append(l.frames, ctrlFrame{dead: true, elsePatch: -1})
	case ir.OpElse:
		frame := l.top()
		if !frame.dead && frame.isIf && frame.elsePatch >= 0 {
			// The then-branch ended in a branch or return; the else
			// branch starts reachable at the frame's entry height.
			l.code[frame.elsePatch].a = uint64(len(l.code))
			frame.elsePatch = -1
			l.height = frame.startHeight
			l.unreachable = false
		}
	case ir.OpEnd:
		if len(l.frames) == 1 {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("unbalanced end").Build()
		}
		if l.top().dead {
			l.frames = l.frames[:len(l.frames)-1]
			return nil
		}
		l.unreachable = false
		l.endFrame()
	}
	return nil
}

// endFrame pops the current frame, patches its branch sites, and
// re-synchronizes the static stack height.
func (l *lowerer) endFrame() {
	frame := *l.top()
	l.frames = l.frames[:len(l.frames)-1]

	end := len(l.code)
	for _, patch := range frame.patches {
		l.code[patch].a = uint64(end)
	}
	if frame.elsePatch >= 0 {
		// if with no else: the false path falls through to the end.
		l.code[frame.elsePatch].a = uint64(end)
	}

	l.height = frame.startHeight
	if frame.hasResult {
		l.push(1)
	}
	l.unreachable = false
}

func (l *lowerer) lowerBranch(depth uint32, op uint16) error {
	if int(depth) >= len(l.frames) {
		return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("branch depth %d exceeds nesting", depth).Build()
	}
	frameIndex := len(l.frames) - 1 - int(depth)
	frame := &l.frames[frameIndex]

	keep := 0
	if !frame.isLoop && frame.hasResult {
		keep = 1
	}
	drop := l.height - frame.startHeight - keep
	if drop < 0 {
		drop = 0
	}

	fo := flatOp{op: op, b: uint64(drop)<<1 | uint64(keep)}
	if frame.isLoop {
		fo.a = uint64(frame.loopTarget)
		l.emit(fo)
	} else {
		patch := l.emit(fo)
		frame.patches = append(frame.patches, patch)
	}
	return nil
}

func (l *lowerer) lowerGlobal(instr ir.Instr) error {
	if int(instr.Index) >= len(l.m.bindings.Globals) {
		return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
			Detail("global index %d out of range", instr.Index).Build()
	}
	binding := l.m.bindings.Globals[instr.Index]
	switch instr.Op {
	case ir.OpGlobalGet:
		if binding.Type.IsMutable {
			l.emit(flatOp{op: pGlobalGetMut, a: uint64(binding.MutableGlobalIndex)})
		} else {
			idx := l.m.internImmutable(binding.ImmutableValue)
			l.emit(flatOp{op: pGlobalGetImm, a: uint64(idx)})
		}
		l.push(1)
	case ir.OpGlobalSet:
		if !binding.Type.IsMutable {
			return errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("global.set on immutable global %d", instr.Index).Build()
		}
		l.emit(flatOp{op: pGlobalSetMut, a: uint64(binding.MutableGlobalIndex)})
		l.push(-1)
	}
	return nil
}

func (l *lowerer) intrinsicIndex(name string) int {
	for i, entry := range l.m.intrinsicNames {
		if entry == name {
			return i
		}
	}
	return -1
}
