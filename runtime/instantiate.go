package runtime

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// ImportBindings supplies an instantiation's resolved imports: five
// parallel vectors matching the module's import declarations in order.
type ImportBindings struct {
	Functions      []*FunctionInstance
	Tables         []*TableInstance
	Memories       []*MemoryInstance
	Globals        []*GlobalInstance
	ExceptionTypes []*ExceptionTypeInstance
}

// evaluateInitializer evaluates a constant initializer expression under
// the given (possibly partially populated) globals vector. A get_global
// may only name a previously-declared imported immutable global.
func evaluateInitializer(globals []*GlobalInstance, expr ir.InitializerExpression) (ir.Value, error) {
	switch expr.Op {
	case ir.InitI32Const:
		return ir.Value{Type: ir.ValueTypeI32, UntaggedValue: expr.Value}, nil
	case ir.InitI64Const:
		return ir.Value{Type: ir.ValueTypeI64, UntaggedValue: expr.Value}, nil
	case ir.InitF32Const:
		return ir.Value{Type: ir.ValueTypeF32, UntaggedValue: expr.Value}, nil
	case ir.InitF64Const:
		return ir.Value{Type: ir.ValueTypeF64, UntaggedValue: expr.Value}, nil
	case ir.InitV128Const:
		return ir.Value{Type: ir.ValueTypeV128, UntaggedValue: expr.Value}, nil
	case ir.InitGetGlobal:
		if int(expr.GlobalIndex) >= len(globals) || globals[expr.GlobalIndex] == nil {
			return ir.Value{}, errors.Link("initializer global index %d out of range", expr.GlobalIndex)
		}
		g := globals[expr.GlobalIndex]
		if g.typ.IsMutable {
			return ir.Value{}, errors.Link("initializer references mutable global %d", expr.GlobalIndex)
		}
		return g.InitialValue(), nil
	case ir.InitRefNull:
		return ir.Value{Type: ir.ValueTypeAnyRef}, nil
	default:
		return ir.Value{}, errors.Link("invalid initializer expression")
	}
}

// initializerIsSubtype reports whether an initializer result satisfies
// a declared value type; a null reference satisfies any reference type.
func initializerIsSubtype(value ir.Value, declared ir.ValueType) bool {
	if value.Type == declared {
		return true
	}
	return value.Type == ir.ValueTypeAnyRef && value.Ref == nil && declared.IsReference()
}

// InstantiateModule wires a compiled module into a compartment through
// the strictly ordered instantiation pipeline. Any failure aborts with
// no observable compartment state: objects created before the failure
// become unreachable and are reclaimed at the next collection.
func InstantiateModule(c *Compartment, module *Module, imports ImportBindings, debugName string) (*ModuleInstance, error) {
	m := module.ir

	// Shell construction: move the import vectors in and register the
	// instance in the compartment's weak module set.
	mi := &ModuleInstance{
		compartment:         c,
		exportMap:           map[string]Object{},
		functions:           append([]*FunctionInstance(nil), imports.Functions...),
		tables:              append([]*TableInstance(nil), imports.Tables...),
		memories:            append([]*MemoryInstance(nil), imports.Memories...),
		globals:             append([]*GlobalInstance(nil), imports.Globals...),
		exceptionTypes:      append([]*ExceptionTypeInstance(nil), imports.ExceptionTypes...),
		passiveDataSegments: map[uint32][]byte{},
		passiveElemSegments: map[uint32][]Object{},
		debugName:           debugName,
	}
	registerObject(mi, KindModuleInstance)
	c.mu.Lock()
	c.modules[mi] = struct{}{}
	c.mu.Unlock()

	if err := checkImportTypes(mi, m); err != nil {
		return nil, err
	}

	// Definition allocation: tables, then memories, with debug names
	// from the name section.
	numTableImports := uint32(len(m.Tables.Imports))
	for i, def := range m.Tables.Defs {
		table, err := CreateTable(c, def.Type, m.TableName(numTableImports+uint32(i)))
		if err != nil {
			return nil, err
		}
		mi.tables = append(mi.tables, table)
	}
	numMemoryImports := uint32(len(m.Memories.Imports))
	for i, def := range m.Memories.Defs {
		memory, err := CreateMemory(c, def.Type, m.MemoryName(numMemoryImports+uint32(i)))
		if err != nil {
			return nil, err
		}
		mi.memories = append(mi.memories, memory)
	}

	// Default selection. At most one memory is allowed; with several
	// tables the first one is the default.
	if len(mi.memories) > 1 {
		return nil, errors.Fatal("module instance has %d memories", len(mi.memories))
	}
	if len(mi.memories) != 0 {
		mi.defaultMemory = mi.memories[0]
	}
	if len(mi.tables) != 0 {
		mi.defaultTable = mi.tables[0]
	}

	// Global initialization, under the partially populated vector. A
	// get_global initializer may only name an imported global, so the
	// evaluation window stops at the import count.
	for _, def := range m.Globals.Defs {
		value, err := evaluateInitializer(mi.globals[:len(m.Globals.Imports)], def.Initializer)
		if err != nil {
			return nil, err
		}
		if !initializerIsSubtype(value, def.Type.ValueType) {
			return nil, errors.Link("initializer yields %s for global of type %s",
				value.Type, def.Type.ValueType)
		}
		global, err := CreateGlobal(c, def.Type, value)
		if err != nil {
			return nil, err
		}
		mi.globals = append(mi.globals, global)
	}

	// Exception-type instantiation.
	for _, def := range m.ExceptionTypes.Defs {
		mi.exceptionTypes = append(mi.exceptionTypes, CreateExceptionType(def.Type, "wasmException"))
	}

	// Function-instance allocation: defined functions get a nil entry
	// until the loader back-links them.
	numFunctionImports := uint32(len(m.Functions.Imports))
	for i, def := range m.Functions.Defs {
		if int(def.TypeIndex) >= len(m.Types) {
			return nil, errors.Link("function def %d: type index out of range", i)
		}
		fn := newFunctionInstance(mi, m.Types[def.TypeIndex], nil,
			ir.CallingConventionWasm, m.FunctionName(numFunctionImports+uint32(i)))
		mi.functionDefs = append(mi.functionDefs, fn)
		mi.functions = append(mi.functions, fn)
	}

	// Symbol binding and load.
	bindings, err := buildBindings(c, mi, m)
	if err != nil {
		return nil, err
	}
	loaded, jitFunctions, err := activeEngine.Load(module.objectCode, bindings)
	if err != nil {
		return nil, err
	}
	mi.loaded = loaded

	// Definition back-linking: after this, the address map resolves
	// stack addresses to function instances.
	for i, jf := range jitFunctions {
		mi.functionDefs[i].linkNative(jf)
	}

	if err := publishExports(mi, m); err != nil {
		return nil, err
	}
	if err := copyDataSegments(mi, m); err != nil {
		return nil, err
	}
	if err := copyElemSegments(mi, m); err != nil {
		return nil, err
	}

	// Passive-segment retention.
	for i, seg := range m.DataSegments {
		if !seg.IsActive {
			mi.passiveDataSegments[uint32(i)] = append([]byte(nil), seg.Data...)
		}
	}
	for i, seg := range m.ElemSegments {
		if !seg.IsActive {
			objects := make([]Object, 0, len(seg.Indices))
			for _, fnIndex := range seg.Indices {
				if int(fnIndex) >= len(mi.functions) {
					return nil, errors.Link("passive element segment %d: function index %d out of range", i, fnIndex)
				}
				objects = append(objects, mi.functions[fnIndex])
			}
			mi.passiveElemSegments[uint32(i)] = objects
		}
	}

	// Start function selection.
	if m.StartFunctionIndex != ir.InvalidIndex {
		if int(m.StartFunctionIndex) >= len(mi.functions) {
			return nil, errors.Link("start function index %d out of range", m.StartFunctionIndex)
		}
		start := mi.functions[m.StartFunctionIndex]
		if !start.typ.Equal(ir.FunctionType{}) {
			return nil, errors.Link("start function must have type ()->(), has %s", start.typ)
		}
		mi.startFunction = start
	}

	Logger().Debug("instantiated module",
		zap.String("name", debugName),
		zap.Int("functions", len(mi.functions)),
		zap.Int("exports", len(mi.exportMap)))
	return mi, nil
}

// checkImportTypes verifies each provided import is a subtype of its
// declaration, kind by kind in order.
func checkImportTypes(mi *ModuleInstance, m *ir.Module) error {
	if len(mi.functions) != len(m.Functions.Imports) {
		return errors.Link("expected %d function imports, got %d", len(m.Functions.Imports), len(mi.functions))
	}
	for i, imp := range m.Functions.Imports {
		if mi.functions[i] == nil {
			return errors.Link("function import %d (%s.%s) is nil", i, imp.Ref.Module, imp.Ref.Field)
		}
		if int(imp.TypeIndex) >= len(m.Types) {
			return errors.Link("function import %d: type index out of range", i)
		}
		if !mi.functions[i].typ.Equal(m.Types[imp.TypeIndex]) {
			return errors.Link("function import %d (%s.%s): expected %s, got %s",
				i, imp.Ref.Module, imp.Ref.Field, m.Types[imp.TypeIndex], mi.functions[i].typ)
		}
	}

	if len(mi.tables) != len(m.Tables.Imports) {
		return errors.Link("expected %d table imports, got %d", len(m.Tables.Imports), len(mi.tables))
	}
	for i, imp := range m.Tables.Imports {
		if mi.tables[i] == nil || !imp.Type.IsSubtype(mi.tables[i].typ) {
			return errors.Link("table import %d (%s.%s) type mismatch", i, imp.Ref.Module, imp.Ref.Field)
		}
	}

	if len(mi.memories) != len(m.Memories.Imports) {
		return errors.Link("expected %d memory imports, got %d", len(m.Memories.Imports), len(mi.memories))
	}
	for i, imp := range m.Memories.Imports {
		if mi.memories[i] == nil || !imp.Type.IsSubtype(mi.memories[i].typ) {
			return errors.Link("memory import %d (%s.%s) type mismatch", i, imp.Ref.Module, imp.Ref.Field)
		}
	}

	if len(mi.globals) != len(m.Globals.Imports) {
		return errors.Link("expected %d global imports, got %d", len(m.Globals.Imports), len(mi.globals))
	}
	for i, imp := range m.Globals.Imports {
		if mi.globals[i] == nil || !imp.Type.IsSubtype(mi.globals[i].typ) {
			return errors.Link("global import %d (%s.%s) type mismatch", i, imp.Ref.Module, imp.Ref.Field)
		}
	}

	if len(mi.exceptionTypes) != len(m.ExceptionTypes.Imports) {
		return errors.Link("expected %d exception-type imports, got %d",
			len(m.ExceptionTypes.Imports), len(mi.exceptionTypes))
	}
	for i, imp := range m.ExceptionTypes.Imports {
		if mi.exceptionTypes[i] == nil || !imp.Type.Equal(mi.exceptionTypes[i].typ) {
			return errors.Link("exception-type import %d (%s.%s) type mismatch", i, imp.Ref.Module, imp.Ref.Field)
		}
	}
	return nil
}

// buildBindings assembles the loader's view of the instantiation: the
// intrinsic export map, the type vector, thunked function imports,
// table/memory ids, global slots, exception types, defaults, and the
// table-reference bias.
func buildBindings(c *Compartment, mi *ModuleInstance, m *ir.Module) (*engine.Bindings, error) {
	intrinsics := map[string]engine.FunctionBinding{}
	for name, obj := range c.wavmIntrinsics.exportMap {
		fn, ok := obj.(*FunctionInstance)
		if !ok || fn.callingConvention != ir.CallingConventionIntrinsic {
			return nil, errors.Fatal("intrinsic export %q is not an intrinsic function", name)
		}
		intrinsics[name] = engine.FunctionBinding{Code: fn.anyFunc()}
	}

	functionImports := make([]engine.FunctionBinding, 0, len(m.Functions.Imports))
	for _, fn := range mi.functions[:len(m.Functions.Imports)] {
		code := fn.anyFunc()
		if fn.callingConvention != ir.CallingConventionWasm {
			code = engine.GetIntrinsicThunk(code, fn.typ, fn.callingConvention)
		}
		functionImports = append(functionImports, engine.FunctionBinding{Code: code})
	}

	tables := make([]engine.TableBinding, len(mi.tables))
	for i, t := range mi.tables {
		tables[i] = engine.TableBinding{ID: t.id}
	}
	memories := make([]engine.MemoryBinding, len(mi.memories))
	for i, mem := range mi.memories {
		memories[i] = engine.MemoryBinding{ID: mem.id}
	}

	globals := make([]engine.GlobalBinding, len(mi.globals))
	for i, g := range mi.globals {
		binding := engine.GlobalBinding{Type: g.typ}
		if g.typ.IsMutable {
			binding.MutableGlobalIndex = g.mutableGlobalID
		} else {
			binding.ImmutableValue = &g.initialValue
		}
		globals[i] = binding
	}

	exceptionTypes := make([]engine.ExceptionTypeBinding, len(mi.exceptionTypes))
	for i, e := range mi.exceptionTypes {
		exceptionTypes[i] = engine.ExceptionTypeBinding{Type: e.typ, Object: e}
	}

	bindings := &engine.Bindings{
		Intrinsics:         intrinsics,
		Types:              m.Types,
		FunctionImports:    functionImports,
		Tables:             tables,
		Memories:           memories,
		Globals:            globals,
		ExceptionTypes:     exceptionTypes,
		DefaultMemoryID:    engine.InvalidID,
		DefaultTableID:     engine.InvalidID,
		ModuleInstance:     mi,
		TableReferenceBias: engine.TableReferenceBias(),
	}
	if mi.defaultMemory != nil {
		bindings.DefaultMemoryID = mi.defaultMemory.id
	}
	if mi.defaultTable != nil {
		bindings.DefaultTableID = mi.defaultTable.id
	}
	return bindings, nil
}

// publishExports fills the export map, rejecting duplicate names.
func publishExports(mi *ModuleInstance, m *ir.Module) error {
	for _, exp := range m.Exports {
		var exported Object
		switch exp.Kind {
		case ir.ExternFunction:
			if int(exp.Index) >= len(mi.functions) {
				return errors.Link("export %q: function index %d out of range", exp.Name, exp.Index)
			}
			exported = mi.functions[exp.Index]
		case ir.ExternTable:
			if int(exp.Index) >= len(mi.tables) {
				return errors.Link("export %q: table index %d out of range", exp.Name, exp.Index)
			}
			exported = mi.tables[exp.Index]
		case ir.ExternMemory:
			if int(exp.Index) >= len(mi.memories) {
				return errors.Link("export %q: memory index %d out of range", exp.Name, exp.Index)
			}
			exported = mi.memories[exp.Index]
		case ir.ExternGlobal:
			if int(exp.Index) >= len(mi.globals) {
				return errors.Link("export %q: global index %d out of range", exp.Name, exp.Index)
			}
			exported = mi.globals[exp.Index]
		case ir.ExternExceptionType:
			if int(exp.Index) >= len(mi.exceptionTypes) {
				return errors.Link("export %q: exception-type index %d out of range", exp.Name, exp.Index)
			}
			exported = mi.exceptionTypes[exp.Index]
		default:
			return errors.Link("export %q has invalid kind", exp.Name)
		}
		if _, exists := mi.exportMap[exp.Name]; exists {
			return errors.Link("duplicate export name %q", exp.Name)
		}
		mi.exportMap[exp.Name] = exported
	}
	return nil
}

// copyDataSegments copies active data segments into their memories.
// An empty segment still faults when its base offset is out of bounds.
func copyDataSegments(mi *ModuleInstance, m *ir.Module) error {
	for i, seg := range m.DataSegments {
		if !seg.IsActive {
			continue
		}
		if int(seg.MemoryIndex) >= len(mi.memories) {
			return errors.Link("data segment %d: memory index %d out of range", i, seg.MemoryIndex)
		}
		memory := mi.memories[seg.MemoryIndex]

		baseValue, err := evaluateInitializer(mi.globals, seg.BaseOffset)
		if err != nil {
			return err
		}
		if baseValue.Type != ir.ValueTypeI32 {
			return errors.Link("data segment %d: base offset must be i32, is %s", i, baseValue.Type)
		}
		baseOffset := uint64(uint32(baseValue.Bits))

		if len(seg.Data) != 0 {
			if err := memory.WriteBytes(baseOffset, seg.Data); err != nil {
				return err
			}
		} else if baseOffset > memory.NumPages()*ir.NumBytesPerPage {
			return errors.OutOfBoundsMemory(memory, baseOffset)
		}
	}
	return nil
}

// copyElemSegments installs active element segments into their tables
// through the release-ordered element write.
func copyElemSegments(mi *ModuleInstance, m *ir.Module) error {
	for i, seg := range m.ElemSegments {
		if !seg.IsActive {
			continue
		}
		if int(seg.TableIndex) >= len(mi.tables) {
			return errors.Link("element segment %d: table index %d out of range", i, seg.TableIndex)
		}
		table := mi.tables[seg.TableIndex]

		baseValue, err := evaluateInitializer(mi.globals, seg.BaseOffset)
		if err != nil {
			return err
		}
		if baseValue.Type != ir.ValueTypeI32 {
			return errors.Link("element segment %d: base offset must be i32, is %s", i, baseValue.Type)
		}
		baseOffset := uint64(uint32(baseValue.Bits))

		if len(seg.Indices) != 0 {
			for j, fnIndex := range seg.Indices {
				if int(fnIndex) >= len(mi.functions) {
					return errors.Link("element segment %d: function index %d out of range", i, fnIndex)
				}
				if err := SetTableElement(table, baseOffset+uint64(j), mi.functions[fnIndex]); err != nil {
					return err
				}
			}
		} else if baseOffset > table.NumElements() {
			return errors.OutOfBoundsTable(table, baseOffset)
		}
	}
	return nil
}
