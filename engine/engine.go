package engine

import (
	"go.uber.org/zap"

	"github.com/wippyai/wasm-core/errors"
	"github.com/wippyai/wasm-core/ir"
)

// Config holds configuration for engine creation.
type Config struct {
	// MaxCallDepth bounds guest call nesting. 0 means the default
	// (4096 frames).
	MaxCallDepth int
}

const defaultMaxCallDepth = 4096

// Engine lowers IR to object code and executes loaded object code on a
// flat-bytecode interpreter. The zero Config is usable.
type Engine struct {
	maxCallDepth int
}

// New creates an engine with the default configuration.
func New() *Engine {
	return NewWithConfig(Config{})
}

// NewWithConfig creates an engine with a custom configuration.
func NewWithConfig(cfg Config) *Engine {
	depth := cfg.MaxCallDepth
	if depth <= 0 {
		depth = defaultMaxCallDepth
	}
	return &Engine{maxCallDepth: depth}
}

// Compile lowers the module's IR to object code. The output is a pure
// function of the IR: equal modules yield bitwise-equal object code.
func (e *Engine) Compile(module *ir.Module) ([]byte, error) {
	c := &compiler{module: module}
	code, err := c.compile()
	if err != nil {
		return nil, err
	}
	Logger().Debug("compiled module",
		zap.Int("functionDefs", len(module.Functions.Defs)),
		zap.Int("objectCodeBytes", len(code)))
	return code, nil
}

// Load binds object code against bindings and returns the loaded module
// plus one JITFunction per defined function, in definition order.
func (e *Engine) Load(objectCode []byte, bindings *Bindings) (*LoadedModule, []*JITFunction, error) {
	obj, err := parseObjectCode(objectCode)
	if err != nil {
		return nil, nil, err
	}

	m := &LoadedModule{
		engine:   e,
		bindings: bindings,
		memoryID: bindings.DefaultMemoryID,
		tableID:  bindings.DefaultTableID,
	}

	// Resolve the intrinsic references the object code carries.
	m.intrinsicNames = obj.intrinsics
	m.intrinsicEntries = make([]Entry, len(obj.intrinsics))
	for i, name := range obj.intrinsics {
		binding, ok := bindings.Intrinsics[name]
		if !ok || binding.Code == nil || binding.Code.Entry == nil {
			return nil, nil, errors.New(errors.PhaseLoad, errors.KindLink).
				Detail("unresolved intrinsic %q", name).Build()
		}
		m.intrinsicEntries[i] = binding.Code.Entry
	}

	// The full function index space: imports then defs.
	m.funcTypes = make([]ir.FunctionType, 0, len(bindings.FunctionImports)+len(obj.defs))
	for _, imp := range bindings.FunctionImports {
		m.funcTypes = append(m.funcTypes, imp.Code.Type)
	}
	for _, def := range obj.defs {
		if def.typeIndex >= uint32(len(bindings.Types)) {
			return nil, nil, errors.New(errors.PhaseLoad, errors.KindInvalidModule).
				Detail("function type index %d out of range", def.typeIndex).Build()
		}
		m.funcTypes = append(m.funcTypes, bindings.Types[def.typeIndex])
	}

	numImports := len(bindings.FunctionImports)
	m.funcs = make([]*loadedFunction, len(obj.defs))
	jitFunctions := make([]*JITFunction, len(obj.defs))
	for i, def := range obj.defs {
		lf, err := lower(m, def, uint32(numImports+i))
		if err != nil {
			return nil, nil, err
		}
		m.funcs[i] = lf

		jf := &JITFunction{
			Type:     JITFunctionTypeUnknown,
			NumBytes: uint64(len(lf.code)),
			Entry:    lf.entry(),
		}
		registerJITFunction(jf)
		jitFunctions[i] = jf
	}
	m.jitFunctions = jitFunctions

	Logger().Debug("loaded module",
		zap.Int("functionDefs", len(obj.defs)),
		zap.Int("intrinsics", len(obj.intrinsics)))
	return m, jitFunctions, nil
}

// Unload releases a loaded module and unregisters its functions from
// the address map.
func (e *Engine) Unload(loaded *LoadedModule) {
	if loaded == nil {
		return
	}
	for _, jf := range loaded.jitFunctions {
		unregisterJITFunction(jf)
	}
	loaded.jitFunctions = nil
	loaded.funcs = nil
}

// LoadedModule is the engine's half of one loaded instantiation.
type LoadedModule struct {
	engine   *Engine
	bindings *Bindings

	funcs        []*loadedFunction
	jitFunctions []*JITFunction

	funcTypes        []ir.FunctionType
	intrinsicNames   []string
	intrinsicEntries []Entry

	// immutable-global values referenced by loaded code, interned so
	// flat ops can address them by index
	immValues []*ir.UntaggedValue

	memoryID uint32
	tableID  uint32
}

// internImmutable returns a stable index for an immutable global's
// stored value pointer.
func (m *LoadedModule) internImmutable(v *ir.UntaggedValue) int {
	for i, existing := range m.immValues {
		if existing == v {
			return i
		}
	}
	m.immValues = append(m.immValues, v)
	return len(m.immValues) - 1
}

// loadedFunction is one lowered function definition.
type loadedFunction struct {
	module    *LoadedModule
	funcIndex uint32
	typ       ir.FunctionType
	numLocals int
	code      []flatOp
	maxStack  int
}

// entry wraps the function for the uniform native calling convention.
func (lf *loadedFunction) entry() Entry {
	return func(ctx *ContextRuntimeData, args []uint64) ([]uint64, error) {
		return lf.module.invoke(lf, ctx, args)
	}
}
