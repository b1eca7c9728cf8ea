package runtime

import (
	wasmcore "github.com/wippyai/wasm-core"
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/ir"
)

// activeEngine is the compiler/loader the runtime drives. Replaceable
// before any module is compiled.
var activeEngine wasmcore.Engine = engine.New()

// SetEngine replaces the engine used by CompileModule and
// InstantiateModule. Modules compiled by one engine must not be loaded
// by another.
func SetEngine(e wasmcore.Engine) {
	if e != nil {
		activeEngine = e
	}
}

// Module is a compiled module: the immutable pair of its IR and the
// object code the engine lowered it to.
type Module struct {
	gcHeader
	ir         *ir.Module
	objectCode []byte
}

// CompileModule lowers a module's IR through the engine and wraps the
// result.
func CompileModule(irModule *ir.Module) (*Module, error) {
	objectCode, err := activeEngine.Compile(irModule)
	if err != nil {
		return nil, err
	}
	m := &Module{ir: irModule, objectCode: objectCode}
	registerObject(m, KindModule)
	return m, nil
}

// LoadPrecompiledModule wraps IR with object code produced by an
// earlier CompileModule, for AOT caches.
func LoadPrecompiledModule(irModule *ir.Module, objectCode []byte) *Module {
	m := &Module{ir: irModule, objectCode: append([]byte(nil), objectCode...)}
	registerObject(m, KindModule)
	return m
}

// IR returns the module's IR.
func (m *Module) IR() *ir.Module { return m.ir }

// GetObjectCode returns a copy of the module's object code, suitable
// for external serialization next to the IR.
func GetObjectCode(m *Module) []byte {
	return append([]byte(nil), m.objectCode...)
}
