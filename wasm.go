package wasmcore

import (
	"github.com/wippyai/wasm-core/engine"
	"github.com/wippyai/wasm-core/ir"
)

// Engine lowers module IR to object code and binds loaded object code to
// the runtime data of a compartment. The runtime package drives the
// default bytecode engine through this interface; alternative backends
// satisfy it as well.
type Engine interface {
	// Compile lowers a module's IR to object code. Deterministic: equal
	// IR yields bitwise-equal object code.
	Compile(module *ir.Module) ([]byte, error)

	// Load binds object code against the given bindings and returns the
	// loaded module plus one JITFunction per defined function, in
	// definition order.
	Load(objectCode []byte, bindings *engine.Bindings) (*engine.LoadedModule, []*engine.JITFunction, error)

	// Unload releases a loaded module and unregisters its functions from
	// the address map.
	Unload(loaded *engine.LoadedModule)
}
