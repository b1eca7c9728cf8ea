// Package wasmcore is the in-process object model of a WebAssembly
// execution runtime: compiled modules, module instances, linear memories,
// tables, globals, exception types, execution contexts, and the
// compartment that scopes them, together with the garbage collector that
// reclaims unreachable objects.
//
// # Architecture Overview
//
// The library is organized into several packages with distinct responsibilities:
//
//	wasmcore/            Root package with the Engine boundary interface
//	├── runtime/         Compartments, resources, instantiation, and GC
//	├── engine/          Compiler/loader boundary and the bytecode engine
//	├── ir/              Module IR, value types, and wasm-binary emission
//	└── errors/          Structured error types for runtime failures
//
// # Quick Start
//
// Compile and instantiate a module, then call an export:
//
//	compartment := runtime.NewCompartment()
//	defer runtime.RemoveGCRoot(compartment)
//
//	module, err := runtime.CompileModule(irModule)
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	instance, err := runtime.InstantiateModule(compartment, module, imports, "demo")
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	ctx, err := runtime.NewContext(compartment)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	fn := runtime.GetInstanceExport(instance, "main").(*runtime.FunctionInstance)
//	results, err = runtime.Invoke(ctx, fn, nil)
//
// # Isolation Model
//
// A Compartment owns numerically stable identifiers for its mutable
// resources (memories, tables, contexts, mutable-global slots). Compiled
// code addresses those resources by id through a per-context runtime-data
// block, so cloning a compartment preserves every guest-visible pointer.
//
// # Garbage Collection
//
// Objects are registered in a process-wide registry at construction and
// reclaimed only by runtime.CollectGarbage, a stop-the-world mark/sweep
// over the registry. External code pins objects with runtime.AddGCRoot.
//
// # Thread Safety
//
// Compartments and resources may be shared between goroutines. Contexts
// are execution-local and should be used by a single goroutine, or access
// must be synchronized.
package wasmcore
