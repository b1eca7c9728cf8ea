// Package runtime is the core object model of the WebAssembly runtime:
// compartments, linear memories, tables, globals, exception types,
// function instances, module instances, and execution contexts,
// together with the process-wide object registry, the stop-the-world
// mark/sweep collector that reclaims unreachable objects, and the
// instantiation pipeline that wires a compiled module into a
// compartment.
//
// Every object is created through a factory that registers it with the
// collector; destruction happens only through CollectGarbage. External
// code pins objects against collection with AddGCRoot/RemoveGCRoot.
package runtime
