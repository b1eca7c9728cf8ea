// Package engine is the compiler/loader boundary of the runtime core
// and its default implementation.
//
// Compile lowers module IR to a deterministic object-code format; Load
// binds object code against a Bindings value (imports, table and memory
// ids, global slots, intrinsics) and returns one JITFunction per
// defined function. Loaded functions execute on a flat-bytecode
// interpreter that addresses memories and tables through the
// runtime-data block of the calling context, exactly as compiled native
// code would through the same ids.
//
// The package also owns the runtime-data ABI structs (ContextRuntimeData,
// MemoryData, TableData), the invoke- and intrinsic-thunk caches, and
// the address map used to resolve stack addresses back to functions.
package engine
