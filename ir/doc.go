// Package ir is the in-memory representation of a WebAssembly module
// consumed by the engine and the runtime: value and object types,
// initializer expressions, the instruction subset, import/definition
// index spaces, segments, and debug names.
//
// The package also emits the IR as a standard wasm binary (EncodeModule)
// so modules can be exchanged with other runtimes; the engine's own
// object-code format lives in the engine package.
//
// Decoding and validation are external collaborators: IR handed to this
// module is assumed validated.
package ir
