// Package errors provides structured error types for the wasm-core runtime.
//
// Errors are categorized by Phase (where the error occurred) and Kind
// (error category). The Error type carries the offending objects and
// addresses alongside a cause chain.
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseInstantiate, errors.KindLink).
//		Detail("duplicate export name").
//		Arg("main").
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.OutOfBoundsMemory(memory, address)
//	err := errors.ResourceIDExhausted("memory")
//
// All errors implement the standard error interface and support
// errors.Is/As; Is matches on Phase and Kind.
package errors
