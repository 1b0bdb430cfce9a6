// Package errors provides structured error types for the jsbridge module.
//
// Errors are categorized by Phase (where the error occurred) and Kind (error category).
// The Error type carries the detail text, the offending value, an optional
// JavaScript stack, and a cause chain.
//
// Three kinds describe failures at the engine boundary:
//
//	KindException   the engine threw; Detail holds the rendered exception
//	KindInvalidUTF8 bytes crossing the boundary were not valid UTF-8
//	KindUnknown     the engine failed without further detail
//
// Use the Builder for structured error construction:
//
//	err := errors.New(errors.PhaseCall, errors.KindException).
//		Detail("TypeError: not a function").
//		Stack(stack).
//		Build()
//
// Or use convenience constructors for common patterns:
//
//	err := errors.Exception(errors.PhaseCall, msg, stack)
//	err := errors.InvalidUTF8(errors.PhaseDecode, data)
//
// All errors implement the standard error interface and support errors.Is/As.
// The ErrException, ErrInvalidUTF8 and ErrUnknown targets match on kind alone:
//
//	if errors.Is(err, errors.ErrException) { ... }
package errors
