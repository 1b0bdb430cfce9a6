// Package js is the host-side safety layer over a jsbridge.Native engine.
//
// A Context wraps one native context and tracks every reference the host
// holds into it. A Value owns exactly one engine reference: Clone takes
// another, Free gives it back, and freeing twice is a no-op. String and
// Function are typed views of a Value that share its reference.
//
//	ctx, err := js.NewContext(engine)
//	if err != nil {
//		return err
//	}
//	defer ctx.Close()
//
//	s, err := ctx.NewString("foo")
//	if err != nil {
//		return err
//	}
//	defer s.Free()
//
// Every value-producing engine call is checked for the failure sentinel.
// When the engine reports one, the pending exception is taken, rendered to
// text together with its stack, released, and returned as an
// *errors.Error of kind exception. Strings leaving the engine are validated
// as UTF-8 without substitution.
//
// Using a Value after Free, or after its Context is closed, panics. Engine
// failures never panic.
//
// A Context and its values must not be used from more than one goroutine at
// a time.
package js
