// Package jsbridge provides a memory-safe boundary between Go and an embedded,
// reference-counted JavaScript engine.
//
// The engine itself is an opaque native component. This module governs how
// host code acquires, uses and releases handles to values that live inside
// the engine's heap, how strings cross between Go and the engine's internal
// encoding, and how the engine's pending-exception state becomes a Go error.
//
// # Architecture Overview
//
//	jsbridge/        Root package with the Native engine interface and raw types
//	├── js/          Context, Value, String and Function: the safe host API
//	├── errors/      Structured error types (exception, invalid UTF-8, unknown)
//	├── resource/    Refcounted handle tables with lifecycle observers
//	├── gojavm/      Native engine backed by goja, with leak diagnostics
//	├── engine/      Native engine backed by a QuickJS WebAssembly build on wazero
//	└── testbed/     Conformance tests run against every engine
//
// # Quick Start
//
//	vm, err := gojavm.New(nil)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	ctx, err := js.NewContext(vm)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer ctx.Close()
//
//	fn, err := ctx.EvalFunction(`(x) => x + "bar"`)
//	if err != nil {
//	    log.Fatal(err)
//	}
//	defer fn.Free()
//
//	s, _ := ctx.NewString("foo")
//	defer s.Free()
//
//	out, err := fn.Call(s)
//	...
//
// # Ownership
//
// Every js.Value holds one engine reference. Clone takes another, Free
// releases exactly one. The engine value is destroyed when its last
// reference is released. A Value must not outlive the Context that created
// it; Context.Close releases whatever is still live before tearing the
// native context down.
//
// # Thread Safety
//
// An engine context is single-threaded and non-reentrant. js.Context and
// the values created from it must be used by one goroutine at a time.
package jsbridge
