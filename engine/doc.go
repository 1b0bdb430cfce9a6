// Package engine runs QuickJS compiled to WebAssembly and exposes it as a
// jsbridge.Native.
//
// # Architecture
//
// The engine package provides three main types:
//
//	WazeroEngine   - Owns a wazero runtime and compiles modules
//	WazeroModule   - A compiled QuickJS build whose exports have been checked
//	WazeroInstance - A running guest with one JavaScript runtime; implements jsbridge.Native
//
// # Instantiation Flow
//
//  1. WazeroEngine.LoadModule() compiles the binary and verifies every
//     required export and its signature, returning *errors.MissingExportsError
//     listing all problems at once
//  2. WazeroModule.Instantiate() provides WASI if the build imports it, runs
//     _initialize, and creates the JavaScript runtime
//  3. WazeroInstance serves NewContext, Eval, Call and the string and
//     refcount primitives
//
// # Value Representation
//
// On wasm32 QuickJS NaN-boxes a JSValue into 64 bits with the tag in the
// high word, so values cross the boundary as i64 and are never
// dereferenced by the host:
//
//	Tag     Meaning
//	──────────────────────
//	-7/-6   string / rope
//	-8      symbol
//	-1      object
//	0       int
//	1       bool
//	2       null
//	3       undefined
//	6       exception (failure sentinel)
//	other   float64 payload
//
// # Memory
//
// Host strings are copied into guest memory allocated with the build's
// malloc and freed after the call. Buffers returned by ToCStringLen live in
// guest memory and must be released with FreeCString; a view from
// ReadBuffer is only valid until the next guest call.
//
// # Configuration
//
//	eng, err := engine.NewWazeroEngineWithConfig(ctx, &engine.Config{
//	    MemoryLimitPages: 1024, // 64MB
//	})
//
// # Thread Safety
//
// WazeroEngine and WazeroModule are safe for concurrent use. A
// WazeroInstance serialises guest calls with a mutex.
package engine
