// Package gojavm implements jsbridge.Native over the goja interpreter.
//
// goja is garbage collected and has no native reference counts, so the
// engine keeps its own heap per context: every value handed to the host
// occupies a refcounted slot, and the raw value is the context pointer in
// the high 32 bits and the slot handle in the low 32 bits. Slot 0 is the
// failure sentinel. Object values are interned, so duplicating an object
// and reading the same object twice yield the same raw value.
//
// A thrown value is parked in a single pending-exception slot until
// GetException takes it, matching the calling convention of C engines.
// Strings are rendered into numbered scratch buffers that must be released
// with FreeCString. Lone UTF-16 surrogates are rendered as three-byte
// sequences, which are not valid UTF-8.
//
// FreeContext reports every value and buffer still alive as a *LeakError
// after tearing the context down.
//
// Compiled programs are shared across contexts through an LRU cache keyed
// by filename and source.
package gojavm
