package jsbridge

import "fmt"

// ContextPtr identifies one execution context inside a native engine.
// ContextPtr 0 is never a valid context.
type ContextPtr uint32

// RawValue is an engine value as the native ABI passes it. Its encoding is
// private to the engine; hosts compare it only for identity.
type RawValue uint64

// BufferPtr addresses a temporary buffer owned by the engine.
// BufferPtr 0 is the null buffer.
type BufferPtr uint32

func (p ContextPtr) String() string { return fmt.Sprintf("ContextPtr(0x%x)", uint32(p)) }
func (v RawValue) String() string   { return fmt.Sprintf("RawValue(0x%x)", uint64(v)) }
func (p BufferPtr) String() string  { return fmt.Sprintf("BufferPtr(0x%x)", uint32(p)) }

// Kind classifies an engine value.
type Kind uint8

const (
	KindInvalid Kind = iota
	KindUndefined
	KindNull
	KindBool
	KindNumber
	KindBigInt
	KindString
	KindSymbol
	KindObject
	KindFunction
)

var kindNames = [...]string{
	KindInvalid:   "invalid",
	KindUndefined: "undefined",
	KindNull:      "null",
	KindBool:      "boolean",
	KindNumber:    "number",
	KindBigInt:    "bigint",
	KindString:    "string",
	KindSymbol:    "symbol",
	KindObject:    "object",
	KindFunction:  "function",
}

func (k Kind) String() string {
	if int(k) < len(kindNames) {
		return kindNames[k]
	}
	return fmt.Sprintf("Kind(%d)", uint8(k))
}

// Native is the C-like ABI a JavaScript engine exposes to the host.
//
// Methods mirror the engine's own calling convention: value-producing calls
// return either a value carrying one reference or the failure sentinel, in
// which case an exception is pending on the context until GetException takes
// it. The error results report failures of the call itself (a trap, a closed
// engine) and never carry JavaScript exceptions.
//
// Implementations need not be safe for interleaved use of one context.
type Native interface {
	// NewContext creates an execution context.
	NewContext() (ContextPtr, error)

	// FreeContext destroys a context. Values and buffers still alive at this
	// point are leaks; implementations that can detect them report them in
	// the returned error after tearing the context down anyway.
	FreeContext(ctx ContextPtr) error

	// NewStringLen creates a string from UTF-8 bytes. The engine copies s.
	NewStringLen(ctx ContextPtr, s string) (RawValue, error)

	// ToCStringLen renders v as UTF-8 into a temporary engine buffer of n
	// bytes. A zero BufferPtr means the conversion failed; an exception may
	// be pending.
	ToCStringLen(ctx ContextPtr, v RawValue) (buf BufferPtr, n uint32, err error)

	// ReadBuffer returns a view of n bytes at buf. The view is only valid
	// until the next call into the engine.
	ReadBuffer(buf BufferPtr, n uint32) ([]byte, bool)

	// FreeCString releases a buffer returned by ToCStringLen.
	FreeCString(ctx ContextPtr, buf BufferPtr) error

	// GetException takes the pending exception, leaving the slot empty.
	GetException(ctx ContextPtr) (RawValue, error)

	// IsException reports whether v is the failure sentinel.
	IsException(v RawValue) bool

	// DupValue takes an additional reference to v.
	DupValue(ctx ContextPtr, v RawValue) (RawValue, error)

	// FreeValue releases one reference to v.
	FreeValue(ctx ContextPtr, v RawValue) error

	// Eval evaluates script source as a global script.
	Eval(ctx ContextPtr, code, filename string) (RawValue, error)

	// Call invokes fn with an undefined receiver. Arguments are borrowed.
	Call(ctx ContextPtr, fn RawValue, args []RawValue) (RawValue, error)

	// GetProperty reads obj[name].
	GetProperty(ctx ContextPtr, obj RawValue, name string) (RawValue, error)

	// KindOf classifies v.
	KindOf(ctx ContextPtr, v RawValue) (Kind, error)
}
