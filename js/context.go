package js

import (
	"unicode/utf8"

	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/resource"
)

const refValue uint32 = 1

// DefaultFilename names scripts passed to Eval.
const DefaultFilename = "<eval>"

// Context is a native execution context and the table of references the
// host holds into it.
type Context struct {
	native jsbridge.Native
	refs   *resource.UnifiedTable
	ptr    jsbridge.ContextPtr
	closed bool
}

// NewContext creates a context on native.
func NewContext(native jsbridge.Native) (*Context, error) {
	if native == nil {
		return nil, errors.InvalidInput(errors.PhaseRuntime, "nil native engine")
	}
	ptr, err := native.NewContext()
	if err != nil {
		return nil, nativeError(errors.PhaseRuntime, err, "create context")
	}
	if ptr == 0 {
		return nil, errors.Unknown(errors.PhaseRuntime, "engine returned a null context")
	}

	c := &Context{
		native: native,
		refs:   resource.NewTable(),
		ptr:    ptr,
	}
	if Logger().Core().Enabled(zap.DebugLevel) {
		c.refs.Subscribe(resource.ObserverFunc(c.logRef))
	}
	return c, nil
}

func (c *Context) logRef(e resource.Event) {
	fields := []zap.Field{
		zap.Stringer("context", c.ptr),
		zap.Uint32("handle", uint32(e.Handle)),
		zap.Stringer("event", e.Type),
	}
	if r, ok := e.Value.(*liveRef); ok {
		fields = append(fields, zap.Stringer("raw", r.v.raw))
	}
	Logger().Debug("reference", fields...)
}

// Pointer returns the native context pointer.
func (c *Context) Pointer() jsbridge.ContextPtr { return c.ptr }

// Native returns the engine the context runs on.
func (c *Context) Native() jsbridge.Native { return c.native }

// Live returns the number of references the host still holds.
func (c *Context) Live() int { return c.refs.Len() }

// Closed reports whether Close has been called.
func (c *Context) Closed() bool { return c.closed }

// Close releases every reference still held and destroys the native
// context. Later calls are no-ops.
func (c *Context) Close() error {
	if c.closed {
		return nil
	}

	var live []*liveRef
	c.refs.Each(func(_ resource.Handle, _ uint32, v any) bool {
		live = append(live, v.(*liveRef))
		return true
	})
	if len(live) > 0 {
		Logger().Warn("releasing live references at context close",
			zap.Stringer("context", c.ptr), zap.Int("count", len(live)))
	}

	var errs error
	c.refs.Clear()
	for _, r := range live {
		errs = multierr.Append(errs, r.err)
	}
	errs = multierr.Append(errs, c.refs.Close())
	c.closed = true

	if err := c.native.FreeContext(c.ptr); err != nil {
		errs = multierr.Append(errs, nativeError(errors.PhaseRuntime, err, "free context"))
	}
	return errs
}

// Eval evaluates code as a global script.
func (c *Context) Eval(code string) (*Value, error) {
	return c.EvalWithFilename(code, DefaultFilename)
}

// EvalWithFilename evaluates code, attributing it to filename in stack
// traces.
func (c *Context) EvalWithFilename(code, filename string) (*Value, error) {
	c.mustOpen()
	raw, err := c.native.Eval(c.ptr, code, filename)
	raw, err = c.checkException(errors.PhaseCall, raw, err)
	if err != nil {
		return nil, err
	}
	return c.wrap(raw), nil
}

// EvalFunction evaluates code that must produce a function.
func (c *Context) EvalFunction(code string) (Function, error) {
	v, err := c.Eval(code)
	if err != nil {
		return Function{}, err
	}
	fn, err := v.AsFunction()
	if err != nil {
		v.Free()
		return Function{}, err
	}
	return fn, nil
}

// NewString creates an engine string holding a copy of s. s must be valid
// UTF-8; invalid bytes are rejected, not replaced.
func (c *Context) NewString(s string) (String, error) {
	c.mustOpen()
	if !utf8.ValidString(s) {
		return String{}, errors.InvalidUTF8(errors.PhaseEncode, []byte(s))
	}
	raw, err := c.native.NewStringLen(c.ptr, s)
	raw, err = c.checkException(errors.PhaseEncode, raw, err)
	if err != nil {
		return String{}, err
	}
	return String{c.wrap(raw)}, nil
}

// NewStringFromBytes creates an engine string from UTF-8 bytes.
func (c *Context) NewStringFromBytes(b []byte) (String, error) {
	return c.NewString(string(b))
}

// wrap takes ownership of a raw value that already carries a reference.
func (c *Context) wrap(raw jsbridge.RawValue) *Value {
	c.mustOpen()
	v := &Value{ctx: c, raw: raw}
	v.handle = c.refs.Insert(refValue, &liveRef{v: v})
	if v.handle == 0 {
		panic("js: reference table closed")
	}
	return v
}

func (c *Context) mustOpen() {
	if c.closed {
		panic("js: use of closed context")
	}
}

// freeRaw releases a raw value the host never wrapped.
func (c *Context) freeRaw(raw jsbridge.RawValue) {
	if err := c.native.FreeValue(c.ptr, raw); err != nil {
		Logger().Warn("free value failed", zap.Stringer("raw", raw), zap.Error(err))
	}
}

// liveRef is the table entry for a Value. The table drops it exactly once.
type liveRef struct {
	v   *Value
	err error
}

func (r *liveRef) Drop() {
	r.v.freed = true
	if err := r.v.ctx.native.FreeValue(r.v.ctx.ptr, r.v.raw); err != nil {
		r.err = nativeError(errors.PhaseRuntime, err, "free value")
	}
}
