package js

import (
	"strings"

	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
)

const unprintable = "exception (unprintable)"

// checkException routes the result of a value-producing native call. A
// failure of the call itself becomes an unknown error; the failure sentinel
// is replaced by the pending exception, which is taken and released.
func (c *Context) checkException(phase errors.Phase, raw jsbridge.RawValue, err error) (jsbridge.RawValue, error) {
	if err != nil {
		return 0, nativeError(phase, err, "native call")
	}
	if !c.native.IsException(raw) {
		return raw, nil
	}
	return 0, c.takeException(phase)
}

func (c *Context) takeException(phase errors.Phase) *errors.Error {
	exc, err := c.native.GetException(c.ptr)
	if err != nil {
		return nativeError(phase, err, "get exception")
	}
	defer c.freeRaw(exc)

	msg, ok := c.renderLossy(exc)
	if !ok {
		c.drainException()
		msg = unprintable
	}
	return errors.Exception(phase, msg, c.stackOf(exc))
}

// stackOf returns the stack property of an error object, or "".
func (c *Context) stackOf(exc jsbridge.RawValue) string {
	if k, err := c.native.KindOf(c.ptr, exc); err != nil || k != jsbridge.KindObject {
		return ""
	}
	raw, err := c.native.GetProperty(c.ptr, exc, "stack")
	if err != nil {
		return ""
	}
	if c.native.IsException(raw) {
		c.drainException()
		return ""
	}
	defer c.freeRaw(raw)

	if k, err := c.native.KindOf(c.ptr, raw); err != nil || k != jsbridge.KindString {
		return ""
	}
	stack, ok := c.renderLossy(raw)
	if !ok {
		c.drainException()
		return ""
	}
	return strings.TrimRight(stack, "\n")
}

// renderLossy converts raw to text for diagnostics, replacing invalid
// UTF-8. It reports false if the engine could not produce a buffer.
func (c *Context) renderLossy(raw jsbridge.RawValue) (string, bool) {
	buf, n, err := c.native.ToCStringLen(c.ptr, raw)
	if err != nil || buf == 0 {
		return "", false
	}
	defer c.freeBuffer(buf)

	data, ok := c.native.ReadBuffer(buf, n)
	if !ok {
		return "", false
	}
	return strings.ToValidUTF8(string(data), "\uFFFD"), true
}

// drainException discards whatever exception is pending.
func (c *Context) drainException() {
	exc, err := c.native.GetException(c.ptr)
	if err != nil {
		Logger().Warn("drain exception failed", zap.Stringer("context", c.ptr), zap.Error(err))
		return
	}
	c.freeRaw(exc)
}

func (c *Context) freeBuffer(buf jsbridge.BufferPtr) {
	if err := c.native.FreeCString(c.ptr, buf); err != nil {
		Logger().Warn("free buffer failed", zap.Stringer("buffer", buf), zap.Error(err))
	}
}

// nativeError passes structured errors through and classifies anything
// else as unknown.
func nativeError(phase errors.Phase, err error, detail string) *errors.Error {
	if e, ok := err.(*errors.Error); ok {
		return e
	}
	return errors.Wrap(phase, errors.KindUnknown, err, detail)
}
