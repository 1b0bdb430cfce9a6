package gojavm

import (
	"fmt"
	"reflect"
	"strings"
	"unicode/utf16"
	"unicode/utf8"

	"github.com/dop251/goja"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/resource"
)

const heapValue uint32 = 1

const (
	getSource = `(function (o, k) { return o[k]; })`

	// Symbols throw as in ToString; everything else is split into UTF-16
	// code units so lone surrogates survive.
	unitsSource = `(function (v) {
	if (typeof v === "symbol") throw new TypeError("cannot convert symbol to string");
	var s = String(v), n = s.length, a = new Array(n);
	for (var i = 0; i < n; i++) a[i] = s.charCodeAt(i);
	return a;
})`
)

type vmContext struct {
	rt      *goja.Runtime
	heap    *resource.LocalBackend
	objects map[*goja.Object]resource.Handle
	pending goja.Value
	get     goja.Callable
	units   goja.Callable
	ptr     jsbridge.ContextPtr
}

func newVMContext(ptr jsbridge.ContextPtr, cfg Config) (*vmContext, error) {
	rt := goja.New()
	if cfg.MaxCallStackSize > 0 {
		rt.SetMaxCallStackSize(cfg.MaxCallStackSize)
	}

	get, err := helper(rt, getSource)
	if err != nil {
		return nil, err
	}
	units, err := helper(rt, unitsSource)
	if err != nil {
		return nil, err
	}

	return &vmContext{
		rt:      rt,
		heap:    resource.NewLocalBackend(),
		objects: make(map[*goja.Object]resource.Handle),
		get:     get,
		units:   units,
		ptr:     ptr,
	}, nil
}

func helper(rt *goja.Runtime, src string) (goja.Callable, error) {
	v, err := rt.RunString(src)
	if err != nil {
		return nil, errors.Wrap(errors.PhaseRuntime, errors.KindUnknown, err, "install context helper")
	}
	fn, ok := goja.AssertFunction(v)
	if !ok {
		return nil, errors.Unknown(errors.PhaseRuntime, "context helper is not a function")
	}
	return fn, nil
}

func (c *vmContext) close() {
	c.heap.Close()
	c.objects = nil
	c.pending = nil
}

func (c *vmContext) sentinel() jsbridge.RawValue {
	return rawValue(c.ptr, 0)
}

// intern stores v in the heap with one new reference. Objects keep a
// single slot for their lifetime in the heap.
func (c *vmContext) intern(v goja.Value) (jsbridge.RawValue, error) {
	if v == nil {
		v = goja.Undefined()
	}
	if obj, ok := v.(*goja.Object); ok {
		if h, ok := c.objects[obj]; ok {
			if _, err := c.heap.Retain(h); err != nil {
				return 0, errors.Wrap(errors.PhaseRuntime, errors.KindUnknown, err, "retain object")
			}
			return rawValue(c.ptr, h), nil
		}
		h, err := c.heap.Create(heapValue, v)
		if err != nil {
			return 0, errors.Wrap(errors.PhaseRuntime, errors.KindUnknown, err, "intern object")
		}
		c.objects[obj] = h
		return rawValue(c.ptr, h), nil
	}

	h, err := c.heap.Create(heapValue, v)
	if err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindUnknown, err, "intern value")
	}
	return rawValue(c.ptr, h), nil
}

func (c *vmContext) release(v jsbridge.RawValue) error {
	h := handleOf(v)
	val, remaining, ok := c.heap.Release(h)
	if !ok {
		return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("free of dead value %s", v))
	}
	if remaining == 0 {
		if obj, ok := val.(*goja.Object); ok {
			delete(c.objects, obj)
		}
	}
	return nil
}

func (c *vmContext) checkOwner(v jsbridge.RawValue, phase errors.Phase) error {
	if contextOf(v) != c.ptr {
		return errors.InvalidInput(phase, fmt.Sprintf("%s does not belong to %s", v, c.ptr))
	}
	return nil
}

func (c *vmContext) value(v jsbridge.RawValue, phase errors.Phase) (goja.Value, error) {
	if err := c.checkOwner(v, phase); err != nil {
		return nil, err
	}
	val, ok := c.heap.Get(handleOf(v))
	if !ok {
		return nil, errors.InvalidInput(phase, fmt.Sprintf("dead value %s", v))
	}
	return val.(goja.Value), nil
}

func (c *vmContext) newString(s string) (jsbridge.RawValue, error) {
	return c.intern(c.rt.ToValue(s))
}

// throw parks err as the pending exception.
func (c *vmContext) throw(err error) {
	if ex, ok := err.(*goja.Exception); ok {
		c.pending = ex.Value()
		return
	}
	c.pending = c.rt.NewGoError(err)
}

func (c *vmContext) throwError(ctor, msg string) {
	obj, err := c.rt.New(c.rt.Get(ctor), c.rt.ToValue(msg))
	if err != nil {
		c.throw(err)
		return
	}
	c.pending = obj
}

// render converts v to bytes as ToString would. It returns false with the
// exception pending when conversion throws.
func (c *vmContext) render(v goja.Value) ([]byte, bool) {
	switch v.(type) {
	case *goja.Object, *goja.Symbol:
	default:
		if s := v.String(); !strings.ContainsRune(s, utf8.RuneError) {
			return []byte(s), true
		}
	}

	res, err := c.units(goja.Undefined(), v)
	if err != nil {
		c.throw(err)
		return nil, false
	}
	var units []uint16
	if err := c.rt.ExportTo(res, &units); err != nil {
		c.throw(err)
		return nil, false
	}
	return appendWTF8(make([]byte, 0, len(units)), units), true
}

// appendWTF8 encodes UTF-16 code units, writing unpaired surrogates as
// their three-byte generalized UTF-8 form.
func appendWTF8(dst []byte, units []uint16) []byte {
	for i := 0; i < len(units); i++ {
		u := rune(units[i])
		if utf16.IsSurrogate(u) && u < 0xDC00 && i+1 < len(units) {
			if r := utf16.DecodeRune(u, rune(units[i+1])); r != utf8.RuneError {
				dst = utf8.AppendRune(dst, r)
				i++
				continue
			}
		}
		if utf16.IsSurrogate(u) {
			dst = append(dst, 0xE0|byte(u>>12), 0x80|byte(u>>6)&0x3F, 0x80|byte(u)&0x3F)
			continue
		}
		dst = utf8.AppendRune(dst, u)
	}
	return dst
}

func kindOf(v goja.Value) jsbridge.Kind {
	switch {
	case v == nil || goja.IsUndefined(v):
		return jsbridge.KindUndefined
	case goja.IsNull(v):
		return jsbridge.KindNull
	}

	switch o := v.(type) {
	case *goja.Symbol:
		return jsbridge.KindSymbol
	case *goja.Object:
		if _, ok := goja.AssertFunction(o); ok {
			return jsbridge.KindFunction
		}
		return jsbridge.KindObject
	}

	t := v.ExportType()
	if t == nil {
		return jsbridge.KindInvalid
	}
	switch t.Kind() {
	case reflect.Bool:
		return jsbridge.KindBool
	case reflect.String:
		return jsbridge.KindString
	case reflect.Int, reflect.Int64, reflect.Float64:
		return jsbridge.KindNumber
	}
	return jsbridge.KindInvalid
}
