package js

import (
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/resource"
)

// Ref is anything that holds a Value: *Value, String or Function.
type Ref interface {
	ref() *Value
}

// Value owns one reference to an engine value.
type Value struct {
	ctx    *Context
	raw    jsbridge.RawValue
	handle resource.Handle
	freed  bool
}

func (v *Value) ref() *Value { return v }

func (v *Value) check() {
	if v.freed {
		panic("js: use of freed value")
	}
	v.ctx.mustOpen()
}

// Context returns the context the value belongs to.
func (v *Value) Context() *Context { return v.ctx }

// Raw returns the engine value. It stays valid until Free.
func (v *Value) Raw() jsbridge.RawValue {
	v.check()
	return v.raw
}

// Freed reports whether the reference has been released.
func (v *Value) Freed() bool { return v.freed }

// Clone takes a new reference to the same engine value.
func (v *Value) Clone() (*Value, error) {
	v.check()
	raw, err := v.ctx.native.DupValue(v.ctx.ptr, v.raw)
	if err != nil {
		return nil, nativeError(errors.PhaseRuntime, err, "dup value")
	}
	return v.ctx.wrap(raw), nil
}

// Free releases the reference. Calling Free again, or on the zero String
// or Function an error return hands back, does nothing.
func (v *Value) Free() {
	if v == nil || v.freed {
		return
	}
	e, ok := v.ctx.refs.Remove(v.handle)
	if !ok {
		v.freed = true
		return
	}
	if r := e.(*liveRef); r.err != nil {
		Logger().Warn("free value failed", zap.Stringer("raw", v.raw), zap.Error(r.err))
	}
}

// Equal reports whether v and other name the same engine value.
func (v *Value) Equal(other Ref) bool {
	v.check()
	o := other.ref()
	o.check()
	return v.ctx == o.ctx && v.raw == o.raw
}

// Kind classifies the value.
func (v *Value) Kind() (jsbridge.Kind, error) {
	v.check()
	k, err := v.ctx.native.KindOf(v.ctx.ptr, v.raw)
	if err != nil {
		return jsbridge.KindInvalid, nativeError(errors.PhaseCall, err, "classify value")
	}
	return k, nil
}

// AsString returns a String view sharing v's reference.
func (v *Value) AsString() (String, error) {
	if err := v.expect(jsbridge.KindString); err != nil {
		return String{}, err
	}
	return String{v}, nil
}

// AsFunction returns a Function view sharing v's reference.
func (v *Value) AsFunction() (Function, error) {
	if err := v.expect(jsbridge.KindFunction); err != nil {
		return Function{}, err
	}
	return Function{v}, nil
}

func (v *Value) expect(want jsbridge.Kind) error {
	k, err := v.Kind()
	if err != nil {
		return err
	}
	if k != want {
		return errors.TypeMismatch(errors.PhaseCall, want.String(), k.String())
	}
	return nil
}

// Get reads the named property.
func (v *Value) Get(name string) (*Value, error) {
	v.check()
	raw, err := v.ctx.native.GetProperty(v.ctx.ptr, v.raw, name)
	raw, err = v.ctx.checkException(errors.PhaseCall, raw, err)
	if err != nil {
		if e, ok := err.(*errors.Error); ok {
			return nil, errors.New(e.Phase, e.Kind).
				Path(append([]string{name}, e.Path...)...).
				Value(e.Value).
				Cause(e.Cause).
				Stack(e.Stack).
				Detail(e.Detail).
				Build()
		}
		return nil, err
	}
	return v.ctx.wrap(raw), nil
}

// Function is a Value known to be callable.
type Function struct {
	*Value
}

// Call invokes the function with an undefined receiver. Arguments are
// borrowed; the result is a new reference.
func (f Function) Call(args ...Ref) (*Value, error) {
	f.check()
	raws := make([]jsbridge.RawValue, len(args))
	for i, a := range args {
		av := a.ref()
		av.check()
		if av.ctx != f.ctx {
			panic("js: argument belongs to another context")
		}
		raws[i] = av.raw
	}

	raw, err := f.ctx.native.Call(f.ctx.ptr, f.raw, raws)
	raw, err = f.ctx.checkException(errors.PhaseCall, raw, err)
	if err != nil {
		return nil, err
	}
	return f.ctx.wrap(raw), nil
}

// Clone takes a new reference to the function.
func (f Function) Clone() (Function, error) {
	v, err := f.Value.Clone()
	if err != nil {
		return Function{}, err
	}
	return Function{v}, nil
}
