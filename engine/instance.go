package engine

import (
	"context"
	"fmt"
	"sync"

	"github.com/tetratelabs/wazero/api"
	"go.uber.org/multierr"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
)

var _ jsbridge.Native = (*WazeroInstance)(nil)

// exportFuncs holds the resolved guest functions.
type exportFuncs struct {
	malloc, free               api.Function
	newRuntime, freeRuntime    api.Function
	newContext, freeContext    api.Function
	newStringLen, toCStringLen api.Function
	freeCString, getException  api.Function
	dupValue, freeValue        api.Function
	eval, call, getPropertyStr api.Function
	isFunction                 api.Function
}

// WazeroInstance is one instantiated QuickJS build. It owns a single
// JavaScript runtime and implements jsbridge.Native on top of it.
// Guest calls are serialised by a mutex.
type WazeroInstance struct {
	ctx      context.Context
	module   api.Module
	memory   *WazeroMemory
	fns      exportFuncs
	contexts map[jsbridge.ContextPtr]struct{}
	stackBuf []uint64
	runtime  uint32
	scratch  uint32
	mu       sync.Mutex
	closed   bool
}

func newInstance(ctx context.Context, mod api.Module, names Exports) (*WazeroInstance, error) {
	fn := mod.ExportedFunction
	i := &WazeroInstance{
		ctx:    ctx,
		module: mod,
		memory: &WazeroMemory{mem: mod.Memory()},
		fns: exportFuncs{
			malloc:         fn(names.Malloc),
			free:           fn(names.Free),
			newRuntime:     fn(names.NewRuntime),
			freeRuntime:    fn(names.FreeRuntime),
			newContext:     fn(names.NewContext),
			freeContext:    fn(names.FreeContext),
			newStringLen:   fn(names.NewStringLen),
			toCStringLen:   fn(names.ToCStringLen),
			freeCString:    fn(names.FreeCString),
			getException:   fn(names.GetException),
			dupValue:       fn(names.DupValue),
			freeValue:      fn(names.FreeValue),
			eval:           fn(names.Eval),
			call:           fn(names.Call),
			getPropertyStr: fn(names.GetPropertyStr),
			isFunction:     fn(names.IsFunction),
		},
		contexts: make(map[jsbridge.ContextPtr]struct{}),
		stackBuf: make([]uint64, 8),
	}

	rt, err := i.invoke(errors.PhaseLoad, i.fns.newRuntime)
	if err != nil {
		return nil, err
	}
	if rt == 0 {
		return nil, errors.New(errors.PhaseLoad, errors.KindAllocation).Detail("JS_NewRuntime returned null").Build()
	}
	i.runtime = uint32(rt)

	// size_t out-parameter for ToCStringLen
	scratch, err := i.malloc(errors.PhaseLoad, 8)
	if err != nil {
		i.invoke(errors.PhaseLoad, i.fns.freeRuntime, uint64(i.runtime))
		return nil, err
	}
	i.scratch = scratch

	debugf("instance ready: runtime=0x%x memory=%d", i.runtime, i.memory.Size())
	return i, nil
}

// invoke calls fn with args through the shared stack buffer and returns the
// first result. Caller holds mu, or has exclusive access.
func (i *WazeroInstance) invoke(phase errors.Phase, fn api.Function, args ...uint64) (uint64, error) {
	copy(i.stackBuf, args)
	if err := fn.CallWithStack(i.ctx, i.stackBuf); err != nil {
		return 0, errors.Wrap(phase, errors.KindUnknown, err, fmt.Sprintf("call %s", fn.Definition().Name()))
	}
	return i.stackBuf[0], nil
}

func (i *WazeroInstance) malloc(phase errors.Phase, size uint32) (uint32, error) {
	ptr, err := i.invoke(phase, i.fns.malloc, uint64(size))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.AllocationFailed(phase, size)
	}
	return uint32(ptr), nil
}

func (i *WazeroInstance) release(ptr uint32) {
	if ptr == 0 {
		return
	}
	if _, err := i.invoke(errors.PhaseRuntime, i.fns.free, uint64(ptr)); err != nil {
		Logger().Warn("free: guest deallocation failed", zap.Uint32("ptr", ptr), zap.Error(err))
	}
}

// writeCString copies s into guest memory with a trailing NUL.
func (i *WazeroInstance) writeCString(phase errors.Phase, s string) (uint32, error) {
	ptr, err := i.malloc(phase, uint32(len(s))+1)
	if err != nil {
		return 0, err
	}
	if err := i.memory.Write(ptr, []byte(s)); err != nil {
		i.release(ptr)
		return 0, errors.Wrap(phase, errors.KindUnknown, err, "write string")
	}
	if err := i.memory.WriteU8(ptr+uint32(len(s)), 0); err != nil {
		i.release(ptr)
		return 0, errors.Wrap(phase, errors.KindUnknown, err, "write string")
	}
	return ptr, nil
}

func (i *WazeroInstance) enter(phase errors.Phase) error {
	if i.closed {
		return errors.NotInitialized(phase, "wazero instance")
	}
	return nil
}

func (i *WazeroInstance) enterContext(phase errors.Phase, ctx jsbridge.ContextPtr) error {
	if err := i.enter(phase); err != nil {
		return err
	}
	if _, ok := i.contexts[ctx]; !ok {
		return errors.InvalidInput(phase, fmt.Sprintf("unknown context %s", ctx))
	}
	return nil
}

// NewContext creates a context on the instance's runtime.
func (i *WazeroInstance) NewContext() (jsbridge.ContextPtr, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enter(errors.PhaseRuntime); err != nil {
		return 0, err
	}
	ptr, err := i.invoke(errors.PhaseRuntime, i.fns.newContext, uint64(i.runtime))
	if err != nil {
		return 0, err
	}
	if ptr == 0 {
		return 0, errors.New(errors.PhaseRuntime, errors.KindAllocation).Detail("JS_NewContext returned null").Build()
	}
	ctx := jsbridge.ContextPtr(ptr)
	i.contexts[ctx] = struct{}{}
	return ctx, nil
}

// FreeContext destroys a context. QuickJS does not report leaked values at
// this point; they surface when the runtime is freed.
func (i *WazeroInstance) FreeContext(ctx jsbridge.ContextPtr) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseRuntime, ctx); err != nil {
		return err
	}
	delete(i.contexts, ctx)
	_, err := i.invoke(errors.PhaseRuntime, i.fns.freeContext, uint64(ctx))
	return err
}

// NewStringLen copies s into the guest and creates a string from it.
func (i *WazeroInstance) NewStringLen(ctx jsbridge.ContextPtr, s string) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseEncode, ctx); err != nil {
		return 0, err
	}
	ptr, err := i.writeCString(errors.PhaseEncode, s)
	if err != nil {
		return 0, err
	}
	defer i.release(ptr)

	v, err := i.invoke(errors.PhaseEncode, i.fns.newStringLen, uint64(ctx), uint64(ptr), uint64(len(s)))
	return jsbridge.RawValue(v), err
}

// ToCStringLen renders v as UTF-8 in a guest buffer.
func (i *WazeroInstance) ToCStringLen(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.BufferPtr, uint32, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseDecode, ctx); err != nil {
		return 0, 0, err
	}
	buf, err := i.invoke(errors.PhaseDecode, i.fns.toCStringLen, uint64(ctx), uint64(i.scratch), uint64(v), 0)
	if err != nil || buf == 0 {
		return 0, 0, err
	}
	n, err := i.memory.ReadU32(i.scratch)
	if err != nil {
		return 0, 0, errors.Wrap(errors.PhaseDecode, errors.KindUnknown, err, "read string length")
	}
	return jsbridge.BufferPtr(buf), n, nil
}

// ReadBuffer returns a view of guest memory. It is invalidated by the next
// guest call, which may grow memory.
func (i *WazeroInstance) ReadBuffer(buf jsbridge.BufferPtr, n uint32) ([]byte, bool) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil, false
	}
	data, err := i.memory.Read(uint32(buf), n)
	return data, err == nil
}

// FreeCString releases a buffer from ToCStringLen.
func (i *WazeroInstance) FreeCString(ctx jsbridge.ContextPtr, buf jsbridge.BufferPtr) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseDecode, ctx); err != nil {
		return err
	}
	_, err := i.invoke(errors.PhaseDecode, i.fns.freeCString, uint64(ctx), uint64(buf))
	return err
}

// GetException takes the pending exception.
func (i *WazeroInstance) GetException(ctx jsbridge.ContextPtr) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseCall, ctx); err != nil {
		return 0, err
	}
	v, err := i.invoke(errors.PhaseCall, i.fns.getException, uint64(ctx))
	return jsbridge.RawValue(v), err
}

// IsException reports whether v is JS_EXCEPTION.
func (i *WazeroInstance) IsException(v jsbridge.RawValue) bool {
	return isException(uint64(v))
}

func (i *WazeroInstance) DupValue(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseRuntime, ctx); err != nil {
		return 0, err
	}
	d, err := i.invoke(errors.PhaseRuntime, i.fns.dupValue, uint64(ctx), uint64(v))
	return jsbridge.RawValue(d), err
}

func (i *WazeroInstance) FreeValue(ctx jsbridge.ContextPtr, v jsbridge.RawValue) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseRuntime, ctx); err != nil {
		return err
	}
	_, err := i.invoke(errors.PhaseRuntime, i.fns.freeValue, uint64(ctx), uint64(v))
	return err
}

// Eval runs code as a global script.
func (i *WazeroInstance) Eval(ctx jsbridge.ContextPtr, code, filename string) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseCall, ctx); err != nil {
		return 0, err
	}
	// JS_Eval requires input[len] == 0.
	codePtr, err := i.writeCString(errors.PhaseCall, code)
	if err != nil {
		return 0, err
	}
	defer i.release(codePtr)
	namePtr, err := i.writeCString(errors.PhaseCall, filename)
	if err != nil {
		return 0, err
	}
	defer i.release(namePtr)

	const evalTypeGlobal = 0
	v, err := i.invoke(errors.PhaseCall, i.fns.eval, uint64(ctx), uint64(codePtr), uint64(len(code)), uint64(namePtr), evalTypeGlobal)
	return jsbridge.RawValue(v), err
}

// Call invokes fn with an undefined receiver.
func (i *WazeroInstance) Call(ctx jsbridge.ContextPtr, fn jsbridge.RawValue, args []jsbridge.RawValue) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseCall, ctx); err != nil {
		return 0, err
	}

	var argv uint32
	if len(args) > 0 {
		p, err := i.malloc(errors.PhaseCall, uint32(len(args))*8)
		if err != nil {
			return 0, err
		}
		defer i.release(p)
		for n, a := range args {
			if err := i.memory.WriteU64(p+uint32(n)*8, uint64(a)); err != nil {
				return 0, errors.Wrap(errors.PhaseCall, errors.KindUnknown, err, "write arguments")
			}
		}
		argv = p
	}

	v, err := i.invoke(errors.PhaseCall, i.fns.call, uint64(ctx), uint64(fn), jsUndefined, uint64(len(args)), uint64(argv))
	return jsbridge.RawValue(v), err
}

// GetProperty reads obj[name].
func (i *WazeroInstance) GetProperty(ctx jsbridge.ContextPtr, obj jsbridge.RawValue, name string) (jsbridge.RawValue, error) {
	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseCall, ctx); err != nil {
		return 0, err
	}
	namePtr, err := i.writeCString(errors.PhaseCall, name)
	if err != nil {
		return 0, err
	}
	defer i.release(namePtr)

	v, err := i.invoke(errors.PhaseCall, i.fns.getPropertyStr, uint64(ctx), uint64(obj), uint64(namePtr))
	return jsbridge.RawValue(v), err
}

// KindOf classifies v by tag, asking the guest only whether objects are
// callable.
func (i *WazeroInstance) KindOf(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.Kind, error) {
	kind := kindOfTag(valueTag(uint64(v)))
	if kind != jsbridge.KindObject {
		return kind, nil
	}

	i.mu.Lock()
	defer i.mu.Unlock()

	if err := i.enterContext(errors.PhaseCall, ctx); err != nil {
		return jsbridge.KindInvalid, err
	}
	callable, err := i.invoke(errors.PhaseCall, i.fns.isFunction, uint64(ctx), uint64(v))
	if err != nil {
		return jsbridge.KindInvalid, err
	}
	if uint32(callable) != 0 {
		return jsbridge.KindFunction, nil
	}
	return jsbridge.KindObject, nil
}

// MemorySize returns the current linear memory size in bytes.
func (i *WazeroInstance) MemorySize() uint32 {
	i.mu.Lock()
	defer i.mu.Unlock()
	if i.closed {
		return 0
	}
	return i.memory.Size()
}

// Close frees any contexts still open, the JavaScript runtime, and the
// guest module.
func (i *WazeroInstance) Close(ctx context.Context) error {
	i.mu.Lock()
	defer i.mu.Unlock()

	if i.closed {
		return nil
	}
	i.closed = true

	var errs error
	if len(i.contexts) > 0 {
		Logger().Warn("closing instance with open contexts", zap.Int("count", len(i.contexts)))
	}
	for c := range i.contexts {
		_, err := i.invoke(errors.PhaseRuntime, i.fns.freeContext, uint64(c))
		errs = multierr.Append(errs, err)
	}
	i.contexts = nil

	i.release(i.scratch)
	_, err := i.invoke(errors.PhaseRuntime, i.fns.freeRuntime, uint64(i.runtime))
	errs = multierr.Append(errs, err)

	errs = multierr.Append(errs, i.module.Close(ctx))
	i.memory = nil
	i.stackBuf = nil
	return errs
}
