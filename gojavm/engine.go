package gojavm

import (
	"fmt"
	"sync"

	"github.com/dop251/goja"
	lru "github.com/hashicorp/golang-lru"
	"go.uber.org/zap"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/resource"
)

var _ jsbridge.Native = (*Engine)(nil)

// Engine hosts any number of goja contexts behind the jsbridge.Native ABI.
// Native calls are serialised by a mutex.
type Engine struct {
	cfg      Config
	programs *lru.Cache
	contexts map[jsbridge.ContextPtr]*vmContext
	buffers  map[jsbridge.BufferPtr]buffer
	mu       sync.Mutex
	nextCtx  uint32
	nextBuf  uint32
	closed   bool
}

type buffer struct {
	data []byte
	ctx  jsbridge.ContextPtr
}

// New creates an engine. cfg may be nil.
func New(cfg *Config) (*Engine, error) {
	c := cfg.withDefaults()
	if err := c.check(); err != nil {
		return nil, err
	}

	e := &Engine{
		cfg:      c,
		contexts: make(map[jsbridge.ContextPtr]*vmContext),
		buffers:  make(map[jsbridge.BufferPtr]buffer),
	}
	if c.ProgramCacheSize > 0 {
		cache, err := lru.New(c.ProgramCacheSize)
		if err != nil {
			return nil, errors.Load("create program cache", err)
		}
		e.programs = cache
	}
	return e, nil
}

// Close tears down every context still open. Leaks are logged, not
// returned.
func (e *Engine) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return nil
	}
	e.closed = true

	for ptr := range e.contexts {
		if err := e.freeContextLocked(ptr); err != nil {
			Logger().Warn("context still open at engine close", zap.Stringer("context", ptr), zap.Error(err))
		}
	}
	if e.programs != nil {
		e.programs.Purge()
	}
	return nil
}

// NewContext creates a fresh goja runtime.
func (e *Engine) NewContext() (jsbridge.ContextPtr, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.closed {
		return 0, errors.NotInitialized(errors.PhaseRuntime, "gojavm engine")
	}

	e.nextCtx++
	if e.nextCtx == 0 {
		e.nextCtx = 1
	}
	ptr := jsbridge.ContextPtr(e.nextCtx)
	vc, err := newVMContext(ptr, e.cfg)
	if err != nil {
		return 0, err
	}
	e.contexts[ptr] = vc

	Logger().Debug("context created", zap.Stringer("context", ptr))
	return ptr, nil
}

// FreeContext destroys a context. Anything the host still holds is
// reported as a *LeakError.
func (e *Engine) FreeContext(ctx jsbridge.ContextPtr) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.freeContextLocked(ctx)
}

func (e *Engine) freeContextLocked(ctx jsbridge.ContextPtr) error {
	vc, ok := e.contexts[ctx]
	if !ok {
		return errors.InvalidInput(errors.PhaseRuntime, fmt.Sprintf("unknown context %s", ctx))
	}
	delete(e.contexts, ctx)

	leak := &LeakError{Context: ctx, Values: vc.heap.Len()}
	for ptr, b := range e.buffers {
		if b.ctx == ctx {
			leak.Buffers++
			delete(e.buffers, ptr)
		}
	}
	vc.close()

	Logger().Debug("context freed", zap.Stringer("context", ctx))
	if leak.Values > 0 || leak.Buffers > 0 {
		return leak
	}
	return nil
}

// Live reports how many values and buffers a context holds.
func (e *Engine) Live(ctx jsbridge.ContextPtr) (values, buffers int) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, ok := e.contexts[ctx]
	if !ok {
		return 0, 0
	}
	for _, b := range e.buffers {
		if b.ctx == ctx {
			buffers++
		}
	}
	return vc.heap.Len(), buffers
}

// Contexts returns the number of open contexts.
func (e *Engine) Contexts() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.contexts)
}

func (e *Engine) context(ctx jsbridge.ContextPtr, phase errors.Phase) (*vmContext, error) {
	if e.closed {
		return nil, errors.NotInitialized(phase, "gojavm engine")
	}
	vc, ok := e.contexts[ctx]
	if !ok {
		return nil, errors.InvalidInput(phase, fmt.Sprintf("unknown context %s", ctx))
	}
	return vc, nil
}

// NewStringLen creates a string. Input longer than MaxStringLength throws
// a RangeError.
func (e *Engine) NewStringLen(ctx jsbridge.ContextPtr, s string) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseEncode)
	if err != nil {
		return 0, err
	}
	if len(s) > e.cfg.MaxStringLength {
		vc.throwError("RangeError", "invalid string length")
		return vc.sentinel(), nil
	}
	return vc.newString(s)
}

// ToCStringLen renders v into a scratch buffer.
func (e *Engine) ToCStringLen(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.BufferPtr, uint32, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseDecode)
	if err != nil {
		return 0, 0, err
	}
	val, err := vc.value(v, errors.PhaseDecode)
	if err != nil {
		return 0, 0, err
	}
	data, ok := vc.render(val)
	if !ok {
		return 0, 0, nil
	}

	e.nextBuf++
	if e.nextBuf == 0 {
		e.nextBuf = 1
	}
	ptr := jsbridge.BufferPtr(e.nextBuf)
	e.buffers[ptr] = buffer{ctx: ctx, data: data}
	return ptr, uint32(len(data)), nil
}

// ReadBuffer returns the first n bytes of buf.
func (e *Engine) ReadBuffer(buf jsbridge.BufferPtr, n uint32) ([]byte, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buffers[buf]
	if !ok || int(n) > len(b.data) {
		return nil, false
	}
	return b.data[:n], true
}

// FreeCString releases a scratch buffer. Releasing an unknown buffer, or
// releasing twice, is an error.
func (e *Engine) FreeCString(ctx jsbridge.ContextPtr, buf jsbridge.BufferPtr) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	b, ok := e.buffers[buf]
	if !ok || b.ctx != ctx {
		return errors.InvalidInput(errors.PhaseDecode, fmt.Sprintf("free of unknown buffer %s", buf))
	}
	delete(e.buffers, buf)
	return nil
}

// GetException takes the pending exception. With nothing pending it
// returns null.
func (e *Engine) GetException(ctx jsbridge.ContextPtr) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	exc := vc.pending
	vc.pending = nil
	if exc == nil {
		exc = goja.Null()
	}
	return vc.intern(exc)
}

// IsException reports whether v is the failure sentinel.
func (e *Engine) IsException(v jsbridge.RawValue) bool {
	return uint32(v) == 0
}

// DupValue adds a reference to v and returns it.
func (e *Engine) DupValue(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseRuntime)
	if err != nil {
		return 0, err
	}
	if err := vc.checkOwner(v, errors.PhaseRuntime); err != nil {
		return 0, err
	}
	if _, err := vc.heap.Retain(handleOf(v)); err != nil {
		return 0, errors.Wrap(errors.PhaseRuntime, errors.KindInvalidInput, err, fmt.Sprintf("dup %s", v))
	}
	return v, nil
}

// FreeValue drops one reference to v.
func (e *Engine) FreeValue(ctx jsbridge.ContextPtr, v jsbridge.RawValue) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseRuntime)
	if err != nil {
		return err
	}
	if err := vc.checkOwner(v, errors.PhaseRuntime); err != nil {
		return err
	}
	return vc.release(v)
}

// Eval runs code as a global script.
func (e *Engine) Eval(ctx jsbridge.ContextPtr, code, filename string) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	prg, err := e.compile(code, filename)
	if err != nil {
		vc.throwError("SyntaxError", err.Error())
		return vc.sentinel(), nil
	}
	res, err := vc.rt.RunProgram(prg)
	if err != nil {
		vc.throw(err)
		return vc.sentinel(), nil
	}
	return vc.intern(res)
}

func (e *Engine) compile(code, filename string) (*goja.Program, error) {
	if e.programs == nil {
		return goja.Compile(filename, code, false)
	}
	key := filename + "\x00" + code
	if p, ok := e.programs.Get(key); ok {
		return p.(*goja.Program), nil
	}
	prg, err := goja.Compile(filename, code, false)
	if err != nil {
		return nil, err
	}
	e.programs.Add(key, prg)
	return prg, nil
}

// Call invokes fn with an undefined receiver.
func (e *Engine) Call(ctx jsbridge.ContextPtr, fn jsbridge.RawValue, args []jsbridge.RawValue) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	fv, err := vc.value(fn, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	argv := make([]goja.Value, len(args))
	for i, a := range args {
		if argv[i], err = vc.value(a, errors.PhaseCall); err != nil {
			return 0, err
		}
	}

	call, ok := goja.AssertFunction(fv)
	if !ok {
		vc.throwError("TypeError", "not a function")
		return vc.sentinel(), nil
	}
	res, err := call(goja.Undefined(), argv...)
	if err != nil {
		vc.throw(err)
		return vc.sentinel(), nil
	}
	return vc.intern(res)
}

// GetProperty reads obj[name]. Reading from null or undefined throws a
// TypeError.
func (e *Engine) GetProperty(ctx jsbridge.ContextPtr, obj jsbridge.RawValue, name string) (jsbridge.RawValue, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	ov, err := vc.value(obj, errors.PhaseCall)
	if err != nil {
		return 0, err
	}
	res, err := vc.get(goja.Undefined(), ov, vc.rt.ToValue(name))
	if err != nil {
		vc.throw(err)
		return vc.sentinel(), nil
	}
	return vc.intern(res)
}

// KindOf classifies v.
func (e *Engine) KindOf(ctx jsbridge.ContextPtr, v jsbridge.RawValue) (jsbridge.Kind, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	vc, err := e.context(ctx, errors.PhaseCall)
	if err != nil {
		return jsbridge.KindInvalid, err
	}
	val, err := vc.value(v, errors.PhaseCall)
	if err != nil {
		return jsbridge.KindInvalid, err
	}
	return kindOf(val), nil
}

// LeakError reports values and buffers still alive when their context was
// freed.
type LeakError struct {
	Context jsbridge.ContextPtr
	Values  int
	Buffers int
}

func (e *LeakError) Error() string {
	return fmt.Sprintf("%s freed with %d live value(s) and %d live buffer(s)", e.Context, e.Values, e.Buffers)
}

func handleOf(v jsbridge.RawValue) resource.Handle {
	return resource.Handle(uint32(v))
}

func contextOf(v jsbridge.RawValue) jsbridge.ContextPtr {
	return jsbridge.ContextPtr(uint32(v >> 32))
}

func rawValue(ctx jsbridge.ContextPtr, h resource.Handle) jsbridge.RawValue {
	return jsbridge.RawValue(uint64(ctx)<<32 | uint64(h))
}
