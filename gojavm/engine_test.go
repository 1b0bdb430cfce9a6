package gojavm

import (
	"bytes"
	stderrors "errors"
	"testing"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
)

func newTestContext(t *testing.T, cfg *Config) (*Engine, jsbridge.ContextPtr) {
	t.Helper()
	e, err := New(cfg)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	ctx, err := e.NewContext()
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() { e.Close() })
	return e, ctx
}

func mustEval(t *testing.T, e *Engine, ctx jsbridge.ContextPtr, code string) jsbridge.RawValue {
	t.Helper()
	v, err := e.Eval(ctx, code, "test.js")
	if err != nil {
		t.Fatalf("Eval(%q) failed: %v", code, err)
	}
	if e.IsException(v) {
		t.Fatalf("Eval(%q) threw: %s", code, pendingText(t, e, ctx))
	}
	return v
}

func render(t *testing.T, e *Engine, ctx jsbridge.ContextPtr, v jsbridge.RawValue) []byte {
	t.Helper()
	buf, n, err := e.ToCStringLen(ctx, v)
	if err != nil {
		t.Fatalf("ToCStringLen failed: %v", err)
	}
	if buf == 0 {
		t.Fatalf("ToCStringLen returned null buffer: %s", pendingText(t, e, ctx))
	}
	data, ok := e.ReadBuffer(buf, n)
	if !ok {
		t.Fatal("ReadBuffer failed")
	}
	out := bytes.Clone(data)
	if err := e.FreeCString(ctx, buf); err != nil {
		t.Fatalf("FreeCString failed: %v", err)
	}
	return out
}

func pendingText(t *testing.T, e *Engine, ctx jsbridge.ContextPtr) string {
	t.Helper()
	exc, err := e.GetException(ctx)
	if err != nil {
		t.Fatalf("GetException failed: %v", err)
	}
	defer e.FreeValue(ctx, exc)
	return string(render(t, e, ctx, exc))
}

func TestNew_Config(t *testing.T) {
	tests := []struct {
		name    string
		cfg     *Config
		wantErr bool
	}{
		{"nil", nil, false},
		{"zero", &Config{}, false},
		{"cache disabled", &Config{ProgramCacheSize: -1}, false},
		{"negative string length", &Config{MaxStringLength: -1}, true},
		{"huge cache", &Config{ProgramCacheSize: 1 << 20}, true},
		{"negative stack", &Config{MaxCallStackSize: -5}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, err := New(tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("New() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var jerr *errors.Error
				if !stderrors.As(err, &jerr) || jerr.Phase != errors.PhaseLoad {
					t.Errorf("expected load-phase *errors.Error, got %v", err)
				}
				return
			}
			e.Close()
		})
	}
}

func TestEngine_StringRoundTrip(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	for _, s := range []string{"", "foo bar baz", "héllo wörld", "日本語", "emoji 😀", "nul\x00byte", "�"} {
		v, err := e.NewStringLen(ctx, s)
		if err != nil || e.IsException(v) {
			t.Fatalf("NewStringLen(%q) = %v, %v", s, v, err)
		}
		if got := string(render(t, e, ctx, v)); got != s {
			t.Errorf("round trip: got %q, want %q", got, s)
		}
		if err := e.FreeValue(ctx, v); err != nil {
			t.Fatalf("FreeValue failed: %v", err)
		}
	}

	if values, buffers := e.Live(ctx); values != 0 || buffers != 0 {
		t.Fatalf("Live = (%d, %d), want (0, 0)", values, buffers)
	}
}

func TestEngine_LoneSurrogate(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	tests := []struct {
		code string
		want []byte
	}{
		{`"\uD800"`, []byte{0xED, 0xA0, 0x80}},
		{`"a\uDFFFb"`, []byte{'a', 0xED, 0xBF, 0xBF, 'b'}},
		{`"😀"`, []byte("😀")},
		{`"\uDE00\uD83D"`, []byte{0xED, 0xB8, 0x80, 0xED, 0xA0, 0xBD}},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			v := mustEval(t, e, ctx, tt.code)
			defer e.FreeValue(ctx, v)
			if got := render(t, e, ctx, v); !bytes.Equal(got, tt.want) {
				t.Errorf("got % x, want % x", got, tt.want)
			}
		})
	}
}

func TestEngine_ExceptionSlot(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	v, err := e.Eval(ctx, `throw new Error("boom")`, "throw.js")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !e.IsException(v) {
		t.Fatal("expected sentinel")
	}
	if got := pendingText(t, e, ctx); got != "Error: boom" {
		t.Errorf("exception = %q, want %q", got, "Error: boom")
	}

	// The slot is empty after being taken
	exc, _ := e.GetException(ctx)
	if k, _ := e.KindOf(ctx, exc); k != jsbridge.KindNull {
		t.Errorf("empty slot kind = %s, want null", k)
	}
	e.FreeValue(ctx, exc)

	// Context keeps working
	ok := mustEval(t, e, ctx, `1 + 1`)
	if got := string(render(t, e, ctx, ok)); got != "2" {
		t.Errorf("follow-up = %q, want 2", got)
	}
	e.FreeValue(ctx, ok)
}

func TestEngine_SyntaxError(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	v, err := e.Eval(ctx, `function (`, "bad.js")
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	if !e.IsException(v) {
		t.Fatal("expected sentinel for syntax error")
	}
	exc, _ := e.GetException(ctx)
	defer e.FreeValue(ctx, exc)

	name, _ := e.GetProperty(ctx, exc, "name")
	defer e.FreeValue(ctx, name)
	if got := string(render(t, e, ctx, name)); got != "SyntaxError" {
		t.Errorf("name = %q, want SyntaxError", got)
	}
}

func TestEngine_Call(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	fn := mustEval(t, e, ctx, `(x => x + "bar")`)
	defer e.FreeValue(ctx, fn)

	arg, _ := e.NewStringLen(ctx, "foo")
	defer e.FreeValue(ctx, arg)

	res, err := e.Call(ctx, fn, []jsbridge.RawValue{arg})
	if err != nil || e.IsException(res) {
		t.Fatalf("Call = %v, %v", res, err)
	}
	defer e.FreeValue(ctx, res)
	if got := string(render(t, e, ctx, res)); got != "foobar" {
		t.Errorf("Call result = %q, want foobar", got)
	}

	// Calling a non-function throws TypeError
	res, err = e.Call(ctx, arg, nil)
	if err != nil || !e.IsException(res) {
		t.Fatalf("Call on string = %v, %v; want sentinel", res, err)
	}
	if got := pendingText(t, e, ctx); got != "TypeError: not a function" {
		t.Errorf("exception = %q", got)
	}
}

func TestEngine_GetProperty(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	obj := mustEval(t, e, ctx, `({a: "x"})`)
	defer e.FreeValue(ctx, obj)

	a, _ := e.GetProperty(ctx, obj, "a")
	if got := string(render(t, e, ctx, a)); got != "x" {
		t.Errorf("a = %q, want x", got)
	}
	e.FreeValue(ctx, a)

	missing, _ := e.GetProperty(ctx, obj, "b")
	if k, _ := e.KindOf(ctx, missing); k != jsbridge.KindUndefined {
		t.Errorf("missing kind = %s, want undefined", k)
	}
	e.FreeValue(ctx, missing)

	null := mustEval(t, e, ctx, `null`)
	defer e.FreeValue(ctx, null)
	res, _ := e.GetProperty(ctx, null, "x")
	if !e.IsException(res) {
		t.Fatal("property of null should throw")
	}
	exc, _ := e.GetException(ctx)
	if k, _ := e.KindOf(ctx, exc); k != jsbridge.KindObject {
		t.Errorf("exception kind = %s, want object", k)
	}
	e.FreeValue(ctx, exc)
}

func TestEngine_ObjectIdentity(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	obj := mustEval(t, e, ctx, `globalThis.o = {}; o`)
	again := mustEval(t, e, ctx, `o`)
	if obj != again {
		t.Fatalf("same object interned twice: %s vs %s", obj, again)
	}

	dup, err := e.DupValue(ctx, obj)
	if err != nil || dup != obj {
		t.Fatalf("DupValue = %v, %v", dup, err)
	}

	// Three references, one slot
	if values, _ := e.Live(ctx); values != 1 {
		t.Fatalf("live values = %d, want 1", values)
	}
	for i := 0; i < 3; i++ {
		if err := e.FreeValue(ctx, obj); err != nil {
			t.Fatalf("FreeValue %d failed: %v", i, err)
		}
	}
	if values, _ := e.Live(ctx); values != 0 {
		t.Fatalf("live values = %d, want 0", values)
	}
	if err := e.FreeValue(ctx, obj); err == nil {
		t.Fatal("freeing a dead value should fail")
	}
}

func TestEngine_BufferDoubleFree(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	v, _ := e.NewStringLen(ctx, "x")
	defer e.FreeValue(ctx, v)

	buf, n, _ := e.ToCStringLen(ctx, v)
	if _, ok := e.ReadBuffer(buf, n+1); ok {
		t.Error("ReadBuffer past the end should fail")
	}
	if err := e.FreeCString(ctx, buf); err != nil {
		t.Fatalf("FreeCString failed: %v", err)
	}
	if err := e.FreeCString(ctx, buf); err == nil {
		t.Fatal("double FreeCString should fail")
	}
	if _, ok := e.ReadBuffer(buf, n); ok {
		t.Fatal("ReadBuffer after free should fail")
	}
}

func TestEngine_SymbolToString(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	sym := mustEval(t, e, ctx, `Symbol("s")`)
	defer e.FreeValue(ctx, sym)

	buf, _, err := e.ToCStringLen(ctx, sym)
	if err != nil {
		t.Fatalf("ToCStringLen failed: %v", err)
	}
	if buf != 0 {
		t.Fatal("symbol conversion should return null buffer")
	}
	if got := pendingText(t, e, ctx); got != "TypeError: cannot convert symbol to string" {
		t.Errorf("exception = %q", got)
	}
}

func TestEngine_MaxStringLength(t *testing.T) {
	e, ctx := newTestContext(t, &Config{MaxStringLength: 4})

	v, err := e.NewStringLen(ctx, "12345")
	if err != nil {
		t.Fatalf("NewStringLen failed: %v", err)
	}
	if !e.IsException(v) {
		t.Fatal("expected sentinel for oversized string")
	}
	if got := pendingText(t, e, ctx); got != "RangeError: invalid string length" {
		t.Errorf("exception = %q", got)
	}
}

func TestEngine_KindOf(t *testing.T) {
	e, ctx := newTestContext(t, nil)

	tests := []struct {
		code string
		want jsbridge.Kind
	}{
		{`undefined`, jsbridge.KindUndefined},
		{`null`, jsbridge.KindNull},
		{`true`, jsbridge.KindBool},
		{`42`, jsbridge.KindNumber},
		{`4.2`, jsbridge.KindNumber},
		{`"s"`, jsbridge.KindString},
		{`Symbol()`, jsbridge.KindSymbol},
		{`({})`, jsbridge.KindObject},
		{`[]`, jsbridge.KindObject},
		{`(function () {})`, jsbridge.KindFunction},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			v := mustEval(t, e, ctx, tt.code)
			defer e.FreeValue(ctx, v)
			got, err := e.KindOf(ctx, v)
			if err != nil {
				t.Fatalf("KindOf failed: %v", err)
			}
			if got != tt.want {
				t.Errorf("KindOf(%s) = %s, want %s", tt.code, got, tt.want)
			}
		})
	}
}

func TestEngine_FreeContextLeaks(t *testing.T) {
	e, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	defer e.Close()

	ctx, _ := e.NewContext()
	v, _ := e.NewStringLen(ctx, "leak")
	if _, _, err := e.ToCStringLen(ctx, v); err != nil {
		t.Fatal(err)
	}

	err = e.FreeContext(ctx)
	var leak *LeakError
	if !stderrors.As(err, &leak) {
		t.Fatalf("FreeContext = %v, want *LeakError", err)
	}
	if leak.Values != 1 || leak.Buffers != 1 {
		t.Errorf("leak = %+v, want 1 value and 1 buffer", leak)
	}
	if e.Contexts() != 0 {
		t.Error("context should be gone despite the leak")
	}

	// Clean teardown
	ctx, _ = e.NewContext()
	if err := e.FreeContext(ctx); err != nil {
		t.Errorf("clean FreeContext = %v", err)
	}
	if err := e.FreeContext(ctx); err == nil {
		t.Error("second FreeContext should fail")
	}
}

func TestEngine_CrossContext(t *testing.T) {
	e, ctx := newTestContext(t, nil)
	other, _ := e.NewContext()
	defer e.FreeContext(other)

	v, _ := e.NewStringLen(ctx, "mine")
	defer e.FreeValue(ctx, v)

	if _, err := e.DupValue(other, v); err == nil {
		t.Error("DupValue across contexts should fail")
	}
	if _, _, err := e.ToCStringLen(other, v); err == nil {
		t.Error("ToCStringLen across contexts should fail")
	}
}

func TestEngine_ProgramCache(t *testing.T) {
	e, ctx := newTestContext(t, &Config{ProgramCacheSize: 2})

	for i := 0; i < 3; i++ {
		v := mustEval(t, e, ctx, `var n = (typeof n === "number" ? n : 0) + 1; n`)
		e.FreeValue(ctx, v)
	}
	if e.programs.Len() != 1 {
		t.Errorf("cached programs = %d, want 1", e.programs.Len())
	}

	// Programs are shared, state is not
	other, _ := e.NewContext()
	defer e.FreeContext(other)
	v, _ := e.Eval(other, `var n = (typeof n === "number" ? n : 0) + 1; n`, "test.js")
	if got := string(render(t, e, other, v)); got != "1" {
		t.Errorf("fresh context n = %q, want 1", got)
	}
	e.FreeValue(other, v)
}

func TestEngine_Closed(t *testing.T) {
	e, err := New(nil)
	if err != nil {
		t.Fatal(err)
	}
	ctx, _ := e.NewContext()
	e.Close()

	if _, err := e.NewContext(); !stderrors.Is(err, &errors.Error{Kind: errors.KindNotInitialized}) {
		t.Errorf("NewContext after Close = %v", err)
	}
	if _, err := e.Eval(ctx, "1", "x.js"); err == nil {
		t.Error("Eval after Close should fail")
	}
	if err := e.Close(); err != nil {
		t.Errorf("second Close = %v", err)
	}
}
