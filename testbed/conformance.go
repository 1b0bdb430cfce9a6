package testbed

import (
	stderrors "errors"
	"testing"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
	"github.com/wippyai/jsbridge/js"
)

// Factory returns a fresh engine for one subtest. It registers its own
// cleanup.
type Factory func(t *testing.T) jsbridge.Native

// LiveCounter is implemented by engines that can count what a context
// still holds.
type LiveCounter interface {
	Live(ctx jsbridge.ContextPtr) (values, buffers int)
}

// Run executes the conformance suite.
func Run(t *testing.T, newNative Factory) {
	cases := []struct {
		name string
		fn   func(t *testing.T, native jsbridge.Native)
	}{
		{"RoundTrip", testRoundTrip},
		{"Concat", testConcat},
		{"CloneFree", testCloneFree},
		{"ExceptionThenSuccess", testExceptionThenSuccess},
		{"LoneSurrogate", testLoneSurrogate},
		{"Teardown", testTeardown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tc.fn(t, newNative(t))
		})
	}
}

func newContext(t *testing.T, native jsbridge.Native) *js.Context {
	t.Helper()
	ctx, err := js.NewContext(native)
	if err != nil {
		t.Fatalf("NewContext failed: %v", err)
	}
	t.Cleanup(func() {
		if !ctx.Closed() {
			if err := ctx.Close(); err != nil {
				t.Errorf("Close failed: %v", err)
			}
		}
	})
	return ctx
}

func checkLive(t *testing.T, native jsbridge.Native, ctx *js.Context, wantRefs int) {
	t.Helper()
	if got := ctx.Live(); got != wantRefs {
		t.Errorf("host references = %d, want %d", got, wantRefs)
	}
	lc, ok := native.(LiveCounter)
	if !ok {
		return
	}
	values, buffers := lc.Live(ctx.Pointer())
	if buffers != 0 {
		t.Errorf("engine buffers = %d, want 0", buffers)
	}
	if wantRefs == 0 && values != 0 {
		t.Errorf("engine values = %d, want 0", values)
	}
}

func toString(t *testing.T, v *js.Value) string {
	t.Helper()
	s, err := v.AsString()
	if err != nil {
		t.Fatalf("AsString failed: %v", err)
	}
	out, err := s.ToString()
	if err != nil {
		t.Fatalf("ToString failed: %v", err)
	}
	return out
}

func testRoundTrip(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	for _, want := range []string{"foo bar baz", "", "ünïcödé", "𝄞 clef", "tab\tand\nnewline"} {
		s, err := ctx.NewString(want)
		if err != nil {
			t.Fatalf("NewString(%q) failed: %v", want, err)
		}
		got, err := s.ToString()
		s.Free()
		if err != nil {
			t.Fatalf("ToString failed: %v", err)
		}
		if got != want {
			t.Errorf("round trip: got %q, want %q", got, want)
		}
	}
	checkLive(t, native, ctx, 0)
}

func testConcat(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	fn, err := ctx.EvalFunction(`x => x + "bar"`)
	if err != nil {
		t.Fatalf("EvalFunction failed: %v", err)
	}
	defer fn.Free()

	arg, err := ctx.NewString("foo")
	if err != nil {
		t.Fatalf("NewString failed: %v", err)
	}
	defer arg.Free()

	res, err := fn.Call(arg)
	if err != nil {
		t.Fatalf("Call failed: %v", err)
	}
	defer res.Free()

	if got := toString(t, res); got != "foobar" {
		t.Errorf("got %q, want foobar", got)
	}
}

func testCloneFree(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	orig, err := ctx.NewString("shared")
	if err != nil {
		t.Fatal(err)
	}
	clone, err := orig.Clone()
	if err != nil {
		t.Fatalf("Clone failed: %v", err)
	}
	checkLive(t, native, ctx, 2)

	orig.Free()
	orig.Free()
	if got, err := clone.ToString(); err != nil || got != "shared" {
		t.Fatalf("clone after free = %q, %v", got, err)
	}
	clone.Free()
	checkLive(t, native, ctx, 0)
}

func testExceptionThenSuccess(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	_, err := ctx.Eval(`throw new Error("boom")`)
	var jerr *errors.Error
	if !stderrors.As(err, &jerr) || jerr.Kind != errors.KindException {
		t.Fatalf("Eval = %v, want exception", err)
	}
	if jerr.Detail != "Error: boom" {
		t.Errorf("Detail = %q, want %q", jerr.Detail, "Error: boom")
	}
	checkLive(t, native, ctx, 0)

	v, err := ctx.Eval(`"after"`)
	if err != nil {
		t.Fatalf("Eval after exception failed: %v", err)
	}
	defer v.Free()
	if got := toString(t, v); got != "after" {
		t.Errorf("got %q, want after", got)
	}
}

func testLoneSurrogate(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	v, err := ctx.Eval(`"\uD800"`)
	if err != nil {
		t.Fatalf("Eval failed: %v", err)
	}
	defer v.Free()

	s, err := v.AsString()
	if err != nil {
		t.Fatalf("AsString failed: %v", err)
	}
	if _, err := s.ToString(); !stderrors.Is(err, errors.ErrInvalidUTF8) {
		t.Fatalf("ToString = %v, want invalid_utf8", err)
	}
	checkLive(t, native, ctx, 1)
}

func testTeardown(t *testing.T, native jsbridge.Native) {
	ctx := newContext(t, native)

	for i := 0; i < 8; i++ {
		v, err := ctx.Eval(`({n: 1})`)
		if err != nil {
			t.Fatal(err)
		}
		if i%2 == 0 {
			v.Free()
		}
	}

	ptr := ctx.Pointer()
	if err := ctx.Close(); err != nil {
		t.Fatalf("Close = %v", err)
	}
	if ctx.Live() != 0 {
		t.Errorf("host references after Close = %d", ctx.Live())
	}
	if lc, ok := native.(LiveCounter); ok {
		if values, buffers := lc.Live(ptr); values != 0 || buffers != 0 {
			t.Errorf("engine live after Close = (%d, %d)", values, buffers)
		}
	}
}
