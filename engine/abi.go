package engine

import (
	"fmt"
	"strings"

	"github.com/tetratelabs/wazero/api"

	"github.com/wippyai/jsbridge"
	"github.com/wippyai/jsbridge/errors"
)

// QuickJS value tags on wasm32, where a JSValue is NaN-boxed into an i64
// with the tag in the high word. Tags outside [tagFirst, tagLast] are
// float64 payloads.
const (
	tagBigDecimal    int32 = -11
	tagBigFloat      int32 = -10
	tagBigInt        int32 = -9
	tagSymbol        int32 = -8
	tagString        int32 = -7
	tagStringRope    int32 = -6
	tagObject        int32 = -1
	tagInt           int32 = 0
	tagBool          int32 = 1
	tagNull          int32 = 2
	tagUndefined     int32 = 3
	tagUninitialized int32 = 4
	tagException     int32 = 6
	tagShortBigInt   int32 = 7
	tagFloat64       int32 = 8

	tagFirst = tagBigDecimal
	tagLast  = tagFloat64
)

// jsUndefined is JS_UNDEFINED, passed as the receiver of calls.
const jsUndefined = uint64(uint32(tagUndefined)) << 32

func valueTag(v uint64) int32 {
	return int32(v >> 32)
}

func isException(v uint64) bool {
	return valueTag(v) == tagException
}

// kindOfTag classifies a value by tag. Objects report KindObject; callers
// must ask the engine whether an object is callable.
func kindOfTag(tag int32) jsbridge.Kind {
	switch tag {
	case tagUndefined, tagUninitialized:
		return jsbridge.KindUndefined
	case tagNull:
		return jsbridge.KindNull
	case tagBool:
		return jsbridge.KindBool
	case tagInt, tagFloat64:
		return jsbridge.KindNumber
	case tagBigInt, tagBigFloat, tagBigDecimal, tagShortBigInt:
		return jsbridge.KindBigInt
	case tagString, tagStringRope:
		return jsbridge.KindString
	case tagSymbol:
		return jsbridge.KindSymbol
	case tagObject:
		return jsbridge.KindObject
	}
	if tag < tagFirst || tag > tagLast {
		return jsbridge.KindNumber
	}
	return jsbridge.KindInvalid
}

// Exports names the functions a QuickJS WebAssembly build must export.
// Builds that prefix or rename symbols can override individual names.
type Exports struct {
	Malloc         string `validate:"required"`
	Free           string `validate:"required"`
	NewRuntime     string `validate:"required"`
	FreeRuntime    string `validate:"required"`
	NewContext     string `validate:"required"`
	FreeContext    string `validate:"required"`
	NewStringLen   string `validate:"required"`
	ToCStringLen   string `validate:"required"`
	FreeCString    string `validate:"required"`
	GetException   string `validate:"required"`
	DupValue       string `validate:"required"`
	FreeValue      string `validate:"required"`
	Eval           string `validate:"required"`
	Call           string `validate:"required"`
	GetPropertyStr string `validate:"required"`
	IsFunction     string `validate:"required"`
}

// DefaultExports returns the symbol names of an unmodified QuickJS-ng
// build with malloc and free exported.
func DefaultExports() Exports {
	return Exports{
		Malloc:         "malloc",
		Free:           "free",
		NewRuntime:     "JS_NewRuntime",
		FreeRuntime:    "JS_FreeRuntime",
		NewContext:     "JS_NewContext",
		FreeContext:    "JS_FreeContext",
		NewStringLen:   "JS_NewStringLen",
		ToCStringLen:   "JS_ToCStringLen2",
		FreeCString:    "JS_FreeCString",
		GetException:   "JS_GetException",
		DupValue:       "JS_DupValue",
		FreeValue:      "JS_FreeValue",
		Eval:           "JS_Eval",
		Call:           "JS_Call",
		GetPropertyStr: "JS_GetPropertyStr",
		IsFunction:     "JS_IsFunction",
	}
}

type signature struct {
	params  []api.ValueType
	results []api.ValueType
}

var (
	i32 = api.ValueTypeI32
	i64 = api.ValueTypeI64
)

func sig(params []api.ValueType, results ...api.ValueType) signature {
	return signature{params: params, results: results}
}

func (s signature) String() string {
	return fmt.Sprintf("(%s)->(%s)", typeList(s.params), typeList(s.results))
}

func typeList(ts []api.ValueType) string {
	names := make([]string, len(ts))
	for i, t := range ts {
		names[i] = api.ValueTypeName(t)
	}
	return strings.Join(names, ",")
}

func (s signature) matches(def api.FunctionDefinition) bool {
	return equalTypes(s.params, def.ParamTypes()) && equalTypes(s.results, def.ResultTypes())
}

func equalTypes(a, b []api.ValueType) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// required pairs each export with the signature the bridge calls it with.
func (x Exports) required() []struct {
	name string
	sig  signature
} {
	return []struct {
		name string
		sig  signature
	}{
		{x.Malloc, sig([]api.ValueType{i32}, i32)},
		{x.Free, sig([]api.ValueType{i32})},
		{x.NewRuntime, sig(nil, i32)},
		{x.FreeRuntime, sig([]api.ValueType{i32})},
		{x.NewContext, sig([]api.ValueType{i32}, i32)},
		{x.FreeContext, sig([]api.ValueType{i32})},
		{x.NewStringLen, sig([]api.ValueType{i32, i32, i32}, i64)},
		{x.ToCStringLen, sig([]api.ValueType{i32, i32, i64, i32}, i32)},
		{x.FreeCString, sig([]api.ValueType{i32, i32})},
		{x.GetException, sig([]api.ValueType{i32}, i64)},
		{x.DupValue, sig([]api.ValueType{i32, i64}, i64)},
		{x.FreeValue, sig([]api.ValueType{i32, i64})},
		{x.Eval, sig([]api.ValueType{i32, i32, i32, i32, i32}, i64)},
		{x.Call, sig([]api.ValueType{i32, i64, i64, i32, i32}, i64)},
		{x.GetPropertyStr, sig([]api.ValueType{i32, i64, i32}, i64)},
		{x.IsFunction, sig([]api.ValueType{i32, i64}, i32)},
	}
}

// checkExports reports every required export that is absent or has the
// wrong signature, and a missing linear memory.
func checkExports(compiled interface {
	ExportedFunctions() map[string]api.FunctionDefinition
	ExportedMemories() map[string]api.MemoryDefinition
}, names Exports) error {
	defs := compiled.ExportedFunctions()
	var missing *errors.MissingExportsError

	for _, r := range names.required() {
		def, ok := defs[r.name]
		reason := ""
		switch {
		case !ok:
		case !r.sig.matches(def):
			reason = fmt.Sprintf("want %s, have %s", r.sig, sig(def.ParamTypes(), def.ResultTypes()...))
		default:
			continue
		}
		if missing == nil {
			missing = &errors.MissingExportsError{}
		}
		missing.Add(r.name, reason)
	}

	if len(compiled.ExportedMemories()) == 0 {
		if missing == nil {
			missing = &errors.MissingExportsError{}
		}
		missing.Add("memory", "no exported linear memory")
	}

	if missing != nil {
		return missing
	}
	return nil
}
