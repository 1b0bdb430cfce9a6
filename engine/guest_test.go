package engine

// A minimal guest that satisfies the QuickJS export table so instance code
// runs without a real QuickJS build.
//
// Strings are stored as a u32 length followed by the bytes; a string value
// is the string tag in the high word and the record address in the low
// word. Eval returns its source as a string, or JS_EXCEPTION for empty
// source. Call returns its first argument, or the receiver when called
// without arguments. GetPropertyStr returns the property name as a string.
// live_allocs and live_values count outstanding malloc blocks and value
// references.

const (
	wasmI32 byte = 0x7f
	wasmI64 byte = 0x7e
)

// Opcodes used by the guest bodies.
const (
	opBlock     byte = 0x02
	opLoop      byte = 0x03
	opIf        byte = 0x04
	opElse      byte = 0x05
	opEnd       byte = 0x0b
	opBr        byte = 0x0c
	opBrIf      byte = 0x0d
	opReturn    byte = 0x0f
	opCall      byte = 0x10
	opLocalGet  byte = 0x20
	opLocalSet  byte = 0x21
	opGlobalGet byte = 0x23
	opGlobalSet byte = 0x24
	opI32Load   byte = 0x28
	opI64Load   byte = 0x29
	opI32Load8U byte = 0x2d
	opI32Store  byte = 0x36
	opI32Const  byte = 0x41
	opI64Const  byte = 0x42
	opI32Eqz    byte = 0x45
	opI32Eq     byte = 0x46
	opI32Ne     byte = 0x47
	opI32Add    byte = 0x6a
	opI32And    byte = 0x71
	opI32Wrap   byte = 0xa7
	opI64Or     byte = 0x84
	opI64ShrU   byte = 0x88
	opI64ExtU   byte = 0xad
)

// Guest globals.
const (
	gHeap uint32 = iota
	gAllocs
	gValues
)

// Function indices; newstr is internal.
const (
	fnNewStr uint32 = iota
	fnMalloc
)

type guestFunc struct {
	export  string
	params  []byte
	results []byte
	locals  []byte
	body    []byte
}

func uleb(v uint32) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func sleb(v int64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if (v == 0 && b&0x40 == 0) || (v == -1 && b&0x40 != 0) {
			return append(out, b)
		}
		out = append(out, b|0x80)
	}
}

func vec(items ...[]byte) []byte {
	out := uleb(uint32(len(items)))
	for _, it := range items {
		out = append(out, it...)
	}
	return out
}

func section(id byte, payload []byte) []byte {
	out := append([]byte{id}, uleb(uint32(len(payload)))...)
	return append(out, payload...)
}

func wasmName(s string) []byte {
	return append(uleb(uint32(len(s))), s...)
}

func code(parts ...any) []byte {
	var out []byte
	for _, p := range parts {
		switch v := p.(type) {
		case byte:
			out = append(out, v)
		case []byte:
			out = append(out, v...)
		default:
			panic("code: unsupported part")
		}
	}
	return out
}

func i32c(v int32) []byte { return append([]byte{opI32Const}, sleb(int64(v))...) }
func i64c(v int64) []byte { return append([]byte{opI64Const}, sleb(v)...) }
func local(op byte, idx uint32) []byte {
	return append([]byte{op}, uleb(idx)...)
}
func global(op byte, idx uint32) []byte {
	return append([]byte{op}, uleb(idx)...)
}
func incr(g uint32, delta int32) []byte {
	return code(global(opGlobalGet, g), i32c(delta), opI32Add, global(opGlobalSet, g))
}

// tagOf pushes the tag word of the i64 local idx.
func tagOf(idx uint32) []byte {
	return code(local(opLocalGet, idx), i64c(32), opI64ShrU, opI32Wrap)
}

func guestFuncs() []guestFunc {
	i, I := wasmI32, wasmI64
	none := []byte{}
	strTag := int64(tagString) << 32

	return []guestFunc{
		// newstr(ptr, len) -> value; local 2 = record
		{"", []byte{i, i}, []byte{I}, []byte{i}, code(
			global(opGlobalGet, gHeap), local(opLocalSet, 2),
			global(opGlobalGet, gHeap), local(opLocalGet, 1), opI32Add, i32c(11), opI32Add, i32c(-8), opI32And,
			global(opGlobalSet, gHeap),
			local(opLocalGet, 2), local(opLocalGet, 1), opI32Store, byte(2), byte(0),
			local(opLocalGet, 2), i32c(4), opI32Add, local(opLocalGet, 0), local(opLocalGet, 1),
			byte(0xfc), byte(0x0a), byte(0), byte(0),
			incr(gValues, 1),
			i64c(strTag), local(opLocalGet, 2), opI64ExtU, opI64Or,
		)},
		{"malloc", []byte{i}, []byte{i}, []byte{i}, code(
			global(opGlobalGet, gHeap), local(opLocalSet, 1),
			global(opGlobalGet, gHeap), local(opLocalGet, 0), opI32Add, i32c(7), opI32Add, i32c(-8), opI32And,
			global(opGlobalSet, gHeap),
			incr(gAllocs, 1),
			local(opLocalGet, 1),
		)},
		{"free", []byte{i}, none, nil, incr(gAllocs, -1)},
		{"JS_NewRuntime", none, []byte{i}, nil, i32c(16)},
		{"JS_FreeRuntime", []byte{i}, none, nil, nil},
		{"JS_NewContext", []byte{i}, []byte{i}, nil, i32c(32)},
		{"JS_FreeContext", []byte{i}, none, nil, nil},
		{"JS_NewStringLen", []byte{i, i, i}, []byte{I}, nil, code(
			local(opLocalGet, 1), local(opLocalGet, 2), opCall, uleb(fnNewStr),
		)},
		// (ctx, plen, v, cesu8) -> buf; local 4 = record
		{"JS_ToCStringLen2", []byte{i, i, I, i}, []byte{i}, []byte{i}, code(
			tagOf(2), i32c(tagString), opI32Ne, opIf, byte(0x40), i32c(0), opReturn, opEnd,
			local(opLocalGet, 2), opI32Wrap, local(opLocalSet, 4),
			local(opLocalGet, 1), local(opLocalGet, 4), opI32Load, byte(2), byte(0), opI32Store, byte(2), byte(0),
			local(opLocalGet, 4), i32c(4), opI32Add,
		)},
		{"JS_FreeCString", []byte{i, i}, none, nil, nil},
		{"JS_GetException", []byte{i}, []byte{I}, nil, code(
			incr(gValues, 1), i64c(int64(tagNull)<<32),
		)},
		{"JS_DupValue", []byte{i, I}, []byte{I}, nil, code(
			incr(gValues, 1), local(opLocalGet, 1),
		)},
		{"JS_FreeValue", []byte{i, I}, none, nil, incr(gValues, -1)},
		{"JS_Eval", []byte{i, i, i, i, i}, []byte{I}, nil, code(
			local(opLocalGet, 2), opI32Eqz, opIf, wasmI64,
			i64c(int64(tagException)<<32),
			opElse,
			local(opLocalGet, 1), local(opLocalGet, 2), opCall, uleb(fnNewStr),
			opEnd,
		)},
		// (ctx, fn, this, argc, argv)
		{"JS_Call", []byte{i, I, I, i, i}, []byte{I}, nil, code(
			incr(gValues, 1),
			local(opLocalGet, 3), opI32Eqz, opIf, wasmI64,
			local(opLocalGet, 2),
			opElse,
			local(opLocalGet, 4), opI64Load, byte(3), byte(0),
			opEnd,
		)},
		// (ctx, obj, name); local 3 = strlen(name)
		{"JS_GetPropertyStr", []byte{i, I, i}, []byte{I}, []byte{i}, code(
			opBlock, byte(0x40), opLoop, byte(0x40),
			local(opLocalGet, 2), local(opLocalGet, 3), opI32Add, opI32Load8U, byte(0), byte(0),
			opI32Eqz, opBrIf, byte(1),
			local(opLocalGet, 3), i32c(1), opI32Add, local(opLocalSet, 3),
			opBr, byte(0),
			opEnd, opEnd,
			local(opLocalGet, 2), local(opLocalGet, 3), opCall, uleb(fnNewStr),
		)},
		{"JS_IsFunction", []byte{i, I}, []byte{i}, nil, code(
			tagOf(1), i32c(tagObject), opI32Eq,
		)},
		{"live_allocs", none, []byte{i}, nil, global(opGlobalGet, gAllocs)},
		{"live_values", none, []byte{i}, nil, global(opGlobalGet, gValues)},
	}
}

// stubGuestModule assembles the guest binary.
func stubGuestModule() []byte {
	fns := guestFuncs()

	var types, funcs, exports, bodies [][]byte
	for n, f := range fns {
		types = append(types, code(byte(0x60), vec(splitTypes(f.params)...), vec(splitTypes(f.results)...)))
		funcs = append(funcs, uleb(uint32(n)))
		if f.export != "" {
			exports = append(exports, code(wasmName(f.export), byte(0x00), uleb(uint32(n))))
		}
		var locals []byte
		if len(f.locals) == 0 {
			locals = vec()
		} else {
			locals = vec(code(uleb(uint32(len(f.locals))), f.locals[0]))
		}
		body := code(locals, f.body, opEnd)
		bodies = append(bodies, code(uleb(uint32(len(body))), body))
	}
	exports = append(exports, code(wasmName("memory"), byte(0x02), uleb(0)))

	globals := [][]byte{
		code(wasmI32, byte(1), i32c(1024), opEnd),
		code(wasmI32, byte(1), i32c(0), opEnd),
		code(wasmI32, byte(1), i32c(0), opEnd),
	}

	mod := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}
	mod = append(mod, section(1, vec(types...))...)
	mod = append(mod, section(3, vec(funcs...))...)
	mod = append(mod, section(5, vec([]byte{0x00, 0x01}))...)
	mod = append(mod, section(6, vec(globals...))...)
	mod = append(mod, section(7, vec(exports...))...)
	mod = append(mod, section(10, vec(bodies...))...)
	return mod
}

func splitTypes(ts []byte) [][]byte {
	out := make([][]byte, len(ts))
	for n, t := range ts {
		out[n] = []byte{t}
	}
	return out
}
