// Package wasmgen assembles the guesttest fixtures.
//
// Each guest implements the asyncify ABI by hand, saving a single call-site
// index per suspension, so the fixtures build without wasm-opt.
package wasmgen

import "encoding/binary"

// Value types.
const (
	I32 byte = 0x7f
	I64 byte = 0x7e
)

func uleb(v uint64) []byte {
	var out []byte
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			out = append(out, b|0x80)
			continue
		}
		return append(out, b)
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

func seq(parts ...[]byte) []byte {
	var out []byte
	for _, p := range parts {
		out = append(out, p...)
	}
	return out
}

func name(s string) []byte {
	return seq(uleb(uint64(len(s))), []byte(s))
}

func vec(items [][]byte) []byte {
	return seq(uleb(uint64(len(items))), seq(items...))
}

// bvec encodes a vector of single-byte items.
func bvec(items []byte) []byte {
	return seq(uleb(uint64(len(items))), items)
}

func section(id byte, payload []byte) []byte {
	return seq([]byte{id}, uleb(uint64(len(payload))), payload)
}

func le32pair(a, b uint32) []byte {
	out := make([]byte, 8)
	binary.LittleEndian.PutUint32(out, a)
	binary.LittleEndian.PutUint32(out[4:], b)
	return out
}

func i32c(v int64) []byte        { return seq([]byte{0x41}, sleb(v)) }
func i64c(v int64) []byte        { return seq([]byte{0x42}, sleb(v)) }
func lget(i uint64) []byte       { return seq([]byte{0x20}, uleb(i)) }
func lset(i uint64) []byte       { return seq([]byte{0x21}, uleb(i)) }
func gget(i uint64) []byte       { return seq([]byte{0x23}, uleb(i)) }
func gset(i uint64) []byte       { return seq([]byte{0x24}, uleb(i)) }
func call(i uint64) []byte       { return seq([]byte{0x10}, uleb(i)) }
func i32load(off uint64) []byte  { return seq([]byte{0x28, 0x02}, uleb(off)) }
func i32store(off uint64) []byte { return seq([]byte{0x36, 0x02}, uleb(off)) }
func ifThen(body []byte) []byte  { return seq([]byte{0x04, 0x40}, body, []byte{0x0b}) }
func loop(body []byte) []byte    { return seq([]byte{0x03, 0x40}, body, []byte{0x0b}) }
func br(depth uint64) []byte     { return seq([]byte{0x0c}, uleb(depth)) }

var (
	opReturn      = []byte{0x0f}
	opDrop        = []byte{0x1a}
	opUnreachable = []byte{0x00}

	opI32Eq  = []byte{0x46}
	opI32Eqz = []byte{0x45}
	opI32Ne  = []byte{0x47}
	opI32Add = []byte{0x6a}
	opI32Sub = []byte{0x6b}
	opI32Mul = []byte{0x6c}
	opI32Xor = []byte{0x73}
	opI32Or  = []byte{0x72}
	opI32And = []byte{0x71}
	opI32GeU = []byte{0x4f}
	opI32GtU = []byte{0x4b}

	opI64Add        = []byte{0x7c}
	opI64Mul        = []byte{0x7e}
	opI64ExtendI32U = []byte{0xad}
)

type funcType struct {
	params, results string
}

type importEntry struct {
	module, name string
	typeIdx      uint64
}

type function struct {
	typeIdx uint64
	locals  []byte
	body    []byte
}

type exportEntry struct {
	name string
	kind byte
	idx  uint64
}

type global struct {
	vt   byte
	init int64
}

type segment struct {
	offset  int64
	payload []byte
}

// module collects the sections of a single guest.
type module struct {
	types   []funcType
	imports []importEntry
	funcs   []function
	exports []exportEntry
	globals []global
	data    []segment
}

func (m *module) typ(params, results []byte) uint64 {
	t := funcType{string(params), string(results)}
	for i, have := range m.types {
		if have == t {
			return uint64(i)
		}
	}
	m.types = append(m.types, t)
	return uint64(len(m.types) - 1)
}

func (m *module) importFunc(mod, nm string, params, results []byte) uint64 {
	m.imports = append(m.imports, importEntry{mod, nm, m.typ(params, results)})
	return uint64(len(m.imports) - 1)
}

// fn adds a function and exports it when export is not empty.
func (m *module) fn(params, results, body, locals []byte, export string) uint64 {
	idx := uint64(len(m.imports) + len(m.funcs))
	m.funcs = append(m.funcs, function{m.typ(params, results), locals, body})
	if export != "" {
		m.exports = append(m.exports, exportEntry{export, 0, idx})
	}
	return idx
}

func (m *module) global(vt byte, init int64) uint64 {
	m.globals = append(m.globals, global{vt, init})
	return uint64(len(m.globals) - 1)
}

func (m *module) encode() []byte {
	out := []byte("\x00asm\x01\x00\x00\x00")

	types := make([][]byte, 0, len(m.types))
	for _, t := range m.types {
		types = append(types, seq([]byte{0x60}, bvec([]byte(t.params)), bvec([]byte(t.results))))
	}
	out = append(out, section(1, vec(types))...)

	if len(m.imports) > 0 {
		imports := make([][]byte, 0, len(m.imports))
		for _, im := range m.imports {
			imports = append(imports, seq(name(im.module), name(im.name), []byte{0x00}, uleb(im.typeIdx)))
		}
		out = append(out, section(2, vec(imports))...)
	}

	decls := make([][]byte, 0, len(m.funcs))
	for _, f := range m.funcs {
		decls = append(decls, uleb(f.typeIdx))
	}
	out = append(out, section(3, vec(decls))...)

	// one page, no maximum
	out = append(out, section(5, vec([][]byte{seq([]byte{0x00}, uleb(1))}))...)

	if len(m.globals) > 0 {
		globals := make([][]byte, 0, len(m.globals))
		for _, g := range m.globals {
			init := i64c(g.init)
			if g.vt == I32 {
				init = i32c(g.init)
			}
			globals = append(globals, seq([]byte{g.vt, 1}, init, []byte{0x0b}))
		}
		out = append(out, section(6, vec(globals))...)
	}

	exports := make([][]byte, 0, len(m.exports)+1)
	for _, e := range append(m.exports, exportEntry{"memory", 2, 0}) {
		exports = append(exports, seq(name(e.name), []byte{e.kind}, uleb(e.idx)))
	}
	out = append(out, section(7, vec(exports))...)

	bodies := make([][]byte, 0, len(m.funcs))
	for _, f := range m.funcs {
		locals := make([][]byte, 0, len(f.locals))
		for _, vt := range f.locals {
			locals = append(locals, seq(uleb(1), []byte{vt}))
		}
		fb := seq(vec(locals), f.body, []byte{0x0b})
		bodies = append(bodies, seq(uleb(uint64(len(fb))), fb))
	}
	out = append(out, section(10, vec(bodies))...)

	if len(m.data) > 0 {
		segs := make([][]byte, 0, len(m.data))
		for _, d := range m.data {
			segs = append(segs, seq([]byte{0x00}, i32c(d.offset), []byte{0x0b}, bvec(d.payload)))
		}
		out = append(out, section(11, vec(segs))...)
	}
	return out
}
