// Package wasmtest is a minimal binary Wasm encoder used only by this repository's own tests: the reverse of
// internal/wasm/binary's decoder, just enough to hand-assemble the literal modules the engine's test suite and
// documentation describe (fib, factorial, a binary i32 instruction suite, indirect calls) without checking in
// %.wasm fixture files.
package wasmtest

import "github.com/wazerocore/wazerocore/internal/leb128"

const (
	ValTypeI32 = 0x7f
	ValTypeI64 = 0x7e
	ValTypeF32 = 0x7d
	ValTypeF64 = 0x7c
)

const (
	sectionType     = 1
	sectionImport   = 2
	sectionFunction = 3
	sectionTable    = 4
	sectionMemory   = 5
	sectionGlobal   = 6
	sectionExport   = 7
	sectionStart    = 8
	sectionElement  = 9
	sectionCode     = 10
	sectionData     = 11
)

const (
	ExternFunc   = 0x00
	ExternTable  = 0x01
	ExternMemory = 0x02
	ExternGlobal = 0x03
)

// FuncType is one entry of the type section.
type FuncType struct {
	Params, Results []byte
}

// Import is one entry of the import section. Only the Func and Memory kinds are needed by this repository's tests.
type Import struct {
	Module, Name string
	Kind         byte
	TypeIndex    uint32
	MemMin       uint32
	MemMax       *uint32
}

// Global is one entry of the global section: its type plus an already-encoded constant init expression (see
// I32Const et al.).
type Global struct {
	ValType byte
	Mutable bool
	Init    []byte
}

// Element is one entry of the element section: function indices to install into TableIndex's table starting at
// the offset evaluated by Offset (an encoded constant expression).
type Element struct {
	TableIndex uint32
	Offset     []byte
	FuncIdxs   []uint32
}

// Data is one entry of the data section.
type Data struct {
	Offset []byte
	Bytes  []byte
}

// Func is one entry of the function+code sections: its type, its declared (non-parameter) locals, and its body
// (the raw instruction stream, without the leading locals declarations or trailing size prefix).
type Func struct {
	TypeIndex uint32
	Locals    []byte // one ValType per declared local
	Body      []byte
}

// Module accumulates the pieces of a binary module; Encode renders them in canonical section order.
type Module struct {
	Types    []FuncType
	Imports  []Import
	Funcs    []Func
	TableMin uint32 // only used when HasTable is set
	HasTable bool
	MemMin   uint32
	MemMax   *uint32
	HasMemory bool
	Globals  []Global
	Exports  map[string]exportEntry
	Start    *uint32
	Elements []Element
	Datas    []Data
}

type exportEntry struct {
	kind byte
	idx  uint32
}

func NewModule() *Module {
	return &Module{Exports: map[string]exportEntry{}}
}

func (m *Module) ExportFunc(name string, idx uint32)   { m.Exports[name] = exportEntry{ExternFunc, idx} }
func (m *Module) ExportMemory(name string, idx uint32) { m.Exports[name] = exportEntry{ExternMemory, idx} }
func (m *Module) ExportTable(name string, idx uint32)  { m.Exports[name] = exportEntry{ExternTable, idx} }
func (m *Module) ExportGlobal(name string, idx uint32) { m.Exports[name] = exportEntry{ExternGlobal, idx} }

func uleb(v uint64) []byte { return leb128.EncodeUint64(v) }
func sleb(v int64) []byte  { return leb128.EncodeInt64(v) }

func vecLen(n int) []byte { return uleb(uint64(n)) }

func str(s string) []byte {
	return append(vecLen(len(s)), []byte(s)...)
}

func section(id byte, payload []byte) []byte {
	out := []byte{id}
	out = append(out, uleb(uint64(len(payload)))...)
	return append(out, payload...)
}

func valTypes(vts []byte) []byte {
	out := vecLen(len(vts))
	return append(out, vts...)
}

func limits(min uint32, max *uint32) []byte {
	if max == nil {
		return append([]byte{0x00}, uleb(uint64(min))...)
	}
	out := append([]byte{0x01}, uleb(uint64(min))...)
	return append(out, uleb(uint64(*max))...)
}

// I32Const encodes a constant expression `i32.const v; end`, the form global/element/data offsets use.
func I32Const(v int32) []byte {
	return append(append([]byte{0x41}, sleb(int64(v))...), 0x0b)
}

// I64Const encodes a constant expression `i64.const v; end`.
func I64Const(v int64) []byte {
	return append(append([]byte{0x42}, sleb(v)...), 0x0b)
}

// Encode renders m as a complete binary module: magic, version, then every non-empty section in canonical order.
func (m *Module) Encode() []byte {
	out := []byte{0x00, 0x61, 0x73, 0x6d, 0x01, 0x00, 0x00, 0x00}

	if len(m.Types) > 0 {
		payload := vecLen(len(m.Types))
		for _, t := range m.Types {
			payload = append(payload, 0x60)
			payload = append(payload, valTypes(t.Params)...)
			payload = append(payload, valTypes(t.Results)...)
		}
		out = append(out, section(sectionType, payload)...)
	}

	if len(m.Imports) > 0 {
		payload := vecLen(len(m.Imports))
		for _, imp := range m.Imports {
			payload = append(payload, str(imp.Module)...)
			payload = append(payload, str(imp.Name)...)
			payload = append(payload, imp.Kind)
			switch imp.Kind {
			case ExternFunc:
				payload = append(payload, uleb(uint64(imp.TypeIndex))...)
			case ExternMemory:
				payload = append(payload, limits(imp.MemMin, imp.MemMax)...)
			}
		}
		out = append(out, section(sectionImport, payload)...)
	}

	if len(m.Funcs) > 0 {
		payload := vecLen(len(m.Funcs))
		for _, f := range m.Funcs {
			payload = append(payload, uleb(uint64(f.TypeIndex))...)
		}
		out = append(out, section(sectionFunction, payload)...)
	}

	if m.HasTable {
		payload := vecLen(1)
		payload = append(payload, 0x70) // funcref
		payload = append(payload, limits(m.TableMin, nil)...)
		out = append(out, section(sectionTable, payload)...)
	}

	if m.HasMemory {
		payload := vecLen(1)
		payload = append(payload, limits(m.MemMin, m.MemMax)...)
		out = append(out, section(sectionMemory, payload)...)
	}

	if len(m.Globals) > 0 {
		payload := vecLen(len(m.Globals))
		for _, g := range m.Globals {
			payload = append(payload, g.ValType)
			if g.Mutable {
				payload = append(payload, 0x01)
			} else {
				payload = append(payload, 0x00)
			}
			payload = append(payload, g.Init...)
		}
		out = append(out, section(sectionGlobal, payload)...)
	}

	if len(m.Exports) > 0 {
		payload := vecLen(len(m.Exports))
		for name, e := range m.Exports {
			payload = append(payload, str(name)...)
			payload = append(payload, e.kind)
			payload = append(payload, uleb(uint64(e.idx))...)
		}
		out = append(out, section(sectionExport, payload)...)
	}

	if m.Start != nil {
		out = append(out, section(sectionStart, uleb(uint64(*m.Start)))...)
	}

	if len(m.Elements) > 0 {
		payload := vecLen(len(m.Elements))
		for _, e := range m.Elements {
			payload = append(payload, uleb(uint64(e.TableIndex))...)
			payload = append(payload, e.Offset...)
			payload = append(payload, vecLen(len(e.FuncIdxs))...)
			for _, idx := range e.FuncIdxs {
				payload = append(payload, uleb(uint64(idx))...)
			}
		}
		out = append(out, section(sectionElement, payload)...)
	}

	if len(m.Funcs) > 0 {
		payload := vecLen(len(m.Funcs))
		for _, f := range m.Funcs {
			body := encodeLocals(f.Locals)
			body = append(body, f.Body...)
			payload = append(payload, uleb(uint64(len(body)))...)
			payload = append(payload, body...)
		}
		out = append(out, section(sectionCode, payload)...)
	}

	if len(m.Datas) > 0 {
		payload := vecLen(len(m.Datas))
		for _, d := range m.Datas {
			payload = append(payload, uleb(0)...) // memory index 0
			payload = append(payload, d.Offset...)
			payload = append(payload, vecLen(len(d.Bytes))...)
			payload = append(payload, d.Bytes...)
		}
		out = append(out, section(sectionData, payload)...)
	}

	return out
}

// encodeLocals groups consecutive identical ValTypes into the (count, type) run-length pairs the binary format
// requires for a function body's local declarations.
func encodeLocals(vts []byte) []byte {
	if len(vts) == 0 {
		return vecLen(0)
	}
	type run struct {
		vt    byte
		count int
	}
	var runs []run
	for _, vt := range vts {
		if n := len(runs); n > 0 && runs[n-1].vt == vt {
			runs[n-1].count++
		} else {
			runs = append(runs, run{vt, 1})
		}
	}
	out := vecLen(len(runs))
	for _, r := range runs {
		out = append(out, uleb(uint64(r.count))...)
		out = append(out, r.vt)
	}
	return out
}
