package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

const functionTypeTag = 0x60

func decodeTypeSection(r *bytes.Reader) ([]wasm.FunctionType, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding type count: %w", err)
	}
	types := make([]wasm.FunctionType, count)
	for i := range types {
		tag, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("error decoding type %d: %w", i, err)
		}
		if tag != functionTypeTag {
			return nil, wasm.NewDecodeError("invalid function type tag: %#x", tag)
		}
		params, err := decodeValueTypes(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding type %d params: %w", i, err)
		}
		results, err := decodeValueTypes(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding type %d results: %w", i, err)
		}
		types[i] = wasm.FunctionType{Params: params, Results: results}
		types[i].Finalize()
	}
	return types, nil
}

func decodeImportSection(r *bytes.Reader, enabledFeatures api.CoreFeatures) ([]wasm.Import, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding import count: %w", err)
	}
	imports := make([]wasm.Import, count)
	for i := range imports {
		mod, _, err := decodeString(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding import %d module: %w", i, err)
		}
		name, _, err := decodeString(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding import %d name: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return nil, fmt.Errorf("error decoding import %d kind: %w", i, err)
		}
		imp := wasm.Import{Type: kind, Module: mod, Name: name}
		switch kind {
		case api.ExternTypeFunc:
			idx, _, err := decodeUint32(r)
			if err != nil {
				return nil, fmt.Errorf("error decoding import %d func type index: %w", i, err)
			}
			imp.DescFunc = idx
		case api.ExternTypeTable:
			t, err := decodeTable(r)
			if err != nil {
				return nil, fmt.Errorf("error decoding import %d table: %w", i, err)
			}
			imp.DescTable = t
		case api.ExternTypeMemory:
			mem, err := decodeMemory(r)
			if err != nil {
				return nil, fmt.Errorf("error decoding import %d memory: %w", i, err)
			}
			imp.DescMem = mem
		case api.ExternTypeGlobal:
			gt, err := decodeGlobalType(r)
			if err != nil {
				return nil, fmt.Errorf("error decoding import %d global: %w", i, err)
			}
			if gt.Mutable {
				if err := enabledFeatures.RequireEnabled(api.CoreFeatureMutableGlobal); err != nil {
					return nil, wasm.NewUnsupportedFeature("mutable-global")
				}
			}
			imp.DescGlobal = gt
		default:
			return nil, wasm.NewDecodeError("invalid import kind: %#x", kind)
		}
		imports[i] = imp
	}
	return imports, nil
}

func decodeFunctionSection(r *bytes.Reader) ([]wasm.Index, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding function count: %w", err)
	}
	out := make([]wasm.Index, count)
	for i := range out {
		if out[i], _, err = decodeUint32(r); err != nil {
			return nil, fmt.Errorf("error decoding function %d type index: %w", i, err)
		}
	}
	return out, nil
}

const refTypeFuncref = 0x70

func decodeTable(r *bytes.Reader) (*wasm.Table, error) {
	elemType, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("error decoding table element type: %w", err)
	}
	if elemType != refTypeFuncref {
		return nil, wasm.NewUnsupportedFeature("reference-types (non-funcref table)")
	}
	lim, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	return &wasm.Table{Min: lim.Min, Max: lim.Max}, nil
}

func decodeTableSection(r *bytes.Reader) ([]wasm.Table, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding table count: %w", err)
	}
	if count > 1 {
		return nil, wasm.NewUnsupportedFeature("multiple tables")
	}
	out := make([]wasm.Table, count)
	for i := range out {
		t, err := decodeTable(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding table %d: %w", i, err)
		}
		out[i] = *t
	}
	return out, nil
}

func decodeMemory(r *bytes.Reader) (*wasm.Memory, error) {
	lim, err := decodeLimits(r)
	if err != nil {
		return nil, err
	}
	if lim.Min > wasm.MemoryMaxPages || (lim.Max != nil && *lim.Max > wasm.MemoryMaxPages) {
		return nil, wasm.NewValidationError("memory size out of bounds")
	}
	mem := &wasm.Memory{Min: lim.Min}
	if lim.Max != nil {
		mem.Max = *lim.Max
		mem.IsMaxEncoded = true
	}
	return mem, nil
}

func decodeMemorySection(r *bytes.Reader) (*wasm.Memory, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding memory count: %w", err)
	}
	if count > 1 {
		return nil, wasm.NewUnsupportedFeature("multiple memories")
	}
	if count == 0 {
		return nil, nil
	}
	return decodeMemory(r)
}

func decodeGlobalType(r *bytes.Reader) (*wasm.GlobalType, error) {
	vt, err := decodeValueType(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding global value type: %w", err)
	}
	m, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("error decoding global mutability: %w", err)
	}
	if m != 0 && m != 1 {
		return nil, wasm.NewDecodeError("invalid global mutability flag: %#x", m)
	}
	return &wasm.GlobalType{ValType: vt, Mutable: m == 1}, nil
}

func decodeGlobalSection(r *bytes.Reader, enabledFeatures api.CoreFeatures) ([]wasm.Global, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding global count: %w", err)
	}
	out := make([]wasm.Global, count)
	for i := range out {
		gt, err := decodeGlobalType(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding global %d: %w", i, err)
		}
		if gt.Mutable {
			if err := enabledFeatures.RequireEnabled(api.CoreFeatureMutableGlobal); err != nil {
				return nil, wasm.NewUnsupportedFeature("mutable-global")
			}
		}
		init, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding global %d init expr: %w", i, err)
		}
		out[i] = wasm.Global{Type: *gt, Init: *init}
	}
	return out, nil
}

func decodeExportSection(r *bytes.Reader, m *wasm.Module) error {
	count, _, err := decodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding export count: %w", err)
	}
	for i := uint32(0); i < count; i++ {
		name, _, err := decodeString(r)
		if err != nil {
			return fmt.Errorf("error decoding export %d name: %w", i, err)
		}
		kind, err := r.ReadByte()
		if err != nil {
			return fmt.Errorf("error decoding export %d kind: %w", i, err)
		}
		idx, _, err := decodeUint32(r)
		if err != nil {
			return fmt.Errorf("error decoding export %d index: %w", i, err)
		}
		if _, ok := m.ExportSection[name]; ok {
			return wasm.NewValidationError("duplicate export name: %s", name)
		}
		m.ExportSection[name] = &wasm.Export{Type: kind, Name: name, Index: idx}
	}
	return nil
}

func decodeElementSection(r *bytes.Reader) ([]wasm.ElementSegment, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding element count: %w", err)
	}
	out := make([]wasm.ElementSegment, count)
	for i := range out {
		tableIdx, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding element %d table index: %w", i, err)
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding element %d offset: %w", i, err)
		}
		n, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding element %d init count: %w", i, err)
		}
		init := make([]wasm.Index, n)
		for j := range init {
			if init[j], _, err = decodeUint32(r); err != nil {
				return nil, fmt.Errorf("error decoding element %d init %d: %w", i, j, err)
			}
		}
		out[i] = wasm.ElementSegment{TableIndex: tableIdx, OffsetExpr: *offset, Init: init}
	}
	return out, nil
}

func decodeCodeSection(r *bytes.Reader) ([]wasm.Code, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding code count: %w", err)
	}
	out := make([]wasm.Code, count)
	for i := range out {
		size, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding code %d size: %w", i, err)
		}
		body := make([]byte, size)
		if _, err := io.ReadFull(r, body); err != nil {
			return nil, fmt.Errorf("error reading code %d body: %w", i, err)
		}
		br := bytes.NewReader(body)
		locals, err := decodeLocals(br)
		if err != nil {
			return nil, fmt.Errorf("error decoding code %d locals: %w", i, err)
		}
		rest := make([]byte, br.Len())
		if _, err := io.ReadFull(br, rest); err != nil && len(rest) > 0 {
			return nil, fmt.Errorf("error reading code %d instructions: %w", i, err)
		}
		out[i] = wasm.Code{LocalTypes: locals, Body: rest}
	}
	return out, nil
}

func decodeLocals(r *bytes.Reader) ([]api.ValueType, error) {
	groupCount, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding local group count: %w", err)
	}
	var out []api.ValueType
	for i := uint32(0); i < groupCount; i++ {
		n, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding local group %d count: %w", i, err)
		}
		vt, err := decodeValueType(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding local group %d type: %w", i, err)
		}
		for j := uint32(0); j < n; j++ {
			out = append(out, vt)
		}
	}
	return out, nil
}

func decodeDataSection(r *bytes.Reader) ([]wasm.DataSegment, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("error decoding data count: %w", err)
	}
	out := make([]wasm.DataSegment, count)
	for i := range out {
		memIdx, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding data %d memory index: %w", i, err)
		}
		offset, err := decodeConstantExpression(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding data %d offset: %w", i, err)
		}
		size, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("error decoding data %d size: %w", i, err)
		}
		init := make([]byte, size)
		if _, err := io.ReadFull(r, init); err != nil && size > 0 {
			return nil, fmt.Errorf("error reading data %d init: %w", i, err)
		}
		out[i] = wasm.DataSegment{MemoryIndex: memIdx, OffsetExpr: *offset, Init: init}
	}
	return out, nil
}
