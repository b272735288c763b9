package binary

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

const (
	nameSubsectionIDModule = iota
	nameSubsectionIDFunction
	nameSubsectionIDLocal
)

// decodeNameSection decodes the body of the custom "name" section. Any subsection this engine doesn't recognize,
// or that fails to decode, is skipped: name data is debugging information only, never load-bearing for execution.
func decodeNameSection(r *bytes.Reader) (*wasm.NameSection, error) {
	ns := &wasm.NameSection{}
	for {
		id, err := r.ReadByte()
		if err == io.EOF {
			break
		}
		if err != nil {
			return ns, nil
		}
		size, _, err := decodeUint32(r)
		if err != nil {
			return ns, nil
		}
		payload := make([]byte, size)
		if _, err := io.ReadFull(r, payload); err != nil {
			return ns, nil
		}
		pr := bytes.NewReader(payload)
		switch id {
		case nameSubsectionIDModule:
			if name, _, err := decodeString(pr); err == nil {
				ns.ModuleName = name
			}
		case nameSubsectionIDFunction:
			if m, err := decodeNameMap(pr); err == nil {
				ns.FunctionNames = m
			}
		case nameSubsectionIDLocal:
			if m, err := decodeIndirectNameMap(pr); err == nil {
				ns.LocalNames = m
			}
		}
	}
	return ns, nil
}

func decodeNameMap(r *bytes.Reader) (wasm.NameMap, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read name map count: %w", err)
	}
	out := make(wasm.NameMap, count)
	for i := range out {
		idx, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("could not read name map %d index: %w", i, err)
		}
		name, _, err := decodeString(r)
		if err != nil {
			return nil, fmt.Errorf("could not read name map %d name: %w", i, err)
		}
		out[i] = &wasm.NameAssoc{Index: idx, Name: name}
	}
	return out, nil
}

func decodeIndirectNameMap(r *bytes.Reader) (wasm.IndirectNameMap, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read indirect name map count: %w", err)
	}
	out := make(wasm.IndirectNameMap, count)
	for i := range out {
		idx, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("could not read indirect name map %d index: %w", i, err)
		}
		nm, err := decodeNameMap(r)
		if err != nil {
			return nil, fmt.Errorf("could not read indirect name map %d locals: %w", i, err)
		}
		out[i] = &wasm.NameAssocs{Index: idx, NameMap: nm}
	}
	return out, nil
}
