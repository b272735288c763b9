package binary

import (
	"bytes"
	"fmt"

	"github.com/wazerocore/wazerocore/api"
)

func decodeValueType(r *bytes.Reader) (api.ValueType, error) {
	b, err := r.ReadByte()
	if err != nil {
		return 0, fmt.Errorf("could not read value type: %w", err)
	}
	switch vt := api.ValueType(b); vt {
	case api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64:
		return vt, nil
	default:
		return 0, fmt.Errorf("invalid value type: %#x", b)
	}
}

func decodeValueTypes(r *bytes.Reader) ([]api.ValueType, error) {
	count, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read value types count: %w", err)
	}
	if count == 0 {
		return nil, nil
	}
	out := make([]api.ValueType, count)
	for i := range out {
		if out[i], err = decodeValueType(r); err != nil {
			return nil, fmt.Errorf("read %d-th value type: %w", i, err)
		}
	}
	return out, nil
}
