package binary

import (
	"bytes"
	"fmt"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

// limits is the decoded form of a Wasm "limits" type: a required minimum and optional maximum, shared by the table
// and memory section encodings.
type limits struct {
	Min uint32
	Max *uint32
}

func decodeLimits(r *bytes.Reader) (*limits, error) {
	flag, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("could not read limits flag: %w", err)
	}
	if flag != 0 && flag != 1 {
		return nil, wasm.NewDecodeError("invalid limits flag: %#x", flag)
	}
	min, _, err := decodeUint32(r)
	if err != nil {
		return nil, fmt.Errorf("could not read limits minimum: %w", err)
	}
	l := &limits{Min: min}
	if flag == 1 {
		max, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("could not read limits maximum: %w", err)
		}
		if max < min {
			return nil, wasm.NewValidationError("limits maximum (%d) less than minimum (%d)", max, min)
		}
		l.Max = &max
	}
	return l, nil
}
