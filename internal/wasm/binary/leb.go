package binary

import (
	"bytes"
	"fmt"

	"github.com/wazerocore/wazerocore/internal/leb128"
)

func decodeUint32(r *bytes.Reader) (uint32, uint64, error) {
	v, n, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid uint32: %w", err)
	}
	return v, n, nil
}

func decodeInt32(r *bytes.Reader) (int32, uint64, error) {
	v, n, err := leb128.DecodeInt32(r)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid int32: %w", err)
	}
	return v, n, nil
}

func decodeInt64(r *bytes.Reader) (int64, uint64, error) {
	v, n, err := leb128.DecodeInt64(r)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid int64: %w", err)
	}
	return v, n, nil
}
