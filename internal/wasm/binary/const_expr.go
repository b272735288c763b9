package binary

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/wazerocore/wazerocore/internal/wasm"
)

const constExprEnd = 0x0b

// decodeConstantExpression decodes one of the handful of instructions legal in a constant expression context:
// i32.const, i64.const, f32.const, f64.const, or global.get, terminated by the `end` opcode. The decoded immediate
// is always stored little-endian, widened to 8 bytes for the const opcodes and as a 4-byte index for global.get, so
// that evalConstExpr can decode every case uniformly.
func decodeConstantExpression(r *bytes.Reader) (*wasm.ConstantExpression, error) {
	opcode, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("could not read const expression opcode: %w", err)
	}

	var data []byte
	switch opcode {
	case wasm.ConstExprOpcodeI32Const:
		v, _, err := decodeInt32(r)
		if err != nil {
			return nil, fmt.Errorf("could not read i32.const immediate: %w", err)
		}
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(uint32(v)))
	case wasm.ConstExprOpcodeI64Const:
		v, _, err := decodeInt64(r)
		if err != nil {
			return nil, fmt.Errorf("could not read i64.const immediate: %w", err)
		}
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(v))
	case wasm.ConstExprOpcodeF32Const:
		data = make([]byte, 8)
		if _, err := io.ReadFull(r, data[:4]); err != nil {
			return nil, fmt.Errorf("could not read f32.const immediate: %w", err)
		}
	case wasm.ConstExprOpcodeF64Const:
		data = make([]byte, 8)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, fmt.Errorf("could not read f64.const immediate: %w", err)
		}
	case wasm.ConstExprOpcodeGlobalGet:
		idx, _, err := decodeUint32(r)
		if err != nil {
			return nil, fmt.Errorf("could not read global.get immediate: %w", err)
		}
		data = make([]byte, 8)
		binary.LittleEndian.PutUint64(data, uint64(idx))
	default:
		return nil, wasm.NewDecodeError("invalid const expression opcode: %#x", opcode)
	}

	end, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("could not read const expression end: %w", err)
	}
	if end != constExprEnd {
		return nil, wasm.NewDecodeError("const expression missing end opcode, got %#x", end)
	}

	return &wasm.ConstantExpression{Opcode: opcode, Data: data}, nil
}
