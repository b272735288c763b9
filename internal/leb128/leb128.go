// Package leb128 implements LEB128 (Little Endian Base 128) variable-length integer encoding, used throughout the
// WebAssembly binary format for lengths, indices, and constant immediates.
//
// See https://webassembly.github.io/spec/core/binary/values.html#integers
package leb128

import (
	"fmt"
	"io"
)

const (
	maxVarintLen32 = 5
	maxVarintLen33 = 5
	maxVarintLen64 = 10
)

// DecodeUint32 decodes an unsigned 32-bit integer, returning the decoded value and the number of bytes read.
func DecodeUint32(r io.ByteReader) (ret uint32, bytesRead uint64, err error) {
	v, n, err := decodeUnsigned(r, 32, maxVarintLen32)
	return uint32(v), n, err
}

// DecodeUint64 decodes an unsigned 64-bit integer, returning the decoded value and the number of bytes read.
func DecodeUint64(r io.ByteReader) (ret uint64, bytesRead uint64, err error) {
	return decodeUnsigned(r, 64, maxVarintLen64)
}

// DecodeInt32 decodes a signed 32-bit integer, returning the decoded value and the number of bytes read.
func DecodeInt32(r io.ByteReader) (ret int32, bytesRead uint64, err error) {
	v, n, err := decodeSigned(r, 32, maxVarintLen32)
	return int32(v), n, err
}

// DecodeInt33AsInt64 decodes a signed 33-bit integer (used for block type immediates, which are encoded as s33 so
// the sign bit can distinguish an inline value type from a type-section index), widened to int64.
func DecodeInt33AsInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeSigned(r, 33, maxVarintLen33)
}

// DecodeInt64 decodes a signed 64-bit integer, returning the decoded value and the number of bytes read.
func DecodeInt64(r io.ByteReader) (ret int64, bytesRead uint64, err error) {
	return decodeSigned(r, 64, maxVarintLen64)
}

func decodeUnsigned(r io.ByteReader, width int, maxLen int) (ret uint64, bytesRead uint64, err error) {
	var shift int
	for {
		b, err := r.ReadByte()
		if err != nil {
			if err == io.EOF && bytesRead > 0 {
				return 0, 0, fmt.Errorf("unexpected EOF decoding LEB128")
			}
			return 0, 0, err
		}
		bytesRead++

		if bytesRead == uint64(maxLen) {
			// The final byte must fit entirely within the remaining bits, with no continuation.
			remaining := width - shift
			mask := byte(0xff) << uint(remaining)
			if b&0x80 != 0 || (b&mask) != 0 {
				return 0, 0, fmt.Errorf("invalid LEB128: overflows %d bits", width)
			}
			ret |= uint64(b) << shift
			return ret, bytesRead, nil
		}

		ret |= uint64(b&0x7f) << shift
		if b&0x80 == 0 {
			return ret, bytesRead, nil
		}
		shift += 7
	}
}

func decodeSigned(r io.ByteReader, width int, maxLen int) (ret int64, bytesRead uint64, err error) {
	var shift int
	var b byte
	for {
		b, err = r.ReadByte()
		if err != nil {
			if err == io.EOF && bytesRead > 0 {
				return 0, 0, fmt.Errorf("unexpected EOF decoding LEB128")
			}
			return 0, 0, err
		}
		bytesRead++

		if bytesRead == uint64(maxLen) {
			remaining := width - shift
			// The final byte carries the sign in its highest used bit; every bit above that must agree with the
			// sign to be canonical.
			signAndPadding := byte(0x7f) << uint(remaining-1) & 0x7f
			masked := b & signAndPadding
			if b&0x80 != 0 || (masked != signAndPadding && masked != 0) {
				return 0, 0, fmt.Errorf("invalid LEB128: overflows %d bits", width)
			}
			ret |= int64(b) << shift
			break
		}

		ret |= int64(b&0x7f) << shift
		shift += 7
		if b&0x80 == 0 {
			break
		}
	}

	// Sign extend if the sign bit of the last read byte's significant bits is set and we terminated before
	// consuming the full width.
	if shift < width && b&0x40 != 0 {
		ret |= -1 << shift
	}
	return ret, bytesRead, nil
}

// byteSliceReader adapts a []byte to io.ByteReader without an allocation.
type byteSliceReader struct {
	b   []byte
	pos int
}

func (r *byteSliceReader) ReadByte() (byte, error) {
	if r.pos >= len(r.b) {
		return 0, io.EOF
	}
	b := r.b[r.pos]
	r.pos++
	return b, nil
}

// LoadUint32 decodes an unsigned 32-bit integer directly from a byte slice.
func LoadUint32(b []byte) (ret uint32, bytesRead uint64, err error) {
	r := byteSliceReader{b: b}
	ret, bytesRead, err = DecodeUint32(&r)
	return
}

// LoadUint64 decodes an unsigned 64-bit integer directly from a byte slice.
func LoadUint64(b []byte) (ret uint64, bytesRead uint64, err error) {
	r := byteSliceReader{b: b}
	return DecodeUint64(&r)
}

// LoadInt32 decodes a signed 32-bit integer directly from a byte slice.
func LoadInt32(b []byte) (ret int32, bytesRead uint64, err error) {
	r := byteSliceReader{b: b}
	ret, bytesRead, err = DecodeInt32(&r)
	return
}

// LoadInt64 decodes a signed 64-bit integer directly from a byte slice.
func LoadInt64(b []byte) (ret int64, bytesRead uint64, err error) {
	r := byteSliceReader{b: b}
	return DecodeInt64(&r)
}

// EncodeInt32 encodes v as a signed LEB128 byte sequence.
func EncodeInt32(v int32) []byte {
	return EncodeInt64(int64(v))
}

// EncodeInt64 encodes v as a signed LEB128 byte sequence.
func EncodeInt64(v int64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		signBitSet := b&0x40 != 0
		if (v == 0 && !signBitSet) || (v == -1 && signBitSet) {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}

// EncodeUint32 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint32(v uint32) []byte {
	return EncodeUint64(uint64(v))
}

// EncodeUint64 encodes v as an unsigned LEB128 byte sequence.
func EncodeUint64(v uint64) []byte {
	out := make([]byte, 0, 10)
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v == 0 {
			out = append(out, b)
			return out
		}
		out = append(out, b|0x80)
	}
}
