package wasm

import (
	"context"
	"encoding/binary"
	"math"
	"sync/atomic"
)

// MemoryInstance is the runtime representation of a module's linear memory: a single contiguous, growable byte
// buffer addressed by 32-bit offsets. There is at most one per ModuleInstance: this engine has no multi-memory.
type MemoryInstance struct {
	Buffer []byte
	Min    uint32
	Max    uint32

	// pages tracks the current size in MemoryPageSize units; kept separate from len(Buffer)/MemoryPageSize so Grow
	// can be read with a plain atomic load in the common case of no concurrent growth.
	pages uint32
}

// NewMemoryInstance allocates a MemoryInstance sized to its Min page count.
func NewMemoryInstance(m *Memory) *MemoryInstance {
	mi := &MemoryInstance{
		Min:    m.Min,
		Max:    m.Max,
		pages:  m.Min,
		Buffer: make([]byte, uint64(m.Min)*MemoryPageSize),
	}
	if m.Max == 0 && !m.IsMaxEncoded {
		mi.Max = MemoryMaxPages
	}
	return mi
}

// Size implements the same method as documented on api.Memory.
func (m *MemoryInstance) Size(context.Context) uint32 {
	return uint32(len(m.Buffer))
}

// PageSize returns the current size in pages.
func (m *MemoryInstance) PageSize() uint32 {
	return atomic.LoadUint32(&m.pages)
}

// Grow implements the same method as documented on api.Memory.
func (m *MemoryInstance) Grow(ctx context.Context, deltaPages uint32) (previousPages uint32, ok bool) {
	current := m.PageSize()
	if deltaPages == 0 {
		return current, true
	}
	newPages := current + deltaPages
	if newPages < current /* overflow */ || newPages > m.Max {
		return 0, false
	}
	newBuffer := make([]byte, uint64(newPages)*MemoryPageSize)
	copy(newBuffer, m.Buffer)
	m.Buffer = newBuffer
	atomic.StoreUint32(&m.pages, newPages)
	return current, true
}

func (m *MemoryInstance) hasSize(offset uint32, byteCount uint64) bool {
	return uint64(offset)+byteCount <= uint64(len(m.Buffer))
}

// ReadByte implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadByte(ctx context.Context, offset uint32) (byte, bool) {
	if !m.hasSize(offset, 1) {
		return 0, false
	}
	return m.Buffer[offset], true
}

// ReadUint16Le reads a uint16 in little-endian encoding at the offset, or returns false if out of range.
func (m *MemoryInstance) ReadUint16Le(ctx context.Context, offset uint32) (uint16, bool) {
	if !m.hasSize(offset, 2) {
		return 0, false
	}
	return binary.LittleEndian.Uint16(m.Buffer[offset:]), true
}

// ReadUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool) {
	if !m.hasSize(offset, 4) {
		return 0, false
	}
	return binary.LittleEndian.Uint32(m.Buffer[offset:]), true
}

// ReadUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool) {
	if !m.hasSize(offset, 8) {
		return 0, false
	}
	return binary.LittleEndian.Uint64(m.Buffer[offset:]), true
}

// ReadFloat32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool) {
	v, ok := m.ReadUint32Le(ctx, offset)
	if !ok {
		return 0, false
	}
	return math.Float32frombits(v), true
}

// ReadFloat64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool) {
	v, ok := m.ReadUint64Le(ctx, offset)
	if !ok {
		return 0, false
	}
	return math.Float64frombits(v), true
}

// Read implements the same method as documented on api.Memory.
func (m *MemoryInstance) Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool) {
	if !m.hasSize(offset, uint64(byteCount)) {
		return nil, false
	}
	return m.Buffer[offset : offset+byteCount : offset+byteCount], true
}

// WriteByte implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteByte(ctx context.Context, offset uint32, v byte) bool {
	if !m.hasSize(offset, 1) {
		return false
	}
	m.Buffer[offset] = v
	return true
}

// WriteUint32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint32Le(ctx context.Context, offset, v uint32) bool {
	if !m.hasSize(offset, 4) {
		return false
	}
	binary.LittleEndian.PutUint32(m.Buffer[offset:], v)
	return true
}

// WriteUint64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool {
	if !m.hasSize(offset, 8) {
		return false
	}
	binary.LittleEndian.PutUint64(m.Buffer[offset:], v)
	return true
}

// WriteFloat32Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool {
	return m.WriteUint32Le(ctx, offset, math.Float32bits(v))
}

// WriteFloat64Le implements the same method as documented on api.Memory.
func (m *MemoryInstance) WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool {
	return m.WriteUint64Le(ctx, offset, math.Float64bits(v))
}

// Write implements the same method as documented on api.Memory.
func (m *MemoryInstance) Write(ctx context.Context, offset uint32, v []byte) bool {
	if !m.hasSize(offset, uint64(len(v))) {
		return false
	}
	copy(m.Buffer[offset:], v)
	return true
}

// Fill implements the memory.fill instruction: v repeated byteCount times starting at offset.
func (m *MemoryInstance) Fill(offset uint32, v byte, byteCount uint32) bool {
	if !m.hasSize(offset, uint64(byteCount)) {
		return false
	}
	target := m.Buffer[offset : offset+byteCount]
	for i := range target {
		target[i] = v
	}
	return true
}

// CopyWithin implements the memory.copy instruction, correctly handling overlapping regions.
func (m *MemoryInstance) CopyWithin(dst, src, byteCount uint32) bool {
	if !m.hasSize(src, uint64(byteCount)) || !m.hasSize(dst, uint64(byteCount)) {
		return false
	}
	copy(m.Buffer[dst:dst+byteCount], m.Buffer[src:src+byteCount])
	return true
}
