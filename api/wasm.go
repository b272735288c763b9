// Package api includes constants and interfaces used by both end-users and internal implementations.
package api

import (
	"context"
	"fmt"
	"math"
	"reflect"
)

// ExternType classifies imports and exports with their respective types.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#external-types%E2%91%A0
type ExternType = byte

const (
	ExternTypeFunc   ExternType = 0x00
	ExternTypeTable  ExternType = 0x01
	ExternTypeMemory ExternType = 0x02
	ExternTypeGlobal ExternType = 0x03
)

const (
	ExternTypeFuncName   = "func"
	ExternTypeTableName  = "table"
	ExternTypeMemoryName = "memory"
	ExternTypeGlobalName = "global"
)

// ExternTypeName returns the name of the WebAssembly Text Format field of the given type.
func ExternTypeName(et ExternType) string {
	switch et {
	case ExternTypeFunc:
		return ExternTypeFuncName
	case ExternTypeTable:
		return ExternTypeTableName
	case ExternTypeMemory:
		return ExternTypeMemoryName
	case ExternTypeGlobal:
		return ExternTypeGlobalName
	}
	return fmt.Sprintf("%#x", et)
}

// ValueType describes a numeric type used in the WebAssembly core: i32, i64, f32, f64.
// Reference types (funcref, externref) are out of scope for this engine.
//
// The following describes how to convert between Wasm and Go types:
//
//   - ValueTypeI32 - uint64(uint32,int32)
//   - ValueTypeI64 - uint64(int64)
//   - ValueTypeF32 - EncodeF32 / DecodeF32 from float32
//   - ValueTypeF64 - EncodeF64 / DecodeF64 from float64
//
// Note: This is a type alias as it is easier to encode and decode in the binary format.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#binary-valtype
type ValueType = byte

const (
	// ValueTypeI32 is a 32-bit integer.
	ValueTypeI32 ValueType = 0x7f
	// ValueTypeI64 is a 64-bit integer.
	ValueTypeI64 ValueType = 0x7e
	// ValueTypeF32 is a 32-bit floating point number.
	ValueTypeF32 ValueType = 0x7d
	// ValueTypeF64 is a 64-bit floating point number.
	ValueTypeF64 ValueType = 0x7c
)

// ValueTypeName returns the type name of the given ValueType as used in the text format.
//
// Note: This returns "unknown", if an undefined ValueType value is passed.
func ValueTypeName(t ValueType) string {
	switch t {
	case ValueTypeI32:
		return "i32"
	case ValueTypeI64:
		return "i64"
	case ValueTypeF32:
		return "f32"
	case ValueTypeF64:
		return "f64"
	}
	return "unknown"
}

// Module returns functions exported in a module, post-instantiation.
//
// Note: This is an interface for decoupling, not third-party implementations. All implementations live in this
// module.
type Module interface {
	fmt.Stringer

	// Name is the name this module was instantiated with.
	Name() string

	// Memory returns the memory defined in this module, or nil if there wasn't one.
	Memory() Memory

	// ExportedFunction returns a function exported from this module, or nil if it wasn't.
	ExportedFunction(name string) Function

	// ExportedMemory returns a memory exported from this module, or nil if it wasn't.
	ExportedMemory(name string) Memory

	// ExportedGlobal returns a global exported from this module, or nil if it wasn't.
	ExportedGlobal(name string) Global

	// CloseWithExitCode releases resources allocated for this Module. Use a non-zero exitCode to indicate a failure
	// to callers still invoking exported functions. Only the last de-allocation error, if any, is returned.
	CloseWithExitCode(ctx context.Context, exitCode uint32) error

	// Closer closes this module, delegating to CloseWithExitCode with an exit code of zero.
	Closer
}

// Closer closes a resource.
type Closer interface {
	// Close closes the resource. When the context is nil, it defaults to context.Background.
	Close(context.Context) error
}

// FunctionDefinition is a WebAssembly function exported or defined in a module.
type FunctionDefinition interface {
	// ModuleName is the possibly empty name of the module defining this function.
	ModuleName() string

	// Index is the position in the module's function index namespace, imports first.
	Index() uint32

	// Name is the module-defined name of the function, which is not necessarily its export name.
	Name() string

	// DebugName identifies this function based on its Index or Name for errors and stack traces.
	//
	// The format is dot-delimited module and function name. When the function name is empty, a substitute is
	// generated by prefixing '$' to its position in the index namespace, e.g. ".$0".
	DebugName() string

	// Import returns true with the module and function name when this function is imported.
	Import() (moduleName, name string, isImport bool)

	// ExportNames include all exported names for the given function.
	ExportNames() []string

	// GoFunc is present when the function was implemented by the embedder rather than a wasm binary.
	GoFunc() *reflect.Value

	// ParamTypes are the possibly empty sequence of value types accepted by a function with this signature.
	ParamTypes() []ValueType

	// ParamNames are index-correlated with ParamTypes, or nil if unavailable for one or more parameters.
	ParamNames() []string

	// ResultTypes are the results of the function. At most one, in the subset this engine targets.
	ResultTypes() []ValueType
}

// Function is a WebAssembly function exported from an instantiated module.
type Function interface {
	// Definition is metadata about this function from its defining module.
	Definition() FunctionDefinition

	// Call invokes the function with parameters encoded according to ParamTypes, returning results encoded
	// according to ResultTypes. When the context is nil, it defaults to context.Background.
	Call(ctx context.Context, params ...uint64) ([]uint64, error)
}

// Global is a WebAssembly global exported from an instantiated module.
type Global interface {
	fmt.Stringer

	// Type describes the numeric type of the global.
	Type() ValueType

	// Get returns the last known value of this global. When the context is nil, it defaults to context.Background.
	Get(context.Context) uint64
}

// MutableGlobal is a Global whose value can be updated at runtime.
type MutableGlobal interface {
	Global

	// Set updates the value of this global. When the context is nil, it defaults to context.Background.
	Set(ctx context.Context, v uint64)
}

// Memory allows restricted access to a module's linear memory.
//
// All functions accept a context.Context, which when nil, defaults to context.Background. All multi-byte values
// are encoded little-endian, per the WebAssembly core specification.
type Memory interface {
	// Size returns the size in bytes available. Ex. if the underlying memory has 1 page: 65536.
	Size(context.Context) uint32

	// Grow increases memory by the delta in pages (65536 bytes per page). The return value is the previous memory
	// size in pages, or false if the delta was ignored because it would exceed the max.
	Grow(ctx context.Context, deltaPages uint32) (previousPages uint32, ok bool)

	// ReadByte reads a single byte at the offset, or returns false if out of range.
	ReadByte(ctx context.Context, offset uint32) (byte, bool)

	// ReadUint32Le reads a uint32 in little-endian encoding at the offset, or returns false if out of range.
	ReadUint32Le(ctx context.Context, offset uint32) (uint32, bool)

	// ReadUint64Le reads a uint64 in little-endian encoding at the offset, or returns false if out of range.
	ReadUint64Le(ctx context.Context, offset uint32) (uint64, bool)

	// ReadFloat32Le reads a float32 from 32 little-endian encoded IEEE 754 bits at the offset, or returns false if
	// out of range.
	ReadFloat32Le(ctx context.Context, offset uint32) (float32, bool)

	// ReadFloat64Le reads a float64 from 64 little-endian encoded IEEE 754 bits at the offset, or returns false if
	// out of range.
	ReadFloat64Le(ctx context.Context, offset uint32) (float64, bool)

	// Read reads byteCount bytes at the offset, or returns false if out of range. This is a view of the underlying
	// buffer, not a copy: writes to the returned slice are visible to Wasm and vice versa.
	Read(ctx context.Context, offset, byteCount uint32) ([]byte, bool)

	// WriteByte writes a single byte at the offset, or returns false if out of range.
	WriteByte(ctx context.Context, offset uint32, v byte) bool

	// WriteUint32Le writes the value in little-endian encoding at the offset, or returns false if out of range.
	WriteUint32Le(ctx context.Context, offset, v uint32) bool

	// WriteUint64Le writes the value in little-endian encoding at the offset, or returns false if out of range.
	WriteUint64Le(ctx context.Context, offset uint32, v uint64) bool

	// WriteFloat32Le writes the value as 32 little-endian encoded IEEE 754 bits at the offset, or returns false if
	// out of range.
	WriteFloat32Le(ctx context.Context, offset uint32, v float32) bool

	// WriteFloat64Le writes the value as 64 little-endian encoded IEEE 754 bits at the offset, or returns false if
	// out of range.
	WriteFloat64Le(ctx context.Context, offset uint32, v float64) bool

	// Write writes the slice at the offset, or returns false if out of range.
	Write(ctx context.Context, offset uint32, v []byte) bool
}

// EncodeI32 encodes the input as a ValueTypeI32.
func EncodeI32(input int32) uint64 {
	return uint64(uint32(input))
}

// EncodeI64 encodes the input as a ValueTypeI64.
func EncodeI64(input int64) uint64 {
	return uint64(input)
}

// EncodeF32 encodes the input as a ValueTypeF32.
//
// See DecodeF32
func EncodeF32(input float32) uint64 {
	return uint64(math.Float32bits(input))
}

// DecodeF32 decodes the input as a ValueTypeF32.
//
// See EncodeF32
func DecodeF32(input uint64) float32 {
	return math.Float32frombits(uint32(input))
}

// EncodeF64 encodes the input as a ValueTypeF64.
//
// See DecodeF64
func EncodeF64(input float64) uint64 {
	return math.Float64bits(input)
}

// DecodeF64 decodes the input as a ValueTypeF64.
//
// See EncodeF64
func DecodeF64(input uint64) float64 {
	return math.Float64frombits(input)
}
