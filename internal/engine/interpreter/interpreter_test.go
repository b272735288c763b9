package interpreter

import (
	"context"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasmruntime"
	"github.com/wazerocore/wazerocore/internal/wazeroir"
)

var testCtx = context.Background()

func TestTrimStack(t *testing.T) {
	tests := []struct {
		name          string
		stack         []uint64
		height, arity uint32
		expected      []uint64
	}{
		{name: "no results", stack: []uint64{1, 2, 3}, height: 0, arity: 0, expected: []uint64{}},
		{name: "keep one result", stack: []uint64{1, 2, 3}, height: 0, arity: 1, expected: []uint64{3}},
		{name: "intermediate values dropped", stack: []uint64{1, 2, 3, 4}, height: 1, arity: 1, expected: []uint64{1, 4}},
		{name: "already at height", stack: []uint64{1, 2}, height: 1, arity: 1, expected: []uint64{1, 2}},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.expected, trimStack(tc.stack, tc.height, tc.arity))
		})
	}
}

func TestShifts_AmountTakenModuloWidth(t *testing.T) {
	for _, k := range []uint64{0, 1, 31, 32, 33, 63, 64, 100} {
		require.Equal(t, shiftRightSigned(api.ValueTypeI32, uint64(uint32(0x80000000)), k),
			shiftRightSigned(api.ValueTypeI32, uint64(uint32(0x80000000)), k%32), "i32 shr_s k=%d", k)
		require.Equal(t, shiftLeft(api.ValueTypeI64, 1, k), shiftLeft(api.ValueTypeI64, 1, k%64), "i64 shl k=%d", k)
	}
	require.Equal(t, uint64(0xffffffff), shiftRightSigned(api.ValueTypeI32, uint64(uint32(0x80000000)), 31))
	require.Equal(t, uint64(1), shiftRightUnsigned(api.ValueTypeI32, uint64(uint32(0x80000000)), 31))
}

func TestRotates(t *testing.T) {
	require.Equal(t, uint64(0x00000001), rotl(api.ValueTypeI32, 0x80000000, 1))
	require.Equal(t, uint64(0x80000000), rotr(api.ValueTypeI32, 1, 1))
	require.Equal(t, uint64(1), rotl(api.ValueTypeI64, 0x8000000000000000, 1))
	// The rotate amount also wraps at the operand width.
	require.Equal(t, rotl(api.ValueTypeI32, 0x12345678, 4), rotl(api.ValueTypeI32, 0x12345678, 36))
}

func TestDivSigned(t *testing.T) {
	require.Equal(t, uint64(uint32(0xfffffffe)), divSigned(api.ValueTypeI32, uint64(uint32(0xfffffff9)), 3)) // -7/3 = -2
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerDivideByZero, func() {
		divSigned(api.ValueTypeI32, 1, 0)
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerOverflow, func() {
		var minI32 int32 = math.MinInt32
		divSigned(api.ValueTypeI32, uint64(uint32(minI32)), uint64(uint32(0xffffffff)))
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerOverflow, func() {
		divSigned(api.ValueTypeI64, uint64(uint64(1)<<63), uint64(0xffffffffffffffff))
	})
}

func TestRemSigned(t *testing.T) {
	require.Equal(t, uint64(uint32(0xffffffff)), remSigned(api.ValueTypeI32, uint64(uint32(0xfffffff9)), 3)) // -7%3 = -1
	// MinInt % -1 is 0, not a trap, unlike division.
	var remMinI32 int32 = math.MinInt32
	require.Equal(t, uint64(0), remSigned(api.ValueTypeI32, uint64(uint32(remMinI32)), uint64(uint32(0xffffffff))))
	require.Equal(t, uint64(0), remSigned(api.ValueTypeI64, uint64(uint64(1)<<63), uint64(0xffffffffffffffff)))
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerDivideByZero, func() {
		remSigned(api.ValueTypeI64, 1, 0)
	})
}

func TestDivRemUnsigned(t *testing.T) {
	require.Equal(t, uint64(1431655763), divUnsigned(api.ValueTypeI32, uint64(uint32(0xfffffff9)), 3)) // u(-7)/3
	require.Equal(t, uint64(0), remUnsigned(api.ValueTypeI32, uint64(uint32(0xfffffff9)), 3))
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerDivideByZero, func() {
		divUnsigned(api.ValueTypeI64, 1, 0)
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerDivideByZero, func() {
		remUnsigned(api.ValueTypeI32, 1, 0)
	})
}

func TestCompareInt_I32UsesLowBits(t *testing.T) {
	// An i32 value occupies a uint64 slot; garbage above bit 31 must be ignored when it legitimately cannot
	// occur, and comparisons only read the low word.
	a := uint64(uint32(0xfffffff9)) // -7
	b := uint64(3)
	require.True(t, compareInt(wazeroir.OperationKindLtS, api.ValueTypeI32, a, b))
	require.False(t, compareInt(wazeroir.OperationKindLtU, api.ValueTypeI32, a, b))
	require.True(t, compareInt(wazeroir.OperationKindGtU, api.ValueTypeI32, a, b))
	require.True(t, compareInt(wazeroir.OperationKindNe, api.ValueTypeI32, a, b))
	require.False(t, compareInt(wazeroir.OperationKindEq, api.ValueTypeI32, a, b))
}

func TestExtend(t *testing.T) {
	require.Equal(t, uint64(0xffffffff), extendByte(0xff, true, api.ValueTypeI32))
	require.Equal(t, uint64(0xff), extendByte(0xff, false, api.ValueTypeI32))
	require.Equal(t, uint64(0xffffffffffffffff), extendByte(0xff, true, api.ValueTypeI64))
	require.Equal(t, uint64(0xffff8000), extendHalf(0x8000, true, api.ValueTypeI32))
	require.Equal(t, uint64(0x8000), extendHalf(0x8000, false, api.ValueTypeI64))
}

func TestEffectiveAddr(t *testing.T) {
	addr, ok := effectiveAddr(16, 4)
	require.True(t, ok)
	require.Equal(t, uint32(20), addr)

	// base + offset overflowing 32 bits is out of bounds before the length check even runs.
	_, ok = effectiveAddr(0xffffffff, 1)
	require.False(t, ok)
}

func TestTruncFromFloat(t *testing.T) {
	i32t, i64t := api.ValueTypeI32, api.ValueTypeI64

	require.Equal(t, uint64(3), truncFromFloat(3.9, i32t, true, false))
	require.Equal(t, uint64(uint32(0xfffffffd)), truncFromFloat(-3.9, i32t, true, false)) // -3
	var truncMinI32 int32 = math.MinInt32
	require.Equal(t, uint64(uint32(truncMinI32)), truncFromFloat(math.MinInt32, i32t, true, false))

	require.PanicsWithValue(t, wasmruntime.ErrRuntimeInvalidConversionToInteger, func() {
		truncFromFloat(math.NaN(), i32t, true, false)
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerOverflow, func() {
		truncFromFloat(math.MaxInt32+1.0, i32t, true, false)
	})
	require.PanicsWithValue(t, wasmruntime.ErrRuntimeIntegerOverflow, func() {
		truncFromFloat(-1, i32t, false, false)
	})

	// The saturating family never traps.
	require.Equal(t, uint64(0), truncFromFloat(math.NaN(), i32t, true, true))
	require.Equal(t, uint64(uint32(math.MaxInt32)), truncFromFloat(math.Inf(1), i32t, true, true))
	var satTruncMinI32 int32 = math.MinInt32
	require.Equal(t, uint64(uint32(satTruncMinI32)), truncFromFloat(math.Inf(-1), i32t, true, true))
	require.Equal(t, uint64(uint32(math.MaxUint32)), truncFromFloat(math.Inf(1), i32t, false, true))
	require.Equal(t, uint64(0), truncFromFloat(-5.0, i32t, false, true))
	require.Equal(t, uint64(math.MaxUint64), truncFromFloat(math.Inf(1), i64t, false, true))
	require.Equal(t, uint64(uint64(math.MaxInt64)), truncFromFloat(math.Inf(1), i64t, true, true))
}

func TestConvertFromInt(t *testing.T) {
	require.Equal(t, math.Float64bits(-1), convertFromInt(uint64(uint32(0xffffffff)), api.ValueTypeI32, api.ValueTypeF64, true))
	require.Equal(t, math.Float64bits(4294967295), convertFromInt(uint64(uint32(0xffffffff)), api.ValueTypeI32, api.ValueTypeF64, false))
	require.Equal(t, uint64(math.Float32bits(2)), convertFromInt(2, api.ValueTypeI64, api.ValueTypeF32, true))
	require.Equal(t, math.Float64bits(1.8446744073709552e19), convertFromInt(math.MaxUint64, api.ValueTypeI64, api.ValueTypeF64, false))
}

// --- engine-level tests, driving compiled modules through a Store ---

func testStore() *wasm.Store {
	return wasm.NewStore(api.CoreFeaturesV2, NewEngine(api.CoreFeaturesV2))
}

// testModule wraps a hand-assembled wasm.Module with the bookkeeping Store.Instantiate needs: a distinct ID for
// the compiled-code cache and an export for each function.
func testModule(id byte, ft wasm.FunctionType, bodies ...[]byte) *wasm.Module {
	m := &wasm.Module{
		TypeSection:   []wasm.FunctionType{ft},
		ExportSection: map[string]*wasm.Export{},
		ID:            wasm.ModuleID{id},
	}
	for i, body := range bodies {
		m.FunctionSection = append(m.FunctionSection, 0)
		m.CodeSection = append(m.CodeSection, wasm.Code{Body: body})
		name := string(rune('a' + i))
		m.ExportSection[name] = &wasm.Export{Type: api.ExternTypeFunc, Name: name, Index: wasm.Index(i)}
	}
	return m
}

func TestEngine_CompileModule_Cached(t *testing.T) {
	e := NewEngine(api.CoreFeaturesV2).(*engine)
	m := testModule(1, wasm.FunctionType{}, []byte{0x0b}) // end

	require.NoError(t, e.CompileModule(testCtx, m))
	require.Equal(t, uint32(1), e.CompiledModuleCount())

	// A second compile of the same module is a no-op on the cache.
	require.NoError(t, e.CompileModule(testCtx, m))
	require.Equal(t, uint32(1), e.CompiledModuleCount())

	e.DeleteCompiledModule(m)
	require.Zero(t, e.CompiledModuleCount())
}

func TestEngine_NewModuleEngine_RequiresCompiledModule(t *testing.T) {
	e := NewEngine(api.CoreFeaturesV2)
	m := testModule(2, wasm.FunctionType{}, []byte{0x0b})
	_, err := e.NewModuleEngine("test", m, nil, nil)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not been compiled")
}

func TestEngine_Call_FusedArithmetic(t *testing.T) {
	// plus41(x) = x + 41, compiled as the fused AddI; minus1(x) = x - 1, compiled as AddI(-1).
	ft := wasm.FunctionType{Params: []api.ValueType{api.ValueTypeI32}, Results: []api.ValueType{api.ValueTypeI32}}
	m := testModule(3, ft,
		[]byte{0x20, 0x00, 0x41, 0x29, 0x6a, 0x0b}, // local.get 0; i32.const 41; i32.add; end
		[]byte{0x20, 0x00, 0x41, 0x01, 0x6b, 0x0b}, // local.get 0; i32.const 1; i32.sub; end
	)
	s := testStore()
	mi, err := s.Instantiate(testCtx, m, "fused", nil)
	require.NoError(t, err)

	res, err := mi.ExportedFunction("a").Call(testCtx, 1)
	require.NoError(t, err)
	require.Equal(t, uint64(42), res[0])

	res, err = mi.ExportedFunction("b").Call(testCtx, 0)
	require.NoError(t, err)
	require.Equal(t, uint64(0xffffffff), res[0], "0 - 1 must wrap to u32 max")
}

func TestEngine_Call_UnreachableTrapsWithStackTrace(t *testing.T) {
	m := testModule(4, wasm.FunctionType{}, []byte{0x00, 0x0b}) // unreachable; end
	s := testStore()
	mi, err := s.Instantiate(testCtx, m, "trapping", nil)
	require.NoError(t, err)

	_, err = mi.ExportedFunction("a").Call(testCtx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "wasm error: unreachable")
	require.Contains(t, err.Error(), "wasm stack trace")
}

func TestEngine_Call_CallStackExhausted(t *testing.T) {
	// A function that unconditionally calls itself must hit the call stack ceiling, not crash the host.
	m := testModule(5, wasm.FunctionType{}, []byte{0x10, 0x00, 0x0b}) // call 0; end
	s := testStore()
	mi, err := s.Instantiate(testCtx, m, "recursive", nil)
	require.NoError(t, err)

	_, err = mi.ExportedFunction("a").Call(testCtx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "callstack overflow")
}

func TestEngine_Call_TrapPreservesInstanceState(t *testing.T) {
	// Stores 7 at address 0, then traps. The write must survive; the instance stays usable.
	ft := wasm.FunctionType{}
	m := testModule(6, ft, []byte{
		0x41, 0x00, // i32.const 0
		0x41, 0x07, // i32.const 7
		0x36, 0x02, 0x00, // i32.store
		0x00, // unreachable
		0x0b, // end
	})
	m.MemorySection = &wasm.Memory{Min: 1}
	s := testStore()
	mi, err := s.Instantiate(testCtx, m, "partial", nil)
	require.NoError(t, err)

	fn := mi.ExportedFunction("a")
	_, err = fn.Call(testCtx)
	require.Error(t, err)

	v, ok := mi.MemoryInstance.ReadUint32Le(testCtx, 0)
	require.True(t, ok)
	require.Equal(t, uint32(7), v)

	// The trap released the aborted invocation only; calling again traps the same way rather than failing.
	_, err = fn.Call(testCtx)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unreachable")
}

