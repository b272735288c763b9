package wazeroir

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

var (
	i32, i64, f32 = api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32

	v_v     = wasm.FunctionType{}
	v_i32   = wasm.FunctionType{Results: []api.ValueType{i32}}
	i32_v   = wasm.FunctionType{Params: []api.ValueType{i32}}
	i32_i32 = wasm.FunctionType{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}
	i64_i64 = wasm.FunctionType{Params: []api.ValueType{i64}, Results: []api.ValueType{i64}}
	ii_v    = wasm.FunctionType{Params: []api.ValueType{i32, i32}}
)

// singleFunction builds a Module with exactly one defined function of the given type and raw body.
func singleFunction(ft wasm.FunctionType, body []byte, locals ...api.ValueType) *wasm.Module {
	return &wasm.Module{
		TypeSection:     []wasm.FunctionType{ft},
		FunctionSection: []wasm.Index{0},
		CodeSection:     []wasm.Code{{Body: body, LocalTypes: locals}},
	}
}

func compileOne(t *testing.T, m *wasm.Module) *CompilationResult {
	t.Helper()
	results, err := CompileFunctions(api.CoreFeaturesV2, m)
	require.NoError(t, err)
	require.Len(t, results, 1)
	return results[0]
}

func TestCompileFunctions_Empty(t *testing.T) {
	r := compileOne(t, singleFunction(v_v, []byte{opEnd}))
	require.Empty(t, r.Operations)
	require.False(t, r.HasMemory)
	require.False(t, r.HasTable)
}

func TestCompileFunctions_ConstFusions(t *testing.T) {
	tests := []struct {
		name     string
		ft       wasm.FunctionType
		locals   []api.ValueType
		body     []byte
		expected []Operation
	}{
		{
			name:   "i32.const + local.set -> SetConstI",
			ft:     v_v,
			locals: []api.ValueType{i32},
			body:   []byte{opI32Const, 0x05, opLocalSet, 0x00, opEnd},
			expected: []Operation{
				{Kind: OperationKindSetConstI, ValType: i32, Index: 0, U64: 5},
			},
		},
		{
			name:   "i64.const + local.set -> SetConstI",
			ft:     v_v,
			locals: []api.ValueType{i64},
			body:   []byte{opI64Const, 0x2a, opLocalSet, 0x00, opEnd},
			expected: []Operation{
				{Kind: OperationKindSetConstI, ValType: i64, Index: 0, U64: 42},
			},
		},
		{
			name: "i32.const + i32.add -> AddI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x07, opI32Add, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindAddI, ValType: i32, U64: 7},
			},
		},
		{
			name: "i32.const + i32.sub -> AddI with the sign reversed",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x01, opI32Sub, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindAddI, ValType: i32, U64: 0xffffffff},
			},
		},
		{
			name: "i64.const + i64.sub -> AddI with the sign reversed",
			ft:   i64_i64,
			body: []byte{opLocalGet, 0x00, opI64Const, 0x03, opI64Sub, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i64},
				{Kind: OperationKindAddI, ValType: i64, U64: 0xfffffffffffffffd},
			},
		},
		{
			name: "i32.const + i32.and -> AndI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x0f, opI32And, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindAndI, ValType: i32, U64: 0xf},
			},
		},
		{
			name: "i32.const + i32.or -> OrI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x01, opI32Or, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindOrI, ValType: i32, U64: 1},
			},
		},
		{
			name: "i32.const + i32.xor -> XorI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x7f, opI32Xor, opEnd}, // const -1
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindXorI, ValType: i32, U64: 0xffffffff},
			},
		},
		{
			name: "i32.const + i32.shl -> ShlI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x02, opI32Shl, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindShlI, ValType: i32, U64: 2},
			},
		},
		{
			name: "i64.const + i64.shr_s -> ShrSI",
			ft:   i64_i64,
			body: []byte{opLocalGet, 0x00, opI64Const, 0x03, opI64ShrS, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i64},
				{Kind: OperationKindShrSI, ValType: i64, U64: 3},
			},
		},
		{
			name: "i32.const + i32.shr_u -> ShrUI",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x04, opI32ShrU, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindShrUI, ValType: i32, U64: 4},
			},
		},
		{
			name: "mul does not fuse",
			ft:   i32_i32,
			body: []byte{opLocalGet, 0x00, opI32Const, 0x03, opI32Mul, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
				{Kind: OperationKindConst, ValType: i32, U64: 3},
				{Kind: OperationKindMul, ValType: i32},
			},
		},
		{
			name: "i64 mul does not fuse",
			ft:   i64_i64,
			// i64.const then i64.add fuses, but i64.mul is not in the fusion table, so the const stays a separate op.
			body: []byte{opLocalGet, 0x00, opI64Const, 0x05, opI64Mul, opEnd},
			expected: []Operation{
				{Kind: OperationKindLocalGet, Index: 0, ValType: i64},
				{Kind: OperationKindConst, ValType: i64, U64: 5},
				{Kind: OperationKindMul, ValType: i64},
			},
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			r := compileOne(t, singleFunction(tc.ft, tc.body, tc.locals...))
			require.Equal(t, tc.expected, r.Operations)
		})
	}
}

func TestCompileFunctions_FusionStopsAtLabelBoundary(t *testing.T) {
	// The const is followed by an empty block: the add after `end` must not reach back across the label.
	body := []byte{
		opLocalGet, 0x00,
		opI32Const, 0x07,
		opBlock, 0x40, // empty block type
		opEnd,
		opI32Add,
		opEnd,
	}
	r := compileOne(t, singleFunction(i32_i32, body))
	require.Equal(t, []Operation{
		{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
		{Kind: OperationKindConst, ValType: i32, U64: 7},
		{Kind: OperationKindAdd, ValType: i32},
	}, r.Operations)
}

func TestCompileFunctions_BranchFusions(t *testing.T) {
	t.Run("eqz + br_if -> BrZ", func(t *testing.T) {
		body := []byte{
			opBlock, 0x40,
			opLocalGet, 0x00,
			opI32Eqz,
			opBrIf, 0x00,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(i32_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindBrZ, ValType: i32, Target: BranchTarget{Addr: 2}},
		}, r.Operations)
	})

	t.Run("i32.lt_s + br_if -> BrCmp", func(t *testing.T) {
		body := []byte{
			opBlock, 0x40,
			opLocalGet, 0x00,
			opLocalGet, 0x01,
			opI32LtS,
			opBrIf, 0x00,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(ii_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindLocalGet, Index: 1, ValType: i32},
			{Kind: OperationKindBrCmp, ValType: i32, Signed: true, CmpKind: OperationKindLtS, Target: BranchTarget{Addr: 3}},
		}, r.Operations)
	})

	t.Run("i32.ge_u + br_if -> BrCmp unsigned", func(t *testing.T) {
		body := []byte{
			opBlock, 0x40,
			opLocalGet, 0x00,
			opLocalGet, 0x01,
			opI32GeU,
			opBrIf, 0x00,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(ii_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindLocalGet, Index: 1, ValType: i32},
			{Kind: OperationKindBrCmp, ValType: i32, CmpKind: OperationKindGeU, Target: BranchTarget{Addr: 3}},
		}, r.Operations)
	})

	t.Run("comparison not followed by br_if stays unfused", func(t *testing.T) {
		body := []byte{
			opLocalGet, 0x00,
			opLocalGet, 0x01,
			opI32LtS,
			opDrop,
			opEnd,
		}
		r := compileOne(t, singleFunction(ii_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindLocalGet, Index: 1, ValType: i32},
			{Kind: OperationKindLtS, ValType: i32, Signed: true},
			{Kind: OperationKindDrop},
		}, r.Operations)
	})
}

func TestCompileFunctions_Labels(t *testing.T) {
	t.Run("loop branch resolves backward immediately", func(t *testing.T) {
		body := []byte{
			opBlock, 0x40,
			opLoop, 0x40,
			opBr, 0x00,
			opEnd,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(v_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindBr, Target: BranchTarget{Addr: 0}},
		}, r.Operations)
	})

	t.Run("if/else jump addresses", func(t *testing.T) {
		body := []byte{
			opLocalGet, 0x00,
			opIf, 0x7f, // if (result i32)
			opI32Const, 0x01,
			opElse,
			opI32Const, 0x02,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(i32_i32, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindBrIfEqz, Target: BranchTarget{Addr: 4}},
			{Kind: OperationKindConst, ValType: i32, U64: 1},
			{Kind: OperationKindBr, Target: BranchTarget{Addr: 5, Arity: 1}},
			{Kind: OperationKindConst, ValType: i32, U64: 2},
		}, r.Operations)
	})

	t.Run("br_table targets all resolve to their block ends", func(t *testing.T) {
		body := []byte{
			opBlock, 0x40,
			opBlock, 0x40,
			opLocalGet, 0x00,
			opBrTable, 0x01, 0x00, 0x01, // one arm -> inner block, default -> outer
			opEnd,
			opEnd,
			opEnd,
		}
		r := compileOne(t, singleFunction(i32_v, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindBrTable, Targets: []BranchTarget{{Addr: 2}, {Addr: 2}}},
		}, r.Operations)
	})

	t.Run("return is a branch to the function label", func(t *testing.T) {
		body := []byte{
			opI32Const, 0x09,
			opReturn,
			opEnd,
		}
		r := compileOne(t, singleFunction(v_i32, body))
		require.Equal(t, []Operation{
			{Kind: OperationKindConst, ValType: i32, U64: 9},
			{Kind: OperationKindBr, Target: BranchTarget{Addr: 2, Arity: 1}},
		}, r.Operations)
	})
}

func TestCompileFunctions_MemoryAndTableUse(t *testing.T) {
	t.Run("load marks HasMemory and keeps the offset immediate", func(t *testing.T) {
		m := singleFunction(i32_i32, []byte{
			opLocalGet, 0x00,
			opI32Load, 0x02, 0x04, // align=2, offset=4
			opEnd,
		})
		m.MemorySection = &wasm.Memory{Min: 1}
		r := compileOne(t, m)
		require.True(t, r.HasMemory)
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindLoad, ValType: i32, Offset: 4},
		}, r.Operations)
	})

	t.Run("call_indirect marks HasTable and records both indices", func(t *testing.T) {
		m := singleFunction(i32_i32, []byte{
			opLocalGet, 0x00,
			opCallIndirect, 0x01, 0x00, // type index 1, table 0
			opEnd,
		})
		m.TypeSection = append(m.TypeSection, v_i32)
		m.TableSection = []wasm.Table{{Min: 1}}
		r := compileOne(t, m)
		require.True(t, r.HasTable)
		require.Equal(t, []Operation{
			{Kind: OperationKindLocalGet, Index: 0, ValType: i32},
			{Kind: OperationKindCallIndirect, Index: 1, Index2: 0},
		}, r.Operations)
	})
}

func TestCompileFunctions_UnreachableCodeIsPolymorphic(t *testing.T) {
	// After `unreachable`, the operand stack is polymorphic: the add and the residual result both type-check
	// against the unknown type, so this body is valid even though nothing was pushed before the add.
	body := []byte{
		opUnreachable,
		opI32Add,
		opEnd,
	}
	_, err := CompileFunctions(api.CoreFeaturesV2, singleFunction(v_i32, body))
	require.NoError(t, err)

	// The same applies after br; the add's result is dropped, since the residual stack must still match v_v's
	// empty result list at end.
	body = []byte{
		opBr, 0x00,
		opI32Add,
		opDrop,
		opEnd,
	}
	_, err = CompileFunctions(api.CoreFeaturesV2, singleFunction(v_v, body))
	require.NoError(t, err)
}

func TestCompileFunctions_Errors(t *testing.T) {
	withMemory := func(m *wasm.Module) *wasm.Module {
		m.MemorySection = &wasm.Memory{Min: 1}
		return m
	}
	tests := []struct {
		name        string
		module      *wasm.Module
		features    api.CoreFeatures
		expectedErr string
	}{
		{
			name:        "result type mismatch",
			module:      singleFunction(v_i32, []byte{opI64Const, 0x01, opEnd}),
			expectedErr: "type mismatch",
		},
		{
			name:        "stack underflow",
			module:      singleFunction(v_v, []byte{opI32Add, opEnd}),
			expectedErr: "stack underflow",
		},
		{
			name:        "branch depth out of range",
			module:      singleFunction(v_v, []byte{opBr, 0x05, opEnd}),
			expectedErr: "invalid branch depth",
		},
		{
			name:        "unknown local",
			module:      singleFunction(v_v, []byte{opLocalGet, 0x09, opEnd}),
			expectedErr: "invalid local index",
		},
		{
			name:        "unknown global",
			module:      singleFunction(v_v, []byte{opGlobalGet, 0x00, opEnd}),
			expectedErr: "invalid global index",
		},
		{
			name: "global.set on immutable global",
			module: func() *wasm.Module {
				m := singleFunction(v_v, []byte{opI32Const, 0x01, opGlobalSet, 0x00, opEnd})
				m.GlobalSection = []wasm.Global{{Type: wasm.GlobalType{ValType: i32, Mutable: false}}}
				return m
			}(),
			expectedErr: "global.set on immutable global",
		},
		{
			name:        "memory access without memory",
			module:      singleFunction(i32_i32, []byte{opLocalGet, 0x00, opI32Load, 0x02, 0x00, opEnd}),
			expectedErr: "unknown memory",
		},
		{
			name:        "alignment exceeds natural",
			module:      withMemory(singleFunction(i32_i32, []byte{opLocalGet, 0x00, opI32Load, 0x03, 0x00, opEnd})),
			expectedErr: "alignment",
		},
		{
			name:        "missing final end",
			module:      singleFunction(v_v, []byte{opNop}),
			expectedErr: "missing final end",
		},
		{
			name:        "call with unknown function index",
			module:      singleFunction(v_v, []byte{opCall, 0x07, opEnd}),
			expectedErr: "invalid call function index",
		},
		{
			name:        "sign extension gated by features",
			module:      singleFunction(i32_i32, []byte{opLocalGet, 0x00, opI32Extend8S, opEnd}),
			features:    api.CoreFeaturesV1,
			expectedErr: "sign extension",
		},
		{
			name:        "saturating truncation gated by features",
			module:      singleFunction(v_i32, []byte{opF32Const, 0x00, 0x00, 0x80, 0x3f, opMiscPrefix, miscI32TruncSatF32S, opEnd}),
			features:    api.CoreFeaturesV1,
			expectedErr: "non-trapping float-to-int",
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			features := tc.features
			if features == 0 {
				features = api.CoreFeaturesV2
			}
			_, err := CompileFunctions(features, tc.module)
			require.Error(t, err)
			require.Contains(t, err.Error(), tc.expectedErr)
		})
	}
}

func TestCompileFunctions_SelectTypesBothArms(t *testing.T) {
	// Valid: both arms i32.
	body := []byte{
		opI32Const, 0x01,
		opI32Const, 0x02,
		opLocalGet, 0x00,
		opSelect,
		opDrop,
		opEnd,
	}
	_, err := CompileFunctions(api.CoreFeaturesV2, singleFunction(i32_v, body))
	require.NoError(t, err)

	// Invalid: arms of different types.
	body = []byte{
		opI32Const, 0x01,
		opI64Const, 0x02,
		opLocalGet, 0x00,
		opSelect,
		opDrop,
		opEnd,
	}
	_, err = CompileFunctions(api.CoreFeaturesV2, singleFunction(i32_v, body))
	require.Error(t, err)
	require.Contains(t, err.Error(), "type mismatch")
}

func TestCompileFunctions_ImportedGlobalsPrecedeDefined(t *testing.T) {
	m := singleFunction(v_i32, []byte{opGlobalGet, 0x01, opEnd})
	m.ImportSection = []wasm.Import{{
		Type: api.ExternTypeGlobal, Module: "env", Name: "g",
		DescGlobal: &wasm.GlobalType{ValType: f32},
	}}
	m.GlobalSection = []wasm.Global{{Type: wasm.GlobalType{ValType: i32}}}
	r := compileOne(t, m)
	require.Equal(t, []Operation{
		{Kind: OperationKindGlobalGet, Index: 1, ValType: i32},
	}, r.Operations)
}
