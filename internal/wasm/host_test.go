package wasm

import (
	"context"
	"errors"
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasmruntime"
)

func TestNewGoFunction_SignatureDerivation(t *testing.T) {
	i32, i64, f32, f64 := api.ValueTypeI32, api.ValueTypeI64, api.ValueTypeF32, api.ValueTypeF64
	tests := []struct {
		name            string
		fn              interface{}
		expectedKind    FunctionKind
		expectedParams  []api.ValueType
		expectedResults []api.ValueType
	}{
		{
			name:           "plain numeric",
			fn:             func(a uint32, b int64) float32 { return 0 },
			expectedKind:   FunctionKindGo,
			expectedParams: []api.ValueType{i32, i64}, expectedResults: []api.ValueType{f32},
		},
		{
			name:           "leading context excluded",
			fn:             func(ctx context.Context, a float64) uint64 { return 0 },
			expectedKind:   FunctionKindGo,
			expectedParams: []api.ValueType{f64}, expectedResults: []api.ValueType{i64},
		},
		{
			name:           "context then module excluded, kind GoModule",
			fn:             func(ctx context.Context, m api.Module, a uint32) uint32 { return 0 },
			expectedKind:   FunctionKindGoModule,
			expectedParams: []api.ValueType{i32}, expectedResults: []api.ValueType{i32},
		},
		{
			name:           "trailing error excluded from results",
			fn:             func(a uint32) (uint32, error) { return 0, nil },
			expectedKind:   FunctionKindGo,
			expectedParams: []api.ValueType{i32}, expectedResults: []api.ValueType{i32},
		},
		{
			name:         "nullary",
			fn:           func() {},
			expectedKind: FunctionKindGo,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			f, err := NewGoFunction("env", tc.name, tc.fn)
			require.NoError(t, err)
			require.Equal(t, tc.expectedKind, f.Kind)
			require.Equal(t, tc.expectedParams, f.Type.Params)
			require.Equal(t, tc.expectedResults, f.Type.Results)
			require.NotNil(t, f.Definition)
		})
	}
}

func TestNewGoFunction_Invalid(t *testing.T) {
	_, err := NewGoFunction("env", "notfunc", 42)
	require.Error(t, err)
	require.Contains(t, err.Error(), "not a func")

	_, err = NewGoFunction("env", "badparam", func(s string) {})
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported go kind")
}

func TestCallGoFunc_RoundTrip(t *testing.T) {
	f, err := NewGoFunction("env", "mix", func(ctx context.Context, a int32, b float64) float64 {
		return float64(a) + b
	})
	require.NoError(t, err)

	callCtx := NewCallContext(&ModuleInstance{closed: newClosedFlag()})
	results := CallGoFunc(testCtx, callCtx, f, []uint64{api.EncodeI32(-3), api.EncodeF64(0.5)})
	require.Len(t, results, 1)
	require.Equal(t, -2.5, api.DecodeF64(results[0]))
}

func TestCallGoFunc_ModuleParameterSeesCaller(t *testing.T) {
	var observed api.Module
	f, err := NewGoFunction("env", "observe", func(ctx context.Context, m api.Module) {
		observed = m
	})
	require.NoError(t, err)

	caller := &ModuleInstance{ModuleName: "caller", closed: newClosedFlag()}
	CallGoFunc(testCtx, NewCallContext(caller), f, nil)
	require.Same(t, caller, observed)
}

func TestCallGoFunc_ErrorBecomesHostTrap(t *testing.T) {
	cause := errors.New("backend unavailable")
	f, err := NewGoFunction("env", "failing", func() (uint32, error) { return 0, cause })
	require.NoError(t, err)

	callCtx := NewCallContext(&ModuleInstance{closed: newClosedFlag()})
	defer func() {
		recovered := recover()
		require.NotNil(t, recovered)
		he, ok := recovered.(*wasmruntime.HostError)
		require.True(t, ok, "a host error must unwind as a *wasmruntime.HostError trap")
		require.ErrorIs(t, he, cause)
	}()
	CallGoFunc(testCtx, callCtx, f, nil)
	t.Fatal("expected a panic")
}

func TestCallGoFunc_FloatEncoding(t *testing.T) {
	f, err := NewGoFunction("env", "negate", func(v float32) float32 { return -v })
	require.NoError(t, err)

	callCtx := NewCallContext(&ModuleInstance{closed: newClosedFlag()})
	results := CallGoFunc(testCtx, callCtx, f, []uint64{api.EncodeF32(float32(math.Inf(1)))})
	require.Equal(t, float32(math.Inf(-1)), api.DecodeF32(results[0]))
}

func TestPopValues(t *testing.T) {
	stack := []uint64{1, 2, 3}
	pop := func() uint64 {
		v := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		return v
	}
	require.Nil(t, PopValues(0, pop))
	require.Equal(t, []uint64{2, 3}, PopValues(2, pop), "values come back in call order, not pop order")
}
