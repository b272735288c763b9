package wasm

import (
	"context"
	"math"
	"reflect"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasmruntime"
)

// errorType is reflect.TypeOf((*error)(nil)).Elem(), cached for the hot path in CallGoFunc.
var errorType = reflect.TypeOf((*error)(nil)).Elem()

// PopValues pops count uint64 values using pop, then reverses them into call order. The engine's operand stack
// naturally yields values last-pushed-first; callers (both Wasm and Go-defined functions) expect first-declared-
// first.
func PopValues(count int, pop func() uint64) []uint64 {
	if count == 0 {
		return nil
	}
	result := make([]uint64, count)
	for i := count - 1; i >= 0; i-- {
		result[i] = pop()
	}
	return result
}

// PopGoFuncParams pops the parameters a Go-defined FunctionInstance expects, already reversed into call order.
func PopGoFuncParams(f *FunctionInstance, pop func() uint64) []uint64 {
	return PopValues(len(f.Type.Params), pop)
}

// CallGoFunc invokes a Go-defined FunctionInstance via reflection, translating Wasm-encoded uint64 params/results
// to and from the embedder's native Go types.
func CallGoFunc(ctx context.Context, callCtx *CallContext, f *FunctionInstance, params []uint64) []uint64 {
	val := f.GoFunc
	tp := val.Type()

	// Fill the special leading parameters in the same order NewGoFunction recognized them: context first, then
	// the calling module.
	in := make([]reflect.Value, tp.NumIn())
	i := 0
	if i < tp.NumIn() && tp.In(i) == contextType {
		in[i] = reflect.ValueOf(ctx)
		i++
	}
	if f.Kind == FunctionKindGoModule {
		in[i] = reflect.ValueOf(callCtx.Module())
		i++
	}
	for pi := 0; i < tp.NumIn(); i, pi = i+1, pi+1 {
		in[i] = decodeGoParam(tp.In(i), params[pi])
	}

	out := val.Call(in)
	// A trailing error result is the host's way of raising a trap: per the import contract, a non-nil error
	// unwinds the caller's entire Wasm call stack exactly like any other runtime trap.
	if n := len(out); n > 0 && tp.Out(n-1) == errorType {
		if errVal := out[n-1]; !errVal.IsNil() {
			panic(wasmruntime.NewHostError(errVal.Interface().(error)))
		}
		out = out[:n-1]
	}
	results := make([]uint64, len(out))
	for i, o := range out {
		results[i] = encodeGoResult(o)
	}
	return results
}

// moduleType is reflect.TypeOf((*api.Module)(nil)).Elem(), checked against a host func's second parameter to
// decide whether it needs FunctionKindGoModule instead of plain FunctionKindGo.
var moduleType = reflect.TypeOf((*api.Module)(nil)).Elem()

var contextType = reflect.TypeOf((*context.Context)(nil)).Elem()

// NewGoFunction builds the FunctionInstance for a Go-defined function supplied by the embedder. fn must be a func
// value; its leading context.Context and api.Module parameters (both optional, in that order) are recognized and
// excluded from the derived FunctionType, as is a trailing error result.
func NewGoFunction(moduleName, name string, fn interface{}) (*FunctionInstance, error) {
	val := reflect.ValueOf(fn)
	tp := val.Type()
	if tp.Kind() != reflect.Func {
		return nil, NewValidationError("host function %s.%s: not a func", moduleName, name)
	}

	kind := FunctionKindGo
	i := 0
	if i < tp.NumIn() && tp.In(i) == contextType {
		i++
	}
	if i < tp.NumIn() && tp.In(i).Implements(moduleType) {
		kind = FunctionKindGoModule
		i++
	}

	var params []api.ValueType
	for ; i < tp.NumIn(); i++ {
		vt, err := goKindToValueType(tp.In(i).Kind())
		if err != nil {
			return nil, NewValidationError("host function %s.%s: parameter %d: %v", moduleName, name, i, err)
		}
		params = append(params, vt)
	}

	numOut := tp.NumOut()
	if numOut > 0 && tp.Out(numOut-1) == errorType {
		numOut--
	}
	var results []api.ValueType
	for i := 0; i < numOut; i++ {
		vt, err := goKindToValueType(tp.Out(i).Kind())
		if err != nil {
			return nil, NewValidationError("host function %s.%s: result %d: %v", moduleName, name, i, err)
		}
		results = append(results, vt)
	}

	ft := &FunctionType{Params: params, Results: results}
	ft.Finalize()

	f := &FunctionInstance{
		Kind:       kind,
		Type:       ft,
		GoFunc:     &val,
		moduleName: moduleName,
		name:       name,
	}
	f.Definition = &FunctionDefinition{f: f}
	return f, nil
}

func goKindToValueType(k reflect.Kind) (api.ValueType, error) {
	switch k {
	case reflect.Uint32, reflect.Int32:
		return api.ValueTypeI32, nil
	case reflect.Uint64, reflect.Int64:
		return api.ValueTypeI64, nil
	case reflect.Float32:
		return api.ValueTypeF32, nil
	case reflect.Float64:
		return api.ValueTypeF64, nil
	default:
		return 0, NewValidationError("unsupported go kind %s", k)
	}
}

func decodeGoParam(t reflect.Type, v uint64) reflect.Value {
	switch t.Kind() {
	case reflect.Uint32:
		return reflect.ValueOf(uint32(v))
	case reflect.Int32:
		return reflect.ValueOf(int32(v))
	case reflect.Uint64:
		return reflect.ValueOf(v)
	case reflect.Int64:
		return reflect.ValueOf(int64(v))
	case reflect.Float32:
		return reflect.ValueOf(math.Float32frombits(uint32(v)))
	case reflect.Float64:
		return reflect.ValueOf(math.Float64frombits(v))
	default:
		return reflect.ValueOf(v).Convert(t)
	}
}

func encodeGoResult(v reflect.Value) uint64 {
	switch v.Kind() {
	case reflect.Uint32, reflect.Uint64:
		return v.Uint()
	case reflect.Int32, reflect.Int64:
		return uint64(v.Int())
	case reflect.Float32:
		return uint64(math.Float32bits(float32(v.Float())))
	case reflect.Float64:
		return math.Float64bits(v.Float())
	default:
		return v.Convert(reflect.TypeOf(uint64(0))).Uint()
	}
}
