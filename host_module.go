package wazerocore

import (
	"context"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// HostModuleBuilder defines a module of Go-implemented functions, so that a WebAssembly binary can import and call
// them. Unlike a Wasm-defined module, a host module skips decode/validate/compile entirely: each function's
// signature is derived by reflection from the Go func itself.
//
// Example: a module exposing an "env.add" import backed by Go addition.
//
//	env, err := rt.NewHostModuleBuilder("env").
//		NewFunctionBuilder().WithFunc(func(ctx context.Context, x, y uint32) uint32 { return x + y }).Export("add").
//		Instantiate(ctx)
type HostModuleBuilder interface {
	// NewFunctionBuilder begins defining a single function of this host module.
	NewFunctionBuilder() HostFunctionBuilder

	// Instantiate registers the host module's accumulated functions under its name, so later InstantiateModule
	// calls can import from it.
	Instantiate(ctx context.Context) (api.Module, error)
}

// HostFunctionBuilder defines one function of a HostModuleBuilder.
//
// All parameters and results must be uint32, int32, uint64, int64, float32 or float64, the Go-native
// counterparts of the four Wasm value types; see api.ValueType. A leading context.Context parameter and a
// following api.Module parameter (used to reach the calling module's memory) are both optional and, if present,
// excluded from the derived signature. A trailing error result is likewise excluded from the signature: the host
// function signals failure by returning a non-nil error, which the engine surfaces as a trap
// (internal/wasmruntime.HostError) that unwinds the entire calling Wasm invocation.
type HostFunctionBuilder interface {
	// WithFunc sets the Go function this entry invokes. fn must be a func value meeting the constraints documented
	// on HostFunctionBuilder.
	WithFunc(fn interface{}) HostFunctionBuilder

	// Export finishes this function definition, making it importable under the given name, and returns the
	// enclosing HostModuleBuilder so further functions can be chained.
	Export(name string) HostModuleBuilder
}

type hostModuleBuilder struct {
	r          *Runtime
	moduleName string
	fns        []*wasm.FunctionInstance
	err        error
}

var _ HostModuleBuilder = &hostModuleBuilder{}

func (b *hostModuleBuilder) NewFunctionBuilder() HostFunctionBuilder {
	return &hostFunctionBuilder{parent: b}
}

func (b *hostModuleBuilder) Instantiate(ctx context.Context) (api.Module, error) {
	if b.err != nil {
		return nil, b.err
	}
	mi, err := b.r.store.NewHostModule(b.moduleName, b.fns)
	if err != nil {
		return nil, err
	}
	return mi, nil
}

type hostFunctionBuilder struct {
	parent *hostModuleBuilder
	fn     interface{}
}

var _ HostFunctionBuilder = &hostFunctionBuilder{}

func (h *hostFunctionBuilder) WithFunc(fn interface{}) HostFunctionBuilder {
	h.fn = fn
	return h
}

func (h *hostFunctionBuilder) Export(name string) HostModuleBuilder {
	f, err := wasm.NewGoFunction(h.parent.moduleName, name, h.fn)
	if err != nil {
		h.parent.err = err
		return h.parent
	}
	h.parent.fns = append(h.parent.fns, f)
	return h.parent
}
