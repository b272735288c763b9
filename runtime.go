package wazerocore

import (
	"context"
	"fmt"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/engine/interpreter"
	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasm/binary"
)

// Runtime compiles and instantiates WebAssembly modules. A Runtime's instances may import from one another by
// name: instantiating module "env" first, then a guest module that imports from "env", links them without any
// extra wiring beyond the name each was instantiated under.
//
// A Runtime is safe for concurrent use by multiple goroutines compiling or instantiating distinct modules, but an
// individual api.Module returned from it is not safe for concurrent invocation (see spec.md §5).
type Runtime struct {
	store *wasm.Store
}

// NewRuntime returns a Runtime configured with NewRuntimeConfig's defaults.
func NewRuntime(ctx context.Context) *Runtime {
	return NewRuntimeWithConfig(ctx, NewRuntimeConfig())
}

// NewRuntimeWithConfig returns a Runtime using the given config, most commonly to restrict enabled core features
// with RuntimeConfig.WithCoreFeatures.
func NewRuntimeWithConfig(ctx context.Context, config *RuntimeConfig) *Runtime {
	features := featuresOrDefault(config)
	return &Runtime{store: wasm.NewStore(features, interpreter.NewEngine(features))}
}

// CompileModule decodes and statically validates binary (a complete %.wasm file), returning a reusable
// CompiledModule. Decode errors, validation errors, and unsupported-feature errors are all returned here, before
// any instance exists.
func (r *Runtime) CompileModule(ctx context.Context, wasmBinary []byte) (*CompiledModule, error) {
	m, err := binary.DecodeModule(wasmBinary, r.store.EnabledFeatures)
	if err != nil {
		return nil, err
	}
	if err := r.store.Engine.CompileModule(ctx, m); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	return &CompiledModule{module: m}, nil
}

// InstantiateModule links compiled against any already-instantiated modules in this Runtime (by the module name
// its imports declare), allocates its memory/table/globals, runs its active element and data segments, and invokes
// its start function if one is declared. A trap raised by the start function fails instantiation; the instance is
// not exposed to the caller and does not become resolvable as an import source.
func (r *Runtime) InstantiateModule(ctx context.Context, compiled *CompiledModule, config *ModuleConfig) (api.Module, error) {
	if config == nil {
		config = NewModuleConfig()
	}
	mi, err := r.store.Instantiate(ctx, compiled.module, config.name, nil)
	if err != nil {
		return nil, err
	}
	return mi, nil
}

// Instantiate is a convenience combining CompileModule and InstantiateModule for the common case of a module used
// exactly once, instantiated anonymously (unavailable as an import source to later modules).
func (r *Runtime) Instantiate(ctx context.Context, wasmBinary []byte) (api.Module, error) {
	compiled, err := r.CompileModule(ctx, wasmBinary)
	if err != nil {
		return nil, err
	}
	return r.InstantiateModule(ctx, compiled, NewModuleConfig())
}

// NewHostModuleBuilder begins defining a collection of Go-implemented functions that a subsequently-instantiated
// Wasm module may import from moduleName.
func (r *Runtime) NewHostModuleBuilder(moduleName string) HostModuleBuilder {
	return &hostModuleBuilder{r: r, moduleName: moduleName}
}
