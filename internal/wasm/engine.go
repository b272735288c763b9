package wasm

import "context"

// Engine compiles a validated Module once, independent of any particular instantiation, and caches the result
// keyed by Module.ID so that re-instantiating the same binary (e.g. spinning up many short-lived instances of the
// same plugin) skips recompilation.
type Engine interface {
	// CompileModule compiles m, caching the result for later NewModuleEngine calls with the same m.ID.
	CompileModule(ctx context.Context, m *Module) error

	// NewModuleEngine creates the per-instantiation ModuleEngine for m, wiring in the already-instantiated
	// functions (imports first, then module-defined, whose compiled bodies come from the CompileModule cache).
	NewModuleEngine(name string, m *Module, importedFunctions, moduleFunctions []*FunctionInstance) (ModuleEngine, error)

	// DeleteCompiledModule releases the cached compiled code for m, once no more instances reference it.
	DeleteCompiledModule(m *Module)
}

// ModuleEngine executes the compiled functions of a single module instantiation.
type ModuleEngine interface {
	// Call invokes the function at the module-local index encoded in f, in the context of m.
	Call(ctx context.Context, m *CallContext, f *FunctionInstance, params ...uint64) ([]uint64, error)

	// CreateFuncElementInstance captures funcref values (as opaque function pointers) for the given indices, used
	// to populate a funcref table's ElementInstance at link time.
	CreateFuncElementInstance(indexes []*Index) *ElementInstance

	// InitializeFuncrefGlobals lowers a Module's funcref-typed global initial values into this engine's internal
	// function pointer representation. A no-op in the subset of Wasm this engine targets, since reference types
	// are out of scope; kept so the interpreter's shared code path need not special-case the engine.
	InitializeFuncrefGlobals(globals []*GlobalInstance)
}

// ElementInstance holds the resolved function references of a funcref element segment, kept only for API parity
// with the engine interface above: this engine's table support is limited to plain function-index tables.
type ElementInstance struct {
	References []Reference
}
