package wasm

import (
	"context"
	"reflect"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasmdebug"
)

// FunctionKind identifies whether a FunctionInstance is backed by compiled Wasm bytecode or a Go function supplied
// by the embedder.
type FunctionKind byte

const (
	// FunctionKindWasm is a function defined (not imported) in a module's code section.
	FunctionKindWasm FunctionKind = iota
	// FunctionKindGoModule is a host function that additionally receives the calling api.Module, for functions
	// which need access to the caller's memory (e.g. a WASI-style read/write).
	FunctionKindGoModule
	// FunctionKindGo is a plain host function, reflect-invoked with Wasm-encoded uint64 params and results.
	FunctionKindGo
)

// FunctionInstance is a function in a ModuleInstance's function index namespace: either a module-defined function
// or the module-local view of an imported one.
type FunctionInstance struct {
	Kind FunctionKind

	// Type is the signature of the function; TypeID is its Store-wide de-duplicated identifier.
	Type *FunctionType

	// Body and LocalTypes are set when Kind == FunctionKindWasm: Body holds the raw instruction bytes of its code
	// entry, and LocalTypes the declared non-parameter locals.
	Body       []byte
	LocalTypes []api.ValueType

	// GoFunc is set when Kind != FunctionKindWasm: the embedder-supplied implementation.
	GoFunc *reflect.Value

	Idx        Index
	Module     *ModuleInstance
	TypeID     FunctionTypeID
	Definition *FunctionDefinition

	// moduleName and name back DebugName and FunctionDefinition's own accessors.
	moduleName, name string

	FunctionListener FunctionListener
}

// DebugName identifies this function in stack traces and error messages.
func (f *FunctionInstance) DebugName() string {
	return wasmdebug.FuncName(f.moduleName, f.name, f.Idx)
}

// ParamTypes are the accepted Wasm value types of this function.
func (f *FunctionInstance) ParamTypes() []api.ValueType { return f.Type.Params }

// ResultTypes are the returned Wasm value types of this function.
func (f *FunctionInstance) ResultTypes() []api.ValueType { return f.Type.Results }

// FunctionDefinition is the api.FunctionDefinition implementation backed by a FunctionInstance.
type FunctionDefinition struct {
	f           *FunctionInstance
	exportNames []string
	importedBy  string // non-empty module name when this function is an import
}

var _ api.FunctionDefinition = &FunctionDefinition{}

// ModuleName implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) ModuleName() string { return d.f.Module.Name() }

// Index implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) Index() Index { return d.f.Idx }

// Name implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) Name() string { return d.f.name }

// DebugName implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) DebugName() string { return d.f.DebugName() }

// Import implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) Import() (moduleName, name string, isImport bool) {
	if d.importedBy == "" {
		return "", "", false
	}
	return d.importedBy, d.f.name, true
}

// ExportNames implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) ExportNames() []string { return d.exportNames }

// GoFunc implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) GoFunc() *reflect.Value { return d.f.GoFunc }

// ParamTypes implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) ParamTypes() []api.ValueType { return d.f.ParamTypes() }

// ParamNames implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) ParamNames() []string { return nil }

// ResultTypes implements the same method as documented on api.FunctionDefinition.
func (d *FunctionDefinition) ResultTypes() []api.ValueType { return d.f.ResultTypes() }

// FunctionListener observes a function's invocation, optionally swapping in a derived context.Context that carries
// request-scoped state (e.g. a trace span) down into the call.
type FunctionListener interface {
	Before(ctx context.Context, params []uint64) context.Context
	After(ctx context.Context, err error, results []uint64)
}
