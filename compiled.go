package wazerocore

import (
	"reflect"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasmdebug"
)

// CompiledModule is a decoded, statically validated Wasm binary, ready to be instantiated one or more times.
// Compiling once and instantiating many times (e.g. one instance per request) skips repeating decode and
// validation work; the underlying engine additionally caches the compiled bytecode itself, keyed by content hash.
type CompiledModule struct {
	module *wasm.Module
}

// ExportedFunctions describes every function this module exports, keyed by export name, without requiring an
// instance. Useful for introspecting a plugin's surface before deciding how to satisfy its imports.
func (c *CompiledModule) ExportedFunctions() map[string]api.FunctionDefinition {
	out := map[string]api.FunctionDefinition{}
	for name, exp := range c.module.ExportSection {
		if exp.Type != api.ExternTypeFunc {
			continue
		}
		ft := c.module.TypeOfFunction(exp.Index)
		out[name] = &compiledFunctionDefinition{module: c.module, name: name, index: exp.Index, funcType: ft}
	}
	return out
}

// ImportedFunctions describes every function this module imports: the (module, name) pair the embedder's import
// resolver must satisfy, together with the declared signature it will be checked against at instantiation.
func (c *CompiledModule) ImportedFunctions() []api.FunctionDefinition {
	var out []api.FunctionDefinition
	var idx wasm.Index
	for _, imp := range c.module.ImportSection {
		if imp.Type != api.ExternTypeFunc {
			continue
		}
		out = append(out, &compiledFunctionDefinition{
			module: c.module, index: idx, funcType: &c.module.TypeSection[imp.DescFunc], importedBy: imp.Module, importName: imp.Name,
		})
		idx++
	}
	return out
}

// compiledFunctionDefinition is the api.FunctionDefinition view of a function that has not yet been instantiated:
// there is no FunctionInstance to delegate to, so it answers directly from the decoded Module.
type compiledFunctionDefinition struct {
	module     *wasm.Module
	name       string
	index      wasm.Index
	funcType   *wasm.FunctionType
	importedBy string
	importName string
}

var _ api.FunctionDefinition = &compiledFunctionDefinition{}

func (d *compiledFunctionDefinition) ModuleName() string { return "" }
func (d *compiledFunctionDefinition) Index() uint32      { return d.index }
func (d *compiledFunctionDefinition) Name() string       { return d.name }

func (d *compiledFunctionDefinition) DebugName() string {
	if d.importedBy != "" {
		return d.importedBy + "." + d.importName
	}
	return wasmdebug.FuncName("", d.name, d.index)
}

func (d *compiledFunctionDefinition) Import() (moduleName, name string, isImport bool) {
	if d.importedBy == "" {
		return "", "", false
	}
	return d.importedBy, d.importName, true
}

func (d *compiledFunctionDefinition) ExportNames() []string {
	if d.name == "" {
		return nil
	}
	return []string{d.name}
}

func (d *compiledFunctionDefinition) GoFunc() *reflect.Value { return nil }

func (d *compiledFunctionDefinition) ParamTypes() []api.ValueType  { return d.funcType.Params }
func (d *compiledFunctionDefinition) ParamNames() []string         { return nil }
func (d *compiledFunctionDefinition) ResultTypes() []api.ValueType { return d.funcType.Results }
