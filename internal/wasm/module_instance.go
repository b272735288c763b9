package wasm

import (
	"context"
	"fmt"

	"github.com/wazerocore/wazerocore/api"
)

// ModuleInstance holds the per-instantiation state of a Module: its own function, table, memory and global
// instances (for definitions), plus references to whatever it imported.
type ModuleInstance struct {
	ModuleName string

	Exports map[string]*Export

	Functions      []*FunctionInstance
	Globals        []*GlobalInstance
	Tables         []*TableInstance
	MemoryInstance *MemoryInstance

	TypeIDs []FunctionTypeID

	Engine ModuleEngine

	// closed is non-zero once CloseWithExitCode has run; stored atomically as *atomic with the exit code encoded,
	// see FailIfClosed.
	closed *uint64

	s *Store
}

var _ api.Module = &ModuleInstance{}

// Name implements the same method as documented on api.Module.
func (m *ModuleInstance) Name() string { return m.ModuleName }

// String implements fmt.Stringer.
func (m *ModuleInstance) String() string {
	return fmt.Sprintf("Module[%s]", m.ModuleName)
}

// Memory implements the same method as documented on api.Module.
func (m *ModuleInstance) Memory() api.Memory {
	if m.MemoryInstance == nil {
		return nil
	}
	return m.MemoryInstance
}

// ExportedFunction implements the same method as documented on api.Module.
func (m *ModuleInstance) ExportedFunction(name string) api.Function {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != api.ExternTypeFunc {
		return nil
	}
	return &exportedFunction{m: m, fn: m.Functions[exp.Index]}
}

// ExportedMemory implements the same method as documented on api.Module.
func (m *ModuleInstance) ExportedMemory(name string) api.Memory {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != api.ExternTypeMemory {
		return nil
	}
	if m.MemoryInstance == nil {
		return nil
	}
	return m.MemoryInstance
}

// ExportedGlobal implements the same method as documented on api.Module.
func (m *ModuleInstance) ExportedGlobal(name string) api.Global {
	exp, ok := m.Exports[name]
	if !ok || exp.Type != api.ExternTypeGlobal {
		return nil
	}
	return ExportedGlobal(m.Globals[exp.Index])
}

// CloseWithExitCode implements the same method as documented on api.Module.
func (m *ModuleInstance) CloseWithExitCode(ctx context.Context, exitCode uint32) error {
	code := uint64(exitCode)<<32 | 1
	if !compareAndSwapClosed(m.closed, 0, code) {
		return nil
	}
	if m.s != nil {
		m.s.deleteModule(m.ModuleName)
	}
	return nil
}

// Close implements the same method as documented on api.Closer.
func (m *ModuleInstance) Close(ctx context.Context) error {
	return m.CloseWithExitCode(ctx, 0)
}

// FailIfClosed returns an ExitError if this module was closed, nil otherwise.
func (m *ModuleInstance) FailIfClosed() error {
	if code := loadClosed(m.closed); code != 0 {
		return &ExitError{ExitCode: uint32(code >> 32)}
	}
	return nil
}

// ExitError indicates a module exited, e.g. a WASI proc_exit style call, or an explicit CloseWithExitCode.
type ExitError struct {
	ExitCode uint32
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("module closed with exit_code(%d)", e.ExitCode)
}

// exportedFunction adapts a FunctionInstance to api.Function.
type exportedFunction struct {
	m  *ModuleInstance
	fn *FunctionInstance
}

var _ api.Function = &exportedFunction{}

// Definition implements the same method as documented on api.Function.
func (f *exportedFunction) Definition() api.FunctionDefinition { return f.fn.Definition }

// Call implements the same method as documented on api.Function.
func (f *exportedFunction) Call(ctx context.Context, params ...uint64) ([]uint64, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return f.m.Engine.Call(ctx, NewCallContext(f.m), f.fn, params...)
}
