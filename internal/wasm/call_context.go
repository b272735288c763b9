package wasm

// CallContext carries the per-call view of a module instance down into the engine: the module whose exports were
// invoked, and (for host functions) a possibly-substituted memory belonging to the caller rather than the callee.
//
// This exists as its own type, separate from ModuleInstance, because a host function imported by many modules
// needs to see whichever memory the *calling* module exposes, not its own defining module's memory.
type CallContext struct {
	module *ModuleInstance
	memory *MemoryInstance
}

// NewCallContext creates the top-level CallContext used to invoke an exported function of m.
func NewCallContext(m *ModuleInstance) *CallContext {
	return &CallContext{module: m, memory: m.MemoryInstance}
}

// Module returns the ModuleInstance this call is rooted in.
func (c *CallContext) Module() *ModuleInstance { return c.module }

// Memory returns the memory visible to the current call, which may belong to a different module than Module when
// this CallContext was derived via WithMemory for a host function call.
func (c *CallContext) Memory() *MemoryInstance { return c.memory }

// WithMemory returns a CallContext identical to c, but exposing mem instead of c.Memory().
func (c *CallContext) WithMemory(mem *MemoryInstance) *CallContext {
	if mem == nil {
		return c
	}
	cp := *c
	cp.memory = mem
	return &cp
}

// FailIfClosed returns an error if the underlying module was closed.
func (c *CallContext) FailIfClosed() error {
	return c.module.FailIfClosed()
}
