package wasm

// NewTableInstance allocates a TableInstance sized to its Min element count. Every slot starts null (0): a
// call_indirect against a null slot traps with wasmruntime.ErrRuntimeInvalidTableAccess.
func NewTableInstance(t *Table) *TableInstance {
	return &TableInstance{
		References: make([]Reference, t.Min),
		Min:        t.Min,
		Max:        t.Max,
	}
}

// Size returns the number of slots in the table.
func (t *TableInstance) Size() int {
	return len(t.References)
}
