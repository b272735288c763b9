package wasm

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCallContext_WithMemory(t *testing.T) {
	mem1 := &MemoryInstance{Min: 1}
	mem2 := &MemoryInstance{Min: 2}

	tests := []struct {
		name       string
		cc         *CallContext
		mem        *MemoryInstance
		expectSame bool
	}{
		{name: "nil->nil: same", cc: &CallContext{}, mem: nil, expectSame: true},
		{name: "nil->mem: not same", cc: &CallContext{}, mem: mem1, expectSame: false},
		{name: "mem->nil: same (nil ignored)", cc: &CallContext{memory: mem1}, mem: nil, expectSame: true},
		{name: "mem->other mem: not same", cc: &CallContext{memory: mem1}, mem: mem2, expectSame: false},
	}

	for _, tt := range tests {
		tc := tt
		t.Run(tc.name, func(t *testing.T) {
			got := tc.cc.WithMemory(tc.mem)
			if tc.expectSame {
				require.Same(t, tc.cc, got)
			} else {
				require.NotSame(t, tc.cc, got)
				require.Same(t, tc.mem, got.Memory())
			}
		})
	}
}

func TestCallContext_Module(t *testing.T) {
	mi := &ModuleInstance{ModuleName: "test"}
	cc := NewCallContext(mi)
	require.Same(t, mi, cc.Module())
}
