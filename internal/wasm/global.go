package wasm

import (
	"context"
	"sync/atomic"

	"github.com/wazerocore/wazerocore/api"
)

// globalWrapper adapts a *GlobalInstance to api.Global (and api.MutableGlobal, for mutable ones) without the
// GlobalInstance struct itself needing a Type() method alongside its Type field.
type globalWrapper struct {
	g *GlobalInstance
}

var (
	_ api.Global        = globalWrapper{}
	_ api.MutableGlobal = globalWrapper{}
)

// ExportedGlobal adapts g for use through the api.Module / api.Global surface.
func ExportedGlobal(g *GlobalInstance) api.Global {
	return globalWrapper{g: g}
}

// Type implements the same method as documented on api.Global.
func (w globalWrapper) Type() api.ValueType {
	return w.g.Type.ValType
}

// Get implements the same method as documented on api.Global.
func (w globalWrapper) Get(context.Context) uint64 {
	return atomic.LoadUint64(&w.g.Val)
}

// Set implements the same method as documented on api.MutableGlobal.
func (w globalWrapper) Set(ctx context.Context, v uint64) {
	atomic.StoreUint64(&w.g.Val, v)
}

// String implements fmt.Stringer.
func (w globalWrapper) String() string {
	return api.ValueTypeName(w.g.Type.ValType)
}
