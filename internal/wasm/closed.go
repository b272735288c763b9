package wasm

import "sync/atomic"

func newClosedFlag() *uint64 {
	var v uint64
	return &v
}

func compareAndSwapClosed(addr *uint64, old, new uint64) bool {
	return atomic.CompareAndSwapUint64(addr, old, new)
}

func loadClosed(addr *uint64) uint64 {
	return atomic.LoadUint64(addr)
}
