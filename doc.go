// Package wazerocore is the public embedding surface of the engine: compiling a binary Wasm module, resolving its
// imports against host-defined functions, instantiating it, and invoking its exports.
//
// A typical embedder:
//
//	rt := wazerocore.NewRuntime(ctx)
//	compiled, err := rt.CompileModule(ctx, binary)
//	instance, err := rt.InstantiateModule(ctx, compiled, wazerocore.NewModuleConfig())
//	results, err := instance.ExportedFunction("fib").Call(ctx, 10)
//
// Everything below this package (internal/wasm, internal/wasm/binary, internal/wazeroir,
// internal/engine/interpreter) is the engine's own implementation and is not part of the supported API.
package wazerocore
