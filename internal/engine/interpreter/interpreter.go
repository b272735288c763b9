// Package interpreter is a tree-walking-free, bytecode-dispatch implementation of wasm.Engine: it consumes the
// fused-opcode Operation stream wazeroir's compiler produces and runs it directly against a per-call operand
// stack, with no further JIT or AOT step.
package interpreter

import (
	"context"
	"fmt"
	"math"
	"math/bits"
	"sync"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/buildoptions"
	"github.com/wazerocore/wazerocore/internal/moremath"
	"github.com/wazerocore/wazerocore/internal/wasm"
	"github.com/wazerocore/wazerocore/internal/wasmdebug"
	"github.com/wazerocore/wazerocore/internal/wasmruntime"
	"github.com/wazerocore/wazerocore/internal/wazeroir"
)

var callStackCeiling = buildoptions.CallStackCeiling

// engine is the interpreter's implementation of wasm.Engine: it owns the compiled-code cache, shared by every
// ModuleEngine instantiated from the same compiled Module.
type engine struct {
	enabledFeatures api.CoreFeatures
	codes           map[wasm.ModuleID][]*code // guarded by mux
	mux             sync.RWMutex
}

// NewEngine returns a fresh interpreter-backed wasm.Engine.
func NewEngine(enabledFeatures api.CoreFeatures) wasm.Engine {
	return &engine{enabledFeatures: enabledFeatures, codes: map[wasm.ModuleID][]*code{}}
}

// CompileModule implements the same method as documented on wasm.Engine.
func (e *engine) CompileModule(_ context.Context, module *wasm.Module) error {
	if _, ok := e.getCodes(module); ok {
		return nil
	}
	results, err := wazeroir.CompileFunctions(e.enabledFeatures, module)
	if err != nil {
		return err
	}
	codes := make([]*code, len(results))
	for i, r := range results {
		codes[i] = &code{
			operations: r.Operations,
			localTypes: r.LocalTypes,
			hasMemory:  r.HasMemory,
			hasTable:   r.HasTable,
		}
	}
	e.addCodes(module, codes)
	return nil
}

// DeleteCompiledModule implements the same method as documented on wasm.Engine.
func (e *engine) DeleteCompiledModule(m *wasm.Module) {
	e.deleteCodes(m)
}

// CompiledModuleCount reports how many distinct Modules currently have cached compiled code, for diagnostics.
func (e *engine) CompiledModuleCount() uint32 {
	e.mux.RLock()
	defer e.mux.RUnlock()
	return uint32(len(e.codes))
}

func (e *engine) deleteCodes(module *wasm.Module) {
	e.mux.Lock()
	defer e.mux.Unlock()
	delete(e.codes, module.ID)
}

func (e *engine) addCodes(module *wasm.Module, fs []*code) {
	e.mux.Lock()
	defer e.mux.Unlock()
	e.codes[module.ID] = fs
}

func (e *engine) getCodes(module *wasm.Module) (fs []*code, ok bool) {
	e.mux.RLock()
	defer e.mux.RUnlock()
	fs, ok = e.codes[module.ID]
	return
}

// code is one module-defined function's compiled body: the fused-opcode Operation stream plus the bookkeeping the
// interpreter's dispatch loop needs and can't cheaply recompute per call.
type code struct {
	operations []wazeroir.Operation
	localTypes []api.ValueType // params followed by declared locals, see wazeroir.CompilationResult
	hasMemory  bool
	hasTable   bool
}

// function pairs an instantiated wasm.FunctionInstance with its compiled body. code is nil for host functions.
type function struct {
	instance *wasm.FunctionInstance
	code     *code
}

// moduleEngine implements wasm.ModuleEngine.
type moduleEngine struct {
	name string

	// functions is indexed by the module's absolute function index space (imports first).
	functions []*function

	// types mirrors the owning Module's TypeSection, resolved once at link time so call_indirect's type check
	// doesn't need a reference back to the Module itself.
	types []*wasm.FunctionType

	parentEngine *engine
}

// NewModuleEngine implements the same method as documented on wasm.Engine.
func (e *engine) NewModuleEngine(name string, m *wasm.Module, importedFunctions, moduleFunctions []*wasm.FunctionInstance) (wasm.ModuleEngine, error) {
	codes, ok := e.getCodes(m)
	if !ok {
		return nil, fmt.Errorf("module has not been compiled")
	}
	if len(codes) != len(moduleFunctions) {
		return nil, fmt.Errorf("compiled function count %d does not match module-defined function count %d", len(codes), len(moduleFunctions))
	}

	functions := make([]*function, 0, len(importedFunctions)+len(moduleFunctions))
	for _, f := range importedFunctions {
		functions = append(functions, &function{instance: f})
	}
	for i, f := range moduleFunctions {
		functions = append(functions, &function{instance: f, code: codes[i]})
	}

	types := make([]*wasm.FunctionType, len(m.TypeSection))
	for i := range m.TypeSection {
		types[i] = &m.TypeSection[i]
	}

	return &moduleEngine{name: name, functions: functions, types: types, parentEngine: e}, nil
}

// CreateFuncElementInstance implements the same method as documented on wasm.ModuleEngine.
func (me *moduleEngine) CreateFuncElementInstance(indexes []*wasm.Index) *wasm.ElementInstance {
	refs := make([]wasm.Reference, len(indexes))
	for i, idx := range indexes {
		if idx != nil {
			refs[i] = wasm.Reference(*idx) + 1
		}
	}
	return &wasm.ElementInstance{References: refs}
}

// InitializeFuncrefGlobals implements the same method as documented on wasm.ModuleEngine: a no-op, since this
// engine never supports reference-typed globals (api.CoreFeatureReferenceTypes is permanently disabled).
func (me *moduleEngine) InitializeFuncrefGlobals(globals []*wasm.GlobalInstance) {}

// debugFrame is the subset of call-frame state wasmdebug.ErrorBuilder needs to render a trap's stack trace.
type debugFrame struct {
	debugName              string
	paramTypes, resultTypes []api.ValueType
}

// callEngine holds the state shared across one moduleEngine.Call and every nested call it makes: just the call
// depth, for the call-stack-ceiling trap and for rendering a trap's wasm stack trace. Each function invocation's
// operand stack and locals are independent Go-local slices; Go's own call stack provides the nesting.
type callEngine struct {
	frames []debugFrame
}

// Call implements the same method as documented on wasm.ModuleEngine. Every trap, whether raised by this
// function's own code or any function it transitively calls, unwinds as a single panic caught exactly once here.
func (me *moduleEngine) Call(ctx context.Context, callCtx *wasm.CallContext, f *wasm.FunctionInstance, params ...uint64) (results []uint64, err error) {
	if err := callCtx.FailIfClosed(); err != nil {
		return nil, err
	}

	ce := &callEngine{}
	defer func() {
		if r := recover(); r != nil {
			builder := wasmdebug.NewErrorBuilder()
			for i := len(ce.frames) - 1; i >= 0; i-- {
				fr := ce.frames[i]
				builder.AddFrame(fr.debugName, fr.paramTypes, fr.resultTypes)
			}
			err = builder.FromRecovered(r)
			results = nil
		}
	}()

	results = ce.invoke(ctx, callCtx, f, params)
	return results, nil
}

// invoke runs f, dispatching to a host call or the bytecode interpreter as appropriate. It is called both for the
// outermost entry (from Call) and for every nested call/call_indirect the interpreter loop makes.
func (ce *callEngine) invoke(ctx context.Context, callCtx *wasm.CallContext, f *wasm.FunctionInstance, params []uint64) []uint64 {
	if len(ce.frames) >= callStackCeiling {
		panic(wasmruntime.ErrRuntimeCallStackOverflow)
	}
	ce.frames = append(ce.frames, debugFrame{debugName: f.DebugName(), paramTypes: f.ParamTypes(), resultTypes: f.ResultTypes()})
	// The frame is popped only on a normal return: a trap leaves it in place for Call to report in the stack trace.

	if listener := f.FunctionListener; listener != nil {
		ctx = listener.Before(ctx, params)
	}

	var results []uint64
	if f.Kind != wasm.FunctionKindWasm {
		results = wasm.CallGoFunc(ctx, callCtx, f, params)
	} else {
		me, ok := f.Module.Engine.(*moduleEngine)
		if !ok {
			panic(fmt.Sprintf("%s: defining module was not instantiated by the interpreter engine", f.DebugName()))
		}
		fn := me.functions[f.Idx]
		results = ce.execWasm(ctx, f, fn.code, params)
	}

	if listener := f.FunctionListener; listener != nil {
		listener.After(ctx, nil, results)
	}
	ce.frames = ce.frames[:len(ce.frames)-1]
	return results
}

// execWasm runs c's operation stream for one invocation of f and returns its results.
func (ce *callEngine) execWasm(ctx context.Context, f *wasm.FunctionInstance, c *code, params []uint64) []uint64 {
	mod := f.Module
	me := mod.Engine.(*moduleEngine)

	locals := make([]uint64, len(c.localTypes))
	copy(locals, params)

	stack := make([]uint64, 0, 16)
	ops := c.operations

	for pc := 0; pc < len(ops); {
		op := ops[pc]
		switch op.Kind {

		case wazeroir.OperationKindUnreachable:
			panic(wasmruntime.ErrRuntimeUnreachable)

		case wazeroir.OperationKindBr:
			stack = trimStack(stack, op.Target.Height, op.Target.Arity)
			pc = int(op.Target.Addr)
			continue

		case wazeroir.OperationKindBrIf:
			cond := pop(&stack)
			if cond != 0 {
				stack = trimStack(stack, op.Target.Height, op.Target.Arity)
				pc = int(op.Target.Addr)
				continue
			}

		case wazeroir.OperationKindBrIfEqz:
			cond := pop(&stack)
			if cond == 0 {
				pc = int(op.Target.Addr)
				continue
			}

		case wazeroir.OperationKindBrZ:
			v := pop(&stack)
			if v == 0 {
				stack = trimStack(stack, op.Target.Height, op.Target.Arity)
				pc = int(op.Target.Addr)
				continue
			}

		case wazeroir.OperationKindBrCmp:
			b, a := pop(&stack), pop(&stack)
			if compareInt(op.CmpKind, op.ValType, a, b) {
				stack = trimStack(stack, op.Target.Height, op.Target.Arity)
				pc = int(op.Target.Addr)
				continue
			}

		case wazeroir.OperationKindBrTable:
			idx := uint32(pop(&stack))
			targets := op.Targets
			if int(idx) >= len(targets)-1 {
				idx = uint32(len(targets)) - 1
			}
			t := targets[idx]
			stack = trimStack(stack, t.Height, t.Arity)
			pc = int(t.Addr)
			continue

		case wazeroir.OperationKindCall:
			target := mod.Functions[op.Index]
			args := popN(&stack, len(target.Type.Params))
			results := ce.invoke(ctx, wasm.NewCallContext(mod), target, args)
			stack = append(stack, results...)

		case wazeroir.OperationKindCallIndirect:
			table := mod.Tables[op.Index2]
			tableIdx := uint32(pop(&stack))
			if int(tableIdx) >= len(table.References) {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			ref := table.References[tableIdx]
			if ref == 0 {
				panic(wasmruntime.ErrRuntimeInvalidTableAccess)
			}
			target := mod.Functions[ref-1]
			want := me.types[op.Index]
			if target.Type.String() != want.String() {
				panic(wasmruntime.ErrRuntimeIndirectCallTypeMismatch)
			}
			args := popN(&stack, len(target.Type.Params))
			results := ce.invoke(ctx, wasm.NewCallContext(mod), target, args)
			stack = append(stack, results...)

		case wazeroir.OperationKindDrop:
			pop(&stack)

		case wazeroir.OperationKindSelect:
			cond := pop(&stack)
			v2 := pop(&stack)
			v1 := pop(&stack)
			if cond != 0 {
				stack = append(stack, v1)
			} else {
				stack = append(stack, v2)
			}

		case wazeroir.OperationKindLocalGet:
			stack = append(stack, locals[op.Index])

		case wazeroir.OperationKindLocalSet:
			locals[op.Index] = pop(&stack)

		case wazeroir.OperationKindLocalTee:
			locals[op.Index] = stack[len(stack)-1]

		case wazeroir.OperationKindGlobalGet:
			stack = append(stack, mod.Globals[op.Index].Val)

		case wazeroir.OperationKindGlobalSet:
			mod.Globals[op.Index].Val = pop(&stack)

		case wazeroir.OperationKindLoad:
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			var v uint64
			switch op.ValType {
			case api.ValueTypeI32, api.ValueTypeF32:
				u, ok2 := mod.MemoryInstance.ReadUint32Le(ctx, addr)
				ok = ok2
				v = uint64(u)
			default:
				u, ok2 := mod.MemoryInstance.ReadUint64Le(ctx, addr)
				ok = ok2
				v = u
			}
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			stack = append(stack, v)

		case wazeroir.OperationKindLoad8S, wazeroir.OperationKindLoad8U:
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			b, ok := mod.MemoryInstance.ReadByte(ctx, addr)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			stack = append(stack, extendByte(b, op.Kind == wazeroir.OperationKindLoad8S, op.ValType))

		case wazeroir.OperationKindLoad16S, wazeroir.OperationKindLoad16U:
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			h, ok := mod.MemoryInstance.ReadUint16Le(ctx, addr)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			stack = append(stack, extendHalf(h, op.Kind == wazeroir.OperationKindLoad16S, op.ValType))

		case wazeroir.OperationKindLoad32S, wazeroir.OperationKindLoad32U:
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			w, ok := mod.MemoryInstance.ReadUint32Le(ctx, addr)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			if op.Kind == wazeroir.OperationKindLoad32S {
				stack = append(stack, uint64(int64(int32(w))))
			} else {
				stack = append(stack, uint64(w))
			}

		case wazeroir.OperationKindStore:
			v := pop(&stack)
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			if op.ValType == api.ValueTypeI32 || op.ValType == api.ValueTypeF32 {
				ok = mod.MemoryInstance.WriteUint32Le(ctx, addr, uint32(v))
			} else {
				ok = mod.MemoryInstance.WriteUint64Le(ctx, addr, v)
			}
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindStore8:
			v := pop(&stack)
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok || !mod.MemoryInstance.WriteByte(ctx, addr, byte(v)) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindStore16:
			v := pop(&stack)
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}
			b0, b1 := byte(v), byte(v>>8)
			if !mod.MemoryInstance.WriteByte(ctx, addr, b0) || !mod.MemoryInstance.WriteByte(ctx, addr+1, b1) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindStore32:
			v := pop(&stack)
			addr, ok := effectiveAddr(uint32(pop(&stack)), op.Offset)
			if !ok || !mod.MemoryInstance.WriteUint32Le(ctx, addr, uint32(v)) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindMemorySize:
			stack = append(stack, uint64(mod.MemoryInstance.PageSize()))

		case wazeroir.OperationKindMemoryGrow:
			delta := uint32(pop(&stack))
			prev, ok := mod.MemoryInstance.Grow(ctx, delta)
			if !ok {
				stack = append(stack, uint64(uint32(0xffffffff)))
			} else {
				stack = append(stack, uint64(prev))
			}

		case wazeroir.OperationKindMemoryFill:
			n := uint32(pop(&stack))
			v := byte(pop(&stack))
			dst := uint32(pop(&stack))
			if !mod.MemoryInstance.Fill(dst, v, n) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindMemoryCopy:
			n := uint32(pop(&stack))
			src := uint32(pop(&stack))
			dst := uint32(pop(&stack))
			if !mod.MemoryInstance.CopyWithin(dst, src, n) {
				panic(wasmruntime.ErrRuntimeOutOfBoundsMemoryAccess)
			}

		case wazeroir.OperationKindConst:
			stack = append(stack, op.U64)

		case wazeroir.OperationKindEq:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, boolU64(a == b))
		case wazeroir.OperationKindNe:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, boolU64(a != b))
		case wazeroir.OperationKindEqz:
			stack = append(stack, boolU64(pop(&stack) == 0))
		case wazeroir.OperationKindLtS, wazeroir.OperationKindLtU, wazeroir.OperationKindGtS, wazeroir.OperationKindGtU,
			wazeroir.OperationKindLeS, wazeroir.OperationKindLeU, wazeroir.OperationKindGeS, wazeroir.OperationKindGeU:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, boolU64(compareInt(op.Kind, op.ValType, a, b)))

		case wazeroir.OperationKindAdd:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a+b))
		case wazeroir.OperationKindSub:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a-b))
		case wazeroir.OperationKindMul:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a*b))
		case wazeroir.OperationKindAnd:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a&b))
		case wazeroir.OperationKindOr:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a|b))
		case wazeroir.OperationKindXor:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, maskResult(op.ValType, a^b))
		case wazeroir.OperationKindShl:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, shiftLeft(op.ValType, a, b))
		case wazeroir.OperationKindShrS:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, shiftRightSigned(op.ValType, a, b))
		case wazeroir.OperationKindShrU:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, shiftRightUnsigned(op.ValType, a, b))
		case wazeroir.OperationKindRotl:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, rotl(op.ValType, a, b))
		case wazeroir.OperationKindRotr:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, rotr(op.ValType, a, b))
		case wazeroir.OperationKindClz:
			v := pop(&stack)
			if op.ValType == api.ValueTypeI32 {
				stack = append(stack, uint64(bits.LeadingZeros32(uint32(v))))
			} else {
				stack = append(stack, uint64(bits.LeadingZeros64(v)))
			}
		case wazeroir.OperationKindCtz:
			v := pop(&stack)
			if op.ValType == api.ValueTypeI32 {
				stack = append(stack, uint64(bits.TrailingZeros32(uint32(v))))
			} else {
				stack = append(stack, uint64(bits.TrailingZeros64(v)))
			}
		case wazeroir.OperationKindPopcnt:
			v := pop(&stack)
			if op.ValType == api.ValueTypeI32 {
				stack = append(stack, uint64(bits.OnesCount32(uint32(v))))
			} else {
				stack = append(stack, uint64(bits.OnesCount64(v)))
			}

		case wazeroir.OperationKindDivS:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, divSigned(op.ValType, a, b))
		case wazeroir.OperationKindDivU:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, divUnsigned(op.ValType, a, b))
		case wazeroir.OperationKindRemS:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, remSigned(op.ValType, a, b))
		case wazeroir.OperationKindRemU:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, remUnsigned(op.ValType, a, b))

		// --- fused peepholes ---

		case wazeroir.OperationKindSetConstI:
			locals[op.Index] = op.U64
		case wazeroir.OperationKindAddI:
			v := pop(&stack)
			stack = append(stack, maskResult(op.ValType, v+op.U64))
		case wazeroir.OperationKindAndI:
			v := pop(&stack)
			stack = append(stack, maskResult(op.ValType, v&op.U64))
		case wazeroir.OperationKindOrI:
			v := pop(&stack)
			stack = append(stack, maskResult(op.ValType, v|op.U64))
		case wazeroir.OperationKindXorI:
			v := pop(&stack)
			stack = append(stack, maskResult(op.ValType, v^op.U64))
		case wazeroir.OperationKindShlI:
			v := pop(&stack)
			stack = append(stack, shiftLeft(op.ValType, v, op.U64))
		case wazeroir.OperationKindShrSI:
			v := pop(&stack)
			stack = append(stack, shiftRightSigned(op.ValType, v, op.U64))
		case wazeroir.OperationKindShrUI:
			v := pop(&stack)
			stack = append(stack, shiftRightUnsigned(op.ValType, v, op.U64))

		// --- float ops ---

		case wazeroir.OperationKindFEq, wazeroir.OperationKindFNe, wazeroir.OperationKindFLt,
			wazeroir.OperationKindFGt, wazeroir.OperationKindFLe, wazeroir.OperationKindFGe:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, boolU64(compareFloat(op.Kind, op.ValType, a, b)))

		case wazeroir.OperationKindFAdd, wazeroir.OperationKindFSub, wazeroir.OperationKindFMul,
			wazeroir.OperationKindFDiv, wazeroir.OperationKindFMin, wazeroir.OperationKindFMax,
			wazeroir.OperationKindFCopysign:
			b, a := pop(&stack), pop(&stack)
			stack = append(stack, floatBinop(op.Kind, op.ValType, a, b))

		case wazeroir.OperationKindFAbs, wazeroir.OperationKindFNeg, wazeroir.OperationKindFCeil,
			wazeroir.OperationKindFFloor, wazeroir.OperationKindFTrunc, wazeroir.OperationKindFNearest,
			wazeroir.OperationKindFSqrt:
			v := pop(&stack)
			stack = append(stack, floatUnary(op.Kind, op.ValType, v))

		// --- conversions ---

		case wazeroir.OperationKindWrap:
			stack = append(stack, uint64(uint32(pop(&stack))))

		case wazeroir.OperationKindExtend:
			v := uint32(pop(&stack))
			if op.Signed {
				stack = append(stack, uint64(int64(int32(v))))
			} else {
				stack = append(stack, uint64(v))
			}

		case wazeroir.OperationKindExtend8S:
			v := pop(&stack)
			if op.ValType == api.ValueTypeI32 {
				stack = append(stack, uint64(uint32(int32(int8(v)))))
			} else {
				stack = append(stack, uint64(int64(int8(v))))
			}
		case wazeroir.OperationKindExtend16S:
			v := pop(&stack)
			if op.ValType == api.ValueTypeI32 {
				stack = append(stack, uint64(uint32(int32(int16(v)))))
			} else {
				stack = append(stack, uint64(int64(int16(v))))
			}
		case wazeroir.OperationKindExtend32S:
			v := pop(&stack)
			stack = append(stack, uint64(int64(int32(v))))

		case wazeroir.OperationKindTruncFromF:
			v := popFloat(&stack, op.ValType)
			stack = append(stack, truncFromFloat(v, op.ValType2, op.Signed, false))
		case wazeroir.OperationKindTruncSatFromF:
			v := popFloat(&stack, op.ValType)
			stack = append(stack, truncFromFloat(v, op.ValType2, op.Signed, true))
		case wazeroir.OperationKindConvertFromI:
			v := pop(&stack)
			stack = append(stack, convertFromInt(v, op.ValType, op.ValType2, op.Signed))

		case wazeroir.OperationKindDemote:
			f := math.Float64frombits(pop(&stack))
			stack = append(stack, uint64(math.Float32bits(float32(f))))
		case wazeroir.OperationKindPromote:
			f := math.Float32frombits(uint32(pop(&stack)))
			stack = append(stack, math.Float64bits(float64(f)))

		case wazeroir.OperationKindReinterpret:
			// The stack already holds every value as its raw bit pattern, so reinterpreting between a type and
			// its same-width numeric counterpart changes nothing at runtime.

		default:
			panic(fmt.Sprintf("BUG: unhandled operation kind %v", op.Kind))
		}
		pc++
	}

	return popN(&stack, len(f.Type.Results))
}

// --- operand stack helpers ---

func pop(stack *[]uint64) uint64 {
	s := *stack
	v := s[len(s)-1]
	*stack = s[:len(s)-1]
	return v
}

func popN(stack *[]uint64, n int) []uint64 {
	if n == 0 {
		return nil
	}
	s := *stack
	out := append([]uint64(nil), s[len(s)-n:]...)
	*stack = s[:len(s)-n]
	return out
}

func popFloat(stack *[]uint64, vt api.ValueType) float64 {
	v := pop(stack)
	if vt == api.ValueTypeF32 {
		return float64(math.Float32frombits(uint32(v)))
	}
	return math.Float64frombits(v)
}

// trimStack implements the branch-target stack adjustment documented on wazeroir.BranchTarget: keep the top arity
// values, drop everything between them and height.
func trimStack(stack []uint64, height, arity uint32) []uint64 {
	if arity == 0 {
		return stack[:height]
	}
	top := append([]uint64(nil), stack[uint32(len(stack))-arity:]...)
	return append(stack[:height], top...)
}

func boolU64(b bool) uint64 {
	if b {
		return 1
	}
	return 0
}

// maskResult zero-extends an i32 result back down to 32 bits, keeping the stack's invariant that every i32 value
// occupies its uint64 slot with the upper 32 bits clear.
func maskResult(vt api.ValueType, v uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(uint32(v))
	}
	return v
}

func extendByte(b byte, signed bool, to api.ValueType) uint64 {
	if !signed {
		return uint64(b)
	}
	if to == api.ValueTypeI32 {
		return uint64(uint32(int32(int8(b))))
	}
	return uint64(int64(int8(b)))
}

func extendHalf(h uint16, signed bool, to api.ValueType) uint64 {
	if !signed {
		return uint64(h)
	}
	if to == api.ValueTypeI32 {
		return uint64(uint32(int32(int16(h))))
	}
	return uint64(int64(int16(h)))
}

func effectiveAddr(base, offset uint32) (uint32, bool) {
	addr := uint64(base) + uint64(offset)
	if addr > math.MaxUint32 {
		return 0, false
	}
	return uint32(addr), true
}

// --- integer ops ---

func compareInt(kind wazeroir.OperationKind, vt api.ValueType, a, b uint64) bool {
	if vt == api.ValueTypeI32 {
		switch kind {
		case wazeroir.OperationKindEq:
			return uint32(a) == uint32(b)
		case wazeroir.OperationKindNe:
			return uint32(a) != uint32(b)
		case wazeroir.OperationKindLtS:
			return int32(a) < int32(b)
		case wazeroir.OperationKindLtU:
			return uint32(a) < uint32(b)
		case wazeroir.OperationKindGtS:
			return int32(a) > int32(b)
		case wazeroir.OperationKindGtU:
			return uint32(a) > uint32(b)
		case wazeroir.OperationKindLeS:
			return int32(a) <= int32(b)
		case wazeroir.OperationKindLeU:
			return uint32(a) <= uint32(b)
		case wazeroir.OperationKindGeS:
			return int32(a) >= int32(b)
		case wazeroir.OperationKindGeU:
			return uint32(a) >= uint32(b)
		}
		return false
	}
	switch kind {
	case wazeroir.OperationKindEq:
		return a == b
	case wazeroir.OperationKindNe:
		return a != b
	case wazeroir.OperationKindLtS:
		return int64(a) < int64(b)
	case wazeroir.OperationKindLtU:
		return a < b
	case wazeroir.OperationKindGtS:
		return int64(a) > int64(b)
	case wazeroir.OperationKindGtU:
		return a > b
	case wazeroir.OperationKindLeS:
		return int64(a) <= int64(b)
	case wazeroir.OperationKindLeU:
		return a <= b
	case wazeroir.OperationKindGeS:
		return int64(a) >= int64(b)
	case wazeroir.OperationKindGeU:
		return a >= b
	}
	return false
}

func shiftLeft(vt api.ValueType, v, n uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(uint32(v) << (uint32(n) % 32))
	}
	return v << (n % 64)
}

func shiftRightSigned(vt api.ValueType, v, n uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(uint32(int32(v) >> (uint32(n) % 32)))
	}
	return uint64(int64(v) >> (n % 64))
}

func shiftRightUnsigned(vt api.ValueType, v, n uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(uint32(v) >> (uint32(n) % 32))
	}
	return v >> (n % 64)
}

func rotl(vt api.ValueType, v, n uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(bits.RotateLeft32(uint32(v), int(n)))
	}
	return bits.RotateLeft64(v, int(n))
}

func rotr(vt api.ValueType, v, n uint64) uint64 {
	if vt == api.ValueTypeI32 {
		return uint64(bits.RotateLeft32(uint32(v), -int(n)))
	}
	return bits.RotateLeft64(v, -int(n))
}

func divSigned(vt api.ValueType, a, b uint64) uint64 {
	if vt == api.ValueTypeI32 {
		x, y := int32(a), int32(b)
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if x == math.MinInt32 && y == -1 {
			panic(wasmruntime.ErrRuntimeIntegerOverflow)
		}
		return uint64(uint32(x / y))
	}
	x, y := int64(a), int64(b)
	if y == 0 {
		panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
	}
	if x == math.MinInt64 && y == -1 {
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	return uint64(x / y)
}

func divUnsigned(vt api.ValueType, a, b uint64) uint64 {
	if vt == api.ValueTypeI32 {
		x, y := uint32(a), uint32(b)
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(x / y)
	}
	if b == 0 {
		panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
	}
	return a / b
}

func remSigned(vt api.ValueType, a, b uint64) uint64 {
	if vt == api.ValueTypeI32 {
		x, y := int32(a), int32(b)
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		if x == math.MinInt32 && y == -1 {
			return 0
		}
		return uint64(uint32(x % y))
	}
	x, y := int64(a), int64(b)
	if y == 0 {
		panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
	}
	if x == math.MinInt64 && y == -1 {
		return 0
	}
	return uint64(x % y)
}

func remUnsigned(vt api.ValueType, a, b uint64) uint64 {
	if vt == api.ValueTypeI32 {
		x, y := uint32(a), uint32(b)
		if y == 0 {
			panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
		}
		return uint64(x % y)
	}
	if b == 0 {
		panic(wasmruntime.ErrRuntimeIntegerDivideByZero)
	}
	return a % b
}

// --- float ops ---

func compareFloat(kind wazeroir.OperationKind, vt api.ValueType, a, b uint64) bool {
	var x, y float64
	if vt == api.ValueTypeF32 {
		x, y = float64(math.Float32frombits(uint32(a))), float64(math.Float32frombits(uint32(b)))
	} else {
		x, y = math.Float64frombits(a), math.Float64frombits(b)
	}
	switch kind {
	case wazeroir.OperationKindFEq:
		return x == y
	case wazeroir.OperationKindFNe:
		return x != y
	case wazeroir.OperationKindFLt:
		return x < y
	case wazeroir.OperationKindFGt:
		return x > y
	case wazeroir.OperationKindFLe:
		return x <= y
	case wazeroir.OperationKindFGe:
		return x >= y
	}
	return false
}

func floatBinop(kind wazeroir.OperationKind, vt api.ValueType, a, b uint64) uint64 {
	if vt == api.ValueTypeF32 {
		x, y := math.Float32frombits(uint32(a)), math.Float32frombits(uint32(b))
		var r float32
		switch kind {
		case wazeroir.OperationKindFAdd:
			r = x + y
		case wazeroir.OperationKindFSub:
			r = x - y
		case wazeroir.OperationKindFMul:
			r = x * y
		case wazeroir.OperationKindFDiv:
			r = x / y
		case wazeroir.OperationKindFMin:
			r = float32(moremath.WasmCompatMin(float64(x), float64(y)))
		case wazeroir.OperationKindFMax:
			r = float32(moremath.WasmCompatMax(float64(x), float64(y)))
		case wazeroir.OperationKindFCopysign:
			r = float32(math.Copysign(float64(x), float64(y)))
		}
		return uint64(math.Float32bits(r))
	}
	x, y := math.Float64frombits(a), math.Float64frombits(b)
	var r float64
	switch kind {
	case wazeroir.OperationKindFAdd:
		r = x + y
	case wazeroir.OperationKindFSub:
		r = x - y
	case wazeroir.OperationKindFMul:
		r = x * y
	case wazeroir.OperationKindFDiv:
		r = x / y
	case wazeroir.OperationKindFMin:
		r = moremath.WasmCompatMin(x, y)
	case wazeroir.OperationKindFMax:
		r = moremath.WasmCompatMax(x, y)
	case wazeroir.OperationKindFCopysign:
		r = math.Copysign(x, y)
	}
	return math.Float64bits(r)
}

func floatUnary(kind wazeroir.OperationKind, vt api.ValueType, v uint64) uint64 {
	if vt == api.ValueTypeF32 {
		x := math.Float32frombits(uint32(v))
		var r float32
		switch kind {
		case wazeroir.OperationKindFAbs:
			r = float32(math.Abs(float64(x)))
		case wazeroir.OperationKindFNeg:
			r = -x
		case wazeroir.OperationKindFCeil:
			r = float32(math.Ceil(float64(x)))
		case wazeroir.OperationKindFFloor:
			r = float32(math.Floor(float64(x)))
		case wazeroir.OperationKindFTrunc:
			r = float32(math.Trunc(float64(x)))
		case wazeroir.OperationKindFNearest:
			r = moremath.WasmCompatNearestF32(x)
		case wazeroir.OperationKindFSqrt:
			r = float32(math.Sqrt(float64(x)))
		}
		return uint64(math.Float32bits(r))
	}
	x := math.Float64frombits(v)
	var r float64
	switch kind {
	case wazeroir.OperationKindFAbs:
		r = math.Abs(x)
	case wazeroir.OperationKindFNeg:
		r = -x
	case wazeroir.OperationKindFCeil:
		r = math.Ceil(x)
	case wazeroir.OperationKindFFloor:
		r = math.Floor(x)
	case wazeroir.OperationKindFTrunc:
		r = math.Trunc(x)
	case wazeroir.OperationKindFNearest:
		r = moremath.WasmCompatNearestF64(x)
	case wazeroir.OperationKindFSqrt:
		r = math.Sqrt(x)
	}
	return math.Float64bits(r)
}

// --- conversions ---

// truncBounds returns the half-open [min, max) range a truncated float must fall within to convert to "to" without
// overflowing, using boundary constants that are exactly representable in float64.
func truncBounds(to api.ValueType, signed bool) (min, max float64) {
	switch {
	case to == api.ValueTypeI32 && signed:
		return -2147483648.0, 2147483648.0
	case to == api.ValueTypeI32 && !signed:
		return 0, 4294967296.0
	case to == api.ValueTypeI64 && signed:
		return -9223372036854775808.0, 9223372036854775808.0
	default:
		return 0, 18446744073709551616.0
	}
}

func truncFromFloat(v float64, to api.ValueType, signed, saturating bool) uint64 {
	if math.IsNaN(v) {
		if saturating {
			return 0
		}
		panic(wasmruntime.ErrRuntimeInvalidConversionToInteger)
	}
	min, max := truncBounds(to, signed)
	t := math.Trunc(v)
	if t < min || t >= max {
		if saturating {
			return satTruncValue(to, signed, v)
		}
		panic(wasmruntime.ErrRuntimeIntegerOverflow)
	}
	if to == api.ValueTypeI32 {
		if signed {
			return uint64(uint32(int32(t)))
		}
		return uint64(uint32(t))
	}
	if signed {
		return uint64(int64(t))
	}
	return uint64(t)
}

func satTruncValue(to api.ValueType, signed bool, v float64) uint64 {
	neg := v < 0
	switch {
	case to == api.ValueTypeI32 && signed:
		if neg {
			var minI32 int32 = math.MinInt32
			return uint64(uint32(minI32))
		}
		return uint64(uint32(math.MaxInt32))
	case to == api.ValueTypeI32 && !signed:
		if neg {
			return 0
		}
		return uint64(uint32(math.MaxUint32))
	case to == api.ValueTypeI64 && signed:
		if neg {
			var minI64 int64 = math.MinInt64
			return uint64(minI64)
		}
		return uint64(int64(math.MaxInt64))
	default:
		if neg {
			return 0
		}
		return math.MaxUint64
	}
}

func convertFromInt(raw uint64, from, to api.ValueType, signed bool) uint64 {
	var f float64
	if from == api.ValueTypeI32 {
		if signed {
			f = float64(int32(raw))
		} else {
			f = float64(uint32(raw))
		}
	} else {
		if signed {
			f = float64(int64(raw))
		} else {
			f = float64(raw)
		}
	}
	if to == api.ValueTypeF32 {
		return uint64(math.Float32bits(float32(f)))
	}
	return math.Float64bits(f)
}
