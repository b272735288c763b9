package wazeroir

import (
	"bytes"
	"fmt"
	"io"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/leb128"
	"github.com/wazerocore/wazerocore/internal/wasm"
)

// valueTypeUnknown is a pseudo value type used only inside the validator's operand-stack simulation, standing in
// for "any type" once a control frame's remaining code has become unreachable (see popVal).
const valueTypeUnknown api.ValueType = 0xff

// CompileFunctions type-checks and lowers every module-defined function body to its fused-opcode CompilationResult,
// in one pass per function: there is no separate validation phase, exactly as wazero's own wazeroir compiler works.
func CompileFunctions(enabledFeatures api.CoreFeatures, module *wasm.Module) ([]*CompilationResult, error) {
	mc := newModuleContext(module)
	importCount := module.ImportFuncCount()
	results := make([]*CompilationResult, len(module.FunctionSection))
	for i, typeIdx := range module.FunctionSection {
		ft := &module.TypeSection[typeIdx]
		code := &module.CodeSection[i]
		c := &compiler{
			enabledFeatures: enabledFeatures,
			module:          module,
			mc:              mc,
			sig:             ft,
			localTypes:      append(append([]api.ValueType{}, ft.Params...), code.LocalTypes...),
		}
		r, err := c.compile(code.Body)
		if err != nil {
			return nil, fmt.Errorf("function[%d/%d]: %w", importCount+uint32(i), importCount+uint32(len(module.FunctionSection))-1, err)
		}
		results[i] = r
	}
	return results, nil
}

// moduleContext pre-computes the lookups a function body's validator needs from the enclosing Module: the global
// index space (imports first), and whether a memory/table is available at all.
type moduleContext struct {
	globalTypes []wasm.GlobalType
	hasMemory   bool
	hasTable    bool
}

func newModuleContext(m *wasm.Module) *moduleContext {
	mc := &moduleContext{
		hasMemory: m.MemorySection != nil || m.ImportMemoryCount() > 0,
		hasTable:  len(m.TableSection) > 0 || m.ImportTableCount() > 0,
	}
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeGlobal {
			mc.globalTypes = append(mc.globalTypes, *imp.DescGlobal)
		}
	}
	for _, g := range m.GlobalSection {
		mc.globalTypes = append(mc.globalTypes, g.Type)
	}
	return mc
}

// ctrlFrame is one entry of the compiler's control-flow stack, tracking a block/loop/if's signature and the
// information needed to patch forward branches once its `end` (or `else`) is reached.
type ctrlFrame struct {
	op                  opcode // opBlock, opLoop, or opIf
	startTypes      []api.ValueType
	endTypes        []api.ValueType
	height          int // operand stack height below this frame's params
	unreachable     bool
	elseJumpOpIndex int // index of the if's BrIfEqz placeholder, valid when op == opIf
	elseSeen        bool
	loopAddr        uint32 // address of the first op inside the loop body, valid when op == opLoop

	// exitPatches lists every branch op awaiting this frame's end address, discovered before it was known.
	exitPatches []exitPatch
}

// exitPatch identifies one BranchTarget.Addr field awaiting patching: ops[opIndex].Target.Addr when slot is -1, or
// ops[opIndex].Targets[slot].Addr otherwise (a br_table entry).
type exitPatch struct {
	opIndex int
	slot    int
}

func (f *ctrlFrame) labelTypes() []api.ValueType {
	if f.op == opLoop {
		return f.startTypes
	}
	return f.endTypes
}

type compiler struct {
	enabledFeatures api.CoreFeatures
	module          *wasm.Module
	mc              *moduleContext
	sig             *wasm.FunctionType
	localTypes      []api.ValueType

	ops   []Operation
	stack []api.ValueType
	ctrls []*ctrlFrame

	noFuse   bool
	hasMem   bool
	hasTable bool
}

func (c *compiler) compile(body []byte) (result *CompilationResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			verr, ok := r.(error)
			if !ok {
				panic(r)
			}
			result, err = nil, verr
		}
	}()

	r := bytes.NewReader(body)

	// The function body itself is an implicit block whose label is `return`'s target.
	c.ctrls = append(c.ctrls, &ctrlFrame{op: opBlock, endTypes: c.sig.Results})

	for r.Len() > 0 {
		boundary, err := c.compileInstruction(r)
		if err != nil {
			return nil, err
		}
		c.noFuse = boundary
		if len(c.ctrls) == 0 {
			break
		}
	}
	if len(c.ctrls) != 0 {
		return nil, wasm.NewValidationError("function body missing final end")
	}

	return &CompilationResult{Operations: c.ops, LocalTypes: c.localTypes, HasMemory: c.hasMem, HasTable: c.hasTable}, nil
}

// compileInstruction decodes and validates one instruction, appending zero or more Operations. It returns true if
// the instruction is a control-flow boundary (block/loop/if/else/end), which suppresses const-fusion into whatever
// follows, exactly as the table in the package doc describes.
func (c *compiler) compileInstruction(r *bytes.Reader) (boundary bool, err error) {
	op, err := r.ReadByte()
	if err != nil {
		return false, fmt.Errorf("error reading opcode: %w", err)
	}

	switch op {
	case opUnreachable:
		c.emit(Operation{Kind: OperationKindUnreachable})
		c.markUnreachable()
	case opNop:
		// No operation, no validator effect.
	case opBlock, opLoop, opIf:
		return true, c.compileBlockLike(r, op)
	case opElse:
		return true, c.compileElse()
	case opEnd:
		return true, c.compileEnd()
	case opBr:
		return false, c.compileBr(r)
	case opBrIf:
		return false, c.compileBrIf(r)
	case opBrTable:
		return false, c.compileBrTable(r)
	case opReturn:
		return false, c.compileReturn()
	case opCall:
		return false, c.compileCall(r)
	case opCallIndirect:
		return false, c.compileCallIndirect(r)
	case opDrop:
		c.popVal(valueTypeUnknown)
		c.emit(Operation{Kind: OperationKindDrop})
	case opSelect:
		return false, c.compileSelect()
	case opLocalGet:
		return false, c.compileLocalGet(r)
	case opLocalSet:
		return false, c.compileLocalSet(r)
	case opLocalTee:
		return false, c.compileLocalTee(r)
	case opGlobalGet:
		return false, c.compileGlobalGet(r)
	case opGlobalSet:
		return false, c.compileGlobalSet(r)
	case opI32Load, opI64Load, opF32Load, opF64Load, opI32Load8S, opI32Load8U, opI32Load16S, opI32Load16U,
		opI64Load8S, opI64Load8U, opI64Load16S, opI64Load16U, opI64Load32S, opI64Load32U:
		return false, c.compileLoad(r, op)
	case opI32Store, opI64Store, opF32Store, opF64Store, opI32Store8, opI32Store16, opI64Store8, opI64Store16, opI64Store32:
		return false, c.compileStore(r, op)
	case opMemorySize:
		if _, err := r.ReadByte(); err != nil { // reserved memory index, always 0
			return false, fmt.Errorf("error reading memory.size reserved byte: %w", err)
		}
		if err := c.requireMemory(); err != nil {
			return false, err
		}
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindMemorySize})
	case opMemoryGrow:
		if _, err := r.ReadByte(); err != nil {
			return false, fmt.Errorf("error reading memory.grow reserved byte: %w", err)
		}
		if err := c.requireMemory(); err != nil {
			return false, err
		}
		c.popVal(api.ValueTypeI32)
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindMemoryGrow})
	case opI32Const:
		v, _, err := leb128.DecodeInt32(r)
		if err != nil {
			return false, fmt.Errorf("error decoding i32.const: %w", err)
		}
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindConst, ValType: api.ValueTypeI32, U64: uint64(uint32(v))})
	case opI64Const:
		v, _, err := leb128.DecodeInt64(r)
		if err != nil {
			return false, fmt.Errorf("error decoding i64.const: %w", err)
		}
		c.pushVal(api.ValueTypeI64)
		c.emit(Operation{Kind: OperationKindConst, ValType: api.ValueTypeI64, U64: uint64(v)})
	case opF32Const:
		var buf [4]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return false, fmt.Errorf("error decoding f32.const: %w", err)
		}
		c.pushVal(api.ValueTypeF32)
		c.emit(Operation{Kind: OperationKindConst, ValType: api.ValueTypeF32, U64: uint64(leLoad32(buf[:]))})
	case opF64Const:
		var buf [8]byte
		if _, err := io.ReadFull(r, buf[:]); err != nil {
			return false, fmt.Errorf("error decoding f64.const: %w", err)
		}
		c.pushVal(api.ValueTypeF64)
		c.emit(Operation{Kind: OperationKindConst, ValType: api.ValueTypeF64, U64: leLoad64(buf[:])})
	case opMiscPrefix:
		return false, c.compileMisc(r)
	default:
		return false, c.compileSimpleOp(op)
	}
	return false, nil
}

func leLoad32(b []byte) uint32 {
	return uint32(b[0]) | uint32(b[1])<<8 | uint32(b[2])<<16 | uint32(b[3])<<24
}

func leLoad64(b []byte) uint64 {
	var v uint64
	for i := 7; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}

// --- validator stack primitives, following the WebAssembly spec's reference validation algorithm ---

func (c *compiler) pushVal(t api.ValueType) { c.stack = append(c.stack, t) }

func (c *compiler) pushVals(ts []api.ValueType) {
	for _, t := range ts {
		c.pushVal(t)
	}
}

func (c *compiler) popVal(expect api.ValueType) api.ValueType {
	actual, err := c.tryPopVal()
	if err != nil {
		panic(err) // recovered at compile's boundary, which turns it back into a returned error
	}
	if actual == valueTypeUnknown {
		return expect
	}
	if expect == valueTypeUnknown {
		return actual
	}
	if actual != expect {
		panic(wasm.NewValidationError("type mismatch: expected %s, got %s", api.ValueTypeName(expect), api.ValueTypeName(actual)))
	}
	return actual
}

func (c *compiler) tryPopVal() (api.ValueType, error) {
	top := c.ctrls[len(c.ctrls)-1]
	if len(c.stack) == top.height {
		if top.unreachable {
			return valueTypeUnknown, nil
		}
		return 0, wasm.NewValidationError("stack underflow")
	}
	v := c.stack[len(c.stack)-1]
	c.stack = c.stack[:len(c.stack)-1]
	return v, nil
}

func (c *compiler) popVals(ts []api.ValueType) {
	for i := len(ts) - 1; i >= 0; i-- {
		c.popVal(ts[i])
	}
}

func (c *compiler) markUnreachable() {
	top := c.ctrls[len(c.ctrls)-1]
	c.stack = c.stack[:top.height]
	top.unreachable = true
}

func (c *compiler) emit(op Operation) {
	c.ops = append(c.ops, op)
}

// --- control flow ---

func (c *compiler) compileBlockLike(r *bytes.Reader, op opcode) error {
	params, results, err := c.decodeBlockType(r)
	if err != nil {
		return err
	}

	if op == opIf {
		c.popVal(api.ValueTypeI32)
	}
	c.popVals(params)

	frame := &ctrlFrame{op: op, startTypes: params, endTypes: results, height: len(c.stack)}
	if op == opIf {
		frame.elseJumpOpIndex = len(c.ops)
		c.emit(Operation{Kind: OperationKindBrIfEqz})
	} else if op == opLoop {
		frame.loopAddr = uint32(len(c.ops))
	}
	c.ctrls = append(c.ctrls, frame)
	c.pushVals(params)
	return nil
}

func (c *compiler) compileElse() error {
	top := c.ctrls[len(c.ctrls)-1]
	if top.op != opIf {
		return wasm.NewValidationError("else without matching if")
	}
	c.popVals(top.endTypes)
	if len(c.stack) != top.height {
		return wasm.NewValidationError("type mismatch: values remaining before else")
	}

	// Jump from the end of the then-branch straight to this frame's end, skipping the else-branch.
	jumpIdx := len(c.ops)
	c.emit(Operation{Kind: OperationKindBr, Target: c.branchInfo(top)})
	top.exitPatches = append(top.exitPatches, exitPatch{opIndex: jumpIdx, slot: -1})

	c.ops[top.elseJumpOpIndex].Target.Addr = uint32(len(c.ops))
	top.elseSeen = true
	top.unreachable = false
	c.stack = c.stack[:top.height]
	c.pushVals(top.startTypes)
	return nil
}

func (c *compiler) compileEnd() error {
	top := c.ctrls[len(c.ctrls)-1]
	c.popVals(top.endTypes)
	if len(c.stack) != top.height {
		return wasm.NewValidationError("type mismatch: values remaining at end of block")
	}

	if top.op == opIf && !top.elseSeen {
		if len(top.startTypes) != len(top.endTypes) {
			return wasm.NewValidationError("if without else must not change the operand stack's arity")
		}
		c.ops[top.elseJumpOpIndex].Target.Addr = uint32(len(c.ops))
	}
	for _, p := range top.exitPatches {
		c.applyPatch(p, uint32(len(c.ops)))
	}

	c.ctrls = c.ctrls[:len(c.ctrls)-1]
	c.pushVals(top.endTypes)
	return nil
}

func (c *compiler) branchTarget(depth uint32) (*ctrlFrame, error) {
	if int(depth) >= len(c.ctrls) {
		return nil, wasm.NewValidationError("invalid branch depth: %d", depth)
	}
	return c.ctrls[len(c.ctrls)-1-int(depth)], nil
}

func (c *compiler) compileBr(r *bytes.Reader) error {
	depth, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding br depth: %w", err)
	}
	frame, err := c.branchTarget(depth)
	if err != nil {
		return err
	}
	labelTypes := frame.labelTypes()
	c.popVals(labelTypes)

	idx := len(c.ops)
	c.emit(Operation{Kind: OperationKindBr, Target: c.branchInfo(frame)})
	c.patchOrResolve(frame, idx)
	c.markUnreachable()
	return nil
}

func (c *compiler) compileBrIf(r *bytes.Reader) error {
	depth, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding br_if depth: %w", err)
	}
	frame, err := c.branchTarget(depth)
	if err != nil {
		return err
	}

	fused, isFused := c.fusableCompare()
	c.popVal(api.ValueTypeI32)
	labelTypes := frame.labelTypes()
	c.popVals(labelTypes)

	if isFused {
		c.popLastOp()
	}
	idx := len(c.ops)
	if isFused {
		if fused.Kind == OperationKindEqz {
			c.emit(Operation{Kind: OperationKindBrZ, ValType: fused.ValType, Target: c.branchInfo(frame)})
		} else {
			c.emit(Operation{Kind: OperationKindBrCmp, ValType: fused.ValType, Signed: fused.Signed,
				CmpKind: fused.Kind, Target: c.branchInfo(frame)})
		}
	} else {
		c.emit(Operation{Kind: OperationKindBrIf, Target: c.branchInfo(frame)})
	}
	c.patchOrResolve(frame, idx)
	c.pushVals(labelTypes)
	return nil
}

func (c *compiler) compileBrTable(r *bytes.Reader) error {
	count, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding br_table count: %w", err)
	}
	depths := make([]uint32, count+1)
	for i := range depths {
		if depths[i], _, err = leb128.DecodeUint32(r); err != nil {
			return fmt.Errorf("error decoding br_table target %d: %w", i, err)
		}
	}
	c.popVal(api.ValueTypeI32)

	defaultFrame, err := c.branchTarget(depths[len(depths)-1])
	if err != nil {
		return err
	}
	labelTypes := defaultFrame.labelTypes()
	c.popVals(labelTypes)

	idx := len(c.ops)
	targets := make([]BranchTarget, len(depths))
	op := Operation{Kind: OperationKindBrTable}
	for i, d := range depths {
		f, err := c.branchTarget(d)
		if err != nil {
			return err
		}
		if len(f.labelTypes()) != len(labelTypes) {
			return wasm.NewValidationError("br_table target arity mismatch")
		}
		targets[i] = c.branchInfo(f)
		if f.op != opLoop {
			f.exitPatches = append(f.exitPatches, exitPatch{opIndex: idx, slot: i})
		}
	}
	op.Targets = targets
	c.emit(op)

	c.markUnreachable()
	return nil
}

// branchInfo computes a BranchTarget's Height/Arity immediately (known at emission time); Addr is resolved
// immediately for loop labels (already-seen address) and left 0 (to be patched later) for block/if/function labels.
func (c *compiler) branchInfo(f *ctrlFrame) BranchTarget {
	labelTypes := f.labelTypes()
	bt := BranchTarget{Height: uint32(f.height), Arity: uint32(len(labelTypes))}
	if f.op == opLoop {
		bt.Addr = f.loopAddr
	}
	return bt
}

func (c *compiler) patchOrResolve(f *ctrlFrame, opIndex int) {
	if f.op == opLoop {
		return // Addr already set by branchInfo.
	}
	f.exitPatches = append(f.exitPatches, exitPatch{opIndex: opIndex, slot: -1})
}

// applyPatch writes a now-known address into the BranchTarget a forward branch recorded as pending.
func (c *compiler) applyPatch(p exitPatch, addr uint32) {
	if p.slot == -1 {
		c.ops[p.opIndex].Target.Addr = addr
	} else {
		c.ops[p.opIndex].Targets[p.slot].Addr = addr
	}
}

func (c *compiler) compileReturn() error {
	frame := c.ctrls[0]
	c.popVals(frame.endTypes)
	idx := len(c.ops)
	c.emit(Operation{Kind: OperationKindBr, Target: c.branchInfo(frame)})
	c.patchOrResolve(frame, idx)
	c.markUnreachable()
	return nil
}

// decodeBlockType decodes a block's signature: empty, a single result value type, or (when the encoded s33 value
// is non-negative) a type index into the module's type section.
func (c *compiler) decodeBlockType(r *bytes.Reader) (params, results []api.ValueType, err error) {
	v, _, err := leb128.DecodeInt33AsInt64(r)
	if err != nil {
		return nil, nil, fmt.Errorf("error decoding block type: %w", err)
	}
	switch v {
	case -0x40:
		return nil, nil, nil
	case -1:
		return nil, []api.ValueType{api.ValueTypeI32}, nil
	case -2:
		return nil, []api.ValueType{api.ValueTypeI64}, nil
	case -3:
		return nil, []api.ValueType{api.ValueTypeF32}, nil
	case -4:
		return nil, []api.ValueType{api.ValueTypeF64}, nil
	}
	if v < 0 || int(v) >= len(c.module.TypeSection) {
		return nil, nil, wasm.NewValidationError("invalid block type index: %d", v)
	}
	ft := &c.module.TypeSection[v]
	if len(ft.Params) > 0 || len(ft.Results) > 1 {
		if err := c.enabledFeatures.RequireEnabled(api.CoreFeatureMultiValue); err != nil {
			return nil, nil, wasm.NewUnsupportedFeature("multi-value")
		}
	}
	if len(ft.Results) > 1 {
		return nil, nil, wasm.NewUnsupportedFeature("multi-value block with more than one result")
	}
	return ft.Params, ft.Results, nil
}

// --- calls ---

func (c *compiler) compileCall(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding call function index: %w", err)
	}
	ft := c.module.TypeOfFunction(idx)
	if ft == nil {
		return wasm.NewValidationError("invalid call function index: %d", idx)
	}
	c.popVals(ft.Params)
	c.pushVals(ft.Results)
	c.emit(Operation{Kind: OperationKindCall, Index: idx})
	return nil
}

func (c *compiler) compileCallIndirect(r *bytes.Reader) error {
	typeIdx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding call_indirect type index: %w", err)
	}
	tableIdx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding call_indirect table index: %w", err)
	}
	if err := c.requireTable(); err != nil {
		return err
	}
	if int(typeIdx) >= len(c.module.TypeSection) {
		return wasm.NewValidationError("invalid call_indirect type index: %d", typeIdx)
	}
	ft := &c.module.TypeSection[typeIdx]
	c.popVal(api.ValueTypeI32) // table index operand
	c.popVals(ft.Params)
	c.pushVals(ft.Results)
	c.emit(Operation{Kind: OperationKindCallIndirect, Index: typeIdx, Index2: tableIdx})
	return nil
}

func (c *compiler) requireMemory() error {
	if !c.mc.hasMemory {
		return wasm.NewValidationError("unknown memory 0")
	}
	c.hasMem = true
	return nil
}

func (c *compiler) requireTable() error {
	if !c.mc.hasTable {
		return wasm.NewValidationError("unknown table 0")
	}
	c.hasTable = true
	return nil
}

// --- parametric / variable / global instructions ---

func (c *compiler) compileSelect() error {
	c.popVal(api.ValueTypeI32)
	t2 := c.popVal(valueTypeUnknown)
	t1 := c.popVal(t2)
	if t1 == valueTypeUnknown {
		t1 = t2
	}
	c.pushVal(t1)
	c.emit(Operation{Kind: OperationKindSelect})
	return nil
}

func (c *compiler) localType(idx uint32) (api.ValueType, error) {
	if int(idx) >= len(c.localTypes) {
		return 0, wasm.NewValidationError("invalid local index: %d", idx)
	}
	return c.localTypes[idx], nil
}

func (c *compiler) compileLocalGet(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding local.get index: %w", err)
	}
	t, err := c.localType(idx)
	if err != nil {
		return err
	}
	c.pushVal(t)
	c.emit(Operation{Kind: OperationKindLocalGet, Index: idx, ValType: t})
	return nil
}

func (c *compiler) compileLocalSet(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding local.set index: %w", err)
	}
	t, err := c.localType(idx)
	if err != nil {
		return err
	}
	if c0, ok := c.fusableConst(t); ok {
		c.popVal(t)
		c.popLastOp()
		c.emit(Operation{Kind: OperationKindSetConstI, ValType: t, Index: idx, U64: c0.U64})
		return nil
	}
	c.popVal(t)
	c.emit(Operation{Kind: OperationKindLocalSet, Index: idx, ValType: t})
	return nil
}

func (c *compiler) compileLocalTee(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding local.tee index: %w", err)
	}
	t, err := c.localType(idx)
	if err != nil {
		return err
	}
	c.popVal(t)
	c.pushVal(t)
	c.emit(Operation{Kind: OperationKindLocalTee, Index: idx, ValType: t})
	return nil
}

func (c *compiler) globalType(idx uint32) (*wasm.GlobalType, error) {
	if int(idx) >= len(c.mc.globalTypes) {
		return nil, wasm.NewValidationError("invalid global index: %d", idx)
	}
	return &c.mc.globalTypes[idx], nil
}

func (c *compiler) compileGlobalGet(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding global.get index: %w", err)
	}
	gt, err := c.globalType(idx)
	if err != nil {
		return err
	}
	c.pushVal(gt.ValType)
	c.emit(Operation{Kind: OperationKindGlobalGet, Index: idx, ValType: gt.ValType})
	return nil
}

func (c *compiler) compileGlobalSet(r *bytes.Reader) error {
	idx, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding global.set index: %w", err)
	}
	gt, err := c.globalType(idx)
	if err != nil {
		return err
	}
	if !gt.Mutable {
		return wasm.NewValidationError("global.set on immutable global %d", idx)
	}
	c.popVal(gt.ValType)
	c.emit(Operation{Kind: OperationKindGlobalSet, Index: idx, ValType: gt.ValType})
	return nil
}

// --- memory instructions ---

// memArgBits returns the natural alignment, in bits, the decoded align immediate must not exceed for op.
func memArgBits(op opcode) uint32 {
	switch op {
	case opI32Load, opF32Load, opI32Store, opF32Store, opI64Load32S, opI64Load32U, opI64Store32:
		return 2
	case opI64Load, opF64Load, opI64Store, opF64Store:
		return 3
	case opI32Load16S, opI32Load16U, opI32Store16, opI64Load16S, opI64Load16U, opI64Store16:
		return 1
	default: // 8-bit load/store variants
		return 0
	}
}

func (c *compiler) decodeMemArg(r *bytes.Reader, op opcode) (offset uint32, err error) {
	align, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("error decoding memarg align: %w", err)
	}
	if align > memArgBits(op) {
		return 0, wasm.NewValidationError("alignment %d exceeds natural alignment for this instruction", align)
	}
	offset, _, err = leb128.DecodeUint32(r)
	if err != nil {
		return 0, fmt.Errorf("error decoding memarg offset: %w", err)
	}
	return offset, nil
}

func (c *compiler) compileLoad(r *bytes.Reader, op opcode) error {
	offset, err := c.decodeMemArg(r, op)
	if err != nil {
		return err
	}
	if err := c.requireMemory(); err != nil {
		return err
	}
	c.popVal(api.ValueTypeI32)

	var kind OperationKind
	var vt api.ValueType
	switch op {
	case opI32Load:
		kind, vt = OperationKindLoad, api.ValueTypeI32
	case opI64Load:
		kind, vt = OperationKindLoad, api.ValueTypeI64
	case opF32Load:
		kind, vt = OperationKindLoad, api.ValueTypeF32
	case opF64Load:
		kind, vt = OperationKindLoad, api.ValueTypeF64
	case opI32Load8S:
		kind, vt = OperationKindLoad8S, api.ValueTypeI32
	case opI32Load8U:
		kind, vt = OperationKindLoad8U, api.ValueTypeI32
	case opI32Load16S:
		kind, vt = OperationKindLoad16S, api.ValueTypeI32
	case opI32Load16U:
		kind, vt = OperationKindLoad16U, api.ValueTypeI32
	case opI64Load8S:
		kind, vt = OperationKindLoad8S, api.ValueTypeI64
	case opI64Load8U:
		kind, vt = OperationKindLoad8U, api.ValueTypeI64
	case opI64Load16S:
		kind, vt = OperationKindLoad16S, api.ValueTypeI64
	case opI64Load16U:
		kind, vt = OperationKindLoad16U, api.ValueTypeI64
	case opI64Load32S:
		kind, vt = OperationKindLoad32S, api.ValueTypeI64
	case opI64Load32U:
		kind, vt = OperationKindLoad32U, api.ValueTypeI64
	}
	c.pushVal(vt)
	c.emit(Operation{Kind: kind, ValType: vt, Offset: offset})
	return nil
}

func (c *compiler) compileStore(r *bytes.Reader, op opcode) error {
	offset, err := c.decodeMemArg(r, op)
	if err != nil {
		return err
	}
	if err := c.requireMemory(); err != nil {
		return err
	}

	var kind OperationKind
	var vt api.ValueType
	switch op {
	case opI32Store:
		kind, vt = OperationKindStore, api.ValueTypeI32
	case opI64Store:
		kind, vt = OperationKindStore, api.ValueTypeI64
	case opF32Store:
		kind, vt = OperationKindStore, api.ValueTypeF32
	case opF64Store:
		kind, vt = OperationKindStore, api.ValueTypeF64
	case opI32Store8:
		kind, vt = OperationKindStore8, api.ValueTypeI32
	case opI32Store16:
		kind, vt = OperationKindStore16, api.ValueTypeI32
	case opI64Store8:
		kind, vt = OperationKindStore8, api.ValueTypeI64
	case opI64Store16:
		kind, vt = OperationKindStore16, api.ValueTypeI64
	case opI64Store32:
		kind, vt = OperationKindStore32, api.ValueTypeI64
	}
	c.popVal(vt)
	c.popVal(api.ValueTypeI32)
	c.emit(Operation{Kind: kind, ValType: vt, Offset: offset})
	return nil
}

// compileMisc handles the 0xFC-prefixed instructions: the saturating truncation family and the bulk-memory
// fill/copy pair. memory.init and data.drop are not supported: this engine's data segments are always active,
// so there is no passive segment for either instruction to operate on.
func (c *compiler) compileMisc(r *bytes.Reader) error {
	sub, _, err := leb128.DecodeUint32(r)
	if err != nil {
		return fmt.Errorf("error decoding misc opcode: %w", err)
	}

	switch sub {
	case miscI32TruncSatF32S, miscI32TruncSatF32U, miscI32TruncSatF64S, miscI32TruncSatF64U,
		miscI64TruncSatF32S, miscI64TruncSatF32U, miscI64TruncSatF64S, miscI64TruncSatF64U:
		if err := c.enabledFeatures.RequireEnabled(api.CoreFeatureNonTrappingFloatToIntConversion); err != nil {
			return wasm.NewUnsupportedFeature("non-trapping float-to-int conversion")
		}
		var from, to api.ValueType
		var signed bool
		switch sub {
		case miscI32TruncSatF32S:
			from, to, signed = api.ValueTypeF32, api.ValueTypeI32, true
		case miscI32TruncSatF32U:
			from, to, signed = api.ValueTypeF32, api.ValueTypeI32, false
		case miscI32TruncSatF64S:
			from, to, signed = api.ValueTypeF64, api.ValueTypeI32, true
		case miscI32TruncSatF64U:
			from, to, signed = api.ValueTypeF64, api.ValueTypeI32, false
		case miscI64TruncSatF32S:
			from, to, signed = api.ValueTypeF32, api.ValueTypeI64, true
		case miscI64TruncSatF32U:
			from, to, signed = api.ValueTypeF32, api.ValueTypeI64, false
		case miscI64TruncSatF64S:
			from, to, signed = api.ValueTypeF64, api.ValueTypeI64, true
		case miscI64TruncSatF64U:
			from, to, signed = api.ValueTypeF64, api.ValueTypeI64, false
		}
		c.popVal(from)
		c.pushVal(to)
		c.emit(Operation{Kind: OperationKindTruncSatFromF, ValType: from, ValType2: to, Signed: signed})
		return nil
	case miscMemoryCopy:
		if err := c.enabledFeatures.RequireEnabled(api.CoreFeatureBulkMemoryOperations); err != nil {
			return wasm.NewUnsupportedFeature("bulk memory operations")
		}
		if _, err := r.ReadByte(); err != nil { // destination memory index, always 0
			return fmt.Errorf("error reading memory.copy reserved byte: %w", err)
		}
		if _, err := r.ReadByte(); err != nil { // source memory index, always 0
			return fmt.Errorf("error reading memory.copy reserved byte: %w", err)
		}
		if err := c.requireMemory(); err != nil {
			return err
		}
		c.popVal(api.ValueTypeI32)
		c.popVal(api.ValueTypeI32)
		c.popVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindMemoryCopy})
		return nil
	case miscMemoryFill:
		if err := c.enabledFeatures.RequireEnabled(api.CoreFeatureBulkMemoryOperations); err != nil {
			return wasm.NewUnsupportedFeature("bulk memory operations")
		}
		if _, err := r.ReadByte(); err != nil { // memory index, always 0
			return fmt.Errorf("error reading memory.fill reserved byte: %w", err)
		}
		if err := c.requireMemory(); err != nil {
			return err
		}
		c.popVal(api.ValueTypeI32)
		c.popVal(api.ValueTypeI32)
		c.popVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindMemoryFill})
		return nil
	default:
		return wasm.NewUnsupportedFeature(fmt.Sprintf("misc opcode %#x", sub))
	}
}

// --- numeric instructions: comparisons, arithmetic, conversions, and the peephole fusions ---

// fusableConst reports whether the last emitted op is an unfused iN.const that const-fusion is still allowed to
// consume: fusion never reaches across a control-flow boundary (see compileInstruction's noFuse handling).
func (c *compiler) fusableConst(vt api.ValueType) (Operation, bool) {
	if vt != api.ValueTypeI32 && vt != api.ValueTypeI64 {
		return Operation{}, false
	}
	if c.noFuse || len(c.ops) == 0 {
		return Operation{}, false
	}
	last := c.ops[len(c.ops)-1]
	if last.Kind != OperationKindConst || last.ValType != vt {
		return Operation{}, false
	}
	return last, true
}

// popLastOp removes the trailing op a fusion just consumed.
func (c *compiler) popLastOp() {
	c.ops = c.ops[:len(c.ops)-1]
}

// fusableCompare reports whether the last emitted op is an unfused i32/i64 eqz or comparison that br_if may fold
// into a BrZ/BrCmp, per the fusion table.
func (c *compiler) fusableCompare() (Operation, bool) {
	if c.noFuse || len(c.ops) == 0 {
		return Operation{}, false
	}
	last := c.ops[len(c.ops)-1]
	if last.ValType != api.ValueTypeI32 && last.ValType != api.ValueTypeI64 {
		return Operation{}, false
	}
	switch last.Kind {
	case OperationKindEqz, OperationKindEq, OperationKindNe, OperationKindLtS, OperationKindLtU,
		OperationKindGtS, OperationKindGtU, OperationKindLeS, OperationKindLeU, OperationKindGeS, OperationKindGeU:
		return last, true
	}
	return Operation{}, false
}

func intType(op opcode) api.ValueType {
	if (op >= opI64Eqz && op <= opI64GeU) || (op >= opI64Clz && op <= opI64Rotr) {
		return api.ValueTypeI64
	}
	return api.ValueTypeI32
}

// compileSimpleOp handles every instruction not already special-cased in compileInstruction: typed
// comparisons, arithmetic, bitwise/shift ops, and conversions, folding the const+consumer and compare+br_if
// peepholes described in the package doc where the preceding op allows it.
func (c *compiler) compileSimpleOp(op opcode) error {
	switch op {
	case opI32Eqz, opI64Eqz:
		vt := intType(op)
		c.popVal(vt)
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindEqz, ValType: vt})
		return nil

	case opI32Eq, opI32Ne, opI32LtS, opI32LtU, opI32GtS, opI32GtU, opI32LeS, opI32LeU, opI32GeS, opI32GeU,
		opI64Eq, opI64Ne, opI64LtS, opI64LtU, opI64GtS, opI64GtU, opI64LeS, opI64LeU, opI64GeS, opI64GeU:
		return c.compileIntCompare(op)

	case opI32Add, opI32Sub, opI32Mul, opI32And, opI32Or, opI32Xor, opI32Shl, opI32ShrS, opI32ShrU,
		opI64Add, opI64Sub, opI64Mul, opI64And, opI64Or, opI64Xor, opI64Shl, opI64ShrS, opI64ShrU:
		return c.compileIntBinop(op)

	case opI32Clz, opI32Ctz, opI32Popcnt, opI32DivS, opI32DivU, opI32RemS, opI32RemU, opI32Rotl, opI32Rotr,
		opI64Clz, opI64Ctz, opI64Popcnt, opI64DivS, opI64DivU, opI64RemS, opI64RemU, opI64Rotl, opI64Rotr:
		return c.compileIntUnaryOrDiv(op)

	case opF32Eq, opF32Ne, opF32Lt, opF32Gt, opF32Le, opF32Ge,
		opF64Eq, opF64Ne, opF64Lt, opF64Gt, opF64Le, opF64Ge:
		return c.compileFloatCompare(op)

	case opF32Add, opF32Sub, opF32Mul, opF32Div, opF32Min, opF32Max, opF32Copysign,
		opF64Add, opF64Sub, opF64Mul, opF64Div, opF64Min, opF64Max, opF64Copysign:
		return c.compileFloatBinop(op)

	case opF32Abs, opF32Neg, opF32Ceil, opF32Floor, opF32Trunc, opF32Nearest, opF32Sqrt,
		opF64Abs, opF64Neg, opF64Ceil, opF64Floor, opF64Trunc, opF64Nearest, opF64Sqrt:
		return c.compileFloatUnary(op)

	case opI32WrapI64:
		c.popVal(api.ValueTypeI64)
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindWrap, ValType: api.ValueTypeI64, ValType2: api.ValueTypeI32})
		return nil

	case opI64ExtendI32S, opI64ExtendI32U:
		c.popVal(api.ValueTypeI32)
		c.pushVal(api.ValueTypeI64)
		c.emit(Operation{Kind: OperationKindExtend, ValType: api.ValueTypeI32, ValType2: api.ValueTypeI64, Signed: op == opI64ExtendI32S})
		return nil

	case opI32Extend8S, opI32Extend16S, opI64Extend8S, opI64Extend16S, opI64Extend32S:
		if err := c.enabledFeatures.RequireEnabled(api.CoreFeatureSignExtensionOps); err != nil {
			return wasm.NewUnsupportedFeature("sign extension ops")
		}
		vt := api.ValueTypeI32
		if op == opI64Extend8S || op == opI64Extend16S || op == opI64Extend32S {
			vt = api.ValueTypeI64
		}
		c.popVal(vt)
		c.pushVal(vt)
		var kind OperationKind
		switch op {
		case opI32Extend8S, opI64Extend8S:
			kind = OperationKindExtend8S
		case opI32Extend16S, opI64Extend16S:
			kind = OperationKindExtend16S
		case opI64Extend32S:
			kind = OperationKindExtend32S
		}
		c.emit(Operation{Kind: kind, ValType: vt})
		return nil

	case opI32TruncF32S, opI32TruncF32U, opI32TruncF64S, opI32TruncF64U,
		opI64TruncF32S, opI64TruncF32U, opI64TruncF64S, opI64TruncF64U:
		return c.compileTrunc(op)

	case opF32ConvertI32S, opF32ConvertI32U, opF32ConvertI64S, opF32ConvertI64U,
		opF64ConvertI32S, opF64ConvertI32U, opF64ConvertI64S, opF64ConvertI64U:
		return c.compileConvert(op)

	case opF32DemoteF64:
		c.popVal(api.ValueTypeF64)
		c.pushVal(api.ValueTypeF32)
		c.emit(Operation{Kind: OperationKindDemote})
		return nil

	case opF64PromoteF32:
		c.popVal(api.ValueTypeF32)
		c.pushVal(api.ValueTypeF64)
		c.emit(Operation{Kind: OperationKindPromote})
		return nil

	case opI32ReinterpretF32:
		c.popVal(api.ValueTypeF32)
		c.pushVal(api.ValueTypeI32)
		c.emit(Operation{Kind: OperationKindReinterpret, ValType: api.ValueTypeF32, ValType2: api.ValueTypeI32})
		return nil
	case opI64ReinterpretF64:
		c.popVal(api.ValueTypeF64)
		c.pushVal(api.ValueTypeI64)
		c.emit(Operation{Kind: OperationKindReinterpret, ValType: api.ValueTypeF64, ValType2: api.ValueTypeI64})
		return nil
	case opF32ReinterpretI32:
		c.popVal(api.ValueTypeI32)
		c.pushVal(api.ValueTypeF32)
		c.emit(Operation{Kind: OperationKindReinterpret, ValType: api.ValueTypeI32, ValType2: api.ValueTypeF32})
		return nil
	case opF64ReinterpretI64:
		c.popVal(api.ValueTypeI64)
		c.pushVal(api.ValueTypeF64)
		c.emit(Operation{Kind: OperationKindReinterpret, ValType: api.ValueTypeI64, ValType2: api.ValueTypeF64})
		return nil
	}

	return wasm.NewUnsupportedFeature(fmt.Sprintf("opcode %#x", op))
}

// compileIntCompare validates a typed comparison and, when the very next instruction is br_if, fuses the pair into
// a single BrCmp operation instead of materializing the i32 boolean result onto the stack.
func (c *compiler) compileIntCompare(op opcode) error {
	vt := intType(op)
	c.popVal(vt)
	c.popVal(vt)
	c.pushVal(api.ValueTypeI32)
	kind, signed := compareKind(op)
	c.emit(Operation{Kind: kind, ValType: vt, Signed: signed})
	return nil
}

func compareKind(op opcode) (kind OperationKind, signed bool) {
	switch op {
	case opI32Eq, opI64Eq:
		return OperationKindEq, false
	case opI32Ne, opI64Ne:
		return OperationKindNe, false
	case opI32LtS, opI64LtS:
		return OperationKindLtS, true
	case opI32LtU, opI64LtU:
		return OperationKindLtU, false
	case opI32GtS, opI64GtS:
		return OperationKindGtS, true
	case opI32GtU, opI64GtU:
		return OperationKindGtU, false
	case opI32LeS, opI64LeS:
		return OperationKindLeS, true
	case opI32LeU, opI64LeU:
		return OperationKindLeU, false
	case opI32GeS, opI64GeS:
		return OperationKindGeS, true
	case opI32GeU, opI64GeU:
		return OperationKindGeU, false
	}
	return 0, false
}

// compileIntBinop validates a typed arithmetic/bitwise binop and applies the const-fusion peephole: when the
// operand pushed immediately before this one was an unfused iN.const, the pair collapses into one fused op that
// carries the constant directly rather than pushing and immediately popping it.
func (c *compiler) compileIntBinop(op opcode) error {
	vt := intType(op)
	kind := binopKind(op)
	if fused, ok := c.fuseBinop(vt, kind); ok {
		c.popVal(vt) // the folded constant
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(fused)
		return nil
	}
	c.popVal(vt)
	c.popVal(vt)
	c.pushVal(vt)
	c.emit(Operation{Kind: kind, ValType: vt})
	return nil
}

// fuseBinop checks whether the operation stream's trailing op is an unfused const of the matching type that this
// binop may fold into, per the fusion table. Subtraction of a constant folds as addition of its two's-complement
// negation: the const is always the second operand, so `x - K` and `x + (-K)` are the same value mod 2^width.
func (c *compiler) fuseBinop(vt api.ValueType, kind OperationKind) (Operation, bool) {
	var fusedKind OperationKind
	negate := false
	switch kind {
	case OperationKindAdd:
		fusedKind = OperationKindAddI
	case OperationKindSub:
		fusedKind = OperationKindAddI
		negate = true
	case OperationKindAnd:
		fusedKind = OperationKindAndI
	case OperationKindOr:
		fusedKind = OperationKindOrI
	case OperationKindXor:
		fusedKind = OperationKindXorI
	case OperationKindShl:
		fusedKind = OperationKindShlI
	case OperationKindShrS:
		fusedKind = OperationKindShrSI
	case OperationKindShrU:
		fusedKind = OperationKindShrUI
	default:
		return Operation{}, false
	}
	c0, ok := c.fusableConst(vt)
	if !ok {
		return Operation{}, false
	}
	c.popLastOp()
	k := c0.U64
	if negate {
		if vt == api.ValueTypeI32 {
			k = uint64(uint32(-int32(uint32(k))))
		} else {
			k = uint64(-int64(k))
		}
	}
	return Operation{Kind: fusedKind, ValType: vt, U64: k}, true
}

func binopKind(op opcode) OperationKind {
	switch op {
	case opI32Add, opI64Add:
		return OperationKindAdd
	case opI32Sub, opI64Sub:
		return OperationKindSub
	case opI32Mul, opI64Mul:
		return OperationKindMul
	case opI32And, opI64And:
		return OperationKindAnd
	case opI32Or, opI64Or:
		return OperationKindOr
	case opI32Xor, opI64Xor:
		return OperationKindXor
	case opI32Shl, opI64Shl:
		return OperationKindShl
	case opI32ShrS, opI64ShrS:
		return OperationKindShrS
	case opI32ShrU, opI64ShrU:
		return OperationKindShrU
	}
	return 0
}

func (c *compiler) compileIntUnaryOrDiv(op opcode) error {
	vt := intType(op)
	switch op {
	case opI32Clz, opI64Clz:
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindClz, ValType: vt})
	case opI32Ctz, opI64Ctz:
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindCtz, ValType: vt})
	case opI32Popcnt, opI64Popcnt:
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindPopcnt, ValType: vt})
	case opI32DivS, opI64DivS:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindDivS, ValType: vt, Signed: true})
	case opI32DivU, opI64DivU:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindDivU, ValType: vt})
	case opI32RemS, opI64RemS:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindRemS, ValType: vt, Signed: true})
	case opI32RemU, opI64RemU:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindRemU, ValType: vt})
	case opI32Rotl, opI64Rotl:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindRotl, ValType: vt})
	case opI32Rotr, opI64Rotr:
		c.popVal(vt)
		c.popVal(vt)
		c.pushVal(vt)
		c.emit(Operation{Kind: OperationKindRotr, ValType: vt})
	}
	return nil
}

func floatType(op opcode) api.ValueType {
	if op >= opF64Eq && op <= opF64Copysign {
		return api.ValueTypeF64
	}
	return api.ValueTypeF32
}

func (c *compiler) compileFloatCompare(op opcode) error {
	vt := floatType(op)
	c.popVal(vt)
	c.popVal(vt)
	c.pushVal(api.ValueTypeI32)
	var kind OperationKind
	switch op {
	case opF32Eq, opF64Eq:
		kind = OperationKindFEq
	case opF32Ne, opF64Ne:
		kind = OperationKindFNe
	case opF32Lt, opF64Lt:
		kind = OperationKindFLt
	case opF32Gt, opF64Gt:
		kind = OperationKindFGt
	case opF32Le, opF64Le:
		kind = OperationKindFLe
	case opF32Ge, opF64Ge:
		kind = OperationKindFGe
	}
	c.emit(Operation{Kind: kind, ValType: vt})
	return nil
}

func (c *compiler) compileFloatBinop(op opcode) error {
	vt := floatType(op)
	c.popVal(vt)
	c.popVal(vt)
	c.pushVal(vt)
	var kind OperationKind
	switch op {
	case opF32Add, opF64Add:
		kind = OperationKindFAdd
	case opF32Sub, opF64Sub:
		kind = OperationKindFSub
	case opF32Mul, opF64Mul:
		kind = OperationKindFMul
	case opF32Div, opF64Div:
		kind = OperationKindFDiv
	case opF32Min, opF64Min:
		kind = OperationKindFMin
	case opF32Max, opF64Max:
		kind = OperationKindFMax
	case opF32Copysign, opF64Copysign:
		kind = OperationKindFCopysign
	}
	c.emit(Operation{Kind: kind, ValType: vt})
	return nil
}

func (c *compiler) compileFloatUnary(op opcode) error {
	vt := floatType(op)
	c.popVal(vt)
	c.pushVal(vt)
	var kind OperationKind
	switch op {
	case opF32Abs, opF64Abs:
		kind = OperationKindFAbs
	case opF32Neg, opF64Neg:
		kind = OperationKindFNeg
	case opF32Ceil, opF64Ceil:
		kind = OperationKindFCeil
	case opF32Floor, opF64Floor:
		kind = OperationKindFFloor
	case opF32Trunc, opF64Trunc:
		kind = OperationKindFTrunc
	case opF32Nearest, opF64Nearest:
		kind = OperationKindFNearest
	case opF32Sqrt, opF64Sqrt:
		kind = OperationKindFSqrt
	}
	c.emit(Operation{Kind: kind, ValType: vt})
	return nil
}

func (c *compiler) compileTrunc(op opcode) error {
	var from, to api.ValueType
	var signed bool
	switch op {
	case opI32TruncF32S:
		from, to, signed = api.ValueTypeF32, api.ValueTypeI32, true
	case opI32TruncF32U:
		from, to, signed = api.ValueTypeF32, api.ValueTypeI32, false
	case opI32TruncF64S:
		from, to, signed = api.ValueTypeF64, api.ValueTypeI32, true
	case opI32TruncF64U:
		from, to, signed = api.ValueTypeF64, api.ValueTypeI32, false
	case opI64TruncF32S:
		from, to, signed = api.ValueTypeF32, api.ValueTypeI64, true
	case opI64TruncF32U:
		from, to, signed = api.ValueTypeF32, api.ValueTypeI64, false
	case opI64TruncF64S:
		from, to, signed = api.ValueTypeF64, api.ValueTypeI64, true
	case opI64TruncF64U:
		from, to, signed = api.ValueTypeF64, api.ValueTypeI64, false
	}
	c.popVal(from)
	c.pushVal(to)
	c.emit(Operation{Kind: OperationKindTruncFromF, ValType: from, ValType2: to, Signed: signed})
	return nil
}

func (c *compiler) compileConvert(op opcode) error {
	var from, to api.ValueType
	var signed bool
	switch op {
	case opF32ConvertI32S:
		from, to, signed = api.ValueTypeI32, api.ValueTypeF32, true
	case opF32ConvertI32U:
		from, to, signed = api.ValueTypeI32, api.ValueTypeF32, false
	case opF32ConvertI64S:
		from, to, signed = api.ValueTypeI64, api.ValueTypeF32, true
	case opF32ConvertI64U:
		from, to, signed = api.ValueTypeI64, api.ValueTypeF32, false
	case opF64ConvertI32S:
		from, to, signed = api.ValueTypeI32, api.ValueTypeF64, true
	case opF64ConvertI32U:
		from, to, signed = api.ValueTypeI32, api.ValueTypeF64, false
	case opF64ConvertI64S:
		from, to, signed = api.ValueTypeI64, api.ValueTypeF64, true
	case opF64ConvertI64U:
		from, to, signed = api.ValueTypeI64, api.ValueTypeF64, false
	}
	c.popVal(from)
	c.pushVal(to)
	c.emit(Operation{Kind: OperationKindConvertFromI, ValType: from, ValType2: to, Signed: signed})
	return nil
}
