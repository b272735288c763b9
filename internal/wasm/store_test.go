package wasm

import (
	"context"
	"encoding/binary"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wazerocore/wazerocore/api"
)

var testCtx = context.Background()

// mockEngine implements Engine without compiling anything, letting Store tests run without dragging in the
// interpreter package (which itself depends on this one).
type mockEngine struct {
	callCount int
}

type mockModuleEngine struct {
	parent *mockEngine
}

func newMockStore() (*Store, *mockEngine) {
	e := &mockEngine{}
	return NewStore(api.CoreFeaturesV2, e), e
}

// CompileModule implements Engine.CompileModule.
func (e *mockEngine) CompileModule(context.Context, *Module) error { return nil }

// NewModuleEngine implements Engine.NewModuleEngine.
func (e *mockEngine) NewModuleEngine(name string, m *Module, importedFunctions, moduleFunctions []*FunctionInstance) (ModuleEngine, error) {
	return &mockModuleEngine{parent: e}, nil
}

// DeleteCompiledModule implements Engine.DeleteCompiledModule.
func (e *mockEngine) DeleteCompiledModule(*Module) {}

// Call implements ModuleEngine.Call.
func (me *mockModuleEngine) Call(ctx context.Context, callCtx *CallContext, f *FunctionInstance, params ...uint64) ([]uint64, error) {
	me.parent.callCount++
	if f.Kind != FunctionKindWasm {
		return CallGoFunc(ctx, callCtx, f, params), nil
	}
	return nil, nil
}

// CreateFuncElementInstance implements ModuleEngine.CreateFuncElementInstance.
func (me *mockModuleEngine) CreateFuncElementInstance(indexes []*Index) *ElementInstance {
	return &ElementInstance{References: make([]Reference, len(indexes))}
}

// InitializeFuncrefGlobals implements ModuleEngine.InitializeFuncrefGlobals.
func (me *mockModuleEngine) InitializeFuncrefGlobals([]*GlobalInstance) {}

func i32Const(v int32) ConstantExpression {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(uint32(v)))
	return ConstantExpression{Opcode: ConstExprOpcodeI32Const, Data: data}
}

func globalGetExpr(idx uint32) ConstantExpression {
	data := make([]byte, 8)
	binary.LittleEndian.PutUint64(data, uint64(idx))
	return ConstantExpression{Opcode: ConstExprOpcodeGlobalGet, Data: data}
}

func TestStore_Instantiate_RegistersByName(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{ExportSection: map[string]*Export{}}

	mi, err := s.Instantiate(testCtx, m, "test", nil)
	require.NoError(t, err)
	require.Equal(t, "test", mi.Name())

	got, ok := s.module("test")
	require.True(t, ok)
	require.Same(t, mi, got)

	// The same name cannot be taken twice.
	_, err = s.Instantiate(testCtx, m, "test", nil)
	require.Error(t, err)
	require.IsType(t, &LinkError{}, err)
}

func TestStore_Instantiate_AnonymousIsNotRegistered(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{ExportSection: map[string]*Export{}}

	_, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	_, ok := s.module("")
	require.False(t, ok)
}

func TestStore_Instantiate_MissingImportModule(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{
		TypeSection:   []FunctionType{{}},
		ImportSection: []Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}},
		ExportSection: map[string]*Export{},
	}
	_, err := s.Instantiate(testCtx, m, "", nil)
	require.Error(t, err)
	require.IsType(t, &LinkError{}, err)
	require.Contains(t, err.Error(), "env")
}

func TestStore_Instantiate_HostFunctionImport(t *testing.T) {
	s, _ := newMockStore()

	add, err := NewGoFunction("env", "add", func(a, b uint32) uint32 { return a + b })
	require.NoError(t, err)
	_, err = s.NewHostModule("env", []*FunctionInstance{add})
	require.NoError(t, err)

	i32 := api.ValueTypeI32
	m := &Module{
		TypeSection:   []FunctionType{{Params: []api.ValueType{i32, i32}, Results: []api.ValueType{i32}}},
		ImportSection: []Import{{Type: api.ExternTypeFunc, Module: "env", Name: "add", DescFunc: 0}},
		ExportSection: map[string]*Export{},
	}
	mi, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	require.Len(t, mi.Functions, 1)
	require.Same(t, add, mi.Functions[0])
}

func TestStore_Instantiate_ImportSignatureMismatch(t *testing.T) {
	s, _ := newMockStore()

	f, err := NewGoFunction("env", "f", func() uint32 { return 0 })
	require.NoError(t, err)
	_, err = s.NewHostModule("env", []*FunctionInstance{f})
	require.NoError(t, err)

	m := &Module{
		TypeSection:   []FunctionType{{Params: []api.ValueType{api.ValueTypeI64}}},
		ImportSection: []Import{{Type: api.ExternTypeFunc, Module: "env", Name: "f", DescFunc: 0}},
		ExportSection: map[string]*Export{},
	}
	_, err = s.Instantiate(testCtx, m, "", nil)
	require.Error(t, err)
	require.IsType(t, &LinkError{}, err)
	require.Contains(t, err.Error(), "signature mismatch")
}

func TestStore_Instantiate_GlobalInit(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{
		GlobalSection: []Global{
			{Type: GlobalType{ValType: api.ValueTypeI32, Mutable: true}, Init: i32Const(7)},
		},
		ExportSection: map[string]*Export{},
	}
	mi, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	require.Len(t, mi.Globals, 1)
	require.Equal(t, uint64(7), mi.Globals[0].Val)
}

func TestStore_Instantiate_GlobalInitFromImportedGlobal(t *testing.T) {
	s, _ := newMockStore()

	// Register a source module holding the imported global's cell.
	src := &ModuleInstance{
		ModuleName: "env",
		Exports:    map[string]*Export{"g": {Type: api.ExternTypeGlobal, Name: "g", Index: 0}},
		Globals:    []*GlobalInstance{{Type: GlobalType{ValType: api.ValueTypeI32}, Val: 41}},
		closed:     newClosedFlag(),
	}
	s.modules["env"] = src

	m := &Module{
		ImportSection: []Import{{Type: api.ExternTypeGlobal, Module: "env", Name: "g", DescGlobal: &GlobalType{ValType: api.ValueTypeI32}}},
		GlobalSection: []Global{
			{Type: GlobalType{ValType: api.ValueTypeI32}, Init: globalGetExpr(0)},
		},
		ExportSection: map[string]*Export{},
	}
	mi, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	require.Equal(t, uint64(41), mi.Globals[1].Val)
}

func TestStore_Instantiate_ElementSegmentOutOfBounds(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{
		TypeSection:     []FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection:     []Code{{Body: []byte{0x0b}}},
		TableSection:    []Table{{Min: 1}},
		ElementSection:  []ElementSegment{{TableIndex: 0, OffsetExpr: i32Const(1), Init: []Index{0}}},
		ExportSection:   map[string]*Export{},
	}
	_, err := s.Instantiate(testCtx, m, "", nil)
	require.ErrorIs(t, err, ErrElementOffsetOutOfBounds)
}

func TestStore_Instantiate_ElementSegmentPopulatesTable(t *testing.T) {
	s, _ := newMockStore()
	m := &Module{
		TypeSection:     []FunctionType{{}},
		FunctionSection: []Index{0, 0},
		CodeSection:     []Code{{Body: []byte{0x0b}}, {Body: []byte{0x0b}}},
		TableSection:    []Table{{Min: 3}},
		ElementSection:  []ElementSegment{{TableIndex: 0, OffsetExpr: i32Const(1), Init: []Index{0, 1}}},
		ExportSection:   map[string]*Export{},
	}
	mi, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	// Slot 0 stays null (0); function references are stored as index+1.
	require.Equal(t, []Reference{0, 1, 2}, mi.Tables[0].References)
}

func TestStore_Instantiate_DataSegment(t *testing.T) {
	t.Run("copies into memory", func(t *testing.T) {
		s, _ := newMockStore()
		m := &Module{
			MemorySection: &Memory{Min: 1},
			DataSection:   []DataSegment{{OffsetExpr: i32Const(4), Init: []byte{0xaa, 0xbb}}},
			ExportSection: map[string]*Export{},
		}
		mi, err := s.Instantiate(testCtx, m, "", nil)
		require.NoError(t, err)
		require.Equal(t, byte(0xaa), mi.MemoryInstance.Buffer[4])
		require.Equal(t, byte(0xbb), mi.MemoryInstance.Buffer[5])
	})
	t.Run("out of bounds", func(t *testing.T) {
		s, _ := newMockStore()
		m := &Module{
			MemorySection: &Memory{Min: 1},
			DataSection:   []DataSegment{{OffsetExpr: i32Const(MemoryPageSize - 1), Init: []byte{1, 2}}},
			ExportSection: map[string]*Export{},
		}
		_, err := s.Instantiate(testCtx, m, "", nil)
		require.ErrorIs(t, err, ErrDataOffsetOutOfBounds)
	})
}

func TestStore_Instantiate_StartFunctionRuns(t *testing.T) {
	s, e := newMockStore()
	start := Index(0)
	m := &Module{
		TypeSection:     []FunctionType{{}},
		FunctionSection: []Index{0},
		CodeSection:     []Code{{Body: []byte{0x0b}}},
		StartSection:    &start,
		ExportSection:   map[string]*Export{},
	}
	_, err := s.Instantiate(testCtx, m, "", nil)
	require.NoError(t, err)
	require.Equal(t, 1, e.callCount)
}

func TestStore_TypeIDs_DeduplicatedAcrossModules(t *testing.T) {
	s, _ := newMockStore()
	i32 := api.ValueTypeI32
	shared := FunctionType{Params: []api.ValueType{i32}, Results: []api.ValueType{i32}}

	newModule := func() *Module {
		return &Module{
			TypeSection:     []FunctionType{shared},
			FunctionSection: []Index{0},
			CodeSection:     []Code{{Body: []byte{0x0b}}},
			ExportSection:   map[string]*Export{},
		}
	}
	a, err := s.Instantiate(testCtx, newModule(), "a", nil)
	require.NoError(t, err)
	b, err := s.Instantiate(testCtx, newModule(), "b", nil)
	require.NoError(t, err)
	require.Equal(t, a.TypeIDs[0], b.TypeIDs[0])
}

func TestModuleInstance_CloseWithExitCode(t *testing.T) {
	s, _ := newMockStore()
	mi, err := s.Instantiate(testCtx, &Module{ExportSection: map[string]*Export{}}, "closing", nil)
	require.NoError(t, err)

	require.NoError(t, mi.CloseWithExitCode(testCtx, 2))
	err = mi.FailIfClosed()
	require.Error(t, err)
	require.Equal(t, uint32(2), err.(*ExitError).ExitCode)

	// Closing removed the instance from the store's namespace.
	_, ok := s.module("closing")
	require.False(t, ok)
}
