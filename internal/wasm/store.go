package wasm

import (
	"context"
	"fmt"
	"sync"

	"github.com/wazerocore/wazerocore/api"
)

// Store is the top-level registry of instantiated modules and de-duplicated function types shared across them,
// analogous to the "store" of the core specification. One Store is created per Runtime.
type Store struct {
	mux     sync.Mutex
	modules map[string]*ModuleInstance

	// typeIDs de-duplicates FunctionType by its String() form so call_indirect across module boundaries can
	// compare FunctionTypeID instead of walking both signatures.
	typeIDs map[string]FunctionTypeID

	EnabledFeatures Features
	Engine          Engine
}

// NewStore creates an empty Store backed by the given Engine.
func NewStore(enabledFeatures Features, engine Engine) *Store {
	return &Store{
		modules:         map[string]*ModuleInstance{},
		typeIDs:         map[string]FunctionTypeID{},
		EnabledFeatures: enabledFeatures,
		Engine:          engine,
	}
}

func (s *Store) deleteModule(name string) {
	s.mux.Lock()
	defer s.mux.Unlock()
	delete(s.modules, name)
}

func (s *Store) module(name string) (*ModuleInstance, bool) {
	s.mux.Lock()
	defer s.mux.Unlock()
	m, ok := s.modules[name]
	return m, ok
}

// Instantiate links m's imports against already-instantiated modules in this Store, allocates its own function,
// table, memory and global instances, runs its active element and data segments, and invokes its start function
// if any. The returned ModuleInstance is also registered in the Store under name, unless name is empty.
func (s *Store) Instantiate(ctx context.Context, m *Module, name string, importResolver func(moduleName string) (*ModuleInstance, bool)) (*ModuleInstance, error) {
	if importResolver == nil {
		importResolver = s.module
	}
	if name != "" {
		if _, ok := s.module(name); ok {
			return nil, NewLinkError("module[%s] has already been instantiated", name)
		}
	}

	mi := &ModuleInstance{
		ModuleName: name,
		Exports:    m.ExportSection,
		closed:     newClosedFlag(),
		s:          s,
	}

	importedFunctions, importedTables, importedMemory, importedGlobals, err := s.resolveImports(m, importResolver)
	if err != nil {
		return nil, err
	}

	mi.Globals = append(append([]*GlobalInstance{}, importedGlobals...), s.instantiateGlobals(m, importedGlobals)...)
	mi.Tables = append(append([]*TableInstance{}, importedTables...), s.instantiateTables(m)...)

	if importedMemory != nil {
		mi.MemoryInstance = importedMemory
	} else if m.MemorySection != nil {
		mi.MemoryInstance = NewMemoryInstance(m.MemorySection)
	}

	mi.TypeIDs = s.typeIDsForModule(m)

	moduleFunctions := s.instantiateFunctions(m, mi)
	mi.Functions = append(append([]*FunctionInstance{}, importedFunctions...), moduleFunctions...)
	for _, exp := range m.ExportSection {
		if exp.Type == api.ExternTypeFunc {
			mi.Functions[exp.Index].Definition.exportNames = append(mi.Functions[exp.Index].Definition.exportNames, exp.Name)
		}
	}

	if err := s.Engine.CompileModule(ctx, m); err != nil {
		return nil, fmt.Errorf("compile: %w", err)
	}
	engine, err := s.Engine.NewModuleEngine(name, m, importedFunctions, moduleFunctions)
	if err != nil {
		return nil, fmt.Errorf("instantiate: %w", err)
	}
	mi.Engine = engine

	if err := s.applyElementSegments(m, mi); err != nil {
		return nil, err
	}
	if err := s.applyDataSegments(m, mi); err != nil {
		return nil, err
	}

	if m.StartSection != nil {
		f := mi.Functions[*m.StartSection]
		if _, err := engine.Call(ctx, NewCallContext(mi), f); err != nil {
			return nil, fmt.Errorf("start function[%s] failed: %w", f.DebugName(), err)
		}
	}

	if name != "" {
		s.mux.Lock()
		s.modules[name] = mi
		s.mux.Unlock()
	}
	return mi, nil
}

func (s *Store) resolveImports(m *Module, resolve func(string) (*ModuleInstance, bool)) (
	functions []*FunctionInstance, tables []*TableInstance, memory *MemoryInstance, globals []*GlobalInstance, err error,
) {
	for _, imp := range m.ImportSection {
		src, ok := resolve(imp.Module)
		if !ok {
			return nil, nil, nil, nil, NewLinkError("module[%s] not instantiated", imp.Module)
		}
		exp, ok := src.Exports[imp.Name]
		if !ok || exp.Type != imp.Type {
			return nil, nil, nil, nil, NewLinkError("%s.%s: not exported as %s", imp.Module, imp.Name, api.ExternTypeName(imp.Type))
		}
		switch imp.Type {
		case api.ExternTypeFunc:
			fn := src.Functions[exp.Index]
			wantType := &m.TypeSection[imp.DescFunc]
			if fn.Type.String() != wantType.String() {
				return nil, nil, nil, nil, NewLinkError("%s.%s: signature mismatch: %s != %s", imp.Module, imp.Name, fn.Type, wantType)
			}
			functions = append(functions, fn)
		case api.ExternTypeTable:
			tables = append(tables, src.Tables[exp.Index])
		case api.ExternTypeMemory:
			memory = src.MemoryInstance
		case api.ExternTypeGlobal:
			g := src.Globals[exp.Index]
			if imp.DescGlobal.Mutable != g.Type.Mutable {
				return nil, nil, nil, nil, NewLinkError("%s.%s: mutability mismatch", imp.Module, imp.Name)
			}
			globals = append(globals, g)
		}
	}
	return
}

// instantiateGlobals evaluates each module-defined global's initializer. Per the core specification, global.get in
// a constant expression may only reference an already-instantiated imported global, so importedGlobals alone is
// enough context: a module-defined global can never reference another module-defined global.
func (s *Store) instantiateGlobals(m *Module, importedGlobals []*GlobalInstance) []*GlobalInstance {
	out := make([]*GlobalInstance, len(m.GlobalSection))
	for i, g := range m.GlobalSection {
		out[i] = &GlobalInstance{Type: g.Type, Val: evalConstExpr(g.Init, importedGlobals)}
	}
	return out
}

func (s *Store) instantiateTables(m *Module) []*TableInstance {
	out := make([]*TableInstance, len(m.TableSection))
	for i := range m.TableSection {
		out[i] = NewTableInstance(&m.TableSection[i])
	}
	return out
}

func (s *Store) instantiateFunctions(m *Module, mi *ModuleInstance) []*FunctionInstance {
	importCount := m.ImportFuncCount()
	out := make([]*FunctionInstance, len(m.FunctionSection))
	for i, typeIdx := range m.FunctionSection {
		idx := importCount + Index(i)
		code := m.CodeSection[i]
		fn := &FunctionInstance{
			Kind:       FunctionKindWasm,
			Type:       &m.TypeSection[typeIdx],
			Body:       code.Body,
			LocalTypes: code.LocalTypes,
			Idx:        idx,
			Module:     mi,
			TypeID:     mi.TypeIDs[idx],
		}
		fn.moduleName = mi.ModuleName
		if m.NameSection != nil {
			for _, a := range m.NameSection.FunctionNames {
				if a.Index == idx {
					fn.name = a.Name
					break
				}
			}
		}
		fn.Definition = &FunctionDefinition{f: fn}
		out[i] = fn
	}
	return out
}

// NewHostModule registers a module of embedder-defined functions under name, so that subsequently-instantiated
// modules may import from it. Unlike Instantiate, there is no Module to decode or validate: each FunctionInstance
// already carries its own derived FunctionType (see NewGoFunction).
func (s *Store) NewHostModule(name string, fns []*FunctionInstance) (*ModuleInstance, error) {
	if _, ok := s.module(name); ok {
		return nil, NewLinkError("module[%s] has already been instantiated", name)
	}

	mi := &ModuleInstance{
		ModuleName: name,
		Exports:    map[string]*Export{},
		Functions:  fns,
		closed:     newClosedFlag(),
		s:          s,
	}

	s.mux.Lock()
	for i, f := range fns {
		f.Idx = Index(i)
		f.Module = mi
		key := f.Type.String()
		id, ok := s.typeIDs[key]
		if !ok {
			id = FunctionTypeID(len(s.typeIDs))
			s.typeIDs[key] = id
		}
		f.TypeID = id
	}
	s.mux.Unlock()

	for i, f := range fns {
		mi.Exports[f.name] = &Export{Type: api.ExternTypeFunc, Name: f.name, Index: Index(i)}
		f.Definition.exportNames = append(f.Definition.exportNames, f.name)
	}

	s.mux.Lock()
	s.modules[name] = mi
	s.mux.Unlock()
	return mi, nil
}

func (s *Store) typeIDsForModule(m *Module) []FunctionTypeID {
	ids := make([]FunctionTypeID, m.ImportFuncCount()+Index(len(m.FunctionSection)))
	s.mux.Lock()
	defer s.mux.Unlock()
	assign := func(idx Index, t *FunctionType) {
		key := t.String()
		id, ok := s.typeIDs[key]
		if !ok {
			id = FunctionTypeID(len(s.typeIDs))
			s.typeIDs[key] = id
		}
		ids[idx] = id
	}
	var cur Index
	for _, imp := range m.ImportSection {
		if imp.Type == api.ExternTypeFunc {
			assign(cur, &m.TypeSection[imp.DescFunc])
			cur++
		}
	}
	for i, typeIdx := range m.FunctionSection {
		assign(cur+Index(i), &m.TypeSection[typeIdx])
	}
	return ids
}

func (s *Store) applyElementSegments(m *Module, mi *ModuleInstance) error {
	for _, seg := range m.ElementSection {
		table := mi.Tables[seg.TableIndex]
		offset := uint32(evalConstExpr(seg.OffsetExpr, mi.Globals))
		if uint64(offset)+uint64(len(seg.Init)) > uint64(len(table.References)) {
			return ErrElementOffsetOutOfBounds
		}
		for i, funcIdx := range seg.Init {
			table.References[offset+uint32(i)] = uint64(funcIdx) + 1
		}
	}
	return nil
}

func (s *Store) applyDataSegments(m *Module, mi *ModuleInstance) error {
	for _, seg := range m.DataSection {
		offset := uint32(evalConstExpr(seg.OffsetExpr, mi.Globals))
		if mi.MemoryInstance == nil || uint64(offset)+uint64(len(seg.Init)) > uint64(len(mi.MemoryInstance.Buffer)) {
			return ErrDataOffsetOutOfBounds
		}
		copy(mi.MemoryInstance.Buffer[offset:], seg.Init)
	}
	return nil
}

// evalConstExpr evaluates a decoded constant expression. Validation has already checked that a global.get operand,
// if any, indexes an immutable import, so globals need only cover the imported prefix of the global index space.
func evalConstExpr(e ConstantExpression, globals []*GlobalInstance) uint64 {
	switch e.Opcode {
	case ConstExprOpcodeI32Const, ConstExprOpcodeI64Const, ConstExprOpcodeF32Const, ConstExprOpcodeF64Const:
		return leLoad(e.Data)
	case ConstExprOpcodeGlobalGet:
		idx := uint32(leLoad(e.Data))
		return globals[idx].Val
	}
	return 0
}

func leLoad(b []byte) uint64 {
	var v uint64
	for i := len(b) - 1; i >= 0; i-- {
		v = v<<8 | uint64(b[i])
	}
	return v
}
