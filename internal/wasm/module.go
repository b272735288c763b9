// Package wasm holds the data model shared by the binary decoder, the validator, and the execution engine: the
// post-decode representation of a module (Module), its runtime instantiation (ModuleInstance), and the function,
// memory, table and global instances that make up a running module.
package wasm

import (
	"github.com/wazerocore/wazerocore/api"
)

// Index is the position of an item (function, table, memory, global, type) in its respective index namespace.
// Imports of a kind occupy the lowest indices of that kind's namespace, followed by module-defined definitions.
type Index = uint32

// Features is the set of optional core specification features a Module may depend on. See api.CoreFeatures.
type Features = api.CoreFeatures

const (
	// FeaturesV1 is an alias of api.CoreFeaturesV1 for readability within this package.
	FeaturesV1 = api.CoreFeaturesV1
	// FeaturesV2 is an alias of api.CoreFeaturesV2 for readability within this package.
	FeaturesV2 = api.CoreFeaturesV2
)

// FunctionType is a possibly empty function signature. The decoder keeps each type-section entry as read; the
// Store maps each distinct signature (by its String form) to one FunctionTypeID so that type equality for
// call_indirect can be an ID comparison rather than a slice comparison.
type FunctionType struct {
	Params, Results []api.ValueType

	// string is a human-readable cache of the signature, lazily computed. Tests may set this directly.
	string string

	// ParamNumInUint64 and ResultNumInUint64 cache len(Params) and len(Results), since every ValueType in our
	// supported subset occupies exactly one uint64 stack slot: no v128, no multi-slot types.
	ParamNumInUint64, ResultNumInUint64 int
}

// FunctionTypeID uniquely identifies a de-duplicated FunctionType within a Store, for fast call_indirect type
// checks.
type FunctionTypeID uint32

// String implements fmt.Stringer.
func (t *FunctionType) String() string {
	if t.string != "" {
		return t.string
	}
	t.string = typeString(t.Params, t.Results)
	return t.string
}

func typeString(params, results []api.ValueType) string {
	s := "("
	for i, p := range params {
		if i > 0 {
			s += ", "
		}
		s += api.ValueTypeName(p)
	}
	s += ")"
	switch len(results) {
	case 0:
	case 1:
		s += " -> " + api.ValueTypeName(results[0])
	default:
		s += " -> ("
		for i, r := range results {
			if i > 0 {
				s += ", "
			}
			s += api.ValueTypeName(r)
		}
		s += ")"
	}
	return s
}

// Finalize fills in the cached uint64-slot counts. Called once, right after decode/construction.
func (t *FunctionType) Finalize() {
	t.ParamNumInUint64 = len(t.Params)
	t.ResultNumInUint64 = len(t.Results)
}

// Import describes a single entry of the Module's import section.
type Import struct {
	Type       api.ExternType
	Module     string
	Name       string
	DescFunc   Index // valid when Type == ExternTypeFunc: indexes Module.TypeSection
	DescTable  *Table
	DescMem    *Memory
	DescGlobal *GlobalType
}

// Export describes a single entry of the Module's export section.
type Export struct {
	Type  api.ExternType
	Name  string
	Index Index
}

// GlobalType describes the static type of a global: its value type and whether it can be Set after init.
type GlobalType struct {
	ValType api.ValueType
	Mutable bool
}

// GlobalInstance holds the current value of an instantiated global, rooted in its defining Module.
type GlobalInstance struct {
	Type GlobalType
	Val  uint64
}

// Global is the declaration plus the compiled initial-value expression of a module-defined (non-imported) global.
type Global struct {
	Type GlobalType
	Init ConstantExpression
}

// Table is the declaration of a table: at present this engine only supports funcref tables sized in elements, used
// exclusively to back call_indirect.
type Table struct {
	Min uint32
	Max *uint32
}

// TableInstance is a runtime table: a slice of function references (References), where a zero-valued (never-initialized
// or explicitly null) entry traps on call_indirect.
type TableInstance struct {
	References []Reference
	Min        uint32
	Max        *uint32
}

// Reference is either a function index (+1, so zero means "uninitialized/null") stored in a table slot.
type Reference = uint64

// Memory is the declaration of a module's linear memory, sized in 64KiB pages.
type Memory struct {
	Min uint32
	Max uint32

	// IsMaxEncoded records whether the max page count was explicit in the binary, vs. defaulted.
	IsMaxEncoded bool
}

// MemoryPageSize is the number of bytes in one unit of memory.Size/memory.grow.
const MemoryPageSize = 65536

// MemoryPageSizeInBits satisfies (1 << MemoryPageSizeInBits) == MemoryPageSize, for shifting instead of dividing.
const MemoryPageSizeInBits = 16

// MemoryMaxPages is the upper bound the Wasm core specification imposes on Memory.Max (4GiB / 64KiB).
const MemoryMaxPages = 65536

// ConstExprOpcode distinguishes the handful of instructions legal in a constant expression context (global
// initializers, element and data segment offsets).
type ConstExprOpcode = byte

const (
	ConstExprOpcodeI32Const ConstExprOpcode = 0x41
	ConstExprOpcodeI64Const ConstExprOpcode = 0x42
	ConstExprOpcodeF32Const ConstExprOpcode = 0x43
	ConstExprOpcodeF64Const ConstExprOpcode = 0x44
	ConstExprOpcodeGlobalGet ConstExprOpcode = 0x23
)

// ConstantExpression is a decoded constant expression: one instruction with its immediate, pre-validated to be one
// of the legal const-expr opcodes.
type ConstantExpression struct {
	Opcode ConstExprOpcode
	Data   []byte
}

// ElementSegment is a decoded element segment used to initialize entries of a table at instantiation.
type ElementSegment struct {
	TableIndex Index
	OffsetExpr ConstantExpression
	Init       []Index // function indices
}

// DataSegment is a decoded data segment used to initialize bytes of memory at instantiation.
type DataSegment struct {
	MemoryIndex Index
	OffsetExpr  ConstantExpression
	Init        []byte
}

// Code is the decoded body of a module-defined function: its local declarations and instruction stream, ready for
// validation and IR compilation.
type Code struct {
	LocalTypes []api.ValueType
	Body       []byte
}

// NameSection holds the optional debug names carried by the custom "name" section. Absence of any entry is not an
// error: every name here is best-effort and only affects error messages and stack traces.
type NameSection struct {
	ModuleName    string
	FunctionNames NameMap
	LocalNames    IndirectNameMap
}

// NameAssoc is one (index, name) pair, as repeated throughout the name section's sub-sections.
type NameAssoc struct {
	Index Index
	Name  string
}

// NameMap is a list of NameAssoc in the order the name section lists them; the decoder neither sorts nor
// de-duplicates it.
type NameMap []*NameAssoc

// IndirectNameMap maps the index of a function to its own NameMap of local names.
type IndirectNameMap []*NameAssocs

// NameAssocs groups a function's Index with its NameMap of local names.
type NameAssocs struct {
	Index   Index
	NameMap NameMap
}

// Module is the decoded, statically-validated representation of a single Wasm binary. It is immutable and may back
// many ModuleInstances.
type Module struct {
	TypeSection     []FunctionType
	ImportSection   []Import
	FunctionSection []Index // indexes TypeSection, one per module-defined function
	TableSection    []Table
	MemorySection    *Memory
	GlobalSection   []Global
	ExportSection   map[string]*Export
	StartSection    *Index
	ElementSection  []ElementSegment
	CodeSection     []Code
	DataSection     []DataSegment

	NameSection *NameSection

	// ID uniquely identifies this decoded Module for the engine's compilation cache.
	ID ModuleID

	// RequiredFeatures is the union of optional features this binary needs, computed during validation.
	RequiredFeatures Features

	// DataCountSection, if present, pins the number of data segments ahead of the code section, letting
	// memory.init/data.drop validate their immediate without a forward reference.
	DataCountSection *uint32
}

// ModuleID is a content hash of the encoded binary, used to key compiled code in the engine.
type ModuleID [sha256Size]byte

const sha256Size = 32

// ImportFuncCount returns the number of imported functions, which occupy the low end of the function index space.
func (m *Module) ImportFuncCount() uint32 {
	var c uint32
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeFunc {
			c++
		}
	}
	return c
}

// ImportTableCount returns the number of imported tables.
func (m *Module) ImportTableCount() uint32 {
	var c uint32
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeTable {
			c++
		}
	}
	return c
}

// ImportMemoryCount returns the number of imported memories (0 or 1 in this engine, which has no multi-memory).
func (m *Module) ImportMemoryCount() uint32 {
	var c uint32
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeMemory {
			c++
		}
	}
	return c
}

// ImportGlobalCount returns the number of imported globals.
func (m *Module) ImportGlobalCount() uint32 {
	var c uint32
	for _, i := range m.ImportSection {
		if i.Type == api.ExternTypeGlobal {
			c++
		}
	}
	return c
}

// TypeOfFunction returns the FunctionType of the function at the given index in the function index namespace
// (imports first), or nil if idx is out of range.
func (m *Module) TypeOfFunction(idx Index) *FunctionType {
	importFuncCount := m.ImportFuncCount()
	if idx < importFuncCount {
		var cur Index
		for _, imp := range m.ImportSection {
			if imp.Type != api.ExternTypeFunc {
				continue
			}
			if cur == idx {
				return &m.TypeSection[imp.DescFunc]
			}
			cur++
		}
		return nil
	}
	codeIdx := idx - importFuncCount
	if int(codeIdx) >= len(m.FunctionSection) {
		return nil
	}
	return &m.TypeSection[m.FunctionSection[codeIdx]]
}
