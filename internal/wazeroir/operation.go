// Package wazeroir defines wazerocore's internal fused-opcode intermediate representation and the single-pass
// compiler that both type-checks a decoded function body and lowers it to that representation. Labels are resolved
// to absolute operation indices at compile time, so the execution engine never walks a tree or re-resolves a
// branch target at runtime.
package wazeroir

import "github.com/wazerocore/wazerocore/api"

// OperationKind discriminates the union fields of Operation. Most fields are opaque and only meaningful for a
// subset of kinds; see the comment on each field below and the compiler's emit call sites for the exact contract
// per kind.
type OperationKind byte

const (
	OperationKindUnreachable OperationKind = iota
	OperationKindBr
	OperationKindBrIf
	OperationKindBrIfEqz // `if`'s branch-over: jumps to the else arm (or end) when the condition is zero, without touching the stack
	OperationKindBrTable
	OperationKindCall
	OperationKindCallIndirect
	OperationKindDrop
	OperationKindSelect

	// Pick/Swap are unused by this compiler (locals are addressed directly, see LocalGet/LocalSet/LocalTee
	// below) but are kept as engine-recognized kinds since the execution engine's dispatch still declares them.
	OperationKindPick
	OperationKindSwap

	OperationKindLocalGet
	OperationKindLocalSet
	OperationKindLocalTee
	OperationKindGlobalGet
	OperationKindGlobalSet

	OperationKindLoad
	OperationKindLoad8S
	OperationKindLoad8U
	OperationKindLoad16S
	OperationKindLoad16U
	OperationKindLoad32S
	OperationKindLoad32U
	OperationKindStore
	OperationKindStore8
	OperationKindStore16
	OperationKindStore32
	OperationKindMemorySize
	OperationKindMemoryGrow
	OperationKindMemoryFill
	OperationKindMemoryCopy
	OperationKindMemoryInit
	OperationKindDataDrop

	// OperationKindConst covers all four constant kinds; ValType picks which.
	OperationKindConst

	OperationKindEq
	OperationKindNe
	OperationKindEqz
	OperationKindLtS
	OperationKindLtU
	OperationKindGtS
	OperationKindGtU
	OperationKindLeS
	OperationKindLeU
	OperationKindGeS
	OperationKindGeU

	OperationKindAdd
	OperationKindSub
	OperationKindMul
	OperationKindClz
	OperationKindCtz
	OperationKindPopcnt
	OperationKindDivS
	OperationKindDivU
	OperationKindRemS
	OperationKindRemU
	OperationKindAnd
	OperationKindOr
	OperationKindXor
	OperationKindShl
	OperationKindShrS
	OperationKindShrU
	OperationKindRotl
	OperationKindRotr

	// --- float-only ops, F-prefixed to distinguish from the integer ops above that share a mnemonic ---

	OperationKindFAbs
	OperationKindFNeg
	OperationKindFCeil
	OperationKindFFloor
	OperationKindFTrunc
	OperationKindFNearest
	OperationKindFSqrt
	OperationKindFMin
	OperationKindFMax
	OperationKindFCopysign
	OperationKindFAdd
	OperationKindFSub
	OperationKindFMul
	OperationKindFDiv
	OperationKindFEq
	OperationKindFNe
	OperationKindFLt
	OperationKindFGt
	OperationKindFLe
	OperationKindFGe

	OperationKindWrap // i64 -> i32
	OperationKindExtend // i32 -> i64, Signed picks extend_i32_s vs extend_i32_u
	OperationKindExtend8S
	OperationKindExtend16S
	OperationKindExtend32S
	OperationKindTruncFromF    // float -> int, traps on NaN/out-of-range
	OperationKindTruncSatFromF // float -> int, saturating (CoreFeatureNonTrappingFloatToIntConversion)
	OperationKindConvertFromI  // int -> float
	OperationKindDemote        // f64 -> f32
	OperationKindPromote       // f32 -> f64
	OperationKindReinterpret

	// --- fused opcodes: peephole folds of a two-instruction sequence into one op (spec.md §4.2) ---

	OperationKindSetConstI // iN.const K; local.set L -> SetConstI(L, K)
	OperationKindAddI      // iN.const K; iN.add -> AddI(K); iN.const K; iN.sub -> AddI(-K)
	OperationKindAndI      // iN.const K; iN.and -> AndI(K)
	OperationKindOrI       // iN.const K; iN.or  -> OrI(K)
	OperationKindXorI      // iN.const K; iN.xor -> XorI(K)
	OperationKindShlI      // iN.const K; iN.shl -> ShlI(K)
	OperationKindShrSI     // iN.const K; iN.shr_s -> ShrSI(K)
	OperationKindShrUI     // iN.const K; iN.shr_u -> ShrUI(K)
	OperationKindBrZ       // iN.eqz; br_if L -> BrZ(L)
	OperationKindBrCmp     // iN.compare; br_if L -> BrCmp(cmp, L)

	// --- out of scope (spec.md §1): reference types, bulk-table operations, threads/SIMD. These kinds exist
	// because the execution engine's dispatch still declares cases for them; the compiler never emits them,
	// since the decoder rejects the opcodes that would produce them.

	OperationKindTableInit
	OperationKindElemDrop
	OperationKindTableCopy
	OperationKindRefFunc
	OperationKindTableGet
	OperationKindTableSet
	OperationKindTableSize
	OperationKindTableGrow
	OperationKindTableFill

	OperationKindV128Const
	OperationKindV128Add
	OperationKindV128Sub
	OperationKindV128Load
	OperationKindV128LoadLane
	OperationKindV128Store
	OperationKindV128StoreLane
	OperationKindV128ExtractLane
	OperationKindV128ReplaceLane
	OperationKindV128Splat
	OperationKindV128Swizzle
	OperationKindV128Shuffle
	OperationKindV128AnyTrue
	OperationKindV128AllTrue
	OperationKindV128BitMask
	OperationKindV128And
	OperationKindV128Not
	OperationKindV128Or
	OperationKindV128Xor
	OperationKindV128Bitselect
	OperationKindV128AndNot
	OperationKindV128Shl
	OperationKindV128Shr
	OperationKindV128Cmp
)

// UnsignedType distinguishes operand width/representation for ops where signedness is irrelevant: wasm has no
// separate signed/unsigned add, for instance, since two's-complement addition is identical either way.
type UnsignedType byte

const (
	UnsignedTypeI32 UnsignedType = iota
	UnsignedTypeI64
	UnsignedTypeF32
	UnsignedTypeF64
)

// SignedType distinguishes both width and signedness/float-ness, for ops whose result depends on it: comparisons
// and division are defined differently for i32 vs u32 vs f32, etc.
type SignedType byte

const (
	SignedTypeInt32 SignedType = iota
	SignedTypeInt64
	SignedTypeUint32
	SignedTypeUint64
	SignedTypeFloat32
	SignedTypeFloat64
)

// SignedInt is SignedType restricted to the integer-only ops (rem, shr, and the truncation/conversion family's
// integer side) that have no float variant.
type SignedInt byte

const (
	SignedInt32 SignedInt = iota
	SignedInt64
	SignedUint32
	SignedUint64
)

// BranchTarget is the resolved destination of a branch: an absolute operation index (Addr), the operand-stack
// height the branch's args sit above (Height), and how many values travel across the branch (Arity). Addr is
// known immediately for backward (loop) branches and patched once the enclosing block's end is reached for
// forward ones. At the instant a branch is taken, the engine trims the live operand stack down to exactly
// Height+Arity values, keeping the top Arity values and discarding everything between them and Height.
type BranchTarget struct {
	Addr   uint32
	Height uint32
	Arity  uint32
}

// Operation is a single fused-opcode instruction in a CompilationResult's body. It is a flat union: Kind picks
// which of the remaining fields are meaningful, mirroring the per-emit-site contract in compiler.go.
type Operation struct {
	Kind OperationKind

	// ValType / ValType2 carry the operand type (and, for conversions, the result type) relevant to Kind.
	ValType  api.ValueType
	ValType2 api.ValueType

	// Signed distinguishes the signed/unsigned half of an otherwise type-identical op (div_s vs div_u, trunc_s
	// vs trunc_u, a sign-extending convert, a signed comparison fused into BrCmp, ...).
	Signed bool

	// NonTrapping is not set by the compiler: the saturating ("non-trapping") float-to-int truncation family is
	// emitted as OperationKindTruncSatFromF instead.
	NonTrapping bool

	// CmpKind is BrCmp's fused comparison operator (OperationKindEq/Ne/Lt/Gt/Le/Ge).
	CmpKind OperationKind

	// Index / Index2 are the index-space operand(s): local/global index, call target's function index,
	// call_indirect's (type index, table index) pair.
	Index  uint32
	Index2 uint32

	// Offset is a memory instruction's static offset immediate.
	Offset uint32

	// U64 carries a constant's raw bit pattern (the ConstI32/I64/F32/F64 and fused ConstI family) or a Kind's
	// single scalar operand where no other field fits.
	U64 uint64

	// Target is the single branch destination: Br, BrIf, BrZ, BrCmp, and each br_table arm before it moves
	// into Targets.
	Target BranchTarget
	// Targets holds br_table's full target list, default arm last.
	Targets []BranchTarget
}

// CompilationResult is one function body lowered to its fused-opcode Operation sequence, ready for the
// interpreter engine to translate into its own dispatch-friendly bytecode.
type CompilationResult struct {
	Operations []Operation
	LocalTypes []api.ValueType
	HasMemory  bool
	HasTable   bool
}
