// Package wasmruntime holds the sentinel errors a compiled function raises as a Go panic when a runtime check
// fails. These are traps as defined by the core specification: they unwind the entire call stack of the current
// invocation rather than being catchable from within the module.
package wasmruntime

// Error is a run-time trap, which is always returned as one of the Err constants in this package.
//
// See https://www.w3.org/TR/2019/REC-wasm-core-1-20191205/#trap%E2%91%A0
type Error string

// Error implements the error interface.
func (e Error) Error() string {
	return string(e)
}

const (
	// ErrRuntimeCallStackOverflow indicates that a function call exceeded buildoptions.CallStackCeiling.
	ErrRuntimeCallStackOverflow = Error("callstack overflow")
	// ErrRuntimeInvalidConversionToInteger indicates a trapping float to integer conversion was attempted on NaN,
	// e.g. i32.trunc_f64_s on NaN. An out-of-range value, including ±Inf, raises ErrRuntimeIntegerOverflow.
	ErrRuntimeInvalidConversionToInteger = Error("invalid conversion to integer")
	// ErrRuntimeIntegerOverflow indicates an arithmetic operation overflowed the destination integer width, e.g.
	// i32.trunc_f64_s on a value outside math.MinInt32..math.MaxInt32, or MinInt/-1 signed division.
	ErrRuntimeIntegerOverflow = Error("integer overflow")
	// ErrRuntimeIntegerDivideByZero indicates a div_s, div_u, rem_s or rem_u instruction's divisor was zero.
	ErrRuntimeIntegerDivideByZero = Error("integer divide by zero")
	// ErrRuntimeUnreachable indicates the unreachable instruction was executed.
	ErrRuntimeUnreachable = Error("unreachable")
	// ErrRuntimeInvalidTableAccess indicates a table.get, table.set, call_indirect or element access was out of
	// bounds, or (for call_indirect) referenced an uninitialized element.
	ErrRuntimeInvalidTableAccess = Error("invalid table access")
	// ErrRuntimeIndirectCallTypeMismatch indicates a call_indirect target's signature didn't match the one declared
	// at the call site.
	ErrRuntimeIndirectCallTypeMismatch = Error("indirect call type mismatch")
	// ErrRuntimeOutOfBoundsMemoryAccess indicates a load or store accessed an address outside the current memory
	// size.
	ErrRuntimeOutOfBoundsMemoryAccess = Error("out of bounds memory access")
)

// HostError wraps an error returned by a host function, so that it propagates as a trap indistinguishable in kind
// from any other: a host call unwinds the full Wasm call stack the same way an integer divide by zero does.
type HostError struct {
	Err error
}

// NewHostError wraps err, the non-nil error a host function returned, as a trap cause.
func NewHostError(err error) *HostError {
	return &HostError{Err: err}
}

// Error implements the error interface.
func (e *HostError) Error() string {
	return "host function: " + e.Err.Error()
}

// Unwrap allows errors.Is/errors.As to see through to the host's original error.
func (e *HostError) Unwrap() error {
	return e.Err
}
