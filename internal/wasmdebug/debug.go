// Package wasmdebug turns a recovered panic from a wasm function call into an error with a wasm-level stack trace,
// independent of the Go stack trace that also exists, but is usually unimportant.
package wasmdebug

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/wazerocore/wazerocore/api"
	"github.com/wazerocore/wazerocore/internal/wasmruntime"
)

// FuncName returns the name to use in a stack trace, for either an imported or module-defined function.
//
// Note: this mirrors the naming choice in DebugName, because a human reading a trap needs the same identifier a
// human configuring an import would have used.
func FuncName(moduleName, funcName string, funcIdx uint32) string {
	if funcName == "" {
		funcName = "$" + strconv.FormatUint(uint64(funcIdx), 10)
	}
	return moduleName + "." + funcName
}

// signature formats a FuncName with its parameter and result types, Wasm Text Format style, to help narrow down
// which overload of an imported host function actually failed.
func signature(debugName string, paramTypes, resultTypes []api.ValueType) string {
	var sb strings.Builder
	sb.WriteString(debugName)
	sb.WriteByte('(')
	for i, t := range paramTypes {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(api.ValueTypeName(t))
	}
	sb.WriteByte(')')

	switch len(resultTypes) {
	case 0:
	case 1:
		sb.WriteByte(' ')
		sb.WriteString(api.ValueTypeName(resultTypes[0]))
	default:
		sb.WriteString(" (")
		for i, t := range resultTypes {
			if i > 0 {
				sb.WriteByte(',')
			}
			sb.WriteString(api.ValueTypeName(t))
		}
		sb.WriteByte(')')
	}
	return sb.String()
}

// ErrorBuilder accumulates a wasm call stack, innermost frame first, to attach to a recovered panic.
type ErrorBuilder interface {
	// AddFrame appends one call frame, in order from the innermost (panicking) frame outward.
	AddFrame(debugName string, paramTypes, resultTypes []api.ValueType)

	// FromRecovered converts a value obtained from recover() into an error, including any frames added so far.
	FromRecovered(recovered interface{}) error
}

// NewErrorBuilder returns an ErrorBuilder ready to accumulate frames.
func NewErrorBuilder() ErrorBuilder {
	return &errorBuilder{}
}

type errorBuilder struct {
	stackTrace strings.Builder
	frameCount int
}

// AddFrame implements ErrorBuilder.AddFrame.
func (b *errorBuilder) AddFrame(debugName string, paramTypes, resultTypes []api.ValueType) {
	if b.frameCount > 0 {
		b.stackTrace.WriteByte('\n')
	}
	b.stackTrace.WriteByte('\t')
	b.stackTrace.WriteString(signature(debugName, paramTypes, resultTypes))
	b.frameCount++
}

// FromRecovered implements ErrorBuilder.FromRecovered.
func (b *errorBuilder) FromRecovered(recovered interface{}) error {
	var message string
	var cause error

	switch v := recovered.(type) {
	case wasmruntime.Error:
		message = fmt.Sprintf("wasm error: %s", v)
		cause = v
	case error:
		message = fmt.Sprintf("%s (recovered by wazerocore)", v)
		cause = v
	default:
		message = fmt.Sprintf("%v (recovered by wazerocore)", v)
	}

	if b.frameCount == 0 {
		return &wasmError{message: message, cause: cause}
	}
	return &wasmError{message: message, stackTrace: b.stackTrace.String(), cause: cause}
}

type wasmError struct {
	message    string
	stackTrace string
	cause      error
}

// Error implements error.
func (e *wasmError) Error() string {
	if e.stackTrace == "" {
		return e.message
	}
	return fmt.Sprintf("%s\nwasm stack trace:\n%s", e.message, e.stackTrace)
}

// Unwrap allows errors.Is/errors.As to see through to the recovered cause, when there was one.
func (e *wasmError) Unwrap() error {
	return e.cause
}
