package wasm

import "fmt"

// DecodeError is returned when the binary format itself is malformed: bad magic/version, truncated sections,
// invalid LEB128, or any other structural problem a reader hits before it can even attempt validation.
type DecodeError struct {
	msg string
}

func (e *DecodeError) Error() string { return e.msg }

// NewDecodeError builds a DecodeError with a formatted message.
func NewDecodeError(format string, args ...interface{}) error {
	return &DecodeError{msg: fmt.Sprintf(format, args...)}
}

// ValidationError is returned when a module decodes structurally but fails a static semantic check: an
// out-of-range index or a type mismatch in a function body.
type ValidationError struct {
	msg string
}

func (e *ValidationError) Error() string { return e.msg }

// NewValidationError builds a ValidationError with a formatted message.
func NewValidationError(format string, args ...interface{}) error {
	return &ValidationError{msg: fmt.Sprintf(format, args...)}
}

// UnsupportedFeature is returned in place of a ValidationError when a module uses a syntactically well-formed
// construct that is gated behind an optional feature not enabled for this engine, e.g. SIMD or reference types.
type UnsupportedFeature struct {
	feature string
}

func (e *UnsupportedFeature) Error() string {
	return fmt.Sprintf("feature %q is unsupported", e.feature)
}

// NewUnsupportedFeature builds an UnsupportedFeature error naming the feature.
func NewUnsupportedFeature(feature string) error {
	return &UnsupportedFeature{feature: feature}
}

// LinkError is returned when a module decodes and validates in isolation, but cannot be instantiated against the
// imports actually supplied: a missing import, or a present import whose type disagrees with the declared one.
type LinkError struct {
	msg string
}

func (e *LinkError) Error() string { return e.msg }

// NewLinkError builds a LinkError with a formatted message.
func NewLinkError(format string, args ...interface{}) error {
	return &LinkError{msg: fmt.Sprintf(format, args...)}
}

// ErrElementOffsetOutOfBounds is a LinkError raised when an element segment's offset plus length would run past
// the end of its target table at instantiation time.
var ErrElementOffsetOutOfBounds = NewLinkError("out of bounds table access")

// ErrDataOffsetOutOfBounds is a LinkError raised when a data segment's offset plus length would run past the end
// of linear memory at instantiation time.
var ErrDataOffsetOutOfBounds = NewLinkError("out of bounds memory access")
