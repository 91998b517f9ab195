package packio

import (
	"errors"
)

// Error handling in schemapack distinguishes three failure classes so callers
// can react without string matching:
//
//	EncodeError      - an object cannot be serialized.
//	DecodeError      - the bytes are not a syntactically valid message.
//	ValidationError  - the message is valid but violates the schema.
//
// ValidationError is a DecodeError in the errors.Is sense; checking
// errors.Is(err, ErrDecode) matches both. Specific causes are wrapped as
// sentinel errors so they can be tested with errors.Is as well:
//
//	var vErr *packio.ValidationError
//	if errors.As(err, &vErr) {
//		// schema violation; vErr.Path locates it
//	} else if errors.Is(err, packio.ErrDecode) {
//		// malformed input
//	}
var (
	// ErrEncode is matched by every EncodeError.
	ErrEncode = errors.New("encode error")

	// ErrDecode is matched by every DecodeError and every ValidationError.
	ErrDecode = errors.New("decode error")

	// ErrValidation is matched by every ValidationError.
	ErrValidation = errors.New("validation error")

	// ErrTruncated is returned when a message ends before its structure does.
	ErrTruncated = errors.New("truncated")

	// ErrMalformed is returned when the read data is impossible to decode.
	ErrMalformed = errors.New("malformed")

	// ErrWrongType is returned when a value's wire type is not permitted by
	// the schema at that position.
	ErrWrongType = errors.New("wrong type")

	// ErrMissingField is returned when a required struct field is absent.
	ErrMissingField = errors.New("missing required field")

	// ErrUnknownField is returned when an unknown field is present and the
	// struct forbids unknown fields.
	ErrUnknownField = errors.New("unknown field")

	// ErrUnknownTag is returned when a union tag value matches no member.
	ErrUnknownTag = errors.New("unknown tag")

	// ErrConstraint is returned when a value violates a schema constraint.
	ErrConstraint = errors.New("constraint violated")

	// ErrUnsupported is returned when a type has no wire representation and
	// no hook claims it.
	ErrUnsupported = errors.New("unsupported type")

	// ErrOverflow is returned when a numeric value is outside the range the
	// schema position can represent.
	ErrOverflow = errors.New("out of range")
)

// bareSentinel reports whether err is one of the package sentinels, whose
// text adds nothing to an already rendered message.
func bareSentinel(err error) bool {
	switch err {
	case nil, ErrEncode, ErrDecode, ErrValidation, ErrTruncated, ErrMalformed,
		ErrWrongType, ErrMissingField, ErrUnknownField, ErrUnknownTag,
		ErrConstraint, ErrUnsupported, ErrOverflow:
		return true
	}
	return false
}

// EncodeError is returned when an object cannot be serialized.
type EncodeError struct {
	Msg string
	Err error
}

// NewEncodeError returns an EncodeError wrapping kind with the given message.
func NewEncodeError(msg string, kind error) *EncodeError {
	return &EncodeError{Msg: msg, Err: kind}
}

// Error implements error. A wrapped cause that carries its own diagnosis is
// appended; bare sentinels are not, since the message already states them.
func (e *EncodeError) Error() string {
	if bareSentinel(e.Err) {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

// Unwrap implements errors's Unwrap().
func (e *EncodeError) Unwrap() error { return e.Err }

// Is reports whether target matches this error's class.
func (e *EncodeError) Is(target error) bool { return target == ErrEncode }

// DecodeError is returned when the input bytes are not a syntactically valid
// message.
type DecodeError struct {
	Msg string
	Err error
}

// NewDecodeError returns a DecodeError wrapping kind with the given message.
func NewDecodeError(msg string, kind error) *DecodeError {
	return &DecodeError{Msg: msg, Err: kind}
}

// Error implements error. A wrapped cause that carries its own diagnosis is
// appended; bare sentinels are not, since the message already states them.
func (e *DecodeError) Error() string {
	if bareSentinel(e.Err) {
		return e.Msg
	}
	return e.Msg + ": " + e.Err.Error()
}

// Unwrap implements errors's Unwrap().
func (e *DecodeError) Unwrap() error { return e.Err }

// Is reports whether target matches this error's class.
func (e *DecodeError) Is(target error) bool { return target == ErrDecode }

// ValidationError is returned when a message is syntactically valid but
// violates the schema: wrong type, missing required field, unknown field,
// constraint violation, unknown tag, or arity mismatch.
type ValidationError struct {
	Msg  string
	Path string // rendered location, e.g. "$.items[2].name"
	Err  error
}

// NewValidationError renders the given path and returns a ValidationError
// wrapping kind. path may be nil, in which case the location is the root.
func NewValidationError(msg string, path *PathNode, kind error) *ValidationError {
	return &ValidationError{Msg: msg, Path: path.Render(), Err: kind}
}

// Error implements error.
func (e *ValidationError) Error() string {
	return e.Msg + " - at `" + e.Path + "`"
}

// Unwrap implements errors's Unwrap().
func (e *ValidationError) Unwrap() error { return e.Err }

// Is reports whether target matches this error's class. A ValidationError is
// also a DecodeError.
func (e *ValidationError) Is(target error) bool {
	return target == ErrValidation || target == ErrDecode
}
