// Package schemapack provides schema-directed serialization between Go
// values and the MessagePack and JSON wire formats.
//
// A schema is compiled from a Go type with package schema, then drives both
// encoding and decoding: decoders validate structure and constraints while
// parsing, in a single pass, and report failures with the path to the
// offending value. Encoding requires no registration; decoding is always
// against a concrete target type, so decoders only ever build values of
// types the caller named.
//
// schemapack/msgpack and schemapack/json expose the two codecs directly.
// This package wraps them behind format-agnostic Codec handles that cache
// compiled decoders per target type.
//
// schemapack/schema compiles Go types into the validation schema and hosts
// struct options (tags, defaults, unions, rename policies).
//
// schemapack/packio provides buffer, freelist, path and error types shared
// by the codecs.
package schemapack

import "github.com/schemapack/schemapack/schema"

// Format selects a wire format for a Codec.
type Format int

const (
	FormatMsgPack Format = iota
	FormatJSON
)

func (f Format) String() string {
	switch f {
	case FormatMsgPack:
		return "msgpack"
	case FormatJSON:
		return "json"
	}
	return "unknown"
}

// Default codec handles, one per wire format.
var (
	MsgPack = NewCodec(FormatMsgPack, nil)
	JSON    = NewCodec(FormatJSON, nil)
)

// RegisterEnum registers the members of an enum type. It is a shortcut for
// schema.RegisterEnum.
func RegisterEnum(values any) error {
	return schema.RegisterEnum(values)
}

// RegisterUnion registers the member structs of a tagged union interface.
// It is a shortcut for schema.RegisterUnion.
func RegisterUnion(iface any, members ...any) error {
	return schema.RegisterUnion(iface, members...)
}
