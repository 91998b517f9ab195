package schemapack

import (
	"sync"

	"github.com/schemapack/schemapack/json"
	"github.com/schemapack/schemapack/msgpack"
	"github.com/schemapack/schemapack/packio"
)

// marshaler is the encoding surface shared by the format packages.
type marshaler interface {
	Encode(v any) ([]byte, error)
	EncodeInto(v any, buf *[]byte, offset int) error
}

// Codec serializes and deserializes values in one wire format. Marshal
// reuses a single output buffer under a lock; Unmarshal caches one compiled
// decoder per target type. A Codec is safe for concurrent use.
type Codec struct {
	format Format
	config *Config

	mutex sync.Mutex
	enc   marshaler

	decoders sync.Map // reflect.Type -> unmarshaler
}

// NewCodec returns a Codec for the given format. A nil config means
// defaults.
func NewCodec(format Format, config *Config) *Codec {
	c := &Codec{format: format, config: config.copyAndFill()}
	switch format {
	case FormatJSON:
		c.enc = &json.Encoder{EncHook: c.config.EncHook}
	default:
		c.enc = &msgpack.Encoder{EncHook: c.config.EncHook}
	}
	return c
}

// Format returns the codec's wire format.
func (c *Codec) Format() Format { return c.format }

// Marshal serializes v into a fresh byte slice.
func (c *Codec) Marshal(v any) ([]byte, error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.enc.Encode(v)
}

// MarshalInto serializes v into *buf starting at offset, growing the slice
// as needed. Offset -1 appends to the current length.
func (c *Codec) MarshalInto(v any, buf *[]byte, offset int) error {
	if buf == nil {
		return packio.NewEncodeError("output buffer must be a non-nil pointer", nil)
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()
	return c.enc.EncodeInto(v, buf, offset)
}
