package schemapack

import (
	"fmt"
	"reflect"

	"github.com/schemapack/schemapack/json"
	"github.com/schemapack/schemapack/msgpack"
	"github.com/schemapack/schemapack/packio"
)

// unmarshaler is the decoding surface shared by the format packages.
type unmarshaler interface {
	DecodeInto(data []byte, v any) error
}

// Unmarshal deserializes data into the value pointed to by v, which must be
// a non-nil pointer. The first decode of each target type compiles and
// caches a decoder; later decodes of the same type reuse it.
func (c *Codec) Unmarshal(data []byte, v any) error {
	if v == nil {
		return packio.NewDecodeError("cannot decode into nil interface", nil)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr {
		return packio.NewDecodeError(
			fmt.Sprintf("decoded values must be passed by reference, got %v", rv.Type()), nil)
	}
	if rv.IsNil() {
		return packio.NewDecodeError("cannot decode into nil pointer", nil)
	}

	dec, err := c.decoder(rv.Type().Elem())
	if err != nil {
		return err
	}
	return dec.DecodeInto(data, v)
}

func (c *Codec) decoder(t reflect.Type) (unmarshaler, error) {
	if cached, ok := c.decoders.Load(t); ok {
		return cached.(unmarshaler), nil
	}

	var dec unmarshaler
	switch c.format {
	case FormatJSON:
		d, err := json.NewDecoder(t)
		if err != nil {
			return nil, err
		}
		d.DecHook = c.config.DecHook
		dec = d
	default:
		d, err := msgpack.NewDecoder(t)
		if err != nil {
			return nil, err
		}
		d.DecHook = c.config.DecHook
		d.ExtHook = c.config.ExtHook
		dec = d
	}

	actual, _ := c.decoders.LoadOrStore(t, dec)
	return actual.(unmarshaler), nil
}
