package schemapack

import "reflect"

// Config defines configuration for Codecs. The zero value and nil are both
// valid and mean defaults.
type Config struct {
	// EncHook, when set, converts values with no built-in encoding into
	// encodable ones.
	EncHook func(v any) (any, error)

	// DecHook, when set, converts decoded values into target types the
	// decoder has no built-in path for.
	DecHook func(t reflect.Type, v any) (any, error)

	// ExtHook, when set, receives unrecognized MessagePack extension values
	// decoded into untyped positions. It has no effect on the JSON format.
	ExtHook func(code int8, data []byte) (any, error)
}

func (c *Config) copyAndFill() *Config {
	config := new(Config)
	if c != nil {
		*config = *c
	}
	return config
}
