package schemapack_test

import (
	"errors"
	"fmt"
	"reflect"
	"testing"

	"github.com/maxatome/go-testdeep/td"

	"github.com/schemapack/schemapack"
	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

type order struct {
	schema.Options `pack:"omit_defaults"`
	ID             int      `pack:"id"`
	Items          []string `pack:"items,optional"`
	Note           string   `pack:"note,default="`
}

func TestRoundTrip(t *testing.T) {
	in := order{ID: 7, Items: []string{"a", "b"}}

	for _, codec := range []*schemapack.Codec{schemapack.MsgPack, schemapack.JSON} {
		t.Run(codec.Format().String(), func(t *testing.T) {
			data, err := codec.Marshal(in)
			if err != nil {
				t.Fatal(err)
			}
			var out order
			if err := codec.Unmarshal(data, &out); err != nil {
				t.Fatal(err)
			}
			td.Cmp(t, out, in)
		})
	}
}

func TestJSONOutput(t *testing.T) {
	data, err := schemapack.JSON.Marshal(order{ID: 7})
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(data), `{"id":7}`)
}

func TestUnmarshalTargetChecks(t *testing.T) {
	data, err := schemapack.JSON.Marshal(5)
	if err != nil {
		t.Fatal(err)
	}

	if err := schemapack.JSON.Unmarshal(data, nil); err == nil {
		t.Fatal("nil target was accepted")
	}

	var n int
	if err := schemapack.JSON.Unmarshal(data, n); err == nil {
		t.Fatal("non-pointer target was accepted")
	}

	if err := schemapack.JSON.Unmarshal(data, (*int)(nil)); err == nil {
		t.Fatal("nil pointer target was accepted")
	}

	if err := schemapack.JSON.Unmarshal(data, &n); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, n, 5)
}

func TestMarshalInto(t *testing.T) {
	if err := schemapack.JSON.MarshalInto(1, nil, 0); err == nil {
		t.Fatal("nil buffer was accepted")
	} else {
		td.CmpTrue(t, errors.Is(err, packio.ErrEncode))
	}

	buf := []byte("id=")
	if err := schemapack.JSON.MarshalInto(42, &buf, -1); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(buf), "id=42")
}

// The first Unmarshal for a type compiles its decoder; later calls reuse it.
// Exercised from many goroutines to catch races under -race.
func TestConcurrentUse(t *testing.T) {
	data, err := schemapack.MsgPack.Marshal(order{ID: 1, Items: []string{"x"}})
	if err != nil {
		t.Fatal(err)
	}

	done := make(chan error, 16)
	for i := 0; i < 16; i++ {
		go func() {
			for j := 0; j < 100; j++ {
				var out order
				if err := schemapack.MsgPack.Unmarshal(data, &out); err != nil {
					done <- err
					return
				}
				if _, err := schemapack.MsgPack.Marshal(out); err != nil {
					done <- err
					return
				}
			}
			done <- nil
		}()
	}
	for i := 0; i < 16; i++ {
		if err := <-done; err != nil {
			t.Fatal(err)
		}
	}
}

func TestConfigHooks(t *testing.T) {
	codec := schemapack.NewCodec(schemapack.FormatJSON, &schemapack.Config{
		EncHook: func(v any) (any, error) {
			if c, ok := v.(complex128); ok {
				return []float64{real(c), imag(c)}, nil
			}
			return nil, fmt.Errorf("unsupported %T", v)
		},
		DecHook: func(t reflect.Type, v any) (any, error) {
			parts, ok := v.([]any)
			if !ok || len(parts) != 2 {
				return nil, fmt.Errorf("expected a 2-element array, got %v", v)
			}
			re, ok1 := parts[0].(float64)
			im, ok2 := parts[1].(float64)
			if !ok1 || !ok2 {
				return nil, fmt.Errorf("expected floats, got %v", parts)
			}
			return complex(re, im), nil
		},
	})

	data, err := codec.Marshal(complex(1.5, -2.5))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(data), "[1.5,-2.5]")

	var out complex128
	if err := codec.Unmarshal(data, &out); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, complex(1.5, -2.5))
}

func TestValidationSurfaced(t *testing.T) {
	data, err := schemapack.JSON.Marshal(map[string]string{"id": "x"})
	if err != nil {
		t.Fatal(err)
	}
	var out order
	err = schemapack.JSON.Unmarshal(data, &out)
	if err == nil {
		t.Fatal("wrong-typed field was accepted")
	}
	var vErr *packio.ValidationError
	td.CmpTrue(t, errors.As(err, &vErr))
	td.Cmp(t, vErr.Path, "$.id")
}

type job struct {
	Name string   `pack:"name"`
	Tags []string `pack:"tags"`
}

func init() {
	schema.Register(job{}, schema.TypeOptions{
		Factories: map[string]func() any{
			"Tags": func() any { return []string{"default"} },
		},
	})
}

func TestDefaultFactory(t *testing.T) {
	var out job
	if err := schemapack.JSON.Unmarshal([]byte(`{"name":"a"}`), &out); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, job{Name: "a", Tags: []string{"default"}})

	// an explicit value wins over the factory
	if err := schemapack.JSON.Unmarshal([]byte(`{"name":"a","tags":[]}`), &out); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, job{Name: "a", Tags: []string{}})
}

func TestFormatString(t *testing.T) {
	td.Cmp(t, schemapack.FormatMsgPack.String(), "msgpack")
	td.Cmp(t, schemapack.FormatJSON.String(), "json")
	td.Cmp(t, schemapack.MsgPack.Format(), schemapack.FormatMsgPack)
}
