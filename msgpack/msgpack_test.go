package msgpack_test

import (
	"bytes"
	"errors"
	"fmt"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxatome/go-testdeep/td"
	"github.com/shopspring/decimal"
	vmsgpack "github.com/vmihailenco/msgpack/v5"

	"github.com/schemapack/schemapack/msgpack"
	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

func roundTrip(t *testing.T, v any) any {
	t.Helper()
	data, err := msgpack.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	out, err := msgpack.Decode(data, reflect.TypeOf(v))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func TestRoundTripScalars(t *testing.T) {
	testCases := []any{
		false, true,
		int(0), int(1), int(-1), int(127), int(128), int(-32), int(-33),
		int64(1) << 40, int64(-1) << 40,
		uint64(1<<64 - 1),
		int8(-128), uint8(255), int16(-32768), uint16(65535),
		float32(1.5), float64(3.141592653589793),
		"", "hi", "日本語",
		uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479"),
		schema.Date{Year: 2023, Month: time.May, Day: 17},
		schema.TimeOfDay{Hour: 12, Minute: 34, Second: 56, Microsecond: 250000},
	}

	for _, tC := range testCases {
		t.Run(fmt.Sprintf("%T/%v", tC, tC), func(t *testing.T) {
			td.Cmp(t, roundTrip(t, tC), tC)
		})
	}
}

func TestRoundTripBytes(t *testing.T) {
	in := []byte{0, 1, 2, 0xff}
	td.Cmp(t, roundTrip(t, in), in)

	arr := [4]byte{9, 8, 7, 6}
	td.Cmp(t, roundTrip(t, arr), arr)
}

func TestRoundTripDecimal(t *testing.T) {
	in := decimal.RequireFromString("123.4500")
	out := roundTrip(t, in).(decimal.Decimal)
	if !in.Equal(out) {
		t.Fatalf("wanted %v, got %v", in, out)
	}
}

func TestRoundTripDateTime(t *testing.T) {
	utc := time.Date(2023, 5, 17, 12, 34, 56, 789457000, time.UTC)
	td.CmpTrue(t, roundTrip(t, utc).(time.Time).Equal(utc))

	// zone-offset datetimes travel as timestamp extensions, normalized to UTC
	off := time.Date(2023, 5, 17, 12, 34, 56, 0, time.FixedZone("", 90*60))
	out := roundTrip(t, off).(time.Time)
	td.CmpTrue(t, out.Equal(off))
	_, offset := out.Zone()
	td.Cmp(t, offset, 0)
}

func TestRoundTripContainers(t *testing.T) {
	t.Run("list", func(t *testing.T) {
		in := []int{3, 1, 2}
		td.Cmp(t, roundTrip(t, in), in)
	})
	t.Run("set", func(t *testing.T) {
		in := map[string]struct{}{"a": {}, "b": {}}
		td.Cmp(t, roundTrip(t, in), in)
	})
	t.Run("dict", func(t *testing.T) {
		in := map[string]int{"x": 1, "y": 2}
		td.Cmp(t, roundTrip(t, in), in)
	})
	t.Run("int_keys", func(t *testing.T) {
		in := map[int64]string{1: "a", -7: "b"}
		td.Cmp(t, roundTrip(t, in), in)
	})
	t.Run("fixtuple", func(t *testing.T) {
		in := [2]string{"a", "b"}
		td.Cmp(t, roundTrip(t, in), in)
	})
	t.Run("optional", func(t *testing.T) {
		n := 5
		in := &n
		td.Cmp(t, roundTrip(t, in), in)
		td.Cmp(t, roundTrip(t, (*int)(nil)), (*int)(nil))
	})
}

// Map keys are sorted before encoding so output bytes are a pure function of
// the value.
func TestDeterminism(t *testing.T) {
	in := map[string]int{"a": 1, "b": 2, "c": 3, "d": 4, "e": 5}
	a, err := msgpack.Encode(in)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 16; i++ {
		b, err := msgpack.Encode(in)
		if err != nil {
			t.Fatal(err)
		}
		if !bytes.Equal(a, b) {
			t.Fatalf("encoding is not deterministic:\n%x\n%x", a, b)
		}
	}
}

// Values encoded here must be readable by an independent MessagePack
// implementation, and vice versa.
func TestWireOracle(t *testing.T) {
	t.Run("ours_to_theirs", func(t *testing.T) {
		in := map[string]int{"x": 1, "y": -300}
		data, err := msgpack.Encode(in)
		if err != nil {
			t.Fatal(err)
		}
		var got map[string]int
		if err := vmsgpack.Unmarshal(data, &got); err != nil {
			t.Fatal(err)
		}
		td.Cmp(t, got, in)
	})

	t.Run("theirs_to_ours", func(t *testing.T) {
		data, err := vmsgpack.Marshal([]any{int64(1), "two", 3.5})
		if err != nil {
			t.Fatal(err)
		}
		out, err := msgpack.Decode(data, reflect.TypeOf([]any(nil)))
		if err != nil {
			t.Fatal(err)
		}
		td.Cmp(t, out, []any{int64(1), "two", 3.5})
	})

	t.Run("theirs_to_struct", func(t *testing.T) {
		data, err := vmsgpack.Marshal(map[string]int{"x": 3, "y": 4})
		if err != nil {
			t.Fatal(err)
		}
		out, err := msgpack.Decode(data, reflect.TypeOf(mpPoint{}))
		if err != nil {
			t.Fatal(err)
		}
		td.Cmp(t, out, mpPoint{X: 3, Y: 4})
	})
}

type mpPoint struct {
	X int `pack:"x"`
	Y int `pack:"y,default=0"`
}

func TestStructDefaults(t *testing.T) {
	// {"x": 3}
	data := []byte{0x81, 0xa1, 'x', 0x03}
	out, err := msgpack.Decode(data, reflect.TypeOf(mpPoint{}))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, mpPoint{X: 3, Y: 0})
}

func TestStructMissingField(t *testing.T) {
	data := []byte{0x81, 0xa1, 'y', 0x03}
	_, err := msgpack.Decode(data, reflect.TypeOf(mpPoint{}))
	if err == nil {
		t.Fatal("missing required field was accepted")
	}
	td.Cmp(t, err.Error(), "Object missing required field `x` - at `$`")
	td.CmpTrue(t, errors.Is(err, packio.ErrMissingField))
}

type mpStrict struct {
	schema.Options `pack:"forbid_unknown"`
	X              int `pack:"x"`
}

func TestStructUnknownField(t *testing.T) {
	// {"x": 1, "z": 2}
	data := []byte{0x82, 0xa1, 'x', 0x01, 0xa1, 'z', 0x02}
	_, err := msgpack.Decode(data, reflect.TypeOf(mpStrict{}))
	if err == nil {
		t.Fatal("unknown field was accepted")
	}
	td.Cmp(t, err.Error(), "Object contains unknown field `z` - at `$`")

	// without forbid_unknown the extra key is skipped
	out, err := msgpack.Decode(data, reflect.TypeOf(mpPoint{}))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out.(mpPoint).X, 1)
}

// Bytes \xd1\xff\xff (int16 -1) and \xcd\x01\x00 (uint16 256) against an int
// bounded to [0, 255].
func TestIntConstraintBytes(t *testing.T) {
	dec, err := msgpack.NewDecoder(reflect.TypeOf(0), &schema.Meta{Ge: 0, Le: 255})
	if err != nil {
		t.Fatal(err)
	}

	_, err = dec.Decode([]byte{0xd1, 0xff, 0xff})
	if err == nil {
		t.Fatal("-1 was accepted")
	}
	td.Cmp(t, err.Error(), "Expected `int` >= 0 - at `$`")

	_, err = dec.Decode([]byte{0xcd, 0x01, 0x00})
	if err == nil {
		t.Fatal("256 was accepted")
	}
	td.Cmp(t, err.Error(), "Expected `int` <= 255 - at `$`")

	out, err := dec.Decode([]byte{0xcc, 0xff})
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, 255)
}

type mpWide struct {
	schema.Options `pack:"omit_defaults"`
	A              int    `pack:"a"`
	D              bool   `pack:"d"`
	B              string `pack:"b,default=x"`
	C              int    `pack:"c,default=7"`
}

// omit_defaults emits a wide map header up front and patches the entry count
// after the skip decisions are made.
func TestOmitDefaultsHeaderPatch(t *testing.T) {
	in := mpWide{A: 1, B: "x", C: 7, D: true}
	data, err := msgpack.Encode(in)
	if err != nil {
		t.Fatal(err)
	}

	want := []byte{0xde, 0x00, 0x02, 0xa1, 'a', 0x01, 0xa1, 'd', 0xc3}
	if !bytes.Equal(data, want) {
		t.Fatalf("wanted % x, got % x", want, data)
	}

	out, err := msgpack.Decode(data, reflect.TypeOf(mpWide{}))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, in)
}

type mpShape interface{ isMpShape() }

type mpCircle struct {
	schema.Options `pack:"tag=circle"`
	R              float64 `pack:"r"`
}

type mpRect struct {
	schema.Options `pack:"tag=rect"`
	W              float64 `pack:"w"`
	H              float64 `pack:"h"`
}

func (mpCircle) isMpShape() {}
func (mpRect) isMpShape()   {}

func init() {
	if err := schema.RegisterUnion((*mpShape)(nil), mpCircle{}, mpRect{}); err != nil {
		panic(err)
	}
}

func TestUnion(t *testing.T) {
	var iface mpShape
	it := reflect.TypeOf(&iface).Elem()

	t.Run("tag_first", func(t *testing.T) {
		data, err := msgpack.Encode(mpCircle{R: 2})
		if err != nil {
			t.Fatal(err)
		}
		out, err := msgpack.Decode(data, it)
		if err != nil {
			t.Fatal(err)
		}
		td.Cmp(t, out, mpShape(mpCircle{R: 2}))
	})

	t.Run("tag_not_first", func(t *testing.T) {
		// {"r": 2.0, "type": "circle"}: the decoder must rewind once the tag
		// resolves
		var data []byte
		data = append(data, 0x82)
		data = append(data, 0xa1, 'r', 0xcb, 0x40, 0, 0, 0, 0, 0, 0, 0)
		data = append(data, 0xa4, 't', 'y', 'p', 'e')
		data = append(data, 0xa6, 'c', 'i', 'r', 'c', 'l', 'e')

		out, err := msgpack.Decode(data, it)
		if err != nil {
			t.Fatal(err)
		}
		td.Cmp(t, out, mpShape(mpCircle{R: 2}))
	})

	t.Run("unknown_tag", func(t *testing.T) {
		// {"type": "blob"}
		data := []byte{0x81, 0xa4, 't', 'y', 'p', 'e', 0xa4, 'b', 'l', 'o', 'b'}
		_, err := msgpack.Decode(data, it)
		if err == nil {
			t.Fatal("unknown tag was accepted")
		}
		td.Cmp(t, err.Error(), "Invalid value 'blob' - at `$.type`")
		td.CmpTrue(t, errors.Is(err, packio.ErrUnknownTag))
	})

	t.Run("missing_tag", func(t *testing.T) {
		data := []byte{0x81, 0xa1, 'r', 0x02}
		_, err := msgpack.Decode(data, it)
		if err == nil {
			t.Fatal("missing tag was accepted")
		}
		td.Cmp(t, err.Error(), "Object missing required field `type` - at `$`")
	})
}

type mpTagged struct {
	schema.Options `pack:"tag=pt,array_like"`
	X              int `pack:"x"`
	Y              int `pack:"y"`
}

func TestArrayLikeStruct(t *testing.T) {
	data, err := msgpack.Encode(mpTagged{X: 1, Y: 2})
	if err != nil {
		t.Fatal(err)
	}
	// ["pt", 1, 2]
	want := []byte{0x93, 0xa2, 'p', 't', 0x01, 0x02}
	if !bytes.Equal(data, want) {
		t.Fatalf("wanted % x, got % x", want, data)
	}

	out, err := msgpack.Decode(data, reflect.TypeOf(mpTagged{}))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, mpTagged{X: 1, Y: 2})

	// too short
	_, err = msgpack.Decode([]byte{0x92, 0xa2, 'p', 't', 0x01}, reflect.TypeOf(mpTagged{}))
	if err == nil {
		t.Fatal("short array was accepted")
	}
	td.Cmp(t, err.Error(), "Expected `array` of at least length 3 - at `$`")
}

func TestErrorPaths(t *testing.T) {
	type inner struct {
		Name string `pack:"name"`
	}
	type outer struct {
		Items []inner `pack:"items"`
	}

	// {"items": [{"name": "a"}, {"name": 5}]}
	var data []byte
	data = append(data, 0x81, 0xa5, 'i', 't', 'e', 'm', 's')
	data = append(data, 0x92)
	data = append(data, 0x81, 0xa4, 'n', 'a', 'm', 'e', 0xa1, 'a')
	data = append(data, 0x81, 0xa4, 'n', 'a', 'm', 'e', 0x05)

	_, err := msgpack.Decode(data, reflect.TypeOf(outer{}))
	if err == nil {
		t.Fatal("wrong-typed field was accepted")
	}
	var vErr *packio.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("wanted a ValidationError, got %T", err)
	}
	td.Cmp(t, vErr.Path, "$.items[1].name")
	td.Cmp(t, err.Error(), "Expected `str`, got `int` - at `$.items[1].name`")
}

func TestMalformed(t *testing.T) {
	testCases := []struct {
		desc string
		data []byte
		want error
	}{
		{"empty", nil, packio.ErrTruncated},
		{"cut_str", []byte{0xa5, 'a'}, packio.ErrTruncated},
		{"cut_map", []byte{0x81, 0xa1, 'x'}, packio.ErrTruncated},
		{"reserved_opcode", []byte{0xc1}, packio.ErrMalformed},
		{"trailing", []byte{0x01, 0x02}, packio.ErrMalformed},
	}

	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			var target any
			_, err := msgpack.Decode(tC.data, reflect.TypeOf(&target).Elem())
			if err == nil {
				t.Fatal("malformed input was accepted")
			}
			td.CmpTrue(t, errors.Is(err, tC.want))
		})
	}
}

func TestTimestampExt(t *testing.T) {
	// fixext4, type -1, 2023-05-17T12:34:56Z
	sec := time.Date(2023, 5, 17, 12, 34, 56, 0, time.UTC).Unix()
	data := []byte{0xd6, 0xff, byte(sec >> 24), byte(sec >> 16), byte(sec >> 8), byte(sec)}

	out, err := msgpack.Decode(data, reflect.TypeOf(time.Time{}))
	if err != nil {
		t.Fatal(err)
	}
	td.CmpTrue(t, out.(time.Time).Equal(time.Unix(sec, 0)))
}

func TestExtRoundTrip(t *testing.T) {
	in := schema.Ext{Code: 42, Data: []byte{1, 2, 3}}
	td.Cmp(t, roundTrip(t, in), in)
}

func TestRawCapture(t *testing.T) {
	type env struct {
		Kind string     `pack:"kind"`
		Body schema.Raw `pack:"body"`
	}

	// {"kind": "k", "body": {"n": 5}}
	var data []byte
	data = append(data, 0x82)
	data = append(data, 0xa4, 'k', 'i', 'n', 'd', 0xa1, 'k')
	data = append(data, 0xa4, 'b', 'o', 'd', 'y')
	body := []byte{0x81, 0xa1, 'n', 0x05}
	data = append(data, body...)

	out, err := msgpack.Decode(data, reflect.TypeOf(env{}))
	if err != nil {
		t.Fatal(err)
	}
	got := out.(env)
	td.Cmp(t, got.Kind, "k")
	td.Cmp(t, []byte(got.Body), body)
}

func TestAnyDecode(t *testing.T) {
	var target any
	it := reflect.TypeOf(&target).Elem()

	// {"a": [1, true, "x"]}
	var data []byte
	data = append(data, 0x81, 0xa1, 'a')
	data = append(data, 0x93, 0x01, 0xc3, 0xa1, 'x')

	out, err := msgpack.Decode(data, it)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, map[string]any{"a": []any{int64(1), true, "x"}})
}

func TestEncodeInto(t *testing.T) {
	buf := []byte{0xaa, 0xbb}
	var e msgpack.Encoder
	if err := e.EncodeInto(int(5), &buf, -1); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, buf, []byte{0xaa, 0xbb, 0x05})

	if err := e.EncodeInto(int(7), &buf, 1); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, buf, []byte{0xaa, 0x07})
}

func TestDecHook(t *testing.T) {
	dec, err := msgpack.NewDecoder(reflect.TypeOf(complex128(0)))
	if err != nil {
		t.Fatal(err)
	}
	dec.DecHook = func(rt reflect.Type, v any) (any, error) {
		f, ok := v.(float64)
		if !ok {
			return nil, fmt.Errorf("expected a float, got %T", v)
		}
		return complex(f, 0), nil
	}

	data, err := msgpack.Encode(1.5)
	if err != nil {
		t.Fatal(err)
	}
	out, err := dec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, complex(1.5, 0))
}

func TestEncHook(t *testing.T) {
	e := msgpack.Encoder{EncHook: func(v any) (any, error) {
		if c, ok := v.(complex128); ok {
			return real(c), nil
		}
		return nil, fmt.Errorf("unsupported %T", v)
	}}
	data, err := e.Encode(complex(2.5, 0))
	if err != nil {
		t.Fatal(err)
	}
	out, err := msgpack.Decode(data, reflect.TypeOf(float64(0)))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, 2.5)

	// without a hook the value is rejected
	if _, err := msgpack.Encode(complex(1, 1)); err == nil {
		t.Fatal("unsupported type was accepted")
	} else {
		td.CmpTrue(t, errors.Is(err, packio.ErrUnsupported))
	}
}
