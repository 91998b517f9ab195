package json_test

import (
	"errors"
	"fmt"
	"math"
	"reflect"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/maxatome/go-testdeep/td"
	"github.com/shopspring/decimal"

	"github.com/schemapack/schemapack/json"
	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

func encode(t *testing.T, v any) string {
	t.Helper()
	data, err := json.Encode(v)
	if err != nil {
		t.Fatal(err)
	}
	return string(data)
}

func decode(t *testing.T, data string, v any) any {
	t.Helper()
	out, err := json.Decode([]byte(data), reflect.TypeOf(v))
	if err != nil {
		t.Fatal(err)
	}
	return out
}

func decodeErr(t *testing.T, data string, v any, meta ...*schema.Meta) error {
	t.Helper()
	dec, err := json.NewDecoder(reflect.TypeOf(v), meta...)
	if err != nil {
		t.Fatal(err)
	}
	_, err = dec.Decode([]byte(data))
	if err == nil {
		t.Fatalf("decode of %q succeeded", data)
	}
	return err
}

func TestEncodeScalars(t *testing.T) {
	testCases := []struct {
		in   any
		want string
	}{
		{nil, "null"},
		{true, "true"},
		{false, "false"},
		{int(-42), "-42"},
		{uint64(1<<64 - 1), "18446744073709551615"},
		{1.5, "1.5"},
		{float64(1e21), "1e+21"},
		{float32(2), "2"},
		{"hi", `"hi"`},
		{"a\"b\\c", `"a\"b\\c"`},
		{"tab\tnewline\n", `"tab\tnewline\n"`},
		{"\x01", `"\u0001"`},
		{"日本語", `"日本語"`},
		{[]byte{1, 2, 3}, `"AQID"`},
		{[2]byte{1, 2}, `"AQI="`},
		{[]int{1, 2}, "[1,2]"},
		{[]int{}, "[]"},
		{map[string]int{}, "{}"},
		{(*int)(nil), "null"},
		{uuid.MustParse("f47ac10b-58cc-4372-a567-0e02b2c3d479"),
			`"f47ac10b-58cc-4372-a567-0e02b2c3d479"`},
		{decimal.RequireFromString("12.340"), `"12.34"`},
		{schema.Date{Year: 2023, Month: time.May, Day: 17}, `"2023-05-17"`},
		{schema.TimeOfDay{Hour: 1, Minute: 2, Second: 3}, `"01:02:03"`},
		{schema.Raw(`{"pre":1}`), `{"pre":1}`},
		{schema.Raw(nil), "null"},
	}

	for _, tC := range testCases {
		t.Run(fmt.Sprintf("%T/%v", tC.in, tC.in), func(t *testing.T) {
			td.Cmp(t, encode(t, tC.in), tC.want)
		})
	}
}

func TestEncodeNonFinite(t *testing.T) {
	for _, f := range []float64{math.Inf(1), math.Inf(-1), math.NaN()} {
		if _, err := json.Encode(f); err == nil {
			t.Fatalf("%v was accepted", f)
		} else if err.Error() != "Only finite numbers are supported" {
			t.Fatal(err)
		}
	}
}

func TestDecodeScalars(t *testing.T) {
	td.Cmp(t, decode(t, "true", false), true)
	td.Cmp(t, decode(t, "-42", 0), -42)
	td.Cmp(t, decode(t, "18446744073709551615", uint64(0)), uint64(1<<64-1))
	td.Cmp(t, decode(t, "1.5", 0.0), 1.5)
	td.Cmp(t, decode(t, "3", 0.0), 3.0)
	td.Cmp(t, decode(t, `"hi"`, ""), "hi")
	td.Cmp(t, decode(t, `"AQID"`, []byte(nil)), []byte{1, 2, 3})
	td.Cmp(t, decode(t, `"AQI="`, [2]byte{}), [2]byte{1, 2})
	td.Cmp(t, decode(t, " [ 1 , 2 ] ", []int(nil)), []int{1, 2})
	td.Cmp(t, decode(t, `{"a":1}`, map[string]int(nil)), map[string]int{"a": 1})

	n := 5
	td.Cmp(t, decode(t, "5", (*int)(nil)), &n)
	td.Cmp(t, decode(t, "null", (*int)(nil)), (*int)(nil))
}

func TestDecodeAny(t *testing.T) {
	var target any
	dec, err := json.NewDecoder(reflect.TypeOf(&target).Elem())
	if err != nil {
		t.Fatal(err)
	}

	out, err := dec.Decode([]byte(`{"a":[1,2.5,"x",true,null]}`))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, map[string]any{"a": []any{int64(1), 2.5, "x", true, nil}})

	// integers beyond int64 surface as uint64
	out, err = dec.Decode([]byte("18446744073709551615"))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, uint64(1<<64-1))
}

func TestDecodeNumberErrors(t *testing.T) {
	testCases := []struct {
		desc string
		data string
		into any
		want string
	}{
		{"overflow_int", "128", int8(0), "Integer value out of range - at `$`"},
		{"negative_uint", "-1", uint(0), "Integer value out of range - at `$`"},
		{"huge_int", "99999999999999999999999999", 0, "Integer value out of range - at `$`"},
		{"float_at_int", "1.5", 0, "Expected `int`, got `float` - at `$`"},
		{"saturating_exp", "1e999", 0.0, "Number out of range - at `$`"},
		{"str_at_int", `"5"`, 0, "Expected `int`, got `str` - at `$`"},
	}

	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			err := decodeErr(t, tC.data, tC.into)
			td.Cmp(t, err.Error(), tC.want)
		})
	}

	// underflow to zero is accepted
	td.Cmp(t, decode(t, "1e-999", 0.0), 0.0)
}

func TestDecodeMalformed(t *testing.T) {
	testCases := []struct {
		desc string
		data string
	}{
		{"empty", ""},
		{"bare_ws", "   "},
		{"cut_object", `{"a":`},
		{"cut_string", `"abc`},
		{"cut_literal", "tru"},
		{"leading_zero", "01"},
		{"bare_minus", "-"},
		{"trailing_dot", "1."},
		{"bad_literal", "nul"},
		{"lone_bracket", "]"},
		{"trailing", "1 2"},
		{"trailing_after_obj", `{} x`},
		{"missing_colon", `{"a" 1}`},
		{"missing_comma", "[1 2]"},
	}

	for _, tC := range testCases {
		t.Run(tC.desc, func(t *testing.T) {
			var target any
			dec, err := json.NewDecoder(reflect.TypeOf(&target).Elem())
			if err != nil {
				t.Fatal(err)
			}
			_, err = dec.Decode([]byte(tC.data))
			if err == nil {
				t.Fatalf("%q was accepted", tC.data)
			}
			td.CmpTrue(t, errors.Is(err, packio.ErrDecode))
		})
	}
}

func TestStringEscapes(t *testing.T) {
	testCases := []struct {
		data string
		want string
	}{
		{`"A"`, "A"},
		{`"\n\t\"\\\/"`, "\n\t\"\\/"},
		{`"😀"`, "\U0001f600"},
		{`"été"`, "été"},
		{`"plain"`, "plain"},
	}

	for _, tC := range testCases {
		t.Run(tC.want, func(t *testing.T) {
			td.Cmp(t, decode(t, tC.data, ""), tC.want)
		})
	}

	for _, bad := range []string{`"\ud83d"`, `"\ud83dA"`, `"\x41"`, "\"\x01\""} {
		t.Run("bad/"+bad, func(t *testing.T) {
			err := decodeErr(t, bad, "")
			td.CmpTrue(t, errors.Is(err, packio.ErrMalformed))
		})
	}
}

type jPoint struct {
	schema.Options `pack:"omit_defaults"`
	X              int `pack:"x"`
	Y              int `pack:"y,default=0"`
}

func TestStructDefaults(t *testing.T) {
	out := decode(t, `{"x":3}`, jPoint{})
	td.Cmp(t, out, jPoint{X: 3, Y: 0})

	td.Cmp(t, encode(t, jPoint{X: 3}), `{"x":3}`)
	td.Cmp(t, encode(t, jPoint{X: 3, Y: 4}), `{"x":3,"y":4}`)

	err := decodeErr(t, `{"y":1}`, jPoint{})
	td.Cmp(t, err.Error(), "Object missing required field `x` - at `$`")
}

type jStrict struct {
	schema.Options `pack:"forbid_unknown"`
	X              int `pack:"x"`
}

func TestForbidUnknown(t *testing.T) {
	err := decodeErr(t, `{"x":1,"z":2}`, jStrict{})
	td.Cmp(t, err.Error(), "Object contains unknown field `z` - at `$`")

	// unknown keys are skipped without forbid_unknown, whatever their shape
	out := decode(t, `{"z":{"deep":[1,{}]},"x":3,"w":null}`, jPoint{})
	td.Cmp(t, out, jPoint{X: 3})
}

type jShape interface{ isJShape() }

type jCircle struct {
	schema.Options `pack:"tag=c"`
	R              float64 `pack:"r"`
}

type jRect struct {
	schema.Options `pack:"tag=r"`
	W              float64 `pack:"w"`
	H              float64 `pack:"h"`
}

func (jCircle) isJShape() {}
func (jRect) isJShape()   {}

func init() {
	if err := schema.RegisterUnion((*jShape)(nil), jCircle{}, jRect{}); err != nil {
		panic(err)
	}
}

func TestUnion(t *testing.T) {
	var iface jShape
	it := reflect.TypeOf(&iface).Elem()

	td.Cmp(t, encode(t, jShape(jRect{W: 1, H: 2})), `{"type":"r","w":1,"h":2}`)

	out, err := json.Decode([]byte(`{"type":"c","r":2}`), it)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, jShape(jCircle{R: 2}))

	// tag after other keys forces a rewind
	out, err = json.Decode([]byte(`{"r":2,"type":"c"}`), it)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, jShape(jCircle{R: 2}))

	_, err = json.Decode([]byte(`{"type":"x","r":2}`), it)
	if err == nil {
		t.Fatal("unknown tag was accepted")
	}
	td.Cmp(t, err.Error(), "Invalid value 'x' - at `$.type`")
	td.CmpTrue(t, errors.Is(err, packio.ErrUnknownTag))

	_, err = json.Decode([]byte(`{"r":2}`), it)
	if err == nil {
		t.Fatal("missing tag was accepted")
	}
	td.CmpTrue(t, errors.Is(err, packio.ErrMissingField))
}

type jTagged struct {
	schema.Options `pack:"tag=pt,array_like"`
	X              int `pack:"x"`
	Y              int `pack:"y"`
}

func TestArrayLikeStruct(t *testing.T) {
	td.Cmp(t, encode(t, jTagged{X: 1, Y: 2}), `["pt",1,2]`)

	out := decode(t, `["pt",1,2]`, jTagged{})
	td.Cmp(t, out, jTagged{X: 1, Y: 2})

	err := decodeErr(t, `["pt",1]`, jTagged{})
	td.Cmp(t, err.Error(), "Expected `array` of at least length 3 - at `$`")

	err = decodeErr(t, `["xx",1,2]`, jTagged{})
	td.CmpTrue(t, errors.Is(err, packio.ErrUnknownTag))
}

func TestDateTimeRounding(t *testing.T) {
	// sub-microsecond digits round half-up and offsets normalize to UTC
	out := decode(t, `"2023-05-17T12:34:56.7894567+01:30"`, time.Time{})
	want := time.Date(2023, 5, 17, 11, 4, 56, 789457000, time.UTC)
	td.CmpTrue(t, out.(time.Time).Equal(want))

	td.Cmp(t, encode(t, want), `"2023-05-17T11:04:56.789457Z"`)
}

func TestDateTimeTz(t *testing.T) {
	aware := decodeErr(t, `"2023-05-17T12:00:00"`, time.Time{}, &schema.Meta{TzAware: true})
	td.Cmp(t, aware.Error(), "Expected `datetime` with a timezone component - at `$`")

	naive := decodeErr(t, `"2023-05-17T12:00:00Z"`, time.Time{}, &schema.Meta{TzNaive: true})
	td.Cmp(t, naive.Error(), "Expected `datetime` with no timezone component - at `$`")
}

func TestConstraints(t *testing.T) {
	meta := &schema.Meta{Ge: 0, Le: 255}

	err := decodeErr(t, "-1", 0, meta)
	td.Cmp(t, err.Error(), "Expected `int` >= 0 - at `$`")

	err = decodeErr(t, "256", 0, meta)
	td.Cmp(t, err.Error(), "Expected `int` <= 255 - at `$`")

	dec, nerr := json.NewDecoder(reflect.TypeOf(0), meta)
	if nerr != nil {
		t.Fatal(nerr)
	}
	out, derr := dec.Decode([]byte("255"))
	if derr != nil {
		t.Fatal(derr)
	}
	td.Cmp(t, out, 255)

	minLen := 3
	serr := decodeErr(t, `"ab"`, "", &schema.Meta{MinLength: &minLen})
	td.Cmp(t, serr.Error(), "Expected `str` of length >= 3 - at `$`")
}

func TestErrorPaths(t *testing.T) {
	type inner struct {
		Name string `pack:"name"`
	}
	type outer struct {
		Items []inner           `pack:"items"`
		Meta  map[string]string `pack:"meta"`
	}

	err := decodeErr(t, `{"items":[{"name":"a"},{"name":5}]}`, outer{})
	var vErr *packio.ValidationError
	if !errors.As(err, &vErr) {
		t.Fatalf("wanted a ValidationError, got %T", err)
	}
	td.Cmp(t, vErr.Path, "$.items[1].name")

	err = decodeErr(t, `{"meta":{"k":7}}`, outer{})
	td.Cmp(t, err.Error(), "Expected `str`, got `int` - at `$.meta.k`")
}

func TestFixTuple(t *testing.T) {
	out := decode(t, `["a","b"]`, [2]string{})
	td.Cmp(t, out, [2]string{"a", "b"})

	err := decodeErr(t, `["a"]`, [2]string{})
	td.Cmp(t, err.Error(), "Expected `array` of length 2 - at `$`")

	err = decodeErr(t, `["a","b","c"]`, [2]string{})
	td.Cmp(t, err.Error(), "Expected `array` of length 2 - at `$`")
}

func TestIntKeys(t *testing.T) {
	in := map[int64]string{1: "a", -7: "b", 10: "c"}
	td.Cmp(t, encode(t, in), `{"-7":"b","1":"a","10":"c"}`)

	out := decode(t, `{"-7":"b","1":"a","10":"c"}`, map[int64]string(nil))
	td.Cmp(t, out, in)

	err := decodeErr(t, `{"x":"a"}`, map[int64]string(nil))
	td.CmpTrue(t, errors.Is(err, packio.ErrWrongType))
}

func TestDeterminism(t *testing.T) {
	in := map[string]int{"b": 2, "a": 1, "c": 3}
	want := `{"a":1,"b":2,"c":3}`
	for i := 0; i < 16; i++ {
		td.Cmp(t, encode(t, in), want)
	}
}

func TestJSONIncompatible(t *testing.T) {
	if _, err := json.NewDecoder(reflect.TypeOf(schema.Ext{})); err == nil {
		t.Fatal("Ext decoder was built")
	}

	// the incompatibility reaches through struct fields
	type extHolder struct {
		Blob schema.Ext `pack:"blob"`
	}
	if _, err := json.NewDecoder(reflect.TypeOf(extHolder{})); err == nil {
		t.Fatal("decoder was built for a struct with an Ext field")
	}

	_, err := json.Encode(schema.Ext{Code: 1, Data: []byte{2}})
	if err == nil {
		t.Fatal("Ext value was encoded")
	}
	td.Cmp(t, err.Error(), "Encoding Ext objects to JSON is unsupported")
	td.CmpTrue(t, errors.Is(err, packio.ErrEncode))
}

type jColor string

const (
	jRed   jColor = "red"
	jGreen jColor = "green"
)

func init() {
	if err := schema.RegisterEnum([]jColor{jRed, jGreen}); err != nil {
		panic(err)
	}
}

func TestEnum(t *testing.T) {
	td.Cmp(t, decode(t, `"green"`, jColor("")), jGreen)
	td.Cmp(t, encode(t, jGreen), `"green"`)

	err := decodeErr(t, `"blue"`, jColor(""))
	td.Cmp(t, err.Error(), "Invalid enum value 'blue' - at `$`")
}

func TestStrValueForms(t *testing.T) {
	badUUID := decodeErr(t, `"not-a-uuid"`, uuid.UUID{})
	td.Cmp(t, badUUID.Error(), "Invalid UUID - at `$`")

	badDec := decodeErr(t, `"12.3.4"`, decimal.Decimal{})
	td.Cmp(t, badDec.Error(), "Invalid decimal string - at `$`")

	badB64 := decodeErr(t, `"!!!"`, []byte(nil))
	td.Cmp(t, badB64.Error(), "Invalid base64 encoded string - at `$`")

	d := decode(t, `"12.34"`, decimal.Decimal{}).(decimal.Decimal)
	td.CmpTrue(t, d.Equal(decimal.RequireFromString("12.34")))
}

func TestRawField(t *testing.T) {
	type env struct {
		Kind string     `pack:"kind"`
		Body schema.Raw `pack:"body"`
	}

	out := decode(t, `{"kind":"k","body":{"n":[1,2]}}`, env{}).(env)
	td.Cmp(t, out.Kind, "k")
	td.Cmp(t, string(out.Body), `{"n":[1,2]}`)

	td.Cmp(t, encode(t, out), `{"kind":"k","body":{"n":[1,2]}}`)
}

type jProfile map[string]any

func init() {
	err := schema.RegisterTypedDict(jProfile(nil), map[string]any{
		"name": "",
		"age":  0,
	}, "name")
	if err != nil {
		panic(err)
	}
}

func TestTypedDict(t *testing.T) {
	out := decode(t, `{"name":"ann","age":30}`, jProfile(nil))
	td.Cmp(t, out, jProfile{"name": "ann", "age": 30})

	// only required keys must be present
	out = decode(t, `{"name":"bo"}`, jProfile(nil))
	td.Cmp(t, out, jProfile{"name": "bo"})

	err := decodeErr(t, `{"age":30}`, jProfile(nil))
	td.Cmp(t, err.Error(), "Object missing required field `name` - at `$`")

	err = decodeErr(t, `{"name":"ann","age":"x"}`, jProfile(nil))
	td.Cmp(t, err.Error(), "Expected `int`, got `str` - at `$.age`")
}

func TestKeyInterning(t *testing.T) {
	// the same key repeated across one message must resolve consistently
	data := `[{"x":1},{"x":2},{"x":3}]`
	out := decode(t, data, []jPoint(nil))
	td.Cmp(t, out, []jPoint{{X: 1}, {X: 2}, {X: 3}})
}

func TestFreelistInvariance(t *testing.T) {
	fl := packio.SharedFreelist()
	data := `{"long key with éscapes":"long value\nwith escapes"}`

	fl.SetEnabled(false)
	a := decode(t, data, map[string]string(nil))
	fl.SetEnabled(true)
	b := decode(t, data, map[string]string(nil))

	td.Cmp(t, a, b)
	td.Cmp(t, a, map[string]string{"long key with éscapes": "long value\nwith escapes"})
}

func TestEncodeInto(t *testing.T) {
	buf := []byte("xx")
	var e json.Encoder
	if err := e.EncodeInto(5, &buf, -1); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(buf), "xx5")

	if err := e.EncodeInto(7, &buf, 0); err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(buf), "7")
}

func TestHooks(t *testing.T) {
	e := json.Encoder{EncHook: func(v any) (any, error) {
		if c, ok := v.(complex128); ok {
			return real(c), nil
		}
		return nil, fmt.Errorf("unsupported %T", v)
	}}
	data, err := e.Encode(complex(2.5, 0))
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, string(data), "2.5")

	dec, err := json.NewDecoder(reflect.TypeOf(complex128(0)))
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
	out, err := dec.Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	td.Cmp(t, out, complex(2.5, 0))

	// without hooks both directions reject the type
	if _, err := json.Encode(complex(1, 1)); err == nil {
		t.Fatal("unsupported type was accepted")
	}
	dec.DecHook = nil
	if _, err := dec.Decode([]byte("1.5")); err == nil {
		t.Fatal("decode without a hook succeeded")
	} else {
		td.CmpTrue(t, errors.Is(err, packio.ErrUnsupported))
	}
}
