package json

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

// EncHook converts a value the encoder has no built-in path for into an
// encodable one. Its result is encoded recursively.
type EncHook func(v any) (any, error)

// Encoder serializes values to JSON. The output buffer is owned by the
// Encoder and reused across calls; Encoders are not safe for concurrent use.
type Encoder struct {
	// EncHook, when set, is consulted for values with no built-in encoding.
	EncHook EncHook

	buf     packio.Buffer
	scratch []byte
}

// NewEncoder returns an Encoder with default configuration.
func NewEncoder() *Encoder { return &Encoder{} }

// Encode serializes v into a fresh byte slice.
func (e *Encoder) Encode(v any) ([]byte, error) {
	data, err := e.encode(v)
	if err != nil {
		return nil, err
	}
	out := make([]byte, len(data))
	copy(out, data)
	return out, nil
}

// EncodeInto serializes v into *buf starting at offset, growing the slice as
// needed. Offset -1 appends to the current length.
func (e *Encoder) EncodeInto(v any, buf *[]byte, offset int) error {
	data, err := e.encode(v)
	if err != nil {
		return err
	}
	if offset < 0 {
		offset = len(*buf)
	}
	for len(*buf) < offset {
		*buf = append(*buf, 0)
	}
	*buf = append((*buf)[:offset], data...)
	return nil
}

// Encode serializes v with a default Encoder.
func Encode(v any) ([]byte, error) {
	var e Encoder
	return e.Encode(v)
}

func (e *Encoder) encode(v any) ([]byte, error) {
	e.buf.Reset()
	if err := e.value(reflect.ValueOf(v), 0); err != nil {
		return nil, err
	}
	return e.buf.Bytes(), nil
}

var (
	timeType      = reflect.TypeOf(time.Time{})
	dateType      = reflect.TypeOf(schema.Date{})
	timeOfDayType = reflect.TypeOf(schema.TimeOfDay{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	extType       = reflect.TypeOf(schema.Ext{})
	emptyType     = reflect.TypeOf(struct{}{})
)

func (e *Encoder) value(rv reflect.Value, depth int) error {
	if depth > maxDepth {
		return packio.NewEncodeError("maximum recursion depth exceeded", nil)
	}
	if !rv.IsValid() {
		e.buf.WriteString("null")
		return nil
	}

	switch rv.Type() {
	case timeType:
		return e.writeDateTime(rv.Interface().(time.Time))
	case dateType:
		s, msg := schema.AppendDate(e.scratch0(), rv.Interface().(schema.Date))
		if msg != "" {
			return packio.NewEncodeError(msg, nil)
		}
		e.writeQuoted(s)
		return nil
	case timeOfDayType:
		s, msg := schema.AppendTimeOfDay(e.scratch0(), rv.Interface().(schema.TimeOfDay))
		if msg != "" {
			return packio.NewEncodeError(msg, nil)
		}
		e.writeQuoted(s)
		return nil
	case uuidType:
		e.writeQuoted(schema.AppendUUID(e.scratch0(), rv.Interface().(uuid.UUID)))
		return nil
	case decimalType:
		e.writeQuoted([]byte(rv.Interface().(decimal.Decimal).String()))
		return nil
	case rawGoType:
		r := rv.Bytes()
		if len(r) == 0 {
			e.buf.WriteString("null")
			return nil
		}
		e.buf.Write(r)
		return nil
	case extType:
		return packio.NewEncodeError(
			"Encoding Ext objects to JSON is unsupported", packio.ErrUnsupported)
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			e.buf.WriteString("true")
		} else {
			e.buf.WriteString("false")
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.buf.Write(packio.AppendInt(e.scratch0(), rv.Int()))
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.buf.Write(packio.AppendUint(e.scratch0(), rv.Uint()))
	case reflect.Float32, reflect.Float64:
		return e.writeFloat(rv.Float())
	case reflect.String:
		return e.writeStr(rv.String())
	case reflect.Slice:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			return e.writeBin(rv.Bytes())
		}
		return e.writeArray(rv, depth)
	case reflect.Array:
		if rv.Type().Elem().Kind() == reflect.Uint8 {
			b := make([]byte, rv.Len())
			reflect.Copy(reflect.ValueOf(b), rv)
			return e.writeBin(b)
		}
		return e.writeArray(rv, depth)
	case reflect.Map:
		if rv.Type().Elem() == emptyType {
			return e.writeSet(rv, depth)
		}
		return e.writeMap(rv, depth)
	case reflect.Ptr, reflect.Interface:
		if rv.IsNil() {
			e.buf.WriteString("null")
			return nil
		}
		return e.value(rv.Elem(), depth)
	case reflect.Struct:
		return e.writeStruct(rv, depth)
	default:
		return e.hook(rv, depth)
	}
	return nil
}

// hook falls back to EncHook for values with no built-in encoding.
func (e *Encoder) hook(rv reflect.Value, depth int) error {
	if e.EncHook == nil {
		return packio.NewEncodeError(
			fmt.Sprintf("Encoding objects of type %s is unsupported", rv.Type()),
			packio.ErrUnsupported)
	}
	nv, err := e.EncHook(rv.Interface())
	if err != nil {
		return packio.NewEncodeError("enc_hook failed", err)
	}
	return e.value(reflect.ValueOf(nv), depth+1)
}

// scratch0 returns the shared scratch buffer reset to zero length.
func (e *Encoder) scratch0() []byte {
	if e.scratch == nil {
		e.scratch = make([]byte, 0, 48)
	}
	e.scratch = e.scratch[:0]
	return e.scratch
}

func (e *Encoder) writeFloat(f float64) error {
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return packio.NewEncodeError("Only finite numbers are supported", nil)
	}
	e.buf.Write(strconv.AppendFloat(e.scratch0(), f, 'g', -1, 64))
	return nil
}

const hexDigits = "0123456789abcdef"

// writeStr emits s quoted, escaping only bytes the grammar requires. Runs of
// plain bytes are bulk copied between the special bytes the class table finds.
func (e *Encoder) writeStr(s string) error {
	if uintptr(len(s)) > packio.TooBig {
		return packio.NewEncodeError("string length over limit", nil)
	}
	e.buf.WriteByte('"')
	start := 0
	for i := 0; i < len(s); i++ {
		c := s[i]
		if byteClass[c] != ccSpecial {
			continue
		}
		e.buf.WriteString(s[start:i])
		switch c {
		case '"':
			e.buf.WriteString(`\"`)
		case '\\':
			e.buf.WriteString(`\\`)
		case '\n':
			e.buf.WriteString(`\n`)
		case '\r':
			e.buf.WriteString(`\r`)
		case '\t':
			e.buf.WriteString(`\t`)
		case '\b':
			e.buf.WriteString(`\b`)
		case '\f':
			e.buf.WriteString(`\f`)
		default:
			e.buf.WriteString(`\u00`)
			e.buf.WriteByte(hexDigits[c>>4])
			e.buf.WriteByte(hexDigits[c&0xf])
		}
		start = i + 1
	}
	e.buf.WriteString(s[start:])
	e.buf.WriteByte('"')
	return nil
}

// writeQuoted emits pre-formatted text that needs no escaping.
func (e *Encoder) writeQuoted(b []byte) {
	e.buf.WriteByte('"')
	e.buf.Write(b)
	e.buf.WriteByte('"')
}

func (e *Encoder) writeBin(b []byte) error {
	if uintptr(len(b)) > packio.TooBig {
		return packio.NewEncodeError("bytes length over limit", nil)
	}
	e.buf.WriteByte('"')
	n := base64.StdEncoding.EncodedLen(len(b))
	off := e.buf.Grow(n)
	base64.StdEncoding.Encode(e.buf.At(off), b)
	e.buf.WriteByte('"')
	return nil
}

// writeDateTime emits an RFC 3339 string, carrying the zone offset when the
// time has one.
func (e *Encoder) writeDateTime(t time.Time) error {
	s, msg := schema.AppendDateTime(e.scratch0(), t)
	if msg != "" {
		return packio.NewEncodeError(msg, nil)
	}
	e.writeQuoted(s)
	return nil
}

// closeContainer overwrites the trailing comma with the closer, or appends
// the closer when the container is empty.
func (e *Encoder) closeContainer(n int, closer byte) {
	if n > 0 {
		e.buf.SetByte(e.buf.Len()-1, closer)
	} else {
		e.buf.WriteByte(closer)
	}
}

func (e *Encoder) writeArray(rv reflect.Value, depth int) error {
	n := rv.Len()
	e.buf.WriteByte('[')
	for i := 0; i < n; i++ {
		if err := e.value(rv.Index(i), depth+1); err != nil {
			return err
		}
		e.buf.WriteByte(',')
	}
	e.closeContainer(n, ']')
	return nil
}

// writeSet encodes a map[T]struct{} as an array of its keys.
func (e *Encoder) writeSet(rv reflect.Value, depth int) error {
	keys := rv.MapKeys()
	sortKeys(keys)
	e.buf.WriteByte('[')
	for _, k := range keys {
		if err := e.value(k, depth+1); err != nil {
			return err
		}
		e.buf.WriteByte(',')
	}
	e.closeContainer(len(keys), ']')
	return nil
}

func (e *Encoder) writeMap(rv reflect.Value, depth int) error {
	keys := rv.MapKeys()
	sortKeys(keys)
	e.buf.WriteByte('{')
	for _, k := range keys {
		if err := e.writeKey(k); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.value(rv.MapIndex(k), depth+1); err != nil {
			return err
		}
		e.buf.WriteByte(',')
	}
	e.closeContainer(len(keys), '}')
	return nil
}

// writeKey emits a map key as a JSON string, rendering non-string keys in
// their text form.
func (e *Encoder) writeKey(k reflect.Value) error {
	if k.Kind() == reflect.Interface {
		if k.IsNil() {
			return packio.NewEncodeError("JSON object keys cannot be null", nil)
		}
		k = k.Elem()
	}
	switch k.Type() {
	case timeType:
		return e.writeDateTime(k.Interface().(time.Time))
	case dateType:
		s, msg := schema.AppendDate(e.scratch0(), k.Interface().(schema.Date))
		if msg != "" {
			return packio.NewEncodeError(msg, nil)
		}
		e.writeQuoted(s)
		return nil
	case timeOfDayType:
		s, msg := schema.AppendTimeOfDay(e.scratch0(), k.Interface().(schema.TimeOfDay))
		if msg != "" {
			return packio.NewEncodeError(msg, nil)
		}
		e.writeQuoted(s)
		return nil
	case uuidType:
		e.writeQuoted(schema.AppendUUID(e.scratch0(), k.Interface().(uuid.UUID)))
		return nil
	case decimalType:
		e.writeQuoted([]byte(k.Interface().(decimal.Decimal).String()))
		return nil
	}
	switch k.Kind() {
	case reflect.String:
		return e.writeStr(k.String())
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeQuoted(packio.AppendInt(e.scratch0(), k.Int()))
		return nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.writeQuoted(packio.AppendUint(e.scratch0(), k.Uint()))
		return nil
	}
	return packio.NewEncodeError(
		fmt.Sprintf("JSON object keys of type %s are unsupported", k.Type()), nil)
}

// sortKeys orders map keys so output bytes are a pure function of the value.
func sortKeys(keys []reflect.Value) {
	if len(keys) < 2 {
		return
	}
	switch keys[0].Kind() {
	case reflect.String:
		sort.Slice(keys, func(i, j int) bool { return keys[i].String() < keys[j].String() })
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Int() < keys[j].Int() })
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Uint() < keys[j].Uint() })
	case reflect.Float32, reflect.Float64:
		sort.Slice(keys, func(i, j int) bool { return keys[i].Float() < keys[j].Float() })
	}
}

// structDesc resolves the compiled descriptor for a struct type.
func structDesc(t reflect.Type) (*schema.StructDesc, error) {
	node, err := schema.Compile(t)
	if err != nil {
		return nil, packio.NewEncodeError("schema build failed", err)
	}
	if !node.Has(schema.KindStruct | schema.KindStructArray) {
		return nil, packio.NewEncodeError(
			fmt.Sprintf("Encoding objects of type %s is unsupported", t),
			packio.ErrUnsupported)
	}
	return node.StructDesc(), nil
}

func (e *Encoder) writeStruct(rv reflect.Value, depth int) error {
	desc, err := structDesc(rv.Type())
	if err != nil {
		return err
	}
	if !rv.CanAddr() {
		tmp := reflect.New(rv.Type()).Elem()
		tmp.Set(rv)
		rv = tmp
	}
	base := rv.Addr().UnsafePointer()

	if desc.ArrayLike {
		n := 0
		e.buf.WriteByte('[')
		if desc.Tagged {
			if err := e.writeTagValue(desc); err != nil {
				return err
			}
			e.buf.WriteByte(',')
			n++
		}
		for i := range desc.Fields {
			if err := e.value(desc.Fields[i].Value(base), depth+1); err != nil {
				return err
			}
			e.buf.WriteByte(',')
			n++
		}
		e.closeContainer(n, ']')
		return nil
	}

	n := 0
	e.buf.WriteByte('{')
	if desc.Tagged {
		if err := e.writeStr(desc.TagField); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.writeTagValue(desc); err != nil {
			return err
		}
		e.buf.WriteByte(',')
		n++
	}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		fv := f.Value(base)
		if desc.OmitDefaults && f.IsDefault(fv) {
			continue
		}
		if err := e.writeStr(f.EncodeName); err != nil {
			return err
		}
		e.buf.WriteByte(':')
		if err := e.value(fv, depth+1); err != nil {
			return err
		}
		e.buf.WriteByte(',')
		n++
	}
	e.closeContainer(n, '}')
	return nil
}

func (e *Encoder) writeTagValue(desc *schema.StructDesc) error {
	if desc.TagIsInt {
		e.buf.Write(packio.AppendInt(e.scratch0(), desc.TagInt))
		return nil
	}
	return e.writeStr(desc.TagStr)
}
