package msgpack

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

// EncHook converts a value the encoder has no built-in path for into an
// encodable one. Its result is encoded recursively.
type EncHook func(v any) (any, error)

// Encoder serializes values to MessagePack. The output buffer is owned by
// the Encoder and reused across calls; Encoders are not safe for concurrent
// use.
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
	rawType       = reflect.TypeOf(schema.Raw(nil))
	extType       = reflect.TypeOf(schema.Ext{})
	emptyType     = reflect.TypeOf(struct{}{})
)

func (e *Encoder) value(rv reflect.Value, depth int) error {
	if depth > maxDepth {
		return packio.NewEncodeError("maximum recursion depth exceeded", nil)
	}
	if !rv.IsValid() {
		e.buf.WriteByte(mpNil)
		return nil
	}

	switch rv.Type() {
	case timeType:
		return e.writeDateTime(rv.Interface().(time.Time))
	case dateType:
		return e.writeDate(rv.Interface().(schema.Date))
	case timeOfDayType:
		return e.writeTimeOfDay(rv.Interface().(schema.TimeOfDay))
	case uuidType:
		u := rv.Interface().(uuid.UUID)
		e.writeStrHeader(36)
		e.buf.Write(schema.AppendUUID(e.scratch0(), u))
		return nil
	case decimalType:
		return e.writeStr(rv.Interface().(decimal.Decimal).String())
	case rawType:
		r := rv.Bytes()
		if len(r) == 0 {
			e.buf.WriteByte(mpNil)
			return nil
		}
		e.buf.Write(r)
		return nil
	case extType:
		x := rv.Interface().(schema.Ext)
		return e.writeExt(x.Code, x.Data)
	}

	switch rv.Kind() {
	case reflect.Bool:
		if rv.Bool() {
			e.buf.WriteByte(mpTrue)
		} else {
			e.buf.WriteByte(mpFalse)
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		e.writeInt(rv.Int())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		e.writeUint(rv.Uint())
	case reflect.Float32:
		e.buf.WriteByte(mpFloat32)
		e.writeBE32(math.Float32bits(float32(rv.Float())))
	case reflect.Float64:
		e.buf.WriteByte(mpFloat64)
		e.writeBE64(math.Float64bits(rv.Float()))
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
			e.buf.WriteByte(mpNil)
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

func (e *Encoder) writeBE16(v uint16) {
	off := e.buf.Grow(2)
	binary.BigEndian.PutUint16(e.buf.At(off), v)
}

func (e *Encoder) writeBE32(v uint32) {
	off := e.buf.Grow(4)
	binary.BigEndian.PutUint32(e.buf.At(off), v)
}

func (e *Encoder) writeBE64(v uint64) {
	off := e.buf.Grow(8)
	binary.BigEndian.PutUint64(e.buf.At(off), v)
}

// writeUint emits the smallest unsigned form.
func (e *Encoder) writeUint(u uint64) {
	switch {
	case u <= mpFixIntMax:
		e.buf.WriteByte(byte(u))
	case u <= math.MaxUint8:
		e.buf.WriteByte(mpUint8)
		e.buf.WriteByte(byte(u))
	case u <= math.MaxUint16:
		e.buf.WriteByte(mpUint16)
		e.writeBE16(uint16(u))
	case u <= math.MaxUint32:
		e.buf.WriteByte(mpUint32)
		e.writeBE32(uint32(u))
	default:
		e.buf.WriteByte(mpUint64)
		e.writeBE64(u)
	}
}

// writeInt emits the smallest signed or unsigned form.
func (e *Encoder) writeInt(i int64) {
	if i >= 0 {
		e.writeUint(uint64(i))
		return
	}
	switch {
	case i >= -32:
		e.buf.WriteByte(byte(i))
	case i >= math.MinInt8:
		e.buf.WriteByte(mpInt8)
		e.buf.WriteByte(byte(i))
	case i >= math.MinInt16:
		e.buf.WriteByte(mpInt16)
		e.writeBE16(uint16(i))
	case i >= math.MinInt32:
		e.buf.WriteByte(mpInt32)
		e.writeBE32(uint32(i))
	default:
		e.buf.WriteByte(mpInt64)
		e.writeBE64(uint64(i))
	}
}

func (e *Encoder) writeStrHeader(n int) {
	switch {
	case n < 32:
		e.buf.WriteByte(mpFixStr | byte(n))
	case n <= math.MaxUint8:
		e.buf.WriteByte(mpStr8)
		e.buf.WriteByte(byte(n))
	case n <= math.MaxUint16:
		e.buf.WriteByte(mpStr16)
		e.writeBE16(uint16(n))
	default:
		e.buf.WriteByte(mpStr32)
		e.writeBE32(uint32(n))
	}
}

func (e *Encoder) writeStr(s string) error {
	if uintptr(len(s)) > packio.TooBig {
		return packio.NewEncodeError("string length over limit", nil)
	}
	e.writeStrHeader(len(s))
	e.buf.WriteString(s)
	return nil
}

func (e *Encoder) writeBin(b []byte) error {
	if uintptr(len(b)) > packio.TooBig {
		return packio.NewEncodeError("bytes length over limit", nil)
	}
	switch {
	case len(b) <= math.MaxUint8:
		e.buf.WriteByte(mpBin8)
		e.buf.WriteByte(byte(len(b)))
	case len(b) <= math.MaxUint16:
		e.buf.WriteByte(mpBin16)
		e.writeBE16(uint16(len(b)))
	default:
		e.buf.WriteByte(mpBin32)
		e.writeBE32(uint32(len(b)))
	}
	e.buf.Write(b)
	return nil
}

func (e *Encoder) writeExt(code int8, data []byte) error {
	switch len(data) {
	case 1:
		e.buf.WriteByte(mpFixExt1)
	case 2:
		e.buf.WriteByte(mpFixExt2)
	case 4:
		e.buf.WriteByte(mpFixExt4)
	case 8:
		e.buf.WriteByte(mpFixExt8)
	case 16:
		e.buf.WriteByte(mpFixExt16)
	default:
		if uintptr(len(data)) > packio.TooBig {
			return packio.NewEncodeError("ext length over limit", nil)
		}
		switch {
		case len(data) <= math.MaxUint8:
			e.buf.WriteByte(mpExt8)
			e.buf.WriteByte(byte(len(data)))
		case len(data) <= math.MaxUint16:
			e.buf.WriteByte(mpExt16)
			e.writeBE16(uint16(len(data)))
		default:
			e.buf.WriteByte(mpExt32)
			e.writeBE32(uint32(len(data)))
		}
	}
	e.buf.WriteByte(byte(code))
	e.buf.Write(data)
	return nil
}

// writeDateTime emits UTC and naive datetimes as RFC 3339 strings and
// zone-offset datetimes as a timestamp extension, normalized to UTC.
func (e *Encoder) writeDateTime(t time.Time) error {
	_, off := t.Zone()
	if off == 0 {
		s, msg := schema.AppendDateTime(e.scratch0(), t)
		if msg != "" {
			return packio.NewEncodeError(msg, nil)
		}
		e.writeStrHeader(len(s))
		e.buf.Write(s)
		return nil
	}

	sec := t.Unix()
	if sec < minTimestampSec || sec > maxTimestampSec {
		return packio.NewEncodeError("Timestamp is out of range", nil)
	}
	// sub-microsecond precision is dropped
	nsec := uint32(t.Nanosecond() / 1000 * 1000)
	switch {
	case nsec == 0 && sec >= 0 && sec < 1<<32:
		e.buf.WriteByte(mpFixExt4)
		e.buf.WriteByte(extTimestampByte)
		e.writeBE32(uint32(sec))
	case sec >= 0 && sec < 1<<34:
		e.buf.WriteByte(mpFixExt8)
		e.buf.WriteByte(extTimestampByte)
		e.writeBE64(uint64(nsec)<<34 | uint64(sec))
	default:
		e.buf.WriteByte(mpExt8)
		e.buf.WriteByte(12)
		e.buf.WriteByte(extTimestampByte)
		e.writeBE32(nsec)
		e.writeBE64(uint64(sec))
	}
	return nil
}

func (e *Encoder) writeDate(d schema.Date) error {
	s, msg := schema.AppendDate(e.scratch0(), d)
	if msg != "" {
		return packio.NewEncodeError(msg, nil)
	}
	e.writeStrHeader(len(s))
	e.buf.Write(s)
	return nil
}

func (e *Encoder) writeTimeOfDay(t schema.TimeOfDay) error {
	s, msg := schema.AppendTimeOfDay(e.scratch0(), t)
	if msg != "" {
		return packio.NewEncodeError(msg, nil)
	}
	e.writeStrHeader(len(s))
	e.buf.Write(s)
	return nil
}

func (e *Encoder) writeArrayHeader(n int) {
	switch {
	case n < 16:
		e.buf.WriteByte(mpFixArray | byte(n))
	case n <= math.MaxUint16:
		e.buf.WriteByte(mpArray16)
		e.writeBE16(uint16(n))
	default:
		e.buf.WriteByte(mpArray32)
		e.writeBE32(uint32(n))
	}
}

func (e *Encoder) writeMapHeader(n int) {
	switch {
	case n < 16:
		e.buf.WriteByte(mpFixMap | byte(n))
	case n <= math.MaxUint16:
		e.buf.WriteByte(mpMap16)
		e.writeBE16(uint16(n))
	default:
		e.buf.WriteByte(mpMap32)
		e.writeBE32(uint32(n))
	}
}

func (e *Encoder) writeArray(rv reflect.Value, depth int) error {
	n := rv.Len()
	e.writeArrayHeader(n)
	for i := 0; i < n; i++ {
		if err := e.value(rv.Index(i), depth+1); err != nil {
			return err
		}
	}
	return nil
}

// writeSet encodes a map[T]struct{} as an array of its keys.
func (e *Encoder) writeSet(rv reflect.Value, depth int) error {
	keys := rv.MapKeys()
	sortKeys(keys)
	e.writeArrayHeader(len(keys))
	for _, k := range keys {
		if err := e.value(k, depth+1); err != nil {
			return err
		}
	}
	return nil
}

func (e *Encoder) writeMap(rv reflect.Value, depth int) error {
	keys := rv.MapKeys()
	sortKeys(keys)
	e.writeMapHeader(len(keys))
	for _, k := range keys {
		if err := e.value(k, depth+1); err != nil {
			return err
		}
		if err := e.value(rv.MapIndex(k), depth+1); err != nil {
			return err
		}
	}
	return nil
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
		n := len(desc.Fields)
		if desc.Tagged {
			n++
		}
		e.writeArrayHeader(n)
		if desc.Tagged {
			if err := e.writeTagValue(desc); err != nil {
				return err
			}
		}
		for i := range desc.Fields {
			if err := e.value(desc.Fields[i].Value(base), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	n := len(desc.Fields)
	if desc.Tagged {
		n++
	}
	if !desc.OmitDefaults {
		e.writeMapHeader(n)
		if desc.Tagged {
			if err := e.writeStr(desc.TagField); err != nil {
				return err
			}
			if err := e.writeTagValue(desc); err != nil {
				return err
			}
		}
		for i := range desc.Fields {
			f := &desc.Fields[i]
			if err := e.writeStr(f.EncodeName); err != nil {
				return err
			}
			if err := e.value(f.Value(base), depth+1); err != nil {
				return err
			}
		}
		return nil
	}

	// The entry count is unknown until every field's skip decision is made,
	// so a wide header is emitted up front and patched afterwards. The width
	// class is chosen from the upper bound.
	wide := n > math.MaxUint16
	var off int
	if wide {
		e.buf.WriteByte(mpMap32)
		off = e.buf.Grow(4)
	} else {
		e.buf.WriteByte(mpMap16)
		off = e.buf.Grow(2)
	}
	count := 0
	if desc.Tagged {
		if err := e.writeStr(desc.TagField); err != nil {
			return err
		}
		if err := e.writeTagValue(desc); err != nil {
			return err
		}
		count++
	}
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if f.IsDefault(f.Value(base)) {
			continue
		}
		if err := e.writeStr(f.EncodeName); err != nil {
			return err
		}
		if err := e.value(f.Value(base), depth+1); err != nil {
			return err
		}
		count++
	}
	if wide {
		binary.BigEndian.PutUint32(e.buf.At(off), uint32(count))
	} else {
		binary.BigEndian.PutUint16(e.buf.At(off), uint16(count))
	}
	return nil
}

func (e *Encoder) writeTagValue(desc *schema.StructDesc) error {
	if desc.TagIsInt {
		e.writeInt(desc.TagInt)
		return nil
	}
	return e.writeStr(desc.TagStr)
}
