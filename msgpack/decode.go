package msgpack

import (
	"encoding/binary"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"

	"github.com/shopspring/decimal"

	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

// DecHook converts a decoded value into a type the decoder has no built-in
// path for. t is the target type from the schema; v is the wire value decoded
// without a schema.
type DecHook func(t reflect.Type, v any) (any, error)

// ExtHook handles extension values other than timestamps appearing in
// untyped positions.
type ExtHook func(code int8, data []byte) (any, error)

// Decoder deserializes MessagePack into values of one target type. Building
// a Decoder compiles the type's schema once; a Decoder is safe for concurrent
// use as long as the hooks are.
type Decoder struct {
	// DecHook and ExtHook extend decoding beyond the built-in types.
	DecHook DecHook
	ExtHook ExtHook

	typ  reflect.Type
	node *schema.TypeNode
}

// NewDecoder compiles a decoder for values of type t. An optional Meta
// attaches constraints to the root position.
func NewDecoder(t reflect.Type, meta ...*schema.Meta) (*Decoder, error) {
	node, err := schema.Compile(t, meta...)
	if err != nil {
		return nil, err
	}
	return &Decoder{typ: t, node: node}, nil
}

// Decode deserializes one message, returning a value of the decoder's target
// type. The input is borrowed for the duration of the call; only Raw values
// keep a reference to it afterwards.
func (d *Decoder) Decode(data []byte) (any, error) {
	rv := reflect.New(d.typ).Elem()
	if err := d.decode(data, rv); err != nil {
		return nil, err
	}
	return rv.Interface(), nil
}

// DecodeInto deserializes one message into the value pointed to by v, which
// must be a non-nil pointer to the decoder's target type.
func (d *Decoder) DecodeInto(data []byte, v any) error {
	rv := reflect.ValueOf(v)
	if rv.Kind() != reflect.Ptr || rv.IsNil() {
		return packio.NewDecodeError(fmt.Sprintf("decode target must be a non-nil pointer, got %T", v), nil)
	}
	if rv.Type().Elem() != d.typ {
		return packio.NewDecodeError(
			fmt.Sprintf("decode target is *%s, decoder was built for %s", rv.Type().Elem(), d.typ), nil)
	}
	return d.decode(data, rv.Elem())
}

// Decode deserializes data into a fresh value of type t.
func Decode(data []byte, t reflect.Type) (any, error) {
	d, err := NewDecoder(t)
	if err != nil {
		return nil, err
	}
	return d.Decode(data)
}

func (d *Decoder) decode(data []byte, dst reflect.Value) error {
	s := decodeState{dec: d, data: data}
	if err := s.value(dst, d.node, nil); err != nil {
		return err
	}
	if s.pos != len(data) {
		return packio.NewDecodeError("MessagePack data is malformed: trailing bytes", packio.ErrMalformed)
	}
	return nil
}

type decodeState struct {
	dec   *Decoder
	data  []byte
	pos   int
	depth int
}

func errTruncated() error {
	return packio.NewDecodeError("MessagePack data is malformed: truncated", packio.ErrTruncated)
}

func (s *decodeState) readByte() (byte, error) {
	if s.pos >= len(s.data) {
		return 0, errTruncated()
	}
	b := s.data[s.pos]
	s.pos++
	return b, nil
}

func (s *decodeState) readN(n int) ([]byte, error) {
	if n < 0 || n > len(s.data)-s.pos {
		return nil, errTruncated()
	}
	b := s.data[s.pos : s.pos+n]
	s.pos += n
	return b, nil
}

func (s *decodeState) readBE16() (uint16, error) {
	b, err := s.readN(2)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint16(b), nil
}

func (s *decodeState) readBE32() (uint32, error) {
	b, err := s.readN(4)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint32(b), nil
}

func (s *decodeState) readBE64() (uint64, error) {
	b, err := s.readN(8)
	if err != nil {
		return 0, err
	}
	return binary.BigEndian.Uint64(b), nil
}

// expectedName picks the name of the primary permitted type for "Expected
// `x`, got `y`" messages.
func expectedName(node *schema.TypeNode) string {
	m := node.Mask()
	for _, c := range []struct {
		kind schema.Kind
		name string
	}{
		{schema.KindBool, "bool"},
		{schema.KindInt | schema.KindIntEnum | schema.KindIntLiteral, "int"},
		{schema.KindFloat, "float"},
		{schema.KindStr | schema.KindEnum | schema.KindStrLiteral, "str"},
		{schema.KindBytes | schema.KindByteArray, "bytes"},
		{schema.KindDateTime, "datetime"},
		{schema.KindDate, "date"},
		{schema.KindTime, "time"},
		{schema.KindUUID, "uuid"},
		{schema.KindDecimal, "decimal"},
		{schema.KindDict | schema.KindStruct | schema.KindStructUnion |
			schema.KindTypedDict | schema.KindDataclass, "object"},
		{schema.KindList | schema.KindSet | schema.KindFrozenSet |
			schema.KindVarTuple | schema.KindFixTuple |
			schema.KindStructArray | schema.KindStructArrayUnion, "array"},
		{schema.KindExt, "ext"},
		{schema.KindNone, "null"},
	} {
		if m&c.kind != 0 {
			return c.name
		}
	}
	return "value"
}

func wrongType(node *schema.TypeNode, got string, path *packio.PathNode) error {
	return packio.NewValidationError(
		"Expected `"+expectedName(node)+"`, got `"+got+"`", path, packio.ErrWrongType)
}

func constraintErr(msg string, path *packio.PathNode) error {
	return packio.NewValidationError(msg, path, packio.ErrConstraint)
}

const kindArrayGroup = schema.KindList | schema.KindSet | schema.KindFrozenSet | schema.KindVarTuple

var (
	emptyValue  = reflect.ValueOf(struct{}{})
	rawGoType   = reflect.TypeOf(schema.Raw(nil))
	anyMapType  = reflect.TypeOf(map[string]any(nil))
	anyListType = reflect.TypeOf([]any(nil))
)

func (s *decodeState) value(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	s.depth++
	if s.depth > maxDepth {
		s.depth--
		return packio.NewDecodeError("recursion limit exceeded while decoding", packio.ErrMalformed)
	}
	err := s.valueInner(dst, node, path)
	s.depth--
	return err
}

func (s *decodeState) valueInner(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	// pointers allocate through to the element unless the wire value is nil
	if dst.Kind() == reflect.Ptr {
		if s.pos < len(s.data) && s.data[s.pos] == mpNil {
			s.pos++
			dst.Set(reflect.Zero(dst.Type()))
			return nil
		}
		if dst.IsNil() {
			dst.Set(reflect.New(dst.Type().Elem()))
		}
		return s.valueInner(dst.Elem(), node, path)
	}

	if node.Has(schema.KindRaw) && dst.Type() == rawGoType {
		start := s.pos
		if err := s.skipValue(); err != nil {
			return err
		}
		dst.Set(reflect.ValueOf(schema.Raw(s.data[start:s.pos])))
		return nil
	}

	if node.Has(schema.KindCustom | schema.KindCustomGeneric) {
		return s.customValue(dst, node, path)
	}

	b, err := s.readByte()
	if err != nil {
		return err
	}

	switch {
	case b <= mpFixIntMax:
		return s.intValue(dst, node, false, uint64(b), path)
	case b >= mpNegFixInt:
		return s.intValue(dst, node, true, uint64(-int64(int8(b))), path)
	case b >= mpFixStr && b < mpNil:
		return s.strValue(dst, node, int(b&0x1f), path)
	case b >= mpFixArray && b < mpFixStr:
		return s.arrayValue(dst, node, int(b&0x0f), path)
	case b >= mpFixMap && b < mpFixArray:
		return s.mapValue(dst, node, int(b&0x0f), path)
	}

	switch b {
	case mpNil:
		return s.nilValue(dst, node, path)
	case mpFalse:
		return s.boolValue(dst, node, false, path)
	case mpTrue:
		return s.boolValue(dst, node, true, path)
	case mpUint8:
		v, err := s.readByte()
		if err != nil {
			return err
		}
		return s.intValue(dst, node, false, uint64(v), path)
	case mpUint16:
		v, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.intValue(dst, node, false, uint64(v), path)
	case mpUint32:
		v, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.intValue(dst, node, false, uint64(v), path)
	case mpUint64:
		v, err := s.readBE64()
		if err != nil {
			return err
		}
		return s.intValue(dst, node, false, v, path)
	case mpInt8:
		v, err := s.readByte()
		if err != nil {
			return err
		}
		return s.signedValue(dst, node, int64(int8(v)), path)
	case mpInt16:
		v, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.signedValue(dst, node, int64(int16(v)), path)
	case mpInt32:
		v, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.signedValue(dst, node, int64(int32(v)), path)
	case mpInt64:
		v, err := s.readBE64()
		if err != nil {
			return err
		}
		return s.signedValue(dst, node, int64(v), path)
	case mpFloat32:
		v, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.floatValue(dst, node, float64(math.Float32frombits(v)), path)
	case mpFloat64:
		v, err := s.readBE64()
		if err != nil {
			return err
		}
		return s.floatValue(dst, node, math.Float64frombits(v), path)
	case mpStr8:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		return s.strValue(dst, node, int(n), path)
	case mpStr16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.strValue(dst, node, int(n), path)
	case mpStr32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.strValue(dst, node, int(n), path)
	case mpBin8:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		return s.binValue(dst, node, int(n), path)
	case mpBin16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.binValue(dst, node, int(n), path)
	case mpBin32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.binValue(dst, node, int(n), path)
	case mpArray16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.arrayValue(dst, node, int(n), path)
	case mpArray32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.arrayValue(dst, node, int(n), path)
	case mpMap16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.mapValue(dst, node, int(n), path)
	case mpMap32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.mapValue(dst, node, int(n), path)
	case mpFixExt1, mpFixExt2, mpFixExt4, mpFixExt8, mpFixExt16:
		return s.extValue(dst, node, 1<<(b-mpFixExt1), path)
	case mpExt8:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		return s.extValue(dst, node, int(n), path)
	case mpExt16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.extValue(dst, node, int(n), path)
	case mpExt32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.extValue(dst, node, int(n), path)
	}
	return packio.NewDecodeError(
		"MessagePack data is malformed: invalid opcode 0x"+strconv.FormatUint(uint64(b), 16),
		packio.ErrMalformed)
}

func (s *decodeState) signedValue(dst reflect.Value, node *schema.TypeNode, v int64, path *packio.PathNode) error {
	if v >= 0 {
		return s.intValue(dst, node, false, uint64(v), path)
	}
	return s.intValue(dst, node, true, uint64(-(v+1))+1, path)
}

func (s *decodeState) nilValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	if !node.Has(schema.KindNone | schema.KindAny) {
		return wrongType(node, "null", path)
	}
	dst.Set(reflect.Zero(dst.Type()))
	return nil
}

func (s *decodeState) boolValue(dst reflect.Value, node *schema.TypeNode, v bool, path *packio.PathNode) error {
	switch {
	case node.Has(schema.KindBool):
		dst.SetBool(v)
	case node.Has(schema.KindAny):
		dst.Set(reflect.ValueOf(v))
	default:
		return wrongType(node, "bool", path)
	}
	return nil
}

func (s *decodeState) intValue(dst reflect.Value, node *schema.TypeNode, neg bool, mag uint64, path *packio.PathNode) error {
	m := node.Mask()
	switch {
	case m&schema.KindInt != 0:
		if msg := node.CheckSignedInt(neg, mag); msg != "" {
			return constraintErr(msg, path)
		}
		return setIntValue(dst, neg, mag, path)
	case m&(schema.KindIntEnum|schema.KindIntLiteral) != 0:
		i, ok := signedToInt64(neg, mag)
		if !ok {
			return s.badIntMember(node, neg, mag, path)
		}
		member := node.IntLookup().Get(i)
		if member == nil {
			return s.badIntMember(node, neg, mag, path)
		}
		return setMember(dst, member)
	case m&schema.KindFloat != 0:
		f := float64(mag)
		if neg {
			f = -f
		}
		return s.floatValue(dst, node, f, path)
	case m&schema.KindAny != 0:
		if msg := node.CheckSignedInt(neg, mag); msg != "" {
			return constraintErr(msg, path)
		}
		if !neg && mag > math.MaxInt64 {
			dst.Set(reflect.ValueOf(mag))
			return nil
		}
		i, _ := signedToInt64(neg, mag)
		dst.Set(reflect.ValueOf(i))
		return nil
	}
	return wrongType(node, "int", path)
}

func (s *decodeState) badIntMember(node *schema.TypeNode, neg bool, mag uint64, path *packio.PathNode) error {
	what := "Invalid value "
	if node.Has(schema.KindIntEnum) {
		what = "Invalid enum value "
	}
	num := strconv.FormatUint(mag, 10)
	if neg {
		num = "-" + num
	}
	return packio.NewValidationError(what+num, path, packio.ErrConstraint)
}

// signedToInt64 folds (neg, mag) into an int64 when it fits.
func signedToInt64(neg bool, mag uint64) (int64, bool) {
	if !neg {
		if mag > math.MaxInt64 {
			return 0, false
		}
		return int64(mag), true
	}
	if mag > 1<<63 {
		return 0, false
	}
	return -int64(mag-1) - 1, true
}

func setIntValue(dst reflect.Value, neg bool, mag uint64, path *packio.PathNode) error {
	overflow := func() error {
		return packio.NewValidationError("Integer value out of range", path, packio.ErrOverflow)
	}
	switch dst.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, ok := signedToInt64(neg, mag)
		if !ok || dst.OverflowInt(i) {
			return overflow()
		}
		dst.SetInt(i)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if neg || dst.OverflowUint(mag) {
			return overflow()
		}
		dst.SetUint(mag)
	default:
		return packio.NewDecodeError(
			fmt.Sprintf("cannot store int into %s", dst.Type()), nil)
	}
	return nil
}

// setMember stores an enum member or literal key, converting named types.
func setMember(dst reflect.Value, member any) error {
	mv := reflect.ValueOf(member)
	if mv.Type() != dst.Type() {
		if !mv.Type().ConvertibleTo(dst.Type()) {
			return packio.NewDecodeError(
				fmt.Sprintf("cannot store %s into %s", mv.Type(), dst.Type()), nil)
		}
		mv = mv.Convert(dst.Type())
	}
	dst.Set(mv)
	return nil
}

func (s *decodeState) floatValue(dst reflect.Value, node *schema.TypeNode, f float64, path *packio.PathNode) error {
	switch {
	case node.Has(schema.KindFloat):
		if msg := node.CheckFloat(f); msg != "" {
			return constraintErr(msg, path)
		}
		dst.SetFloat(f)
	case node.Has(schema.KindAny):
		if msg := node.CheckFloat(f); msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(f))
	default:
		return wrongType(node, "float", path)
	}
	return nil
}

func (s *decodeState) strValue(dst reflect.Value, node *schema.TypeNode, n int, path *packio.PathNode) error {
	b, err := s.readN(n)
	if err != nil {
		return err
	}
	m := node.Mask()
	switch {
	case m&schema.KindStr != 0:
		str := string(b)
		if msg := node.CheckStr(str); msg != "" {
			return constraintErr(msg, path)
		}
		dst.SetString(str)
	case m&(schema.KindEnum|schema.KindStrLiteral) != 0:
		member := node.StrLookup().Get(string(b))
		if member == nil {
			what := "Invalid value '"
			if m&schema.KindEnum != 0 {
				what = "Invalid enum value '"
			}
			return packio.NewValidationError(what+string(b)+"'", path, packio.ErrConstraint)
		}
		return setMember(dst, member)
	case m&schema.KindDateTime != 0:
		t, hasOff, msg := schema.ParseDateTime(string(b))
		if msg == "" {
			msg = node.CheckTz(hasOff, "datetime")
		}
		if msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(t))
	case m&schema.KindDate != 0:
		d, msg := schema.ParseDate(string(b))
		if msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(d))
	case m&schema.KindTime != 0:
		t, msg := schema.ParseTimeOfDay(string(b))
		if msg == "" {
			msg = node.CheckTz(t.HasOffset, "time")
		}
		if msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(t))
	case m&schema.KindUUID != 0:
		u, ok := schema.ParseUUID(string(b))
		if !ok {
			return constraintErr("Invalid UUID", path)
		}
		dst.Set(reflect.ValueOf(u))
	case m&schema.KindDecimal != 0:
		dec, derr := decimal.NewFromString(string(b))
		if derr != nil {
			return constraintErr("Invalid decimal string", path)
		}
		dst.Set(reflect.ValueOf(dec))
	case m&schema.KindAny != 0:
		str := string(b)
		if msg := node.CheckStr(str); msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(str))
	default:
		return wrongType(node, "str", path)
	}
	return nil
}

func (s *decodeState) binValue(dst reflect.Value, node *schema.TypeNode, n int, path *packio.PathNode) error {
	b, err := s.readN(n)
	if err != nil {
		return err
	}
	m := node.Mask()
	switch {
	case m&schema.KindBytes != 0:
		if msg := node.CheckBytesLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		c := make([]byte, n)
		copy(c, b)
		dst.SetBytes(c)
	case m&schema.KindByteArray != 0:
		if n != dst.Len() {
			return constraintErr("Expected `bytes` of length "+strconv.Itoa(dst.Len()), path)
		}
		reflect.Copy(dst, reflect.ValueOf(b))
	case m&schema.KindAny != 0:
		if msg := node.CheckBytesLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		c := make([]byte, n)
		copy(c, b)
		dst.Set(reflect.ValueOf(c))
	default:
		return wrongType(node, "bytes", path)
	}
	return nil
}

func (s *decodeState) extValue(dst reflect.Value, node *schema.TypeNode, n int, path *packio.PathNode) error {
	code, err := s.readByte()
	if err != nil {
		return err
	}
	data, err := s.readN(n)
	if err != nil {
		return err
	}

	if int8(code) == extTimestamp && node.Has(schema.KindDateTime|schema.KindAny) {
		t, terr := decodeTimestamp(data, path)
		if terr != nil {
			return terr
		}
		if msg := node.CheckTz(true, "datetime"); msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(t))
		return nil
	}

	switch {
	case node.Has(schema.KindExt):
		c := make([]byte, len(data))
		copy(c, data)
		dst.Set(reflect.ValueOf(schema.Ext{Code: int8(code), Data: c}))
	case node.Has(schema.KindAny):
		if s.dec.ExtHook != nil {
			v, herr := s.dec.ExtHook(int8(code), data)
			if herr != nil {
				return packio.NewValidationError("ext_hook failed: "+herr.Error(), path, packio.ErrConstraint)
			}
			if v == nil {
				dst.Set(reflect.Zero(dst.Type()))
				return nil
			}
			dst.Set(reflect.ValueOf(v))
			return nil
		}
		c := make([]byte, len(data))
		copy(c, data)
		dst.Set(reflect.ValueOf(schema.Ext{Code: int8(code), Data: c}))
	default:
		return wrongType(node, "ext", path)
	}
	return nil
}

// decodeTimestamp decodes the three canonical timestamp extension layouts.
// Sub-microsecond precision is dropped.
func decodeTimestamp(data []byte, path *packio.PathNode) (time.Time, error) {
	var sec int64
	var nsec uint32
	switch len(data) {
	case 4:
		sec = int64(binary.BigEndian.Uint32(data))
	case 8:
		v := binary.BigEndian.Uint64(data)
		nsec = uint32(v >> 34)
		sec = int64(v & (1<<34 - 1))
	case 12:
		nsec = binary.BigEndian.Uint32(data)
		sec = int64(binary.BigEndian.Uint64(data[4:]))
	default:
		return time.Time{}, packio.NewDecodeError(
			"MessagePack data is malformed: invalid timestamp length "+strconv.Itoa(len(data)),
			packio.ErrMalformed)
	}
	if nsec >= 1e9 {
		return time.Time{}, packio.NewDecodeError(
			"MessagePack data is malformed: invalid timestamp nanoseconds", packio.ErrMalformed)
	}
	if sec < minTimestampSec || sec > maxTimestampSec {
		return time.Time{}, packio.NewValidationError("Timestamp is out of range", path, packio.ErrOverflow)
	}
	return time.Unix(sec, int64(nsec/1000*1000)).UTC(), nil
}

func (s *decodeState) customValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	if s.pos < len(s.data) && s.data[s.pos] == mpNil && node.Has(schema.KindNone) {
		s.pos++
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	}
	if s.dec.DecHook == nil {
		return packio.NewValidationError(
			fmt.Sprintf("Decoding objects of type %s is unsupported", node.CustomType()),
			path, packio.ErrUnsupported)
	}
	var tmp any
	if err := s.value(reflect.ValueOf(&tmp).Elem(), schema.AnyNode(), path); err != nil {
		return err
	}
	out, err := s.dec.DecHook(node.CustomType(), tmp)
	if err != nil {
		return packio.NewValidationError(err.Error(), path, packio.ErrConstraint)
	}
	ov := reflect.ValueOf(out)
	if !ov.IsValid() || ov.Type() != dst.Type() {
		return packio.NewValidationError(
			fmt.Sprintf("dec_hook returned %T, expected %s", out, dst.Type()),
			path, packio.ErrConstraint)
	}
	dst.Set(ov)
	return nil
}

func (s *decodeState) arrayValue(dst reflect.Value, node *schema.TypeNode, n int, path *packio.PathNode) error {
	m := node.Mask()
	switch {
	case m&kindArrayGroup != 0:
		if msg := node.CheckArrayLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		elem := node.Element()
		if dst.Kind() == reflect.Map { // set
			dst.Set(reflect.MakeMapWithSize(dst.Type(), n))
			kt := dst.Type().Key()
			for i := 0; i < n; i++ {
				kv := reflect.New(kt).Elem()
				frame := packio.PathNode{Parent: path, Index: i}
				if err := s.value(kv, elem, &frame); err != nil {
					return err
				}
				dst.SetMapIndex(kv, emptyValue)
			}
			return nil
		}
		sl := reflect.MakeSlice(dst.Type(), n, n)
		for i := 0; i < n; i++ {
			frame := packio.PathNode{Parent: path, Index: i}
			if err := s.value(sl.Index(i), elem, &frame); err != nil {
				return err
			}
		}
		dst.Set(sl)
		return nil

	case m&schema.KindFixTuple != 0:
		if want := node.FixTupleLen(); n != want {
			return constraintErr("Expected `array` of length "+strconv.Itoa(want), path)
		}
		for i := 0; i < n; i++ {
			frame := packio.PathNode{Parent: path, Index: i}
			if err := s.value(dst.Index(i), node.FixTupleElem(i), &frame); err != nil {
				return err
			}
		}
		return nil

	case m&schema.KindStructArray != 0:
		desc := node.StructDesc()
		start := 0
		if desc.Tagged {
			if n < 1 {
				return shortArray(1+len(desc.Fields)-desc.NTrailingDefaults, path)
			}
			frame := packio.PathNode{Parent: path, Index: 0}
			if err := s.matchTag(desc, &frame); err != nil {
				return err
			}
			start = 1
		}
		return s.structArrayFields(dst, desc, n, start, path)

	case m&schema.KindStructArrayUnion != 0:
		union := node.StructUnion()
		if n < 1 {
			return shortArray(1, path)
		}
		frame := packio.PathNode{Parent: path, Index: 0}
		desc, err := s.unionTag(union, &frame)
		if err != nil {
			return err
		}
		cv := reflect.New(desc.GoType).Elem()
		if err := s.structArrayFields(cv, desc, n, 1, path); err != nil {
			return err
		}
		return setUnionValue(dst, cv, desc)

	case m&schema.KindAny != 0:
		if msg := node.CheckArrayLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		out := reflect.MakeSlice(anyListType, n, n)
		for i := 0; i < n; i++ {
			frame := packio.PathNode{Parent: path, Index: i}
			if err := s.value(out.Index(i), schema.AnyNode(), &frame); err != nil {
				return err
			}
		}
		dst.Set(out)
		return nil
	}
	return wrongType(node, "array", path)
}

func shortArray(min int, path *packio.PathNode) error {
	return packio.NewValidationError(
		"Expected `array` of at least length "+strconv.Itoa(min), path, packio.ErrConstraint)
}

// structArrayFields decodes the positional fields of an array-form struct,
// starting at wire element start (past the tag if any). Missing trailing
// fields are filled from defaults; extras are skipped or rejected.
func (s *decodeState) structArrayFields(dst reflect.Value, desc *schema.StructDesc, n, start int, path *packio.PathNode) error {
	min := start + len(desc.Fields) - desc.NTrailingDefaults
	if n < min {
		return shortArray(min, path)
	}
	base := dst.Addr().UnsafePointer()
	for i := range desc.Fields {
		f := &desc.Fields[i]
		if start+i >= n {
			f.ApplyDefault(f.Value(base))
			continue
		}
		frame := packio.PathNode{Parent: path, Index: start + i}
		if err := s.value(f.Value(base), f.Node, &frame); err != nil {
			return err
		}
	}
	for j := start + len(desc.Fields); j < n; j++ {
		if desc.ForbidUnknown {
			return constraintErr(
				"Expected `array` of at most length "+strconv.Itoa(start+len(desc.Fields)), path)
		}
		if err := s.skipValue(); err != nil {
			return err
		}
	}
	return nil
}

func (s *decodeState) mapValue(dst reflect.Value, node *schema.TypeNode, n int, path *packio.PathNode) error {
	m := node.Mask()
	switch {
	case m&schema.KindDict != 0:
		if msg := node.CheckMapLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		keyNode, valNode := node.DictKey(), node.DictValue()
		dst.Set(reflect.MakeMapWithSize(dst.Type(), n))
		kt, vt := dst.Type().Key(), dst.Type().Elem()
		for i := 0; i < n; i++ {
			kv := reflect.New(kt).Elem()
			kframe := packio.PathNode{Parent: path, Index: packio.PathKey}
			if err := s.value(kv, keyNode, &kframe); err != nil {
				return err
			}
			vframe := packio.PathNode{Parent: path, Index: packio.PathEllipsis}
			if kv.Kind() == reflect.String {
				vframe = packio.PathNode{Parent: path, Index: packio.PathField, Field: kv.String()}
			}
			vv := reflect.New(vt).Elem()
			if err := s.value(vv, valNode, &vframe); err != nil {
				return err
			}
			dst.SetMapIndex(kv, vv)
		}
		return nil

	case m&schema.KindStruct != 0:
		return s.structMap(dst, node.StructDesc(), n, path)

	case m&schema.KindStructUnion != 0:
		return s.unionMap(dst, node.StructUnion(), n, path)

	case m&(schema.KindTypedDict|schema.KindDataclass) != 0:
		return s.typedDictMap(dst, node.TypedDict(), n, path)

	case m&schema.KindAny != 0:
		if msg := node.CheckMapLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		out := reflect.MakeMapWithSize(anyMapType, n)
		for i := 0; i < n; i++ {
			key, err := s.readKey(path)
			if err != nil {
				return err
			}
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: key}
			vv := reflect.New(anyMapType.Elem()).Elem()
			if err := s.value(vv, schema.AnyNode(), &frame); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(key), vv)
		}
		dst.Set(out)
		return nil
	}
	return wrongType(node, "object", path)
}

// readKey reads a map key, which must be a string.
func (s *decodeState) readKey(path *packio.PathNode) (string, error) {
	frame := packio.PathNode{Parent: path, Index: packio.PathKey}
	b, err := s.readByte()
	if err != nil {
		return "", err
	}
	var n int
	switch {
	case b >= mpFixStr && b < mpNil:
		n = int(b & 0x1f)
	case b == mpStr8:
		v, err := s.readByte()
		if err != nil {
			return "", err
		}
		n = int(v)
	case b == mpStr16:
		v, err := s.readBE16()
		if err != nil {
			return "", err
		}
		n = int(v)
	case b == mpStr32:
		v, err := s.readBE32()
		if err != nil {
			return "", err
		}
		n = int(v)
	default:
		return "", packio.NewValidationError("Expected `str`", &frame, packio.ErrWrongType)
	}
	kb, err := s.readN(n)
	if err != nil {
		return "", err
	}
	return string(kb), nil
}

// matchTag reads the discriminator value and checks it against the struct's
// own tag.
func (s *decodeState) matchTag(desc *schema.StructDesc, frame *packio.PathNode) error {
	if desc.TagIsInt {
		tag, err := s.readIntScalar(frame)
		if err != nil {
			return err
		}
		if tag != desc.TagInt {
			return packio.NewValidationError(
				"Invalid value "+strconv.FormatInt(tag, 10), frame, packio.ErrUnknownTag)
		}
		return nil
	}
	tag, err := s.readStrScalar(frame)
	if err != nil {
		return err
	}
	if tag != desc.TagStr {
		return packio.NewValidationError("Invalid value '"+tag+"'", frame, packio.ErrUnknownTag)
	}
	return nil
}

// unionTag reads the discriminator value and resolves the union member.
func (s *decodeState) unionTag(union *schema.StructUnion, frame *packio.PathNode) (*schema.StructDesc, error) {
	if union.ByInt != nil {
		tag, err := s.readIntScalar(frame)
		if err != nil {
			return nil, err
		}
		desc := union.GetInt(tag)
		if desc == nil {
			return nil, packio.NewValidationError(
				"Invalid value "+strconv.FormatInt(tag, 10), frame, packio.ErrUnknownTag)
		}
		return desc, nil
	}
	tag, err := s.readStrScalar(frame)
	if err != nil {
		return nil, err
	}
	desc := union.GetStr(tag)
	if desc == nil {
		return nil, packio.NewValidationError("Invalid value '"+tag+"'", frame, packio.ErrUnknownTag)
	}
	return desc, nil
}

func (s *decodeState) readStrScalar(path *packio.PathNode) (string, error) {
	b, err := s.readByte()
	if err != nil {
		return "", err
	}
	var n int
	switch {
	case b >= mpFixStr && b < mpNil:
		n = int(b & 0x1f)
	case b == mpStr8:
		v, err := s.readByte()
		if err != nil {
			return "", err
		}
		n = int(v)
	case b == mpStr16:
		v, err := s.readBE16()
		if err != nil {
			return "", err
		}
		n = int(v)
	case b == mpStr32:
		v, err := s.readBE32()
		if err != nil {
			return "", err
		}
		n = int(v)
	default:
		return "", packio.NewValidationError("Expected `str`", path, packio.ErrWrongType)
	}
	sb, err := s.readN(n)
	if err != nil {
		return "", err
	}
	return string(sb), nil
}

func (s *decodeState) readIntScalar(path *packio.PathNode) (int64, error) {
	b, err := s.readByte()
	if err != nil {
		return 0, err
	}
	switch {
	case b <= mpFixIntMax:
		return int64(b), nil
	case b >= mpNegFixInt:
		return int64(int8(b)), nil
	}
	switch b {
	case mpUint8:
		v, err := s.readByte()
		return int64(v), err
	case mpUint16:
		v, err := s.readBE16()
		return int64(v), err
	case mpUint32:
		v, err := s.readBE32()
		return int64(v), err
	case mpUint64:
		v, err := s.readBE64()
		if err != nil {
			return 0, err
		}
		if v > math.MaxInt64 {
			return 0, packio.NewValidationError("Integer value out of range", path, packio.ErrOverflow)
		}
		return int64(v), nil
	case mpInt8:
		v, err := s.readByte()
		return int64(int8(v)), err
	case mpInt16:
		v, err := s.readBE16()
		return int64(int16(v)), err
	case mpInt32:
		v, err := s.readBE32()
		return int64(int32(v)), err
	case mpInt64:
		v, err := s.readBE64()
		return int64(v), err
	}
	return 0, packio.NewValidationError("Expected `int`", path, packio.ErrWrongType)
}

func (s *decodeState) structMap(dst reflect.Value, desc *schema.StructDesc, n int, path *packio.PathNode) error {
	base := dst.Addr().UnsafePointer()
	seen := make([]bool, len(desc.Fields))
	rot := 0
	tagSeen := false

	for i := 0; i < n; i++ {
		key, err := s.readKey(path)
		if err != nil {
			return err
		}
		if desc.Tagged && key == desc.TagField {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: desc.TagField}
			if err := s.matchTag(desc, &frame); err != nil {
				return err
			}
			tagSeen = true
			continue
		}
		fi, f := desc.FindEncoded(key, &rot)
		if f == nil {
			if desc.ForbidUnknown {
				return packio.NewValidationError(
					"Object contains unknown field `"+key+"`", path, packio.ErrUnknownField)
			}
			if err := s.skipValue(); err != nil {
				return err
			}
			continue
		}
		frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: f.EncodeName}
		if err := s.value(f.Value(base), f.Node, &frame); err != nil {
			return err
		}
		seen[fi] = true
	}

	if desc.Tagged && !tagSeen {
		return packio.NewValidationError(
			"Object missing required field `"+desc.TagField+"`", path, packio.ErrMissingField)
	}
	for i := range desc.Fields {
		if seen[i] {
			continue
		}
		f := &desc.Fields[i]
		if !f.HasDefault {
			return packio.NewValidationError(
				"Object missing required field `"+f.EncodeName+"`", path, packio.ErrMissingField)
		}
		f.ApplyDefault(f.Value(base))
	}
	return nil
}

// unionMap scans the map entries for the discriminator, skipping values, then
// rewinds and decodes the whole map against the resolved member type. Keys
// seen before the tag are therefore parsed twice.
func (s *decodeState) unionMap(dst reflect.Value, union *schema.StructUnion, n int, path *packio.PathNode) error {
	start := s.pos
	var desc *schema.StructDesc
	for i := 0; i < n; i++ {
		key, err := s.readKey(path)
		if err != nil {
			return err
		}
		if key == union.TagField {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: union.TagField}
			desc, err = s.unionTag(union, &frame)
			if err != nil {
				return err
			}
			break
		}
		if err := s.skipValue(); err != nil {
			return err
		}
	}
	if desc == nil {
		return packio.NewValidationError(
			"Object missing required field `"+union.TagField+"`", path, packio.ErrMissingField)
	}

	s.pos = start
	cv := reflect.New(desc.GoType).Elem()
	if err := s.structMap(cv, desc, n, path); err != nil {
		return err
	}
	return setUnionValue(dst, cv, desc)
}

// setUnionValue stores a decoded member into the union's interface slot.
func setUnionValue(dst reflect.Value, cv reflect.Value, desc *schema.StructDesc) error {
	if dst.Kind() != reflect.Interface {
		return packio.NewDecodeError(
			fmt.Sprintf("cannot store union member %s into %s", desc.Name, dst.Type()), nil)
	}
	if desc.GoType.Implements(dst.Type()) {
		dst.Set(cv)
		return nil
	}
	if reflect.PtrTo(desc.GoType).Implements(dst.Type()) {
		dst.Set(cv.Addr())
		return nil
	}
	return packio.NewDecodeError(
		fmt.Sprintf("union member %s does not implement %s", desc.Name, dst.Type()), nil)
}

func (s *decodeState) typedDictMap(dst reflect.Value, td *schema.TypedDictDesc, n int, path *packio.PathNode) error {
	dst.Set(reflect.MakeMapWithSize(dst.Type(), n))
	seen := make([]bool, len(td.Fields))
	for i := 0; i < n; i++ {
		key, err := s.readKey(path)
		if err != nil {
			return err
		}
		var f *schema.TDField
		fi := -1
		for j := range td.Fields {
			if td.Fields[j].Name == key {
				f, fi = &td.Fields[j], j
				break
			}
		}
		if f == nil {
			if err := s.skipValue(); err != nil {
				return err
			}
			continue
		}
		frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: key}
		vv := reflect.New(f.Type).Elem()
		if err := s.value(vv, f.Node, &frame); err != nil {
			return err
		}
		dst.SetMapIndex(reflect.ValueOf(key), vv)
		seen[fi] = true
	}
	// required keys sort to the front of the field list
	for i := 0; i < td.NRequired; i++ {
		if !seen[i] {
			return packio.NewValidationError(
				"Object missing required field `"+td.Fields[i].Name+"`", path, packio.ErrMissingField)
		}
	}
	return nil
}

// skipValue walks one value without building anything.
func (s *decodeState) skipValue() error {
	s.depth++
	if s.depth > maxDepth {
		s.depth--
		return packio.NewDecodeError("recursion limit exceeded while decoding", packio.ErrMalformed)
	}
	err := s.skipInner()
	s.depth--
	return err
}

func (s *decodeState) skipInner() error {
	b, err := s.readByte()
	if err != nil {
		return err
	}
	switch {
	case b <= mpFixIntMax || b >= mpNegFixInt:
		return nil
	case b >= mpFixStr && b < mpNil:
		_, err := s.readN(int(b & 0x1f))
		return err
	case b >= mpFixArray && b < mpFixStr:
		return s.skipSeq(int(b & 0x0f))
	case b >= mpFixMap && b < mpFixArray:
		return s.skipSeq(2 * int(b&0x0f))
	}
	switch b {
	case mpNil, mpFalse, mpTrue:
		return nil
	case mpUint8, mpInt8:
		_, err := s.readN(1)
		return err
	case mpUint16, mpInt16:
		_, err := s.readN(2)
		return err
	case mpUint32, mpInt32, mpFloat32:
		_, err := s.readN(4)
		return err
	case mpUint64, mpInt64, mpFloat64:
		_, err := s.readN(8)
		return err
	case mpFixExt1, mpFixExt2, mpFixExt4, mpFixExt8, mpFixExt16:
		_, err := s.readN(1 + 1<<(b-mpFixExt1))
		return err
	case mpStr8, mpBin8:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n))
		return err
	case mpStr16, mpBin16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n))
		return err
	case mpStr32, mpBin32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n))
		return err
	case mpExt8:
		n, err := s.readByte()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n) + 1)
		return err
	case mpExt16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n) + 1)
		return err
	case mpExt32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		_, err = s.readN(int(n) + 1)
		return err
	case mpArray16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.skipSeq(int(n))
	case mpArray32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.skipSeq(int(n))
	case mpMap16:
		n, err := s.readBE16()
		if err != nil {
			return err
		}
		return s.skipSeq(2 * int(n))
	case mpMap32:
		n, err := s.readBE32()
		if err != nil {
			return err
		}
		return s.skipSeq(2 * int(n))
	}
	return packio.NewDecodeError(
		"MessagePack data is malformed: invalid opcode 0x"+strconv.FormatUint(uint64(b), 16),
		packio.ErrMalformed)
}

func (s *decodeState) skipSeq(n int) error {
	for i := 0; i < n; i++ {
		if err := s.skipValue(); err != nil {
			return err
		}
	}
	return nil
}
