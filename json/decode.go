package json

import (
	"encoding/base64"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"unicode/utf8"

	"github.com/shopspring/decimal"

	"github.com/schemapack/schemapack/packio"
	"github.com/schemapack/schemapack/schema"
)

// DecHook converts a decoded value into a type the decoder has no built-in
// path for.
type DecHook func(t reflect.Type, v any) (any, error)

// Decoder deserializes JSON into values of one target type. Building a
// Decoder compiles the type's schema once; a Decoder is safe for concurrent
// use as long as the hook is.
type Decoder struct {
	DecHook DecHook

	typ  reflect.Type
	node *schema.TypeNode
}

// NewDecoder compiles a decoder for values of type t. Types with no JSON
// representation (for example ext values, even when nested inside a struct
// field) are rejected here rather than at decode time.
func NewDecoder(t reflect.Type, meta ...*schema.Meta) (*Decoder, error) {
	node, err := schema.Compile(t, meta...)
	if err != nil {
		return nil, err
	}
	if !node.JSONCompatible() {
		return nil, fmt.Errorf("json: type %s cannot be represented in JSON", t)
	}
	return &Decoder{typ: t, node: node}, nil
}

// Decode deserializes one message, returning a value of the decoder's target
// type.
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
	fl := packio.SharedFreelist()
	s := decodeState{dec: d, data: data, scratch: fl.Get(64)}
	defer func() { fl.Put(s.scratch) }()

	if err := s.value(dst, d.node, nil); err != nil {
		return err
	}
	s.skipWS()
	if s.pos != len(s.data) {
		return packio.NewDecodeError("JSON data is malformed: trailing characters", packio.ErrMalformed)
	}
	return nil
}

type decodeState struct {
	dec     *Decoder
	data    []byte
	pos     int
	depth   int
	scratch []byte
}

func errTruncated() error {
	return packio.NewDecodeError("JSON data is malformed: truncated", packio.ErrTruncated)
}

func malformedChar(c byte) error {
	return packio.NewDecodeError(
		"JSON data is malformed: invalid character "+strconv.QuoteRune(rune(c)),
		packio.ErrMalformed)
}

func (s *decodeState) skipWS() {
	for s.pos < len(s.data) {
		switch s.data[s.pos] {
		case ' ', '\n', '\r', '\t':
			s.pos++
		default:
			return
		}
	}
}

// expectLit consumes a literal token whose first byte has been peeked.
func (s *decodeState) expectLit(lit string) error {
	if len(s.data)-s.pos < len(lit) {
		return errTruncated()
	}
	if string(s.data[s.pos:s.pos+len(lit)]) != lit {
		return malformedChar(s.data[s.pos])
	}
	s.pos += len(lit)
	return nil
}

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
	s.skipWS()
	if s.pos >= len(s.data) {
		return errTruncated()
	}

	if dst.Kind() == reflect.Ptr {
		if s.data[s.pos] == 'n' {
			if err := s.expectLit("null"); err != nil {
				return err
			}
			if !node.Has(schema.KindNone | schema.KindAny) {
				return wrongType(node, "null", path)
			}
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

	switch c := s.data[s.pos]; {
	case c == '{':
		return s.objectValue(dst, node, path)
	case c == '[':
		return s.arrayValue(dst, node, path)
	case c == '"':
		b, ascii, err := s.parseString()
		if err != nil {
			return err
		}
		return s.strValue(dst, node, b, ascii, path)
	case c == 't':
		if err := s.expectLit("true"); err != nil {
			return err
		}
		return s.boolValue(dst, node, true, path)
	case c == 'f':
		if err := s.expectLit("false"); err != nil {
			return err
		}
		return s.boolValue(dst, node, false, path)
	case c == 'n':
		if err := s.expectLit("null"); err != nil {
			return err
		}
		if !node.Has(schema.KindNone | schema.KindAny) {
			return wrongType(node, "null", path)
		}
		dst.Set(reflect.Zero(dst.Type()))
		return nil
	case c == '-' || (c >= '0' && c <= '9'):
		num, err := s.parseNumber(path)
		if err != nil {
			return err
		}
		return s.numberValue(dst, node, num, path)
	}
	return malformedChar(s.data[s.pos])
}

// parseString scans the string starting at the current '"'. Escape-free
// strings return a zero-copy view into the input; anything with an escape is
// expanded into the scratch buffer.
func (s *decodeState) parseString() ([]byte, bool, error) {
	s.pos++
	start := s.pos
	i := s.pos
	ascii := true
	for {
		for i+8 <= len(s.data) {
			if byteClass[s.data[i]]|byteClass[s.data[i+1]]|
				byteClass[s.data[i+2]]|byteClass[s.data[i+3]]|
				byteClass[s.data[i+4]]|byteClass[s.data[i+5]]|
				byteClass[s.data[i+6]]|byteClass[s.data[i+7]] != 0 {
				break
			}
			i += 8
		}
		for i < len(s.data) && byteClass[s.data[i]] == ccPlain {
			i++
		}
		if i >= len(s.data) {
			return nil, false, errTruncated()
		}
		switch c := s.data[i]; {
		case c == '"':
			s.pos = i + 1
			return s.data[start:i], ascii, nil
		case c == '\\':
			return s.parseStringEscaped(start, i, ascii)
		case byteClass[c] == ccHigh:
			ascii = false
			i++
		default:
			return nil, false, packio.NewDecodeError(
				"JSON data is malformed: control character in string", packio.ErrMalformed)
		}
	}
}

func (s *decodeState) parseStringEscaped(start, i int, ascii bool) ([]byte, bool, error) {
	sc := append(s.scratch[:0], s.data[start:i]...)
	for {
		if i >= len(s.data) {
			return nil, false, errTruncated()
		}
		c := s.data[i]
		switch {
		case c == '"':
			s.pos = i + 1
			s.scratch = sc
			return sc, ascii, nil
		case c == '\\':
			i++
			if i >= len(s.data) {
				return nil, false, errTruncated()
			}
			switch s.data[i] {
			case '"', '\\', '/':
				sc = append(sc, s.data[i])
				i++
			case 'b':
				sc = append(sc, '\b')
				i++
			case 'f':
				sc = append(sc, '\f')
				i++
			case 'n':
				sc = append(sc, '\n')
				i++
			case 'r':
				sc = append(sc, '\r')
				i++
			case 't':
				sc = append(sc, '\t')
				i++
			case 'u':
				r, ni, err := s.parseUnicodeEscape(i + 1)
				if err != nil {
					return nil, false, err
				}
				if r > 0x7f {
					ascii = false
				}
				sc = utf8.AppendRune(sc, r)
				i = ni
			default:
				return nil, false, packio.NewDecodeError(
					"JSON data is malformed: invalid escape", packio.ErrMalformed)
			}
		case byteClass[c] == ccSpecial:
			return nil, false, packio.NewDecodeError(
				"JSON data is malformed: control character in string", packio.ErrMalformed)
		default:
			if byteClass[c] == ccHigh {
				ascii = false
			}
			sc = append(sc, c)
			i++
		}
	}
}

// parseUnicodeEscape decodes the 4 hex digits after "\u" at i, combining
// surrogate pairs. It returns the rune and the position after the escape.
func (s *decodeState) parseUnicodeEscape(i int) (rune, int, error) {
	r, err := s.hex4(i)
	if err != nil {
		return 0, 0, err
	}
	i += 4
	if r >= 0xd800 && r <= 0xdbff {
		if i+6 > len(s.data) || s.data[i] != '\\' || s.data[i+1] != 'u' {
			return 0, 0, packio.NewDecodeError(
				"JSON data is malformed: unpaired surrogate", packio.ErrMalformed)
		}
		lo, err := s.hex4(i + 2)
		if err != nil {
			return 0, 0, err
		}
		if lo < 0xdc00 || lo > 0xdfff {
			return 0, 0, packio.NewDecodeError(
				"JSON data is malformed: unpaired surrogate", packio.ErrMalformed)
		}
		return 0x10000 + (r-0xd800)<<10 + (lo - 0xdc00), i + 6, nil
	}
	if r >= 0xdc00 && r <= 0xdfff {
		return 0, 0, packio.NewDecodeError(
			"JSON data is malformed: unpaired surrogate", packio.ErrMalformed)
	}
	return r, i, nil
}

func (s *decodeState) hex4(i int) (rune, error) {
	if i+4 > len(s.data) {
		return 0, errTruncated()
	}
	var r rune
	for _, c := range s.data[i : i+4] {
		r <<= 4
		switch {
		case c >= '0' && c <= '9':
			r |= rune(c - '0')
		case c >= 'a' && c <= 'f':
			r |= rune(c-'a') + 10
		case c >= 'A' && c <= 'F':
			r |= rune(c-'A') + 10
		default:
			return 0, packio.NewDecodeError(
				"JSON data is malformed: invalid escape", packio.ErrMalformed)
		}
	}
	return r, nil
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

func (s *decodeState) strValue(dst reflect.Value, node *schema.TypeNode, b []byte, ascii bool, path *packio.PathNode) error {
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
	case m&(schema.KindBytes|schema.KindByteArray) != 0:
		out, derr := base64.StdEncoding.DecodeString(string(b))
		if derr != nil {
			return constraintErr("Invalid base64 encoded string", path)
		}
		if m&schema.KindByteArray != 0 {
			if len(out) != dst.Len() {
				return constraintErr("Expected `bytes` of length "+strconv.Itoa(dst.Len()), path)
			}
			reflect.Copy(dst, reflect.ValueOf(out))
			return nil
		}
		if msg := node.CheckBytesLen(len(out)); msg != "" {
			return constraintErr(msg, path)
		}
		dst.SetBytes(out)
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

func (s *decodeState) numberValue(dst reflect.Value, node *schema.TypeNode, num jsonNumber, path *packio.PathNode) error {
	m := node.Mask()
	if num.isInt {
		switch {
		case m&schema.KindInt != 0:
			if msg := node.CheckSignedInt(num.neg, num.mag); msg != "" {
				return constraintErr(msg, path)
			}
			return setIntValue(dst, num.neg, num.mag, path)
		case m&(schema.KindIntEnum|schema.KindIntLiteral) != 0:
			i, ok := signedToInt64(num.neg, num.mag)
			var member any
			if ok {
				member = node.IntLookup().Get(i)
			}
			if member == nil {
				what := "Invalid value "
				if m&schema.KindIntEnum != 0 {
					what = "Invalid enum value "
				}
				txt := strconv.FormatUint(num.mag, 10)
				if num.neg {
					txt = "-" + txt
				}
				return packio.NewValidationError(what+txt, path, packio.ErrConstraint)
			}
			return setMember(dst, member)
		case m&schema.KindFloat != 0:
			f := float64(num.mag)
			if num.neg {
				f = -f
			}
			return s.setFloat(dst, node, f, path)
		case m&schema.KindAny != 0:
			if msg := node.CheckSignedInt(num.neg, num.mag); msg != "" {
				return constraintErr(msg, path)
			}
			if !num.neg && num.mag > math.MaxInt64 {
				dst.Set(reflect.ValueOf(num.mag))
				return nil
			}
			i, _ := signedToInt64(num.neg, num.mag)
			dst.Set(reflect.ValueOf(i))
			return nil
		}
		return wrongType(node, "int", path)
	}

	switch {
	case m&schema.KindFloat != 0:
		return s.setFloat(dst, node, num.f, path)
	case m&schema.KindAny != 0:
		if num.intShaped {
			return packio.NewValidationError("Integer value out of range", path, packio.ErrOverflow)
		}
		if msg := node.CheckFloat(num.f); msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(reflect.ValueOf(num.f))
		return nil
	case num.intShaped && m&(schema.KindInt|schema.KindIntEnum|schema.KindIntLiteral) != 0:
		return packio.NewValidationError("Integer value out of range", path, packio.ErrOverflow)
	}
	return wrongType(node, "float", path)
}

func (s *decodeState) setFloat(dst reflect.Value, node *schema.TypeNode, f float64, path *packio.PathNode) error {
	if msg := node.CheckFloat(f); msg != "" {
		return constraintErr(msg, path)
	}
	if dst.Kind() == reflect.Interface {
		dst.Set(reflect.ValueOf(f))
		return nil
	}
	dst.SetFloat(f)
	return nil
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

func (s *decodeState) customValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	if s.pos < len(s.data) && s.data[s.pos] == 'n' && node.Has(schema.KindNone) {
		if err := s.expectLit("null"); err != nil {
			return err
		}
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

// objectKey parses the next object key, which must be a string, and the
// following colon.
func (s *decodeState) objectKey() (string, error) {
	s.skipWS()
	if s.pos >= len(s.data) {
		return "", errTruncated()
	}
	if s.data[s.pos] != '"' {
		return "", malformedChar(s.data[s.pos])
	}
	b, ascii, err := s.parseString()
	if err != nil {
		return "", err
	}
	key := internKey(b, ascii)
	s.skipWS()
	if s.pos >= len(s.data) {
		return "", errTruncated()
	}
	if s.data[s.pos] != ':' {
		return "", malformedChar(s.data[s.pos])
	}
	s.pos++
	return key, nil
}

// objectSep consumes the separator after an object or array element,
// returning true when the closer was reached.
func (s *decodeState) sep(closer byte) (bool, error) {
	s.skipWS()
	if s.pos >= len(s.data) {
		return false, errTruncated()
	}
	switch s.data[s.pos] {
	case ',':
		s.pos++
		return false, nil
	case closer:
		s.pos++
		return true, nil
	}
	return false, malformedChar(s.data[s.pos])
}

// openIsEmpty consumes the opener and reports whether the container closes
// immediately.
func (s *decodeState) openIsEmpty(closer byte) (bool, error) {
	s.pos++
	s.skipWS()
	if s.pos >= len(s.data) {
		return false, errTruncated()
	}
	if s.data[s.pos] == closer {
		s.pos++
		return true, nil
	}
	return false, nil
}

func (s *decodeState) objectValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	m := node.Mask()
	switch {
	case m&schema.KindDict != 0:
		return s.dictValue(dst, node, path)
	case m&schema.KindStruct != 0:
		return s.structObject(dst, node.StructDesc(), path)
	case m&schema.KindStructUnion != 0:
		return s.unionObject(dst, node.StructUnion(), path)
	case m&(schema.KindTypedDict|schema.KindDataclass) != 0:
		return s.typedDictObject(dst, node.TypedDict(), path)
	case m&schema.KindAny != 0:
		out := reflect.MakeMap(anyMapType)
		n := 0
		empty, err := s.openIsEmpty('}')
		if err != nil {
			return err
		}
		for !empty {
			key, err := s.objectKey()
			if err != nil {
				return err
			}
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: key}
			vv := reflect.New(anyMapType.Elem()).Elem()
			if err := s.value(vv, schema.AnyNode(), &frame); err != nil {
				return err
			}
			out.SetMapIndex(reflect.ValueOf(key), vv)
			n++
			done, err := s.sep('}')
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		if msg := node.CheckMapLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		dst.Set(out)
		return nil
	}
	return wrongType(node, "object", path)
}

func (s *decodeState) dictValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	keyNode, valNode := node.DictKey(), node.DictValue()
	dst.Set(reflect.MakeMap(dst.Type()))
	kt, vt := dst.Type().Key(), dst.Type().Elem()
	n := 0
	empty, err := s.openIsEmpty('}')
	if err != nil {
		return err
	}
	for !empty {
		s.skipWS()
		if s.pos >= len(s.data) {
			return errTruncated()
		}
		if s.data[s.pos] != '"' {
			return malformedChar(s.data[s.pos])
		}
		kb, ascii, err := s.parseString()
		if err != nil {
			return err
		}
		kframe := packio.PathNode{Parent: path, Index: packio.PathKey}
		kv := reflect.New(kt).Elem()
		var keyStr string
		if kt.Kind() == reflect.String || kt.Kind() == reflect.Interface {
			keyStr = internKey(kb, ascii)
		} else {
			keyStr = string(kb)
		}
		if err := s.keyFromString(kv, keyNode, keyStr, &kframe); err != nil {
			return err
		}
		s.skipWS()
		if s.pos >= len(s.data) {
			return errTruncated()
		}
		if s.data[s.pos] != ':' {
			return malformedChar(s.data[s.pos])
		}
		s.pos++

		vframe := packio.PathNode{Parent: path, Index: packio.PathEllipsis}
		if kv.Kind() == reflect.String {
			vframe = packio.PathNode{Parent: path, Index: packio.PathField, Field: kv.String()}
		}
		vv := reflect.New(vt).Elem()
		if err := s.value(vv, valNode, &vframe); err != nil {
			return err
		}
		dst.SetMapIndex(kv, vv)
		n++
		done, err := s.sep('}')
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	if msg := node.CheckMapLen(n); msg != "" {
		return constraintErr(msg, path)
	}
	return nil
}

// keyFromString decodes a non-array, non-object schema value from an object
// key, which JSON delivers as a quoted string regardless of its logical type.
func (s *decodeState) keyFromString(dst reflect.Value, node *schema.TypeNode, key string, path *packio.PathNode) error {
	m := node.Mask()
	if m&(schema.KindInt|schema.KindIntEnum|schema.KindIntLiteral) != 0 {
		neg := false
		txt := key
		if len(txt) > 0 && txt[0] == '-' {
			neg = true
			txt = txt[1:]
		}
		mag, err := strconv.ParseUint(txt, 10, 64)
		if err != nil {
			return packio.NewValidationError("Expected `int`", path, packio.ErrWrongType)
		}
		if m&schema.KindInt != 0 {
			if msg := node.CheckSignedInt(neg, mag); msg != "" {
				return constraintErr(msg, path)
			}
			return setIntValue(dst, neg, mag, path)
		}
		num := jsonNumber{isInt: true, intShaped: true, neg: neg, mag: mag}
		return s.numberValue(dst, node, num, path)
	}
	return s.strValue(dst, node, []byte(key), true, path)
}

func (s *decodeState) structObject(dst reflect.Value, desc *schema.StructDesc, path *packio.PathNode) error {
	base := dst.Addr().UnsafePointer()
	seen := make([]bool, len(desc.Fields))
	rot := 0
	tagSeen := false

	empty, err := s.openIsEmpty('}')
	if err != nil {
		return err
	}
	for !empty {
		key, err := s.objectKey()
		if err != nil {
			return err
		}
		if desc.Tagged && key == desc.TagField {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: desc.TagField}
			if err := s.matchTag(desc, &frame); err != nil {
				return err
			}
			tagSeen = true
		} else if fi, f := desc.FindEncoded(key, &rot); f != nil {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: f.EncodeName}
			if err := s.value(f.Value(base), f.Node, &frame); err != nil {
				return err
			}
			seen[fi] = true
		} else {
			if desc.ForbidUnknown {
				return packio.NewValidationError(
					"Object contains unknown field `"+key+"`", path, packio.ErrUnknownField)
			}
			if err := s.skipValue(); err != nil {
				return err
			}
		}
		done, err := s.sep('}')
		if err != nil {
			return err
		}
		if done {
			break
		}
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

func (s *decodeState) readStrScalar(path *packio.PathNode) (string, error) {
	s.skipWS()
	if s.pos >= len(s.data) {
		return "", errTruncated()
	}
	if s.data[s.pos] != '"' {
		return "", packio.NewValidationError("Expected `str`", path, packio.ErrWrongType)
	}
	b, _, err := s.parseString()
	if err != nil {
		return "", err
	}
	return string(b), nil
}

func (s *decodeState) readIntScalar(path *packio.PathNode) (int64, error) {
	s.skipWS()
	if s.pos >= len(s.data) {
		return 0, errTruncated()
	}
	c := s.data[s.pos]
	if c != '-' && (c < '0' || c > '9') {
		return 0, packio.NewValidationError("Expected `int`", path, packio.ErrWrongType)
	}
	num, err := s.parseNumber(path)
	if err != nil {
		return 0, err
	}
	if !num.isInt {
		return 0, packio.NewValidationError("Expected `int`", path, packio.ErrWrongType)
	}
	i, ok := signedToInt64(num.neg, num.mag)
	if !ok {
		return 0, packio.NewValidationError("Integer value out of range", path, packio.ErrOverflow)
	}
	return i, nil
}

// unionObject scans keys for the discriminator, skipping values, then rewinds
// to the opening brace and decodes the object against the resolved member.
// Keys seen before the tag are parsed twice.
func (s *decodeState) unionObject(dst reflect.Value, union *schema.StructUnion, path *packio.PathNode) error {
	start := s.pos
	var desc *schema.StructDesc

	empty, err := s.openIsEmpty('}')
	if err != nil {
		return err
	}
	for !empty {
		key, err := s.objectKey()
		if err != nil {
			return err
		}
		if key == union.TagField {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: union.TagField}
			if union.ByInt != nil {
				tag, err := s.readIntScalar(&frame)
				if err != nil {
					return err
				}
				if desc = union.GetInt(tag); desc == nil {
					return packio.NewValidationError(
						"Invalid value "+strconv.FormatInt(tag, 10), &frame, packio.ErrUnknownTag)
				}
			} else {
				tag, err := s.readStrScalar(&frame)
				if err != nil {
					return err
				}
				if desc = union.GetStr(tag); desc == nil {
					return packio.NewValidationError(
						"Invalid value '"+tag+"'", &frame, packio.ErrUnknownTag)
				}
			}
			break
		}
		if err := s.skipValue(); err != nil {
			return err
		}
		done, err := s.sep('}')
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	if desc == nil {
		return packio.NewValidationError(
			"Object missing required field `"+union.TagField+"`", path, packio.ErrMissingField)
	}

	s.pos = start
	cv := reflect.New(desc.GoType).Elem()
	if err := s.structObject(cv, desc, path); err != nil {
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

func (s *decodeState) typedDictObject(dst reflect.Value, td *schema.TypedDictDesc, path *packio.PathNode) error {
	dst.Set(reflect.MakeMap(dst.Type()))
	seen := make([]bool, len(td.Fields))

	empty, err := s.openIsEmpty('}')
	if err != nil {
		return err
	}
	for !empty {
		key, err := s.objectKey()
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
		} else {
			frame := packio.PathNode{Parent: path, Index: packio.PathField, Field: key}
			vv := reflect.New(f.Type).Elem()
			if err := s.value(vv, f.Node, &frame); err != nil {
				return err
			}
			dst.SetMapIndex(reflect.ValueOf(key), vv)
			seen[fi] = true
		}
		done, err := s.sep('}')
		if err != nil {
			return err
		}
		if done {
			break
		}
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

func (s *decodeState) arrayValue(dst reflect.Value, node *schema.TypeNode, path *packio.PathNode) error {
	m := node.Mask()
	switch {
	case m&kindArrayGroup != 0:
		elem := node.Element()
		n := 0
		if dst.Kind() == reflect.Map { // set
			dst.Set(reflect.MakeMap(dst.Type()))
			kt := dst.Type().Key()
			empty, err := s.openIsEmpty(']')
			if err != nil {
				return err
			}
			for !empty {
				kv := reflect.New(kt).Elem()
				frame := packio.PathNode{Parent: path, Index: n}
				if err := s.value(kv, elem, &frame); err != nil {
					return err
				}
				dst.SetMapIndex(kv, emptyValue)
				n++
				done, err := s.sep(']')
				if err != nil {
					return err
				}
				if done {
					break
				}
			}
		} else {
			sl := reflect.MakeSlice(dst.Type(), 0, 8)
			et := dst.Type().Elem()
			empty, err := s.openIsEmpty(']')
			if err != nil {
				return err
			}
			for !empty {
				ev := reflect.New(et).Elem()
				frame := packio.PathNode{Parent: path, Index: n}
				if err := s.value(ev, elem, &frame); err != nil {
					return err
				}
				sl = reflect.Append(sl, ev)
				n++
				done, err := s.sep(']')
				if err != nil {
					return err
				}
				if done {
					break
				}
			}
			dst.Set(sl)
		}
		if msg := node.CheckArrayLen(n); msg != "" {
			return constraintErr(msg, path)
		}
		return nil

	case m&schema.KindFixTuple != 0:
		want := node.FixTupleLen()
		n := 0
		empty, err := s.openIsEmpty(']')
		if err != nil {
			return err
		}
		for !empty {
			if n >= want {
				return constraintErr("Expected `array` of length "+strconv.Itoa(want), path)
			}
			frame := packio.PathNode{Parent: path, Index: n}
			if err := s.value(dst.Index(n), node.FixTupleElem(n), &frame); err != nil {
				return err
			}
			n++
			done, err := s.sep(']')
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		if n != want {
			return constraintErr("Expected `array` of length "+strconv.Itoa(want), path)
		}
		return nil

	case m&schema.KindStructArray != 0:
		return s.structArray(dst, node.StructDesc(), path)

	case m&schema.KindStructArrayUnion != 0:
		union := node.StructUnion()
		empty, err := s.openIsEmpty(']')
		if err != nil {
			return err
		}
		if empty {
			return shortArray(1, path)
		}
		frame := packio.PathNode{Parent: path, Index: 0}
		var desc *schema.StructDesc
		if union.ByInt != nil {
			tag, err := s.readIntScalar(&frame)
			if err != nil {
				return err
			}
			if desc = union.GetInt(tag); desc == nil {
				return packio.NewValidationError(
					"Invalid value "+strconv.FormatInt(tag, 10), &frame, packio.ErrUnknownTag)
			}
		} else {
			tag, err := s.readStrScalar(&frame)
			if err != nil {
				return err
			}
			if desc = union.GetStr(tag); desc == nil {
				return packio.NewValidationError(
					"Invalid value '"+tag+"'", &frame, packio.ErrUnknownTag)
			}
		}
		cv := reflect.New(desc.GoType).Elem()
		if err := s.structArrayTail(cv, desc, 1, path); err != nil {
			return err
		}
		return setUnionValue(dst, cv, desc)

	case m&schema.KindAny != 0:
		out := reflect.MakeSlice(anyListType, 0, 8)
		n := 0
		empty, err := s.openIsEmpty(']')
		if err != nil {
			return err
		}
		for !empty {
			ev := reflect.New(anyListType.Elem()).Elem()
			frame := packio.PathNode{Parent: path, Index: n}
			if err := s.value(ev, schema.AnyNode(), &frame); err != nil {
				return err
			}
			out = reflect.Append(out, ev)
			n++
			done, err := s.sep(']')
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		if msg := node.CheckArrayLen(n); msg != "" {
			return constraintErr(msg, path)
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

func (s *decodeState) structArray(dst reflect.Value, desc *schema.StructDesc, path *packio.PathNode) error {
	empty, err := s.openIsEmpty(']')
	if err != nil {
		return err
	}
	start := 0
	if desc.Tagged {
		if empty {
			return shortArray(1+len(desc.Fields)-desc.NTrailingDefaults, path)
		}
		frame := packio.PathNode{Parent: path, Index: 0}
		if err := s.matchTag(desc, &frame); err != nil {
			return err
		}
		done, err := s.sep(']')
		if err != nil {
			return err
		}
		if done {
			return s.structArrayFill(dst, desc, 1, path)
		}
		start = 1
	} else if empty {
		return s.structArrayFill(dst, desc, 0, path)
	}
	return s.structArrayTail(dst, desc, start, path)
}

// structArrayTail decodes the positional fields of an array-form struct with
// the cursor just before the element at index start.
func (s *decodeState) structArrayTail(dst reflect.Value, desc *schema.StructDesc, start int, path *packio.PathNode) error {
	base := dst.Addr().UnsafePointer()
	idx := start
	for {
		fi := idx - start
		if fi < len(desc.Fields) {
			f := &desc.Fields[fi]
			frame := packio.PathNode{Parent: path, Index: idx}
			if err := s.value(f.Value(base), f.Node, &frame); err != nil {
				return err
			}
		} else {
			if desc.ForbidUnknown {
				return constraintErr(
					"Expected `array` of at most length "+strconv.Itoa(start+len(desc.Fields)), path)
			}
			if err := s.skipValue(); err != nil {
				return err
			}
		}
		idx++
		done, err := s.sep(']')
		if err != nil {
			return err
		}
		if done {
			break
		}
	}
	return s.structArrayFill(dst, desc, idx, path)
}

// structArrayFill applies defaults for trailing fields a short array left
// out, enforcing the minimum arity.
func (s *decodeState) structArrayFill(dst reflect.Value, desc *schema.StructDesc, n int, path *packio.PathNode) error {
	tag := 0
	if desc.Tagged {
		tag = 1
	}
	min := tag + len(desc.Fields) - desc.NTrailingDefaults
	if n < min {
		return shortArray(min, path)
	}
	base := dst.Addr().UnsafePointer()
	for i := n - tag; i < len(desc.Fields); i++ {
		f := &desc.Fields[i]
		f.ApplyDefault(f.Value(base))
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
	s.skipWS()
	if s.pos >= len(s.data) {
		return errTruncated()
	}
	switch c := s.data[s.pos]; {
	case c == '{':
		empty, err := s.openIsEmpty('}')
		if err != nil {
			return err
		}
		for !empty {
			if _, err := s.objectKey(); err != nil {
				return err
			}
			if err := s.skipValue(); err != nil {
				return err
			}
			done, err := s.sep('}')
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		return nil
	case c == '[':
		empty, err := s.openIsEmpty(']')
		if err != nil {
			return err
		}
		for !empty {
			if err := s.skipValue(); err != nil {
				return err
			}
			done, err := s.sep(']')
			if err != nil {
				return err
			}
			if done {
				break
			}
		}
		return nil
	case c == '"':
		return s.skipString()
	case c == 't':
		return s.expectLit("true")
	case c == 'f':
		return s.expectLit("false")
	case c == 'n':
		return s.expectLit("null")
	case c == '-' || (c >= '0' && c <= '9'):
		_, err := s.parseNumber(nil)
		return err
	}
	return malformedChar(s.data[s.pos])
}

// skipString walks a string token without decoding escapes.
func (s *decodeState) skipString() error {
	for i := s.pos + 1; i < len(s.data); i++ {
		switch c := s.data[i]; {
		case c == '"':
			s.pos = i + 1
			return nil
		case c == '\\':
			i++
		case c < 0x20:
			return packio.NewDecodeError(
				"JSON data is malformed: control character in string", packio.ErrMalformed)
		}
	}
	return errTruncated()
}
