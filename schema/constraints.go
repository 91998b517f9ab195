package schema

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"unicode/utf8"
)

// Meta carries constraint metadata attached to one schema position, either
// programmatically or parsed from a `pack:"..."` struct tag. The zero Meta
// constrains nothing.
type Meta struct {
	// Numeric bounds. Accepted dynamic types are int, int64, uint64 and
	// float64; int-typed bounds apply to int positions, float-typed to
	// float positions. Exclusive bounds are rewritten into inclusive ones
	// at build time.
	Ge, Gt, Le, Lt any

	// MultipleOf constrains a numeric value to an exact multiple.
	MultipleOf any

	// Pattern is an unanchored regular expression a string must contain a
	// match of.
	Pattern string

	// MinLength/MaxLength constrain string length (in code points), byte
	// length, array element count or map entry count, depending on the
	// annotated type.
	MinLength, MaxLength *int

	// TzAware / TzNaive require the presence or absence of a UTC offset on
	// datetime and time values.
	TzAware, TzNaive bool

	// StrValues / IntValues restrict the position to a literal value set.
	StrValues []string
	IntValues []int64
}

func (m *Meta) isZero() bool {
	return m == nil || (m.Ge == nil && m.Gt == nil && m.Le == nil && m.Lt == nil &&
		m.MultipleOf == nil && m.Pattern == "" && m.MinLength == nil && m.MaxLength == nil &&
		!m.TzAware && !m.TzNaive && m.StrValues == nil && m.IntValues == nil)
}

// constraints is the builder's resolved form of one or more Meta values.
type constraints struct {
	mask Kind

	intMin, intMax, intMul       int64
	floatMin, floatMax, floatMul float64
	regex                        *regexp.Regexp

	strMin, strMax     uint64
	bytesMin, bytesMax uint64
	arrMin, arrMax     uint64
	mapMin, mapMax     uint64
}

// numBound splits a dynamic bound into its int or float form.
func numBound(v any) (i int64, f float64, isFloat bool, err error) {
	switch n := v.(type) {
	case int:
		return int64(n), 0, false, nil
	case int64:
		return n, 0, false, nil
	case uint64:
		if n > math.MaxInt64 {
			return 0, 0, false, fmt.Errorf("integer constraint %d is outside int64 range", n)
		}
		return int64(n), 0, false, nil
	case float64:
		return 0, n, true, nil
	default:
		return 0, 0, false, fmt.Errorf("unsupported constraint value type %T", v)
	}
}

// merge folds one Meta into the resolved constraint set. typeMask is the
// collected kind mask of the position, used to route length constraints.
func (c *constraints) merge(m *Meta, typeMask Kind) error {
	if m == nil {
		return nil
	}

	if err := c.mergeBound(m.Ge, KindIntMin, KindFloatGe, 0, 0); err != nil {
		return err
	}
	if err := c.mergeBound(m.Gt, KindIntMin, KindFloatGe, 1, 1); err != nil {
		return err
	}
	if err := c.mergeBound(m.Le, KindIntMax, KindFloatLe, 0, 0); err != nil {
		return err
	}
	if err := c.mergeBound(m.Lt, KindIntMax, KindFloatLe, -1, -1); err != nil {
		return err
	}

	if m.MultipleOf != nil {
		i, f, isFloat, err := numBound(m.MultipleOf)
		if err != nil {
			return err
		}
		if isFloat {
			if f <= 0 {
				return fmt.Errorf("multiple_of must be positive, got %v", f)
			}
			c.mask |= KindFloatMultipleOf
			c.floatMul = f
		} else {
			if i <= 0 {
				return fmt.Errorf("multiple_of must be positive, got %d", i)
			}
			c.mask |= KindIntMultipleOf
			c.intMul = i
		}
	}

	if m.Pattern != "" {
		re, err := regexp.Compile(m.Pattern)
		if err != nil {
			return fmt.Errorf("invalid pattern constraint: %w", err)
		}
		c.mask |= KindStrRegex
		c.regex = re
	}

	if m.MinLength != nil || m.MaxLength != nil {
		lo, hi := KindStrMinLength, KindStrMaxLength
		loP, hiP := &c.strMin, &c.strMax
		switch {
		case typeMask&kindStrLike != 0:
		case typeMask&(KindBytes|KindByteArray) != 0:
			lo, hi, loP, hiP = KindBytesMinLength, KindBytesMaxLength, &c.bytesMin, &c.bytesMax
		case typeMask&(kindArrayGroup|KindFixTuple|KindAny) != 0:
			lo, hi, loP, hiP = KindArrayMinLength, KindArrayMaxLength, &c.arrMin, &c.arrMax
		case typeMask&KindDict != 0:
			lo, hi, loP, hiP = KindMapMinLength, KindMapMaxLength, &c.mapMin, &c.mapMax
		default:
			return fmt.Errorf("min_length/max_length constraints require a str, bytes, array or map type (got %v)", typeMask)
		}
		if m.MinLength != nil {
			if *m.MinLength < 0 {
				return fmt.Errorf("min_length must be >= 0, got %d", *m.MinLength)
			}
			c.mask |= lo
			*loP = uint64(*m.MinLength)
		}
		if m.MaxLength != nil {
			if *m.MaxLength < 0 {
				return fmt.Errorf("max_length must be >= 0, got %d", *m.MaxLength)
			}
			c.mask |= hi
			*hiP = uint64(*m.MaxLength)
		}
	}

	if m.TzAware && m.TzNaive {
		return fmt.Errorf("tz constraints are mutually exclusive")
	}
	if m.TzAware {
		c.mask |= KindTzAware
	}
	if m.TzNaive {
		c.mask |= KindTzNaive
	}
	return nil
}

// mergeBound resolves one bound. intAdj/floatAdj are +1/-1 for exclusive
// bounds: `gt x` becomes min x+1 for integers and nextafter for floats.
func (c *constraints) mergeBound(v any, intKind, floatKind Kind, intAdj, floatAdj int) error {
	if v == nil {
		return nil
	}
	i, f, isFloat, err := numBound(v)
	if err != nil {
		return err
	}
	if isFloat {
		switch floatAdj {
		case 1:
			f = math.Nextafter(f, math.Inf(1))
		case -1:
			f = math.Nextafter(f, math.Inf(-1))
		}
		c.mask |= floatKind
		if floatKind == KindFloatGe {
			c.floatMin = f
		} else {
			c.floatMax = f
		}
		return nil
	}
	switch intAdj {
	case 1:
		if i == math.MaxInt64 {
			return fmt.Errorf("integer constraint gt %d is outside int64 range", i)
		}
		i++
	case -1:
		if i == math.MinInt64 {
			return fmt.Errorf("integer constraint lt %d is outside int64 range", i)
		}
		i--
	}
	c.mask |= intKind
	if intKind == KindIntMin {
		c.intMin = i
	} else {
		c.intMax = i
	}
	return nil
}

// Constraint checks, called by the decoders at the value production site.
// They return the empty string on success, otherwise a ready-to-wrap message.

// CheckSignedInt validates an integer given as a sign and magnitude, keeping
// exact semantics for u64 values above int64 range.
func (n *TypeNode) CheckSignedInt(neg bool, mag uint64) string {
	if n.mask&KindIntMin != 0 {
		min := int64(n.slot(KindIntMin).num)
		if !signedGE(neg, mag, min) {
			return "Expected `int` >= " + strconv.FormatInt(min, 10)
		}
	}
	if n.mask&KindIntMax != 0 {
		max := int64(n.slot(KindIntMax).num)
		if !signedLE(neg, mag, max) {
			return "Expected `int` <= " + strconv.FormatInt(max, 10)
		}
	}
	if n.mask&KindIntMultipleOf != 0 {
		mul := uint64(n.slot(KindIntMultipleOf).num)
		if mag%mul != 0 {
			return "Expected `int` that's a multiple of " + strconv.FormatUint(mul, 10)
		}
	}
	return ""
}

// signedGE reports (neg ? -mag : mag) >= b.
func signedGE(neg bool, mag uint64, b int64) bool {
	if !neg {
		if b <= 0 {
			return true
		}
		return mag >= uint64(b)
	}
	if b >= 0 {
		return mag == 0 && b == 0
	}
	return mag <= uint64(-(b+1))+1
}

// signedLE reports (neg ? -mag : mag) <= b.
func signedLE(neg bool, mag uint64, b int64) bool {
	if !neg {
		if b < 0 {
			return false
		}
		return mag <= uint64(b)
	}
	if b >= 0 {
		return true
	}
	return mag >= uint64(-(b+1))+1
}

// CheckFloat validates a float against the node's float bounds.
func (n *TypeNode) CheckFloat(v float64) string {
	if n.mask&KindFloatGe != 0 {
		if min := n.FloatMin(); !(v >= min) {
			return "Expected `float` >= " + strconv.FormatFloat(min, 'g', -1, 64)
		}
	}
	if n.mask&KindFloatLe != 0 {
		if max := n.FloatMax(); !(v <= max) {
			return "Expected `float` <= " + strconv.FormatFloat(max, 'g', -1, 64)
		}
	}
	if n.mask&KindFloatMultipleOf != 0 {
		if mul := n.FloatMultipleOf(); math.Mod(v, mul) != 0 {
			return "Expected `float` that's a multiple of " + strconv.FormatFloat(mul, 'g', -1, 64)
		}
	}
	return ""
}

// CheckStr validates string constraints. Lengths count code points.
func (n *TypeNode) CheckStr(s string) string {
	if n.mask&(KindStrMinLength|KindStrMaxLength) != 0 {
		l := utf8.RuneCountInString(s)
		if n.mask&KindStrMinLength != 0 && l < n.StrMinLength() {
			return "Expected `str` of length >= " + strconv.Itoa(n.StrMinLength())
		}
		if n.mask&KindStrMaxLength != 0 && l > n.StrMaxLength() {
			return "Expected `str` of length <= " + strconv.Itoa(n.StrMaxLength())
		}
	}
	if n.mask&KindStrRegex != 0 {
		if !n.Regex().MatchString(s) {
			return "Expected `str` matching regex '" + n.Regex().String() + "'"
		}
	}
	return ""
}

// CheckBytesLen validates byte-length constraints.
func (n *TypeNode) CheckBytesLen(l int) string {
	if n.mask&KindBytesMinLength != 0 && l < n.BytesMinLength() {
		return "Expected `bytes` of length >= " + strconv.Itoa(n.BytesMinLength())
	}
	if n.mask&KindBytesMaxLength != 0 && l > n.BytesMaxLength() {
		return "Expected `bytes` of length <= " + strconv.Itoa(n.BytesMaxLength())
	}
	return ""
}

// CheckArrayLen validates array-length constraints.
func (n *TypeNode) CheckArrayLen(l int) string {
	if n.mask&KindArrayMinLength != 0 && l < n.ArrayMinLength() {
		return "Expected `array` of length >= " + strconv.Itoa(n.ArrayMinLength())
	}
	if n.mask&KindArrayMaxLength != 0 && l > n.ArrayMaxLength() {
		return "Expected `array` of length <= " + strconv.Itoa(n.ArrayMaxLength())
	}
	return ""
}

// CheckMapLen validates map-length constraints.
func (n *TypeNode) CheckMapLen(l int) string {
	if n.mask&KindMapMinLength != 0 && l < n.MapMinLength() {
		return "Expected `object` of length >= " + strconv.Itoa(n.MapMinLength())
	}
	if n.mask&KindMapMaxLength != 0 && l > n.MapMaxLength() {
		return "Expected `object` of length <= " + strconv.Itoa(n.MapMaxLength())
	}
	return ""
}

// CheckTz validates timezone constraints. what names the value kind for the
// message, "datetime" or "time".
func (n *TypeNode) CheckTz(hasOffset bool, what string) string {
	if n.mask&KindTzAware != 0 && !hasOffset {
		return "Expected `" + what + "` with a timezone component"
	}
	if n.mask&KindTzNaive != 0 && hasOffset {
		return "Expected `" + what + "` with no timezone component"
	}
	return ""
}
