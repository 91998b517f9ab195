package json

import (
	"math"
	"strconv"

	"github.com/schemapack/schemapack/packio"
)

// jsonNumber is the scanned form of one number token. isInt means the value
// fits (neg, mag) exactly; intShaped means the token had no fraction or
// exponent, which matters when an integer overflows: the schema may still
// accept it as a float, but an int position must report overflow rather than
// silently rounding.
type jsonNumber struct {
	isInt     bool
	intShaped bool
	neg       bool
	mag       uint64
	f         float64
}

// pow10 holds the powers of ten exactly representable in a float64; within
// this range a small significand can be scaled with one exact multiply or
// divide.
var pow10 = [...]float64{
	1, 1e1, 1e2, 1e3, 1e4, 1e5, 1e6, 1e7, 1e8, 1e9, 1e10, 1e11,
	1e12, 1e13, 1e14, 1e15, 1e16, 1e17, 1e18, 1e19, 1e20, 1e21, 1e22,
}

const maxExp = 10000

func malformedNumber() error {
	return packio.NewDecodeError("JSON data is malformed: invalid number", packio.ErrMalformed)
}

// parseNumber scans one number token. The fast path reconstructs the double
// from a <=19 digit significand and a small decimal exponent without any
// high-precision arithmetic; everything else goes through strconv.ParseFloat.
func (s *decodeState) parseNumber(path *packio.PathNode) (jsonNumber, error) {
	var num jsonNumber
	start := s.pos

	if s.pos < len(s.data) && s.data[s.pos] == '-' {
		num.neg = true
		s.pos++
	}
	if s.pos >= len(s.data) {
		return num, errTruncated()
	}

	var mant uint64
	ndig := 0
	big := false
	switch c := s.data[s.pos]; {
	case c == '0':
		s.pos++
		ndig = 1
		if s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			// leading zeros are forbidden
			return num, malformedNumber()
		}
	case c >= '1' && c <= '9':
		for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			d := uint64(s.data[s.pos] - '0')
			if ndig >= 19 {
				if big || mant > (math.MaxUint64-d)/10 {
					big = true
				} else {
					mant = mant*10 + d
				}
			} else {
				mant = mant*10 + d
			}
			ndig++
			s.pos++
		}
	default:
		return num, malformedNumber()
	}

	frac := 0
	hasFrac := false
	if s.pos < len(s.data) && s.data[s.pos] == '.' {
		s.pos++
		fd := 0
		for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			if ndig < 19 {
				mant = mant*10 + uint64(s.data[s.pos]-'0')
				frac++
				ndig++
			} else {
				big = true
			}
			fd++
			s.pos++
		}
		if fd == 0 {
			// a decimal point requires at least one fractional digit
			return num, malformedNumber()
		}
		hasFrac = true
	}

	exp := 0
	expNeg := false
	hasExp := false
	if s.pos < len(s.data) && (s.data[s.pos] == 'e' || s.data[s.pos] == 'E') {
		s.pos++
		if s.pos < len(s.data) && (s.data[s.pos] == '+' || s.data[s.pos] == '-') {
			expNeg = s.data[s.pos] == '-'
			s.pos++
		}
		ed := 0
		for s.pos < len(s.data) && s.data[s.pos] >= '0' && s.data[s.pos] <= '9' {
			if exp < maxExp {
				exp = exp*10 + int(s.data[s.pos]-'0')
			}
			ed++
			s.pos++
		}
		if ed == 0 {
			return num, malformedNumber()
		}
		if expNeg {
			exp = -exp
		}
		hasExp = true
	}

	if !hasFrac && !hasExp {
		num.intShaped = true
		if !big {
			num.isInt = true
			num.mag = mant
			return num, nil
		}
		return s.slowFloat(&num, start, path)
	}

	e10 := exp - frac
	if !big && ndig <= 19 && mant < 1<<53 && e10 >= -22 && e10 <= 22 {
		f := float64(mant)
		if e10 < 0 {
			f /= pow10[-e10]
		} else {
			f *= pow10[e10]
		}
		if num.neg {
			f = -f
		}
		num.f = f
		return num, nil
	}
	return s.slowFloat(&num, start, path)
}

// slowFloat reparses the token text with the high-precision decimal path.
// Values that saturate to infinity are out of range; underflow to zero is
// accepted.
func (s *decodeState) slowFloat(num *jsonNumber, start int, path *packio.PathNode) (jsonNumber, error) {
	f, err := strconv.ParseFloat(string(s.data[start:s.pos]), 64)
	if math.IsInf(f, 0) {
		return *num, packio.NewValidationError("Number out of range", path, packio.ErrOverflow)
	}
	if err != nil && !isRangeErr(err) {
		return *num, malformedNumber()
	}
	num.f = f
	return *num, nil
}

func isRangeErr(err error) bool {
	ne, ok := err.(*strconv.NumError)
	return ok && ne.Err == strconv.ErrRange
}
