package schema

import (
	"time"
)

// RFC 3339 parsing and formatting shared by both codecs. Values carry
// microsecond precision: extra fractional digits round half-up, with the
// carry cascading through seconds, minutes, hours and days. Offsets are
// accepted as Z/z or +-HH:MM; inputs with an explicit offset normalize to
// UTC. Years are bounded to [0001, 9999].

func digit2(s string, i int) (int, bool) {
	a, b := s[i]-'0', s[i+1]-'0'
	if a > 9 || b > 9 {
		return 0, false
	}
	return int(a)*10 + int(b), true
}

func digit4(s string, i int) (int, bool) {
	hi, ok1 := digit2(s, i)
	lo, ok2 := digit2(s, i+2)
	if !ok1 || !ok2 {
		return 0, false
	}
	return hi*100 + lo, true
}

func daysInMonth(year int, month int) int {
	switch month {
	case 2:
		if year%4 == 0 && (year%100 != 0 || year%400 == 0) {
			return 29
		}
		return 28
	case 4, 6, 9, 11:
		return 30
	default:
		return 31
	}
}

// parseDatePart parses "YYYY-MM-DD" at the start of s.
func parseDatePart(s string) (y, mo, d int, ok bool) {
	if len(s) < 10 || s[4] != '-' || s[7] != '-' {
		return 0, 0, 0, false
	}
	y, ok1 := digit4(s, 0)
	mo, ok2 := digit2(s, 5)
	d, ok3 := digit2(s, 8)
	if !ok1 || !ok2 || !ok3 || y < 1 || mo < 1 || mo > 12 || d < 1 || d > daysInMonth(y, mo) {
		return 0, 0, 0, false
	}
	return y, mo, d, true
}

// parseTimePart parses "HH:MM:SS[.frac]" from s, returning the microseconds
// (already rounded half-up), a carry second, and the number of bytes
// consumed.
func parseTimePart(s string) (h, mi, sec, micro, carry, n int, ok bool) {
	if len(s) < 8 || s[2] != ':' || s[5] != ':' {
		return 0, 0, 0, 0, 0, 0, false
	}
	h, ok1 := digit2(s, 0)
	mi, ok2 := digit2(s, 3)
	sec, ok3 := digit2(s, 6)
	if !ok1 || !ok2 || !ok3 || h > 23 || mi > 59 || sec > 59 {
		return 0, 0, 0, 0, 0, 0, false
	}
	n = 8
	if len(s) > 8 && s[8] == '.' {
		i := 9
		ndig := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			if ndig < 6 {
				micro = micro*10 + int(s[i]-'0')
			} else if ndig == 6 && s[i] >= '5' {
				micro++
			}
			ndig++
			i++
		}
		if ndig == 0 {
			return 0, 0, 0, 0, 0, 0, false
		}
		for ; ndig < 6; ndig++ {
			micro *= 10
		}
		if micro == 1000000 {
			micro = 0
			carry = 1
		}
		n = i
	}
	return h, mi, sec, micro, carry, n, true
}

// parseOffset parses the zone suffix: "Z", "z", or "+-HH:MM". A consumed
// length of 0 with ok=true means no offset was present (allowed only when s
// is empty).
func parseOffset(s string) (offMin int, hasOff bool, ok bool) {
	if len(s) == 0 {
		return 0, false, true
	}
	switch s[0] {
	case 'Z', 'z':
		return 0, true, len(s) == 1
	case '+', '-':
		if len(s) != 6 || s[3] != ':' {
			return 0, false, false
		}
		h, ok1 := digit2(s, 1)
		m, ok2 := digit2(s, 4)
		if !ok1 || !ok2 || h > 23 || m > 59 {
			return 0, false, false
		}
		offMin = h*60 + m
		if s[0] == '-' {
			offMin = -offMin
		}
		return offMin, true, true
	}
	return 0, false, false
}

// ParseDateTime parses an RFC 3339 datetime. Inputs with an explicit offset
// are normalized to UTC; hasOffset distinguishes them from naive inputs
// (which are interpreted as UTC wall-clock time). A non-empty message means
// the input is invalid.
func ParseDateTime(s string) (t time.Time, hasOffset bool, msg string) {
	const invalid = "Invalid RFC3339 encoded datetime"
	y, mo, d, ok := parseDatePart(s)
	if !ok || len(s) < 11 || (s[10] != 'T' && s[10] != 't' && s[10] != ' ') {
		return time.Time{}, false, invalid
	}
	rest := s[11:]
	h, mi, sec, micro, carry, n, ok := parseTimePart(rest)
	if !ok {
		return time.Time{}, false, invalid
	}
	offMin, hasOffset, ok := parseOffset(rest[n:])
	if !ok {
		return time.Time{}, false, invalid
	}

	t = time.Date(y, time.Month(mo), d, h, mi, sec+carry, micro*1000, time.UTC)
	if hasOffset && offMin != 0 {
		t = t.Add(-time.Duration(offMin) * time.Minute)
	}
	if yy := t.Year(); yy < 1 || yy > 9999 {
		return time.Time{}, false, "Timestamp is out of range"
	}
	return t, hasOffset, ""
}

// ParseDate parses "YYYY-MM-DD".
func ParseDate(s string) (Date, string) {
	y, mo, d, ok := parseDatePart(s)
	if !ok || len(s) != 10 {
		return Date{}, "Invalid RFC3339 encoded date"
	}
	return Date{Year: y, Month: time.Month(mo), Day: d}, ""
}

// ParseTimeOfDay parses "HH:MM:SS[.frac][offset]".
func ParseTimeOfDay(s string) (TimeOfDay, string) {
	const invalid = "Invalid RFC3339 encoded time"
	h, mi, sec, micro, carry, n, ok := parseTimePart(s)
	if !ok {
		return TimeOfDay{}, invalid
	}
	offMin, hasOff, ok := parseOffset(s[n:])
	if !ok {
		return TimeOfDay{}, invalid
	}
	if carry != 0 {
		sec++
		if sec == 60 {
			sec = 0
			mi++
			if mi == 60 {
				mi = 0
				h = (h + 1) % 24
			}
		}
	}
	return TimeOfDay{
		Hour: h, Minute: mi, Second: sec, Microsecond: micro,
		Offset: offMin, HasOffset: hasOff,
	}, ""
}

func append2(dst []byte, v int) []byte {
	return append(dst, byte('0'+v/10), byte('0'+v%10))
}

func append4(dst []byte, v int) []byte {
	return append2(append2(dst, v/100), v%100)
}

func appendMicro(dst []byte, micro int) []byte {
	if micro == 0 {
		return dst
	}
	dst = append(dst, '.')
	var buf [6]byte
	for i := 5; i >= 0; i-- {
		buf[i] = byte('0' + micro%10)
		micro /= 10
	}
	n := 6
	for n > 1 && buf[n-1] == '0' {
		n--
	}
	return append(dst, buf[:n]...)
}

func appendOffset(dst []byte, offSec int) []byte {
	if offSec == 0 {
		return append(dst, 'Z')
	}
	// round offsets that are not whole minutes to the nearest minute
	var offMin int
	if offSec >= 0 {
		offMin = (offSec + 30) / 60
		dst = append(dst, '+')
	} else {
		offMin = (-offSec + 30) / 60
		dst = append(dst, '-')
	}
	dst = append2(dst, offMin/60)
	dst = append(dst, ':')
	return append2(dst, offMin%60)
}

// AppendDateTime formats t as RFC 3339 with microsecond precision,
// truncating any extra nanoseconds. The empty string and an error message
// are returned when the year falls outside [0001, 9999].
func AppendDateTime(dst []byte, t time.Time) ([]byte, string) {
	y, mo, d := t.Date()
	if y < 1 || y > 9999 {
		return dst, "Timestamp is out of range"
	}
	h, mi, sec := t.Clock()
	dst = append4(dst, y)
	dst = append(dst, '-')
	dst = append2(dst, int(mo))
	dst = append(dst, '-')
	dst = append2(dst, d)
	dst = append(dst, 'T')
	dst = append2(dst, h)
	dst = append(dst, ':')
	dst = append2(dst, mi)
	dst = append(dst, ':')
	dst = append2(dst, sec)
	dst = appendMicro(dst, t.Nanosecond()/1000)
	_, off := t.Zone()
	return appendOffset(dst, off), ""
}

// AppendDate formats d as "YYYY-MM-DD".
func AppendDate(dst []byte, d Date) ([]byte, string) {
	if d.Year < 1 || d.Year > 9999 || d.Month < 1 || d.Month > 12 ||
		d.Day < 1 || d.Day > daysInMonth(d.Year, int(d.Month)) {
		return dst, "Date is out of range"
	}
	dst = append4(dst, d.Year)
	dst = append(dst, '-')
	dst = append2(dst, int(d.Month))
	dst = append(dst, '-')
	return append2(dst, d.Day), ""
}

// AppendTimeOfDay formats t as "HH:MM:SS[.frac][offset]".
func AppendTimeOfDay(dst []byte, t TimeOfDay) ([]byte, string) {
	if t.Hour < 0 || t.Hour > 23 || t.Minute < 0 || t.Minute > 59 ||
		t.Second < 0 || t.Second > 59 || t.Microsecond < 0 || t.Microsecond > 999999 {
		return dst, "Time is out of range"
	}
	dst = append2(dst, t.Hour)
	dst = append(dst, ':')
	dst = append2(dst, t.Minute)
	dst = append(dst, ':')
	dst = append2(dst, t.Second)
	dst = appendMicro(dst, t.Microsecond)
	if t.HasOffset {
		dst = appendOffset(dst, t.Offset*60)
	}
	return dst, ""
}
