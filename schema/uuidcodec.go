package schema

import (
	"github.com/google/uuid"
)

var hexVal = func() (t [256]byte) {
	for i := range t {
		t[i] = 0xff
	}
	for c := byte('0'); c <= '9'; c++ {
		t[c] = c - '0'
	}
	for c := byte('a'); c <= 'f'; c++ {
		t[c] = c - 'a' + 10
	}
	for c := byte('A'); c <= 'F'; c++ {
		t[c] = c - 'A' + 10
	}
	return
}()

// ParseUUID parses the canonical 36-character hyphenated form only. The
// looser forms uuid.Parse accepts (braces, URN prefix, bare hex) are
// rejected.
func ParseUUID(s string) (uuid.UUID, bool) {
	var u uuid.UUID
	if len(s) != 36 || s[8] != '-' || s[13] != '-' || s[18] != '-' || s[23] != '-' {
		return u, false
	}
	j := 0
	for _, i := range [16]int{0, 2, 4, 6, 9, 11, 14, 16, 19, 21, 24, 26, 28, 30, 32, 34} {
		hi, lo := hexVal[s[i]], hexVal[s[i+1]]
		if hi == 0xff || lo == 0xff {
			return uuid.UUID{}, false
		}
		u[j] = hi<<4 | lo
		j++
	}
	return u, true
}

const hexDigits = "0123456789abcdef"

// AppendUUID appends the canonical lowercase hyphenated form of u.
func AppendUUID(dst []byte, u uuid.UUID) []byte {
	for i, b := range u {
		switch i {
		case 4, 6, 8, 10:
			dst = append(dst, '-')
		}
		dst = append(dst, hexDigits[b>>4], hexDigits[b&0xf])
	}
	return dst
}
