package schema

import "time"

// Raw is an unparsed message fragment. Decoding into a Raw field captures the
// exact bytes of the value without interpreting them; the slice aliases the
// input buffer, which stays reachable for as long as the Raw does. Encoding a
// Raw splices its bytes into the output verbatim.
type Raw []byte

// Copy returns a Raw backed by its own allocation, releasing the reference to
// the original input buffer.
func (r Raw) Copy() Raw {
	out := make(Raw, len(r))
	copy(out, r)
	return out
}

// Ext is a MessagePack extension value: a type code and an opaque payload.
// Code -1 is the timestamp extension and is handled by the codec itself.
type Ext struct {
	Code int8
	Data []byte
}

// Date is a calendar date without a time or zone, wire form "2006-01-02".
type Date struct {
	Year  int
	Month time.Month
	Day   int
}

// DateOf returns the Date of t in t's location.
func DateOf(t time.Time) Date {
	y, m, d := t.Date()
	return Date{Year: y, Month: m, Day: d}
}

// TimeOfDay is a clock time with microsecond precision and an optional UTC
// offset, wire form "15:04:05.999999" or "15:04:05.999999+07:00".
type TimeOfDay struct {
	Hour        int
	Minute      int
	Second      int
	Microsecond int

	// Offset is the UTC offset in minutes; valid only when HasOffset.
	Offset    int
	HasOffset bool
}
