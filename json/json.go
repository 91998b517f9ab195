// Package json implements the JSON codec: a reflection-driven encoder and a
// schema-directed decoder sharing the TypeNode IR with the msgpack package.
// Only strictly valid RFC 8259 JSON is produced; parsing rejects comments,
// NaN/Infinity literals and other extensions.
package json

// String bytes fall into three classes. ccPlain must be zero so an 8-wide OR
// over the class table detects any non-plain byte in one branch.
const (
	ccPlain   = 0 // printable ASCII except '"' and '\\'
	ccHigh    = 1 // non-ASCII
	ccSpecial = 2 // '"', '\\', control characters
)

var byteClass = func() (t [256]byte) {
	for i := 0; i < 0x20; i++ {
		t[i] = ccSpecial
	}
	t['"'] = ccSpecial
	t['\\'] = ccSpecial
	for i := 0x80; i < 0x100; i++ {
		t[i] = ccHigh
	}
	return
}()

const maxDepth = 512
