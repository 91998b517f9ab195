package packio

// Buffer is an output buffer for encoders. Unlike bytes.Buffer it exposes the
// written-byte offsets, which encoders use to patch container headers in
// place after the element count is known.
type Buffer struct {
	buf []byte
}

// NewBuffer returns a Buffer writing into buf. buf may be nil, or a
// caller-supplied slice to append to.
func NewBuffer(buf []byte) *Buffer {
	return &Buffer{buf: buf}
}

// Len returns the number of bytes written.
func (b *Buffer) Len() int { return len(b.buf) }

// Bytes returns the written bytes. The slice is only valid until the next
// write.
func (b *Buffer) Bytes() []byte { return b.buf }

// Reset discards all written data, retaining the allocation.
func (b *Buffer) Reset() { b.buf = b.buf[:0] }

// Truncate discards all but the first n written bytes.
func (b *Buffer) Truncate(n int) { b.buf = b.buf[:n] }

// WriteByte appends a single byte.
func (b *Buffer) WriteByte(c byte) {
	b.buf = append(b.buf, c)
}

// Write appends p.
func (b *Buffer) Write(p []byte) {
	b.buf = append(b.buf, p...)
}

// WriteString appends s.
func (b *Buffer) WriteString(s string) {
	b.buf = append(b.buf, s...)
}

// Grow appends n zero bytes and returns the offset of the first, for headers
// that are patched once their value is known.
func (b *Buffer) Grow(n int) int {
	off := len(b.buf)
	for cap(b.buf) < off+n {
		b.buf = append(b.buf[:cap(b.buf)], 0)
	}
	b.buf = b.buf[:off+n]
	for i := off; i < off+n; i++ {
		b.buf[i] = 0
	}
	return off
}

// At returns the writable byte slice starting at offset off, for header
// patching.
func (b *Buffer) At(off int) []byte { return b.buf[off:] }

// SetByte overwrites the byte at offset off.
func (b *Buffer) SetByte(off int, c byte) { b.buf[off] = c }
