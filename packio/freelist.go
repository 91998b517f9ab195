package packio

import (
	"sync"
	"sync/atomic"
)

const (
	// Pool limits to prevent memory bloat
	poolMinClass = 6  // 64 bytes
	poolMaxClass = 16 // 64 KiB; larger scratch is not retained
)

// Freelist hands out byte scratch in power-of-two size classes. Disabling it
// only changes allocation behavior, never results: Get always returns a
// zero-length slice with at least the requested capacity.
type Freelist struct {
	disabled atomic.Bool
	pools    [poolMaxClass + 1]sync.Pool
}

var sharedFreelist Freelist

// SharedFreelist returns the process-wide freelist used by the codecs.
func SharedFreelist() *Freelist { return &sharedFreelist }

// SetEnabled turns pooling on or off. It is on by default.
func (f *Freelist) SetEnabled(on bool) { f.disabled.Store(!on) }

func sizeClass(n int) int {
	c := poolMinClass
	for 1<<c < n {
		c++
	}
	return c
}

// Get returns a zero-length buffer with capacity >= n.
func (f *Freelist) Get(n int) []byte {
	if n > 1<<poolMaxClass || f.disabled.Load() {
		return make([]byte, 0, n)
	}
	c := sizeClass(n)
	if v := f.pools[c].Get(); v != nil {
		return (*(v.(*[]byte)))[:0]
	}
	return make([]byte, 0, 1<<c)
}

// Put returns a buffer obtained from Get. Buffers that grew past their size
// class, or past the retention limit, are dropped.
func (f *Freelist) Put(b []byte) {
	if f.disabled.Load() {
		return
	}
	c := cap(b)
	if c < 1<<poolMinClass || c > 1<<poolMaxClass || c&(c-1) != 0 {
		return
	}
	b = b[:0]
	f.pools[sizeClass(c)].Put(&b)
}
