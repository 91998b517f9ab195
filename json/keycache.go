package json

import (
	"sync"
)

// keyCache interns short ASCII object keys so repeated messages share one
// string allocation per distinct key. It is direct-mapped: a new key evicts
// the slot's occupant. The table is cleared periodically so a burst of unique
// keys cannot pin memory forever.
const (
	keyCacheSlots  = 512
	keyCacheMaxLen = 32
	keyCacheResets = 1 << 16 // installs between clears
)

var keyCache struct {
	mu       sync.Mutex
	slots    [keyCacheSlots]string
	installs int
}

func keyHash(b []byte) uint32 {
	// FNV-1a
	h := uint32(2166136261)
	for _, c := range b {
		h = (h ^ uint32(c)) * 16777619
	}
	return h
}

// internKey returns a string for an object key, served from the cache when
// the key is short, non-empty ASCII.
func internKey(b []byte, ascii bool) string {
	if !ascii || len(b) == 0 || len(b) > keyCacheMaxLen {
		return string(b)
	}
	i := keyHash(b) % keyCacheSlots

	keyCache.mu.Lock()
	if s := keyCache.slots[i]; s == string(b) {
		keyCache.mu.Unlock()
		return s
	}
	s := string(b)
	keyCache.slots[i] = s
	keyCache.installs++
	if keyCache.installs >= keyCacheResets {
		keyCache.installs = 0
		keyCache.slots = [keyCacheSlots]string{}
	}
	keyCache.mu.Unlock()
	return s
}
