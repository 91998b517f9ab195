package schema

import (
	"math/bits"
)

// Lookups are immutable tables mapping int or str keys to a value: an enum
// member, a literal, or a struct descriptor for tagged unions. Both kinds are
// built once by the TypeNode builder and are safe for concurrent reads.

// IntLookup maps int64 keys to values. It has two representations chosen at
// build time: a compact dense array when the key range is close to the key
// count, and an open-addressed power-of-two hash table otherwise.
type IntLookup struct {
	compact bool

	// compact form: table[k-offset]
	offset int64
	table  []any

	// hashmap form: linear probing, vals[i] == nil marks an empty slot
	keys []int64
	vals []any
	mask uint64
}

// NewIntLookup builds a lookup over the given pairs. Values must be non-nil.
func NewIntLookup(pairs map[int64]any) *IntLookup {
	if len(pairs) == 0 {
		return &IntLookup{compact: true}
	}

	var lo, hi int64
	first := true
	for k := range pairs {
		if first {
			lo, hi = k, k
			first = false
			continue
		}
		if k < lo {
			lo = k
		}
		if k > hi {
			hi = k
		}
	}

	// Prefer the dense array while the hole count stays small; the
	// crossover to hashing is at range >= 1.4*n.
	span := uint64(hi) - uint64(lo) + 1
	if span >= uint64(len(pairs)) && span*10 < uint64(len(pairs))*14 {
		l := &IntLookup{
			compact: true,
			offset:  lo,
			table:   make([]any, span),
		}
		for k, v := range pairs {
			l.table[k-lo] = v
		}
		return l
	}

	size := tableSize(len(pairs))
	l := &IntLookup{
		keys: make([]int64, size),
		vals: make([]any, size),
		mask: uint64(size - 1),
	}
	for k, v := range pairs {
		i := mixInt(k) & l.mask
		for l.vals[i] != nil {
			i = (i + 1) & l.mask
		}
		l.keys[i] = k
		l.vals[i] = v
	}
	return l
}

// Get returns the value for k, or nil if absent.
func (l *IntLookup) Get(k int64) any {
	if l.compact {
		i := uint64(k) - uint64(l.offset)
		if i >= uint64(len(l.table)) {
			return nil
		}
		return l.table[i]
	}

	i := mixInt(k) & l.mask
	for {
		if l.vals[i] == nil {
			return nil
		}
		if l.keys[i] == k {
			return l.vals[i]
		}
		i = (i + 1) & l.mask
	}
}

// Len returns the number of keys.
func (l *IntLookup) Len() int {
	n := 0
	if l.compact {
		for _, v := range l.table {
			if v != nil {
				n++
			}
		}
		return n
	}
	for _, v := range l.vals {
		if v != nil {
			n++
		}
	}
	return n
}

// Keys returns the key set in unspecified order.
func (l *IntLookup) Keys() []int64 {
	var out []int64
	if l.compact {
		for i, v := range l.table {
			if v != nil {
				out = append(out, l.offset+int64(i))
			}
		}
		return out
	}
	for i, v := range l.vals {
		if v != nil {
			out = append(out, l.keys[i])
		}
	}
	return out
}

func mixInt(k int64) uint64 {
	// fibonacci scramble; the low bits of small enum values are too regular
	// to index with directly
	return uint64(k) * 0x9e3779b97f4a7c15
}

// StrLookup maps string keys to values using an open-addressed power-of-two
// table with a 32-bit MurmurHash2 and perturbed probing.
type StrLookup struct {
	keys []string
	vals []any
	mask uint32
	seed uint32
}

// NewStrLookup builds a lookup over the given pairs. Values must be non-nil.
func NewStrLookup(pairs map[string]any) *StrLookup {
	size := tableSize(len(pairs))
	l := &StrLookup{
		keys: make([]string, size),
		vals: make([]any, size),
		mask: uint32(size - 1),
	}
	for k, v := range pairs {
		h := murmur2(k, l.seed)
		i := h & l.mask
		perturb := h
		for l.vals[i] != nil {
			i = l.mask & (i*5 + perturb + 1)
			perturb >>= 5
		}
		l.keys[i] = k
		l.vals[i] = v
	}
	return l
}

// Get returns the value for k, or nil if absent.
func (l *StrLookup) Get(k string) any {
	h := murmur2(k, l.seed)
	i := h & l.mask
	perturb := h
	for {
		if l.vals[i] == nil {
			return nil
		}
		if l.keys[i] == k {
			return l.vals[i]
		}
		i = l.mask & (i*5 + perturb + 1)
		perturb >>= 5
	}
}

// Len returns the number of keys.
func (l *StrLookup) Len() int {
	n := 0
	for _, v := range l.vals {
		if v != nil {
			n++
		}
	}
	return n
}

// Keys returns the key set in unspecified order.
func (l *StrLookup) Keys() []string {
	var out []string
	for i, v := range l.vals {
		if v != nil {
			out = append(out, l.keys[i])
		}
	}
	return out
}

// tableSize returns the power-of-two table size for n entries, keeping the
// fill factor under 2/3.
func tableSize(n int) int {
	want := n + n/2 + 1
	if want < 8 {
		return 8
	}
	return 1 << (64 - bits.LeadingZeros64(uint64(want-1)))
}

// murmur2 is the classic 32-bit MurmurHash2.
func murmur2(data string, seed uint32) uint32 {
	const m = 0x5bd1e995
	h := seed ^ uint32(len(data))
	i := 0
	for ; i+4 <= len(data); i += 4 {
		k := uint32(data[i]) | uint32(data[i+1])<<8 | uint32(data[i+2])<<16 | uint32(data[i+3])<<24
		k *= m
		k ^= k >> 24
		k *= m
		h *= m
		h ^= k
	}
	switch len(data) - i {
	case 3:
		h ^= uint32(data[i+2]) << 16
		fallthrough
	case 2:
		h ^= uint32(data[i+1]) << 8
		fallthrough
	case 1:
		h ^= uint32(data[i])
		h *= m
	}
	h ^= h >> 13
	h *= m
	h ^= h >> 15
	return h
}

// StructUnion is the tag dispatch table for a union of tagged struct types.
// Exactly one of ByStr / ByInt is set; values are *StructDesc.
type StructUnion struct {
	ByStr *StrLookup
	ByInt *IntLookup

	// TagField is the discriminator field name shared by every member.
	TagField string

	// ArrayLike is the array_like setting shared by every member.
	ArrayLike bool

	// JSONCompatible is precomputed: every member schema must be expressible
	// in JSON for the union to be usable with the JSON codec.
	JSONCompatible bool
}

// GetStr returns the member descriptor for a string tag, or nil.
func (u *StructUnion) GetStr(tag string) *StructDesc {
	if u.ByStr == nil {
		return nil
	}
	if v := u.ByStr.Get(tag); v != nil {
		return v.(*StructDesc)
	}
	return nil
}

// GetInt returns the member descriptor for an int tag, or nil.
func (u *StructUnion) GetInt(tag int64) *StructDesc {
	if u.ByInt == nil {
		return nil
	}
	if v := u.ByInt.Get(tag); v != nil {
		return v.(*StructDesc)
	}
	return nil
}
