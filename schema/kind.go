// Package schema compiles Go types into the compact TypeNode IR that drives
// the schemapack encoders and decoders. A TypeNode names every type permitted
// at one position of a message plus any constraints, packed into a 64-bit
// mask with an inline detail array indexed by popcount.
package schema

import (
	"math/bits"
	"strings"
)

// Kind is a bitmask naming the set of types and constraints permitted at one
// schema position.
type Kind uint64

const (
	// KindAny permits any value. Absorbing: no other type bit may coexist
	// with it, though constraints still apply.
	KindAny Kind = 1 << iota
	KindNone
	KindBool
	KindInt
	KindFloat
	KindStr
	KindBytes
	KindByteArray
	KindDateTime
	KindDate
	KindTime
	KindUUID
	KindDecimal
	KindExt
	KindRaw

	// Timezone constraints on datetime/time values.
	KindTzAware
	KindTzNaive

	// Transient float bound kinds. The builder rewrites exclusive bounds
	// into inclusive ones (nextafter), so built nodes only ever carry
	// KindFloatGe / KindFloatLe.
	KindFloatGt
	KindFloatLt

	// Slot-bearing kinds. Their declaration order here is the canonical
	// detail order: a detail's index is the popcount of the slot-bearing
	// bits below its own.
	KindStruct
	KindStructArray
	KindStructUnion
	KindStructArrayUnion
	KindCustom
	KindCustomGeneric
	KindIntEnum
	KindIntLiteral
	KindEnum
	KindStrLiteral
	KindTypedDict
	KindDataclass
	KindNamedTuple
	KindStrRegex
	kindDictKey
	kindDictValue
	KindList
	KindSet
	KindFrozenSet
	KindVarTuple
	KindIntMin
	KindIntMax
	KindIntMultipleOf
	KindFloatGe
	KindFloatLe
	KindFloatMultipleOf
	KindStrMinLength
	KindStrMaxLength
	KindBytesMinLength
	KindBytesMaxLength
	KindArrayMinLength
	KindArrayMaxLength
	KindMapMinLength
	KindMapMaxLength
	KindFixTuple
)

// KindDict spans two mask bits so that its two detail slots (key, value)
// fall out of the popcount indexing for free.
const KindDict = kindDictKey | kindDictValue

// Kind groups used by the builder and the codecs.
const (
	// kindSlots is the set of slot-bearing bits.
	kindSlots = KindFixTuple | (KindFixTuple - KindStruct)

	// kindStructGroup shares the struct/custom detail slot.
	kindStructGroup = KindStruct | KindStructArray | KindStructUnion | KindStructArrayUnion
	kindCustomGroup = KindCustom | KindCustomGeneric

	// kindArrayGroup shares the array-element detail slot.
	kindArrayGroup = KindList | KindSet | KindFrozenSet | KindVarTuple

	// kindArrayLike is everything decoded from a wire array.
	kindArrayLike = kindArrayGroup | KindFixTuple | KindStructArray | KindStructArrayUnion

	// kindDictLike is everything decoded from a wire map.
	kindDictLike = KindDict | KindStruct | KindStructUnion | KindTypedDict | KindDataclass

	kindIntLike = KindInt | KindIntEnum | KindIntLiteral
	kindStrLike = KindStr | KindEnum | KindStrLiteral

	kindConstraints = KindTzAware | KindTzNaive | KindStrRegex |
		KindIntMin | KindIntMax | KindIntMultipleOf |
		KindFloatGe | KindFloatLe | KindFloatMultipleOf |
		KindStrMinLength | KindStrMaxLength |
		KindBytesMinLength | KindBytesMaxLength |
		KindArrayMinLength | KindArrayMaxLength |
		KindMapMinLength | KindMapMaxLength
)

var kindNames = []struct {
	kind Kind
	name string
}{
	{KindAny, "any"}, {KindNone, "none"}, {KindBool, "bool"}, {KindInt, "int"},
	{KindFloat, "float"}, {KindStr, "str"}, {KindBytes, "bytes"},
	{KindByteArray, "bytearray"}, {KindDateTime, "datetime"}, {KindDate, "date"},
	{KindTime, "time"}, {KindUUID, "uuid"}, {KindDecimal, "decimal"},
	{KindExt, "ext"}, {KindRaw, "raw"},
	{KindTzAware, "tz_aware"}, {KindTzNaive, "tz_naive"},
	{KindFloatGt, "float_gt"}, {KindFloatLt, "float_lt"},
	{KindStruct, "struct"}, {KindStructArray, "struct_array"},
	{KindStructUnion, "struct_union"}, {KindStructArrayUnion, "struct_array_union"},
	{KindCustom, "custom"}, {KindCustomGeneric, "custom_generic"},
	{KindIntEnum, "int_enum"}, {KindIntLiteral, "int_literal"},
	{KindEnum, "enum"}, {KindStrLiteral, "str_literal"},
	{KindTypedDict, "typeddict"}, {KindDataclass, "dataclass"},
	{KindNamedTuple, "namedtuple"}, {KindStrRegex, "str_regex"},
	{KindDict, "dict"},
	{KindList, "list"}, {KindSet, "set"}, {KindFrozenSet, "frozenset"},
	{KindVarTuple, "vartuple"},
	{KindIntMin, "int_min"}, {KindIntMax, "int_max"},
	{KindIntMultipleOf, "int_multiple_of"},
	{KindFloatGe, "float_ge"}, {KindFloatLe, "float_le"},
	{KindFloatMultipleOf, "float_multiple_of"},
	{KindStrMinLength, "str_min_length"}, {KindStrMaxLength, "str_max_length"},
	{KindBytesMinLength, "bytes_min_length"}, {KindBytesMaxLength, "bytes_max_length"},
	{KindArrayMinLength, "array_min_length"}, {KindArrayMaxLength, "array_max_length"},
	{KindMapMinLength, "map_min_length"}, {KindMapMaxLength, "map_max_length"},
	{KindFixTuple, "fixtuple"},
}

// String returns a "|"-joined list of the set bits, for error messages and
// debugging.
func (k Kind) String() string {
	if k == 0 {
		return "<empty>"
	}
	var parts []string
	for _, kn := range kindNames {
		if k&kn.kind == kn.kind {
			parts = append(parts, kn.name)
			k &^= kn.kind
		}
	}
	if k != 0 {
		parts = append(parts, "<unknown>")
	}
	return strings.Join(parts, "|")
}

// count returns the number of slot-bearing bits set below bit.
func (k Kind) slotIndex(bit Kind) int {
	return bits.OnesCount64(uint64(k) & uint64(kindSlots) & (uint64(bit) - 1))
}
