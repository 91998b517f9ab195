package schema

import (
	"math"
	"reflect"
	"regexp"
)

// detail is one slot of a TypeNode: either an owned reference (lookup table,
// struct descriptor, nested node, compiled regex) or a packed scalar
// (int64, float64 bits, or size).
type detail struct {
	num uint64
	ref any
}

// TypeNode is the compiled form of one schema position: a bitmask of the
// permitted kinds plus an inline detail array, one entry per slot-bearing bit
// set in the mask, stored in canonical order so a slot's offset is the
// popcount of the slot bits below it. TypeNodes are immutable once built and
// shared freely between codecs and goroutines.
type TypeNode struct {
	mask    Kind
	details []detail

	// jsonCompatible is false when this schema position cannot appear in a
	// JSON message (for example an ext value, or a struct with an ext
	// field). Recorded at build time; the JSON codec rejects such nodes.
	jsonCompatible bool
}

// Mask returns the kind bitmask.
func (n *TypeNode) Mask() Kind { return n.mask }

// Has reports whether any bit of k is set.
func (n *TypeNode) Has(k Kind) bool { return n.mask&k != 0 }

// JSONCompatible reports whether this schema can be used with the JSON codec.
func (n *TypeNode) JSONCompatible() bool { return n.jsonCompatible }

func (n *TypeNode) slot(group Kind) detail {
	bit := n.mask & group
	// groups hold mutually exclusive bits, so bit has exactly one bit set
	return n.details[n.mask.slotIndex(bit)]
}

// StructDesc returns the struct descriptor for struct / struct_array nodes.
func (n *TypeNode) StructDesc() *StructDesc {
	return n.slot(KindStruct | KindStructArray).ref.(*StructDesc)
}

// StructUnion returns the tag lookup for struct union nodes.
func (n *TypeNode) StructUnion() *StructUnion {
	return n.slot(KindStructUnion | KindStructArrayUnion).ref.(*StructUnion)
}

// CustomType returns the Go type of custom nodes.
func (n *TypeNode) CustomType() reflect.Type {
	return n.slot(kindCustomGroup).ref.(reflect.Type)
}

// IntLookup returns the value set for int enum / int literal nodes.
func (n *TypeNode) IntLookup() *IntLookup {
	return n.slot(KindIntEnum | KindIntLiteral).ref.(*IntLookup)
}

// StrLookup returns the value set for str enum / str literal nodes.
func (n *TypeNode) StrLookup() *StrLookup {
	return n.slot(KindEnum | KindStrLiteral).ref.(*StrLookup)
}

// TypedDict returns the descriptor for typeddict / dataclass nodes.
func (n *TypeNode) TypedDict() *TypedDictDesc {
	return n.slot(KindTypedDict | KindDataclass).ref.(*TypedDictDesc)
}

// Regex returns the compiled pattern of a str_regex constraint.
func (n *TypeNode) Regex() *regexp.Regexp {
	return n.slot(KindStrRegex).ref.(*regexp.Regexp)
}

// DictKey returns the key schema of a dict node.
func (n *TypeNode) DictKey() *TypeNode {
	return n.details[n.mask.slotIndex(kindDictKey)].ref.(*TypeNode)
}

// DictValue returns the value schema of a dict node.
func (n *TypeNode) DictValue() *TypeNode {
	return n.details[n.mask.slotIndex(kindDictValue)].ref.(*TypeNode)
}

// Element returns the element schema of list / set / frozenset / vartuple
// nodes.
func (n *TypeNode) Element() *TypeNode {
	return n.slot(kindArrayGroup).ref.(*TypeNode)
}

// IntMin returns the inclusive lower int bound.
func (n *TypeNode) IntMin() int64 { return int64(n.slot(KindIntMin).num) }

// IntMax returns the inclusive upper int bound.
func (n *TypeNode) IntMax() int64 { return int64(n.slot(KindIntMax).num) }

// IntMultipleOf returns the int multiple-of constraint.
func (n *TypeNode) IntMultipleOf() int64 { return int64(n.slot(KindIntMultipleOf).num) }

// FloatMin returns the inclusive lower float bound.
func (n *TypeNode) FloatMin() float64 { return math.Float64frombits(n.slot(KindFloatGe).num) }

// FloatMax returns the inclusive upper float bound.
func (n *TypeNode) FloatMax() float64 { return math.Float64frombits(n.slot(KindFloatLe).num) }

// FloatMultipleOf returns the float multiple-of constraint.
func (n *TypeNode) FloatMultipleOf() float64 {
	return math.Float64frombits(n.slot(KindFloatMultipleOf).num)
}

// StrMinLength returns the minimum string length in code points.
func (n *TypeNode) StrMinLength() int { return int(n.slot(KindStrMinLength).num) }

// StrMaxLength returns the maximum string length in code points.
func (n *TypeNode) StrMaxLength() int { return int(n.slot(KindStrMaxLength).num) }

// BytesMinLength returns the minimum byte length.
func (n *TypeNode) BytesMinLength() int { return int(n.slot(KindBytesMinLength).num) }

// BytesMaxLength returns the maximum byte length.
func (n *TypeNode) BytesMaxLength() int { return int(n.slot(KindBytesMaxLength).num) }

// ArrayMinLength returns the minimum array element count.
func (n *TypeNode) ArrayMinLength() int { return int(n.slot(KindArrayMinLength).num) }

// ArrayMaxLength returns the maximum array element count.
func (n *TypeNode) ArrayMaxLength() int { return int(n.slot(KindArrayMaxLength).num) }

// MapMinLength returns the minimum map entry count.
func (n *TypeNode) MapMinLength() int { return int(n.slot(KindMapMinLength).num) }

// MapMaxLength returns the maximum map entry count.
func (n *TypeNode) MapMaxLength() int { return int(n.slot(KindMapMaxLength).num) }

// FixTupleLen returns the arity of a fixtuple node.
func (n *TypeNode) FixTupleLen() int {
	return int(n.details[n.mask.slotIndex(KindFixTuple)].num)
}

// FixTupleElem returns the schema of fixtuple element i.
func (n *TypeNode) FixTupleElem(i int) *TypeNode {
	return n.details[n.mask.slotIndex(KindFixTuple)+1+i].ref.(*TypeNode)
}

// nodeAny is the shared zero-detail node permitting anything. Zero-detail
// nodes are safe to share since TypeNodes are immutable.
var nodeAny = &TypeNode{mask: KindAny, jsonCompatible: true}

// AnyNode returns the shared unconstrained node. The codecs use it for
// untyped positions such as dec_hook inputs and the elements of `any`
// containers.
func AnyNode() *TypeNode { return nodeAny }
