package schema

import (
	"fmt"
	"math"
	"reflect"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"
)

// The builder turns a Go type (plus registered options and constraint
// metadata) into a TypeNode. Compiled nodes and struct descriptors are cached
// per type; building is serialized by one lock, reads of built nodes are
// lock-free since nodes are immutable.

var (
	buildMu   sync.Mutex
	nodeCache = make(map[reflect.Type]*TypeNode)
	descCache = make(map[reflect.Type]*StructDesc)

	// literal lookups are shared between positions naming the same set
	strLitCache = make(map[string]*StrLookup)
	intLitCache = make(map[string]*IntLookup)

	// union tag lookups, bounded
	unionCache    = make(map[string]*StructUnion)
	unionCacheCap = 64
)

var (
	timeType      = reflect.TypeOf(time.Time{})
	dateType      = reflect.TypeOf(Date{})
	timeOfDayType = reflect.TypeOf(TimeOfDay{})
	uuidType      = reflect.TypeOf(uuid.UUID{})
	decimalType   = reflect.TypeOf(decimal.Decimal{})
	rawType       = reflect.TypeOf(Raw(nil))
	extType       = reflect.TypeOf(Ext{})
	bytesType     = reflect.TypeOf([]byte(nil))
	anyType       = reflect.TypeOf((*any)(nil)).Elem()
)

const maxTypeDepth = 200

// dropCached forgets compiled state for t so a later registration takes
// effect. Registrations should still happen before the first compile; this
// only helps the direct type, not parents already compiled against it.
func dropCached(t reflect.Type) {
	buildMu.Lock()
	delete(nodeCache, t)
	delete(descCache, t)
	buildMu.Unlock()
}

// lookupDesc returns the compiled descriptor for t, or nil if t has not
// been compiled.
func lookupDesc(t reflect.Type) *StructDesc {
	buildMu.Lock()
	d := descCache[t]
	buildMu.Unlock()
	return d
}

// Compile returns the TypeNode describing t, building and caching it on
// first use. An optional Meta attaches constraints to the root position.
func Compile(t reflect.Type, meta ...*Meta) (*TypeNode, error) {
	var m *Meta
	if len(meta) > 0 {
		m = meta[0]
	}

	buildMu.Lock()
	defer buildMu.Unlock()

	if m.isZero() {
		if n, ok := nodeCache[t]; ok {
			return n, nil
		}
		n, err := compile(t, nil, 0)
		if err != nil {
			return nil, err
		}
		nodeCache[t] = n
		return n, nil
	}
	return compile(t, m, 0)
}

// MustCompile is Compile, panicking on error. For package-level schemas.
func MustCompile(t reflect.Type, meta ...*Meta) *TypeNode {
	n, err := Compile(t, meta...)
	if err != nil {
		panic(err)
	}
	return n
}

// collector accumulates the first pass over a descriptor tree: the kind
// mask, one owning reference per variant, and merged constraints.
type collector struct {
	mask Kind

	descs   []*StructDesc
	union   *StructUnion
	customT reflect.Type

	enumInts *IntLookup
	enumStrs *StrLookup
	litInts  []int64
	litStrs  []string

	td *TypedDictDesc

	keyT, valT reflect.Type // dict
	elemT      reflect.Type // list/set/vartuple
	fixElemT   reflect.Type // array element
	fixLen     int

	cons constraints
}

func compile(t reflect.Type, m *Meta, depth int) (*TypeNode, error) {
	if depth > maxTypeDepth {
		return nil, fmt.Errorf("schema: type nesting exceeds %d levels", maxTypeDepth)
	}

	var c collector
	if err := c.collect(t, depth); err != nil {
		return nil, err
	}
	if m != nil {
		for _, v := range m.IntValues {
			c.litInts = append(c.litInts, v)
		}
		c.litStrs = append(c.litStrs, m.StrValues...)
	}
	if err := c.reconcile(t, m); err != nil {
		return nil, err
	}
	return c.emit(depth)
}

// collect walks one descriptor, ORing type bits into the mask and
// remembering one owning reference per variant.
func (c *collector) collect(t reflect.Type, depth int) error {
	if t == nil {
		return fmt.Errorf("schema: nil type")
	}

	switch t {
	case timeType:
		c.mask |= KindDateTime
		return nil
	case dateType:
		c.mask |= KindDate
		return nil
	case timeOfDayType:
		c.mask |= KindTime
		return nil
	case uuidType:
		c.mask |= KindUUID
		return nil
	case decimalType:
		c.mask |= KindDecimal
		return nil
	case rawType:
		c.mask |= KindRaw
		return nil
	case extType:
		c.mask |= KindExt
		return nil
	}

	if spec := lookupEnum(t); spec != nil {
		if spec.strs != nil {
			if c.enumStrs != nil {
				return fmt.Errorf("schema: multiple str enum types in one position")
			}
			c.mask |= KindEnum
			c.enumStrs = spec.lookup().(*StrLookup)
		} else {
			if c.enumInts != nil {
				return fmt.Errorf("schema: multiple int enum types in one position")
			}
			c.mask |= KindIntEnum
			c.enumInts = spec.lookup().(*IntLookup)
		}
		return nil
	}

	if td := lookupTypedDict(t); td != nil {
		desc, err := buildTypedDictDesc(t, td, depth)
		if err != nil {
			return err
		}
		if c.td != nil {
			return fmt.Errorf("schema: multiple typeddict types in one position")
		}
		c.mask |= KindTypedDict
		c.td = desc
		return nil
	}

	switch t.Kind() {
	case reflect.Bool:
		c.mask |= KindBool
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		c.mask |= KindInt
	case reflect.Float32, reflect.Float64:
		c.mask |= KindFloat
	case reflect.String:
		c.mask |= KindStr
	case reflect.Slice:
		if t.Elem().Kind() == reflect.Uint8 {
			c.mask |= KindBytes
			return nil
		}
		if err := c.setElem(t.Elem(), KindList); err != nil {
			return err
		}
	case reflect.Array:
		// byte arrays travel as bin with an exact length check, like the
		// encoders emit them
		if t.Elem().Kind() == reflect.Uint8 {
			c.mask |= KindByteArray
			return nil
		}
		if c.mask&KindFixTuple != 0 {
			return fmt.Errorf("schema: multiple array-like types in one position")
		}
		c.mask |= KindFixTuple
		c.fixElemT = t.Elem()
		c.fixLen = t.Len()
	case reflect.Map:
		if t.Elem() == reflect.TypeOf(struct{}{}) {
			return c.setElem(t.Key(), KindSet)
		}
		if c.mask&KindDict != 0 {
			return fmt.Errorf("schema: multiple dict-like types in one position")
		}
		c.mask |= KindDict
		c.keyT, c.valT = t.Key(), t.Elem()
	case reflect.Ptr:
		c.mask |= KindNone
		return c.collect(t.Elem(), depth+1)
	case reflect.Interface:
		if t.NumMethod() == 0 && t == anyType {
			c.mask |= KindAny
			return nil
		}
		members := lookupUnion(t)
		if members == nil {
			return fmt.Errorf("schema: interface type %v is not a registered union", t)
		}
		for _, mt := range members {
			if err := c.collect(mt, depth+1); err != nil {
				return err
			}
		}
	case reflect.Struct:
		desc, err := buildStructDesc(t, depth)
		if err != nil {
			return err
		}
		c.descs = append(c.descs, desc)
		if desc.ArrayLike {
			c.mask |= KindStructArray
		} else {
			c.mask |= KindStruct
		}
	default:
		// no wire representation; reachable only through hooks
		if c.customT != nil && c.customT != t {
			return fmt.Errorf("schema: multiple custom types in one position")
		}
		c.customT = t
		if strings.ContainsRune(t.Name(), '[') {
			c.mask |= KindCustomGeneric
		} else {
			c.mask |= KindCustom
		}
	}
	return nil
}

func (c *collector) setElem(elem reflect.Type, kind Kind) error {
	if c.mask&kindArrayGroup != 0 {
		return fmt.Errorf("schema: multiple array-like types in one position")
	}
	c.mask |= kind
	c.elemT = elem
	return nil
}

// reconcile enforces the mask invariants, converts literal sets into
// lookups, resolves struct unions and folds constraints in.
func (c *collector) reconcile(t reflect.Type, m *Meta) error {
	// literals restrict their base scalar: once a value set is given the
	// plain int/str bit is redundant and dropped
	if len(c.litInts) > 0 {
		c.mask = (c.mask &^ KindInt) | KindIntLiteral
	}
	if len(c.litStrs) > 0 {
		c.mask = (c.mask &^ KindStr) | KindStrLiteral
	}
	// ... and an enum of the same shape would be ambiguous
	if c.mask&KindIntLiteral != 0 && c.mask&KindIntEnum != 0 {
		return fmt.Errorf("schema: int literals cannot be combined with an int enum")
	}
	if c.mask&KindStrLiteral != 0 && c.mask&KindEnum != 0 {
		return fmt.Errorf("schema: str literals cannot be combined with a str enum")
	}

	if c.mask&KindAny != 0 && c.mask&^(KindAny|kindConstraints) != 0 {
		return fmt.Errorf("schema: `any` cannot be combined with other types in %v", t)
	}
	if c.mask&kindCustomGroup != 0 && c.mask&^(kindCustomGroup|KindNone) != 0 {
		return fmt.Errorf("schema: type %v has no wire representation and cannot join a union", c.customT)
	}
	if k := c.mask & kindIntLike; k&(k-1) != 0 {
		return fmt.Errorf("schema: at most one int-like type per position")
	}
	if k := c.mask & kindStrLike; k&(k-1) != 0 {
		return fmt.Errorf("schema: at most one str-like type per position")
	}
	arrayLikes := 0
	for _, bit := range []Kind{KindList, KindSet, KindFrozenSet, KindVarTuple, KindFixTuple, KindStructArray, KindStructArrayUnion} {
		if c.mask&bit != 0 {
			arrayLikes++
		}
	}
	if arrayLikes > 1 {
		return fmt.Errorf("schema: at most one array-like type per position")
	}
	dictLikes := 0
	for _, bit := range []Kind{kindDictKey, KindStruct, KindStructUnion, KindTypedDict, KindDataclass} {
		if c.mask&bit != 0 {
			dictLikes++
		}
	}
	if dictLikes > 1 {
		return fmt.Errorf("schema: at most one dict-like type per position")
	}

	if len(c.descs) > 1 {
		if err := c.resolveUnion(); err != nil {
			return err
		}
	}

	if m != nil {
		if err := c.cons.merge(m, c.mask); err != nil {
			return err
		}
		if err := c.checkConstraintApplicability(); err != nil {
			return err
		}
	}
	c.mask |= c.cons.mask
	return nil
}

func (c *collector) checkConstraintApplicability() error {
	k := c.cons.mask
	if k&(KindIntMin|KindIntMax|KindIntMultipleOf) != 0 && c.mask&(kindIntLike|KindAny) == 0 {
		return fmt.Errorf("schema: int constraints require an int type")
	}
	if k&(KindFloatGe|KindFloatLe|KindFloatMultipleOf) != 0 && c.mask&(KindFloat|KindAny) == 0 {
		return fmt.Errorf("schema: float constraints require a float type")
	}
	if k&(KindStrRegex|KindStrMinLength|KindStrMaxLength) != 0 && c.mask&(kindStrLike|KindAny) == 0 {
		return fmt.Errorf("schema: str constraints require a str type")
	}
	if k&(KindTzAware|KindTzNaive) != 0 && c.mask&(KindDateTime|KindTime|KindAny) == 0 {
		return fmt.Errorf("schema: tz constraints require a datetime or time type")
	}
	return nil
}

// resolveUnion checks the struct-union invariants over the collected member
// descriptors and builds (or fetches) the tag dispatch lookup.
func (c *collector) resolveUnion() error {
	first := c.descs[0]
	for _, d := range c.descs[1:] {
		if d.ArrayLike != first.ArrayLike {
			return fmt.Errorf("schema: union members must agree on array_like (%s vs %s)", first.Name, d.Name)
		}
	}
	names := make([]string, len(c.descs))
	for i, d := range c.descs {
		if !d.Tagged {
			return fmt.Errorf("schema: union member %s has no tag", d.Name)
		}
		if d.TagField != first.TagField {
			return fmt.Errorf("schema: union members must share a tag field (%q vs %q)", first.TagField, d.TagField)
		}
		if d.TagIsInt != first.TagIsInt {
			return fmt.Errorf("schema: union tag values must all be str or all be int")
		}
		names[i] = d.GoType.String()
	}

	sort.Strings(names)
	key := strings.Join(names, "|")
	if u, ok := unionCache[key]; ok {
		c.setUnionMask(u)
		return nil
	}

	u := &StructUnion{
		TagField:  first.TagField,
		ArrayLike: first.ArrayLike,
	}
	u.JSONCompatible = true
	for _, d := range c.descs {
		if !descJSONCompatible(d, nil) {
			u.JSONCompatible = false
			break
		}
	}
	if first.TagIsInt {
		pairs := make(map[int64]any, len(c.descs))
		for _, d := range c.descs {
			if _, dup := pairs[d.TagInt]; dup {
				return fmt.Errorf("schema: duplicate union tag value %d", d.TagInt)
			}
			pairs[d.TagInt] = d
		}
		u.ByInt = NewIntLookup(pairs)
	} else {
		pairs := make(map[string]any, len(c.descs))
		for _, d := range c.descs {
			if _, dup := pairs[d.TagStr]; dup {
				return fmt.Errorf("schema: duplicate union tag value %q", d.TagStr)
			}
			pairs[d.TagStr] = d
		}
		u.ByStr = NewStrLookup(pairs)
	}

	if len(unionCache) >= unionCacheCap {
		for k := range unionCache {
			delete(unionCache, k)
			break
		}
	}
	unionCache[key] = u
	c.setUnionMask(u)
	return nil
}

func (c *collector) setUnionMask(u *StructUnion) {
	c.mask &^= KindStruct | KindStructArray
	if u.ArrayLike {
		c.mask |= KindStructArrayUnion
	} else {
		c.mask |= KindStructUnion
	}
	c.union = u
}

// descJSONCompatible reports whether every field schema of d can appear in a
// JSON message. Recursive structs are walked once; a cycle back to a struct
// already on the path counts as compatible, since its remaining fields are
// checked by the frame that entered it.
func descJSONCompatible(d *StructDesc, seen map[*StructDesc]bool) bool {
	if seen[d] {
		return true
	}
	if seen == nil {
		seen = make(map[*StructDesc]bool)
	}
	seen[d] = true
	for i := range d.Fields {
		sub := d.Fields[i].Node
		if sub == nil {
			// in-progress recursive build; the completed parent walks it
			continue
		}
		if !sub.jsonCompatible {
			return false
		}
		if sub.mask&(KindStruct|KindStructArray) != 0 && !descJSONCompatible(sub.StructDesc(), seen) {
			return false
		}
		if sub.mask&(KindStructUnion|KindStructArrayUnion) != 0 && !sub.StructUnion().JSONCompatible {
			return false
		}
	}
	return true
}

// emit allocates the node and fills the detail slots in canonical order,
// recursing into sub-descriptors.
func (c *collector) emit(depth int) (*TypeNode, error) {
	n := &TypeNode{mask: c.mask, jsonCompatible: true}
	nslots := c.mask.slotIndex(KindFixTuple << 1)
	if c.mask&KindFixTuple != 0 {
		nslots += c.fixLen
	}
	if nslots > 0 {
		n.details = make([]detail, 0, nslots)
	}

	push := func(d detail) { n.details = append(n.details, d) }
	child := func(t reflect.Type) (*TypeNode, error) {
		sub, err := compile(t, nil, depth+1)
		if err != nil {
			return nil, err
		}
		if !sub.jsonCompatible {
			n.jsonCompatible = false
		}
		return sub, nil
	}

	switch {
	case c.mask&(KindStruct|KindStructArray) != 0:
		push(detail{ref: c.descs[0]})
		if !descJSONCompatible(c.descs[0], nil) {
			n.jsonCompatible = false
		}
	case c.mask&(KindStructUnion|KindStructArrayUnion) != 0:
		push(detail{ref: c.union})
		if !c.union.JSONCompatible {
			n.jsonCompatible = false
		}
	case c.mask&kindCustomGroup != 0:
		push(detail{ref: c.customT})
	}

	if c.mask&KindIntEnum != 0 {
		push(detail{ref: c.enumInts})
	} else if c.mask&KindIntLiteral != 0 {
		push(detail{ref: intLiteralLookup(c.litInts)})
	}
	if c.mask&KindEnum != 0 {
		push(detail{ref: c.enumStrs})
	} else if c.mask&KindStrLiteral != 0 {
		push(detail{ref: strLiteralLookup(c.litStrs)})
	}

	if c.mask&(KindTypedDict|KindDataclass) != 0 {
		push(detail{ref: c.td})
		for i := range c.td.Fields {
			if sub := c.td.Fields[i].Node; sub != nil && !sub.jsonCompatible {
				n.jsonCompatible = false
			}
		}
	}

	if c.mask&KindStrRegex != 0 {
		push(detail{ref: c.cons.regex})
	}

	if c.mask&KindDict != 0 {
		key, err := child(c.keyT)
		if err != nil {
			return nil, err
		}
		if !jsonKeyCompatible(key) {
			n.jsonCompatible = false
		}
		val, err := child(c.valT)
		if err != nil {
			return nil, err
		}
		push(detail{ref: key})
		push(detail{ref: val})
	}

	if c.mask&kindArrayGroup != 0 {
		elem, err := child(c.elemT)
		if err != nil {
			return nil, err
		}
		push(detail{ref: elem})
	}

	if c.mask&KindIntMin != 0 {
		push(detail{num: uint64(c.cons.intMin)})
	}
	if c.mask&KindIntMax != 0 {
		push(detail{num: uint64(c.cons.intMax)})
	}
	if c.mask&KindIntMultipleOf != 0 {
		push(detail{num: uint64(c.cons.intMul)})
	}
	if c.mask&KindFloatGe != 0 {
		push(detail{num: math.Float64bits(c.cons.floatMin)})
	}
	if c.mask&KindFloatLe != 0 {
		push(detail{num: math.Float64bits(c.cons.floatMax)})
	}
	if c.mask&KindFloatMultipleOf != 0 {
		push(detail{num: math.Float64bits(c.cons.floatMul)})
	}
	if c.mask&KindStrMinLength != 0 {
		push(detail{num: c.cons.strMin})
	}
	if c.mask&KindStrMaxLength != 0 {
		push(detail{num: c.cons.strMax})
	}
	if c.mask&KindBytesMinLength != 0 {
		push(detail{num: c.cons.bytesMin})
	}
	if c.mask&KindBytesMaxLength != 0 {
		push(detail{num: c.cons.bytesMax})
	}
	if c.mask&KindArrayMinLength != 0 {
		push(detail{num: c.cons.arrMin})
	}
	if c.mask&KindArrayMaxLength != 0 {
		push(detail{num: c.cons.arrMax})
	}
	if c.mask&KindMapMinLength != 0 {
		push(detail{num: c.cons.mapMin})
	}
	if c.mask&KindMapMaxLength != 0 {
		push(detail{num: c.cons.mapMax})
	}

	if c.mask&KindFixTuple != 0 {
		push(detail{num: uint64(c.fixLen)})
		elem, err := child(c.fixElemT)
		if err != nil {
			return nil, err
		}
		for i := 0; i < c.fixLen; i++ {
			push(detail{ref: elem})
		}
	}

	if c.mask&KindExt != 0 {
		n.jsonCompatible = false
	}
	if !n.jsonCompatible {
		Logger().Debug("schema is not JSON-compatible", zap.Stringer("mask", c.mask))
	}
	return n, nil
}

// jsonKeyCompatible reports whether a dict key schema can be rendered as a
// JSON object key (strings, plus the scalar kinds encoded as quoted text).
func jsonKeyCompatible(key *TypeNode) bool {
	const ok = kindStrLike | kindIntLike | KindUUID | KindDateTime | KindDate |
		KindTime | KindDecimal | KindAny
	return key.mask&^(ok|kindConstraints) == 0
}

func intLiteralLookup(values []int64) *IntLookup {
	uniq := make(map[int64]any, len(values))
	keyParts := make([]string, 0, len(values))
	for _, v := range values {
		uniq[v] = literalMember(v)
	}
	keys := make([]int64, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	for _, k := range keys {
		keyParts = append(keyParts, fmt.Sprint(k))
	}
	ck := strings.Join(keyParts, "\x00")
	if l, ok := intLitCache[ck]; ok {
		return l
	}
	l := NewIntLookup(uniq)
	intLitCache[ck] = l
	return l
}

func strLiteralLookup(values []string) *StrLookup {
	uniq := make(map[string]any, len(values))
	for _, v := range values {
		uniq[v] = literalMember(v)
	}
	keys := make([]string, 0, len(uniq))
	for k := range uniq {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	ck := strings.Join(keys, "\x00")
	if l, ok := strLitCache[ck]; ok {
		return l
	}
	l := NewStrLookup(uniq)
	strLitCache[ck] = l
	return l
}

// literalMember is the value stored for a literal key; the decoded value is
// the key itself.
func literalMember(v any) any { return v }
