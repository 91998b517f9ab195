package schema

import (
	"fmt"
	"reflect"
	"sync"
)

// Options is a zero-size marker for embedding in user structs. Its struct tag
// carries struct-level configuration:
//
//	type Point struct {
//		schema.Options `pack:"tag=pt,array_like,omit_defaults"`
//		X int `pack:"x"`
//		Y int `pack:"y,default=0"`
//	}
//
// Recognized options: tag=<value>, tag_field=<name>, array_like,
// omit_defaults, forbid_unknown, frozen, order, eq=<bool>, rename=<policy>.
type Options struct{}

var optionsType = reflect.TypeOf(Options{})

// TypeOptions is the programmatic counterpart of the Options tag, for
// configuration that cannot be spelled in a string: default factories,
// rename callables and rename maps. Values set here override tag settings.
type TypeOptions struct {
	// Tag sets the union discriminator value: a string, an int64, or true
	// to use the type's name. TagFunc derives it from the type name.
	Tag     any
	TagFunc func(typeName string) any

	// TagField names the discriminator field. Defaults to "type".
	TagField string

	// Ternary struct flags; nil means unset (inherit or default).
	ArrayLike     *bool
	OmitDefaults  *bool
	ForbidUnknown *bool
	Frozen        *bool
	Eq            *bool
	Order         *bool

	// Rename is a policy name ("lower", "upper", "camel", "pascal",
	// "kebab"), a func(string) string, or a map[string]string.
	Rename any

	// Defaults maps field names to literal default values. Non-empty
	// mutable defaults (slices, maps) are rejected at descriptor build.
	Defaults map[string]any

	// Factories maps field names to zero-argument default factories,
	// invoked once per construction.
	Factories map[string]func() any
}

type registry struct {
	mu       sync.RWMutex
	options  map[reflect.Type]*TypeOptions
	enums    map[reflect.Type]*enumSpec
	unions   map[reflect.Type][]reflect.Type
	typedict map[reflect.Type]*typedDictSpec
}

type enumSpec struct {
	// exactly one of the two is non-nil
	strs map[string]any // value -> member (as the named Go type)
	ints map[int64]any

	once   sync.Once
	tbl any
}

// lookup returns the spec's shared lookup table (*StrLookup or *IntLookup),
// building it on first use. Sharing keeps schema rebuilds observationally
// identical.
func (s *enumSpec) lookup() any {
	s.once.Do(func() {
		if s.strs != nil {
			s.tbl = NewStrLookup(s.strs)
		} else {
			s.tbl = NewIntLookup(s.ints)
		}
	})
	return s.tbl
}

type typedDictSpec struct {
	fields   map[string]reflect.Type
	required map[string]bool
}

var reg = registry{
	options:  make(map[reflect.Type]*TypeOptions),
	enums:    make(map[reflect.Type]*enumSpec),
	unions:   make(map[reflect.Type][]reflect.Type),
	typedict: make(map[reflect.Type]*typedDictSpec),
}

// Register attaches TypeOptions to a struct type. v is a value or pointer of
// the type. Must be called before the type's schema is first compiled.
func Register(v any, opts TypeOptions) {
	t := indirectType(reflect.TypeOf(v))
	if t.Kind() != reflect.Struct {
		panic(fmt.Sprintf("schema: Register requires a struct type, got %v", t))
	}
	reg.mu.Lock()
	reg.options[t] = &opts
	reg.mu.Unlock()
	dropCached(t)
}

// RegisterEnum declares a named string or integer type as an enum with the
// given member values. Decoding validates against the member set; the decoded
// value is the member itself.
func RegisterEnum(values any) error {
	rv := reflect.ValueOf(values)
	if rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return fmt.Errorf("schema: RegisterEnum requires a non-empty slice of enum members, got %T", values)
	}
	t := rv.Type().Elem()
	spec := &enumSpec{}
	switch t.Kind() {
	case reflect.String:
		spec.strs = make(map[string]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			m := rv.Index(i)
			spec.strs[m.String()] = m.Interface()
		}
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		spec.ints = make(map[int64]any, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			m := rv.Index(i)
			spec.ints[m.Int()] = m.Interface()
		}
	default:
		return fmt.Errorf("schema: enum base type must be a string or integer kind, got %v", t)
	}
	if t.PkgPath() == "" {
		return fmt.Errorf("schema: enums require a named type, got %v", t)
	}
	reg.mu.Lock()
	reg.enums[t] = spec
	reg.mu.Unlock()
	dropCached(t)
	return nil
}

// RegisterUnion declares the member types of an interface union. iface is a
// nil pointer to the interface type, e.g. (*Shape)(nil); members are values
// or pointers of the member types. Struct members must be tagged when there
// is more than one.
func RegisterUnion(iface any, members ...any) error {
	it := reflect.TypeOf(iface)
	if it == nil || it.Kind() != reflect.Ptr || it.Elem().Kind() != reflect.Interface {
		return fmt.Errorf("schema: RegisterUnion requires a nil interface pointer like (*Shape)(nil), got %T", iface)
	}
	it = it.Elem()
	if len(members) == 0 {
		return fmt.Errorf("schema: union %v has no members", it)
	}
	ts := make([]reflect.Type, len(members))
	for i, m := range members {
		mt := indirectType(reflect.TypeOf(m))
		if mt == nil {
			return fmt.Errorf("schema: union %v member %d is untyped nil", it, i)
		}
		if !mt.Implements(it) && !reflect.PtrTo(mt).Implements(it) {
			return fmt.Errorf("schema: union member %v does not implement %v", mt, it)
		}
		ts[i] = mt
	}
	reg.mu.Lock()
	reg.unions[it] = ts
	reg.mu.Unlock()
	dropCached(it)
	return nil
}

// RegisterTypedDict declares a named map[string]any type as a typed
// dictionary: per-key schemas given as prototype values, plus the set of
// required keys.
func RegisterTypedDict(m any, fields map[string]any, required ...string) error {
	t := reflect.TypeOf(m)
	if t == nil || t.Kind() != reflect.Map || t.Key().Kind() != reflect.String ||
		t.Elem().Kind() != reflect.Interface || t.Elem().NumMethod() != 0 {
		return fmt.Errorf("schema: RegisterTypedDict requires a named map[string]any type, got %T", m)
	}
	if t.PkgPath() == "" {
		return fmt.Errorf("schema: typed dicts require a named type, got %v", t)
	}
	spec := &typedDictSpec{
		fields:   make(map[string]reflect.Type, len(fields)),
		required: make(map[string]bool, len(required)),
	}
	for name, proto := range fields {
		pt := reflect.TypeOf(proto)
		if pt == nil {
			return fmt.Errorf("schema: typed dict field %q has untyped nil prototype", name)
		}
		spec.fields[name] = pt
	}
	for _, name := range required {
		if _, ok := spec.fields[name]; !ok {
			return fmt.Errorf("schema: typed dict required key %q is not a field", name)
		}
		spec.required[name] = true
	}
	reg.mu.Lock()
	reg.typedict[t] = spec
	reg.mu.Unlock()
	dropCached(t)
	return nil
}

func indirectType(t reflect.Type) reflect.Type {
	for t != nil && t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	return t
}

func lookupOptions(t reflect.Type) *TypeOptions {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.options[t]
}

func lookupEnum(t reflect.Type) *enumSpec {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.enums[t]
}

func lookupUnion(t reflect.Type) []reflect.Type {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.unions[t]
}

func lookupTypedDict(t reflect.Type) *typedDictSpec {
	reg.mu.RLock()
	defer reg.mu.RUnlock()
	return reg.typedict[t]
}
