package schema

import (
	"fmt"
	"reflect"
	"strconv"
	"unsafe"
)

// Field is one field of a compiled struct descriptor.
type Field struct {
	// Name is the Go field name; EncodeName is the name on the wire after
	// the rename policy.
	Name       string
	EncodeName string

	Type reflect.Type
	Node *TypeNode

	// Offset is the byte offset from the struct base, with embedded struct
	// offsets folded in. Index is the reflect field index path.
	Offset uintptr
	Index  []int

	// Default holds the literal default value; Factory, when non-nil, is
	// invoked instead on each construction. HasDefault covers both, plus
	// zero-value defaults from the `optional` tag.
	Default    reflect.Value
	Factory    func() any
	HasDefault bool

	KwOnly bool
}

// Value returns the field's storage within the struct at base.
func (f *Field) Value(base unsafe.Pointer) reflect.Value {
	return reflect.NewAt(f.Type, unsafe.Add(base, f.Offset)).Elem()
}

// IsDefault reports whether v holds the field's default. The check is the
// fast path only: identity for literal defaults, emptiness for list/map
// factories. Factories producing anything else never report default.
func (f *Field) IsDefault(v reflect.Value) bool {
	if !f.HasDefault {
		return false
	}
	if f.Factory != nil {
		switch v.Kind() {
		case reflect.Slice, reflect.Map:
			return v.Len() == 0
		}
		return false
	}
	if !f.Default.IsValid() {
		return v.IsZero()
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		// only empty mutable defaults survive descriptor build
		return v.Len() == 0
	case reflect.Ptr, reflect.Interface:
		return v.IsNil() && f.Default.IsNil()
	}
	if !v.Comparable() {
		return false
	}
	return v.Interface() == f.Default.Interface()
}

// ApplyDefault writes the field's default into fv.
func (f *Field) ApplyDefault(fv reflect.Value) {
	if f.Factory != nil {
		out := reflect.ValueOf(f.Factory())
		if out.Type() != f.Type && out.Type().ConvertibleTo(f.Type) {
			out = out.Convert(f.Type)
		}
		fv.Set(out)
		return
	}
	if f.Default.IsValid() {
		fv.Set(f.Default)
		return
	}
	fv.Set(reflect.Zero(f.Type))
}

// StructDesc is the compiled layout of a user struct type: ordered fields
// with offsets and schemas, default configuration, and the tagged-union
// discriminator settings. Descriptors are built once per type and shared.
type StructDesc struct {
	GoType reflect.Type
	Name   string

	// Fields holds the positional fields followed by the NKwOnly
	// keyword-only fields.
	Fields  []Field
	NKwOnly int

	// NTrailingDefaults counts defaulted fields adjacent to the end, used
	// to fill short array-form messages.
	NTrailingDefaults int

	// Discriminator configuration. TagIsInt selects TagInt over TagStr.
	Tagged   bool
	TagField string
	TagStr   string
	TagInt   int64
	TagIsInt bool

	ArrayLike     bool
	OmitDefaults  bool
	ForbidUnknown bool
	Frozen        bool
	Eq            bool
	Order         bool
}

// NumPositional returns the number of fields accepted positionally.
func (d *StructDesc) NumPositional() int { return len(d.Fields) - d.NKwOnly }

// FindEncoded locates a field by its wire name with a linear scan starting at
// *rot, so messages whose keys arrive in field order pay one comparison per
// key. *rot advances past each hit and persists across calls.
func (d *StructDesc) FindEncoded(key string, rot *int) (int, *Field) {
	nf := len(d.Fields)
	for o := 0; o < nf; o++ {
		i := *rot + o
		if i >= nf {
			i -= nf
		}
		if d.Fields[i].EncodeName == key {
			*rot = i + 1
			if *rot == nf {
				*rot = 0
			}
			return i, &d.Fields[i]
		}
	}
	return -1, nil
}

// FieldByName returns the field with the given Go name, or nil.
func (d *StructDesc) FieldByName(name string) *Field {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

// New constructs an instance from positional and named arguments, applying
// defaults for anything not given. It returns a *T where T is the struct's
// Go type. Unknown names, duplicate assignments and missing required fields
// are errors.
func (d *StructDesc) New(pos []any, kw map[string]any) (any, error) {
	if n := d.NumPositional(); len(pos) > n {
		return nil, fmt.Errorf("%s takes at most %d positional arguments, got %d", d.Name, n, len(pos))
	}

	pv := reflect.New(d.GoType)
	base := pv.UnsafePointer()
	assigned := make([]bool, len(d.Fields))

	for i, a := range pos {
		f := &d.Fields[i]
		if err := assignArg(f.Value(base), a, f.Name); err != nil {
			return nil, err
		}
		assigned[i] = true
	}

	for name, a := range kw {
		idx := -1
		for i := range d.Fields {
			if d.Fields[i].Name == name {
				idx = i
				break
			}
		}
		if idx < 0 {
			return nil, fmt.Errorf("%s got an unexpected argument %q", d.Name, name)
		}
		if assigned[idx] {
			return nil, fmt.Errorf("%s got multiple values for argument %q", d.Name, name)
		}
		f := &d.Fields[idx]
		if err := assignArg(f.Value(base), a, f.Name); err != nil {
			return nil, err
		}
		assigned[idx] = true
	}

	for i := range d.Fields {
		if assigned[i] {
			continue
		}
		f := &d.Fields[i]
		if !f.HasDefault {
			return nil, fmt.Errorf("%s missing required argument %q", d.Name, f.Name)
		}
		f.ApplyDefault(f.Value(base))
	}

	return pv.Interface(), nil
}

func assignArg(fv reflect.Value, a any, name string) error {
	av := reflect.ValueOf(a)
	if !av.IsValid() {
		switch fv.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			fv.Set(reflect.Zero(fv.Type()))
			return nil
		}
		return fmt.Errorf("argument %q cannot be nil", name)
	}
	if av.Type() == fv.Type() {
		fv.Set(av)
		return nil
	}
	if av.Type().ConvertibleTo(fv.Type()) && convKindsMatch(av.Kind(), fv.Kind()) {
		fv.Set(av.Convert(fv.Type()))
		return nil
	}
	if fv.Kind() == reflect.Interface && av.Type().Implements(fv.Type()) {
		fv.Set(av)
		return nil
	}
	return fmt.Errorf("argument %q: cannot assign %v to %v", name, av.Type(), fv.Type())
}

// convKindsMatch guards reflect conversions against the surprising legal
// ones, like int -> string.
func convKindsMatch(a, b reflect.Kind) bool {
	return kindClass(a) != 0 && kindClass(a) == kindClass(b)
}

func kindClass(k reflect.Kind) int {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return 1
	case reflect.Float32, reflect.Float64:
		return 2
	case reflect.String:
		return 3
	case reflect.Bool:
		return 4
	case reflect.Slice:
		return 5
	case reflect.Map:
		return 6
	}
	return 0
}

// parseDefaultLit parses a tag default literal into a value of type t.
func parseDefaultLit(lit string, t reflect.Type) (reflect.Value, error) {
	if lit == "nil" {
		switch t.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			return reflect.Zero(t), nil
		}
		return reflect.Value{}, fmt.Errorf("default nil is invalid for %v", t)
	}
	v := reflect.New(t).Elem()
	switch t.Kind() {
	case reflect.Bool:
		b, err := strconv.ParseBool(lit)
		if err != nil {
			return reflect.Value{}, fmt.Errorf("invalid bool default %q", lit)
		}
		v.SetBool(b)
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		n, err := strconv.ParseInt(lit, 10, 64)
		if err != nil || v.OverflowInt(n) {
			return reflect.Value{}, fmt.Errorf("invalid int default %q for %v", lit, t)
		}
		v.SetInt(n)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		n, err := strconv.ParseUint(lit, 10, 64)
		if err != nil || v.OverflowUint(n) {
			return reflect.Value{}, fmt.Errorf("invalid uint default %q for %v", lit, t)
		}
		v.SetUint(n)
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(lit, 64)
		if err != nil || v.OverflowFloat(f) {
			return reflect.Value{}, fmt.Errorf("invalid float default %q for %v", lit, t)
		}
		v.SetFloat(f)
	case reflect.String:
		v.SetString(lit)
	default:
		return reflect.Value{}, fmt.Errorf("tag defaults are not supported for %v; use Register with a Defaults map", t)
	}
	return v, nil
}
