package schema

import (
	"fmt"
	"reflect"
	"strconv"
)

// buildStructDesc returns the descriptor for struct type t, building it on
// first use. The descriptor is cached before its field schemas are compiled
// so self-referential types resolve to the in-progress descriptor instead of
// recursing forever. Callers hold buildMu.
func buildStructDesc(t reflect.Type, depth int) (*StructDesc, error) {
	if d, ok := descCache[t]; ok {
		return d, nil
	}
	d := &StructDesc{GoType: t, Name: structName(t), Eq: true}
	descCache[t] = d
	if err := fillStructDesc(d, t, depth); err != nil {
		delete(descCache, t)
		return nil, err
	}
	return d, nil
}

func structName(t reflect.Type) string {
	if n := t.Name(); n != "" {
		return n
	}
	return t.String()
}

// rawField pairs a collected reflect field with its parsed tag until the
// descriptor is assembled.
type rawField struct {
	sf     reflect.StructField
	ft     fieldTag
	offset uintptr
	index  []int
	depth  int
}

func fillStructDesc(d *StructDesc, t reflect.Type, depth int) error {
	var st structTag
	var raws []rawField
	if err := collectStructFields(t, nil, 0, 0, &st, &raws); err != nil {
		return fmt.Errorf("schema: %s: %w", d.Name, err)
	}

	opts := lookupOptions(t)
	if err := applyStructConfig(d, &st, opts); err != nil {
		return fmt.Errorf("schema: %s: %w", d.Name, err)
	}

	ren, err := resolveRename(structRename(&st, opts))
	if err != nil {
		return fmt.Errorf("schema: %s: %w", d.Name, err)
	}

	// positional fields keep declaration order; kw-only fields move to the
	// tail, preserving their relative order
	ordered := make([]rawField, 0, len(raws))
	for _, r := range raws {
		if !r.ft.kwOnly {
			ordered = append(ordered, r)
		}
	}
	nkw := len(raws) - len(ordered)
	for _, r := range raws {
		if r.ft.kwOnly {
			ordered = append(ordered, r)
		}
	}
	d.NKwOnly = nkw

	d.Fields = make([]Field, len(ordered))
	seen := make(map[string]string, len(ordered))
	for i, r := range ordered {
		f := &d.Fields[i]
		f.Name = r.sf.Name
		f.Type = r.sf.Type
		f.Offset = r.offset
		f.Index = r.index
		f.KwOnly = r.ft.kwOnly

		f.EncodeName = r.ft.name
		if f.EncodeName == "" {
			f.EncodeName = f.Name
			if ren != nil {
				f.EncodeName = ren(f.Name)
			}
		}
		if f.EncodeName == "" {
			return fmt.Errorf("schema: %s: field %s renames to an empty string", d.Name, f.Name)
		}
		if !jsonSafeName(f.EncodeName) {
			return fmt.Errorf("schema: %s: field name %q requires JSON escaping", d.Name, f.EncodeName)
		}
		if prev, dup := seen[f.EncodeName]; dup {
			return fmt.Errorf("schema: %s: fields %s and %s both encode as %q", d.Name, prev, f.Name, f.EncodeName)
		}
		seen[f.EncodeName] = f.Name

		if err := applyFieldDefault(d, f, &r, opts); err != nil {
			return fmt.Errorf("schema: %s: field %s: %w", d.Name, f.Name, err)
		}

		meta := &r.ft.meta
		if meta.isZero() {
			meta = nil
		}
		node, err := compile(f.Type, meta, depth+1)
		if err != nil {
			return err
		}
		if r.ft.tuple {
			node, err = asVarTuple(node)
			if err != nil {
				return fmt.Errorf("schema: %s: field %s: %w", d.Name, f.Name, err)
			}
		}
		f.Node = node
	}

	// a required positional field may not follow a defaulted one
	lastDefault := -1
	for i := 0; i < d.NumPositional(); i++ {
		if d.Fields[i].HasDefault {
			lastDefault = i
		} else if lastDefault >= 0 {
			return fmt.Errorf("schema: %s: required field %s follows defaulted field %s",
				d.Name, d.Fields[i].Name, d.Fields[lastDefault].Name)
		}
	}

	for i := len(d.Fields) - 1; i >= 0 && d.Fields[i].HasDefault; i-- {
		d.NTrailingDefaults++
	}

	if err := resolveStructTag(d, &st, opts); err != nil {
		return fmt.Errorf("schema: %s: %w", d.Name, err)
	}
	if d.Tagged {
		if _, collides := seen[d.TagField]; collides {
			return fmt.Errorf("schema: %s: tag field %q collides with a field name", d.Name, d.TagField)
		}
	}

	if d.Order && !d.Eq {
		return fmt.Errorf("schema: %s: order requires eq", d.Name)
	}
	return nil
}

// collectStructFields flattens t's fields, recursing through embedded
// structs so base fields merge in MRO fashion: a shallower field with the
// same name overrides a deeper one in place.
func collectStructFields(t reflect.Type, prefix []int, baseOff uintptr, level int, st *structTag, out *[]rawField) error {
	for i := 0; i < t.NumField(); i++ {
		sf := t.Field(i)

		if sf.Type == optionsType {
			sub, err := parseStructTag(sf.Tag.Get(TagKey))
			if err != nil {
				return err
			}
			mergeStructTag(st, &sub)
			continue
		}
		if sf.Name == "_" {
			continue
		}
		if sf.PkgPath != "" {
			if !sf.Anonymous {
				continue
			}
			return fmt.Errorf("embedded unexported type %v is not supported", sf.Type)
		}
		if sf.Anonymous && sf.Type.Kind() == reflect.Ptr {
			return fmt.Errorf("embedded pointer type %v is not supported", sf.Type)
		}

		tagged := sf.Tag.Get(TagKey) != ""
		if sf.Anonymous && sf.Type.Kind() == reflect.Struct && !tagged &&
			sf.Type != timeType && sf.Type != dateType && sf.Type != timeOfDayType &&
			sf.Type != uuidType && sf.Type != decimalType && sf.Type != extType {
			idx := append(append([]int(nil), prefix...), i)
			if err := collectStructFields(sf.Type, idx, baseOff+sf.Offset, level+1, st, out); err != nil {
				return err
			}
			continue
		}

		ft, err := parseFieldTag(sf.Tag.Get(TagKey))
		if err != nil {
			return fmt.Errorf("field %s: %w", sf.Name, err)
		}
		if ft.skip {
			continue
		}

		r := rawField{
			sf:     sf,
			ft:     ft,
			offset: baseOff + sf.Offset,
			index:  append(append([]int(nil), prefix...), i),
			depth:  level,
		}

		replaced := false
		for j := range *out {
			if (*out)[j].sf.Name == sf.Name {
				if (*out)[j].depth <= level {
					return fmt.Errorf("duplicate field %s", sf.Name)
				}
				(*out)[j] = r
				replaced = true
				break
			}
		}
		if !replaced {
			*out = append(*out, r)
		}
	}
	return nil
}

func mergeStructTag(dst, src *structTag) {
	if src.hasTag {
		dst.hasTag, dst.tag = true, src.tag
	}
	if src.tagField != "" {
		dst.tagField = src.tagField
	}
	if src.rename != "" {
		dst.rename = src.rename
	}
	for _, p := range []struct{ d, s **bool }{
		{&dst.arrayLike, &src.arrayLike},
		{&dst.omitDefaults, &src.omitDefaults},
		{&dst.forbidUnknown, &src.forbidUnknown},
		{&dst.frozen, &src.frozen},
		{&dst.eq, &src.eq},
		{&dst.order, &src.order},
	} {
		if *p.s != nil {
			*p.d = *p.s
		}
	}
}

func applyStructConfig(d *StructDesc, st *structTag, opts *TypeOptions) error {
	set := func(dst *bool, tag *bool, opt *bool) {
		if tag != nil {
			*dst = *tag
		}
		if opt != nil {
			*dst = *opt
		}
	}
	if st.eq == nil {
		d.Eq = true
	}
	set(&d.Eq, st.eq, optBool(opts, func(o *TypeOptions) *bool { return o.Eq }))
	set(&d.Order, st.order, optBool(opts, func(o *TypeOptions) *bool { return o.Order }))
	set(&d.Frozen, st.frozen, optBool(opts, func(o *TypeOptions) *bool { return o.Frozen }))
	set(&d.ArrayLike, st.arrayLike, optBool(opts, func(o *TypeOptions) *bool { return o.ArrayLike }))
	set(&d.OmitDefaults, st.omitDefaults, optBool(opts, func(o *TypeOptions) *bool { return o.OmitDefaults }))
	set(&d.ForbidUnknown, st.forbidUnknown, optBool(opts, func(o *TypeOptions) *bool { return o.ForbidUnknown }))
	return nil
}

func optBool(opts *TypeOptions, get func(*TypeOptions) *bool) *bool {
	if opts == nil {
		return nil
	}
	return get(opts)
}

func structRename(st *structTag, opts *TypeOptions) any {
	if opts != nil && opts.Rename != nil {
		return opts.Rename
	}
	if st.rename != "" {
		return st.rename
	}
	return nil
}

func resolveStructTag(d *StructDesc, st *structTag, opts *TypeOptions) error {
	var tag any
	switch {
	case opts != nil && opts.TagFunc != nil:
		tag = opts.TagFunc(d.Name)
	case opts != nil && opts.Tag != nil:
		tag = opts.Tag
	case st.hasTag:
		if st.tag == "true" {
			tag = true
		} else if n, err := strconv.ParseInt(st.tag, 10, 64); err == nil {
			tag = n
		} else {
			tag = st.tag
		}
	default:
		return nil
	}

	d.Tagged = true
	switch v := tag.(type) {
	case bool:
		if !v {
			d.Tagged = false
			return nil
		}
		d.TagStr = d.Name
	case string:
		d.TagStr = v
	case int:
		d.TagInt, d.TagIsInt = int64(v), true
	case int64:
		d.TagInt, d.TagIsInt = v, true
	default:
		return fmt.Errorf("tag must be a string, int or bool, got %T", tag)
	}

	d.TagField = "type"
	if st.tagField != "" {
		d.TagField = st.tagField
	}
	if opts != nil && opts.TagField != "" {
		d.TagField = opts.TagField
	}
	return nil
}

func applyFieldDefault(d *StructDesc, f *Field, r *rawField, opts *TypeOptions) error {
	if opts != nil {
		if fac, ok := opts.Factories[f.Name]; ok {
			f.Factory = fac
			f.HasDefault = true
			return nil
		}
		if dv, ok := opts.Defaults[f.Name]; ok {
			return setLiteralDefault(f, reflect.ValueOf(dv))
		}
	}
	if r.ft.hasDefault {
		v, err := parseDefaultLit(r.ft.defaultLit, f.Type)
		if err != nil {
			return err
		}
		f.Default = v
		f.HasDefault = true
		return nil
	}
	if r.ft.optional {
		f.HasDefault = true
	}
	return nil
}

func setLiteralDefault(f *Field, v reflect.Value) error {
	if !v.IsValid() {
		switch f.Type.Kind() {
		case reflect.Ptr, reflect.Interface, reflect.Slice, reflect.Map:
			f.Default = reflect.Zero(f.Type)
			f.HasDefault = true
			return nil
		}
		return fmt.Errorf("default nil is invalid for %v", f.Type)
	}
	if v.Type() != f.Type {
		if !v.Type().ConvertibleTo(f.Type) || !convKindsMatch(v.Kind(), f.Type.Kind()) {
			return fmt.Errorf("default value type %v does not match field type %v", v.Type(), f.Type)
		}
		v = v.Convert(f.Type)
	}
	switch v.Kind() {
	case reflect.Slice, reflect.Map:
		if v.Len() > 0 {
			return fmt.Errorf("mutable default values must be empty; use a Factory for non-empty defaults")
		}
	case reflect.Ptr:
		if !v.IsNil() {
			return fmt.Errorf("pointer defaults would be shared between instances; use a Factory")
		}
	case reflect.Struct:
		if sd, ok := descCache[v.Type()]; ok && sd.GoType == v.Type() && !sd.Frozen {
			return fmt.Errorf("struct default values require the struct to be frozen")
		}
	}
	f.Default = v
	f.HasDefault = true
	return nil
}

// asVarTuple rebrands a list node as a vartuple. Both kinds share the
// array-element slot group, and no slot-bearing bit sits between them, so the
// detail layout carries over unchanged.
func asVarTuple(n *TypeNode) (*TypeNode, error) {
	if n.mask&KindList == 0 {
		return nil, fmt.Errorf("the tuple option requires a slice field")
	}
	return &TypeNode{
		mask:           (n.mask &^ KindList) | KindVarTuple,
		details:        n.details,
		jsonCompatible: n.jsonCompatible,
	}, nil
}
