package schema

import (
	"fmt"
	"reflect"
)

// TDField is one declared key of a typed dictionary.
type TDField struct {
	Name     string
	Type     reflect.Type
	Node     *TypeNode
	Required bool
}

// TypedDictDesc is the compiled form of a registered typed dictionary: a
// named map[string]any type whose keys each carry their own schema, with a
// required-key subset.
type TypedDictDesc struct {
	GoType    reflect.Type
	Name      string
	Fields    []TDField
	NRequired int
}

// FieldByName returns the declared key with the given name, or nil.
func (d *TypedDictDesc) FieldByName(name string) *TDField {
	for i := range d.Fields {
		if d.Fields[i].Name == name {
			return &d.Fields[i]
		}
	}
	return nil
}

func buildTypedDictDesc(t reflect.Type, spec *typedDictSpec, depth int) (*TypedDictDesc, error) {
	d := &TypedDictDesc{GoType: t, Name: structName(t)}
	names := make([]string, 0, len(spec.fields))
	for name := range spec.fields {
		names = append(names, name)
	}
	// required keys first, then alphabetical; decode missing-key checks walk
	// the required prefix
	sortTDNames(names, spec.required)
	for _, name := range names {
		node, err := compile(spec.fields[name], nil, depth+1)
		if err != nil {
			return nil, fmt.Errorf("schema: %s: key %q: %w", d.Name, name, err)
		}
		f := TDField{Name: name, Type: spec.fields[name], Node: node, Required: spec.required[name]}
		if f.Required {
			d.NRequired++
		}
		d.Fields = append(d.Fields, f)
	}
	return d, nil
}

func sortTDNames(names []string, required map[string]bool) {
	less := func(a, b string) bool {
		ra, rb := required[a], required[b]
		if ra != rb {
			return ra
		}
		return a < b
	}
	for i := 1; i < len(names); i++ {
		for j := i; j > 0 && less(names[j], names[j-1]); j-- {
			names[j], names[j-1] = names[j-1], names[j]
		}
	}
}
