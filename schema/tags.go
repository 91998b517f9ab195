package schema

import (
	"fmt"
	"strconv"
	"strings"
)

// TagKey is the struct tag key read by the schema builder.
const TagKey = "pack"

// fieldTag is the parsed form of a field's `pack:"..."` tag.
type fieldTag struct {
	name       string
	skip       bool
	kwOnly     bool
	optional   bool // defaulted to the zero value
	tuple      bool // slice encodes/decodes as a vartuple
	hasDefault bool
	defaultLit string
	meta       Meta
}

// parseFieldTag parses a field tag of the form
// "name,opt,opt=value,...". The first item is the encoded name ("" keeps the
// Go name, "-" skips the field). Constraint values containing commas (regex
// patterns, mostly) must be attached programmatically instead.
func parseFieldTag(tag string) (fieldTag, error) {
	var ft fieldTag
	if tag == "" {
		return ft, nil
	}
	parts := strings.Split(tag, ",")
	if parts[0] == "-" {
		ft.skip = true
		return ft, nil
	}
	ft.name = parts[0]

	for _, p := range parts[1:] {
		key, val, hasVal := strings.Cut(p, "=")
		switch key {
		case "":
			continue
		case "kwonly":
			ft.kwOnly = true
		case "optional":
			ft.optional = true
		case "tuple":
			ft.tuple = true
		case "default":
			ft.hasDefault = true
			ft.defaultLit = val
		case "ge", "gt", "le", "lt", "multiple_of":
			if !hasVal {
				return ft, fmt.Errorf("tag option %q requires a value", key)
			}
			n, err := parseBoundLit(val)
			if err != nil {
				return ft, fmt.Errorf("tag option %q: %w", key, err)
			}
			switch key {
			case "ge":
				ft.meta.Ge = n
			case "gt":
				ft.meta.Gt = n
			case "le":
				ft.meta.Le = n
			case "lt":
				ft.meta.Lt = n
			case "multiple_of":
				ft.meta.MultipleOf = n
			}
		case "pattern":
			ft.meta.Pattern = val
		case "min_length", "max_length":
			if !hasVal {
				return ft, fmt.Errorf("tag option %q requires a value", key)
			}
			n, err := strconv.Atoi(val)
			if err != nil {
				return ft, fmt.Errorf("tag option %q: %w", key, err)
			}
			if key == "min_length" {
				ft.meta.MinLength = &n
			} else {
				ft.meta.MaxLength = &n
			}
		case "tz":
			switch val {
			case "aware":
				ft.meta.TzAware = true
			case "naive":
				ft.meta.TzNaive = true
			default:
				return ft, fmt.Errorf("tag option tz must be \"aware\" or \"naive\", got %q", val)
			}
		case "values":
			for _, lit := range strings.Split(val, "|") {
				if n, err := strconv.ParseInt(lit, 10, 64); err == nil {
					ft.meta.IntValues = append(ft.meta.IntValues, n)
				} else {
					ft.meta.StrValues = append(ft.meta.StrValues, lit)
				}
			}
		default:
			return ft, fmt.Errorf("unknown tag option %q", key)
		}
	}
	return ft, nil
}

// parseBoundLit parses a numeric bound literal, preserving the int/float
// distinction.
func parseBoundLit(s string) (any, error) {
	if n, err := strconv.ParseInt(s, 10, 64); err == nil {
		return n, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return nil, fmt.Errorf("invalid numeric bound %q", s)
	}
	return f, nil
}

// structTag is the parsed form of the embedded Options marker's tag.
type structTag struct {
	tag      string
	hasTag   bool
	tagField string
	rename   string

	arrayLike     *bool
	omitDefaults  *bool
	forbidUnknown *bool
	frozen        *bool
	eq            *bool
	order         *bool
}

func parseStructTag(tag string) (structTag, error) {
	var st structTag
	if tag == "" {
		return st, nil
	}
	for _, p := range strings.Split(tag, ",") {
		key, val, hasVal := strings.Cut(p, "=")
		switch key {
		case "":
			continue
		case "tag":
			st.hasTag = true
			st.tag = val
			if !hasVal {
				st.tag = "true"
			}
		case "tag_field":
			st.tagField = val
		case "rename":
			st.rename = val
		case "array_like":
			st.arrayLike = boolOpt(val, hasVal)
		case "omit_defaults":
			st.omitDefaults = boolOpt(val, hasVal)
		case "forbid_unknown":
			st.forbidUnknown = boolOpt(val, hasVal)
		case "frozen":
			st.frozen = boolOpt(val, hasVal)
		case "eq":
			st.eq = boolOpt(val, hasVal)
		case "order":
			st.order = boolOpt(val, hasVal)
		default:
			return st, fmt.Errorf("unknown struct option %q", key)
		}
	}
	return st, nil
}

func boolOpt(val string, hasVal bool) *bool {
	b := !hasVal || val != "false"
	return &b
}
