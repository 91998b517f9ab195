package schema

import (
	"fmt"
	"strings"
	"unicode"
)

// Field renaming policies. A policy maps the Go field name to its encoded
// name; renamed names must stay unique and contain no character requiring a
// JSON escape.

type renamer func(string) string

func resolveRename(policy any) (renamer, error) {
	switch p := policy.(type) {
	case nil:
		return nil, nil
	case func(string) string:
		return p, nil
	case map[string]string:
		return func(s string) string {
			if r, ok := p[s]; ok {
				return r
			}
			return s
		}, nil
	case string:
		switch p {
		case "":
			return nil, nil
		case "lower":
			return strings.ToLower, nil
		case "upper":
			return strings.ToUpper, nil
		case "camel":
			return renameCamel, nil
		case "pascal":
			return renamePascal, nil
		case "kebab":
			return renameKebab, nil
		default:
			return nil, fmt.Errorf("unknown rename policy %q", p)
		}
	default:
		return nil, fmt.Errorf("rename policy must be a string, func(string) string or map[string]string, got %T", policy)
	}
}

// splitWords breaks a name on underscores and case boundaries:
// "HTTPPort" -> [HTTP Port], "foo_bar" -> [foo bar], "FooBar" -> [Foo Bar].
func splitWords(s string) []string {
	var words []string
	runes := []rune(s)
	start := 0
	for i := 1; i <= len(runes); i++ {
		if i == len(runes) {
			if start < i {
				words = append(words, string(runes[start:i]))
			}
			break
		}
		r := runes[i]
		if r == '_' {
			if start < i {
				words = append(words, string(runes[start:i]))
			}
			start = i + 1
			continue
		}
		if unicode.IsUpper(r) {
			prev := runes[i-1]
			next := i+1 < len(runes) && unicode.IsLower(runes[i+1])
			if unicode.IsLower(prev) || (unicode.IsUpper(prev) && next) {
				words = append(words, string(runes[start:i]))
				start = i
			}
		}
	}
	return words
}

func renameCamel(s string) string {
	words := splitWords(s)
	var b strings.Builder
	for i, w := range words {
		if i == 0 {
			b.WriteString(strings.ToLower(w))
			continue
		}
		b.WriteString(titleWord(w))
	}
	return b.String()
}

func renamePascal(s string) string {
	var b strings.Builder
	for _, w := range splitWords(s) {
		b.WriteString(titleWord(w))
	}
	return b.String()
}

func renameKebab(s string) string {
	words := splitWords(s)
	for i, w := range words {
		words[i] = strings.ToLower(w)
	}
	return strings.Join(words, "-")
}

func titleWord(w string) string {
	if w == "" {
		return w
	}
	r := []rune(strings.ToLower(w))
	r[0] = unicode.ToUpper(r[0])
	return string(r)
}

// jsonSafeName reports whether the name can be emitted as a JSON object key
// without escaping.
func jsonSafeName(s string) bool {
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c < 0x20 || c == '"' || c == '\\' {
			return false
		}
	}
	return true
}
