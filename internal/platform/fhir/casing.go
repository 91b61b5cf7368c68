package fhir

import (
	"sort"
	"strings"
	"unicode"
	"unicode/utf8"
)

// ToWire re-cases every mapping key in v from snake_case to camelCase.
// Sequences are walked element by element; scalars are returned unchanged.
func ToWire(v interface{}) interface{} {
	return recase(v, snakeToCamel)
}

// ToInternal re-cases every mapping key in v from camelCase to snake_case.
func ToInternal(v interface{}) interface{} {
	return recase(v, camelToSnake)
}

// recase walks mappings, sequences and scalars. When two source keys collapse
// onto the same target key, the key that was already in target form wins, so
// the result is independent of map iteration order.
func recase(v interface{}, rekey func(string) string) interface{} {
	switch val := v.(type) {
	case map[string]interface{}:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		out := make(map[string]interface{}, len(val))
		native := make(map[string]bool, len(val))
		for _, k := range keys {
			nk := rekey(k)
			if native[nk] {
				continue
			}
			out[nk] = recase(val[k], rekey)
			native[nk] = nk == k
		}
		return out
	case []interface{}:
		out := make([]interface{}, len(val))
		for i, item := range val {
			out[i] = recase(item, rekey)
		}
		return out
	default:
		return v
	}
}

// snakeToCamel joins underscore-separated parts, upper-casing the first rune of
// every part after the first. Leading underscores are kept ("_id" stays "_id").
// A part that does not start with a lower-case letter keeps its underscore, so
// "reading_1", "a__b" and "trailing_" survive camelToSnake unchanged.
func snakeToCamel(key string) string {
	trimmed := strings.TrimLeft(key, "_")
	prefix := key[:len(key)-len(trimmed)]
	if !strings.Contains(trimmed, "_") {
		return key
	}

	parts := strings.Split(trimmed, "_")
	var b strings.Builder
	b.Grow(len(key))
	b.WriteString(prefix)
	b.WriteString(parts[0])
	for _, p := range parts[1:] {
		r, size := utf8.DecodeRuneInString(p)
		if p == "" || !unicode.IsLower(r) {
			b.WriteByte('_')
			b.WriteString(p)
			continue
		}
		b.WriteRune(unicode.ToUpper(r))
		b.WriteString(p[size:])
	}
	return b.String()
}

// camelToSnake inserts an underscore before every upper-case rune that is not
// at the start of the key and lower-cases it.
func camelToSnake(key string) string {
	trimmed := strings.TrimLeft(key, "_")
	prefix := key[:len(key)-len(trimmed)]
	if strings.IndexFunc(trimmed, unicode.IsUpper) < 0 {
		return key
	}

	var b strings.Builder
	b.Grow(len(key) + 4)
	b.WriteString(prefix)
	for i, r := range trimmed {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			r = unicode.ToLower(r)
		}
		b.WriteRune(r)
	}
	return b.String()
}
