package ingest

import (
	"encoding/json"
	"strconv"
	"strings"
)

// node walks a generic JSON tree. Missing keys and wrong shapes yield nil
// instead of failing, so callers read optional fields without ceremony.
func node(v any, path ...string) any {
	for _, key := range path {
		m, ok := v.(map[string]any)
		if !ok {
			return nil
		}
		v = m[key]
	}
	return v
}

func object(v any, path ...string) map[string]any {
	m, _ := node(v, path...).(map[string]any)
	return m
}

// text flattens a scalar field. Source records sometimes wrap scalars as
// {"#text": "..."} and carry explicit nulls, both of which are accepted.
func text(v any, path ...string) string {
	switch t := node(v, path...).(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	case map[string]any:
		return text(t, "#text")
	default:
		return ""
	}
}

// firstText returns the first non-empty text among alternative paths.
func firstText(v any, paths ...[]string) string {
	for _, p := range paths {
		if s := text(v, p...); s != "" {
			return s
		}
	}
	return ""
}

// list normalizes absent, single and repeated elements to a slice.
func list(v any, path ...string) []any {
	switch t := node(v, path...).(type) {
	case nil:
		return nil
	case []any:
		return t
	default:
		return []any{t}
	}
}

func has(m map[string]any, key string) bool {
	if m == nil {
		return false
	}
	v, ok := m[key]
	return ok && v != nil
}
