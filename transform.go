package energygrid

import (
	"net/url"
	"strings"
	"unicode"
)

// The backend speaks snake_case while callers work in camelCase. These
// rewriters apply recursively to objects and arrays, leave primitives and
// binary payloads untouched, and are idempotent: re-applying to already
// converted keys is a no-op, so repeated passes over shared substructures
// cannot corrupt data.

// ToClient rewrites every object key from server convention (snake_case) to
// client convention (camelCase).
func ToClient(v any) any {
	return rewriteKeys(v, snakeToCamel)
}

// ToServer rewrites every object key from client convention (camelCase) to
// server convention (snake_case).
func ToServer(v any) any {
	return rewriteKeys(v, camelToSnake)
}

// QueryToServer rewrites query parameter names to server convention.
func QueryToServer(values url.Values) url.Values {
	if values == nil {
		return nil
	}
	out := make(url.Values, len(values))
	for k, vs := range values {
		out[camelToSnake(k)] = vs
	}
	return out
}

func rewriteKeys(v any, rename func(string) string) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[rename(k)] = rewriteKeys(item, rename)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = rewriteKeys(item, rename)
		}
		return out
	case []byte:
		// Binary payloads are never rewritten.
		return val
	default:
		return val
	}
}

// snakeToCamel converts "current_page" to "currentPage". Keys without
// underscores pass through unchanged, which makes the conversion idempotent.
func snakeToCamel(key string) string {
	if !strings.Contains(key, "_") {
		return key
	}
	var b strings.Builder
	b.Grow(len(key))
	upperNext := false
	for i, r := range key {
		if r == '_' {
			// Leading or trailing underscores are preserved as-is to avoid
			// mangling keys like "_id".
			if i == 0 || i == len(key)-1 {
				b.WriteRune(r)
				continue
			}
			upperNext = true
			continue
		}
		if upperNext {
			b.WriteRune(unicode.ToUpper(r))
			upperNext = false
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// camelToSnake converts "currentPage" to "current_page". Already snake_cased
// keys contain no uppercase runes and pass through unchanged.
func camelToSnake(key string) string {
	hasUpper := false
	for _, r := range key {
		if unicode.IsUpper(r) {
			hasUpper = true
			break
		}
	}
	if !hasUpper {
		return key
	}
	var b strings.Builder
	b.Grow(len(key) + 4)
	for i, r := range key {
		if unicode.IsUpper(r) {
			if i > 0 {
				b.WriteByte('_')
			}
			b.WriteRune(unicode.ToLower(r))
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}
