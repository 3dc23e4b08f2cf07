package gateway

import (
	"strings"
)

// StripFences removes a single markdown code fence wrapping a response, with
// or without a language tag. Interior fences are left alone.
func StripFences(s string) string {
	trimmed := strings.TrimSpace(s)
	if !strings.HasPrefix(trimmed, "```") {
		return trimmed
	}
	rest := strings.TrimPrefix(trimmed, "```")
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		tag := strings.TrimSpace(rest[:nl])
		if tag == "" || isFenceTag(tag) {
			rest = rest[nl+1:]
		}
	}
	rest = strings.TrimSpace(rest)
	rest = strings.TrimSuffix(rest, "```")
	return strings.TrimSpace(rest)
}

func isFenceTag(tag string) bool {
	switch strings.ToLower(tag) {
	case "json", "javascript", "text", "markdown":
		return true
	}
	return false
}

// ValidateSchema shapes a decoded object to the declared keys: missing keys
// are filled with explicit nulls, undeclared keys are dropped. An empty
// schema passes everything through.
func ValidateSchema(obj map[string]any, schema []string) map[string]any {
	if len(schema) == 0 {
		return obj
	}
	out := make(map[string]any, len(schema))
	for _, key := range schema {
		if v, ok := obj[key]; ok {
			out[key] = v
		} else {
			out[key] = nil
		}
	}
	return out
}
