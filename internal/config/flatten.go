package config

import (
	"slices"
	"strings"
)

const keySep = "."

// secretKeys are masked by ListValues and the config CLI.
var secretKeys = []string{"key", "telegram.token"}

func IsSecretKey(key string) bool {
	return slices.Contains(secretKeys, key)
}

// Flatten turns nested JSON objects into dotted keys:
// {"collector": {"base_url": "x"}} becomes {"collector.base_url": "x"}.
// Empty objects disappear.
func Flatten(m map[string]any) map[string]any {
	out := make(map[string]any)
	var walk func(prefix string, node map[string]any)
	walk = func(prefix string, node map[string]any) {
		for k, v := range node {
			path := k
			if prefix != "" {
				path = prefix + keySep + k
			}
			if child, ok := v.(map[string]any); ok {
				walk(path, child)
				continue
			}
			out[path] = v
		}
	}
	walk("", m)
	return out
}

// Unflatten is the inverse of Flatten. A dotted key wins over a scalar
// stored at one of its prefixes.
func Unflatten(flat map[string]any) map[string]any {
	out := make(map[string]any)
	for path, v := range flat {
		parts := strings.Split(path, keySep)
		node := out
		for _, part := range parts[:len(parts)-1] {
			child, ok := node[part].(map[string]any)
			if !ok {
				child = make(map[string]any)
				node[part] = child
			}
			node = child
		}
		leaf := parts[len(parts)-1]
		if _, isBranch := node[leaf].(map[string]any); isBranch {
			continue
		}
		node[leaf] = v
	}
	return out
}

// MaskSecrets copies flat, replacing non-empty secret strings with "***"
// followed by their last four characters.
func MaskSecrets(flat map[string]any) map[string]any {
	out := make(map[string]any, len(flat))
	for k, v := range flat {
		out[k] = v
		if s, ok := v.(string); ok && s != "" && IsSecretKey(k) {
			out[k] = mask(s)
		}
	}
	return out
}

func mask(s string) string {
	if len(s) > 4 {
		s = s[len(s)-4:]
	}
	return "***" + s
}
