// Package jsonmap converts between GORM JSON maps and the plain
// string maps used for environment variables.
package jsonmap

import (
	"fmt"
	"strings"

	"gorm.io/datatypes"
)

// FromStringMap converts a string map into a GORM JSON map value.
func FromStringMap(values map[string]string) datatypes.JSONMap {
	out := make(datatypes.JSONMap, len(values))
	for key, value := range values {
		out[key] = value
	}
	return out
}

// Merge sets values on dst, returning the updated map. An empty
// value removes the key.
func Merge(dst datatypes.JSONMap, values map[string]string) datatypes.JSONMap {
	if dst == nil {
		dst = datatypes.JSONMap{}
	}
	for key, value := range values {
		if value == "" {
			delete(dst, key)
			continue
		}
		dst[key] = value
	}
	return dst
}

// WithPrefix renders the entries whose key starts with prefix as
// strings.
func WithPrefix(values datatypes.JSONMap, prefix string) map[string]string {
	out := make(map[string]string, len(values))
	for key, value := range values {
		if !strings.HasPrefix(key, prefix) {
			continue
		}
		if str, ok := value.(string); ok {
			out[key] = str
			continue
		}
		out[key] = fmt.Sprint(value)
	}
	return out
}
