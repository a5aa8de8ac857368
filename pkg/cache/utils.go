package cache

import (
	"encoding/json"
	"fmt"
	"strings"
)

// GenerateKey joins a prefix and parts with ':'.
func GenerateKey(prefix string, parts ...interface{}) string {
	var b strings.Builder
	b.WriteString(prefix)
	for _, p := range parts {
		b.WriteByte(':')
		fmt.Fprint(&b, p)
	}
	return b.String()
}

// BuildPattern creates a glob matching every key under prefix.
func BuildPattern(prefix string) string {
	return prefix + "*"
}

// encode stores strings and byte slices raw, anything else as JSON.
func encode(value interface{}) ([]byte, error) {
	switch v := value.(type) {
	case string:
		return []byte(v), nil
	case []byte:
		return v, nil
	default:
		return json.Marshal(value)
	}
}

func decode(data []byte, dest interface{}) error {
	if strPtr, ok := dest.(*string); ok {
		*strPtr = string(data)
		return nil
	}
	return json.Unmarshal(data, dest)
}
