package storage

import (
	"fmt"
	"strings"
)

// ToLiteral renders a vector as the pgvector text literal.
func ToLiteral(v []float32) string {
	parts := make([]string, 0, len(v))
	for _, x := range v {
		parts = append(parts, fmt.Sprintf("%f", x))
	}
	return "[" + strings.Join(parts, ",") + "]"
}
