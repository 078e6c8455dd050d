package utils

import (
	"unicode/utf8"
)

// Truncate shortens text to at most maxSize bytes and ensures the result is
// valid UTF-8. Truncated values get an ellipsis suffix.
func Truncate(text string, maxSize int) string {
	if maxSize <= 0 || len(text) <= maxSize {
		return text
	}

	truncated := text[:maxSize]
	for !utf8.ValidString(truncated) && len(truncated) > 0 {
		truncated = truncated[:len(truncated)-1]
	}
	return truncated + "..."
}
