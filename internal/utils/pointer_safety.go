package utils

import "strings"

func Ptr[T any](v T) *T {
	return &v
}

// NonEmptyPtr returns nil for blank strings so optional JSON fields are omitted.
func NonEmptyPtr(s string) *string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	return &s
}
