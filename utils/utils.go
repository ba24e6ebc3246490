// Package utils provides utility functions for the application.
package utils

import "strings"

func ToPtr[T any](v T) *T {
	return &v
}

// NormalizePhone trims whitespace and the common visual separators from a phone number.
// It performs no validation; the gateway is the authority on what it can deliver to.
func NormalizePhone(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return ""
	}
	r := strings.NewReplacer(" ", "", "-", "", "(", "", ")", "")
	return r.Replace(s)
}

