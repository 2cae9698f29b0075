package utils

import "strings"

// MaskSecret hides a credential for log output, keeping a short prefix so
// different keys can still be told apart. Short values are masked entirely.
func MaskSecret(s string) string {
	if len(s) < 8 {
		return strings.Repeat("*", 5)
	}
	return s[:4] + strings.Repeat("*", 5) + s[len(s)-2:]
}
