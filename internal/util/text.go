package util

import (
	"fmt"
	"strings"
	"unicode"
)

// SanitizeText renders v as trimmed text. nil becomes "".
func SanitizeText(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	case fmt.Stringer:
		return strings.TrimSpace(t.String())
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

// NormalizeHeader lowercases s and strips everything but ASCII letters and digits.
func NormalizeHeader(s string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(SanitizeText(s)) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// ParseBool accepts bools and the usual spreadsheet spellings.
// ok is false when v is empty or not recognisable.
func ParseBool(v interface{}) (value bool, ok bool) {
	switch t := v.(type) {
	case bool:
		return t, true
	case int:
		return t != 0, true
	case int64:
		return t != 0, true
	case float64:
		return t != 0, true
	}
	switch strings.ToLower(SanitizeText(v)) {
	case "true", "1", "yes", "y":
		return true, true
	case "false", "0", "no", "n":
		return false, true
	}
	return false, false
}

// ContainsSuspicious reports markup or template fragments in user input.
func ContainsSuspicious(s string) bool {
	lower := strings.ToLower(s)
	for _, c := range []string{"<", ">", "${", "{{", "script", "onerror", "onload"} {
		if strings.Contains(lower, c) {
			return true
		}
	}
	return strings.IndexFunc(s, func(r rune) bool {
		return unicode.IsControl(r) && r != '\t'
	}) >= 0
}
