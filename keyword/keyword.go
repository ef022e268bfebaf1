// Package keyword implements case-insensitive keyword matching against
// message bodies.
package keyword

import "strings"

// Matches reports whether body contains any of the configured keywords.
// An empty keyword set is a wildcard; blank entries are ignored.
func Matches(body string, keywords []string) bool {
	if len(keywords) == 0 {
		return true
	}

	trimmed := strings.ToLower(strings.TrimSpace(body))
	for _, kw := range keywords {
		kw = strings.TrimSpace(kw)
		if kw == "" {
			continue
		}
		if strings.Contains(trimmed, strings.ToLower(kw)) {
			return true
		}
	}
	return false
}
