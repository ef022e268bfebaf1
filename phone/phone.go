// Package phone normalizes and compares phone numbers under ambiguous
// country-code formatting. Matching is deliberately permissive: carrier-
// reported sender IDs and user-configured numbers rarely agree on the
// country-code prefix, so suffix equality of the digit forms counts as a
// match once enough digits are shared.
package phone

import "strings"

// Suffix-based matches (rules beyond exact and digit equality) require at
// least this many shared digits. Short numbers from different countries
// can otherwise collide on their tails.
const minSuffixDigits = 7

// Normalize returns the dialable form of input. Inputs already carrying a
// leading + keep their own country code; bare digit inputs get
// defaultCountryCode prefixed when one is configured, else a bare +.
// Returns "" when input holds no digits.
func Normalize(input, defaultCountryCode string) string {
	input = strings.TrimSpace(input)
	if strings.HasPrefix(input, "+") {
		return strip(input, true)
	}

	digits := strip(input, false)
	if digits == "" {
		return ""
	}
	if strings.HasPrefix(defaultCountryCode, "+") {
		return defaultCountryCode + digits
	}
	return "+" + digits
}

// Matches reports whether sender and target plausibly identify the same
// number: equal normalized forms, equal digit forms, one digit form a
// suffix of the other, or equal trailing min(len) digits.
func Matches(sender, target string) bool {
	ns := Normalize(sender, "")
	nt := Normalize(target, "")
	if ns == "" || nt == "" {
		return false
	}
	if ns == nt {
		return true
	}

	sd := digitsOf(ns)
	td := digitsOf(nt)
	if sd == td {
		return true
	}

	n := min(len(sd), len(td))
	if n < minSuffixDigits {
		return false
	}
	if strings.HasSuffix(sd, td) || strings.HasSuffix(td, sd) {
		return true
	}
	return sd[len(sd)-n:] == td[len(td)-n:]
}

// MatchesAny reports whether sender matches any of targets. An empty
// target set is a wildcard.
func MatchesAny(sender string, targets []string) bool {
	if len(targets) == 0 {
		return true
	}
	for _, target := range targets {
		if Matches(sender, target) {
			return true
		}
	}
	return false
}

func strip(s string, keepPlus bool) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range s {
		if r >= '0' && r <= '9' || keepPlus && r == '+' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func digitsOf(s string) string {
	return strip(s, false)
}
