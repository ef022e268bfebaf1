package phone

import "testing"

func TestNormalize(t *testing.T) {
	tests := []struct {
		input       string
		countryCode string
		want        string
	}{
		{"+1 234-567", "", "+1234567"},
		{"234567", "+44", "+44234567"},
		{"", "+44", ""},
		{"abc", "+44", ""},
		{"0712 345 678", "", "+0712345678"},
		{"(254) 712-345678", "+254", "+254254712345678"},
		{"+254 712 345678", "+44", "+254712345678"},
	}

	for _, tt := range tests {
		if got := Normalize(tt.input, tt.countryCode); got != tt.want {
			t.Errorf("Normalize(%q, %q) = %q, want %q", tt.input, tt.countryCode, got, tt.want)
		}
	}
}

func TestMatches(t *testing.T) {
	tests := []struct {
		sender string
		target string
		want   bool
	}{
		// exact normalized match
		{"+254712345678", "+254712345678", true},
		// digit forms equal despite formatting
		{"+254 712-345-678", "254712345678", true},
		// country code missing on one side, suffix match
		{"+11234567890", "1234567890", true},
		{"0712345678", "+254712345678", false}, // tails differ (leading 0 vs 254 prefix)
		{"712345678", "+254712345678", true},
		// shared suffix too short
		{"4567", "555554567", false},
		// unrelated numbers
		{"+15551234567", "+442071838750", false},
		// empty inputs never match
		{"", "+254712345678", false},
		{"+254712345678", "", false},
	}

	for _, tt := range tests {
		if got := Matches(tt.sender, tt.target); got != tt.want {
			t.Errorf("Matches(%q, %q) = %v, want %v", tt.sender, tt.target, got, tt.want)
		}
	}
}

func TestMatchesAny(t *testing.T) {
	if !MatchesAny("+15551234567", nil) {
		t.Error("empty target set should match any sender")
	}
	if !MatchesAny("+11234567890", []string{"+442071838750", "1234567890"}) {
		t.Error("sender should match second target")
	}
	if MatchesAny("+15551234567", []string{"+442071838750"}) {
		t.Error("sender should not match")
	}
}
