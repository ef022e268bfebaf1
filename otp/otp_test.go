package otp

import (
	"errors"
	"testing"
)

func TestDecodeMapPayload(t *testing.T) {
	req, err := Decode(map[string]any{
		"phone":    "+254712345678",
		"otp":      "9142",
		"template": "Code: {varOTP}",
	})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.Phone != "+254712345678" || req.Otp != "9142" || req.Template != "Code: {varOTP}" {
		t.Fatalf("unexpected request: %+v", req)
	}
}

func TestDecodeJSONStringPayload(t *testing.T) {
	req, err := Decode(`{"phone":"+254712345678","otp":"9142"}`)
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.Phone != "+254712345678" || req.Otp != "9142" {
		t.Fatalf("unexpected request: %+v", req)
	}
	if req.Template != "" {
		t.Errorf("expected empty template, got %q", req.Template)
	}
}

type jsonStringer struct{}

func (jsonStringer) String() string {
	return `{"phone":"{+254712345678}","otp":"{9142}"}`
}

func TestDecodeOpaquePayloadStripsBraces(t *testing.T) {
	req, err := Decode(jsonStringer{})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.Phone != "+254712345678" {
		t.Errorf("expected braces stripped from phone, got %q", req.Phone)
	}
	if req.Otp != "9142" {
		t.Errorf("expected braces stripped from otp, got %q", req.Otp)
	}
}

func TestDecodeNumericOtp(t *testing.T) {
	req, err := Decode(map[string]any{"phone": "+254712345678", "otp": 9142})
	if err != nil {
		t.Fatalf("decode failed: %v", err)
	}
	if req.Otp != "9142" {
		t.Errorf("expected numeric otp coerced to string, got %q", req.Otp)
	}
}

func TestDecodeMalformed(t *testing.T) {
	for _, arg := range []any{
		nil,
		"not json",
		`{"phone":"+254712345678"}`,          // otp missing
		`{"otp":"9142"}`,                     // phone missing
		map[string]any{"phone": "", "otp": ""},
		42,
	} {
		if _, err := Decode(arg); !errors.Is(err, ErrMalformedPayload) {
			t.Errorf("Decode(%v) error = %v, want ErrMalformedPayload", arg, err)
		}
	}
}

func TestRender(t *testing.T) {
	tests := []struct {
		template string
		code     string
		want     string
	}{
		{"Your OTP is {varOTP}", "9142", "Your OTP is 9142"},
		{"", "9142", "Your OTP is 9142"},
		{"   ", "9142", "Your OTP is 9142"},
		{"Use {varOTP} to log in. {varOTP} expires soon.", "1234", "Use 1234 to log in. 1234 expires soon."},
		{"no placeholder", "1234", "no placeholder"},
	}

	for _, tt := range tests {
		if got := Render(tt.template, tt.code); got != tt.want {
			t.Errorf("Render(%q, %q) = %q, want %q", tt.template, tt.code, got, tt.want)
		}
	}
}
