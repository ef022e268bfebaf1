// Package otp models OTP delivery requests arriving from the push channel
// or the local gateway and renders them into outbound message bodies.
package otp

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// DefaultTemplate is used when a request or configuration carries no
// template of its own.
const DefaultTemplate = "Your OTP is {varOTP}"

const placeholder = "{varOTP}"

// ErrMalformedPayload marks payloads that could not be resolved into a
// Request at the transport boundary.
var ErrMalformedPayload = errors.New("malformed otp payload")

type Request struct {
	Phone    string `json:"phone"`
	Otp      string `json:"otp"`
	Template string `json:"template,omitempty"`
}

// Decode resolves a polymorphic hub payload into a Request. The backend
// may deliver a decoded JSON object, a JSON-encoded string, or an opaque
// value whose string form is JSON; all three are accepted here so nothing
// downstream has to care.
func Decode(arg any) (Request, error) {
	switch v := arg.(type) {
	case nil:
		return Request{}, fmt.Errorf("%w: nil payload", ErrMalformedPayload)
	case map[string]any:
		return fromMap(v)
	case string:
		return fromJSON(v)
	case json.RawMessage:
		return fromJSON(string(v))
	case []byte:
		return fromJSON(string(v))
	default:
		return fromJSON(fmt.Sprint(v))
	}
}

// Render substitutes the OTP code into template, falling back to
// DefaultTemplate when template is absent or blank.
func Render(template, code string) string {
	if strings.TrimSpace(template) == "" {
		template = DefaultTemplate
	}
	return strings.ReplaceAll(template, placeholder, code)
}

var braces = strings.NewReplacer("{", "", "}", "")

func fromMap(m map[string]any) (Request, error) {
	req := Request{
		Phone:    braces.Replace(stringField(m, "phone")),
		Otp:      braces.Replace(stringField(m, "otp")),
		Template: stringField(m, "template"),
	}
	if req.Phone == "" || req.Otp == "" {
		return Request{}, fmt.Errorf("%w: phone=%q otp=%q", ErrMalformedPayload, req.Phone, req.Otp)
	}
	return req, nil
}

func fromJSON(raw string) (Request, error) {
	var m map[string]any
	if err := json.Unmarshal([]byte(raw), &m); err != nil {
		return Request{}, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return fromMap(m)
}

func stringField(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}
