// Package sms defines the message-transmission primitive and the
// provider-backed implementation used to hand messages off for delivery.
package sms

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"
)

// Sender hands a message off for delivery. Implementations report only
// whether the hand-off succeeded; delivery receipts are out of scope.
// slot optionally hints which transmission channel to use.
type Sender interface {
	Send(ctx context.Context, to, body string, slot *int) bool
}

// Func adapts a plain function to the Sender interface.
type Func func(ctx context.Context, to, body string, slot *int) bool

func (f Func) Send(ctx context.Context, to, body string, slot *int) bool {
	return f(ctx, to, body, slot)
}

// LogOnly records messages instead of transmitting them. Used when no
// provider is configured.
type LogOnly struct{}

func (LogOnly) Send(ctx context.Context, to, body string, slot *int) bool {
	slog.Info("[dry-run] sms send", "to", to, "body", body)
	return true
}

// HTTPProvider posts messages to a form-encoded SMS provider API.
type HTTPProvider struct {
	baseURL  string
	apiKey   string
	senderID string
	userID   string
	password string
	client   *http.Client
}

func NewHTTPProvider(baseURL, apiKey, senderID, userID, password string) *HTTPProvider {
	return &HTTPProvider{
		baseURL:  baseURL,
		apiKey:   apiKey,
		senderID: senderID,
		userID:   userID,
		password: password,
		client:   &http.Client{Timeout: 10 * time.Second},
	}
}

func (p *HTTPProvider) Send(ctx context.Context, to, body string, slot *int) bool {
	form := url.Values{}
	form.Set("userid", p.userID)
	form.Set("password", p.password)
	form.Set("senderid", p.senderID)
	form.Set("sendMethod", "quick")
	form.Set("msgType", "text")
	form.Set("msg", body)
	form.Set("mobile", to)
	form.Set("duplicatecheck", "true")
	form.Set("output", "json")
	if slot != nil {
		form.Set("route", strconv.Itoa(*slot))
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, p.baseURL, strings.NewReader(form.Encode()))
	if err != nil {
		slog.Error("sms provider request build failed", "error", err)
		return false
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if p.apiKey != "" {
		req.Header.Set("apikey", p.apiKey)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		slog.Error("sms provider send failed", "to", to, "error", err)
		return false
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	ok := resp.StatusCode >= 200 && resp.StatusCode < 300
	if !ok {
		slog.Error("sms provider rejected message", "to", to, "status", resp.StatusCode)
	}
	return ok
}
