// Package gateway exposes a single authenticated LAN endpoint for
// triggering OTP delivery. The protocol is a strict subset of HTTP/1.1:
// request line plus headers, no body, connection closed after every
// response.
package gateway

import (
	"bufio"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/url"
	"strings"
	"sync"

	"github.com/panjf2000/ants/v2"

	"github.com/techtorio/smsrelay/otp"
	"github.com/techtorio/smsrelay/phone"
	"github.com/techtorio/smsrelay/pkg/safe"
	"github.com/techtorio/smsrelay/pkg/xstring"
	"github.com/techtorio/smsrelay/ratelimit"
	"github.com/techtorio/smsrelay/sms"
)

const route = "/send-otp"

// Settings is a per-request configuration snapshot.
type Settings struct {
	Enabled            bool
	Secret             string
	RequireHmac        bool
	DefaultCountryCode string
	Template           string
	PreferredSimSlot   *int
}

type Server struct {
	port     int
	settings func() Settings
	limiter  *ratelimit.Limiter
	sender   sms.Sender
	pool     *ants.Pool

	mu sync.Mutex
	ln net.Listener
	wg sync.WaitGroup
}

func New(port int, settings func() Settings, limiter *ratelimit.Limiter, sender sms.Sender, pool *ants.Pool) *Server {
	return &Server{
		port:     port,
		settings: settings,
		limiter:  limiter,
		sender:   sender,
		pool:     pool,
	}
}

// Addr returns the bound listener address, or nil before Start.
func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.ln == nil {
		return nil
	}
	return s.ln.Addr()
}

// Start listens and serves until ctx is done. Cancelling closes the
// listener; in-flight connections run to completion.
func (s *Server) Start(ctx context.Context) error {
	ln, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("gateway listen: %w", err)
	}
	s.mu.Lock()
	s.ln = ln
	s.mu.Unlock()

	safe.Go(func() {
		<-ctx.Done()
		ln.Close()
	})

	slog.Info("gateway listening", "addr", ln.Addr().String())

	for {
		conn, err := ln.Accept()
		if err != nil {
			s.wg.Wait()
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				slog.Info("gateway stopped")
				return nil
			}
			return fmt.Errorf("gateway accept: %w", err)
		}

		s.wg.Add(1)
		task := func() {
			defer s.wg.Done()
			s.handle(ctx, conn)
		}
		if s.pool != nil {
			if err := s.pool.Submit(task); err != nil {
				safe.Go(task)
			}
		} else {
			safe.Go(task)
		}
	}
}

func (s *Server) handle(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	r := bufio.NewReader(conn)
	requestLine, err := readLine(r)
	if err != nil || requestLine == "" {
		respond(conn, 400, jsonError("invalid_request"))
		return
	}

	parts := strings.Fields(requestLine)
	if len(parts) < 2 {
		respond(conn, 400, jsonError("invalid_request"))
		return
	}
	method, target := parts[0], parts[1]

	headers := make(map[string]string)
	for {
		line, err := readLine(r)
		if err != nil {
			respond(conn, 400, jsonError("invalid_request"))
			return
		}
		if line == "" {
			break
		}
		if idx := strings.Index(line, ":"); idx > 0 {
			key := strings.ToLower(strings.TrimSpace(line[:idx]))
			headers[key] = strings.TrimSpace(line[idx+1:])
		}
	}

	if !strings.EqualFold(method, "GET") {
		respond(conn, 405, jsonError("method_not_allowed"))
		return
	}
	if !strings.HasPrefix(target, route) {
		respond(conn, 404, jsonError("not_found"))
		return
	}

	st := s.settings()
	if !st.Enabled {
		respond(conn, 403, jsonError("forbidden"))
		return
	}

	if st.Secret == "" || headers["x-webhook-secret"] != st.Secret {
		respond(conn, 401, jsonError("unauthorized"))
		return
	}

	query := parseQuery(target)
	code := param(query, "varOTP", "otp")
	receiver := param(query, "receiver", "to")
	if code == "" || receiver == "" {
		respond(conn, 400, jsonError("invalid_parameter"))
		return
	}

	if st.RequireHmac {
		canonical := "otp=" + code + "&to=" + receiver
		expected := hmacSHA256Hex(st.Secret, canonical)
		if sig := headers["x-signature"]; sig == "" || !strings.EqualFold(sig, expected) {
			respond(conn, 401, jsonError("unauthorized"))
			return
		}
	}

	normalized := phone.Normalize(receiver, st.DefaultCountryCode)
	if !s.limiter.Admit(normalized) {
		respond(conn, 429, jsonError("rate_limited"))
		return
	}

	message := otp.Render(st.Template, code)
	if s.sender.Send(ctx, normalized, message, st.PreferredSimSlot) {
		respond(conn, 200, `{"status":"queued"}`)
	} else {
		respond(conn, 500, jsonError("internal_error"))
	}
}

func readLine(r *bufio.Reader) (string, error) {
	line, err := r.ReadString('\n')
	if err != nil {
		return "", err
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// parseQuery extracts url-decoded query parameters from the request
// target. Undecodable pairs are dropped.
func parseQuery(target string) map[string]string {
	out := make(map[string]string)
	_, qs, found := strings.Cut(target, "?")
	if !found {
		return out
	}
	for pair := range strings.SplitSeq(qs, "&") {
		k, v, found := strings.Cut(pair, "=")
		if !found || k == "" {
			continue
		}
		key, err := url.QueryUnescape(k)
		if err != nil {
			continue
		}
		value, err := url.QueryUnescape(v)
		if err != nil {
			continue
		}
		out[key] = value
	}
	return out
}

// param looks up a query parameter under either alias, case-insensitive.
func param(query map[string]string, primary, alt string) string {
	for k, v := range query {
		if strings.EqualFold(k, primary) || strings.EqualFold(k, alt) {
			return v
		}
	}
	return ""
}

func hmacSHA256Hex(secret, data string) string {
	mac := hmac.New(sha256.New, []byte(secret))
	mac.Write([]byte(data))
	return hex.EncodeToString(mac.Sum(nil))
}

var statusText = map[int]string{
	200: "OK",
	400: "Bad Request",
	401: "Unauthorized",
	403: "Forbidden",
	404: "Not Found",
	405: "Method Not Allowed",
	429: "Too Many Requests",
	500: "Internal Server Error",
}

func respond(conn net.Conn, code int, body string) {
	text, ok := statusText[code]
	if !ok {
		text = "Internal Server Error"
	}

	var b strings.Builder
	fmt.Fprintf(&b, "HTTP/1.1 %d %s\r\n", code, text)
	b.WriteString("Content-Type: application/json; charset=utf-8\r\n")
	b.WriteString("Connection: close\r\n")
	fmt.Fprintf(&b, "Content-Length: %d\r\n", len(body))
	b.WriteString("\r\n")
	b.WriteString(body)

	if _, err := conn.Write(xstring.ToBytes(b.String())); err != nil {
		slog.Debug("gateway response write failed", "error", err)
	}
}

func jsonError(code string) string {
	return `{"error":"` + code + `"}`
}
