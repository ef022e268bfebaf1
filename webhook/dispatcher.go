// Package webhook posts matched inbound messages to the configured
// backend endpoint and classifies the outcome. Delivery is at-most-once:
// a failed post is terminal for that message.
package webhook

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/techtorio/smsrelay/activitylog"
	"github.com/techtorio/smsrelay/notify"
	"github.com/techtorio/smsrelay/pkg/safe"
)

const ioTimeout = 10 * time.Second

// Outcome is the result of a single webhook post. StatusCode is -1 on
// network failure, with Body holding the error description.
type Outcome struct {
	Success    bool
	StatusCode int
	Body       string
}

type Dispatcher struct {
	url      string
	secret   string
	log      activitylog.Sink
	notifier notify.Notifier
	pool     *ants.Pool
	client   *http.Client
}

func NewDispatcher(url, secret string, log activitylog.Sink, notifier notify.Notifier, pool *ants.Pool) *Dispatcher {
	return &Dispatcher{
		url:      url,
		secret:   secret,
		log:      log,
		notifier: notifier,
		pool:     pool,
		client: &http.Client{
			Timeout: ioTimeout,
			Transport: &http.Transport{
				DialContext:           (&net.Dialer{Timeout: ioTimeout}).DialContext,
				ResponseHeaderTimeout: ioTimeout,
			},
		},
	}
}

// Dispatch posts body off the caller's goroutine so message reception is
// never blocked on network I/O.
func (d *Dispatcher) Dispatch(ctx context.Context, body string) {
	task := func() { d.PostEvent(ctx, body) }
	if d.pool != nil {
		if err := d.pool.Submit(task); err != nil {
			slog.Warn("webhook pool submit failed, running inline goroutine", "error", err)
			safe.Go(task)
		}
		return
	}
	safe.Go(task)
}

// PostEvent performs a single webhook post and returns the classified
// outcome. Always records a log entry; raises a best-effort notification
// with the response.
func (d *Dispatcher) PostEvent(ctx context.Context, body string) Outcome {
	if d.url == "" || d.secret == "" {
		slog.Warn("webhook not configured, skipping post")
		d.addLog(activitylog.KindWebhookError, "Webhook not configured", "Missing URL or Secret Key")
		return Outcome{Success: false, StatusCode: -1, Body: "webhook not configured"}
	}

	outcome := d.post(ctx, body)
	d.record(outcome)
	return outcome
}

func (d *Dispatcher) post(ctx context.Context, body string) Outcome {
	payload := fmt.Sprintf(`{"sms":"%s"}`, escapeJSON(body))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, strings.NewReader(payload))
	if err != nil {
		return Outcome{Success: false, StatusCode: -1, Body: "Error: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json; charset=UTF-8")
	req.Header.Set("X-Webhook-Secret", d.secret)

	resp, err := d.client.Do(req)
	if err != nil {
		return Outcome{Success: false, StatusCode: -1, Body: "Error: " + err.Error()}
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		respBody = []byte("Error reading response: " + err.Error())
	}

	return Outcome{
		Success:    resp.StatusCode >= 200 && resp.StatusCode < 300,
		StatusCode: resp.StatusCode,
		Body:       fmt.Sprintf("Response Code: %d\n\n%s", resp.StatusCode, respBody),
	}
}

func (d *Dispatcher) record(outcome Outcome) {
	if outcome.Success {
		d.addLog(activitylog.KindWebhookSuccess,
			fmt.Sprintf("Webhook call successful (Code: %d)", outcome.StatusCode), outcome.Body)
	} else {
		d.addLog(activitylog.KindWebhookError,
			fmt.Sprintf("Webhook call failed (Code: %d)", outcome.StatusCode), outcome.Body)
	}

	if d.notifier == nil {
		return
	}
	if err := d.notifier.Notify("Webhook Response Received", truncate(outcome.Body, 100)); err != nil {
		slog.Warn("webhook notification failed", "error", err)
	}
}

func (d *Dispatcher) addLog(kind, message, details string) {
	if d.log == nil {
		return
	}
	if err := d.log.Add(kind, message, details); err != nil {
		slog.Warn("failed to write activity log", "kind", kind, "error", err)
	}
}

var jsonEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"\t", `\t`,
)

func escapeJSON(s string) string {
	return jsonEscaper.Replace(s)
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
