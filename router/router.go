// Package router applies the configured sender/keyword policy to inbound
// messages and relays matches to the webhook dispatcher.
package router

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/techtorio/smsrelay/activitylog"
	"github.com/techtorio/smsrelay/keyword"
	"github.com/techtorio/smsrelay/phone"
)

// InboundMessage is a message delivered by the telephony subsystem.
type InboundMessage struct {
	Sender     string
	Body       string
	ReceivedAt time.Time
}

// Policy is an immutable snapshot of the matching configuration. Empty
// TargetNumbers matches any sender; empty Keywords matches any body.
type Policy struct {
	TargetNumbers []string
	Keywords      []string
}

// Dispatcher relays a matched message body to the backend.
type Dispatcher interface {
	Dispatch(ctx context.Context, body string)
}

type Router struct {
	// policy returns the current snapshot; ok=false while the relay is
	// unconfigured, in which case the router is inert.
	policy     func() (Policy, bool)
	dispatcher Dispatcher
	log        activitylog.Sink
}

func New(policy func() (Policy, bool), dispatcher Dispatcher, log activitylog.Sink) *Router {
	return &Router{
		policy:     policy,
		dispatcher: dispatcher,
		log:        log,
	}
}

// Route evaluates one inbound message. Every message is logged as
// received; matches are additionally logged and handed to the dispatcher.
func (r *Router) Route(ctx context.Context, msg InboundMessage) {
	policy, ok := r.policy()
	if !ok {
		slog.Debug("relay not configured, ignoring message")
		return
	}
	if msg.Body == "" {
		// a body is required for keyword matching
		return
	}

	r.addLog(activitylog.KindSMSReceived,
		"SMS from "+msg.Sender,
		"Message: "+msg.Body)

	if !phone.MatchesAny(msg.Sender, policy.TargetNumbers) {
		slog.Debug("sender does not match any configured number", "sender", msg.Sender)
		return
	}
	if !keyword.Matches(msg.Body, policy.Keywords) {
		slog.Debug("message does not match any configured keyword", "sender", msg.Sender)
		return
	}

	r.addLog(activitylog.KindSMSMatched,
		"SMS matched criteria from "+msg.Sender,
		fmt.Sprintf("Keywords: '%s'\nMessage: %s", strings.Join(policy.Keywords, ","), msg.Body))

	r.dispatcher.Dispatch(ctx, msg.Body)
}

func (r *Router) addLog(kind, message, details string) {
	if r.log == nil {
		return
	}
	if err := r.log.Add(kind, message, details); err != nil {
		slog.Warn("failed to write activity log", "kind", kind, "error", err)
	}
}
