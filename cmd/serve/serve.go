package serve

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/robfig/cron/v3"
	"github.com/spf13/cobra"

	"github.com/techtorio/smsrelay/activitylog"
	"github.com/techtorio/smsrelay/config"
	"github.com/techtorio/smsrelay/gateway"
	"github.com/techtorio/smsrelay/notify"
	"github.com/techtorio/smsrelay/pkg/safe"
	"github.com/techtorio/smsrelay/pkg/serial"
	"github.com/techtorio/smsrelay/pushchan"
	"github.com/techtorio/smsrelay/ratelimit"
	"github.com/techtorio/smsrelay/router"
	"github.com/techtorio/smsrelay/sms"
	"github.com/techtorio/smsrelay/webhook"
)

var ServeCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the SMS relay daemon.",
	Long:  "Run the SMS relay daemon: inbound webhook relay, LAN gateway and push channel.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe(cmd.Context())
	},
}

type Relay struct {
	pool        *ants.Pool
	exec        *serial.Executor
	alog        *activitylog.Log
	limiter     *ratelimit.Limiter
	router      *router.Router
	gateway     *gateway.Server
	push        *pushchan.Client
	maintenance *cron.Cron
	wg          sync.WaitGroup
}

func runServe(ctx context.Context) error {
	relay, err := initRelay()
	if err != nil {
		return fmt.Errorf("failed to init relay: %w", err)
	}

	return relay.run(ctx)
}

func initRelay() (*Relay, error) {
	cfg := config.GetConfig()

	pool, err := ants.NewPool(256)
	if err != nil {
		return nil, fmt.Errorf("failed to create worker pool: %w", err)
	}

	alog, err := activitylog.Open(config.GetLogPath())
	if err != nil {
		return nil, fmt.Errorf("failed to open activity log: %w", err)
	}

	exec := serial.New()
	notifier := notify.Slog{}
	sender := buildSender(cfg)
	limiter := ratelimit.New(nil)

	dispatcher := webhook.NewDispatcher(cfg.WebhookURL, cfg.SecretKey, alog, notifier, pool)

	rt := router.New(func() (router.Policy, bool) {
		c := config.GetConfig()
		if !c.IsConfigured() {
			return router.Policy{}, false
		}
		return router.Policy{
			TargetNumbers: c.TargetNumbers(),
			Keywords:      c.KeywordList(),
		}, true
	}, dispatcher, alog)

	gw := gateway.New(cfg.Gateway.Port, func() gateway.Settings {
		c := config.GetConfig()
		return gateway.Settings{
			Enabled:            c.Otp.EnableLanEndpoint,
			Secret:             c.SecretKey,
			RequireHmac:        c.Otp.RequireHmac,
			DefaultCountryCode: c.Otp.DefaultCountryCode,
			Template:           c.OtpTemplate(),
			PreferredSimSlot:   c.Otp.PreferredSimSlot,
		}
	}, limiter, sender, pool)

	push := pushchan.New(pushchan.Options{
		Settings: func() pushchan.Settings {
			c := config.GetConfig()
			return pushchan.Settings{
				HubURL:           c.HubURL(),
				DeviceID:         config.GetDeviceID(),
				DevicePhone:      c.DevicePhone(),
				PreferredSimSlot: c.Otp.PreferredSimSlot,
			}
		},
		Sender:   sender,
		Exec:     exec,
		Notifier: notifier,
		Log:      alog,
	})

	maintenance := cron.New()
	maintenance.AddFunc("@every 5m", func() {
		limiter.Prune()
		if err := alog.Trim(); err != nil {
			slog.Warn("activity log trim failed", "error", err)
		}
	})

	return &Relay{
		pool:        pool,
		exec:        exec,
		alog:        alog,
		limiter:     limiter,
		router:      rt,
		gateway:     gw,
		push:        push,
		maintenance: maintenance,
	}, nil
}

func buildSender(cfg config.Config) sms.Sender {
	if cfg.Provider.BaseURL == "" {
		slog.Warn("no sms provider configured, sends run dry")
		return sms.LogOnly{}
	}
	return sms.NewHTTPProvider(
		cfg.Provider.BaseURL,
		cfg.Provider.APIKey,
		cfg.Provider.SenderID,
		cfg.Provider.UserID,
		cfg.Provider.Password,
	)
}

func (r *Relay) run(ctx context.Context) error {
	cancelSub := r.push.Subscribe(func(line string) {
		slog.Info("push channel status", "line", line)
	})
	defer cancelSub()

	r.wg.Go(func() {
		if err := r.gateway.Start(ctx); err != nil {
			slog.Error("gateway exited", "error", err)
		}
	})
	r.push.Start()
	r.maintenance.Start()

	// stdin stands in for the telephony subsystem: one JSON message per
	// line. Not joined on shutdown since a pending read cannot be
	// interrupted.
	safe.Go(func() { r.readInbound(ctx) })

	slog.Info("smsrelay serving")
	<-ctx.Done()

	r.push.Stop()
	<-r.maintenance.Stop().Done()
	r.wg.Wait()
	r.exec.Stop()
	r.pool.Release()
	if err := r.alog.Close(); err != nil {
		slog.Warn("failed to close activity log", "error", err)
	}

	return nil
}

type inboundEnvelope struct {
	Sender string `json:"sender"`
	Body   string `json:"body"`
}

func (r *Relay) readInbound(ctx context.Context) {
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		var env inboundEnvelope
		if err := json.Unmarshal([]byte(line), &env); err != nil {
			slog.Warn("unreadable inbound message", "error", err)
			continue
		}

		msg := router.InboundMessage{
			Sender:     env.Sender,
			Body:       env.Body,
			ReceivedAt: time.Now(),
		}
		if err := r.pool.Submit(func() { r.router.Route(ctx, msg) }); err != nil {
			slog.Warn("inbound pool submit failed", "error", err)
		}
	}

	if err := scanner.Err(); err != nil {
		slog.Warn("inbound reader stopped", "error", err)
	}
}
