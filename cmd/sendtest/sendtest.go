package sendtest

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"

	"github.com/spf13/cobra"

	"github.com/techtorio/smsrelay/config"
	"github.com/techtorio/smsrelay/otp"
	"github.com/techtorio/smsrelay/phone"
	"github.com/techtorio/smsrelay/sms"
)

var SendTestCmd = &cobra.Command{
	Use:   "send-test",
	Short: "Send a test OTP to the configured test receiver.",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runSendTest(cmd.Context())
	},
}

func runSendTest(ctx context.Context) error {
	cfg := config.GetConfig()

	receiver := cfg.Otp.TestReceiver
	if receiver == "" {
		return fmt.Errorf("no test receiver configured")
	}

	normalized := phone.Normalize(receiver, cfg.Otp.DefaultCountryCode)
	if normalized == "" {
		return fmt.Errorf("test receiver %q has no dialable digits", receiver)
	}

	code := fmt.Sprintf("%04d", rand.IntN(10000))
	message := otp.Render(cfg.OtpTemplate(), code)

	sender := buildSender(cfg)
	if !sender.Send(ctx, normalized, message, cfg.Otp.PreferredSimSlot) {
		return fmt.Errorf("failed to send test OTP to %s", normalized)
	}

	fmt.Printf("test OTP sent to %s\n", normalized)
	return nil
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
