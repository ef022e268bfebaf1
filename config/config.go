package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/techtorio/smsrelay/otp"
)

type OtpConfig struct {
	Template           string `yaml:"template"`
	DefaultCountryCode string `yaml:"default_country_code"`
	PreferredSimSlot   *int   `yaml:"preferred_sim_slot"`
	EnableLanEndpoint  bool   `yaml:"enable_lan_endpoint"`
	RequireHmac        bool   `yaml:"require_hmac"`
	TestReceiver       string `yaml:"test_receiver"`
	DevicePhone        string `yaml:"device_phone"`
	BackendURL         string `yaml:"backend_url"`
}

type GatewayConfig struct {
	Port int `yaml:"port"`
}

type ProviderConfig struct {
	BaseURL  string `yaml:"base_url"`
	APIKey   string `yaml:"api_key"`
	SenderID string `yaml:"sender_id"`
	UserID   string `yaml:"user_id"`
	Password string `yaml:"password"`
}

// The configuration for the smsrelay daemon. Phone numbers and keywords
// are comma-separated lists.
type Config struct {
	PhoneNumbers string `yaml:"phone_numbers"`
	Keywords     string `yaml:"keywords"`
	WebhookURL   string `yaml:"webhook_url"`
	SecretKey    string `yaml:"secret_key"`

	Otp      OtpConfig      `yaml:"otp"`
	Gateway  GatewayConfig  `yaml:"gateway"`
	Provider ProviderConfig `yaml:"provider"`
}

func BootstrapConfig() Config {
	return Config{
		Gateway: GatewayConfig{
			Port: 8080,
		},
	}
}

func LoadConfig() (c Config, err error) {
	c = BootstrapConfig()
	configPath, err := GetWorkspaceConfigPath()
	if err != nil {
		err = fmt.Errorf("failed to get config path: %w", err)
		return
	}

	content, err := os.ReadFile(configPath)
	if err != nil {
		err = fmt.Errorf("failed to read config file: %w", err)
		return
	}

	err = yaml.Unmarshal(content, &c)
	if err != nil {
		err = fmt.Errorf("failed to unmarshal config file: %w", err)
		return
	}

	c.applyEnv()

	return
}

// applyEnv overlays secrets from the environment so they can stay out of
// the config file.
func (c *Config) applyEnv() {
	if v := os.Getenv("SMSRELAY_SECRET_KEY"); v != "" {
		c.SecretKey = v
	}
	if v := os.Getenv("SMSRELAY_PROVIDER_API_KEY"); v != "" {
		c.Provider.APIKey = v
	}
}

// TargetNumbers returns the configured phone numbers. Empty result means
// "match any sender".
func (c Config) TargetNumbers() []string {
	return splitList(c.PhoneNumbers)
}

// KeywordList returns the configured keywords. Empty result means "match
// any body".
func (c Config) KeywordList() []string {
	return splitList(c.Keywords)
}

// OtpTemplate returns the configured template, falling back to the
// default pattern.
func (c Config) OtpTemplate() string {
	if strings.TrimSpace(c.Otp.Template) == "" {
		return otp.DefaultTemplate
	}
	return c.Otp.Template
}

// IsConfigured reports whether the inbound relay has everything it needs.
// An unconfigured relay routes nothing.
func (c Config) IsConfigured() bool {
	return c.PhoneNumbers != "" && c.Keywords != "" && c.WebhookURL != "" && c.SecretKey != ""
}

const hubPath = "/hubs/device"

// HubURL resolves the push-channel hub URL from the backend base URL,
// falling back to the webhook URL. Returns "" when neither is configured.
func (c Config) HubURL() string {
	base := c.Otp.BackendURL
	if base == "" {
		base = c.WebhookURL
	}
	if base == "" {
		return ""
	}

	if strings.Contains(base, "/hubs/") {
		return base
	}
	return strings.TrimSuffix(base, "/") + hubPath
}

// DevicePhone returns the phone number to register with the backend,
// falling back to the general configured number. May be "".
func (c Config) DevicePhone() string {
	if c.Otp.DevicePhone != "" {
		return c.Otp.DevicePhone
	}
	if nums := c.TargetNumbers(); len(nums) > 0 {
		return nums[0]
	}
	return ""
}

func splitList(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}

	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
