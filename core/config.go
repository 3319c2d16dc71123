package core

import (
	"fmt"
	"strings"
	"time"
)

type WebhookConfig struct {
	Secret          string        `koanf:"secret" mapstructure:"secret"`
	Tolerance       time.Duration `koanf:"tolerance" mapstructure:"tolerance"`
	SignatureHeader string        `koanf:"signature_header" mapstructure:"signature_header"`
	// BurstWindow coalesces redeliveries of an already handled event. Zero
	// sends every delivery to the ledger.
	BurstWindow     time.Duration `koanf:"burst_window" mapstructure:"burst_window"`
}

type DeliverablesConfig struct {
	TTL        time.Duration `koanf:"ttl" mapstructure:"ttl"`
	BaseURL    string        `koanf:"base_url" mapstructure:"base_url"`
	SigningKey string        `koanf:"signing_key" mapstructure:"signing_key"`
}

type NotificationsConfig struct {
	BatchSize      int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxAttempts    int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	InitialBackoff time.Duration `koanf:"initial_backoff" mapstructure:"initial_backoff"`
	MaxBackoff     time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	PollInterval   time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	LeaseTimeout   time.Duration `koanf:"lease_timeout" mapstructure:"lease_timeout"`
}

type CheckoutConfig struct {
	DefaultCurrency string `koanf:"default_currency" mapstructure:"default_currency"`
	SuccessURL      string `koanf:"success_url" mapstructure:"success_url"`
	CancelURL       string `koanf:"cancel_url" mapstructure:"cancel_url"`
	MaxQuantity     int    `koanf:"max_quantity" mapstructure:"max_quantity"`
}

type Config struct {
	ServiceName   string              `koanf:"service_name" mapstructure:"service_name"`
	ProviderID    string              `koanf:"provider_id" mapstructure:"provider_id"`
	Webhook       WebhookConfig       `koanf:"webhook" mapstructure:"webhook"`
	Deliverables  DeliverablesConfig  `koanf:"deliverables" mapstructure:"deliverables"`
	Notifications NotificationsConfig `koanf:"notifications" mapstructure:"notifications"`
	Checkout      CheckoutConfig      `koanf:"checkout" mapstructure:"checkout"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "fulfillment",
		ProviderID:  "stripe",
		Webhook: WebhookConfig{
			Tolerance:       5 * time.Minute,
			SignatureHeader: "Stripe-Signature",
			BurstWindow:     2 * time.Second,
		},
		Deliverables: DeliverablesConfig{
			TTL:     DefaultDeliverableTTL,
			BaseURL: "http://localhost:8080/downloads",
		},
		Notifications: NotificationsConfig{
			BatchSize:      50,
			MaxAttempts:    5,
			InitialBackoff: 2 * time.Second,
			MaxBackoff:     5 * time.Minute,
			PollInterval:   5 * time.Second,
			LeaseTimeout:   time.Minute,
		},
		Checkout: CheckoutConfig{
			DefaultCurrency: "usd",
			MaxQuantity:     100,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	if strings.TrimSpace(c.ProviderID) == "" {
		return fmt.Errorf("core: provider_id is required")
	}
	if c.Webhook.Tolerance < 0 {
		return fmt.Errorf("core: webhook.tolerance must not be negative")
	}
	if c.Webhook.BurstWindow < 0 {
		return fmt.Errorf("core: webhook.burst_window must not be negative")
	}
	if c.Deliverables.TTL <= 0 {
		return fmt.Errorf("core: deliverables.ttl must be positive")
	}
	if c.Notifications.MaxAttempts <= 0 {
		return fmt.Errorf("core: notifications.max_attempts must be positive")
	}
	if c.Notifications.LeaseTimeout < 0 {
		return fmt.Errorf("core: notifications.lease_timeout must not be negative")
	}
	if c.Notifications.BatchSize <= 0 {
		return fmt.Errorf("core: notifications.batch_size must be positive")
	}
	if c.Checkout.MaxQuantity < 0 || c.Checkout.MaxQuantity > MaxLineQuantity {
		return fmt.Errorf("core: checkout.max_quantity must be between 0 and %d", MaxLineQuantity)
	}
	if len(strings.TrimSpace(c.Checkout.DefaultCurrency)) != 3 {
		return fmt.Errorf("core: checkout.default_currency must be a 3 letter code")
	}
	return nil
}

func (c NotificationsConfig) DispatcherConfig() NotificationDispatcherConfig {
	return NotificationDispatcherConfig{
		BatchSize:      c.BatchSize,
		MaxAttempts:    c.MaxAttempts,
		InitialBackoff: c.InitialBackoff,
		MaxBackoff:     c.MaxBackoff,
		PollInterval:   c.PollInterval,
		LeaseTimeout:   c.LeaseTimeout,
	}
}
