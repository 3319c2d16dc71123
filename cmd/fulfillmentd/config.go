package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/goliatone/go-config/config"
	"github.com/goliatone/go-fulfillment/core"
	"github.com/knadh/koanf/providers/confmap"
	"github.com/knadh/koanf/v2"
)

const envPrefix = "FULFILLMENT_"

type httpConfig struct {
	Addr            string        `koanf:"addr"`
	ReadTimeout     time.Duration `koanf:"read_timeout"`
	WriteTimeout    time.Duration `koanf:"write_timeout"`
	ShutdownTimeout time.Duration `koanf:"shutdown_timeout"`
	RequestTimeout  time.Duration `koanf:"request_timeout"`
	MaxBodyBytes    int64         `koanf:"max_body_bytes"`
}

type databaseConfig struct {
	Driver      string        `koanf:"driver"`
	DSN         string        `koanf:"dsn"`
	Debug       bool          `koanf:"debug"`
	PingTimeout time.Duration `koanf:"ping_timeout"`
}

func (c databaseConfig) GetDebug() bool {
	return c.Debug
}

func (c databaseConfig) GetDriver() string {
	return c.Driver
}

func (c databaseConfig) GetServer() string {
	return c.DSN
}

func (c databaseConfig) GetPingTimeout() time.Duration {
	if c.PingTimeout <= 0 {
		return 5 * time.Second
	}
	return c.PingTimeout
}

func (c databaseConfig) GetOtelIdentifier() string {
	return "go-fulfillment"
}

type stripeConfig struct {
	SecretKey  string        `koanf:"secret_key"`
	APIBaseURL string        `koanf:"api_base_url"`
	APIVersion string        `koanf:"api_version"`
	Timeout    time.Duration `koanf:"timeout"`
}

type catalogConfig struct {
	CacheTTL time.Duration `koanf:"cache_ttl"`
}

type securityConfig struct {
	AppKey      string            `koanf:"app_key"`
	KeyID       string            `koanf:"key_id"`
	RetiredKeys map[string]string `koanf:"retired_keys"`
}

type logConfig struct {
	Level  string `koanf:"level"`
	Format string `koanf:"format"`
}

// processConfig is the go-config target for the process sections.
type processConfig struct {
	HTTP     httpConfig     `koanf:"http"`
	Database databaseConfig `koanf:"database"`
	Stripe   stripeConfig   `koanf:"stripe"`
	Catalog  catalogConfig  `koanf:"catalog"`
	Security securityConfig `koanf:"security"`
	Log      logConfig      `koanf:"log"`
}

func (c processConfig) Validate() error {
	if strings.TrimSpace(c.Database.Driver) == "" {
		return fmt.Errorf("fulfillmentd: database.driver is required")
	}
	if c.HTTP.MaxBodyBytes < 0 {
		return fmt.Errorf("fulfillmentd: http.max_body_bytes must be >= 0")
	}
	return nil
}

// appConfig holds the process settings. Everything else in the file is the
// core configuration and is handed to cfgx untouched.
type appConfig struct {
	HTTP     httpConfig
	Database databaseConfig
	Stripe   stripeConfig
	Catalog  catalogConfig
	Security securityConfig
	Log      logConfig

	Core core.Config
	Raw  map[string]any
}

var processSections = []string{"http", "database", "stripe", "catalog", "security", "log"}

func defaultProcessConfig() processConfig {
	return processConfig{
		HTTP: httpConfig{
			Addr:            ":8080",
			ReadTimeout:     10 * time.Second,
			WriteTimeout:    30 * time.Second,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: databaseConfig{
			Driver: "sqlite3",
			DSN:    "file:fulfillment.db?_foreign_keys=on&_busy_timeout=5000",
		},
		Catalog: catalogConfig{CacheTTL: time.Minute},
		Log:     logConfig{Level: "info", Format: "text"},
	}
}

// envOverrides maps environment variables onto dotted config keys.
var envOverrides = map[string]string{
	"SERVICE_NAME":                  "service_name",
	"PROVIDER_ID":                   "provider_id",
	"WEBHOOK_SECRET":                "webhook.secret",
	"WEBHOOK_TOLERANCE":             "webhook.tolerance",
	"WEBHOOK_SIGNATURE_HEADER":      "webhook.signature_header",
	"WEBHOOK_BURST_WINDOW":          "webhook.burst_window",
	"DELIVERABLES_TTL":              "deliverables.ttl",
	"DELIVERABLES_BASE_URL":         "deliverables.base_url",
	"DELIVERABLES_SIGNING_KEY":      "deliverables.signing_key",
	"NOTIFICATIONS_BATCH_SIZE":      "notifications.batch_size",
	"NOTIFICATIONS_MAX_ATTEMPTS":    "notifications.max_attempts",
	"NOTIFICATIONS_INITIAL_BACKOFF": "notifications.initial_backoff",
	"NOTIFICATIONS_MAX_BACKOFF":     "notifications.max_backoff",
	"NOTIFICATIONS_POLL_INTERVAL":   "notifications.poll_interval",
	"NOTIFICATIONS_LEASE_TIMEOUT":   "notifications.lease_timeout",
	"CHECKOUT_DEFAULT_CURRENCY":     "checkout.default_currency",
	"CHECKOUT_SUCCESS_URL":          "checkout.success_url",
	"CHECKOUT_CANCEL_URL":           "checkout.cancel_url",
	"HTTP_ADDR":                     "http.addr",
	"DATABASE_DRIVER":               "database.driver",
	"DATABASE_DSN":                  "database.dsn",
	"DATABASE_DEBUG":                "database.debug",
	"STRIPE_SECRET_KEY":             "stripe.secret_key",
	"STRIPE_API_BASE_URL":           "stripe.api_base_url",
	"APP_KEY":                       "security.app_key",
	"APP_KEY_ID":                    "security.key_id",
	"LOG_LEVEL":                     "log.level",
	"LOG_FORMAT":                    "log.format",
}

var durationKeys = map[string]bool{
	"webhook.tolerance":             true,
	"webhook.burst_window":          true,
	"deliverables.ttl":              true,
	"notifications.initial_backoff": true,
	"notifications.max_backoff":     true,
	"notifications.poll_interval":   true,
	"notifications.lease_timeout":   true,
}

// envAliasProvider feeds the flat FULFILLMENT_* names into go-config. It loads
// right after the nested FULFILLMENT_SECTION__KEY form, so the flat names win.
type envAliasProvider struct {
	lookup func(string) (string, bool)
}

func envAliases(lookup func(string) (string, bool)) config.ProviderBuilder[processConfig] {
	return func(*config.Container[processConfig]) (config.Provider, error) {
		return envAliasProvider{lookup: lookup}, nil
	}
}

func (p envAliasProvider) Type() config.ProviderType { return config.ProviderTypeEnv }

func (p envAliasProvider) Priority() int { return int(config.PriorityEnv.WithOffset(1)) }

func (p envAliasProvider) Validate() error { return nil }

func (p envAliasProvider) Load(_ context.Context, k *koanf.Koanf) error {
	values := map[string]any{}
	for suffix, key := range envOverrides {
		if value, ok := p.lookup(envPrefix + suffix); ok {
			values[key] = value
		}
	}
	if len(values) == 0 {
		return nil
	}
	return k.Load(confmap.Provider(values, "."), nil, koanf.WithMergeFunc(config.MergeWithBooleanPrecedence))
}

// loadConfig layers path (optional, parser picked by extension) and the
// FULFILLMENT_* environment through go-config, decodes the process sections
// and resolves the rest as core configuration through cfgx.
func loadConfig(ctx context.Context, path string, lookup func(string) (string, bool)) (appConfig, error) {
	if lookup == nil {
		lookup = os.LookupEnv
	}
	providers := []config.ProviderBuilder[processConfig]{}
	if path = strings.TrimSpace(path); path != "" {
		providers = append(providers, config.FileProvider[processConfig](path))
	}
	providers = append(providers,
		config.EnvProvider[processConfig](envPrefix, config.DefaultEnvDelimiter),
		envAliases(lookup),
	)

	container := config.New(defaultProcessConfig()).WithProvider(providers...)
	if err := container.Load(ctx); err != nil {
		return appConfig{}, fmt.Errorf("fulfillmentd: load config: %w", err)
	}

	raw := container.K.Raw()
	for _, section := range processSections {
		delete(raw, section)
	}
	if err := normalizeCoreValues(raw, ""); err != nil {
		return appConfig{}, err
	}
	loader := core.NewStaticRawConfigLoader(raw)
	coreConfig, err := core.NewCfgxConfigProvider(loader).Load(ctx, core.DefaultConfig())
	if err != nil {
		return appConfig{}, fmt.Errorf("fulfillmentd: resolve config: %w", err)
	}

	process := container.Raw()
	return appConfig{
		HTTP:     process.HTTP,
		Database: process.Database,
		Stripe:   process.Stripe,
		Catalog:  process.Catalog,
		Security: process.Security,
		Log:      process.Log,
		Core:     coreConfig,
		Raw:      raw,
	}, nil
}

// normalizeCoreValues turns duration strings and numeric env values into
// typed values before cfgx decodes them.
func normalizeCoreValues(node map[string]any, prefix string) error {
	for key, value := range node {
		path := key
		if prefix != "" {
			path = prefix + "." + key
		}
		switch typed := value.(type) {
		case map[string]any:
			if err := normalizeCoreValues(typed, path); err != nil {
				return err
			}
		case string:
			if durationKeys[path] {
				parsed, err := time.ParseDuration(strings.TrimSpace(typed))
				if err != nil {
					return fmt.Errorf("fulfillmentd: %s: %w", path, err)
				}
				node[key] = parsed
				continue
			}
			if strings.HasPrefix(path, "notifications.") {
				parsed, err := strconv.Atoi(strings.TrimSpace(typed))
				if err != nil {
					return fmt.Errorf("fulfillmentd: %s must be a number: %w", path, err)
				}
				node[key] = parsed
			}
		}
	}
	return nil
}
