package app

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/cristalhq/aconfig"
	"github.com/cristalhq/aconfig/aconfigyaml"
	"github.com/go-faster/errors"

	"github.com/xenking/paybridge/internal/domain/reconcile"
)

const envPrefix = "PAYBRIDGE"

// Config holds the complete application configuration, loadable from
// environment variables (PAYBRIDGE_ prefix), flags, or YAML config files.
type Config struct {
	Addr            string        `default:"0.0.0.0:8080" usage:"API server listen address"`
	DatabaseURL     string        `env:"DATABASE_URL" usage:"PostgreSQL connection URL (PAYBRIDGE_DATABASE_URL or DATABASE_URL)" flag:"database-url"`
	SiteURL         string        `env:"SITE_URL" usage:"Public storefront base URL for success and cancel redirects" flag:"site-url"`
	Currency        string        `default:"EUR" usage:"ISO 4217 currency of every order"`
	ProviderTimeout time.Duration `default:"15s" usage:"Timeout of a single provider API call" flag:"provider-timeout"`
	Stripe          StripeConfig  `env:"STRIPE" flag:"stripe"`
	PayPal          PayPalConfig  `env:"PAYPAL" flag:"paypal" yaml:"paypal"`
	Sweep           SweepConfig
	RateLimit       RateLimitConfig
	CORS            CORSConfig
	Graceful        GracefulConfig
}

// StripeConfig holds Stripe credentials.
type StripeConfig struct {
	APIBase          string        `env:"API_BASE" default:"https://api.stripe.com" usage:"Stripe API base URL" flag:"api-base"`
	SecretKey        string        `env:"SECRET_KEY" usage:"Stripe secret API key" flag:"secret-key"`
	WebhookSecret    string        `env:"WEBHOOK_SECRET" usage:"Stripe webhook signing secret" flag:"webhook-secret"`
	WebhookTolerance time.Duration `env:"WEBHOOK_TOLERANCE" default:"5m" usage:"Maximum webhook timestamp skew" flag:"webhook-tolerance"`
}

// PayPalConfig holds PayPal REST credentials. PayPal is enabled only when
// both are set.
type PayPalConfig struct {
	APIBase  string `env:"API_BASE" default:"https://api-m.sandbox.paypal.com" usage:"PayPal API base URL" flag:"api-base"`
	ClientID string `env:"CLIENT_ID" usage:"PayPal REST client id" flag:"client-id"`
	Secret   string `env:"SECRET" usage:"PayPal REST client secret" flag:"secret"`
}

// Enabled reports whether PayPal credentials are configured.
func (c PayPalConfig) Enabled() bool {
	return c.ClientID != "" && c.Secret != ""
}

// SweepConfig controls the in-process stale order sweep.
type SweepConfig struct {
	Interval     time.Duration `default:"0"   usage:"Sweep interval, 0 disables the in-process sweep"`
	MinAge       time.Duration `default:"15m" usage:"Ignore pending orders younger than this" flag:"min-age"`
	AbandonAfter time.Duration `default:"48h" usage:"Cancel unpaid orders older than this" flag:"abandon-after"`
	Concurrency  int           `default:"4"   usage:"Orders swept in parallel"`
	Limit        uint64        `default:"500" usage:"Max orders per sweep"`
}

// Options converts the config into sweeper options.
func (c SweepConfig) Options() reconcile.SweepOptions {
	return reconcile.SweepOptions{
		MinAge:       c.MinAge,
		AbandonAfter: c.AbandonAfter,
		Concurrency:  c.Concurrency,
		Limit:        c.Limit,
	}
}

// RateLimitConfig controls the per-client token bucket rate limiter.
type RateLimitConfig struct {
	Max    int           `default:"100" usage:"Max requests per window"`
	Window time.Duration `default:"1m"  usage:"Rate limit window duration"`
}

// CORSConfig controls Cross-Origin Resource Sharing headers.
type CORSConfig struct {
	Origins          []string `default:"*" usage:"Allowed CORS origins"`
	AllowCredentials bool     `default:"false" usage:"Allow credentials (cookies, auth headers)" flag:"cors-credentials"`
}

// GracefulConfig controls graceful shutdown timing.
type GracefulConfig struct {
	ReadinessDelay  time.Duration `default:"3s"  usage:"Delay after readiness=false before shutdown" flag:"readiness-delay"`
	ShutdownTimeout time.Duration `default:"15s" usage:"Maximum shutdown duration" flag:"shutdown-timeout"`
}

// ConfigurationError lists every required setting that is missing and every
// setting whose value cannot be used.
type ConfigurationError struct {
	Missing []string
	Invalid []string
}

func (e *ConfigurationError) Error() string {
	var parts []string
	if len(e.Missing) > 0 {
		parts = append(parts, "missing configuration: "+strings.Join(e.Missing, ", "))
	}
	if len(e.Invalid) > 0 {
		parts = append(parts, "invalid configuration: "+strings.Join(e.Invalid, ", "))
	}
	return strings.Join(parts, "; ")
}

// LoadConfig loads configuration from environment variables, flags and YAML
// config files, applies platform-specific defaults and validates it.
func LoadConfig() (*Config, error) {
	cfg, err := load(false)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadConfigNoFlags is LoadConfig for commands that parse their own flags.
// It does not validate, callers pick Validate or ValidateDatabase.
func LoadConfigNoFlags() (*Config, error) {
	return load(true)
}

func load(skipFlags bool) (*Config, error) {
	var cfg Config
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{
		EnvPrefix: envPrefix,
		SkipFlags: skipFlags,
		Files:     []string{"config.yaml", "/etc/paybridge/config.yaml"},
		FileDecoders: map[string]aconfig.FileDecoder{
			".yaml": aconfigyaml.New(),
		},
	})
	if err := loader.Load(); err != nil {
		return nil, errors.Wrap(err, "load config")
	}
	cfg.applyPlatformDefaults()
	return &cfg, nil
}

// Validate reports all missing settings the API server needs at once,
// before any network or database I/O.
func (c *Config) Validate() error {
	var missing []string
	if c.DatabaseURL == "" {
		missing = append(missing, envPrefix+"_DATABASE_URL")
	}
	if c.SiteURL == "" {
		missing = append(missing, envPrefix+"_SITE_URL")
	}
	if c.Stripe.SecretKey == "" {
		missing = append(missing, envPrefix+"_STRIPE_SECRET_KEY")
	}
	if c.Stripe.WebhookSecret == "" {
		missing = append(missing, envPrefix+"_STRIPE_WEBHOOK_SECRET")
	}
	// Half-configured PayPal is a mistake, not a disabled provider.
	if (c.PayPal.ClientID == "") != (c.PayPal.Secret == "") {
		if c.PayPal.ClientID == "" {
			missing = append(missing, envPrefix+"_PAYPAL_CLIENT_ID")
		} else {
			missing = append(missing, envPrefix+"_PAYPAL_SECRET")
		}
	}
	var invalid []string
	if c.Currency != "" && !isCurrencyCode(c.Currency) {
		invalid = append(invalid, envPrefix+"_CURRENCY "+strconv.Quote(c.Currency)+" is not a 3-letter ISO 4217 code")
	}
	if len(missing) > 0 || len(invalid) > 0 {
		return &ConfigurationError{Missing: missing, Invalid: invalid}
	}
	return nil
}

func isCurrencyCode(s string) bool {
	if len(s) != 3 {
		return false
	}
	for _, r := range s {
		if (r < 'A' || r > 'Z') && (r < 'a' || r > 'z') {
			return false
		}
	}
	return true
}

// ValidateDatabase checks only the ledger connection, for commands that
// read the ledger without talking to providers.
func (c *Config) ValidateDatabase() error {
	if c.DatabaseURL == "" {
		return &ConfigurationError{Missing: []string{envPrefix + "_DATABASE_URL"}}
	}
	return nil
}

// applyPlatformDefaults maps platform-provided environment variables (Railway,
// Render, etc.) that use standard names like DATABASE_URL and PORT to the
// application's PAYBRIDGE_-prefixed configuration.
func (c *Config) applyPlatformDefaults() {
	if c.DatabaseURL == "" {
		if v := os.Getenv("DATABASE_URL"); v != "" {
			c.DatabaseURL = v
		}
	}
	if port := os.Getenv("PORT"); port != "" && c.Addr == "0.0.0.0:8080" {
		c.Addr = "0.0.0.0:" + port
	}
}
