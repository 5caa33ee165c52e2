package config

import (
	"fmt"
	"math/big"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"royaltyd/native/royalty"
)

// Duration wraps time.Duration to support YAML unmarshalling.
type Duration struct {
	time.Duration
}

// UnmarshalYAML parses human readable duration strings.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	if value == nil {
		return nil
	}
	if value.Kind != yaml.ScalarNode {
		return fmt.Errorf("duration must be string")
	}
	raw := value.Value
	if raw == "" {
		d.Duration = 0
		return nil
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("parse duration %q: %w", raw, err)
	}
	d.Duration = parsed
	return nil
}

// Config captures the runtime configuration for royaltyd.
type Config struct {
	ListenAddress string        `yaml:"listen"`
	Environment   string        `yaml:"environment"`
	DatabaseURL   string        `yaml:"database_url"`
	TiersPath     string        `yaml:"tiers"`
	Ledger        LedgerConfig  `yaml:"ledger"`
	Claims        ClaimsConfig  `yaml:"claims"`
	Notify        NotifyConfig  `yaml:"notify"`
	Detect        DetectConfig  `yaml:"detect"`
	Redis         RedisConfig   `yaml:"redis"`
	Admin         AdminConfig   `yaml:"admin"`
	Logging       LoggingConfig `yaml:"logging"`
}

// LedgerConfig points at the external token ledger.
type LedgerConfig struct {
	Endpoint      string   `yaml:"endpoint"`
	AuthToken     string   `yaml:"auth_token"`
	AuthTokenFile string   `yaml:"auth_token_file"`
	CallTimeout   Duration `yaml:"call_timeout"`
	RetryAttempts int      `yaml:"retry_attempts"`
	RetryBackoff  Duration `yaml:"retry_backoff"`
}

// ClaimsConfig tunes the claim processor.
type ClaimsConfig struct {
	FeeCollector          string   `yaml:"fee_collector"`
	ClaimsPerHour         int      `yaml:"claims_per_hour"`
	MinClaim              string   `yaml:"min_claim"`
	LargePaymentThreshold string   `yaml:"large_payment_threshold"`
	ClaimableCacheTTL     Duration `yaml:"claimable_cache_ttl"`
}

// NotifyConfig tunes the notification dispatcher.
type NotifyConfig struct {
	PerHour           int    `yaml:"per_hour"`
	WebhookURL        string `yaml:"webhook_url"`
	WebhookSecret     string `yaml:"webhook_secret"`
	WebhookSecretFile string `yaml:"webhook_secret_file"`
}

// DetectConfig tunes the background monitors.
type DetectConfig struct {
	ScanInterval  Duration `yaml:"scan_interval"`
	BatchSize     int      `yaml:"batch_size"`
	OracleURL     string   `yaml:"oracle_url"`
	OracleDelay   Duration `yaml:"oracle_delay"`
	OracleTimeout Duration `yaml:"oracle_timeout"`
}

// RedisConfig enables the shared cache for multi-instance deployments. When
// the address is empty, in-process caches are used.
type RedisConfig struct {
	Address  string `yaml:"address"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// AdminConfig captures security settings for the admin API.
type AdminConfig struct {
	BearerToken     string `yaml:"bearer_token"`
	BearerTokenFile string `yaml:"bearer_token_file"`
}

// LoggingConfig controls the slog output sink.
type LoggingConfig struct {
	FilePath   string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// Load reads configuration from the supplied path.
func Load(path string) (Config, error) {
	cfg := Config{}
	file, err := os.Open(path)
	if err != nil {
		return cfg, fmt.Errorf("open config: %w", err)
	}
	defer file.Close()
	dec := yaml.NewDecoder(file)
	if err := dec.Decode(&cfg); err != nil {
		return cfg, fmt.Errorf("decode config: %w", err)
	}
	applyDefaults(&cfg)
	if err := cfg.Ledger.normalise(); err != nil {
		return cfg, fmt.Errorf("ledger auth: %w", err)
	}
	if err := cfg.Notify.normalise(); err != nil {
		return cfg, fmt.Errorf("webhook secret: %w", err)
	}
	if err := cfg.Admin.normalise(); err != nil {
		return cfg, fmt.Errorf("admin security: %w", err)
	}
	if err := validate(cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.ListenAddress == "" {
		cfg.ListenAddress = ":7090"
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.Ledger.CallTimeout.Duration == 0 {
		cfg.Ledger.CallTimeout.Duration = 30 * time.Second
	}
	if cfg.Ledger.RetryAttempts <= 0 {
		cfg.Ledger.RetryAttempts = 3
	}
	if cfg.Ledger.RetryBackoff.Duration == 0 {
		cfg.Ledger.RetryBackoff.Duration = 500 * time.Millisecond
	}
	if cfg.Claims.ClaimsPerHour <= 0 {
		cfg.Claims.ClaimsPerHour = 10
	}
	if cfg.Claims.ClaimableCacheTTL.Duration == 0 {
		cfg.Claims.ClaimableCacheTTL.Duration = 30 * time.Second
	}
	if cfg.Notify.PerHour <= 0 {
		cfg.Notify.PerHour = 20
	}
	if cfg.Detect.ScanInterval.Duration == 0 {
		cfg.Detect.ScanInterval.Duration = 15 * time.Minute
	}
	if cfg.Detect.BatchSize <= 0 {
		cfg.Detect.BatchSize = 25
	}
	if cfg.Detect.OracleDelay.Duration == 0 {
		cfg.Detect.OracleDelay.Duration = 200 * time.Millisecond
	}
	if cfg.Detect.OracleTimeout.Duration == 0 {
		cfg.Detect.OracleTimeout.Duration = 10 * time.Second
	}
}

func validate(cfg Config) error {
	if strings.TrimSpace(cfg.Ledger.Endpoint) == "" {
		return fmt.Errorf("ledger endpoint must be configured")
	}
	if strings.TrimSpace(cfg.Claims.FeeCollector) == "" {
		return fmt.Errorf("claims fee_collector must be configured")
	}
	if raw := strings.TrimSpace(cfg.Claims.MinClaim); raw != "" {
		if _, ok := new(big.Int).SetString(raw, 10); !ok {
			return fmt.Errorf("claims min_claim must be a base-10 integer")
		}
	}
	if raw := strings.TrimSpace(cfg.Claims.LargePaymentThreshold); raw != "" {
		if _, ok := new(big.Int).SetString(raw, 10); !ok {
			return fmt.Errorf("claims large_payment_threshold must be a base-10 integer")
		}
	}
	return nil
}

// MinClaimAmount parses the configured minimum claim, or nil when unset.
func (c ClaimsConfig) MinClaimAmount() *big.Int {
	raw := strings.TrimSpace(c.MinClaim)
	if raw == "" {
		return nil
	}
	value, _ := new(big.Int).SetString(raw, 10)
	return value
}

// LargePaymentAmount parses the configured alert threshold, or nil when
// unset.
func (c ClaimsConfig) LargePaymentAmount() *big.Int {
	raw := strings.TrimSpace(c.LargePaymentThreshold)
	if raw == "" {
		return nil
	}
	value, _ := new(big.Int).SetString(raw, 10)
	return value
}

// TierRates loads and validates the tier-rate table. An empty path falls
// back to the built-in defaults; either way the table is validated before
// the service starts taking claims.
func (c Config) TierRates() (map[royalty.Tier]royalty.Rates, error) {
	path := strings.TrimSpace(c.TiersPath)
	if path == "" {
		rates := royalty.DefaultRates()
		if err := royalty.ValidateRates(rates); err != nil {
			return nil, err
		}
		return rates, nil
	}
	return royalty.LoadRates(path)
}

func (l *LedgerConfig) normalise() error {
	l.AuthToken = strings.TrimSpace(l.AuthToken)
	if path := strings.TrimSpace(l.AuthTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read auth_token_file: %w", err)
		}
		l.AuthToken = strings.TrimSpace(string(contents))
	}
	return nil
}

func (n *NotifyConfig) normalise() error {
	n.WebhookSecret = strings.TrimSpace(n.WebhookSecret)
	if path := strings.TrimSpace(n.WebhookSecretFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read webhook_secret_file: %w", err)
		}
		n.WebhookSecret = strings.TrimSpace(string(contents))
	}
	return nil
}

func (a *AdminConfig) normalise() error {
	a.BearerToken = strings.TrimSpace(a.BearerToken)
	if path := strings.TrimSpace(a.BearerTokenFile); path != "" {
		contents, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("read bearer_token_file: %w", err)
		}
		a.BearerToken = strings.TrimSpace(string(contents))
	}
	return nil
}
