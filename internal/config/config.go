package config

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type ServerConfig struct {
	Addr            string        `yaml:"addr"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	RequestTimeout  time.Duration `yaml:"request_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxWebhookBytes int64         `yaml:"max_webhook_bytes"`
	RateLimitPerMin int           `yaml:"rate_limit_per_min"` // per client on operator routes; 0 disables
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL             string        `yaml:"url"`
	MaxConns        int32         `yaml:"max_conns"`
	MaxConnLifetime time.Duration `yaml:"max_conn_lifetime"`
}

type RedisConfig struct {
	URL      string `yaml:"url"` // empty: in-process locks
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type GatewayConfig struct {
	Provider string `yaml:"provider"` // stripe | noop
	Stripe   struct {
		SecretKey     string `yaml:"secret_key"`
		WebhookSecret string `yaml:"webhook_secret"`
		// Tolerance is the accepted clock skew for webhook timestamps.
		Tolerance time.Duration `yaml:"tolerance"`
	} `yaml:"stripe"`
}

type PaymentsConfig struct {
	DefaultCurrency   string        `yaml:"default_currency"`
	LinkTTL           time.Duration `yaml:"link_ttl"`
	ReturnURL         string        `yaml:"return_url"`
	OverpaymentPolicy string        `yaml:"overpayment_policy"` // flag | clamp | auto_refund
	LockTTL           time.Duration `yaml:"lock_ttl"`
	SyncRetries       int           `yaml:"sync_retries"`
	SyncBackoff       time.Duration `yaml:"sync_backoff"`
}

type ReconcilerConfig struct {
	Enabled    bool          `yaml:"enabled"`
	Interval   time.Duration `yaml:"interval"`
	StaleAfter time.Duration `yaml:"stale_after"`
	BatchSize  int           `yaml:"batch_size"`
	Workers    int           `yaml:"workers"`
	RatePerSec float64       `yaml:"rate_per_sec"`
}

type ReceiptsConfig struct {
	Enabled    bool          `yaml:"enabled"`
	RetryEvery time.Duration `yaml:"retry_every"`
	RetryAfter time.Duration `yaml:"retry_after"`
	BatchSize  int           `yaml:"batch_size"`
}

type KafkaConfig struct {
	Brokers      []string `yaml:"brokers"` // empty: publishing disabled
	ClientID     string   `yaml:"client_id"`
	StatusTopic  string   `yaml:"status_topic"`
	TotalsTopic  string   `yaml:"totals_topic"`
	RequiredAcks string   `yaml:"required_acks"` // all | local | none
}

type TelegramConfig struct {
	Token  string `yaml:"token"` // empty: receipts are logged only
	ChatID int64  `yaml:"chat_id"`
}

type AuthConfig struct {
	JWTSecret string `yaml:"jwt_secret"`
	Issuer    string `yaml:"issuer"`
}

type Config struct {
	Server     ServerConfig     `yaml:"server"`
	Log        LogConfig        `yaml:"log"`
	Database   DatabaseConfig   `yaml:"database"`
	Redis      RedisConfig      `yaml:"redis"`
	Gateway    GatewayConfig    `yaml:"gateway"`
	Payments   PaymentsConfig   `yaml:"payments"`
	Reconciler ReconcilerConfig `yaml:"reconciler"`
	Receipts   ReceiptsConfig   `yaml:"receipts"`
	Kafka      KafkaConfig      `yaml:"kafka"`
	Telegram   TelegramConfig   `yaml:"telegram"`
	Auth       AuthConfig       `yaml:"auth"`

	Runtime RuntimeConfig `yaml:"-"`
}

// LoadConfig parses -config and -dev from the command line and loads the file.
func LoadConfig() (*Config, error) {
	var configPath string
	var dev bool
	flag.StringVar(&configPath, "config", "config.yaml", "path to config yaml")
	flag.BoolVar(&dev, "dev", false, "development mode")
	flag.Parse()
	return Load(configPath, dev)
}

// Load reads the yaml file at path, applies .env and environment overrides,
// fills defaults and validates the result.
func Load(path string, dev bool) (*Config, error) {
	// a missing .env is normal outside local development
	_ = godotenv.Load()

	var cfg Config
	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(b, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}
	cfg.Runtime.Dev = dev

	applyEnv(&cfg)
	applyDefaults(&cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyEnv(cfg *Config) {
	envOverride(&cfg.Database.URL, "DATABASE_URL")
	envOverride(&cfg.Redis.URL, "REDIS_URL")
	envOverride(&cfg.Gateway.Stripe.SecretKey, "STRIPE_SECRET_KEY")
	envOverride(&cfg.Gateway.Stripe.WebhookSecret, "STRIPE_WEBHOOK_SECRET")
	envOverride(&cfg.Auth.JWTSecret, "JWT_SECRET")
	envOverride(&cfg.Telegram.Token, "TELEGRAM_TOKEN")
	if v := os.Getenv("KAFKA_BROKERS"); v != "" {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}
}

func envOverride(dst *string, key string) {
	if v, ok := os.LookupEnv(key); ok && v != "" {
		*dst = v
	}
}

func applyDefaults(cfg *Config) {
	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.ReadTimeout <= 0 {
		cfg.Server.ReadTimeout = 10 * time.Second
	}
	if cfg.Server.WriteTimeout <= 0 {
		cfg.Server.WriteTimeout = 30 * time.Second
	}
	if cfg.Server.RequestTimeout <= 0 {
		cfg.Server.RequestTimeout = 25 * time.Second
	}
	if cfg.Server.ShutdownTimeout <= 0 {
		cfg.Server.ShutdownTimeout = 15 * time.Second
	}
	if cfg.Server.MaxWebhookBytes <= 0 {
		cfg.Server.MaxWebhookBytes = 64 << 10
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 16
	}
	if cfg.Gateway.Provider == "" {
		if cfg.Runtime.Dev {
			cfg.Gateway.Provider = "noop"
		} else {
			cfg.Gateway.Provider = "stripe"
		}
	}
	if cfg.Gateway.Stripe.Tolerance <= 0 {
		cfg.Gateway.Stripe.Tolerance = 5 * time.Minute
	}
	if cfg.Payments.DefaultCurrency == "" {
		cfg.Payments.DefaultCurrency = "USD"
	}
	cfg.Payments.DefaultCurrency = strings.ToUpper(cfg.Payments.DefaultCurrency)
	if cfg.Payments.LinkTTL <= 0 {
		cfg.Payments.LinkTTL = 24 * time.Hour
	}
	if cfg.Payments.OverpaymentPolicy == "" {
		cfg.Payments.OverpaymentPolicy = "flag"
	}
	if cfg.Payments.LockTTL <= 0 {
		cfg.Payments.LockTTL = 30 * time.Second
	}
	if cfg.Payments.SyncRetries <= 0 {
		cfg.Payments.SyncRetries = 3
	}
	if cfg.Payments.SyncBackoff <= 0 {
		cfg.Payments.SyncBackoff = 500 * time.Millisecond
	}
	if cfg.Reconciler.Interval <= 0 {
		cfg.Reconciler.Interval = 5 * time.Minute
	}
	if cfg.Reconciler.StaleAfter <= 0 {
		cfg.Reconciler.StaleAfter = 15 * time.Minute
	}
	if cfg.Reconciler.BatchSize <= 0 {
		cfg.Reconciler.BatchSize = 100
	}
	if cfg.Reconciler.Workers <= 0 {
		cfg.Reconciler.Workers = 4
	}
	if cfg.Reconciler.RatePerSec <= 0 {
		cfg.Reconciler.RatePerSec = 5
	}
	if cfg.Receipts.RetryEvery <= 0 {
		cfg.Receipts.RetryEvery = time.Minute
	}
	if cfg.Receipts.RetryAfter <= 0 {
		cfg.Receipts.RetryAfter = 2 * time.Minute
	}
	if cfg.Receipts.BatchSize <= 0 {
		cfg.Receipts.BatchSize = 50
	}
	if cfg.Kafka.ClientID == "" {
		cfg.Kafka.ClientID = "order-payments"
	}
	if cfg.Kafka.StatusTopic == "" {
		cfg.Kafka.StatusTopic = "payments.status"
	}
	if cfg.Kafka.TotalsTopic == "" {
		cfg.Kafka.TotalsTopic = "orders.totals"
	}
	if cfg.Kafka.RequiredAcks == "" {
		cfg.Kafka.RequiredAcks = "all"
	}
	if cfg.Auth.Issuer == "" {
		cfg.Auth.Issuer = "order-payments"
	}
}

// Validate performs the minimal checks needed to start the service.
func (c *Config) Validate() error {
	if c.Database.URL == "" {
		return errors.New("database.url is required")
	}
	switch c.Gateway.Provider {
	case "stripe":
		if c.Gateway.Stripe.SecretKey == "" {
			return errors.New("gateway.stripe.secret_key is required")
		}
		if c.Gateway.Stripe.WebhookSecret == "" {
			return errors.New("gateway.stripe.webhook_secret is required")
		}
	case "noop":
		if !c.Runtime.Dev && c.Gateway.Stripe.WebhookSecret == "" {
			return errors.New("noop gateway outside dev mode needs gateway.stripe.webhook_secret")
		}
	default:
		return fmt.Errorf("gateway.provider %q is not supported", c.Gateway.Provider)
	}
	switch c.Payments.OverpaymentPolicy {
	case "flag", "clamp", "auto_refund":
	default:
		return fmt.Errorf("payments.overpayment_policy %q is not supported", c.Payments.OverpaymentPolicy)
	}
	if c.Auth.JWTSecret == "" && !c.Runtime.Dev {
		return errors.New("auth.jwt_secret is required")
	}
	return nil
}
