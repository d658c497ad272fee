package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/hdevtech/ticket/internal/settlement"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

type Config struct {
	App        App        `yaml:"app"`
	HTTP       HTTP       `yaml:"http"`
	Log        Log        `yaml:"log"`
	Postgres   Postgres   `yaml:"postgres"`
	Redis      Redis      `yaml:"redis"`
	Kafka      Kafka      `yaml:"kafka"`
	Ledger     Ledger     `yaml:"ledger"`
	Gateway    Gateway    `yaml:"gateway"`
	SMS        SMS        `yaml:"sms"`
	Settlement Settlement `yaml:"settlement"`
	Auth       Auth       `yaml:"auth"`
	Receipt    Receipt    `yaml:"receipt"`
}

type App struct {
	Name    string `yaml:"name" env:"APP_NAME" env-default:"ticket-service"`
	Version string `yaml:"version" env:"APP_VERSION" env-default:"1.0.0"`
}

type HTTP struct {
	Port string `yaml:"port" env:"HTTP_PORT" env-default:"8080"`
	// PublicURL prefixes links handed to the gateway and the payer.
	PublicURL   string `yaml:"public_url" env:"HTTP_PUBLIC_URL" env-default:"http://localhost:8080"`
	MetricsPort string `yaml:"metrics_port" env:"METRICS_PORT" env-default:"9093"`
}

type Log struct {
	Level string `yaml:"level" env:"LOG_LEVEL" env-default:"info"`
}

type Postgres struct {
	Host     string `yaml:"host" env:"POSTGRES_HOST" env-default:"localhost"`
	Port     string `yaml:"port" env:"POSTGRES_PORT" env-default:"5432"`
	User     string `yaml:"user" env:"POSTGRES_USER" env-default:"user"`
	Password string `yaml:"password" env:"POSTGRES_PASSWORD" env-default:"password"`
	DBName   string `yaml:"dbname" env:"POSTGRES_DB" env-default:"ticket_db"`
	SSLMode  string `yaml:"sslmode" env:"POSTGRES_SSLMODE" env-default:"disable"`
}

type Redis struct {
	Addr     string `yaml:"addr" env:"REDIS_ADDR" env-default:"localhost:6379"`
	Password string `yaml:"password" env:"REDIS_PASSWORD"`
	DB       int    `yaml:"db" env:"REDIS_DB" env-default:"0"`
}

type Kafka struct {
	Brokers []string `yaml:"brokers" env:"KAFKA_BROKERS" env-default:"localhost:9092"`
	Topic   string   `yaml:"topic" env:"KAFKA_TOPIC" env-default:"ticket-events"`
	GroupID string   `yaml:"group_id" env:"KAFKA_GROUP_ID" env-default:"ticket-settler"`
	// StartOffset is used by a group with no committed offset: earliest or latest.
	StartOffset string `yaml:"start_offset" env:"KAFKA_START_OFFSET" env-default:"earliest"`
	// PublishInterval is how often the worker drains the outbox.
	PublishInterval time.Duration `yaml:"publish_interval" env:"OUTBOX_PUBLISH_INTERVAL" env-default:"2s"`
}

const (
	LedgerPostgres = "postgres"
	LedgerBolt     = "bolt"
)

type Ledger struct {
	Driver   string `yaml:"driver" env:"LEDGER_DRIVER" env-default:"postgres"`
	BoltPath string `yaml:"bolt_path" env:"LEDGER_BOLT_PATH" env-default:"tickets.db"`
}

type Gateway struct {
	BaseURL string        `yaml:"base_url" env:"GATEWAY_BASE_URL" env-default:"https://payment.hdevtech.cloud/api_pay/api/"`
	APIID   string        `yaml:"api_id" env:"GATEWAY_API_ID"`
	APIKey  string        `yaml:"api_key" env:"GATEWAY_API_KEY"`
	Timeout time.Duration `yaml:"timeout" env:"GATEWAY_TIMEOUT" env-default:"10s"`
}

const (
	SMSProviderHDEV   = "hdev"
	SMSProviderTwilio = "twilio"
	SMSProviderNone   = "none"
)

type SMS struct {
	Provider string        `yaml:"provider" env:"SMS_PROVIDER" env-default:"hdev"`
	URL      string        `yaml:"url" env:"SMS_URL"`
	SenderID string        `yaml:"sender_id" env:"SMS_SENDER_ID" env-default:"L7-IT"`
	Timeout  time.Duration `yaml:"timeout" env:"SMS_TIMEOUT" env-default:"10s"`

	TwilioAccountSID string `yaml:"twilio_account_sid" env:"TWILIO_ACCOUNT_SID"`
	TwilioAuthToken  string `yaml:"twilio_auth_token" env:"TWILIO_AUTH_TOKEN"`
	TwilioFrom       string `yaml:"twilio_from" env:"TWILIO_FROM"`
	CountryCode      string `yaml:"country_code" env:"SMS_COUNTRY_CODE" env-default:"250"`
}

type Settlement struct {
	PollInterval time.Duration `yaml:"poll_interval" env:"SETTLEMENT_POLL_INTERVAL" env-default:"5s"`
	MaxAttempts  int           `yaml:"max_attempts" env:"SETTLEMENT_MAX_ATTEMPTS" env-default:"0"`
	MaxDuration  time.Duration `yaml:"max_duration" env:"SETTLEMENT_MAX_DURATION" env-default:"15m"`
	MaxBackoff   time.Duration `yaml:"max_backoff" env:"SETTLEMENT_MAX_BACKOFF" env-default:"1m"`
	Concurrency  int           `yaml:"concurrency" env:"SETTLEMENT_CONCURRENCY" env-default:"32"`
	// SweepInterval and StaleAfter drive the settler's recovery of tickets
	// left pending.
	SweepInterval time.Duration `yaml:"sweep_interval" env:"SETTLEMENT_SWEEP_INTERVAL" env-default:"1m"`
	StaleAfter    time.Duration `yaml:"stale_after" env:"SETTLEMENT_STALE_AFTER" env-default:"2m"`
	SyncTimeout   time.Duration `yaml:"sync_timeout" env:"SETTLEMENT_SYNC_TIMEOUT" env-default:"2m"`
}

// Policy is the retry policy of the settlement workflow.
func (s Settlement) Policy() settlement.Policy {
	return settlement.Policy{
		Interval:    s.PollInterval,
		MaxAttempts: s.MaxAttempts,
		MaxDuration: s.MaxDuration,
		MaxBackoff:  s.MaxBackoff,
	}
}

type Auth struct {
	JWTSecret string `yaml:"jwt_secret" env:"JWT_SECRET"`
	Issuer    string `yaml:"issuer" env:"JWT_ISSUER" env-default:"ticket-service"`
}

type Receipt struct {
	CacheTTL time.Duration `yaml:"cache_ttl" env:"RECEIPT_CACHE_TTL" env-default:"10m"`
}

// SlogLevel maps log.level to a slog level. Unknown values mean info.
func (l Log) SlogLevel() slog.Level {
	switch strings.ToLower(l.Level) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (c *Config) Validate() error {
	switch c.Ledger.Driver {
	case LedgerPostgres, LedgerBolt:
	default:
		return fmt.Errorf("ledger.driver must be %q or %q, got %q", LedgerPostgres, LedgerBolt, c.Ledger.Driver)
	}
	switch c.SMS.Provider {
	case SMSProviderHDEV, SMSProviderTwilio, SMSProviderNone:
	default:
		return fmt.Errorf("sms.provider must be one of hdev, twilio, none, got %q", c.SMS.Provider)
	}
	if c.Settlement.PollInterval <= 0 {
		return errors.New("settlement.poll_interval must be positive")
	}
	if c.Settlement.MaxAttempts < 0 || c.Settlement.MaxDuration < 0 {
		return errors.New("settlement bounds must not be negative")
	}
	return nil
}

// New loads an optional .env, then config.yaml (or CONFIG_PATH), then lets
// environment variables override the file.
func New() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	return Load(path)
}

// Load reads path, falling back to the environment alone when it is missing.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if err := cleanenv.ReadConfig(path, cfg); err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("config error: %w", err)
		}
		// fallback to env vars if file not found
		if err := cleanenv.ReadEnv(cfg); err != nil {
			return nil, fmt.Errorf("config error: %w", err)
		}
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config error: %w", err)
	}
	return cfg, nil
}
