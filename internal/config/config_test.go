package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	return path
}

func TestLoadFileWithEnvOverride(t *testing.T) {
	path := writeConfig(t, `
http:
  port: "9000"
ledger:
  driver: bolt
  bolt_path: /tmp/tickets.db
settlement:
  poll_interval: 3s
  max_attempts: 40
`)
	t.Setenv("SETTLEMENT_MAX_ATTEMPTS", "12")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}

	if cfg.HTTP.Port != "9000" {
		t.Errorf("http.port = %q", cfg.HTTP.Port)
	}
	if cfg.Ledger.Driver != LedgerBolt || cfg.Ledger.BoltPath != "/tmp/tickets.db" {
		t.Errorf("ledger = %+v", cfg.Ledger)
	}

	p := cfg.Settlement.Policy()
	if p.Interval != 3*time.Second {
		t.Errorf("interval = %v, want 3s", p.Interval)
	}
	if p.MaxAttempts != 12 {
		t.Errorf("max attempts = %d, want env override 12", p.MaxAttempts)
	}
	if p.MaxDuration != 15*time.Minute || p.MaxBackoff != time.Minute {
		t.Errorf("defaults not applied: %+v", p)
	}
	if cfg.SMS.SenderID != "L7-IT" || cfg.SMS.Provider != SMSProviderHDEV {
		t.Errorf("sms defaults = %+v", cfg.SMS)
	}
}

func TestLoadMissingFileUsesEnv(t *testing.T) {
	t.Setenv("LEDGER_DRIVER", "postgres")
	t.Setenv("GATEWAY_API_ID", "id-1")
	t.Setenv("KAFKA_BROKERS", "k1:9092,k2:9092")

	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Gateway.APIID != "id-1" {
		t.Errorf("gateway.api_id = %q", cfg.Gateway.APIID)
	}
	if len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("kafka.brokers = %v", cfg.Kafka.Brokers)
	}
	if cfg.Settlement.PollInterval != 5*time.Second {
		t.Errorf("default poll interval = %v", cfg.Settlement.PollInterval)
	}
}

func TestLoadRejectsInvalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"ledger driver", "ledger:\n  driver: mysql\n", "ledger.driver"},
		{"sms provider", "sms:\n  provider: pigeon\n", "sms.provider"},
		{"negative attempts", "settlement:\n  max_attempts: -1\n", "must not be negative"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestSlogLevel(t *testing.T) {
	tests := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARN":    slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
		"verbose": slog.LevelInfo,
	}
	for in, want := range tests {
		if got := (Log{Level: in}).SlogLevel(); got != want {
			t.Errorf("SlogLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
