package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadConfig_Defaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "")
	t.Setenv("KAFKA_BROKERS", "")
	t.Setenv("LOG_LEVEL", "")
	t.Setenv("EVENTS_ENABLED", "")
	for _, key := range []string{"PORT", "DB_HOST", "DB_PORT", "DB_USER", "DB_PASSWORD", "DB_NAME", "DB_SSLMODE"} {
		t.Setenv(key, "")
	}

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Port != "8080" || cfg.LogLevel != slog.LevelInfo {
		t.Errorf("core = (%s, %v)", cfg.Port, cfg.LogLevel)
	}
	if cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 1 || cfg.Kafka.Brokers[0] != "localhost:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if cfg.Attempt.WallClockGrace != 30*time.Second || cfg.Attempt.ResultCacheTTL != 2*time.Minute {
		t.Errorf("attempt = %+v", cfg.Attempt)
	}
	if want := "host=localhost port=5432 user=postgres password= dbname=attempt_service sslmode=disable"; cfg.DSN() != want {
		t.Errorf("DSN() = %q, want %q", cfg.DSN(), want)
	}
}

func TestLoadConfig_Overrides(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://u:p@db:5432/attempts")
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("EVENTS_ENABLED", "true")
	t.Setenv("KAFKA_BROKERS", "k1:9092, k2:9092")
	t.Setenv("ATTEMPT_ENFORCE_WALL_CLOCK", "true")
	t.Setenv("ATTEMPT_WALL_CLOCK_GRACE_SECONDS", "5")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example,https://b.example")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.DSN() != "postgres://u:p@db:5432/attempts" {
		t.Errorf("DSN() = %q", cfg.DSN())
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v", cfg.LogLevel)
	}
	if !cfg.Kafka.Enabled || len(cfg.Kafka.Brokers) != 2 || cfg.Kafka.Brokers[1] != "k2:9092" {
		t.Errorf("kafka = %+v", cfg.Kafka)
	}
	if !cfg.Attempt.EnforceWallClock || cfg.Attempt.WallClockGrace != 5*time.Second {
		t.Errorf("attempt = %+v", cfg.Attempt)
	}
	if len(cfg.CORSAllowedOrigins) != 2 {
		t.Errorf("CORSAllowedOrigins = %v", cfg.CORSAllowedOrigins)
	}
}

func TestLoadConfig_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"log level", "LOG_LEVEL", "chatty"},
		{"autosave rate", "AUTOSAVE_RATE_PER_MINUTE", "-1"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			if _, err := LoadConfig(); err == nil {
				t.Errorf("LoadConfig() accepted %s=%s", tt.key, tt.value)
			}
		})
	}
}
