package config

import (
	"log/slog"
	"testing"
	"time"
)

func TestLoadDefaultsForDevProfile(t *testing.T) {
	lookup := mapLookup(map[string]string{})
	cfg, err := Load("metricsgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileDev {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileDev)
	}
	if cfg.HTTP.Address != ":8080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Observability.LogLevel != slog.LevelDebug {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.MaxOpenConns != 20 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if !cfg.Data.AutoMigrate {
		t.Fatal("Data.AutoMigrate should default to true in dev")
	}
	if cfg.Gateway.RequestTimeout != 45*time.Second {
		t.Fatalf("Gateway.RequestTimeout = %s", cfg.Gateway.RequestTimeout)
	}
	if cfg.AI.Mode != "plan" {
		t.Fatalf("AI.Mode = %q", cfg.AI.Mode)
	}
	if cfg.AI.MaxAttempts != 4 {
		t.Fatalf("AI.MaxAttempts = %d", cfg.AI.MaxAttempts)
	}
	if cfg.AI.RetryBaseDelay != time.Second {
		t.Fatalf("AI.RetryBaseDelay = %s", cfg.AI.RetryBaseDelay)
	}
	if cfg.AI.RetryMaxDelay != 8*time.Second {
		t.Fatalf("AI.RetryMaxDelay = %s", cfg.AI.RetryMaxDelay)
	}
}

func TestLoadTestProfileDefaults(t *testing.T) {
	lookup := mapLookup(map[string]string{"METRICSGATE_PROFILE": "test"})
	cfg, err := Load("metricsgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Profile != ProfileTest {
		t.Fatalf("Profile = %q, want %q", cfg.Profile, ProfileTest)
	}
	if cfg.HTTP.Address != ":18080" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.Data.AutoMigrate {
		t.Fatal("Data.AutoMigrate should default to false in test")
	}
	if cfg.Observability.LogLevel != slog.LevelWarn {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
}

func TestLoadWithEnvOverrides(t *testing.T) {
	lookup := mapLookup(map[string]string{
		"METRICSGATE_PROFILE":                  "prod",
		"METRICSGATE_SERVICE_NAME":             "metricsgate-custom",
		"METRICSGATE_HTTP_ADDR":                ":9999",
		"METRICSGATE_HTTP_READ_TIMEOUT":        "2s",
		"METRICSGATE_HTTP_WRITE_TIMEOUT":       "3s",
		"METRICSGATE_LOG_LEVEL":                "error",
		"METRICSGATE_DATABASE_DSN":             "postgres://example",
		"METRICSGATE_DATABASE_MAX_OPEN_CONNS":  "42",
		"METRICSGATE_DATABASE_MAX_IDLE_CONNS":  "17",
		"METRICSGATE_DATA_AUTO_MIGRATE":        "false",
		"METRICSGATE_DATA_IMPORT_FILE":         "/data/videos.json",
		"METRICSGATE_GATEWAY_REQUEST_TIMEOUT":  "90s",
		"METRICSGATE_AI_MODE":                  "sql",
		"METRICSGATE_AI_BASE_URL":              "https://api.example.com",
		"METRICSGATE_AI_API_KEY":               "secret-key",
		"METRICSGATE_AI_MODEL":                 "qwen/qwen3-coder",
		"METRICSGATE_AI_TEMPERATURE":           "0.3",
		"METRICSGATE_AI_TIMEOUT":               "21s",
		"METRICSGATE_AI_MAX_ATTEMPTS":          "6",
		"METRICSGATE_AI_RETRY_BASE_DELAY":      "500ms",
		"METRICSGATE_AI_RETRY_MAX_DELAY":       "12s",
		"METRICSGATE_AI_SITE_URL":              "https://metrics.example.com",
		"METRICSGATE_AI_SITE_NAME":             "metricsgate",
		"METRICSGATE_DATABASE_CONN_MAX_IDLE_TIME": "7m",
	})
	cfg, err := Load("metricsgate-api", lookup)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}
	if cfg.Service.Name != "metricsgate-custom" {
		t.Fatalf("Service.Name = %q", cfg.Service.Name)
	}
	if cfg.HTTP.Address != ":9999" {
		t.Fatalf("HTTP.Address = %q", cfg.HTTP.Address)
	}
	if cfg.HTTP.ReadTimeout != 2*time.Second {
		t.Fatalf("HTTP.ReadTimeout = %s", cfg.HTTP.ReadTimeout)
	}
	if cfg.HTTP.WriteTimeout != 3*time.Second {
		t.Fatalf("HTTP.WriteTimeout = %s", cfg.HTTP.WriteTimeout)
	}
	if cfg.Observability.LogLevel != slog.LevelError {
		t.Fatalf("LogLevel = %v", cfg.Observability.LogLevel)
	}
	if cfg.Database.DSN != "postgres://example" {
		t.Fatalf("Database.DSN = %q", cfg.Database.DSN)
	}
	if cfg.Database.MaxOpenConns != 42 {
		t.Fatalf("Database.MaxOpenConns = %d", cfg.Database.MaxOpenConns)
	}
	if cfg.Database.MaxIdleConns != 17 {
		t.Fatalf("Database.MaxIdleConns = %d", cfg.Database.MaxIdleConns)
	}
	if cfg.Database.ConnMaxIdleTime != 7*time.Minute {
		t.Fatalf("Database.ConnMaxIdleTime = %s", cfg.Database.ConnMaxIdleTime)
	}
	if cfg.Data.AutoMigrate {
		t.Fatal("Data.AutoMigrate = true, want false")
	}
	if cfg.Data.ImportFile != "/data/videos.json" {
		t.Fatalf("Data.ImportFile = %q", cfg.Data.ImportFile)
	}
	if cfg.Gateway.RequestTimeout != 90*time.Second {
		t.Fatalf("Gateway.RequestTimeout = %s", cfg.Gateway.RequestTimeout)
	}
	if cfg.AI.Mode != "sql" {
		t.Fatalf("AI.Mode = %q", cfg.AI.Mode)
	}
	if cfg.AI.BaseURL != "https://api.example.com" {
		t.Fatalf("AI.BaseURL = %q", cfg.AI.BaseURL)
	}
	if cfg.AI.APIKey != "secret-key" {
		t.Fatalf("AI.APIKey = %q", cfg.AI.APIKey)
	}
	if cfg.AI.Model != "qwen/qwen3-coder" {
		t.Fatalf("AI.Model = %q", cfg.AI.Model)
	}
	if cfg.AI.Temperature != 0.3 {
		t.Fatalf("AI.Temperature = %f", cfg.AI.Temperature)
	}
	if cfg.AI.Timeout != 21*time.Second {
		t.Fatalf("AI.Timeout = %s", cfg.AI.Timeout)
	}
	if cfg.AI.MaxAttempts != 6 {
		t.Fatalf("AI.MaxAttempts = %d", cfg.AI.MaxAttempts)
	}
	if cfg.AI.RetryBaseDelay != 500*time.Millisecond {
		t.Fatalf("AI.RetryBaseDelay = %s", cfg.AI.RetryBaseDelay)
	}
	if cfg.AI.RetryMaxDelay != 12*time.Second {
		t.Fatalf("AI.RetryMaxDelay = %s", cfg.AI.RetryMaxDelay)
	}
	if cfg.AI.SiteURL != "https://metrics.example.com" {
		t.Fatalf("AI.SiteURL = %q", cfg.AI.SiteURL)
	}
	if cfg.AI.SiteName != "metricsgate" {
		t.Fatalf("AI.SiteName = %q", cfg.AI.SiteName)
	}
}

func TestLoadErrorsOnInvalidValues(t *testing.T) {
	tests := []map[string]string{
		{"METRICSGATE_PROFILE": "oops"},
		{"METRICSGATE_HTTP_READ_TIMEOUT": "NaN"},
		{"METRICSGATE_DATABASE_MAX_OPEN_CONNS": "oops"},
		{"METRICSGATE_DATA_AUTO_MIGRATE": "not-bool"},
		{"METRICSGATE_AI_MODE": "freestyle"},
		{"METRICSGATE_AI_TEMPERATURE": "bad"},
		{"METRICSGATE_AI_MAX_ATTEMPTS": "many"},
		{"METRICSGATE_AI_RETRY_BASE_DELAY": "soon"},
		{"METRICSGATE_LOG_LEVEL": "verbose"},
	}
	for _, env := range tests {
		_, err := Load("metricsgate-api", mapLookup(env))
		if err == nil {
			t.Fatalf("Load() expected error for env %#v", env)
		}
	}
}

func mapLookup(values map[string]string) LookupFunc {
	return func(key string) (string, bool) {
		value, ok := values[key]
		return value, ok
	}
}
