package config

import (
	"strings"
	"testing"
	"time"
)

// TestLoadDefaults is not t.Parallel because it mutates process-wide environment variables.
func TestLoadDefaults(t *testing.T) {
	// Clear any env vars that would override defaults
	keys := []string{
		"SERVER_PORT", "SERVER_ENV", "PUBLIC_URL",
		"DATABASE_URL", "DATABASE_MAX_CONNS", "DATABASE_MIN_CONNS",
		"REDIS_URL", "COOKIE_NAME", "SESSION_TTL",
		"BLOB_DIR",
		"ARGON2_MEMORY", "ARGON2_ITERATIONS", "ARGON2_PARALLELISM",
		"ADDRESS_CACHE_SIZE", "FRIEND_CACHE_SIZE", "PROJECT_CACHE_SIZE",
		"ROLE_REQUEST_TIMEOUT", "REAPER_INTERVAL",
		"SMTP_HOST", "SMTP_PORT", "SMTP_FROM",
	}
	for _, k := range keys {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 7777 {
		t.Errorf("ServerPort = %d, want 7777", cfg.ServerPort)
	}
	if cfg.ServerEnv != "production" {
		t.Errorf("ServerEnv = %q, want %q", cfg.ServerEnv, "production")
	}
	if cfg.CookieName != "netsblox" {
		t.Errorf("CookieName = %q, want %q", cfg.CookieName, "netsblox")
	}
	if cfg.SessionTTL != 14*24*time.Hour {
		t.Errorf("SessionTTL = %v, want 336h", cfg.SessionTTL)
	}
	if cfg.DatabaseMaxConn != 25 {
		t.Errorf("DatabaseMaxConn = %d, want 25", cfg.DatabaseMaxConn)
	}
	if cfg.AddressCacheSize != 500 {
		t.Errorf("AddressCacheSize = %d, want 500", cfg.AddressCacheSize)
	}
	if cfg.RoleRequestTimeout != 5*time.Second {
		t.Errorf("RoleRequestTimeout = %v, want 5s", cfg.RoleRequestTimeout)
	}
	if cfg.ReaperInterval != time.Minute {
		t.Errorf("ReaperInterval = %v, want 1m", cfg.ReaperInterval)
	}
	if cfg.Argon2Memory != 65536 {
		t.Errorf("Argon2Memory = %d, want 65536", cfg.Argon2Memory)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("SERVER_ENV", "development")
	t.Setenv("DATABASE_MAX_CONNS", "50")
	t.Setenv("ADDRESS_CACHE_SIZE", "100")
	t.Setenv("SESSION_TTL", "24h")
	t.Setenv("ROLE_REQUEST_TIMEOUT", "2s")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() returned unexpected error: %v", err)
	}

	if cfg.ServerPort != 9090 {
		t.Errorf("ServerPort = %d, want 9090", cfg.ServerPort)
	}
	if !cfg.IsDevelopment() {
		t.Error("IsDevelopment() = false, want true")
	}
	if cfg.DatabaseMaxConn != 50 {
		t.Errorf("DatabaseMaxConn = %d, want 50", cfg.DatabaseMaxConn)
	}
	if cfg.AddressCacheSize != 100 {
		t.Errorf("AddressCacheSize = %d, want 100", cfg.AddressCacheSize)
	}
	if cfg.SessionTTL != 24*time.Hour {
		t.Errorf("SessionTTL = %v, want 24h", cfg.SessionTTL)
	}
	if cfg.RoleRequestTimeout != 2*time.Second {
		t.Errorf("RoleRequestTimeout = %v, want 2s", cfg.RoleRequestTimeout)
	}

	// Development mode routes mail through the local catcher.
	if cfg.SMTPHost != "mailpit" {
		t.Errorf("SMTPHost = %q, want mailpit in development", cfg.SMTPHost)
	}
	if cfg.PublicURL != "http://localhost:9090" {
		t.Errorf("PublicURL = %q, want http://localhost:9090", cfg.PublicURL)
	}
}

func TestLoadInvalidInt(t *testing.T) {
	t.Setenv("SERVER_PORT", "not-a-number")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want parse error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error %q does not mention SERVER_PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "not-a-number") {
		t.Errorf("error %q does not include the invalid value", err.Error())
	}
}

func TestLoadMultipleErrors(t *testing.T) {
	t.Setenv("SERVER_PORT", "abc")
	t.Setenv("DATABASE_MAX_CONNS", "xyz")
	t.Setenv("SESSION_TTL", "soon")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want multiple parse errors")
	}

	errStr := err.Error()
	for _, key := range []string{"SERVER_PORT", "DATABASE_MAX_CONNS", "SESSION_TTL"} {
		if !strings.Contains(errStr, key) {
			t.Errorf("error missing %s, got: %s", key, errStr)
		}
	}
}

func TestLoadValidationRanges(t *testing.T) {
	t.Setenv("SERVER_PORT", "70000")
	t.Setenv("DATABASE_MIN_CONNS", "30")
	t.Setenv("DATABASE_MAX_CONNS", "10")

	_, err := Load()
	if err == nil {
		t.Fatal("Load() returned nil error, want validation error")
	}
	if !strings.Contains(err.Error(), "SERVER_PORT") {
		t.Errorf("error %q does not mention SERVER_PORT", err.Error())
	}
	if !strings.Contains(err.Error(), "DATABASE_MIN_CONNS") {
		t.Errorf("error %q does not mention DATABASE_MIN_CONNS", err.Error())
	}
}

func TestIsDevelopment(t *testing.T) {
	tests := []struct {
		env  string
		want bool
	}{
		{"development", true},
		{"production", false},
		{"", false},
		{"staging", false},
	}
	for _, tt := range tests {
		cfg := &Config{ServerEnv: tt.env}
		if got := cfg.IsDevelopment(); got != tt.want {
			t.Errorf("IsDevelopment() with env=%q = %v, want %v", tt.env, got, tt.want)
		}
	}
}
