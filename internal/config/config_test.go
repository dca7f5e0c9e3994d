package config

import (
	"testing"
	"time"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Fatalf("Port = %q, want 8080", cfg.Port)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q, want release", cfg.GinMode)
	}
	if cfg.APIBasePath != "/api/v1" {
		t.Fatalf("APIBasePath = %q, want /api/v1", cfg.APIBasePath)
	}
	if cfg.TZOffsetHours != 7 || cfg.DueWindowMinutes != 10 {
		t.Fatalf("scheduling defaults = %d/%d, want 7/10", cfg.TZOffsetHours, cfg.DueWindowMinutes)
	}
	if cfg.JobMaxAttempts != 3 || cfg.JobBackoffBase != 30*time.Second {
		t.Fatalf("job defaults = %d/%v", cfg.JobMaxAttempts, cfg.JobBackoffBase)
	}
	if cfg.JobStaleAfter != 15*time.Minute {
		t.Fatalf("JobStaleAfter = %v, want 15m", cfg.JobStaleAfter)
	}
	if cfg.WorkerCeiling != 5 {
		t.Fatalf("WorkerCeiling = %d, want 5", cfg.WorkerCeiling)
	}
	if cfg.IdempotencyTTL != 24*time.Hour {
		t.Fatalf("IdempotencyTTL = %v, want 24h", cfg.IdempotencyTTL)
	}
	if cfg.Primary.Configured() {
		t.Fatal("primary gateway should be unconfigured by default")
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("LOG_LEVEL", "warning") // normalized to warn
	t.Setenv("GIN_MODE", "weird")    // normalized to release
	t.Setenv("DUE_WINDOW_MINUTES", "5")
	t.Setenv("WA_TOKEN", "tok")
	t.Setenv("WA_PHONE_NUMBER_ID", "123")
	t.Setenv("CORS_ALLOWED_ORIGINS", "https://a.example, https://b.example ,")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Fatalf("Port = %q", cfg.Port)
	}
	if cfg.LogLevel != "warn" {
		t.Fatalf("LogLevel = %q, want warn", cfg.LogLevel)
	}
	if cfg.GinMode != "release" {
		t.Fatalf("GinMode = %q, want release", cfg.GinMode)
	}
	if cfg.DueWindowMinutes != 5 {
		t.Fatalf("DueWindowMinutes = %d", cfg.DueWindowMinutes)
	}
	if !cfg.Primary.Configured() {
		t.Fatal("primary gateway should be configured")
	}
	if len(cfg.CORS.AllowedOrigins) != 2 {
		t.Fatalf("AllowedOrigins = %v", cfg.CORS.AllowedOrigins)
	}
}

func TestLoad_ValidationFailures(t *testing.T) {
	cases := []struct {
		name string
		k, v string
	}{
		{"bad log level", "LOG_LEVEL", "verbose"},
		{"reserved exceeds pool", "DB_RESERVED_CONNS", "10"},
		{"window too large", "DUE_WINDOW_MINUTES", "61"},
		{"window zero", "DUE_WINDOW_MINUTES", "0"},
		{"zero attempts", "JOB_MAX_ATTEMPTS", "0"},
		{"zero stale horizon", "JOB_STALE_AFTER", "0s"},
		{"gateway timeout too long", "GATEWAY_TIMEOUT", "45s"},
		{"negative rate", "RATE_RPS", "-1"},
		{"sample ratio out of range", "OTEL_TRACES_SAMPLER_ARG", "2"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.k, tc.v)
			if _, err := Load(); err == nil {
				t.Fatalf("Load with %s=%s should fail", tc.k, tc.v)
			}
		})
	}
}

func TestWorkers(t *testing.T) {
	cases := []struct {
		name                   string
		max, reserved, ceiling int
		want                   int
	}{
		{"defaults", 10, 4, 5, 3},
		{"capped by ceiling", 30, 4, 5, 5},
		{"never below one", 3, 2, 5, 1},
		{"zero spare", 4, 4, 5, 1},
		{"tight ceiling", 20, 0, 2, 2},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			c := Config{DBMaxConns: tc.max, DBReservedConns: tc.reserved, WorkerCeiling: tc.ceiling}
			if got := c.Workers(); got != tc.want {
				t.Fatalf("Workers() = %d, want %d", got, tc.want)
			}
		})
	}
}

func TestNormalizeBasePath(t *testing.T) {
	cases := []struct{ in, want string }{
		{"", "/"},
		{"/", "/"},
		{"api", "/api"},
		{"/api/v1/", "/api/v1"},
		{"  /api  ", "/api"},
	}
	for _, tc := range cases {
		if got := normalizeBasePath(tc.in); got != tc.want {
			t.Fatalf("normalizeBasePath(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}
