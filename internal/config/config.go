// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes application settings
// such as server timeouts, logging, database pooling, messaging-gateway
// credentials, reminder scheduling windows, and observability.
package config

import (
	"errors"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/risetaid/prima-sub012/internal/sysutil"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool
	HSTSMaxAge time.Duration
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    // OTEL_ENABLED
	Endpoint    string  // OTEL_EXPORTER_OTLP_ENDPOINT (e.g. "otel:4317")
	Insecure    bool    // OTEL_EXPORTER_OTLP_INSECURE (true if no TLS)
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "prima-reminder-engine")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
}

// GatewayConfig holds credentials for one WhatsApp Cloud API sender.
type GatewayConfig struct {
	Token         string // bearer token for the Graph API
	PhoneNumberID string // sending phone-number id
}

// Configured reports whether the gateway has usable credentials.
func (g GatewayConfig) Configured() bool {
	return strings.TrimSpace(g.Token) != "" && strings.TrimSpace(g.PhoneNumberID) != ""
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        // just the number
	ReadTimeout       time.Duration // e.g. 15s
	ReadHeaderTimeout time.Duration // e.g. 10s
	WriteTimeout      time.Duration // e.g. 20s
	IdleTimeout       time.Duration // e.g. 60s
	MaxHeaderBytes    int           // bytes
	GinMode           string        // debug|release|test

	// Logging
	LogLevel    string // debug|info|warn|error|fatal|panic
	LogPretty   bool   // pretty console logs in dev
	APIBasePath string // base path for staff API routes

	// Database
	DBPath          string // SQLite path
	DBMaxConns      int    // connection pool ceiling
	DBReservedConns int    // connections held back for interactive traffic

	// Secrets
	CronSecret    string // shared secret for the /cron trigger
	WebhookSecret string // shared secret for provider webhooks

	// Messaging gateways (primary + backup)
	Primary        GatewayConfig
	Backup         GatewayConfig
	GatewayTimeout time.Duration // per outbound HTTP call

	// Scheduling
	TZOffsetHours      int // fixed civil timezone offset (WIB = 7)
	DueWindowMinutes   int // grace window after the scheduled minute
	VerifyExpiryHours  int // verification consent expiry horizon
	ConfirmLookbackHrs int // confirmation reply lookback window

	// Job queue
	JobMaxAttempts          int           // retry ceiling before dead-letter
	JobBackoffBase          time.Duration // first retry delay, doubled per attempt
	JobStaleAfter           time.Duration // RUNNING rows older than this are recovered
	WorkerCeiling           int           // absolute cap on dispatch workers
	DeadLetterRetentionDays int           // how long dead jobs are kept

	// Idempotency fence
	RedisAddr      string        // optional; empty selects the DB-backed store
	IdempotencyTTL time.Duration // how long a processed event key is remembered

	// Rate limiting
	RateRPS   float64 // tokens per second (>= 0)
	RateBurst int     // bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Observability
	OTEL OTELConfig
}

// Workers returns the bounded dispatch worker count derived from the database
// connection budget: DBReservedConns are held back for interactive traffic,
// at most half of the remainder is used, and the result never exceeds
// WorkerCeiling (and never drops below one).
func (c Config) Workers() int {
	spare := c.DBMaxConns - c.DBReservedConns
	n := spare / 2
	if n < 1 {
		n = 1
	}
	if n > c.WorkerCeiling {
		n = c.WorkerCeiling
	}
	return n
}

// MustLoad loads the configuration and panics if validation fails.
func MustLoad() Config {
	cfg, err := Load()
	if err != nil {
		panic(err)
	}
	return cfg
}

// Load reads configuration from environment variables,
// applies defaults, normalizes values, and validates the result.
func Load() (Config, error) {
	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging
		LogLevel:    strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:   getbool("LOG_PRETTY", false),
		APIBasePath: normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Database
		DBPath:          getenv("DB_PATH", "app.db"),
		DBMaxConns:      getint("DB_MAX_CONNS", 10),
		DBReservedConns: getint("DB_RESERVED_CONNS", 4),

		// Secrets
		CronSecret:    getenv("CRON_SECRET", ""),
		WebhookSecret: getenv("WEBHOOK_SECRET", ""),

		// Messaging gateways
		Primary: GatewayConfig{
			Token:         getenv("WA_TOKEN", ""),
			PhoneNumberID: getenv("WA_PHONE_NUMBER_ID", ""),
		},
		Backup: GatewayConfig{
			Token:         getenv("WA_BACKUP_TOKEN", ""),
			PhoneNumberID: getenv("WA_BACKUP_PHONE_NUMBER_ID", ""),
		},
		GatewayTimeout: getdur("GATEWAY_TIMEOUT", 8*time.Second),

		// Scheduling
		TZOffsetHours:      getint("TZ_OFFSET_HOURS", 7),
		DueWindowMinutes:   getint("DUE_WINDOW_MINUTES", 10),
		VerifyExpiryHours:  getint("VERIFY_EXPIRY_HOURS", 48),
		ConfirmLookbackHrs: getint("CONFIRM_LOOKBACK_HOURS", 24),

		// Job queue
		JobMaxAttempts:          getint("JOB_MAX_ATTEMPTS", 3),
		JobBackoffBase:          getdur("JOB_BACKOFF_BASE", 30*time.Second),
		JobStaleAfter:           getdur("JOB_STALE_AFTER", 15*time.Minute),
		WorkerCeiling:           getint("WORKER_CEILING", 5),
		DeadLetterRetentionDays: getint("DEAD_LETTER_RETENTION_DAYS", 7),

		// Idempotency fence
		RedisAddr:      getenv("REDIS_ADDR", ""),
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Rate limiting
		RateRPS:   getfloat("RATE_RPS", 5.0),
		RateBurst: getint("RATE_BURST", 10),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "prima-reminder-engine"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	// --- normalization ---
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}

	// --- validation ---
	switch cfg.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
	default:
		return cfg, errors.New("LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic")
	}
	if strings.TrimSpace(cfg.Port) == "" {
		return cfg, errors.New("PORT must not be empty")
	}
	if cfg.ReadTimeout <= 0 || cfg.ReadHeaderTimeout <= 0 || cfg.WriteTimeout <= 0 || cfg.IdleTimeout <= 0 {
		return cfg, errors.New("timeouts must be positive durations")
	}
	if cfg.MaxHeaderBytes <= 0 {
		return cfg, errors.New("MAX_HEADER_BYTES must be > 0")
	}
	if strings.TrimSpace(cfg.DBPath) == "" {
		return cfg, errors.New("DB_PATH must not be empty")
	}
	if cfg.DBMaxConns < 1 {
		return cfg, errors.New("DB_MAX_CONNS must be >= 1")
	}
	if cfg.DBReservedConns < 0 || cfg.DBReservedConns >= cfg.DBMaxConns {
		return cfg, errors.New("DB_RESERVED_CONNS must be >= 0 and < DB_MAX_CONNS")
	}
	if cfg.GatewayTimeout <= 0 || cfg.GatewayTimeout > 30*time.Second {
		return cfg, errors.New("GATEWAY_TIMEOUT must be in (0, 30s]")
	}
	if cfg.TZOffsetHours < -12 || cfg.TZOffsetHours > 14 {
		return cfg, errors.New("TZ_OFFSET_HOURS must be a valid UTC offset")
	}
	if cfg.DueWindowMinutes < 1 || cfg.DueWindowMinutes > 60 {
		return cfg, errors.New("DUE_WINDOW_MINUTES must be in [1,60]")
	}
	if cfg.VerifyExpiryHours < 1 {
		return cfg, errors.New("VERIFY_EXPIRY_HOURS must be >= 1")
	}
	if cfg.ConfirmLookbackHrs < 1 {
		return cfg, errors.New("CONFIRM_LOOKBACK_HOURS must be >= 1")
	}
	if cfg.JobMaxAttempts < 1 {
		return cfg, errors.New("JOB_MAX_ATTEMPTS must be >= 1")
	}
	if cfg.JobBackoffBase <= 0 {
		return cfg, errors.New("JOB_BACKOFF_BASE must be > 0")
	}
	if cfg.JobStaleAfter <= 0 {
		return cfg, errors.New("JOB_STALE_AFTER must be > 0")
	}
	if cfg.WorkerCeiling < 1 {
		return cfg, errors.New("WORKER_CEILING must be >= 1")
	}
	if cfg.DeadLetterRetentionDays < 1 {
		return cfg, errors.New("DEAD_LETTER_RETENTION_DAYS must be >= 1")
	}
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.RateRPS < 0 {
		return cfg, errors.New("RATE_RPS must be >= 0")
	}
	if cfg.RateBurst < 1 {
		return cfg, errors.New("RATE_BURST must be >= 1")
	}
	if cfg.Security.HSTSMaxAge < 0 {
		return cfg, errors.New("HSTS_MAX_AGE must be >= 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ---- helpers ----

func getenv(k, def string) string {
	return sysutil.FirstNonEmpty(os.Getenv(k), def)
}

func getfloat(k string, def float64) float64 {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return def
}

func getint(k string, def int) int {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func getbool(k string, def bool) bool {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if sysutil.IsTruthy(v) {
			return true
		}
		switch strings.ToLower(strings.TrimSpace(v)) {
		case "0", "false", "no", "n", "off":
			return false
		}
	}
	return def
}

func getdur(k string, def time.Duration) time.Duration {
	if v, ok := os.LookupEnv(k); ok && v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return def
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		t := strings.TrimSpace(p)
		if t != "" {
			out = append(out, t)
		}
	}
	return out
}

// normalizeBasePath ensures leading '/' and strips trailing '/' (except root).
func normalizeBasePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return "/"
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	if len(p) > 1 && strings.HasSuffix(p, "/") {
		p = strings.TrimRight(p, "/")
	}
	return p
}
