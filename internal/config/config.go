// Package config provides application configuration loaded from environment
// variables with defaults and validation. It centralizes settings for the
// HTTP server, logging, the durable store, per-user locking, streak rules,
// collaborator clients, background jobs and observability.
//
// Values are parsed with github.com/caarlos0/env; Load then normalizes and
// validates the result. A .env file, when present, is loaded by the binary
// before Load runs.
package config

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// CORSConfig defines Cross-Origin Resource Sharing settings.
type CORSConfig struct {
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
}

// SecurityConfig defines security-related settings such as HSTS.
type SecurityConfig struct {
	EnableHSTS bool          `env:"ENABLE_HSTS" envDefault:"false"`
	HSTSMaxAge time.Duration `env:"HSTS_MAX_AGE" envDefault:"4320h"`
}

// OTELConfig defines OpenTelemetry observability settings.
type OTELConfig struct {
	Enabled     bool    `env:"OTEL_ENABLED" envDefault:"false"`
	Endpoint    string  `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	Insecure    bool    `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	ServiceName string  `env:"OTEL_SERVICE_NAME" envDefault:"streak-engine"`
	SampleRatio float64 `env:"OTEL_TRACES_SAMPLER_ARG" envDefault:"1.0"`
}

// StoreConfig selects and addresses the durable store.
type StoreConfig struct {
	Driver      string `env:"DB_DRIVER" envDefault:"sqlite"` // sqlite|postgres
	Path        string `env:"DB_PATH" envDefault:"streaks.db"`
	DatabaseURL string `env:"DATABASE_URL"`
}

// LockConfig selects the per-user lock backend.
type LockConfig struct {
	Backend       string        `env:"LOCK_BACKEND" envDefault:"local"` // local|redis
	RedisAddr     string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword string        `env:"REDIS_PASSWORD"`
	RedisDB       int           `env:"REDIS_DB" envDefault:"0"`
	TTL           time.Duration `env:"LOCK_TTL" envDefault:"10s"`
}

// EngineConfig holds the streak rules.
type EngineConfig struct {
	GracePeriod        time.Duration `env:"GRACE_PERIOD" envDefault:"3h"`
	RetroWindowDays    int           `env:"RETRO_WINDOW_DAYS" envDefault:"7"`
	ShieldCap          int           `env:"SHIELD_CAP" envDefault:"5"`
	RecoveryWindowDays int           `env:"RECOVERY_WINDOW_DAYS" envDefault:"7"`
	MaxPauseDays       int           `env:"MAX_PAUSE_DAYS" envDefault:"90"`
}

// CollabConfig addresses the external collaborators. An empty URL selects
// the built-in fallback (permissive health signal, disabled billing).
type CollabConfig struct {
	HealthSignalURL string        `env:"HEALTH_SIGNAL_URL"`
	BillingURL      string        `env:"BILLING_URL"`
	Timeout         time.Duration `env:"COLLAB_TIMEOUT" envDefault:"5s"`
	RetryMax        int           `env:"COLLAB_RETRY_MAX" envDefault:"3"`
}

// JobsConfig controls the background reconciliation jobs.
type JobsConfig struct {
	Enabled        bool          `env:"JOBS_ENABLED" envDefault:"false"`
	DailyAt        string        `env:"DAILY_JOB_AT" envDefault:"00:15"` // HH:MM UTC
	ExpiryInterval time.Duration `env:"EXPIRY_JOB_INTERVAL" envDefault:"1h"`
	BatchSize      int           `env:"JOB_BATCH_SIZE" envDefault:"200"`
	CronSecret     string        `env:"CRON_SECRET"`
}

// Config holds all configuration values for the application.
type Config struct {
	// Server
	Port              string        `env:"PORT" envDefault:"8080"`
	ReadTimeout       time.Duration `env:"READ_TIMEOUT" envDefault:"15s"`
	ReadHeaderTimeout time.Duration `env:"READ_HEADER_TIMEOUT" envDefault:"10s"`
	WriteTimeout      time.Duration `env:"WRITE_TIMEOUT" envDefault:"20s"`
	IdleTimeout       time.Duration `env:"IDLE_TIMEOUT" envDefault:"60s"`
	MaxHeaderBytes    int           `env:"MAX_HEADER_BYTES" envDefault:"1048576"`
	GinMode           string        `env:"GIN_MODE" envDefault:"release"` // debug|release|test

	// Logging / Docs
	LogLevel       string `env:"LOG_LEVEL" envDefault:"info"` // debug|info|warn|error|fatal|panic
	LogPretty      bool   `env:"LOG_PRETTY" envDefault:"false"`
	LogFile        string `env:"LOG_FILE"` // optional rolling file sink
	LogMaxSizeMB   int    `env:"LOG_MAX_SIZE_MB" envDefault:"100"`
	LogMaxBackups  int    `env:"LOG_MAX_BACKUPS" envDefault:"5"`
	LogMaxAgeDays  int    `env:"LOG_MAX_AGE_DAYS" envDefault:"28"`
	SwaggerEnabled bool   `env:"SWAGGER_ENABLED" envDefault:"false"`
	APIBasePath    string `env:"API_BASE_PATH" envDefault:"/api/v1"`

	Store  StoreConfig
	Lock   LockConfig
	Engine EngineConfig
	Collab CollabConfig
	Jobs   JobsConfig

	// Rate limiting
	RateRPS   float64 `env:"RATE_RPS" envDefault:"5"`
	RateBurst int     `env:"RATE_BURST" envDefault:"10"`

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration `env:"IDEMPOTENCY_TTL" envDefault:"24h"`

	// Observability
	OTEL OTELConfig
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
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("parse env: %w", err)
	}

	// --- normalization ---
	cfg.GinMode = strings.ToLower(strings.TrimSpace(cfg.GinMode))
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "warning" {
		cfg.LogLevel = "warn"
	}
	switch cfg.GinMode {
	case "debug", "release", "test":
	default:
		cfg.GinMode = "release"
	}
	cfg.APIBasePath = normalizeBasePath(cfg.APIBasePath)
	cfg.Store.Driver = strings.ToLower(strings.TrimSpace(cfg.Store.Driver))
	cfg.Lock.Backend = strings.ToLower(strings.TrimSpace(cfg.Lock.Backend))
	cfg.CORS.AllowedOrigins = cleanList(cfg.CORS.AllowedOrigins)
	cfg.Collab.HealthSignalURL = strings.TrimRight(strings.TrimSpace(cfg.Collab.HealthSignalURL), "/")
	cfg.Collab.BillingURL = strings.TrimRight(strings.TrimSpace(cfg.Collab.BillingURL), "/")

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
	switch cfg.Store.Driver {
	case "sqlite":
		if strings.TrimSpace(cfg.Store.Path) == "" {
			return cfg, errors.New("DB_PATH must not be empty")
		}
	case "postgres":
		if strings.TrimSpace(cfg.Store.DatabaseURL) == "" {
			return cfg, errors.New("DATABASE_URL is required when DB_DRIVER=postgres")
		}
	default:
		return cfg, errors.New("DB_DRIVER must be one of: sqlite, postgres")
	}
	switch cfg.Lock.Backend {
	case "local":
	case "redis":
		if strings.TrimSpace(cfg.Lock.RedisAddr) == "" {
			return cfg, errors.New("REDIS_ADDR is required when LOCK_BACKEND=redis")
		}
	default:
		return cfg, errors.New("LOCK_BACKEND must be one of: local, redis")
	}
	if cfg.Lock.TTL <= 0 {
		return cfg, errors.New("LOCK_TTL must be > 0")
	}
	if cfg.Engine.GracePeriod < 0 || cfg.Engine.GracePeriod >= 24*time.Hour {
		return cfg, errors.New("GRACE_PERIOD must be in [0,24h)")
	}
	if cfg.Engine.RetroWindowDays < 0 {
		return cfg, errors.New("RETRO_WINDOW_DAYS must be >= 0")
	}
	if cfg.Engine.ShieldCap < 1 {
		return cfg, errors.New("SHIELD_CAP must be >= 1")
	}
	if cfg.Engine.RecoveryWindowDays < 1 {
		return cfg, errors.New("RECOVERY_WINDOW_DAYS must be >= 1")
	}
	if cfg.Engine.MaxPauseDays < 1 {
		return cfg, errors.New("MAX_PAUSE_DAYS must be >= 1")
	}
	if cfg.Collab.Timeout <= 0 {
		return cfg, errors.New("COLLAB_TIMEOUT must be > 0")
	}
	if cfg.Collab.RetryMax < 0 {
		return cfg, errors.New("COLLAB_RETRY_MAX must be >= 0")
	}
	if _, _, err := ParseClock(cfg.Jobs.DailyAt); err != nil {
		return cfg, errors.New("DAILY_JOB_AT must be HH:MM")
	}
	if cfg.Jobs.ExpiryInterval <= 0 {
		return cfg, errors.New("EXPIRY_JOB_INTERVAL must be > 0")
	}
	if cfg.Jobs.BatchSize < 1 {
		return cfg, errors.New("JOB_BATCH_SIZE must be >= 1")
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
	if cfg.IdempotencyTTL <= 0 {
		return cfg, errors.New("IDEMPOTENCY_TTL must be > 0")
	}
	if cfg.OTEL.SampleRatio < 0 || cfg.OTEL.SampleRatio > 1 {
		return cfg, errors.New("OTEL_TRACES_SAMPLER_ARG must be in [0,1]")
	}

	return cfg, nil
}

// ParseClock parses a 24h "HH:MM" wall-clock time.
func ParseClock(s string) (hour, minute int, err error) {
	h, m, ok := strings.Cut(strings.TrimSpace(s), ":")
	if !ok {
		return 0, 0, fmt.Errorf("invalid clock %q", s)
	}
	hour, err = strconv.Atoi(h)
	if err != nil || hour < 0 || hour > 23 {
		return 0, 0, fmt.Errorf("invalid hour in %q", s)
	}
	minute, err = strconv.Atoi(m)
	if err != nil || minute < 0 || minute > 59 {
		return 0, 0, fmt.Errorf("invalid minute in %q", s)
	}
	return hour, minute, nil
}

func cleanList(in []string) []string {
	if len(in) == 0 {
		return nil
	}
	out := make([]string, 0, len(in))
	for _, p := range in {
		if t := strings.TrimSpace(p); t != "" {
			out = append(out, t)
		}
	}
	if len(out) == 0 {
		return nil
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
