// Package config provides application configuration loaded from environment
// variables (and an optional .env file) with defaults and validation. It
// centralizes application settings such as server timeouts, logging, storage,
// caching, identity, scheduled jobs and observability.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"

	"github.com/tbourn/go-ncr-backend/internal/sysutil"
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
	ServiceName string  // OTEL_SERVICE_NAME (e.g. "go-ncr-backend")
	SampleRatio float64 // OTEL_TRACES_SAMPLER_ARG in [0..1]
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

	// Logging / Docs
	LogLevel       string // debug|info|warn|error|fatal|panic
	LogPretty      bool   // pretty console logs in dev
	SwaggerEnabled bool   // enable Swagger UI route
	APIBasePath    string // base path for API routes

	// Storage
	DBDriver    string // sqlite|postgres
	DBPath      string // SQLite path
	DatabaseURL string // Postgres DSN, required when DBDriver is postgres

	// Catalogs
	DepartmentsFile string // optional YAML override of the embedded department catalog
	DefectsFile     string // optional list of defect names offered as suggestions

	// Caching / events
	CacheTTL     time.Duration // lifetime of cached ticket reads
	RedisAddr    string        // host:port; empty keeps cache and events in process
	RedisChannel string        // Pub/Sub channel for status changes

	// Identity
	JWTSecret string // HS256 secret; empty trusts X-User-* headers

	// Scheduled jobs
	StaleAfter           time.Duration // open tickets untouched this long count as stale
	CronStaleScan        string        // cron spec of the stale-ticket scan
	CronIdempotencyPurge string        // cron spec of the idempotency purge

	// Rate limiting (reads and workflow writes draw from separate buckets)
	RateRPS        float64 // read tokens per second (>= 0)
	RateBurst      int     // read bucket size (>= 1)
	RateWriteRPS   float64 // write tokens per second (>= 0)
	RateWriteBurst int     // write bucket size (>= 1)

	// Web protection
	CORS     CORSConfig
	Security SecurityConfig

	// Idempotency
	IdempotencyTTL time.Duration // how long a given Idempotency-Key is valid

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
	// A missing .env is fine; real environment variables always win.
	_ = godotenv.Load(getenv("ENV_FILE", ".env"))

	cfg := Config{
		// Server
		Port:              getenv("PORT", "8080"),
		ReadTimeout:       getdur("READ_TIMEOUT", 15*time.Second),
		ReadHeaderTimeout: getdur("READ_HEADER_TIMEOUT", 10*time.Second),
		WriteTimeout:      getdur("WRITE_TIMEOUT", 20*time.Second),
		IdleTimeout:       getdur("IDLE_TIMEOUT", 60*time.Second),
		MaxHeaderBytes:    getint("MAX_HEADER_BYTES", 1<<20),
		GinMode:           strings.ToLower(getenv("GIN_MODE", "release")),

		// Logging / Docs
		LogLevel:       strings.ToLower(getenv("LOG_LEVEL", "info")),
		LogPretty:      getbool("LOG_PRETTY", false),
		SwaggerEnabled: getbool("SWAGGER_ENABLED", false),
		APIBasePath:    normalizeBasePath(getenv("API_BASE_PATH", "/api/v1")),

		// Storage
		DBDriver:    strings.ToLower(getenv("DB_DRIVER", "sqlite")),
		DBPath:      getenv("DB_PATH", "ncr.db"),
		DatabaseURL: getenv("DATABASE_URL", ""),

		// Catalogs
		DepartmentsFile: getenv("DEPARTMENTS_FILE", ""),
		DefectsFile:     getenv("DEFECTS_FILE", ""),

		// Caching / events
		CacheTTL:     getdur("CACHE_TTL", 10*time.Minute),
		RedisAddr:    getenv("REDIS_ADDR", ""),
		RedisChannel: getenv("REDIS_CHANNEL", "ncr-events"),

		// Identity
		JWTSecret: getenv("JWT_SECRET", ""),

		// Scheduled jobs
		StaleAfter:           getdur("STALE_AFTER", 24*time.Hour),
		CronStaleScan:        getenv("CRON_STALE_SCAN", "*/15 * * * *"),
		CronIdempotencyPurge: getenv("CRON_IDEMPOTENCY_PURGE", "@hourly"),

		// Rate limiting
		RateRPS:        getfloat("RATE_RPS", 5.0),
		RateBurst:      getint("RATE_BURST", 10),
		RateWriteRPS:   getfloat("RATE_WRITE_RPS", 1.0),
		RateWriteBurst: getint("RATE_WRITE_BURST", 5),

		// Web protection
		CORS: CORSConfig{
			AllowedOrigins: splitCSV(getenv("CORS_ALLOWED_ORIGINS", "")),
		},
		Security: SecurityConfig{
			EnableHSTS: getbool("ENABLE_HSTS", false),
			HSTSMaxAge: getdur("HSTS_MAX_AGE", 180*24*time.Hour),
		},

		// Idempotency
		IdempotencyTTL: getdur("IDEMPOTENCY_TTL", 24*time.Hour),

		// Observability (OpenTelemetry)
		OTEL: OTELConfig{
			Enabled:     getbool("OTEL_ENABLED", false),
			Endpoint:    getenv("OTEL_EXPORTER_OTLP_ENDPOINT", "localhost:4317"),
			Insecure:    getbool("OTEL_EXPORTER_OTLP_INSECURE", true),
			ServiceName: getenv("OTEL_SERVICE_NAME", "go-ncr-backend"),
			SampleRatio: getfloat("OTEL_TRACES_SAMPLER_ARG", 1.0),
		},
	}

	cfg.normalize()
	return cfg, cfg.validate()
}

func (c *Config) normalize() {
	if c.LogLevel == "warning" {
		c.LogLevel = "warn"
	}
	switch c.GinMode {
	case "debug", "release", "test":
	default:
		c.GinMode = "release"
	}
}

// rule is one validation check; msg is returned when ok is false.
type rule struct {
	ok  bool
	msg string
}

func (c Config) validate() error {
	var logLevelOK bool
	switch c.LogLevel {
	case "debug", "info", "warn", "error", "fatal", "panic":
		logLevelOK = true
	}
	var storeOK bool
	storeMsg := "DB_DRIVER must be one of: sqlite, postgres"
	switch c.DBDriver {
	case "sqlite":
		storeOK, storeMsg = strings.TrimSpace(c.DBPath) != "", "DB_PATH must not be empty"
	case "postgres":
		storeOK, storeMsg = strings.TrimSpace(c.DatabaseURL) != "", "DATABASE_URL is required when DB_DRIVER=postgres"
	}

	rules := []rule{
		{logLevelOK, "LOG_LEVEL must be one of: debug, info, warn, error, fatal, panic"},
		{strings.TrimSpace(c.Port) != "", "PORT must not be empty"},
		{c.ReadTimeout > 0 && c.ReadHeaderTimeout > 0 && c.WriteTimeout > 0 && c.IdleTimeout > 0, "timeouts must be positive durations"},
		{c.MaxHeaderBytes > 0, "MAX_HEADER_BYTES must be > 0"},
		{storeOK, storeMsg},
		{c.CacheTTL > 0, "CACHE_TTL must be > 0"},
		{c.StaleAfter > 0, "STALE_AFTER must be > 0"},
	}
	for _, r := range rules {
		if !r.ok {
			return errors.New(r.msg)
		}
	}

	for _, job := range []struct{ env, spec string }{
		{"CRON_STALE_SCAN", c.CronStaleScan},
		{"CRON_IDEMPOTENCY_PURGE", c.CronIdempotencyPurge},
	} {
		if _, err := cron.ParseStandard(job.spec); err != nil {
			return fmt.Errorf("%s: %w", job.env, err)
		}
	}

	rules = []rule{
		{c.RateRPS >= 0, "RATE_RPS must be >= 0"},
		{c.RateBurst >= 1, "RATE_BURST must be >= 1"},
		{c.RateWriteRPS >= 0, "RATE_WRITE_RPS must be >= 0"},
		{c.RateWriteBurst >= 1, "RATE_WRITE_BURST must be >= 1"},
		{c.Security.HSTSMaxAge >= 0, "HSTS_MAX_AGE must be >= 0"},
		{c.IdempotencyTTL > 0, "IDEMPOTENCY_TTL must be > 0"},
		{c.OTEL.SampleRatio >= 0 && c.OTEL.SampleRatio <= 1, "OTEL_TRACES_SAMPLER_ARG must be in [0,1]"},
	}
	for _, r := range rules {
		if !r.ok {
			return errors.New(r.msg)
		}
	}
	return nil
}

// ---- helpers ----

// lookup returns the value of k when it is set and non-empty.
func lookup(k string) (string, bool) {
	v, ok := os.LookupEnv(k)
	return v, ok && v != ""
}

// parsed reads k with parse, falling back to def when k is unset or parse
// fails.
func parsed[T any](k string, def T, parse func(string) (T, error)) T {
	if v, ok := lookup(k); ok {
		if out, err := parse(v); err == nil {
			return out
		}
	}
	return def
}

func getenv(k, def string) string {
	if v, ok := lookup(k); ok {
		return v
	}
	return def
}

func getfloat(k string, def float64) float64 {
	return parsed(k, def, func(v string) (float64, error) { return strconv.ParseFloat(v, 64) })
}

func getint(k string, def int) int { return parsed(k, def, strconv.Atoi) }

func getdur(k string, def time.Duration) time.Duration { return parsed(k, def, time.ParseDuration) }

func getbool(k string, def bool) bool {
	return parsed(k, def, func(v string) (bool, error) {
		if b, ok := sysutil.ParseBool(v); ok {
			return b, nil
		}
		return false, errors.New("not a boolean")
	})
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	var out []string
	for _, p := range strings.Split(s, ",") {
		if t := strings.TrimSpace(p); t != "" {
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
