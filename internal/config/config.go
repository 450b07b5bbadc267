package config

import (
	"encoding/json"
	"errors"
	"io/fs"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all configuration for the formrelay service.
// Values are loaded from environment variables; see printUsage() for the full list.
type Config struct {
	Environment string `json:"service_environment"`
	HTTPAddr    string `json:"http_addr"`

	// StoreBackend: "memory" or "postgres".
	StoreBackend string `json:"store_backend"`
	// EventLogBackend: "memory", "redis" or "postgres".
	EventLogBackend string `json:"eventlog_backend"`

	DatabaseURL string `json:"database_url"`
	RedisAddr   string `json:"redis_addr,omitempty"`

	DBOpTimeout    time.Duration `json:"-"`
	DBOpTimeoutStr string        `json:"db_op_timeout"`
	DBMaxOpenConns int           `json:"db_max_open_conns"`
	DBMaxIdleConns int           `json:"db_max_idle_conns"`

	// DispatchMode: "sync" (dispatch inside the request) or "async" (in-memory bus).
	DispatchMode       string        `json:"dispatch_mode"`
	DispatchWorkers    int           `json:"dispatch_workers"`
	ChannelTimeout     time.Duration `json:"-"`
	ChannelTimeoutStr  string        `json:"channel_timeout"`
	EventBusBufferSize int           `json:"eventbus_buffer_size"`

	HTTPShutdownTimeout       time.Duration `json:"-"`
	HTTPShutdownTimeoutStr    string        `json:"http_shutdown_timeout"`
	DispatcherDrainTimeout    time.Duration `json:"-"`
	DispatcherDrainTimeoutStr string        `json:"dispatcher_drain_timeout"`

	// RetryMaxAttempts: 0 or 1 disables the retry decorator.
	RetryMaxAttempts     int           `json:"retry_max_attempts"`
	RetryInitialDelay    time.Duration `json:"-"`
	RetryInitialDelayStr string        `json:"retry_initial_delay"`

	// CircuitBreakerThreshold: 0 disables the circuit breaker.
	CircuitBreakerThreshold   int           `json:"circuit_breaker_threshold"`
	CircuitBreakerCooldown    time.Duration `json:"-"`
	CircuitBreakerCooldownStr string        `json:"circuit_breaker_cooldown"`

	SMTPHost     string `json:"smtp_host,omitempty"`
	SMTPPort     int    `json:"smtp_port"`
	SMTPUsername string `json:"smtp_username,omitempty"`
	SMTPPassword string `json:"smtp_password,omitempty"`
	SMTPFrom     string `json:"smtp_from,omitempty"`

	RecordStoreDSN        string `json:"record_store_dsn,omitempty"`
	SheetsCredentialsFile string `json:"sheets_credentials_file,omitempty"`

	MetricsEnabled bool   `json:"metrics_enabled"`
	MetricsPath    string `json:"metrics_path"`
	// MetricsPort serves metrics on a separate listener when set.
	MetricsPort string `json:"metrics_port,omitempty"`

	// ReportSchedule is a cron spec; empty disables the reliability reporter.
	ReportSchedule string `json:"report_schedule"`
}

// LoadDotEnv loads variables from the given files (default ".env") without
// overriding ones already set. Missing files are ignored.
func LoadDotEnv(files ...string) error {
	if len(files) == 0 {
		files = []string{".env"}
	}
	for _, f := range files {
		if err := godotenv.Load(f); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return err
		}
	}
	return nil
}

// Load reads configuration from environment variables with defaults.
func Load() Config {
	cfg := Config{
		Environment:               os.Getenv("SERVICE_ENVIRONMENT"),
		HTTPAddr:                  os.Getenv("HTTP_ADDR"),
		StoreBackend:              os.Getenv("STORE_BACKEND"),
		EventLogBackend:           os.Getenv("EVENTLOG_BACKEND"),
		DatabaseURL:               os.Getenv("DATABASE_URL"),
		RedisAddr:                 os.Getenv("REDIS_ADDR"),
		DBOpTimeoutStr:            os.Getenv("DB_OP_TIMEOUT"),
		DispatchMode:              os.Getenv("DISPATCH_MODE"),
		ChannelTimeoutStr:         os.Getenv("CHANNEL_TIMEOUT"),
		HTTPShutdownTimeoutStr:    os.Getenv("HTTP_SHUTDOWN_TIMEOUT"),
		DispatcherDrainTimeoutStr: os.Getenv("DISPATCHER_DRAIN_TIMEOUT"),
		RetryInitialDelayStr:      os.Getenv("RETRY_INITIAL_DELAY"),
		CircuitBreakerCooldownStr: os.Getenv("CIRCUIT_BREAKER_COOLDOWN"),
		SMTPHost:                  os.Getenv("SMTP_HOST"),
		SMTPUsername:              os.Getenv("SMTP_USERNAME"),
		SMTPPassword:              os.Getenv("SMTP_PASSWORD"),
		SMTPFrom:                  os.Getenv("SMTP_FROM"),
		RecordStoreDSN:            os.Getenv("RECORD_STORE_DSN"),
		SheetsCredentialsFile:     os.Getenv("SHEETS_CREDENTIALS_FILE"),
		MetricsEnabled:            os.Getenv("METRICS_ENABLED") == "true",
		MetricsPath:               os.Getenv("METRICS_PATH"),
		MetricsPort:               os.Getenv("METRICS_PORT"),
	}

	cfg.DispatchWorkers = intFromEnv("DISPATCH_WORKERS", 4, true)
	cfg.EventBusBufferSize = intFromEnv("EVENTBUS_BUFFER_SIZE", 100, true)
	cfg.DBMaxOpenConns = intFromEnv("DB_MAX_OPEN_CONNS", 25, true)
	cfg.DBMaxIdleConns = intFromEnv("DB_MAX_IDLE_CONNS", 5, true)
	cfg.SMTPPort = intFromEnv("SMTP_PORT", 587, true)
	cfg.RetryMaxAttempts = intFromEnv("RETRY_MAX_ATTEMPTS", 0, false)
	cfg.CircuitBreakerThreshold = intFromEnv("CIRCUIT_BREAKER_THRESHOLD", 0, false)

	if schedule, ok := os.LookupEnv("REPORT_SCHEDULE"); ok {
		cfg.ReportSchedule = schedule
	} else {
		cfg.ReportSchedule = "@every 5m"
	}

	// Support the platform PORT variable as fallback for HTTP_ADDR.
	if cfg.HTTPAddr == "" {
		if port := os.Getenv("PORT"); port != "" {
			cfg.HTTPAddr = ":" + port
		} else {
			cfg.HTTPAddr = ":8080"
		}
	}
	if cfg.Environment == "" {
		cfg.Environment = "development"
	}
	if cfg.StoreBackend == "" {
		cfg.StoreBackend = "memory"
	}
	if cfg.EventLogBackend == "" {
		cfg.EventLogBackend = cfg.StoreBackend
	}
	if cfg.DispatchMode == "" {
		cfg.DispatchMode = "sync"
	}
	if cfg.DBOpTimeoutStr == "" {
		cfg.DBOpTimeoutStr = "5s"
	}
	if cfg.ChannelTimeoutStr == "" {
		cfg.ChannelTimeoutStr = "10s"
	}
	if cfg.HTTPShutdownTimeoutStr == "" {
		cfg.HTTPShutdownTimeoutStr = "10s"
	}
	if cfg.DispatcherDrainTimeoutStr == "" {
		cfg.DispatcherDrainTimeoutStr = "30s"
	}
	if cfg.RetryInitialDelayStr == "" {
		cfg.RetryInitialDelayStr = "200ms"
	}
	if cfg.CircuitBreakerCooldownStr == "" {
		cfg.CircuitBreakerCooldownStr = "2m"
	}
	if cfg.MetricsPath == "" {
		cfg.MetricsPath = "/metrics"
	}

	// Parse durations; validation is handled separately by Validate().
	if d, err := time.ParseDuration(cfg.DBOpTimeoutStr); err == nil {
		cfg.DBOpTimeout = d
	}
	if d, err := time.ParseDuration(cfg.ChannelTimeoutStr); err == nil {
		cfg.ChannelTimeout = d
	}
	if d, err := time.ParseDuration(cfg.HTTPShutdownTimeoutStr); err == nil {
		cfg.HTTPShutdownTimeout = d
	}
	if d, err := time.ParseDuration(cfg.DispatcherDrainTimeoutStr); err == nil {
		cfg.DispatcherDrainTimeout = d
	}
	if d, err := time.ParseDuration(cfg.RetryInitialDelayStr); err == nil {
		cfg.RetryInitialDelay = d
	}
	if d, err := time.ParseDuration(cfg.CircuitBreakerCooldownStr); err == nil {
		cfg.CircuitBreakerCooldown = d
	}

	return cfg
}

// intFromEnv reads a non-negative integer. positive rejects zero as well.
func intFromEnv(key string, def int, positive bool) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	n, err := parseInt(raw)
	if err != nil || (positive && n == 0) {
		log.Printf("config: invalid %s %q, using default %d", key, raw, def)
		return def
	}
	return n
}

// parseInt parses a string as a non-negative integer.
func parseInt(s string) (int, error) {
	if s == "" {
		return 0, os.ErrInvalid
	}
	var n int
	for _, c := range s {
		if c < '0' || c > '9' {
			return 0, os.ErrInvalid
		}
		n = n*10 + int(c-'0')
	}
	return n, nil
}

// MaskedJSON returns the configuration as JSON with secrets masked.
func (c Config) MaskedJSON() ([]byte, error) {
	masked := c
	masked.DatabaseURL = maskSecret(c.DatabaseURL)
	masked.RecordStoreDSN = maskSecret(c.RecordStoreDSN)
	masked.SMTPPassword = maskSecret(c.SMTPPassword)
	return json.MarshalIndent(masked, "", "  ")
}

// maskSecret masks a secret value, preserving only the URI scheme if present.
func maskSecret(s string) string {
	if s == "" {
		return ""
	}
	for _, scheme := range []string{"postgres://", "postgresql://"} {
		if len(s) >= len(scheme) && s[:len(scheme)] == scheme {
			return scheme + "***"
		}
	}
	return "***"
}
