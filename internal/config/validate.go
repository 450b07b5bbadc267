package config

import (
	"fmt"
	"time"

	"github.com/djlord-it/formrelay/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors
	add := func(field, msg string) {
		errs = append(errs, ValidationError{Field: field, Message: msg})
	}

	if !oneOf(cfg.StoreBackend, "memory", "postgres") {
		add("STORE_BACKEND", fmt.Sprintf("must be 'memory' or 'postgres', got %q", cfg.StoreBackend))
	}
	if !oneOf(cfg.EventLogBackend, "memory", "redis", "postgres") {
		add("EVENTLOG_BACKEND", fmt.Sprintf("must be 'memory', 'redis' or 'postgres', got %q", cfg.EventLogBackend))
	}

	// DATABASE_URL is required by either postgres backend
	if (cfg.StoreBackend == "postgres" || cfg.EventLogBackend == "postgres") && cfg.DatabaseURL == "" {
		add("DATABASE_URL", "required when a postgres backend is selected")
	}
	if cfg.EventLogBackend == "redis" && cfg.RedisAddr == "" {
		add("REDIS_ADDR", "required when EVENTLOG_BACKEND=redis")
	}

	if !oneOf(cfg.DispatchMode, "sync", "async") {
		add("DISPATCH_MODE", fmt.Sprintf("must be 'sync' or 'async', got %q", cfg.DispatchMode))
	}

	checkDuration := func(field, raw string, allowZero bool) {
		if raw == "" {
			return
		}
		d, err := time.ParseDuration(raw)
		switch {
		case err != nil:
			add(field, fmt.Sprintf("invalid duration: %v", err))
		case d < 0 || (d == 0 && !allowZero):
			add(field, "must be positive")
		}
	}
	checkDuration("DB_OP_TIMEOUT", cfg.DBOpTimeoutStr, true)
	checkDuration("CHANNEL_TIMEOUT", cfg.ChannelTimeoutStr, true)
	checkDuration("HTTP_SHUTDOWN_TIMEOUT", cfg.HTTPShutdownTimeoutStr, false)
	checkDuration("DISPATCHER_DRAIN_TIMEOUT", cfg.DispatcherDrainTimeoutStr, false)
	checkDuration("RETRY_INITIAL_DELAY", cfg.RetryInitialDelayStr, true)
	checkDuration("CIRCUIT_BREAKER_COOLDOWN", cfg.CircuitBreakerCooldownStr, false)

	if cfg.ReportSchedule != "" {
		if _, err := cron.NewParser().Parse(cfg.ReportSchedule, "UTC"); err != nil {
			add("REPORT_SCHEDULE", fmt.Sprintf("invalid cron spec: %v", err))
		}
	}

	if (cfg.SMTPUsername != "" || cfg.SMTPFrom != "") && cfg.SMTPHost == "" {
		add("SMTP_HOST", "required when SMTP credentials or sender are set")
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func oneOf(v string, allowed ...string) bool {
	for _, a := range allowed {
		if v == a {
			return true
		}
	}
	return false
}
