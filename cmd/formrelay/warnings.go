package main

import (
	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/config"
)

// logConfigWarnings reports configurations that start fine but lose data or
// leave channels unavailable.
func logConfigWarnings(log *zap.Logger, cfg *config.Config) {
	if cfg.StoreBackend == "memory" {
		log.Warn("formrelay: STORE_BACKEND=memory, integration configs are lost on restart",
			zap.String("priority", "P0"))
	}
	if cfg.EventLogBackend == "memory" {
		log.Warn("formrelay: EVENTLOG_BACKEND=memory, event history is lost on restart",
			zap.String("priority", "P1"))
	}
	if !cfg.MetricsEnabled {
		log.Warn("formrelay: METRICS_ENABLED=false, channel failures are only visible in logs",
			zap.String("priority", "P1"))
	}
	if cfg.SMTPHost == "" {
		log.Warn("formrelay: SMTP_HOST not set, email integrations will record delivery errors")
	}
	if cfg.RecordStoreDSN == "" {
		log.Warn("formrelay: RECORD_STORE_DSN not set, record-store integrations will record delivery errors")
	}
	if cfg.SheetsCredentialsFile == "" {
		log.Warn("formrelay: SHEETS_CREDENTIALS_FILE not set, spreadsheet-sink integrations will record delivery errors")
	}
	if cfg.DispatchMode == "async" {
		log.Info("formrelay: DISPATCH_MODE=async, queued submissions are lost if the process crashes",
			zap.Int("buffer", cfg.EventBusBufferSize))
	}
}
