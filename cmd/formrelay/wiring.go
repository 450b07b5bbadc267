package main

import (
	"context"
	"database/sql"
	"fmt"
	"net/http"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/api"
	"github.com/djlord-it/formrelay/internal/channel"
	"github.com/djlord-it/formrelay/internal/config"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
	"github.com/djlord-it/formrelay/internal/store/memory"
	"github.com/djlord-it/formrelay/internal/store/postgres"
	redisstore "github.com/djlord-it/formrelay/internal/store/redis"
)

// backends holds the opened stores and the resources to release on shutdown.
type backends struct {
	configs api.ConfigStore
	events  eventlog.Store
	checks  map[string]api.HealthCheck
	closers []func() error
}

func (b *backends) Close(log *zap.Logger) {
	for i := len(b.closers) - 1; i >= 0; i-- {
		if err := b.closers[i](); err != nil {
			log.Warn("formrelay: close backend", zap.Error(err))
		}
	}
}

func openBackends(ctx context.Context, cfg config.Config, log *zap.Logger) (*backends, error) {
	b := &backends{checks: make(map[string]api.HealthCheck)}

	var pg *postgres.Store
	if cfg.StoreBackend == "postgres" || cfg.EventLogBackend == "postgres" {
		store, closeDB, err := openPostgres(ctx, cfg)
		if err != nil {
			return nil, err
		}
		b.closers = append(b.closers, closeDB)
		b.checks["postgres"] = store.Ping
		pg = store
		log.Info("formrelay: connected to postgres")
	}

	switch cfg.StoreBackend {
	case "postgres":
		b.configs = pg
	default:
		b.configs = memory.NewConfigStore()
	}

	switch cfg.EventLogBackend {
	case "postgres":
		b.events = pg
	case "redis":
		client := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		events := redisstore.NewEventLog(client)
		if err := events.Ping(ctx); err != nil {
			client.Close()
			b.Close(log)
			return nil, fmt.Errorf("connect redis: %w", err)
		}
		b.closers = append(b.closers, client.Close)
		b.checks["redis"] = events.Ping
		b.events = events
		log.Info("formrelay: connected to redis", zap.String("addr", cfg.RedisAddr))
	default:
		b.events = memory.NewEventLog()
	}

	return b, nil
}

func openPostgres(ctx context.Context, cfg config.Config) (*postgres.Store, func() error, error) {
	db, err := sql.Open("postgres", cfg.DatabaseURL)
	if err != nil {
		return nil, nil, fmt.Errorf("open database: %w", err)
	}
	db.SetMaxOpenConns(cfg.DBMaxOpenConns)
	db.SetMaxIdleConns(cfg.DBMaxIdleConns)

	store := postgres.New(db).WithOpTimeout(cfg.DBOpTimeout)
	if err := store.Ping(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("ping database: %w", err)
	}
	if err := store.Migrate(ctx); err != nil {
		db.Close()
		return nil, nil, fmt.Errorf("migrate database: %w", err)
	}
	return store, db.Close, nil
}

// buildRegistry registers an executor for every implemented channel. Channels
// whose credentials are missing get an executor that fails each call, so their
// integrations record error events instead of being skipped.
func buildRegistry(ctx context.Context, cfg config.Config, log *zap.Logger) (*channel.Registry, func(), error) {
	var closers []func() error
	closeAll := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				log.Warn("formrelay: close executor", zap.Error(err))
			}
		}
	}

	// 3xx responses are outcomes, not hops to follow.
	client := &http.Client{
		CheckRedirect: func(*http.Request, []*http.Request) error {
			return http.ErrUseLastResponse
		},
	}
	registry := channel.NewRegistry().
		Register(domain.ChannelWebhook, channel.NewWebhook(client)).
		Register(domain.ChannelChatWebhook, channel.NewChatWebhook(client)).
		Register(domain.ChannelAutomationWebhook, channel.NewAutomationWebhook(client))

	if cfg.SMTPHost != "" {
		transport := channel.NewSMTPTransport(channel.SMTPConfig{
			Host:     cfg.SMTPHost,
			Port:     cfg.SMTPPort,
			Username: cfg.SMTPUsername,
			Password: cfg.SMTPPassword,
			From:     cfg.SMTPFrom,
			Timeout:  cfg.ChannelTimeout,
		})
		registry.Register(domain.ChannelEmail, channel.NewEmail(transport))
	} else {
		registry.Register(domain.ChannelEmail, channel.Unconfigured(domain.ChannelEmail, "smtp"))
	}

	if cfg.RecordStoreDSN != "" {
		db, err := channel.OpenRecordStore(cfg.RecordStoreDSN)
		if err != nil {
			return nil, func() {}, err
		}
		if sqlDB, err := db.DB(); err == nil {
			closers = append(closers, sqlDB.Close)
		}
		registry.Register(domain.ChannelRecordStore, channel.NewRecordStore(channel.NewGormRecordWriter(db)))
	} else {
		registry.Register(domain.ChannelRecordStore, channel.Unconfigured(domain.ChannelRecordStore, "record store"))
	}

	if cfg.SheetsCredentialsFile != "" {
		appender, err := channel.NewSheetsAppender(ctx, cfg.SheetsCredentialsFile)
		if err != nil {
			closeAll()
			return nil, func() {}, err
		}
		registry.Register(domain.ChannelSpreadsheet, channel.NewSpreadsheet(appender))
	} else {
		registry.Register(domain.ChannelSpreadsheet, channel.Unconfigured(domain.ChannelSpreadsheet, "sheets"))
	}

	policy := channel.RetryPolicy{MaxAttempts: cfg.RetryMaxAttempts, InitialDelay: cfg.RetryInitialDelay}
	if policy.Enabled() {
		registry.Wrap(func(_ domain.ChannelType, exec channel.Executor) channel.Executor {
			return channel.WithRetry(exec, policy)
		})
		log.Info("formrelay: channel retries enabled", zap.Int("max_attempts", policy.MaxAttempts))
	}

	return registry, closeAll, nil
}

func channelNames(types []domain.ChannelType) []string {
	names := make([]string, len(types))
	for i, t := range types {
		names[i] = string(t)
	}
	return names
}
