// Package reporter periodically summarizes delivery reliability.
//
// On every tick of its schedule the reporter walks the global integration
// index, computes the success rate of each integration from its event log,
// logs one line per integration and publishes the rate as a gauge. The
// reporter only reads; it never touches configurations or events.
package reporter

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/djlord-it/formrelay/internal/cron"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
	"github.com/djlord-it/formrelay/internal/logger"
)

// ConfigLister enumerates every stored integration.
type ConfigLister interface {
	ListAll(ctx context.Context) ([]domain.IntegrationConfig, error)
}

// StatsSource computes the stats of one integration's event log.
type StatsSource interface {
	Stats(ctx context.Context, integrationID string) (eventlog.Stats, error)
}

// MetricsSink receives the computed rates.
type MetricsSink interface {
	SuccessRateUpdate(integrationID, channel string, percent int)
	ReportCompleted(duration time.Duration, integrations int, err error)
}

// Summary is one integration's line in a report.
type Summary struct {
	IntegrationID string             `json:"integrationId"`
	FormID        string             `json:"formId"`
	Type          domain.ChannelType `json:"type"`
	Enabled       bool               `json:"enabled"`
	Stats         eventlog.Stats     `json:"stats"`
}

// Reporter computes reliability summaries on a cron schedule.
type Reporter struct {
	schedule cron.Schedule
	configs  ConfigLister
	stats    StatsSource
	metrics  MetricsSink // optional, nil = disabled
	logger   *zap.Logger
	clock    func() time.Time
}

// New creates a Reporter firing on schedule.
func New(schedule cron.Schedule, configs ConfigLister, stats StatsSource) *Reporter {
	return &Reporter{
		schedule: schedule,
		configs:  configs,
		stats:    stats,
		logger:   zap.NewNop(),
		clock:    time.Now,
	}
}

func (r *Reporter) WithMetrics(sink MetricsSink) *Reporter {
	r.metrics = sink
	return r
}

func (r *Reporter) WithLogger(l *zap.Logger) *Reporter {
	r.logger = logger.OrNop(l)
	return r
}

// Run starts the report loop. It blocks until ctx is cancelled.
func (r *Reporter) Run(ctx context.Context) {
	r.logger.Info("reporter: started")

	for {
		now := r.clock()
		wait := r.schedule.Next(now).Sub(now)
		if wait < 0 {
			wait = 0
		}
		timer := time.NewTimer(wait)

		select {
		case <-ctx.Done():
			timer.Stop()
			r.logger.Info("reporter: stopped")
			return
		case <-timer.C:
			if _, err := r.Report(ctx); err != nil {
				// Will retry next tick.
				r.logger.Error("reporter: cycle failed", zap.Error(err))
			}
		}
	}
}

// Report computes one summary per stored integration.
// Integrations whose stats cannot be read are logged and left out.
func (r *Reporter) Report(ctx context.Context) ([]Summary, error) {
	start := r.clock()

	configs, err := r.configs.ListAll(ctx)
	if err != nil {
		if r.metrics != nil {
			r.metrics.ReportCompleted(r.clock().Sub(start), 0, err)
		}
		return nil, err
	}

	summaries := make([]Summary, 0, len(configs))
	for _, cfg := range configs {
		if ctx.Err() != nil {
			r.logger.Warn("reporter: cycle interrupted",
				zap.Int("processed", len(summaries)),
				zap.Int("total", len(configs)))
			break
		}

		stats, err := r.stats.Stats(ctx, cfg.ID)
		if err != nil {
			r.logger.Error("reporter: failed to read stats",
				zap.String("integration_id", cfg.ID),
				zap.Error(err))
			continue
		}

		summaries = append(summaries, Summary{
			IntegrationID: cfg.ID,
			FormID:        cfg.FormID,
			Type:          cfg.Type,
			Enabled:       cfg.Enabled,
			Stats:         stats,
		})
		r.logger.Info("reporter: integration reliability",
			zap.String("integration_id", cfg.ID),
			zap.String("form_id", cfg.FormID),
			zap.String("channel", string(cfg.Type)),
			zap.Bool("enabled", cfg.Enabled),
			zap.Int("total", stats.Total),
			zap.Int("success_rate_percent", stats.SuccessRatePercent))

		if r.metrics != nil {
			r.metrics.SuccessRateUpdate(cfg.ID, string(cfg.Type), stats.SuccessRatePercent)
		}
	}

	if r.metrics != nil {
		r.metrics.ReportCompleted(r.clock().Sub(start), len(summaries), ctx.Err())
	}
	return summaries, nil
}
