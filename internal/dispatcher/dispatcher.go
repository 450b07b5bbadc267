package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/felixgeelhaar/fortify/timeout"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/djlord-it/formrelay/internal/channel"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/logger"
)

const (
	DefaultWorkers        = 4
	DefaultChannelTimeout = 10 * time.Second
	// DrainTimeout is the default time allowed for buffered submissions during shutdown.
	DrainTimeout = 30 * time.Second
)

// ConfigStore yields the enabled integrations of a form in channel order.
type ConfigStore interface {
	ListEnabled(ctx context.Context, formID string) ([]domain.IntegrationConfig, error)
}

// EventRecorder appends one outcome to an integration's history.
type EventRecorder interface {
	Append(ctx context.Context, integrationID string, outcome domain.EventType, submissionID, errMsg string) (domain.IntegrationEvent, error)
}

// Executors resolves the executor for a channel type.
type Executors interface {
	Lookup(t domain.ChannelType) (channel.Executor, bool)
}

// Breaker guards individual integrations. Keys are integration IDs.
type Breaker interface {
	Allow(integrationID string) error
	RecordSuccess(integrationID string)
	RecordFailure(integrationID string)
}

// MetricsSink defines the interface for recording dispatcher metrics.
// All methods must be non-blocking and fire-and-forget.
type MetricsSink interface {
	DispatchCompleted(duration time.Duration, attempted int)
	ChannelAttemptCompleted(channel, outcome string, duration time.Duration)
	ChannelSkipped(channel string)
	EventRecordFailed()
	SubmissionsInFlightIncr()
	SubmissionsInFlightDecr()
}

// OutcomeClassifier maps an executor result to a metrics label.
type OutcomeClassifier func(err error) string

// Result summarizes one Dispatch call. Attempted == Succeeded + Failed.
type Result struct {
	Attempted int `json:"attempted"`
	Succeeded int `json:"succeeded"`
	Failed    int `json:"failed"`
	// Skipped counts enabled integrations without a registered executor.
	Skipped int `json:"skipped"`
	// Canceled counts integrations never started because ctx was done.
	Canceled int `json:"canceled"`
}

type Dispatcher struct {
	store     ConfigStore
	events    EventRecorder
	executors Executors

	breaker  Breaker     // optional, nil = disabled
	metrics  MetricsSink // optional, nil = disabled
	classify OutcomeClassifier
	logger   *zap.Logger

	workers      int
	timeout      time.Duration
	drainTimeout time.Duration
}

func New(store ConfigStore, events EventRecorder, executors Executors) *Dispatcher {
	return &Dispatcher{
		store:        store,
		events:       events,
		executors:    executors,
		logger:       zap.NewNop(),
		classify:     defaultClassify,
		workers:      DefaultWorkers,
		timeout:      DefaultChannelTimeout,
		drainTimeout: DrainTimeout,
	}
}

// WithWorkers bounds how many channels of one submission run at once.
func (d *Dispatcher) WithWorkers(n int) *Dispatcher {
	if n > 0 {
		d.workers = n
	}
	return d
}

// WithChannelTimeout sets the per-call deadline. Zero disables it.
func (d *Dispatcher) WithChannelTimeout(t time.Duration) *Dispatcher {
	d.timeout = t
	return d
}

func (d *Dispatcher) WithDrainTimeout(t time.Duration) *Dispatcher {
	d.drainTimeout = t
	return d
}

func (d *Dispatcher) WithCircuitBreaker(b Breaker) *Dispatcher {
	d.breaker = b
	return d
}

// WithMetrics attaches a metrics sink to the dispatcher.
func (d *Dispatcher) WithMetrics(sink MetricsSink, classify OutcomeClassifier) *Dispatcher {
	d.metrics = sink
	if classify != nil {
		d.classify = classify
	}
	return d
}

func (d *Dispatcher) WithLogger(l *zap.Logger) *Dispatcher {
	d.logger = logger.OrNop(l)
	return d
}

// Run dispatches submissions from ch until ctx is cancelled or ch is closed.
// After cancellation, it drains remaining buffered submissions with a timeout.
func (d *Dispatcher) Run(ctx context.Context, ch <-chan domain.Submission) {
	for {
		select {
		case <-ctx.Done():
			d.drain(ch)
			return
		case sub, ok := <-ch:
			if !ok {
				return
			}
			// select may pick ch after cancellation; such a submission
			// belongs to the drain, not to the dead run context.
			if ctx.Err() != nil {
				d.drain(ch, sub)
				return
			}
			if _, err := d.Dispatch(ctx, sub); err != nil {
				d.logger.Error("dispatcher: dispatch failed",
					zap.String("form_id", sub.FormID),
					zap.String("submission_id", sub.SubmissionID),
					zap.Error(err))
			}
		}
	}
}

// drain processes pending and then the submissions still buffered after the
// shutdown signal. Uses a fresh context since the run context is already
// cancelled.
func (d *Dispatcher) drain(ch <-chan domain.Submission, pending ...domain.Submission) {
	drainCtx, cancel := context.WithTimeout(context.Background(), d.drainTimeout)
	defer cancel()

	count := 0
	dispatch := func(sub domain.Submission) {
		if _, err := d.Dispatch(drainCtx, sub); err != nil {
			d.logger.Error("dispatcher: drain error",
				zap.String("submission_id", sub.SubmissionID),
				zap.Error(err))
		}
		count++
	}

	for _, sub := range pending {
		dispatch(sub)
	}

	for {
		select {
		case <-drainCtx.Done():
			if count > 0 {
				d.logger.Warn("dispatcher: drain timeout", zap.Int("processed", count))
			}
			return
		case sub, ok := <-ch:
			if !ok {
				d.logger.Info("dispatcher: drain complete", zap.Int("processed", count))
				return
			}
			dispatch(sub)
		default:
			if count > 0 {
				d.logger.Info("dispatcher: drain complete", zap.Int("processed", count))
			}
			return
		}
	}
}

// Dispatch fans sub out to every enabled integration of its form and returns
// once all of them settled. Channel failures become error events and never
// fail the call; only a configuration store failure does.
func (d *Dispatcher) Dispatch(ctx context.Context, sub domain.Submission) (Result, error) {
	start := time.Now()
	if d.metrics != nil {
		d.metrics.SubmissionsInFlightIncr()
		defer d.metrics.SubmissionsInFlightDecr()
	}

	configs, err := d.store.ListEnabled(ctx, sub.FormID)
	if err != nil {
		return Result{}, fmt.Errorf("list enabled integrations: %w", err)
	}
	if len(configs) == 0 {
		d.logger.Info("dispatcher: no enabled integrations",
			zap.String("form_id", sub.FormID),
			zap.String("submission_id", sub.SubmissionID))
		return Result{}, nil
	}

	var (
		mu  sync.Mutex
		res Result
		g   errgroup.Group
	)
	g.SetLimit(d.workers)

	for _, cfg := range configs {
		exec, ok := d.executors.Lookup(cfg.Type)
		if !ok {
			d.logger.Debug("dispatcher: unregistered channel, skipping",
				zap.String("integration_id", cfg.ID),
				zap.String("channel", string(cfg.Type)))
			if d.metrics != nil {
				d.metrics.ChannelSkipped(string(cfg.Type))
			}
			mu.Lock()
			res.Skipped++
			mu.Unlock()
			continue
		}

		g.Go(func() error {
			if ctx.Err() != nil {
				mu.Lock()
				res.Canceled++
				mu.Unlock()
				return nil
			}

			err := d.execute(ctx, cfg, exec, sub)
			d.record(ctx, cfg, sub, err)

			mu.Lock()
			defer mu.Unlock()
			res.Attempted++
			if err != nil {
				res.Failed++
			} else {
				res.Succeeded++
			}
			return nil
		})
	}
	_ = g.Wait()

	if d.metrics != nil {
		d.metrics.DispatchCompleted(time.Since(start), res.Attempted)
	}
	d.logger.Info("dispatcher: submission settled",
		zap.String("form_id", sub.FormID),
		zap.String("submission_id", sub.SubmissionID),
		zap.Int("succeeded", res.Succeeded),
		zap.Int("failed", res.Failed),
		zap.Int("skipped", res.Skipped),
		zap.Int("canceled", res.Canceled))

	return res, nil
}

// execute runs one integration behind the breaker and the per-call timeout.
func (d *Dispatcher) execute(ctx context.Context, cfg domain.IntegrationConfig, exec channel.Executor, sub domain.Submission) error {
	if d.breaker != nil {
		if err := d.breaker.Allow(cfg.ID); err != nil {
			return domain.NewChannelError(cfg.Type, domain.KindCircuitOpen, err)
		}
	}

	start := time.Now()
	err := d.call(ctx, cfg, exec, sub)
	elapsed := time.Since(start)

	if err != nil && d.timeout > 0 && elapsed >= d.timeout && ctx.Err() == nil {
		var ce *domain.ChannelError
		if !errors.As(err, &ce) || ce.Kind != domain.KindTimeout {
			err = domain.NewChannelError(cfg.Type, domain.KindTimeout, fmt.Errorf("exceeded %s: %w", d.timeout, err))
		}
	}
	err = asChannelError(cfg.Type, err)

	if d.metrics != nil {
		d.metrics.ChannelAttemptCompleted(string(cfg.Type), d.classify(err), elapsed)
	}
	if d.breaker != nil {
		if err != nil {
			d.breaker.RecordFailure(cfg.ID)
		} else {
			d.breaker.RecordSuccess(cfg.ID)
		}
	}
	return err
}

func (d *Dispatcher) call(ctx context.Context, cfg domain.IntegrationConfig, exec channel.Executor, sub domain.Submission) error {
	invoke := func(ctx context.Context) (_ struct{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				err = domain.NewChannelError(cfg.Type, domain.KindPanic, fmt.Errorf("%v", r))
			}
		}()
		return struct{}{}, exec.Execute(ctx, cfg.Settings, sub)
	}

	if d.timeout <= 0 {
		_, err := invoke(ctx)
		return err
	}
	t := timeout.New[struct{}](timeout.Config{DefaultTimeout: d.timeout})
	_, err := t.Execute(ctx, d.timeout, invoke)
	return err
}

// record writes the outcome with a context that outlives cancellation, so a
// settled channel always leaves its event behind.
func (d *Dispatcher) record(ctx context.Context, cfg domain.IntegrationConfig, sub domain.Submission, execErr error) {
	outcome, msg := domain.EventSuccess, ""
	if execErr != nil {
		outcome, msg = domain.EventError, execErr.Error()
		d.logger.Warn("dispatcher: channel failed",
			zap.String("integration_id", cfg.ID),
			zap.String("channel", string(cfg.Type)),
			zap.String("submission_id", sub.SubmissionID),
			zap.Error(execErr))
	} else {
		d.logger.Debug("dispatcher: channel delivered",
			zap.String("integration_id", cfg.ID),
			zap.String("channel", string(cfg.Type)),
			zap.String("submission_id", sub.SubmissionID))
	}

	if _, err := d.events.Append(context.WithoutCancel(ctx), cfg.ID, outcome, sub.SubmissionID, msg); err != nil {
		d.logger.Error("dispatcher: failed to record event",
			zap.String("integration_id", cfg.ID),
			zap.Error(err))
		if d.metrics != nil {
			d.metrics.EventRecordFailed()
		}
	}
}

// asChannelError normalizes any executor failure into a ChannelError.
func asChannelError(t domain.ChannelType, err error) error {
	if err == nil {
		return nil
	}
	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.NewChannelError(t, domain.KindTimeout, err)
	}
	return domain.NewChannelError(t, domain.KindDeliveryFailed, err)
}

func defaultClassify(err error) string {
	if err == nil {
		return string(domain.EventSuccess)
	}
	return string(domain.EventError)
}
