package metrics

import (
	"log"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PrometheusSink implements Sink using Prometheus client library.
// All methods are non-blocking and fire-and-forget.
// Registration errors are logged but never propagated.
type PrometheusSink struct {
	// Dispatcher metrics
	dispatchesTotal      prometheus.Counter
	dispatchDuration     prometheus.Histogram
	channelAttemptsTotal *prometheus.CounterVec
	channelDuration      *prometheus.HistogramVec
	channelSkippedTotal  *prometheus.CounterVec
	eventRecordFailures  prometheus.Counter
	submissionsInFlight  prometheus.Gauge

	// Intake bus metrics
	bufferSize      prometheus.Gauge
	bufferCapacity  prometheus.Gauge
	emitErrorsTotal prometheus.Counter

	// Reporter metrics
	successRate       *prometheus.GaugeVec
	reportsTotal      prometheus.Counter
	reportErrorsTotal prometheus.Counter
	reportDuration    prometheus.Histogram
	reportedTotal     prometheus.Gauge
}

// NewPrometheusSink creates a new Prometheus metrics sink.
// If registration fails, it logs a warning and returns a functional sink.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initDispatcherMetrics(reg)
	s.initBusMetrics(reg)
	s.initReporterMetrics(reg)
	return s
}

func (s *PrometheusSink) initDispatcherMetrics(reg prometheus.Registerer) {
	s.dispatchesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formrelay_dispatcher_submissions_total",
		Help: "Total number of submissions dispatched.",
	})
	s.dispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formrelay_dispatcher_dispatch_duration_seconds",
		Help:    "Time until every enabled channel of a submission settled.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2.5, 5, 10, 30},
	})
	s.channelAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formrelay_dispatcher_channel_attempts_total",
		Help: "Total number of channel executions by channel type and outcome.",
	}, []string{"channel", "outcome"})
	s.channelDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "formrelay_dispatcher_channel_duration_seconds",
		Help:    "Channel execution latency in seconds.",
		Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10},
	}, []string{"channel"})
	s.channelSkippedTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "formrelay_dispatcher_channel_skipped_total",
		Help: "Enabled integrations skipped because no executor is registered.",
	}, []string{"channel"})
	s.eventRecordFailures = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formrelay_dispatcher_event_record_failures_total",
		Help: "Outcomes that could not be written to the event log.",
	})
	s.submissionsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formrelay_dispatcher_submissions_in_flight",
		Help: "Number of submissions currently being dispatched.",
	})

	s.register(reg, s.dispatchesTotal, "formrelay_dispatcher_submissions_total")
	s.register(reg, s.dispatchDuration, "formrelay_dispatcher_dispatch_duration_seconds")
	s.register(reg, s.channelAttemptsTotal, "formrelay_dispatcher_channel_attempts_total")
	s.register(reg, s.channelDuration, "formrelay_dispatcher_channel_duration_seconds")
	s.register(reg, s.channelSkippedTotal, "formrelay_dispatcher_channel_skipped_total")
	s.register(reg, s.eventRecordFailures, "formrelay_dispatcher_event_record_failures_total")
	s.register(reg, s.submissionsInFlight, "formrelay_dispatcher_submissions_in_flight")
}

func (s *PrometheusSink) initBusMetrics(reg prometheus.Registerer) {
	s.bufferSize = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formrelay_intake_buffer_size",
		Help: "Current number of submissions waiting in the intake buffer.",
	})
	s.bufferCapacity = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formrelay_intake_buffer_capacity",
		Help: "Capacity of the intake buffer.",
	})
	s.emitErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formrelay_intake_emit_errors_total",
		Help: "Total number of submissions rejected because the buffer was full.",
	})

	s.register(reg, s.bufferSize, "formrelay_intake_buffer_size")
	s.register(reg, s.bufferCapacity, "formrelay_intake_buffer_capacity")
	s.register(reg, s.emitErrorsTotal, "formrelay_intake_emit_errors_total")
}

func (s *PrometheusSink) initReporterMetrics(reg prometheus.Registerer) {
	s.successRate = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "formrelay_integration_success_rate_percent",
		Help: "Success rate over the retained event window of each integration.",
	}, []string{"integration_id", "channel"})
	s.reportsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formrelay_reporter_runs_total",
		Help: "Total number of reliability report runs.",
	})
	s.reportErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "formrelay_reporter_errors_total",
		Help: "Total number of report runs that failed.",
	})
	s.reportDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "formrelay_reporter_duration_seconds",
		Help:    "Duration of each report run in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 5},
	})
	s.reportedTotal = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "formrelay_reporter_integrations",
		Help: "Number of integrations covered by the last report run.",
	})

	s.register(reg, s.successRate, "formrelay_integration_success_rate_percent")
	s.register(reg, s.reportsTotal, "formrelay_reporter_runs_total")
	s.register(reg, s.reportErrorsTotal, "formrelay_reporter_errors_total")
	s.register(reg, s.reportDuration, "formrelay_reporter_duration_seconds")
	s.register(reg, s.reportedTotal, "formrelay_reporter_integrations")
}

// register attempts to register a collector, logging any errors without propagating them.
func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

// Dispatcher metrics implementation

func (s *PrometheusSink) DispatchCompleted(duration time.Duration, attempted int) {
	s.dispatchesTotal.Inc()
	s.dispatchDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) ChannelAttemptCompleted(channel, outcome string, duration time.Duration) {
	s.channelAttemptsTotal.WithLabelValues(channel, outcome).Inc()
	s.channelDuration.WithLabelValues(channel).Observe(duration.Seconds())
}

func (s *PrometheusSink) ChannelSkipped(channel string) {
	s.channelSkippedTotal.WithLabelValues(channel).Inc()
}

func (s *PrometheusSink) EventRecordFailed() {
	s.eventRecordFailures.Inc()
}

func (s *PrometheusSink) SubmissionsInFlightIncr() {
	s.submissionsInFlight.Inc()
}

func (s *PrometheusSink) SubmissionsInFlightDecr() {
	s.submissionsInFlight.Dec()
}

// Intake bus metrics implementation

func (s *PrometheusSink) BufferSizeUpdate(size int) {
	s.bufferSize.Set(float64(size))
}

func (s *PrometheusSink) BufferCapacitySet(capacity int) {
	s.bufferCapacity.Set(float64(capacity))
}

func (s *PrometheusSink) EmitError() {
	s.emitErrorsTotal.Inc()
}

// Reporter metrics implementation

func (s *PrometheusSink) SuccessRateUpdate(integrationID, channel string, percent int) {
	s.successRate.WithLabelValues(integrationID, channel).Set(float64(percent))
}

func (s *PrometheusSink) ReportCompleted(duration time.Duration, integrations int, err error) {
	s.reportsTotal.Inc()
	s.reportDuration.Observe(duration.Seconds())
	s.reportedTotal.Set(float64(integrations))
	if err != nil {
		s.reportErrorsTotal.Inc()
	}
}
