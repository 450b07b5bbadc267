package metrics

import (
	"errors"
	"strings"
	"time"

	"github.com/djlord-it/formrelay/internal/domain"
)

// Sink defines the interface for recording metrics.
// All methods are fire-and-forget: implementations MUST NOT block or propagate errors.
type Sink interface {
	// Dispatcher metrics
	DispatchCompleted(duration time.Duration, attempted int)
	ChannelAttemptCompleted(channel, outcome string, duration time.Duration)
	ChannelSkipped(channel string)
	EventRecordFailed()
	SubmissionsInFlightIncr()
	SubmissionsInFlightDecr()

	// Intake bus metrics
	BufferSizeUpdate(size int)
	BufferCapacitySet(capacity int)
	EmitError()

	// Reporter metrics
	SuccessRateUpdate(integrationID, channel string, percent int)
	ReportCompleted(duration time.Duration, integrations int, err error)
}

// Outcome labels for ChannelAttemptCompleted. Channel failures that are not
// plain status errors are labelled with their ChannelErrorKind.
const (
	OutcomeSuccess         = "success"
	OutcomeStatus3xx       = "3xx"
	OutcomeStatus4xx       = "4xx"
	OutcomeStatus5xx       = "5xx"
	OutcomeTimeout         = "timeout"
	OutcomeConnectionError = "connection_error"
	OutcomeOtherError      = "other_error"
)

// ClassifyOutcome maps an executor result to a bounded outcome label.
func ClassifyOutcome(err error) string {
	if err == nil {
		return OutcomeSuccess
	}

	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		switch {
		case ce.StatusCode >= 500:
			return OutcomeStatus5xx
		case ce.StatusCode >= 400:
			return OutcomeStatus4xx
		case ce.StatusCode >= 300:
			return OutcomeStatus3xx
		case ce.Kind == domain.KindTimeout:
			return OutcomeTimeout
		case ce.Kind != domain.KindDeliveryFailed:
			return string(ce.Kind)
		}
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "timeout") || strings.Contains(msg, "deadline exceeded"):
		return OutcomeTimeout
	case strings.Contains(msg, "connection refused") ||
		strings.Contains(msg, "no such host") ||
		strings.Contains(msg, "network is unreachable") ||
		strings.Contains(msg, "dial"):
		return OutcomeConnectionError
	}
	return OutcomeOtherError
}
