package channel

import (
	"context"
	"errors"
	"time"

	"github.com/felixgeelhaar/fortify/retry"

	"github.com/djlord-it/formrelay/internal/domain"
)

// RetryPolicy configures WithRetry. MaxAttempts counts the first call.
type RetryPolicy struct {
	MaxAttempts  int
	InitialDelay time.Duration
}

func (p RetryPolicy) Enabled() bool {
	return p.MaxAttempts > 1
}

// WithRetry retries retryable failures of exec with exponential backoff.
// Malformed settings, open circuits and non-retryable statuses fail at once.
// A policy with MaxAttempts <= 1 returns exec unchanged.
func WithRetry(exec Executor, p RetryPolicy) Executor {
	if !p.Enabled() {
		return exec
	}
	cfg := retry.Config{
		MaxAttempts:   p.MaxAttempts,
		InitialDelay:  p.InitialDelay,
		BackoffPolicy: retry.BackoffExponential,
		IsRetryable:   Retryable,
	}
	return ExecutorFunc(func(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
		_, err := retry.New[struct{}](cfg).Do(ctx, func(ctx context.Context) (struct{}, error) {
			return struct{}{}, exec.Execute(ctx, settings, sub)
		})
		return err
	})
}

// Retryable reports whether err is worth another attempt.
func Retryable(err error) bool {
	if errors.Is(err, ErrTransportNotConfigured) {
		return false
	}
	var ce *domain.ChannelError
	if errors.As(err, &ce) {
		return ce.Retryable()
	}
	return !errors.Is(err, context.Canceled)
}
