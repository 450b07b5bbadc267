package channel

import (
	"context"
	"errors"
	"fmt"

	"github.com/djlord-it/formrelay/internal/domain"
)

// ErrTransportNotConfigured marks a channel whose outbound transport has no
// credentials in this deployment.
var ErrTransportNotConfigured = errors.New("transport not configured")

// Unconfigured stands in for a channel that cannot deliver here. Every call
// fails with a delivery_failed ChannelError, so integrations of that type
// still produce error events.
func Unconfigured(t domain.ChannelType, transport string) Executor {
	err := domain.NewChannelError(t, domain.KindDeliveryFailed,
		fmt.Errorf("%s %w", transport, ErrTransportNotConfigured))
	return ExecutorFunc(func(context.Context, domain.ChannelSettings, domain.Submission) error {
		return err
	})
}
