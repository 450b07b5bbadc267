package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/djlord-it/formrelay/internal/domain"
)

// AutomationWebhook forwards the raw submission as JSON. Nothing is rendered.
type AutomationWebhook struct {
	client HTTPClient
}

func NewAutomationWebhook(client HTTPClient) *AutomationWebhook {
	return &AutomationWebhook{client: defaultClient(client)}
}

func (a *AutomationWebhook) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	s, err := settingsAs[domain.AutomationWebhookSettings](domain.ChannelAutomationWebhook, settings)
	if err != nil {
		return err
	}

	body, err := json.Marshal(sub)
	if err != nil {
		return domain.NewChannelError(domain.ChannelAutomationWebhook, domain.KindAutomation, fmt.Errorf("marshal: %w", err))
	}
	return postJSON(ctx, a.client, domain.ChannelAutomationWebhook, domain.KindAutomation, s.WebhookURL, body)
}
