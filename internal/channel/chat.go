package channel

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/template"
)

// DefaultChatTemplate is used when a chat integration has no template.
const DefaultChatTemplate = "New submission for {{formName}} ({{submissionId}})\n{{submissionData}}"

// ChatMessage is the fixed payload posted to chat webhooks.
type ChatMessage struct {
	Channel  string `json:"channel"`
	Username string `json:"username"`
	Icon     string `json:"icon"`
	Text     string `json:"text"`
}

// ChatWebhook posts a rendered message to an incoming-webhook chat endpoint.
type ChatWebhook struct {
	client HTTPClient
}

func NewChatWebhook(client HTTPClient) *ChatWebhook {
	return &ChatWebhook{client: defaultClient(client)}
}

func (c *ChatWebhook) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	s, err := settingsAs[domain.ChatWebhookSettings](domain.ChannelChatWebhook, settings)
	if err != nil {
		return err
	}

	tmpl := s.Template
	if tmpl == "" {
		tmpl = DefaultChatTemplate
	}
	body, err := json.Marshal(ChatMessage{
		Channel:  s.Channel,
		Username: s.Username,
		Icon:     s.Icon,
		Text:     template.Render(tmpl, sub),
	})
	if err != nil {
		return domain.NewChannelError(domain.ChannelChatWebhook, domain.KindChatAPI, fmt.Errorf("marshal: %w", err))
	}

	return postJSON(ctx, c.client, domain.ChannelChatWebhook, domain.KindChatAPI, s.WebhookURL, body)
}

// postJSON posts body and requires a 2xx response.
func postJSON(ctx context.Context, client HTTPClient, channel domain.ChannelType, kind domain.ChannelErrorKind, url string, body []byte) error {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")

	code, err := send(ctx, client, channel, kind, http.MethodPost, url, h, body)
	if err != nil {
		return err
	}
	if code < 200 || code >= 300 {
		return statusError(channel, kind, code)
	}
	return nil
}
