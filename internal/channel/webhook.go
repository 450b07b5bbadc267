package channel

import (
	"context"
	"encoding/base64"
	"net/http"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/template"
)

const defaultAPIKeyHeader = "X-API-Key"

// Webhook sends the rendered payload template to an arbitrary HTTP endpoint.
type Webhook struct {
	client HTTPClient
}

func NewWebhook(client HTTPClient) *Webhook {
	return &Webhook{client: defaultClient(client)}
}

// Execute succeeds on any 2xx or 3xx response.
func (w *Webhook) Execute(ctx context.Context, settings domain.ChannelSettings, sub domain.Submission) error {
	s, err := settingsAs[domain.WebhookSettings](domain.ChannelWebhook, settings)
	if err != nil {
		return err
	}

	method := s.HTTPMethod()
	var body []byte
	if method != http.MethodGet && method != http.MethodHead {
		body = []byte(template.Render(s.Payload, sub))
	}

	code, err := send(ctx, w.client, domain.ChannelWebhook, domain.KindDeliveryFailed, method, s.URL, webhookHeaders(s), body)
	if err != nil {
		return err
	}
	if code < 200 || code >= 400 {
		return statusError(domain.ChannelWebhook, domain.KindHTTPStatus, code)
	}
	return nil
}

func webhookHeaders(s domain.WebhookSettings) http.Header {
	h := make(http.Header)
	h.Set("Content-Type", "application/json")
	for _, kv := range s.Headers {
		if kv.Key == "" {
			continue
		}
		h.Set(kv.Key, kv.Value)
	}

	switch s.AuthType {
	case domain.AuthBearer:
		h.Set("Authorization", "Bearer "+s.Token)
	case domain.AuthBasic:
		creds := base64.StdEncoding.EncodeToString([]byte(s.Username + ":" + s.Password))
		h.Set("Authorization", "Basic "+creds)
	case domain.AuthAPIKey:
		name := s.APIKeyHeader
		if name == "" {
			name = defaultAPIKeyHeader
		}
		h.Set(name, s.Token)
	}
	return h
}
