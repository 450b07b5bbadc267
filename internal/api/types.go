package api

import (
	"encoding/json"
	"time"

	"github.com/djlord-it/formrelay/internal/dispatcher"
	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
)

// SaveIntegrationRequest is the body of PUT /forms/:formId/integrations/:type.
// Enabled defaults to true when omitted.
type SaveIntegrationRequest struct {
	Enabled *bool           `json:"enabled"`
	Config  json.RawMessage `json:"config"`
}

// SubmissionRequest is the body of POST /forms/:formId/submissions.
type SubmissionRequest struct {
	SubmissionID string           `json:"submissionId,omitempty"`
	Timestamp    *time.Time       `json:"timestamp,omitempty"`
	Data         map[string]any   `json:"data"`
	Metadata     *domain.Metadata `json:"metadata,omitempty"`
}

type PreviewRequest struct {
	Template string         `json:"template"`
	FormID   string         `json:"formId,omitempty"`
	Data     map[string]any `json:"data"`
}

type PreviewResponse struct {
	Rendered     string   `json:"rendered"`
	Placeholders []string `json:"placeholders"`
}

type ListIntegrationsResponse struct {
	Integrations []domain.IntegrationConfig `json:"integrations"`
}

type ListEventsResponse struct {
	IntegrationID string                    `json:"integrationId"`
	Events        []domain.IntegrationEvent `json:"events"`
}

type StatsResponse struct {
	IntegrationID string `json:"integrationId"`
	eventlog.Stats
}

// DispatchResponse is returned by synchronous dispatch (200) and by async
// enqueue (202, Result omitted).
type DispatchResponse struct {
	SubmissionID string             `json:"submissionId"`
	Status       string             `json:"status"`
	Result       *dispatcher.Result `json:"result,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}
