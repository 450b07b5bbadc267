package domain

import "time"

type EventType string

const (
	EventSuccess EventType = "success"
	EventError   EventType = "error"
)

// IntegrationEvent records the outcome of one executor invocation.
// Events are never mutated after creation.
type IntegrationEvent struct {
	ID            string    `json:"id"`
	IntegrationID string    `json:"integrationId"`
	Type          EventType `json:"type"`
	SubmissionID  string    `json:"submissionId"`
	Timestamp     time.Time `json:"timestamp"`
	Error         string    `json:"error,omitempty"`
}
