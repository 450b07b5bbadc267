package domain

import "time"

// Submission is the unit of work passed through the dispatch pipeline.
// It is built once per completed form and never persisted by the core.
type Submission struct {
	FormID       string         `json:"formId"`
	SubmissionID string         `json:"submissionId"`
	Timestamp    time.Time      `json:"timestamp"`
	Data         map[string]any `json:"data"`
	Metadata     *Metadata      `json:"metadata,omitempty"`
}

type Metadata struct {
	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"userAgent,omitempty"`
	Location  string `json:"location,omitempty"`
}

// ISOTimestamp formats the capture time as an ISO-8601 UTC string with
// millisecond precision.
func (s Submission) ISOTimestamp() string {
	return s.Timestamp.UTC().Format("2006-01-02T15:04:05.000Z07:00")
}
