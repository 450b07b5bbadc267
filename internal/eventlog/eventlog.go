// Package eventlog keeps the bounded per-integration history of delivery
// outcomes and derives reliability statistics from it.
package eventlog

import (
	"context"
	"math"
	"time"

	"github.com/google/uuid"

	"github.com/djlord-it/formrelay/internal/domain"
)

// MaxEvents is the retention cap per integration. Older events are discarded.
const MaxEvents = 100

// Store persists event histories. Append must prepend the event and trim the
// history to MaxEvents in one step; List returns newest first.
type Store interface {
	Append(ctx context.Context, event domain.IntegrationEvent) error
	List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error)
}

type Stats struct {
	Total              int `json:"total"`
	SuccessCount       int `json:"successCount"`
	ErrorCount         int `json:"errorCount"`
	SuccessRatePercent int `json:"successRatePercent"`
}

type Log struct {
	store Store
	now   func() time.Time
}

func New(store Store) *Log {
	return &Log{
		store: store,
		now:   time.Now,
	}
}

// WithClock overrides the clock used to timestamp new events.
func (l *Log) WithClock(now func() time.Time) *Log {
	l.now = now
	return l
}

// Append records one outcome with a fresh id and the current time.
func (l *Log) Append(ctx context.Context, integrationID string, outcome domain.EventType, submissionID, errMsg string) (domain.IntegrationEvent, error) {
	event := domain.IntegrationEvent{
		ID:            uuid.New().String(),
		IntegrationID: integrationID,
		Type:          outcome,
		SubmissionID:  submissionID,
		Timestamp:     l.now().UTC(),
	}
	if outcome == domain.EventError {
		event.Error = errMsg
	}
	if err := l.store.Append(ctx, event); err != nil {
		return domain.IntegrationEvent{}, err
	}
	return event, nil
}

func (l *Log) List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error) {
	return l.store.List(ctx, integrationID)
}

// Stats is always computed from the current window, never cached.
func (l *Log) Stats(ctx context.Context, integrationID string) (Stats, error) {
	events, err := l.store.List(ctx, integrationID)
	if err != nil {
		return Stats{}, err
	}
	return ComputeStats(events), nil
}

func ComputeStats(events []domain.IntegrationEvent) Stats {
	var s Stats
	for _, e := range events {
		switch e.Type {
		case domain.EventSuccess:
			s.SuccessCount++
		case domain.EventError:
			s.ErrorCount++
		}
	}
	s.Total = len(events)
	if s.Total > 0 {
		s.SuccessRatePercent = int(math.Round(float64(s.SuccessCount) / float64(s.Total) * 100))
	}
	return s
}
