package memory

import (
	"context"
	"sync"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
)

type history struct {
	mu     sync.RWMutex
	events []domain.IntegrationEvent // newest first
}

// EventLog is an eventlog.Store holding capped histories in memory.
type EventLog struct {
	mu        sync.Mutex
	histories map[string]*history
}

func NewEventLog() *EventLog {
	return &EventLog{histories: make(map[string]*history)}
}

func (l *EventLog) history(integrationID string, create bool) *history {
	l.mu.Lock()
	defer l.mu.Unlock()
	h, ok := l.histories[integrationID]
	if !ok && create {
		h = &history{}
		l.histories[integrationID] = h
	}
	return h
}

func (l *EventLog) Append(ctx context.Context, event domain.IntegrationEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	h := l.history(event.IntegrationID, true)
	h.mu.Lock()
	defer h.mu.Unlock()

	keep := len(h.events)
	if keep > eventlog.MaxEvents-1 {
		keep = eventlog.MaxEvents - 1
	}
	next := make([]domain.IntegrationEvent, 0, keep+1)
	next = append(next, event)
	next = append(next, h.events[:keep]...)
	h.events = next
	return nil
}

func (l *EventLog) List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	h := l.history(integrationID, false)
	if h == nil {
		return []domain.IntegrationEvent{}, nil
	}
	h.mu.RLock()
	defer h.mu.RUnlock()
	out := make([]domain.IntegrationEvent, len(h.events))
	copy(out, h.events)
	return out, nil
}

var _ eventlog.Store = (*EventLog)(nil)
