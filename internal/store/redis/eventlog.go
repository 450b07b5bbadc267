// Package redis stores integration event histories in Redis lists, one list
// per integration, newest event at the head.
package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
)

const defaultKeyPrefix = "formrelay:events:"

type EventLog struct {
	client *redis.Client
	prefix string
}

func NewEventLog(client *redis.Client) *EventLog {
	return &EventLog{client: client, prefix: defaultKeyPrefix}
}

// WithKeyPrefix namespaces the history keys, e.g. per environment.
func (l *EventLog) WithKeyPrefix(prefix string) *EventLog {
	l.prefix = prefix
	return l
}

func (l *EventLog) key(integrationID string) string {
	return l.prefix + integrationID
}

// Append pushes the event and trims the list in a single MULTI/EXEC.
func (l *EventLog) Append(ctx context.Context, event domain.IntegrationEvent) error {
	body, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}

	key := l.key(event.IntegrationID)
	pipe := l.client.TxPipeline()
	pipe.LPush(ctx, key, body)
	pipe.LTrim(ctx, key, 0, eventlog.MaxEvents-1)

	if _, err := pipe.Exec(ctx); err != nil {
		return domain.PersistenceError("redis append", err)
	}
	return nil
}

func (l *EventLog) List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error) {
	raw, err := l.client.LRange(ctx, l.key(integrationID), 0, eventlog.MaxEvents-1).Result()
	if err != nil {
		return nil, domain.PersistenceError("redis list", err)
	}

	events := make([]domain.IntegrationEvent, 0, len(raw))
	for _, item := range raw {
		var e domain.IntegrationEvent
		if err := json.Unmarshal([]byte(item), &e); err != nil {
			return nil, domain.PersistenceError("redis decode", err)
		}
		events = append(events, e)
	}
	return events, nil
}

// Ping reports backend health for the verbose /health endpoint.
func (l *EventLog) Ping(ctx context.Context) error {
	return l.client.Ping(ctx).Err()
}

var _ eventlog.Store = (*EventLog)(nil)
