// Package postgres persists integration configurations and delivery events
// in PostgreSQL.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/djlord-it/formrelay/internal/domain"
	"github.com/djlord-it/formrelay/internal/eventlog"
)

//go:embed schema.sql
var schema string

// Store implements the configuration store and eventlog.Store over one *sql.DB.
type Store struct {
	db        *sql.DB
	opTimeout time.Duration
	now       func() time.Time
}

var _ eventlog.Store = (*Store)(nil)

// New creates a new PostgreSQL store with the given database connection.
func New(db *sql.DB) *Store {
	return &Store{db: db, now: time.Now}
}

// WithOpTimeout bounds every statement issued by the store. Zero disables it.
func (s *Store) WithOpTimeout(d time.Duration) *Store {
	s.opTimeout = d
	return s
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func (s *Store) WithClock(now func() time.Time) *Store {
	s.now = now
	return s
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return domain.PersistenceError("migrate", err)
	}
	return nil
}

func (s *Store) Ping(ctx context.Context) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()
	return s.db.PingContext(ctx)
}

func (s *Store) opContext(ctx context.Context) (context.Context, context.CancelFunc) {
	if s.opTimeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, s.opTimeout)
}

// Save overwrites the record for key; only identity survives from a prior save.
func (s *Store) Save(ctx context.Context, key domain.ConfigKey, enabled bool, settings domain.ChannelSettings) (domain.IntegrationConfig, error) {
	if err := key.CheckSettings(settings); err != nil {
		return domain.IntegrationConfig{}, err
	}
	raw, err := domain.EncodeSettings(settings)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}

	now := s.now().UTC()
	cfg := domain.IntegrationConfig{
		ID:        key.ID(),
		FormID:    key.FormID,
		Type:      key.Type,
		Enabled:   enabled,
		Settings:  settings,
		CreatedAt: now,
		UpdatedAt: now,
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()
	_, err = s.db.ExecContext(ctx, queryUpsertConfig,
		cfg.ID,
		cfg.FormID,
		string(cfg.Type),
		cfg.Enabled,
		raw,
		cfg.CreatedAt,
		cfg.UpdatedAt,
	)
	if err != nil {
		return domain.IntegrationConfig{}, domain.PersistenceError("save config", err)
	}
	return cfg, nil
}

func (s *Store) Get(ctx context.Context, key domain.ConfigKey) (domain.IntegrationConfig, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	cfg, err := scanConfig(s.db.QueryRowContext(ctx, queryGetConfig, key.ID()))
	if errors.Is(err, sql.ErrNoRows) {
		return domain.IntegrationConfig{}, domain.ErrConfigNotFound
	}
	if err != nil {
		return domain.IntegrationConfig{}, domain.PersistenceError("get config", err)
	}
	return cfg, nil
}

// ListEnabled returns the enabled configurations of a form in channel order.
func (s *Store) ListEnabled(ctx context.Context, formID string) ([]domain.IntegrationConfig, error) {
	types := make([]string, 0, len(domain.KnownChannelTypes()))
	for _, t := range domain.KnownChannelTypes() {
		types = append(types, string(t))
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEnabledConfigs, formID, pq.Array(types))
	if err != nil {
		return nil, domain.PersistenceError("list enabled configs", err)
	}
	defer rows.Close()

	result, err := scanConfigs(rows)
	if err != nil {
		return nil, domain.PersistenceError("list enabled configs", err)
	}
	sort.SliceStable(result, func(i, j int) bool {
		return result[i].Type.OrderIndex() < result[j].Type.OrderIndex()
	})
	return result, nil
}

func (s *Store) ListAll(ctx context.Context) ([]domain.IntegrationConfig, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListAllConfigs)
	if err != nil {
		return nil, domain.PersistenceError("list configs", err)
	}
	defer rows.Close()

	result, err := scanConfigs(rows)
	if err != nil {
		return nil, domain.PersistenceError("list configs", err)
	}
	return result, nil
}

func (s *Store) Delete(ctx context.Context, key domain.ConfigKey) error {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	res, err := s.db.ExecContext(ctx, queryDeleteConfig, key.ID())
	if err != nil {
		return domain.PersistenceError("delete config", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return domain.PersistenceError("delete config", err)
	}
	if n == 0 {
		return domain.ErrConfigNotFound
	}
	return nil
}

// Append inserts the event and prunes the integration's history to
// eventlog.MaxEvents in the same transaction.
func (s *Store) Append(ctx context.Context, ev domain.IntegrationEvent) error {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}

	ctx, cancel := s.opContext(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.PersistenceError("append event", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, queryInsertEvent,
		ev.ID,
		ev.IntegrationID,
		string(ev.Type),
		ev.SubmissionID,
		ev.Error,
		ev.Timestamp,
	)
	if err != nil {
		return domain.PersistenceError("append event", err)
	}

	if _, err := tx.ExecContext(ctx, queryPruneEvents, ev.IntegrationID, eventlog.MaxEvents); err != nil {
		return domain.PersistenceError("prune events", err)
	}

	if err := tx.Commit(); err != nil {
		return domain.PersistenceError("append event", err)
	}
	return nil
}

// List returns the integration's events newest first.
func (s *Store) List(ctx context.Context, integrationID string) ([]domain.IntegrationEvent, error) {
	ctx, cancel := s.opContext(ctx)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, queryListEvents, integrationID, eventlog.MaxEvents)
	if err != nil {
		return nil, domain.PersistenceError("list events", err)
	}
	defer rows.Close()

	var result []domain.IntegrationEvent
	for rows.Next() {
		var ev domain.IntegrationEvent
		var eventType string
		err := rows.Scan(
			&ev.ID,
			&ev.IntegrationID,
			&eventType,
			&ev.SubmissionID,
			&ev.Error,
			&ev.Timestamp,
		)
		if err != nil {
			return nil, domain.PersistenceError("list events", err)
		}
		ev.Type = domain.EventType(eventType)
		ev.Timestamp = ev.Timestamp.UTC()
		result = append(result, ev)
	}
	if err := rows.Err(); err != nil {
		return nil, domain.PersistenceError("list events", err)
	}
	return result, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConfig(row rowScanner) (domain.IntegrationConfig, error) {
	var cfg domain.IntegrationConfig
	var channelType string
	var raw []byte

	err := row.Scan(
		&cfg.ID,
		&cfg.FormID,
		&channelType,
		&cfg.Enabled,
		&raw,
		&cfg.CreatedAt,
		&cfg.UpdatedAt,
	)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}

	cfg.Type = domain.ChannelType(channelType)
	cfg.Settings, err = domain.DecodeSettings(cfg.Type, raw)
	if err != nil {
		return domain.IntegrationConfig{}, err
	}
	cfg.CreatedAt = cfg.CreatedAt.UTC()
	cfg.UpdatedAt = cfg.UpdatedAt.UTC()
	return cfg, nil
}

func scanConfigs(rows *sql.Rows) ([]domain.IntegrationConfig, error) {
	var result []domain.IntegrationConfig
	for rows.Next() {
		cfg, err := scanConfig(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, cfg)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return result, nil
}
