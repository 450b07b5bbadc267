// Package memory provides in-process implementations of the configuration
// store and the event log. Reads run concurrently; writes are serialized per
// key and never contend across keys.
package memory

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/djlord-it/formrelay/internal/domain"
)

type configEntry struct {
	mu  sync.RWMutex
	cfg *domain.IntegrationConfig
}

// ConfigStore keeps one record per (form, channel type) plus a global index
// in first-save order.
type ConfigStore struct {
	mu      sync.Mutex
	entries map[domain.ConfigKey]*configEntry

	indexMu sync.RWMutex
	index   []domain.IntegrationConfig

	now func() time.Time
}

func NewConfigStore() *ConfigStore {
	return &ConfigStore{
		entries: make(map[domain.ConfigKey]*configEntry),
		now:     time.Now,
	}
}

// WithClock overrides the clock used for CreatedAt/UpdatedAt.
func (s *ConfigStore) WithClock(now func() time.Time) *ConfigStore {
	s.now = now
	return s
}

func (s *ConfigStore) entry(key domain.ConfigKey, create bool) *configEntry {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.entries[key]
	if !ok && create {
		e = &configEntry{}
		s.entries[key] = e
	}
	return e
}

// Save overwrites the record for key; only identity survives from a prior save.
func (s *ConfigStore) Save(ctx context.Context, key domain.ConfigKey, enabled bool, settings domain.ChannelSettings) (domain.IntegrationConfig, error) {
	if err := key.CheckSettings(settings); err != nil {
		return domain.IntegrationConfig{}, err
	}
	if err := ctx.Err(); err != nil {
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

	e := s.entry(key, true)
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = &cfg
	s.upsertIndex(cfg)

	return cfg, nil
}

func (s *ConfigStore) Get(ctx context.Context, key domain.ConfigKey) (domain.IntegrationConfig, error) {
	if err := ctx.Err(); err != nil {
		return domain.IntegrationConfig{}, err
	}
	e := s.entry(key, false)
	if e == nil {
		return domain.IntegrationConfig{}, domain.ErrConfigNotFound
	}
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.cfg == nil {
		return domain.IntegrationConfig{}, domain.ErrConfigNotFound
	}
	return *e.cfg, nil
}

// ListEnabled walks the closed set of channel types in order.
func (s *ConfigStore) ListEnabled(ctx context.Context, formID string) ([]domain.IntegrationConfig, error) {
	var out []domain.IntegrationConfig
	for _, t := range domain.KnownChannelTypes() {
		cfg, err := s.Get(ctx, domain.ConfigKey{FormID: formID, Type: t})
		if errors.Is(err, domain.ErrConfigNotFound) {
			continue
		}
		if err != nil {
			return nil, err
		}
		if cfg.Enabled {
			out = append(out, cfg)
		}
	}
	return out, nil
}

func (s *ConfigStore) Delete(ctx context.Context, key domain.ConfigKey) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	e := s.entry(key, false)
	if e == nil {
		return domain.ErrConfigNotFound
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.cfg == nil {
		return domain.ErrConfigNotFound
	}
	id := e.cfg.ID
	e.cfg = nil
	s.removeFromIndex(id)
	return nil
}

func (s *ConfigStore) ListAll(ctx context.Context) ([]domain.IntegrationConfig, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.indexMu.RLock()
	defer s.indexMu.RUnlock()
	out := make([]domain.IntegrationConfig, len(s.index))
	copy(out, s.index)
	return out, nil
}

func (s *ConfigStore) upsertIndex(cfg domain.IntegrationConfig) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	for i := range s.index {
		if s.index[i].ID == cfg.ID {
			s.index[i] = cfg
			return
		}
	}
	s.index = append(s.index, cfg)
}

func (s *ConfigStore) removeFromIndex(id string) {
	s.indexMu.Lock()
	defer s.indexMu.Unlock()
	for i := range s.index {
		if s.index[i].ID == id {
			s.index = append(s.index[:i], s.index[i+1:]...)
			return
		}
	}
}
