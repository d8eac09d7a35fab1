package refdata

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
)

// Store serves the catalogue from memory. The first read loads it from the
// cache, falling back to the source; Refresh always goes to the source.
type Store struct {
	source Source
	cache  Cache
	logger *slog.Logger

	mu       sync.RWMutex
	data     models.ReferenceData
	loaded   bool
	loadedAt time.Time
}

// NewStore creates a store. cache may be nil.
func NewStore(source Source, cache Cache, logger *slog.Logger) *Store {
	return &Store{
		source: source,
		cache:  cache,
		logger: logger.With("module", "refdata"),
	}
}

// Refresh reloads the catalogue from the source. On failure the previous
// catalogue keeps being served.
func (s *Store) Refresh(ctx context.Context) (models.ReferenceData, error) {
	if s.source == nil {
		return models.ReferenceData{}, ErrNoSource
	}

	data, err := s.source.Load(ctx)
	if err != nil {
		s.logger.ErrorContext(ctx, "failed to refresh reference data", "error", err)

		return models.ReferenceData{}, fmt.Errorf("failed to refresh reference data: %w", err)
	}

	data = normalize(data)

	if s.cache != nil {
		err = s.cache.Set(ctx, data)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to cache reference data", "error", err)
		}
	}

	s.mu.Lock()
	s.data = data
	s.loaded = true
	s.loadedAt = time.Now().UTC()
	s.mu.Unlock()

	s.logger.InfoContext(ctx, "reference data refreshed",
		"fields", len(data.Fields),
		"pipelines", len(data.Pipelines),
		"schedulers", len(data.Schedulers),
		"campaigns", len(data.Campaigns),
		"buckets", len(data.Buckets),
	)

	return data, nil
}

// Get returns the catalogue, loading it on first use.
func (s *Store) Get(ctx context.Context) (models.ReferenceData, error) {
	s.mu.RLock()
	data, loaded := s.data, s.loaded
	s.mu.RUnlock()

	if loaded {
		return data, nil
	}

	if s.cache != nil {
		cached, ok, err := s.cache.Get(ctx)
		if err != nil {
			s.logger.WarnContext(ctx, "failed to read cached reference data", "error", err)
		}

		if ok {
			s.mu.Lock()
			s.data = cached
			s.loaded = true
			s.loadedAt = time.Now().UTC()
			s.mu.Unlock()

			return cached, nil
		}
	}

	return s.Refresh(ctx)
}

// LoadedAt reports when the catalogue in memory was obtained.
func (s *Store) LoadedAt() time.Time {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.loadedAt
}

func (s *Store) Fields(ctx context.Context) ([]models.CRMField, error) {
	data, err := s.Get(ctx)

	return data.Fields, err
}

func (s *Store) Pipelines(ctx context.Context) ([]models.Pipeline, error) {
	data, err := s.Get(ctx)

	return data.Pipelines, err
}

func (s *Store) Schedulers(ctx context.Context) ([]models.Scheduler, error) {
	data, err := s.Get(ctx)

	return data.Schedulers, err
}

func (s *Store) Campaigns(ctx context.Context) ([]models.Campaign, error) {
	data, err := s.Get(ctx)

	return data.Campaigns, err
}

func (s *Store) Buckets(ctx context.Context) ([]models.Bucket, error) {
	data, err := s.Get(ctx)

	return data.Buckets, err
}
