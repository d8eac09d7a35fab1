package client

import (
	"context"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"golang.org/x/sync/errgroup"
)

// ReferenceSource lists the CRM and dialer entities offered in node configs.
type ReferenceSource interface {
	Fields(ctx context.Context) ([]models.CRMField, error)
	Pipelines(ctx context.Context) ([]models.Pipeline, error)
	Schedulers(ctx context.Context) ([]models.Scheduler, error)
	Campaigns(ctx context.Context) ([]models.Campaign, error)
	Buckets(ctx context.Context) ([]models.Bucket, error)
}

// ReferenceData caches the reference catalogue. Reads never hit the network;
// Refresh replaces the whole catalogue or leaves it untouched on failure.
type ReferenceData struct {
	source ReferenceSource

	mu       sync.RWMutex
	data     models.ReferenceData
	loadedAt time.Time
}

func NewReferenceData(source ReferenceSource) *ReferenceData {
	return &ReferenceData{source: source}
}

// Refresh loads the five collections concurrently.
func (r *ReferenceData) Refresh(ctx context.Context) error {
	var data models.ReferenceData

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() (err error) {
		data.Fields, err = r.source.Fields(ctx)

		return err
	})
	g.Go(func() (err error) {
		data.Pipelines, err = r.source.Pipelines(ctx)

		return err
	})
	g.Go(func() (err error) {
		data.Schedulers, err = r.source.Schedulers(ctx)

		return err
	})
	g.Go(func() (err error) {
		data.Campaigns, err = r.source.Campaigns(ctx)

		return err
	})
	g.Go(func() (err error) {
		data.Buckets, err = r.source.Buckets(ctx)

		return err
	})

	if err := g.Wait(); err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	r.data = data
	r.loadedAt = time.Now()

	return nil
}

// Snapshot returns the cached catalogue.
func (r *ReferenceData) Snapshot() models.ReferenceData {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.data
}

// LoadedAt returns when the cache was last refreshed, or the zero time.
func (r *ReferenceData) LoadedAt() time.Time {
	r.mu.RLock()
	defer r.mu.RUnlock()

	return r.loadedAt
}

func (r *ReferenceData) Fields() []models.CRMField {
	return r.Snapshot().Fields
}

func (r *ReferenceData) Pipelines() []models.Pipeline {
	return r.Snapshot().Pipelines
}

func (r *ReferenceData) Schedulers() []models.Scheduler {
	return r.Snapshot().Schedulers
}

func (r *ReferenceData) Campaigns() []models.Campaign {
	return r.Snapshot().Campaigns
}

// Buckets returns the buckets of campaignID, or all of them when it is empty.
func (r *ReferenceData) Buckets(campaignID string) []models.Bucket {
	buckets := r.Snapshot().Buckets
	if campaignID == "" {
		return buckets
	}

	out := make([]models.Bucket, 0, len(buckets))

	for _, bucket := range buckets {
		if bucket.CampaignID == campaignID {
			out = append(out, bucket)
		}
	}

	return out
}

// Statuses returns the stages of the pipeline with the given id.
func (r *ReferenceData) Statuses(pipelineID int64) []models.PipelineStatus {
	for _, pipeline := range r.Snapshot().Pipelines {
		if pipeline.ID == pipelineID {
			return pipeline.Statuses
		}
	}

	return nil
}
