// Package refdata serves the CRM and dialer catalogue offered in node
// configuration: custom fields, pipelines, schedulers, campaigns and buckets.
package refdata

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
)

var ErrNoSource = errors.New("no reference data source configured")

// Source loads the full catalogue from its system of record.
type Source interface {
	Load(ctx context.Context) (models.ReferenceData, error)
}

// FileSource reads the catalogue from a JSON document exported from the CRM
// and dialer.
type FileSource struct {
	path string
}

func NewFileSource(path string) *FileSource {
	return &FileSource{path: strings.TrimPrefix(path, "file://")}
}

func (s *FileSource) Load(ctx context.Context) (models.ReferenceData, error) {
	if err := ctx.Err(); err != nil {
		return models.ReferenceData{}, err
	}

	body, err := os.ReadFile(s.path)
	if err != nil {
		return models.ReferenceData{}, fmt.Errorf("failed to read reference data %s: %w", s.path, err)
	}

	var data models.ReferenceData

	err = json.Unmarshal(body, &data)
	if err != nil {
		return models.ReferenceData{}, fmt.Errorf("failed to parse reference data %s: %w", s.path, err)
	}

	return normalize(data), nil
}

// normalize replaces nil collections so they render as [] rather than null.
func normalize(data models.ReferenceData) models.ReferenceData {
	if data.Fields == nil {
		data.Fields = []models.CRMField{}
	}

	if data.Pipelines == nil {
		data.Pipelines = []models.Pipeline{}
	}

	for i := range data.Pipelines {
		if data.Pipelines[i].Statuses == nil {
			data.Pipelines[i].Statuses = []models.PipelineStatus{}
		}
	}

	if data.Schedulers == nil {
		data.Schedulers = []models.Scheduler{}
	}

	if data.Campaigns == nil {
		data.Campaigns = []models.Campaign{}
	}

	if data.Buckets == nil {
		data.Buckets = []models.Bucket{}
	}

	return data
}
