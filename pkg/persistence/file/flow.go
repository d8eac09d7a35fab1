package file

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/google/uuid"
)

// FlowRepository stores one JSON document per flow.
type FlowRepository struct {
	root  string
	codec *wire.Codec
	mu    sync.RWMutex
}

func NewFlowRepository(root string, codec *wire.Codec) *FlowRepository {
	return &FlowRepository{root: root, codec: codec}
}

func (fr *FlowRepository) dir() string {
	return filepath.Join(fr.root, "flows")
}

func (fr *FlowRepository) path(id string) (string, bool) {
	if id == "" || id != filepath.Base(id) || strings.HasPrefix(id, ".") {
		return "", false
	}

	return filepath.Join(fr.dir(), id+".json"), true
}

// List returns the stored flows filtered and sorted by opts.
func (fr *FlowRepository) List(_ context.Context, opts persistence.ListOptions) ([]models.Flow, error) {
	opts, err := opts.Normalize()
	if err != nil {
		return nil, err
	}

	fr.mu.RLock()
	defer fr.mu.RUnlock()

	files, err := fs.Glob(os.DirFS(fr.dir()), "*.json")
	if err != nil {
		return nil, fmt.Errorf("failed to list flow files: %w", err)
	}

	flows := make([]models.Flow, 0, len(files))

	for _, file := range files {
		flow, err := fr.read(strings.TrimSuffix(file, ".json"))
		if err != nil {
			return nil, err
		}

		if opts.ActiveOnly && !flow.IsActive {
			continue
		}

		flows = append(flows, flow)
	}

	sortFlows(flows, opts.SortBy, opts.SortOrder)

	return flows, nil
}

func sortFlows(flows []models.Flow, sortBy, sortOrder string) {
	slices.SortStableFunc(flows, func(a, b models.Flow) int {
		var cmp int

		switch sortBy {
		case "updated_at":
			cmp = a.UpdatedAt.Compare(b.UpdatedAt)
		case "name":
			cmp = strings.Compare(a.Name, b.Name)
		default:
			cmp = a.CreatedAt.Compare(b.CreatedAt)
		}

		if cmp == 0 {
			cmp = strings.Compare(a.ID, b.ID)
		}

		if sortOrder == "desc" {
			return -cmp
		}

		return cmp
	})
}

// GetByID reads a flow from the file system.
func (fr *FlowRepository) GetByID(_ context.Context, id string) (models.Flow, error) {
	fr.mu.RLock()
	defer fr.mu.RUnlock()

	return fr.read(id)
}

func (fr *FlowRepository) read(id string) (models.Flow, error) {
	filePath, ok := fr.path(id)
	if !ok {
		return models.Flow{}, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
	}

	body, err := os.ReadFile(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return models.Flow{}, persistence.NewFlowError("GetByID", id, persistence.ErrFlowNotFound)
		}

		return models.Flow{}, fmt.Errorf("failed to fetch flow %s: %w", id, err)
	}

	flow, err := fr.codec.Unmarshal(body)
	if err != nil {
		return models.Flow{}, persistence.NewFlowError("GetByID", id, fmt.Errorf("%w: %w", persistence.ErrCorruptFlow, err))
	}

	flow.ID = id

	return flow, nil
}

// Save writes a flow, assigning an id and timestamps as needed.
func (fr *FlowRepository) Save(_ context.Context, flow *models.Flow) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	err := os.MkdirAll(fr.dir(), 0750)
	if err != nil {
		return fmt.Errorf("failed to create flows directory: %w", err)
	}

	if flow.ID == "" {
		id, err := uuid.NewV7()
		if err != nil {
			return fmt.Errorf("failed to generate flow ID: %w", err)
		}

		flow.ID = id.String()
	}

	filePath, ok := fr.path(flow.ID)
	if !ok {
		return persistence.NewFlowError("Save", flow.ID, fmt.Errorf("invalid flow id %q", flow.ID))
	}

	now := time.Now().UTC()
	if flow.CreatedAt.IsZero() {
		flow.CreatedAt = now
	}

	flow.UpdatedAt = now

	data, err := fr.codec.Marshal(*flow)
	if err != nil {
		return fmt.Errorf("failed to marshal flow %s: %w", flow.ID, err)
	}

	tmp := filePath + ".tmp"

	err = os.WriteFile(tmp, data, 0600)
	if err != nil {
		return fmt.Errorf("failed to write flow %s: %w", flow.ID, err)
	}

	return os.Rename(tmp, filePath)
}

// Delete removes a flow by its ID.
func (fr *FlowRepository) Delete(_ context.Context, id string) error {
	fr.mu.Lock()
	defer fr.mu.Unlock()

	filePath, ok := fr.path(id)
	if !ok {
		return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
	}

	err := os.Remove(filePath)
	if err != nil {
		if os.IsNotExist(err) {
			return persistence.NewFlowError("Delete", id, persistence.ErrFlowNotFound)
		}

		return fmt.Errorf("failed to delete flow %s: %w", id, err)
	}

	return nil
}
