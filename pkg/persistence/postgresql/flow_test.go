package postgresql

import (
	"log/slog"
	"testing"

	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFlowRepository_buildListQuery(t *testing.T) {
	repo := &FlowRepository{logger: slog.Default()}

	tests := []struct {
		name     string
		opts     persistence.ListOptions
		contains []string
		wantErr  error
	}{
		{
			name:     "defaults to newest first",
			contains: []string{"ORDER BY created_at desc, id desc"},
		},
		{
			name:     "active only",
			opts:     persistence.ListOptions{ActiveOnly: true, SortBy: "name", SortOrder: "asc"},
			contains: []string{"AND is_active = TRUE", "ORDER BY name asc, id asc"},
		},
		{
			name:    "sql injection attempt",
			opts:    persistence.ListOptions{SortBy: "name; DROP TABLE flows; --"},
			wantErr: persistence.ErrInvalidSortField,
		},
		{
			name:    "invalid order",
			opts:    persistence.ListOptions{SortOrder: "desc; --"},
			wantErr: persistence.ErrInvalidSortOrder,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			query, err := repo.buildListQuery(tt.opts)
			if tt.wantErr != nil {
				require.ErrorIs(t, err, tt.wantErr)
				assert.Empty(t, query)

				return
			}

			require.NoError(t, err)
			assert.Contains(t, query, "deleted_at IS NULL")

			for _, part := range tt.contains {
				assert.Contains(t, query, part)
			}
		})
	}
}
