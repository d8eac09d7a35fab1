//go:build integration

package postgresql_test

import (
	"context"
	"database/sql"
	"log/slog"
	"os"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/persistence"
	"github.com/dukex/leadflow/pkg/persistence/postgresql"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
)

var postgresContainer *postgres.PostgresContainer

func dropDb(ctx context.Context, t *testing.T, databaseURL string) {
	t.Helper()

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	for _, table := range []string{"flows", "schema_migrations"} {
		_, err = db.ExecContext(ctx, "DROP TABLE IF EXISTS "+table+" CASCADE")
		require.NoError(t, err)
	}

	require.NoError(t, db.Close())
}

func setupTestDB(t *testing.T) (*postgresql.Persistence, context.Context, string) {
	t.Helper()

	ctx, cancel := context.WithTimeout(context.Background(), 120*time.Second)

	if postgresContainer == nil || !postgresContainer.IsRunning() {
		var err error

		postgresContainer, err = postgres.Run(ctx,
			"postgres:16-alpine",
			postgres.WithDatabase("leadflow_test"),
			postgres.WithUsername("leadflow"),
			postgres.WithPassword("leadflow"),
			postgres.BasicWaitStrategies(),
		)
		require.NoError(t, err)
	}

	databaseURL, err := postgresContainer.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	dropDb(ctx, t, databaseURL)

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelError}))

	p, err := postgresql.NewPersistence(ctx, logger, databaseURL, wire.NewCodec(registry.NewRegistry()))
	require.NoError(t, err)

	t.Cleanup(func() {
		dropDb(ctx, t, databaseURL)
		require.NoError(t, p.Close(ctx))
		cancel()
	})

	return p, ctx, databaseURL
}

func conditionGraph(t *testing.T) models.Graph {
	t.Helper()

	store := graph.NewStore(registry.NewRegistry())
	require.NoError(t, store.Reconcile(graph.NewTemplate()))

	conditionID, err := store.AddNode(models.KindCondition, "pipeline", models.Position{X: 250, Y: 150})
	require.NoError(t, err)

	require.NoError(t, store.UpdateNodeConfig(conditionID, graph.ConfigPatch{"value": "7001"}))

	return store.Snapshot()
}

func TestNewPersistence_Migrations(t *testing.T) {
	p, ctx, databaseURL := setupTestDB(t)

	db, err := sql.Open("postgres", databaseURL)
	require.NoError(t, err)

	defer func() {
		require.NoError(t, db.Close())
	}()

	var exists bool

	err = db.QueryRowContext(ctx, `SELECT EXISTS (SELECT FROM
information_schema.tables WHERE table_name = 'flows')`).Scan(&exists)
	require.NoError(t, err)
	assert.True(t, exists, "flows table should exist")

	var version int

	err = db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	require.NoError(t, err)
	assert.Equal(t, 2, version)

	require.NoError(t, p.HealthCheck(ctx))
}

func TestFlowRepository_SaveAndGet(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	flow := models.Flow{Name: "Pipeline router", Graph: conditionGraph(t)}

	require.NoError(t, p.Flows().Save(ctx, &flow))
	require.NoError(t, uuid.Validate(flow.ID))

	stored, err := p.Flows().GetByID(ctx, flow.ID)
	require.NoError(t, err)

	assert.Equal(t, flow.Name, stored.Name)
	assert.Equal(t, flow.Graph, stored.Graph)
	assert.True(t, flow.CreatedAt.Equal(stored.CreatedAt))

	flow.Name = "Renamed"
	flow.IsActive = true
	require.NoError(t, p.Flows().Save(ctx, &flow))

	stored, err = p.Flows().GetByID(ctx, flow.ID)
	require.NoError(t, err)
	assert.Equal(t, "Renamed", stored.Name)
	assert.True(t, stored.IsActive)

	_, err = p.Flows().GetByID(ctx, uuid.NewString())
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)

	_, err = p.Flows().GetByID(ctx, "not-a-uuid")
	require.ErrorIs(t, err, persistence.ErrFlowNotFound)
}

func TestFlowRepository_ListAndDelete(t *testing.T) {
	p, ctx, _ := setupTestDB(t)

	for _, name := range []string{"Bravo", "Alpha"} {
		flow := models.Flow{Name: name, Graph: graph.NewTemplate(), IsActive: name == "Alpha"}
		require.NoError(t, p.Flows().Save(ctx, &flow))
	}

	flows, err := p.Flows().List(ctx, persistence.ListOptions{SortBy: "name", SortOrder: "asc"})
	require.NoError(t, err)
	require.Len(t, flows, 2)
	assert.Equal(t, "Alpha", flows[0].Name)

	active, err := p.Flows().List(ctx, persistence.ListOptions{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)

	require.NoError(t, p.Flows().Delete(ctx, active[0].ID))
	require.ErrorIs(t, p.Flows().Delete(ctx, active[0].ID), persistence.ErrFlowNotFound)

	flows, err = p.Flows().List(ctx, persistence.ListOptions{})
	require.NoError(t, err)
	require.Len(t, flows, 1)
	assert.Equal(t, "Bravo", flows[0].Name)
}
