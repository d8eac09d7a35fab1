package main

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/client"
	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func runApp(t *testing.T, handler http.Handler, args ...string) (string, error) {
	t.Helper()

	apiURL := "http://127.0.0.1:0"

	if handler != nil {
		server := httptest.NewServer(handler)
		t.Cleanup(server.Close)

		apiURL = server.URL
	}

	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out

	argv := append([]string{"leadflow", "--api-url", apiURL, "--timeout", "5s"}, args...)
	err := app.Run(context.Background(), argv)

	return out.String(), err
}

func respondJSON(t *testing.T, w http.ResponseWriter, status int, body any) {
	t.Helper()

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	assert.NoError(t, json.NewEncoder(w).Encode(body))
}

func writeFlowFile(t *testing.T, g models.Graph) string {
	t.Helper()

	codec := wire.NewCodec(registry.NewRegistry())

	data, err := codec.Marshal(models.Flow{ID: "flow-1", Name: "Routing", Graph: g})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "flow.json")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	return path
}

func TestList(t *testing.T) {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /api/v1/flows", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(t, w, http.StatusOK, []models.FlowSummary{{
			ID:        "flow-1",
			Name:      "Hot leads",
			IsActive:  true,
			NodeCount: 4,
			EdgeCount: 4,
			UpdatedAt: time.Date(2025, 3, 1, 10, 30, 0, 0, time.UTC),
		}})
	})

	out, err := runApp(t, mux, "list")
	require.NoError(t, err)

	assert.Contains(t, out, "ID")
	assert.Contains(t, out, "flow-1")
	assert.Contains(t, out, "Hot leads")
	assert.Contains(t, out, "2025-03-01 10:30")
}

func TestValidate_Local(t *testing.T) {
	tests := []struct {
		name    string
		graph   func() models.Graph
		wantErr bool
		output  string
	}{
		{
			name:   "template is valid",
			graph:  graph.NewTemplate,
			output: "Flow is valid",
		},
		{
			name: "missing end node",
			graph: func() models.Graph {
				g := graph.NewTemplate()
				delete(g.Nodes, "end_1")
				delete(g.Edges, "edge_start_1_end_1")

				return g
			},
			wantErr: true,
			output:  string(graph.ViolationNoEnd),
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := writeFlowFile(t, tt.graph())

			out, err := runApp(t, nil, "validate", path)
			if tt.wantErr {
				require.ErrorIs(t, err, errFlowInvalid)
			} else {
				require.NoError(t, err)
			}

			assert.Contains(t, out, tt.output)
		})
	}
}

func TestActivate_Rejected(t *testing.T) {
	violations := []graph.Violation{{
		Kind:    graph.ViolationBadBranching,
		NodeID:  "condition_1",
		Message: "condition node needs one true and one false edge",
	}}

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/flows/flow-1/activate", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(t, w, http.StatusUnprocessableEntity, map[string]any{
			"title":      "Unprocessable Entity",
			"violations": violations,
		})
	})

	out, err := runApp(t, mux, "activate", "flow-1")

	var rejected *client.ActivationRejectedError
	require.ErrorAs(t, err, &rejected)
	assert.Contains(t, out, "Activation rejected")
	assert.Contains(t, out, "condition_1")
}

func TestDuplicate(t *testing.T) {
	data, err := wire.NewCodec(registry.NewRegistry()).EncodeGraph(graph.NewTemplate())
	require.NoError(t, err)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/v1/flows/flow-1/duplicate", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(t, w, http.StatusCreated, wire.Flow{ID: "flow-2", Name: "Routing (copy)", FlowData: data})
	})

	out, err := runApp(t, mux, "duplicate", "flow-1")
	require.NoError(t, err)

	assert.Equal(t, "flow-2\n", out)
}

func TestFlowIDRequired(t *testing.T) {
	for _, command := range []string{"get", "activate", "deactivate", "duplicate", "delete"} {
		t.Run(command, func(t *testing.T) {
			_, err := runApp(t, nil, command)
			require.Error(t, err)
			assert.Contains(t, err.Error(), "flow id is required")
		})
	}
}

func TestInvalidAPIURL(t *testing.T) {
	var out bytes.Buffer

	app := NewApp()
	app.Writer = &out

	err := app.Run(context.Background(), []string{"leadflow", "--api-url", "not a url", "list"})

	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid --api-url")
}
