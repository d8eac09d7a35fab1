package wire_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/dukex/leadflow/pkg/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleGraph() models.Graph {
	g := models.NewGraph()

	add := func(id string, kind models.Kind, config models.Config, x, y float64) {
		g.Nodes[id] = models.Node{
			ID:       id,
			Kind:     kind,
			Label:    graph.DefaultLabel(kind),
			Config:   config,
			Position: models.Position{X: x, Y: y},
		}
	}

	add("start_1", models.KindStart, models.StartConfig{}, 250, 50)
	add("condition_1", models.KindCondition, models.ConditionConfig{
		FieldType: models.FieldTypeCRMField,
		Field:     "512",
		Operator:  models.OperatorContains,
		Value:     "vip",
	}, 250, 120)
	add("action_1", models.KindAction, models.AddToBucketConfig{
		BucketID:      models.NewRefID("3f1c"),
		Priority:      80,
		SchedulerID:   models.NewRefID("sch-9"),
		SchedulerStep: 2,
	}, 100, 200)
	add("action_2", models.KindAction, models.UpdateLeadConfig{
		PipelineID: models.NumericRefID(7001),
		StatusID:   models.NumericRefID(142),
		Fields:     map[string]any{"city": "Lisbon"},
	}, 400, 200)
	add("end_1", models.KindEnd, models.EndConfig{}, 250, 300)

	g.Edges["e1"] = models.Edge{ID: "e1", Source: "start_1", Target: "condition_1"}
	g.Edges["e2"] = models.Edge{ID: "e2", Source: "condition_1", Target: "action_1", Branch: models.BranchTrue}
	g.Edges["e3"] = models.Edge{ID: "e3", Source: "condition_1", Target: "action_2", Branch: models.BranchFalse}
	g.Edges["e4"] = models.Edge{ID: "e4", Source: "action_1", Target: "end_1"}
	g.Edges["e5"] = models.Edge{ID: "e5", Source: "action_2", Target: "end_1"}

	return g
}

func TestCodec_RoundTrip(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	flow := models.Flow{
		ID:        "2d7c6a3e-4c1b-4b8e-9a57-9f6f0c9b1e11",
		Name:      "Hot leads",
		Graph:     sampleGraph(),
		IsActive:  true,
		CreatedAt: time.Date(2025, 1, 2, 3, 4, 5, 0, time.UTC),
		UpdatedAt: time.Date(2025, 1, 3, 3, 4, 5, 0, time.UTC),
	}

	data, err := codec.Marshal(flow)
	require.NoError(t, err)

	decoded, err := codec.Unmarshal(data)
	require.NoError(t, err)

	assert.Equal(t, flow, decoded)
	assert.Empty(t, graph.Validate(decoded.Graph))
}

func TestCodec_GraphRoundTripWithoutJSON(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	for _, g := range []models.Graph{graph.NewTemplate(), sampleGraph()} {
		data, err := codec.EncodeGraph(g)
		require.NoError(t, err)

		decoded, err := codec.DecodeGraph(data)
		require.NoError(t, err)
		assert.Equal(t, g, decoded)
	}
}

func TestCodec_DocumentShape(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	data, err := codec.Marshal(models.Flow{Name: "Hot leads", Graph: sampleGraph()})
	require.NoError(t, err)

	var doc map[string]any
	require.NoError(t, json.Unmarshal(data, &doc))

	assert.NotContains(t, doc, "id")
	assert.NotContains(t, doc, "created_at")
	assert.Equal(t, false, doc["is_active"])

	flowData := doc["flow_data"].(map[string]any)
	nodes := flowData["nodes"].([]any)
	edges := flowData["edges"].([]any)
	require.Len(t, nodes, 5)
	require.Len(t, edges, 5)

	action := nodes[0].(map[string]any)
	assert.Equal(t, "action_1", action["id"])
	assert.Equal(t, "action", action["type"])
	assert.Equal(t, map[string]any{"x": float64(100), "y": float64(200)}, action["position"])

	actionData := action["data"].(map[string]any)
	assert.Equal(t, "Action", actionData["label"])
	assert.Equal(t, "add_to_bucket", actionData["actionType"])
	assert.Equal(t, map[string]any{
		"bucket_id":      "3f1c",
		"priority":       float64(80),
		"scheduler_id":   "sch-9",
		"scheduler_step": float64(2),
	}, actionData["actionData"])

	update := nodes[1].(map[string]any)["data"].(map[string]any)["actionData"].(map[string]any)
	assert.Equal(t, float64(7001), update["pipeline_id"])

	condition := nodes[2].(map[string]any)["data"].(map[string]any)
	assert.Equal(t, map[string]any{
		"fieldType": "amocrm_field",
		"field":     "512",
		"operator":  "contains",
		"value":     "vip",
	}, condition["conditionData"])

	trueEdge := edges[1].(map[string]any)
	assert.Equal(t, "true", trueEdge["sourceHandle"])
	assert.Equal(t, "true", trueEdge["type"])
	assert.NotContains(t, edges[0].(map[string]any), "sourceHandle")
	assert.NotContains(t, edges[0].(map[string]any), "type")
}

func TestCodec_ReadsBranchFromEdgeType(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	doc := `{
		"name": "legacy",
		"flow_data": {
			"nodes": [
				{"id": "start_1", "type": "start", "data": {"label": "Start"}, "position": {"x": 0, "y": 0}},
				{"id": "c", "type": "condition", "data": {"label": "C", "conditionData": {"fieldType": "status", "operator": "equals", "value": 142}}, "position": {"x": 0, "y": 0}},
				{"id": "end_1", "type": "end", "data": {"label": "End"}, "position": {"x": 0, "y": 0}}
			],
			"edges": [
				{"id": "a", "source": "start_1", "target": "c", "animated": true},
				{"id": "b", "source": "c", "target": "end_1", "type": "true"},
				{"id": "d", "source": "c", "target": "end_1", "sourceHandle": "false", "type": "smoothstep"}
			]
		},
		"is_active": false
	}`

	flow, err := codec.Unmarshal([]byte(doc))
	require.NoError(t, err)

	assert.Equal(t, models.BranchNone, flow.Graph.Edges["a"].Branch)
	assert.Equal(t, models.BranchTrue, flow.Graph.Edges["b"].Branch)
	assert.Equal(t, models.BranchFalse, flow.Graph.Edges["d"].Branch)
	assert.Equal(t, float64(142), flow.Graph.Nodes["c"].Config.(models.ConditionConfig).Value)
	assert.Empty(t, graph.Validate(flow.Graph))
}

func TestCodec_KeepsUnknownActions(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	doc := `{"name": "future", "flow_data": {"nodes": [
		{"id": "a", "type": "action", "data": {"label": "SMS", "actionType": "send_sms", "actionData": {"template": "t-1", "delay": 5}}, "position": {"x": 0, "y": 0}}
	], "edges": []}}`

	flow, err := codec.Unmarshal([]byte(doc))
	require.NoError(t, err)

	config, ok := flow.Graph.Nodes["a"].Config.(models.UnknownActionConfig)
	require.True(t, ok)
	assert.Equal(t, models.ActionType("send_sms"), config.Type)

	violations := graph.Validate(flow.Graph)
	assert.Contains(t, violations, graph.Violation{
		Kind:    graph.ViolationIncompleteConfig,
		NodeID:  "a",
		Message: `unknown action type "send_sms"`,
	})

	data, err := codec.Marshal(flow)
	require.NoError(t, err)

	var out wire.Flow
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, "send_sms", out.FlowData.Nodes[0].Data.ActionType)
	assert.Equal(t, map[string]any{"template": "t-1", "delay": float64(5)}, out.FlowData.Nodes[0].Data.ActionData)
}

func TestCodec_KeepsDigitStringIDs(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	doc := `{"name": "dialer", "flow_data": {"nodes": [
		{"id": "a", "type": "action", "data": {"label": "Bucket", "actionType": "add_to_bucket", "actionData": {"bucket_id": "17", "priority": 50, "scheduler_id": "42", "scheduler_step": 1}}, "position": {"x": 0, "y": 0}},
		{"id": "u", "type": "action", "data": {"label": "Move", "actionType": "update_lead", "actionData": {"pipeline_id": 7001, "status_id": "142", "fields": {}}}, "position": {"x": 0, "y": 0}}
	], "edges": []}}`

	flow, err := codec.Unmarshal([]byte(doc))
	require.NoError(t, err)

	bucket := flow.Graph.Nodes["a"].Config.(models.AddToBucketConfig)
	assert.Equal(t, models.NewRefID("17"), bucket.BucketID)
	assert.False(t, bucket.SchedulerID.IsNumeric())

	data, err := codec.Marshal(flow)
	require.NoError(t, err)

	var out wire.Flow
	require.NoError(t, json.Unmarshal(data, &out))

	nodes := map[string]map[string]any{}
	for _, node := range out.FlowData.Nodes {
		nodes[node.ID] = node.Data.ActionData
	}

	assert.Equal(t, "17", nodes["a"]["bucket_id"])
	assert.Equal(t, "42", nodes["a"]["scheduler_id"])
	assert.Equal(t, float64(7001), nodes["u"]["pipeline_id"])
	assert.Equal(t, "142", nodes["u"]["status_id"])

	again, err := codec.Unmarshal(data)
	require.NoError(t, err)
	assert.Equal(t, flow.Graph, again.Graph)
}

func TestCodec_ActionWithoutType(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	tests := []struct {
		name     string
		data     map[string]any
		wantData map[string]any
	}{
		{
			name:     "payload is kept",
			data:     map[string]any{"bucket_id": "17", "priority": 60},
			wantData: map[string]any{"bucket_id": "17", "priority": float64(60)},
		},
		{
			name: "empty payload",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g, err := codec.DecodeGraph(wire.FlowData{Nodes: []wire.Node{{
				ID:   "a",
				Type: "action",
				Data: wire.NodeData{Label: "Untyped", ActionData: tt.data},
			}}})
			require.NoError(t, err)

			config, ok := g.Nodes["a"].Config.(models.UnknownActionConfig)
			require.True(t, ok)
			assert.Empty(t, config.Type)

			assert.Contains(t, graph.Validate(g), graph.Violation{
				Kind:    graph.ViolationIncompleteConfig,
				NodeID:  "a",
				Message: "action type is required",
			})

			encoded, err := codec.EncodeGraph(g)
			require.NoError(t, err)

			data, err := json.Marshal(encoded)
			require.NoError(t, err)

			var out wire.FlowData
			require.NoError(t, json.Unmarshal(data, &out))
			assert.Empty(t, out.Nodes[0].Data.ActionType)

			if tt.wantData == nil {
				assert.Empty(t, out.Nodes[0].Data.ActionData)
			} else {
				assert.Equal(t, tt.wantData, out.Nodes[0].Data.ActionData)
			}
		})
	}
}

func TestCodec_KeepsDanglingEdgesForValidation(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	flow, err := codec.DecodeFlow(wire.Flow{
		Name: "broken",
		FlowData: wire.FlowData{
			Nodes: []wire.Node{{ID: "start_1", Type: "start"}},
			Edges: []wire.Edge{{ID: "x", Source: "start_1", Target: "gone"}},
		},
	})
	require.NoError(t, err)

	violations := graph.Validate(flow.Graph)
	assert.Contains(t, violations, graph.Violation{
		Kind:    graph.ViolationDanglingEdge,
		EdgeID:  "x",
		Message: "edge start_1 -> gone references a missing node",
	})
}

func TestCodec_Malformed(t *testing.T) {
	codec := wire.NewCodec(registry.NewRegistry())

	tests := []struct {
		name string
		data wire.FlowData
	}{
		{"unknown node type", wire.FlowData{Nodes: []wire.Node{{ID: "n", Type: "loop"}}}},
		{"node without id", wire.FlowData{Nodes: []wire.Node{{Type: "start"}}}},
		{"duplicate node", wire.FlowData{Nodes: []wire.Node{{ID: "n", Type: "end"}, {ID: "n", Type: "end"}}}},
		{"duplicate edge", wire.FlowData{Edges: []wire.Edge{{ID: "e"}, {ID: "e"}}}},
		{"edge without id", wire.FlowData{Edges: []wire.Edge{{Source: "a", Target: "b"}}}},
		{
			"badly typed config",
			wire.FlowData{Nodes: []wire.Node{{
				ID:   "a",
				Type: "action",
				Data: wire.NodeData{ActionType: "change_priority", ActionData: map[string]any{"priority": "max"}},
			}}},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.DecodeGraph(tt.data)
			require.ErrorIs(t, err, wire.ErrMalformed)
		})
	}

	_, err := codec.Unmarshal([]byte(`{"flow_data": 3}`))
	require.ErrorIs(t, err, wire.ErrMalformed)
}
