package graph

import (
	"fmt"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorder struct {
	changes []Change
}

func (r *recorder) observe(change Change) {
	r.changes = append(r.changes, change)
}

func newTestStore(t *testing.T) (*Store, *recorder) {
	t.Helper()

	clock := time.UnixMilli(1_700_000_000_000)
	edgeSeq := 0

	store := NewStore(
		registry.NewRegistry(),
		WithClock(func() time.Time { return clock }),
		WithEdgeIDs(func() string {
			edgeSeq++

			return fmt.Sprintf("edge-%d", edgeSeq)
		}),
	)

	require.NoError(t, store.Reconcile(NewTemplate()))

	rec := &recorder{}
	store.Observe(rec.observe)

	return store, rec
}

func TestStore_AddNode(t *testing.T) {
	store, rec := newTestStore(t)

	id, err := store.AddNode(models.KindAction, "add_to_bucket", models.Position{X: 10, Y: 20})
	require.NoError(t, err)
	assert.Equal(t, "action_1700000000000", id)

	node, ok := store.Node(id)
	require.True(t, ok)
	assert.Equal(t, models.KindAction, node.Kind)
	assert.Equal(t, "Action", node.Label)
	assert.Equal(t, models.Position{X: 10, Y: 20}, node.Position)
	assert.Equal(t, models.AddToBucketConfig{Priority: 50, SchedulerStep: 1}, node.Config)

	second, err := store.AddNode(models.KindAction, "", models.Position{})
	require.NoError(t, err)
	assert.Equal(t, "action_1700000000000_2", second)

	require.Len(t, rec.changes, 2)
	assert.Equal(t, OpNodeAdded, rec.changes[0].Op)
	assert.Equal(t, []string{id}, rec.changes[0].NodeIDs)
	assert.Less(t, rec.changes[0].Revision, rec.changes[1].Revision)
}

func TestStore_AddNode_UnknownSubtype(t *testing.T) {
	store, rec := newTestStore(t)
	before := store.Snapshot()

	_, err := store.AddNode(models.KindAction, "send_sms", models.Position{})
	require.ErrorIs(t, err, ErrUnknownSubtype)
	assert.True(t, IsEditError(err))

	assert.Equal(t, before, store.Snapshot())
	assert.Empty(t, rec.changes)
}

func TestStore_RemoveNode_CascadesEdges(t *testing.T) {
	store, rec := newTestStore(t)

	cond, err := store.AddNode(models.KindCondition, "status", models.Position{})
	require.NoError(t, err)

	require.NoError(t, store.Disconnect("edge_start_1_end_1"))

	e1, err := store.Connect("start_1", cond, models.BranchNone)
	require.NoError(t, err)
	e2, err := store.Connect(cond, "end_1", models.BranchTrue)
	require.NoError(t, err)
	e3, err := store.Connect(cond, "end_1", models.BranchFalse)
	require.NoError(t, err)

	require.NoError(t, store.RemoveNode("end_1"))

	snapshot := store.Snapshot()
	assert.NotContains(t, snapshot.Nodes, "end_1")
	assert.NotContains(t, snapshot.Edges, e2)
	assert.NotContains(t, snapshot.Edges, e3)
	assert.Contains(t, snapshot.Edges, e1)
	assert.Equal(t, []string{e1}, store.IncidentEdges(cond))

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, OpNodeRemoved, last.Op)
	assert.ElementsMatch(t, []string{e2, e3}, last.EdgeIDs)

	violations := store.Validate()
	assert.Contains(t, kinds(violations), ViolationNoEnd)
	assert.Len(t, violationsFor(violations, ViolationBadBranching, cond), 1)
}

func TestStore_Connect_Errors(t *testing.T) {
	store, _ := newTestStore(t)

	cond, err := store.AddNode(models.KindCondition, "", models.Position{})
	require.NoError(t, err)

	_, err = store.Connect(cond, "end_1", models.BranchTrue)
	require.NoError(t, err)

	tests := []struct {
		name   string
		source string
		target string
		branch models.Branch
		want   error
	}{
		{"self loop", "end_1", "end_1", models.BranchNone, ErrSelfLoop},
		{"self loop on unknown node", "ghost", "ghost", models.BranchNone, ErrSelfLoop},
		{"self loop on condition", cond, cond, models.BranchFalse, ErrSelfLoop},
		{"unknown source", "ghost", "end_1", models.BranchNone, ErrDanglingReference},
		{"unknown target", "start_1", "ghost", models.BranchNone, ErrDanglingReference},
		{"condition without branch", cond, "start_1", models.BranchNone, ErrInvalidBranch},
		{"condition with bogus branch", cond, "start_1", "maybe", ErrInvalidBranch},
		{"duplicate condition branch", cond, "start_1", models.BranchTrue, ErrInvalidBranch},
		{"branch on start", "start_1", cond, models.BranchFalse, ErrInvalidBranch},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			before := store.Snapshot()
			revision := store.Revision()

			_, err := store.Connect(tt.source, tt.target, tt.branch)
			require.ErrorIs(t, err, tt.want)

			assert.Equal(t, before, store.Snapshot())
			assert.Equal(t, revision, store.Revision())
		})
	}
}

func TestStore_FailedEditDoesNotNotify(t *testing.T) {
	store, rec := newTestStore(t)

	_, err := store.Connect("start_1", "start_1", models.BranchNone)
	require.ErrorIs(t, err, ErrSelfLoop)

	assert.Empty(t, rec.changes)
}

func TestStore_Reconnect_KeepsIdentity(t *testing.T) {
	store, rec := newTestStore(t)

	act, err := store.AddNode(models.KindAction, "remove_from_dialer", models.Position{})
	require.NoError(t, err)

	require.NoError(t, store.Reconnect("edge_start_1_end_1", "start_1", act, models.BranchNone))

	edge, ok := store.Edge("edge_start_1_end_1")
	require.True(t, ok)
	assert.Equal(t, act, edge.Target)
	assert.Empty(t, store.IncidentEdges("end_1"))

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, OpEdgeUpdated, last.Op)
	assert.Equal(t, []string{act, "end_1", "start_1"}, last.NodeIDs)

	err = store.Reconnect("missing", "start_1", act, models.BranchNone)
	require.ErrorIs(t, err, ErrEdgeNotFound)
}

func TestStore_Reconnect_SameBranchIsAllowed(t *testing.T) {
	store, _ := newTestStore(t)

	cond, err := store.AddNode(models.KindCondition, "", models.Position{})
	require.NoError(t, err)

	edgeID, err := store.Connect(cond, "end_1", models.BranchTrue)
	require.NoError(t, err)

	act, err := store.AddNode(models.KindAction, "", models.Position{})
	require.NoError(t, err)

	require.NoError(t, store.Reconnect(edgeID, cond, act, models.BranchTrue))
}

func TestStore_UpdateNodeConfig(t *testing.T) {
	store, rec := newTestStore(t)

	act, err := store.AddNode(models.KindAction, "update_lead", models.Position{})
	require.NoError(t, err)

	require.NoError(t, store.UpdateNodeConfig(act, ConfigPatch{
		"pipeline_id": 10,
		"fields":      map[string]any{"city": "Lisbon"},
	}))

	node, _ := store.Node(act)
	assert.Equal(t, models.UpdateLeadConfig{PipelineID: models.NumericRefID(10), Fields: map[string]any{"city": "Lisbon"}}, node.Config)

	require.NoError(t, store.UpdateNodeConfig(act, ConfigPatch{"actionType": "add_to_bucket"}))

	node, _ = store.Node(act)
	assert.Equal(t, models.AddToBucketConfig{Priority: 50, SchedulerStep: 1}, node.Config)

	require.NoError(t, store.UpdateNodeConfig(act, ConfigPatch{"bucket_id": "b-7", "priority": 75}))

	node, _ = store.Node(act)
	assert.Equal(t, models.AddToBucketConfig{BucketID: models.NewRefID("b-7"), Priority: 75, SchedulerStep: 1}, node.Config)

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, OpNodeUpdated, last.Op)
	assert.Equal(t, []string{act}, last.NodeIDs)
}

func TestStore_UpdateNodeConfig_Errors(t *testing.T) {
	store, _ := newTestStore(t)

	err := store.UpdateNodeConfig("ghost", ConfigPatch{"priority": 1})
	require.ErrorIs(t, err, ErrNodeNotFound)

	err = store.UpdateNodeConfig("start_1", ConfigPatch{"priority": 1})
	require.ErrorIs(t, err, ErrInvalidConfig)

	act, err := store.AddNode(models.KindAction, "change_priority", models.Position{})
	require.NoError(t, err)

	err = store.UpdateNodeConfig(act, ConfigPatch{"priority": "high"})
	require.ErrorIs(t, err, ErrInvalidConfig)

	node, _ := store.Node(act)
	assert.Equal(t, models.ChangePriorityConfig{Priority: 50}, node.Config)
}

func TestStore_SubtypeChangeAlwaysYieldsDefaults(t *testing.T) {
	reg := registry.NewRegistry()

	for _, from := range models.ActionTypes() {
		for _, to := range models.ActionTypes() {
			if from == to {
				continue
			}

			t.Run(fmt.Sprintf("%s to %s", from, to), func(t *testing.T) {
				store, _ := newTestStore(t)

				act, err := store.AddNode(models.KindAction, string(from), models.Position{})
				require.NoError(t, err)

				require.NoError(t, store.UpdateNodeConfig(act, ConfigPatch{"actionType": string(to)}))

				want, err := reg.DefaultsFor(models.KindAction, string(to))
				require.NoError(t, err)

				node, _ := store.Node(act)
				assert.Equal(t, want, node.Config)
			})
		}
	}
}

func TestStore_SetLabelAndMove(t *testing.T) {
	store, rec := newTestStore(t)

	require.NoError(t, store.SetLabel("start_1", "Lead updated"))
	require.NoError(t, store.MoveNode("start_1", models.Position{X: 1, Y: 2}))

	node, _ := store.Node("start_1")
	assert.Equal(t, "Lead updated", node.Label)
	assert.Equal(t, models.Position{X: 1, Y: 2}, node.Position)

	require.Len(t, rec.changes, 2)
	assert.Equal(t, OpNodeMoved, rec.changes[1].Op)

	require.ErrorIs(t, store.MoveNode("ghost", models.Position{}), ErrNodeNotFound)
	require.ErrorIs(t, store.SetLabel("ghost", "x"), ErrNodeNotFound)
}

func TestStore_Reconcile(t *testing.T) {
	store, rec := newTestStore(t)

	_, err := store.AddNode(models.KindAction, "", models.Position{})
	require.NoError(t, err)

	server := branchingGraph()
	require.NoError(t, store.Reconcile(server))

	assert.Equal(t, server, store.Snapshot())
	assert.ElementsMatch(t, []string{"e1", "e2", "e3"}, store.IncidentEdges("cond"))

	last := rec.changes[len(rec.changes)-1]
	assert.Equal(t, OpReplaced, last.Op)
	assert.Equal(t, []string{"act", "cond", "end", "start"}, last.NodeIDs)

	server.Nodes["cond"] = node("cond", models.KindCondition, models.ConditionConfig{})
	assert.Equal(t, completeCondition(), store.Snapshot().Nodes["cond"].Config, "store must not alias the reconciled graph")
}

func TestStore_ReconcileSince(t *testing.T) {
	tests := []struct {
		name          string
		editMeanwhile bool
		wantDiscarded bool
	}{
		{name: "no edits since snapshot", editMeanwhile: false, wantDiscarded: false},
		{name: "edit since snapshot", editMeanwhile: true, wantDiscarded: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			store, _ := newTestStore(t)

			snapshot, revision := store.SnapshotAt()
			assert.Equal(t, store.Revision(), revision)
			assert.Equal(t, store.Snapshot(), snapshot)

			if tt.editMeanwhile {
				_, err := store.AddNode(models.KindAction, "", models.Position{})
				require.NoError(t, err)
			}

			discarded, err := store.ReconcileSince(branchingGraph(), revision)
			require.NoError(t, err)

			assert.Equal(t, tt.wantDiscarded, discarded)
			assert.Equal(t, branchingGraph(), store.Snapshot())
		})
	}
}

func TestStore_Reconcile_RejectsDanglingEdges(t *testing.T) {
	store, rec := newTestStore(t)
	before := store.Snapshot()

	g := branchingGraph()
	g.Edges["bad"] = models.Edge{ID: "bad", Source: "act", Target: "ghost"}

	err := store.Reconcile(g)
	require.ErrorIs(t, err, ErrDanglingReference)

	assert.Equal(t, before, store.Snapshot())
	assert.Empty(t, rec.changes)
}

func TestStore_SnapshotIsIsolated(t *testing.T) {
	store, _ := newTestStore(t)

	act, err := store.AddNode(models.KindAction, "update_lead", models.Position{})
	require.NoError(t, err)

	snapshot := store.Snapshot()
	snapshot.Nodes[act].Config.(models.UpdateLeadConfig).Fields["leak"] = true
	delete(snapshot.Nodes, "start_1")

	node, _ := store.Node(act)
	assert.Empty(t, node.Config.(models.UpdateLeadConfig).Fields)
	assert.Contains(t, store.Snapshot().Nodes, "start_1")
}

func TestStore_TemplateScenario(t *testing.T) {
	store, _ := newTestStore(t)

	assert.Empty(t, store.Validate())

	act, err := store.AddNode(models.KindAction, "add_to_bucket", models.Position{})
	require.NoError(t, err)

	node, _ := store.Node(act)
	assert.Equal(t, 50, node.Config.(models.AddToBucketConfig).Priority)
	assert.Equal(t, 1, node.Config.(models.AddToBucketConfig).SchedulerStep)
}

// TestStore_RandomEditsPreserveLocalInvariants applies random edits and checks
// after each one that the store never holds dangling edges, self loops or
// malformed branches, whatever the edit outcome.
func TestStore_RandomEditsPreserveLocalInvariants(t *testing.T) {
	store, _ := newTestStore(t)
	rng := rand.New(rand.NewPCG(42, 7))

	kindsToAdd := models.Kinds()
	branches := []models.Branch{models.BranchNone, models.BranchTrue, models.BranchFalse, "other"}

	pick := func(ids []string) string {
		if len(ids) == 0 {
			return "missing"
		}

		return ids[rng.IntN(len(ids))]
	}

	for step := range 500 {
		snapshot := store.Snapshot()
		nodeIDs := snapshot.NodeIDs()
		edgeIDs := snapshot.EdgeIDs()

		switch rng.IntN(6) {
		case 0, 1:
			_, _ = store.AddNode(kindsToAdd[rng.IntN(len(kindsToAdd))], "", models.Position{})
		case 2:
			_ = store.RemoveNode(pick(nodeIDs))
		case 3, 4:
			_, _ = store.Connect(pick(nodeIDs), pick(nodeIDs), branches[rng.IntN(len(branches))])
		case 5:
			_ = store.Disconnect(pick(edgeIDs))
		}

		assertLocalInvariants(t, store, step)
	}
}

func assertLocalInvariants(t *testing.T, store *Store, step int) {
	t.Helper()

	g := store.Snapshot()
	seen := make(map[string]bool)

	for _, id := range g.EdgeIDs() {
		edge := g.Edges[id]

		source, sourceOK := g.Nodes[edge.Source]
		_, targetOK := g.Nodes[edge.Target]

		require.True(t, sourceOK && targetOK, "step %d: dangling edge %s", step, id)
		require.NotEqual(t, edge.Source, edge.Target, "step %d: self loop %s", step, id)

		if source.Kind == models.KindCondition {
			require.True(t, edge.Branch.Valid(), "step %d: condition edge %s without branch", step, id)

			key := edge.Source + "/" + string(edge.Branch)
			require.False(t, seen[key], "step %d: duplicate branch %s", step, key)
			seen[key] = true
		} else {
			require.Equal(t, models.BranchNone, edge.Branch, "step %d: branch on non-condition edge %s", step, id)
		}

		assert.Contains(t, store.IncidentEdges(edge.Source), id)
		assert.Contains(t, store.IncidentEdges(edge.Target), id)
	}
}
