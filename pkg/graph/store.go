package graph

import (
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
	"github.com/google/uuid"
)

// Op names the mutation that produced a Change.
type Op string

const (
	OpNodeAdded   Op = "node_added"
	OpNodeRemoved Op = "node_removed"
	OpNodeUpdated Op = "node_updated"
	OpNodeMoved   Op = "node_moved"
	OpEdgeAdded   Op = "edge_added"
	OpEdgeRemoved Op = "edge_removed"
	OpEdgeUpdated Op = "edge_updated"
	OpReplaced    Op = "replaced"
)

// Change describes one successful mutation and the ids it touched.
type Change struct {
	Op       Op
	NodeIDs  []string
	EdgeIDs  []string
	Revision uint64
}

// ConfigPatch is a partial node config keyed by wire field names. Including
// the subtype key ("fieldType" or "actionType") with a new value resets the
// config to that subtype's defaults.
type ConfigPatch map[string]any

// Option configures a Store.
type Option func(*Store)

// WithClock sets the clock used for node ids.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// WithEdgeIDs sets the edge id generator.
func WithEdgeIDs(next func() string) Option {
	return func(s *Store) {
		s.nextEdgeID = next
	}
}

// Store owns the graph of one flow being edited. Every exported mutation is
// atomic: it either applies fully and notifies the observer, or returns an
// *EditError and leaves the graph unchanged. Reads are safe while another
// goroutine holds a snapshot for saving.
type Store struct {
	mu         sync.RWMutex
	registry   *registry.Registry
	graph      models.Graph
	incident   map[string]map[string]struct{} // node id -> ids of edges touching it
	revision   uint64
	observer   func(Change)
	now        func() time.Time
	nextEdgeID func() string
}

// NewStore returns an empty store.
func NewStore(reg *registry.Registry, opts ...Option) *Store {
	s := &Store{
		registry:   reg,
		graph:      models.NewGraph(),
		incident:   make(map[string]map[string]struct{}),
		now:        time.Now,
		nextEdgeID: uuid.NewString,
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Observe registers fn to receive every Change. Passing nil stops notifications.
func (s *Store) Observe(fn func(Change)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.observer = fn
}

func (s *Store) mutate(fn func() (Change, error)) error {
	change, observer, err := func() (Change, func(Change), error) {
		s.mu.Lock()
		defer s.mu.Unlock()

		change, err := fn()
		if err != nil {
			return Change{}, nil, err
		}

		s.revision++
		change.Revision = s.revision

		return change, s.observer, nil
	}()
	if err != nil {
		return err
	}

	if observer != nil {
		observer(change)
	}

	return nil
}

// AddNode creates a node of kind with the registry defaults of subtype and
// returns its id. An empty subtype selects the kind's default subtype.
func (s *Store) AddNode(kind models.Kind, subtype string, position models.Position) (string, error) {
	var id string

	err := s.mutate(func() (Change, error) {
		config, err := s.registry.DefaultsFor(kind, subtype)
		if err != nil {
			return Change{}, &EditError{Op: "AddNode", Err: err}
		}

		id = s.newNodeID(kind)
		s.graph.Nodes[id] = models.Node{
			ID:       id,
			Kind:     kind,
			Label:    DefaultLabel(kind),
			Config:   config,
			Position: position,
		}
		s.incident[id] = make(map[string]struct{})

		return Change{Op: OpNodeAdded, NodeIDs: []string{id}}, nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

func (s *Store) newNodeID(kind models.Kind) string {
	base := fmt.Sprintf("%s_%d", kind, s.now().UnixMilli())
	id := base

	for n := 2; ; n++ {
		if _, exists := s.graph.Nodes[id]; !exists {
			return id
		}

		id = fmt.Sprintf("%s_%d", base, n)
	}
}

// RemoveNode deletes a node together with every edge incident to it.
func (s *Store) RemoveNode(id string) error {
	return s.mutate(func() (Change, error) {
		if _, ok := s.graph.Nodes[id]; !ok {
			return Change{}, &EditError{Op: "RemoveNode", NodeID: id, Err: ErrNodeNotFound}
		}

		edgeIDs := slices.Sorted(maps.Keys(s.incident[id]))
		for _, edgeID := range edgeIDs {
			s.removeEdge(edgeID)
		}

		delete(s.graph.Nodes, id)
		delete(s.incident, id)

		return Change{Op: OpNodeRemoved, NodeIDs: []string{id}, EdgeIDs: edgeIDs}, nil
	})
}

// Connect adds an edge from source to target. branch must be set exactly when
// source is a condition node, and each branch may be used once per condition.
func (s *Store) Connect(source, target string, branch models.Branch) (string, error) {
	var id string

	err := s.mutate(func() (Change, error) {
		err := s.checkEdge(source, target, branch, "")
		if err != nil {
			return Change{}, &EditError{Op: "Connect", NodeID: source, Err: err}
		}

		id = s.newEdgeID()
		s.addEdge(models.Edge{ID: id, Source: source, Target: target, Branch: branch})

		return Change{Op: OpEdgeAdded, NodeIDs: []string{source, target}, EdgeIDs: []string{id}}, nil
	})
	if err != nil {
		return "", err
	}

	return id, nil
}

// Reconnect moves an existing edge to new endpoints while keeping its id.
func (s *Store) Reconnect(edgeID, source, target string, branch models.Branch) error {
	return s.mutate(func() (Change, error) {
		old, ok := s.graph.Edges[edgeID]
		if !ok {
			return Change{}, &EditError{Op: "Reconnect", EdgeID: edgeID, Err: ErrEdgeNotFound}
		}

		err := s.checkEdge(source, target, branch, edgeID)
		if err != nil {
			return Change{}, &EditError{Op: "Reconnect", EdgeID: edgeID, Err: err}
		}

		s.removeEdge(edgeID)
		s.addEdge(models.Edge{ID: edgeID, Source: source, Target: target, Branch: branch})

		nodeIDs := []string{old.Source, old.Target, source, target}
		slices.Sort(nodeIDs)
		nodeIDs = slices.Compact(nodeIDs)

		return Change{Op: OpEdgeUpdated, NodeIDs: nodeIDs, EdgeIDs: []string{edgeID}}, nil
	})
}

// Disconnect removes an edge.
func (s *Store) Disconnect(edgeID string) error {
	return s.mutate(func() (Change, error) {
		edge, ok := s.graph.Edges[edgeID]
		if !ok {
			return Change{}, &EditError{Op: "Disconnect", EdgeID: edgeID, Err: ErrEdgeNotFound}
		}

		s.removeEdge(edgeID)

		return Change{Op: OpEdgeRemoved, NodeIDs: []string{edge.Source, edge.Target}, EdgeIDs: []string{edgeID}}, nil
	})
}

func (s *Store) checkEdge(source, target string, branch models.Branch, ignoreEdgeID string) error {
	if source == target {
		return ErrSelfLoop
	}

	sourceNode, ok := s.graph.Nodes[source]
	if !ok {
		return fmt.Errorf("%w: source %s", ErrDanglingReference, source)
	}

	if _, ok := s.graph.Nodes[target]; !ok {
		return fmt.Errorf("%w: target %s", ErrDanglingReference, target)
	}

	if sourceNode.Kind != models.KindCondition {
		if branch != models.BranchNone {
			return fmt.Errorf("%w: %s node cannot have a %q branch", ErrInvalidBranch, sourceNode.Kind, branch)
		}

		return nil
	}

	if !branch.Valid() {
		return fmt.Errorf("%w: condition edges need a true or false branch", ErrInvalidBranch)
	}

	for edgeID := range s.incident[source] {
		edge := s.graph.Edges[edgeID]
		if edgeID != ignoreEdgeID && edge.Source == source && edge.Branch == branch {
			return fmt.Errorf("%w: %q branch already used by edge %s", ErrInvalidBranch, branch, edgeID)
		}
	}

	return nil
}

func (s *Store) newEdgeID() string {
	for {
		id := s.nextEdgeID()
		if _, exists := s.graph.Edges[id]; !exists {
			return id
		}
	}
}

func (s *Store) addEdge(edge models.Edge) {
	s.graph.Edges[edge.ID] = edge
	s.incident[edge.Source][edge.ID] = struct{}{}
	s.incident[edge.Target][edge.ID] = struct{}{}
}

func (s *Store) removeEdge(edgeID string) {
	edge := s.graph.Edges[edgeID]

	delete(s.incident[edge.Source], edgeID)
	delete(s.incident[edge.Target], edgeID)
	delete(s.graph.Edges, edgeID)
}

// UpdateNodeConfig applies patch to the config of node id.
func (s *Store) UpdateNodeConfig(id string, patch ConfigPatch) error {
	return s.mutate(func() (Change, error) {
		node, ok := s.graph.Nodes[id]
		if !ok {
			return Change{}, &EditError{Op: "UpdateNodeConfig", NodeID: id, Err: ErrNodeNotFound}
		}

		config, err := s.registry.Merge(node.Config, patch)
		if err != nil {
			return Change{}, &EditError{Op: "UpdateNodeConfig", NodeID: id, Err: err}
		}

		node.Config = config
		s.graph.Nodes[id] = node

		return Change{Op: OpNodeUpdated, NodeIDs: []string{id}}, nil
	})
}

// SetLabel renames a node.
func (s *Store) SetLabel(id, label string) error {
	return s.mutate(func() (Change, error) {
		node, ok := s.graph.Nodes[id]
		if !ok {
			return Change{}, &EditError{Op: "SetLabel", NodeID: id, Err: ErrNodeNotFound}
		}

		node.Label = label
		s.graph.Nodes[id] = node

		return Change{Op: OpNodeUpdated, NodeIDs: []string{id}}, nil
	})
}

// MoveNode updates the canvas position of a node.
func (s *Store) MoveNode(id string, position models.Position) error {
	return s.mutate(func() (Change, error) {
		node, ok := s.graph.Nodes[id]
		if !ok {
			return Change{}, &EditError{Op: "MoveNode", NodeID: id, Err: ErrNodeNotFound}
		}

		node.Position = position
		s.graph.Nodes[id] = node

		return Change{Op: OpNodeMoved, NodeIDs: []string{id}}, nil
	})
}

// Reconcile replaces the whole graph, typically with the one the backend
// returned after a save or load. A graph with edges pointing at missing nodes
// is rejected and the current graph kept.
func (s *Store) Reconcile(g models.Graph) error {
	return s.mutate(func() (Change, error) {
		return s.replace(g)
	})
}

// ReconcileSince is Reconcile for a graph derived from the snapshot taken at
// revision. It reports whether edits made after that revision were replaced.
func (s *Store) ReconcileSince(g models.Graph, revision uint64) (discarded bool, err error) {
	err = s.mutate(func() (Change, error) {
		change, err := s.replace(g)
		if err != nil {
			return Change{}, err
		}

		discarded = s.revision != revision

		return change, nil
	})

	return discarded, err
}

func (s *Store) replace(g models.Graph) (Change, error) {
	next := g.Clone()

	incident := make(map[string]map[string]struct{}, len(next.Nodes))
	for id := range next.Nodes {
		incident[id] = make(map[string]struct{})
	}

	for _, edgeID := range next.EdgeIDs() {
		edge := next.Edges[edgeID]

		_, sourceOK := incident[edge.Source]
		_, targetOK := incident[edge.Target]

		if !sourceOK || !targetOK {
			return Change{}, &EditError{Op: "Reconcile", EdgeID: edgeID, Err: ErrDanglingReference}
		}

		incident[edge.Source][edgeID] = struct{}{}
		incident[edge.Target][edgeID] = struct{}{}
	}

	s.graph = next
	s.incident = incident

	return Change{Op: OpReplaced, NodeIDs: next.NodeIDs(), EdgeIDs: next.EdgeIDs()}, nil
}

// Snapshot returns a deep copy of the current graph.
func (s *Store) Snapshot() models.Graph {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.graph.Clone()
}

// SnapshotAt returns a deep copy of the current graph together with the
// revision it was taken at.
func (s *Store) SnapshotAt() (models.Graph, uint64) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.graph.Clone(), s.revision
}

// Node returns a copy of node id.
func (s *Store) Node(id string) (models.Node, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	node, ok := s.graph.Nodes[id]

	return node.Clone(), ok
}

// Edge returns edge id.
func (s *Store) Edge(id string) (models.Edge, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	edge, ok := s.graph.Edges[id]

	return edge, ok
}

// IncidentEdges returns the ids of every edge touching node id.
func (s *Store) IncidentEdges(id string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return slices.Sorted(maps.Keys(s.incident[id]))
}

// Revision returns a counter incremented by every successful mutation.
func (s *Store) Revision() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.revision
}

// Validate runs Validate on the current graph.
func (s *Store) Validate() []Violation {
	return Validate(s.Snapshot())
}

// DefaultLabel returns the label given to new nodes of kind.
func DefaultLabel(kind models.Kind) string {
	switch kind {
	case models.KindStart:
		return "Start"
	case models.KindCondition:
		return "Condition"
	case models.KindAction:
		return "Action"
	case models.KindEnd:
		return "End"
	default:
		return string(kind)
	}
}

// NewTemplate returns the graph of a freshly created flow: a start node wired
// to an end node.
func NewTemplate() models.Graph {
	g := models.NewGraph()

	g.Nodes["start_1"] = models.Node{
		ID:       "start_1",
		Kind:     models.KindStart,
		Label:    DefaultLabel(models.KindStart),
		Config:   models.StartConfig{},
		Position: models.Position{X: 250, Y: 50},
	}
	g.Nodes["end_1"] = models.Node{
		ID:       "end_1",
		Kind:     models.KindEnd,
		Label:    DefaultLabel(models.KindEnd),
		Config:   models.EndConfig{},
		Position: models.Position{X: 250, Y: 300},
	}
	g.Edges["edge_start_1_end_1"] = models.Edge{
		ID:     "edge_start_1_end_1",
		Source: "start_1",
		Target: "end_1",
	}

	return g
}
