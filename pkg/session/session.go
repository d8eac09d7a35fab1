// Package session ties a graph store to the persistence adapter for one flow
// being edited.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
)

var ErrSaveInProgress = errors.New("a save is already in progress")

// Adapter loads and stores flows. *client.Client satisfies it.
type Adapter interface {
	Load(ctx context.Context, id string) (models.Flow, error)
	Save(ctx context.Context, flow models.Flow) (models.Flow, error)
}

// SaveResult describes a completed save.
type SaveResult struct {
	Flow models.Flow
	// Violations found before the save. They never block a draft save.
	Violations []graph.Violation
	// DiscardedEdits is set when the graph was edited while the request was in
	// flight; those edits were replaced by the backend's version.
	DiscardedEdits bool
}

type meta struct {
	id        string
	name      string
	isActive  bool
	createdAt time.Time
	updatedAt time.Time
}

// Session owns the graph store of one flow. Edits go through Store(); saves
// run concurrently with reads, and at most one save runs at a time.
type Session struct {
	adapter Adapter
	store   *graph.Store
	logger  *slog.Logger

	mu   sync.RWMutex
	meta meta

	saving atomic.Bool

	subMu   sync.Mutex
	subs    map[int]func(graph.Change)
	nextSub int
}

// Option configures a Session.
type Option func(*options)

type options struct {
	logger       *slog.Logger
	storeOptions []graph.Option
}

func WithLogger(logger *slog.Logger) Option {
	return func(o *options) {
		o.logger = logger
	}
}

func WithStoreOptions(opts ...graph.Option) Option {
	return func(o *options) {
		o.storeOptions = append(o.storeOptions, opts...)
	}
}

// New starts a session on an unsaved flow holding the start → end template.
func New(adapter Adapter, reg *registry.Registry, name string, opts ...Option) *Session {
	o := options{logger: slog.Default()}
	for _, opt := range opts {
		opt(&o)
	}

	s := &Session{
		adapter: adapter,
		store:   graph.NewStore(reg, o.storeOptions...),
		logger:  o.logger.With("module", "session"),
		meta:    meta{name: name},
		subs:    make(map[int]func(graph.Change)),
	}

	// The template has no dangling edges.
	_ = s.store.Reconcile(graph.NewTemplate())
	s.store.Observe(s.publish)

	return s
}

// Store returns the graph store edits are applied to.
func (s *Session) Store() *graph.Store {
	return s.store
}

// Subscribe registers fn for every store change. The returned function
// removes the subscription.
func (s *Session) Subscribe(fn func(graph.Change)) (cancel func()) {
	s.subMu.Lock()
	defer s.subMu.Unlock()

	id := s.nextSub
	s.nextSub++
	s.subs[id] = fn

	return func() {
		s.subMu.Lock()
		defer s.subMu.Unlock()

		delete(s.subs, id)
	}
}

func (s *Session) publish(change graph.Change) {
	s.subMu.Lock()
	subs := subscribers(s.subs)
	s.subMu.Unlock()

	for _, fn := range subs {
		fn(change)
	}
}

func subscribers(subs map[int]func(graph.Change)) []func(graph.Change) {
	out := make([]func(graph.Change), 0, len(subs))
	for _, id := range slices.Sorted(maps.Keys(subs)) {
		out = append(out, subs[id])
	}

	return out
}

// Flow returns the current flow, graph included.
func (s *Session) Flow() models.Flow {
	return s.flowWith(s.store.Snapshot())
}

func (s *Session) flowWith(g models.Graph) models.Flow {
	s.mu.RLock()
	m := s.meta
	s.mu.RUnlock()

	return models.Flow{
		ID:        m.id,
		Name:      m.name,
		Graph:     g,
		IsActive:  m.isActive,
		CreatedAt: m.createdAt,
		UpdatedAt: m.updatedAt,
	}
}

// Rename changes the flow name. It is persisted by the next save.
func (s *Session) Rename(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta.name = name
}

// Load replaces the session's flow with the stored flow id.
func (s *Session) Load(ctx context.Context, id string) error {
	flow, err := s.adapter.Load(ctx, id)
	if err != nil {
		return fmt.Errorf("failed to load flow %s: %w", id, err)
	}

	err = s.store.Reconcile(flow.Graph)
	if err != nil {
		return fmt.Errorf("failed to load flow %s: %w", id, err)
	}

	s.setMeta(flow)
	s.logger.InfoContext(ctx, "flow loaded", "flow_id", id, "nodes", len(flow.Graph.Nodes))

	return nil
}

// SaveDraft stores the flow without changing its active flag. Violations are
// reported in the result but do not prevent the save.
func (s *Session) SaveDraft(ctx context.Context) (SaveResult, error) {
	s.mu.RLock()
	active := s.meta.isActive
	s.mu.RUnlock()

	return s.save(ctx, active, false)
}

// Activate validates the graph and saves it as active. A graph with
// violations is refused with *graph.StructuralError before anything is sent.
// The graph sent is the one that was validated. When the save fails the
// active flag keeps its previous value.
func (s *Session) Activate(ctx context.Context) (SaveResult, error) {
	return s.save(ctx, true, true)
}

// Deactivate saves the flow as inactive.
func (s *Session) Deactivate(ctx context.Context) (SaveResult, error) {
	return s.save(ctx, false, false)
}

func (s *Session) save(ctx context.Context, active, strict bool) (SaveResult, error) {
	if !s.saving.CompareAndSwap(false, true) {
		return SaveResult{}, ErrSaveInProgress
	}
	defer s.saving.Store(false)

	g, revision := s.store.SnapshotAt()

	violations := graph.Validate(g)
	if strict && len(violations) > 0 {
		return SaveResult{}, &graph.StructuralError{Violations: violations}
	}

	s.mu.Lock()
	previous := s.meta.isActive
	s.meta.isActive = active
	s.mu.Unlock()

	flow := s.flowWith(g)

	saved, err := s.adapter.Save(ctx, flow)
	if err != nil {
		s.mu.Lock()
		s.meta.isActive = previous
		s.mu.Unlock()

		s.logger.WarnContext(ctx, "save failed", "flow_id", flow.ID, "error", err)

		return SaveResult{}, err
	}

	discarded, err := s.store.ReconcileSince(saved.Graph, revision)
	if err != nil {
		s.mu.Lock()
		s.meta.isActive = previous
		s.mu.Unlock()

		return SaveResult{}, fmt.Errorf("backend returned an unusable graph: %w", err)
	}

	s.setMeta(saved)

	if discarded {
		s.logger.WarnContext(ctx, "edits made during save were replaced", "flow_id", saved.ID)
	}

	return SaveResult{Flow: saved, Violations: violations, DiscardedEdits: discarded}, nil
}

func (s *Session) setMeta(flow models.Flow) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.meta = meta{
		id:        flow.ID,
		name:      flow.Name,
		isActive:  flow.IsActive,
		createdAt: flow.CreatedAt,
		updatedAt: flow.UpdatedAt,
	}
}
