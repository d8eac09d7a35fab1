// Package engine runs active flows against lead records and hands the
// reached actions to a Dispatcher.
package engine

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/dukex/leadflow/pkg/graph"
	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/otelhelper"
	"github.com/dukex/leadflow/pkg/registry"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const DefaultMaxSteps = 256

var (
	ErrFlowInactive = errors.New("flow is not active")
	ErrInvalidFlow  = errors.New("flow has structural violations")
	ErrStepLimit    = errors.New("step limit exceeded")
	ErrDeadEnd      = errors.New("no outgoing edge to follow")
)

// Action is one action node reached during a run.
type Action struct {
	NodeID  string
	Type    models.ActionType
	Payload map[string]any
}

// Dispatcher performs or forwards an action.
type Dispatcher interface {
	Dispatch(ctx context.Context, flow models.Flow, record Record, action Action) error
}

// Result describes one run of a flow.
type Result struct {
	FlowID   string
	Path     []string
	Actions  []Action
	Complete bool // the run reached an end node
	Duration time.Duration
}

type Option func(*Engine)

func WithMaxSteps(n int) Option {
	return func(e *Engine) {
		if n > 0 {
			e.maxSteps = n
		}
	}
}

func WithTracer(tracer trace.Tracer) Option {
	return func(e *Engine) {
		if tracer != nil {
			e.tracer = tracer
		}
	}
}

type Engine struct {
	registry   *registry.Registry
	dispatcher Dispatcher
	tracer     trace.Tracer
	logger     *slog.Logger
	maxSteps   int
}

func New(reg *registry.Registry, dispatcher Dispatcher, logger *slog.Logger, opts ...Option) *Engine {
	e := &Engine{
		registry:   reg,
		dispatcher: dispatcher,
		tracer:     otelhelper.NoopTracer(),
		logger:     logger.With("module", "flow_engine"),
		maxSteps:   DefaultMaxSteps,
	}

	for _, opt := range opts {
		opt(e)
	}

	return e
}

// Execute walks flow from its start node for record. Condition nodes follow
// the edge whose branch matches the evaluation; action nodes are dispatched
// in the order they are reached. A dispatch failure stops the run.
func (e *Engine) Execute(ctx context.Context, flow models.Flow, record Record) (Result, error) {
	ctx, span := otelhelper.StartSpan(ctx, e.tracer, "engine.execute",
		attribute.String(otelhelper.FlowIDKey, flow.ID),
		attribute.Int64(otelhelper.LeadIDKey, record.LeadID),
	)
	defer span.End()

	started := time.Now()

	result, err := e.run(ctx, span, flow, record)
	result.Duration = time.Since(started)

	return result, err
}

func (e *Engine) run(ctx context.Context, span trace.Span, flow models.Flow, record Record) (Result, error) {
	result := Result{FlowID: flow.ID, Path: make([]string, 0), Actions: make([]Action, 0)}

	if !flow.IsActive {
		return result, ErrFlowInactive
	}

	err := graph.Check(flow.Graph)
	if err != nil {
		otelhelper.SetError(span, err)

		return result, fmt.Errorf("%w: %w", ErrInvalidFlow, err)
	}

	logger := e.logger.With("flow_id", flow.ID, "lead_id", record.LeadID)
	current := flow.Graph.StartNodes()[0]

	for range e.maxSteps {
		if err := ctx.Err(); err != nil {
			return result, err
		}

		node := flow.Graph.Nodes[current]
		result.Path = append(result.Path, node.ID)

		next, err := e.step(ctx, flow, record, node, &result)
		if err != nil {
			otelhelper.SetError(span, err)
			logger.ErrorContext(ctx, "flow run stopped", "node_id", node.ID, "error", err)

			return result, err
		}

		if node.Kind == models.KindEnd {
			result.Complete = true
			logger.DebugContext(ctx, "flow run completed", "path", result.Path, "actions", len(result.Actions))

			return result, nil
		}

		current = next
	}

	err = fmt.Errorf("%w: %d nodes visited", ErrStepLimit, e.maxSteps)
	otelhelper.SetError(span, err)
	logger.WarnContext(ctx, "flow run aborted", "error", err)

	return result, err
}

// step handles node and returns the id of the node to visit next.
func (e *Engine) step(ctx context.Context, flow models.Flow, record Record, node models.Node, result *Result) (string, error) {
	switch node.Kind {
	case models.KindEnd:
		return "", nil
	case models.KindCondition:
		config, ok := node.Config.(models.ConditionConfig)
		if !ok {
			return "", fmt.Errorf("node %s: unexpected config %T", node.ID, node.Config)
		}

		branch := models.BranchFalse
		if Evaluate(config, record) {
			branch = models.BranchTrue
		}

		for _, edge := range flow.Graph.Outgoing(node.ID) {
			if edge.Branch == branch {
				return edge.Target, nil
			}
		}

		return "", fmt.Errorf("%w: node %s branch %s", ErrDeadEnd, node.ID, branch)
	case models.KindAction:
		action, err := e.action(node)
		if err != nil {
			return "", err
		}

		if e.dispatcher != nil {
			err = e.dispatcher.Dispatch(ctx, flow, record, action)
			if err != nil {
				return "", fmt.Errorf("failed to dispatch %s from node %s: %w", action.Type, node.ID, err)
			}
		}

		result.Actions = append(result.Actions, action)
	}

	out := flow.Graph.Outgoing(node.ID)
	if len(out) == 0 {
		return "", fmt.Errorf("%w: node %s", ErrDeadEnd, node.ID)
	}

	return out[0].Target, nil
}

func (e *Engine) action(node models.Node) (Action, error) {
	payload, err := e.registry.Encode(node.Config)
	if err != nil {
		return Action{}, fmt.Errorf("node %s: %w", node.ID, err)
	}

	return Action{
		NodeID:  node.ID,
		Type:    models.ActionType(node.Config.Subtype()),
		Payload: payload,
	}, nil
}

// ExecuteAll runs every flow for record. Flows that fail are logged and
// skipped so one broken flow does not block the others.
func (e *Engine) ExecuteAll(ctx context.Context, flows []models.Flow, record Record) []Result {
	results := make([]Result, 0, len(flows))

	for _, flow := range flows {
		result, err := e.Execute(ctx, flow, record)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return results
			}

			e.logger.WarnContext(ctx, "skipping flow", "flow_id", flow.ID, "flow_name", flow.Name, "error", err)

			continue
		}

		results = append(results, result)
	}

	return results
}
