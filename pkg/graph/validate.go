// Package graph validates flow graphs and provides the in-memory store the
// editor mutates.
package graph

import (
	"errors"
	"fmt"
	"slices"
	"strconv"
	"strings"

	"github.com/dukex/leadflow/pkg/models"
)

// ViolationKind classifies a structural problem found by Validate.
type ViolationKind string

const (
	ViolationMultipleStarts   ViolationKind = "multiple_starts"
	ViolationNoStart          ViolationKind = "no_start"
	ViolationNoEnd            ViolationKind = "no_end"
	ViolationUnreachableNode  ViolationKind = "unreachable_node"
	ViolationBadBranching     ViolationKind = "bad_branching"
	ViolationDanglingEdge     ViolationKind = "dangling_edge"
	ViolationIncompleteConfig ViolationKind = "incomplete_config"
)

const (
	minPriority = 0
	maxPriority = 100
)

// Violation is one structural problem, attached to the node or edge that causes it.
type Violation struct {
	Kind    ViolationKind `json:"kind"`
	NodeID  string        `json:"node_id,omitempty"`
	EdgeID  string        `json:"edge_id,omitempty"`
	Message string        `json:"message"`
}

func (v Violation) String() string {
	switch {
	case v.NodeID != "":
		return fmt.Sprintf("%s (node %s): %s", v.Kind, v.NodeID, v.Message)
	case v.EdgeID != "":
		return fmt.Sprintf("%s (edge %s): %s", v.Kind, v.EdgeID, v.Message)
	default:
		return fmt.Sprintf("%s: %s", v.Kind, v.Message)
	}
}

// ErrInvalidGraph is matched by every StructuralError.
var ErrInvalidGraph = errors.New("invalid flow graph")

// StructuralError reports the violations that prevent a flow from being activated.
type StructuralError struct {
	Violations []Violation
}

func (e *StructuralError) Error() string {
	messages := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		messages = append(messages, v.String())
	}

	return fmt.Sprintf("flow has %d structural violation(s): %s", len(e.Violations), strings.Join(messages, "; "))
}

func (e *StructuralError) Unwrap() error {
	return ErrInvalidGraph
}

// Check returns a *StructuralError when g has violations and nil otherwise.
func Check(g models.Graph) error {
	violations := Validate(g)
	if len(violations) == 0 {
		return nil
	}

	return &StructuralError{Violations: violations}
}

// Validate returns every structural violation of g. The result is empty for an
// executable graph and is ordered deterministically.
func Validate(g models.Graph) []Violation {
	violations := make([]Violation, 0)

	starts := g.StartNodes()
	switch {
	case len(starts) == 0:
		violations = append(violations, Violation{
			Kind:    ViolationNoStart,
			Message: "flow has no start node",
		})
	case len(starts) > 1:
		for _, id := range starts {
			violations = append(violations, Violation{
				Kind:    ViolationMultipleStarts,
				NodeID:  id,
				Message: fmt.Sprintf("flow has %d start nodes, expected exactly one", len(starts)),
			})
		}
	}

	if len(g.EndNodes()) == 0 {
		violations = append(violations, Violation{
			Kind:    ViolationNoEnd,
			Message: "flow has no end node",
		})
	}

	outgoing := make(map[string][]models.Edge, len(g.Nodes))
	incoming := make(map[string]int, len(g.Nodes))

	for _, id := range g.EdgeIDs() {
		edge := g.Edges[id]

		_, sourceOK := g.Nodes[edge.Source]
		_, targetOK := g.Nodes[edge.Target]

		if !sourceOK || !targetOK {
			violations = append(violations, Violation{
				Kind:    ViolationDanglingEdge,
				EdgeID:  id,
				Message: fmt.Sprintf("edge %s -> %s references a missing node", edge.Source, edge.Target),
			})

			continue
		}

		outgoing[edge.Source] = append(outgoing[edge.Source], edge)
		incoming[edge.Target]++
	}

	reachable := reach(starts, outgoing)

	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]

		if len(starts) > 0 && !reachable[id] {
			violations = append(violations, Violation{
				Kind:    ViolationUnreachableNode,
				NodeID:  id,
				Message: "node is not reachable from the start node",
			})
		}

		if message := branchingProblem(node, outgoing[id], incoming[id]); message != "" {
			violations = append(violations, Violation{
				Kind:    ViolationBadBranching,
				NodeID:  id,
				Message: message,
			})
		}

		if problems := configProblems(node); len(problems) > 0 {
			violations = append(violations, Violation{
				Kind:    ViolationIncompleteConfig,
				NodeID:  id,
				Message: strings.Join(problems, "; "),
			})
		}
	}

	return violations
}

// reach runs one breadth-first traversal from every start node.
func reach(starts []string, outgoing map[string][]models.Edge) map[string]bool {
	visited := make(map[string]bool)
	queue := slices.Clone(starts)

	for _, id := range starts {
		visited[id] = true
	}

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		for _, edge := range outgoing[current] {
			if visited[edge.Target] {
				continue
			}

			visited[edge.Target] = true
			queue = append(queue, edge.Target)
		}
	}

	return visited
}

func branchingProblem(node models.Node, out []models.Edge, in int) string {
	switch node.Kind {
	case models.KindStart:
		if in > 0 {
			return "start node must not have incoming edges"
		}

		if len(out) != 1 {
			return fmt.Sprintf("start node must have exactly one outgoing edge, has %d", len(out))
		}
	case models.KindCondition:
		branches := make(map[models.Branch]int, 2)
		for _, edge := range out {
			branches[edge.Branch]++
		}

		if len(out) != 2 || branches[models.BranchTrue] != 1 || branches[models.BranchFalse] != 1 {
			return fmt.Sprintf("condition node must have one true and one false edge, has %d true, %d false, %d outgoing",
				branches[models.BranchTrue], branches[models.BranchFalse], len(out))
		}
	case models.KindAction:
		if len(out) != 1 {
			return fmt.Sprintf("action node must have exactly one outgoing edge, has %d", len(out))
		}
	case models.KindEnd:
		if len(out) != 0 {
			return fmt.Sprintf("end node must not have outgoing edges, has %d", len(out))
		}
	default:
		return fmt.Sprintf("unknown node kind %q", node.Kind)
	}

	if node.Kind != models.KindCondition {
		for _, edge := range out {
			if edge.Branch != models.BranchNone {
				return fmt.Sprintf("edge %s carries a branch but its source is not a condition", edge.ID)
			}
		}
	}

	return ""
}

func configProblems(node models.Node) []string {
	if node.Config == nil {
		return []string{"config is missing"}
	}

	if node.Config.Kind() != node.Kind {
		return []string{fmt.Sprintf("%s config on a %s node", node.Config.Kind(), node.Kind)}
	}

	problems := make([]string, 0)

	switch config := node.Config.(type) {
	case models.ConditionConfig:
		if !slices.Contains(models.FieldTypes(), config.FieldType) {
			problems = append(problems, fmt.Sprintf("unknown field type %q", config.FieldType))
		}

		if !slices.Contains(models.Operators(), config.Operator) {
			problems = append(problems, fmt.Sprintf("unknown operator %q", config.Operator))
		}

		if config.FieldType == models.FieldTypeCRMField && strings.TrimSpace(config.Field) == "" {
			problems = append(problems, "field is required")
		}

		if config.Value == nil {
			problems = append(problems, "value is required")
		} else if config.Operator == models.OperatorGreaterThan || config.Operator == models.OperatorLessThan {
			if !isNumeric(config.Value) {
				problems = append(problems, fmt.Sprintf("value must be numeric for %s", config.Operator))
			}
		}
	case models.UpdateLeadConfig:
		if !config.StatusID.IsZero() && config.PipelineID.IsZero() {
			problems = append(problems, "status requires a pipeline")
		}
	case models.AddToBucketConfig:
		if config.BucketID.IsZero() {
			problems = append(problems, "bucket is required")
		}

		if config.SchedulerID.IsZero() {
			problems = append(problems, "scheduler is required")
		}

		problems = append(problems, priorityProblems(config.Priority)...)
		problems = append(problems, stepProblems(config.SchedulerStep)...)
	case models.ChangePriorityConfig:
		problems = append(problems, priorityProblems(config.Priority)...)
	case models.ChangeSchedulerStepConfig:
		problems = append(problems, stepProblems(config.SchedulerStep)...)
	case models.UnknownActionConfig:
		if config.Type == "" {
			problems = append(problems, "action type is required")
		} else {
			problems = append(problems, fmt.Sprintf("unknown action type %q", config.Type))
		}
	}

	return problems
}

func priorityProblems(priority int) []string {
	if priority < minPriority || priority > maxPriority {
		return []string{fmt.Sprintf("priority must be between %d and %d", minPriority, maxPriority)}
	}

	return nil
}

func stepProblems(step int) []string {
	if step < 1 {
		return []string{"scheduler step must be at least 1"}
	}

	return nil
}

func isNumeric(value any) bool {
	switch v := value.(type) {
	case int, int32, int64, float32, float64:
		return true
	case string:
		_, err := strconv.ParseFloat(strings.TrimSpace(v), 64)

		return err == nil
	default:
		_, err := strconv.ParseFloat(fmt.Sprint(v), 64)

		return err == nil
	}
}
