// Package wire converts flows to and from the JSON document exchanged with
// the backend and stored in flow_data columns.
package wire

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/dukex/leadflow/pkg/models"
	"github.com/dukex/leadflow/pkg/registry"
)

// ErrMalformed indicates a flow document that cannot be turned into a graph.
var ErrMalformed = errors.New("malformed flow document")

// Flow is the wire form of models.Flow.
type Flow struct {
	ID        string    `json:"id,omitempty"`
	Name      string    `json:"name"`
	FlowData  FlowData  `json:"flow_data"`
	IsActive  bool      `json:"is_active"`
	CreatedAt time.Time `json:"created_at,omitzero"`
	UpdatedAt time.Time `json:"updated_at,omitzero"`
}

// FlowData is the graph document understood by the flow editor canvas.
type FlowData struct {
	Nodes []Node `json:"nodes"`
	Edges []Edge `json:"edges"`
}

// Node is a canvas node. Type carries the node kind.
type Node struct {
	ID       string          `json:"id"`
	Type     string          `json:"type"`
	Data     NodeData        `json:"data"`
	Position models.Position `json:"position"`
}

// NodeData holds the label and the kind-specific config of a node.
type NodeData struct {
	Label         string         `json:"label"`
	ConditionData map[string]any `json:"conditionData,omitempty"`
	ActionType    string         `json:"actionType,omitempty"`
	ActionData    map[string]any `json:"actionData,omitempty"`
}

// Edge is a canvas edge. Condition branches are written to both SourceHandle,
// the id of the condition's "true" or "false" output handle, and Type. On read
// SourceHandle wins and Type is the fallback.
type Edge struct {
	ID           string `json:"id"`
	Source       string `json:"source"`
	Target       string `json:"target"`
	SourceHandle string `json:"sourceHandle,omitempty"`
	Type         string `json:"type,omitempty"`
	Animated     bool   `json:"animated,omitempty"`
}

// Codec encodes and decodes flows using the config registry.
type Codec struct {
	registry *registry.Registry
}

// NewCodec creates a codec backed by reg.
func NewCodec(reg *registry.Registry) *Codec {
	return &Codec{registry: reg}
}

// Marshal returns the JSON document of flow.
func (c *Codec) Marshal(flow models.Flow) ([]byte, error) {
	doc, err := c.EncodeFlow(flow)
	if err != nil {
		return nil, err
	}

	return json.Marshal(doc)
}

// Unmarshal parses a JSON flow document.
func (c *Codec) Unmarshal(data []byte) (models.Flow, error) {
	var doc Flow

	err := json.Unmarshal(data, &doc)
	if err != nil {
		return models.Flow{}, fmt.Errorf("%w: %w", ErrMalformed, err)
	}

	return c.DecodeFlow(doc)
}

// EncodeFlow converts a flow to its wire form.
func (c *Codec) EncodeFlow(flow models.Flow) (Flow, error) {
	data, err := c.EncodeGraph(flow.Graph)
	if err != nil {
		return Flow{}, err
	}

	return Flow{
		ID:        flow.ID,
		Name:      flow.Name,
		FlowData:  data,
		IsActive:  flow.IsActive,
		CreatedAt: flow.CreatedAt,
		UpdatedAt: flow.UpdatedAt,
	}, nil
}

// DecodeFlow converts a wire flow to the domain model.
func (c *Codec) DecodeFlow(doc Flow) (models.Flow, error) {
	g, err := c.DecodeGraph(doc.FlowData)
	if err != nil {
		return models.Flow{}, err
	}

	return models.Flow{
		ID:        doc.ID,
		Name:      doc.Name,
		Graph:     g,
		IsActive:  doc.IsActive,
		CreatedAt: doc.CreatedAt,
		UpdatedAt: doc.UpdatedAt,
	}, nil
}

// EncodeGraph converts a graph to flow data with nodes and edges sorted by id.
func (c *Codec) EncodeGraph(g models.Graph) (FlowData, error) {
	data := FlowData{
		Nodes: make([]Node, 0, len(g.Nodes)),
		Edges: make([]Edge, 0, len(g.Edges)),
	}

	for _, id := range g.NodeIDs() {
		node := g.Nodes[id]

		nodeData, err := c.encodeNodeData(node)
		if err != nil {
			return FlowData{}, fmt.Errorf("failed to encode node %s: %w", id, err)
		}

		data.Nodes = append(data.Nodes, Node{
			ID:       node.ID,
			Type:     string(node.Kind),
			Data:     nodeData,
			Position: node.Position,
		})
	}

	for _, id := range g.EdgeIDs() {
		edge := g.Edges[id]

		data.Edges = append(data.Edges, Edge{
			ID:           edge.ID,
			Source:       edge.Source,
			Target:       edge.Target,
			SourceHandle: string(edge.Branch),
			Type:         string(edge.Branch),
		})
	}

	return data, nil
}

func (c *Codec) encodeNodeData(node models.Node) (NodeData, error) {
	data := NodeData{Label: node.Label}

	switch node.Kind {
	case models.KindCondition:
		payload, err := c.registry.Encode(node.Config)
		if err != nil {
			return NodeData{}, err
		}

		data.ConditionData = payload
	case models.KindAction:
		payload, err := c.registry.Encode(node.Config)
		if err != nil {
			return NodeData{}, err
		}

		if node.Config != nil {
			data.ActionType = node.Config.Subtype()
		}

		data.ActionData = payload
	}

	return data, nil
}

// DecodeGraph converts flow data to a graph. Node configs are validated against
// the registry; structural problems such as dangling edges are kept so the
// validator can report them.
func (c *Codec) DecodeGraph(data FlowData) (models.Graph, error) {
	g := models.NewGraph()

	for _, wireNode := range data.Nodes {
		if wireNode.ID == "" {
			return models.Graph{}, fmt.Errorf("%w: node without id", ErrMalformed)
		}

		if _, exists := g.Nodes[wireNode.ID]; exists {
			return models.Graph{}, fmt.Errorf("%w: duplicate node id %s", ErrMalformed, wireNode.ID)
		}

		node, err := c.decodeNode(wireNode)
		if err != nil {
			return models.Graph{}, fmt.Errorf("%w: node %s: %w", ErrMalformed, wireNode.ID, err)
		}

		g.Nodes[node.ID] = node
	}

	for _, wireEdge := range data.Edges {
		if wireEdge.ID == "" {
			return models.Graph{}, fmt.Errorf("%w: edge without id", ErrMalformed)
		}

		if _, exists := g.Edges[wireEdge.ID]; exists {
			return models.Graph{}, fmt.Errorf("%w: duplicate edge id %s", ErrMalformed, wireEdge.ID)
		}

		g.Edges[wireEdge.ID] = models.Edge{
			ID:     wireEdge.ID,
			Source: wireEdge.Source,
			Target: wireEdge.Target,
			Branch: edgeBranch(wireEdge),
		}
	}

	return g, nil
}

func (c *Codec) decodeNode(wireNode Node) (models.Node, error) {
	kind := models.Kind(wireNode.Type)
	if !kind.Valid() {
		return models.Node{}, fmt.Errorf("unknown node type %q", wireNode.Type)
	}

	var (
		config models.Config
		err    error
	)

	switch kind {
	case models.KindCondition:
		if wireNode.Data.ConditionData == nil {
			config, err = c.registry.DefaultsFor(kind, "")

			break
		}

		config, err = c.registry.Decode(kind, "", wireNode.Data.ConditionData)
	case models.KindAction:
		if wireNode.Data.ActionType == "" {
			config, err = untypedAction(wireNode.Data.ActionData)

			break
		}

		config, err = c.registry.Decode(kind, wireNode.Data.ActionType, wireNode.Data.ActionData)
	default:
		config, err = c.registry.DefaultsFor(kind, "")
	}

	if err != nil {
		return models.Node{}, err
	}

	return models.Node{
		ID:       wireNode.ID,
		Kind:     kind,
		Label:    wireNode.Data.Label,
		Config:   config,
		Position: wireNode.Position,
	}, nil
}

// untypedAction keeps the payload of an action saved without a tag. It is
// never defaulted to update_lead.
func untypedAction(payload map[string]any) (models.Config, error) {
	if len(payload) == 0 {
		return models.UnknownActionConfig{}, nil
	}

	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal action payload: %w", err)
	}

	return models.UnknownActionConfig{Raw: raw}, nil
}

func edgeBranch(edge Edge) models.Branch {
	if branch := models.Branch(edge.SourceHandle); branch.Valid() {
		return branch
	}

	if branch := models.Branch(edge.Type); branch.Valid() {
		return branch
	}

	return models.BranchNone
}
