package models

import (
	"maps"
	"slices"
)

// Kind is the role a node plays in a flow.
type Kind string

const (
	KindStart     Kind = "start"     // Single entry point
	KindCondition Kind = "condition" // Two-way branch on a lead attribute
	KindAction    Kind = "action"    // Side effect against the CRM or the dialer
	KindEnd       Kind = "end"       // Terminal node
)

// Kinds lists every node kind in display order.
func Kinds() []Kind {
	return []Kind{KindStart, KindCondition, KindAction, KindEnd}
}

// Valid reports whether k is a known node kind.
func (k Kind) Valid() bool {
	return slices.Contains(Kinds(), k)
}

// Position is canvas metadata. Nothing outside the editor interprets it.
type Position struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// Node is a vertex of the flow graph.
type Node struct {
	ID       string
	Kind     Kind
	Label    string
	Config   Config
	Position Position
}

// Clone returns a copy of the node with its own config.
func (n Node) Clone() Node {
	n.Config = CloneConfig(n.Config)

	return n
}

// Branch labels the outgoing edge of a condition node.
type Branch string

const (
	BranchNone  Branch = ""
	BranchTrue  Branch = "true"
	BranchFalse Branch = "false"
)

// Valid reports whether b is one of the two condition outcomes.
func (b Branch) Valid() bool {
	return b == BranchTrue || b == BranchFalse
}

// Edge is a directed connection between two nodes.
type Edge struct {
	ID     string
	Source string
	Target string
	Branch Branch // Set iff Source is a condition node
}

// Graph holds the nodes and edges of a flow keyed by id.
type Graph struct {
	Nodes map[string]Node
	Edges map[string]Edge
}

// NewGraph returns an empty graph ready for use.
func NewGraph() Graph {
	return Graph{
		Nodes: make(map[string]Node),
		Edges: make(map[string]Edge),
	}
}

// Clone returns a deep copy of the graph.
func (g Graph) Clone() Graph {
	clone := Graph{
		Nodes: make(map[string]Node, len(g.Nodes)),
		Edges: maps.Clone(g.Edges),
	}

	if clone.Edges == nil {
		clone.Edges = make(map[string]Edge)
	}

	for id, node := range g.Nodes {
		clone.Nodes[id] = node.Clone()
	}

	return clone
}

// NodeIDs returns the node ids in lexical order.
func (g Graph) NodeIDs() []string {
	return slices.Sorted(maps.Keys(g.Nodes))
}

// EdgeIDs returns the edge ids in lexical order.
func (g Graph) EdgeIDs() []string {
	return slices.Sorted(maps.Keys(g.Edges))
}

// StartNodes returns the ids of every start node in lexical order.
func (g Graph) StartNodes() []string {
	return g.nodesOfKind(KindStart)
}

// EndNodes returns the ids of every end node in lexical order.
func (g Graph) EndNodes() []string {
	return g.nodesOfKind(KindEnd)
}

func (g Graph) nodesOfKind(kind Kind) []string {
	ids := make([]string, 0)

	for _, id := range g.NodeIDs() {
		if g.Nodes[id].Kind == kind {
			ids = append(ids, id)
		}
	}

	return ids
}

// Outgoing returns the edges leaving nodeID in lexical edge id order.
func (g Graph) Outgoing(nodeID string) []Edge {
	edges := make([]Edge, 0)

	for _, id := range g.EdgeIDs() {
		if edge := g.Edges[id]; edge.Source == nodeID {
			edges = append(edges, edge)
		}
	}

	return edges
}
