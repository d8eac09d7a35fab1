package graph

import (
	"errors"
	"fmt"

	"github.com/dukex/leadflow/pkg/registry"
)

// Edit errors. A failed edit never mutates the store.
var (
	// ErrInvalidBranch indicates a missing, duplicate or misplaced branch label.
	ErrInvalidBranch = errors.New("invalid branch")

	// ErrSelfLoop indicates an edge whose source and target are the same node.
	ErrSelfLoop = errors.New("self loop")

	// ErrDanglingReference indicates an edge endpoint that is not in the graph.
	ErrDanglingReference = errors.New("dangling reference")

	// ErrNodeNotFound indicates an unknown node id.
	ErrNodeNotFound = errors.New("node not found")

	// ErrEdgeNotFound indicates an unknown edge id.
	ErrEdgeNotFound = errors.New("edge not found")

	ErrUnknownKind    = registry.ErrUnknownKind
	ErrUnknownSubtype = registry.ErrUnknownSubtype
	ErrInvalidConfig  = registry.ErrInvalidConfig
)

// EditError wraps a rejected store mutation with the ids it concerned.
type EditError struct {
	Op     string // Store operation (e.g. "Connect", "RemoveNode")
	NodeID string // Node the edit targeted, if any
	EdgeID string // Edge the edit targeted, if any
	Err    error  // Underlying error
}

func (e *EditError) Error() string {
	switch {
	case e.EdgeID != "":
		return fmt.Sprintf("%s failed for edge %s: %v", e.Op, e.EdgeID, e.Err)
	case e.NodeID != "":
		return fmt.Sprintf("%s failed for node %s: %v", e.Op, e.NodeID, e.Err)
	default:
		return fmt.Sprintf("%s failed: %v", e.Op, e.Err)
	}
}

func (e *EditError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for edit errors.
func (e *EditError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// IsEditError reports whether err is a rejected store mutation.
func IsEditError(err error) bool {
	var editErr *EditError

	return errors.As(err, &editErr)
}
