package graph

import (
	"fmt"
	"strings"

	"github.com/stackform-io/stackform/internal/ir"
)

// CycleError reports a dependency cycle in the specification. The
// builder fails before any provider call is made.
type CycleError struct {
	// Nodes are the logical names participating in the cycle, sorted.
	Nodes []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle between nodes: %s", strings.Join(e.Nodes, ", "))
}

// DuplicateNameError reports two declarations sharing a logical name.
type DuplicateNameError struct {
	Name string
}

func (e *DuplicateNameError) Error() string {
	return fmt.Sprintf("duplicate node name %q", e.Name)
}

// UnknownReferenceError reports a reference to a node that does not
// exist, or to an output field the provider does not declare.
type UnknownReferenceError struct {
	Node string // the node whose config holds the reference
	Ref  ir.Ref
	// MissingOutput is true when the target node exists but the
	// referenced output field is not declared by its provider.
	MissingOutput bool
}

func (e *UnknownReferenceError) Error() string {
	if e.MissingOutput {
		return fmt.Sprintf("node %q references unknown output %q of node %q", e.Node, e.Ref.Output, e.Ref.Node)
	}
	return fmt.Sprintf("node %q references unknown node %q", e.Node, e.Ref.Node)
}
