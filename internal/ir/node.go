package ir

import (
	"fmt"
	"sort"
	"strings"
)

// Kind identifies the class of managed resource a node describes.
// Providers dispatch on it; the engine treats it as opaque.
type Kind string

const (
	KindNetwork       Kind = "Network"
	KindSecurityGroup Kind = "SecurityGroup"
	KindDatabase      Kind = "Database"
	KindFunction      Kind = "Function"
	KindApiRoute      Kind = "ApiRoute"
)

// Status is the lifecycle state of a node within a reconciliation run.
type Status string

const (
	StatusPending    Status = "pending"
	StatusApplying   Status = "applying"
	StatusApplied    Status = "applied"
	StatusFailed     Status = "failed"
	StatusSkipped    Status = "skipped"
	StatusRolledBack Status = "rolled_back"
)

// Node is one declared resource in a stack specification.
// Config values may embed ref:// expressions pointing at another
// node's output; those stay unresolved until the referenced node
// is applied.
type Node struct {
	Name      string         `yaml:"name" json:"name"`
	Kind      Kind           `yaml:"kind" json:"kind"`
	Provider  string         `yaml:"provider" json:"provider"`
	Config    map[string]any `yaml:"config" json:"config"`
	DependsOn []string       `yaml:"depends_on" json:"depends_on,omitempty"`
}

// StackSpec is the desired-state description of a whole stack.
type StackSpec struct {
	Stack string  `yaml:"stack" json:"stack"`
	Nodes []*Node `yaml:"-" json:"nodes"`
}

// RefPrefix marks a configuration value as a deferred reference to
// another node's output, e.g. "ref://database/endpoint".
const RefPrefix = "ref://"

// Ref is a parsed ref:// expression.
type Ref struct {
	Node   string
	Output string
}

func (r Ref) String() string {
	return RefPrefix + r.Node + "/" + r.Output
}

// ParseRef parses a ref:// expression. ok is false for plain values.
func ParseRef(v any) (ref Ref, ok bool) {
	s, isStr := v.(string)
	if !isStr || !strings.HasPrefix(s, RefPrefix) {
		return Ref{}, false
	}
	rest := strings.TrimPrefix(s, RefPrefix)
	node, output, found := strings.Cut(rest, "/")
	if !found || node == "" || output == "" {
		return Ref{}, false
	}
	return Ref{Node: node, Output: output}, true
}

// Refs walks a config value and collects every ref:// expression in it.
func Refs(v any) []Ref {
	var refs []Ref
	walkRefs(v, &refs)
	return refs
}

func walkRefs(v any, refs *[]Ref) {
	switch val := v.(type) {
	case string:
		if r, ok := ParseRef(val); ok {
			*refs = append(*refs, r)
		}
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			walkRefs(val[k], refs)
		}
	case []any:
		for _, item := range val {
			walkRefs(item, refs)
		}
	}
}

// Validate checks structural node fields that do not need graph context.
func (n *Node) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("node has no name")
	}
	if n.Kind == "" {
		return fmt.Errorf("node %q has no kind", n.Name)
	}
	if n.Provider == "" {
		return fmt.Errorf("node %q has no provider", n.Name)
	}
	return nil
}
