package graph

import (
	"fmt"
	"sort"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// SchemaLookup resolves a provider name to its declared schema, when
// one is available ahead of any provider call.
type SchemaLookup func(providerName string) (provider.Schema, bool)

// Builder validates a stack specification into a Graph. It is a pure
// transform: no provider is contacted and nothing is mutated.
type Builder struct {
	// Schema, when set, lets the builder reject references to output
	// fields the target node's provider does not declare. Without it
	// only node existence is checked.
	Schema SchemaLookup
}

// Build constructs the DAG for a specification. It fails with
// *DuplicateNameError, *UnknownReferenceError or *CycleError.
func (b *Builder) Build(spec *ir.StackSpec) (*Graph, error) {
	g := &Graph{
		stack:      spec.Stack,
		nodes:      make(map[string]*ir.Node, len(spec.Nodes)),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}

	for _, node := range spec.Nodes {
		if err := node.Validate(); err != nil {
			return nil, err
		}
		if _, exists := g.nodes[node.Name]; exists {
			return nil, &DuplicateNameError{Name: node.Name}
		}
		g.nodes[node.Name] = node
	}

	for _, node := range spec.Nodes {
		edges := make(map[string]bool)

		for _, dep := range node.DependsOn {
			if _, ok := g.nodes[dep]; !ok {
				return nil, &UnknownReferenceError{Node: node.Name, Ref: ir.Ref{Node: dep}}
			}
			edges[dep] = true
		}

		for _, ref := range ir.Refs(node.Config) {
			target, ok := g.nodes[ref.Node]
			if !ok {
				return nil, &UnknownReferenceError{Node: node.Name, Ref: ref}
			}
			if b.Schema != nil {
				if schema, ok := b.Schema(target.Provider); ok && schema.KnowsKind(target.Kind) {
					if !schema.HasOutput(target.Kind, ref.Output) {
						return nil, &UnknownReferenceError{Node: node.Name, Ref: ref, MissingOutput: true}
					}
				}
			}
			edges[ref.Node] = true
		}

		if edges[node.Name] {
			return nil, &CycleError{Nodes: []string{node.Name}}
		}

		for dep := range edges {
			g.deps[node.Name] = append(g.deps[node.Name], dep)
			g.dependents[dep] = append(g.dependents[dep], node.Name)
		}
		sort.Strings(g.deps[node.Name])
	}
	for name := range g.dependents {
		sort.Strings(g.dependents[name])
	}

	order, err := topoSort(g)
	if err != nil {
		return nil, err
	}
	g.order = order

	return g, nil
}

// FromSnapshot builds a graph out of the dependency edges recorded in
// a snapshot, for teardown of nodes no longer in the specification.
func FromSnapshot(snap *ir.Snapshot) (*Graph, error) {
	spec := &ir.StackSpec{Stack: snap.Stack}
	for _, rec := range snap.Records {
		spec.Nodes = append(spec.Nodes, &ir.Node{
			Name:      rec.Name,
			Kind:      rec.Kind,
			Provider:  rec.Provider,
			Config:    rec.Config,
			DependsOn: rec.Dependencies,
		})
	}
	b := &Builder{}
	return b.Build(spec)
}

// topoSort runs Kahn's algorithm over the dependency edges. Nodes left
// unsorted afterwards all sit on at least one cycle.
func topoSort(g *Graph) ([]string, error) {
	inDegree := make(map[string]int, len(g.nodes))
	for name := range g.nodes {
		inDegree[name] = len(g.deps[name])
	}

	var queue []string
	for name, deg := range inDegree {
		if deg == 0 {
			queue = append(queue, name)
		}
	}
	sort.Strings(queue)

	sorted := make([]string, 0, len(g.nodes))
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		sorted = append(sorted, name)

		released := make([]string, 0, len(g.dependents[name]))
		for _, dependent := range g.dependents[name] {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		sort.Strings(released)
		queue = append(queue, released...)
	}

	if len(sorted) != len(g.nodes) {
		var cycle []string
		for name := range g.nodes {
			if inDegree[name] > 0 {
				cycle = append(cycle, name)
			}
		}
		sort.Strings(cycle)
		return nil, &CycleError{Nodes: cycle}
	}

	return sorted, nil
}

// Dot renders the graph in Graphviz DOT syntax.
func (g *Graph) Dot() string {
	names := make([]string, 0, len(g.nodes))
	for name := range g.nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := "digraph " + fmt.Sprintf("%q", g.stack) + " {\n"
	for _, name := range names {
		out += fmt.Sprintf("  %q [label=%q];\n", name, string(g.nodes[name].Kind)+"\n"+name)
		for _, dep := range g.deps[name] {
			out += fmt.Sprintf("  %q -> %q;\n", name, dep)
		}
	}
	out += "}\n"
	return out
}
