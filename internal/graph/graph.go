// Package graph turns a desired-state specification into a validated
// DAG of resource nodes and dependency edges. Edges are derived from
// ref:// expressions in node configs plus explicit depends_on entries.
package graph

import "github.com/stackform-io/stackform/internal/ir"

// Graph is a validated acyclic dependency graph over stack nodes.
// An edge A -> B means A depends on B: B applies first, and on
// teardown A is deleted before B.
type Graph struct {
	stack      string
	nodes      map[string]*ir.Node
	deps       map[string][]string
	dependents map[string][]string
	order      []string
}

// Stack returns the stack name the graph was built for.
func (g *Graph) Stack() string {
	return g.stack
}

// Len returns the number of nodes.
func (g *Graph) Len() int {
	return len(g.nodes)
}

// Node returns the node for a logical name, or nil.
func (g *Graph) Node(name string) *ir.Node {
	return g.nodes[name]
}

// Order returns logical names in topological order: every node comes
// after all of its dependencies. Safe creation order.
func (g *Graph) Order() []string {
	out := make([]string, len(g.order))
	copy(out, g.order)
	return out
}

// ReverseOrder returns the reverse topological order. Safe teardown
// order: every node comes before all of its dependencies.
func (g *Graph) ReverseOrder() []string {
	out := make([]string, len(g.order))
	for i, name := range g.order {
		out[len(g.order)-1-i] = name
	}
	return out
}

// Dependencies returns the nodes that must be applied before name.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Dependents returns the nodes that depend on name.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// TransitiveDependents returns every node reachable from name along
// dependent edges. Used to skip a failed node's whole subtree.
func (g *Graph) TransitiveDependents(name string) []string {
	seen := make(map[string]bool)
	var out []string
	var walk func(string)
	walk = func(n string) {
		for _, dep := range g.dependents[n] {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
				walk(dep)
			}
		}
	}
	walk(name)
	return out
}
