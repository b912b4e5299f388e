package engine

import (
	"fmt"
	"io"
	"sort"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
)

// Report is the structured summary of a reconciliation run: every
// node's final status, the first failure, and everything skipped in
// its wake. Built even when the run succeeds.
type Report struct {
	Stack        string
	Results      []*NodeResult
	FirstFailure *NodeResult
	Cancelled    bool

	Applied int
	Failed  int
	Skipped int
	Pending int
}

// BuildReport classifies a run's outcome.
func BuildReport(res *Result) *Report {
	rep := &Report{Stack: res.Stack, Cancelled: res.Cancelled}

	for _, nr := range res.Nodes {
		rep.Results = append(rep.Results, nr)
		switch nr.Status {
		case ir.StatusApplied:
			rep.Applied++
		case ir.StatusFailed:
			rep.Failed++
			if rep.FirstFailure == nil || (!nr.StartedAt.IsZero() && nr.StartedAt.Before(rep.FirstFailure.StartedAt)) {
				rep.FirstFailure = nr
			}
		case ir.StatusSkipped:
			rep.Skipped++
		case ir.StatusPending:
			rep.Pending++
		}
	}

	sort.Slice(rep.Results, func(i, j int) bool {
		return rep.Results[i].Name < rep.Results[j].Name
	})
	return rep
}

// Render writes the per-node report in a stable order.
func (r *Report) Render(w io.Writer) {
	fmt.Fprintf(w, "Stack %s: %d applied, %d failed, %d skipped, %d pending\n",
		r.Stack, r.Applied, r.Failed, r.Skipped, r.Pending)
	if r.Cancelled {
		fmt.Fprintln(w, "Run was cancelled; in-flight nodes were allowed to finish.")
	}

	for _, nr := range r.Results {
		line := fmt.Sprintf("  %-10s %-8s %s", string(nr.Status), string(nr.Action), nr.Name)
		if nr.SkipReason != "" {
			line += " (" + nr.SkipReason + ")"
		}
		if nr.Err != nil {
			line += ": " + nr.Err.Error()
		}
		fmt.Fprintln(w, line)
	}

	if r.FirstFailure != nil {
		fmt.Fprintf(w, "First failure: %s: %v\n", r.FirstFailure.Name, r.FirstFailure.Err)
	}
}

// RollbackPlan computes the graph and changeset that reapply the
// previous snapshot over the current one. Recovery stays forward-only
// unless an operator asks for this explicitly.
func RollbackPlan(prev, cur *ir.Snapshot, schema graph.SchemaLookup) (*graph.Graph, *ir.ChangeSet, error) {
	if len(prev.Records) == 0 && prev.Serial == 0 {
		return nil, nil, fmt.Errorf("no previous snapshot to roll back to")
	}

	g, err := graph.FromSnapshot(prev)
	if err != nil {
		return nil, nil, fmt.Errorf("previous snapshot does not form a valid graph: %w", err)
	}

	cs := diff.Compute(g, cur, schema)
	return g, cs, nil
}
