package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/spec"
)

var planCmd = &cobra.Command{
	Use:   "plan [spec-file]",
	Short: "Show what a reconciliation would change",
	Long: `Builds the dependency graph from the specification, compares it
against the stored snapshot, and prints the resulting changeset
without touching any provider.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runPlan,
}

func runPlan(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	desired, err := spec.Load(specPath(args))
	if err != nil {
		return err
	}

	builder := &graph.Builder{Schema: w.schemaLookup()}
	g, err := builder.Build(desired)
	if err != nil {
		return fmt.Errorf("invalid specification: %w", err)
	}

	snap, err := w.loadSnapshot(ctx)
	if err != nil {
		return err
	}

	cs := diff.Compute(g, snap, w.schemaLookup())
	if cs.Empty() {
		fmt.Println("No changes. Stack is up to date.")
		return nil
	}

	renderChanges(cs)
	renderSummary(cs)
	return nil
}
