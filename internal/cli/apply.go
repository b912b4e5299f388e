package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/spec"
)

var applyAutoApprove bool

var applyCmd = &cobra.Command{
	Use:   "apply [spec-file]",
	Short: "Reconcile provider state to match the specification",
	Long: `Computes the changeset for the specification and executes it:
creates, updates, replaces and deletes resources in dependency order,
then persists the resulting snapshot. The snapshot is saved even when
some nodes fail, so it always reflects what the providers confirmed.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runApply,
}

func init() {
	applyCmd.Flags().BoolVar(&applyAutoApprove, "auto-approve", false, "Skip interactive approval of the changeset")
}

func runApply(cmd *cobra.Command, args []string) error {
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

	if err := w.store.Lock(); err != nil {
		return err
	}
	defer w.store.Unlock()

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

	if !applyAutoApprove {
		if !confirm("\nDo you want to perform these actions?") {
			fmt.Println("Apply cancelled.")
			return nil
		}
	}

	fmt.Println()
	eng := engine.New(w.registry, w.engineOptions(progressPrinter))
	res, err := eng.Reconcile(ctx, g, cs, snap)
	if err != nil {
		return err
	}

	if saveErr := w.store.Save(ctx, res.Snapshot); saveErr != nil {
		return fmt.Errorf("failed to persist snapshot: %w", saveErr)
	}

	renderReport(res)
	return res.Err()
}
