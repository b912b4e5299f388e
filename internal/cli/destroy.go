package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/diff"
	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
)

var destroyAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy",
	Short: "Delete every resource recorded in the snapshot",
	Long: `Diffs the stored snapshot against an empty specification, producing
a delete for every recorded node, and executes the teardown in reverse
dependency order.`,
	Args: cobra.NoArgs,
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&destroyAutoApprove, "auto-approve", false, "Skip interactive approval of the teardown")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := w.store.Lock(); err != nil {
		return err
	}
	defer w.store.Unlock()

	snap, err := w.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	if len(snap.Records) == 0 {
		fmt.Println("Nothing to destroy. The snapshot is empty.")
		return nil
	}

	builder := &graph.Builder{Schema: w.schemaLookup()}
	empty, err := builder.Build(&ir.StackSpec{Stack: snap.Stack})
	if err != nil {
		return err
	}

	cs := diff.Compute(empty, snap, w.schemaLookup())
	renderChanges(cs)
	renderSummary(cs)

	if !destroyAutoApprove {
		if !confirm("\nDo you really want to destroy all resources?") {
			fmt.Println("Destroy cancelled.")
			return nil
		}
	}

	fmt.Println()
	eng := engine.New(w.registry, w.engineOptions(progressPrinter))
	res, err := eng.Reconcile(ctx, empty, cs, snap)
	if err != nil {
		return err
	}

	if saveErr := w.store.Save(ctx, res.Snapshot); saveErr != nil {
		return fmt.Errorf("failed to persist snapshot: %w", saveErr)
	}

	renderReport(res)
	return res.Err()
}
