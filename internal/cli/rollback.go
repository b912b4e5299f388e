package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/engine"
)

var rollbackAutoApprove bool

var rollbackCmd = &cobra.Command{
	Use:   "rollback",
	Short: "Reapply the previous snapshot over the current state",
	Long: `Loads the snapshot saved before the last apply, computes the changeset
that restores it, and executes that changeset. Rollback is an explicit
operator action; normal failure recovery stays forward-only.`,
	Args: cobra.NoArgs,
	RunE: runRollback,
}

func init() {
	rollbackCmd.Flags().BoolVar(&rollbackAutoApprove, "auto-approve", false, "Skip interactive approval of the rollback")
}

func runRollback(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}
	ctx := cmd.Context()

	if err := w.store.Lock(); err != nil {
		return err
	}
	defer w.store.Unlock()

	cur, err := w.loadSnapshot(ctx)
	if err != nil {
		return err
	}
	prev, err := w.store.LoadBackup(ctx)
	if err != nil {
		return err
	}

	g, cs, err := engine.RollbackPlan(prev, cur, w.schemaLookup())
	if err != nil {
		return err
	}
	if cs.Empty() {
		fmt.Println("No changes. Current state already matches the previous snapshot.")
		return nil
	}

	fmt.Printf("Rolling back stack %q to serial %d:\n", prev.Stack, prev.Serial)
	renderChanges(cs)
	renderSummary(cs)

	if !rollbackAutoApprove {
		if !confirm("\nDo you want to roll back to the previous snapshot?") {
			fmt.Println("Rollback cancelled.")
			return nil
		}
	}

	fmt.Println()
	eng := engine.New(w.registry, w.engineOptions(progressPrinter))
	res, err := eng.Reconcile(ctx, g, cs, cur)
	if err != nil {
		return err
	}

	if saveErr := w.store.Save(ctx, res.Snapshot); saveErr != nil {
		return fmt.Errorf("failed to persist snapshot: %w", saveErr)
	}

	renderReport(res)
	return res.Err()
}
