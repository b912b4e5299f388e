package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/state"
)

var stateResetForce bool

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and manage the stored snapshot",
}

var stateListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every node recorded in the snapshot",
	Args:  cobra.NoArgs,
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <name>",
	Short: "Show the stored record for one node",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Set aside a corrupt snapshot and start fresh",
	Long: `Moves the stored snapshot out of the way so the next run starts from
an empty state. The damaged payload is preserved for inspection. This
never contacts any provider; real resources are untouched.`,
	Args: cobra.NoArgs,
	RunE: runStateReset,
}

func init() {
	stateResetCmd.Flags().BoolVar(&stateResetForce, "force", false, "Confirm discarding the current snapshot")

	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateResetCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}

	snap, err := w.loadSnapshot(cmd.Context())
	if err != nil {
		return err
	}
	if len(snap.Records) == 0 {
		fmt.Println("The snapshot is empty.")
		return nil
	}

	fmt.Printf("Stack %q, serial %d:\n", snap.Stack, snap.Serial)
	for _, rec := range snap.Records {
		fmt.Printf("  %-12s %-16s %s (%s)\n", string(rec.Status), string(rec.Kind), rec.Name, rec.ID)
	}
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}

	rec, err := state.Get(cmd.Context(), w.store, args[0])
	if err != nil {
		return err
	}
	if rec == nil {
		return fmt.Errorf("no record for node %q", args[0])
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(rec)
}

func runStateReset(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}
	if !stateResetForce {
		return fmt.Errorf("state reset discards the current snapshot; re-run with --force to confirm")
	}

	if err := w.store.Reset(cmd.Context()); err != nil {
		return err
	}
	fmt.Println("Snapshot set aside. The next run starts from an empty state.")
	return nil
}
