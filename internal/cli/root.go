package cli

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/config"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "stackform",
	Short: "Desired-state infrastructure orchestration",
	Long: `Stackform reconciles a declarative stack specification against real
provider state. It builds a dependency graph of resources, computes the
changeset against the stored snapshot, and applies it with bounded
parallelism, propagating outputs along dependency edges.`,
	SilenceUsage: true,
}

// Execute runs the root command with a cancellable context.
func Execute(ctx context.Context) error {
	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", config.DefaultFile, "Path to engine configuration file")

	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(planCmd)
	rootCmd.AddCommand(applyCmd)
	rootCmd.AddCommand(destroyCmd)
	rootCmd.AddCommand(rollbackCmd)
	rootCmd.AddCommand(graphCmd)
	rootCmd.AddCommand(stateCmd)
	rootCmd.AddCommand(versionCmd)
}
