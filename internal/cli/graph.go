package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/spec"
)

var graphCmd = &cobra.Command{
	Use:   "graph [spec-file]",
	Short: "Print the dependency graph in Graphviz DOT format",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runGraph,
}

func runGraph(cmd *cobra.Command, args []string) error {
	w, err := setup()
	if err != nil {
		return err
	}

	desired, err := spec.Load(specPath(args))
	if err != nil {
		return err
	}

	builder := &graph.Builder{Schema: w.schemaLookup()}
	g, err := builder.Build(desired)
	if err != nil {
		return fmt.Errorf("invalid specification: %w", err)
	}

	fmt.Print(g.Dot())
	return nil
}
