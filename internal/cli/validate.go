package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/spec"
)

var validateCmd = &cobra.Command{
	Use:   "validate [spec-file]",
	Short: "Check a specification without contacting any provider",
	Long: `Parses the specification and builds its dependency graph, reporting
duplicate names, unknown references, invalid output fields and cycles.
Nothing is read from or written to the state backend.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runValidate,
}

func runValidate(cmd *cobra.Command, args []string) error {
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

	fmt.Printf("Specification is valid: stack %q, %d nodes.\n", g.Stack(), g.Len())
	return nil
}
