package cli

import (
	"context"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/stackform-io/stackform/internal/config"
	"github.com/stackform-io/stackform/internal/engine"
	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/internal/state"
	"github.com/stackform-io/stackform/providers"
)

// defaultSpecFile is used when no spec path argument is given.
const defaultSpecFile = "stack.yaml"

// workspace bundles everything a command needs to run.
type workspace struct {
	cfg      *config.Config
	store    state.Store
	registry *provider.Registry
}

func setup() (*workspace, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	logging.Init(cfg.LogLevel)

	store, err := state.NewStore(&cfg.Backend)
	if err != nil {
		return nil, err
	}

	registry, err := providers.Default()
	if err != nil {
		return nil, err
	}

	return &workspace{cfg: cfg, store: store, registry: registry}, nil
}

func specPath(args []string) string {
	if len(args) > 0 {
		return args[0]
	}
	return defaultSpecFile
}

func (w *workspace) schemaLookup() graph.SchemaLookup {
	return w.registry.SchemaFor
}

func (w *workspace) engineOptions(onEvent engine.EventFunc) engine.Options {
	opts := engine.Options{
		Parallelism: w.cfg.Parallelism,
		FailFast:    w.cfg.FailFast,
		NodeTimeout: w.cfg.NodeTimeout.Duration(),
		OnEvent:     onEvent,
	}
	if w.cfg.Poll != (config.PollConfig{}) {
		poll := engine.DefaultPollPolicy()
		if w.cfg.Poll.InitialInterval > 0 {
			poll.InitialInterval = w.cfg.Poll.InitialInterval.Duration()
		}
		if w.cfg.Poll.MaxInterval > 0 {
			poll.MaxInterval = w.cfg.Poll.MaxInterval.Duration()
		}
		if w.cfg.Poll.MaxWait > 0 {
			poll.MaxWait = w.cfg.Poll.MaxWait.Duration()
		}
		opts.Poll = poll
	}
	return opts
}

// loadSnapshot reads state, turning corruption into operator guidance.
func (w *workspace) loadSnapshot(ctx context.Context) (*ir.Snapshot, error) {
	snap, err := w.store.Load(ctx)
	var corrupt *state.CorruptError
	if errors.As(err, &corrupt) {
		return nil, fmt.Errorf("%w\n\nThe snapshot will not be discarded automatically. "+
			"Inspect it, then run 'stackform state reset --force' to set it aside", corrupt)
	}
	return snap, err
}

const (
	colorReset  = "\033[0m"
	colorGreen  = "\033[32m"
	colorYellow = "\033[33m"
	colorRed    = "\033[31m"
)

func actionSymbol(a ir.Action) (symbol, color string) {
	switch a {
	case ir.ActionCreate:
		return "+", colorGreen
	case ir.ActionDelete:
		return "-", colorRed
	case ir.ActionReplace:
		return "-/+", colorYellow
	case ir.ActionUpdate:
		return "~", colorYellow
	default:
		return " ", colorReset
	}
}

// renderChanges prints the detailed change list, redacting values
// under credential-looking keys.
func renderChanges(cs *ir.ChangeSet) {
	for _, change := range cs.Changes {
		if change.Action == ir.ActionNoOp {
			continue
		}
		symbol, color := actionSymbol(change.Action)
		fmt.Printf("\n%s  %s %s%s\n", color, symbol, change.Name, colorReset)
		if change.Action == ir.ActionUpdate && len(change.Delta) == 0 {
			fmt.Println("      (re-resolving references to a replaced dependency)")
		}
		for field, d := range change.Delta {
			before, after := d.Before, d.After
			if d.Sensitive {
				before, after = "(sensitive)", "(sensitive)"
			}
			switch d.Action {
			case ir.ActionCreate:
				fmt.Printf("      %s = %v\n", field, after)
			case ir.ActionDelete:
				fmt.Printf("      %s = %v -> (removed)\n", field, before)
			default:
				fmt.Printf("      %s = %v -> %v\n", field, before, after)
			}
		}
	}
}

func renderSummary(cs *ir.ChangeSet) {
	s := cs.Summary
	fmt.Printf("\nPlan: %d to create, %d to update, %d to replace, %d to delete, %d unchanged.\n",
		s.Create, s.Update, s.Replace, s.Delete, s.NoOp)
}

func confirm(prompt string) bool {
	fmt.Printf("%s (y/n): ", prompt)
	var response string
	fmt.Scanln(&response)
	return response == "y" || response == "yes"
}

func progressPrinter(ev engine.Event) {
	switch ev.Status {
	case "started":
		fmt.Printf("%s: %s...\n", ev.Node, ev.Action)
	case "completed":
		fmt.Printf("%s: %s complete (%s)\n", ev.Node, ev.Action, ev.Duration.Round(time.Millisecond))
	case "failed":
		fmt.Printf("%s: %s failed: %v\n", ev.Node, ev.Action, ev.Err)
	case "skipped":
		fmt.Printf("%s: skipped\n", ev.Node)
	}
}

func renderReport(res *engine.Result) {
	rep := engine.BuildReport(res)
	fmt.Println()
	rep.Render(os.Stdout)
}
