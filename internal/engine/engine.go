// Package engine reconciles desired state against provider state. It
// walks the dependency graph with a bounded pool of workers, applies
// each node through its provider client, polls provisioning to a
// terminal status, and produces an accurate snapshot and report even
// when some nodes fail.
package engine

import (
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// DefaultParallelism bounds concurrent node applies unless configured.
const DefaultParallelism = 10

// DefaultNodeTimeout is the ceiling for one node's apply, polling
// included.
const DefaultNodeTimeout = 30 * time.Minute

// Event reports per-node progress during a reconciliation run.
type Event struct {
	Node     string
	Action   ir.Action
	Status   string // "started", "completed", "failed", "skipped"
	Duration time.Duration
	Err      error
}

// EventFunc receives progress events if set. Called from worker
// goroutines; implementations must be safe for concurrent use.
type EventFunc func(Event)

// Options tune a reconciliation run.
type Options struct {
	// Parallelism bounds the worker pool. Ordering is guaranteed only
	// along dependency edges; independent nodes may run concurrently.
	Parallelism int

	// FailFast stops scheduling any new node after the first failure.
	// Off by default: a failure skips its dependent subtree but
	// independent subgraphs keep going.
	FailFast bool

	// NodeTimeout is the per-node apply ceiling.
	NodeTimeout time.Duration

	Retry *RetryPolicy
	Poll  *PollPolicy

	OnEvent EventFunc
}

func (o *Options) withDefaults() Options {
	out := *o
	if out.Parallelism <= 0 {
		out.Parallelism = DefaultParallelism
	}
	if out.NodeTimeout <= 0 {
		out.NodeTimeout = DefaultNodeTimeout
	}
	if out.Retry == nil {
		out.Retry = DefaultRetryPolicy()
	}
	if out.Poll == nil {
		out.Poll = DefaultPollPolicy()
	}
	return out
}

// Engine executes changesets against registered providers.
type Engine struct {
	registry *provider.Registry
	opts     Options
}

func New(registry *provider.Registry, opts Options) *Engine {
	return &Engine{
		registry: registry,
		opts:     opts.withDefaults(),
	}
}

func (e *Engine) emit(ev Event) {
	if e.opts.OnEvent != nil {
		e.opts.OnEvent(ev)
	}
}
