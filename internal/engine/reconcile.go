package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
)

// NodeResult is the final outcome of one scheduled unit of work.
type NodeResult struct {
	Name       string
	Action     ir.Action
	Status     ir.Status
	Err        error
	SkipReason string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Result is what a reconciliation run leaves behind: the snapshot
// reflecting exactly what the providers confirmed, and the outcome of
// every unit. It is always populated, failures included.
type Result struct {
	Stack     string
	Snapshot  *ir.Snapshot
	Nodes     map[string]*NodeResult
	Cancelled bool
}

// Err aggregates per-node failures, or nil if everything settled.
func (r *Result) Err() error {
	var errs []error
	for _, n := range r.Nodes {
		if n.Err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, n.Err))
		}
	}
	if len(errs) == 0 {
		return nil
	}
	return fmt.Errorf("%d node(s) failed: %w", len(errs), errors.Join(errs...))
}

// unit is one schedulable operation: a node apply, a node delete, or
// the deposed-instance cleanup of a replace.
type unit struct {
	key    string
	change *ir.Change
	deps   []string
	run    func(ctx context.Context) error
}

// deposedKey names the old instance of a replaced node in results.
func deposedKey(name string) string {
	return name + " (deposed)"
}

// Reconcile executes a changeset against the graph it was computed
// from. The returned Result carries the updated snapshot; callers
// persist it regardless of failure. An error return means nothing was
// attempted at all.
func (e *Engine) Reconcile(ctx context.Context, g *graph.Graph, cs *ir.ChangeSet, snap *ir.Snapshot) (*Result, error) {
	if !cs.Consume() {
		return nil, errors.New("changeset already consumed")
	}

	// Every provider must resolve before any side effect happens.
	for _, c := range cs.Changes {
		name := providerOf(c)
		if _, err := e.registry.Get(name); err != nil {
			return nil, fmt.Errorf("changeset references unusable provider: %w", err)
		}
	}

	work := snap.Clone()
	work.Version = ir.SnapshotVersion
	if work.Stack == "" {
		work.Stack = cs.Stack
	}
	if work.Lineage == "" {
		work.Lineage = uuid.NewString()
	}

	res := &Result{
		Stack:    cs.Stack,
		Snapshot: work,
		Nodes:    make(map[string]*NodeResult),
	}
	var mu sync.Mutex // guards work and res.Nodes entries

	var forward []*unit
	var replaced []*ir.Change
	var removals []*ir.Change
	preDone := make(map[string]bool)

	for _, c := range cs.Changes {
		res.Nodes[c.Name] = &NodeResult{Name: c.Name, Action: c.Action, Status: ir.StatusPending}

		switch c.Action {
		case ir.ActionNoOp:
			// Already applied; nothing to schedule, dependents may
			// read its recorded outputs immediately.
			res.Nodes[c.Name].Status = ir.StatusApplied
			preDone[c.Name] = true

		case ir.ActionDelete:
			removals = append(removals, c)

		default:
			c := c
			if c.Action == ir.ActionReplace {
				replaced = append(replaced, c)
			}
			forward = append(forward, &unit{
				key:    c.Name,
				change: c,
				deps:   g.Dependencies(c.Name),
				run: func(opCtx context.Context) error {
					return e.applyNode(opCtx, c, g, work, &mu)
				},
			})
		}
	}

	e.runUnits(ctx, forward, preDone, res, &mu)

	// Teardown phase: removed nodes plus the deposed instances of
	// successful replaces. Dependency direction is reversed here, and
	// a replaced node's new instance is always Applied before its old
	// instance's delete is issued.
	teardown := e.teardownUnits(res, replaced, removals, snap, g, work, &mu)
	e.runUnits(ctx, teardown, nil, res, &mu)

	mu.Lock()
	work.Serial++
	work.Sort()
	mu.Unlock()

	return res, nil
}

// teardownUnits builds the reverse-ordered delete phase.
func (e *Engine) teardownUnits(res *Result, replaced, removals []*ir.Change, prior *ir.Snapshot, g *graph.Graph, work *ir.Snapshot, mu *sync.Mutex) []*unit {
	// Map logical name -> teardown unit key, for wiring reverse edges.
	keyOf := make(map[string]string)

	var units []*unit
	for _, c := range replaced {
		c := c
		mu.Lock()
		applied := res.Nodes[c.Name].Status == ir.StatusApplied
		mu.Unlock()
		old := prior.Get(c.Name)
		if !applied || old == nil || old.ID == "" {
			continue
		}
		newID := ""
		mu.Lock()
		if rec := work.Get(c.Name); rec != nil {
			newID = rec.ID
		}
		mu.Unlock()
		if old.ID == newID {
			// Provider reused the identity; nothing to depose.
			continue
		}
		key := deposedKey(c.Name)
		keyOf[c.Name] = key
		res.Nodes[key] = &NodeResult{Name: key, Action: ir.ActionDelete, Status: ir.StatusPending}
		units = append(units, &unit{
			key:    key,
			change: c,
			run: func(opCtx context.Context) error {
				return e.deleteInstance(opCtx, c.Name, old, false, work, mu)
			},
		})
	}
	for _, c := range removals {
		c := c
		keyOf[c.Name] = c.Name
		units = append(units, &unit{
			key:    c.Name,
			change: c,
			run: func(opCtx context.Context) error {
				return e.deleteInstance(opCtx, c.Name, c.Prior, true, work, mu)
			},
		})
	}

	// Reverse edges: a node is torn down only after everything that
	// depended on it is gone. Removed nodes carry their edges in the
	// snapshot; replaced nodes still sit in the current graph.
	dependentsOf := func(name string) []string {
		seen := make(map[string]bool)
		var out []string
		for _, dep := range g.Dependents(name) {
			if !seen[dep] {
				seen[dep] = true
				out = append(out, dep)
			}
		}
		for _, rec := range prior.Records {
			for _, d := range rec.Dependencies {
				if d == name && !seen[rec.Name] {
					seen[rec.Name] = true
					out = append(out, rec.Name)
				}
			}
		}
		return out
	}

	for _, u := range units {
		logical := u.change.Name
		for _, dependent := range dependentsOf(logical) {
			if key, ok := keyOf[dependent]; ok && key != u.key {
				u.deps = append(u.deps, key)
			}
		}
	}

	return units
}

// runUnits schedules units over a bounded worker pool. The eligibility
// frontier (completed/failed sets) is the only shared structure and is
// mutated under one mutex; workers wait on its condition variable.
func (e *Engine) runUnits(ctx context.Context, units []*unit, preDone map[string]bool, res *Result, mu *sync.Mutex) {
	if len(units) == 0 {
		return
	}

	inPhase := make(map[string]bool, len(units))
	for _, u := range units {
		inPhase[u.key] = true
	}

	completed := make(map[string]bool)
	failed := make(map[string]bool)
	for k := range preDone {
		completed[k] = true
	}
	halted := false
	cancelled := false
	var fmu sync.Mutex
	cond := sync.NewCond(&fmu)

	markCancelled := func() {
		mu.Lock()
		res.Cancelled = true
		mu.Unlock()
	}

	sem := make(chan struct{}, e.opts.Parallelism)
	var wg sync.WaitGroup

	for _, u := range units {
		wg.Add(1)
		go func(u *unit) {
			defer wg.Done()

			fmu.Lock()
			for {
				if ctx.Err() != nil && !halted {
					halted = true
					cancelled = true
					cond.Broadcast()
				}
				if halted {
					wasCancelled := cancelled
					fmu.Unlock()
					if wasCancelled {
						// Never attempted; stays Pending per contract.
						e.finishSkipped(res, mu, u, ir.StatusPending, "run cancelled")
						markCancelled()
					} else {
						e.finishSkipped(res, mu, u, ir.StatusSkipped, "run halted")
					}
					return
				}

				depFailed := ""
				ready := true
				for _, dep := range u.deps {
					if !inPhase[dep] && !completed[dep] {
						continue
					}
					if failed[dep] {
						depFailed = dep
						break
					}
					if !completed[dep] {
						ready = false
					}
				}
				if depFailed != "" {
					failed[u.key] = true
					cond.Broadcast()
					fmu.Unlock()
					e.finishSkipped(res, mu, u, ir.StatusSkipped, fmt.Sprintf("dependency %s failed", depFailed))
					return
				}
				if ready {
					break
				}
				cond.Wait()
			}
			fmu.Unlock()

			sem <- struct{}{}
			defer func() { <-sem }()

			// Cancellation observed before start leaves the node
			// untouched; in-flight work below is allowed to finish.
			if ctx.Err() != nil {
				fmu.Lock()
				halted = true
				cancelled = true
				cond.Broadcast()
				fmu.Unlock()
				e.finishSkipped(res, mu, u, ir.StatusPending, "run cancelled")
				markCancelled()
				return
			}

			start := time.Now()
			mu.Lock()
			nr := res.Nodes[u.key]
			nr.Status = ir.StatusApplying
			nr.StartedAt = start
			mu.Unlock()
			e.emit(Event{Node: u.key, Action: u.change.Action, Status: "started"})

			// Outstanding provider calls cannot be aborted safely, so
			// the op context survives cancellation and is bounded by
			// the per-node timeout instead.
			opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.opts.NodeTimeout)
			err := u.run(opCtx)
			cancel()

			// The result entry is finalized before the frontier is
			// released: a dependent that wakes on the broadcast must
			// observe its dependency's FinishedAt and status.
			mu.Lock()
			nr.FinishedAt = time.Now()
			if err != nil {
				nr.Status = ir.StatusFailed
				nr.Err = err
			} else {
				nr.Status = ir.StatusApplied
			}
			mu.Unlock()

			fmu.Lock()
			if err != nil {
				failed[u.key] = true
				if e.opts.FailFast {
					halted = true
				}
			} else {
				completed[u.key] = true
			}
			cond.Broadcast()
			fmu.Unlock()

			if err != nil {
				logging.Error("node apply failed", "node", u.key, "action", string(u.change.Action), "error", err)
				e.emit(Event{Node: u.key, Action: u.change.Action, Status: "failed", Duration: time.Since(start), Err: err})
			} else {
				e.emit(Event{Node: u.key, Action: u.change.Action, Status: "completed", Duration: time.Since(start)})
			}
		}(u)
	}

	wg.Wait()
}

func (e *Engine) finishSkipped(res *Result, mu *sync.Mutex, u *unit, status ir.Status, reason string) {
	mu.Lock()
	nr := res.Nodes[u.key]
	nr.Status = status
	nr.SkipReason = reason
	mu.Unlock()
	if status == ir.StatusSkipped {
		e.emit(Event{Node: u.key, Action: u.change.Action, Status: "skipped"})
	}
}

func providerOf(c *ir.Change) string {
	if c.Desired != nil {
		return c.Desired.Provider
	}
	if c.Prior != nil {
		return c.Prior.Provider
	}
	return ""
}
