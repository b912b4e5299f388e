package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/logging"
	"github.com/stackform-io/stackform/internal/provider"
)

// applyNode executes a create, update or replace-create for one node
// and records the confirmed outcome in the working snapshot.
func (e *Engine) applyNode(ctx context.Context, c *ir.Change, g *graph.Graph, work *ir.Snapshot, mu *sync.Mutex) error {
	node := c.Desired
	client, err := e.registry.Get(node.Provider)
	if err != nil {
		return err
	}

	mu.Lock()
	resolved, rerr := resolveConfig(node.Config, work)
	mu.Unlock()
	if rerr != nil {
		// Dependencies are settled before a node is scheduled, so an
		// unresolved reference here is a scheduling bug, not input.
		return fmt.Errorf("internal: %w", rerr)
	}

	switch c.Action {
	case ir.ActionCreate, ir.ActionReplace:
		return e.createInstance(ctx, c, node, client, resolved, g, work, mu)
	case ir.ActionUpdate:
		return e.updateInstance(ctx, c, node, client, resolved, g, work, mu)
	default:
		return fmt.Errorf("internal: unexpected action %s for %s", c.Action, node.Name)
	}
}

func (e *Engine) createInstance(ctx context.Context, c *ir.Change, node *ir.Node, client provider.Client, resolved map[string]any, g *graph.Graph, work *ir.Snapshot, mu *sync.Mutex) error {
	var created *provider.CreateResult
	err := RetryWithBackoff(ctx, e.opts.Retry, func() error {
		var callErr error
		created, callErr = client.Create(ctx, &provider.CreateRequest{
			Kind:   node.Kind,
			Name:   node.Name,
			Config: resolved,
		})
		return wrapProviderErr(node.Provider, "create", node.Name, callErr)
	}, provider.IsTransient)
	if err != nil {
		e.recordFailure(c, node, "", work, mu)
		return err
	}

	outputs, err := e.awaitSettled(ctx, client, node.Name, node.Provider, node.Kind, created.ID, false)
	if err != nil {
		// The provider confirmed an identity; keep it so the next run
		// knows a live-but-unhealthy instance may exist.
		e.recordFailure(c, node, created.ID, work, mu)
		return err
	}
	if outputs == nil {
		outputs = created.Outputs
	}

	e.recordApplied(node, created.ID, outputs, g, work, mu)
	return nil
}

func (e *Engine) updateInstance(ctx context.Context, c *ir.Change, node *ir.Node, client provider.Client, resolved map[string]any, g *graph.Graph, work *ir.Snapshot, mu *sync.Mutex) error {
	mu.Lock()
	prior := work.Get(node.Name)
	mu.Unlock()
	if prior == nil || prior.ID == "" {
		return fmt.Errorf("internal: update of %s without a recorded instance", node.Name)
	}

	var updated *provider.UpdateResult
	err := RetryWithBackoff(ctx, e.opts.Retry, func() error {
		var callErr error
		updated, callErr = client.Update(ctx, &provider.UpdateRequest{
			Kind:   node.Kind,
			Name:   node.Name,
			ID:     prior.ID,
			Config: resolved,
			Delta:  c.Delta,
		})
		return wrapProviderErr(node.Provider, "update", node.Name, callErr)
	}, provider.IsTransient)
	if err != nil {
		e.recordFailure(c, node, prior.ID, work, mu)
		return err
	}

	outputs, err := e.awaitSettled(ctx, client, node.Name, node.Provider, node.Kind, prior.ID, false)
	if err != nil {
		e.recordFailure(c, node, prior.ID, work, mu)
		return err
	}
	if outputs == nil {
		outputs = updated.Outputs
	}

	e.recordApplied(node, prior.ID, outputs, g, work, mu)
	return nil
}

// deleteInstance tears down one provider instance. removeRecord is set
// for nodes leaving the stack; deposed replace instances keep their
// (already rewritten) record untouched.
func (e *Engine) deleteInstance(ctx context.Context, name string, rec *ir.Record, removeRecord bool, work *ir.Snapshot, mu *sync.Mutex) error {
	if rec == nil || rec.ID == "" {
		// Nothing was ever confirmed; just drop the record.
		if removeRecord {
			mu.Lock()
			work.Remove(name)
			mu.Unlock()
		}
		return nil
	}

	client, err := e.registry.Get(rec.Provider)
	if err != nil {
		return err
	}

	err = RetryWithBackoff(ctx, e.opts.Retry, func() error {
		callErr := client.Delete(ctx, &provider.DeleteRequest{
			Kind: rec.Kind,
			Name: name,
			ID:   rec.ID,
		})
		return wrapProviderErr(rec.Provider, "delete", name, callErr)
	}, provider.IsTransient)
	if err == nil {
		_, err = e.awaitSettled(ctx, client, name, rec.Provider, rec.Kind, rec.ID, true)
	}
	if err != nil {
		if removeRecord {
			mu.Lock()
			if cur := work.Get(name); cur != nil {
				cur.Status = ir.StatusFailed
			}
			mu.Unlock()
		} else {
			logging.Warn("deposed instance cleanup failed, resource may be leaked",
				"node", name, "id", rec.ID, "error", err)
		}
		return err
	}

	if removeRecord {
		mu.Lock()
		work.Remove(name)
		mu.Unlock()
	}
	return nil
}

// recordApplied persists a provider-confirmed instance. The stored
// config keeps its ref:// expressions unresolved so an unchanged spec
// diffs to noop on the next run.
func (e *Engine) recordApplied(node *ir.Node, id string, outputs map[string]any, g *graph.Graph, work *ir.Snapshot, mu *sync.Mutex) {
	cfg := ir.Normalize(node.Config)
	rec := &ir.Record{
		Name:         node.Name,
		Kind:         node.Kind,
		Provider:     node.Provider,
		ID:           id,
		Config:       cfg,
		ConfigHash:   ir.HashConfig(cfg),
		Outputs:      outputs,
		Dependencies: g.Dependencies(node.Name),
		Status:       ir.StatusApplied,
		AppliedAt:    time.Now().UTC(),
	}
	mu.Lock()
	work.Put(rec)
	mu.Unlock()
}

// recordFailure marks a node Failed without ever claiming its desired
// configuration as applied.
func (e *Engine) recordFailure(c *ir.Change, node *ir.Node, id string, work *ir.Snapshot, mu *sync.Mutex) {
	mu.Lock()
	defer mu.Unlock()

	if prior := work.Get(node.Name); prior != nil {
		// Keep the last confirmed configuration; only the status turns.
		prior.Status = ir.StatusFailed
		return
	}
	work.Put(&ir.Record{
		Name:     node.Name,
		Kind:     node.Kind,
		Provider: node.Provider,
		ID:       id,
		Config:   ir.Normalize(node.Config),
		Status:   ir.StatusFailed,
	})
}

// resolveConfig substitutes every ref:// expression with the recorded
// output of its target node. Targets must already be Applied.
func resolveConfig(cfg map[string]any, snap *ir.Snapshot) (map[string]any, error) {
	out, err := resolveValue(cfg, snap)
	if err != nil {
		return nil, err
	}
	resolved, _ := out.(map[string]any)
	return resolved, nil
}

func resolveValue(v any, snap *ir.Snapshot) (any, error) {
	switch val := v.(type) {
	case string:
		ref, ok := ir.ParseRef(val)
		if !ok {
			return val, nil
		}
		rec := snap.Get(ref.Node)
		if rec == nil || rec.Status != ir.StatusApplied {
			return nil, fmt.Errorf("reference %s read before node %q was applied", ref, ref.Node)
		}
		out, exists := rec.Outputs[ref.Output]
		if !exists {
			return nil, fmt.Errorf("node %q has no output %q", ref.Node, ref.Output)
		}
		return out, nil
	case map[string]any:
		next := make(map[string]any, len(val))
		for k, item := range val {
			resolved, err := resolveValue(item, snap)
			if err != nil {
				return nil, err
			}
			next[k] = resolved
		}
		return next, nil
	case []any:
		next := make([]any, len(val))
		for i, item := range val {
			resolved, err := resolveValue(item, snap)
			if err != nil {
				return nil, err
			}
			next[i] = resolved
		}
		return next, nil
	default:
		return val, nil
	}
}

func wrapProviderErr(providerName, op, node string, err error) error {
	if err == nil {
		return nil
	}
	var perr *provider.Error
	if errors.As(err, &perr) {
		return err
	}
	return &provider.Error{
		Provider:  providerName,
		Op:        op,
		Node:      node,
		Transient: provider.IsTransient(err),
		Err:       err,
	}
}
