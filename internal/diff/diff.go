// Package diff compares a desired-state graph against the stored
// snapshot and classifies each node as create, update-in-place,
// replace, delete or noop.
package diff

import (
	"reflect"
	"strings"
	"time"

	"github.com/stackform-io/stackform/internal/graph"
	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// Compute builds the changeset reconciling snap toward g. The result
// is immutable and may be consumed by one reconciler run only.
func Compute(g *graph.Graph, snap *ir.Snapshot, schema graph.SchemaLookup) *ir.ChangeSet {
	cs := &ir.ChangeSet{
		Stack:     g.Stack(),
		CreatedAt: time.Now().UTC(),
	}

	for _, name := range g.Order() {
		node := g.Node(name)
		cs.Changes = append(cs.Changes, classify(node, snap.Get(name), schema))
	}

	migrateDependents(cs)

	// Records present in the snapshot but absent from the spec get
	// torn down. Reverse snapshot order keeps dependents first.
	for _, rec := range snap.Records {
		if g.Node(rec.Name) != nil {
			continue
		}
		cs.Changes = append(cs.Changes, &ir.Change{
			Name:   rec.Name,
			Action: ir.ActionDelete,
			Prior:  rec,
			Delta:  deleteDelta(rec.Config),
		})
	}

	for _, c := range cs.Changes {
		count(&cs.Summary, c.Action)
	}
	return cs
}

// migrateDependents upgrades nodes whose referenced outputs are about
// to change. A created or replaced dependency gets a fresh instance
// with fresh outputs, so a dependent whose own config text is
// unchanged must still be re-applied: its provider-side values would
// otherwise keep pointing at the old instance after the deposed
// delete. Changes arrive in topological order, so one forward pass
// sees every dependency's final action before its dependents.
func migrateDependents(cs *ir.ChangeSet) {
	unstable := make(map[string]bool)
	for _, c := range cs.Changes {
		for _, ref := range ir.Refs(c.Desired.Config) {
			if !unstable[ref.Node] {
				continue
			}
			if c.Action == ir.ActionNoOp {
				c.Action = ir.ActionUpdate
			}
			// Re-applying may change this node's outputs too.
			unstable[c.Name] = true
			break
		}
		if c.Action == ir.ActionCreate || c.Action == ir.ActionReplace {
			unstable[c.Name] = true
		}
	}
}

func classify(node *ir.Node, rec *ir.Record, schema graph.SchemaLookup) *ir.Change {
	change := &ir.Change{Name: node.Name, Desired: node, Prior: rec}

	desired := ir.Normalize(node.Config)

	switch {
	case rec == nil:
		change.Action = ir.ActionCreate
		change.Delta = createDelta(desired)
		return change

	case rec.Status == ir.StatusFailed && rec.ID == "":
		// Never confirmed by the provider; treat as a fresh create.
		change.Action = ir.ActionCreate
		change.Delta = createDelta(desired)
		return change
	}

	prior := ir.Normalize(rec.Config)
	delta := fieldDelta(prior, desired)

	if len(delta) == 0 {
		if rec.Status == ir.StatusFailed {
			// A failed apply with a live provider ID cannot be trusted
			// in place; recreate it even though the config matches.
			change.Action = ir.ActionReplace
			change.Delta = fieldDelta(nil, desired)
			return change
		}
		change.Action = ir.ActionNoOp
		return change
	}

	if node.Kind != rec.Kind || node.Provider != rec.Provider {
		markReplacement(delta)
		change.Action = ir.ActionReplace
		change.Delta = delta
		return change
	}

	change.Action = actionForDelta(node, delta, schema)
	change.Delta = delta
	return change
}

// actionForDelta decides update vs replace from the provider schema.
// A field the schema does not classify forces replacement: consistency
// wins over convenience when behavior is ambiguous.
func actionForDelta(node *ir.Node, delta map[string]*ir.FieldDiff, schema graph.SchemaLookup) ir.Action {
	var s provider.Schema
	var known bool
	if schema != nil {
		s, known = schema(node.Provider)
	}

	action := ir.ActionUpdate
	for field, d := range delta {
		behavior := provider.FieldUnknown
		if known {
			behavior = s.Behavior(node.Kind, field)
		}
		if behavior != provider.FieldUpdateInPlace {
			d.ForcesReplacement = true
			action = ir.ActionReplace
		}
	}
	return action
}

func markReplacement(delta map[string]*ir.FieldDiff) {
	for _, d := range delta {
		d.ForcesReplacement = true
	}
}

// fieldDelta returns the per-field difference between two configs.
// A nil prior yields a pure create delta.
func fieldDelta(prior, desired map[string]any) map[string]*ir.FieldDiff {
	delta := make(map[string]*ir.FieldDiff)

	for k, dv := range desired {
		pv, inPrior := prior[k]
		switch {
		case !inPrior:
			delta[k] = &ir.FieldDiff{After: dv, Action: ir.ActionCreate, Sensitive: SensitiveKey(k)}
		case !reflect.DeepEqual(pv, dv):
			delta[k] = &ir.FieldDiff{Before: pv, After: dv, Action: ir.ActionUpdate, Sensitive: SensitiveKey(k)}
		}
	}
	for k, pv := range prior {
		if _, inDesired := desired[k]; !inDesired {
			delta[k] = &ir.FieldDiff{Before: pv, Action: ir.ActionDelete, Sensitive: SensitiveKey(k)}
		}
	}

	if len(delta) == 0 {
		return nil
	}
	return delta
}

func createDelta(desired map[string]any) map[string]*ir.FieldDiff {
	return fieldDelta(nil, desired)
}

func deleteDelta(prior map[string]any) map[string]*ir.FieldDiff {
	delta := make(map[string]*ir.FieldDiff, len(prior))
	for k, v := range prior {
		delta[k] = &ir.FieldDiff{Before: v, Action: ir.ActionDelete, Sensitive: SensitiveKey(k)}
	}
	return delta
}

// SensitiveKey reports whether a config key looks like a credential.
// Values under such keys are redacted in reports, never in state.
func SensitiveKey(key string) bool {
	k := strings.ToLower(key)
	for _, marker := range []string{"password", "secret", "token", "credential"} {
		if strings.Contains(k, marker) {
			return true
		}
	}
	return false
}

func count(s *ir.Summary, action ir.Action) {
	switch action {
	case ir.ActionCreate:
		s.Create++
	case ir.ActionUpdate:
		s.Update++
	case ir.ActionReplace:
		s.Replace++
	case ir.ActionDelete:
		s.Delete++
	case ir.ActionNoOp:
		s.NoOp++
	}
}
