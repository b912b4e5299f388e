package ir

import (
	"sync/atomic"
	"time"
)

// Action classifies what the reconciler must do for one node.
type Action string

const (
	ActionCreate  Action = "create"
	ActionUpdate  Action = "update"
	ActionReplace Action = "replace"
	ActionDelete  Action = "delete"
	ActionNoOp    Action = "noop"
)

// FieldDiff is a single property-level delta.
type FieldDiff struct {
	Before            any    `json:"before,omitempty"`
	After             any    `json:"after,omitempty"`
	Action            Action `json:"action"`
	ForcesReplacement bool   `json:"forces_replacement,omitempty"`
	Sensitive         bool   `json:"sensitive,omitempty"`
}

// Change is the classified action for one node, with its field deltas.
// For deletes Desired is nil; for creates Prior is nil.
type Change struct {
	Name    string                `json:"name"`
	Action  Action                `json:"action"`
	Desired *Node                 `json:"desired,omitempty"`
	Prior   *Record               `json:"prior,omitempty"`
	Delta   map[string]*FieldDiff `json:"delta,omitempty"`
}

// Summary counts changes by action.
type Summary struct {
	Create  int `json:"create"`
	Update  int `json:"update"`
	Replace int `json:"replace"`
	Delete  int `json:"delete"`
	NoOp    int `json:"noop"`
}

// ChangeSet is the diff engine's output. It is immutable once built
// and may be handed to the reconciler exactly once.
type ChangeSet struct {
	Stack     string    `json:"stack"`
	CreatedAt time.Time `json:"created_at"`
	Changes   []*Change `json:"changes"`
	Summary   Summary   `json:"summary"`

	consumed atomic.Bool
}

// Consume marks the changeset as taken by a reconciler. It reports
// false if it was already consumed.
func (cs *ChangeSet) Consume() bool {
	return cs.consumed.CompareAndSwap(false, true)
}

// Empty reports whether the changeset contains no work.
func (cs *ChangeSet) Empty() bool {
	for _, c := range cs.Changes {
		if c.Action != ActionNoOp {
			return false
		}
	}
	return true
}

// Get returns the change for a logical name, or nil.
func (cs *ChangeSet) Get(name string) *Change {
	for _, c := range cs.Changes {
		if c.Name == name {
			return c
		}
	}
	return nil
}
