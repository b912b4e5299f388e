// Package provider defines the capability surface the reconciler
// consumes for every resource kind: create, update, delete, describe.
// Implementations live under providers/ and are registered by name.
package provider

import (
	"context"

	"github.com/stackform-io/stackform/internal/ir"
)

// Status is a provider-side provisioning status returned by Describe.
type Status string

const (
	// StatusProvisioning means the operation was accepted but has not
	// reached a terminal state yet; the reconciler keeps polling.
	StatusProvisioning Status = "provisioning"
	// StatusReady is the terminal success status.
	StatusReady Status = "ready"
	// StatusFailed is the terminal failure status.
	StatusFailed Status = "failed"
	// StatusGone means the resource no longer exists.
	StatusGone Status = "gone"
)

// Terminal reports whether polling can stop at this status.
func (s Status) Terminal() bool {
	return s == StatusReady || s == StatusFailed || s == StatusGone
}

type CreateRequest struct {
	Kind   ir.Kind
	Name   string
	Config map[string]any
}

type CreateResult struct {
	ID      string
	Outputs map[string]any
}

type UpdateRequest struct {
	Kind   ir.Kind
	Name   string
	ID     string
	Config map[string]any
	Delta  map[string]*ir.FieldDiff
}

type UpdateResult struct {
	Outputs map[string]any
}

type DeleteRequest struct {
	Kind ir.Kind
	Name string
	ID   string
}

type DescribeRequest struct {
	Kind ir.Kind
	ID   string
}

type DescribeResult struct {
	Status  Status
	Outputs map[string]any
	// Reason carries the provider's failure detail for StatusFailed.
	Reason string
}

// Client is one provider's resource lifecycle capability. Create and
// Update may return before provisioning settles; the reconciler polls
// Describe until the status is terminal.
type Client interface {
	Create(ctx context.Context, req *CreateRequest) (*CreateResult, error)
	Update(ctx context.Context, req *UpdateRequest) (*UpdateResult, error)
	Delete(ctx context.Context, req *DeleteRequest) error
	Describe(ctx context.Context, req *DescribeRequest) (*DescribeResult, error)
}

// Schema declares, per resource kind, which output fields a provider
// publishes and how configuration fields behave on change. The graph
// builder uses Outputs to validate references; the diff engine uses the
// field lists to choose between update-in-place and replace.
type Schema struct {
	Outputs       map[ir.Kind][]string
	UpdateInPlace map[ir.Kind][]string
	ForcesReplace map[ir.Kind][]string
}

// SchemaProvider is optionally implemented by clients that can
// describe their kinds ahead of any provider call.
type SchemaProvider interface {
	Schema() Schema
}

// KnowsKind reports whether the schema declares the kind at all.
func (s Schema) KnowsKind(kind ir.Kind) bool {
	if _, ok := s.Outputs[kind]; ok {
		return true
	}
	if _, ok := s.UpdateInPlace[kind]; ok {
		return true
	}
	_, ok := s.ForcesReplace[kind]
	return ok
}

// HasOutput reports whether the kind declares the named output field.
func (s Schema) HasOutput(kind ir.Kind, field string) bool {
	for _, f := range s.Outputs[kind] {
		if f == field {
			return true
		}
	}
	return false
}

// FieldBehavior classifies how a changed config field is handled.
type FieldBehavior int

const (
	// FieldUnknown means the schema says nothing about the field.
	FieldUnknown FieldBehavior = iota
	// FieldUpdateInPlace means the provider can update it without
	// recreating the resource.
	FieldUpdateInPlace
	// FieldForcesReplace means changing it requires destroy-and-create.
	FieldForcesReplace
)

// Behavior returns the declared behavior of a config field for a kind.
func (s Schema) Behavior(kind ir.Kind, field string) FieldBehavior {
	for _, f := range s.ForcesReplace[kind] {
		if f == field {
			return FieldForcesReplace
		}
	}
	for _, f := range s.UpdateInPlace[kind] {
		if f == field {
			return FieldUpdateInPlace
		}
	}
	return FieldUnknown
}
