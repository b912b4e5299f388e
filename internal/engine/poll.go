package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// PollPolicy bounds the Describe polling loop that waits for a
// provider operation to settle.
type PollPolicy struct {
	// InitialInterval is the first wait between Describe calls.
	InitialInterval time.Duration
	// MaxInterval caps the exponential growth of the wait.
	MaxInterval time.Duration
	// MaxWait is the total ceiling; past it the node is marked Failed
	// with a *ProvisioningTimeoutError.
	MaxWait time.Duration
}

// DefaultPollPolicy returns the default polling bounds.
func DefaultPollPolicy() *PollPolicy {
	return &PollPolicy{
		InitialInterval: 500 * time.Millisecond,
		MaxInterval:     30 * time.Second,
		MaxWait:         20 * time.Minute,
	}
}

// ProvisioningTimeoutError means polling exceeded the wait ceiling
// before the provider reported a terminal status. Non-transient.
type ProvisioningTimeoutError struct {
	Node string
	Wait time.Duration
}

func (e *ProvisioningTimeoutError) Error() string {
	return fmt.Sprintf("node %q did not reach a terminal status within %s", e.Node, e.Wait)
}

// awaitSettled polls Describe with bounded exponential backoff until
// the provider reports a terminal status, and returns the final
// outputs. wantGone flips the success condition for deletions.
func (e *Engine) awaitSettled(ctx context.Context, client provider.Client, node string, provName string, kind ir.Kind, id string, wantGone bool) (map[string]any, error) {
	policy := e.opts.Poll
	deadline := time.Now().Add(policy.MaxWait)
	interval := policy.InitialInterval

	for {
		res, err := client.Describe(ctx, &provider.DescribeRequest{Kind: kind, ID: id})
		if err != nil {
			if provider.IsTransient(err) {
				// Transient describe failures ride the same backoff.
				res = &provider.DescribeResult{Status: provider.StatusProvisioning}
			} else {
				return nil, &provider.Error{Provider: provName, Op: "describe", Node: node, Err: err}
			}
		}

		switch res.Status {
		case provider.StatusReady:
			if wantGone {
				return nil, &provider.Error{
					Provider: provName, Op: "describe", Node: node,
					Err: fmt.Errorf("resource %s still exists after delete", id),
				}
			}
			return res.Outputs, nil
		case provider.StatusGone:
			if wantGone {
				return nil, nil
			}
			return nil, &provider.Error{
				Provider: provName, Op: "describe", Node: node,
				Err: fmt.Errorf("resource %s disappeared while provisioning", id),
			}
		case provider.StatusFailed:
			reason := res.Reason
			if reason == "" {
				reason = "provider reported failure"
			}
			return nil, &provider.Error{
				Provider: provName, Op: "describe", Node: node,
				Err: fmt.Errorf("provisioning failed: %s", reason),
			}
		}

		if time.Now().Add(interval).After(deadline) {
			return nil, &ProvisioningTimeoutError{Node: node, Wait: policy.MaxWait}
		}

		select {
		case <-ctx.Done():
			return nil, fmt.Errorf("polling aborted for %s: %w", node, ctx.Err())
		case <-time.After(interval):
		}

		interval *= 2
		if interval > policy.MaxInterval {
			interval = policy.MaxInterval
		}
	}
}
