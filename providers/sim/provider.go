// Package sim implements an in-memory simulated cloud. Resources take
// a configurable number of Describe polls to settle, so it exercises
// the reconciler's polling, replace and failure paths without any
// real provider.
package sim

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackform-io/stackform/internal/ir"
	"github.com/stackform-io/stackform/internal/provider"
)

// FailKey in a node config makes provisioning end in StatusFailed.
const FailKey = "simulate_failure"

type resourceState int

const (
	stateProvisioning resourceState = iota
	stateReady
	stateFailed
	stateDeleting
	stateGone
)

type resource struct {
	kind      ir.Kind
	name      string
	config    map[string]any
	outputs   map[string]any
	state     resourceState
	pollsLeft int
}

// Calls counts provider invocations, for asserting idempotence.
type Calls struct {
	Create   int
	Update   int
	Delete   int
	Describe int
}

type Provider struct {
	// SettleAfter is how many Describe polls an operation needs
	// before reaching a terminal status. Zero settles immediately.
	SettleAfter int

	mu        sync.Mutex
	seq       int
	resources map[string]*resource
	calls     Calls
}

func New() *Provider {
	return &Provider{resources: make(map[string]*resource)}
}

// Calls returns a copy of the invocation counters.
func (p *Provider) Calls() Calls {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.calls
}

// Exists reports whether an instance is live.
func (p *Provider) Exists(id string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	r, ok := p.resources[id]
	return ok && r.state != stateGone
}

func (p *Provider) Schema() provider.Schema {
	return provider.Schema{
		Outputs: map[ir.Kind][]string{
			ir.KindNetwork:       {"id", "cidr"},
			ir.KindSecurityGroup: {"id"},
			ir.KindDatabase:      {"id", "endpoint", "port"},
			ir.KindFunction:      {"id", "arn"},
			ir.KindApiRoute:      {"id", "url"},
		},
		UpdateInPlace: map[ir.Kind][]string{
			ir.KindNetwork:       {"tags"},
			ir.KindSecurityGroup: {"ingress", "egress", "tags"},
			ir.KindDatabase:      {"instance_class", "storage_gb", "password", "tags"},
			ir.KindFunction:      {"artifact", "memory_mb", "timeout_s", "env", "tags"},
			ir.KindApiRoute:      {"target", "method"},
		},
		ForcesReplace: map[ir.Kind][]string{
			ir.KindNetwork:  {"cidr"},
			ir.KindDatabase: {"engine", "subnet"},
			ir.KindFunction: {"runtime"},
			ir.KindApiRoute: {"path"},
		},
	}
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Create++

	p.seq++
	id := fmt.Sprintf("sim-%s-%d", kindSlug(req.Kind), p.seq)
	r := &resource{
		kind:      req.Kind,
		name:      req.Name,
		config:    req.Config,
		state:     stateProvisioning,
		pollsLeft: p.SettleAfter,
	}
	r.outputs = p.outputsFor(id, r)
	p.resources[id] = r
	p.settleLocked(id, r)

	return &provider.CreateResult{ID: id, Outputs: r.outputs}, nil
}

func (p *Provider) Update(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Update++

	r, ok := p.resources[req.ID]
	if !ok || r.state == stateGone {
		return nil, fmt.Errorf("unknown resource %s", req.ID)
	}

	r.config = req.Config
	r.state = stateProvisioning
	r.pollsLeft = p.SettleAfter
	r.outputs = p.outputsFor(req.ID, r)
	p.settleLocked(req.ID, r)

	return &provider.UpdateResult{Outputs: r.outputs}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Delete++

	r, ok := p.resources[req.ID]
	if !ok || r.state == stateGone {
		return nil // idempotent
	}
	r.state = stateDeleting
	r.pollsLeft = p.SettleAfter
	if r.pollsLeft == 0 {
		r.state = stateGone
	}
	return nil
}

func (p *Provider) Describe(ctx context.Context, req *provider.DescribeRequest) (*provider.DescribeResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls.Describe++

	r, ok := p.resources[req.ID]
	if !ok || r.state == stateGone {
		return &provider.DescribeResult{Status: provider.StatusGone}, nil
	}

	if r.pollsLeft > 0 {
		r.pollsLeft--
		if r.pollsLeft == 0 {
			p.settleLocked(req.ID, r)
		}
	}

	switch r.state {
	case stateReady:
		return &provider.DescribeResult{Status: provider.StatusReady, Outputs: r.outputs}, nil
	case stateFailed:
		return &provider.DescribeResult{Status: provider.StatusFailed, Reason: "simulated provisioning failure"}, nil
	case stateGone:
		return &provider.DescribeResult{Status: provider.StatusGone}, nil
	default:
		return &provider.DescribeResult{Status: provider.StatusProvisioning}, nil
	}
}

// settleLocked moves a resource to its terminal state once its
// remaining polls run out.
func (p *Provider) settleLocked(id string, r *resource) {
	if r.pollsLeft > 0 {
		return
	}
	switch r.state {
	case stateDeleting:
		r.state = stateGone
	case stateProvisioning:
		if fail, _ := r.config[FailKey].(bool); fail {
			r.state = stateFailed
		} else {
			r.state = stateReady
		}
	}
}

func (p *Provider) outputsFor(id string, r *resource) map[string]any {
	out := map[string]any{"id": id}
	switch r.kind {
	case ir.KindNetwork:
		out["cidr"] = r.config["cidr"]
	case ir.KindDatabase:
		out["endpoint"] = fmt.Sprintf("%s.db.sim.internal", r.name)
		out["port"] = float64(5432)
	case ir.KindFunction:
		out["arn"] = fmt.Sprintf("arn:sim:function:%s", id)
	case ir.KindApiRoute:
		path, _ := r.config["path"].(string)
		out["url"] = fmt.Sprintf("https://api.sim.internal%s", path)
	}
	return out
}

func kindSlug(k ir.Kind) string {
	switch k {
	case ir.KindNetwork:
		return "net"
	case ir.KindSecurityGroup:
		return "sg"
	case ir.KindDatabase:
		return "db"
	case ir.KindFunction:
		return "fn"
	case ir.KindApiRoute:
		return "route"
	default:
		return "res"
	}
}
