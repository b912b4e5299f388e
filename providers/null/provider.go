// Package null implements a provider whose resources exist only in
// state. Useful for wiring tests and as the reference client shape.
package null

import (
	"context"
	"fmt"
	"sync"

	"github.com/stackform-io/stackform/internal/provider"
)

type Provider struct {
	mu  sync.Mutex
	ids map[string]bool
}

func New() *Provider {
	return &Provider{ids: make(map[string]bool)}
}

func (p *Provider) Create(ctx context.Context, req *provider.CreateRequest) (*provider.CreateResult, error) {
	id := fmt.Sprintf("null-%s", req.Name)

	p.mu.Lock()
	p.ids[id] = true
	p.mu.Unlock()

	outputs := map[string]any{"id": id}
	for k, v := range req.Config {
		outputs[k] = v
	}
	return &provider.CreateResult{ID: id, Outputs: outputs}, nil
}

func (p *Provider) Update(ctx context.Context, req *provider.UpdateRequest) (*provider.UpdateResult, error) {
	p.mu.Lock()
	known := p.ids[req.ID]
	p.mu.Unlock()
	if !known {
		return nil, fmt.Errorf("unknown resource %s", req.ID)
	}

	outputs := map[string]any{"id": req.ID}
	for k, v := range req.Config {
		outputs[k] = v
	}
	return &provider.UpdateResult{Outputs: outputs}, nil
}

func (p *Provider) Delete(ctx context.Context, req *provider.DeleteRequest) error {
	p.mu.Lock()
	delete(p.ids, req.ID)
	p.mu.Unlock()
	return nil
}

func (p *Provider) Describe(ctx context.Context, req *provider.DescribeRequest) (*provider.DescribeResult, error) {
	p.mu.Lock()
	known := p.ids[req.ID]
	p.mu.Unlock()

	if !known {
		return &provider.DescribeResult{Status: provider.StatusGone}, nil
	}
	return &provider.DescribeResult{Status: provider.StatusReady}, nil
}
