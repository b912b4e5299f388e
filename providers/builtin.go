// Package providers wires the builtin provider clients into a
// registry. Out-of-process provider plugins would be loaded here too.
package providers

import (
	"github.com/stackform-io/stackform/internal/provider"
	"github.com/stackform-io/stackform/providers/null"
	"github.com/stackform-io/stackform/providers/sim"
)

// Default returns a registry with all builtin providers registered.
func Default() (*provider.Registry, error) {
	reg := provider.NewRegistry()
	if err := reg.Register("null", null.New()); err != nil {
		return nil, err
	}
	if err := reg.Register("sim", sim.New()); err != nil {
		return nil, err
	}
	return reg, nil
}
