// Package spec loads desired-state specifications from YAML files.
// The loader is a thin edge: it parses, substitutes environment
// variables and hands a StackSpec to the graph builder, which owns
// all validation.
package spec

import (
	"fmt"
	"os"
	"sort"

	"gopkg.in/yaml.v3"

	"github.com/stackform-io/stackform/internal/ir"
)

type fileSpec struct {
	Stack    string               `yaml:"stack"`
	Defaults defaults             `yaml:"defaults"`
	Nodes    map[string]*nodeSpec `yaml:"nodes"`
}

type defaults struct {
	Provider string `yaml:"provider"`
}

type nodeSpec struct {
	Kind      string         `yaml:"kind"`
	Provider  string         `yaml:"provider"`
	DependsOn []string       `yaml:"depends_on"`
	Config    map[string]any `yaml:"config"`
}

// Load reads a stack specification file. ${VAR} references in the
// file are substituted from the environment before parsing.
func Load(path string) (*ir.StackSpec, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read spec file %s: %w", path, err)
	}
	return Parse(raw, path)
}

// Parse decodes specification bytes; source is used in errors only.
func Parse(raw []byte, source string) (*ir.StackSpec, error) {
	expanded := os.Expand(string(raw), func(key string) string {
		return os.Getenv(key)
	})

	var f fileSpec
	if err := yaml.Unmarshal([]byte(expanded), &f); err != nil {
		return nil, fmt.Errorf("failed to parse spec %s: %w", source, err)
	}
	if f.Stack == "" {
		return nil, fmt.Errorf("spec %s has no stack name", source)
	}
	if len(f.Nodes) == 0 {
		return nil, fmt.Errorf("spec %s declares no nodes", source)
	}

	names := make([]string, 0, len(f.Nodes))
	for name := range f.Nodes {
		names = append(names, name)
	}
	sort.Strings(names)

	out := &ir.StackSpec{Stack: f.Stack}
	for _, name := range names {
		ns := f.Nodes[name]
		if ns == nil {
			return nil, fmt.Errorf("spec %s: node %q has no body", source, name)
		}
		providerName := ns.Provider
		if providerName == "" {
			providerName = f.Defaults.Provider
		}
		out.Nodes = append(out.Nodes, &ir.Node{
			Name:      name,
			Kind:      ir.Kind(ns.Kind),
			Provider:  providerName,
			Config:    ir.Normalize(ns.Config),
			DependsOn: ns.DependsOn,
		})
	}
	return out, nil
}
