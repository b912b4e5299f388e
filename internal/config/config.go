// Package config loads engine settings from stackform.yaml.
package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/stackform-io/stackform/internal/state"
)

// DefaultFile is looked up in the working directory when no config
// path is given.
const DefaultFile = "stackform.yaml"

// Config is the operator-facing engine configuration. Everything has
// a usable zero default; the file is optional.
type Config struct {
	LogLevel    string              `yaml:"log_level"`
	Parallelism int                 `yaml:"parallelism"`
	FailFast    bool                `yaml:"fail_fast"`
	NodeTimeout Duration            `yaml:"node_timeout"`
	Poll        PollConfig          `yaml:"poll"`
	Backend     state.BackendConfig `yaml:"backend"`
}

type PollConfig struct {
	InitialInterval Duration `yaml:"initial_interval"`
	MaxInterval     Duration `yaml:"max_interval"`
	MaxWait         Duration `yaml:"max_wait"`
}

// Duration decodes YAML strings like "30s" or "10m".
type Duration time.Duration

// UnmarshalYAML implements yaml.Unmarshaler for Duration.
func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var s string
	if err := value.Decode(&s); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(s)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", s, err)
	}
	*d = Duration(parsed)
	return nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// Load reads configuration from path. A missing file yields defaults;
// any other failure is an error.
func Load(path string) (*Config, error) {
	cfg := &Config{LogLevel: "info"}

	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(raw, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return cfg, nil
}
