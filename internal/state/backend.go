package state

import "fmt"

// BackendConfig selects and configures a snapshot backend.
type BackendConfig struct {
	Type   string            `yaml:"type" json:"type"` // "local", "s3"
	Config map[string]string `yaml:"config" json:"config"`
}

// NewStore creates a snapshot store from configuration. A nil config
// falls back to a local file under .stackform/.
func NewStore(cfg *BackendConfig) (Store, error) {
	if cfg == nil {
		return NewLocal(".stackform/state.json"), nil
	}

	switch cfg.Type {
	case "local", "":
		path := cfg.Config["path"]
		if path == "" {
			path = ".stackform/state.json"
		}
		return NewLocal(path), nil
	case "s3":
		return newS3Store(cfg.Config)
	default:
		return nil, fmt.Errorf("unknown backend type: %s", cfg.Type)
	}
}
