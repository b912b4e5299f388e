package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"time"
)

// SnapshotVersion is the current snapshot schema version.
const SnapshotVersion = 1

// Record is the last-known provider state of one node.
type Record struct {
	Name         string         `json:"name"`
	Kind         Kind           `json:"kind"`
	Provider     string         `json:"provider"`
	ID           string         `json:"id,omitempty"`
	Config       map[string]any `json:"config"`
	ConfigHash   string         `json:"config_hash"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Dependencies []string       `json:"dependencies,omitempty"`
	Status       Status         `json:"status"`
	AppliedAt    time.Time      `json:"applied_at,omitzero"`
}

// Snapshot is the persisted state of a stack: one record per logical
// node, plus lineage and a serial that increments on every save.
type Snapshot struct {
	Version int       `json:"version"`
	Serial  int       `json:"serial"`
	Lineage string    `json:"lineage"`
	Stack   string    `json:"stack"`
	Records []*Record `json:"records"`
}

// NewSnapshot returns an empty snapshot for a stack.
func NewSnapshot(stack string) *Snapshot {
	return &Snapshot{
		Version: SnapshotVersion,
		Serial:  0,
		Stack:   stack,
	}
}

// Get returns the record for a logical name, or nil.
func (s *Snapshot) Get(name string) *Record {
	for _, r := range s.Records {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// Put inserts or replaces the record for its logical name.
func (s *Snapshot) Put(rec *Record) {
	for i, r := range s.Records {
		if r.Name == rec.Name {
			s.Records[i] = rec
			return
		}
	}
	s.Records = append(s.Records, rec)
}

// Remove drops the record for a logical name if present.
func (s *Snapshot) Remove(name string) {
	for i, r := range s.Records {
		if r.Name == name {
			s.Records = append(s.Records[:i], s.Records[i+1:]...)
			return
		}
	}
}

// Clone returns a deep copy. The reconciler mutates a clone and the
// store persists it; the loaded snapshot is never touched in place.
func (s *Snapshot) Clone() *Snapshot {
	raw, err := json.Marshal(s)
	if err != nil {
		// Snapshot contents come from JSON in the first place.
		panic(fmt.Sprintf("snapshot not serializable: %v", err))
	}
	var out Snapshot
	if err := json.Unmarshal(raw, &out); err != nil {
		panic(fmt.Sprintf("snapshot clone: %v", err))
	}
	return &out
}

// Sort orders records by logical name for stable serialization.
func (s *Snapshot) Sort() {
	sort.Slice(s.Records, func(i, j int) bool {
		return s.Records[i].Name < s.Records[j].Name
	})
}

// HashConfig returns a stable hash of a node configuration, used to
// detect drift between desired config and the last applied one.
func HashConfig(config map[string]any) string {
	raw := canonicalJSON(config)
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:])
}

// canonicalJSON marshals with sorted keys at every level. encoding/json
// already sorts map keys, so one normalization pass is enough.
func canonicalJSON(v any) []byte {
	raw, err := json.Marshal(normalize(v))
	if err != nil {
		return []byte(fmt.Sprintf("%v", v))
	}
	return raw
}

// normalize coerces YAML-decoded values into their JSON shapes so the
// same config hashes identically whether it came from a file or state.
func normalize(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[k] = normalize(item)
		}
		return out
	case map[any]any:
		out := make(map[string]any, len(val))
		for k, item := range val {
			out[fmt.Sprintf("%v", k)] = normalize(item)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for i, item := range val {
			out[i] = normalize(item)
		}
		return out
	case int:
		return float64(val)
	case int64:
		return float64(val)
	default:
		return val
	}
}

// Normalize is the exported form used by the loader and diff engine.
func Normalize(config map[string]any) map[string]any {
	out, _ := normalize(config).(map[string]any)
	return out
}
