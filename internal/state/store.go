// Package state persists stack snapshots between reconciliation runs.
// Snapshots are stored as versioned, checksummed JSON envelopes and
// written atomically; the previous snapshot is kept as a backup for
// rollback. Backends: local file and S3 with DynamoDB locking.
package state

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/stackform-io/stackform/internal/ir"
)

// Store is a snapshot backend.
type Store interface {
	// Load returns the current snapshot, or an empty one on first run.
	// A snapshot that exists but cannot be validated yields a
	// *CorruptError; that is fatal and never silently discarded.
	Load(ctx context.Context) (*ir.Snapshot, error)

	// Save persists a snapshot atomically. A crash mid-save must leave
	// the previous snapshot readable.
	Save(ctx context.Context, snap *ir.Snapshot) error

	// LoadBackup returns the snapshot as it was before the last Save.
	LoadBackup(ctx context.Context) (*ir.Snapshot, error)

	// Reset discards a corrupt snapshot. This is the explicit operator
	// override; it preserves the damaged payload where the backend can.
	Reset(ctx context.Context) error

	// Lock acquires an exclusive lock on the state.
	Lock() error

	// Unlock releases the lock on the state.
	Unlock() error
}

// CorruptError means the persisted snapshot could not be parsed or its
// checksum did not validate.
type CorruptError struct {
	Source string
	Reason string
	Err    error
}

func (e *CorruptError) Error() string {
	return fmt.Sprintf("corrupt state at %s: %s", e.Source, e.Reason)
}

func (e *CorruptError) Unwrap() error {
	return e.Err
}

// Get returns the stored record for one logical name, or nil when the
// node has never been applied.
func Get(ctx context.Context, s Store, name string) (*ir.Record, error) {
	snap, err := s.Load(ctx)
	if err != nil {
		return nil, err
	}
	return snap.Get(name), nil
}

// envelope is the on-disk layout: the snapshot payload plus a checksum
// over its exact bytes.
type envelope struct {
	Version  int             `json:"version"`
	Checksum string          `json:"checksum"`
	Snapshot json.RawMessage `json:"snapshot"`
}

// encodeSnapshot wraps a snapshot in a checksummed envelope.
func encodeSnapshot(snap *ir.Snapshot) ([]byte, error) {
	snap.Sort()
	payload, err := json.MarshalIndent(snap, "  ", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal snapshot: %w", err)
	}

	env := envelope{
		Version:  ir.SnapshotVersion,
		Checksum: checksum(payload),
		Snapshot: payload,
	}
	raw, err := json.MarshalIndent(&env, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("failed to marshal state envelope: %w", err)
	}
	return append(raw, '\n'), nil
}

// decodeSnapshot validates and unwraps an envelope read from source.
func decodeSnapshot(raw []byte, source string) (*ir.Snapshot, error) {
	var env envelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, &CorruptError{Source: source, Reason: "envelope is not valid JSON", Err: err}
	}
	if env.Version > ir.SnapshotVersion {
		return nil, &CorruptError{Source: source, Reason: fmt.Sprintf("snapshot version %d is newer than supported %d", env.Version, ir.SnapshotVersion)}
	}
	if got := checksum(env.Snapshot); got != env.Checksum {
		return nil, &CorruptError{Source: source, Reason: fmt.Sprintf("checksum mismatch: recorded %s, computed %s", env.Checksum, got)}
	}

	var snap ir.Snapshot
	if err := json.Unmarshal(env.Snapshot, &snap); err != nil {
		return nil, &CorruptError{Source: source, Reason: "snapshot payload is not valid JSON", Err: err}
	}
	return &snap, nil
}

func checksum(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
