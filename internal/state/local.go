package state

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/stackform-io/stackform/internal/ir"
)

// Local stores the snapshot in a file. Saves go through a temp file in
// the same directory followed by an atomic rename, with the previous
// snapshot kept alongside as a backup.
type Local struct {
	path string
}

func NewLocal(path string) *Local {
	return &Local{path: path}
}

func (l *Local) Load(ctx context.Context) (*ir.Snapshot, error) {
	return l.loadFile(l.path)
}

func (l *Local) LoadBackup(ctx context.Context) (*ir.Snapshot, error) {
	return l.loadFile(l.backupPath())
}

func (l *Local) loadFile(path string) (*ir.Snapshot, error) {
	raw, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return &ir.Snapshot{Version: ir.SnapshotVersion}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read state file %s: %w", path, err)
	}

	if IsEncrypted(raw) {
		raw, err = Decrypt(raw)
		if err != nil {
			return nil, fmt.Errorf("failed to decrypt state: %w", err)
		}
	}

	return decodeSnapshot(raw, path)
}

func (l *Local) Save(ctx context.Context, snap *ir.Snapshot) error {
	raw, err := encodeSnapshot(snap)
	if err != nil {
		return err
	}
	raw, err = Encrypt(raw)
	if err != nil {
		return fmt.Errorf("failed to encrypt state: %w", err)
	}

	dir := filepath.Dir(l.path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create state directory: %w", err)
	}

	// Keep the previous snapshot for rollback before replacing it.
	if prev, err := os.ReadFile(l.path); err == nil {
		if err := os.WriteFile(l.backupPath(), prev, 0600); err != nil {
			return fmt.Errorf("failed to write state backup: %w", err)
		}
	}

	tmp, err := os.CreateTemp(dir, ".stackform-state-*")
	if err != nil {
		return fmt.Errorf("failed to create temp state file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if _, err := tmp.Write(raw); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write temp state file: %w", err)
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to sync temp state file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to close temp state file: %w", err)
	}
	if err := os.Chmod(tmpName, 0600); err != nil {
		return fmt.Errorf("failed to set state file mode: %w", err)
	}

	if err := os.Rename(tmpName, l.path); err != nil {
		return fmt.Errorf("failed to replace state file %s: %w", l.path, err)
	}
	return nil
}

func (l *Local) Reset(ctx context.Context) error {
	aside := fmt.Sprintf("%s.corrupt-%d", l.path, time.Now().Unix())
	if err := os.Rename(l.path, aside); err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("failed to set aside state file: %w", err)
	}
	return nil
}

// A lock file untouched for this long belongs to a dead process.
const staleLockAge = 10 * time.Minute

// Lock guards the state against concurrent runs. The lock file is
// created with O_EXCL, so exactly one contender wins even when two
// runs race for it.
func (l *Local) Lock() error {
	lockPath := l.lockPath()
	if err := os.MkdirAll(filepath.Dir(lockPath), 0755); err != nil {
		return fmt.Errorf("failed to create lock directory: %w", err)
	}

	// Two attempts: the second one runs only after a stale lock was
	// cleared, and may still lose to a concurrent contender.
	for attempt := 0; attempt < 2; attempt++ {
		f, err := os.OpenFile(lockPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
		if err == nil {
			fmt.Fprintf(f, "pid=%d\ntime=%s\n", os.Getpid(), time.Now().UTC().Format(time.RFC3339))
			return f.Close()
		}
		if !os.IsExist(err) {
			return fmt.Errorf("failed to create lock file: %w", err)
		}

		info, statErr := os.Stat(lockPath)
		if statErr == nil && time.Since(info.ModTime()) > staleLockAge {
			os.Remove(lockPath)
			continue
		}
		break
	}

	return fmt.Errorf("state is locked by another process (lock file: %s). "+
		"If this is an error, remove the lock file manually", lockPath)
}

// Unlock releases the state lock.
func (l *Local) Unlock() error {
	if err := os.Remove(l.lockPath()); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to remove lock file: %w", err)
	}
	return nil
}

func (l *Local) lockPath() string {
	return l.path + ".lock"
}

func (l *Local) backupPath() string {
	return l.path + ".backup"
}
