package manifest

import (
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"
)

// backupSuffix mirrors the original tool's ".copter-backup" extension
// (original_source/src/compile/patching.rs's BACKUP_EXTENSION), named next
// to the manifest it shadows (invariant M2: stable, collision-free name).
const backupSuffix = ".copter-backup"

// Guard is an RAII-style backup handle (spec.md §4.3, §3 "RAII guard").
// Go has no destructors, so the discipline is explicit: callers must
// `defer guard.Close()` immediately after Begin succeeds. Close restores
// the manifest if Restore hasn't already been called, swallowing errors as
// a last resort (spec.md's "dropping the guard ... invokes restore with
// errors swallowed").
type Guard struct {
	path       string
	backupPath string
	restored   bool
	existed    bool
	log        *zap.Logger
}

var _ io.Closer = (*Guard)(nil)

// Begin backs up manifestPath's current bytes to a sibling file and
// returns a Guard. If manifestPath does not exist yet, the guard still
// restores correctly (restoring to "did not exist").
func Begin(manifestPath string, log *zap.Logger) (*Guard, error) {
	if log == nil {
		log = zap.NewNop()
	}
	backupPath := manifestPath + backupSuffix

	info, err := os.Stat(manifestPath)
	existed := err == nil && !info.IsDir()
	if existed {
		data, err := os.ReadFile(manifestPath)
		if err != nil {
			return nil, fmt.Errorf("manifest: failed to read %s for backup: %w", manifestPath, err)
		}
		if err := os.WriteFile(backupPath, data, 0o600); err != nil {
			return nil, fmt.Errorf("manifest: failed to write backup %s: %w", backupPath, err)
		}
	}
	log.Debug("created manifest backup", zap.String("path", manifestPath), zap.String("backup", backupPath))
	return &Guard{path: manifestPath, backupPath: backupPath, existed: existed, log: log}, nil
}

// Path returns the manifest path this guard protects.
func (g *Guard) Path() string { return g.path }

// Restore copies the backup back over the manifest and removes the backup
// file (invariant M1). Safe to call more than once; only the first call
// has an effect.
func (g *Guard) Restore() error {
	if g.restored {
		return nil
	}
	g.restored = true
	if !g.existed {
		if err := os.RemoveAll(g.path); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("manifest: failed to remove %s during restore: %w", g.path, err)
		}
		return nil
	}
	data, err := os.ReadFile(g.backupPath)
	if err != nil {
		return fmt.Errorf("manifest: failed to read backup %s: %w", g.backupPath, err)
	}
	if err := os.WriteFile(g.path, data, 0o600); err != nil {
		return fmt.Errorf("manifest: failed to restore %s: %w", g.path, err)
	}
	if err := os.Remove(g.backupPath); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("manifest: failed to remove backup %s: %w", g.backupPath, err)
	}
	g.log.Debug("restored manifest from backup", zap.String("path", g.path))
	return nil
}

// Close is the last-resort cleanup path: it restores and swallows any
// error, matching spec.md's "dropping the guard ... invokes restore with
// errors swallowed". Callers that need to observe restore failures
// (copterr.KindRestoreFailed, matrix-fatal) should call Restore directly.
func (g *Guard) Close() error {
	_ = g.Restore()
	return nil
}
