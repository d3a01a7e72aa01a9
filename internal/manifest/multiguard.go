package manifest

import (
	"errors"
	"path/filepath"

	"go.uber.org/zap"
)

// MultiGuard backs up and restores a manifest together with its lockfile,
// per spec.md §3's "Cargo.lock handling" ruling: the lockfile is part of
// the backup-and-restore set, and its pre-cell contents are preserved
// rather than deleted between cells.
type MultiGuard struct {
	Manifest *Guard
	Lockfile *Guard
}

// BeginCell backs up dependentDir's Cargo.toml and Cargo.lock (if present)
// ahead of one build-driver cell.
func BeginCell(dependentDir string, log *zap.Logger) (*MultiGuard, error) {
	manifestPath := filepath.Join(dependentDir, "Cargo.toml")
	lockPath := filepath.Join(dependentDir, "Cargo.lock")

	mg, err := Begin(manifestPath, log)
	if err != nil {
		return nil, err
	}
	lg, err := Begin(lockPath, log)
	if err != nil {
		_ = mg.Restore()
		return nil, err
	}
	return &MultiGuard{Manifest: mg, Lockfile: lg}, nil
}

// Restore restores both the manifest and the lockfile, attempting both and
// returning their errors joined (nil if both succeed).
func (g *MultiGuard) Restore() error {
	errManifest := g.Manifest.Restore()
	errLock := g.Lockfile.Restore()
	return errors.Join(errManifest, errLock)
}

// Close implements io.Closer, swallowing errors as the last-resort path.
func (g *MultiGuard) Close() error {
	_ = g.Restore()
	return nil
}
