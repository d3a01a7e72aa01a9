package compile

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// lockfile is the slice of Cargo.lock this package reads.
type lockfile struct {
	Package []struct {
		Name    string `toml:"name"`
		Version string `toml:"version"`
	} `toml:"package"`
}

// metadataDoc is the slice of `cargo metadata --format-version=1` output
// this package reads as a lockfile fallback.
type metadataDoc struct {
	Packages []struct {
		Name    string `json:"name"`
		Version string `json:"version"`
	} `json:"packages"`
}

// ResolvedVersion reports the version of crateName the package manager
// actually selected for dependentDir, read from Cargo.lock. If no lockfile
// is present (a dependent vendored without one) it falls back to `cargo
// metadata` (original_source/src/compile/executor.rs's resolved-version
// fallback, spec.md's supplemented feature #3).
func ResolvedVersion(ctx context.Context, dependentDir, crateName string) (string, error) {
	lockPath := filepath.Join(dependentDir, "Cargo.lock")
	if _, err := os.Stat(lockPath); err == nil {
		var lf lockfile
		if _, err := toml.DecodeFile(lockPath, &lf); err != nil {
			return "", fmt.Errorf("compile: failed to parse %s: %w", lockPath, err)
		}
		for _, pkg := range lf.Package {
			if pkg.Name == crateName {
				return pkg.Version, nil
			}
		}
		return "", fmt.Errorf("compile: %s not found in %s", crateName, lockPath)
	}

	raw, err := RunMetadata(ctx, dependentDir)
	if err != nil {
		return "", fmt.Errorf("compile: no lockfile and metadata fallback failed: %w", err)
	}
	var doc metadataDoc
	if err := json.Unmarshal([]byte(raw), &doc); err != nil {
		return "", fmt.Errorf("compile: failed to parse cargo metadata output: %w", err)
	}
	for _, pkg := range doc.Packages {
		if pkg.Name == crateName {
			return pkg.Version, nil
		}
	}
	return "", fmt.Errorf("compile: %s not found in cargo metadata output", crateName)
}
