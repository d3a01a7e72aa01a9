package stage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"copter/internal/types"
)

// Handle identifies a downloaded, not-yet-unpacked crate tarball
// (spec.md §6.1's "Crate downloader": fetch(name, version) -> CrateHandle).
type Handle struct {
	Name      string
	Version   string
	LocalPath string // path to the fetched .crate tarball
}

// Downloader is the out-of-scope "plumbing" collaborator spec.md §1 calls
// out: the crates.io tarball fetch/cache. The core only consumes its
// two-operation contract.
type Downloader interface {
	Fetch(ctx context.Context, name, version string) (Handle, error)
	UnpackTo(ctx context.Context, handle Handle, dest string) error
}

// Stager drives dependent and base-crate-override staging, consulting the
// disk cache before re-fetching an extraction that already exists on disk.
type Stager struct {
	Downloader Downloader
	Cache      *DiskCache
	StagingDir string
}

// StageDependent unpacks (or reuses a cached unpack of) a dependent's
// registry source into its per-cell directory and returns that path.
func (s *Stager) StageDependent(ctx context.Context, crate types.VersionedCrate) (string, error) {
	if crate.Source.Kind == types.SourceLocal {
		return crate.Source.Path, nil
	}
	return s.stageRegistrySource(ctx, crate.Name, crate.Version.Value, DependentDir(s.StagingDir, crate.Name, crate.Version.Value))
}

// StageBaseOverride resolves the directory a Patch/Force override should
// point at for the base crate. A Local source is used directly, with no
// staging; a Registry source is downloaded and unpacked like a dependent.
func (s *Stager) StageBaseOverride(ctx context.Context, crate types.VersionedCrate) (string, error) {
	switch crate.Source.Kind {
	case types.SourceLocal:
		return crate.Source.Path, nil
	case types.SourceGit:
		return "", fmt.Errorf("stage: git-sourced base crate override is not supported, got %s", crate.Source)
	default:
		return s.stageRegistrySource(ctx, crate.Name, crate.Version.Value, BaseOverrideDir(s.StagingDir, crate.Name, crate.Version.Value))
	}
}

func (s *Stager) stageRegistrySource(ctx context.Context, name, version, dest string) (string, error) {
	key := KeyFor(name, version)
	if cached, ok, err := s.Cache.Get(key); err == nil && ok {
		if info, statErr := os.Stat(cached.Dir); statErr == nil && info.IsDir() {
			return cached.Dir, nil
		}
	}

	handle, err := s.Downloader.Fetch(ctx, name, version)
	if err != nil {
		return "", fmt.Errorf("stage: failed to fetch %s@%s: %w", name, version, err)
	}
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return "", fmt.Errorf("stage: failed to create staging parent for %s@%s: %w", name, version, err)
	}
	if err := s.Downloader.UnpackTo(ctx, handle, dest); err != nil {
		return "", fmt.Errorf("stage: failed to unpack %s@%s: %w", name, version, err)
	}
	_ = s.Cache.Put(key, &CachePayload{Schema: cacheSchemaVersion, Name: name, Version: version, Dir: dest})
	return dest, nil
}

// Clean purges the staging directory entirely, for the CLI's `--clean`
// option and `copter clean` subcommand (spec.md §6.3's `clean = bool`).
func (s *Stager) Clean() error {
	if s.StagingDir == "" {
		return nil
	}
	return os.RemoveAll(s.StagingDir)
}
