// Package config implements the Config Resolver (spec.md §4.1): turning
// user-facing CLI intent into an immutable types.TestMatrix.
package config

import (
	"context"
	"fmt"
	"path/filepath"
	"strings"

	"copter/internal/copterr"
	"copter/internal/manifest"
	"copter/internal/registry"
	"copter/internal/types"
)

// Options is the abstract configuration record spec.md §4.1 describes as
// the resolver's input, mirroring the CLI surface of §6.3.
type Options struct {
	BasePath      string // local base-crate source
	BaseCrateName string // registry base-crate name

	PatchVersions []string
	ForceVersions []string

	TopDependents  int      // dependent-selection mode: top-N by popularity
	Dependents     []string // dependent-selection mode: explicit "name[:version]" list
	DependentPaths []string // dependent-selection mode: local paths

	StagingDir string
	SkipCheck  bool
	SkipTest   bool
	ErrorLines int
	Features   []string
	Registry   string // [patch.<registry>] table name, default "crates-io"; not stored in the TestMatrix
}

// Resolve builds a validated types.TestMatrix from opts, querying client
// only for the top-N and explicit-list dependent modes (spec.md §4.1's
// "Dependent resolution"). All returned errors are copterr.KindConfigInvalid
// except when client itself fails, which surfaces as
// copterr.KindExternalUnavailable.
func Resolve(ctx context.Context, opts Options, client registry.Client) (*types.TestMatrix, error) {
	baseName, baseSource, err := resolveBaseCrate(opts)
	if err != nil {
		return nil, err
	}

	baseVersions, err := buildBaseVersions(baseName, baseSource, opts)
	if err != nil {
		return nil, err
	}

	dependents, err := resolveDependents(ctx, opts, client)
	if err != nil {
		return nil, err
	}
	if len(dependents) == 0 {
		return nil, copterr.New(copterr.KindConfigInvalid, fmt.Errorf("no dependents found"))
	}

	registryName := opts.Registry
	if registryName == "" {
		registryName = "crates-io"
	}

	matrix := &types.TestMatrix{
		BaseCrateName: baseName,
		BaseVersions:  baseVersions,
		Dependents:    dependents,
		StagingDir:    opts.StagingDir,
		SkipCheck:     opts.SkipCheck,
		SkipTest:      opts.SkipTest,
		ErrorLines:    opts.ErrorLines,
		Features:      opts.Features,
	}
	if err := matrix.Validate(); err != nil {
		return nil, copterr.New(copterr.KindConfigInvalid, err)
	}
	return matrix, nil
}

func resolveBaseCrate(opts Options) (name string, source types.CrateSource, err error) {
	hasPath := strings.TrimSpace(opts.BasePath) != ""
	hasName := strings.TrimSpace(opts.BaseCrateName) != ""

	switch {
	case hasPath && hasName:
		return "", types.CrateSource{}, copterr.New(copterr.KindConfigInvalid,
			fmt.Errorf("base crate specified both as a local path and a registry name"))
	case hasPath:
		crateName, _, err := manifest.CrateInfo(manifestPathFor(opts.BasePath))
		if err != nil {
			return "", types.CrateSource{}, copterr.New(copterr.KindConfigInvalid, err)
		}
		return crateName, types.Local(opts.BasePath), nil
	case hasName:
		return opts.BaseCrateName, types.Registry(), nil
	default:
		return "", types.CrateSource{}, copterr.New(copterr.KindConfigInvalid,
			fmt.Errorf("base crate not specified: need either a local path or a registry crate name"))
	}
}

func buildBaseVersions(baseName string, baseSource types.CrateSource, opts Options) ([]types.VersionSpec, error) {
	versions := make([]types.VersionSpec, 0, 1+len(opts.PatchVersions)+len(opts.ForceVersions))
	versions = append(versions, types.VersionSpec{
		CrateRef:     types.VersionedCrate{Name: baseName, Version: types.Latest, Source: baseSource},
		OverrideMode: types.OverrideNone,
		IsBaseline:   true,
	})
	for _, v := range opts.PatchVersions {
		versions = append(versions, types.VersionSpec{
			CrateRef:     types.VersionedCrate{Name: baseName, Version: types.Semver(v), Source: baseSource},
			OverrideMode: types.OverridePatch,
		})
	}
	for _, v := range opts.ForceVersions {
		versions = append(versions, types.VersionSpec{
			CrateRef:     types.VersionedCrate{Name: baseName, Version: types.Semver(v), Source: baseSource},
			OverrideMode: types.OverrideForce,
		})
	}
	if err := types.ValidateBaseVersions(versions); err != nil {
		return nil, copterr.New(copterr.KindConfigInvalid, err)
	}
	return versions, nil
}

func resolveDependents(ctx context.Context, opts Options, client registry.Client) ([]types.VersionSpec, error) {
	modes := 0
	if opts.TopDependents > 0 {
		modes++
	}
	if len(opts.Dependents) > 0 {
		modes++
	}
	if len(opts.DependentPaths) > 0 {
		modes++
	}
	switch {
	case modes == 0:
		return nil, copterr.New(copterr.KindConfigInvalid, fmt.Errorf("no dependent-selection mode specified"))
	case modes > 1:
		return nil, copterr.New(copterr.KindConfigInvalid, fmt.Errorf("more than one dependent-selection mode specified"))
	}

	switch {
	case opts.TopDependents > 0:
		return resolveTopDependents(ctx, opts.TopDependents, client, opts)
	case len(opts.Dependents) > 0:
		return resolveExplicitDependents(ctx, opts.Dependents, client)
	default:
		return resolveLocalDependents(opts.DependentPaths)
	}
}

func resolveTopDependents(ctx context.Context, n int, client registry.Client, opts Options) ([]types.VersionSpec, error) {
	if client == nil {
		return nil, copterr.New(copterr.KindExternalUnavailable, fmt.Errorf("top-N dependent resolution requires a registry client"))
	}
	baseName := opts.BaseCrateName
	if baseName == "" {
		// Local base crates still need a registry name for the
		// reverse-dependency lookup; fall back to the resolved package name.
		crateName, _, err := manifest.CrateInfo(manifestPathFor(opts.BasePath))
		if err != nil {
			return nil, copterr.New(copterr.KindConfigInvalid, err)
		}
		baseName = crateName
	}
	refs, err := client.TopDependents(ctx, baseName, n)
	if err != nil {
		return nil, copterr.New(copterr.KindExternalUnavailable, err)
	}
	specs := make([]types.VersionSpec, 0, len(refs))
	for _, ref := range refs {
		specs = append(specs, types.VersionSpec{
			CrateRef:     types.VersionedCrate{Name: ref.Name, Version: types.Semver(ref.LatestVersion), Source: types.Registry()},
			OverrideMode: types.OverrideNone,
			IsBaseline:   true,
		})
	}
	return specs, nil
}

func resolveExplicitDependents(ctx context.Context, entries []string, client registry.Client) ([]types.VersionSpec, error) {
	specs := make([]types.VersionSpec, 0, len(entries))
	for _, entry := range entries {
		name, version, hasVersion := strings.Cut(entry, ":")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, copterr.New(copterr.KindConfigInvalid, fmt.Errorf("malformed dependent entry %q", entry))
		}
		if !hasVersion || strings.TrimSpace(version) == "" {
			if client == nil {
				return nil, copterr.New(copterr.KindExternalUnavailable, fmt.Errorf("dependent %q has no version and no registry client is available", name))
			}
			resolved, err := client.LatestVersion(ctx, name)
			if err != nil {
				return nil, copterr.New(copterr.KindExternalUnavailable, err)
			}
			version = resolved
		}
		specs = append(specs, types.VersionSpec{
			CrateRef:     types.VersionedCrate{Name: name, Version: types.Semver(version), Source: types.Registry()},
			OverrideMode: types.OverrideNone,
			IsBaseline:   true,
		})
	}
	return specs, nil
}

func resolveLocalDependents(paths []string) ([]types.VersionSpec, error) {
	specs := make([]types.VersionSpec, 0, len(paths))
	for _, path := range paths {
		name, version, err := manifest.CrateInfo(manifestPathFor(path))
		if err != nil {
			return nil, copterr.New(copterr.KindConfigInvalid, err)
		}
		specs = append(specs, types.VersionSpec{
			CrateRef:     types.VersionedCrate{Name: name, Version: types.Semver(version), Source: types.Local(path)},
			OverrideMode: types.OverrideNone,
			IsBaseline:   true,
		})
	}
	return specs, nil
}

func manifestPathFor(dir string) string {
	if strings.HasSuffix(dir, "Cargo.toml") {
		return dir
	}
	return filepath.Join(dir, "Cargo.toml")
}
