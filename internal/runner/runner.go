// Package runner implements the Matrix Runner (spec.md §4.4): ordering,
// baseline-first execution, comparison attachment, and streaming result
// delivery.
package runner

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"copter/internal/compile"
	"copter/internal/manifest"
	"copter/internal/registry"
	"copter/internal/stage"
	"copter/internal/types"
)

// OnResult is invoked exactly once per cell, before the next cell begins
// (spec.md §4.4's streaming callback contract). It must not block
// indefinitely.
type OnResult func(types.TestResult)

// Runner executes a types.TestMatrix to completion.
type Runner struct {
	Driver   *compile.Driver
	Stager   *stage.Stager
	Registry registry.Client
	Log      *zap.Logger
	Progress ProgressSink

	// PreferConfigOverride is forwarded to every Patch-depth cell's
	// compile.Request (see compile.Request.PreferConfigOverride).
	PreferConfigOverride bool
}

func (r *Runner) emit(evt Event) {
	if r.Progress != nil {
		r.Progress.OnEvent(evt)
	}
}

func (r *Runner) log() *zap.Logger {
	if r.Log != nil {
		return r.Log
	}
	return zap.NewNop()
}

// Run drives every (dependent, base version) cell in matrix, baseline
// first per dependent, streaming each types.TestResult through onResult.
// Before any cell runs it returns an error if the matrix is invalid, a
// "latest" version cannot be resolved, or a dependent cannot be staged.
// Once cells are running it halts only on a matrix-fatal error from the
// driver (manifest unreadable/unwritable, or restore failure — spec.md §7's
// propagation policy); per-cell step failures, and a failure to stage one
// offered version's override source, are ordinary data, not errors.
func (r *Runner) Run(ctx context.Context, matrix *types.TestMatrix, onResult OnResult) ([]types.TestResult, error) {
	if err := matrix.Validate(); err != nil {
		return nil, fmt.Errorf("runner: invalid matrix: %w", err)
	}
	r.log().Info("starting matrix run",
		zap.String("base_crate", matrix.BaseCrateName),
		zap.Int("dependents", len(matrix.Dependents)),
		zap.Int("offered_versions", len(matrix.BaseVersions)-1))

	resolvedVersions, err := r.resolveLatest(ctx, matrix)
	if err != nil {
		return nil, err
	}

	baselineSpec, err := findBaseline(resolvedVersions)
	if err != nil {
		return nil, err
	}
	offered := offeredOnly(resolvedVersions)

	dependentDirs, err := r.prestageDependents(ctx, matrix.Dependents)
	if err != nil {
		return nil, err
	}

	var results []types.TestResult
	for _, dependentSpec := range matrix.Dependents {
		dependentDir := dependentDirs[dependentSpec.CrateRef.Name]

		baselineLabel := cellLabel(dependentSpec.CrateRef, baselineSpec.CrateRef.Version)
		r.emit(Event{Cell: baselineLabel, Stage: StageFetch, Status: StatusWorking})
		baselineExecution, err := r.Driver.Drive(ctx, compile.Request{
			DependentDir: dependentDir,
			BaseCrate:    baselineSpec.CrateRef,
			Override:     types.OverrideNone,
			Features:     matrix.Features,
			SkipCheck:    matrix.SkipCheck,
			SkipTest:     matrix.SkipTest,
		})
		if err != nil {
			r.emit(Event{Cell: baselineLabel, Stage: StageFetch, Status: StatusError})
			return results, fmt.Errorf("runner: baseline cell failed fatally for dependent %s: %w", dependentSpec.CrateRef.Name, err)
		}
		r.emit(Event{Cell: baselineLabel, Stage: stageFor(baselineExecution), Status: statusFor(baselineExecution, matrix.SkipCheck, matrix.SkipTest)})
		baselinePassed := baselineExecution.IsSuccess(matrix.SkipCheck, matrix.SkipTest)

		baselineResult := types.TestResult{
			BaseVersion: baselineSpec.CrateRef,
			Dependent:   dependentSpec.CrateRef,
			Execution:   baselineExecution,
			Baseline:    nil,
		}
		results = append(results, baselineResult)
		onResult(baselineResult)

		for _, offeredSpec := range offered {
			offeredLabel := cellLabel(dependentSpec.CrateRef, offeredSpec.CrateRef.Version)
			r.emit(Event{Cell: offeredLabel, Stage: StageFetch, Status: StatusWorking})
			pin, err := r.pinFor(ctx, offeredSpec)
			if err != nil {
				// An unavailable override source fails this cell only: it is
				// reported as a failed fetch and the run continues.
				r.log().Warn("failed to resolve override", zap.String("base", offeredSpec.CrateRef.String()), zap.Error(err))
				r.emit(Event{Cell: offeredLabel, Stage: StageFetch, Status: StatusError})
				result := types.TestResult{
					BaseVersion: offeredSpec.CrateRef,
					Dependent:   dependentSpec.CrateRef,
					Execution:   types.ThreeStepResult{Fetch: types.StepOutcome{Success: false, Stderr: fmt.Sprintf("runner: failed to resolve override for %s: %v\n", offeredSpec.CrateRef, err)}},
					Baseline:    &types.BaselineComparison{BaselinePassed: baselinePassed, BaselineVersion: baselineSpec.CrateRef.Version},
				}
				results = append(results, result)
				onResult(result)
				continue
			}
			execution, err := r.Driver.Drive(ctx, compile.Request{
				DependentDir:         dependentDir,
				BaseCrate:            offeredSpec.CrateRef,
				Override:             offeredSpec.OverrideMode,
				Pin:                  pin,
				Features:             matrix.Features,
				SkipCheck:            matrix.SkipCheck,
				SkipTest:             matrix.SkipTest,
				PreferConfigOverride: r.PreferConfigOverride,
			})
			if err != nil {
				r.emit(Event{Cell: offeredLabel, Stage: StageFetch, Status: StatusError})
				return results, fmt.Errorf("runner: cell failed fatally for dependent %s at %s: %w", dependentSpec.CrateRef.Name, offeredSpec.CrateRef.Version, err)
			}
			r.emit(Event{Cell: offeredLabel, Stage: stageFor(execution), Status: statusFor(execution, matrix.SkipCheck, matrix.SkipTest)})
			result := types.TestResult{
				BaseVersion: offeredSpec.CrateRef,
				Dependent:   dependentSpec.CrateRef,
				Execution:   execution,
				Baseline: &types.BaselineComparison{
					BaselinePassed:  baselinePassed,
					BaselineVersion: baselineSpec.CrateRef.Version,
				},
			}
			results = append(results, result)
			onResult(result)
		}
	}
	return results, nil
}

// prestageDependents downloads and unpacks every dependent's source
// concurrently before the baseline-first loop begins, since dependents are
// independent of each other (spec.md §4.4's ordering guarantee only
// constrains baseline-before-offered within a single dependent). Errors
// from any one dependent abort the whole group.
func (r *Runner) prestageDependents(ctx context.Context, dependents []types.VersionSpec) (map[string]string, error) {
	group, groupCtx := errgroup.WithContext(ctx)
	dirs := make([]string, len(dependents))
	for i, dependentSpec := range dependents {
		i, dependentSpec := i, dependentSpec
		group.Go(func() error {
			dir, err := r.Stager.StageDependent(groupCtx, dependentSpec.CrateRef)
			if err != nil {
				return fmt.Errorf("runner: failed to stage dependent %s: %w", dependentSpec.CrateRef.Name, err)
			}
			dirs[i] = dir
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	out := make(map[string]string, len(dependents))
	for i, dependentSpec := range dependents {
		out[dependentSpec.CrateRef.Name] = dirs[i]
	}
	return out, nil
}

// resolveLatest substitutes the types.Latest sentinel in matrix's
// base_versions with a concrete version, per spec.md §4.4 step 1: a
// registry source is resolved against the registry client, a local
// source against its own Cargo.toml.
func (r *Runner) resolveLatest(ctx context.Context, matrix *types.TestMatrix) ([]types.VersionSpec, error) {
	out := make([]types.VersionSpec, len(matrix.BaseVersions))
	for i, spec := range matrix.BaseVersions {
		if !spec.CrateRef.Version.IsLatest() {
			out[i] = spec
			continue
		}
		concrete, err := r.resolveLatestVersion(ctx, spec.CrateRef)
		if err != nil {
			return nil, fmt.Errorf("runner: failed to resolve latest version of %s: %w", spec.CrateRef.Name, err)
		}
		resolved, err := spec.CrateRef.Version.Resolved(concrete)
		if err != nil {
			return nil, err
		}
		spec.CrateRef.Version = resolved
		out[i] = spec
	}
	return out, nil
}

func (r *Runner) resolveLatestVersion(ctx context.Context, crate types.VersionedCrate) (string, error) {
	if crate.Source.Kind == types.SourceLocal {
		_, version, err := manifest.CrateInfo(filepath.Join(crate.Source.Path, "Cargo.toml"))
		if err != nil {
			return "", err
		}
		return version, nil
	}
	if r.Registry == nil {
		return "", fmt.Errorf("runner: %s has no pinned version and no registry client is available", crate.Name)
	}
	return r.Registry.LatestVersion(ctx, crate.Name)
}

// pinFor decides how an offered VersionSpec's override should be
// expressed in the manifest. Force against a registry source pins an
// exact semver directly (no staging needed); every other override needs a
// local directory for the dependent's manifest to point at.
func (r *Runner) pinFor(ctx context.Context, spec types.VersionSpec) (manifest.PinSpec, error) {
	switch spec.OverrideMode {
	case types.OverrideForce:
		if spec.CrateRef.Source.Kind == types.SourceLocal {
			return manifest.PinSpec{Path: spec.CrateRef.Source.Path}, nil
		}
		return manifest.PinSpec{Exact: spec.CrateRef.Version.Value}, nil
	case types.OverridePatch:
		dir, err := r.Stager.StageBaseOverride(ctx, spec.CrateRef)
		if err != nil {
			return manifest.PinSpec{}, err
		}
		return manifest.PinSpec{Path: dir}, nil
	default:
		return manifest.PinSpec{}, nil
	}
}

// ExpectedCells resolves matrix's "latest" sentinels the same way Run does
// and returns the ordered "dependent@version (base version)" labels Run
// will emit events for, without driving anything. Progress UIs use this to
// seed their row list before the run begins.
func (r *Runner) ExpectedCells(ctx context.Context, matrix *types.TestMatrix) ([]string, error) {
	resolvedVersions, err := r.resolveLatest(ctx, matrix)
	if err != nil {
		return nil, err
	}
	baselineSpec, err := findBaseline(resolvedVersions)
	if err != nil {
		return nil, err
	}
	offered := offeredOnly(resolvedVersions)

	labels := make([]string, 0, len(matrix.Dependents)*(1+len(offered)))
	for _, dependentSpec := range matrix.Dependents {
		labels = append(labels, cellLabel(dependentSpec.CrateRef, baselineSpec.CrateRef.Version))
		for _, offeredSpec := range offered {
			labels = append(labels, cellLabel(dependentSpec.CrateRef, offeredSpec.CrateRef.Version))
		}
	}
	return labels, nil
}

func findBaseline(specs []types.VersionSpec) (types.VersionSpec, error) {
	for _, s := range specs {
		if s.IsBaseline {
			return s, nil
		}
	}
	return types.VersionSpec{}, fmt.Errorf("runner: matrix has no baseline entry")
}

func offeredOnly(specs []types.VersionSpec) []types.VersionSpec {
	out := make([]types.VersionSpec, 0, len(specs))
	for _, s := range specs {
		if !s.IsBaseline {
			out = append(out, s)
		}
	}
	return out
}
