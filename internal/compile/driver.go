package compile

import (
	"context"
	"fmt"
	"path/filepath"

	"go.uber.org/zap"

	"copter/internal/copterr"
	"copter/internal/diag"
	"copter/internal/manifest"
	"copter/internal/observ"
	"copter/internal/types"
)

// defaultRegistry is the [patch.<registry>] table name used when a
// dependent doesn't name an alternate registry (spec.md §4.3).
const defaultRegistry = "crates-io"

// Request is everything one drive() cell needs: where to run, what to pin,
// and how hard to pin it (original_source/src/compile/mod.rs::DriveRequest).
type Request struct {
	DependentDir string
	BaseCrate    types.VersionedCrate
	Override     types.OverrideMode
	// Pin describes the override value: an exact semver (registry source)
	// or a local path (staged/local source). Unused when Override is None.
	Pin       manifest.PinSpec
	Registry  string
	Features  []string
	SkipCheck bool
	SkipTest  bool

	// PreferConfigOverride, when true and Override == OverridePatch, makes
	// Drive try a one-shot `cargo fetch --config` override before falling
	// back to mutating the manifest (spec.md's supplemented `--config`
	// fetch override feature, original_source/src/compile/executor.rs::
	// run_cargo_fetch_with_config).
	PreferConfigOverride bool
}

func (r Request) registry() string {
	if r.Registry != "" {
		return r.Registry
	}
	return defaultRegistry
}

// Driver runs the three-step ICT pipeline against one dependent directory,
// with patch-depth escalation on a detected multi-version conflict
// (spec.md §4.2, original_source/src/compile/mod.rs::run_three_step_ict and
// original_source/src/compile/retry.rs).
type Driver struct {
	Executor Executor
	Log      *zap.Logger
	Timer    *observ.Timer
}

func depthFor(mode types.OverrideMode) types.PatchDepth {
	switch mode {
	case types.OverrideForce:
		return types.DepthForce
	case types.OverridePatch:
		return types.DepthPatch
	default:
		return types.DepthNone
	}
}

// Drive runs one cell: backs up the manifest (and lockfile) if a patch
// depth was requested, applies the override, runs fetch/check/test with
// early-stop, and restores the manifest before returning regardless of
// outcome.
func (d *Driver) Drive(ctx context.Context, req Request) (result types.ThreeStepResult, err error) {
	log := d.Log
	if log == nil {
		log = zap.NewNop()
	}

	depth := depthFor(req.Override)
	result.PatchDepth = depth

	manifestPath := filepath.Join(req.DependentDir, "Cargo.toml")

	if depth == types.DepthPatch && req.PreferConfigOverride && req.Pin.Path != "" {
		if cfgExec, ok := d.Executor.(ConfigFetcher); ok {
			configKV := fmt.Sprintf("patch.%s.%s.path=%q", req.registry(), req.BaseCrate.Name, req.Pin.Path)
			phase := -1
			if d.Timer != nil {
				phase = d.Timer.Begin("fetch-config-override")
			}
			fetch := cfgExec.RunFetchWithConfig(ctx, req.DependentDir, req.Features, configKV)
			if d.Timer != nil {
				d.Timer.End(phase, req.DependentDir)
			}
			if fetch.Success {
				result.Fetch = fetch
				return d.continueAfterFetch(ctx, req, depth, result, log)
			}
			log.Debug("config-override fetch failed, falling back to manifest mutation",
				zap.String("dependent", req.DependentDir))
		}
	}

	if depth != types.DepthNone {
		guard, beginErr := manifest.BeginCell(req.DependentDir, log)
		if beginErr != nil {
			return result, copterr.New(copterr.KindManifestUnwritable, fmt.Errorf("compile: failed to begin manifest guard: %w", beginErr))
		}
		// Invariant M1/P3: the manifest (and lockfile) must be restored
		// regardless of outcome. A restore failure is the one cell-level
		// fatal error (spec.md §7's RestoreFailed) and overrides whatever
		// result this cell produced, so the runner halts the matrix.
		defer func() {
			if restoreErr := guard.Restore(); restoreErr != nil {
				log.Error("failed to restore manifest after cell", zap.String("dependent", req.DependentDir), zap.Error(restoreErr))
				err = copterr.New(copterr.KindRestoreFailed, restoreErr)
			}
		}()

		if applyErr := applyOverride(manifestPath, req.registry(), req.BaseCrate.Name, depth, req.Pin); applyErr != nil {
			return result, copterr.New(copterr.KindManifestUnwritable, fmt.Errorf("compile: failed to apply %s override: %w", depth, applyErr))
		}
	}

	phase := -1
	if d.Timer != nil {
		phase = d.Timer.Begin("fetch")
	}
	fetch := d.Executor.RunStep(ctx, types.StepFetch, req.DependentDir, req.Features)
	if d.Timer != nil {
		d.Timer.End(phase, req.DependentDir)
	}
	result.Fetch = fetch

	if !fetch.Success && depth == types.DepthForce {
		fetch, result.PatchDepth, result.Advisory = d.escalate(ctx, req, manifestPath, fetch)
		result.Fetch = fetch
	}

	if !fetch.Success {
		return result, nil
	}

	return d.continueAfterFetch(ctx, req, depth, result, log)
}

// continueAfterFetch runs the resolved-version lookup and the check/test
// steps that follow a successful fetch, regardless of whether that fetch
// came from the config-override path or the manifest-mutation path.
func (d *Driver) continueAfterFetch(ctx context.Context, req Request, depth types.PatchDepth, result types.ThreeStepResult, log *zap.Logger) (types.ThreeStepResult, error) {
	if resolved, err := ResolvedVersion(ctx, req.DependentDir, req.BaseCrate.Name); err != nil {
		log.Warn("could not determine resolved base crate version", zap.String("dependent", req.DependentDir), zap.Error(err))
	} else {
		result.ResolvedVersion = resolved
		if depth == types.DepthForce && !req.BaseCrate.Version.IsLatest() && resolved != req.BaseCrate.Version.Value {
			log.Warn("resolved version does not match forced pin",
				zap.String("dependent", req.DependentDir),
				zap.String("pinned", req.BaseCrate.Version.Value),
				zap.String("resolved", resolved))
		}
	}

	if req.SkipCheck {
		return result, nil
	}
	phase := -1
	if d.Timer != nil {
		phase = d.Timer.Begin("check")
	}
	check := d.Executor.RunStep(ctx, types.StepCheck, req.DependentDir, req.Features)
	if d.Timer != nil {
		d.Timer.End(phase, req.DependentDir)
	}
	result.Check = &check
	if !check.Success {
		return result, nil
	}

	if req.SkipTest {
		return result, nil
	}
	if d.Timer != nil {
		phase = d.Timer.Begin("test")
	}
	test := d.Executor.RunStep(ctx, types.StepTest, req.DependentDir, req.Features)
	if d.Timer != nil {
		d.Timer.End(phase, req.DependentDir)
	}
	result.Test = &test
	return result, nil
}

// escalate implements the Force -> Patch -> DeepPatch retry ladder: on a
// detected multi-version conflict, add a [patch.<registry>] entry (keeping
// the force-pinned row in place) and retry fetch once. If the conflict
// persists, the result is labeled DeepPatch — a terminal, advisory-only
// state; no further retry is attempted
// (original_source/src/compile/retry.rs::retry_with_patch).
func (d *Driver) escalate(ctx context.Context, req Request, manifestPath string, original types.StepOutcome) (types.StepOutcome, types.PatchDepth, string) {
	conflictOutput := original.Stdout + "\n" + original.Stderr
	if !diag.HasMultiVersionConflict(conflictOutput) {
		return original, types.DepthForce, ""
	}

	if err := manifest.ApplyPatch(manifestPath, req.registry(), req.BaseCrate.Name, req.Pin); err != nil {
		d.logf("failed to apply escalation patch: %v", err)
		return original, types.DepthForce, ""
	}

	retry := d.Executor.RunStep(ctx, types.StepFetch, req.DependentDir, req.Features)
	retryOutput := retry.Stdout + "\n" + retry.Stderr
	if !retry.Success && diag.HasMultiVersionConflict(retryOutput) {
		blocking := diag.ExtractBlockingCrates(retryOutput, req.BaseCrate.Name)
		advisory := diag.FormatBlockingAdvice(blocking, req.BaseCrate.Name)
		return retry, types.DepthDeepPatch, advisory
	}
	return retry, types.DepthPatch, ""
}

func (d *Driver) logf(msg string, args ...any) {
	if d.Log == nil {
		return
	}
	d.Log.Sugar().Warnf(msg, args...)
}

func applyOverride(manifestPath, registry, crateName string, depth types.PatchDepth, pin manifest.PinSpec) error {
	switch depth {
	case types.DepthForce:
		return manifest.ApplyForce(manifestPath, crateName, pin)
	case types.DepthPatch:
		return manifest.ApplyPatch(manifestPath, registry, crateName, pin)
	default:
		return nil
	}
}
