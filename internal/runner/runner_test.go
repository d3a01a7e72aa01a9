package runner

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"copter/internal/compile"
	"copter/internal/stage"
	"copter/internal/types"
)

type scriptedExecutor struct {
	outcomes map[string]types.StepOutcome // keyed by dependentDir+":"+step
	fallback types.StepOutcome
}

func (s *scriptedExecutor) RunStep(_ context.Context, step types.Step, dir string, _ []string) types.StepOutcome {
	key := dir + ":" + step.String()
	if o, ok := s.outcomes[key]; ok {
		return o
	}
	return s.fallback
}

type noopDownloader struct{}

func (noopDownloader) Fetch(_ context.Context, name, version string) (stage.Handle, error) {
	return stage.Handle{Name: name, Version: version}, nil
}
func (noopDownloader) UnpackTo(_ context.Context, _ stage.Handle, dest string) error {
	return os.MkdirAll(dest, 0o755)
}

func writeDependentManifest(t *testing.T, dir string) {
	t.Helper()
	body := "[package]\nname = \"dep\"\nversion = \"0.1.0\"\n\n[dependencies]\nrgb = \"1.0\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Cargo.toml"), []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	lock := "[[package]]\nname = \"rgb\"\nversion = \"1.0.0\"\n"
	if err := os.WriteFile(filepath.Join(dir, "Cargo.lock"), []byte(lock), 0o600); err != nil {
		t.Fatal(err)
	}
}

func TestRunBaselineThenOfferedOrdering(t *testing.T) {
	stagingDir := t.TempDir()
	dependentDir := stage.DependentDir(stagingDir, "dep", "0.1.0")
	if err := os.MkdirAll(dependentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeDependentManifest(t, dependentDir)

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	exec := &scriptedExecutor{fallback: types.StepOutcome{Success: true}}
	cache, err := stage.OpenDiskCache()
	if err != nil {
		t.Fatal(err)
	}
	r := &Runner{
		Driver: &compile.Driver{Executor: exec},
		Stager: &stage.Stager{Downloader: noopDownloader{}, Cache: cache, StagingDir: stagingDir},
	}

	matrix := &types.TestMatrix{
		BaseCrateName: "rgb",
		BaseVersions: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.0.0"), Source: types.Registry()}, OverrideMode: types.OverrideNone, IsBaseline: true},
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.1.0"), Source: types.Registry()}, OverrideMode: types.OverrideForce},
		},
		Dependents: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0"), Source: types.Registry()}, IsBaseline: true},
		},
		StagingDir: stagingDir,
	}

	var seen []types.TestResult
	results, err := r.Run(context.Background(), matrix, func(tr types.TestResult) {
		seen = append(seen, tr)
	})
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 {
		t.Fatalf("expected 2 results, got %d", len(results))
	}
	if results[0].Baseline != nil {
		t.Errorf("first result must be the baseline (Baseline == nil), got %+v", results[0])
	}
	if results[1].Baseline == nil || !results[1].Baseline.BaselinePassed {
		t.Errorf("second result must carry a passing baseline comparison, got %+v", results[1])
	}
	if len(seen) != 2 {
		t.Errorf("onResult must fire once per cell, fired %d times", len(seen))
	}
}

func TestExpectedCellsMatchesRunEmittedLabels(t *testing.T) {
	stagingDir := t.TempDir()
	dependentDir := stage.DependentDir(stagingDir, "dep", "0.1.0")
	if err := os.MkdirAll(dependentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeDependentManifest(t, dependentDir)

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	exec := &scriptedExecutor{fallback: types.StepOutcome{Success: true}}
	cache, err := stage.OpenDiskCache()
	if err != nil {
		t.Fatal(err)
	}
	r := &Runner{
		Driver: &compile.Driver{Executor: exec},
		Stager: &stage.Stager{Downloader: noopDownloader{}, Cache: cache, StagingDir: stagingDir},
	}

	matrix := &types.TestMatrix{
		BaseCrateName: "rgb",
		BaseVersions: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.0.0"), Source: types.Registry()}, OverrideMode: types.OverrideNone, IsBaseline: true},
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.1.0"), Source: types.Registry()}, OverrideMode: types.OverrideForce},
		},
		Dependents: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0"), Source: types.Registry()}, IsBaseline: true},
		},
		StagingDir: stagingDir,
	}

	var seen []string
	_, err = r.Run(context.Background(), matrix, func(tr types.TestResult) {
		seen = append(seen, cellLabel(tr.Dependent, tr.BaseVersion.Version))
	})
	if err != nil {
		t.Fatal(err)
	}

	expected, err := r.ExpectedCells(context.Background(), matrix)
	if err != nil {
		t.Fatal(err)
	}
	if len(expected) != len(seen) {
		t.Fatalf("ExpectedCells returned %d labels, Run emitted %d", len(expected), len(seen))
	}
	for i := range expected {
		if expected[i] != seen[i] {
			t.Errorf("label %d: ExpectedCells = %q, Run emitted %q", i, expected[i], seen[i])
		}
	}
}

func TestRunThreadsPreferConfigOverrideIntoOfferedRequests(t *testing.T) {
	stagingDir := t.TempDir()
	dependentDir := stage.DependentDir(stagingDir, "dep", "0.1.0")
	if err := os.MkdirAll(dependentDir, 0o755); err != nil {
		t.Fatal(err)
	}
	writeDependentManifest(t, dependentDir)

	t.Setenv("XDG_CACHE_HOME", t.TempDir())
	recorder := &recordingExecutor{fallback: types.StepOutcome{Success: true}}
	cache, err := stage.OpenDiskCache()
	if err != nil {
		t.Fatal(err)
	}
	r := &Runner{
		Driver:               &compile.Driver{Executor: recorder},
		Stager:               &stage.Stager{Downloader: noopDownloader{}, Cache: cache, StagingDir: stagingDir},
		PreferConfigOverride: true,
	}

	matrix := &types.TestMatrix{
		BaseCrateName: "rgb",
		BaseVersions: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.0.0"), Source: types.Registry()}, OverrideMode: types.OverrideNone, IsBaseline: true},
			{CrateRef: types.VersionedCrate{Name: "rgb", Version: types.Semver("1.1.0"), Source: types.Registry()}, OverrideMode: types.OverridePatch},
		},
		Dependents: []types.VersionSpec{
			{CrateRef: types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0"), Source: types.Registry()}, IsBaseline: true},
		},
		StagingDir: stagingDir,
	}

	if _, err := r.Run(context.Background(), matrix, func(types.TestResult) {}); err != nil {
		t.Fatal(err)
	}
	if !recorder.sawConfigFetch {
		t.Error("expected the offered Patch cell to try the config-override fetch")
	}
}

// recordingExecutor implements both compile.Executor and compile.ConfigFetcher,
// recording whether RunFetchWithConfig was invoked.
type recordingExecutor struct {
	fallback       types.StepOutcome
	sawConfigFetch bool
}

func (r *recordingExecutor) RunStep(_ context.Context, _ types.Step, _ string, _ []string) types.StepOutcome {
	return r.fallback
}

func (r *recordingExecutor) RunFetchWithConfig(_ context.Context, _ string, _ []string, _ string) types.StepOutcome {
	r.sawConfigFetch = true
	return types.StepOutcome{Success: true}
}
