package main

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"copter/internal/types"
)

func TestWriteDiagnosticLogSkipsCleanRun(t *testing.T) {
	matrix := &types.TestMatrix{StagingDir: t.TempDir(), ErrorLines: 20}
	results := []types.TestResult{
		{
			BaseVersion: types.VersionedCrate{Name: "rgb", Version: types.Semver("0.8.91")},
			Dependent:   types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0")},
			Execution: types.ThreeStepResult{
				Fetch: types.StepOutcome{Success: true},
				Check: &types.StepOutcome{Success: true},
				Test:  &types.StepOutcome{Success: true},
			},
			Baseline: &types.BaselineComparison{BaselinePassed: true},
		},
	}

	wrote, err := writeDiagnosticLog(matrix, results)
	if err != nil {
		t.Fatal(err)
	}
	if wrote {
		t.Error("writeDiagnosticLog should report nothing written for an all-passing run")
	}
	if _, statErr := os.Stat(filepath.Join(matrix.StagingDir, diagnosticLogName)); !os.IsNotExist(statErr) {
		t.Error("no diagnostics.log file should be created for an all-passing run")
	}
}

func TestWriteDiagnosticLogAppendsFailureBlocks(t *testing.T) {
	matrix := &types.TestMatrix{StagingDir: t.TempDir(), ErrorLines: 5}
	results := []types.TestResult{
		{
			BaseVersion: types.VersionedCrate{Name: "rgb", Version: types.Semver("0.9.0")},
			Dependent:   types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0")},
			Execution: types.ThreeStepResult{
				Fetch: types.StepOutcome{Success: true},
				Check: &types.StepOutcome{
					Success:  false,
					ExitCode: 101,
					Stderr:   "error: could not compile `dep`\n",
					Diagnostics: []types.Diagnostic{
						{Level: "error", Code: "E0308", Message: "mismatched types", Rendered: "mismatched types"},
					},
				},
			},
			Baseline: &types.BaselineComparison{BaselinePassed: true},
		},
	}

	wrote, err := writeDiagnosticLog(matrix, results)
	if err != nil {
		t.Fatal(err)
	}
	if !wrote {
		t.Fatal("writeDiagnosticLog should report a failure block was written")
	}

	content, err := os.ReadFile(filepath.Join(matrix.StagingDir, diagnosticLogName))
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(content), "regressed") || !strings.Contains(string(content), "mismatched types") {
		t.Errorf("diagnostics.log missing expected content:\n%s", content)
	}

	// A second run appends rather than truncates the existing log.
	if _, err := writeDiagnosticLog(matrix, results); err != nil {
		t.Fatal(err)
	}
	content2, err := os.ReadFile(filepath.Join(matrix.StagingDir, diagnosticLogName))
	if err != nil {
		t.Fatal(err)
	}
	if len(content2) <= len(content) {
		t.Error("a second writeDiagnosticLog call should append, not overwrite")
	}
}
