package report

import (
	"bytes"
	"strings"
	"testing"

	"copter/internal/types"
)

func regressedResult(stderr string, diagnostics []types.Diagnostic) types.TestResult {
	return types.TestResult{
		BaseVersion: types.VersionedCrate{Name: "rgb", Version: types.Semver("0.8.92")},
		Dependent:   types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0")},
		Execution: types.ThreeStepResult{
			Fetch: types.StepOutcome{Success: true},
			Check: &types.StepOutcome{
				Success:     false,
				ExitCode:    101,
				Stderr:      stderr,
				Diagnostics: diagnostics,
			},
		},
		Baseline: &types.BaselineComparison{BaselinePassed: true},
	}
}

func TestWriteFailureSkipsPassingCells(t *testing.T) {
	passing := types.TestResult{
		BaseVersion: types.VersionedCrate{Name: "rgb", Version: types.Semver("0.8.92")},
		Dependent:   types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0")},
		Execution: types.ThreeStepResult{
			Fetch: types.StepOutcome{Success: true},
			Check: &types.StepOutcome{Success: true},
			Test:  &types.StepOutcome{Success: true},
		},
		Baseline: &types.BaselineComparison{BaselinePassed: true},
	}

	var buf bytes.Buffer
	log := NewDiagnosticLog(20)
	if log.WriteFailure(&buf, passing, false, false) {
		t.Error("WriteFailure should skip a passing cell")
	}
	if buf.Len() != 0 {
		t.Errorf("expected nothing written for a passing cell, got %q", buf.String())
	}
}

func TestWriteFailureEmitsBlockForRegression(t *testing.T) {
	result := regressedResult("thread panicked\n", []types.Diagnostic{
		{Level: "error", Code: "E0308", Message: "mismatched types", Rendered: "mismatched types: expected u8, found i32"},
	})

	var buf bytes.Buffer
	log := NewDiagnosticLog(20)
	if !log.WriteFailure(&buf, result, false, false) {
		t.Fatal("WriteFailure should report a regression")
	}
	out := buf.String()
	for _, want := range []string{"regressed", "dep@0.1.0", "rgb@0.8.92", "check failed (exit 101)", "mismatched types", "thread panicked"} {
		if !strings.Contains(out, want) {
			t.Errorf("failure block missing %q:\n%s", want, out)
		}
	}
}

func TestWriteFailureTruncatesToErrorLinesBudget(t *testing.T) {
	diags := []types.Diagnostic{
		{Level: "error", Code: "E0001", Message: "first", Rendered: "first"},
		{Level: "error", Code: "E0002", Message: "second", Rendered: "second"},
		{Level: "error", Code: "E0003", Message: "third", Rendered: "third"},
	}
	result := regressedResult("", diags)

	var buf bytes.Buffer
	log := NewDiagnosticLog(1)
	log.WriteFailure(&buf, result, false, false)
	out := buf.String()

	if !strings.Contains(out, "first") {
		t.Error("expected the first diagnostic within budget to be printed")
	}
	if strings.Contains(out, "second") || strings.Contains(out, "third") {
		t.Errorf("expected diagnostics past the error_lines budget to be dropped:\n%s", out)
	}
	if !strings.Contains(out, "2 more diagnostic(s) truncated") {
		t.Errorf("expected a truncation note, got:\n%s", out)
	}
}

func TestWriteFailureTagsRepeatSignatureAsSameFailure(t *testing.T) {
	diags := []types.Diagnostic{{Level: "error", Code: "E0308", Message: "mismatched types", Rendered: "mismatched types"}}
	first := regressedResult("", diags)
	second := regressedResult("", diags)
	second.Dependent = types.VersionedCrate{Name: "other-dep", Version: types.Semver("2.0.0")}

	log := NewDiagnosticLog(20)

	var buf1 bytes.Buffer
	log.WriteFailure(&buf1, first, false, false)
	if strings.Contains(buf1.String(), "same failure") {
		t.Errorf("first occurrence should not be tagged as a repeat:\n%s", buf1.String())
	}

	var buf2 bytes.Buffer
	log.WriteFailure(&buf2, second, false, false)
	if !strings.Contains(buf2.String(), "same failure") {
		t.Errorf("second occurrence of the same signature should collapse to 'same failure':\n%s", buf2.String())
	}
	if strings.Contains(buf2.String(), "mismatched types: expected") {
		t.Error("a tagged repeat should not repeat the rendered diagnostic verbatim")
	}
}

func TestWriteFailureIgnoresFailingBaselineRow(t *testing.T) {
	baselineRow := types.TestResult{
		BaseVersion: types.VersionedCrate{Name: "rgb", Version: types.Semver("0.8.91")},
		Dependent:   types.VersionedCrate{Name: "dep", Version: types.Semver("0.1.0")},
		Execution: types.ThreeStepResult{
			Fetch: types.StepOutcome{Success: true},
			Check: &types.StepOutcome{Success: false, ExitCode: 1},
		},
	}

	var buf bytes.Buffer
	log := NewDiagnosticLog(20)
	if log.WriteFailure(&buf, baselineRow, false, false) {
		t.Error("a failing baseline row classifies as StatusBaseline, not a reportable regression")
	}
}
