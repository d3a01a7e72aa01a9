// Package report renders the run's diagnostic log: one append-only failure
// block per failing cell, truncated to the configured error_lines budget
// and deduplicated against every failure block already written in the run
// (spec.md §6.2, §6.3's error_lines row).
package report

import (
	"fmt"
	"io"

	"copter/internal/classify"
	"copter/internal/diag"
	"copter/internal/types"
)

// DiagnosticLog accumulates failure blocks across a matrix run, tagging
// repeats of an already-seen diagnostic signature rather than re-printing
// them (grounded on the original tool's error_signature/"same failure"
// collapsing in its console reporter).
type DiagnosticLog struct {
	errorLines int
	dedup      *diag.Dedup
}

// NewDiagnosticLog returns a log that keeps up to errorLines diagnostics per
// failure block and dedups across every block written through it.
func NewDiagnosticLog(errorLines int) *DiagnosticLog {
	return &DiagnosticLog{errorLines: errorLines, dedup: diag.NewDedup()}
}

// WriteFailure appends result's failure block to out if result classifies
// as a failure (Regressed or StillBroken); baseline failures and passing
// cells are silently skipped. Returns false if nothing was written.
func (l *DiagnosticLog) WriteFailure(out io.Writer, result types.TestResult, skipCheck, skipTest bool) bool {
	status := classify.Classify(result, skipCheck, skipTest)
	if !isFailingStatus(status) {
		return false
	}

	step, outcome, ok := failingStep(result.Execution)
	if !ok {
		return false
	}

	bag, err := diag.NewBag(l.errorLines)
	if err != nil {
		bag = &diag.Bag{}
	}
	bag.AddAll(outcome.Diagnostics)

	fmt.Fprintf(out, "=== %s %s@%s vs %s@%s: %s failed (exit %d) ===\n",
		status, result.Dependent.Name, result.Dependent.Version,
		result.BaseVersion.Name, result.BaseVersion.Version, step, outcome.ExitCode)

	if label := l.dedupLabel(outcome.Diagnostics); label != "" {
		fmt.Fprintf(out, "%s\n\n", label)
		return true
	}

	fmt.Fprint(out, stderrExcerpt(outcome.Stderr))
	for _, d := range bag.Items() {
		fmt.Fprintf(out, "  %s[%s]: %s\n", d.Level, d.Code, d.Rendered)
	}
	if bag.Truncated(len(outcome.Diagnostics)) {
		fmt.Fprintf(out, "  ... %d more diagnostic(s) truncated at error_lines=%d\n", len(outcome.Diagnostics)-len(bag.Items()), l.errorLines)
	}
	fmt.Fprintln(out)
	return true
}

// dedupLabel tags a failure block as a repeat of an earlier one when every
// diagnostic in it has already been seen this run, returning the "same
// failure" label to print instead of the verbatim detail. An empty result
// means the block carries at least one first-seen diagnostic and should be
// printed in full.
func (l *DiagnosticLog) dedupLabel(diagnostics []types.Diagnostic) string {
	if len(diagnostics) == 0 {
		return ""
	}
	allRepeats := true
	var occurrence int
	for _, d := range diagnostics {
		first, occ := l.dedup.Tag(d)
		if first {
			allRepeats = false
		}
		occurrence = occ
	}
	if !allRepeats {
		return ""
	}
	return fmt.Sprintf("  same failure (seen %d times)", occurrence)
}

func isFailingStatus(status classify.Status) bool {
	return status == classify.StatusRegressed || status == classify.StatusStillBroken
}

// failingStep returns the first step of result that did not succeed, along
// with its name, so the failure block reports the step that actually broke
// rather than always the last one attempted.
func failingStep(result types.ThreeStepResult) (types.Step, types.StepOutcome, bool) {
	if !result.Fetch.Success {
		return types.StepFetch, result.Fetch, true
	}
	if result.Check != nil && !result.Check.Success {
		return types.StepCheck, *result.Check, true
	}
	if result.Test != nil && !result.Test.Success {
		return types.StepTest, *result.Test, true
	}
	return 0, types.StepOutcome{}, false
}

// stderrExcerptLimit bounds how much raw stderr a failure block quotes
// before falling back to the parsed diagnostics alone.
const stderrExcerptLimit = 2000

func stderrExcerpt(stderr string) string {
	if stderr == "" {
		return ""
	}
	excerpt := stderr
	if len(excerpt) > stderrExcerptLimit {
		excerpt = excerpt[:stderrExcerptLimit] + "...\n"
	}
	return excerpt
}
