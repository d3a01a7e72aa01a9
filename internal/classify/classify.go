// Package classify implements the five-state status lattice derived from
// baseline vs. offered outcomes (spec.md §4.5).
package classify

import "copter/internal/types"

// Status is the classifier's output. It is derived, never stored.
type Status uint8

const (
	// StatusBaseline marks the row that establishes the baseline itself.
	StatusBaseline Status = iota
	StatusPassed
	StatusRegressed
	StatusFixed
	StatusStillBroken
)

func (s Status) String() string {
	switch s {
	case StatusPassed:
		return "passed"
	case StatusRegressed:
		return "regressed"
	case StatusFixed:
		return "fixed"
	case StatusStillBroken:
		return "still-broken"
	default:
		return "baseline"
	}
}

// Classify is P5's total function: classify is defined for every
// TestResult and produces exactly one Status.
//
// skipCheck/skipTest must match the TestMatrix the result was produced
// from, since IsSuccess's definition of "skipped step counts as a pass"
// depends on them.
func Classify(result types.TestResult, skipCheck, skipTest bool) Status {
	offeredPassed := result.Execution.IsSuccess(skipCheck, skipTest)

	if result.Baseline == nil {
		if offeredPassed {
			return StatusBaseline
		}
		// A failing baseline is still reported as StatusBaseline; the
		// caller distinguishes pass/fail via BaselinePassed on the
		// comparison attached to later rows, or by inspecting Execution
		// directly for this row.
		return StatusBaseline
	}

	baselinePassed := result.Baseline.BaselinePassed
	switch {
	case baselinePassed && offeredPassed:
		return StatusPassed
	case baselinePassed && !offeredPassed:
		return StatusRegressed
	case !baselinePassed && offeredPassed:
		return StatusFixed
	default:
		return StatusStillBroken
	}
}

// Passed reports whether the row being classified as StatusBaseline itself
// succeeded — spec.md's Baseline{passed} carries this flag inline with the
// variant; Go's classifier instead lets callers read it straight off the
// ThreeStepResult via the same skip flags used for Classify.
func Passed(result types.TestResult, skipCheck, skipTest bool) bool {
	return result.Execution.IsSuccess(skipCheck, skipTest)
}
