// Package compile implements the Per-Cell Build Driver (spec.md §4.2): the
// three-step ICT (Install/Check/Test) pipeline with patch-depth
// escalation, executed against a staged dependent directory.
package compile

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
	"time"

	"copter/internal/diag"
	"copter/internal/types"
)

// Default per-step wall-clock budgets (spec.md §5): fetch 5 min, check 10
// min, test 30 min.
var DefaultTimeouts = map[types.Step]time.Duration{
	types.StepFetch: 5 * time.Minute,
	types.StepCheck: 10 * time.Minute,
	types.StepTest:  30 * time.Minute,
}

// timeoutExitCode is the sentinel exit code used when a step is killed for
// exceeding its wall-clock budget (spec.md §7's StepTimeout, "reported as
// StepFailed with a sentinel exit code").
const timeoutExitCode = -1

// Executor runs one cargo step against a directory and captures its
// outcome. Production code uses CargoExecutor; tests substitute a fake to
// avoid shelling out to a real toolchain (original_source/tests/offline_integration.rs's
// approach, adapted).
type Executor interface {
	RunStep(ctx context.Context, step types.Step, dir string, features []string) types.StepOutcome
}

// CargoExecutor shells out to the `cargo` binary (spec.md §6.1).
type CargoExecutor struct {
	// PrintCommands, when set, echoes the invoked command line to stdout.
	PrintCommands bool
	// Timeouts overrides DefaultTimeouts per step, for tests.
	Timeouts map[types.Step]time.Duration
}

var _ Executor = (*CargoExecutor)(nil)

func (e *CargoExecutor) timeoutFor(step types.Step) time.Duration {
	if e.Timeouts != nil {
		if d, ok := e.Timeouts[step]; ok {
			return d
		}
	}
	return DefaultTimeouts[step]
}

// ConfigFetcher is an optional Executor capability: running a fetch with a
// one-shot `--config` override instead of mutating the manifest
// (original_source/src/compile/executor.rs::run_cargo_fetch_with_config).
// CargoExecutor implements it; fake executors in tests generally don't,
// and Driver.Drive falls back to manifest mutation when the type
// assertion fails.
type ConfigFetcher interface {
	RunFetchWithConfig(ctx context.Context, dir string, features []string, configKV string) types.StepOutcome
}

var _ ConfigFetcher = (*CargoExecutor)(nil)

// RunStep implements Executor by invoking `cargo <step> [--message-format=json] [--features ...] [--no-fail-fast]`
// in dir, per spec.md §6.1 and original_source/src/compile/executor.rs.
func (e *CargoExecutor) RunStep(ctx context.Context, step types.Step, dir string, features []string) types.StepOutcome {
	args := []string{step.CargoSubcommand()}
	if step != types.StepFetch {
		args = append(args, "--message-format=json")
	}
	if len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	if step == types.StepTest {
		args = append(args, "--no-fail-fast")
	}
	return e.run(ctx, dir, args, e.timeoutFor(step))
}

// RunFetchWithConfig runs `cargo fetch --config <configKV> [--features ...]`,
// the non-manifest-mutating way to try a Patch override before falling
// back to rewriting Cargo.toml (spec.md's supplemented `--config` fetch
// override feature).
func (e *CargoExecutor) RunFetchWithConfig(ctx context.Context, dir string, features []string, configKV string) types.StepOutcome {
	args := []string{"fetch", "--config", configKV}
	if len(features) > 0 {
		args = append(args, "--features", strings.Join(features, ","))
	}
	return e.run(ctx, dir, args, e.timeoutFor(types.StepFetch))
}

func (e *CargoExecutor) run(ctx context.Context, dir string, args []string, timeout time.Duration) types.StepOutcome {
	start := time.Now()

	runCtx := ctx
	cancel := func() {}
	if timeout > 0 {
		runCtx, cancel = context.WithTimeout(ctx, timeout)
	}
	defer cancel()

	if e.PrintCommands {
		fmt.Fprintf(os.Stdout, "cargo %s\n", strings.Join(args, " "))
	}

	cmd := exec.CommandContext(runCtx, "cargo", args...)
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	err := cmd.Run()
	elapsed := time.Since(start)

	outcome := types.StepOutcome{
		Elapsed: elapsed,
		Stdout:  stdout.String(),
		Stderr:  stderr.String(),
	}
	outcome.Diagnostics = diag.Parse(outcome.Stdout)

	if runCtx.Err() == context.DeadlineExceeded {
		outcome.Success = false
		outcome.ExitCode = timeoutExitCode
		return outcome
	}
	if err == nil {
		outcome.Success = true
		outcome.ExitCode = 0
		return outcome
	}
	if exitErr, ok := err.(*exec.ExitError); ok {
		outcome.ExitCode = exitErr.ExitCode()
	} else {
		// cargo itself could not be started (e.g. not on PATH).
		outcome.ExitCode = -1
		outcome.Stderr = fmt.Sprintf("failed to execute cargo: %v\n%s", err, outcome.Stderr)
	}
	outcome.Success = false
	return outcome
}

// RunMetadata runs `cargo metadata --format-version=1` and returns its raw
// JSON, used as a resolved-version fallback when no lockfile is present
// (original_source/src/compile/executor.rs::run_cargo_metadata).
func RunMetadata(ctx context.Context, dir string) (string, error) {
	cmd := exec.CommandContext(ctx, "cargo", "metadata", "--format-version=1")
	cmd.Dir = dir
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		return "", fmt.Errorf("compile: cargo metadata failed: %w: %s", err, stderr.String())
	}
	return stdout.String(), nil
}
