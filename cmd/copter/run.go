package main

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/fatih/color"
	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"copter/internal/classify"
	"copter/internal/compile"
	"copter/internal/config"
	"copter/internal/observ"
	"copter/internal/registry"
	"copter/internal/report"
	"copter/internal/runner"
	"copter/internal/stage"
	"copter/internal/types"
)

const exitCodeRegression = 1

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Test a base crate version against its reverse dependencies",
	Long:  "Drive a base crate's offered versions through the fetch/check/test pipeline of each selected dependent, comparing every outcome against a baseline run.",
	RunE:  runExecution,
}

func init() {
	flags := runCmd.Flags()
	flags.String("path", "", "local path to the base crate (mutually exclusive with --crate-name)")
	flags.String("crate-name", "", "registry name of the base crate (mutually exclusive with --path)")
	flags.StringSlice("patch", nil, "base crate version to test via a [patch] override (repeatable)")
	flags.StringSlice("force", nil, "base crate version to test via a direct-dependency pin (repeatable)")
	flags.Int("top-dependents", 0, "test the top N reverse dependencies by download count")
	flags.StringSlice("dependents", nil, "explicit dependent crates as name[:version] (repeatable)")
	flags.StringSlice("dependent-paths", nil, "local dependent crate paths (repeatable)")
	flags.String("staging-dir", ".copter-staging", "directory used to stage downloaded crates")
	flags.Bool("skip-check", false, "skip the check step")
	flags.Bool("skip-test", false, "skip the test step")
	flags.Int("error-lines", 20, "number of diagnostic lines to keep per failing step")
	flags.StringSlice("features", nil, "cargo features to enable for every step")
	flags.String("registry", "crates-io", "name of the [patch.<registry>] table; not passed to the driver, which always writes [patch.crates-io]")
	flags.Bool("print-commands", false, "echo every cargo command invoked")
	flags.Bool("timings", false, "print per-step timing after the run")
	flags.Bool("clean", false, "remove the staging directory before running")
	flags.Bool("prefer-config-override", false, "try a cargo --config patch override before mutating Cargo.toml")
}

func runExecution(cmd *cobra.Command, _ []string) error {
	flags := cmd.Flags()
	opts := optionsFromFlags(flags)

	printCommands, _ := flags.GetBool("print-commands")
	timings, _ := flags.GetBool("timings")
	clean, _ := flags.GetBool("clean")
	preferConfigOverride, _ := flags.GetBool("prefer-config-override")
	uiValue, _ := cmd.Root().PersistentFlags().GetString("ui")
	colorValue, _ := cmd.Root().PersistentFlags().GetString("color")

	uiModeValue, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	applyColorMode(colorValue)

	log, err := newLogger()
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer log.Sync()

	client := &registry.HTTPClient{}

	matrix, err := config.Resolve(cmd.Context(), opts, client)
	if err != nil {
		return err
	}

	if clean {
		if err := os.RemoveAll(matrix.StagingDir); err != nil {
			return fmt.Errorf("failed to clean staging directory: %w", err)
		}
	}

	// Each invocation stages into its own subdirectory, named by a fresh
	// run ID, so two copter runs sharing a staging root never race on the
	// same extraction path.
	runStagingDir := filepath.Join(matrix.StagingDir, uuid.New().String())
	stager := &stage.Stager{
		Downloader: &stage.HTTPDownloader{},
		StagingDir: runStagingDir,
	}
	cache, err := stage.OpenDiskCache()
	if err != nil {
		return fmt.Errorf("failed to open stage cache: %w", err)
	}
	stager.Cache = cache

	timer := observ.NewTimer()
	driver := &compile.Driver{
		Executor: &compile.CargoExecutor{PrintCommands: printCommands},
		Log:      log,
		Timer:    timer,
	}

	useTUI := shouldUseTUI(uiModeValue)
	results, runErr := executeMatrix(cmd.Context(), driver, stager, client, log, matrix, useTUI, preferConfigOverride)
	if timings {
		fmt.Fprint(cmd.OutOrStdout(), timer.Summary())
	}
	if runErr != nil {
		return runErr
	}

	printResults(cmd.OutOrStdout(), matrix, results)
	wroteLog, err := writeDiagnosticLog(matrix, results)
	if err != nil {
		return fmt.Errorf("failed to write diagnostic log: %w", err)
	}
	if wroteLog {
		fmt.Fprintf(cmd.OutOrStdout(), "diagnostic log: %s\n", filepath.Join(matrix.StagingDir, diagnosticLogName))
	}
	if hasRegression(matrix, results) {
		os.Exit(exitCodeRegression)
	}
	return nil
}

// diagnosticLogName is the append-only failure log spec.md §6.2 describes,
// written alongside the run's staging directory.
const diagnosticLogName = "diagnostics.log"

// writeDiagnosticLog appends one failure block per regressed/still-broken
// cell in results to <staging_dir>/diagnostics.log, truncated to
// matrix.ErrorLines diagnostics per block and deduplicated across the run.
// Returns false (with a nil error) if no cell in results failed.
func writeDiagnosticLog(matrix *types.TestMatrix, results []types.TestResult) (bool, error) {
	log := report.NewDiagnosticLog(matrix.ErrorLines)

	var buf bytes.Buffer
	var wrote bool
	for _, result := range results {
		if log.WriteFailure(&buf, result, matrix.SkipCheck, matrix.SkipTest) {
			wrote = true
		}
	}
	if !wrote {
		return false, nil
	}

	if err := os.MkdirAll(matrix.StagingDir, 0o755); err != nil {
		return false, err
	}
	path := filepath.Join(matrix.StagingDir, diagnosticLogName)
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return false, err
	}
	defer f.Close()
	if _, err := f.Write(buf.Bytes()); err != nil {
		return false, err
	}
	return true, nil
}

func optionsFromFlags(flags *pflag.FlagSet) config.Options {
	path, _ := flags.GetString("path")
	crateName, _ := flags.GetString("crate-name")
	patch, _ := flags.GetStringSlice("patch")
	force, _ := flags.GetStringSlice("force")
	topDependents, _ := flags.GetInt("top-dependents")
	dependents, _ := flags.GetStringSlice("dependents")
	dependentPaths, _ := flags.GetStringSlice("dependent-paths")
	stagingDir, _ := flags.GetString("staging-dir")
	skipCheck, _ := flags.GetBool("skip-check")
	skipTest, _ := flags.GetBool("skip-test")
	errorLines, _ := flags.GetInt("error-lines")
	features, _ := flags.GetStringSlice("features")
	registryName, _ := flags.GetString("registry")

	return config.Options{
		BasePath:       path,
		BaseCrateName:  crateName,
		PatchVersions:  patch,
		ForceVersions:  force,
		TopDependents:  topDependents,
		Dependents:     dependents,
		DependentPaths: dependentPaths,
		StagingDir:     stagingDir,
		SkipCheck:      skipCheck,
		SkipTest:       skipTest,
		ErrorLines:     errorLines,
		Features:       features,
		Registry:       registryName,
	}
}

func executeMatrix(ctx context.Context, driver *compile.Driver, stager *stage.Stager, client registry.Client, log *zap.Logger, matrix *types.TestMatrix, useTUI, preferConfigOverride bool) ([]types.TestResult, error) {
	if useTUI {
		return runWithUI(ctx, driver, stager, client, log, matrix, preferConfigOverride)
	}
	r := &runner.Runner{Driver: driver, Stager: stager, Registry: client, Log: log, PreferConfigOverride: preferConfigOverride}
	return r.Run(ctx, matrix, func(types.TestResult) {})
}

func hasRegression(matrix *types.TestMatrix, results []types.TestResult) bool {
	for _, result := range results {
		if classify.Classify(result, matrix.SkipCheck, matrix.SkipTest) == classify.StatusRegressed {
			return true
		}
	}
	return false
}

func printResults(out io.Writer, matrix *types.TestMatrix, results []types.TestResult) {
	for _, result := range results {
		status := classify.Classify(result, matrix.SkipCheck, matrix.SkipTest)
		line := fmt.Sprintf("%-12s %s@%s vs %s@%s\n", status, result.Dependent.Name, result.Dependent.Version, result.BaseVersion.Name, result.BaseVersion.Version)
		fmt.Fprint(out, colorForStatus(status).Sprint(line))
	}
}

func colorForStatus(status classify.Status) *color.Color {
	switch status {
	case classify.StatusPassed, classify.StatusFixed:
		return color.New(color.FgGreen)
	case classify.StatusRegressed, classify.StatusStillBroken:
		return color.New(color.FgRed)
	default:
		return color.New(color.FgWhite)
	}
}
