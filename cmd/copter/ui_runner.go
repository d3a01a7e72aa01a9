package main

import (
	"context"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"go.uber.org/zap"

	"copter/internal/compile"
	"copter/internal/registry"
	"copter/internal/runner"
	"copter/internal/stage"
	"copter/internal/types"
	"copter/internal/ui"
)

type runOutcome struct {
	results []types.TestResult
	err     error
}

// runWithUI drives the matrix in a background goroutine while a Bubble Tea
// progress grid renders its events in the foreground.
func runWithUI(ctx context.Context, driver *compile.Driver, stager *stage.Stager, client registry.Client, log *zap.Logger, matrix *types.TestMatrix, preferConfigOverride bool) ([]types.TestResult, error) {
	r := &runner.Runner{Driver: driver, Stager: stager, Registry: client, Log: log, PreferConfigOverride: preferConfigOverride}

	cells, err := r.ExpectedCells(ctx, matrix)
	if err != nil {
		return nil, fmt.Errorf("failed to resolve matrix cells for progress display: %w", err)
	}

	events := make(chan runner.Event, 256)
	r.Progress = runner.ChannelSink{Ch: events}
	outcomeCh := make(chan runOutcome, 1)

	go func() {
		results, err := r.Run(ctx, matrix, func(types.TestResult) {})
		outcomeCh <- runOutcome{results: results, err: err}
		close(events)
	}()

	title := fmt.Sprintf("testing %s against %d dependent(s)", matrix.BaseCrateName, len(matrix.Dependents))
	model := ui.NewProgressModel(title, cells, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()

	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.results, uiErr
	}
	return outcome.results, outcome.err
}
