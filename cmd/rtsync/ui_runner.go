package main

import (
	"context"
	"os"

	tea "github.com/charmbracelet/bubbletea"

	"rtsync/internal/labs"
	"rtsync/internal/progress"
	"rtsync/internal/ui"
)

type runOutcome struct {
	reports []*labs.Report
	err     error
}

// runLabsWithUI runs the labs in the background while a progress model
// renders their stages. Quitting the UI cancels the run.
func runLabsWithUI(ctx context.Context, title string, env labs.Env, selected []labs.Lab, parallel int) ([]*labs.Report, error) {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	events := make(chan progress.Event, 256)
	outcomeCh := make(chan runOutcome, 1)
	env.Sink = progress.ChannelSink{Ch: events}

	go func() {
		reports, err := labs.RunAll(ctx, &env, selected, parallel)
		outcomeCh <- runOutcome{reports: reports, err: err}
		close(events)
	}()

	names := make([]string, len(selected))
	for i, lab := range selected {
		names[i] = lab.Name
	}
	model := ui.NewProgressModel(title, names, events)
	program := tea.NewProgram(model, tea.WithOutput(os.Stdout))
	_, uiErr := program.Run()
	cancel()
	go func() {
		for range events {
		}
	}()
	outcome := <-outcomeCh
	if uiErr != nil {
		return outcome.reports, uiErr
	}
	return outcome.reports, outcome.err
}
