package main

import (
	"fmt"
	"io"
	"time"

	"rtsync/internal/labs"
	"rtsync/internal/progress"
)

// stageTimings collects the stage durations recorded in a report.
func stageTimings(rep *labs.Report) progress.Timings {
	var t progress.Timings
	for _, phase := range rep.Timings.Phases {
		t.Set(progress.Stage(phase.Name), time.Duration(phase.DurationMS*float64(time.Millisecond)))
	}
	return t
}

func printStageTimings(out io.Writer, rep *labs.Report) {
	if out == nil || rep == nil {
		return
	}
	timings := stageTimings(rep)
	for _, stage := range []progress.Stage{progress.StageSetup, progress.StageRun, progress.StageDrain} {
		if d := timings.Duration(stage); d > 0 {
			fmt.Fprintf(out, "  %-6s %8.1f ms\n", stage, toMillis(d))
		}
	}
	total := timings.Sum(progress.StageSetup, progress.StageRun, progress.StageDrain)
	fmt.Fprintf(out, "  %-6s %8.1f ms\n", "total", toMillis(total))
}

func toMillis(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
