package progress

import "time"

// Stage is a phase of one lab run.
type Stage string

const (
	// StageSetup creates the lab's primitives.
	StageSetup Stage = "setup"
	// StageRun drives the lab's tasks.
	StageRun Stage = "run"
	// StageDrain stops producers and lets consumers empty their queues.
	StageDrain Stage = "drain"
	// StageReport summarizes counters and latencies.
	StageReport Stage = "report"
)

// Status captures progress state within a stage.
type Status string

const (
	StatusQueued  Status = "queued"
	StatusWorking Status = "working"
	StatusDone    Status = "done"
	StatusError   Status = "error"
)

// Event reports progress for one lab (or for the whole run when Lab is empty).
type Event struct {
	Lab     string
	Stage   Stage
	Status  Status
	Err     error
	Elapsed time.Duration
}

// Sink consumes progress events.
type Sink interface {
	OnEvent(Event)
}

// Timings holds stage durations for one lab.
type Timings struct {
	stages map[Stage]time.Duration
}

// Set stores a duration for the given stage.
func (t *Timings) Set(stage Stage, dur time.Duration) {
	if t == nil {
		return
	}
	if t.stages == nil {
		t.stages = make(map[Stage]time.Duration)
	}
	t.stages[stage] = dur
}

// Duration returns the recorded duration for stage.
func (t Timings) Duration(stage Stage) time.Duration {
	return t.stages[stage]
}

// Sum returns the total across stages.
func (t Timings) Sum(stages ...Stage) time.Duration {
	var total time.Duration
	for _, stage := range stages {
		total += t.stages[stage]
	}
	return total
}
