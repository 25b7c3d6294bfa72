package main

import (
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
)

// tracing is the tracer built from the --trace* flags.
type tracing struct {
	tracer    trace.Tracer
	format    trace.Format
	interval  time.Duration
	heartbeat *trace.Heartbeat
	errOut    io.Writer
}

// setupTracing inspects trace-related flags and initializes the tracer. The
// heartbeat is not started here because it reports scheduler state; see
// startHeartbeat.
func setupTracing(cmd *cobra.Command) (*tracing, error) {
	root := cmd.Root()

	traceOutput, err := root.PersistentFlags().GetString("trace")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace flag: %w", err)
	}
	levelStr, err := root.PersistentFlags().GetString("trace-level")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-level flag: %w", err)
	}
	modeStr, err := root.PersistentFlags().GetString("trace-mode")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-mode flag: %w", err)
	}
	formatStr, err := root.PersistentFlags().GetString("trace-format")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-format flag: %w", err)
	}
	ringSize, err := root.PersistentFlags().GetInt("trace-ring-size")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-ring-size flag: %w", err)
	}
	heartbeatInterval, err := root.PersistentFlags().GetDuration("trace-heartbeat")
	if err != nil {
		return nil, fmt.Errorf("failed to get trace-heartbeat flag: %w", err)
	}

	level, err := trace.ParseLevel(levelStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace level: %w", err)
	}
	format, err := trace.ParseFormat(formatStr)
	if err != nil {
		return nil, err
	}
	// An output without an explicit level traces lab runs and scheduling.
	if level == trace.LevelOff && traceOutput != "" {
		level = trace.LevelKernel
	}
	t := &tracing{tracer: trace.Nop, format: format, interval: heartbeatInterval, errOut: cmd.ErrOrStderr()}
	if level == trace.LevelOff {
		cmd.SetContext(trace.WithTracer(cmd.Context(), trace.Nop))
		return t, nil
	}

	mode, err := trace.ParseMode(modeStr)
	if err != nil {
		return nil, fmt.Errorf("invalid trace mode: %w", err)
	}
	tracer, err := trace.New(trace.Config{
		Level:      level,
		Mode:       mode,
		Format:     format,
		OutputPath: traceOutput,
		RingSize:   ringSize,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create tracer: %w", err)
	}
	t.tracer = tracer
	cmd.SetContext(trace.WithTracer(cmd.Context(), tracer))
	return t, nil
}

// startHeartbeat emits a heartbeat carrying sched's counters every
// --trace-heartbeat interval.
func (t *tracing) startHeartbeat(sched *kernel.Scheduler) {
	t.heartbeat = trace.StartHeartbeat(t.tracer, t.interval, func() map[string]string {
		return sched.Stats().Fields()
	})
}

// dumpRing writes the ring buffer, if the tracer keeps one, to w. It reports
// whether anything was written.
func (t *tracing) dumpRing(w io.Writer) bool {
	ring := trace.RingOf(t.tracer)
	if ring == nil {
		return false
	}
	format := t.format
	if format == trace.FormatAuto {
		format = trace.FormatText
	}
	if err := ring.Dump(w, format); err != nil {
		fmt.Fprintf(t.errOut, "trace: dump error: %v\n", err)
	}
	return true
}

// close stops the heartbeat, then flushes and closes the tracer.
func (t *tracing) close() {
	t.heartbeat.Stop()
	if err := t.tracer.Flush(); err != nil {
		fmt.Fprintf(t.errOut, "trace: flush error: %v\n", err)
	}
	if err := t.tracer.Close(); err != nil {
		fmt.Fprintf(t.errOut, "trace: close error: %v\n", err)
	}
}
