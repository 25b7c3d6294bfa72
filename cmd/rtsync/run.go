package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"time"

	"github.com/spf13/cobra"

	"rtsync/internal/kernel"
	"rtsync/internal/labs"
	"rtsync/internal/progress"
	"rtsync/internal/reportstore"
)

var runCmd = &cobra.Command{
	Use:   "run [lab...]",
	Short: "Run labs and report their counters",
	Long: `Run the named labs, or the manifest's default selection, or every lab.
Each lab runs for its duration, drains, checks its invariants and prints a
report. Reports are saved so that 'rtsync report' can show them later.`,
	Args: cobra.ArbitraryArgs,
	RunE: runExecution,
}

func init() {
	runCmd.Flags().Int("parallel", 0, "labs to run at once (0 = manifest value or GOMAXPROCS)")
	runCmd.Flags().Duration("duration", 0, "override every lab's duration")
	runCmd.Flags().Duration("tick", 0, "kernel tick period (default 1ms or manifest value)")
	runCmd.Flags().String("ui", "auto", "progress UI (auto|on|off)")
	runCmd.Flags().Bool("quiet", false, "do not print lab task output")
	runCmd.Flags().Bool("no-save", false, "do not store reports")
	runCmd.Flags().String("format", "text", "report format (text|json|yaml)")
}

func runExecution(cmd *cobra.Command, args []string) error {
	m, err := loadManifest(cmd)
	if err != nil {
		return err
	}
	selected, err := labs.Select(args, m)
	if err != nil {
		return err
	}
	if len(selected) == 0 {
		return fmt.Errorf("no labs selected")
	}

	parallel, err := cmd.Flags().GetInt("parallel")
	if err != nil {
		return err
	}
	duration, err := cmd.Flags().GetDuration("duration")
	if err != nil {
		return err
	}
	tick, err := cmd.Flags().GetDuration("tick")
	if err != nil {
		return err
	}
	uiValue, err := cmd.Flags().GetString("ui")
	if err != nil {
		return err
	}
	quiet, err := cmd.Flags().GetBool("quiet")
	if err != nil {
		return err
	}
	noSave, err := cmd.Flags().GetBool("no-save")
	if err != nil {
		return err
	}
	formatValue, err := cmd.Flags().GetString("format")
	if err != nil {
		return err
	}
	format, err := readFormat(formatValue)
	if err != nil {
		return err
	}
	mode, err := readUIMode(uiValue)
	if err != nil {
		return err
	}
	withTimings, err := cmd.Root().PersistentFlags().GetBool("timings")
	if err != nil {
		return err
	}

	if m != nil {
		if parallel == 0 {
			parallel = m.Run.Parallel
		}
		if duration == 0 {
			duration = m.Run.Duration.Std()
		}
		if tick == 0 {
			tick = m.Run.TickPeriod.Std()
		}
	}
	if tick <= 0 {
		tick = kernel.DefaultTickPeriod
	}

	stopProfiling, err := setupProfiling(cmd)
	if err != nil {
		return err
	}
	defer stopProfiling()
	tr, err := setupTracing(cmd)
	if err != nil {
		return err
	}
	defer tr.close()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt)
	defer stop()

	useTUI := format == formatText && shouldUseTUI(mode)
	var log io.Writer = cmd.OutOrStdout()
	if quiet || useTUI || format != formatText {
		log = nil
	}
	sched := kernel.NewScheduler(kernel.NewRealClock(tick), kernel.WithTracer(tr.tracer))
	tr.startHeartbeat(sched)
	env := labs.Env{
		Sched:      sched,
		TickPeriod: tick,
		Log:        log,
		Manifest:   m,
		Duration:   duration,
	}

	started := time.Now()
	var reports []*labs.Report
	var runErr error
	if useTUI {
		reports, runErr = runLabsWithUI(ctx, fmt.Sprintf("rtsync: %d labs", len(selected)), env, selected, parallel)
	} else {
		if format == formatText && !quiet {
			env.Sink = stageLogger(cmd.ErrOrStderr())
		}
		reports, runErr = labs.RunAll(ctx, &env, selected, parallel)
	}

	if runErr != nil || ctx.Err() != nil {
		tr.dumpRing(cmd.ErrOrStderr())
	}

	if !noSave {
		if err := saveReports(reportDir(m), reports); err != nil {
			fmt.Fprintf(cmd.ErrOrStderr(), "warning: reports not saved: %v\n", err)
		}
	}
	if err := emitReports(cmd.OutOrStdout(), format, reports, withTimings); err != nil {
		return err
	}
	if format == formatText {
		printSummary(cmd.OutOrStdout(), reports, time.Since(started))
	}
	if runErr != nil && ctx.Err() != nil {
		return fmt.Errorf("interrupted: %w", runErr)
	}
	return runErr
}

// stageLogger prints one line per lab stage that finishes with an error.
func stageLogger(out io.Writer) progress.Sink {
	return progress.FuncSink(func(ev progress.Event) {
		if ev.Status == progress.StatusError && ev.Err != nil {
			fmt.Fprintf(out, "%s %s: %v\n", failColor.Sprint("error"), ev.Lab, ev.Err)
		}
	})
}

func saveReports(dir string, reports []*labs.Report) error {
	store, err := reportstore.Open(dir)
	if err != nil {
		return err
	}
	for _, rep := range reports {
		if rep == nil {
			continue
		}
		if err := store.Save(rep); err != nil {
			return err
		}
	}
	return nil
}

func emitReports(out io.Writer, format outputFormat, reports []*labs.Report, withTimings bool) error {
	done := make([]*labs.Report, 0, len(reports))
	for _, rep := range reports {
		if rep != nil {
			done = append(done, rep)
		}
	}
	if format != formatText {
		return encode(out, format, done)
	}
	for _, rep := range done {
		printReport(out, rep, withTimings)
	}
	return nil
}

func printSummary(out io.Writer, reports []*labs.Report, elapsed time.Duration) {
	passed, failed, skipped := 0, 0, 0
	for _, rep := range reports {
		switch {
		case rep == nil:
			skipped++
		case rep.Err != "":
			failed++
		default:
			passed++
		}
	}
	line := fmt.Sprintf("%d passed, %d failed", passed, failed)
	if skipped > 0 {
		line += fmt.Sprintf(", %d not run", skipped)
	}
	summary := passColor.Sprint(line)
	if failed > 0 || skipped > 0 {
		summary = failColor.Sprint(line)
	}
	fmt.Fprintf(out, "%s %s\n", summary, mutedColor.Sprintf("in %s", elapsed.Round(time.Millisecond)))
}
