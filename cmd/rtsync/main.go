package main

import (
	"os"

	"github.com/spf13/cobra"
	"golang.org/x/term"

	"rtsync/internal/version"
)

var rootCmd = &cobra.Command{
	Use:   "rtsync",
	Short: "Cooperative synchronization primitives and the labs that exercise them",
	Long: `rtsync runs the kernel teaching labs (queues, queue sets, semaphores,
mutexes and event groups) on top of its wait queue primitives and reports
counters and wait latencies for every run.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		mode, err := cmd.Root().PersistentFlags().GetString("color")
		if err != nil {
			return err
		}
		return applyColorMode(mode)
	},
}

// main registers subcommands and persistent flags, then executes the root
// command. A failing command exits with status 1.
func main() {
	rootCmd.Version = version.Version

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(labsCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(versionCmd)

	flags := rootCmd.PersistentFlags()
	flags.String("color", "auto", "colorize output (auto|on|off)")
	flags.String("config", "", "lab manifest (default: nearest rtsync.toml or rtsync.yaml)")
	flags.Bool("timings", false, "show per-stage timing information")

	flags.String("trace", "", "write kernel trace events to this file (- for stderr)")
	flags.String("trace-level", "off", "trace level (off|error|kernel|object|waiter)")
	flags.String("trace-mode", "stream", "trace storage (stream|ring|both); the ring is dumped to stderr when a lab fails")
	flags.String("trace-format", "auto", "trace event format (auto|text|ndjson)")
	flags.Int("trace-ring-size", 4096, "events kept by the ring tracer")
	flags.Duration("trace-heartbeat", 0, "emit a heartbeat event at this interval")

	flags.String("cpu-profile", "", "write a CPU profile to this file")
	flags.String("mem-profile", "", "write a heap profile to this file")
	flags.String("block-profile", "", "write a goroutine blocking profile to this file")
	flags.String("mutex-profile", "", "write a mutex contention profile to this file")
	flags.String("runtime-trace", "", "write a Go runtime trace to this file")

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// isTerminal reports whether f is attached to a terminal.
func isTerminal(f *os.File) bool {
	return term.IsTerminal(int(f.Fd()))
}
