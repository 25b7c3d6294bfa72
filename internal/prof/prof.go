// Package prof wraps the runtime profilers behind the CLI's profiling flags.
package prof

import (
	"errors"
	"os"
	"runtime"
	"runtime/pprof"
	"runtime/trace"
)

// Options selects which profiles a Session collects. Empty paths are skipped.
type Options struct {
	CPU   string
	Mem   string
	Trace string
	// Block and Mutex record where lab tasks stall on Go-level locks and
	// channels, which is where primitive contention shows up.
	Block string
	Mutex string
}

func (o Options) Enabled() bool {
	return o.CPU != "" || o.Mem != "" || o.Trace != "" || o.Block != "" || o.Mutex != ""
}

// Session is a set of running profilers. Stop must be called exactly once.
type Session struct {
	opts      Options
	cpuFile   *os.File
	traceFile *os.File
}

// Start enables every profiler requested by opts. On error nothing is left
// running.
func Start(opts Options) (*Session, error) {
	s := &Session{opts: opts}
	if opts.CPU != "" {
		f, err := os.Create(opts.CPU)
		if err != nil {
			return nil, err
		}
		if err := pprof.StartCPUProfile(f); err != nil {
			_ = f.Close()
			return nil, err
		}
		s.cpuFile = f
	}
	if opts.Trace != "" {
		f, err := os.Create(opts.Trace)
		if err == nil {
			if err = trace.Start(f); err != nil {
				_ = f.Close()
			}
		}
		if err != nil {
			s.stopCPU()
			return nil, err
		}
		s.traceFile = f
	}
	if opts.Block != "" {
		runtime.SetBlockProfileRate(1)
	}
	if opts.Mutex != "" {
		runtime.SetMutexProfileFraction(1)
	}
	return s, nil
}

func (s *Session) stopCPU() {
	if s.cpuFile == nil {
		return
	}
	pprof.StopCPUProfile()
	_ = s.cpuFile.Close()
	s.cpuFile = nil
}

// Stop ends the running profilers and writes the snapshot profiles.
func (s *Session) Stop() error {
	if s == nil {
		return nil
	}
	s.stopCPU()
	var errs []error
	if s.traceFile != nil {
		trace.Stop()
		errs = append(errs, s.traceFile.Close())
		s.traceFile = nil
	}
	if s.opts.Mem != "" {
		runtime.GC()
		errs = append(errs, writeProfile("heap", s.opts.Mem))
	}
	if s.opts.Block != "" {
		errs = append(errs, writeProfile("block", s.opts.Block))
		runtime.SetBlockProfileRate(0)
	}
	if s.opts.Mutex != "" {
		errs = append(errs, writeProfile("mutex", s.opts.Mutex))
		runtime.SetMutexProfileFraction(0)
	}
	return errors.Join(errs...)
}

func writeProfile(name, path string) (err error) {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := f.Close(); err == nil {
			err = closeErr
		}
	}()
	return pprof.Lookup(name).WriteTo(f, 0)
}
