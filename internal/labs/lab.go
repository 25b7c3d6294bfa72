// Package labs reproduces the kernel teaching labs on top of the
// synchronization primitives. Each lab wires producer, consumer and monitor
// tasks to one or more primitives, runs for a bounded time, drains, checks
// its invariants and reports counters and wait latencies.
package labs

import (
	"context"
	"errors"
	"fmt"
	"io"
	"maps"
	"sort"
	"strconv"
	"sync"
	"time"

	"rtsync/internal/kernel"
	"rtsync/internal/manifest"
	"rtsync/internal/observ"
	"rtsync/internal/progress"
	"rtsync/internal/trace"
)

// Params are the tunables of one lab.
type Params struct {
	Duration  time.Duration `json:"duration" msgpack:"duration" yaml:"duration"`
	Period    time.Duration `json:"period" msgpack:"period" yaml:"period"`
	Capacity  int           `json:"capacity,omitempty" msgpack:"capacity,omitempty" yaml:"capacity,omitempty"`
	Producers int           `json:"producers,omitempty" msgpack:"producers,omitempty" yaml:"producers,omitempty"`
	Consumers int           `json:"consumers,omitempty" msgpack:"consumers,omitempty" yaml:"consumers,omitempty"`
	MaxCount  int           `json:"max_count,omitempty" msgpack:"max_count,omitempty" yaml:"max_count,omitempty"`
}

// Merge applies the non-zero fields of cfg over p.
func (p Params) Merge(cfg manifest.LabConfig) Params {
	if d := cfg.Duration.Std(); d > 0 {
		p.Duration = d
	}
	if d := cfg.Period.Std(); d > 0 {
		p.Period = d
	}
	if cfg.Capacity > 0 {
		p.Capacity = cfg.Capacity
	}
	if cfg.Producers > 0 {
		p.Producers = cfg.Producers
	}
	if cfg.Consumers > 0 {
		p.Consumers = cfg.Consumers
	}
	if cfg.MaxCount > 0 {
		p.MaxCount = cfg.MaxCount
	}
	return p
}

// Env is what every lab runs against.
type Env struct {
	Sched *kernel.Scheduler
	// TickPeriod converts lab periods into kernel timeouts.
	TickPeriod time.Duration
	Sink       progress.Sink
	// Log receives the lines lab tasks print.
	Log      io.Writer
	Manifest *manifest.Manifest
	// Duration, when set, overrides every lab's own duration.
	Duration time.Duration
}

// Report is the outcome of one lab run.
type Report struct {
	Lab       string           `json:"lab" msgpack:"lab" yaml:"lab"`
	StartedAt time.Time        `json:"started_at" msgpack:"started_at" yaml:"started_at"`
	Elapsed   time.Duration    `json:"elapsed" msgpack:"elapsed" yaml:"elapsed"`
	Params    Params           `json:"params" msgpack:"params" yaml:"params"`
	Counters  map[string]int64 `json:"counters" msgpack:"counters" yaml:"counters"`
	Latency   observ.Stats     `json:"latency" msgpack:"latency" yaml:"latency"`
	Timings   observ.Report    `json:"timings" msgpack:"timings" yaml:"timings"`
	Err       string           `json:"error,omitempty" msgpack:"error,omitempty" yaml:"error,omitempty"`
}

// CounterNames returns the counter keys in sorted order.
func (r *Report) CounterNames() []string {
	names := make([]string, 0, len(r.Counters))
	for name := range r.Counters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Lab is one runnable scenario.
type Lab struct {
	Name     string
	Summary  string
	Defaults Params
	body     func(ctx context.Context, r *run) error
}

// Params resolves the lab's parameters against env.
func (l Lab) Params(env *Env) Params {
	p := l.Defaults
	if cfg, ok := env.Manifest.Lab(l.Name); ok {
		p = p.Merge(cfg)
	}
	if env.Duration > 0 {
		p.Duration = env.Duration
	}
	return p
}

// Run executes the lab once. The returned report is never nil; a non-nil
// error means the lab failed a check or could not be set up.
func (l Lab) Run(ctx context.Context, env *Env) (*Report, error) {
	params := l.Params(env)
	r := newRun(l.Name, env, params)
	span := trace.Begin(env.Sched.Tracer(), trace.ScopeKernel, "lab."+l.Name, trace.ParentFrom(ctx))
	started := time.Now()

	runCtx, cancel := context.WithTimeout(ctx, params.Duration)
	err := l.body(trace.WithParent(runCtx, span), r)
	cancel()

	rep := &Report{
		Lab:       l.Name,
		StartedAt: started,
		Elapsed:   time.Since(started),
		Params:    params,
		Counters:  r.counters.Snapshot(),
		Latency:   r.latency.Summarize(),
		Timings:   r.timer.Report(),
	}
	status := progress.StatusDone
	if err != nil {
		rep.Err = err.Error()
		status = progress.StatusError
		err = fmt.Errorf("lab %s: %w", l.Name, err)
	}
	for _, name := range rep.CounterNames() {
		span.WithExtra(name, strconv.FormatInt(rep.Counters[name], 10))
	}
	span.End(string(status))
	r.emit(progress.StageReport, status, err, rep.Elapsed)
	return rep, err
}

// Counters is a set of named counters shared by a lab's tasks.
type Counters struct {
	mu sync.Mutex
	m  map[string]int64
}

func (c *Counters) Add(name string, n int64) {
	c.mu.Lock()
	if c.m == nil {
		c.m = make(map[string]int64)
	}
	c.m[name] += n
	c.mu.Unlock()
}

func (c *Counters) Inc(name string) { c.Add(name, 1) }

func (c *Counters) Get(name string) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.m[name]
}

// Max raises name to v if v is larger.
func (c *Counters) Max(name string, v int64) {
	c.mu.Lock()
	if c.m == nil {
		c.m = make(map[string]int64)
	}
	if v > c.m[name] {
		c.m[name] = v
	}
	c.mu.Unlock()
}

func (c *Counters) Snapshot() map[string]int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.m)
}

// run is the per-execution state handed to a lab body.
type run struct {
	lab      string
	env      *Env
	sched    *kernel.Scheduler
	params   Params
	counters *Counters
	latency  *observ.Latency
	timer    *observ.Timer
	printMu  sync.Mutex
}

func newRun(lab string, env *Env, params Params) *run {
	return &run{
		lab:      lab,
		env:      env,
		sched:    env.Sched,
		params:   params,
		counters: &Counters{},
		latency:  &observ.Latency{},
		timer:    observ.NewTimer(),
	}
}

func (r *run) emit(stage progress.Stage, status progress.Status, err error, elapsed time.Duration) {
	if r.env.Sink == nil {
		return
	}
	r.env.Sink.OnEvent(progress.Event{Lab: r.lab, Stage: stage, Status: status, Err: err, Elapsed: elapsed})
}

// stage marks the start of a phase and returns a func that closes it.
func (r *run) stage(stage progress.Stage) func(note string) {
	r.emit(stage, progress.StatusWorking, nil, 0)
	idx := r.timer.Begin(string(stage))
	return func(note string) { r.timer.End(idx, note) }
}

// ticks converts d into a kernel timeout; at least one tick for d > 0.
func (r *run) ticks(d time.Duration) kernel.Timeout {
	t := kernel.TicksFromDuration(d, r.env.TickPeriod)
	if t == kernel.NoWait && d > 0 {
		return 1
	}
	return t
}

func (r *run) task(ctx context.Context, name string, prio kernel.Priority) context.Context {
	return kernel.WithTask(ctx, kernel.NewTask(r.lab+"/"+name, prio))
}

// printf writes one line to the lab log. Lines from concurrent tasks never
// interleave.
func (r *run) printf(format string, args ...any) {
	if r.env.Log == nil {
		return
	}
	r.printMu.Lock()
	defer r.printMu.Unlock()
	fmt.Fprintf(r.env.Log, "[%s] "+format+"\n", append([]any{r.lab}, args...)...)
}

// stopped reports whether err only means the lab's time is up.
func stopped(err error) bool {
	return errors.Is(err, kernel.ErrCanceled) || errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled)
}

// sleep waits for d or until ctx is done; it reports false in the latter case.
func sleep(ctx context.Context, d time.Duration) bool {
	if d <= 0 {
		return ctx.Err() == nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-t.C:
		return true
	}
}

// safePoints applies deferred wakes every tick until the returned func is
// called. Tasks woken from interrupt context resume only at a safe point,
// even after the lab's time is up, so it must outlive every task group.
func (r *run) safePoints() (stop func()) {
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		defer close(done)
		r.sched.RunDeferred(ctx, r.env.TickPeriod)
	}()
	return func() {
		cancel()
		<-done
	}
}
