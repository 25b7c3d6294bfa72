package kernel

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"rtsync/internal/trace"
)

// Wakeable is anything the scheduler can make runnable.
type Wakeable interface {
	Signal()
}

// SuspendResult tells a suspended caller why it resumed.
type SuspendResult uint8

const (
	Signaled SuspendResult = iota
	Expired
	Interrupted
)

func (r SuspendResult) String() string {
	switch r {
	case Signaled:
		return "signaled"
	case Expired:
		return "expired"
	case Interrupted:
		return "interrupted"
	default:
		return fmt.Sprintf("result(%d)", uint8(r))
	}
}

// Scheduler owns the clock, the tracer, and the deferred-wake list.
type Scheduler struct {
	clock  Clock
	tracer trace.Tracer

	mu       sync.Mutex
	deferred []Wakeable

	applied   atomic.Uint64
	suspended atomic.Int64
}

// Option configures a Scheduler.
type Option func(*Scheduler)

// WithTracer attaches a tracer. The default is trace.Nop.
func WithTracer(t trace.Tracer) Option {
	return func(s *Scheduler) {
		if t != nil {
			s.tracer = t
		}
	}
}

// NewScheduler creates a scheduler on clock. A nil clock means a RealClock
// with the default tick period.
func NewScheduler(clock Clock, opts ...Option) *Scheduler {
	if clock == nil {
		clock = NewRealClock(DefaultTickPeriod)
	}
	s := &Scheduler{clock: clock, tracer: trace.Nop}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Scheduler) Clock() Clock { return s.clock }

func (s *Scheduler) Now() Tick { return s.clock.Now() }

func (s *Scheduler) Tracer() trace.Tracer { return s.tracer }

// Deadline converts timeout into an absolute deadline from now.
func (s *Scheduler) Deadline(timeout Timeout) Tick {
	return DeadlineAfter(s.clock.Now(), timeout)
}

// Suspend parks the calling goroutine until wake is signaled, the deadline
// passes, or ctx is done. Never disables the deadline.
func (s *Scheduler) Suspend(ctx context.Context, wake <-chan struct{}, deadline Tick) SuspendResult {
	s.suspended.Add(1)
	defer s.suspended.Add(-1)
	var expired <-chan struct{}
	if deadline != Never {
		ch, stop := s.clock.After(deadline)
		defer stop()
		expired = ch
	}
	var done <-chan struct{}
	if ctx != nil {
		done = ctx.Done()
	}
	select {
	case <-wake:
		return Signaled
	case <-expired:
		return Expired
	case <-done:
		return Interrupted
	}
}

// Wake makes w runnable now.
func (s *Scheduler) Wake(w Wakeable) {
	w.Signal()
}

// DeferWake records w to be woken by the next ApplyDeferredWakes.
func (s *Scheduler) DeferWake(w Wakeable) {
	s.mu.Lock()
	s.deferred = append(s.deferred, w)
	s.mu.Unlock()
}

// PendingDeferred reports how many wakes are waiting for a safe point.
func (s *Scheduler) PendingDeferred() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.deferred)
}

// Suspended reports how many tasks are parked in Suspend right now.
func (s *Scheduler) Suspended() int64 {
	return s.suspended.Load()
}

// Stats is a point-in-time view of the scheduler.
type Stats struct {
	Suspended       int64
	PendingDeferred int
	AppliedDeferred uint64
}

// Stats samples the scheduler counters. The fields are read one after the
// other, not atomically as a group.
func (s *Scheduler) Stats() Stats {
	return Stats{
		Suspended:       s.Suspended(),
		PendingDeferred: s.PendingDeferred(),
		AppliedDeferred: s.AppliedDeferred(),
	}
}

// Fields renders st as trace event extras.
func (st Stats) Fields() map[string]string {
	return map[string]string{
		"suspended":        strconv.FormatInt(st.Suspended, 10),
		"deferred_pending": strconv.Itoa(st.PendingDeferred),
		"deferred_applied": strconv.FormatUint(st.AppliedDeferred, 10),
	}
}

// AppliedDeferred reports the total number of deferred wakes delivered.
func (s *Scheduler) AppliedDeferred() uint64 {
	return s.applied.Load()
}

// ApplyDeferredWakes delivers every recorded wake in recording order and
// returns how many were delivered.
func (s *Scheduler) ApplyDeferredWakes() int {
	s.mu.Lock()
	batch := s.deferred
	s.deferred = nil
	s.mu.Unlock()
	for _, w := range batch {
		w.Signal()
	}
	if n := len(batch); n > 0 {
		s.applied.Add(uint64(n))
		if s.tracer.Enabled() {
			trace.Point(s.tracer, trace.ScopeKernel, "sched", "deferred.apply", 0, fmt.Sprintf("n=%d", n))
		}
	}
	return len(batch)
}

// RunDeferred applies deferred wakes every interval until ctx is done.
func (s *Scheduler) RunDeferred(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = DefaultTickPeriod
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			s.ApplyDeferredWakes()
			return
		case <-ticker.C:
			s.ApplyDeferredWakes()
		}
	}
}

// CheckBlocking rejects a potentially blocking call made from interrupt
// context. A NoWait timeout is always allowed.
func (s *Scheduler) CheckBlocking(ctx context.Context, timeout Timeout, op, object string) error {
	if timeout != NoWait && InInterrupt(ctx) {
		return NewError(CodeWrongContext, op, object)
	}
	return nil
}

// Trace emits a point event when the tracer is enabled.
func (s *Scheduler) Trace(scope trace.Scope, object, name string, task TaskID, detail string) {
	if !s.tracer.Enabled() {
		return
	}
	trace.Point(s.tracer, scope, object, name, uint64(task), detail)
}
