// Package semaphore implements binary and counting semaphores whose give
// never stacks past the maximum.
package semaphore

import (
	"context"
	"fmt"
	"sync"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
	"rtsync/internal/waitq"
)

// Config bounds a semaphore.
type Config struct {
	Name         string
	MaxCount     int
	InitialCount int
}

func (c Config) Validate() error {
	if c.MaxCount < 1 {
		return fmt.Errorf("%w: semaphore %q max count %d", kernel.ErrInvalidArgument, c.Name, c.MaxCount)
	}
	if c.InitialCount < 0 || c.InitialCount > c.MaxCount {
		return fmt.Errorf("%w: semaphore %q initial count %d outside [0,%d]", kernel.ErrInvalidArgument, c.Name, c.InitialCount, c.MaxCount)
	}
	return nil
}

// Semaphore is a token counter in [0, MaxCount]. A give with takers queued
// hands its token straight to the highest-priority taker, so the count only
// rises when nobody is waiting.
type Semaphore struct {
	name  string
	sched *kernel.Scheduler
	max   int

	mu     sync.Mutex
	count  int
	closed bool
	takers *waitq.Queue
	link   waitq.Link
}

type token struct{}

// New creates a semaphore.
func New(sched *kernel.Scheduler, cfg Config) (*Semaphore, error) {
	if sched == nil {
		panic("semaphore: nil scheduler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	s := &Semaphore{
		name:   cfg.Name,
		sched:  sched,
		max:    cfg.MaxCount,
		count:  cfg.InitialCount,
		takers: waitq.New(sched, cfg.Name),
	}
	sched.Trace(trace.ScopeObject, s.name, "sem.create", 0, fmt.Sprintf("count=%d max=%d", s.count, s.max))
	return s, nil
}

// NewBinary creates a binary semaphore that starts empty.
func NewBinary(sched *kernel.Scheduler, name string) (*Semaphore, error) {
	return New(sched, Config{Name: name, MaxCount: 1})
}

// NewCounting creates a counting semaphore.
func NewCounting(sched *kernel.Scheduler, name string, maxCount, initial int) (*Semaphore, error) {
	return New(sched, Config{Name: name, MaxCount: maxCount, InitialCount: initial})
}

// NewMutex creates a binary semaphore that starts available, for use as a
// lock: Take to enter, Give to leave.
func NewMutex(sched *kernel.Scheduler, name string) (*Semaphore, error) {
	return New(sched, Config{Name: name, MaxCount: 1, InitialCount: 1})
}

func (s *Semaphore) Name() string { return s.name }
func (s *Semaphore) Max() int     { return s.max }

// Count returns the current count.
func (s *Semaphore) Count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.count
}

// Waiting returns the number of blocked takers.
func (s *Semaphore) Waiting() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.takers.Len()
}

// Give releases one token. It fails with ErrAlreadyAtMax when the count is
// already MaxCount and nobody is waiting.
func (s *Semaphore) Give(ctx context.Context) error {
	return s.give(kernel.TaskFrom(ctx).ID, false, "sem.give")
}

// GiveFromInterrupt is Give for interrupt context. The token is handed over
// immediately but the taker resumes at the scheduler's next safe point.
func (s *Semaphore) GiveFromInterrupt() error {
	return s.give(0, true, "sem.give_isr")
}

func (s *Semaphore) give(task kernel.TaskID, deferred bool, op string) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kernel.NewError(kernel.CodeDestroyed, op, s.name)
	}
	var handed bool
	if deferred {
		_, handed = s.takers.WakeHighestDeferred(token{})
	} else {
		_, handed = s.takers.WakeHighest(token{})
	}
	if handed {
		s.mu.Unlock()
		s.sched.Trace(trace.ScopeObject, s.name, op, task, "handoff")
		return nil
	}
	if s.count == s.max {
		s.mu.Unlock()
		return kernel.NewError(kernel.CodeAlreadyAtMax, op, s.name)
	}
	s.count++
	n := s.link.Notifier()
	count := s.count
	s.mu.Unlock()
	s.sched.Trace(trace.ScopeObject, s.name, op, task, fmt.Sprintf("count=%d", count))
	if n != nil {
		n.Notify(deferred)
	}
	return nil
}

// Take acquires one token, blocking up to timeout. With NoWait and no token
// available it fails with ErrWouldBlock.
func (s *Semaphore) Take(ctx context.Context, timeout kernel.Timeout) error {
	const op = "sem.take"
	if err := s.sched.CheckBlocking(ctx, timeout, op, s.name); err != nil {
		return err
	}
	deadline := s.sched.Deadline(timeout)

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return kernel.NewError(kernel.CodeDestroyed, op, s.name)
	}
	if s.count > 0 {
		s.count--
		return nil
	}
	if timeout == kernel.NoWait {
		return kernel.NewError(kernel.CodeWouldBlock, op, s.name)
	}
	outcome, _ := s.takers.Wait(ctx, &s.mu, deadline, nil)
	switch outcome {
	case waitq.Woken:
		return nil
	case waitq.TimedOut:
		return kernel.NewError(kernel.CodeTimedOut, op, s.name)
	case waitq.Canceled:
		return kernel.Canceled(op, s.name, ctx.Err())
	default:
		return kernel.NewError(kernel.CodeDestroyed, op, s.name)
	}
}

// Close destroys the semaphore; blocked takers return ErrDestroyed.
func (s *Semaphore) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	n := s.takers.DestroyAll()
	s.mu.Unlock()
	s.sched.Trace(trace.ScopeObject, s.name, "sem.destroy", 0, fmt.Sprintf("waiters=%d", n))
}

// Ready reports whether a NoWait take would succeed right now.
func (s *Semaphore) Ready() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return !s.closed && s.count > 0
}

// JoinSet links the semaphore to a wait set and reports whether it was
// ready at that moment.
func (s *Semaphore) JoinSet(n waitq.Notifier) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false, kernel.NewError(kernel.CodeDestroyed, "waitset.add", s.name)
	}
	if !s.link.Attach(n) {
		return false, kernel.NewError(kernel.CodeAlreadyMember, "waitset.add", s.name)
	}
	return s.count > 0, nil
}

// LeaveSet unlinks the semaphore from the wait set bound by JoinSet.
func (s *Semaphore) LeaveSet(n waitq.Notifier) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.link.Detach(n) {
		return kernel.NewError(kernel.CodeNotAMember, "waitset.remove", s.name)
	}
	return nil
}
