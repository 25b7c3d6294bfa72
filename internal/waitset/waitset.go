// Package waitset lets one consumer block on several channels, semaphores
// and event groups at once and learn which became ready.
//
// Select only reports; the caller consumes with the member's own NoWait
// Receive, Take or Get. Members are reported in the order they became
// ready. A channel or semaphore that is still ready after being reported is
// queued again behind the others, so leftover messages and tokens are not
// forgotten; an event group is reported once per Set.
package waitset

import (
	"context"
	"fmt"
	"sync"

	"github.com/gammazero/deque"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
	"rtsync/internal/waitq"
)

type link struct {
	set *Set
	m   Member
}

func (l *link) Notify(deferred bool) {
	l.set.notify(l, deferred)
}

// Set is a wait set.
type Set struct {
	name  string
	sched *kernel.Scheduler

	mu       sync.Mutex
	members  map[Member]*link
	pending  deque.Deque[Member]
	queued   map[Member]struct{}
	waiting  bool
	closed   bool
	selector *waitq.Queue
}

// New creates an empty wait set.
func New(sched *kernel.Scheduler, name string) *Set {
	if sched == nil {
		panic("waitset: nil scheduler")
	}
	s := &Set{
		name:     name,
		sched:    sched,
		members:  make(map[Member]*link),
		queued:   make(map[Member]struct{}),
		selector: waitq.New(sched, name),
	}
	sched.Trace(trace.ScopeObject, name, "set.create", 0, "")
	return s
}

func (s *Set) Name() string { return s.name }

// Len returns the number of members.
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.members)
}

// Contains reports whether m belongs to s.
func (s *Set) Contains(m Member) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.members[m]
	return ok
}

// Add makes m a member. A primitive belongs to at most one set; adding it
// to a second one fails with ErrAlreadyMember. A member that is already
// ready is queued immediately.
func (s *Set) Add(m Member) error {
	const op = "waitset.add"
	p := m.primitive()
	if p == nil {
		return kernel.NewError(kernel.CodeInvalidArgument, op, s.name)
	}
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return kernel.NewError(kernel.CodeDestroyed, op, s.name)
	}
	if _, ok := s.members[m]; ok {
		s.mu.Unlock()
		return kernel.NewError(kernel.CodeAlreadyMember, op, m.Name())
	}
	l := &link{set: s, m: m}
	s.members[m] = l
	s.mu.Unlock()

	ready, err := p.JoinSet(l)
	if err != nil {
		s.mu.Lock()
		if s.members[m] == l {
			delete(s.members, m)
		}
		s.mu.Unlock()
		return err
	}

	s.mu.Lock()
	if s.members[m] != l {
		// Removed or closed while joining.
		closed := s.closed
		s.mu.Unlock()
		_ = p.LeaveSet(l)
		if closed {
			return kernel.NewError(kernel.CodeDestroyed, op, s.name)
		}
		return nil
	}
	if ready {
		s.armLocked(m, false)
	}
	s.mu.Unlock()
	s.sched.Trace(trace.ScopeObject, s.name, op, 0, fmt.Sprintf("%s ready=%t", m, ready))
	return nil
}

// Remove drops m from the set, including any readiness not yet reported.
func (s *Set) Remove(m Member) error {
	const op = "waitset.remove"
	s.mu.Lock()
	l, ok := s.members[m]
	if !ok {
		s.mu.Unlock()
		return kernel.NewError(kernel.CodeNotAMember, op, m.Name())
	}
	delete(s.members, m)
	if _, ok := s.queued[m]; ok {
		delete(s.queued, m)
		if i := s.pending.Index(func(x Member) bool { return x == m }); i >= 0 {
			s.pending.Remove(i)
		}
	}
	s.mu.Unlock()

	// A concurrent Add that has not joined yet leaves on its own.
	_ = m.primitive().LeaveSet(l)
	s.sched.Trace(trace.ScopeObject, s.name, op, 0, m.String())
	return nil
}

// Select blocks until a member is ready or timeout elapses and returns that
// member. Only one Select may run at a time; a second concurrent call fails
// with ErrAlreadyWaiting.
func (s *Set) Select(ctx context.Context, timeout kernel.Timeout) (Member, error) {
	const op = "waitset.select"
	if err := s.sched.CheckBlocking(ctx, timeout, op, s.name); err != nil {
		return Member{}, err
	}
	deadline := s.sched.Deadline(timeout)

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return Member{}, kernel.NewError(kernel.CodeDestroyed, op, s.name)
	}
	if s.waiting {
		s.mu.Unlock()
		return Member{}, kernel.NewError(kernel.CodeAlreadyWaiting, op, s.name)
	}
	s.waiting = true
	m, err := s.selectLocked(ctx, timeout, deadline, op)
	s.waiting = false
	s.mu.Unlock()

	if err == nil {
		s.sched.Trace(trace.ScopeObject, s.name, op, kernel.TaskFrom(ctx).ID, m.String())
	}
	return m, err
}

func (s *Set) selectLocked(ctx context.Context, timeout kernel.Timeout, deadline kernel.Tick, op string) (Member, error) {
	for {
		if s.closed {
			return Member{}, kernel.NewError(kernel.CodeDestroyed, op, s.name)
		}
		if s.pending.Len() > 0 {
			m := s.pending.PopFront()
			delete(s.queued, m)
			if m.levelTriggered() {
				// Checked outside our lock: one critical section at a time.
				s.mu.Unlock()
				ready := m.Ready()
				s.mu.Lock()
				if !ready {
					continue
				}
			}
			if _, ok := s.members[m]; !ok {
				continue
			}
			if m.levelTriggered() {
				s.armLocked(m, false)
			}
			return m, nil
		}
		if timeout == kernel.NoWait {
			return Member{}, kernel.NewError(kernel.CodeWouldBlock, op, s.name)
		}
		outcome, _ := s.selector.Wait(ctx, &s.mu, deadline, nil)
		switch outcome {
		case waitq.Woken:
		case waitq.TimedOut:
			return Member{}, kernel.NewError(kernel.CodeTimedOut, op, s.name)
		case waitq.Canceled:
			return Member{}, kernel.Canceled(op, s.name, ctx.Err())
		default:
			return Member{}, kernel.NewError(kernel.CodeDestroyed, op, s.name)
		}
	}
}

// Close destroys the set: a blocked Select returns ErrDestroyed and every
// member is released so it may join another set.
func (s *Set) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	links := make([]*link, 0, len(s.members))
	for _, l := range s.members {
		links = append(links, l)
	}
	clear(s.members)
	clear(s.queued)
	s.pending.Clear()
	s.selector.DestroyAll()
	s.mu.Unlock()

	for _, l := range links {
		_ = l.m.primitive().LeaveSet(l)
	}
	s.sched.Trace(trace.ScopeObject, s.name, "set.destroy", 0, fmt.Sprintf("members=%d", len(links)))
}

func (s *Set) notify(l *link, deferred bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed || s.members[l.m] != l {
		return
	}
	s.armLocked(l.m, deferred)
}

// armLocked queues m once and wakes the selector if one is parked.
func (s *Set) armLocked(m Member, deferred bool) {
	if _, ok := s.queued[m]; ok {
		return
	}
	s.queued[m] = struct{}{}
	s.pending.PushBack(m)
	if deferred {
		s.selector.WakeHighestDeferred(nil)
	} else {
		s.selector.WakeHighest(nil)
	}
}
