package waitq

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
)

// Queue orders blocked waiters by priority, then arrival.
//
// A Queue has no lock of its own. Every method must be called with the
// owning primitive's lock held; Wait releases and reacquires that lock
// around the suspension.
type Queue struct {
	sched  *kernel.Scheduler
	object string
	seq    uint64
	items  []*Waiter
}

// New creates an empty queue that suspends through sched. object names the
// owning primitive in trace output.
func New(sched *kernel.Scheduler, object string) *Queue {
	if sched == nil {
		panic("waitq: nil scheduler")
	}
	return &Queue{sched: sched, object: object}
}

// Len returns the number of queued waiters.
func (q *Queue) Len() int { return len(q.items) }

// Ticket keeps a task's place in a queue across the repeated waits of one
// operation. A zero Ticket takes a fresh place on first use; later waits with
// the same Ticket are ordered as if the task had never left the queue.
type Ticket struct {
	seq uint64
}

// Wait enqueues the calling task and blocks until it is woken, the deadline
// passes, ctx is done, or the owner is destroyed. lock must be held on entry
// and is held again on return. The value is whatever the waker passed.
func (q *Queue) Wait(ctx context.Context, lock sync.Locker, deadline kernel.Tick, data any) (Outcome, any) {
	return q.wait(ctx, lock, deadline, data, nil, nil)
}

// WaitTicket is Wait for callers that may have to wait again after being
// woken, such as a receiver whose message was taken by a non-blocking
// caller before it ran.
func (q *Queue) WaitTicket(ctx context.Context, lock sync.Locker, deadline kernel.Tick, data any, t *Ticket) (Outcome, any) {
	return q.wait(ctx, lock, deadline, data, t, nil)
}

// WaitThen is Wait with a hook run after the lock is released and before the
// task parks. The waiter is already queued when parked runs.
func (q *Queue) WaitThen(ctx context.Context, lock sync.Locker, deadline kernel.Tick, data any, parked func()) (Outcome, any) {
	return q.wait(ctx, lock, deadline, data, nil, parked)
}

func (q *Queue) wait(ctx context.Context, lock sync.Locker, deadline kernel.Tick, data any, t *Ticket, parked func()) (Outcome, any) {
	task := kernel.TaskFrom(ctx)
	w := &Waiter{Task: task, Deadline: deadline, Data: data, ch: make(chan struct{})}
	if t != nil && t.seq != 0 {
		w.seq = t.seq
	} else {
		q.seq++
		w.seq = q.seq
		if t != nil {
			t.seq = w.seq
		}
	}
	q.insert(w)
	q.sched.Trace(trace.ScopeWaiter, q.object, "block", task.ID, fmt.Sprintf("prio=%d seq=%d", task.Priority, w.seq))

	lock.Unlock()
	if parked != nil {
		parked()
	}
	res := q.sched.Suspend(ctx, w.ch, deadline)
	lock.Lock()

	switch res {
	case kernel.Expired:
		if w.settle(TimedOut) {
			q.remove(w)
			q.sched.Trace(trace.ScopeWaiter, q.object, "timeout", task.ID, "")
			return TimedOut, nil
		}
	case kernel.Interrupted:
		if w.settle(Canceled) {
			q.remove(w)
			q.sched.Trace(trace.ScopeWaiter, q.object, "cancel", task.ID, "")
			return Canceled, nil
		}
	}
	// A waker won the race against our timer or ctx and already dequeued
	// us. A deferred wake only signals at the scheduler's safe point, and
	// the task must not resume before it.
	select {
	case <-w.ch:
	default:
		lock.Unlock()
		<-w.ch
		lock.Lock()
	}
	return w.Outcome(), w.value
}

// WakeHighest wakes the first waiter in service order with value.
func (q *Queue) WakeHighest(value any) (*Waiter, bool) {
	return q.wakeHighest(value, false)
}

// WakeHighestDeferred settles the first waiter as woken now but leaves the
// resumption to the scheduler's next ApplyDeferredWakes.
func (q *Queue) WakeHighestDeferred(value any) (*Waiter, bool) {
	return q.wakeHighest(value, true)
}

func (q *Queue) wakeHighest(value any, deferred bool) (*Waiter, bool) {
	for len(q.items) > 0 {
		w := q.items[0]
		q.remove(w)
		if !w.settle(Woken) {
			continue
		}
		w.value = value
		q.resume(w, deferred)
		return w, true
	}
	return nil, false
}

// WakeAllMatching walks waiters in service order. match sees one waiter at a
// time and must not mutate owner state; when it accepts, the waiter is
// settled as woken with the returned value, and claimed (if not nil) runs
// before the next waiter is examined.
func (q *Queue) WakeAllMatching(match func(*Waiter) (any, bool), claimed func(*Waiter)) int {
	return q.wakeAllMatching(match, claimed, false)
}

// WakeAllMatchingDeferred is WakeAllMatching for interrupt context.
func (q *Queue) WakeAllMatchingDeferred(match func(*Waiter) (any, bool), claimed func(*Waiter)) int {
	return q.wakeAllMatching(match, claimed, true)
}

func (q *Queue) wakeAllMatching(match func(*Waiter) (any, bool), claimed func(*Waiter), deferred bool) int {
	woken := 0
	kept := q.items[:0]
	for _, w := range q.items {
		if w.Outcome() != Pending {
			w.queued = false
			continue
		}
		value, ok := match(w)
		if !ok || !w.settle(Woken) {
			if w.Outcome() == Pending {
				kept = append(kept, w)
			} else {
				w.queued = false
			}
			continue
		}
		w.queued = false
		w.value = value
		if claimed != nil {
			claimed(w)
		}
		q.resume(w, deferred)
		woken++
	}
	for i := len(kept); i < len(q.items); i++ {
		q.items[i] = nil
	}
	q.items = kept
	return woken
}

// Cancel settles w as canceled if no other outcome was reached first.
func (q *Queue) Cancel(w *Waiter) bool {
	if w == nil || !w.settle(Canceled) {
		return false
	}
	q.remove(w)
	w.Signal()
	q.sched.Trace(trace.ScopeWaiter, q.object, "cancel", w.Task.ID, "")
	return true
}

// DestroyAll force-wakes every waiter with Destroyed and returns how many.
func (q *Queue) DestroyAll() int {
	n := 0
	for _, w := range q.items {
		w.queued = false
		if w.settle(Destroyed) {
			w.Signal()
			n++
		}
	}
	clear(q.items)
	q.items = q.items[:0]
	return n
}

// Snapshot returns the queued waiters in service order.
func (q *Queue) Snapshot() []*Waiter {
	return slices.Clone(q.items)
}

func (q *Queue) resume(w *Waiter, deferred bool) {
	q.sched.Trace(trace.ScopeWaiter, q.object, "wake", w.Task.ID, "")
	if deferred {
		q.sched.DeferWake(w)
		return
	}
	q.sched.Wake(w)
}

// insert places w after every waiter of higher priority and after every
// waiter of equal priority with an earlier ticket.
func (q *Queue) insert(w *Waiter) {
	w.queued = true
	prio := w.Priority()
	i := sort.Search(len(q.items), func(i int) bool {
		other := q.items[i]
		return other.Priority() < prio || (other.Priority() == prio && other.seq > w.seq)
	})
	q.items = slices.Insert(q.items, i, w)
}

func (q *Queue) remove(w *Waiter) {
	if !w.queued {
		return
	}
	w.queued = false
	if i := slices.Index(q.items, w); i >= 0 {
		q.items = slices.Delete(q.items, i, i+1)
	}
}
