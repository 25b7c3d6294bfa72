package waitq

import (
	"context"
	"sync"
	"testing"
	"time"

	"rtsync/internal/kernel"
)

type fixture struct {
	mu    sync.Mutex
	clock *kernel.VirtualClock
	sched *kernel.Scheduler
	q     *Queue
}

func newFixture() *fixture {
	clock := kernel.NewVirtualClock(0)
	sched := kernel.NewScheduler(clock)
	return &fixture{clock: clock, sched: sched, q: New(sched, "test")}
}

type result struct {
	name    string
	outcome Outcome
	value   any
}

func (f *fixture) park(ctx context.Context, name string, prio kernel.Priority, timeout kernel.Timeout, out chan<- result) {
	ctx = kernel.WithTask(ctx, kernel.NewTask(name, prio))
	f.mu.Lock()
	outcome, value := f.q.Wait(ctx, &f.mu, f.sched.Deadline(timeout), nil)
	f.mu.Unlock()
	out <- result{name: name, outcome: outcome, value: value}
}

func (f *fixture) waitQueued(t *testing.T, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		f.mu.Lock()
		got := f.q.Len()
		f.mu.Unlock()
		if got == n {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %d queued waiters, have %d", n, got)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWakeOrderIsPriorityThenFIFO(t *testing.T) {
	f := newFixture()
	out := make(chan result, 4)
	parks := []struct {
		name string
		prio kernel.Priority
	}{
		{"low", 1},
		{"high-a", 5},
		{"mid", 3},
		{"high-b", 5},
	}
	for i, p := range parks {
		go f.park(context.Background(), p.name, p.prio, kernel.Forever, out)
		f.waitQueued(t, i+1)
	}

	want := []string{"high-a", "high-b", "mid", "low"}
	for i, name := range want {
		f.mu.Lock()
		w, ok := f.q.WakeHighest(i)
		f.mu.Unlock()
		if !ok || w.Task.Name != name {
			t.Fatalf("wake %d: want %s, got %+v", i, name, w)
		}
		r := <-out
		if r.name != name || r.outcome != Woken || r.value != i {
			t.Fatalf("wake %d: unexpected result %+v", i, r)
		}
	}
	if _, ok := f.q.WakeHighest(nil); ok {
		t.Fatalf("empty queue should not wake anyone")
	}
}

func TestTimeoutRemovesWaiterOnce(t *testing.T) {
	f := newFixture()
	out := make(chan result, 1)
	go f.park(context.Background(), "w", 0, 10, out)
	f.waitQueued(t, 1)

	f.clock.Advance(10)
	r := <-out
	if r.outcome != TimedOut {
		t.Fatalf("want timed-out, got %v", r.outcome)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.q.Len() != 0 {
		t.Fatalf("timed-out waiter still queued")
	}
	if _, ok := f.q.WakeHighest(nil); ok {
		t.Fatalf("timed-out waiter must not be woken")
	}
}

func TestWakeRacingTimeoutHasOneOutcome(t *testing.T) {
	for i := 0; i < 200; i++ {
		f := newFixture()
		out := make(chan result, 1)
		go f.park(context.Background(), "w", 0, 1, out)
		f.waitQueued(t, 1)

		wakes := make(chan bool, 1)
		go func() {
			f.mu.Lock()
			_, ok := f.q.WakeHighest("v")
			f.mu.Unlock()
			wakes <- ok
		}()
		f.clock.Advance(1)

		r := <-out
		woke := <-wakes
		switch r.outcome {
		case Woken:
			if !woke || r.value != "v" {
				t.Fatalf("iteration %d: woken without a successful waker", i)
			}
		case TimedOut:
			if woke {
				t.Fatalf("iteration %d: waker succeeded but waiter timed out", i)
			}
		default:
			t.Fatalf("iteration %d: unexpected outcome %v", i, r.outcome)
		}
	}
}

func TestContextCancel(t *testing.T) {
	f := newFixture()
	out := make(chan result, 1)
	ctx, cancel := context.WithCancel(context.Background())
	go f.park(ctx, "w", 0, kernel.Forever, out)
	f.waitQueued(t, 1)
	cancel()
	if r := <-out; r.outcome != Canceled {
		t.Fatalf("want canceled, got %v", r.outcome)
	}
	f.waitQueued(t, 0)
}

func TestExplicitCancelLosesToEarlierWake(t *testing.T) {
	f := newFixture()
	out := make(chan result, 2)
	go f.park(context.Background(), "a", 0, kernel.Forever, out)
	f.waitQueued(t, 1)
	go f.park(context.Background(), "b", 0, kernel.Forever, out)
	f.waitQueued(t, 2)

	f.mu.Lock()
	ws := f.q.Snapshot()
	woken, _ := f.q.WakeHighest(nil)
	if f.q.Cancel(woken) {
		t.Fatalf("cancel after wake must fail")
	}
	if !f.q.Cancel(ws[1]) {
		t.Fatalf("cancel of a pending waiter must succeed")
	}
	f.mu.Unlock()

	got := map[string]Outcome{}
	for range 2 {
		r := <-out
		got[r.name] = r.outcome
	}
	if got["a"] != Woken || got["b"] != Canceled {
		t.Fatalf("unexpected outcomes %v", got)
	}
}

func TestWakeAllMatchingSeesClaimedEffects(t *testing.T) {
	f := newFixture()
	out := make(chan result, 3)
	budget := 2
	for i, name := range []string{"a", "b", "c"} {
		go func() {
			ctx := kernel.WithTask(context.Background(), kernel.NewTask(name, 0))
			f.mu.Lock()
			o, v := f.q.Wait(ctx, &f.mu, kernel.Never, 1)
			f.mu.Unlock()
			out <- result{name: name, outcome: o, value: v}
		}()
		f.waitQueued(t, i+1)
	}

	f.mu.Lock()
	n := f.q.WakeAllMatching(func(w *Waiter) (any, bool) {
		need, _ := w.Data.(int)
		return budget, budget >= need
	}, func(w *Waiter) {
		budget -= w.Data.(int)
	})
	left := f.q.Len()
	f.mu.Unlock()
	if n != 2 || left != 1 {
		t.Fatalf("want 2 woken and 1 left, got %d and %d", n, left)
	}
	for range 2 {
		r := <-out
		if r.name == "c" {
			t.Fatalf("third waiter must not be satisfied by consumed budget")
		}
	}

	f.mu.Lock()
	if f.q.DestroyAll() != 1 {
		t.Fatalf("want one waiter destroyed")
	}
	f.mu.Unlock()
	if r := <-out; r.name != "c" || r.outcome != Destroyed {
		t.Fatalf("want c destroyed, got %+v", r)
	}
}

func TestDeferredWakeWaitsForSafePoint(t *testing.T) {
	f := newFixture()
	out := make(chan result, 1)
	go f.park(context.Background(), "w", 0, kernel.Forever, out)
	f.waitQueued(t, 1)

	f.mu.Lock()
	if _, ok := f.q.WakeHighestDeferred("isr"); !ok {
		t.Fatalf("deferred wake found no waiter")
	}
	f.mu.Unlock()

	select {
	case r := <-out:
		t.Fatalf("waiter resumed before deferred wakes were applied: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
	if n := f.sched.ApplyDeferredWakes(); n != 1 {
		t.Fatalf("want 1 deferred wake, got %d", n)
	}
	if r := <-out; r.outcome != Woken || r.value != "isr" {
		t.Fatalf("unexpected result %+v", r)
	}
}

func TestDeferredWakeOutlivesExpiredDeadline(t *testing.T) {
	f := newFixture()
	out := make(chan result, 1)
	go f.park(context.Background(), "w", 0, 5, out)
	f.waitQueued(t, 1)

	f.mu.Lock()
	if _, ok := f.q.WakeHighestDeferred("isr"); !ok {
		t.Fatalf("deferred wake found no waiter")
	}
	f.mu.Unlock()
	f.clock.Advance(5)

	select {
	case r := <-out:
		t.Fatalf("waiter resumed on its deadline before the safe point: %+v", r)
	case <-time.After(20 * time.Millisecond):
	}
	f.sched.ApplyDeferredWakes()
	if r := <-out; r.outcome != Woken || r.value != "isr" {
		t.Fatalf("want woken with isr, got %+v", r)
	}
}

func TestTicketKeepsPlaceAcrossWaits(t *testing.T) {
	f := newFixture()
	out := make(chan result, 2)
	go func() {
		ctx := kernel.WithTask(context.Background(), kernel.NewTask("a", 1))
		var ticket Ticket
		f.mu.Lock()
		f.q.WaitTicket(ctx, &f.mu, kernel.Never, nil, &ticket)
		// Woken once but nothing left for us; wait again in the same place.
		outcome, value := f.q.WaitTicket(ctx, &f.mu, kernel.Never, nil, &ticket)
		f.mu.Unlock()
		out <- result{name: "a", outcome: outcome, value: value}
	}()
	f.waitQueued(t, 1)
	go f.park(context.Background(), "b", 1, kernel.Forever, out)
	f.waitQueued(t, 2)

	f.mu.Lock()
	f.q.WakeHighest("first")
	f.mu.Unlock()
	f.waitQueued(t, 2)

	f.mu.Lock()
	f.q.WakeHighest("second")
	f.mu.Unlock()
	if r := <-out; r.name != "a" || r.value != "second" {
		t.Fatalf("waiter a lost its place: %+v", r)
	}
	f.mu.Lock()
	f.q.WakeHighest("third")
	f.mu.Unlock()
	if r := <-out; r.name != "b" || r.value != "third" {
		t.Fatalf("unexpected result %+v", r)
	}
}
