package semaphore

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"rtsync/internal/kernel"
)

func newSched() (*kernel.Scheduler, *kernel.VirtualClock) {
	clock := kernel.NewVirtualClock(0)
	return kernel.NewScheduler(clock), clock
}

func waitTakers(t *testing.T, s *Semaphore, n int) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for s.Waiting() != n {
		if time.Now().After(deadline) {
			t.Fatalf("want %d blocked takers, have %d", n, s.Waiting())
		}
		time.Sleep(time.Millisecond)
	}
}

func TestConfigValidate(t *testing.T) {
	cases := []struct {
		name string
		cfg  Config
		ok   bool
	}{
		{"binary", Config{MaxCount: 1}, true},
		{"counting full", Config{MaxCount: 3, InitialCount: 3}, true},
		{"zero max", Config{MaxCount: 0}, false},
		{"initial above max", Config{MaxCount: 2, InitialCount: 3}, false},
		{"negative initial", Config{MaxCount: 2, InitialCount: -1}, false},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.cfg.Validate()
			if tc.ok != (err == nil) {
				t.Fatalf("Validate() = %v, want ok=%v", err, tc.ok)
			}
		})
	}
}

func TestBinaryGiveNeverStacks(t *testing.T) {
	sched, _ := newSched()
	s, err := NewBinary(sched, "bin")
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()

	var ok, atMax atomic.Int32
	var wg sync.WaitGroup
	for range 2 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := s.Give(ctx)
			switch {
			case err == nil:
				ok.Add(1)
			case errors.Is(err, kernel.ErrAlreadyAtMax):
				atMax.Add(1)
			default:
				t.Errorf("unexpected give error %v", err)
			}
		}()
	}
	wg.Wait()
	if ok.Load() != 1 || atMax.Load() != 1 || s.Count() != 1 {
		t.Fatalf("want one ok and one AlreadyAtMax with count 1, got ok=%d atMax=%d count=%d", ok.Load(), atMax.Load(), s.Count())
	}
	if err := s.Take(ctx, kernel.NoWait); err != nil {
		t.Fatalf("take: %v", err)
	}
	if err := s.Take(ctx, kernel.NoWait); !errors.Is(err, kernel.ErrWouldBlock) {
		t.Fatalf("take on empty binary: want ErrWouldBlock, got %v", err)
	}
}

func TestCountingThreeTakersScenario(t *testing.T) {
	sched, _ := newSched()
	s, err := NewCounting(sched, "pool", 2, 2)
	if err != nil {
		t.Fatal(err)
	}
	done := make(chan int, 3)
	for i := range 3 {
		go func() {
			if err := s.Take(context.Background(), kernel.Forever); err != nil {
				t.Errorf("taker %d: %v", i, err)
			}
			done <- i
		}()
	}
	<-done
	<-done
	waitTakers(t, s, 1)
	select {
	case <-done:
		t.Fatalf("third taker must block while the pool is exhausted")
	default:
	}
	if s.Count() != 0 {
		t.Fatalf("want count 0, got %d", s.Count())
	}
	if err := s.Give(context.Background()); err != nil {
		t.Fatalf("give: %v", err)
	}
	<-done
	if s.Count() != 0 {
		t.Fatalf("handed-off token must not raise the count, got %d", s.Count())
	}
}

func TestTakerPriorityOrder(t *testing.T) {
	sched, _ := newSched()
	s, _ := NewBinary(sched, "bin")
	order := make(chan string, 2)
	for i, name := range []string{"low", "high"} {
		prio := kernel.Priority(i * 10)
		go func() {
			ctx := kernel.WithTask(context.Background(), kernel.NewTask(name, prio))
			if err := s.Take(ctx, kernel.Forever); err != nil {
				t.Errorf("%s: %v", name, err)
			}
			order <- name
		}()
		waitTakers(t, s, i+1)
	}
	_ = s.Give(context.Background())
	if got := <-order; got != "high" {
		t.Fatalf("want high priority taker first, got %s", got)
	}
	_ = s.Give(context.Background())
	<-order
}

func TestTakeTimesOut(t *testing.T) {
	sched, clock := newSched()
	s, _ := NewBinary(sched, "bin")
	errc := make(chan error, 1)
	go func() { errc <- s.Take(context.Background(), 20) }()
	waitTakers(t, s, 1)
	clock.Advance(19)
	select {
	case err := <-errc:
		t.Fatalf("take returned early: %v", err)
	case <-time.After(10 * time.Millisecond):
	}
	clock.Advance(1)
	if err := <-errc; !errors.Is(err, kernel.ErrTimedOut) {
		t.Fatalf("want ErrTimedOut, got %v", err)
	}
	if err := s.Give(context.Background()); err != nil || s.Count() != 1 {
		t.Fatalf("give after timeout should not hand off to the expired taker: %v count=%d", err, s.Count())
	}
}

func TestGiveFromInterruptDefersWake(t *testing.T) {
	sched, _ := newSched()
	s, _ := NewBinary(sched, "isr")
	done := make(chan error, 1)
	go func() { done <- s.Take(context.Background(), kernel.Forever) }()
	waitTakers(t, s, 1)

	if err := s.GiveFromInterrupt(); err != nil {
		t.Fatalf("isr give: %v", err)
	}
	select {
	case <-done:
		t.Fatalf("taker resumed before the safe point")
	case <-time.After(10 * time.Millisecond):
	}
	if sched.ApplyDeferredWakes() != 1 {
		t.Fatalf("want one deferred wake")
	}
	if err := <-done; err != nil {
		t.Fatalf("take: %v", err)
	}
	if s.Count() != 0 {
		t.Fatalf("want count 0, got %d", s.Count())
	}
}

func TestTakeFromInterruptContextIsRejected(t *testing.T) {
	sched, _ := newSched()
	s, _ := NewMutex(sched, "m")
	err := s.Take(kernel.WithInterrupt(context.Background()), kernel.Forever)
	if !errors.Is(err, kernel.ErrWrongContext) {
		t.Fatalf("want ErrWrongContext, got %v", err)
	}
}

func TestCloseReleasesTakers(t *testing.T) {
	sched, _ := newSched()
	s, _ := NewBinary(sched, "bin")
	errc := make(chan error, 1)
	go func() { errc <- s.Take(context.Background(), kernel.Forever) }()
	waitTakers(t, s, 1)
	s.Close()
	if err := <-errc; !errors.Is(err, kernel.ErrDestroyed) {
		t.Fatalf("want ErrDestroyed, got %v", err)
	}
	if err := s.Give(context.Background()); !errors.Is(err, kernel.ErrDestroyed) {
		t.Fatalf("give after close: want ErrDestroyed, got %v", err)
	}
}
