package waitset

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"rtsync/internal/channel"
	"rtsync/internal/eventbits"
	"rtsync/internal/kernel"
	"rtsync/internal/semaphore"
)

type env struct {
	clock *kernel.VirtualClock
	sched *kernel.Scheduler
}

func newEnv() *env {
	clock := kernel.NewVirtualClock(0)
	return &env{clock: clock, sched: kernel.NewScheduler(clock)}
}

func (e *env) channel(t *testing.T, name string, capacity int) *channel.Channel {
	t.Helper()
	c, err := channel.New(e.sched, channel.Config{Name: name, Capacity: capacity, ElementSize: 1})
	if err != nil {
		t.Fatal(err)
	}
	return c
}

func (e *env) binary(t *testing.T, name string) *semaphore.Semaphore {
	t.Helper()
	s, err := semaphore.NewBinary(e.sched, name)
	if err != nil {
		t.Fatal(err)
	}
	return s
}

func (e *env) group(t *testing.T, name string) *eventbits.Group {
	t.Helper()
	g, err := eventbits.New(e.sched, eventbits.Config{Name: name, Width: 8})
	if err != nil {
		t.Fatal(err)
	}
	return g
}

func waitSelecting(t *testing.T, s *Set) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for {
		s.mu.Lock()
		parked := s.selector.Len() == 1
		s.mu.Unlock()
		if parked {
			return
		}
		if time.Now().After(deadline) {
			t.Fatalf("selector never parked")
		}
		time.Sleep(time.Millisecond)
	}
}

func TestMembershipErrors(t *testing.T) {
	e := newEnv()
	c := e.channel(t, "c", 1)
	a, b := New(e.sched, "a"), New(e.sched, "b")

	if err := a.Add(Channel(c)); err != nil {
		t.Fatalf("add: %v", err)
	}
	if err := a.Add(Channel(c)); !errors.Is(err, kernel.ErrAlreadyMember) {
		t.Fatalf("second add to same set: want ErrAlreadyMember, got %v", err)
	}
	if err := b.Add(Channel(c)); !errors.Is(err, kernel.ErrAlreadyMember) {
		t.Fatalf("add to a second set: want ErrAlreadyMember, got %v", err)
	}
	if b.Len() != 0 {
		t.Fatalf("failed add must not leave a member behind")
	}
	if err := b.Remove(Channel(c)); !errors.Is(err, kernel.ErrNotAMember) {
		t.Fatalf("want ErrNotAMember, got %v", err)
	}
	if err := a.Add(Member{}); !errors.Is(err, kernel.ErrInvalidArgument) {
		t.Fatalf("zero member: want ErrInvalidArgument, got %v", err)
	}
	if err := a.Remove(Channel(c)); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if err := b.Add(Channel(c)); err != nil {
		t.Fatalf("removed member should be free to join another set: %v", err)
	}
}

func TestMemberReadyAtAddIsPending(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sem := e.binary(t, "timer")
	_ = sem.Give(ctx)
	s := New(e.sched, "set")
	if err := s.Add(Semaphore(sem)); err != nil {
		t.Fatal(err)
	}
	m, err := s.Select(ctx, kernel.NoWait)
	if err != nil || m.Semaphore() != sem {
		t.Fatalf("want the ready semaphore without blocking, got %v %v", m, err)
	}
	if err := m.Semaphore().Take(ctx, kernel.NoWait); err != nil {
		t.Fatalf("take(0) after select: %v", err)
	}
	if _, err := s.Select(ctx, kernel.NoWait); !errors.Is(err, kernel.ErrWouldBlock) {
		t.Fatalf("consumed member must not be reported again, got %v", err)
	}
}

func TestSelectWakesOnSend(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	c := e.channel(t, "sensor", 4)
	s := New(e.sched, "set")
	if err := s.Add(Channel(c)); err != nil {
		t.Fatal(err)
	}
	got := make(chan Member, 1)
	go func() {
		m, err := s.Select(ctx, kernel.Forever)
		if err != nil {
			t.Errorf("select: %v", err)
		}
		got <- m
	}()
	waitSelecting(t, s)
	if err := c.Send(ctx, []byte{42}, kernel.NoWait); err != nil {
		t.Fatal(err)
	}
	m := <-got
	if m.Kind() != KindChannel || m.Channel() != c {
		t.Fatalf("want sensor channel, got %v", m)
	}
	b, err := m.Channel().Receive(ctx, kernel.NoWait)
	if err != nil || b[0] != 42 {
		t.Fatalf("receive(0) after select: %v %v", b, err)
	}
}

func TestLeftoverMessagesAreReportedAgain(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	c := e.channel(t, "c", 4)
	sem := e.binary(t, "s")
	s := New(e.sched, "set")
	_ = s.Add(Channel(c))
	_ = s.Add(Semaphore(sem))

	_ = c.Send(ctx, []byte{1}, kernel.NoWait)
	_ = c.Send(ctx, []byte{2}, kernel.NoWait)
	_ = sem.Give(ctx)

	var order []string
	for {
		m, err := s.Select(ctx, kernel.NoWait)
		if errors.Is(err, kernel.ErrWouldBlock) {
			break
		}
		if err != nil {
			t.Fatal(err)
		}
		order = append(order, m.Name())
		switch m.Kind() {
		case KindChannel:
			if _, err := m.Channel().Receive(ctx, kernel.NoWait); err != nil {
				t.Fatalf("receive(0): %v", err)
			}
		case KindSemaphore:
			if err := m.Semaphore().Take(ctx, kernel.NoWait); err != nil {
				t.Fatalf("take(0): %v", err)
			}
		}
	}
	want := []string{"c", "s", "c"}
	if len(order) != len(want) {
		t.Fatalf("want %v, got %v", want, order)
	}
	for i := range want {
		if order[i] != want[i] {
			t.Fatalf("want %v, got %v", want, order)
		}
	}
}

func TestEventBitsMemberIsEdgeTriggered(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	g := e.group(t, "events")
	s := New(e.sched, "set")
	_ = s.Add(EventBits(g))

	_, _ = g.Set(ctx, 0b01)
	m, err := s.Select(ctx, kernel.NoWait)
	if err != nil || m.EventBits() != g || m.EventBits().Get() != 0b01 {
		t.Fatalf("want event group with 0b01, got %v %v", m, err)
	}
	if _, err := s.Select(ctx, kernel.NoWait); !errors.Is(err, kernel.ErrWouldBlock) {
		t.Fatalf("one Set reports once, got %v", err)
	}
	_, _ = g.Set(ctx, 0b10)
	if m, err := s.Select(ctx, kernel.NoWait); err != nil || m.EventBits() != g {
		t.Fatalf("second Set should arm again, got %v %v", m, err)
	}
}

func TestSecondSelectFailsFast(t *testing.T) {
	e := newEnv()
	s := New(e.sched, "set")
	_ = s.Add(Channel(e.channel(t, "c", 1)))
	errc := make(chan error, 1)
	go func() {
		_, err := s.Select(context.Background(), kernel.Forever)
		errc <- err
	}()
	waitSelecting(t, s)
	if _, err := s.Select(context.Background(), kernel.Forever); !errors.Is(err, kernel.ErrAlreadyWaiting) {
		t.Fatalf("want ErrAlreadyWaiting, got %v", err)
	}
	s.Close()
	if err := <-errc; !errors.Is(err, kernel.ErrDestroyed) {
		t.Fatalf("close should release the selector with ErrDestroyed, got %v", err)
	}
}

func TestSelectTimesOut(t *testing.T) {
	e := newEnv()
	s := New(e.sched, "set")
	_ = s.Add(Semaphore(e.binary(t, "s")))
	errc := make(chan error, 1)
	go func() {
		_, err := s.Select(context.Background(), 50)
		errc <- err
	}()
	waitSelecting(t, s)
	e.clock.Advance(50)
	if err := <-errc; !errors.Is(err, kernel.ErrTimedOut) {
		t.Fatalf("want ErrTimedOut, got %v", err)
	}
}

func TestInterruptGiveWakesSelectorAtSafePoint(t *testing.T) {
	e := newEnv()
	sem := e.binary(t, "isr")
	s := New(e.sched, "set")
	_ = s.Add(Semaphore(sem))
	got := make(chan Member, 1)
	go func() {
		m, _ := s.Select(context.Background(), kernel.Forever)
		got <- m
	}()
	waitSelecting(t, s)
	if err := sem.GiveFromInterrupt(); err != nil {
		t.Fatal(err)
	}
	select {
	case <-got:
		t.Fatalf("selector resumed before the safe point")
	case <-time.After(10 * time.Millisecond):
	}
	e.sched.ApplyDeferredWakes()
	if m := <-got; m.Semaphore() != sem {
		t.Fatalf("want isr semaphore, got %v", m)
	}
}

func TestRemoveDropsPendingReadiness(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	c := e.channel(t, "c", 1)
	s := New(e.sched, "set")
	_ = s.Add(Channel(c))
	_ = c.Send(ctx, []byte{1}, kernel.NoWait)
	if err := s.Remove(Channel(c)); err != nil {
		t.Fatal(err)
	}
	if _, err := s.Select(ctx, kernel.NoWait); !errors.Is(err, kernel.ErrWouldBlock) {
		t.Fatalf("removed member must not be reported, got %v", err)
	}
}

func TestDispatcherNeverSeesEmptyMember(t *testing.T) {
	e := newEnv()
	ctx := context.Background()
	sensors := e.channel(t, "sensor", 5)
	users := e.channel(t, "user", 3)
	timer := e.binary(t, "timer")
	s := New(e.sched, "dispatch")
	for _, m := range []Member{Channel(sensors), Channel(users), Semaphore(timer)} {
		if err := s.Add(m); err != nil {
			t.Fatal(err)
		}
	}

	const perProducer = 100
	var wg sync.WaitGroup
	for _, c := range []*channel.Channel{sensors, users} {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range perProducer {
				if err := c.Send(ctx, []byte{byte(i)}, kernel.Forever); err != nil {
					t.Errorf("send: %v", err)
					return
				}
			}
		}()
	}
	wg.Add(1)
	go func() {
		defer wg.Done()
		for range perProducer {
			for timer.Give(ctx) != nil {
				time.Sleep(50 * time.Microsecond)
			}
		}
	}()

	received, ticks := 0, 0
	for received < 2*perProducer || ticks < perProducer {
		m, err := s.Select(ctx, kernel.Forever)
		if err != nil {
			t.Fatalf("select: %v", err)
		}
		switch m.Kind() {
		case KindChannel:
			if _, err := m.Channel().Receive(ctx, kernel.NoWait); err != nil {
				t.Fatalf("%s reported ready but receive(0) failed: %v", m.Name(), err)
			}
			received++
		case KindSemaphore:
			if err := m.Semaphore().Take(ctx, kernel.NoWait); err != nil {
				t.Fatalf("%s reported ready but take(0) failed: %v", m.Name(), err)
			}
			ticks++
		}
	}
	wg.Wait()
}
