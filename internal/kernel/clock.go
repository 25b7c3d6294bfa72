package kernel

import (
	"container/heap"
	"sync"
	"time"

	"fortio.org/safecast"
)

// Clock supplies tick time and deadline timers.
type Clock interface {
	// Now returns the current tick.
	Now() Tick
	// After returns a channel closed once Now() >= deadline, and a stop
	// function that reports whether it prevented the channel from closing.
	After(deadline Tick) (<-chan struct{}, func() bool)
}

// RealClock measures ticks of TickPeriod from the moment it was created.
type RealClock struct {
	start  time.Time
	period time.Duration
}

// NewRealClock creates a clock whose tick zero is now.
func NewRealClock(period time.Duration) *RealClock {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	return &RealClock{start: time.Now(), period: period}
}

// Period returns the tick length.
func (c *RealClock) Period() time.Duration {
	return c.period
}

func (c *RealClock) Now() Tick {
	elapsed := time.Since(c.start)
	if elapsed <= 0 {
		return 0
	}
	n, err := safecast.Conv[uint64](int64(elapsed / c.period))
	if err != nil {
		return 0
	}
	return Tick(n)
}

func (c *RealClock) After(deadline Tick) (<-chan struct{}, func() bool) {
	ch := make(chan struct{})
	now := c.Now()
	if deadline <= now {
		close(ch)
		return ch, func() bool { return false }
	}
	wait := Timeout(deadline - now).Duration(c.period)
	t := time.AfterFunc(wait, func() { close(ch) })
	return ch, t.Stop
}

type vtimer struct {
	id       uint64
	deadline Tick
	ch       chan struct{}
	stopped  bool
	fired    bool
}

type vtimerHeap []*vtimer

func (h vtimerHeap) Len() int { return len(h) }

func (h vtimerHeap) Less(i, j int) bool {
	if h[i].deadline == h[j].deadline {
		return h[i].id < h[j].id
	}
	return h[i].deadline < h[j].deadline
}

func (h vtimerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *vtimerHeap) Push(x any) {
	t, ok := x.(*vtimer)
	if !ok || t == nil {
		return
	}
	*h = append(*h, t)
}

func (h *vtimerHeap) Pop() any {
	old := *h
	n := len(old)
	if n == 0 {
		return (*vtimer)(nil)
	}
	item := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return item
}

// VirtualClock only moves when told to. Timers fire synchronously inside
// Advance/Set, in deadline order, ties broken by creation order.
type VirtualClock struct {
	mu     sync.Mutex
	now    Tick
	nextID uint64
	timers vtimerHeap
}

// NewVirtualClock creates a clock stopped at tick start.
func NewVirtualClock(start Tick) *VirtualClock {
	return &VirtualClock{now: start}
}

func (c *VirtualClock) Now() Tick {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *VirtualClock) After(deadline Tick) (<-chan struct{}, func() bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	ch := make(chan struct{})
	if deadline <= c.now {
		close(ch)
		return ch, func() bool { return false }
	}
	c.nextID++
	t := &vtimer{id: c.nextID, deadline: deadline, ch: ch}
	heap.Push(&c.timers, t)
	return ch, func() bool {
		c.mu.Lock()
		defer c.mu.Unlock()
		if t.fired || t.stopped {
			return false
		}
		t.stopped = true
		return true
	}
}

// Advance moves time forward by n ticks and fires every timer that became due.
func (c *VirtualClock) Advance(n Timeout) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(DeadlineAfter(c.now, n))
}

// Set moves time to t; moving backwards is ignored.
func (c *VirtualClock) Set(t Tick) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.setLocked(t)
}

// Pending reports how many armed timers have not fired or been stopped.
func (c *VirtualClock) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if !t.stopped && !t.fired {
			n++
		}
	}
	return n
}

func (c *VirtualClock) setLocked(t Tick) {
	if t > c.now {
		c.now = t
	}
	for len(c.timers) > 0 {
		next := c.timers[0]
		if next.deadline > c.now {
			return
		}
		heap.Pop(&c.timers)
		if next.stopped {
			continue
		}
		next.fired = true
		close(next.ch)
	}
}
