// Package eventbits implements event groups: a fixed-width bitmask that
// tasks wait on for all or any of a set of bits.
package eventbits

import (
	"context"
	"fmt"
	"sync"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
	"rtsync/internal/waitq"
)

// Bits is an event-bit mask.
type Bits uint64

func (b Bits) String() string { return fmt.Sprintf("%#b", uint64(b)) }

// DefaultWidth is the usable width when Config.Width is zero.
const DefaultWidth = 24

// Mode selects how a wait mask is satisfied.
type Mode uint8

const (
	// Any is satisfied when at least one mask bit is set.
	Any Mode = iota
	// All is satisfied when every mask bit is set.
	All
)

func (m Mode) String() string {
	if m == All {
		return "all"
	}
	return "any"
}

// WaitOptions controls a single wait.
type WaitOptions struct {
	Mode      Mode
	AutoClear bool
}

type Config struct {
	Name  string
	Width int
}

func (c Config) Validate() error {
	if c.Width < 0 || c.Width > 64 {
		return fmt.Errorf("%w: event group %q width %d", kernel.ErrInvalidArgument, c.Name, c.Width)
	}
	return nil
}

type waitSpec struct {
	mask Bits
	opts WaitOptions
	// barrier waiters clear their mask once after the whole wake pass, so
	// every task released by the same Set sees the full mask.
	barrier bool
}

func (s waitSpec) satisfiedBy(bits Bits) bool {
	if s.opts.Mode == All {
		return bits&s.mask == s.mask
	}
	return bits&s.mask != 0
}

// Group is an event group.
type Group struct {
	name  string
	sched *kernel.Scheduler
	width int
	valid Bits

	mu      sync.Mutex
	bits    Bits
	closed  bool
	waiters *waitq.Queue
	link    waitq.Link
}

// New creates an event group with all bits clear.
func New(sched *kernel.Scheduler, cfg Config) (*Group, error) {
	if sched == nil {
		panic("eventbits: nil scheduler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	width := cfg.Width
	if width == 0 {
		width = DefaultWidth
	}
	valid := ^Bits(0)
	if width < 64 {
		valid = Bits(1)<<width - 1
	}
	g := &Group{
		name:    cfg.Name,
		sched:   sched,
		width:   width,
		valid:   valid,
		waiters: waitq.New(sched, cfg.Name),
	}
	sched.Trace(trace.ScopeObject, g.name, "bits.create", 0, fmt.Sprintf("width=%d", width))
	return g, nil
}

func (g *Group) Name() string { return g.name }
func (g *Group) Width() int   { return g.width }

// Get returns the current bits.
func (g *Group) Get() Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.bits
}

// Set ORs mask into the group and wakes every waiter it satisfies, in
// priority order. An auto-clear waiter consumes its mask bits before the
// next waiter is examined. Set returns the bits left after those wakes.
func (g *Group) Set(ctx context.Context, mask Bits) (Bits, error) {
	return g.set(kernel.TaskFrom(ctx).ID, mask, false, "bits.set")
}

// SetFromInterrupt is Set for interrupt context; woken waiters resume at the
// scheduler's next safe point.
func (g *Group) SetFromInterrupt(mask Bits) (Bits, error) {
	return g.set(0, mask, true, "bits.set_isr")
}

func (g *Group) set(task kernel.TaskID, mask Bits, deferred bool, op string) (Bits, error) {
	if mask&^g.valid != 0 {
		return 0, kernel.NewError(kernel.CodeInvalidArgument, op, g.name)
	}
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, kernel.NewError(kernel.CodeDestroyed, op, g.name)
	}
	g.bits |= mask
	woken := g.wakeSatisfiedLocked(deferred)
	bits := g.bits
	n := g.link.Notifier()
	g.mu.Unlock()

	g.sched.Trace(trace.ScopeObject, g.name, op, task, fmt.Sprintf("mask=%s woken=%d", mask, woken))
	if n != nil && mask != 0 {
		n.Notify(deferred)
	}
	return bits, nil
}

// Clear removes mask from the group and returns the bits as they were
// before. It never wakes anyone.
func (g *Group) Clear(mask Bits) Bits {
	g.mu.Lock()
	defer g.mu.Unlock()
	prev := g.bits
	g.bits &^= mask
	return prev
}

// Wait blocks until mask is satisfied under opts or timeout elapses. It
// returns the bits observed at the moment of satisfaction, before any
// auto-clear, or the bits at timeout together with ErrTimedOut.
func (g *Group) Wait(ctx context.Context, mask Bits, opts WaitOptions, timeout kernel.Timeout) (Bits, error) {
	const op = "bits.wait"
	if mask == 0 || mask&^g.valid != 0 {
		return 0, kernel.NewError(kernel.CodeInvalidArgument, op, g.name)
	}
	if err := g.sched.CheckBlocking(ctx, timeout, op, g.name); err != nil {
		return 0, err
	}
	deadline := g.sched.Deadline(timeout)
	spec := waitSpec{mask: mask, opts: opts}

	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return 0, kernel.NewError(kernel.CodeDestroyed, op, g.name)
	}
	return g.waitLocked(ctx, spec, timeout, deadline, nil, op)
}

// Sync sets bits and then waits for all of waitFor, clearing waitFor on
// success. Setting and starting the wait happen in one critical section, so
// a group of tasks can use it as a barrier.
func (g *Group) Sync(ctx context.Context, bits, waitFor Bits, timeout kernel.Timeout) (Bits, error) {
	const op = "bits.sync"
	if waitFor == 0 || (bits|waitFor)&^g.valid != 0 {
		return 0, kernel.NewError(kernel.CodeInvalidArgument, op, g.name)
	}
	if err := g.sched.CheckBlocking(ctx, timeout, op, g.name); err != nil {
		return 0, err
	}
	deadline := g.sched.Deadline(timeout)
	spec := waitSpec{mask: waitFor, opts: WaitOptions{Mode: All, AutoClear: true}, barrier: true}

	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return 0, kernel.NewError(kernel.CodeDestroyed, op, g.name)
	}
	g.bits |= bits
	n := g.link.Notifier()
	if spec.satisfiedBy(g.bits) {
		observed := g.bits
		g.wakeSatisfiedLocked(false)
		g.bits &^= waitFor
		g.mu.Unlock()
		if n != nil && bits != 0 {
			n.Notify(false)
		}
		return observed, nil
	}
	g.wakeSatisfiedLocked(false)
	notified := false
	notify := func() {
		if n != nil && bits != 0 && !notified {
			notified = true
			n.Notify(false)
		}
	}
	observed, err := g.waitLocked(ctx, spec, timeout, deadline, notify, op)
	g.mu.Unlock()
	notify()
	return observed, err
}

func (g *Group) waitLocked(ctx context.Context, spec waitSpec, timeout kernel.Timeout, deadline kernel.Tick, parked func(), op string) (Bits, error) {
	if spec.satisfiedBy(g.bits) {
		observed := g.bits
		if spec.opts.AutoClear {
			g.bits &^= spec.mask
		}
		return observed, nil
	}
	if timeout == kernel.NoWait {
		return g.bits, kernel.NewError(kernel.CodeWouldBlock, op, g.name)
	}
	outcome, v := g.waiters.WaitThen(ctx, &g.mu, deadline, spec, parked)
	switch outcome {
	case waitq.Woken:
		observed, _ := v.(Bits)
		return observed, nil
	case waitq.TimedOut:
		return g.bits, kernel.NewError(kernel.CodeTimedOut, op, g.name)
	case waitq.Canceled:
		return g.bits, kernel.Canceled(op, g.name, ctx.Err())
	default:
		return 0, kernel.NewError(kernel.CodeDestroyed, op, g.name)
	}
}

func (g *Group) wakeSatisfiedLocked(deferred bool) int {
	var barrierClear Bits
	defer func() { g.bits &^= barrierClear }()
	match := func(w *waitq.Waiter) (any, bool) {
		spec, ok := w.Data.(waitSpec)
		if !ok || !spec.satisfiedBy(g.bits) {
			return nil, false
		}
		return g.bits, true
	}
	claimed := func(w *waitq.Waiter) {
		spec, ok := w.Data.(waitSpec)
		switch {
		case !ok:
		case spec.barrier:
			barrierClear |= spec.mask
		case spec.opts.AutoClear:
			g.bits &^= spec.mask
		}
	}
	if deferred {
		return g.waiters.WakeAllMatchingDeferred(match, claimed)
	}
	return g.waiters.WakeAllMatching(match, claimed)
}

// Waiting returns the number of blocked waiters.
func (g *Group) Waiting() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.waiters.Len()
}

// Close destroys the group; blocked waiters return ErrDestroyed.
func (g *Group) Close() {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		return
	}
	g.closed = true
	n := g.waiters.DestroyAll()
	g.mu.Unlock()
	g.sched.Trace(trace.ScopeObject, g.name, "bits.destroy", 0, fmt.Sprintf("waiters=%d", n))
}

// Ready reports whether any bit is set. Event groups are edge triggered in a
// wait set: every Set arms the member once.
func (g *Group) Ready() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return !g.closed && g.bits != 0
}

// JoinSet links the group to a wait set and reports whether any bit was set
// at that moment.
func (g *Group) JoinSet(n waitq.Notifier) (bool, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.closed {
		return false, kernel.NewError(kernel.CodeDestroyed, "waitset.add", g.name)
	}
	if !g.link.Attach(n) {
		return false, kernel.NewError(kernel.CodeAlreadyMember, "waitset.add", g.name)
	}
	return g.bits != 0, nil
}

// LeaveSet unlinks the group from the wait set bound by JoinSet.
func (g *Group) LeaveSet(n waitq.Notifier) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if !g.link.Detach(n) {
		return kernel.NewError(kernel.CodeNotAMember, "waitset.remove", g.name)
	}
	return nil
}
