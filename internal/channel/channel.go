// Package channel implements a bounded FIFO of fixed-size messages with
// blocking send and receive.
package channel

import (
	"context"
	"fmt"
	"math"
	"sync"

	"rtsync/internal/kernel"
	"rtsync/internal/trace"
	"rtsync/internal/waitq"
)

// Config fixes a channel's shape at creation.
type Config struct {
	Name        string
	Capacity    int
	ElementSize int
}

// Validate checks the configuration.
func (c Config) Validate() error {
	if c.Capacity < 1 {
		return fmt.Errorf("%w: channel %q capacity %d", kernel.ErrInvalidArgument, c.Name, c.Capacity)
	}
	if c.ElementSize < 1 {
		return fmt.Errorf("%w: channel %q element size %d", kernel.ErrInvalidArgument, c.Name, c.ElementSize)
	}
	if c.Capacity > math.MaxInt/c.ElementSize {
		return fmt.Errorf("%w: channel %q storage overflows", kernel.ErrInvalidArgument, c.Name)
	}
	return nil
}

// Channel is a ring buffer of Capacity slots of ElementSize bytes each.
//
// Blocked receivers are woken one per send and retry; a woken receiver that
// finds the slot already taken goes back to waiting until its deadline.
type Channel struct {
	name     string
	sched    *kernel.Scheduler
	capacity int
	elem     int

	mu        sync.Mutex
	buf       []byte
	head      int
	tail      int
	count     int
	closed    bool
	senders   *waitq.Queue
	receivers *waitq.Queue
	link      waitq.Link
}

// New creates a channel.
func New(sched *kernel.Scheduler, cfg Config) (*Channel, error) {
	if sched == nil {
		panic("channel: nil scheduler")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	c := &Channel{
		name:      cfg.Name,
		sched:     sched,
		capacity:  cfg.Capacity,
		elem:      cfg.ElementSize,
		buf:       make([]byte, cfg.Capacity*cfg.ElementSize),
		senders:   waitq.New(sched, cfg.Name+".send"),
		receivers: waitq.New(sched, cfg.Name+".recv"),
	}
	sched.Trace(trace.ScopeObject, c.name, "channel.create", 0, fmt.Sprintf("cap=%d elem=%d", c.capacity, c.elem))
	return c, nil
}

func (c *Channel) Name() string     { return c.name }
func (c *Channel) Cap() int         { return c.capacity }
func (c *Channel) ElementSize() int { return c.elem }

// Len returns the number of queued messages. The value may be stale as soon
// as it is returned.
func (c *Channel) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.count
}

// Free returns Cap() - Len(), with the same staleness caveat.
func (c *Channel) Free() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.capacity - c.count
}

// Send appends item at the tail. Items shorter than ElementSize are zero
// padded. With NoWait a full channel fails with ErrFull.
func (c *Channel) Send(ctx context.Context, item []byte, timeout kernel.Timeout) error {
	return c.send(ctx, item, timeout, false, "channel.send")
}

// SendToFront puts item at the head so it is received next.
func (c *Channel) SendToFront(ctx context.Context, item []byte, timeout kernel.Timeout) error {
	return c.send(ctx, item, timeout, true, "channel.send_front")
}

func (c *Channel) send(ctx context.Context, item []byte, timeout kernel.Timeout, front bool, op string) error {
	if len(item) > c.elem {
		return kernel.NewError(kernel.CodeInvalidArgument, op, c.name)
	}
	if err := c.sched.CheckBlocking(ctx, timeout, op, c.name); err != nil {
		return err
	}
	deadline := c.sched.Deadline(timeout)
	task := kernel.TaskFrom(ctx).ID
	var ticket waitq.Ticket

	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return kernel.NewError(kernel.CodeDestroyed, op, c.name)
		}
		if c.count < c.capacity {
			c.store(item, front)
			n := c.wakeReceiverLocked(false)
			c.mu.Unlock()
			c.sched.Trace(trace.ScopeObject, c.name, op, task, "")
			if n != nil {
				n.Notify(false)
			}
			return nil
		}
		if timeout == kernel.NoWait {
			c.mu.Unlock()
			return kernel.NewError(kernel.CodeFull, op, c.name)
		}
		outcome, _ := c.senders.WaitTicket(ctx, &c.mu, deadline, nil, &ticket)
		if err := c.outcomeError(ctx, outcome, op); err != nil {
			c.mu.Unlock()
			return err
		}
	}
}

// SendFromInterrupt is the interrupt-context send: it never blocks and the
// receiver it wakes resumes only at the scheduler's next safe point.
func (c *Channel) SendFromInterrupt(item []byte) error {
	const op = "channel.send_isr"
	if len(item) > c.elem {
		return kernel.NewError(kernel.CodeInvalidArgument, op, c.name)
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return kernel.NewError(kernel.CodeDestroyed, op, c.name)
	}
	if c.count == c.capacity {
		c.mu.Unlock()
		return kernel.NewError(kernel.CodeFull, op, c.name)
	}
	c.store(item, false)
	n := c.wakeReceiverLocked(true)
	c.mu.Unlock()
	if n != nil {
		n.Notify(true)
	}
	return nil
}

// Receive removes and returns the head message. With NoWait an empty
// channel fails with ErrEmpty.
func (c *Channel) Receive(ctx context.Context, timeout kernel.Timeout) ([]byte, error) {
	dst := make([]byte, c.elem)
	if err := c.receive(ctx, dst, timeout, false, "channel.recv"); err != nil {
		return nil, err
	}
	return dst, nil
}

// ReceiveInto copies the head message into dst, which must hold ElementSize
// bytes.
func (c *Channel) ReceiveInto(ctx context.Context, dst []byte, timeout kernel.Timeout) error {
	return c.receive(ctx, dst, timeout, false, "channel.recv")
}

// Peek copies the head message without removing it.
func (c *Channel) Peek(ctx context.Context, timeout kernel.Timeout) ([]byte, error) {
	dst := make([]byte, c.elem)
	if err := c.receive(ctx, dst, timeout, true, "channel.peek"); err != nil {
		return nil, err
	}
	return dst, nil
}

func (c *Channel) receive(ctx context.Context, dst []byte, timeout kernel.Timeout, peek bool, op string) error {
	if len(dst) < c.elem {
		return kernel.NewError(kernel.CodeInvalidArgument, op, c.name)
	}
	if err := c.sched.CheckBlocking(ctx, timeout, op, c.name); err != nil {
		return err
	}
	deadline := c.sched.Deadline(timeout)
	task := kernel.TaskFrom(ctx).ID
	var ticket waitq.Ticket

	c.mu.Lock()
	for {
		if c.closed {
			c.mu.Unlock()
			return kernel.NewError(kernel.CodeDestroyed, op, c.name)
		}
		if c.count > 0 {
			copy(dst, c.slot(c.head))
			if peek {
				// The message is still there for the next receiver in line.
				c.receivers.WakeHighest(nil)
			} else {
				c.drop()
				c.senders.WakeHighest(nil)
			}
			c.mu.Unlock()
			c.sched.Trace(trace.ScopeObject, c.name, op, task, "")
			return nil
		}
		if timeout == kernel.NoWait {
			c.mu.Unlock()
			return kernel.NewError(kernel.CodeEmpty, op, c.name)
		}
		outcome, _ := c.receivers.WaitTicket(ctx, &c.mu, deadline, nil, &ticket)
		if err := c.outcomeError(ctx, outcome, op); err != nil {
			c.mu.Unlock()
			return err
		}
	}
}

// Reset discards every queued message and wakes all blocked senders.
func (c *Channel) Reset() {
	c.mu.Lock()
	c.head, c.tail, c.count = 0, 0, 0
	clear(c.buf)
	c.senders.WakeAllMatching(func(*waitq.Waiter) (any, bool) { return nil, true }, nil)
	c.mu.Unlock()
	c.sched.Trace(trace.ScopeObject, c.name, "channel.reset", 0, "")
}

// Close destroys the channel. Every blocked sender and receiver returns
// ErrDestroyed, as does every later call.
func (c *Channel) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	n := c.senders.DestroyAll() + c.receivers.DestroyAll()
	c.mu.Unlock()
	c.sched.Trace(trace.ScopeObject, c.name, "channel.destroy", 0, fmt.Sprintf("waiters=%d", n))
}

// Ready reports whether a NoWait receive would succeed right now.
func (c *Channel) Ready() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return !c.closed && c.count > 0
}

// JoinSet links the channel to a wait set and reports whether it was ready
// at that moment.
func (c *Channel) JoinSet(n waitq.Notifier) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false, kernel.NewError(kernel.CodeDestroyed, "waitset.add", c.name)
	}
	if !c.link.Attach(n) {
		return false, kernel.NewError(kernel.CodeAlreadyMember, "waitset.add", c.name)
	}
	return c.count > 0, nil
}

// LeaveSet unlinks the channel from the wait set bound by JoinSet.
func (c *Channel) LeaveSet(n waitq.Notifier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.link.Detach(n) {
		return kernel.NewError(kernel.CodeNotAMember, "waitset.remove", c.name)
	}
	return nil
}

// wakeReceiverLocked wakes one blocked receiver. When there is none it
// returns the wait set to notify instead.
func (c *Channel) wakeReceiverLocked(deferred bool) waitq.Notifier {
	var ok bool
	if deferred {
		_, ok = c.receivers.WakeHighestDeferred(nil)
	} else {
		_, ok = c.receivers.WakeHighest(nil)
	}
	if ok {
		return nil
	}
	return c.link.Notifier()
}

func (c *Channel) outcomeError(ctx context.Context, outcome waitq.Outcome, op string) error {
	switch outcome {
	case waitq.Woken:
		return nil
	case waitq.TimedOut:
		return kernel.NewError(kernel.CodeTimedOut, op, c.name)
	case waitq.Canceled:
		return kernel.Canceled(op, c.name, ctx.Err())
	default:
		return kernel.NewError(kernel.CodeDestroyed, op, c.name)
	}
}
