package waitq

import (
	"fmt"
	"sync/atomic"

	"rtsync/internal/kernel"
)

// Outcome is the terminal state of a waiter. Exactly one is ever reached.
type Outcome uint32

const (
	Pending Outcome = iota
	Woken
	TimedOut
	Canceled
	Destroyed
)

func (o Outcome) String() string {
	switch o {
	case Pending:
		return "pending"
	case Woken:
		return "woken"
	case TimedOut:
		return "timed-out"
	case Canceled:
		return "canceled"
	case Destroyed:
		return "destroyed"
	default:
		return fmt.Sprintf("outcome(%d)", uint32(o))
	}
}

// Waiter is one blocked task recorded in a Queue.
type Waiter struct {
	Task     kernel.TaskInfo
	Deadline kernel.Tick
	// Data is owner-defined state, such as the mask an event-bits waiter wants.
	Data any

	seq    uint64
	state  atomic.Uint32
	value  any
	queued bool
	ch     chan struct{}
}

// Priority returns the key the queue orders by.
func (w *Waiter) Priority() kernel.Priority { return w.Task.Priority }

// Outcome reports the current state of w.
func (w *Waiter) Outcome() Outcome { return Outcome(w.state.Load()) }

// Signal resumes the task parked on w. Only the winner of the state
// transition may call it, and only once.
func (w *Waiter) Signal() {
	close(w.ch)
}

func (w *Waiter) settle(o Outcome) bool {
	return w.state.CompareAndSwap(uint32(Pending), uint32(o))
}
