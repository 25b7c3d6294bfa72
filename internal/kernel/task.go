package kernel

import (
	"context"
	"sync/atomic"
)

// TaskID identifies a task for tracing and diagnostics.
type TaskID uint64

// Priority orders waiters; higher values are served first.
type Priority int

// TaskInfo is the identity a blocking operation runs under.
type TaskInfo struct {
	ID       TaskID
	Name     string
	Priority Priority
}

var nextTaskID atomic.Uint64

// NewTask allocates a fresh task identity.
func NewTask(name string, prio Priority) TaskInfo {
	return TaskInfo{ID: TaskID(nextTaskID.Add(1)), Name: name, Priority: prio}
}

type taskKey struct{}

type interruptKey struct{}

// WithTask binds task identity to ctx.
func WithTask(ctx context.Context, info TaskInfo) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, taskKey{}, info)
}

// TaskFrom returns the task bound to ctx. Contexts without a task run as
// anonymous task 0 at priority 0.
func TaskFrom(ctx context.Context) TaskInfo {
	if ctx == nil {
		return TaskInfo{}
	}
	if info, ok := ctx.Value(taskKey{}).(TaskInfo); ok {
		return info
	}
	return TaskInfo{}
}

// WithInterrupt marks ctx as interrupt context. Operations invoked with such a
// context must not block.
func WithInterrupt(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return context.WithValue(ctx, interruptKey{}, true)
}

// InInterrupt reports whether ctx was marked by WithInterrupt.
func InInterrupt(ctx context.Context) bool {
	if ctx == nil {
		return false
	}
	v, ok := ctx.Value(interruptKey{}).(bool)
	return ok && v
}
