// Package trace provides the tracing subsystem for rtsync.
//
// The trace package records what the synchronization layer does (objects being
// created and destroyed, waiters blocking, waking and timing out, deferred
// wakes applied by the scheduler) so that lost or duplicated wakeups can be
// diagnosed after the fact.
//
// # Usage
//
// Enable tracing via command-line flags:
//
//	rtsync run --trace=- --trace-level=waiter queue-set
//
// # Architecture
//
// The package provides several tracer implementations:
//
//   - Nop: Zero-overhead no-op tracer when disabled
//   - StreamTracer: Immediate write to output (file/stderr)
//   - RingTracer: Circular buffer for post-mortem dumps
//   - MultiTracer: Combines multiple tracers
//
// # Levels
//
// Tracing verbosity is controlled by levels:
//
//   - LevelOff: No tracing
//   - LevelError: Only explicit dumps
//   - LevelKernel: Lab runs and scheduler activity
//   - LevelObject: Object lifecycle and state changes
//   - LevelWaiter: Everything including individual waiters
//
// # Context Propagation
//
// Tracers are propagated through context:
//
//	ctx = trace.WithTracer(ctx, tracer)
//	t := trace.FromContext(ctx)
//
//	span := trace.Begin(t, trace.ScopeKernel, "lab:queue-set", 0)
//	defer span.End("")
package trace
