// Package kernel is the scheduler/clock collaborator of the synchronization layer.
//
// It supplies monotonic tick time, the single suspension primitive every
// blocking operation ends up in, task identity and priority carried through
// context.Context, the interrupt-context marker, the deferred-wake list that
// interrupt-context gives fill and the scheduler drains at a safe point, and
// the typed errors shared by all primitives.
//
// The package decides nothing about which ready task runs next; that is left
// to the Go runtime.
package kernel
