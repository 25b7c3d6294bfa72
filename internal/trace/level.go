package trace

import "fmt"

// Level controls tracing verbosity.
type Level uint8

const (
	// LevelOff disables tracing.
	LevelOff    Level = iota // no tracing
	LevelError               // only emit on explicit dumps
	LevelKernel              // lab runs + scheduler
	LevelObject              // object lifecycle and state changes
	LevelWaiter              // everything including per-waiter events
)

// String returns the string representation of Level.
func (l Level) String() string {
	switch l {
	case LevelOff:
		return "off"
	case LevelError:
		return "error"
	case LevelKernel:
		return "kernel"
	case LevelObject:
		return "object"
	case LevelWaiter:
		return "waiter"
	default:
		return "unknown"
	}
}

// ParseLevel converts a string to a Level.
func ParseLevel(s string) (Level, error) {
	switch s {
	case "off", "OFF":
		return LevelOff, nil
	case "error", "ERROR":
		return LevelError, nil
	case "kernel", "KERNEL":
		return LevelKernel, nil
	case "object", "OBJECT":
		return LevelObject, nil
	case "waiter", "WAITER", "debug", "DEBUG":
		return LevelWaiter, nil
	default:
		return LevelOff, fmt.Errorf("invalid trace level: %q (expected: off|error|kernel|object|waiter)", s)
	}
}

// ShouldEmit returns true if the given scope should emit at this level.
func (l Level) ShouldEmit(scope Scope) bool {
	switch l {
	case LevelOff:
		return false
	case LevelError:
		return false // error events only reach output through Dump
	case LevelKernel:
		return scope <= ScopeKernel
	case LevelObject:
		return scope <= ScopeObject
	case LevelWaiter:
		return true
	}
	return false
}
