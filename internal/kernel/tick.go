package kernel

import (
	"math"
	"time"

	"fortio.org/safecast"
)

// Tick is a point on the monotonic kernel time line.
type Tick uint64

// Never is the deadline of an operation that blocks indefinitely.
const Never = Tick(math.MaxUint64)

// Timeout is a relative wait bound in ticks.
type Timeout uint64

const (
	// NoWait tries once and never blocks.
	NoWait Timeout = 0
	// Forever blocks until the condition holds.
	Forever = Timeout(math.MaxUint64)
)

// DefaultTickPeriod is the length of one tick for RealClock (1 kHz tick rate).
const DefaultTickPeriod = time.Millisecond

// DeadlineAfter converts a relative timeout into an absolute deadline.
// The addition saturates at Never instead of wrapping.
func DeadlineAfter(now Tick, timeout Timeout) Tick {
	if timeout == Forever {
		return Never
	}
	if uint64(now) > uint64(Never)-uint64(timeout) {
		return Never
	}
	return now + Tick(timeout)
}

// Remaining returns the ticks left until deadline, 0 once it has passed.
func Remaining(now, deadline Tick) Timeout {
	if deadline == Never {
		return Forever
	}
	if deadline <= now {
		return NoWait
	}
	return Timeout(deadline - now)
}

// TicksFromDuration converts a wall-clock duration into ticks, rounding down.
// Negative durations map to NoWait.
func TicksFromDuration(d, period time.Duration) Timeout {
	if d <= 0 {
		return NoWait
	}
	if period <= 0 {
		period = DefaultTickPeriod
	}
	n, err := safecast.Conv[uint64](int64(d / period))
	if err != nil {
		return NoWait
	}
	if n == uint64(Forever) {
		return Forever - 1
	}
	return Timeout(n)
}

// Duration converts a tick count back into wall-clock time, saturating at the
// largest representable duration.
func (t Timeout) Duration(period time.Duration) time.Duration {
	if period <= 0 {
		period = DefaultTickPeriod
	}
	n, err := safecast.Conv[int64](uint64(t))
	if err != nil || n > math.MaxInt64/int64(period) {
		return time.Duration(math.MaxInt64)
	}
	return time.Duration(n) * period
}
