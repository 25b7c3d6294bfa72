package testkit

import (
	"fmt"

	"fortio.org/safecast"
)

// CheckConserved verifies that every produced item is accounted for:
// produced == consumed + dropped + leftover.
func CheckConserved(label string, produced, consumed, dropped, leftover int64) error {
	if produced < 0 || consumed < 0 || dropped < 0 || leftover < 0 {
		return fmt.Errorf("%s: negative counter (produced=%d consumed=%d dropped=%d leftover=%d)",
			label, produced, consumed, dropped, leftover)
	}
	if got := consumed + dropped + leftover; got != produced {
		return fmt.Errorf("%s: %d produced but %d accounted for (consumed=%d dropped=%d leftover=%d)",
			label, produced, got, consumed, dropped, leftover)
	}
	return nil
}

// CheckBound verifies 0 <= v <= limit.
func CheckBound(label string, v, limit int64) error {
	if v < 0 {
		return fmt.Errorf("%s: %d is negative", label, v)
	}
	if v > limit {
		return fmt.Errorf("%s: %d exceeds bound %d", label, v, limit)
	}
	return nil
}

// CheckLen verifies a container holds at most capacity items.
func CheckLen(label string, n, capacity int) error {
	n64, err := safecast.Conv[int64](n)
	if err != nil {
		return fmt.Errorf("%s: length overflow: %w", label, err)
	}
	c64, err := safecast.Conv[int64](capacity)
	if err != nil {
		return fmt.Errorf("%s: capacity overflow: %w", label, err)
	}
	return CheckBound(label, n64, c64)
}

// SeqTracker checks that sequence numbers from each source arrive in
// increasing order. It is not safe for concurrent use.
type SeqTracker struct {
	last map[string]int64
}

// Observe records seq from source and fails if it does not exceed the last
// one seen from that source.
func (t *SeqTracker) Observe(source string, seq int64) error {
	if t.last == nil {
		t.last = make(map[string]int64)
	}
	if prev, ok := t.last[source]; ok && seq <= prev {
		return fmt.Errorf("%s: sequence %d arrived after %d", source, seq, prev)
	}
	t.last[source] = seq
	return nil
}
