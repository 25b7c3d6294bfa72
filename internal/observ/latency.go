package observ

import (
	"fmt"
	"slices"
	"sync"
	"time"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// Latency collects wait-time samples from concurrent tasks.
type Latency struct {
	mu      sync.Mutex
	samples []float64
}

// Observe records one wait, in milliseconds.
func (l *Latency) Observe(d time.Duration) {
	l.mu.Lock()
	l.samples = append(l.samples, durationToMillis(d))
	l.mu.Unlock()
}

// Since records the time elapsed since start.
func (l *Latency) Since(start time.Time) {
	l.Observe(time.Since(start))
}

// Count returns the number of samples.
func (l *Latency) Count() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.samples)
}

// Stats summarizes a latency sample set in milliseconds.
type Stats struct {
	Count  int     `json:"count" msgpack:"count"`
	Mean   float64 `json:"mean_ms" msgpack:"mean_ms"`
	StdDev float64 `json:"stddev_ms" msgpack:"stddev_ms"`
	Min    float64 `json:"min_ms" msgpack:"min_ms"`
	P50    float64 `json:"p50_ms" msgpack:"p50_ms"`
	P95    float64 `json:"p95_ms" msgpack:"p95_ms"`
	Max    float64 `json:"max_ms" msgpack:"max_ms"`
}

// Summarize computes Stats over the samples collected so far.
func (l *Latency) Summarize() Stats {
	l.mu.Lock()
	xs := slices.Clone(l.samples)
	l.mu.Unlock()
	return Summarize(xs)
}

// Summarize computes Stats over xs. xs is sorted in place.
func Summarize(xs []float64) Stats {
	if len(xs) == 0 {
		return Stats{}
	}
	slices.Sort(xs)
	s := Stats{
		Count: len(xs),
		Mean:  stat.Mean(xs, nil),
		Min:   floats.Min(xs),
		Max:   floats.Max(xs),
		P50:   stat.Quantile(0.5, stat.Empirical, xs, nil),
		P95:   stat.Quantile(0.95, stat.Empirical, xs, nil),
	}
	if len(xs) > 1 {
		s.StdDev = stat.StdDev(xs, nil)
	}
	return s
}

func (s Stats) String() string {
	if s.Count == 0 {
		return "no samples"
	}
	return fmt.Sprintf("n=%d mean=%.3fms sd=%.3fms p50=%.3fms p95=%.3fms max=%.3fms",
		s.Count, s.Mean, s.StdDev, s.P50, s.P95, s.Max)
}
