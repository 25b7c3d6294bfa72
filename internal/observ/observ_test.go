package observ

import (
	"math"
	"strings"
	"testing"
	"time"
)

func TestSummarize(t *testing.T) {
	s := Summarize([]float64{4, 1, 3, 2, 5})
	if s.Count != 5 || s.Min != 1 || s.Max != 5 {
		t.Fatalf("unexpected bounds %+v", s)
	}
	if s.Mean != 3 || s.P50 != 3 {
		t.Fatalf("want mean=3 p50=3, got %+v", s)
	}
	if math.Abs(s.StdDev-math.Sqrt(2.5)) > 1e-9 {
		t.Fatalf("want sample stddev sqrt(2.5), got %v", s.StdDev)
	}
	if Summarize(nil).Count != 0 {
		t.Fatalf("empty input should give zero stats")
	}
}

func TestLatencyObserve(t *testing.T) {
	var l Latency
	l.Observe(2 * time.Millisecond)
	l.Observe(4 * time.Millisecond)
	s := l.Summarize()
	if s.Count != 2 || s.Mean != 3 {
		t.Fatalf("unexpected stats %+v", s)
	}
	if !strings.Contains(s.String(), "n=2") {
		t.Fatalf("unexpected string %q", s.String())
	}
}

func TestTimerReport(t *testing.T) {
	tm := NewTimer()
	idx := tm.Begin("run")
	tm.End(idx, "ok")
	tm.End(7, "ignored")
	r := tm.Report()
	if len(r.Phases) != 1 || r.Phases[0].Name != "run" || r.Phases[0].Note != "ok" {
		t.Fatalf("unexpected report %+v", r)
	}
	if !strings.Contains(tm.Summary(), "total") {
		t.Fatalf("summary should end with a total line")
	}
}
