package labs

import (
	"bytes"
	"context"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"rtsync/internal/kernel"
	"rtsync/internal/manifest"
	"rtsync/internal/progress"
	"rtsync/internal/trace"
)

// testEnv builds a short real-time environment. A nil log leaves Env.Log
// unset rather than holding a nil *bytes.Buffer.
func testEnv(log *bytes.Buffer) *Env {
	env := &Env{
		Sched:      kernel.NewScheduler(kernel.NewRealClock(time.Millisecond)),
		TickPeriod: time.Millisecond,
		Duration:   200 * time.Millisecond,
	}
	if log != nil {
		env.Log = log
	}
	return env
}

func TestEveryLabPassesItsChecks(t *testing.T) {
	for _, lab := range All() {
		t.Run(lab.Name, func(t *testing.T) {
			t.Parallel()
			var log bytes.Buffer
			rep, err := lab.Run(context.Background(), testEnv(&log))
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if rep.Lab != lab.Name || rep.Err != "" {
				t.Fatalf("unexpected report %+v", rep)
			}
			if len(rep.Timings.Phases) == 0 {
				t.Fatalf("report has no phase timings")
			}
		})
	}
}

func TestQueueLabsMoveMessages(t *testing.T) {
	cases := []struct {
		lab     string
		counter string
	}{
		{"basic-queue", "received"},
		{"producer-consumer", "received"},
		{"queue-set", "selects"},
		{"binary-semaphore", "handled"},
		{"counting-semaphore", "acquired"},
		{"mutex", "shared"},
	}
	for _, tc := range cases {
		t.Run(tc.lab, func(t *testing.T) {
			t.Parallel()
			lab, ok := Lookup(tc.lab)
			if !ok {
				t.Fatalf("lab %s not registered", tc.lab)
			}
			rep, err := lab.Run(context.Background(), testEnv(nil))
			if err != nil {
				t.Fatal(err)
			}
			if rep.Counters[tc.counter] == 0 {
				t.Fatalf("counter %s stayed zero: %v", tc.counter, rep.Counters)
			}
		})
	}
}

func TestCountingSemaphoreRespectsPoolSize(t *testing.T) {
	lab, _ := Lookup("counting-semaphore")
	rep, err := lab.Run(context.Background(), testEnv(nil))
	if err != nil {
		t.Fatal(err)
	}
	if got := rep.Counters["max_in_use"]; got > int64(rep.Params.MaxCount) {
		t.Fatalf("%d licenses in use with a pool of %d", got, rep.Params.MaxCount)
	}
}

func TestProducerConsumerPrintsWholeLines(t *testing.T) {
	var log bytes.Buffer
	lab, _ := Lookup("producer-consumer")
	if _, err := lab.Run(context.Background(), testEnv(&log)); err != nil {
		t.Fatal(err)
	}
	out := strings.TrimSpace(log.String())
	if out == "" {
		t.Fatalf("consumers printed nothing")
	}
	for _, line := range strings.Split(out, "\n") {
		if !strings.HasPrefix(line, "[producer-consumer] consumer ") {
			t.Fatalf("interleaved or malformed line %q", line)
		}
	}
}

func TestParamsMerge(t *testing.T) {
	base := Params{Duration: time.Second, Period: time.Millisecond, Capacity: 5}
	got := base.Merge(manifest.LabConfig{Capacity: 8, Period: manifest.Duration(3 * time.Millisecond)})
	if got.Capacity != 8 || got.Period != 3*time.Millisecond || got.Duration != time.Second {
		t.Fatalf("unexpected merge %+v", got)
	}
}

func TestSelect(t *testing.T) {
	all, err := Select(nil, nil)
	if err != nil || len(all) != len(All()) {
		t.Fatalf("no names should select every lab: %d %v", len(all), err)
	}
	m := &manifest.Manifest{Labs: map[string]manifest.LabConfig{"mutex": {Disabled: true}}}
	some, _ := Select(nil, m)
	for _, lab := range some {
		if lab.Name == "mutex" {
			t.Fatalf("disabled lab was selected")
		}
	}
	picked, err := Select([]string{"MUTEX", "mutex", "queue-set"}, nil)
	if err != nil || len(picked) != 2 || picked[0].Name != "mutex" {
		t.Fatalf("unexpected selection %v %v", picked, err)
	}
	if _, err := Select([]string{"nope"}, nil); err == nil {
		t.Fatalf("unknown lab should fail")
	}
}

func TestRunAllReportsProgress(t *testing.T) {
	var mu sync.Mutex
	seen := map[string][]progress.Status{}
	env := testEnv(nil)
	env.Duration = 50 * time.Millisecond
	env.Sink = progress.FuncSink(func(ev progress.Event) {
		mu.Lock()
		seen[ev.Lab] = append(seen[ev.Lab], ev.Status)
		mu.Unlock()
	})
	picked, _ := Select([]string{"mutex", "basic-queue", "producer-consumer"}, nil)
	reports, err := RunAll(context.Background(), env, picked, 2)
	if err != nil {
		t.Fatal(err)
	}
	if len(reports) != 3 || reports[0].Lab != "mutex" || reports[1].Lab != "basic-queue" || reports[2].Lab != "producer-consumer" {
		t.Fatalf("reports out of order: %+v", reports)
	}
	if env.Log != nil {
		t.Fatalf("env without a log must keep a nil writer")
	}
	for _, name := range []string{"mutex", "basic-queue", "producer-consumer"} {
		st := seen[name]
		if len(st) < 2 || st[0] != progress.StatusQueued || st[len(st)-1] != progress.StatusDone {
			t.Fatalf("%s: unexpected status sequence %v", name, st)
		}
	}
}

func TestLabSpanCarriesCounters(t *testing.T) {
	ring := trace.NewRingTracer(1<<16, trace.LevelKernel)
	env := testEnv(nil)
	env.Sched = kernel.NewScheduler(kernel.NewRealClock(time.Millisecond), kernel.WithTracer(ring))
	env.Duration = 50 * time.Millisecond
	lab, _ := Lookup("mutex")
	rep, err := lab.Run(context.Background(), env)
	if err != nil {
		t.Fatal(err)
	}
	for _, ev := range ring.Snapshot() {
		if ev.Kind == trace.KindSpanEnd && ev.Name == "lab.mutex" {
			if ev.Detail != "done" || ev.Extra["shared"] != strconv.FormatInt(rep.Counters["shared"], 10) {
				t.Fatalf("span end does not match report: %+v", ev)
			}
			return
		}
	}
	t.Fatalf("no span end for lab.mutex")
}
