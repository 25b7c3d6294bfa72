package progress

import (
	"testing"
	"time"
)

func TestTimingsSum(t *testing.T) {
	var tm Timings
	tm.Set(StageSetup, time.Millisecond)
	tm.Set(StageRun, 5*time.Millisecond)
	if got := tm.Sum(StageSetup, StageRun, StageDrain); got != 6*time.Millisecond {
		t.Fatalf("want 6ms, got %v", got)
	}
	if tm.Duration(StageReport) != 0 {
		t.Fatalf("unset stage should be zero")
	}
}

func TestChannelSinkForwards(t *testing.T) {
	ch := make(chan Event, 1)
	ChannelSink{Ch: ch}.OnEvent(Event{Lab: "mutex", Stage: StageRun, Status: StatusWorking})
	if ev := <-ch; ev.Lab != "mutex" || ev.Stage != StageRun {
		t.Fatalf("unexpected event %+v", ev)
	}
	ChannelSink{}.OnEvent(Event{})
	Discard.OnEvent(Event{})
}
