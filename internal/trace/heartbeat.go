package trace

import (
	"fmt"
	"sync"
	"time"
)

// StateFunc samples whatever the heartbeat should report alongside its tick,
// such as how many tasks are parked and how many wakes are deferred.
type StateFunc func() map[string]string

// Heartbeat periodically emits heartbeat events.
// If heartbeats keep reporting suspended tasks while no wake or timeout events
// appear between them, some waiter is stuck.
type Heartbeat struct {
	tracer   Tracer
	interval time.Duration
	state    StateFunc
	stopCh   chan struct{}
	wg       sync.WaitGroup
	once     sync.Once
}

// StartHeartbeat starts emitting a heartbeat every interval. state may be
// nil. It returns nil when the tracer is disabled or interval is not positive;
// Stop on a nil Heartbeat is a no-op.
func StartHeartbeat(tracer Tracer, interval time.Duration, state StateFunc) *Heartbeat {
	if tracer == nil || !tracer.Enabled() || interval <= 0 {
		return nil
	}
	h := &Heartbeat{
		tracer:   tracer,
		interval: interval,
		state:    state,
		stopCh:   make(chan struct{}),
	}
	h.wg.Add(1)
	go h.run()
	return h
}

func (h *Heartbeat) run() {
	defer h.wg.Done()

	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	var beat uint64
	for {
		select {
		case <-ticker.C:
			beat++
			h.emit(beat)
		case <-h.stopCh:
			return
		}
	}
}

func (h *Heartbeat) emit(beat uint64) {
	ev := &Event{
		Time:   time.Now(),
		Seq:    NextSeq(),
		Kind:   KindHeartbeat,
		Scope:  ScopeKernel,
		GID:    getGoroutineID(),
		Name:   "heartbeat",
		Detail: fmt.Sprintf("#%d", beat),
	}
	if h.state != nil {
		ev.Extra = h.state()
	}
	h.tracer.Emit(ev)
}

// Stop ends the heartbeat goroutine and waits for it. Safe to call more than
// once.
func (h *Heartbeat) Stop() {
	if h == nil {
		return
	}
	h.once.Do(func() {
		close(h.stopCh)
		h.wg.Wait()
	})
}
