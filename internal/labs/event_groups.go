package labs

import (
	"context"
	"errors"
	"fmt"
	"math/bits"
	"time"

	"golang.org/x/sync/errgroup"

	"rtsync/internal/eventbits"
	"rtsync/internal/kernel"
	"rtsync/internal/progress"
)

// Readiness bits, one per subsystem, plus the bit the monitor raises once
// every subsystem is up.
const (
	networkReady eventbits.Bits = 1 << iota
	sensorReady
	configReady
	storageReady
	systemReady

	basicSystem   = networkReady | configReady
	allSubsystems = networkReady | sensorReady | configReady | storageReady
)

// Change notifications consumed by the event handler, and the barrier bits
// subsystems meet at after initialization.
const (
	eventShift     = 8
	barrierShift   = 16
	eventMask      = eventbits.Bits(0xF) << eventShift
	barrierAllMask = eventbits.Bits(0xF) << barrierShift
)

type subsystem struct {
	name  string
	ready eventbits.Bits
	index int
	// initTime and outageEvery are in lab periods; outageEvery 0 means the
	// subsystem never fails.
	initTime    int
	outageEvery int
}

func eventGroups(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	events, err := eventbits.New(r.sched, eventbits.Config{Name: "system", Width: eventbits.DefaultWidth})
	if err != nil {
		return err
	}
	defer events.Close()
	subsystems := []subsystem{
		{name: "network", ready: networkReady, index: 0, initTime: 2, outageEvery: 15},
		{name: "sensor", ready: sensorReady, index: 1, initTime: 3, outageEvery: 11},
		{name: "config", ready: configReady, index: 2, initTime: 1, outageEvery: 0},
		{name: "storage", ready: storageReady, index: 3, initTime: 4, outageEvery: 0},
	}
	done("")

	done = r.stage(progress.StageRun)
	period := r.params.Period
	started := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for _, s := range subsystems {
		g.Go(func() error {
			tctx := r.task(gctx, s.name, kernel.Priority(2))
			notice := eventbits.Bits(1) << (eventShift + s.index)
			if !sleep(gctx, period*time.Duration(s.initTime)) {
				return nil
			}
			if _, err := events.Set(tctx, s.ready|notice); err != nil {
				return err
			}
			r.printf("%s ready after %s", s.name, time.Since(started).Round(time.Millisecond))

			// Everyone leaves initialization together.
			barrier := eventbits.Bits(1) << (barrierShift + s.index)
			if _, err := events.Sync(tctx, barrier, barrierAllMask, kernel.Forever); err != nil {
				if stopped(err) {
					return nil
				}
				return err
			}
			r.counters.Inc("barrier_passed")

			if s.outageEvery == 0 {
				<-gctx.Done()
				return nil
			}
			for sleep(gctx, period*time.Duration(s.outageEvery)) {
				events.Clear(s.ready)
				r.counters.Inc(s.name + "_outages")
				if !sleep(gctx, period*2) {
					return nil
				}
				if _, err := events.Set(tctx, s.ready|notice); err != nil {
					return err
				}
			}
			return nil
		})
	}

	g.Go(func() error {
		tctx := r.task(gctx, "monitor", kernel.Priority(3))
		start := time.Now()
		if _, err := events.Wait(tctx, basicSystem, eventbits.WaitOptions{Mode: eventbits.All}, kernel.Forever); err != nil {
			if stopped(err) {
				return nil
			}
			return err
		}
		r.latency.Since(start)
		r.counters.Inc("basic_ready")
		if _, err := events.Wait(tctx, allSubsystems, eventbits.WaitOptions{Mode: eventbits.All}, kernel.Forever); err != nil {
			if stopped(err) {
				return nil
			}
			return err
		}
		r.latency.Since(start)
		if _, err := events.Set(tctx, systemReady); err != nil {
			return err
		}
		r.counters.Inc("system_ready")
		r.printf("system ready after %s", time.Since(start).Round(time.Millisecond))

		for sleep(gctx, period) {
			cur := events.Get()
			switch {
			case cur&allSubsystems != allSubsystems && cur&systemReady != 0:
				events.Clear(systemReady)
				r.counters.Inc("system_degraded")
			case cur&allSubsystems == allSubsystems && cur&systemReady == 0:
				if _, err := events.Set(tctx, systemReady); err != nil {
					return err
				}
				r.counters.Inc("system_recovered")
			}
		}
		return nil
	})

	g.Go(func() error {
		tctx := r.task(gctx, "handler", kernel.Priority(1))
		for {
			observed, err := events.Wait(tctx, eventMask, eventbits.WaitOptions{Mode: eventbits.Any, AutoClear: true}, r.ticks(20*period))
			switch {
			case err == nil:
			case errors.Is(err, kernel.ErrTimedOut):
				continue
			case stopped(err):
				return nil
			default:
				return err
			}
			r.counters.Add("notifications", int64(bits.OnesCount64(uint64(observed&eventMask))))
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	if n := r.counters.Get("barrier_passed"); n != 0 && n != int64(len(subsystems)) {
		return fmt.Errorf("barrier released %d of %d subsystems", n, len(subsystems))
	}
	return nil
}
