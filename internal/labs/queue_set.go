package labs

import (
	"context"
	"errors"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"rtsync/internal/channel"
	"rtsync/internal/kernel"
	"rtsync/internal/progress"
	"rtsync/internal/semaphore"
	"rtsync/internal/testkit"
	"rtsync/internal/waitset"
)

type feed struct {
	name     string
	capacity int
	every    int // in lab periods
	q        *channel.Typed[message]
}

func queueSet(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	feeds := []*feed{
		{name: "sensor", capacity: 5, every: 1},
		{name: "user", capacity: 3, every: 3},
		{name: "network", capacity: 8, every: 2},
	}
	set := waitset.New(r.sched, "dispatch")
	defer set.Close()
	for _, f := range feeds {
		ch, err := channel.New(r.sched, channel.Config{Name: f.name, Capacity: f.capacity, ElementSize: messageSlot})
		if err != nil {
			return err
		}
		defer ch.Close()
		f.q = channel.NewTyped[message](ch)
		if err := set.Add(waitset.Channel(ch)); err != nil {
			return err
		}
	}
	timer, err := semaphore.NewBinary(r.sched, "timer")
	if err != nil {
		return err
	}
	defer timer.Close()
	if err := set.Add(waitset.Semaphore(timer)); err != nil {
		return err
	}
	done(fmt.Sprintf("%d members", set.Len()))

	byChannel := make(map[*channel.Channel]*feed, len(feeds))
	for _, f := range feeds {
		byChannel[f.q.Channel()] = f
	}
	handle := func(tctx context.Context, m waitset.Member) error {
		switch m.Kind() {
		case waitset.KindChannel:
			f := byChannel[m.Channel()]
			msg, err := f.q.Receive(tctx, kernel.NoWait)
			if err != nil {
				r.counters.Inc("stale_selects")
				return fmt.Errorf("%s reported ready but receive failed: %w", m.Name(), err)
			}
			r.counters.Inc(f.name + "_received")
			r.latency.Observe(msg.age())
		case waitset.KindSemaphore:
			if err := m.Semaphore().Take(tctx, kernel.NoWait); err != nil {
				r.counters.Inc("stale_selects")
				return fmt.Errorf("%s reported ready but take failed: %w", m.Name(), err)
			}
			r.counters.Inc("timer_ticks")
		}
		return nil
	}

	done = r.stage(progress.StageRun)
	stopSafePoints := r.safePoints()
	defer stopSafePoints()
	g, gctx := errgroup.WithContext(ctx)
	for i, f := range feeds {
		g.Go(func() error {
			tctx := r.task(gctx, f.name, kernel.Priority(2))
			for seq := int64(1); sleep(gctx, r.params.Period*time.Duration(f.every)); seq++ {
				err := f.q.Send(tctx, newMessage(i, seq), kernel.NoWait)
				switch {
				case err == nil:
					r.counters.Inc(f.name + "_sent")
				case errors.Is(err, kernel.ErrFull):
					r.counters.Inc(f.name + "_dropped")
				default:
					return err
				}
			}
			return nil
		})
	}
	g.Go(func() error {
		for sleep(gctx, 4*r.params.Period) {
			if err := timer.GiveFromInterrupt(); errors.Is(err, kernel.ErrAlreadyAtMax) {
				r.counters.Inc("timer_coalesced")
			} else if err != nil {
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		tctx := r.task(gctx, "dispatcher", kernel.Priority(3))
		for {
			m, err := set.Select(tctx, r.ticks(20*r.params.Period))
			switch {
			case err == nil:
			case errors.Is(err, kernel.ErrTimedOut):
				r.counters.Inc("select_timeouts")
				continue
			case stopped(err):
				return nil
			default:
				return err
			}
			r.counters.Inc("selects")
			if err := handle(tctx, m); err != nil {
				return err
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	done = r.stage(progress.StageDrain)
	r.sched.ApplyDeferredWakes()
	bg := context.Background()
	for {
		m, err := set.Select(bg, kernel.NoWait)
		if err != nil {
			break
		}
		r.counters.Inc("drain_selects")
		if err := handle(bg, m); err != nil {
			return err
		}
	}
	done("")

	for _, f := range feeds {
		leftover := int64(f.q.Channel().Len())
		if err := testkit.CheckConserved(f.name, r.counters.Get(f.name+"_sent"), r.counters.Get(f.name+"_received"), 0, leftover); err != nil {
			return err
		}
	}
	return nil
}
