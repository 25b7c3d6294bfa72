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
)

func producerConsumer(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	ch, err := channel.New(r.sched, channel.Config{Name: "work", Capacity: r.params.Capacity, ElementSize: messageSlot})
	if err != nil {
		return err
	}
	defer ch.Close()
	q := channel.NewTyped[message](ch)
	printer, err := semaphore.NewMutex(r.sched, "printer")
	if err != nil {
		return err
	}
	defer printer.Close()
	say := func(tctx context.Context, format string, args ...any) error {
		if err := printer.Take(tctx, kernel.Forever); err != nil {
			return err
		}
		r.printf(format, args...)
		return printer.Give(tctx)
	}
	done(fmt.Sprintf("%d producers, %d consumers", r.params.Producers, r.params.Consumers))

	done = r.stage(progress.StageRun)
	g, gctx := errgroup.WithContext(ctx)
	for p := range r.params.Producers {
		g.Go(func() error {
			tctx := r.task(gctx, fmt.Sprintf("producer-%d", p), kernel.Priority(2))
			for seq := int64(1); sleep(gctx, r.params.Period*time.Duration(1+p%3)); seq++ {
				err := q.Send(tctx, newMessage(p, seq), r.ticks(2*r.params.Period))
				switch {
				case err == nil:
					r.counters.Inc("sent")
				case errors.Is(err, kernel.ErrTimedOut):
					r.counters.Inc("send_timeouts")
				case stopped(err):
					return nil
				default:
					return err
				}
			}
			return nil
		})
	}
	for c := range r.params.Consumers {
		g.Go(func() error {
			tctx := r.task(gctx, fmt.Sprintf("consumer-%d", c), kernel.Priority(1))
			// Per consumer, each producer's messages must still arrive in order.
			var order testkit.SeqTracker
			for {
				m, err := q.Receive(tctx, r.ticks(10*r.params.Period))
				switch {
				case err == nil:
				case errors.Is(err, kernel.ErrTimedOut):
					continue
				case stopped(err):
					return nil
				default:
					return err
				}
				r.counters.Inc("received")
				r.latency.Observe(m.age())
				if err := order.Observe(m.source(), m.Seq); err != nil {
					return err
				}
				if err := say(tctx, "consumer %d got %s#%d", c, m.source(), m.Seq); err != nil {
					if stopped(err) {
						return nil
					}
					return err
				}
				if !sleep(gctx, r.params.Period) {
					return nil
				}
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	done = r.stage(progress.StageDrain)
	leftover := int64(ch.Len())
	ch.Reset()
	r.counters.Add("drained", leftover)
	done("")

	return testkit.CheckConserved("work", r.counters.Get("sent"), r.counters.Get("received"), 0, leftover)
}
