package labs

import (
	"context"
	"errors"

	"golang.org/x/sync/errgroup"

	"rtsync/internal/channel"
	"rtsync/internal/kernel"
	"rtsync/internal/progress"
	"rtsync/internal/testkit"
)

func basicQueue(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	ch, err := channel.New(r.sched, channel.Config{Name: "basic", Capacity: r.params.Capacity, ElementSize: messageSlot})
	if err != nil {
		return err
	}
	defer ch.Close()
	q := channel.NewTyped[message](ch)
	done("")

	done = r.stage(progress.StageRun)
	var order testkit.SeqTracker
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		tctx := r.task(gctx, "sender", 2)
		for seq := int64(1); sleep(gctx, r.params.Period); seq++ {
			err := q.Send(tctx, newMessage(0, seq), kernel.NoWait)
			switch {
			case err == nil:
				r.counters.Inc("sent")
			case errors.Is(err, kernel.ErrFull):
				r.counters.Inc("dropped")
			default:
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		tctx := r.task(gctx, "receiver", 1)
		for {
			m, err := q.Receive(tctx, r.ticks(10*r.params.Period))
			switch {
			case err == nil:
			case errors.Is(err, kernel.ErrTimedOut):
				r.counters.Inc("receive_timeouts")
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
			if err := testkit.CheckLen("basic", ch.Len(), ch.Cap()); err != nil {
				return err
			}
			// Slower than the sender so the queue fills up.
			if !sleep(gctx, 2*r.params.Period) {
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	done = r.stage(progress.StageDrain)
	leftover := int64(0)
	for {
		m, err := q.Receive(context.Background(), kernel.NoWait)
		if err != nil {
			break
		}
		if err := order.Observe(m.source(), m.Seq); err != nil {
			return err
		}
		leftover++
	}
	r.counters.Add("drained", leftover)
	done("")

	return testkit.CheckConserved("basic", r.counters.Get("sent"), r.counters.Get("received"), 0, leftover)
}
