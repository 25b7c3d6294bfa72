package labs

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"
	"time"

	"golang.org/x/sync/errgroup"

	"rtsync/internal/kernel"
	"rtsync/internal/progress"
	"rtsync/internal/semaphore"
	"rtsync/internal/testkit"
)

func binarySemaphore(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	sem, err := semaphore.NewBinary(r.sched, "button")
	if err != nil {
		return err
	}
	defer sem.Close()
	done("")

	done = r.stage(progress.StageRun)
	stopSafePoints := r.safePoints()
	defer stopSafePoints()
	var givenAt atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		for sleep(gctx, r.params.Period) {
			givenAt.Store(time.Now().UnixNano())
			err := sem.GiveFromInterrupt()
			switch {
			case err == nil:
				r.counters.Inc("given")
			case errors.Is(err, kernel.ErrAlreadyAtMax):
				r.counters.Inc("coalesced")
			default:
				return err
			}
		}
		return nil
	})
	g.Go(func() error {
		tctx := r.task(gctx, "handler", kernel.Priority(3))
		for {
			if err := sem.Take(tctx, kernel.Forever); err != nil {
				if stopped(err) {
					return nil
				}
				return err
			}
			r.counters.Inc("handled")
			r.latency.Observe(time.Since(time.Unix(0, givenAt.Load())))
			if err := testkit.CheckBound("button count", int64(sem.Count()), 1); err != nil {
				return err
			}
			// Handling takes a while, so some interrupts coalesce.
			if !sleep(gctx, r.params.Period*3/2) {
				return nil
			}
		}
	})
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	done = r.stage(progress.StageDrain)
	r.sched.ApplyDeferredWakes()
	leftover := int64(sem.Count())
	done("")
	return testkit.CheckConserved("button", r.counters.Get("given"), r.counters.Get("handled"), 0, leftover)
}

func countingSemaphore(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	licenses, err := semaphore.NewCounting(r.sched, "licenses", r.params.MaxCount, r.params.MaxCount)
	if err != nil {
		return err
	}
	defer licenses.Close()
	done(fmt.Sprintf("%d licenses, %d workers", r.params.MaxCount, r.params.Producers))

	done = r.stage(progress.StageRun)
	var inUse atomic.Int64
	g, gctx := errgroup.WithContext(ctx)
	for w := range r.params.Producers {
		g.Go(func() error {
			tctx := r.task(gctx, fmt.Sprintf("worker-%d", w), kernel.Priority(w%3))
			for {
				start := time.Now()
				err := licenses.Take(tctx, r.ticks(5*r.params.Period))
				switch {
				case err == nil:
				case errors.Is(err, kernel.ErrTimedOut):
					r.counters.Inc("timeouts")
					continue
				case stopped(err):
					return nil
				default:
					return err
				}
				r.latency.Since(start)
				r.counters.Inc("acquired")
				n := inUse.Add(1)
				r.counters.Max("max_in_use", n)
				if err := testkit.CheckBound("licenses in use", n, int64(r.params.MaxCount)); err != nil {
					return err
				}
				sleep(gctx, r.params.Period*time.Duration(1+w%3))
				inUse.Add(-1)
				if err := licenses.Give(tctx); err != nil {
					return err
				}
				r.counters.Inc("released")
			}
		})
	}
	if err := g.Wait(); err != nil {
		return err
	}
	done("")

	if got := licenses.Count(); got != r.params.MaxCount {
		return fmt.Errorf("licenses: %d of %d returned to the pool", got, r.params.MaxCount)
	}
	return nil
}

func mutexLab(ctx context.Context, r *run) error {
	done := r.stage(progress.StageSetup)
	mu, err := semaphore.NewMutex(r.sched, "shared")
	if err != nil {
		return err
	}
	defer mu.Close()
	done("")

	done = r.stage(progress.StageRun)
	var shared int64
	var holders atomic.Int32
	g, gctx := errgroup.WithContext(ctx)
	for i := range r.params.Producers {
		g.Go(func() error {
			tctx := r.task(gctx, fmt.Sprintf("task-%d", i), kernel.Priority(i))
			var mine int64
			defer func() { r.counters.Add(fmt.Sprintf("task_%d", i), mine) }()
			for {
				start := time.Now()
				if err := mu.Take(tctx, kernel.Forever); err != nil {
					if stopped(err) {
						return nil
					}
					return err
				}
				r.latency.Since(start)
				if h := holders.Add(1); h != 1 {
					return fmt.Errorf("%d tasks inside the critical section", h)
				}
				v := shared
				time.Sleep(r.params.Period / 10)
				shared = v + 1
				mine++
				holders.Add(-1)
				if err := mu.Give(tctx); err != nil {
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

	var total int64
	for i := range r.params.Producers {
		total += r.counters.Get(fmt.Sprintf("task_%d", i))
	}
	r.counters.Add("shared", shared)
	if shared != total {
		return fmt.Errorf("shared counter is %d, tasks incremented %d times", shared, total)
	}
	return nil
}
