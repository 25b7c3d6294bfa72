package labs

import (
	"context"
	"errors"
	"runtime"

	"golang.org/x/sync/errgroup"

	"rtsync/internal/progress"
)

// RunAll runs labs with at most parallel of them at once (GOMAXPROCS when
// parallel <= 0). A failing lab does not stop the others; every failure is
// returned joined. reports[i] belongs to labs[i].
func RunAll(ctx context.Context, env *Env, labs []Lab, parallel int) ([]*Report, error) {
	if len(labs) == 0 {
		return nil, nil
	}
	if parallel <= 0 {
		parallel = runtime.GOMAXPROCS(0)
	}
	if env.Sink != nil {
		for _, lab := range labs {
			env.Sink.OnEvent(progress.Event{Lab: lab.Name, Stage: progress.StageSetup, Status: progress.StatusQueued})
		}
	}

	reports := make([]*Report, len(labs))
	errs := make([]error, len(labs))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(min(parallel, len(labs)))
	for i, lab := range labs {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				errs[i] = err
				return nil
			}
			reports[i], errs[i] = lab.Run(gctx, env)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return reports, err
	}
	return reports, errors.Join(errs...)
}
