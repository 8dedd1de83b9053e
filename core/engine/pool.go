package engine

import (
	"context"
	"sync"

	loupeerrors "github.com/adalundhe/loupe/core/errors"
)

// pool is a fixed-size worker pool with a bounded queue. Submitted work runs
// on one of the workers; a full queue rejects rather than growing without
// bound.
type pool struct {
	jobs     chan func()
	wg       sync.WaitGroup
	stopOnce sync.Once
}

func newPool(workers, queueDepth int) *pool {
	if workers <= 0 {
		workers = 1
	}
	if queueDepth <= 0 {
		queueDepth = workers
	}

	p := &pool{jobs: make(chan func(), queueDepth)}
	p.wg.Add(workers)
	for i := 0; i < workers; i++ {
		go func() {
			defer p.wg.Done()
			for job := range p.jobs {
				job()
			}
		}()
	}
	return p
}

// run executes fn on a worker and waits for it. The context bounds queue
// admission only; fn observes its own context.
func (p *pool) run(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	job := func() {
		defer close(done)
		fn()
	}

	select {
	case p.jobs <- job:
	case <-ctx.Done():
		return loupeerrors.Wrap(loupeerrors.ClassInternal, "query queue full", ctx.Err())
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		// The job still runs to completion on its worker; the caller just
		// stops waiting.
		return ctx.Err()
	}
}

func (p *pool) stop() {
	p.stopOnce.Do(func() { close(p.jobs) })
	p.wg.Wait()
}
