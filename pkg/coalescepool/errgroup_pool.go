package coalescepool

import (
	"context"

	"golang.org/x/sync/errgroup"
)

// ErrGroupPool is a second WorkerPool implementation backed by a single
// long-lived golang.org/x/sync/errgroup.Group, bounded by a semaphore so
// at most Concurrency tasks run at once. Offered alongside FixedPool so
// UpdateConfig can demonstrate swapping worker-pool backends live
// without the coordinator itself depending on which
// executor is in use.
type ErrGroupPool struct {
	group *errgroup.Group
	sem   chan struct{}
}

// NewErrGroupPool builds a pool that runs up to concurrency tasks at
// once. ctx is only used to build the errgroup; submitted tasks are not
// handed it and are not stopped when it is cancelled.
func NewErrGroupPool(ctx context.Context, concurrency int) *ErrGroupPool {
	if concurrency <= 0 {
		concurrency = 1
	}
	g, _ := errgroup.WithContext(ctx)
	return &ErrGroupPool{
		group: g,
		sem:   make(chan struct{}, concurrency),
	}
}

// Submit runs task on an errgroup goroutine once a concurrency slot is
// free. Implements coalesce.WorkerPool.
func (p *ErrGroupPool) Submit(task func()) {
	p.sem <- struct{}{}
	p.group.Go(func() error {
		defer func() { <-p.sem }()
		task()
		return nil
	})
}

// Wait blocks until every submitted task has completed.
func (p *ErrGroupPool) Wait() error {
	return p.group.Wait()
}
