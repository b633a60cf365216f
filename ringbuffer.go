package coalesce

import (
	"context"
	"time"

	"coalesce/pkg/coalerr"
)

// ringBuffer is the bounded MPMC queue producers block on when full;
// the Batcher is the single consumer draining it. Grounded on a
// dispatcher queue (chan dispatchItem) for the blocking
// producer/single-consumer shape; drainInto's content-preserving swap
// is this module's own addition for UpdateConfig's bufferCapacity
// resize — a dispatch queue is never resized at runtime, so there is
// no prior art for that operation to cite.
type ringBuffer[K, R any] struct {
	items chan *tuple[K, R]
}

func newRingBuffer[K, R any](capacity int) *ringBuffer[K, R] {
	if capacity < 1 {
		capacity = 1
	}
	return &ringBuffer[K, R]{items: make(chan *tuple[K, R], capacity)}
}

// put blocks until the tuple is accepted or ctx is cancelled, per the
// submission contract.
func (rb *ringBuffer[K, R]) put(ctx context.Context, t *tuple[K, R]) error {
	select {
	case rb.items <- t:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// pollBatch implements the Filling state: it collects up to max further
// items, returning as soon as max is reached, deadline
// passes, or ctx is cancelled — whichever comes first. Unlike pollFirst,
// it never blocks waiting for an item that may not come: an already
// elapsed deadline returns immediately with whatever was already
// queued. Cancelled tuples are failed in place and skipped, without
// occupying a batch slot.
func (rb *ringBuffer[K, R]) pollBatch(ctx context.Context, max int, deadline time.Time) []*tuple[K, R] {
	batch := make([]*tuple[K, R], 0, max)
	if max <= 0 {
		return batch
	}

	d := time.Until(deadline)
	if d <= 0 {
		return rb.drainAvailable(max)
	}
	timer := time.NewTimer(d)
	defer timer.Stop()

	for len(batch) < max {
		select {
		case t, ok := <-rb.items:
			if !ok {
				return batch
			}
			if t.isCancelled() {
				t.fail(coalerr.NewCancelled())
				continue
			}
			batch = append(batch, t)
		case <-timer.C:
			return batch
		case <-ctx.Done():
			return batch
		}
	}
	return batch
}

// pollFirst blocks until exactly one live tuple is available or ctx is
// cancelled, implementing the Idle state: the batching window does not
// start until a tuple actually arrives. Cancelled
// tuples are failed in place and skipped, same as pollBatch.
func (rb *ringBuffer[K, R]) pollFirst(ctx context.Context) *tuple[K, R] {
	for {
		select {
		case t, ok := <-rb.items:
			if !ok {
				return nil
			}
			if t.isCancelled() {
				t.fail(coalerr.NewCancelled())
				continue
			}
			return t
		case <-ctx.Done():
			return nil
		}
	}
}

// drainInto moves every pending item from rb into dst in FIFO order,
// for UpdateConfig's content-preserving bufferCapacity swap. It never
// blocks past rb's current contents.
func (rb *ringBuffer[K, R]) drainInto(dst *ringBuffer[K, R]) {
	for {
		select {
		case t := <-rb.items:
			dst.items <- t
		default:
			return
		}
	}
}

// drainAvailable non-blockingly collects whatever live tuples are
// currently queued, up to max. Used during shutdown, where blocking on
// an empty buffer would hang the flush.
func (rb *ringBuffer[K, R]) drainAvailable(max int) []*tuple[K, R] {
	batch := make([]*tuple[K, R], 0, max)
	for len(batch) < max {
		select {
		case t := <-rb.items:
			if t.isCancelled() {
				t.fail(coalerr.NewCancelled())
				continue
			}
			batch = append(batch, t)
		default:
			return batch
		}
	}
	return batch
}

// depth reports the number of items currently queued, for Stats().
func (rb *ringBuffer[K, R]) depth() int {
	return len(rb.items)
}
