package coalesce

import (
	"context"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"coalesce/pkg/coalescemetrics"
)

// batch is the closed unit of work handed from the Batcher to the
// Dispatcher.
type batch[K, R any] struct {
	id      uuid.UUID
	members []*tuple[K, R]
	cfg     *Config[K, R]
}

// batcher drives the Idle -> Filling(t0) -> Closing state machine that
// turns a stream of admitted tuples into closed batches. One batcher
// instance per Coordinator; it owns the RingBuffer's consumer end and
// is the only goroutine that polls it (UpdateConfig's drainInto also
// empties the old buffer when BufferCapacity changes). Grounded on a
// BatchProcessor.CollectBatch-style reused-timer, remaining-budget loop
// (internal/dispatcher/batch_processor.go): the window deadline is
// computed once per batch and re-checked against the remaining budget
// on every poll, rather than re-armed per item.
type batcher[K, R any] struct {
	ring   atomic.Pointer[ringBuffer[K, R]]
	config atomic.Pointer[Config[K, R]]
	logger *logrus.Logger

	dispatch func(*batch[K, R])

	ctx    context.Context
	cancel context.CancelFunc
	closed chan struct{}
}

func newBatcher[K, R any](rb *ringBuffer[K, R], cfg *Config[K, R], logger *logrus.Logger, dispatch func(*batch[K, R])) *batcher[K, R] {
	ctx, cancel := context.WithCancel(context.Background())
	b := &batcher[K, R]{
		logger:   logger,
		dispatch: dispatch,
		ctx:      ctx,
		cancel:   cancel,
		closed:   make(chan struct{}),
	}
	b.ring.Store(rb)
	b.config.Store(cfg)
	go b.run()
	return b
}

func (b *batcher[K, R]) currentConfig() *Config[K, R] {
	return b.config.Load()
}

func (b *batcher[K, R]) currentRing() *ringBuffer[K, R] {
	return b.ring.Load()
}

func (b *batcher[K, R]) swapRing(rb *ringBuffer[K, R]) {
	b.ring.Store(rb)
}

func (b *batcher[K, R]) updateConfig(cfg *Config[K, R]) {
	b.config.Store(cfg)
}

// run is the batcher's single logical driver.
func (b *batcher[K, R]) run() {
	defer close(b.closed)

	for {
		if b.ctx.Err() != nil {
			b.flushRemaining()
			return
		}

		cfg := b.currentConfig()
		rb := b.currentRing()

		// Idle: block until exactly one tuple arrives. The window does
		// not start ticking before this point.
		first := rb.pollFirst(b.ctx)
		if first == nil {
			continue
		}
		members := []*tuple[K, R]{first}

		deadline := time.Now().Add(cfg.Window)

		// Filling: continue draining with the remaining budget and the
		// window deadline, closing on whichever bound is hit first.
		for len(members) < cfg.MaxSize && time.Now().Before(deadline) {
			more := rb.pollBatch(b.ctx, cfg.MaxSize-len(members), deadline)
			if len(more) == 0 {
				break
			}
			members = append(members, more...)
		}

		b.close(members, cfg)
	}
}

func (b *batcher[K, R]) close(members []*tuple[K, R], cfg *Config[K, R]) {
	if len(members) == 0 {
		return
	}
	bt := &batch[K, R]{id: uuid.New(), members: members, cfg: cfg}

	coalescemetrics.ObserveBatchSize(float64(len(members)))

	b.logger.WithFields(logrus.Fields{
		"batch_id":   bt.id.String(),
		"batch_size": len(members),
	}).Debug("batch closed")

	pool := cfg.WorkerPool
	dispatch := b.dispatch
	pool.Submit(func() {
		dispatch(bt)
	})
}

// flushRemaining forms one last batch from whatever is left in the
// current ring buffer so Close() does not silently drop admitted
// tuples.
func (b *batcher[K, R]) flushRemaining() {
	rb := b.currentRing()
	cfg := b.currentConfig()
	for {
		members := rb.drainAvailable(cfg.MaxSize)
		if len(members) == 0 {
			return
		}
		b.close(members, cfg)
	}
}

// requestStop signals run() to exit after flushing, and blocks until it
// has.
func (b *batcher[K, R]) requestStop() {
	b.cancel()
	<-b.closed
}
