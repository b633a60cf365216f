// Package coalesce implements a coalescing coordinator: a concurrency
// primitive that batches concurrent single-argument requests into one
// callback invocation (collapsing duplicate arguments when
// RemoveDuplicates is set), then fans the per-argument result
// back out to each caller through whichever delivery modality it asked
// for — blocking, deferred, or reactive.
package coalesce

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"

	"coalesce/pkg/coalerr"
	"coalesce/pkg/coalescemetrics"
	"coalesce/pkg/coalescepool"
	"coalesce/pkg/coalescetrace"
)

// identityFunc derives a dedup identity from an argument. The default
// identity is the argument's own value, which is why the constructors
// constrain K to comparable; a custom Identity in Options replaces that
// key with any other comparable value derived from the argument.
type identityFunc[K any] func(arg K) any

// Options configures NewCoordinatorWithOptions, the explicit
// constructor form. NewCoordinator wraps it with a defaulted
// three-argument convenience form.
type Options[K, R any] struct {
	Window           time.Duration
	MaxSize          int
	BufferCapacity   int
	RemoveDuplicates bool
	WorkerPool       WorkerPool
	Identity         identityFunc[K]
	Callback         BatchCallback[K, R]
	Logger           *logrus.Logger
}

// Coordinator is the public entry point: it owns one RingBuffer, one
// Batcher, and one Dispatcher, and exposes the three submission
// modalities (Execute, ExecuteAsFuture, ExecuteAsMono) over them.
type Coordinator[K, R any] struct {
	logger   *logrus.Logger
	identity identityFunc[K]

	ring    atomic.Pointer[ringBuffer[K, R]]
	batcher *batcher[K, R]
	disp    *dispatcher[K, R]

	ownsPool bool
	pool     WorkerPool

	stats stats

	closeOnce sync.Once
	closed    chan struct{}
}

type stats struct {
	batches atomic.Int64
	members atomic.Int64
	unique  atomic.Int64
}

// Stats is a point-in-time snapshot of the Coordinator's activity,
// the observability surface every ambient dependency here (Prometheus,
// logrus) implies a production caller would want; see SPEC_FULL.md's
// "Supplemented features" section.
type Stats struct {
	BatchesClosed    int64
	MembersHandled   int64
	UniqueDispatched int64
	RingBufferDepth  int
}

// NewCoordinator builds a Coordinator with the simple three-argument
// form: a time window, a maximum batch size, and the batch callback.
// Deduplication defaults to true (the bool zero value
// is false, so this constructor sets it explicitly rather than relying
// on Config.withDefaults) and a 4-worker coalescepool.FixedPool backs
// dispatch, a sensible default worker-pool concurrency.
func NewCoordinator[K comparable, R any](window time.Duration, maxSize int, callback BatchCallback[K, R]) *Coordinator[K, R] {
	return NewCoordinatorWithOptions[K, R](Options[K, R]{
		Window:           window,
		MaxSize:          maxSize,
		RemoveDuplicates: true,
		Callback:         callback,
	})
}

// NewCoordinatorWithOptions builds a Coordinator from a fully specified
// Options value. A nil Callback panics; every other zero-valued field
// except RemoveDuplicates is defaulted.
func NewCoordinatorWithOptions[K comparable, R any](opts Options[K, R]) *Coordinator[K, R] {
	if opts.Callback == nil {
		panic("coalesce: Options.Callback must not be nil")
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}

	var ownsPool bool
	pool := opts.WorkerPool
	if pool == nil {
		pool = coalescepool.NewFixedPool(coalescepool.Config{MaxWorkers: defaultWorkers}, opts.Logger)
		ownsPool = true
	}

	identity := opts.Identity
	if identity == nil {
		identity = func(arg K) any { return arg }
	}

	cfg := &Config[K, R]{
		Window:           opts.Window,
		MaxSize:          opts.MaxSize,
		BufferCapacity:   opts.BufferCapacity,
		RemoveDuplicates: opts.RemoveDuplicates,
		WorkerPool:       pool,
		Callback:         opts.Callback,
	}
	defaulted := cfg.withDefaults()
	cfg = &defaulted

	c := &Coordinator[K, R]{
		logger:   opts.Logger,
		identity: identity,
		ownsPool: ownsPool,
		pool:     pool,
		closed:   make(chan struct{}),
	}
	c.disp = newDispatcher[K, R](opts.Logger)

	rb := newRingBuffer[K, R](cfg.BufferCapacity)
	c.ring.Store(rb)

	c.batcher = newBatcher(rb, cfg, opts.Logger, func(bt *batch[K, R]) {
		c.stats.batches.Add(1)
		c.stats.members.Add(int64(len(bt.members)))
		unique := c.disp.run(bt)
		c.stats.unique.Add(int64(unique))
	})

	return c
}

// submit admits arg into the ring buffer and returns the tuple backing
// its eventual completion. Shared by all three delivery modalities:
// submission is always the same act; only how the caller waits for the
// result differs.
func (c *Coordinator[K, R]) submit(ctx context.Context, arg K) (*tuple[K, R], error) {
	t := newTuple[K, R](arg, c.identity(arg))
	if err := c.currentRing().put(ctx, t); err != nil {
		return nil, &coalerr.CoalesceError{Kind: coalerr.Interrupted, Cause: err}
	}
	return t, nil
}

func (c *Coordinator[K, R]) currentRing() *ringBuffer[K, R] {
	return c.ring.Load()
}

// Execute is the Blocking delivery modality: submit and wait for the
// batch this argument lands in to be dispatched.
func (c *Coordinator[K, R]) Execute(ctx context.Context, arg K) (R, error) {
	_, span := coalescetrace.StartSubmit(ctx, "blocking")
	defer span.End()

	t, err := c.submit(ctx, arg)
	if err != nil {
		var zero R
		return zero, err
	}
	return t.sink.await(ctx)
}

// ExecuteAsFuture is the Deferred delivery modality: submission happens
// immediately, and the caller is handed a Future it can poll, block
// on, or attempt to cancel.
func (c *Coordinator[K, R]) ExecuteAsFuture(ctx context.Context, arg K) (*Future[R], error) {
	_, span := coalescetrace.StartSubmit(ctx, "deferred")
	defer span.End()

	t, err := c.submit(ctx, arg)
	if err != nil {
		return nil, err
	}
	return &Future[R]{sink: t.sink, cancel: t.tryCancel}, nil
}

// ExecuteAsMono is the Reactive delivery modality: the returned Mono is
// cold, so nothing is submitted until Subscribe is called, and every
// Subscribe call performs its own independent submission.
func (c *Coordinator[K, R]) ExecuteAsMono(arg K) *Mono[R] {
	return &Mono[R]{subscribe: func() *sink[R] {
		ctx, span := coalescetrace.StartSubmit(context.Background(), "reactive")
		defer span.End()

		t, err := c.submit(ctx, arg)
		if err != nil {
			s := newSink[R]()
			s.fail(err)
			return s
		}
		return t.sink
	}}
}

// UpdateConfig atomically replaces the Coordinator's configuration.
// Window, MaxSize, BufferCapacity, RemoveDuplicates, WorkerPool and
// Callback are taken from opts with no partial-update fallback to the
// previous configuration: a nil Callback or WorkerPool panics, and a
// zero Window, MaxSize or BufferCapacity gets the same defaults
// NewCoordinatorWithOptions applies, not the previous value. Identity
// and Logger are not changed by UpdateConfig.
// Any tuples already pending in the RingBuffer are drained into a new
// buffer in FIFO order when BufferCapacity changes; a batch already
// filling when this call completes finishes with whichever
// configuration was current when it opened.
func (c *Coordinator[K, R]) UpdateConfig(opts Options[K, R]) {
	if opts.Callback == nil {
		panic("coalesce: Options.Callback must not be nil")
	}
	if opts.WorkerPool == nil {
		panic("coalesce: Options.WorkerPool must not be nil")
	}

	prev := c.batcher.currentConfig()

	cfg := &Config[K, R]{
		Window:           opts.Window,
		MaxSize:          opts.MaxSize,
		BufferCapacity:   opts.BufferCapacity,
		RemoveDuplicates: opts.RemoveDuplicates,
		WorkerPool:       opts.WorkerPool,
		Callback:         opts.Callback,
	}
	defaulted := cfg.withDefaults()
	cfg = &defaulted

	if cfg.BufferCapacity != prev.BufferCapacity {
		next := newRingBuffer[K, R](cfg.BufferCapacity)
		old := c.currentRing()
		old.drainInto(next)
		c.ring.Store(next)
		c.batcher.swapRing(next)
	}

	c.batcher.updateConfig(cfg)
}

// Close stops the Batcher, flushes and dispatches every tuple still
// queued in the RingBuffer, and shuts down any worker pool the
// Coordinator itself created. Close does not reject later submissions:
// a tuple submitted after Close is never dispatched. A library exposing goroutines needs a
// deterministic shutdown path for leak-checked callers
// (go.uber.org/goleak, as this module's own test suite uses).
func (c *Coordinator[K, R]) Close() error {
	c.closeOnce.Do(func() {
		c.batcher.requestStop()
		if c.ownsPool {
			if fp, ok := c.pool.(*coalescepool.FixedPool); ok {
				fp.Stop()
			}
		}
		close(c.closed)
	})
	return nil
}

// Stats reports a point-in-time activity snapshot, also publishing the
// current RingBuffer depth to coalescemetrics.RingBufferDepth.
func (c *Coordinator[K, R]) Stats() Stats {
	depth := c.currentRing().depth()
	coalescemetrics.SetRingBufferDepth(float64(depth))
	return Stats{
		BatchesClosed:    c.stats.batches.Load(),
		MembersHandled:   c.stats.members.Load(),
		UniqueDispatched: c.stats.unique.Load(),
		RingBufferDepth:  depth,
	}
}
