package coalesce

import (
	"context"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/sirupsen/logrus"

	"coalesce/pkg/coalerr"
	"coalesce/pkg/coalescemetrics"
	"coalesce/pkg/coalescetrace"
)

// dispatcher turns a closed batch into exactly one callback invocation
// and fans the result (or error) back to every member tuple. Grounded
// on a batch_processor.go-style ProcessBatch
// fan-out-and-collect loop, and on pkg/deduplication/deduplication_manager.go's
// map-based first-occurrence dedup — folded here into batch-local scope
// rather than kept as a standalone manager, since dedup here only needs
// to span a single batch's lifetime.
type dispatcher[K, R any] struct {
	logger *logrus.Logger
}

func newDispatcher[K, R any](logger *logrus.Logger) *dispatcher[K, R] {
	return &dispatcher[K, R]{logger: logger}
}

// dedupKey returns a comparable key for identity, with an xxhash
// fast path for the two identity shapes most likely to be expensive to
// compare or hash through a map directly: []byte and string arguments
// hashed by value rather than by the runtime's generic map hashing.
func dedupKey(identity any) any {
	switch v := identity.(type) {
	case string:
		return xxhash.Sum64String(v)
	case []byte:
		return xxhash.Sum64(v)
	default:
		return identity
	}
}

// run dedups bt's members, invokes the batch's callback exactly once on
// the unique arguments, and completes every member from the result
// completed exactly once. It never panics out to the worker pool: a callback
// panic is recovered and turned into a CallbackFailed error so one bad
// batch cannot take down a pool worker.
func (d *dispatcher[K, R]) run(bt *batch[K, R]) (uniqueCount int) {
	live := make([]*tuple[K, R], 0, len(bt.members))
	for _, t := range bt.members {
		if t.isCancelled() {
			t.fail(coalerr.NewCancelled())
			continue
		}
		t.markDispatched()
		live = append(live, t)
	}
	if len(live) == 0 {
		return 0
	}

	uniqueArgs, owners := d.dedup(bt.cfg, live)
	uniqueCount = len(uniqueArgs)

	_, span := coalescetrace.StartBatch(context.Background(), bt.id.String(), len(live), len(uniqueArgs))
	defer span.End()

	start := time.Now()
	results, err := d.invoke(bt.cfg.Callback, uniqueArgs)
	elapsed := time.Since(start).Seconds()

	if err != nil {
		coalescemetrics.ObserveDispatch("callback_failed", elapsed)
		d.failAll(owners, coalerr.NewCallbackFailed(err))
		return uniqueCount
	}
	if len(results) != len(uniqueArgs) {
		coalescemetrics.ObserveDispatch("arity_mismatch", elapsed)
		d.failAll(owners, coalerr.NewArityMismatch(len(uniqueArgs), len(results)))
		return uniqueCount
	}

	coalescemetrics.ObserveDispatch("ok", elapsed)
	for i, group := range owners {
		val := results[i]
		for _, t := range group {
			t.complete(val)
		}
	}

	d.logger.WithFields(logrus.Fields{
		"batch_id":    bt.id.String(),
		"batch_size":  len(live),
		"unique_size": len(uniqueArgs),
	}).Debug("batch dispatched")
	return uniqueCount
}

// dedup builds the unique argument slice the callback sees and the
// parallel owners slice mapping each unique index back to every tuple
// that shares its identity. When RemoveDuplicates is false, every live
// tuple is its own singleton group, preserving arrival order.
func (d *dispatcher[K, R]) dedup(cfg *Config[K, R], live []*tuple[K, R]) ([]K, [][]*tuple[K, R]) {
	if !cfg.RemoveDuplicates {
		args := make([]K, len(live))
		owners := make([][]*tuple[K, R], len(live))
		for i, t := range live {
			args[i] = t.arg
			owners[i] = []*tuple[K, R]{t}
		}
		return args, owners
	}

	index := make(map[any]int, len(live))
	args := make([]K, 0, len(live))
	owners := make([][]*tuple[K, R], 0, len(live))

	for _, t := range live {
		key := dedupKey(t.identity)
		if pos, ok := index[key]; ok {
			owners[pos] = append(owners[pos], t)
			continue
		}
		index[key] = len(args)
		args = append(args, t.arg)
		owners = append(owners, []*tuple[K, R]{t})
	}
	return args, owners
}

// invoke calls cb, recovering a panic into an error so it behaves like
// any other callback failure from the caller's perspective.
func (d *dispatcher[K, R]) invoke(cb BatchCallback[K, R], args []K) (results []R, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &panicError{recovered: r}
		}
	}()
	return cb(args)
}

func (d *dispatcher[K, R]) failAll(owners [][]*tuple[K, R], err error) {
	for _, group := range owners {
		for _, t := range group {
			t.fail(err)
		}
	}
}

type panicError struct{ recovered any }

func (p *panicError) Error() string { return "coalesce: callback panicked" }
