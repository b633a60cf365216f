package coalesce

import "sync/atomic"

// tupleState tracks a tuple's position in its lifecycle: created,
// admitted into a batch, completed, or cancelled before dispatch.
type tupleState int32

const (
	tuplePending tupleState = iota
	tupleDispatched
	tupleCompleted
	tupleCancelled
)

// tuple is the per-submission record: the caller's argument, its dedup
// identity, the sink that eventually carries the result back to the
// caller, and a small state machine guarding single-assignment
// completion.
type tuple[K, R any] struct {
	arg      K
	identity any

	sink *sink[R]

	state atomic.Int32
}

func newTuple[K, R any](arg K, identity any) *tuple[K, R] {
	t := &tuple[K, R]{
		arg:      arg,
		identity: identity,
		sink:     newSink[R](),
	}
	t.state.Store(int32(tuplePending))
	return t
}

// markDispatched records that the tuple has been handed to the
// Dispatcher and is no longer eligible for RingBuffer-side cancellation.
func (t *tuple[K, R]) markDispatched() {
	t.state.CompareAndSwap(int32(tuplePending), int32(tupleDispatched))
}

// tryCancel marks the tuple cancelled iff the Dispatcher has not yet
// marked it dispatched (it may still be in the RingBuffer or already in
// a closed batch). Returns true if the cancellation took effect. Once a
// tuple has been dispatched, cancellation is a no-op: at-most-once
// delivery cannot be revoked once the callback has begun.
func (t *tuple[K, R]) tryCancel() bool {
	return t.state.CompareAndSwap(int32(tuplePending), int32(tupleCancelled))
}

func (t *tuple[K, R]) isCancelled() bool {
	return tupleState(t.state.Load()) == tupleCancelled
}

func (t *tuple[K, R]) complete(val R) {
	if t.state.Swap(int32(tupleCompleted)) == int32(tupleCompleted) {
		return
	}
	t.sink.complete(val)
}

func (t *tuple[K, R]) fail(err error) {
	if t.state.Swap(int32(tupleCompleted)) == int32(tupleCompleted) {
		return
	}
	t.sink.fail(err)
}
