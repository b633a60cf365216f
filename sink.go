package coalesce

import (
	"context"
	"sync"

	"coalesce/pkg/coalerr"
)

// sink is the single-assignment completion primitive shared by all
// three delivery modalities. It resolves exactly once, waking every
// waiter registered before resolution.
type sink[R any] struct {
	mu       sync.Mutex
	done     chan struct{}
	resolved bool
	value    R
	err      error
}

func newSink[R any]() *sink[R] {
	return &sink[R]{done: make(chan struct{})}
}

func (s *sink[R]) complete(val R) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.value = val
	s.resolved = true
	close(s.done)
	s.mu.Unlock()
}

func (s *sink[R]) fail(err error) {
	s.mu.Lock()
	if s.resolved {
		s.mu.Unlock()
		return
	}
	s.err = err
	s.resolved = true
	close(s.done)
	s.mu.Unlock()
}

// await blocks the calling goroutine until the sink resolves or ctx is
// cancelled, implementing the Blocking delivery modality's await
// operation.
func (s *sink[R]) await(ctx context.Context) (R, error) {
	select {
	case <-s.done:
		return s.value, s.err
	case <-ctx.Done():
		var zero R
		return zero, &coalerr.CoalesceError{Kind: coalerr.Interrupted, Cause: ctx.Err()}
	}
}

// Future is the Deferred delivery handle returned by
// Coordinator.ExecuteAsFuture.
type Future[R any] struct {
	sink   *sink[R]
	cancel func() bool
}

// Get blocks until the result is available.
func (f *Future[R]) Get(ctx context.Context) (R, error) {
	select {
	case <-f.sink.done:
		return f.sink.value, f.sink.err
	case <-ctx.Done():
		var zero R
		return zero, &coalerr.CoalesceError{Kind: coalerr.Timeout, Cause: ctx.Err()}
	}
}

// IsDone reports whether the future has resolved.
func (f *Future[R]) IsDone() bool {
	select {
	case <-f.sink.done:
		return true
	default:
		return false
	}
}

// IsCancelled reports whether Cancel successfully removed the
// underlying tuple before it was dispatched.
func (f *Future[R]) IsCancelled() bool {
	if !f.IsDone() {
		return false
	}
	ce, ok := f.sink.err.(*coalerr.CoalesceError)
	return ok && ce.Kind == coalerr.Cancelled
}

// Cancel attempts to remove the tuple before dispatch. Best-effort: a
// tuple already handed to the Dispatcher cannot be recalled.
func (f *Future[R]) Cancel() bool {
	return f.cancel()
}

// Mono is a cold, single-value asynchronous publisher: submission is
// deferred until the first Subscribe call, and each Subscribe triggers
// an independent submission.
type Mono[R any] struct {
	subscribe func() *sink[R]
}

// MonoSubscription observes a single Mono subscription's eventual
// value or error.
type MonoSubscription[R any] struct {
	sink *sink[R]
}

// Subscribe triggers submission and returns a handle to observe the
// eventual value.
func (m *Mono[R]) Subscribe() *MonoSubscription[R] {
	return &MonoSubscription[R]{sink: m.subscribe()}
}

// Block waits for onNext/onComplete or onError, mapped to (value, nil)
// or (zero, err) respectively.
func (s *MonoSubscription[R]) Block(ctx context.Context) (R, error) {
	select {
	case <-s.sink.done:
		return s.sink.value, s.sink.err
	case <-ctx.Done():
		var zero R
		return zero, &coalerr.CoalesceError{Kind: coalerr.Interrupted, Cause: ctx.Err()}
	}
}

// OnNext registers a callback invoked exactly once, either with the
// resolved value or with an error, analogous to a reactive-streams
// onNext/onComplete + onError pair.
func (s *MonoSubscription[R]) OnNext(onValue func(R), onError func(error)) {
	go func() {
		<-s.sink.done
		if s.sink.err != nil {
			if onError != nil {
				onError(s.sink.err)
			}
			return
		}
		if onValue != nil {
			onValue(s.sink.value)
		}
	}()
}
