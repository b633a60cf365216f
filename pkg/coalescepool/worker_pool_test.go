package coalescepool

import (
	"io"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetOutput(io.Discard)
	return l
}

func TestFixedPoolRunsSubmittedTasks(t *testing.T) {
	pool := NewFixedPool(Config{MaxWorkers: 4, QueueSize: 16}, silentLogger())
	defer pool.Stop()

	var count atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		pool.Submit(func() {
			defer wg.Done()
			count.Add(1)
		})
	}
	wg.Wait()
	assert.Equal(t, int32(20), count.Load())
}

func TestFixedPoolRecoversPanickingTask(t *testing.T) {
	pool := NewFixedPool(Config{MaxWorkers: 2}, silentLogger())
	defer pool.Stop()

	var ran atomic.Bool
	var wg sync.WaitGroup
	wg.Add(2)
	pool.Submit(func() {
		defer wg.Done()
		panic("boom")
	})
	pool.Submit(func() {
		defer wg.Done()
		ran.Store(true)
	})
	wg.Wait()
	assert.True(t, ran.Load())
}

func TestFixedPoolSubmitNonBlockingRejectsWhenFull(t *testing.T) {
	pool := NewFixedPool(Config{MaxWorkers: 1, QueueSize: 1}, silentLogger())
	defer pool.Stop()

	block := make(chan struct{})
	pool.Submit(func() { <-block })

	var lastErr error
	for i := 0; i < 10; i++ {
		if err := pool.SubmitNonBlocking(func() {}); err != nil {
			lastErr = err
			break
		}
	}
	assert.Equal(t, ErrQueueFull, lastErr)
	close(block)
}

func TestFixedPoolStopWaitsForDrain(t *testing.T) {
	pool := NewFixedPool(Config{MaxWorkers: 1, ShutdownTimeout: time.Second}, silentLogger())

	var done atomic.Bool
	pool.Submit(func() {
		time.Sleep(20 * time.Millisecond)
		done.Store(true)
	})
	pool.Stop()
	assert.True(t, done.Load())
}

func TestFixedPoolSubmitNonBlockingAfterStop(t *testing.T) {
	pool := NewFixedPool(Config{MaxWorkers: 1}, silentLogger())
	pool.Stop()

	err := pool.SubmitNonBlocking(func() {})
	require.Error(t, err)
	assert.Equal(t, ErrPoolNotRunning, err)
}
