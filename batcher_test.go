package coalesce

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func silentLogger() *logrus.Logger {
	l := logrus.New()
	l.SetLevel(logrus.PanicLevel)
	return l
}

type syncPool struct{}

func (syncPool) Submit(task func()) { task() }

func TestBatcherClosesOnMaxSize(t *testing.T) {
	var mu sync.Mutex
	var closed [][]*tuple[int, int]

	cfg := &Config[int, int]{Window: time.Hour, MaxSize: 3, WorkerPool: syncPool{}}
	rb := newRingBuffer[int, int](8)
	b := newBatcher(rb, cfg, silentLogger(), func(bt *batch[int, int]) {
		mu.Lock()
		closed = append(closed, bt.members)
		mu.Unlock()
	})
	defer b.requestStop()

	for i := 0; i < 3; i++ {
		require.NoError(t, rb.put(context.Background(), newTuple[int, int](i, i)))
	}

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closed) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, closed[0], 3)
	mu.Unlock()
}

func TestBatcherClosesOnWindowElapsed(t *testing.T) {
	var mu sync.Mutex
	var closed [][]*tuple[int, int]

	cfg := &Config[int, int]{Window: 20 * time.Millisecond, MaxSize: 100, WorkerPool: syncPool{}}
	rb := newRingBuffer[int, int](8)
	b := newBatcher(rb, cfg, silentLogger(), func(bt *batch[int, int]) {
		mu.Lock()
		closed = append(closed, bt.members)
		mu.Unlock()
	})
	defer b.requestStop()

	require.NoError(t, rb.put(context.Background(), newTuple[int, int](1, 1)))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(closed) == 1
	}, time.Second, 5*time.Millisecond)

	mu.Lock()
	assert.Len(t, closed[0], 1)
	mu.Unlock()
}

func TestBatcherRequestStopFlushesRemaining(t *testing.T) {
	var mu sync.Mutex
	var total int

	cfg := &Config[int, int]{Window: time.Hour, MaxSize: 100, WorkerPool: syncPool{}}
	rb := newRingBuffer[int, int](8)
	b := newBatcher(rb, cfg, silentLogger(), func(bt *batch[int, int]) {
		mu.Lock()
		total += len(bt.members)
		mu.Unlock()
	})

	for i := 0; i < 5; i++ {
		require.NoError(t, rb.put(context.Background(), newTuple[int, int](i, i)))
	}
	// Give the Idle draw a moment to pick up at least the first tuple
	// before we request a stop mid-fill.
	time.Sleep(10 * time.Millisecond)

	b.requestStop()

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 5, total)
}

func TestBatcherUpdateConfigSwapsWindow(t *testing.T) {
	cfg := &Config[int, int]{Window: time.Hour, MaxSize: 100, WorkerPool: syncPool{}}
	rb := newRingBuffer[int, int](8)
	b := newBatcher(rb, cfg, silentLogger(), func(bt *batch[int, int]) {})
	defer b.requestStop()

	newCfg := &Config[int, int]{Window: 5 * time.Millisecond, MaxSize: 100, WorkerPool: syncPool{}}
	b.updateConfig(newCfg)

	assert.Equal(t, 5*time.Millisecond, b.currentConfig().Window)
}
