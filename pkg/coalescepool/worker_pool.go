// Package coalescepool provides the worker-pool abstraction the
// coalescing coordinator needs: an executor that accepts a closure to
// run and may execute it concurrently. FixedPool is adapted from a
// pkg/workerpool/worker_pool.go (round-robin worker assignment, a
// buffered task queue, graceful timed shutdown), generalized from a
// Task{Execute func(ctx) error} envelope to a bare func(), since the
// coalescing coordinator's Batcher hands it already-closed-over
// dispatch work with no need for a worker-owned context or error
// return.
package coalescepool

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/sirupsen/logrus"
)

var (
	// ErrPoolNotRunning is returned by SubmitNonBlocking after Stop.
	ErrPoolNotRunning = fmt.Errorf("coalescepool: pool is not running")
	// ErrQueueFull is returned by SubmitNonBlocking when the task queue
	// has no free capacity.
	ErrQueueFull = fmt.Errorf("coalescepool: task queue is full")
)

// Config configures a FixedPool.
type Config struct {
	MaxWorkers      int           `yaml:"max_workers"`
	QueueSize       int           `yaml:"queue_size"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func (c Config) withDefaults() Config {
	if c.MaxWorkers <= 0 {
		c.MaxWorkers = runtime.NumCPU()
	}
	if c.QueueSize <= 0 {
		c.QueueSize = c.MaxWorkers * 10
	}
	if c.ShutdownTimeout <= 0 {
		c.ShutdownTimeout = 30 * time.Second
	}
	return c
}

type worker struct {
	id       int
	taskChan chan func()
	quit     chan struct{}
}

// FixedPool is a reusable pool of worker goroutines satisfying
// coalesce.WorkerPool.
type FixedPool struct {
	config  Config
	logger  *logrus.Logger
	workers []*worker
	taskQueue chan func()

	wg        sync.WaitGroup
	mutex     sync.RWMutex
	isRunning bool
	done      chan struct{}

	// inFlight counts tasks that have left taskQueue but have not yet
	// been placed into a worker's taskChan, closing the gap Stop's
	// drain wait would otherwise race against.
	inFlight atomic.Int32
}

// NewFixedPool builds and starts a FixedPool.
func NewFixedPool(config Config, logger *logrus.Logger) *FixedPool {
	config = config.withDefaults()
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	p := &FixedPool{
		config:    config,
		logger:    logger,
		taskQueue: make(chan func(), config.QueueSize),
		done:      make(chan struct{}),
	}

	for i := 0; i < config.MaxWorkers; i++ {
		p.workers = append(p.workers, &worker{
			id:       i,
			taskChan: make(chan func(), 1),
			quit:     make(chan struct{}),
		})
	}

	p.start()
	return p
}

func (p *FixedPool) start() {
	p.mutex.Lock()
	defer p.mutex.Unlock()

	for _, w := range p.workers {
		p.wg.Add(1)
		go p.runWorker(w)
	}

	p.wg.Add(1)
	go p.runDispatch()

	p.isRunning = true
}

// Submit enqueues task for execution, blocking if the queue is full.
// Implements coalesce.WorkerPool.
func (p *FixedPool) Submit(task func()) {
	select {
	case p.taskQueue <- task:
	case <-p.done:
	}
}

// SubmitNonBlocking enqueues task if there is free queue capacity,
// returning ErrQueueFull otherwise.
func (p *FixedPool) SubmitNonBlocking(task func()) error {
	p.mutex.RLock()
	running := p.isRunning
	p.mutex.RUnlock()
	if !running {
		return ErrPoolNotRunning
	}

	select {
	case p.taskQueue <- task:
		return nil
	default:
		return ErrQueueFull
	}
}

func (p *FixedPool) runDispatch() {
	defer p.wg.Done()
	for {
		// A task already queued takes priority over a shutdown signal,
		// so Stop never abandons work that Submit already accepted.
		select {
		case task := <-p.taskQueue:
			p.inFlight.Add(1)
			p.assign(task)
			p.inFlight.Add(-1)
			continue
		default:
		}
		select {
		case task := <-p.taskQueue:
			p.inFlight.Add(1)
			p.assign(task)
			p.inFlight.Add(-1)
		case <-p.done:
			return
		}
	}
}

func (p *FixedPool) assign(task func()) {
	for _, w := range p.workers {
		select {
		case w.taskChan <- task:
			return
		default:
			continue
		}
	}
	select {
	case p.workers[0].taskChan <- task:
	case <-p.done:
	}
}

func (p *FixedPool) runWorker(w *worker) {
	defer p.wg.Done()
	for {
		select {
		case task := <-w.taskChan:
			p.execute(w, task)
			continue
		default:
		}
		select {
		case task := <-w.taskChan:
			p.execute(w, task)
		case <-w.quit:
			return
		case <-p.done:
			return
		}
	}
}

func (p *FixedPool) execute(w *worker, task func()) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.WithFields(logrus.Fields{
				"worker_id": w.id,
				"panic":     r,
			}).Error("coalescepool: task panicked")
		}
	}()
	task()
}

// Stop drains in-flight work and halts all workers, waiting up to
// ShutdownTimeout.
func (p *FixedPool) Stop() {
	p.mutex.Lock()
	if !p.isRunning {
		p.mutex.Unlock()
		return
	}
	p.isRunning = false
	p.mutex.Unlock()

	// Give already-queued tasks a chance to drain before halting workers.
	drainDeadline := time.Now().Add(p.config.ShutdownTimeout)
	for (len(p.taskQueue) > 0 || p.inFlight.Load() > 0) && time.Now().Before(drainDeadline) {
		time.Sleep(time.Millisecond)
	}

	close(p.done)

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(p.config.ShutdownTimeout):
		p.logger.Warn("coalescepool: shutdown timed out")
	}
}
