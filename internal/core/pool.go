package core

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	ErrPoolNotStarted     = errors.New("worker pool not started")
	ErrPoolAlreadyStarted = errors.New("worker pool already started")
	ErrPoolStopped        = errors.New("worker pool stopped")
	ErrStopTimeout        = errors.New("worker pool stop timed out")
)

// Pool processes work items of type T on a fixed number of goroutines fed
// from a bounded queue. Submit blocks while the queue is full.
type Pool[T any] struct {
	workers   int
	queueSize int
	processor func(context.Context, T) error
	discard   func(T)
	depth     prometheus.Gauge

	workChan chan T
	wg       sync.WaitGroup
	cancel   context.CancelFunc

	// submitters hold the read lock while sending so Stop never closes the
	// channel under them.
	lifecycleMu sync.RWMutex
	started     bool
	stopped     bool

	pendingMu sync.Mutex
	pending   int
	idle      chan struct{}

	submitted atomic.Int64
	processed atomic.Int64
	failed    atomic.Int64
	discarded atomic.Int64
}

type PoolOption[T any] func(*Pool[T])

// WithDiscard sets the function called for each queued item that is never
// processed because Stop timed out.
func WithDiscard[T any](fn func(T)) PoolOption[T] {
	return func(p *Pool[T]) {
		p.discard = fn
	}
}

// WithQueueDepthGauge reports the queue length after every submit and receive.
func WithQueueDepthGauge[T any](gauge prometheus.Gauge) PoolOption[T] {
	return func(p *Pool[T]) {
		p.depth = gauge
	}
}

func NewPool[T any](workers, queueSize int, processor func(context.Context, T) error, opts ...PoolOption[T]) *Pool[T] {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if processor == nil {
		panic("worker pool needs a processor")
	}

	p := &Pool[T]{
		workers:   workers,
		queueSize: queueSize,
		processor: processor,
		workChan:  make(chan T, queueSize),
		idle:      make(chan struct{}),
	}
	close(p.idle)
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Start launches the workers. Work runs with a context derived from ctx that
// is cancelled only when Stop gives up waiting, so queued work can finish
// after the caller's context ends.
func (p *Pool[T]) Start(ctx context.Context) error {
	p.lifecycleMu.Lock()
	defer p.lifecycleMu.Unlock()

	if p.started {
		return ErrPoolAlreadyStarted
	}

	workCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	p.cancel = cancel

	for i := 0; i < p.workers; i++ {
		p.wg.Add(1)
		go p.worker(workCtx)
	}

	p.started = true
	return nil
}

func (p *Pool[T]) Started() bool {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()
	return p.started && !p.stopped
}

// Submit queues work, waiting for room while the queue is full.
func (p *Pool[T]) Submit(ctx context.Context, work T) error {
	p.lifecycleMu.RLock()
	defer p.lifecycleMu.RUnlock()

	if !p.started {
		return ErrPoolNotStarted
	}
	if p.stopped {
		return ErrPoolStopped
	}

	p.addPending()
	// a free slot always wins over a cancelled ctx
	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.reportDepth()
		return nil
	default:
	}

	select {
	case p.workChan <- work:
		p.submitted.Add(1)
		p.reportDepth()
		return nil
	case <-ctx.Done():
		p.donePending()
		return ctx.Err()
	}
}

// Wait blocks until every submitted item has been processed or discarded.
func (p *Pool[T]) Wait(ctx context.Context) error {
	p.pendingMu.Lock()
	idle := p.idle
	p.pendingMu.Unlock()

	select {
	case <-idle:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Pool[T]) addPending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	if p.pending == 0 {
		p.idle = make(chan struct{})
	}
	p.pending++
}

func (p *Pool[T]) donePending() {
	p.pendingMu.Lock()
	defer p.pendingMu.Unlock()
	p.pending--
	if p.pending == 0 {
		close(p.idle)
	}
}

// Stop closes the queue and waits for queued work to finish. After timeout the
// workers' context is cancelled and unprocessed items go to the discard func.
func (p *Pool[T]) Stop(timeout time.Duration) error {
	p.lifecycleMu.Lock()
	if !p.started || p.stopped {
		p.lifecycleMu.Unlock()
		return nil
	}
	p.stopped = true
	close(p.workChan)
	p.lifecycleMu.Unlock()

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-done:
		p.cancel()
		return nil
	case <-timer.C:
		p.cancel()
		for work := range p.workChan {
			p.discardWork(work)
		}
		p.reportDepth()
		return ErrStopTimeout
	}
}

type PoolStats struct {
	Workers    int
	QueueSize  int
	QueueDepth int
	Submitted  int64
	Processed  int64
	Failed     int64
	Discarded  int64
}

func (p *Pool[T]) Stats() PoolStats {
	return PoolStats{
		Workers:    p.workers,
		QueueSize:  p.queueSize,
		QueueDepth: len(p.workChan),
		Submitted:  p.submitted.Load(),
		Processed:  p.processed.Load(),
		Failed:     p.failed.Load(),
		Discarded:  p.discarded.Load(),
	}
}

func (p *Pool[T]) worker(ctx context.Context) {
	defer p.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case work, ok := <-p.workChan:
			if !ok {
				return
			}
			p.reportDepth()
			if ctx.Err() != nil {
				p.discardWork(work)
				continue
			}

			if err := p.processor(ctx, work); err != nil {
				p.failed.Add(1)
			}
			p.processed.Add(1)
			p.donePending()
		}
	}
}

func (p *Pool[T]) discardWork(work T) {
	p.discarded.Add(1)
	if p.discard != nil {
		p.discard(work)
	}
	p.donePending()
}

func (p *Pool[T]) reportDepth() {
	if p.depth != nil {
		p.depth.Set(float64(len(p.workChan)))
	}
}
