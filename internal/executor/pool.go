package executor

import (
	"context"
	"runtime/debug"
	"sync"
	"time"

	"github.com/kumar-ayush101/prompt-scheduler/internal/metrics"
	"github.com/rs/zerolog"
)

// RunFunc executes one job to completion.
type RunFunc func(ctx context.Context, jobID int64)

// Pool consumes triggered job ids from a bounded queue with a fixed number of
// workers, so a burst of triggers cannot start an unbounded number of runs.
type Pool struct {
	mu sync.Mutex

	run       RunFunc
	workers   int
	queueSize int
	log       zerolog.Logger
	metrics   *metrics.Metrics

	queue    chan int64
	stopCh   chan struct{}
	workerWG sync.WaitGroup
}

func NewPool(run RunFunc, workers, queueSize int, log zerolog.Logger, m *metrics.Metrics) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 64
	}
	return &Pool{
		run:       run,
		workers:   workers,
		queueSize: queueSize,
		log:       log.With().Str("component", "pool").Logger(),
		metrics:   m,
	}
}

// Start launches the workers. Runs are detached from ctx cancellation; they
// end on their own timeout.
func (p *Pool) Start(ctx context.Context) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.stopCh != nil {
		return
	}

	p.stopCh = make(chan struct{})
	// fresh queue per start so a stop/start cycle never executes stale triggers
	p.queue = make(chan int64, p.queueSize)
	runCtx := context.WithoutCancel(ctx)
	stopCh, queue := p.stopCh, p.queue

	p.workerWG.Add(p.workers)
	for i := 0; i < p.workers; i++ {
		go func(idx int) {
			defer p.workerWG.Done()
			p.worker(runCtx, stopCh, queue, idx)
		}(i)
	}
	p.log.Info().Int("workers", p.workers).Int("queue_size", p.queueSize).Msg("pool started")
}

func (p *Pool) worker(ctx context.Context, stopCh <-chan struct{}, queue <-chan int64, idx int) {
	for {
		// a closed stopCh wins over queued work
		select {
		case <-stopCh:
			return
		default:
		}

		select {
		case <-stopCh:
			return
		case jobID := <-queue:
			p.metrics.SetQueueDepth(len(queue))
			p.execOne(ctx, jobID, idx)
		}
	}
}

func (p *Pool) execOne(ctx context.Context, jobID int64, idx int) {
	defer func() {
		if r := recover(); r != nil {
			p.log.Error().Int("worker", idx).Int64("job_id", jobID).Interface("panic", r).
				Str("stack", string(debug.Stack())).Msg("panic in pool worker")
		}
	}()
	p.run(ctx, jobID)
}

// Dispatch queues a trigger without blocking. It returns false when the pool
// is stopped or the queue is full; the trigger is then dropped.
func (p *Pool) Dispatch(jobID int64) bool {
	return p.Enqueue(jobID) == nil
}

func (p *Pool) Enqueue(jobID int64) error {
	p.mu.Lock()
	q := p.queue
	p.mu.Unlock()

	if q == nil {
		return ErrStopped
	}
	select {
	case q <- jobID:
		p.metrics.SetQueueDepth(len(q))
		return nil
	default:
		p.metrics.DispatchDropped()
		p.log.Warn().Int64("job_id", jobID).Int("queue_len", len(q)).Int("queue_cap", cap(q)).
			Msg("dispatch queue full; dropping trigger")
		return ErrQueueFull
	}
}

// Depth is the number of triggers waiting for a worker.
func (p *Pool) Depth() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.queue == nil {
		return 0
	}
	return len(p.queue)
}

// Stop stops accepting triggers, discards queued ones and waits for in-flight
// runs until ctx ends.
func (p *Pool) Stop(ctx context.Context) error {
	start := time.Now()
	p.mu.Lock()
	if p.stopCh == nil {
		p.mu.Unlock()
		return nil
	}
	close(p.stopCh)
	p.stopCh = nil
	p.queue = nil
	p.mu.Unlock()
	p.metrics.SetQueueDepth(0)

	done := make(chan struct{})
	go func() {
		p.workerWG.Wait()
		close(done)
	}()
	select {
	case <-done:
		p.log.Info().Dur("took", time.Since(start)).Msg("pool stopped")
		return nil
	case <-ctx.Done():
		p.log.Warn().Msg("pool stop timed out with runs in flight")
		return ctx.Err()
	}
}
