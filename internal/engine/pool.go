// internal/engine/pool.go
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/xkilldash9x/rulecheck/api/schemas"
	"github.com/xkilldash9x/rulecheck/internal/config"
)

// ErrPoolStopped is returned by Enqueue once Stop has been called.
var ErrPoolStopped = errors.New("worker pool is stopped")

// Processor defines the interface for any component that can process a comparison task.
type Processor interface {
	Process(ctx context.Context, task *schemas.ComparisonTask) error
}

// ProcessorFunc adapts a plain function to the Processor interface.
type ProcessorFunc func(ctx context.Context, task *schemas.ComparisonTask) error

func (f ProcessorFunc) Process(ctx context.Context, task *schemas.ComparisonTask) error {
	return f(ctx, task)
}

// Pool runs a fixed number of long-lived workers that pull comparison tasks from a
// single bounded queue. The queue capacity provides backpressure: Enqueue blocks
// while the queue is full.
//
// Every enqueued task is marked complete exactly once, whether its processing
// succeeds, returns an error or panics. A failing task never terminates its worker.
type Pool struct {
	logger    *zap.Logger
	processor Processor
	workers   int
	queue     chan *schemas.ComparisonTask

	// pending counts enqueued tasks that are not yet complete.
	pending sync.WaitGroup
	// workerWG tracks the worker goroutines themselves; only Stop waits on it.
	workerWG  sync.WaitGroup
	completed atomic.Int64
	failed    atomic.Int64

	stateLock sync.Mutex
	isRunning bool
	isStopped bool
}

// New creates a worker pool sized from the engine configuration.
func New(cfg config.Interface, processor Processor, logger *zap.Logger) (*Pool, error) {
	if cfg == nil {
		return nil, errors.New("config cannot be nil")
	}
	if processor == nil {
		return nil, errors.New("processor cannot be nil")
	}
	if logger == nil {
		return nil, errors.New("logger cannot be nil")
	}

	engineCfg := cfg.Engine()
	if engineCfg.WorkerConcurrency <= 0 {
		return nil, fmt.Errorf("worker concurrency must be positive, got %d", engineCfg.WorkerConcurrency)
	}
	if engineCfg.QueueSize <= 0 {
		return nil, fmt.Errorf("queue size must be positive, got %d", engineCfg.QueueSize)
	}

	return &Pool{
		logger:    logger.Named("engine"),
		processor: processor,
		workers:   engineCfg.WorkerConcurrency,
		queue:     make(chan *schemas.ComparisonTask, engineCfg.QueueSize),
	}, nil
}

// Start launches the workers. It must be called once, before the first Enqueue.
// Workers exit when ctx is cancelled or after Stop.
func (p *Pool) Start(ctx context.Context) {
	p.stateLock.Lock()
	if p.isRunning {
		p.stateLock.Unlock()
		p.logger.Warn("Pool.Start called, but the pool is already running.")
		return
	}
	p.isRunning = true
	p.stateLock.Unlock()

	p.logger.Info("Starting comparison workers",
		zap.Int("workers", p.workers),
		zap.Int("queue_capacity", cap(p.queue)),
	)

	for i := 0; i < p.workers; i++ {
		p.workerWG.Add(1)
		go p.runWorker(ctx, i+1)
	}
}

// Enqueue adds a task to the queue, blocking while the queue is full. It returns
// ctx.Err() if ctx ends before a slot frees up. Enqueue must not race with Stop.
func (p *Pool) Enqueue(ctx context.Context, task *schemas.ComparisonTask) error {
	if task == nil {
		return errors.New("task cannot be nil")
	}

	p.stateLock.Lock()
	stopped := p.isStopped
	p.stateLock.Unlock()
	if stopped {
		return ErrPoolStopped
	}

	p.pending.Add(1)
	select {
	case p.queue <- task:
		return nil
	case <-ctx.Done():
		p.pending.Done()
		return ctx.Err()
	}
}

// Wait blocks until every enqueued task has been marked complete, or ctx ends.
func (p *Pool) Wait(ctx context.Context) error {
	drained := make(chan struct{})
	go func() {
		p.pending.Wait()
		close(drained)
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Stop closes the queue and waits for the workers to exit. Tasks still buffered are
// processed first unless the pool's context has been cancelled.
func (p *Pool) Stop() {
	p.stateLock.Lock()
	if p.isStopped {
		p.stateLock.Unlock()
		return
	}
	p.isStopped = true
	p.stateLock.Unlock()

	close(p.queue)
	p.workerWG.Wait()
	p.logger.Debug("Comparison workers stopped.")
}

// Completed returns how many tasks have been marked complete.
func (p *Pool) Completed() int64 { return p.completed.Load() }

// Failed returns how many tasks ended with an error or a panic.
func (p *Pool) Failed() int64 { return p.failed.Load() }

// Len returns the number of tasks buffered in the queue.
func (p *Pool) Len() int { return len(p.queue) }

// runWorker is the main loop of a single worker goroutine.
func (p *Pool) runWorker(ctx context.Context, workerID int) {
	defer p.workerWG.Done()
	logger := p.logger.With(zap.Int("worker_id", workerID))
	logger.Debug("Worker started")

	for {
		select {
		case <-ctx.Done():
			logger.Debug("Context cancelled, worker exiting.", zap.Error(ctx.Err()))
			return
		case task, ok := <-p.queue:
			if !ok {
				logger.Debug("Queue closed, worker exiting.")
				return
			}
			p.process(ctx, task, logger)
		}
	}
}

// process runs one task and marks it complete. Errors and panics raised by the
// processor stop here so the worker can move on to the next task.
func (p *Pool) process(ctx context.Context, task *schemas.ComparisonTask, logger *zap.Logger) {
	defer p.pending.Done()
	defer p.completed.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			logger.Error("Recovered from panic while processing task",
				zap.String("rule_file", task.RuleFile),
				zap.Any("panic", r),
				zap.Stack("stack"),
			)
		}
	}()

	if err := p.processor.Process(ctx, task); err != nil {
		p.failed.Add(1)
		logger.Error("Task processing failed",
			zap.String("rule_file", task.RuleFile),
			zap.Error(err),
		)
	}
}
