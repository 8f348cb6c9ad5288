package task

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// DefaultIdleBackoff is how long a worker sleeps when the queue is empty.
const DefaultIdleBackoff = 5 * time.Second

// WorkerPool manages a pool of worker goroutines that claim tasks from a
// Queue and advance them one step at a time. It handles graceful shutdown
// and worker lifecycle.
type WorkerPool struct {
	// queue is the durable claim protocol
	queue Queue

	// processor computes the next state of each claimed task
	processor TaskProcessor

	config WorkerPoolConfig

	// wg tracks active worker goroutines for clean shutdown
	wg sync.WaitGroup

	// ctx is used for cancellation and shutdown signaling
	ctx context.Context

	// cancel is the function to call to cancel the context
	cancel context.CancelFunc

	logger *slog.Logger

	startOnce sync.Once
	stopOnce  sync.Once
}

// WorkerPoolConfig holds configuration options for the worker pool
type WorkerPoolConfig struct {
	// WorkerCount determines how many concurrent worker goroutines to start
	// If zero or negative, defaults to 1
	WorkerCount int

	// LeaseTTL is the heartbeat age after which a RUNNING task is reclaimable
	LeaseTTL time.Duration

	// IdleBackoff is the pause between claim attempts on an empty queue
	IdleBackoff time.Duration
}

// DefaultWorkerPoolConfig returns a WorkerPoolConfig with reasonable defaults
func DefaultWorkerPoolConfig() WorkerPoolConfig {
	return WorkerPoolConfig{
		WorkerCount: 1,
		LeaseTTL:    DefaultLeaseTTL,
		IdleBackoff: DefaultIdleBackoff,
	}
}

// NewWorkerPool creates a new worker pool with the specified configuration
func NewWorkerPool(queue Queue, processor TaskProcessor, config WorkerPoolConfig, logger *slog.Logger) *WorkerPool {
	logger = logger.With("component", "worker_pool")

	if config.WorkerCount <= 0 {
		logger.Warn("invalid worker count specified, using default",
			"specified_count", config.WorkerCount,
			"default_count", 1)
		config.WorkerCount = 1
	}
	if config.LeaseTTL <= 0 {
		config.LeaseTTL = DefaultLeaseTTL
	}
	if config.IdleBackoff <= 0 {
		config.IdleBackoff = DefaultIdleBackoff
	}

	ctx, cancel := context.WithCancel(context.Background())

	return &WorkerPool{
		queue:     queue,
		processor: processor,
		config:    config,
		ctx:       ctx,
		cancel:    cancel,
		logger:    logger,
	}
}

// Start launches the workers. Calling Start more than once has no effect.
func (p *WorkerPool) Start() {
	p.startOnce.Do(func() {
		p.logger.Info("starting worker pool",
			"worker_count", p.config.WorkerCount,
			"lease_ttl", p.config.LeaseTTL,
			"idle_backoff", p.config.IdleBackoff)

		for i := 0; i < p.config.WorkerCount; i++ {
			p.wg.Add(1)
			go p.worker(i + 1)
		}
	})
}

// Stop signals every worker to exit at its next loop boundary and waits.
// A task already being processed is finished and committed first.
func (p *WorkerPool) Stop() {
	p.stopOnce.Do(func() {
		p.logger.Info("stopping worker pool")
		p.cancel()
		p.wg.Wait()
		p.logger.Info("worker pool stopped")
	})
}

// Run starts the pool and blocks until ctx is done, then stops it.
func (p *WorkerPool) Run(ctx context.Context) error {
	p.Start()
	select {
	case <-ctx.Done():
	case <-p.ctx.Done():
	}
	p.Stop()
	return nil
}

func (p *WorkerPool) worker(id int) {
	defer p.wg.Done()

	log := p.logger.With("worker_id", id)
	log.Debug("worker started")

	for p.ctx.Err() == nil {
		if p.step(p.ctx, log) {
			continue
		}
		select {
		case <-p.ctx.Done():
		case <-time.After(p.config.IdleBackoff):
		}
	}

	log.Debug("worker exiting")
}

// step claims and processes at most one task. It reports whether a task
// was claimed.
func (p *WorkerPool) step(ctx context.Context, log *slog.Logger) bool {
	lease, err := p.queue.ClaimNext(ctx, p.config.LeaseTTL)
	if err != nil {
		if !errors.Is(err, ErrQueueEmpty) && ctx.Err() == nil {
			log.Error("failed to claim task", "error", err)
		}
		return false
	}

	// Shutdown must not interrupt a claimed task.
	taskCtx := context.WithoutCancel(ctx)
	t := lease.Task()
	log = log.With("task_id", t.ID)

	m, err := p.process(taskCtx, lease)
	if err != nil {
		log.Error("abandoning task", "error", err)
		p.abandon(taskCtx, lease, log)
		return true
	}

	if err := p.queue.Commit(taskCtx, lease, m); err != nil {
		log.Error("failed to commit task", "error", err, "next_status", m.Status)
		p.abandon(taskCtx, lease, log)
		return true
	}

	log.Debug("task committed",
		"from_status", t.Status,
		"to_status", m.Status,
		"heartbeat", m.Heartbeat)
	return true
}

func (p *WorkerPool) process(ctx context.Context, lease Lease) (m Mutation, err error) {
	t := lease.Task()
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("task processing panicked", "task_id", t.ID, "panic", r)
			m, err = failed(t, fmt.Sprintf("internal error: %v", r)), nil
		}
	}()
	return p.processor.Process(ctx, t)
}

func (p *WorkerPool) abandon(ctx context.Context, lease Lease, log *slog.Logger) {
	if err := p.queue.Abandon(ctx, lease); err != nil {
		log.Error("failed to abandon task", "error", err)
	}
}
