// Package worker runs the scrape workers that drain the task queue.
package worker

import (
	"context"
	"errors"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/repository"
	"github.com/user/nexus-ingest/internal/usecase"
	"github.com/user/nexus-ingest/pkg/metrics"
)

// TaskProcessor runs one attempt of a task.
type TaskProcessor interface {
	Process(ctx context.Context, task entity.ScrapeTask) usecase.Outcome
}

// Config sizes the pool.
type Config struct {
	Workers         int
	PollWait        time.Duration
	PromoteInterval time.Duration
	// HeartbeatInterval must stay well below the queue's lease TTL.
	HeartbeatInterval time.Duration
}

// Pool manages the worker goroutines and the delayed-task promoter.
type Pool struct {
	queue     repository.QueueRepository
	jobs      repository.JobRepository
	processor TaskProcessor
	metrics   *metrics.Metrics
	logger    *zap.Logger
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	// The heartbeat outlives the workers so in-flight leases stay owned
	// until the last task is handled.
	hbCancel context.CancelFunc
	hbDone   chan struct{}
}

func NewPool(queue repository.QueueRepository, jobs repository.JobRepository, p TaskProcessor, m *metrics.Metrics, l *zap.Logger, cfg Config) *Pool {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.PollWait <= 0 {
		cfg.PollWait = time.Second
	}
	if cfg.PromoteInterval <= 0 {
		cfg.PromoteInterval = time.Second
	}
	if cfg.HeartbeatInterval <= 0 {
		cfg.HeartbeatInterval = 5 * time.Second
	}
	return &Pool{queue: queue, jobs: jobs, processor: p, metrics: m, logger: l, cfg: cfg}
}

// Start claims this process's leases, returns tasks orphaned by dead workers
// to the queue and launches the workers.
func (p *Pool) Start(ctx context.Context) error {
	if err := p.queue.Heartbeat(ctx); err != nil {
		return err
	}
	recovered, err := p.queue.Recover(ctx)
	if err != nil {
		return err
	}
	if recovered > 0 {
		p.logger.Info("recovered in-flight tasks", zap.Int("count", recovered))
	}

	hbCtx, hbCancel := context.WithCancel(context.WithoutCancel(ctx))
	p.hbCancel, p.hbDone = hbCancel, make(chan struct{})
	go p.heartbeat(hbCtx)

	p.ctx, p.cancel = context.WithCancel(ctx)
	for i := 0; i < p.cfg.Workers; i++ {
		p.wg.Add(1)
		go p.worker(i)
	}
	p.wg.Add(1)
	go p.promoter()
	return nil
}

// Stop stops dequeuing and waits for in-flight tasks to finish.
func (p *Pool) Stop() {
	if p.cancel == nil {
		return
	}
	p.cancel()
	p.wg.Wait()
	p.hbCancel()
	<-p.hbDone
}

// Run starts the pool and blocks until ctx is done.
func (p *Pool) Run(ctx context.Context) error {
	if err := p.Start(ctx); err != nil {
		return err
	}
	<-ctx.Done()
	p.Stop()
	return nil
}

func (p *Pool) worker(id int) {
	defer p.wg.Done()
	log := p.logger.With(zap.Int("worker", id))
	for {
		if p.ctx.Err() != nil {
			return
		}
		lease, err := p.queue.Dequeue(p.ctx, p.cfg.PollWait)
		switch {
		case errors.Is(err, repository.ErrQueueEmpty):
			continue
		case err != nil:
			if p.ctx.Err() != nil {
				return
			}
			log.Error("dequeue failed", zap.Error(err))
			p.sleep(p.cfg.PollWait)
			continue
		}
		p.handle(log, lease)
	}
}

// handle runs a task to its next resting point. It is not cancelled by Stop.
func (p *Pool) handle(log *zap.Logger, lease *repository.Lease) {
	ctx := context.WithoutCancel(p.ctx)
	task := lease.Task
	outcome := p.processor.Process(ctx, task)

	switch {
	case outcome.State == usecase.StateRetrying && outcome.Next != nil:
		if err := p.queue.Schedule(ctx, *outcome.Next, outcome.Delay); err != nil {
			// Leave it in flight; Recover picks it up once this lease lapses.
			log.Error("failed to reschedule task", zap.String("task_id", task.TaskID), zap.Error(err))
			return
		}
	case outcome.Terminal():
		if err := p.jobs.RecordResult(ctx, task.JobID, outcome.TaskResult()); err != nil {
			log.Warn("failed to record job result", zap.String("job_id", task.JobID), zap.Error(err))
		}
	default:
		log.Error("unexpected outcome", zap.String("task_id", task.TaskID), zap.String("state", string(outcome.State)))
	}

	if err := p.queue.Ack(ctx, lease); err != nil {
		log.Warn("failed to ack task", zap.String("task_id", task.TaskID), zap.Error(err))
	}
}

func (p *Pool) promoter() {
	defer p.wg.Done()
	ticker := time.NewTicker(p.cfg.PromoteInterval)
	defer ticker.Stop()
	for {
		select {
		case <-p.ctx.Done():
			return
		case now := <-ticker.C:
			n, err := p.queue.PromoteDue(p.ctx, now)
			if err != nil {
				if p.ctx.Err() == nil {
					p.logger.Warn("failed to promote delayed tasks", zap.Error(err))
				}
				continue
			}
			if n > 0 {
				p.logger.Debug("promoted delayed tasks", zap.Int("count", n))
			}
			if size, err := p.queue.Size(p.ctx); err == nil {
				p.metrics.QueueDepth.Set(float64(size))
			}
		}
	}
}

func (p *Pool) heartbeat(ctx context.Context) {
	defer close(p.hbDone)
	ticker := time.NewTicker(p.cfg.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := p.queue.Heartbeat(ctx); err != nil && ctx.Err() == nil {
				p.logger.Warn("failed to renew task leases", zap.Error(err))
			}
		}
	}
}

func (p *Pool) sleep(d time.Duration) {
	select {
	case <-p.ctx.Done():
	case <-time.After(d):
	}
}
