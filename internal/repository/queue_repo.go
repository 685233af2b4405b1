package repository

import (
	"context"
	"errors"
	"time"

	"github.com/user/nexus-ingest/internal/entity"
)

// ErrQueueEmpty is returned by Dequeue when no task arrived before the wait expired.
var ErrQueueEmpty = errors.New("queue is empty")

// QueueRepository is the at-least-once work queue feeding the workers.
type QueueRepository interface {
	// Enqueue makes a task immediately available.
	Enqueue(ctx context.Context, task entity.ScrapeTask) error
	// EnqueueMany makes all tasks available atomically: all of them or none.
	EnqueueMany(ctx context.Context, tasks []entity.ScrapeTask) error
	// Schedule makes a task available once delay has elapsed.
	Schedule(ctx context.Context, task entity.ScrapeTask, delay time.Duration) error
	// Dequeue blocks up to wait for a task. The returned lease must be acked
	// once the task is rescheduled or finished.
	Dequeue(ctx context.Context, wait time.Duration) (*Lease, error)
	Ack(ctx context.Context, lease *Lease) error
	// PromoteDue moves delayed tasks whose time has come onto the ready queue.
	PromoteDue(ctx context.Context, now time.Time) (int, error)
	// Heartbeat keeps this process's leases alive. A process that stops
	// calling it loses its leases to the next Recover.
	Heartbeat(ctx context.Context) error
	// Recover returns tasks left in flight by crashed workers to the ready
	// queue. Leases of live workers are left alone.
	Recover(ctx context.Context) (int, error)
	Size(ctx context.Context) (int64, error)
}

// Lease is a dequeued task plus the raw payload needed to acknowledge it.
type Lease struct {
	Task entity.ScrapeTask
	Raw  string
}
