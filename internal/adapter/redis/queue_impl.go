package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/repository"
)

const (
	promoteBatch    = 100
	defaultLeaseTTL = 30 * time.Second
)

// promoteScript moves due members of the delayed ZSET onto the ready list.
var promoteScript = redis.NewScript(`
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('LPUSH', KEYS[2], member)
  redis.call('ZREM', KEYS[1], member)
end
return #due
`)

// QueueRepoImpl implements repository.QueueRepository with a Redis list for
// ready tasks, one processing list per worker process for in-flight tasks and
// a sorted set for delayed retries.
//
// Every process owns its leases. It renews a heartbeat key with Heartbeat, and
// Recover only reclaims the processing lists of owners whose heartbeat has
// expired, so a starting process never takes tasks a live one is working on.
type QueueRepoImpl struct {
	client   redis.UniversalClient
	owner    string
	leaseTTL time.Duration
}

// QueueOption configures a QueueRepoImpl.
type QueueOption func(*QueueRepoImpl)

// WithLeaseOwner names the worker process that owns the leases taken through
// this queue. It must be unique among live processes. Defaults to a random ID.
func WithLeaseOwner(owner string) QueueOption {
	return func(r *QueueRepoImpl) {
		if owner != "" {
			r.owner = owner
		}
	}
}

// WithLeaseTTL sets how long leases survive without a heartbeat.
func WithLeaseTTL(ttl time.Duration) QueueOption {
	return func(r *QueueRepoImpl) {
		if ttl > 0 {
			r.leaseTTL = ttl
		}
	}
}

// NewQueueRepo creates a new instance of QueueRepoImpl.
func NewQueueRepo(client redis.UniversalClient, opts ...QueueOption) *QueueRepoImpl {
	r := &QueueRepoImpl{client: client, owner: uuid.NewString(), leaseTTL: defaultLeaseTTL}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Owner returns the lease owner of this queue handle.
func (r *QueueRepoImpl) Owner() string { return r.owner }

// LeaseTTL returns how long leases survive without a heartbeat.
func (r *QueueRepoImpl) LeaseTTL() time.Duration { return r.leaseTTL }

// Enqueue adds a task to the left side of the ready list.
func (r *QueueRepoImpl) Enqueue(ctx context.Context, task entity.ScrapeTask) error {
	return r.EnqueueMany(ctx, []entity.ScrapeTask{task})
}

// EnqueueMany pushes all tasks with a single LPUSH, so either every task is
// queued or none is. Tasks are dequeued in slice order.
func (r *QueueRepoImpl) EnqueueMany(ctx context.Context, tasks []entity.ScrapeTask) error {
	if len(tasks) == 0 {
		return nil
	}
	payloads := make([]any, 0, len(tasks))
	for _, task := range tasks {
		payload, err := json.Marshal(task)
		if err != nil {
			return fmt.Errorf("encode task %s: %w", task.TaskID, err)
		}
		payloads = append(payloads, payload)
	}
	return r.client.LPush(ctx, readyQueueKey, payloads...).Err()
}

// Schedule parks a task in the delayed set, scored by its due time.
func (r *QueueRepoImpl) Schedule(ctx context.Context, task entity.ScrapeTask, delay time.Duration) error {
	payload, err := json.Marshal(task)
	if err != nil {
		return fmt.Errorf("encode task %s: %w", task.TaskID, err)
	}
	due := time.Now().Add(delay).UnixMilli()
	return r.client.ZAdd(ctx, delayedSetKey, redis.Z{Score: float64(due), Member: string(payload)}).Err()
}

// Heartbeat registers the owner and renews its lease deadline. Call it before
// the first Dequeue and then well within every lease TTL.
func (r *QueueRepoImpl) Heartbeat(ctx context.Context) error {
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, workerSetKey, r.owner)
		pipe.Set(ctx, heartbeatKey(r.owner), time.Now().UTC().Format(time.RFC3339), r.leaseTTL)
		return nil
	})
	if err != nil {
		return fmt.Errorf("heartbeat %s: %w", r.owner, err)
	}
	return nil
}

// Dequeue atomically moves the oldest ready task to this owner's processing
// list, so a worker crash leaves it recoverable instead of lost.
func (r *QueueRepoImpl) Dequeue(ctx context.Context, wait time.Duration) (*repository.Lease, error) {
	leased := processingKey(r.owner)
	raw, err := r.client.BLMove(ctx, readyQueueKey, leased, "RIGHT", "LEFT", wait).Result()
	if errors.Is(err, redis.Nil) {
		return nil, repository.ErrQueueEmpty
	}
	if err != nil {
		return nil, fmt.Errorf("dequeue: %w", err)
	}
	var task entity.ScrapeTask
	if err := json.Unmarshal([]byte(raw), &task); err != nil {
		decodeErr := fmt.Errorf("decode task: %w", err)
		// Poison message: drop it so it is not recovered forever.
		if remErr := r.client.LRem(ctx, leased, 1, raw).Err(); remErr != nil {
			return nil, errors.Join(decodeErr, fmt.Errorf("drop undecodable task: %w", remErr))
		}
		return nil, decodeErr
	}
	return &repository.Lease{Task: task, Raw: raw}, nil
}

// Ack removes a finished lease from this owner's processing list.
func (r *QueueRepoImpl) Ack(ctx context.Context, lease *repository.Lease) error {
	return r.client.LRem(ctx, processingKey(r.owner), 1, lease.Raw).Err()
}

// PromoteDue moves every delayed task due at now onto the ready list.
func (r *QueueRepoImpl) PromoteDue(ctx context.Context, now time.Time) (int, error) {
	total := 0
	for {
		n, err := promoteScript.Run(ctx, r.client,
			[]string{delayedSetKey, readyQueueKey},
			strconv.FormatInt(now.UnixMilli(), 10), promoteBatch,
		).Int()
		if err != nil {
			return total, fmt.Errorf("promote delayed tasks: %w", err)
		}
		total += n
		if n < promoteBatch {
			return total, nil
		}
	}
}

// Recover returns orphaned leases to the ready list: those of every registered
// owner whose heartbeat has expired, and this owner's own leases left by its
// previous run. Call it before this owner starts dequeuing.
func (r *QueueRepoImpl) Recover(ctx context.Context) (int, error) {
	owners, err := r.client.SMembers(ctx, workerSetKey).Result()
	if err != nil {
		return 0, fmt.Errorf("list lease owners: %w", err)
	}
	self := false
	for _, owner := range owners {
		self = self || owner == r.owner
	}
	if !self {
		owners = append(owners, r.owner)
	}

	total := 0
	for _, owner := range owners {
		if owner != r.owner {
			alive, err := r.client.Exists(ctx, heartbeatKey(owner)).Result()
			if err != nil {
				return total, fmt.Errorf("check lease owner %s: %w", owner, err)
			}
			if alive > 0 {
				continue
			}
		}
		n, err := r.reclaim(ctx, processingKey(owner))
		total += n
		if err != nil {
			return total, err
		}
		if owner != r.owner {
			if err := r.client.SRem(ctx, workerSetKey, owner).Err(); err != nil {
				return total, fmt.Errorf("forget lease owner %s: %w", owner, err)
			}
		}
	}
	return total, nil
}

// reclaim moves a processing list back onto the consuming end of the ready
// list. Each LMOVE is atomic, so two processes reclaiming the same dead owner
// never duplicate a task.
func (r *QueueRepoImpl) reclaim(ctx context.Context, leased string) (int, error) {
	n := 0
	for {
		_, err := r.client.LMove(ctx, leased, readyQueueKey, "RIGHT", "RIGHT").Result()
		if errors.Is(err, redis.Nil) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("recover %s: %w", leased, err)
		}
		n++
	}
}

// Size returns the current number of ready tasks.
func (r *QueueRepoImpl) Size(ctx context.Context) (int64, error) {
	return r.client.LLen(ctx, readyQueueKey).Result()
}
