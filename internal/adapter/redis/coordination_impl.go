package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/user/nexus-ingest/internal/repository"
)

const breakerValue = "active"

// recordFailureScript increments the failure counter and sets the breaker
// flag in one step, so two workers failing together cannot interleave
// between the INCR and the SET.
var recordFailureScript = redis.NewScript(`
local count = redis.call('INCR', KEYS[1])
if count >= tonumber(ARGV[1]) then
  redis.call('SET', KEYS[2], ARGV[3], 'EX', tonumber(ARGV[2]))
  return {count, 1}
end
return {count, 0}
`)

var (
	_ repository.CoordinationStore      = (*CoordinationStoreImpl)(nil)
	_ repository.CoordinationPrimitives = (*CoordinationStoreImpl)(nil)
)

// CoordinationStoreImpl implements repository.CoordinationStore on Redis, and
// the plain repository.CoordinationPrimitives it is built from.
type CoordinationStoreImpl struct {
	client redis.UniversalClient
}

// NewCoordinationStore creates a new instance of CoordinationStoreImpl.
func NewCoordinationStore(client redis.UniversalClient) *CoordinationStoreImpl {
	return &CoordinationStoreImpl{client: client}
}

func (s *CoordinationStoreImpl) IsMember(ctx context.Context, setKey, value string) (bool, error) {
	return s.client.SIsMember(ctx, setKey, value).Result()
}

func (s *CoordinationStoreImpl) AddMember(ctx context.Context, setKey, value string, ttl time.Duration) error {
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.SAdd(ctx, setKey, value)
		if ttl > 0 {
			pipe.Expire(ctx, setKey, ttl)
		}
		return nil
	})
	return err
}

func (s *CoordinationStoreImpl) Incr(ctx context.Context, counterKey string) (int64, error) {
	return s.client.Incr(ctx, counterKey).Result()
}

func (s *CoordinationStoreImpl) Reset(ctx context.Context, counterKey string) error {
	return s.client.Del(ctx, counterKey).Err()
}

func (s *CoordinationStoreImpl) SetFlag(ctx context.Context, key string, ttl time.Duration) error {
	return s.client.Set(ctx, key, breakerValue, ttl).Err()
}

func (s *CoordinationStoreImpl) GetFlag(ctx context.Context, key string) (bool, error) {
	_, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// IsDuplicate reads both dedup sets in a single round trip.
func (s *CoordinationStoreImpl) IsDuplicate(ctx context.Context, siteType, tenantID, url string) (bool, error) {
	var inSuccess, inSeen *redis.BoolCmd
	_, err := s.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		inSuccess = pipe.SIsMember(ctx, SuccessSetKey(siteType), url)
		inSeen = pipe.SIsMember(ctx, SeenSetKey(tenantID), url)
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("dedup lookup: %w", err)
	}
	return inSuccess.Val() || inSeen.Val(), nil
}

func (s *CoordinationStoreImpl) BreakerActive(ctx context.Context, siteType string) (bool, error) {
	return s.GetFlag(ctx, BreakerKey(siteType))
}

func (s *CoordinationStoreImpl) RecordFailure(
	ctx context.Context,
	siteType string,
	threshold int64,
	breakerTTL time.Duration,
) (int64, bool, error) {
	ttlSeconds := int64(breakerTTL / time.Second)
	if ttlSeconds < 1 {
		ttlSeconds = 1
	}
	res, err := recordFailureScript.Run(ctx, s.client,
		[]string{FailCountKey(siteType), BreakerKey(siteType)},
		threshold, ttlSeconds, breakerValue,
	).Int64Slice()
	if err != nil {
		return 0, false, fmt.Errorf("record failure: %w", err)
	}
	if len(res) != 2 {
		return 0, false, fmt.Errorf("record failure: unexpected reply %v", res)
	}
	return res[0], res[1] == 1, nil
}

// RecordSuccess runs inside MULTI/EXEC so a crash cannot leave a nonzero
// counter next to a fresh dedup entry.
func (s *CoordinationStoreImpl) RecordSuccess(
	ctx context.Context,
	siteType, tenantID, url string,
	freshness time.Duration,
) error {
	successKey := SuccessSetKey(siteType)
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, FailCountKey(siteType))
		pipe.SAdd(ctx, successKey, url)
		pipe.SAdd(ctx, SeenSetKey(tenantID), url)
		if freshness > 0 {
			pipe.Expire(ctx, successKey, freshness)
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("record success: %w", err)
	}
	return nil
}
