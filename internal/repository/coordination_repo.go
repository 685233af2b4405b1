package repository

import (
	"context"
	"time"
)

// CoordinationPrimitives is the raw key/value and set contract of the shared
// coordination store. Each method is atomic on its own.
type CoordinationPrimitives interface {
	IsMember(ctx context.Context, setKey, value string) (bool, error)
	// AddMember adds value to the set. A positive ttl (re)sets the set's expiry.
	AddMember(ctx context.Context, setKey, value string, ttl time.Duration) error
	Incr(ctx context.Context, counterKey string) (int64, error)
	Reset(ctx context.Context, counterKey string) error
	SetFlag(ctx context.Context, key string, ttl time.Duration) error
	GetFlag(ctx context.Context, key string) (bool, error)
}

// CoordinationStore is what every worker needs from the shared store for
// dedup records, failure counters and circuit-breaker flags. Multi-key updates
// are issued as one atomic step.
type CoordinationStore interface {
	// IsDuplicate checks the site success set and the tenant seen set together.
	IsDuplicate(ctx context.Context, siteType, tenantID, url string) (bool, error)
	// BreakerActive reports whether the site's circuit breaker flag is set.
	BreakerActive(ctx context.Context, siteType string) (bool, error)
	// RecordFailure increments the site's failure counter and, in the same
	// atomic step, trips the breaker once the counter reaches threshold.
	RecordFailure(ctx context.Context, siteType string, threshold int64, breakerTTL time.Duration) (count int64, tripped bool, err error)
	// RecordSuccess resets the failure counter and writes both dedup entries
	// in one atomic batch.
	RecordSuccess(ctx context.Context, siteType, tenantID, url string, freshness time.Duration) error
}
