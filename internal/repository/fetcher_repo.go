package repository

import (
	"context"

	"github.com/user/nexus-ingest/internal/proxy"
)

// FetchRequest describes one HTTP GET through the anti-detection layer.
type FetchRequest struct {
	URL     string
	Tier    proxy.Tier
	Profile proxy.Profile
	// Headers are applied on top of the profile's own headers.
	Headers map[string]string
}

// FetchOutcome is the raw result of a successful round trip. Any HTTP status
// counts as a round trip; interpreting it is the caller's job.
type FetchOutcome struct {
	StatusCode int
	Body       []byte
	FinalURL   string
}

// FetcherRepository performs HTTP requests. Implementations never retry;
// failures come back as errors wrapping entity.ErrNetwork or entity.ErrTimeout.
type FetcherRepository interface {
	Fetch(ctx context.Context, req FetchRequest) (*FetchOutcome, error)
}
