// Package strategy holds the site-specific fetch and parse strategies and the
// registry that routes a URL to one of them.
package strategy

import (
	"context"
	"fmt"
	"net/http"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

// Strategy fetches a product page for one family of sites and extracts it.
type Strategy interface {
	Name() string
	// ProxyTier is the site's default tier. The orchestrator only escalates
	// on top of it, never below it.
	ProxyTier() proxy.Tier
	// FetchAndParse returns nil without an error when the page came back but
	// held no usable product. Transport failures are returned as errors.
	FetchAndParse(ctx context.Context, url string, tier proxy.Tier, profile proxy.Profile) (*entity.ExtractionResult, error)
}

// pageLoader fetches a page at most once and shares it between waterfall stages.
type pageLoader struct {
	fetch  func(ctx context.Context) (*repository.FetchOutcome, error)
	loaded bool
	page   *repository.FetchOutcome
	err    error
}

func (l *pageLoader) load(ctx context.Context) (*repository.FetchOutcome, error) {
	if !l.loaded {
		l.page, l.err = l.fetch(ctx)
		l.loaded = true
	}
	return l.page, l.err
}

// html returns the page body, or "" when the page is not a 200.
func (l *pageLoader) html(ctx context.Context) (string, error) {
	page, err := l.load(ctx)
	if err != nil {
		return "", err
	}
	if page.StatusCode != http.StatusOK {
		return "", nil
	}
	return string(page.Body), nil
}

func newPageLoader(fetcher repository.FetcherRepository, req repository.FetchRequest) *pageLoader {
	return &pageLoader{fetch: func(ctx context.Context) (*repository.FetchOutcome, error) {
		out, err := fetcher.Fetch(ctx, req)
		if err != nil {
			return nil, fmt.Errorf("fetch %s: %w", req.URL, err)
		}
		return out, nil
	}}
}
