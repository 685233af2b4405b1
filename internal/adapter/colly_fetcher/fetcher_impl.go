package colly_fetcher

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"net/url"
	"os"
	"sync"
	"time"

	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
)

const defaultTimeout = 30 * time.Second

// ProxySource hands out the proxy URL for a tier.
type ProxySource interface {
	ProxyFor(tier proxy.Tier) string
}

// Config controls the fetcher.
type Config struct {
	Timeout time.Duration
	// RatePerHost caps requests per second to a single host. Zero disables it.
	RatePerHost float64
}

// CollyFetcher implements repository.FetcherRepository on top of colly. Every
// call gets its own collector; transports are cached per proxy and profile so
// connections are still pooled.
type CollyFetcher struct {
	cfg     Config
	proxies ProxySource
	logger  *zap.Logger

	mu         sync.Mutex
	transports map[string]*http.Transport
	limiters   map[string]*rate.Limiter
}

// NewCollyFetcher creates a new fetcher implementation using colly.
func NewCollyFetcher(cfg Config, proxies ProxySource, logger *zap.Logger) *CollyFetcher {
	if cfg.Timeout <= 0 {
		cfg.Timeout = defaultTimeout
	}
	return &CollyFetcher{
		cfg:        cfg,
		proxies:    proxies,
		logger:     logger,
		transports: make(map[string]*http.Transport),
		limiters:   make(map[string]*rate.Limiter),
	}
}

// Fetch performs one GET. It never retries.
func (f *CollyFetcher) Fetch(ctx context.Context, req repository.FetchRequest) (*repository.FetchOutcome, error) {
	target, err := url.Parse(req.URL)
	if err != nil {
		return nil, fmt.Errorf("parse url %q: %w: %v", req.URL, entity.ErrNetwork, err)
	}
	if err := f.wait(ctx, target.Hostname()); err != nil {
		return nil, classifyFetchError(err)
	}

	proxyURL := ""
	if f.proxies != nil {
		proxyURL = f.proxies.ProxyFor(req.Tier)
	}
	if proxyURL == "" {
		f.logger.Debug("no proxy configured for tier, connecting directly", zap.String("tier", string(req.Tier)))
	} else {
		f.logger.Debug("using proxy", zap.String("tier", string(req.Tier)), zap.String("proxy", proxy.Redact(proxyURL)))
	}
	transport, err := f.transportFor(req.Profile, proxyURL)
	if err != nil {
		return nil, err
	}

	var (
		outcome  *repository.FetchOutcome
		fetchErr error
	)
	collector := f.buildCollector(transport)
	f.configureHooks(collector, req, &outcome, &fetchErr)

	done := make(chan error, 1)
	go func() {
		done <- collector.Visit(req.URL)
	}()

	select {
	case <-ctx.Done():
		return nil, classifyFetchError(ctx.Err())
	case err := <-done:
		if fetchErr != nil {
			return nil, classifyFetchError(fetchErr)
		}
		if err != nil {
			return nil, classifyFetchError(err)
		}
		if outcome == nil {
			return nil, fmt.Errorf("no response from %s: %w", req.URL, entity.ErrNetwork)
		}
		return outcome, nil
	}
}

func (f *CollyFetcher) buildCollector(transport http.RoundTripper) *colly.Collector {
	c := colly.NewCollector(colly.Async(false))
	c.AllowURLRevisit = true
	c.IgnoreRobotsTxt = true
	// Non-2xx responses are still responses; strategies decide what they mean.
	c.ParseHTTPErrorResponse = true
	c.SetRequestTimeout(f.cfg.Timeout)
	c.WithTransport(transport)
	return c
}

type collectorHooks interface {
	OnRequest(colly.RequestCallback)
	OnResponse(colly.ResponseCallback)
	OnError(colly.ErrorCallback)
}

func (f *CollyFetcher) configureHooks(
	hooks collectorHooks,
	req repository.FetchRequest,
	outcome **repository.FetchOutcome,
	fetchErr *error,
) {
	hooks.OnRequest(func(r *colly.Request) {
		for k, v := range req.Profile.Headers() {
			if v != "" {
				r.Headers.Set(k, v)
			}
		}
		for k, v := range req.Headers {
			r.Headers.Set(k, v)
		}
	})

	hooks.OnResponse(func(r *colly.Response) {
		*outcome = &repository.FetchOutcome{
			StatusCode: r.StatusCode,
			Body:       append([]byte(nil), r.Body...),
			FinalURL:   r.Request.URL.String(),
		}
	})

	hooks.OnError(func(r *colly.Response, err error) {
		// Transport failures arrive without a status code.
		if r != nil && r.StatusCode > 0 {
			return
		}
		*fetchErr = err
	})
}

func (f *CollyFetcher) transportFor(profile proxy.Profile, proxyURL string) (*http.Transport, error) {
	key := profile.Name + "|" + proxyURL
	f.mu.Lock()
	defer f.mu.Unlock()
	if t, ok := f.transports[key]; ok {
		return t, nil
	}
	t := newHTTPTransport(profile)
	if proxyURL != "" {
		u, err := url.Parse(proxyURL)
		if err != nil {
			return nil, fmt.Errorf("parse proxy url %q: %w", proxy.Redact(proxyURL), err)
		}
		t.Proxy = http.ProxyURL(u)
	}
	f.transports[key] = t
	return t, nil
}

func (f *CollyFetcher) wait(ctx context.Context, host string) error {
	if f.cfg.RatePerHost <= 0 {
		return nil
	}
	f.mu.Lock()
	limiter, ok := f.limiters[host]
	if !ok {
		limiter = rate.NewLimiter(rate.Limit(f.cfg.RatePerHost), 1)
		f.limiters[host] = limiter
	}
	f.mu.Unlock()
	return limiter.Wait(ctx)
}

func newHTTPTransport(profile proxy.Profile) *http.Transport {
	return &http.Transport{
		DialContext: (&net.Dialer{
			Timeout:   10 * time.Second,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSClientConfig:       profile.TLSConfig(),
		ForceAttemptHTTP2:     true,
		TLSHandshakeTimeout:   15 * time.Second,
		ExpectContinueTimeout: 1 * time.Second,
		MaxIdleConns:          100,
		IdleConnTimeout:       90 * time.Second,
	}
}

// classifyFetchError maps transport errors onto entity.ErrTimeout or entity.ErrNetwork.
func classifyFetchError(err error) error {
	var netErr net.Error
	switch {
	case errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, os.ErrDeadlineExceeded),
		errors.As(err, &netErr) && netErr.Timeout():
		return fmt.Errorf("%w: %v", entity.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %v", entity.ErrNetwork, err)
	}
}
