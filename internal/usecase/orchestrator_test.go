package usecase

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	goredis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	redisadapter "github.com/user/nexus-ingest/internal/adapter/redis"
	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
	"github.com/user/nexus-ingest/internal/strategy"
	"github.com/user/nexus-ingest/pkg/metrics"
)

type fakeSink struct {
	mu      sync.Mutex
	records []*entity.PersistedRecord
	err     error
}

func (s *fakeSink) Save(_ context.Context, r *entity.PersistedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	s.records = append(s.records, r)
	return nil
}

func (s *fakeSink) count() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

type fakeStrategy struct {
	mu     sync.Mutex
	tier   proxy.Tier
	result *entity.ExtractionResult
	err    error
	panics bool
	tiers  []proxy.Tier
}

func (f *fakeStrategy) Name() string          { return "fake" }
func (f *fakeStrategy) ProxyTier() proxy.Tier { return f.tier }

func (f *fakeStrategy) FetchAndParse(_ context.Context, _ string, tier proxy.Tier, _ proxy.Profile) (*entity.ExtractionResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.tiers = append(f.tiers, tier)
	if f.panics {
		panic("selector blew up")
	}
	return f.result, f.err
}

func (f *fakeStrategy) calls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.tiers)
}

type resolverFunc func(url string) (strategy.Strategy, error)

func (f resolverFunc) Resolve(url string) (strategy.Strategy, error) { return f(url) }

func single(s strategy.Strategy) StrategyResolver {
	return resolverFunc(func(string) (strategy.Strategy, error) { return s, nil })
}

type harness struct {
	orch    *Orchestrator
	mr      *miniredis.Miniredis
	sink    *fakeSink
	metrics *metrics.Metrics
}

func newHarness(t *testing.T, resolver StrategyResolver) *harness {
	t.Helper()
	mr := miniredis.RunT(t)
	client := goredis.NewClient(&goredis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	sink := &fakeSink{}
	m := metrics.New(prometheus.NewRegistry())
	orch := NewOrchestrator(
		redisadapter.NewCoordinationStore(client),
		sink,
		resolver,
		proxy.NewManager(nil, ""),
		m,
		zap.NewNop(),
		DefaultOrchestratorConfig(),
	)
	orch.jitter = func() float64 { return 0.5 }
	return &harness{orch: orch, mr: mr, sink: sink, metrics: m}
}

func newTask(url string) entity.ScrapeTask {
	return entity.ScrapeTask{TaskID: "t-1", JobID: "j-1", TenantID: "acme", SiteType: "amazon", URL: url}
}

var validResult = &entity.ExtractionResult{Title: "Echo Dot", Price: "49.99", Currency: "USD"}

func TestProcessSkipsDuplicatesWithoutFetching(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, result: validResult}
	h := newHarness(t, single(strat))
	ctx := context.Background()

	_, err := h.mr.SAdd(redisadapter.SuccessSetKey("amazon"), "https://www.amazon.com/dp/A")
	require.NoError(t, err)
	_, err = h.mr.SAdd(redisadapter.SeenSetKey("acme"), "https://www.amazon.com/dp/B")
	require.NoError(t, err)

	for _, url := range []string{"https://www.amazon.com/dp/A", "https://www.amazon.com/dp/B"} {
		out := h.orch.Process(ctx, newTask(url))
		assert.Equal(t, StateSkipped, out.State, url)
		assert.True(t, out.Terminal())
		assert.Equal(t, entity.TaskResultSkipped, out.TaskResult())
	}
	assert.Zero(t, strat.calls())
	assert.Zero(t, h.sink.count())
	assert.Equal(t, 2.0, testutil.ToFloat64(h.metrics.ScrapeSkipped.WithLabelValues("amazon")))
}

func TestProcessDefersWhileBreakerOpen(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, result: validResult}
	h := newHarness(t, single(strat))
	ctx := context.Background()

	require.NoError(t, h.mr.Set(redisadapter.BreakerKey("amazon"), "active"))
	h.mr.SetTTL(redisadapter.BreakerKey("amazon"), 600*time.Second)

	task := newTask("https://www.amazon.com/dp/A")
	task.Attempt = 2
	out := h.orch.Process(ctx, task)
	require.Equal(t, StateRetrying, out.State)
	assert.Equal(t, entity.KindCircuitOpen, out.Kind)
	assert.Equal(t, 300*time.Second, out.Delay)
	require.NotNil(t, out.Next)
	assert.Equal(t, 2, out.Next.Attempt, "deferral does not consume the retry budget")
	assert.Equal(t, 1, out.Next.Deferrals)
	assert.Zero(t, strat.calls())
	assert.Equal(t, 0.0, testutil.ToFloat64(h.metrics.ScrapeFailure.WithLabelValues("amazon", string(entity.KindCircuitOpen))))

	// Still open on the next deferral.
	out = h.orch.Process(ctx, *out.Next)
	require.Equal(t, StateRetrying, out.State)
	assert.Equal(t, 2, out.Next.Deferrals)

	h.mr.FastForward(601 * time.Second)
	out = h.orch.Process(ctx, *out.Next)
	assert.Equal(t, StateSuccess, out.State)
	assert.Equal(t, 1, strat.calls())
}

func TestFiveFailuresTripBreakerAndSuccessResetsCounter(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter}
	h := newHarness(t, single(strat))
	ctx := context.Background()

	for i := 0; i < 4; i++ {
		out := h.orch.Process(ctx, newTask(fmt.Sprintf("https://www.amazon.com/dp/%d", i)))
		require.Equal(t, StateRetrying, out.State)
		assert.Equal(t, entity.KindBlockedOrDecoy, out.Kind)
	}
	assert.False(t, h.mr.Exists(redisadapter.BreakerKey("amazon")))

	out := h.orch.Process(ctx, newTask("https://www.amazon.com/dp/4"))
	require.Equal(t, StateRetrying, out.State)
	assert.True(t, h.mr.Exists(redisadapter.BreakerKey("amazon")))
	assert.InDelta(t, 600, h.mr.TTL(redisadapter.BreakerKey("amazon")).Seconds(), 1)

	out = h.orch.Process(ctx, newTask("https://www.amazon.com/dp/5"))
	assert.Equal(t, entity.KindCircuitOpen, out.Kind)
	assert.Equal(t, 5, strat.calls())

	// After expiry a success clears the counter.
	h.mr.FastForward(601 * time.Second)
	strat.mu.Lock()
	strat.result = validResult
	strat.mu.Unlock()
	out = h.orch.Process(ctx, newTask("https://www.amazon.com/dp/6"))
	require.Equal(t, StateSuccess, out.State)
	assert.False(t, h.mr.Exists(redisadapter.FailCountKey("amazon")))
}

func TestBackoffBounds(t *testing.T) {
	h := newHarness(t, single(&fakeStrategy{}))

	for attempt := 0; attempt < 3; attempt++ {
		base := 30 * time.Second * time.Duration(1<<attempt)
		h.orch.jitter = func() float64 { return 0 }
		assert.Equal(t, time.Duration(float64(base)*0.8), h.orch.backoff(attempt))
		h.orch.jitter = func() float64 { return 0.999999 }
		upper := h.orch.backoff(attempt)
		assert.Less(t, upper, time.Duration(float64(base)*1.2))
		assert.Greater(t, upper, time.Duration(float64(base)*1.19))
	}

	h.orch.jitter = rand.Float64
	for i := 0; i < 200; i++ {
		d := h.orch.backoff(1)
		assert.GreaterOrEqual(t, d, 48*time.Second)
		assert.Less(t, d, 72*time.Second)
	}
}

func TestRetryUntilExhausted(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, err: fmt.Errorf("dial: %w", entity.ErrNetwork)}
	h := newHarness(t, single(strat))
	ctx := context.Background()

	task := newTask("https://www.amazon.com/dp/A")
	var delays []time.Duration
	for {
		out := h.orch.Process(ctx, task)
		if out.State == StateExhausted {
			assert.Equal(t, entity.KindNetwork, out.Kind)
			assert.ErrorIs(t, out.Err, entity.ErrNetwork)
			assert.Equal(t, entity.TaskResultFailed, out.TaskResult())
			break
		}
		require.Equal(t, StateRetrying, out.State)
		require.Equal(t, task.Attempt+1, out.Next.Attempt)
		delays = append(delays, out.Delay)
		task = *out.Next
	}
	assert.Equal(t, []time.Duration{30 * time.Second, 60 * time.Second, 120 * time.Second}, delays)
	assert.Equal(t, 4, strat.calls(), "first attempt plus three retries")
	assert.Equal(t, []proxy.Tier{proxy.TierDatacenter, proxy.TierResidential, proxy.TierResidential, proxy.TierResidential}, strat.tiers)
	assert.Equal(t, 4.0, testutil.ToFloat64(h.metrics.ScrapeFailure.WithLabelValues("amazon", "network_error")))
}

func TestStrategyTierIsNeverDowngraded(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierResidential, result: validResult}
	h := newHarness(t, single(strat))

	out := h.orch.Process(context.Background(), newTask("https://shopee.ph/x-i.1.2"))
	require.Equal(t, StateSuccess, out.State)
	assert.Equal(t, []proxy.Tier{proxy.TierResidential}, strat.tiers)
}

func TestZeroPriceIsNeverPersisted(t *testing.T) {
	for _, price := range []string{"0", "0.00", "0,00"} {
		t.Run(price, func(t *testing.T) {
			strat := &fakeStrategy{tier: proxy.TierDatacenter, result: &entity.ExtractionResult{Title: "Decoy", Price: price}}
			h := newHarness(t, single(strat))

			out := h.orch.Process(context.Background(), newTask("https://www.amazon.com/dp/A"))
			require.Equal(t, StateRetrying, out.State)
			assert.Equal(t, entity.KindBlockedOrDecoy, out.Kind)
			assert.Zero(t, h.sink.count())

			count, err := h.mr.Get(redisadapter.FailCountKey("amazon"))
			require.NoError(t, err)
			assert.Equal(t, "1", count)
			assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScrapeFailure.WithLabelValues("amazon", "blocked_or_decoy")))
		})
	}
}

func TestUnsupportedDomainFailsImmediately(t *testing.T) {
	resolver := strategy.NewDefaultRegistry(nil, strategy.RegistryConfig{}, zap.NewNop())
	h := newHarness(t, resolver)

	out := h.orch.Process(context.Background(), newTask("https://www.lazada.com.ph/products/x"))
	require.Equal(t, StateExhausted, out.State)
	assert.Equal(t, entity.KindUnsupportedDomain, out.Kind)
	assert.ErrorIs(t, out.Err, entity.ErrUnsupportedDomain)
	assert.False(t, h.mr.Exists(redisadapter.FailCountKey("amazon")), "unsupported domains do not feed the breaker")
}

func TestPersistenceFailureRetriesWithoutMarkingDedup(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, result: validResult}
	h := newHarness(t, single(strat))
	h.sink.err = errors.New("connection reset")

	out := h.orch.Process(context.Background(), newTask("https://www.amazon.com/dp/A"))
	require.Equal(t, StateRetrying, out.State)
	assert.Equal(t, entity.KindPersistence, out.Kind)
	assert.ErrorIs(t, out.Err, entity.ErrPersistence)
	assert.False(t, h.mr.Exists(redisadapter.SuccessSetKey("amazon")))
	assert.False(t, h.mr.Exists(redisadapter.FailCountKey("amazon")))
}

func TestStrategyPanicBecomesParseFailure(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, panics: true}
	h := newHarness(t, single(strat))

	out := h.orch.Process(context.Background(), newTask("https://www.amazon.com/dp/A"))
	require.Equal(t, StateRetrying, out.State)
	assert.Equal(t, entity.KindParse, out.Kind)
	assert.ErrorIs(t, out.Err, entity.ErrParse)
	assert.True(t, h.mr.Exists(redisadapter.FailCountKey("amazon")))
}

func TestCoordinationOutageRetries(t *testing.T) {
	strat := &fakeStrategy{tier: proxy.TierDatacenter, result: validResult}
	h := newHarness(t, single(strat))
	h.mr.Close()

	out := h.orch.Process(context.Background(), newTask("https://www.amazon.com/dp/A"))
	require.Equal(t, StateRetrying, out.State)
	assert.Equal(t, entity.KindCoordinationUnavailable, out.Kind)
	assert.Equal(t, 1, out.Next.Attempt)
	assert.Zero(t, strat.calls())
}

type apiFetcher struct {
	mu    sync.Mutex
	calls int
}

func (f *apiFetcher) Fetch(_ context.Context, req repository.FetchRequest) (*repository.FetchOutcome, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if req.URL == "https://shopee.ph/api/v4/item/get?itemid=456&shopid=123" {
		return &repository.FetchOutcome{StatusCode: 200, Body: []byte(`{"data":{"name":"Widget","price":12345600000}}`), FinalURL: req.URL}, nil
	}
	return &repository.FetchOutcome{StatusCode: 404, FinalURL: req.URL}, nil
}

func TestShopeeEndToEndThenIdempotentSkip(t *testing.T) {
	fetcher := &apiFetcher{}
	h := newHarness(t, strategy.NewDefaultRegistry(fetcher, strategy.RegistryConfig{}, zap.NewNop()))
	h.orch.now = func() time.Time { return time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC) }
	ctx := context.Background()

	task := entity.ScrapeTask{TaskID: "t-1", JobID: "j-1", TenantID: "acme", SiteType: "shopee", URL: "https://shopee.ph/Widget-i.123.456"}
	out := h.orch.Process(ctx, task)
	require.Equal(t, StateSuccess, out.State)

	require.Equal(t, 1, h.sink.count())
	rec := h.sink.records[0]
	assert.Equal(t, "Widget", rec.Payload.Title)
	assert.Equal(t, "123456", rec.Payload.Price)
	assert.Equal(t, "PHP", rec.Payload.Currency)
	assert.Equal(t, "Shopee Philippines", rec.Payload.Address)
	assert.Equal(t, "acme", rec.TenantID)
	assert.Equal(t, "gadgetph_tracking", rec.ProjectID)
	assert.True(t, rec.Success)
	assert.NotEmpty(t, rec.ID)
	assert.Equal(t, time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC), rec.Timestamp)

	inSuccess, err := h.mr.IsMember(redisadapter.SuccessSetKey("shopee"), task.URL)
	require.NoError(t, err)
	assert.True(t, inSuccess)
	inSeen, err := h.mr.IsMember(redisadapter.SeenSetKey("acme"), task.URL)
	require.NoError(t, err)
	assert.True(t, inSeen)
	assert.Equal(t, 1.0, testutil.ToFloat64(h.metrics.ScrapeSuccess.WithLabelValues("shopee")))

	// Submitting the same URL again is a no-op.
	for i := 0; i < 2; i++ {
		again := h.orch.Process(ctx, task)
		assert.Equal(t, StateSkipped, again.State)
	}
	assert.Equal(t, 1, h.sink.count())
	assert.Equal(t, 1, fetcher.calls)
}
