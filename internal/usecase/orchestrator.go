package usecase

import (
	"context"
	"fmt"
	"math"
	"math/rand/v2"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/repository"
	"github.com/user/nexus-ingest/internal/strategy"
	"github.com/user/nexus-ingest/pkg/metrics"
)

// State is a step of the task lifecycle.
type State string

const (
	StateIntake       State = "intake"
	StateDedupCheck   State = "dedup_check"
	StateCircuitCheck State = "circuit_check"
	StateFetching     State = "fetching"
	StateClassifying  State = "classifying"
	StatePersisting   State = "persisting"
	StateSuccess      State = "success"
	StateSkipped      State = "skipped"
	StateRetrying     State = "retrying"
	StateExhausted    State = "exhausted"
)

// Outcome is where one Process call left a task. A Retrying outcome carries
// the task to re-enqueue in Next and how long to wait in Delay.
type Outcome struct {
	State  State
	Kind   entity.ErrorKind
	Delay  time.Duration
	Next   *entity.ScrapeTask
	Err    error
	Result *entity.ExtractionResult
}

// Terminal reports whether the task is finished for good.
func (o Outcome) Terminal() bool {
	return o.State == StateSuccess || o.State == StateSkipped || o.State == StateExhausted
}

// TaskResult maps a terminal outcome onto the job aggregate.
func (o Outcome) TaskResult() entity.TaskResult {
	switch o.State {
	case StateSuccess:
		return entity.TaskResultOK
	case StateSkipped:
		return entity.TaskResultSkipped
	default:
		return entity.TaskResultFailed
	}
}

// OrchestratorConfig holds the retry, breaker and dedup policy.
type OrchestratorConfig struct {
	MaxRetries        int
	BackoffBase       time.Duration
	FailureThreshold  int64
	BreakerTTL        time.Duration
	BreakerRetryDelay time.Duration
	DedupFreshness    time.Duration
	ProjectID         string
}

func DefaultOrchestratorConfig() OrchestratorConfig {
	return OrchestratorConfig{
		MaxRetries:        3,
		BackoffBase:       30 * time.Second,
		FailureThreshold:  5,
		BreakerTTL:        600 * time.Second,
		BreakerRetryDelay: 300 * time.Second,
		DedupFreshness:    24 * time.Hour,
		ProjectID:         "gadgetph_tracking",
	}
}

// StrategyResolver routes a URL to the strategy that handles it.
type StrategyResolver interface {
	Resolve(url string) (strategy.Strategy, error)
}

// TierSelector picks the egress tier and browser profile for an attempt.
type TierSelector interface {
	Select(attempt int) proxy.Tier
	Fingerprint() proxy.Profile
}

// Orchestrator drives one task attempt through dedup, breaker, fetch and
// persistence. It holds no per-task state and is safe for concurrent use.
type Orchestrator struct {
	store      repository.CoordinationStore
	sink       repository.RecordRepository
	strategies StrategyResolver
	proxies    TierSelector
	metrics    *metrics.Metrics
	logger     *zap.Logger
	cfg        OrchestratorConfig

	now    func() time.Time
	jitter func() float64
	newID  func() string
}

func NewOrchestrator(
	store repository.CoordinationStore,
	sink repository.RecordRepository,
	strategies StrategyResolver,
	proxies TierSelector,
	m *metrics.Metrics,
	logger *zap.Logger,
	cfg OrchestratorConfig,
) *Orchestrator {
	return &Orchestrator{
		store:      store,
		sink:       sink,
		strategies: strategies,
		proxies:    proxies,
		metrics:    m,
		logger:     logger,
		cfg:        cfg,
		now:        time.Now,
		jitter:     rand.Float64,
		newID:      uuid.NewString,
	}
}

// Process runs a single attempt of task and reports where it ended up.
func (o *Orchestrator) Process(ctx context.Context, task entity.ScrapeTask) Outcome {
	start := o.now()
	log := o.logger.With(
		zap.String("task_id", task.TaskID),
		zap.String("site_type", task.SiteType),
		zap.String("url", task.URL),
		zap.Int("attempt", task.Attempt),
	)
	defer func() {
		o.metrics.TaskDuration.WithLabelValues(task.SiteType).Observe(o.now().Sub(start).Seconds())
	}()

	dup, err := o.store.IsDuplicate(ctx, task.SiteType, task.TenantID, task.URL)
	if err != nil {
		return o.fail(ctx, log, task, fmt.Errorf("dedup check: %w: %v", entity.ErrCoordinationUnavailable, err))
	}
	if dup {
		log.Info("skipping already ingested url")
		o.metrics.ScrapeSkipped.WithLabelValues(task.SiteType).Inc()
		return Outcome{State: StateSkipped}
	}

	active, err := o.store.BreakerActive(ctx, task.SiteType)
	if err != nil {
		// An unreadable breaker is treated as open.
		log.Warn("circuit breaker unreadable, deferring", zap.Error(err))
		active = true
	}
	if active {
		next := task.Deferred()
		log.Warn("circuit open, postponing task", zap.Duration("delay", o.cfg.BreakerRetryDelay))
		o.metrics.ScrapeDeferred.WithLabelValues(task.SiteType).Inc()
		return Outcome{State: StateRetrying, Kind: entity.KindCircuitOpen, Delay: o.cfg.BreakerRetryDelay, Next: &next}
	}

	s, err := o.strategies.Resolve(task.URL)
	if err != nil {
		return o.fail(ctx, log, task, err)
	}

	tier := proxy.Combine(s.ProxyTier(), o.proxies.Select(task.Attempt))
	profile := o.proxies.Fingerprint()
	log = log.With(zap.String("strategy", s.Name()), zap.String("tier", string(tier)), zap.String("profile", profile.Name))

	result, err := o.fetch(ctx, s, task.URL, tier, profile)
	if err != nil {
		return o.fail(ctx, log, task, err)
	}
	if !result.IsValid() {
		return o.fail(ctx, log, task, fmt.Errorf("%w: no usable title or price", entity.ErrBlockedOrDecoy))
	}

	record := &entity.PersistedRecord{
		ID:        o.newID(),
		TenantID:  task.TenantID,
		ProjectID: o.cfg.ProjectID,
		SourceURL: task.URL,
		Payload:   *result,
		Success:   true,
		Timestamp: o.now().UTC(),
	}
	if err := o.sink.Save(ctx, record); err != nil {
		return o.fail(ctx, log, task, fmt.Errorf("save %s: %w: %v", task.URL, entity.ErrPersistence, err))
	}

	if err := o.store.RecordSuccess(ctx, task.SiteType, task.TenantID, task.URL, o.cfg.DedupFreshness); err != nil {
		// The row is already stored; the sink's uniqueness constraint covers a missed dedup mark.
		log.Warn("failed to record success in coordination store", zap.Error(err))
	}
	o.metrics.ScrapeSuccess.WithLabelValues(task.SiteType).Inc()
	log.Info("scrape succeeded", zap.String("title", result.Title), zap.String("price", result.Price))
	return Outcome{State: StateSuccess, Result: result}
}

// fetch turns a strategy panic into a parse failure.
func (o *Orchestrator) fetch(ctx context.Context, s strategy.Strategy, url string, tier proxy.Tier, profile proxy.Profile) (res *entity.ExtractionResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			res = nil
			err = fmt.Errorf("%w: strategy %s panicked: %v", entity.ErrParse, s.Name(), r)
		}
	}()
	return s.FetchAndParse(ctx, url, tier, profile)
}

func (o *Orchestrator) fail(ctx context.Context, log *zap.Logger, task entity.ScrapeTask, err error) Outcome {
	kind := entity.Classify(err)
	o.metrics.ScrapeFailure.WithLabelValues(task.SiteType, string(kind)).Inc()

	if kind.CountsTowardBreaker() {
		count, tripped, ferr := o.store.RecordFailure(ctx, task.SiteType, o.cfg.FailureThreshold, o.cfg.BreakerTTL)
		switch {
		case ferr != nil:
			log.Warn("failed to record failure", zap.Error(ferr))
		case tripped:
			log.Error("circuit breaker tripped", zap.Int64("failures", count), zap.Duration("ttl", o.cfg.BreakerTTL))
		}
	}

	if !kind.Retryable() || task.Attempt >= o.cfg.MaxRetries {
		log.Error("task failed permanently", zap.String("error_kind", string(kind)), zap.Error(err))
		return Outcome{State: StateExhausted, Kind: kind, Err: err}
	}

	delay := o.backoff(task.Attempt)
	next := task.NextAttempt()
	log.Warn("attempt failed, retrying", zap.String("error_kind", string(kind)), zap.Duration("delay", delay), zap.Error(err))
	return Outcome{State: StateRetrying, Kind: kind, Delay: delay, Next: &next, Err: err}
}

// backoff is base * 2^attempt scaled by a uniform factor in [0.8, 1.2).
func (o *Orchestrator) backoff(attempt int) time.Duration {
	factor := 0.8 + 0.4*o.jitter()
	return time.Duration(float64(o.cfg.BackoffBase) * math.Pow(2, float64(attempt)) * factor)
}
