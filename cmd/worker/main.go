package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	colly_fetcher "github.com/user/nexus-ingest/internal/adapter/colly_fetcher"
	"github.com/user/nexus-ingest/internal/adapter/postgres"
	redis_adapter "github.com/user/nexus-ingest/internal/adapter/redis"
	"github.com/user/nexus-ingest/internal/proxy"
	"github.com/user/nexus-ingest/internal/strategy"
	"github.com/user/nexus-ingest/internal/usecase"
	"github.com/user/nexus-ingest/internal/worker"
	"github.com/user/nexus-ingest/pkg/config"
	"github.com/user/nexus-ingest/pkg/logger"
	"github.com/user/nexus-ingest/pkg/metrics"
)

func main() {
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		zap.NewExample().Fatal("could not load config", zap.Error(err))
	}

	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		zap.NewExample().Fatal("could not build logger", zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Storage ---
	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("unable to create postgres pool", zap.Error(err))
	}
	defer dbpool.Close()
	recordRepo := postgres.NewRecordRepo(dbpool)
	if err := recordRepo.EnsureSchema(ctx); err != nil {
		log.Fatal("unable to prepare schema", zap.Error(err))
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("unable to connect to redis", zap.Error(err))
	}

	// --- Scrape pipeline ---
	proxies := proxy.NewManager(cfg.DatacenterProxies(), cfg.ResidentialProxyURL)
	fetcher := colly_fetcher.NewCollyFetcher(colly_fetcher.Config{
		Timeout:     cfg.FetchTimeout(),
		RatePerHost: cfg.FetchRatePerHost,
	}, proxies, log)
	registry := strategy.NewDefaultRegistry(fetcher, strategy.RegistryConfig{
		ShopeeBaseURL:   cfg.ShopeeBaseURL,
		GenericFallback: cfg.GenericFallback,
	}, log)

	orchestrator := usecase.NewOrchestrator(
		redis_adapter.NewCoordinationStore(rdb),
		recordRepo,
		registry,
		proxies,
		m,
		log,
		usecase.OrchestratorConfig{
			MaxRetries:        cfg.MaxRetries,
			BackoffBase:       cfg.BackoffBase(),
			FailureThreshold:  int64(cfg.FailureThreshold),
			BreakerTTL:        cfg.BreakerTTL(),
			BreakerRetryDelay: cfg.BreakerRetryDelay(),
			DedupFreshness:    cfg.DedupFreshness(),
			ProjectID:         cfg.ProjectID,
		},
	)

	host, _ := os.Hostname()
	queue := redis_adapter.NewQueueRepo(rdb,
		redis_adapter.WithLeaseOwner(host+"-"+uuid.NewString()),
		redis_adapter.WithLeaseTTL(cfg.QueueLease()),
	)
	pool := worker.NewPool(
		queue,
		redis_adapter.NewJobRepo(rdb, cfg.JobTTL()),
		orchestrator,
		m,
		log,
		worker.Config{
			Workers:           cfg.ScrapeWorkers,
			PollWait:          cfg.QueuePollWait(),
			PromoteInterval:   cfg.QueuePollWait(),
			HeartbeatInterval: cfg.QueueLease() / 3,
		},
	)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return pool.Run(gctx) })
	if cfg.PushgatewayURL != "" {
		pusher := metrics.NewPusher(cfg.PushgatewayURL, "nexus_worker", reg, cfg.PushInterval(), log)
		g.Go(func() error { return pusher.Run(gctx) })
	}

	log.Info("worker started",
		zap.Int("workers", cfg.ScrapeWorkers),
		zap.String("lease_owner", queue.Owner()),
		zap.Int("datacenter_proxies", len(cfg.DatacenterProxies())),
		zap.String("residential_proxy", proxy.Redact(cfg.ResidentialProxyURL)),
	)
	if err := g.Wait(); err != nil {
		log.Error("worker stopped with error", zap.Error(err))
		return
	}
	log.Info("worker exiting")
}
