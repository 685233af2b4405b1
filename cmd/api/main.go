package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/adapter/postgres"
	redis_adapter "github.com/user/nexus-ingest/internal/adapter/redis"
	"github.com/user/nexus-ingest/internal/delivery/http/handler"
	"github.com/user/nexus-ingest/internal/delivery/http/router"
	"github.com/user/nexus-ingest/internal/usecase"
	"github.com/user/nexus-ingest/pkg/config"
	"github.com/user/nexus-ingest/pkg/logger"
	"github.com/user/nexus-ingest/pkg/metrics"
)

func main() {
	// --- Configuration ---
	cfg, err := config.Load(os.Getenv("CONFIG_FILE"))
	if err != nil {
		zap.NewExample().Fatal("could not load config", zap.Error(err))
	}

	// --- Logger ---
	log, err := logger.New(cfg.LogLevel, cfg.LogDevelopment)
	if err != nil {
		zap.NewExample().Fatal("could not build logger", zap.Error(err))
	}
	defer log.Sync() //nolint:errcheck

	// --- Metrics ---
	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	m := metrics.New(reg)

	// --- Connections ---
	ctx := context.Background()

	dbpool, err := pgxpool.New(ctx, cfg.PostgresURL)
	if err != nil {
		log.Fatal("unable to create postgres pool", zap.Error(err))
	}
	defer dbpool.Close()

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer rdb.Close()
	if err := rdb.Ping(ctx).Err(); err != nil {
		log.Fatal("unable to connect to redis", zap.Error(err))
	}
	log.Info("redis connection established", zap.String("addr", cfg.RedisAddr))

	// --- Repositories & Use Cases ---
	queueRepo := redis_adapter.NewQueueRepo(rdb)
	jobRepo := redis_adapter.NewJobRepo(rdb, cfg.JobTTL())
	recordRepo := postgres.NewRecordRepo(dbpool)
	intake := usecase.NewJobIntake(queueRepo, jobRepo, log)

	// --- HTTP Server ---
	apiHandler := handler.NewHandler(intake, map[string]handler.Check{
		"redis":    func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
		"postgres": recordRepo.Ping,
	}, log)

	server := &http.Server{
		Addr:         ":" + cfg.ServerPort,
		Handler:      router.New(apiHandler, m, reg, log),
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 35 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		log.Info("starting server", zap.String("port", cfg.ServerPort))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("could not listen on port", zap.String("port", cfg.ServerPort), zap.Error(err))
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	log.Info("server exiting")
}
