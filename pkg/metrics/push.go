package metrics

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/push"
	"go.uber.org/zap"
)

// Pusher periodically pushes a registry to a Prometheus Pushgateway, grouped
// by the host it runs on.
type Pusher struct {
	pusher   *push.Pusher
	interval time.Duration
	logger   *zap.Logger
}

func NewPusher(gatewayURL, job string, g prometheus.Gatherer, interval time.Duration, logger *zap.Logger) *Pusher {
	instance, err := os.Hostname()
	if err != nil || instance == "" {
		instance = "unknown"
	}
	if interval <= 0 {
		interval = 15 * time.Second
	}
	return &Pusher{
		pusher:   push.New(gatewayURL, job).Gatherer(g).Grouping("instance", instance),
		interval: interval,
		logger:   logger,
	}
}

// Push sends the current values once.
func (p *Pusher) Push(ctx context.Context) error {
	if err := p.pusher.PushContext(ctx); err != nil {
		return fmt.Errorf("push metrics: %w", err)
	}
	return nil
}

// Run pushes on every tick until ctx is done, then pushes a final time.
func (p *Pusher) Run(ctx context.Context) error {
	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			final, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
			defer cancel()
			if err := p.Push(final); err != nil {
				p.logger.Warn("final metrics push failed", zap.Error(err))
			}
			return nil
		case <-ticker.C:
			if err := p.Push(ctx); err != nil {
				p.logger.Warn("metrics push failed", zap.Error(err))
			}
		}
	}
}
