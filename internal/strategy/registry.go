package strategy

import (
	"strings"

	"go.uber.org/zap"

	"github.com/user/nexus-ingest/internal/entity"
	"github.com/user/nexus-ingest/internal/repository"
)

// Rule routes URLs containing Match to a strategy.
type Rule struct {
	Match    string
	Strategy Strategy
}

// Registry resolves a URL to the first strategy whose rule matches.
type Registry struct {
	rules    []Rule
	fallback Strategy
}

func NewRegistry(rules ...Rule) *Registry {
	return &Registry{rules: rules}
}

// WithFallback sets the strategy used when no rule matches.
func (r *Registry) WithFallback(s Strategy) *Registry {
	r.fallback = s
	return r
}

// RegistryConfig controls the default routing table.
type RegistryConfig struct {
	ShopeeBaseURL   string
	GenericFallback bool
}

// NewDefaultRegistry wires Shopee and Amazon, plus the generic fallback when enabled.
func NewDefaultRegistry(fetcher repository.FetcherRepository, cfg RegistryConfig, logger *zap.Logger) *Registry {
	r := NewRegistry(
		Rule{Match: "shopee.ph", Strategy: NewShopee(fetcher, cfg.ShopeeBaseURL, logger)},
		Rule{Match: "amazon.com", Strategy: NewAmazon(fetcher, logger)},
	)
	if cfg.GenericFallback {
		r.WithFallback(NewGeneric(fetcher, logger))
	}
	return r
}

// Resolve is pure; it never touches the network.
func (r *Registry) Resolve(url string) (Strategy, error) {
	lower := strings.ToLower(url)
	for _, rule := range r.rules {
		if strings.Contains(lower, rule.Match) {
			return rule.Strategy, nil
		}
	}
	if r.fallback != nil {
		return r.fallback, nil
	}
	return nil, &entity.UnsupportedDomainError{URL: url}
}
