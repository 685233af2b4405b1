package proxy

import (
	"math/rand/v2"
	"strings"
	"sync"
)

// Tier is an egress profile for a fetch attempt.
type Tier string

const (
	// TierDatacenter is the cheap and fast pool used on first attempts.
	TierDatacenter Tier = "datacenter"
	// TierResidential is the stealthier, slower pool used on retries.
	TierResidential Tier = "residential"
)

// Combine merges a strategy's forced tier with the attempt-based tier.
// Residential wins if either side asks for it.
func Combine(strategyTier, attemptTier Tier) Tier {
	if strategyTier == TierResidential || attemptTier == TierResidential {
		return TierResidential
	}
	return TierDatacenter
}

// Manager selects tiers and fingerprint profiles and hands out proxy URLs.
type Manager struct {
	datacenter  []string
	residential string
	profiles    []Profile

	mu  sync.Mutex
	rng *rand.Rand
}

// NewManager builds a Manager from a datacenter proxy list and a residential
// gateway URL. Both may be empty, in which case fetches go out directly.
func NewManager(datacenter []string, residential string) *Manager {
	return newManager(datacenter, residential, rand.New(rand.NewPCG(rand.Uint64(), rand.Uint64())))
}

func newManager(datacenter []string, residential string, rng *rand.Rand) *Manager {
	pool := make([]string, 0, len(datacenter))
	for _, p := range datacenter {
		if p = strings.TrimSpace(p); p != "" {
			pool = append(pool, p)
		}
	}
	return &Manager{
		datacenter:  pool,
		residential: strings.TrimSpace(residential),
		profiles:    DefaultProfiles(),
		rng:         rng,
	}
}

// Select maps an attempt number onto a tier. Attempt 0 uses the datacenter
// pool, every retry escalates to residential. No randomness is involved so a
// retry always takes a different network path than the failure it follows.
func (m *Manager) Select(attempt int) Tier {
	if attempt > 0 {
		return TierResidential
	}
	return TierDatacenter
}

// Fingerprint returns a random browser profile, independently per call.
func (m *Manager) Fingerprint() Profile {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.profiles[m.rng.IntN(len(m.profiles))]
}

// ProxyFor returns the proxy URL for a tier, or "" for a direct connection.
func (m *Manager) ProxyFor(tier Tier) string {
	if tier == TierResidential {
		return m.residential
	}
	if len(m.datacenter) == 0 {
		return ""
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.datacenter[m.rng.IntN(len(m.datacenter))]
}

// Redact trims credentials from a proxy URL for logging.
func Redact(proxyURL string) string {
	if at := strings.LastIndex(proxyURL, "@"); at >= 0 {
		scheme := ""
		if i := strings.Index(proxyURL, "://"); i >= 0 {
			scheme = proxyURL[:i+3]
		}
		return scheme + "***@" + proxyURL[at+1:]
	}
	return proxyURL
}
