package redis

// Key layout shared with every other worker and tool that touches the store.
const (
	successSetPrefix = "cache:success:"
	seenSetPrefix    = "seen_urls:"
	failCountPrefix  = "fail_count:"
	breakerPrefix    = "circuit_breaker:"
	jobKeyPrefix     = "job:"
	readyQueueKey    = "scrape:queue"
	processingPrefix = "scrape:processing:"
	heartbeatPrefix  = "scrape:heartbeat:"
	workerSetKey     = "scrape:workers"
	delayedSetKey    = "scrape:delayed"
)

// SuccessSetKey is the per-site set of URLs scraped successfully.
func SuccessSetKey(siteType string) string { return successSetPrefix + siteType }

// SeenSetKey is the per-tenant set of URLs already handled.
func SeenSetKey(tenantID string) string { return seenSetPrefix + tenantID }

// FailCountKey is the per-site counter of classified failures.
func FailCountKey(siteType string) string { return failCountPrefix + siteType }

// BreakerKey is the per-site circuit breaker flag.
func BreakerKey(siteType string) string { return breakerPrefix + siteType }

func jobKey(jobID string) string { return jobKeyPrefix + jobID }

// processingKey is the list of tasks leased by one worker process.
func processingKey(owner string) string { return processingPrefix + owner }

// heartbeatKey expires when its worker process stops renewing its leases.
func heartbeatKey(owner string) string { return heartbeatPrefix + owner }
