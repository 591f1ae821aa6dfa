package ratelimit

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forksight/forksight/model"
)

// staleWindowAge is the age after which counter windows are purged
const staleWindowAge = 24 * time.Hour

// Coordinator gates outbound calls to third-party services against
// configured per-minute (and optionally per-day) request budgets.
// Scopes are `service` or `service:operation`, with the operation-level
// configuration taking precedence. Counters live in memory only and do
// not survive a process restart.
type Coordinator struct {
	clk     func() time.Time
	logger  *slog.Logger
	configs map[string]model.RateLimitConfig

	mu     sync.Mutex
	scopes map[string]*scopeEntry
}

// scopeEntry holds the counter windows of one scope behind its own mutex,
// so concurrent permission requests for different scopes do not contend.
type scopeEntry struct {
	mu     sync.Mutex
	counts map[string]int
	resets map[string]time.Time
}

// NewCoordinator creates a coordinator from a static scope configuration.
// Keys are `service` or `service:operation`. clk is the clock used for
// window computation; nil uses time.Now.
func NewCoordinator(configs map[string]model.RateLimitConfig, logger *slog.Logger, clk func() time.Time) (*Coordinator, error) {
	if logger == nil {
		return nil, fmt.Errorf("logger is nil")
	}
	if clk == nil {
		clk = time.Now
	}

	copied := make(map[string]model.RateLimitConfig, len(configs))
	for scope, config := range configs {
		if config.RequestsPerMinute < 0 || config.RequestsPerDay < 0 {
			return nil, fmt.Errorf("negative limit for scope %s", scope)
		}
		copied[scope] = config
	}

	return &Coordinator{
		clk:     clk,
		logger:  logger,
		configs: copied,
		scopes:  make(map[string]*scopeEntry),
	}, nil
}

// resolveScope returns the most specific configured scope key for a
// service/operation pair and its configuration. The second return is
// false when no configuration exists for either key.
func (c *Coordinator) resolveScope(service string, operation string) (string, model.RateLimitConfig, bool) {
	if operation != "" {
		key := service + ":" + operation
		if config, ok := c.configs[key]; ok {
			return key, config, true
		}
	}
	config, ok := c.configs[service]
	return service, config, ok
}

func (c *Coordinator) entry(scope string) *scopeEntry {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.scopes[scope]
	if !ok {
		entry = &scopeEntry{
			counts: make(map[string]int),
			resets: make(map[string]time.Time),
		}
		c.scopes[scope] = entry
	}
	return entry
}

// minuteWindow returns the window key and reset time of the minute
// containing now for a scope.
func minuteWindow(scope string, now time.Time) (string, time.Time) {
	window := now.Truncate(time.Minute)
	return fmt.Sprintf("%s|m|%d", scope, window.Unix()), window.Add(time.Minute)
}

// dayWindow returns the window key and reset time of the UTC day
// containing now for a scope.
func dayWindow(scope string, now time.Time) (string, time.Time) {
	window := now.UTC().Truncate(24 * time.Hour)
	return fmt.Sprintf("%s|d|%d", scope, window.Unix()), window.Add(24 * time.Hour)
}

// purgeStale drops windows whose reset time is older than staleWindowAge.
// Called with the entry mutex held.
func (e *scopeEntry) purgeStale(now time.Time) {
	for key, reset := range e.resets {
		if now.Sub(reset) > staleWindowAge {
			delete(e.resets, key)
			delete(e.counts, key)
		}
	}
}

// RequestPermission checks whether one more request to the given
// service/operation is within budget and, if so, counts it. An
// unconfigured scope is treated as unlimited and logged as a
// configuration warning, so a missing config never blocks the pipeline.
// priority is diagnostic only and carried into the denial log.
func (c *Coordinator) RequestPermission(service string, operation string, priority string) model.RateLimitDecision {
	scope, config, configured := c.resolveScope(service, operation)
	if !configured {
		c.logger.Warn("no rate limit configuration for scope, allowing request",
			slog.String("service", service), slog.String("operation", operation))
		return model.RateLimitDecision{Allowed: true, Limit: 0}
	}

	now := c.clk()
	entry := c.entry(scope)
	minuteKey, minuteReset := minuteWindow(scope, now)
	dayKey, dayReset := dayWindow(scope, now)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.purgeStale(now)

	if config.RequestsPerDay > 0 && entry.counts[dayKey] >= config.RequestsPerDay {
		return model.RateLimitDecision{
			Allowed:      false,
			CurrentUsage: entry.counts[dayKey],
			Limit:        config.RequestsPerDay,
			ResetTime:    dayReset,
			RetryAfter:   retryAfter(dayReset, now),
		}
	}

	if config.RequestsPerMinute > 0 && entry.counts[minuteKey] >= config.RequestsPerMinute {
		c.logger.Warn("rate limit reached",
			slog.String("scope", scope),
			slog.String("priority", priority),
			slog.Int("usage", entry.counts[minuteKey]),
			slog.Int("limit", config.RequestsPerMinute))
		return model.RateLimitDecision{
			Allowed:      false,
			CurrentUsage: entry.counts[minuteKey],
			Limit:        config.RequestsPerMinute,
			ResetTime:    minuteReset,
			RetryAfter:   retryAfter(minuteReset, now),
		}
	}

	entry.counts[minuteKey]++
	entry.resets[minuteKey] = minuteReset
	if config.RequestsPerDay > 0 {
		entry.counts[dayKey]++
		entry.resets[dayKey] = dayReset
	}

	return model.RateLimitDecision{
		Allowed:      true,
		CurrentUsage: entry.counts[minuteKey],
		Limit:        config.RequestsPerMinute,
		ResetTime:    minuteReset,
	}
}

// ReportRateLimitHit records an externally reported 429 by forcing the
// current minute window of the scope to its limit, so subsequent local
// requests are denied until the window rolls over.
func (c *Coordinator) ReportRateLimitHit(service string, operation string, retryAfterSeconds int) {
	scope, config, configured := c.resolveScope(service, operation)
	if !configured || config.RequestsPerMinute <= 0 {
		c.logger.Warn("rate limit hit reported for unconfigured scope",
			slog.String("service", service), slog.String("operation", operation))
		return
	}

	now := c.clk()
	entry := c.entry(scope)
	minuteKey, minuteReset := minuteWindow(scope, now)

	entry.mu.Lock()
	defer entry.mu.Unlock()

	entry.counts[minuteKey] = config.RequestsPerMinute
	entry.resets[minuteKey] = minuteReset

	c.logger.Warn("external rate limit hit, forcing local denial until window reset",
		slog.String("scope", scope),
		slog.Int("retry_after_seconds", retryAfterSeconds),
		slog.Time("reset_time", minuteReset))
}

// Status returns a diagnostic snapshot of a service scope, including
// per-operation usage within the current minute window.
func (c *Coordinator) Status(service string) model.RateLimitStatus {
	now := c.clk()
	status := model.RateLimitStatus{
		Service:    service,
		Operations: make(map[string]int),
		Configs:    make(map[string]model.RateLimitConfig),
	}

	for scope, config := range c.configs {
		if scope != service && !isOperationScope(scope, service) {
			continue
		}
		status.Configs[scope] = config

		entry := c.entry(scope)
		windowKey, reset := minuteWindow(scope, now)

		entry.mu.Lock()
		usage := entry.counts[windowKey]
		entry.mu.Unlock()

		if scope == service {
			status.CurrentUsage = usage
			status.Limit = config.RequestsPerMinute
			status.ResetTime = reset
		} else {
			status.Operations[scope[len(service)+1:]] = usage
		}
	}

	return status
}

// ResetService clears all counter windows of a service and its
// operation scopes. Intended for tests and operational resets only.
func (c *Coordinator) ResetService(service string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for scope, entry := range c.scopes {
		if scope != service && !isOperationScope(scope, service) {
			continue
		}
		entry.mu.Lock()
		entry.counts = make(map[string]int)
		entry.resets = make(map[string]time.Time)
		entry.mu.Unlock()
	}

	c.logger.Info("Reset rate limit counters", slog.String("service", service))
}

func isOperationScope(scope string, service string) bool {
	return len(scope) > len(service)+1 && scope[:len(service)+1] == service+":"
}

// retryAfter is the time until a window resets, floored at one second
// so callers always get a usable backoff hint.
func retryAfter(reset time.Time, now time.Time) time.Duration {
	d := reset.Sub(now)
	if d < time.Second {
		return time.Second
	}
	return d
}
