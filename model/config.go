package model

// MissingIDStrategy controls how the duplicate detector handles items
// without a usable source record ID.
type MissingIDStrategy string

const (
	MissingIDSkip     MissingIDStrategy = "skip"
	MissingIDError    MissingIDStrategy = "error"
	MissingIDFallback MissingIDStrategy = "fallback"
)

// DedupeConfig represents configuration for the duplicate detector
type DedupeConfig struct {
	// Items with the same normalized key within this many seconds are the
	// same logical item
	MaxTimeDifferenceSeconds int64 `json:"max_time_difference_seconds"`
	// Cache capacity; the oldest 10% by last access are evicted past this
	CacheSize int `json:"cache_size"`
	// Batches larger than this are rejected outright
	MaxBatchSize int `json:"max_batch_size"`
	// Source types tracked in the overlap matrix
	SourceTypes []string `json:"source_types,omitempty"`
	// Per-item policy for missing IDs
	MissingIDStrategy MissingIDStrategy `json:"missing_id_strategy"`
}

// DefaultDedupeConfig returns a sensible default configuration
func DefaultDedupeConfig() DedupeConfig {
	return DedupeConfig{
		MaxTimeDifferenceSeconds: 3600,
		CacheSize:                50000,
		MaxBatchSize:             10000,
		SourceTypes:              []string{"reddit", "archive"},
		MissingIDStrategy:        MissingIDSkip,
	}
}

// RateLimitConfig represents the request budget for one (service) or
// (service, operation) scope. Zero values disable that dimension.
// Immutable after the coordinator is constructed.
type RateLimitConfig struct {
	RequestsPerSecond int `json:"requests_per_second,omitempty"`
	RequestsPerMinute int `json:"requests_per_minute"`
	RequestsPerHour   int `json:"requests_per_hour,omitempty"`
	RequestsPerDay    int `json:"requests_per_day,omitempty"`
}

// RetryConfig represents the backoff policy for retryable extraction errors
type RetryConfig struct {
	MaxAttempts   int     `json:"max_attempts"`
	BaseDelayMs   int     `json:"base_delay_ms"`
	BackoffFactor float64 `json:"backoff_factor"`
}

// DefaultRetryConfig returns a sensible default backoff policy
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:   3,
		BaseDelayMs:   1000,
		BackoffFactor: 2.0,
	}
}

// ResolverConfig represents configuration for the entity resolver
type ResolverConfig struct {
	// Fuzzy matches at or above this similarity create an alias to the
	// matched entity; below it a new canonical entity is created
	FuzzyThreshold float64 `json:"fuzzy_threshold"`
	// Candidates fetched per unresolved name in tier 3
	CandidateLimit int `json:"candidate_limit"`
}

// DefaultResolverConfig returns a sensible default configuration
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		FuzzyThreshold: 0.85,
		CandidateLimit: 10,
	}
}

// PipelineConfig represents configuration for the pipeline orchestrator
type PipelineConfig struct {
	// Number of concurrent workers consuming jobs
	Concurrency int `json:"concurrency"`
	// Per-job timeout in seconds; cancels in-flight extraction
	JobTimeoutSeconds int `json:"job_timeout_seconds"`
}

// DefaultPipelineConfig returns a sensible default configuration
func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		Concurrency:       5,
		JobTimeoutSeconds: 120,
	}
}
