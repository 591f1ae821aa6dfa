package model

import "time"

// RateLimitDecision is the outcome of one permission request
type RateLimitDecision struct {
	Allowed      bool          `json:"allowed"`
	CurrentUsage int           `json:"current_usage"`
	Limit        int           `json:"limit"`
	ResetTime    time.Time     `json:"reset_time"`
	RetryAfter   time.Duration `json:"retry_after,omitempty"`
}

// RateLimitStatus is a diagnostic snapshot of one service scope
type RateLimitStatus struct {
	Service      string               `json:"service"`
	CurrentUsage int                  `json:"current_usage"`
	Limit        int                  `json:"limit"`
	ResetTime    time.Time            `json:"reset_time"`
	Operations   map[string]int       `json:"operations,omitempty"`
	Configs      map[string]RateLimitConfig `json:"configs,omitempty"`
}

// DuplicateDetectionResult is the outcome of checking a single item
type DuplicateDetectionResult struct {
	Identifier      ContentIdentifier `json:"identifier"`
	IsDuplicate     bool              `json:"is_duplicate"`
	FirstSeenSource string            `json:"first_seen_source,omitempty"`
	TimeDiffSeconds int64             `json:"time_diff_seconds,omitempty"`
	// Set when the same key reappeared outside the tolerance window
	ProximateKey bool `json:"proximate_key,omitempty"`
	Skipped      bool `json:"skipped,omitempty"`
	SkipReason   string `json:"skip_reason,omitempty"`
}

// DuplicateAnalysis summarizes duplicate detection over one batch
type DuplicateAnalysis struct {
	TotalItems      int                `json:"total_items"`
	DuplicatesFound int                `json:"duplicates_found"`
	SkippedItems    int                `json:"skipped_items"`
	DuplicateRate   float64            `json:"duplicate_rate"`
	SourceOverlap   map[string]int     `json:"source_overlap,omitempty"` // "sourceA->sourceB" pair counts
	TimeDiffBuckets map[string]int     `json:"time_diff_buckets,omitempty"`
	DurationMs      int64              `json:"duration_ms"`
	ItemsPerSecond  float64            `json:"items_per_second"`
}

// DedupeStats is a point-in-time snapshot of the detector cache
type DedupeStats struct {
	CacheEntries   int   `json:"cache_entries"`
	CacheCapacity  int   `json:"cache_capacity"`
	TotalChecked   int64 `json:"total_checked"`
	TotalDuplicates int64 `json:"total_duplicates"`
	TotalEvicted   int64 `json:"total_evicted"`
}

// ResolvedMention binds a mention's textual references to canonical entity IDs
type ResolvedMention struct {
	Mention      *Mention `json:"mention"`
	RestaurantID string   `json:"restaurant_id"`
	DishID       string   `json:"dish_id,omitempty"`
	AttributeIDs []string `json:"attribute_ids,omitempty"`
	ConnectionID string   `json:"connection_id,omitempty"`
}

// ResolutionFailure records one mention excluded from persistence
type ResolutionFailure struct {
	TempID string    `json:"temp_id"`
	Kind   ErrorKind `json:"kind"`
	Reason string    `json:"reason"`
}

// ResolutionResult is the outcome of resolving one extraction batch
type ResolutionResult struct {
	Resolved        []*ResolvedMention  `json:"resolved"`
	Failures        []ResolutionFailure `json:"failures"`
	EntitiesCreated int                 `json:"entities_created"`
	AliasesCreated  int                 `json:"aliases_created"`
	ExactMatches    int                 `json:"exact_matches"`
	AliasMatches    int                 `json:"alias_matches"`
	FuzzyMatches    int                 `json:"fuzzy_matches"`
}
