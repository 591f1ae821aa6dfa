package dedupe

import (
	"fmt"
	"hash/fnv"
	"log/slog"
	"regexp"
	"sort"
	"sync"
	"time"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// sourcePrefix matches source-type ID prefixes like "t3_" and "t1_"
var sourcePrefix = regexp.MustCompile(`^t\d+_`)

// trackingEntry records the first sighting of a content identifier
type trackingEntry struct {
	identifier     model.ContentIdentifier
	sourceType     string
	firstSeen      int64
	batchID        string
	sourceMetadata model.SourceMetadata
	lastAccessed   time.Time
}

// Detector flags content items seen before across any source, allowing
// for clock skew between sources. The cache is in-process only, so
// detection is effective within one process lifetime.
type Detector struct {
	config model.DedupeConfig
	logger *slog.Logger
	clk    func() time.Time

	mu              sync.Mutex
	cache           map[string]*trackingEntry
	totalChecked    int64
	totalDuplicates int64
	totalEvicted    int64
}

// NewDetector creates a duplicate detector with the given default
// configuration. clk is the clock used for access-time ordering; nil
// uses time.Now.
func NewDetector(config model.DedupeConfig, logger *slog.Logger, clk func() time.Time) (*Detector, error) {
	if logger == nil {
		return nil, helper.NewError("detector validation", fmt.Errorf("logger is nil"))
	}
	if err := validateConfig(config); err != nil {
		return nil, helper.NewError("detector validation", err)
	}
	if clk == nil {
		clk = time.Now
	}

	return &Detector{
		config: config,
		logger: logger,
		clk:    clk,
		cache:  make(map[string]*trackingEntry),
	}, nil
}

func validateConfig(config model.DedupeConfig) error {
	if config.MaxTimeDifferenceSeconds < 0 {
		return fmt.Errorf("maxTimeDifferenceSeconds must not be negative, got %d", config.MaxTimeDifferenceSeconds)
	}
	if config.CacheSize <= 0 {
		return fmt.Errorf("cacheSize must be positive, got %d", config.CacheSize)
	}
	if config.MaxBatchSize <= 0 {
		return fmt.Errorf("maxBatchSize must be positive, got %d", config.MaxBatchSize)
	}
	return nil
}

// Identify computes the normalized identity of a content item. The
// source record ID has any source-type prefix stripped; the type is
// "post" for submissions and "comment" otherwise.
func Identify(item *model.MergedContentItem) (model.ContentIdentifier, error) {
	if item == nil {
		return model.ContentIdentifier{}, fmt.Errorf("item is nil")
	}
	if item.ID == "" {
		return model.ContentIdentifier{}, fmt.Errorf("item has no source record ID")
	}

	id := sourcePrefix.ReplaceAllString(item.ID, "")
	contentType := model.ContentTypeComment
	if item.Kind == "submission" {
		contentType = model.ContentTypePost
	}

	return model.ContentIdentifier{
		ID:            id,
		Type:          contentType,
		NormalizedKey: string(contentType) + ":" + id,
	}, nil
}

// fallbackIdentify derives an identity from the item content for the
// fallback missing-ID strategy
func fallbackIdentify(item *model.MergedContentItem) model.ContentIdentifier {
	h := fnv.New64a()
	h.Write([]byte(item.Kind))
	h.Write([]byte(item.Title))
	h.Write([]byte(item.Body))
	h.Write([]byte(item.Author))
	id := fmt.Sprintf("fallback-%x", h.Sum64())

	contentType := model.ContentTypeComment
	if item.Kind == "submission" {
		contentType = model.ContentTypePost
	}

	return model.ContentIdentifier{
		ID:            id,
		Type:          contentType,
		NormalizedKey: string(contentType) + ":" + id,
	}
}

// CheckSingleItem checks one item against the cache and tracks it if
// unseen. It uses the detector's default tolerance. Under the error
// missing-ID strategy an item without a usable source record ID returns
// an error, matching the batch path.
func (d *Detector) CheckSingleItem(item *model.MergedContentItem) (model.DuplicateDetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	result := d.checkItem(item, d.config, "")
	if result.Skipped && d.config.MissingIDStrategy == model.MissingIDError {
		return result, helper.NewError("item validation",
			fmt.Errorf("item without source record ID: %s", result.SkipReason))
	}
	return result, nil
}

// checkItem is the single-item core. Called with the detector mutex held.
func (d *Detector) checkItem(item *model.MergedContentItem, config model.DedupeConfig, batchID string) model.DuplicateDetectionResult {
	d.totalChecked++

	identifier, err := Identify(item)
	if err != nil {
		switch config.MissingIDStrategy {
		case model.MissingIDFallback:
			identifier = fallbackIdentify(item)
			d.logger.Warn("using fallback identity for item without ID",
				slog.String("key", identifier.NormalizedKey))
		default:
			d.logger.Warn("skipping item", slog.String("reason", err.Error()))
			return model.DuplicateDetectionResult{Skipped: true, SkipReason: err.Error()}
		}
	}

	now := d.clk()
	tracked, seen := d.cache[identifier.NormalizedKey]
	if !seen {
		d.cache[identifier.NormalizedKey] = &trackingEntry{
			identifier:     identifier,
			sourceType:     item.SourceMetadata.SourceType,
			firstSeen:      item.NormalizedTimestamp,
			batchID:        batchID,
			sourceMetadata: item.SourceMetadata,
			lastAccessed:   now,
		}
		d.evictIfNeeded()
		return model.DuplicateDetectionResult{Identifier: identifier}
	}

	tracked.lastAccessed = now

	timeDiff := item.NormalizedTimestamp - tracked.firstSeen
	if timeDiff < 0 {
		timeDiff = -timeDiff
	}

	result := model.DuplicateDetectionResult{
		Identifier:      identifier,
		FirstSeenSource: tracked.sourceType,
		TimeDiffSeconds: timeDiff,
	}

	if timeDiff <= config.MaxTimeDifferenceSeconds {
		d.totalDuplicates++
		result.IsDuplicate = true
	} else {
		// Same key at a different real-world moment. Not filtered,
		// but the proximity is annotated for analysis.
		result.ProximateKey = true
	}

	return result
}

// evictIfNeeded drops the oldest 10% of entries by last access once the
// cache exceeds capacity. This is an approximation of LRU, not strict
// LRU; re-processing an evicted duplicate is tolerable, filtering a
// non-duplicate is not, so recently accessed entries are never dropped.
// Called with the detector mutex held.
func (d *Detector) evictIfNeeded() {
	if len(d.cache) <= d.config.CacheSize {
		return
	}

	entries := make([]*trackingEntry, 0, len(d.cache))
	for _, entry := range d.cache {
		entries = append(entries, entry)
	}
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].lastAccessed.Before(entries[j].lastAccessed)
	})

	evictCount := len(d.cache) / 10
	if evictCount < 1 {
		evictCount = 1
	}
	for _, entry := range entries[:evictCount] {
		delete(d.cache, entry.identifier.NormalizedKey)
	}
	d.totalEvicted += int64(evictCount)

	d.logger.Info("Evicted oldest duplicate cache entries",
		slog.Int("evicted", evictCount), slog.Int("remaining", len(d.cache)))
}

// DetectAndFilterDuplicates checks a batch of items and returns the
// non-duplicates together with a batch analysis. config overrides the
// detector defaults for this batch; nil uses the defaults. The batch is
// rejected outright on invalid input, with no partial processing.
func (d *Detector) DetectAndFilterDuplicates(items []*model.MergedContentItem, config *model.DedupeConfig) ([]*model.MergedContentItem, *model.DuplicateAnalysis, error) {
	if items == nil {
		return nil, nil, helper.NewError("batch validation", fmt.Errorf("items is nil"))
	}

	effective := d.config
	if config != nil {
		effective = *config
		if err := validateConfig(effective); err != nil {
			return nil, nil, helper.NewError("batch validation", err)
		}
	}
	if len(items) > effective.MaxBatchSize {
		return nil, nil, helper.NewError("batch validation",
			fmt.Errorf("batch size %d exceeds maximum %d", len(items), effective.MaxBatchSize))
	}

	start := d.clk()
	batchID := fmt.Sprintf("batch-%d", start.UnixNano())

	tracked := make(map[string]bool, len(effective.SourceTypes))
	for _, sourceType := range effective.SourceTypes {
		tracked[sourceType] = true
	}

	analysis := &model.DuplicateAnalysis{
		TotalItems:      len(items),
		SourceOverlap:   make(map[string]int),
		TimeDiffBuckets: make(map[string]int),
	}

	var filtered []*model.MergedContentItem

	d.mu.Lock()
	for _, item := range items {
		result := d.checkItem(item, effective, batchID)

		if result.Skipped {
			analysis.SkippedItems++
			if effective.MissingIDStrategy == model.MissingIDError {
				d.mu.Unlock()
				return nil, nil, helper.NewError("batch processing",
					fmt.Errorf("item without source record ID: %s", result.SkipReason))
			}
			continue
		}

		if result.IsDuplicate {
			analysis.DuplicatesFound++
			analysis.TimeDiffBuckets[timeDiffBucket(result.TimeDiffSeconds)]++
			if tracked[result.FirstSeenSource] && tracked[item.SourceMetadata.SourceType] {
				analysis.SourceOverlap[result.FirstSeenSource+"->"+item.SourceMetadata.SourceType]++
			}
			continue
		}

		if result.ProximateKey {
			analysis.TimeDiffBuckets[timeDiffBucket(result.TimeDiffSeconds)]++
		}

		filtered = append(filtered, item)
	}
	d.mu.Unlock()

	if analysis.TotalItems > 0 {
		analysis.DuplicateRate = float64(analysis.DuplicatesFound) / float64(analysis.TotalItems)
	}

	// Floored at 1ms so throughput division is always defined
	analysis.DurationMs = d.clk().Sub(start).Milliseconds()
	if analysis.DurationMs < 1 {
		analysis.DurationMs = 1
	}
	analysis.ItemsPerSecond = float64(analysis.TotalItems) / (float64(analysis.DurationMs) / 1000.0)

	d.logger.Info("Duplicate detection finished",
		slog.Int("total", analysis.TotalItems),
		slog.Int("duplicates", analysis.DuplicatesFound),
		slog.Int("skipped", analysis.SkippedItems),
		slog.Int64("duration_ms", analysis.DurationMs))

	return filtered, analysis, nil
}

// timeDiffBucket assigns an observed key proximity to its histogram bucket
func timeDiffBucket(seconds int64) string {
	switch {
	case seconds <= 3600:
		return "0-1h"
	case seconds <= 6*3600:
		return "1-6h"
	case seconds <= 24*3600:
		return "6-24h"
	case seconds <= 7*24*3600:
		return "1-7d"
	default:
		return ">7d"
	}
}

// Stats returns a point-in-time snapshot of the detector cache
func (d *Detector) Stats() model.DedupeStats {
	d.mu.Lock()
	defer d.mu.Unlock()

	return model.DedupeStats{
		CacheEntries:    len(d.cache),
		CacheCapacity:   d.config.CacheSize,
		TotalChecked:    d.totalChecked,
		TotalDuplicates: d.totalDuplicates,
		TotalEvicted:    d.totalEvicted,
	}
}

// ClearCache drops all tracked identifiers
func (d *Detector) ClearCache() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.cache = make(map[string]*trackingEntry)
	d.logger.Info("Cleared duplicate cache")
}
