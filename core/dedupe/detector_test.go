package dedupe

import (
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksight/forksight/model"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeClock is an injectable clock for deterministic access ordering
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newTestDetector(t *testing.T, config model.DedupeConfig) (*Detector, *fakeClock) {
	clock := newFakeClock()
	detector, err := NewDetector(config, testLogger(), clock.Now)
	require.NoError(t, err, "Expected NewDetector to not return an error")
	return detector, clock
}

func postItem(id string, timestamp int64, sourceType string) *model.MergedContentItem {
	return &model.MergedContentItem{
		ID:                  id,
		Kind:                "submission",
		Body:                "some content",
		NormalizedTimestamp: timestamp,
		SourceMetadata:      model.SourceMetadata{SourceType: sourceType, OriginalID: id},
	}
}

func TestNewDetector(t *testing.T) {
	t.Run("Valid call NewDetector", func(t *testing.T) {
		detector, err := NewDetector(model.DefaultDedupeConfig(), testLogger(), nil)
		assert.NoError(t, err, "Expected NewDetector to not return an error")
		require.NotNil(t, detector, "Expected NewDetector to return a non-nil instance")
	})

	t.Run("Invalid call NewDetector with negative tolerance", func(t *testing.T) {
		config := model.DefaultDedupeConfig()
		config.MaxTimeDifferenceSeconds = -1
		_, err := NewDetector(config, testLogger(), nil)
		assert.Error(t, err, "Expected error for negative tolerance")
	})

	t.Run("Invalid call NewDetector with nil logger", func(t *testing.T) {
		_, err := NewDetector(model.DefaultDedupeConfig(), nil, nil)
		assert.Error(t, err, "Expected error for nil logger")
	})
}

func TestIdentify(t *testing.T) {
	t.Run("Strips source type prefix", func(t *testing.T) {
		identifier, err := Identify(postItem("t3_abc123", 0, "reddit"))
		assert.NoError(t, err)
		assert.Equal(t, "abc123", identifier.ID, "Expected the t3_ prefix to be stripped")
		assert.Equal(t, model.ContentTypePost, identifier.Type, "Expected a submission to map to post")
		assert.Equal(t, "post:abc123", identifier.NormalizedKey)
	})

	t.Run("Maps comment kind", func(t *testing.T) {
		item := postItem("t1_def456", 0, "reddit")
		item.Kind = "comment"
		identifier, err := Identify(item)
		assert.NoError(t, err)
		assert.Equal(t, "comment:def456", identifier.NormalizedKey)
	})

	t.Run("Missing ID is an error", func(t *testing.T) {
		_, err := Identify(postItem("", 0, "reddit"))
		assert.Error(t, err, "Expected an error for an item without ID")
	})
}

func TestCheckSingleItem(t *testing.T) {
	detector, _ := newTestDetector(t, model.DefaultDedupeConfig())

	t.Run("First sight is not a duplicate", func(t *testing.T) {
		result, err := detector.CheckSingleItem(postItem("t3_abc123", 0, "reddit"))
		assert.NoError(t, err)
		assert.False(t, result.IsDuplicate, "Expected first sight to not be a duplicate")
	})

	t.Run("Same key within tolerance is a duplicate", func(t *testing.T) {
		result, err := detector.CheckSingleItem(postItem("t3_abc123", 600, "archive"))
		assert.NoError(t, err)
		assert.True(t, result.IsDuplicate, "Expected a duplicate within the tolerance window")
		assert.Equal(t, int64(600), result.TimeDiffSeconds, "Expected the observed time difference")
		assert.Equal(t, "reddit", result.FirstSeenSource, "Expected the originally tracked source")
	})

	t.Run("Same key outside tolerance is not filtered", func(t *testing.T) {
		result, err := detector.CheckSingleItem(postItem("t3_abc123", 7200, "reddit"))
		assert.NoError(t, err)
		assert.False(t, result.IsDuplicate, "Expected a distinct occurrence outside the window")
		assert.True(t, result.ProximateKey, "Expected the proximity to be annotated")
		assert.Equal(t, int64(7200), result.TimeDiffSeconds)
	})

	t.Run("Missing ID with skip strategy is a skipped result, not an error", func(t *testing.T) {
		result, err := detector.CheckSingleItem(postItem("", 0, "reddit"))
		assert.NoError(t, err, "Expected the skip strategy to not return an error")
		assert.True(t, result.Skipped)
	})

	t.Run("Missing ID with error strategy returns an error", func(t *testing.T) {
		config := model.DefaultDedupeConfig()
		config.MissingIDStrategy = model.MissingIDError
		strict, _ := newTestDetector(t, config)

		result, err := strict.CheckSingleItem(postItem("", 0, "reddit"))
		assert.Error(t, err, "Expected the error strategy to surface the missing ID")
		assert.True(t, result.Skipped, "Expected the result to carry the skip details")
	})
}

func TestDetectAndFilterDuplicates(t *testing.T) {
	t.Run("Filters duplicates regardless of order within batch", func(t *testing.T) {
		detector, _ := newTestDetector(t, model.DefaultDedupeConfig())

		items := []*model.MergedContentItem{
			postItem("t3_one", 0, "reddit"),
			postItem("t3_two", 0, "reddit"),
			postItem("t3_one", 600, "archive"),
		}

		filtered, analysis, err := detector.DetectAndFilterDuplicates(items, nil)
		assert.NoError(t, err, "Expected DetectAndFilterDuplicates to not return an error")
		assert.Len(t, filtered, 2, "Expected exactly one item filtered")
		assert.Equal(t, 1, analysis.DuplicatesFound)
		assert.InDelta(t, 1.0/3.0, analysis.DuplicateRate, 0.001)
		assert.Equal(t, 1, analysis.SourceOverlap["reddit->archive"], "Expected the overlap pair counted")
		assert.Equal(t, 1, analysis.TimeDiffBuckets["0-1h"], "Expected the time difference bucketed")
		assert.GreaterOrEqual(t, analysis.DurationMs, int64(1), "Expected duration floored at 1ms")
	})

	t.Run("Rejects nil batch", func(t *testing.T) {
		detector, _ := newTestDetector(t, model.DefaultDedupeConfig())
		_, _, err := detector.DetectAndFilterDuplicates(nil, nil)
		assert.Error(t, err, "Expected an error for a nil batch")
	})

	t.Run("Rejects oversized batch", func(t *testing.T) {
		config := model.DefaultDedupeConfig()
		config.MaxBatchSize = 2
		detector, _ := newTestDetector(t, config)

		items := []*model.MergedContentItem{
			postItem("t3_one", 0, "reddit"),
			postItem("t3_two", 0, "reddit"),
			postItem("t3_three", 0, "reddit"),
		}
		_, _, err := detector.DetectAndFilterDuplicates(items, nil)
		assert.Error(t, err, "Expected an error for a batch over the size limit")
	})

	t.Run("Rejects negative tolerance override", func(t *testing.T) {
		detector, _ := newTestDetector(t, model.DefaultDedupeConfig())
		override := model.DefaultDedupeConfig()
		override.MaxTimeDifferenceSeconds = -10
		_, _, err := detector.DetectAndFilterDuplicates([]*model.MergedContentItem{}, &override)
		assert.Error(t, err, "Expected an error for a negative tolerance override")
	})

	t.Run("Skip strategy drops items without ID", func(t *testing.T) {
		detector, _ := newTestDetector(t, model.DefaultDedupeConfig())

		items := []*model.MergedContentItem{
			postItem("", 0, "reddit"),
			postItem("t3_ok", 0, "reddit"),
		}
		filtered, analysis, err := detector.DetectAndFilterDuplicates(items, nil)
		assert.NoError(t, err, "Expected the batch to continue with the skip strategy")
		assert.Len(t, filtered, 1, "Expected the item without ID to be dropped")
		assert.Equal(t, 1, analysis.SkippedItems)
	})

	t.Run("Error strategy aborts the batch", func(t *testing.T) {
		config := model.DefaultDedupeConfig()
		config.MissingIDStrategy = model.MissingIDError
		detector, _ := newTestDetector(t, config)

		items := []*model.MergedContentItem{postItem("", 0, "reddit")}
		_, _, err := detector.DetectAndFilterDuplicates(items, nil)
		assert.Error(t, err, "Expected the error strategy to abort the batch")
	})

	t.Run("Fallback strategy derives an identity from content", func(t *testing.T) {
		config := model.DefaultDedupeConfig()
		config.MissingIDStrategy = model.MissingIDFallback
		detector, _ := newTestDetector(t, config)

		item := postItem("", 0, "reddit")
		item.Body = "identical body"
		duplicate := postItem("", 60, "archive")
		duplicate.Body = "identical body"

		filtered, analysis, err := detector.DetectAndFilterDuplicates(
			[]*model.MergedContentItem{item, duplicate}, nil)
		assert.NoError(t, err)
		assert.Len(t, filtered, 1, "Expected identical content to collapse under the fallback identity")
		assert.Equal(t, 1, analysis.DuplicatesFound)
	})
}

func TestCacheEviction(t *testing.T) {
	config := model.DefaultDedupeConfig()
	config.CacheSize = 100
	detector, clock := newTestDetector(t, config)

	// Fill the cache past capacity, advancing the clock so access times
	// are strictly ordered
	for i := 0; i <= 100; i++ {
		detector.CheckSingleItem(postItem(fmt.Sprintf("t3_item%03d", i), int64(i), "reddit"))
		clock.Advance(time.Second)
	}

	stats := detector.Stats()
	assert.LessOrEqual(t, stats.CacheEntries, 100, "Expected the cache back within capacity")
	assert.GreaterOrEqual(t, stats.TotalEvicted, int64(1), "Expected evictions counted")

	// The most recently tracked entries survive eviction
	result, err := detector.CheckSingleItem(postItem("t3_item100", 100, "archive"))
	require.NoError(t, err)
	assert.True(t, result.IsDuplicate, "Expected a recently accessed entry to survive eviction")

	// The oldest entry was evicted, so it is seen as new again
	result, err = detector.CheckSingleItem(postItem("t3_item000", 0, "archive"))
	require.NoError(t, err)
	assert.False(t, result.IsDuplicate, "Expected the oldest entry to have been evicted")
}

func TestStatsAndClearCache(t *testing.T) {
	detector, _ := newTestDetector(t, model.DefaultDedupeConfig())

	detector.CheckSingleItem(postItem("t3_abc", 0, "reddit"))
	detector.CheckSingleItem(postItem("t3_abc", 10, "reddit"))

	stats := detector.Stats()
	assert.Equal(t, 1, stats.CacheEntries)
	assert.Equal(t, int64(2), stats.TotalChecked)
	assert.Equal(t, int64(1), stats.TotalDuplicates)

	detector.ClearCache()
	stats = detector.Stats()
	assert.Equal(t, 0, stats.CacheEntries, "Expected the cache to be empty after clearing")
}
