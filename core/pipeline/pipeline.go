package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/forksight/forksight/core/dedupe"
	"github.com/forksight/forksight/database"
	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// ContentExtractor turns content items into structured mentions
type ContentExtractor interface {
	ProcessContentWithRetry(ctx context.Context, items []*model.MergedContentItem) ([]*model.Mention, error)
}

// MentionResolver binds mentions to canonical entity IDs
type MentionResolver interface {
	ResolveMentions(ctx context.Context, mentions []*model.Mention, scope string) (*model.ResolutionResult, error)
}

// SignalScorer folds batch signals into entity scores
type SignalScorer interface {
	ApplyBatchSignals(ctx context.Context, resolved []*model.ResolvedMention) (int, error)
}

// Pipeline composes the processing stages for one job: filter
// duplicates, extract mentions, resolve them to canonical entities,
// persist provenance and update score signals.
type Pipeline struct {
	detector  *dedupe.Detector
	extractor ContentExtractor
	resolver  MentionResolver
	scorer    SignalScorer
	sources   database.SourcesDBHandlerFunctions
	logger    *slog.Logger
}

// NewPipeline creates a pipeline over its stage implementations.
// scorer and sources are optional; nil disables those stages.
func NewPipeline(
	detector *dedupe.Detector,
	extractor ContentExtractor,
	resolver MentionResolver,
	scorer SignalScorer,
	sources database.SourcesDBHandlerFunctions,
	logger *slog.Logger,
) (*Pipeline, error) {
	if detector == nil || extractor == nil || resolver == nil {
		return nil, helper.NewError("pipeline validation", fmt.Errorf("detector, extractor and resolver must not be nil"))
	}
	if logger == nil {
		return nil, helper.NewError("pipeline validation", fmt.Errorf("logger is nil"))
	}

	return &Pipeline{
		detector:  detector,
		extractor: extractor,
		resolver:  resolver,
		scorer:    scorer,
		sources:   sources,
		logger:    logger,
	}, nil
}

// ProcessJob runs one job end-to-end. Stages run sequentially; a
// failure in deduplication, extraction or resolution fails the job,
// while provenance and scoring failures degrade it with a warning.
func (p *Pipeline) ProcessJob(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	if job == nil {
		return nil, helper.NewError("job validation", fmt.Errorf("job is nil"))
	}

	start := time.Now()
	result := &model.JobResult{
		JobID:         job.ID,
		CorrelationID: job.CorrelationID,
		ItemsIn:       len(job.Items),
	}
	logger := p.logger.With(
		slog.String("job_id", job.ID.String()),
		slog.String("correlation_id", job.CorrelationID))

	// Stage 1: duplicate filtering
	stageStart := time.Now()
	filtered, analysis, err := p.detector.DetectAndFilterDuplicates(job.Items, nil)
	if err != nil {
		return nil, helper.NewError("duplicate detection", err)
	}
	result.Dedupe = analysis
	result.ItemsFiltered = analysis.DuplicatesFound
	result.SkippedItems = analysis.SkippedItems
	result.Timings = append(result.Timings, stageTiming("dedupe", stageStart))

	if len(filtered) == 0 {
		logger.Info("No items left after duplicate filtering")
		result.TotalDurationMs = time.Since(start).Milliseconds()
		return result, nil
	}

	// Stage 2: extraction
	stageStart = time.Now()
	mentions, err := p.extractor.ProcessContentWithRetry(ctx, filtered)
	if err != nil {
		return nil, helper.NewError("extraction", err)
	}
	result.MentionsExtracted = len(mentions)
	result.Timings = append(result.Timings, stageTiming("extract", stageStart))

	// Stage 3: entity resolution
	stageStart = time.Now()
	resolution, err := p.resolver.ResolveMentions(ctx, mentions, job.Subreddit)
	if err != nil {
		return nil, helper.NewError("entity resolution", err)
	}
	result.Resolution = resolution
	result.MentionsResolved = len(resolution.Resolved)
	result.EntitiesCreated = resolution.EntitiesCreated
	result.AliasesCreated = resolution.AliasesCreated
	for _, failure := range resolution.Failures {
		if failure.Kind == model.ErrorKindResolutionAmbiguity {
			result.AmbiguousMentions++
		}
	}
	result.Timings = append(result.Timings, stageTiming("resolve", stageStart))

	// Stage 4: source provenance. Individually idempotent upserts, so a
	// retried job converges instead of duplicating rows.
	if p.sources != nil {
		stageStart = time.Now()
		p.persistSources(filtered, job, logger)
		result.Timings = append(result.Timings, stageTiming("persist_sources", stageStart))
	}

	// Stage 5: scoring signals
	if p.scorer != nil {
		stageStart = time.Now()
		if _, err := p.scorer.ApplyBatchSignals(ctx, resolution.Resolved); err != nil {
			logger.Warn("scoring failed", slog.String("error", err.Error()))
		}
		result.Timings = append(result.Timings, stageTiming("score", stageStart))
	}

	result.TotalDurationMs = time.Since(start).Milliseconds()

	logger.Info("Job finished",
		slog.Int("items_in", result.ItemsIn),
		slog.Int("duplicates", result.ItemsFiltered),
		slog.Int("mentions", result.MentionsExtracted),
		slog.Int("resolved", result.MentionsResolved),
		slog.Int64("duration_ms", result.TotalDurationMs))

	return result, nil
}

func (p *Pipeline) persistSources(items []*model.MergedContentItem, job *model.Job, logger *slog.Logger) {
	for _, item := range items {
		identifier, err := dedupe.Identify(item)
		if err != nil {
			continue
		}

		source := &model.SourceRecord{
			NormalizedKey: identifier.NormalizedKey,
			ContentType:   identifier.Type,
			SourceType:    item.SourceMetadata.SourceType,
			Subreddit:     job.Subreddit,
			Upvotes:       item.Upvotes,
			URL:           item.URL,
			Content:       item.Body,
			Metadata: model.Metadata{
				"processing_batch": item.SourceMetadata.ProcessingBatch,
				"correlation_id":   job.CorrelationID,
			},
		}
		if err := p.sources.UpsertSource(source); err != nil {
			logger.Warn("source persistence failed",
				slog.String("key", identifier.NormalizedKey), slog.String("error", err.Error()))
		}
	}
}

func stageTiming(stage string, start time.Time) model.StageTiming {
	return model.StageTiming{Stage: stage, DurationMs: time.Since(start).Milliseconds()}
}
