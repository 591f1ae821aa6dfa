package forksight

import (
	"context"
	"log/slog"
	"os"

	"github.com/google/uuid"

	"github.com/forksight/forksight/core/dedupe"
	"github.com/forksight/forksight/core/extraction"
	"github.com/forksight/forksight/core/pipeline"
	"github.com/forksight/forksight/core/ratelimit"
	"github.com/forksight/forksight/core/resolver"
	"github.com/forksight/forksight/core/scoring"
	"github.com/forksight/forksight/database"
	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
	loadSql "github.com/forksight/forksight/sql"
)

// Config bundles the configuration of all pipeline components
type Config struct {
	// Dimension of the entity embedding column; must match the embedder
	EmbeddingDim int
	// Extraction client configuration; APIKey is required
	Extraction extraction.ClientConfig
	// Request budgets keyed by "service" or "service:operation"
	RateLimits map[string]model.RateLimitConfig
	Dedupe     model.DedupeConfig
	Resolver   model.ResolverConfig
	Pipeline   model.PipelineConfig
	// Capacity of the in-memory job queue
	QueueCapacity int
}

// DefaultConfig returns the default configuration; Extraction.APIKey
// must still be provided by the caller.
func DefaultConfig() *Config {
	return &Config{
		EmbeddingDim: 384,
		Extraction:   extraction.DefaultClientConfig(),
		RateLimits: map[string]model.RateLimitConfig{
			"openai": {RequestsPerMinute: 60},
		},
		Dedupe:        model.DefaultDedupeConfig(),
		Resolver:      model.DefaultResolverConfig(),
		Pipeline:      model.DefaultPipelineConfig(),
		QueueCapacity: 100,
	}
}

// Forksight provides a unified interface to the ingestion pipeline and
// all database handlers
type Forksight struct {
	DB          *helper.Database
	Entities    *database.EntitiesDBHandler
	Aliases     *database.AliasesDBHandler
	Connections *database.ConnectionsDBHandler
	Sources     *database.SourcesDBHandler
	Coordinator *ratelimit.Coordinator
	Detector    *dedupe.Detector
	Extractor   *extraction.Client
	Resolver    *resolver.Resolver
	Scoring     *scoring.Engine
	Pipeline    *pipeline.Pipeline
	Queue       pipeline.Queue
	Workers     *pipeline.WorkerPool
	// Logging
	log    *slog.Logger
	config *Config
}

// NewForksight creates a Forksight instance with all handlers and
// pipeline stages initialized. The resolver starts without an embedder
// and falls back to trigram fuzzy matching; call UseDefaultEmbedder
// before Start to switch to embedding candidates.
func NewForksight(dbConfig *helper.DatabaseConfiguration, config *Config) (*Forksight, error) {
	if config == nil {
		config = DefaultConfig()
	}

	// Logger
	opts := helper.PrettyHandlerOptions{
		SlogOpts: slog.HandlerOptions{
			Level: slog.LevelInfo,
		},
	}
	logger := slog.New(helper.NewPrettyHandler(os.Stdout, opts))

	// Initialize database
	db := helper.NewDatabase("forksight", dbConfig, logger)
	err := loadSql.Init(db.Instance)
	if err != nil {
		return nil, helper.NewError("initialize database extensions", err)
	}

	// Create all handlers, force=false to not reload existing functions
	entities, err := database.NewEntitiesDBHandler(db, config.EmbeddingDim, false)
	if err != nil {
		return nil, helper.NewError("create entities handler", err)
	}

	aliases, err := database.NewAliasesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create aliases handler", err)
	}

	connections, err := database.NewConnectionsDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create connections handler", err)
	}

	sources, err := database.NewSourcesDBHandler(db, false)
	if err != nil {
		return nil, helper.NewError("create sources handler", err)
	}

	coordinator, err := ratelimit.NewCoordinator(config.RateLimits, logger, nil)
	if err != nil {
		return nil, helper.NewError("create rate limit coordinator", err)
	}

	detector, err := dedupe.NewDetector(config.Dedupe, logger, nil)
	if err != nil {
		return nil, helper.NewError("create duplicate detector", err)
	}

	extractor, err := extraction.NewClient(config.Extraction, coordinator, logger)
	if err != nil {
		return nil, helper.NewError("create extraction client", err)
	}

	mentionResolver, err := resolver.NewResolver(entities, aliases, connections, config.Resolver, nil, logger)
	if err != nil {
		return nil, helper.NewError("create entity resolver", err)
	}

	scoringEngine, err := scoring.NewEngine(entities, logger)
	if err != nil {
		return nil, helper.NewError("create scoring engine", err)
	}

	f := &Forksight{
		DB:          db,
		Entities:    entities,
		Aliases:     aliases,
		Connections: connections,
		Sources:     sources,
		Coordinator: coordinator,
		Detector:    detector,
		Extractor:   extractor,
		Resolver:    mentionResolver,
		Scoring:     scoringEngine,
		Queue:       pipeline.NewMemoryQueue(config.QueueCapacity),
		log:         logger,
		config:      config,
	}
	if err := f.rebuildPipeline(); err != nil {
		return nil, err
	}

	return f, nil
}

func (f *Forksight) rebuildPipeline() error {
	p, err := pipeline.NewPipeline(f.Detector, f.Extractor, f.Resolver, f.Scoring, f.Sources, f.log)
	if err != nil {
		return helper.NewError("create pipeline", err)
	}

	workers, err := pipeline.NewWorkerPool(f.Queue, p, f.config.Pipeline, f.log)
	if err != nil {
		return helper.NewError("create worker pool", err)
	}

	f.Pipeline = p
	f.Workers = workers
	return nil
}

// UseDefaultEmbedder switches tier 3 entity resolution from trigram
// similarity to embedding nearest-neighbour search using the
// all-MiniLM-L6-v2 model (384 dimensions). Call before Start.
func (f *Forksight) UseDefaultEmbedder() error {
	embed, err := resolver.DefaultEmbedder()
	if err != nil {
		return helper.NewError("create default embedder", err)
	}

	mentionResolver, err := resolver.NewResolver(f.Entities, f.Aliases, f.Connections, f.config.Resolver, embed, f.log)
	if err != nil {
		return helper.NewError("create entity resolver", err)
	}

	f.Resolver = mentionResolver
	return f.rebuildPipeline()
}

// Start launches the worker pool consuming jobs from the queue
func (f *Forksight) Start(ctx context.Context) {
	f.Workers.Start(ctx)
}

// Stop stops the worker pool, waiting for in-flight jobs to finish
func (f *Forksight) Stop() {
	f.Workers.Stop()
}

// EnqueueJob submits a job to the queue for asynchronous processing
func (f *Forksight) EnqueueJob(job *model.Job) (uuid.UUID, error) {
	return f.Queue.Enqueue(job)
}

// JobStatus returns the queue-visible status of a job
func (f *Forksight) JobStatus(jobID uuid.UUID) (*model.JobStatus, error) {
	return f.Queue.Status(jobID)
}

// ProcessPosts runs one job synchronously through the full pipeline,
// bypassing the queue. Useful for backfills and tests.
func (f *Forksight) ProcessPosts(ctx context.Context, job *model.Job) (*model.JobResult, error) {
	return f.Pipeline.ProcessJob(ctx, job)
}

// RateLimitStatus returns the current usage of a service's rate limit
// windows
func (f *Forksight) RateLimitStatus(service string) model.RateLimitStatus {
	return f.Coordinator.Status(service)
}

// ChangeIndexType changes the entity vector index type between HNSW and
// IVFFlat
func (f *Forksight) ChangeIndexType(ctx context.Context, indexType string, params map[string]interface{}) error {
	return f.Entities.ChangeIndexType(ctx, indexType, params)
}

// Close stops the workers and closes the database connection
func (f *Forksight) Close() error {
	if f.Workers != nil {
		f.Workers.Stop()
	}
	if f.Queue != nil {
		f.Queue.Close()
	}
	if f.DB != nil && f.DB.Instance != nil {
		return f.DB.Instance.Close()
	}
	return nil
}
