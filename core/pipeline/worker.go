package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// WorkerPool drives the pipeline with a bounded number of workers
// consuming jobs from the queue. Workers run in parallel with each
// other but are internally sequential per job.
type WorkerPool struct {
	queue    Queue
	pipeline *Pipeline
	config   model.PipelineConfig
	logger   *slog.Logger

	wg     sync.WaitGroup
	cancel context.CancelFunc
}

// NewWorkerPool creates a worker pool over a queue and pipeline
func NewWorkerPool(queue Queue, pipeline *Pipeline, config model.PipelineConfig, logger *slog.Logger) (*WorkerPool, error) {
	if queue == nil || pipeline == nil {
		return nil, helper.NewError("worker pool validation", fmt.Errorf("queue and pipeline must not be nil"))
	}
	if logger == nil {
		return nil, helper.NewError("worker pool validation", fmt.Errorf("logger is nil"))
	}
	if config.Concurrency <= 0 {
		config.Concurrency = model.DefaultPipelineConfig().Concurrency
	}
	if config.JobTimeoutSeconds <= 0 {
		config.JobTimeoutSeconds = model.DefaultPipelineConfig().JobTimeoutSeconds
	}

	return &WorkerPool{
		queue:    queue,
		pipeline: pipeline,
		config:   config,
		logger:   logger,
	}, nil
}

// Start launches the workers. They run until Stop is called or ctx is
// cancelled.
func (w *WorkerPool) Start(ctx context.Context) {
	ctx, w.cancel = context.WithCancel(ctx)

	for i := 0; i < w.config.Concurrency; i++ {
		w.wg.Add(1)
		go w.work(ctx, i)
	}

	w.logger.Info("Started worker pool", slog.Int("concurrency", w.config.Concurrency))
}

// Stop cancels the workers and waits for in-flight jobs to finish
func (w *WorkerPool) Stop() {
	if w.cancel != nil {
		w.cancel()
	}
	w.wg.Wait()
	w.logger.Info("Stopped worker pool")
}

func (w *WorkerPool) work(ctx context.Context, worker int) {
	defer w.wg.Done()

	for {
		job, err := w.queue.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return
			}
			w.logger.Warn("dequeue failed, worker exiting",
				slog.Int("worker", worker), slog.String("error", err.Error()))
			return
		}

		w.process(ctx, job)
	}
}

// process runs one job under the job-level timeout. The timeout
// cancels in-flight extraction; committed resolution writes are not
// rolled back since they are individually idempotent.
func (w *WorkerPool) process(ctx context.Context, job *model.Job) {
	jobCtx, cancel := context.WithTimeout(ctx, time.Duration(w.config.JobTimeoutSeconds)*time.Second)
	defer cancel()

	result, err := w.pipeline.ProcessJob(jobCtx, job)
	if err != nil {
		w.logger.Error("job failed",
			slog.String("job_id", job.ID.String()),
			slog.String("correlation_id", job.CorrelationID),
			slog.String("error", err.Error()))
		w.queue.Fail(job.ID, err.Error())
		return
	}

	w.queue.Complete(job.ID, result)
}
