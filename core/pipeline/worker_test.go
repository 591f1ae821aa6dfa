package pipeline

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksight/forksight/model"
)

// blockingExtractor waits for the job context to expire
type blockingExtractor struct{}

func (b *blockingExtractor) ProcessContentWithRetry(ctx context.Context, items []*model.MergedContentItem) ([]*model.Mention, error) {
	<-ctx.Done()
	return nil, ctx.Err()
}

func waitForTerminalState(t *testing.T, queue Queue, jobID uuid.UUID) *model.JobStatus {
	t.Helper()
	deadline := time.Now().Add(5 * time.Second)
	for time.Now().Before(deadline) {
		status, err := queue.Status(jobID)
		require.NoError(t, err)
		if status.State == model.JobStateCompleted || status.State == model.JobStateFailed {
			return status
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("job never reached a terminal state")
	return nil
}

func TestNewWorkerPool(t *testing.T) {
	t.Run("Invalid call NewWorkerPool with nil queue", func(t *testing.T) {
		pipeline, err := NewPipeline(testDetector(t), &fakeExtractor{}, &fakeResolver{}, nil, nil, testLogger())
		require.NoError(t, err)

		_, err = NewWorkerPool(nil, pipeline, model.DefaultPipelineConfig(), testLogger())
		assert.Error(t, err, "Expected error for nil queue")
	})

	t.Run("Valid call NewWorkerPool fills config defaults", func(t *testing.T) {
		pipeline, err := NewPipeline(testDetector(t), &fakeExtractor{}, &fakeResolver{}, nil, nil, testLogger())
		require.NoError(t, err)

		pool, err := NewWorkerPool(NewMemoryQueue(1), pipeline, model.PipelineConfig{}, testLogger())
		assert.NoError(t, err, "Expected NewWorkerPool to not return an error")
		require.NotNil(t, pool)
		assert.Equal(t, model.DefaultPipelineConfig().Concurrency, pool.config.Concurrency)
	})
}

func TestWorkerPool(t *testing.T) {
	t.Run("Workers complete enqueued jobs", func(t *testing.T) {
		queue := NewMemoryQueue(10)
		defer queue.Close()

		pipeline, err := NewPipeline(testDetector(t), &fakeExtractor{}, &fakeResolver{restaurantID: uuid.New()}, nil, nil, testLogger())
		require.NoError(t, err)

		pool, err := NewWorkerPool(queue, pipeline, model.PipelineConfig{Concurrency: 2, JobTimeoutSeconds: 30}, testLogger())
		require.NoError(t, err)

		pool.Start(context.Background())
		defer pool.Stop()

		jobIDs := make([]uuid.UUID, 0, 3)
		for i, postID := range []string{"t3_aa", "t3_bb", "t3_cc"} {
			jobID, err := queue.Enqueue(testJob(contentItem(postID, int64(i*7200))))
			require.NoError(t, err)
			jobIDs = append(jobIDs, jobID)
		}

		for _, jobID := range jobIDs {
			status := waitForTerminalState(t, queue, jobID)
			assert.Equal(t, model.JobStateCompleted, status.State, "Expected the job completed")
			require.NotNil(t, status.Result)
			assert.Equal(t, 1, status.Result.MentionsExtracted)
		}
	})

	t.Run("Failed job carries the failure reason", func(t *testing.T) {
		queue := NewMemoryQueue(1)
		defer queue.Close()

		extractor := &fakeExtractor{err: model.NewPipelineError(model.ErrorKindAuthentication, "invalid api key", nil)}
		pipeline, err := NewPipeline(testDetector(t), extractor, &fakeResolver{}, nil, nil, testLogger())
		require.NoError(t, err)

		pool, err := NewWorkerPool(queue, pipeline, model.PipelineConfig{Concurrency: 1, JobTimeoutSeconds: 30}, testLogger())
		require.NoError(t, err)

		pool.Start(context.Background())
		defer pool.Stop()

		jobID, err := queue.Enqueue(testJob(contentItem("t3_fail", 0)))
		require.NoError(t, err)

		status := waitForTerminalState(t, queue, jobID)
		assert.Equal(t, model.JobStateFailed, status.State)
		assert.Contains(t, status.FailedReason, "invalid api key", "Expected the cause in the failure reason")
	})

	t.Run("Job timeout fails the job instead of hanging the worker", func(t *testing.T) {
		queue := NewMemoryQueue(1)
		defer queue.Close()

		pipeline, err := NewPipeline(testDetector(t), &blockingExtractor{}, &fakeResolver{}, nil, nil, testLogger())
		require.NoError(t, err)

		pool, err := NewWorkerPool(queue, pipeline, model.PipelineConfig{Concurrency: 1, JobTimeoutSeconds: 1}, testLogger())
		require.NoError(t, err)

		pool.Start(context.Background())
		defer pool.Stop()

		jobID, err := queue.Enqueue(testJob(contentItem("t3_slow", 0)))
		require.NoError(t, err)

		status := waitForTerminalState(t, queue, jobID)
		assert.Equal(t, model.JobStateFailed, status.State)
		assert.Contains(t, status.FailedReason, "deadline", "Expected the timeout surfaced as the reason")
	})

	t.Run("Stop waits for workers to exit", func(t *testing.T) {
		queue := NewMemoryQueue(1)
		defer queue.Close()

		pipeline, err := NewPipeline(testDetector(t), &fakeExtractor{}, &fakeResolver{}, nil, nil, testLogger())
		require.NoError(t, err)

		pool, err := NewWorkerPool(queue, pipeline, model.PipelineConfig{Concurrency: 3, JobTimeoutSeconds: 30}, testLogger())
		require.NoError(t, err)

		pool.Start(context.Background())

		done := make(chan struct{})
		go func() {
			pool.Stop()
			close(done)
		}()

		select {
		case <-done:
		case <-time.After(5 * time.Second):
			t.Fatal("Stop did not return")
		}
	})
}
