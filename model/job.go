package model

import (
	"time"

	"github.com/google/uuid"
)

// JobState represents the lifecycle state of a pipeline job
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	JobStateFailed    JobState = "failed"
	JobStateDelayed   JobState = "delayed"
	JobStatePaused    JobState = "paused"
)

// JobOptions carries per-job fetch options from the queue producer
type JobOptions struct {
	CommentLimit int    `json:"comment_limit,omitempty"` // 1..1000
	Sort         string `json:"sort,omitempty"`          // new|old|top|controversial
}

// Job is one unit of work delivered by the external queue:
// one post plus its comments, processed end-to-end by a single worker.
type Job struct {
	ID            uuid.UUID  `json:"job_id"`
	PostID        string     `json:"post_id"`
	Subreddit     string     `json:"subreddit"`
	CorrelationID string     `json:"correlation_id"`
	RequestedBy   string     `json:"requested_by,omitempty"`
	Options       JobOptions `json:"options"`
	Items         []*MergedContentItem `json:"items,omitempty"`
	EnqueuedAt    time.Time  `json:"enqueued_at"`
}

// JobStatus is the queue-visible state of a job
type JobStatus struct {
	JobID               uuid.UUID  `json:"job_id"`
	State               JobState   `json:"status"`
	Progress            int        `json:"progress,omitempty"` // 0..100
	Result              *JobResult `json:"result,omitempty"`
	FailedReason        string     `json:"failed_reason,omitempty"`
	Position            int        `json:"position,omitempty"`
	EstimatedCompletion *time.Time `json:"estimated_completion,omitempty"`
}

// StageTiming records the duration of one pipeline stage
type StageTiming struct {
	Stage      string `json:"stage"`
	DurationMs int64  `json:"duration_ms"`
}

// JobResult summarizes one completed pipeline job
type JobResult struct {
	JobID             uuid.UUID          `json:"job_id"`
	CorrelationID     string             `json:"correlation_id"`
	ItemsIn           int                `json:"items_in"`
	ItemsFiltered     int                `json:"items_filtered"`
	MentionsExtracted int                `json:"mentions_extracted"`
	MentionsResolved  int                `json:"mentions_resolved"`
	EntitiesCreated   int                `json:"entities_created"`
	AliasesCreated    int                `json:"aliases_created"`
	SkippedItems      int                `json:"skipped_items"`
	AmbiguousMentions int                `json:"ambiguous_mentions"`
	Dedupe            *DuplicateAnalysis `json:"dedupe,omitempty"`
	Resolution        *ResolutionResult  `json:"resolution,omitempty"`
	Timings           []StageTiming      `json:"timings,omitempty"`
	TotalDurationMs   int64              `json:"total_duration_ms"`
}
