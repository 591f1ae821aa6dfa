package model

import "time"

// ContentType distinguishes posts from comments
type ContentType string

const (
	ContentTypePost    ContentType = "post"
	ContentTypeComment ContentType = "comment"
)

// ContentIdentifier is the normalized identity of a content item across sources.
// NormalizedKey is Type + ":" + ID with any source-type prefix stripped.
type ContentIdentifier struct {
	ID            string      `json:"id"`
	Type          ContentType `json:"type"`
	NormalizedKey string      `json:"normalized_key"`
}

// SourceMetadata describes where a merged content item came from
type SourceMetadata struct {
	SourceType      string `json:"source_type"`
	ProcessingBatch string `json:"processing_batch"`
	OriginalID      string `json:"original_id"`
}

// MergedContentItem is a post or comment produced by the upstream merge step.
// It is consumed read-only by the duplicate detector and the extraction client.
type MergedContentItem struct {
	ID                  string         `json:"id"`
	Kind                string         `json:"kind"` // "submission" or "comment"
	Title               string         `json:"title,omitempty"`
	Body                string         `json:"body"`
	Author              string         `json:"author,omitempty"`
	Subreddit           string         `json:"subreddit,omitempty"`
	Upvotes             int            `json:"upvotes"`
	URL                 string         `json:"url,omitempty"`
	CreatedAt           string         `json:"created_at,omitempty"`
	NormalizedTimestamp int64          `json:"normalized_timestamp"`
	SourceMetadata      SourceMetadata `json:"source_metadata"`
}

// SourceRecord is the persisted provenance row for one processed content item
type SourceRecord struct {
	ID            int64       `json:"id"`
	NormalizedKey string      `json:"normalized_key"`
	ContentType   ContentType `json:"content_type"`
	SourceType    string      `json:"source_type"`
	Subreddit     string      `json:"subreddit,omitempty"`
	Upvotes       int         `json:"upvotes"`
	URL           string      `json:"url,omitempty"`
	Content       string      `json:"content,omitempty"`
	Metadata      Metadata    `json:"metadata,omitempty"`
	ProcessedAt   time.Time   `json:"processed_at"`
}
