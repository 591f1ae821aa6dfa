package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
	loadSql "github.com/forksight/forksight/sql"
)

// SourcesDBHandlerFunctions defines the interface for Sources database operations.
type SourcesDBHandlerFunctions interface {
	UpsertSource(source *model.SourceRecord) error
	SelectSourceByKey(normalizedKey string) (*model.SourceRecord, error)
	SelectSourcesBySubreddit(subreddit string, limit int) ([]*model.SourceRecord, error)
	CountSources() (int64, error)
	DeleteSource(id int64) error
}

// SourcesDBHandler handles source provenance database operations
type SourcesDBHandler struct {
	db *helper.Database
}

// NewSourcesDBHandler creates a new sources database handler.
// It initializes the database connection and loads source-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewSourcesDBHandler(db *helper.Database, force bool) (*SourcesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	sourcesDbHandler := &SourcesDBHandler{
		db: db,
	}

	err := loadSql.LoadSourcesSql(sourcesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load sources sql", err)
	}

	err = sourcesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized SourcesDBHandler")

	return sourcesDbHandler, nil
}

// CreateTable creates the 'sources' table in the database.
// If the table already exists, it does not create it again.
func (h *SourcesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_sources();`)
	if err != nil {
		log.Panicf("error initializing sources table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table sources")

	return nil
}

// UpsertSource inserts a provenance row for a processed content item,
// keyed by its normalized content key. Re-processing the same item
// refreshes upvotes instead of duplicating the row.
func (h *SourcesDBHandler) UpsertSource(source *model.SourceRecord) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_source($1, $2, $3, $4, $5, $6, $7, $8)`,
		source.NormalizedKey,
		source.ContentType,
		source.SourceType,
		source.Subreddit,
		source.Upvotes,
		source.URL,
		source.Content,
		source.Metadata,
	)

	err := row.Scan(
		&source.ID,
		&source.NormalizedKey,
		&source.ContentType,
		&source.SourceType,
		&source.Subreddit,
		&source.Upvotes,
		&source.URL,
		&source.Content,
		&source.Metadata,
		&source.ProcessedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectSourceByKey retrieves a source row by its normalized content key
func (h *SourcesDBHandler) SelectSourceByKey(normalizedKey string) (*model.SourceRecord, error) {
	source := &model.SourceRecord{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_source_by_key($1)`,
		normalizedKey,
	)

	err := row.Scan(
		&source.ID,
		&source.NormalizedKey,
		&source.ContentType,
		&source.SourceType,
		&source.Subreddit,
		&source.Upvotes,
		&source.URL,
		&source.Content,
		&source.Metadata,
		&source.ProcessedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return source, nil
}

// SelectSourcesBySubreddit retrieves the latest source rows of a subreddit
func (h *SourcesDBHandler) SelectSourcesBySubreddit(subreddit string, limit int) ([]*model.SourceRecord, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_sources_by_subreddit($1, $2)`,
		subreddit,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var sources []*model.SourceRecord
	for rows.Next() {
		source := &model.SourceRecord{}
		err := rows.Scan(
			&source.ID,
			&source.NormalizedKey,
			&source.ContentType,
			&source.SourceType,
			&source.Subreddit,
			&source.Upvotes,
			&source.URL,
			&source.Content,
			&source.Metadata,
			&source.ProcessedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		sources = append(sources, source)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return sources, nil
}

// CountSources returns the number of persisted source rows
func (h *SourcesDBHandler) CountSources() (int64, error) {
	var count int64
	err := h.db.Instance.QueryRow(`SELECT count_sources()`).Scan(&count)
	if err != nil {
		return 0, helper.NewError("scan", err)
	}
	return count, nil
}

// DeleteSource deletes a source row by ID
func (h *SourcesDBHandler) DeleteSource(id int64) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_source($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
