package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"github.com/pgvector/pgvector-go"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
	loadSql "github.com/forksight/forksight/sql"
)

// EntitiesDBHandlerFunctions defines the interface for Entities database operations.
type EntitiesDBHandlerFunctions interface {
	UpsertEntity(entity *model.Entity) error
	SelectEntity(id uuid.UUID) (*model.Entity, error)
	SelectEntitiesByNormalizedNames(names []string, entityType model.EntityType, scope string) ([]*model.Entity, error)
	SelectEntitiesBySimilarity(name string, entityType model.EntityType, scope string, limit int) ([]*model.EntityCandidate, error)
	SelectEntitiesByEmbedding(embedding []float32, entityType model.EntityType, scope string, limit int) ([]*model.EntityCandidate, error)
	SelectEntitiesByType(entityType model.EntityType, limit int) ([]*model.Entity, error)
	UpdateEntityScores(id uuid.UUID, quality float64, rank float64) error
	UpdateEntityEmbedding(id uuid.UUID, embedding []float32) error
	DeleteEntity(id uuid.UUID) error
}

// EntitiesDBHandler handles entity-related database operations
type EntitiesDBHandler struct {
	db *helper.Database
}

// NewEntitiesDBHandler creates a new entities database handler.
// It initializes the database connection and loads entity-related SQL functions.
// embeddingDim sizes the optional embedding column.
// If force is true, it will reload the SQL functions even if they already exist.
func NewEntitiesDBHandler(db *helper.Database, embeddingDim int, force bool) (*EntitiesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	entitiesDbHandler := &EntitiesDBHandler{
		db: db,
	}

	err := loadSql.LoadEntitiesSql(entitiesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load entities sql", err)
	}

	err = entitiesDbHandler.CreateTable(embeddingDim)
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized EntitiesDBHandler")

	return entitiesDbHandler, nil
}

// CreateTable creates the 'entities' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *EntitiesDBHandler) CreateTable(embeddingDim int) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_entities($1);`, embeddingDim)
	if err != nil {
		log.Panicf("error initializing entities table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table entities")

	return nil
}

// UpsertEntity inserts a new entity or returns the existing one with the same
// (normalized name, type, scope). The entity is updated in place with the
// canonical row, so concurrent resolution of the same name converges on one ID.
func (h *EntitiesDBHandler) UpsertEntity(entity *model.Entity) error {
	var embedding interface{}
	if len(entity.Embedding) > 0 {
		embedding = pgvector.NewVector(entity.Embedding)
	}

	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_entity($1, $2, $3, $4, $5, $6)`,
		entity.Name,
		entity.NormalizedName,
		entity.Type,
		entity.Scope,
		entity.Metadata,
		embedding,
	)

	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Type,
		&entity.Scope,
		&entity.QualityScore,
		&entity.RankScore,
		&entity.Metadata,
		&entity.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectEntity retrieves an entity by ID
func (h *EntitiesDBHandler) SelectEntity(id uuid.UUID) (*model.Entity, error) {
	entity := &model.Entity{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_entity($1)`,
		id,
	)

	err := row.Scan(
		&entity.ID,
		&entity.Name,
		&entity.NormalizedName,
		&entity.Type,
		&entity.Scope,
		&entity.QualityScore,
		&entity.RankScore,
		&entity.Metadata,
		&entity.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return entity, nil
}

// SelectEntitiesByNormalizedNames retrieves entities matching any of the given
// normalized names within a type and scope. One round trip per batch.
func (h *EntitiesDBHandler) SelectEntitiesByNormalizedNames(names []string, entityType model.EntityType, scope string) ([]*model.Entity, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entities_by_normalized_names($1, $2, $3)`,
		pq.Array(names),
		entityType,
		scope,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		err := rows.Scan(
			&entity.ID,
			&entity.Name,
			&entity.NormalizedName,
			&entity.Type,
			&entity.Scope,
			&entity.QualityScore,
			&entity.RankScore,
			&entity.Metadata,
			&entity.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

// SelectEntitiesBySimilarity retrieves trigram-similar entities for a
// normalized name within a type and scope, most similar first
func (h *EntitiesDBHandler) SelectEntitiesBySimilarity(name string, entityType model.EntityType, scope string, limit int) ([]*model.EntityCandidate, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entities_by_similarity($1, $2, $3, $4)`,
		name,
		entityType,
		scope,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var candidates []*model.EntityCandidate
	for rows.Next() {
		candidate := &model.EntityCandidate{Entity: &model.Entity{}}
		err := rows.Scan(
			&candidate.Entity.ID,
			&candidate.Entity.Name,
			&candidate.Entity.NormalizedName,
			&candidate.Entity.Type,
			&candidate.Entity.Scope,
			&candidate.Entity.QualityScore,
			&candidate.Entity.RankScore,
			&candidate.Entity.Metadata,
			&candidate.Entity.CreatedAt,
			&candidate.Similarity,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		candidates = append(candidates, candidate)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return candidates, nil
}

// SelectEntitiesByEmbedding retrieves the nearest entities by embedding
// cosine distance within a type and scope. Similarity is 1 - distance.
func (h *EntitiesDBHandler) SelectEntitiesByEmbedding(embedding []float32, entityType model.EntityType, scope string, limit int) ([]*model.EntityCandidate, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entities_by_embedding($1, $2, $3, $4)`,
		pgvector.NewVector(embedding),
		entityType,
		scope,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var candidates []*model.EntityCandidate
	for rows.Next() {
		candidate := &model.EntityCandidate{Entity: &model.Entity{}}
		var distance float64
		err := rows.Scan(
			&candidate.Entity.ID,
			&candidate.Entity.Name,
			&candidate.Entity.NormalizedName,
			&candidate.Entity.Type,
			&candidate.Entity.Scope,
			&candidate.Entity.QualityScore,
			&candidate.Entity.RankScore,
			&candidate.Entity.Metadata,
			&candidate.Entity.CreatedAt,
			&distance,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		candidate.Similarity = 1 - distance
		candidates = append(candidates, candidate)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return candidates, nil
}

// SelectEntitiesByType retrieves entities by type, best ranked first
func (h *EntitiesDBHandler) SelectEntitiesByType(entityType model.EntityType, limit int) ([]*model.Entity, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_entities_by_type($1, $2)`,
		entityType,
		limit,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var entities []*model.Entity
	for rows.Next() {
		entity := &model.Entity{}
		err := rows.Scan(
			&entity.ID,
			&entity.Name,
			&entity.NormalizedName,
			&entity.Type,
			&entity.Scope,
			&entity.QualityScore,
			&entity.RankScore,
			&entity.Metadata,
			&entity.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		entities = append(entities, entity)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return entities, nil
}

// UpdateEntityScores updates the quality and rank scores of an entity
func (h *EntitiesDBHandler) UpdateEntityScores(id uuid.UUID, quality float64, rank float64) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_entity_scores($1, $2, $3)`,
		id,
		quality,
		rank,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// UpdateEntityEmbedding updates the embedding of an entity
func (h *EntitiesDBHandler) UpdateEntityEmbedding(id uuid.UUID, embedding []float32) error {
	_, err := h.db.Instance.Exec(
		`SELECT update_entity_embedding($1, $2)`,
		id,
		pgvector.NewVector(embedding),
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}

// DeleteEntity deletes an entity by ID
func (h *EntitiesDBHandler) DeleteEntity(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_entity($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
