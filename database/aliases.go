package database

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
	loadSql "github.com/forksight/forksight/sql"
)

// AliasesDBHandlerFunctions defines the interface for Aliases database operations.
type AliasesDBHandlerFunctions interface {
	UpsertAlias(alias *model.Alias) error
	SelectAlias(id uuid.UUID) (*model.Alias, error)
	SelectAliasesByNormalizedTexts(texts []string, scope string) ([]*model.Alias, error)
	SelectAliasesByEntity(entityID uuid.UUID) ([]*model.Alias, error)
	DeleteAlias(id uuid.UUID) error
}

// AliasesDBHandler handles alias-related database operations
type AliasesDBHandler struct {
	db *helper.Database
}

// NewAliasesDBHandler creates a new aliases database handler.
// It initializes the database connection and loads alias-related SQL functions.
// If force is true, it will reload the SQL functions even if they already exist.
func NewAliasesDBHandler(db *helper.Database, force bool) (*AliasesDBHandler, error) {
	if db == nil {
		return nil, helper.NewError("database connection validation", fmt.Errorf("database connection is nil"))
	}

	aliasesDbHandler := &AliasesDBHandler{
		db: db,
	}

	err := loadSql.LoadAliasesSql(aliasesDbHandler.db.Instance, force)
	if err != nil {
		return nil, helper.NewError("load aliases sql", err)
	}

	err = aliasesDbHandler.CreateTable()
	if err != nil {
		return nil, helper.NewError("create table", err)
	}

	db.Logger.Info("Initialized AliasesDBHandler")

	return aliasesDbHandler, nil
}

// CreateTable creates the 'aliases' table in the database.
// If the table already exists, it does not create it again.
// It also creates all necessary indexes.
func (h *AliasesDBHandler) CreateTable() error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, err := h.db.Instance.ExecContext(ctx, `SELECT init_aliases();`)
	if err != nil {
		log.Panicf("error initializing aliases table: %#v", err)
	}

	h.db.Logger.Info("Checked/created table aliases")

	return nil
}

// UpsertAlias inserts a new alias or returns the existing mapping for the same
// (normalized alias, scope). The alias is updated in place with the stored row;
// callers should check EntityID to see which entity the text actually maps to.
func (h *AliasesDBHandler) UpsertAlias(alias *model.Alias) error {
	row := h.db.Instance.QueryRow(
		`SELECT * FROM insert_alias($1, $2, $3, $4, $5)`,
		alias.EntityID,
		alias.AliasText,
		alias.NormalizedAlias,
		alias.Scope,
		alias.Confidence,
	)

	err := row.Scan(
		&alias.ID,
		&alias.EntityID,
		&alias.AliasText,
		&alias.NormalizedAlias,
		&alias.Scope,
		&alias.Confidence,
		&alias.CreatedAt,
	)
	if err != nil {
		return helper.NewError("scan", err)
	}

	return nil
}

// SelectAlias retrieves an alias by ID
func (h *AliasesDBHandler) SelectAlias(id uuid.UUID) (*model.Alias, error) {
	alias := &model.Alias{}
	row := h.db.Instance.QueryRow(
		`SELECT * FROM select_alias($1)`,
		id,
	)

	err := row.Scan(
		&alias.ID,
		&alias.EntityID,
		&alias.AliasText,
		&alias.NormalizedAlias,
		&alias.Scope,
		&alias.Confidence,
		&alias.CreatedAt,
	)
	if err != nil {
		return nil, helper.NewError("scan", err)
	}

	return alias, nil
}

// SelectAliasesByNormalizedTexts retrieves aliases matching any of the given
// normalized texts within a scope. One round trip per batch.
func (h *AliasesDBHandler) SelectAliasesByNormalizedTexts(texts []string, scope string) ([]*model.Alias, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_aliases_by_normalized_texts($1, $2)`,
		pq.Array(texts),
		scope,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var aliases []*model.Alias
	for rows.Next() {
		alias := &model.Alias{}
		err := rows.Scan(
			&alias.ID,
			&alias.EntityID,
			&alias.AliasText,
			&alias.NormalizedAlias,
			&alias.Scope,
			&alias.Confidence,
			&alias.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		aliases = append(aliases, alias)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return aliases, nil
}

// SelectAliasesByEntity retrieves all aliases pointing at an entity
func (h *AliasesDBHandler) SelectAliasesByEntity(entityID uuid.UUID) ([]*model.Alias, error) {
	rows, err := h.db.Instance.Query(
		`SELECT * FROM select_aliases_by_entity($1)`,
		entityID,
	)
	if err != nil {
		return nil, helper.NewError("query", err)
	}
	defer rows.Close()

	var aliases []*model.Alias
	for rows.Next() {
		alias := &model.Alias{}
		err := rows.Scan(
			&alias.ID,
			&alias.EntityID,
			&alias.AliasText,
			&alias.NormalizedAlias,
			&alias.Scope,
			&alias.Confidence,
			&alias.CreatedAt,
		)
		if err != nil {
			return nil, helper.NewError("scan", err)
		}

		aliases = append(aliases, alias)
	}

	err = rows.Err()
	if err != nil {
		return nil, helper.NewError("rows error", err)
	}

	return aliases, nil
}

// DeleteAlias deletes an alias by ID
func (h *AliasesDBHandler) DeleteAlias(id uuid.UUID) error {
	_, err := h.db.Instance.Exec(
		`SELECT delete_alias($1)`,
		id,
	)
	if err != nil {
		return helper.NewError("exec", err)
	}
	return nil
}
