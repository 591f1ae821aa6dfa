package database

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksight/forksight/model"
)

func TestAliasesNewAliasesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewAliasesDBHandler", func(t *testing.T) {
		aliasesDbHandler, err := NewAliasesDBHandler(database, true)
		assert.NoError(t, err, "Expected NewAliasesDBHandler to not return an error")
		require.NotNil(t, aliasesDbHandler, "Expected NewAliasesDBHandler to return a non-nil instance")
		require.NotNil(t, aliasesDbHandler.db, "Expected NewAliasesDBHandler to have a non-nil database instance")
	})

	t.Run("Invalid call NewAliasesDBHandler with nil database", func(t *testing.T) {
		_, err := NewAliasesDBHandler(nil, false)
		assert.Error(t, err, "Expected error when creating AliasesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestAliasesUpsert(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)
	aliasesDbHandler, err := NewAliasesDBHandler(database, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "Franklin Barbecue",
		NormalizedName: model.NormalizeName("Franklin Barbecue"),
		Type:           model.EntityTypeRestaurant,
		Scope:          "austin",
		Metadata:       model.Metadata{},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	t.Run("Upsert alias", func(t *testing.T) {
		alias := &model.Alias{
			EntityID:        entity.ID,
			AliasText:       "Franklin BBQ",
			NormalizedAlias: model.NormalizeName("Franklin BBQ"),
			Scope:           "austin",
			Confidence:      0.92,
		}

		err := aliasesDbHandler.UpsertAlias(alias)
		assert.NoError(t, err, "Expected UpsertAlias to not return an error")
		assert.NotEmpty(t, alias.ID, "Expected upserted alias to have an ID")
		assert.Equal(t, entity.ID, alias.EntityID, "Expected alias to point at the entity")

		// Cleanup
		aliasesDbHandler.DeleteAlias(alias.ID)
	})

	t.Run("Upsert duplicate alias keeps existing mapping", func(t *testing.T) {
		alias := &model.Alias{
			EntityID:        entity.ID,
			AliasText:       "Franklins",
			NormalizedAlias: model.NormalizeName("Franklins"),
			Scope:           "austin",
			Confidence:      0.9,
		}
		err := aliasesDbHandler.UpsertAlias(alias)
		require.NoError(t, err)

		otherEntity := &model.Entity{
			Name:           "Franklin Deli",
			NormalizedName: model.NormalizeName("Franklin Deli"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "austin",
			Metadata:       model.Metadata{},
		}
		err = entitiesDbHandler.UpsertEntity(otherEntity)
		require.NoError(t, err)

		duplicate := &model.Alias{
			EntityID:        otherEntity.ID,
			AliasText:       "Franklins",
			NormalizedAlias: model.NormalizeName("Franklins"),
			Scope:           "austin",
			Confidence:      0.95,
		}
		err = aliasesDbHandler.UpsertAlias(duplicate)
		assert.NoError(t, err, "Expected UpsertAlias to not return an error for duplicate")
		assert.Equal(t, alias.ID, duplicate.ID, "Expected duplicate upsert to return the existing alias row")
		assert.Equal(t, entity.ID, duplicate.EntityID, "Expected the existing entity mapping to win")

		// Cleanup
		aliasesDbHandler.DeleteAlias(alias.ID)
		entitiesDbHandler.DeleteEntity(otherEntity.ID)
	})

	// Cleanup
	entitiesDbHandler.DeleteEntity(entity.ID)
}

func TestAliasesGetByNormalizedTexts(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)
	aliasesDbHandler, err := NewAliasesDBHandler(database, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "Joe's Pizza",
		NormalizedName: model.NormalizeName("Joe's Pizza"),
		Type:           model.EntityTypeRestaurant,
		Scope:          "nyc",
		Metadata:       model.Metadata{},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	aliasTexts := []string{"joes", "joes pizza broadway"}
	aliases := []*model.Alias{}
	for _, text := range aliasTexts {
		alias := &model.Alias{
			EntityID:        entity.ID,
			AliasText:       text,
			NormalizedAlias: model.NormalizeName(text),
			Scope:           "nyc",
			Confidence:      0.88,
		}
		err = aliasesDbHandler.UpsertAlias(alias)
		require.NoError(t, err)
		aliases = append(aliases, alias)
	}

	// Batch lookup in one round trip
	results, err := aliasesDbHandler.SelectAliasesByNormalizedTexts([]string{"joes", "unknown alias"}, "nyc")
	assert.NoError(t, err, "Expected SelectAliasesByNormalizedTexts to not return an error")
	require.Len(t, results, 1, "Expected only the known alias to match")
	assert.Equal(t, entity.ID, results[0].EntityID, "Expected the alias to map to the entity")

	// Scope mismatch yields nothing
	results, err = aliasesDbHandler.SelectAliasesByNormalizedTexts([]string{"joes"}, "chicago")
	assert.NoError(t, err)
	assert.Empty(t, results, "Expected no aliases outside the scope")

	// All aliases of the entity
	byEntity, err := aliasesDbHandler.SelectAliasesByEntity(entity.ID)
	assert.NoError(t, err, "Expected SelectAliasesByEntity to not return an error")
	assert.Len(t, byEntity, 2, "Expected both aliases of the entity")

	// Cleanup
	for _, alias := range aliases {
		aliasesDbHandler.DeleteAlias(alias.ID)
	}
	entitiesDbHandler.DeleteEntity(entity.ID)
}

func TestAliasesDeleteCascade(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)
	aliasesDbHandler, err := NewAliasesDBHandler(database, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "Cascade Cafe",
		NormalizedName: model.NormalizeName("Cascade Cafe"),
		Type:           model.EntityTypeRestaurant,
		Scope:          "austin",
		Metadata:       model.Metadata{},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	alias := &model.Alias{
		EntityID:        entity.ID,
		AliasText:       "Cascade",
		NormalizedAlias: model.NormalizeName("Cascade"),
		Scope:           "austin",
		Confidence:      0.9,
	}
	err = aliasesDbHandler.UpsertAlias(alias)
	require.NoError(t, err)

	// Deleting the entity removes its aliases
	err = entitiesDbHandler.DeleteEntity(entity.ID)
	require.NoError(t, err)

	_, err = aliasesDbHandler.SelectAlias(alias.ID)
	assert.Error(t, err, "Expected alias to be gone after entity deletion")
}
