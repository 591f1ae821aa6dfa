package database

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/forksight/forksight/model"
)

func TestEntitiesNewEntitiesDBHandler(t *testing.T) {
	database := initDB(t)

	t.Run("Valid call NewEntitiesDBHandler", func(t *testing.T) {
		entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
		assert.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")
		require.NotNil(t, entitiesDbHandler, "Expected NewEntitiesDBHandler to return a non-nil instance")
		require.NotNil(t, entitiesDbHandler.db, "Expected NewEntitiesDBHandler to have a non-nil database instance")
		require.NotNil(t, entitiesDbHandler.db.Instance, "Expected NewEntitiesDBHandler to have a non-nil database connection instance")
	})

	t.Run("Invalid call NewEntitiesDBHandler with nil database", func(t *testing.T) {
		_, err := NewEntitiesDBHandler(nil, testEmbeddingDim, false)
		assert.Error(t, err, "Expected error when creating EntitiesDBHandler with nil database")
		assert.Contains(t, err.Error(), "database connection is nil", "Expected specific error message for nil database connection")
	})
}

func TestEntitiesUpsert(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err, "Expected NewEntitiesDBHandler to not return an error")

	t.Run("Upsert entity", func(t *testing.T) {
		entity := &model.Entity{
			Name:           "Franklin Barbecue",
			NormalizedName: model.NormalizeName("Franklin Barbecue"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "austin",
			Metadata:       model.Metadata{"cuisine": "bbq"},
		}

		err := entitiesDbHandler.UpsertEntity(entity)
		assert.NoError(t, err, "Expected UpsertEntity to not return an error")
		assert.NotEmpty(t, entity.ID, "Expected upserted entity to have an ID")
		assert.WithinDuration(t, entity.CreatedAt, time.Now(), 2*time.Second, "Expected CreatedAt to be set")

		// Cleanup
		entitiesDbHandler.DeleteEntity(entity.ID)
	})

	t.Run("Upsert same normalized name twice converges on one row", func(t *testing.T) {
		entity := &model.Entity{
			Name:           "Joe's Pizza",
			NormalizedName: model.NormalizeName("Joe's Pizza"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "nyc",
			Metadata:       model.Metadata{},
		}

		err := entitiesDbHandler.UpsertEntity(entity)
		require.NoError(t, err)
		firstID := entity.ID

		// Different surface form, same normalized name
		entity2 := &model.Entity{
			Name:           "joe's  pizza",
			NormalizedName: model.NormalizeName("joe's  pizza"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "nyc",
			Metadata:       model.Metadata{},
		}

		err = entitiesDbHandler.UpsertEntity(entity2)
		assert.NoError(t, err, "Expected UpsertEntity to not return an error for duplicate")
		assert.Equal(t, firstID, entity2.ID, "Expected duplicate upsert to return the existing entity ID")
		assert.Equal(t, "Joe's Pizza", entity2.Name, "Expected duplicate upsert to keep the original display name")

		// Cleanup
		entitiesDbHandler.DeleteEntity(firstID)
	})

	t.Run("Same normalized name in different scope creates separate rows", func(t *testing.T) {
		entity := &model.Entity{
			Name:           "Joe's Pizza",
			NormalizedName: model.NormalizeName("Joe's Pizza"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "nyc",
			Metadata:       model.Metadata{},
		}
		err := entitiesDbHandler.UpsertEntity(entity)
		require.NoError(t, err)

		entityOtherScope := &model.Entity{
			Name:           "Joe's Pizza",
			NormalizedName: model.NormalizeName("Joe's Pizza"),
			Type:           model.EntityTypeRestaurant,
			Scope:          "chicago",
			Metadata:       model.Metadata{},
		}
		err = entitiesDbHandler.UpsertEntity(entityOtherScope)
		assert.NoError(t, err)
		assert.NotEqual(t, entity.ID, entityOtherScope.ID, "Expected different scopes to yield different entities")

		// Cleanup
		entitiesDbHandler.DeleteEntity(entity.ID)
		entitiesDbHandler.DeleteEntity(entityOtherScope.ID)
	})
}

func TestEntitiesGet(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	// Create an entity
	entity := &model.Entity{
		Name:           "Birria Tacos",
		NormalizedName: model.NormalizeName("Birria Tacos"),
		Type:           model.EntityTypeDishOrCategory,
		Metadata:       model.Metadata{"category": "tacos"},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	// Test Get
	retrievedEntity, err := entitiesDbHandler.SelectEntity(entity.ID)
	assert.NoError(t, err, "Expected SelectEntity to not return an error")
	assert.NotNil(t, retrievedEntity, "Expected SelectEntity to return a non-nil entity")
	assert.Equal(t, entity.ID, retrievedEntity.ID, "Expected entity IDs to match")
	assert.Equal(t, entity.Name, retrievedEntity.Name, "Expected names to match")
	assert.Equal(t, entity.Type, retrievedEntity.Type, "Expected types to match")

	// Cleanup
	entitiesDbHandler.DeleteEntity(entity.ID)
}

func TestEntitiesGetByNormalizedNames(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	names := []string{"pad thai", "green curry", "tom yum"}
	entities := []*model.Entity{}
	for _, name := range names {
		entity := &model.Entity{
			Name:           name,
			NormalizedName: model.NormalizeName(name),
			Type:           model.EntityTypeDishOrCategory,
			Metadata:       model.Metadata{},
		}
		err = entitiesDbHandler.UpsertEntity(entity)
		require.NoError(t, err)
		entities = append(entities, entity)
	}

	// Batch lookup resolves all names in one round trip
	results, err := entitiesDbHandler.SelectEntitiesByNormalizedNames(
		[]string{"pad thai", "tom yum", "unknown dish"},
		model.EntityTypeDishOrCategory,
		"",
	)
	assert.NoError(t, err, "Expected SelectEntitiesByNormalizedNames to not return an error")
	assert.Len(t, results, 2, "Expected only the known names to match")

	// Cleanup
	for _, entity := range entities {
		entitiesDbHandler.DeleteEntity(entity.ID)
	}
}

func TestEntitiesSimilaritySearch(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
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

	// A near-miss spelling should surface the entity as a candidate
	candidates, err := entitiesDbHandler.SelectEntitiesBySimilarity("franklin bbq barbecue", model.EntityTypeRestaurant, "austin", 10)
	assert.NoError(t, err, "Expected SelectEntitiesBySimilarity to not return an error")
	require.NotEmpty(t, candidates, "Expected at least one candidate for a near-miss spelling")
	assert.Equal(t, entity.ID, candidates[0].Entity.ID, "Expected the closest candidate to be the stored entity")
	assert.Greater(t, candidates[0].Similarity, 0.0, "Expected a positive similarity")

	// A completely different name should not match
	candidates, err = entitiesDbHandler.SelectEntitiesBySimilarity("sushi omakase", model.EntityTypeRestaurant, "austin", 10)
	assert.NoError(t, err)
	assert.Empty(t, candidates, "Expected no candidates for an unrelated name")

	// Cleanup
	entitiesDbHandler.DeleteEntity(entity.ID)
}

func TestEntitiesEmbeddingSearch(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "Carbonara",
		NormalizedName: model.NormalizeName("Carbonara"),
		Type:           model.EntityTypeDishOrCategory,
		Metadata:       model.Metadata{},
		Embedding:      []float32{1, 0, 0, 0},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	other := &model.Entity{
		Name:           "Miso Soup",
		NormalizedName: model.NormalizeName("Miso Soup"),
		Type:           model.EntityTypeDishOrCategory,
		Metadata:       model.Metadata{},
		Embedding:      []float32{0, 1, 0, 0},
	}
	err = entitiesDbHandler.UpsertEntity(other)
	require.NoError(t, err)

	candidates, err := entitiesDbHandler.SelectEntitiesByEmbedding([]float32{0.9, 0.1, 0, 0}, model.EntityTypeDishOrCategory, "", 2)
	assert.NoError(t, err, "Expected SelectEntitiesByEmbedding to not return an error")
	require.Len(t, candidates, 2, "Expected both embedded entities as candidates")
	assert.Equal(t, entity.ID, candidates[0].Entity.ID, "Expected the nearest embedding first")
	assert.Greater(t, candidates[0].Similarity, candidates[1].Similarity, "Expected candidates ordered by similarity")

	// Cleanup
	entitiesDbHandler.DeleteEntity(entity.ID)
	entitiesDbHandler.DeleteEntity(other.ID)
}

func TestEntitiesUpdateScores(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "Scored Restaurant",
		NormalizedName: model.NormalizeName("Scored Restaurant"),
		Type:           model.EntityTypeRestaurant,
		Scope:          "austin",
		Metadata:       model.Metadata{},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	err = entitiesDbHandler.UpdateEntityScores(entity.ID, 0.8, 12.5)
	assert.NoError(t, err, "Expected UpdateEntityScores to not return an error")

	retrieved, err := entitiesDbHandler.SelectEntity(entity.ID)
	require.NoError(t, err)
	assert.Equal(t, 0.8, retrieved.QualityScore, "Expected quality score to be updated")
	assert.Equal(t, 12.5, retrieved.RankScore, "Expected rank score to be updated")

	// Cleanup
	entitiesDbHandler.DeleteEntity(entity.ID)
}

func TestEntitiesDelete(t *testing.T) {
	database := initDB(t)

	entitiesDbHandler, err := NewEntitiesDBHandler(database, testEmbeddingDim, true)
	require.NoError(t, err)

	entity := &model.Entity{
		Name:           "To Delete",
		NormalizedName: model.NormalizeName("To Delete"),
		Type:           model.EntityTypeRestaurant,
		Scope:          "austin",
		Metadata:       model.Metadata{},
	}
	err = entitiesDbHandler.UpsertEntity(entity)
	require.NoError(t, err)

	err = entitiesDbHandler.DeleteEntity(entity.ID)
	assert.NoError(t, err, "Expected DeleteEntity to not return an error")

	_, err = entitiesDbHandler.SelectEntity(entity.ID)
	assert.Error(t, err, "Expected SelectEntity to return an error for deleted entity")
}
