package model

import (
	"strings"
	"time"

	"github.com/google/uuid"
)

// EntityType represents the type of a canonical entity
type EntityType string

const (
	EntityTypeRestaurant          EntityType = "restaurant"
	EntityTypeDishOrCategory      EntityType = "dish_or_category"
	EntityTypeDishAttribute       EntityType = "dish_attribute"
	EntityTypeRestaurantAttribute EntityType = "restaurant_attribute"
)

// Entity represents a canonical entity (restaurant, dish/category or attribute).
// NormalizedName is unique per (Type, Scope); Scope is a location key for
// restaurants and empty for global entity types.
type Entity struct {
	ID             uuid.UUID  `json:"id"`
	Name           string     `json:"name"`
	NormalizedName string     `json:"normalized_name"`
	Type           EntityType `json:"entity_type"`
	Scope          string     `json:"scope,omitempty"`
	QualityScore   float64    `json:"quality_score"`
	RankScore      float64    `json:"rank_score"`
	Metadata       Metadata   `json:"metadata,omitempty"`
	Embedding      []float32  `json:"embedding,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}

// EntityCandidate is an entity returned by a candidate search together
// with its similarity to the queried name (0..1, higher is closer)
type EntityCandidate struct {
	Entity     *Entity `json:"entity"`
	Similarity float64 `json:"similarity"`
}

// Alias maps a surface-text variant to a canonical entity within a scope.
// (NormalizedAlias, Scope) is unique.
type Alias struct {
	ID              uuid.UUID `json:"id"`
	EntityID        uuid.UUID `json:"entity_id"`
	AliasText       string    `json:"alias_text"`
	NormalizedAlias string    `json:"normalized_alias"`
	Scope           string    `json:"scope,omitempty"`
	Confidence      float64   `json:"confidence"`
	CreatedAt       time.Time `json:"created_at"`
}

// Connection associates a canonical restaurant with a canonical dish.
// Weight counts the mentions that linked the pair.
type Connection struct {
	ID           uuid.UUID `json:"id"`
	RestaurantID uuid.UUID `json:"restaurant_id"`
	DishID       uuid.UUID `json:"dish_id"`
	Weight       float64   `json:"weight"`
	Metadata     Metadata  `json:"metadata,omitempty"`
	CreatedAt    time.Time `json:"created_at"`
}

// NormalizeName normalizes an entity name for matching:
// case-fold, trim and collapse internal whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(strings.ToLower(strings.TrimSpace(name))), " ")
}
