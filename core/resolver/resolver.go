package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/forksight/forksight/database"
	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// Resolver binds mention text to canonical entity IDs using three tiers:
// batched exact match, batched alias match and fuzzy match/create. It is
// called once per extraction batch, not once per mention, so database
// round trips stay a small constant factor of tier count times entity
// type count.
type Resolver struct {
	entities    database.EntitiesDBHandlerFunctions
	aliases     database.AliasesDBHandlerFunctions
	connections database.ConnectionsDBHandlerFunctions
	config      model.ResolverConfig
	embed       EmbedFunc
	logger      *slog.Logger
}

// NewResolver creates an entity resolver over the database handlers.
// embed is optional; when set, tier 3 candidates come from embedding
// nearest-neighbour search instead of trigram similarity.
func NewResolver(
	entities database.EntitiesDBHandlerFunctions,
	aliases database.AliasesDBHandlerFunctions,
	connections database.ConnectionsDBHandlerFunctions,
	config model.ResolverConfig,
	embed EmbedFunc,
	logger *slog.Logger,
) (*Resolver, error) {
	if entities == nil || aliases == nil || connections == nil {
		return nil, helper.NewError("resolver validation", fmt.Errorf("database handlers must not be nil"))
	}
	if logger == nil {
		return nil, helper.NewError("resolver validation", fmt.Errorf("logger is nil"))
	}
	if config.FuzzyThreshold <= 0 || config.FuzzyThreshold > 1 {
		return nil, helper.NewError("resolver validation", fmt.Errorf("fuzzy threshold must be in (0,1], got %f", config.FuzzyThreshold))
	}
	if config.CandidateLimit <= 0 {
		config.CandidateLimit = 10
	}

	return &Resolver{
		entities:    entities,
		aliases:     aliases,
		connections: connections,
		config:      config,
		embed:       embed,
		logger:      logger,
	}, nil
}

// nameRequest carries everything needed to create an entity for an
// unresolved name in tier 3
type nameRequest struct {
	displayName string
	metadata    model.Metadata
}

// resolution is the per-type outcome of the three tiers
type resolution struct {
	ids       map[string]uuid.UUID
	ambiguous map[string]string
}

// ResolveMentions resolves a batch of mentions against the canonical
// entity graph within a location scope. A failure for one mention is
// recorded and the batch continues for all others.
func (r *Resolver) ResolveMentions(ctx context.Context, mentions []*model.Mention, scope string) (*model.ResolutionResult, error) {
	result := &model.ResolutionResult{}
	if len(mentions) == 0 {
		return result, nil
	}

	// Union of distinct normalized names per entity type across the batch
	requests := map[model.EntityType]map[string]nameRequest{
		model.EntityTypeRestaurant:          {},
		model.EntityTypeDishOrCategory:      {},
		model.EntityTypeDishAttribute:       {},
		model.EntityTypeRestaurantAttribute: {},
	}

	for _, mention := range mentions {
		collect(requests[model.EntityTypeRestaurant], mention.RestaurantName, mention.RestaurantNormalizedName, nil)
		for _, attribute := range mention.RestaurantAttributes {
			collect(requests[model.EntityTypeRestaurantAttribute], attribute, model.NormalizeName(attribute), nil)
		}
		if mention.Dish != nil && mention.Dish.Name != "" {
			var metadata model.Metadata
			if len(mention.Dish.CategoryPath) > 0 {
				metadata = model.Metadata{"category_path": mention.Dish.CategoryPath}
			}
			collect(requests[model.EntityTypeDishOrCategory], mention.Dish.Name, mention.Dish.NormalizedName, metadata)
			for _, attribute := range mention.Dish.Attributes {
				collect(requests[model.EntityTypeDishAttribute], attribute, model.NormalizeName(attribute), nil)
			}
		}
	}

	// One tier pass per entity type. Restaurants are scoped by location,
	// the other types are global.
	resolutions := make(map[model.EntityType]*resolution, len(requests))
	for entityType, names := range requests {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		typeScope := ""
		if entityType == model.EntityTypeRestaurant {
			typeScope = scope
		}

		resolved, err := r.resolveNames(entityType, typeScope, names, result)
		if err != nil {
			return nil, helper.NewError(fmt.Sprintf("resolving %s names", entityType), err)
		}
		resolutions[entityType] = resolved
	}

	// Map resolved IDs back onto each mention
	for _, mention := range mentions {
		resolved, failure := r.bindMention(mention, resolutions)
		if failure != nil {
			result.Failures = append(result.Failures, *failure)
			continue
		}
		result.Resolved = append(result.Resolved, resolved)
	}

	r.logger.Info("Resolved mention batch",
		slog.Int("mentions", len(mentions)),
		slog.Int("resolved", len(result.Resolved)),
		slog.Int("failures", len(result.Failures)),
		slog.Int("entities_created", result.EntitiesCreated),
		slog.Int("aliases_created", result.AliasesCreated))

	return result, nil
}

func collect(into map[string]nameRequest, displayName string, normalizedName string, metadata model.Metadata) {
	if normalizedName == "" {
		normalizedName = model.NormalizeName(displayName)
	}
	if normalizedName == "" {
		return
	}
	if _, ok := into[normalizedName]; !ok {
		into[normalizedName] = nameRequest{displayName: displayName, metadata: metadata}
	}
}

// resolveNames runs the three tiers for all names of one entity type
func (r *Resolver) resolveNames(entityType model.EntityType, scope string, names map[string]nameRequest, result *model.ResolutionResult) (*resolution, error) {
	resolved := &resolution{
		ids:       make(map[string]uuid.UUID, len(names)),
		ambiguous: make(map[string]string),
	}
	if len(names) == 0 {
		return resolved, nil
	}

	unresolved := make([]string, 0, len(names))
	for name := range names {
		unresolved = append(unresolved, name)
	}

	// Tier 1: batched exact match on normalized names
	entities, err := r.entities.SelectEntitiesByNormalizedNames(unresolved, entityType, scope)
	if err != nil {
		return nil, helper.NewError("exact match", err)
	}
	for _, entity := range entities {
		resolved.ids[entity.NormalizedName] = entity.ID
		result.ExactMatches++
	}
	unresolved = remaining(unresolved, resolved.ids)

	// Tier 2: batched alias match
	if len(unresolved) > 0 {
		aliases, err := r.aliases.SelectAliasesByNormalizedTexts(unresolved, scope)
		if err != nil {
			return nil, helper.NewError("alias match", err)
		}
		for _, alias := range aliases {
			resolved.ids[alias.NormalizedAlias] = alias.EntityID
			result.AliasMatches++
		}
		unresolved = remaining(unresolved, resolved.ids)
	}

	// Tier 3: fuzzy match against candidates, else create
	for _, name := range unresolved {
		id, err := r.resolveFuzzy(entityType, scope, name, names[name], resolved, result)
		if err != nil {
			return nil, err
		}
		if id != uuid.Nil {
			resolved.ids[name] = id
		}
	}

	return resolved, nil
}

func remaining(names []string, resolved map[string]uuid.UUID) []string {
	out := names[:0]
	for _, name := range names {
		if _, ok := resolved[name]; !ok {
			out = append(out, name)
		}
	}
	return out
}

// resolveFuzzy resolves one name through candidate similarity. A match
// at or above the threshold creates an alias pointing at the matched
// entity so future lookups resolve in tier 2 without repeating the
// fuzzy step; below threshold a new canonical entity is upserted.
// Returns uuid.Nil without error when the name is ambiguous.
func (r *Resolver) resolveFuzzy(entityType model.EntityType, scope string, name string, request nameRequest, resolved *resolution, result *model.ResolutionResult) (uuid.UUID, error) {
	candidates, embedding, err := r.candidates(entityType, scope, name)
	if err != nil {
		return uuid.Nil, helper.NewError("fuzzy candidates", err)
	}

	var best, second *model.EntityCandidate
	var bestSimilarity, secondSimilarity float64
	for _, candidate := range candidates {
		similarity := Similarity(name, candidate.Entity.NormalizedName)
		if best == nil || similarity > bestSimilarity {
			second, secondSimilarity = best, bestSimilarity
			best, bestSimilarity = candidate, similarity
		} else if second == nil || similarity > secondSimilarity {
			second, secondSimilarity = candidate, similarity
		}
	}

	if best != nil && bestSimilarity >= r.config.FuzzyThreshold {
		// Two distinct entities that are both this close cannot be told
		// apart from the text alone
		if second != nil && secondSimilarity >= r.config.FuzzyThreshold &&
			bestSimilarity-secondSimilarity < 0.01 && second.Entity.ID != best.Entity.ID {
			resolved.ambiguous[name] = fmt.Sprintf(
				"name %q matches both %q and %q", name, best.Entity.NormalizedName, second.Entity.NormalizedName)
			r.logger.Warn("ambiguous fuzzy match",
				slog.String("name", name), slog.String("entity_type", string(entityType)))
			return uuid.Nil, nil
		}

		alias := &model.Alias{
			EntityID:        best.Entity.ID,
			AliasText:       request.displayName,
			NormalizedAlias: name,
			Scope:           scope,
			Confidence:      bestSimilarity,
		}
		if err := r.aliases.UpsertAlias(alias); err != nil {
			return uuid.Nil, helper.NewError("alias creation", err)
		}
		result.FuzzyMatches++
		if alias.EntityID == best.Entity.ID {
			result.AliasesCreated++
		}
		// The stored mapping wins under concurrent resolution
		return alias.EntityID, nil
	}

	entity := &model.Entity{
		Name:           request.displayName,
		NormalizedName: name,
		Type:           entityType,
		Scope:          scope,
		Metadata:       request.metadata,
		Embedding:      embedding,
	}
	if err := r.entities.UpsertEntity(entity); err != nil {
		return uuid.Nil, helper.NewError("entity creation", err)
	}
	result.EntitiesCreated++
	return entity.ID, nil
}

// candidates fetches fuzzy-match candidates for a name, by embedding
// nearest-neighbour search when an embedder is configured and trigram
// similarity otherwise. The embedding is returned for reuse when the
// name ends up creating a new entity.
func (r *Resolver) candidates(entityType model.EntityType, scope string, name string) ([]*model.EntityCandidate, []float32, error) {
	if r.embed != nil {
		embedding, err := r.embed(name)
		if err != nil {
			r.logger.Warn("embedding failed, falling back to trigram candidates",
				slog.String("name", name), slog.String("error", err.Error()))
		} else {
			candidates, err := r.entities.SelectEntitiesByEmbedding(embedding, entityType, scope, r.config.CandidateLimit)
			if err != nil {
				return nil, nil, err
			}
			return candidates, embedding, nil
		}
	}

	candidates, err := r.entities.SelectEntitiesBySimilarity(name, entityType, scope, r.config.CandidateLimit)
	if err != nil {
		return nil, nil, err
	}
	return candidates, nil, nil
}

// bindMention maps resolved entity IDs back onto one mention. An
// unresolved restaurant fails the mention; unresolved dish or attribute
// references degrade the mention instead of failing it.
func (r *Resolver) bindMention(mention *model.Mention, resolutions map[model.EntityType]*resolution) (*model.ResolvedMention, *model.ResolutionFailure) {
	restaurants := resolutions[model.EntityTypeRestaurant]

	if reason, ok := restaurants.ambiguous[mention.RestaurantNormalizedName]; ok {
		return nil, &model.ResolutionFailure{
			TempID: mention.TempID,
			Kind:   model.ErrorKindResolutionAmbiguity,
			Reason: reason,
		}
	}

	restaurantID, ok := restaurants.ids[mention.RestaurantNormalizedName]
	if !ok {
		return nil, &model.ResolutionFailure{
			TempID: mention.TempID,
			Kind:   model.ErrorKindValidation,
			Reason: fmt.Sprintf("restaurant %q could not be resolved", mention.RestaurantNormalizedName),
		}
	}

	resolved := &model.ResolvedMention{
		Mention:      mention,
		RestaurantID: restaurantID.String(),
	}

	for _, attribute := range mention.RestaurantAttributes {
		if id, ok := resolutions[model.EntityTypeRestaurantAttribute].ids[model.NormalizeName(attribute)]; ok {
			resolved.AttributeIDs = append(resolved.AttributeIDs, id.String())
		}
	}

	if mention.Dish != nil && mention.Dish.Name != "" {
		if dishID, ok := resolutions[model.EntityTypeDishOrCategory].ids[mention.Dish.NormalizedName]; ok {
			resolved.DishID = dishID.String()

			connection := &model.Connection{RestaurantID: restaurantID, DishID: dishID}
			if err := r.connections.UpsertConnection(connection); err != nil {
				r.logger.Warn("connection upsert failed",
					slog.String("temp_id", mention.TempID), slog.String("error", err.Error()))
			} else {
				resolved.ConnectionID = connection.ID.String()
			}

			for _, attribute := range mention.Dish.Attributes {
				if id, ok := resolutions[model.EntityTypeDishAttribute].ids[model.NormalizeName(attribute)]; ok {
					resolved.AttributeIDs = append(resolved.AttributeIDs, id.String())
				}
			}
		} else {
			r.logger.Warn("dish reference unresolved, keeping mention without dish",
				slog.String("temp_id", mention.TempID), slog.String("dish", mention.Dish.NormalizedName))
		}
	}

	return resolved, nil
}
