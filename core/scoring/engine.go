package scoring

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/google/uuid"

	"github.com/forksight/forksight/database"
	"github.com/forksight/forksight/helper"
	"github.com/forksight/forksight/model"
)

// batchSignal aggregates the scoring inputs one batch produced for one entity
type batchSignal struct {
	mentions      int
	upvotes       int
	generalPraise int
}

// Engine recomputes quality and rank signals for the entities touched
// by a resolved batch. Quality is a slow-moving confidence value in
// [0,1]; rank accumulates mention volume.
type Engine struct {
	entities database.EntitiesDBHandlerFunctions
	logger   *slog.Logger
}

// NewEngine creates a scoring engine over the entities handler
func NewEngine(entities database.EntitiesDBHandlerFunctions, logger *slog.Logger) (*Engine, error) {
	if entities == nil {
		return nil, helper.NewError("engine validation", fmt.Errorf("entities handler is nil"))
	}
	if logger == nil {
		return nil, helper.NewError("engine validation", fmt.Errorf("logger is nil"))
	}
	return &Engine{entities: entities, logger: logger}, nil
}

// ApplyBatchSignals folds the mentions of one resolved batch into the
// scores of every touched entity. One score update per distinct entity;
// a failure on one entity is logged and does not abort the rest.
func (e *Engine) ApplyBatchSignals(ctx context.Context, resolved []*model.ResolvedMention) (int, error) {
	if len(resolved) == 0 {
		return 0, nil
	}

	signals := make(map[uuid.UUID]*batchSignal)
	for _, mention := range resolved {
		restaurantID, err := uuid.Parse(mention.RestaurantID)
		if err != nil {
			continue
		}

		signal := signalFor(signals, restaurantID)
		signal.mentions++
		signal.upvotes += mention.Mention.Source.Upvotes
		if mention.Mention.GeneralPraise {
			signal.generalPraise++
		}

		if mention.DishID != "" {
			if dishID, err := uuid.Parse(mention.DishID); err == nil {
				dishSignal := signalFor(signals, dishID)
				dishSignal.mentions++
				dishSignal.upvotes += mention.Mention.Source.Upvotes
			}
		}
	}

	updated := 0
	for entityID, signal := range signals {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		entity, err := e.entities.SelectEntity(entityID)
		if err != nil {
			e.logger.Warn("skipping score update for unknown entity",
				slog.String("entity_id", entityID.String()), slog.String("error", err.Error()))
			continue
		}

		quality := nextQuality(entity.QualityScore, signal)
		rank := nextRank(entity.RankScore, signal)

		if err := e.entities.UpdateEntityScores(entityID, quality, rank); err != nil {
			e.logger.Warn("score update failed",
				slog.String("entity_id", entityID.String()), slog.String("error", err.Error()))
			continue
		}
		updated++
	}

	e.logger.Info("Applied batch scoring signals",
		slog.Int("entities", len(signals)), slog.Int("updated", updated))

	return updated, nil
}

func signalFor(signals map[uuid.UUID]*batchSignal, id uuid.UUID) *batchSignal {
	signal, ok := signals[id]
	if !ok {
		signal = &batchSignal{}
		signals[id] = signal
	}
	return signal
}

// nextQuality moves the quality score towards the batch signal with an
// exponential moving average, so one noisy batch cannot swing it.
func nextQuality(current float64, signal *batchSignal) float64 {
	// Upvote saturation: 25 upvotes score 0.5, diminishing above
	observed := float64(signal.upvotes) / (float64(signal.upvotes) + 25.0)
	if signal.generalPraise > 0 {
		observed += 0.2
	}
	if observed > 1 {
		observed = 1
	}

	quality := current*0.8 + observed*0.2
	if quality > 1 {
		quality = 1
	}
	return quality
}

// nextRank accumulates mention volume, upvote-weighted
func nextRank(current float64, signal *batchSignal) float64 {
	return current + float64(signal.mentions) + 0.1*float64(signal.upvotes)
}
