package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"
	"foodmarket/reviews-service/internal/app/reviews/repository"
)

// ErrRepairDeferred - у продавца были недавние изменения, пересчёт отложен
var ErrRepairDeferred = errors.New("seller rating repair deferred")

type RepairResult string

const (
	RepairConsistent RepairResult = "consistent"
	RepairApplied    RepairResult = "repaired"
	RepairConflict   RepairResult = "conflict"
	RepairDeferred   RepairResult = "deferred"
	RepairFailed     RepairResult = "failed"
)

// RatingAggregator поддерживает агрегат (review_cnt, avg_rating) продавца.
// Все мутации - инкрементальные дельты, применяемые одним атомарным SQL.
// Полный пересчёт используется только для ремонта помеченных продавцов.
type RatingAggregator struct {
	ratings  repository.SellerRatingRepository
	reviews  repository.ReviewRepository
	cache    infrastructure.RatingCache
	cacheTTL time.Duration
	settle   time.Duration // сколько ждать после последнего изменения перед ремонтом
}

func NewRatingAggregator(
	ratings repository.SellerRatingRepository,
	reviews repository.ReviewRepository,
	cache infrastructure.RatingCache,
	cacheTTL time.Duration,
) *RatingAggregator {
	return &RatingAggregator{
		ratings:  ratings,
		reviews:  reviews,
		cache:    cache,
		cacheTTL: cacheTTL,
		settle:   30 * time.Second,
	}
}

func (a *RatingAggregator) ReviewCreated(ctx context.Context, sellerID string, rating int) error {
	return a.apply(ctx, "created", sellerID, 1, int64(rating))
}

func (a *RatingAggregator) RatingChanged(ctx context.Context, sellerID string, oldRating, newRating int) error {
	if oldRating == newRating {
		return nil
	}
	return a.apply(ctx, "changed", sellerID, 0, int64(newRating-oldRating))
}

// ReviewDeleting вызывается до удаления документа. Удалённый отзыв не оставляет
// в MongoDB отметки времени, поэтому окно ремонта держится по строке агрегата.
func (a *RatingAggregator) ReviewDeleting(ctx context.Context, sellerID string) error {
	if err := a.ratings.Touch(ctx, sellerID); err != nil {
		return fmt.Errorf("%w: %v", ErrAggregateUpdateFailure, err)
	}
	return nil
}

func (a *RatingAggregator) ReviewDeleted(ctx context.Context, sellerID string, rating int) error {
	return a.apply(ctx, "deleted", sellerID, -1, -int64(rating))
}

// apply при ошибке помечает продавца на пересчёт; сам отзыв уже сохранён
func (a *RatingAggregator) apply(ctx context.Context, kind, sellerID string, cntDelta, sumDelta int64) error {
	_, err := a.ratings.ApplyDelta(ctx, sellerID, cntDelta, sumDelta)
	metrics.RecordSellerRatingUpdate(kind, err)
	if err != nil {
		if markErr := a.cache.MarkStale(ctx, sellerID); markErr != nil {
			logger.Ctx(ctx).Error().Err(markErr).Str("seller_id", sellerID).Msg("failed to flag seller rating for repair")
		}
		return fmt.Errorf("%w: %v", ErrAggregateUpdateFailure, err)
	}

	if err := a.cache.InvalidateSellerRating(ctx, sellerID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("seller_id", sellerID).Msg("failed to invalidate cached seller rating")
	}
	return nil
}

// Get читает агрегат через кэш. Ошибки кэша не мешают чтению из PostgreSQL.
// Поколение читается до PostgreSQL: если дельта успела инвалидировать кэш
// после нашего чтения, прочитанный агрегат в кэш не попадёт.
func (a *RatingAggregator) Get(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	log := logger.Ctx(ctx)

	cached, err := a.cache.GetSellerRating(ctx, sellerID)
	if err != nil {
		log.Warn().Err(err).Str("seller_id", sellerID).Msg("seller rating cache read failed")
	}
	if cached != nil {
		return cached, nil
	}

	generation, genErr := a.cache.RatingGeneration(ctx, sellerID)
	if genErr != nil {
		log.Warn().Err(genErr).Str("seller_id", sellerID).Msg("seller rating cache generation read failed")
	}

	rating, err := a.ratings.Get(ctx, sellerID)
	if err != nil {
		return nil, err
	}

	if genErr != nil {
		return rating, nil
	}

	stored, err := a.cache.SetSellerRating(ctx, rating, a.cacheTTL, generation)
	if err != nil {
		log.Warn().Err(err).Str("seller_id", sellerID).Msg("seller rating cache write failed")
	} else if !stored {
		log.Debug().Str("seller_id", sellerID).Msg("seller rating changed during read, cache fill skipped")
	}
	return rating, nil
}

// Repair сверяет агрегат с отзывами в MongoDB и перезаписывает его при расхождении.
// Запись защищена версией строки: параллельная дельта даёт RepairConflict.
func (a *RatingAggregator) Repair(ctx context.Context, sellerID string) (RepairResult, error) {
	current, err := a.ratings.Get(ctx, sellerID)
	if err != nil {
		return RepairFailed, err
	}

	truth, err := a.reviews.AggregateBySeller(ctx, sellerID)
	if err != nil {
		return RepairFailed, err
	}

	if current.ReviewCnt == truth.Count && current.RatingSum == truth.Sum {
		return RepairConsistent, nil
	}

	// недавние изменения могут ещё применять свои дельты
	if time.Since(truth.LastModified) < a.settle || time.Since(current.UpdatedAt) < a.settle {
		return RepairDeferred, ErrRepairDeferred
	}

	if _, err := a.ratings.Overwrite(ctx, sellerID, truth.Count, truth.Sum, current.Version); err != nil {
		if errors.Is(err, repository.ErrRatingVersionConflict) {
			return RepairConflict, err
		}
		return RepairFailed, err
	}

	if err := a.cache.InvalidateSellerRating(ctx, sellerID); err != nil {
		logger.Ctx(ctx).Warn().Err(err).Str("seller_id", sellerID).Msg("failed to invalidate cached seller rating")
	}

	logger.Ctx(ctx).Info().
		Str("seller_id", sellerID).
		Int64("review_cnt_was", current.ReviewCnt).
		Int64("review_cnt", truth.Count).
		Float64("avg_rating", truth.Avg).
		Msg("seller rating repaired")

	return RepairApplied, nil
}

// FlagForRepair ставит продавца в очередь на сверку
func (a *RatingAggregator) FlagForRepair(ctx context.Context, sellerID string) error {
	return a.cache.MarkStale(ctx, sellerID)
}

// PendingRepairs забирает пачку помеченных продавцов
func (a *RatingAggregator) PendingRepairs(ctx context.Context, batch int) ([]string, error) {
	return a.cache.PopStale(ctx, batch)
}
