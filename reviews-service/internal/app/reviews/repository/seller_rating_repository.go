package repository

import (
	"context"
	"fmt"

	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/entity"

	"gorm.io/gorm"
)

const sellerRatingsTable = "seller_ratings"

// avg_rating - генерируемая колонка, поэтому среднее всегда согласовано
// с review_cnt/rating_sum той же версии строки
const createSellerRatingsSQL = `
CREATE TABLE IF NOT EXISTS seller_ratings (
	seller_id  TEXT PRIMARY KEY,
	review_cnt BIGINT NOT NULL DEFAULT 0 CHECK (review_cnt >= 0),
	rating_sum BIGINT NOT NULL DEFAULT 0 CHECK (rating_sum >= 0),
	avg_rating NUMERIC(4,2) GENERATED ALWAYS AS (
		CASE WHEN review_cnt = 0 THEN 0 ELSE ROUND(rating_sum::numeric / review_cnt, 2) END
	) STORED,
	version    BIGINT NOT NULL DEFAULT 1,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

const selectSellerRatingSQL = `SELECT seller_id, review_cnt, rating_sum, avg_rating::float8 AS avg_rating, version, updated_at
FROM seller_ratings WHERE seller_id = ? LIMIT 1`

// Дельта применяется на уровне строки под блокировкой PostgreSQL:
// параллельные запросы по одному продавцу сериализуются, потерянных обновлений нет.
// Счётчик не уходит ниже нуля, при нулевом счётчике сумма обнуляется.
const applyDeltaSQL = `INSERT INTO seller_ratings AS sr (seller_id, review_cnt, rating_sum, version, updated_at)
VALUES (?, GREATEST(?, 0), CASE WHEN ? > 0 THEN GREATEST(?, 0) ELSE 0 END, 1, NOW())
ON CONFLICT (seller_id) DO UPDATE SET
	review_cnt = GREATEST(sr.review_cnt + ?, 0),
	rating_sum = CASE WHEN sr.review_cnt + ? <= 0 THEN 0 ELSE GREATEST(sr.rating_sum + ?, 0) END,
	version    = sr.version + 1,
	updated_at = NOW()
RETURNING seller_id, review_cnt, rating_sum, avg_rating::float8 AS avg_rating, version, updated_at`

// Перезапись срабатывает только если с момента чтения версия не менялась
const overwriteSQL = `INSERT INTO seller_ratings AS sr (seller_id, review_cnt, rating_sum, version, updated_at)
VALUES (?, ?, ?, 1, NOW())
ON CONFLICT (seller_id) DO UPDATE SET
	review_cnt = EXCLUDED.review_cnt,
	rating_sum = EXCLUDED.rating_sum,
	version    = sr.version + 1,
	updated_at = NOW()
WHERE sr.version = ?
RETURNING seller_id, review_cnt, rating_sum, avg_rating::float8 AS avg_rating, version, updated_at`

// Touch сдвигает версию и updated_at, не трогая счётчики:
// ремонт, прочитавший строку раньше, получит конфликт, а начавшийся позже - отложится
const touchSQL = `INSERT INTO seller_ratings AS sr (seller_id, review_cnt, rating_sum, version, updated_at)
VALUES (?, 0, 0, 1, NOW())
ON CONFLICT (seller_id) DO UPDATE SET
	version    = sr.version + 1,
	updated_at = NOW()`

type sellerRatingRepository struct {
	db *gorm.DB
}

func NewSellerRatingRepository(db *gorm.DB) SellerRatingRepository {
	return &sellerRatingRepository{db: db}
}

func (r *sellerRatingRepository) EnsureSchema(ctx context.Context) error {
	if err := r.db.WithContext(ctx).Exec(createSellerRatingsSQL).Error; err != nil {
		return fmt.Errorf("failed to create seller_ratings table: %w", err)
	}
	return nil
}

// Get возвращает агрегат продавца; продавец без отзывов - нулевой агрегат
func (r *sellerRatingRepository) Get(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, sellerRatingsTable).ObserveDuration()

	var rating entity.SellerRating
	result := r.db.WithContext(ctx).Raw(selectSellerRatingSQL, sellerID).Scan(&rating)
	if result.Error != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to get seller rating: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return &entity.SellerRating{SellerID: sellerID}, nil
	}

	return &rating, nil
}

func (r *sellerRatingRepository) ApplyDelta(ctx context.Context, sellerID string, cntDelta, sumDelta int64) (*entity.SellerRating, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpUpsert, sellerRatingsTable).ObserveDuration()

	var rating entity.SellerRating
	result := r.db.WithContext(ctx).Raw(applyDeltaSQL,
		sellerID, cntDelta, cntDelta, sumDelta,
		cntDelta, cntDelta, sumDelta,
	).Scan(&rating)
	if result.Error != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpsert)
		return nil, fmt.Errorf("failed to apply seller rating delta: %w", result.Error)
	}

	return &rating, nil
}

func (r *sellerRatingRepository) Overwrite(ctx context.Context, sellerID string, count, sum, expectedVersion int64) (*entity.SellerRating, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpUpsert, sellerRatingsTable).ObserveDuration()

	var rating entity.SellerRating
	result := r.db.WithContext(ctx).Raw(overwriteSQL, sellerID, count, sum, expectedVersion).Scan(&rating)
	if result.Error != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpsert)
		return nil, fmt.Errorf("failed to overwrite seller rating: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return nil, ErrRatingVersionConflict
	}

	return &rating, nil
}

func (r *sellerRatingRepository) Touch(ctx context.Context, sellerID string) error {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpUpsert, sellerRatingsTable).ObserveDuration()

	if err := r.db.WithContext(ctx).Exec(touchSQL, sellerID).Error; err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpsert)
		return fmt.Errorf("failed to touch seller rating: %w", err)
	}
	return nil
}
