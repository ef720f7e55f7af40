package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/entity"

	"github.com/redis/go-redis/v9"
)

const (
	serviceName       = "reviews-service"
	sellerRatingKey   = "seller_rating:"
	sellerRatingGen   = "seller_rating_gen:"
	staleSellersKey   = "seller_rating:stale"
	sellerRatingLabel = "seller_rating"

	// счётчик живёт заметно дольше любого чтения из PostgreSQL
	generationTTL = 24 * time.Hour
)

// RatingCache - кэш агрегатов рейтинга в Redis и множество продавцов,
// которым нужен пересчёт после неудачного обновления агрегата
type RatingCache struct {
	client *redis.Client
}

func NewRatingCache(client *redis.Client) *RatingCache {
	return &RatingCache{client: client}
}

func sellerKey(sellerID string) string {
	return sellerRatingKey + sellerID
}

func generationKey(sellerID string) string {
	return sellerRatingGen + sellerID
}

// GetSellerRating возвращает nil без ошибки при промахе
func (c *RatingCache) GetSellerRating(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpGet).ObserveDuration()

	data, err := c.client.Get(ctx, sellerKey(sellerID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			metrics.RecordCacheMiss(serviceName, sellerRatingLabel)
			return nil, nil
		}
		metrics.RecordRedisError(serviceName, metrics.RedisOpGet)
		return nil, fmt.Errorf("failed to get seller rating from redis: %w", err)
	}

	var rating entity.SellerRating
	if err := json.Unmarshal(data, &rating); err != nil {
		return nil, fmt.Errorf("failed to unmarshal seller rating: %w", err)
	}

	metrics.RecordCacheHit(serviceName, sellerRatingLabel)
	return &rating, nil
}

// RatingGeneration возвращает 0, если агрегат продавца ещё не инвалидировался
func (c *RatingCache) RatingGeneration(ctx context.Context, sellerID string) (int64, error) {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpGet).ObserveDuration()

	generation, err := c.client.Get(ctx, generationKey(sellerID)).Int64()
	if err != nil && !errors.Is(err, redis.Nil) {
		metrics.RecordRedisError(serviceName, metrics.RedisOpGet)
		return 0, fmt.Errorf("failed to get seller rating generation: %w", err)
	}

	return generation, nil
}

// SetSellerRating пишет значение в WATCH-транзакции по счётчику поколений:
// инвалидация между чтением агрегата и записью отменяет запись
func (c *RatingCache) SetSellerRating(ctx context.Context, rating *entity.SellerRating, ttl time.Duration, generation int64) (bool, error) {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpSet).ObserveDuration()

	data, err := json.Marshal(rating)
	if err != nil {
		return false, fmt.Errorf("failed to marshal seller rating: %w", err)
	}

	genKey := generationKey(rating.SellerID)
	stored := false

	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != generation {
			return nil
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, sellerKey(rating.SellerID), data, ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)

	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		metrics.RecordRedisError(serviceName, metrics.RedisOpSet)
		return false, fmt.Errorf("failed to set seller rating in redis: %w", err)
	}

	return stored, nil
}

// InvalidateSellerRating удаляет значение и сдвигает поколение,
// чтобы незавершённые заполнения кэша не записали старый агрегат
func (c *RatingCache) InvalidateSellerRating(ctx context.Context, sellerID string) error {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpDel).ObserveDuration()

	pipe := c.client.TxPipeline()
	bumpGeneration(ctx, pipe, sellerID)
	pipe.Del(ctx, sellerKey(sellerID))

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordRedisError(serviceName, metrics.RedisOpDel)
		return fmt.Errorf("failed to invalidate seller rating: %w", err)
	}

	return nil
}

func bumpGeneration(ctx context.Context, pipe redis.Pipeliner, sellerID string) {
	pipe.Incr(ctx, generationKey(sellerID))
	pipe.Expire(ctx, generationKey(sellerID), generationTTL)
}

// MarkStale помечает продавца для фонового пересчёта и сбрасывает его кэш
func (c *RatingCache) MarkStale(ctx context.Context, sellerID string) error {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpSAdd).ObserveDuration()

	pipe := c.client.TxPipeline()
	pipe.SAdd(ctx, staleSellersKey, sellerID)
	bumpGeneration(ctx, pipe, sellerID)
	pipe.Del(ctx, sellerKey(sellerID))

	if _, err := pipe.Exec(ctx); err != nil {
		metrics.RecordRedisError(serviceName, metrics.RedisOpSAdd)
		return fmt.Errorf("failed to mark seller stale: %w", err)
	}

	return nil
}

// PopStale забирает до count продавцов из множества на пересчёт
func (c *RatingCache) PopStale(ctx context.Context, count int) ([]string, error) {
	defer metrics.NewRedisTimer(serviceName, metrics.RedisOpSPop).ObserveDuration()

	sellers, err := c.client.SPopN(ctx, staleSellersKey, int64(count)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		metrics.RecordRedisError(serviceName, metrics.RedisOpSPop)
		return nil, fmt.Errorf("failed to pop stale sellers: %w", err)
	}

	return sellers, nil
}

func (c *RatingCache) Close() error {
	return c.client.Close()
}
