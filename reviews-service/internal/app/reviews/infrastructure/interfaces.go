package infrastructure

import (
	"context"
	"errors"
	"io"
	"time"

	"foodmarket/reviews-service/internal/app/reviews/entity"
)

// ErrMediaNotFound - объект отсутствует в хранилище
var ErrMediaNotFound = errors.New("media object not found")

// MessagePublisher интерфейс для отправки событий отзывов (Kafka)
type MessagePublisher interface {
	PublishMessage(ctx context.Context, key string, value []byte) error
	Close() error
}

// MediaStore - хранилище бинарных файлов: байты + путь -> постоянный URL
type MediaStore interface {
	Store(ctx context.Context, key, contentType string, data io.Reader) (string, error)
	Delete(ctx context.Context, key string) error
}

// MediaReader - хранилища, которые умеют сами отдавать файлы (GridFS)
type MediaReader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, string, error)
}

// RatingCache - кэш агрегатов рейтинга и множество продавцов,
// чьи агрегаты требуют пересчёта
type RatingCache interface {
	GetSellerRating(ctx context.Context, sellerID string) (*entity.SellerRating, error)
	// RatingGeneration - счётчик инвалидаций агрегата, читается до похода в PostgreSQL
	RatingGeneration(ctx context.Context, sellerID string) (int64, error)
	// SetSellerRating кладёт агрегат в кэш, только если generation не изменился.
	// false - между чтением и записью агрегат был инвалидирован, запись пропущена.
	SetSellerRating(ctx context.Context, rating *entity.SellerRating, ttl time.Duration, generation int64) (bool, error)
	InvalidateSellerRating(ctx context.Context, sellerID string) error
	MarkStale(ctx context.Context, sellerID string) error
	PopStale(ctx context.Context, count int) ([]string, error)
}
