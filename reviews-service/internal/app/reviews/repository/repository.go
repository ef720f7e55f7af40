package repository

import (
	"context"
	"errors"

	"foodmarket/reviews-service/internal/app/reviews/entity"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

var (
	// Стандартные ошибки репозиториев для обработки в service layer
	ErrReviewNotFound        = errors.New("review not found")
	ErrDuplicateReview       = errors.New("review for this order already exists")
	ErrOrderNotFound         = errors.New("order not found")
	ErrRatingVersionConflict = errors.New("seller rating was modified concurrently")
)

// ReviewRepository - отзывы в MongoDB
type ReviewRepository interface {
	FindByOrderAndWriter(ctx context.Context, orderID, writerID string) (*entity.Review, error)
	Insert(ctx context.Context, review *entity.Review) error
	FindByID(ctx context.Context, id string) (*entity.Review, error)
	// UpdateFields возвращает обновлённый отзыв и оценку, которая была до записи
	UpdateFields(ctx context.Context, id, writerID string, upd entity.ReviewFieldsUpdate) (*entity.Review, int, error)
	// Delete возвращает удалённый документ в том виде, в каком он был на момент удаления
	Delete(ctx context.Context, id string) (*entity.Review, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]entity.Review, error)
	ListByWriter(ctx context.Context, writerID string, limit int) ([]entity.Review, error)
	AggregateBySeller(ctx context.Context, sellerID string) (*entity.RatingAggregate, error)
}

// MediaRepository - изображения отзывов в MongoDB
type MediaRepository interface {
	ListByReview(ctx context.Context, reviewID primitive.ObjectID) ([]entity.ReviewMedia, error)
	ListByReviews(ctx context.Context, reviewIDs []primitive.ObjectID) (map[primitive.ObjectID][]entity.ReviewMedia, error)
	Insert(ctx context.Context, media *entity.ReviewMedia) error
	DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) error
	DeleteByReview(ctx context.Context, reviewID primitive.ObjectID) error
	// Reorder проставляет index = позиция в orderedIDs
	Reorder(ctx context.Context, reviewID primitive.ObjectID, orderedIDs []primitive.ObjectID) error
}

// SellerRatingRepository - агрегаты рейтинга продавцов в PostgreSQL
type SellerRatingRepository interface {
	EnsureSchema(ctx context.Context) error
	Get(ctx context.Context, sellerID string) (*entity.SellerRating, error)
	// ApplyDelta атомарно применяет приращения одним SQL-выражением
	ApplyDelta(ctx context.Context, sellerID string, cntDelta, sumDelta int64) (*entity.SellerRating, error)
	// Overwrite перезаписывает агрегат, только если версия строки не изменилась
	Overwrite(ctx context.Context, sellerID string, count, sum, expectedVersion int64) (*entity.SellerRating, error)
	// Touch отмечает предстоящее изменение до записи в MongoDB
	Touch(ctx context.Context, sellerID string) error
}

// DirectoryRepository - справочник заказов и пользователей маркетплейса
type DirectoryRepository interface {
	GetOrderBuyer(ctx context.Context, orderID string) (string, error)
	GetDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error)
}
