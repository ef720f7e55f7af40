package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/entity"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	serviceName       = "reviews-service"
	reviewsCollection = "reviews"
)

type reviewRepository struct {
	collection *mongo.Collection
}

// NewReviewRepository создает репозиторий отзывов и нужные индексы.
// Уникальный индекс (order_id, writer_id) - единственная гарантия
// "один отзыв на заказ", проверка в сервисе лишь отсекает очевидные дубли.
func NewReviewRepository(db *mongo.Database) ReviewRepository {
	collection := db.Collection(reviewsCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexes := []mongo.IndexModel{
		{
			Keys:    bson.D{{Key: "order_id", Value: 1}, {Key: "writer_id", Value: 1}},
			Options: options.Index().SetName("order_writer_uniq").SetUnique(true),
		},
		{
			Keys:    bson.D{{Key: "seller_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("seller_timestamp_idx"),
		},
		{
			Keys:    bson.D{{Key: "writer_id", Value: 1}, {Key: "timestamp", Value: -1}},
			Options: options.Index().SetName("writer_timestamp_idx"),
		},
	}

	if _, err := collection.Indexes().CreateMany(ctx, indexes); err != nil {
		// индексы могли быть созданы раньше другой репликой
		logger.Warn().Err(err).Str("collection", reviewsCollection).Msg("failed to create indexes")
	}

	return &reviewRepository{
		collection: collection,
	}
}

func (r *reviewRepository) FindByOrderAndWriter(ctx context.Context, orderID, writerID string) (*entity.Review, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, reviewsCollection).ObserveDuration()

	var review entity.Review
	err := r.collection.FindOne(ctx, bson.M{"order_id": orderID, "writer_id": writerID}).Decode(&review)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReviewNotFound
		}
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to find review by order: %w", err)
	}

	return &review, nil
}

// Insert сохраняет отзыв. Нарушение уникального индекса превращается в ErrDuplicateReview.
func (r *reviewRepository) Insert(ctx context.Context, review *entity.Review) error {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpInsert, reviewsCollection).ObserveDuration()

	now := time.Now().UTC()
	review.ID = primitive.NewObjectID()
	review.CreatedAt = now
	review.Timestamp = now

	if _, err := r.collection.InsertOne(ctx, review); err != nil {
		review.ID = primitive.NilObjectID
		if mongo.IsDuplicateKeyError(err) {
			return ErrDuplicateReview
		}
		metrics.RecordDbError(serviceName, metrics.DbOpInsert)
		return fmt.Errorf("failed to insert review: %w", err)
	}

	return nil
}

func (r *reviewRepository) FindByID(ctx context.Context, id string) (*entity.Review, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrReviewNotFound
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, reviewsCollection).ObserveDuration()

	var review entity.Review
	if err := r.collection.FindOne(ctx, bson.M{"_id": objectID}).Decode(&review); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReviewNotFound
		}
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	return &review, nil
}

// UpdateFields меняет только переданные поля и обновляет timestamp.
// Предыдущая оценка читается тем же findAndModify, поэтому дельта рейтинга
// всегда считается от фактически перезаписанного значения.
func (r *reviewRepository) UpdateFields(ctx context.Context, id, writerID string, upd entity.ReviewFieldsUpdate) (*entity.Review, int, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, 0, ErrReviewNotFound
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpUpdate, reviewsCollection).ObserveDuration()

	now := time.Now().UTC()
	set := bson.M{"timestamp": now}
	if upd.Rating != nil {
		set["rating"] = *upd.Rating
	}
	if upd.Content != nil {
		set["content"] = *upd.Content
	}

	opts := options.FindOneAndUpdate().SetReturnDocument(options.Before)

	var before entity.Review
	err = r.collection.FindOneAndUpdate(ctx,
		bson.M{"_id": objectID, "writer_id": writerID},
		bson.M{"$set": set},
		opts,
	).Decode(&before)
	if err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, 0, ErrReviewNotFound
		}
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return nil, 0, fmt.Errorf("failed to update review: %w", err)
	}

	after := before
	after.Timestamp = now
	if upd.Rating != nil {
		after.Rating = *upd.Rating
	}
	if upd.Content != nil {
		after.Content = *upd.Content
	}

	return &after, before.Rating, nil
}

func (r *reviewRepository) Delete(ctx context.Context, id string) (*entity.Review, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, ErrReviewNotFound
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpDelete, reviewsCollection).ObserveDuration()

	var deleted entity.Review
	if err := r.collection.FindOneAndDelete(ctx, bson.M{"_id": objectID}).Decode(&deleted); err != nil {
		if errors.Is(err, mongo.ErrNoDocuments) {
			return nil, ErrReviewNotFound
		}
		metrics.RecordDbError(serviceName, metrics.DbOpDelete)
		return nil, fmt.Errorf("failed to delete review: %w", err)
	}

	return &deleted, nil
}

// ListBySeller - последние отзывы о продавце, новые первыми
func (r *reviewRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]entity.Review, error) {
	return r.list(ctx, bson.M{"seller_id": sellerID}, limit)
}

func (r *reviewRepository) ListByWriter(ctx context.Context, writerID string, limit int) ([]entity.Review, error) {
	return r.list(ctx, bson.M{"writer_id": writerID}, limit)
}

func (r *reviewRepository) list(ctx context.Context, filter bson.M, limit int) ([]entity.Review, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, reviewsCollection).ObserveDuration()

	opts := options.Find().
		SetSort(bson.D{{Key: "timestamp", Value: -1}, {Key: "_id", Value: -1}}).
		SetLimit(int64(limit))

	cursor, err := r.collection.Find(ctx, filter, opts)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to find reviews: %w", err)
	}
	defer cursor.Close(ctx)

	reviews := make([]entity.Review, 0)
	if err := cursor.All(ctx, &reviews); err != nil {
		return nil, fmt.Errorf("failed to decode reviews: %w", err)
	}

	return reviews, nil
}

// AggregateBySeller считает count/sum по живым отзывам продавца
func (r *reviewRepository) AggregateBySeller(ctx context.Context, sellerID string) (*entity.RatingAggregate, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpAggregate, reviewsCollection).ObserveDuration()

	pipeline := mongo.Pipeline{
		{{Key: "$match", Value: bson.M{"seller_id": sellerID}}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "count", Value: bson.M{"$sum": 1}},
			{Key: "sum", Value: bson.M{"$sum": "$rating"}},
			{Key: "last_modified", Value: bson.M{"$max": "$timestamp"}},
		}}},
	}

	cursor, err := r.collection.Aggregate(ctx, pipeline)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpAggregate)
		return nil, fmt.Errorf("failed to aggregate seller ratings: %w", err)
	}
	defer cursor.Close(ctx)

	agg := &entity.RatingAggregate{}
	if cursor.Next(ctx) {
		if err := cursor.Decode(agg); err != nil {
			return nil, fmt.Errorf("failed to decode seller aggregate: %w", err)
		}
	}
	if err := cursor.Err(); err != nil {
		return nil, fmt.Errorf("failed to read seller aggregate: %w", err)
	}

	agg.Avg = entity.AverageRating(agg.Count, agg.Sum)
	return agg, nil
}
