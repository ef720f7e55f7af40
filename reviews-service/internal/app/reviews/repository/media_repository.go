package repository

import (
	"context"
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

const mediaCollection = "review_media"

type mediaRepository struct {
	collection *mongo.Collection
}

func NewMediaRepository(db *mongo.Database) MediaRepository {
	collection := db.Collection(mediaCollection)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	indexModel := mongo.IndexModel{
		Keys:    bson.D{{Key: "review_id", Value: 1}, {Key: "index", Value: 1}},
		Options: options.Index().SetName("review_index_idx"),
	}
	if _, err := collection.Indexes().CreateOne(ctx, indexModel); err != nil {
		logger.Warn().Err(err).Str("collection", mediaCollection).Msg("failed to create index")
	}

	return &mediaRepository{collection: collection}
}

// ListByReview возвращает изображения отзыва в порядке index
func (r *mediaRepository) ListByReview(ctx context.Context, reviewID primitive.ObjectID) ([]entity.ReviewMedia, error) {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, mediaCollection).ObserveDuration()

	opts := options.Find().SetSort(bson.D{{Key: "index", Value: 1}, {Key: "_id", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"review_id": reviewID}, opts)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to find review media: %w", err)
	}
	defer cursor.Close(ctx)

	media := make([]entity.ReviewMedia, 0)
	if err := cursor.All(ctx, &media); err != nil {
		return nil, fmt.Errorf("failed to decode review media: %w", err)
	}

	return media, nil
}

// ListByReviews - пакетная выборка для списков отзывов, один запрос на страницу
func (r *mediaRepository) ListByReviews(ctx context.Context, reviewIDs []primitive.ObjectID) (map[primitive.ObjectID][]entity.ReviewMedia, error) {
	result := make(map[primitive.ObjectID][]entity.ReviewMedia, len(reviewIDs))
	if len(reviewIDs) == 0 {
		return result, nil
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpSelect, mediaCollection).ObserveDuration()

	opts := options.Find().SetSort(bson.D{{Key: "review_id", Value: 1}, {Key: "index", Value: 1}})

	cursor, err := r.collection.Find(ctx, bson.M{"review_id": bson.M{"$in": reviewIDs}}, opts)
	if err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpSelect)
		return nil, fmt.Errorf("failed to find review media: %w", err)
	}
	defer cursor.Close(ctx)

	var media []entity.ReviewMedia
	if err := cursor.All(ctx, &media); err != nil {
		return nil, fmt.Errorf("failed to decode review media: %w", err)
	}

	for _, m := range media {
		result[m.ReviewID] = append(result[m.ReviewID], m)
	}

	return result, nil
}

func (r *mediaRepository) Insert(ctx context.Context, media *entity.ReviewMedia) error {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpInsert, mediaCollection).ObserveDuration()

	media.ID = primitive.NewObjectID()
	if _, err := r.collection.InsertOne(ctx, media); err != nil {
		media.ID = primitive.NilObjectID
		metrics.RecordDbError(serviceName, metrics.DbOpInsert)
		return fmt.Errorf("failed to insert review media: %w", err)
	}

	return nil
}

func (r *mediaRepository) DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) error {
	if len(ids) == 0 {
		return nil
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpDelete, mediaCollection).ObserveDuration()

	if _, err := r.collection.DeleteMany(ctx, bson.M{"_id": bson.M{"$in": ids}}); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpDelete)
		return fmt.Errorf("failed to delete review media: %w", err)
	}

	return nil
}

func (r *mediaRepository) DeleteByReview(ctx context.Context, reviewID primitive.ObjectID) error {
	defer metrics.NewDbTimer(serviceName, metrics.DbOpDelete, mediaCollection).ObserveDuration()

	if _, err := r.collection.DeleteMany(ctx, bson.M{"review_id": reviewID}); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpDelete)
		return fmt.Errorf("failed to delete review media: %w", err)
	}

	return nil
}

// Reorder одним bulk-запросом проставляет плотные индексы 0..n-1
func (r *mediaRepository) Reorder(ctx context.Context, reviewID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	if len(orderedIDs) == 0 {
		return nil
	}

	defer metrics.NewDbTimer(serviceName, metrics.DbOpUpdate, mediaCollection).ObserveDuration()

	models := make([]mongo.WriteModel, 0, len(orderedIDs))
	for i, id := range orderedIDs {
		models = append(models, mongo.NewUpdateOneModel().
			SetFilter(bson.M{"_id": id, "review_id": reviewID}).
			SetUpdate(bson.M{"$set": bson.M{"index": i}}))
	}

	if _, err := r.collection.BulkWrite(ctx, models, options.BulkWrite().SetOrdered(false)); err != nil {
		metrics.RecordDbError(serviceName, metrics.DbOpUpdate)
		return fmt.Errorf("failed to reorder review media: %w", err)
	}

	return nil
}
