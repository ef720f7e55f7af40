package storage

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/gridfs"
	"go.mongodb.org/mongo-driver/mongo/options"
)

const (
	gridfsBackend = "gridfs"
	bucketName    = "review_media"
)

// GridFSStore хранит изображения в GridFS той же базы MongoDB.
// Файлы отдаёт сам сервис по {publicBaseURL}/{key}.
type GridFSStore struct {
	bucket        *gridfs.Bucket
	publicBaseURL string
}

func NewGridFSStore(db *mongo.Database, publicBaseURL string) (*GridFSStore, error) {
	bucket, err := gridfs.NewBucket(db, options.GridFSBucket().SetName(bucketName))
	if err != nil {
		return nil, fmt.Errorf("failed to create gridfs bucket: %w", err)
	}

	return &GridFSStore{
		bucket:        bucket,
		publicBaseURL: strings.TrimRight(publicBaseURL, "/"),
	}, nil
}

func (s *GridFSStore) Store(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	timer := metrics.NewMediaStoreTimer(gridfsBackend, "store")

	if err := ctx.Err(); err != nil {
		timer.Done(err)
		return "", err
	}

	opts := options.GridFSUpload().SetMetadata(bson.D{{Key: "content_type", Value: contentType}})
	_, err := s.bucket.UploadFromStream(key, data, opts)
	timer.Done(err)
	if err != nil {
		return "", fmt.Errorf("failed to upload to gridfs: %w", err)
	}

	return s.publicBaseURL + "/" + escapeKey(key), nil
}

// Delete удаляет все ревизии файла с этим ключом
func (s *GridFSStore) Delete(ctx context.Context, key string) error {
	timer := metrics.NewMediaStoreTimer(gridfsBackend, "delete")

	cursor, err := s.bucket.FindContext(ctx, bson.M{"filename": key})
	if err != nil {
		timer.Done(err)
		return fmt.Errorf("failed to find gridfs file: %w", err)
	}
	defer cursor.Close(ctx)

	var files []struct {
		ID primitive.ObjectID `bson:"_id"`
	}
	if err := cursor.All(ctx, &files); err != nil {
		timer.Done(err)
		return fmt.Errorf("failed to decode gridfs files: %w", err)
	}

	for _, f := range files {
		if err := s.bucket.DeleteContext(ctx, f.ID); err != nil && !errors.Is(err, gridfs.ErrFileNotFound) {
			timer.Done(err)
			return fmt.Errorf("failed to delete gridfs file: %w", err)
		}
	}

	timer.Done(nil)
	return nil
}

// Open возвращает последнюю ревизию файла и его content type
func (s *GridFSStore) Open(ctx context.Context, key string) (io.ReadCloser, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, "", err
	}

	stream, err := s.bucket.OpenDownloadStreamByName(key)
	if err != nil {
		if errors.Is(err, gridfs.ErrFileNotFound) {
			return nil, "", infrastructure.ErrMediaNotFound
		}
		return nil, "", fmt.Errorf("failed to open gridfs file: %w", err)
	}

	contentType := "application/octet-stream"
	if file := stream.GetFile(); file != nil && file.Metadata != nil {
		if ct, ok := file.Metadata.Lookup("content_type").StringValueOK(); ok && ct != "" {
			contentType = ct
		}
	}

	return stream, contentType, nil
}
