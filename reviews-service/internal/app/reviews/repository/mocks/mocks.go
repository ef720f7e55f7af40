package mocks

import (
	"context"
	"io"
	"sync"
	"time"

	"foodmarket/reviews-service/internal/app/reviews/entity"

	"github.com/stretchr/testify/mock"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// MockReviewRepository мок для ReviewRepository
type MockReviewRepository struct {
	mock.Mock
}

func (m *MockReviewRepository) FindByOrderAndWriter(ctx context.Context, orderID, writerID string) (*entity.Review, error) {
	args := m.Called(ctx, orderID, writerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Review), args.Error(1)
}

func (m *MockReviewRepository) Insert(ctx context.Context, review *entity.Review) error {
	args := m.Called(ctx, review)
	return args.Error(0)
}

func (m *MockReviewRepository) FindByID(ctx context.Context, id string) (*entity.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Review), args.Error(1)
}

func (m *MockReviewRepository) UpdateFields(ctx context.Context, id, writerID string, upd entity.ReviewFieldsUpdate) (*entity.Review, int, error) {
	args := m.Called(ctx, id, writerID, upd)
	if args.Get(0) == nil {
		return nil, args.Int(1), args.Error(2)
	}
	return args.Get(0).(*entity.Review), args.Int(1), args.Error(2)
}

func (m *MockReviewRepository) Delete(ctx context.Context, id string) (*entity.Review, error) {
	args := m.Called(ctx, id)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.Review), args.Error(1)
}

func (m *MockReviewRepository) ListBySeller(ctx context.Context, sellerID string, limit int) ([]entity.Review, error) {
	args := m.Called(ctx, sellerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Review), args.Error(1)
}

func (m *MockReviewRepository) ListByWriter(ctx context.Context, writerID string, limit int) ([]entity.Review, error) {
	args := m.Called(ctx, writerID, limit)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.Review), args.Error(1)
}

func (m *MockReviewRepository) AggregateBySeller(ctx context.Context, sellerID string) (*entity.RatingAggregate, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.RatingAggregate), args.Error(1)
}

// MockMediaRepository мок для MediaRepository
type MockMediaRepository struct {
	mock.Mock
}

func (m *MockMediaRepository) ListByReview(ctx context.Context, reviewID primitive.ObjectID) ([]entity.ReviewMedia, error) {
	args := m.Called(ctx, reviewID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]entity.ReviewMedia), args.Error(1)
}

func (m *MockMediaRepository) ListByReviews(ctx context.Context, reviewIDs []primitive.ObjectID) (map[primitive.ObjectID][]entity.ReviewMedia, error) {
	args := m.Called(ctx, reviewIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[primitive.ObjectID][]entity.ReviewMedia), args.Error(1)
}

func (m *MockMediaRepository) Insert(ctx context.Context, media *entity.ReviewMedia) error {
	args := m.Called(ctx, media)
	return args.Error(0)
}

func (m *MockMediaRepository) DeleteByIDs(ctx context.Context, ids []primitive.ObjectID) error {
	args := m.Called(ctx, ids)
	return args.Error(0)
}

func (m *MockMediaRepository) DeleteByReview(ctx context.Context, reviewID primitive.ObjectID) error {
	args := m.Called(ctx, reviewID)
	return args.Error(0)
}

func (m *MockMediaRepository) Reorder(ctx context.Context, reviewID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	args := m.Called(ctx, reviewID, orderedIDs)
	return args.Error(0)
}

// MockSellerRatingRepository мок для SellerRatingRepository
type MockSellerRatingRepository struct {
	mock.Mock
}

func (m *MockSellerRatingRepository) EnsureSchema(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockSellerRatingRepository) Get(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SellerRating), args.Error(1)
}

func (m *MockSellerRatingRepository) ApplyDelta(ctx context.Context, sellerID string, cntDelta, sumDelta int64) (*entity.SellerRating, error) {
	args := m.Called(ctx, sellerID, cntDelta, sumDelta)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SellerRating), args.Error(1)
}

func (m *MockSellerRatingRepository) Overwrite(ctx context.Context, sellerID string, count, sum, expectedVersion int64) (*entity.SellerRating, error) {
	args := m.Called(ctx, sellerID, count, sum, expectedVersion)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SellerRating), args.Error(1)
}

func (m *MockSellerRatingRepository) Touch(ctx context.Context, sellerID string) error {
	args := m.Called(ctx, sellerID)
	return args.Error(0)
}

// MockDirectoryRepository мок для DirectoryRepository
type MockDirectoryRepository struct {
	mock.Mock
}

func (m *MockDirectoryRepository) GetOrderBuyer(ctx context.Context, orderID string) (string, error) {
	args := m.Called(ctx, orderID)
	return args.String(0), args.Error(1)
}

func (m *MockDirectoryRepository) GetDisplayNames(ctx context.Context, userIDs []string) (map[string]string, error) {
	args := m.Called(ctx, userIDs)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(map[string]string), args.Error(1)
}

// MockMediaStore мок для MediaStore. Содержимое загруженных файлов сохраняется в Uploaded.
type MockMediaStore struct {
	mock.Mock
	mu       sync.Mutex
	Uploaded map[string][]byte
}

func (m *MockMediaStore) Store(ctx context.Context, key, contentType string, data io.Reader) (string, error) {
	body, _ := io.ReadAll(data)
	m.mu.Lock()
	if m.Uploaded == nil {
		m.Uploaded = make(map[string][]byte)
	}
	m.Uploaded[key] = body
	m.mu.Unlock()

	args := m.Called(ctx, key, contentType)
	return args.String(0), args.Error(1)
}

func (m *MockMediaStore) Delete(ctx context.Context, key string) error {
	args := m.Called(ctx, key)
	return args.Error(0)
}

// MockRatingCache мок для RatingCache
type MockRatingCache struct {
	mock.Mock
}

func (m *MockRatingCache) GetSellerRating(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	args := m.Called(ctx, sellerID)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*entity.SellerRating), args.Error(1)
}

func (m *MockRatingCache) RatingGeneration(ctx context.Context, sellerID string) (int64, error) {
	args := m.Called(ctx, sellerID)
	return args.Get(0).(int64), args.Error(1)
}

func (m *MockRatingCache) SetSellerRating(ctx context.Context, rating *entity.SellerRating, ttl time.Duration, generation int64) (bool, error) {
	args := m.Called(ctx, rating, ttl, generation)
	return args.Bool(0), args.Error(1)
}

func (m *MockRatingCache) InvalidateSellerRating(ctx context.Context, sellerID string) error {
	args := m.Called(ctx, sellerID)
	return args.Error(0)
}

func (m *MockRatingCache) MarkStale(ctx context.Context, sellerID string) error {
	args := m.Called(ctx, sellerID)
	return args.Error(0)
}

func (m *MockRatingCache) PopStale(ctx context.Context, count int) ([]string, error) {
	args := m.Called(ctx, count)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]string), args.Error(1)
}

// MockMessagePublisher мок для Kafka MessagePublisher
type MockMessagePublisher struct {
	mock.Mock
	mu       sync.Mutex
	Messages [][]byte
}

func (m *MockMessagePublisher) PublishMessage(ctx context.Context, key string, value []byte) error {
	m.mu.Lock()
	m.Messages = append(m.Messages, value)
	m.mu.Unlock()
	args := m.Called(ctx, key, value)
	return args.Error(0)
}

func (m *MockMessagePublisher) Close() error {
	args := m.Called()
	return args.Error(0)
}
