package service

import (
	"context"
	"errors"
	"testing"
	"time"

	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/repository"
	"foodmarket/reviews-service/internal/app/reviews/repository/mocks"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newMockAggregator() (*RatingAggregator, *mocks.MockSellerRatingRepository, *mocks.MockReviewRepository, *mocks.MockRatingCache) {
	ratings := new(mocks.MockSellerRatingRepository)
	reviews := new(mocks.MockReviewRepository)
	cache := new(mocks.MockRatingCache)
	return NewRatingAggregator(ratings, reviews, cache, time.Minute), ratings, reviews, cache
}

func TestRatingAggregator_ReviewCreated(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()

	ratings.On("ApplyDelta", ctx, "seller-1", int64(1), int64(4)).
		Return(&entity.SellerRating{SellerID: "seller-1", ReviewCnt: 1, RatingSum: 4, AvgRating: 4}, nil)
	cache.On("InvalidateSellerRating", ctx, "seller-1").Return(nil)

	err := agg.ReviewCreated(ctx, "seller-1", 4)

	assert.NoError(t, err)
	ratings.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestRatingAggregator_RatingChanged_Delta(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()

	ratings.On("ApplyDelta", ctx, "seller-1", int64(0), int64(-2)).Return(&entity.SellerRating{}, nil)
	cache.On("InvalidateSellerRating", ctx, "seller-1").Return(nil)

	err := agg.RatingChanged(ctx, "seller-1", 5, 3)

	assert.NoError(t, err)
	ratings.AssertExpectations(t)
}

func TestRatingAggregator_RatingChanged_SameRatingNoop(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()

	err := agg.RatingChanged(context.Background(), "seller-1", 4, 4)

	assert.NoError(t, err)
	ratings.AssertNotCalled(t, "ApplyDelta", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
	cache.AssertNotCalled(t, "InvalidateSellerRating", mock.Anything, mock.Anything)
}

func TestRatingAggregator_ReviewDeleted(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()

	ratings.On("ApplyDelta", ctx, "seller-1", int64(-1), int64(-3)).Return(&entity.SellerRating{}, nil)
	cache.On("InvalidateSellerRating", ctx, "seller-1").Return(nil)

	assert.NoError(t, agg.ReviewDeleted(ctx, "seller-1", 3))
	ratings.AssertExpectations(t)
}

func TestRatingAggregator_ApplyFailureFlagsSeller(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()

	ratings.On("ApplyDelta", ctx, "seller-1", int64(1), int64(5)).Return(nil, errors.New("connection refused"))
	cache.On("MarkStale", ctx, "seller-1").Return(nil)

	err := agg.ReviewCreated(ctx, "seller-1", 5)

	assert.ErrorIs(t, err, ErrAggregateUpdateFailure)
	cache.AssertCalled(t, "MarkStale", ctx, "seller-1")
	cache.AssertNotCalled(t, "InvalidateSellerRating", mock.Anything, mock.Anything)
}

func TestRatingAggregator_Get_CacheHit(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()
	cached := &entity.SellerRating{SellerID: "seller-1", ReviewCnt: 2, AvgRating: 4.5}

	cache.On("GetSellerRating", ctx, "seller-1").Return(cached, nil)

	result, err := agg.Get(ctx, "seller-1")

	assert.NoError(t, err)
	assert.Equal(t, cached, result)
	ratings.AssertNotCalled(t, "Get", mock.Anything, mock.Anything)
}

func TestRatingAggregator_Get_CacheMissFillsCache(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()
	stored := &entity.SellerRating{SellerID: "seller-1", ReviewCnt: 3, RatingSum: 12, AvgRating: 4}

	cache.On("GetSellerRating", ctx, "seller-1").Return(nil, nil)
	cache.On("RatingGeneration", ctx, "seller-1").Return(int64(3), nil)
	ratings.On("Get", ctx, "seller-1").Return(stored, nil)
	cache.On("SetSellerRating", ctx, stored, time.Minute, int64(3)).Return(true, nil)

	result, err := agg.Get(ctx, "seller-1")

	assert.NoError(t, err)
	assert.Equal(t, 4.0, result.AvgRating)
	cache.AssertExpectations(t)
}

func TestRatingAggregator_Get_CacheErrorFallsBack(t *testing.T) {
	agg, ratings, _, cache := newMockAggregator()
	ctx := context.Background()
	stored := &entity.SellerRating{SellerID: "seller-1"}

	cache.On("GetSellerRating", ctx, "seller-1").Return(nil, errors.New("redis down"))
	cache.On("RatingGeneration", ctx, "seller-1").Return(int64(0), errors.New("redis down"))
	ratings.On("Get", ctx, "seller-1").Return(stored, nil)

	result, err := agg.Get(ctx, "seller-1")

	assert.NoError(t, err)
	assert.Equal(t, stored, result)
	cache.AssertNotCalled(t, "SetSellerRating", mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

// interleavingRatingRepo выполняет hook между чтением строки и возвратом результата
type interleavingRatingRepo struct {
	*fakeRatingRepo
	hook func()
}

func (r *interleavingRatingRepo) Get(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	row, err := r.fakeRatingRepo.Get(ctx, sellerID)
	if r.hook != nil {
		hook := r.hook
		r.hook = nil
		hook()
	}
	return row, err
}

func TestRatingAggregator_Get_DeltaDuringReadNotCached(t *testing.T) {
	ratings := &interleavingRatingRepo{fakeRatingRepo: newFakeRatingRepo()}
	cache := newFakeRatingCache()
	agg := NewRatingAggregator(ratings, newFakeReviewRepo(), cache, time.Minute)
	ctx := context.Background()

	require.NoError(t, agg.ReviewCreated(ctx, "seller-1", 5))

	// смена оценки 5 -> 3 завершается, пока Get держит прочитанную строку
	ratings.hook = func() {
		require.NoError(t, agg.RatingChanged(ctx, "seller-1", 5, 3))
	}

	first, err := agg.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, 5.0, first.AvgRating)

	served, err := agg.Get(ctx, "seller-1")
	require.NoError(t, err)
	stored, err := ratings.Get(ctx, "seller-1")
	require.NoError(t, err)

	assert.Equal(t, 3.0, stored.AvgRating)
	assert.Equal(t, stored.AvgRating, served.AvgRating)
}

func TestRatingAggregator_Repair_Consistent(t *testing.T) {
	agg, ratings, reviews, _ := newMockAggregator()
	ctx := context.Background()

	ratings.On("Get", ctx, "seller-1").Return(&entity.SellerRating{SellerID: "seller-1", ReviewCnt: 2, RatingSum: 9, Version: 4}, nil)
	reviews.On("AggregateBySeller", ctx, "seller-1").Return(&entity.RatingAggregate{Count: 2, Sum: 9}, nil)

	result, err := agg.Repair(ctx, "seller-1")

	assert.NoError(t, err)
	assert.Equal(t, RepairConsistent, result)
	ratings.AssertNotCalled(t, "Overwrite", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRatingAggregator_Repair_Overwrites(t *testing.T) {
	agg, ratings, reviews, cache := newMockAggregator()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	ratings.On("Get", ctx, "seller-1").Return(&entity.SellerRating{SellerID: "seller-1", ReviewCnt: 3, RatingSum: 10, Version: 7, UpdatedAt: old}, nil)
	reviews.On("AggregateBySeller", ctx, "seller-1").Return(&entity.RatingAggregate{Count: 2, Sum: 9, Avg: 4.5, LastModified: old}, nil)
	ratings.On("Overwrite", ctx, "seller-1", int64(2), int64(9), int64(7)).Return(&entity.SellerRating{}, nil)
	cache.On("InvalidateSellerRating", ctx, "seller-1").Return(nil)

	result, err := agg.Repair(ctx, "seller-1")

	require.NoError(t, err)
	assert.Equal(t, RepairApplied, result)
	ratings.AssertExpectations(t)
	cache.AssertExpectations(t)
}

func TestRatingAggregator_Repair_DeferredAfterRecentChange(t *testing.T) {
	agg, ratings, reviews, _ := newMockAggregator()
	ctx := context.Background()

	ratings.On("Get", ctx, "seller-1").Return(&entity.SellerRating{SellerID: "seller-1", ReviewCnt: 1, RatingSum: 5, Version: 2, UpdatedAt: time.Now().Add(-time.Hour)}, nil)
	reviews.On("AggregateBySeller", ctx, "seller-1").Return(&entity.RatingAggregate{Count: 2, Sum: 9, LastModified: time.Now()}, nil)

	result, err := agg.Repair(ctx, "seller-1")

	assert.ErrorIs(t, err, ErrRepairDeferred)
	assert.Equal(t, RepairDeferred, result)
	ratings.AssertNotCalled(t, "Overwrite", mock.Anything, mock.Anything, mock.Anything, mock.Anything, mock.Anything)
}

func TestRatingAggregator_Repair_VersionConflict(t *testing.T) {
	agg, ratings, reviews, cache := newMockAggregator()
	ctx := context.Background()
	old := time.Now().Add(-time.Hour)

	ratings.On("Get", ctx, "seller-1").Return(&entity.SellerRating{SellerID: "seller-1", ReviewCnt: 5, RatingSum: 20, Version: 3, UpdatedAt: old}, nil)
	reviews.On("AggregateBySeller", ctx, "seller-1").Return(&entity.RatingAggregate{Count: 4, Sum: 16, LastModified: old}, nil)
	ratings.On("Overwrite", ctx, "seller-1", int64(4), int64(16), int64(3)).Return(nil, repository.ErrRatingVersionConflict)

	result, err := agg.Repair(ctx, "seller-1")

	assert.ErrorIs(t, err, repository.ErrRatingVersionConflict)
	assert.Equal(t, RepairConflict, result)
	cache.AssertNotCalled(t, "InvalidateSellerRating", mock.Anything, mock.Anything)
}

func TestRatingAggregator_Repair_SourceError(t *testing.T) {
	agg, ratings, reviews, _ := newMockAggregator()
	ctx := context.Background()

	ratings.On("Get", ctx, "seller-1").Return(&entity.SellerRating{SellerID: "seller-1"}, nil)
	reviews.On("AggregateBySeller", ctx, "seller-1").Return(nil, errors.New("mongo timeout"))

	result, err := agg.Repair(ctx, "seller-1")

	assert.Error(t, err)
	assert.Equal(t, RepairFailed, result)
}

func TestRatingAggregator_RepairFixesDriftedAggregate(t *testing.T) {
	reviews := newFakeReviewRepo()
	ratings := newFakeRatingRepo()
	cache := newFakeRatingCache()
	agg := NewRatingAggregator(ratings, reviews, cache, time.Minute)
	ctx := context.Background()

	for i, rating := range []int{5, 4, 3} {
		require.NoError(t, reviews.Insert(ctx, &entity.Review{
			OrderID: "order-" + string(rune('a'+i)), WriterID: "writer-1", SellerID: "seller-1", Rating: rating,
		}))
	}
	reviews.age(time.Hour)
	ratings.set(entity.SellerRating{SellerID: "seller-1", ReviewCnt: 7, RatingSum: 9, Version: 11, UpdatedAt: time.Now().Add(-time.Hour)})
	require.NoError(t, agg.FlagForRepair(ctx, "seller-1"))

	pending, err := agg.PendingRepairs(ctx, 10)
	require.NoError(t, err)
	require.Equal(t, []string{"seller-1"}, pending)

	result, err := agg.Repair(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, RepairApplied, result)

	rating, err := agg.Get(ctx, "seller-1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), rating.ReviewCnt)
	assert.Equal(t, 4.0, rating.AvgRating)
	assert.False(t, cache.isStale("seller-1"))
}
