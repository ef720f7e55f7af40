package cache

import (
	"context"
	"testing"
	"time"

	"foodmarket/reviews-service/internal/app/reviews/entity"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"
)

// RatingCacheTestSuite - тесты кэша рейтингов на miniredis
type RatingCacheTestSuite struct {
	suite.Suite
	miniRedis *miniredis.Miniredis
	client    *redis.Client
	cache     *RatingCache
}

func TestRatingCacheSuite(t *testing.T) {
	suite.Run(t, new(RatingCacheTestSuite))
}

func (s *RatingCacheTestSuite) SetupSuite() {
	var err error
	s.miniRedis, err = miniredis.Run()
	require.NoError(s.T(), err)

	s.client = redis.NewClient(&redis.Options{
		Addr: s.miniRedis.Addr(),
	})

	s.cache = NewRatingCache(s.client)
}

func (s *RatingCacheTestSuite) SetupTest() {
	s.miniRedis.FlushAll()
}

func (s *RatingCacheTestSuite) TearDownSuite() {
	s.client.Close()
	s.miniRedis.Close()
}

func (s *RatingCacheTestSuite) fill(ctx context.Context, rating *entity.SellerRating, ttl time.Duration) {
	generation, err := s.cache.RatingGeneration(ctx, rating.SellerID)
	s.Require().NoError(err)
	stored, err := s.cache.SetSellerRating(ctx, rating, ttl, generation)
	s.Require().NoError(err)
	s.Require().True(stored)
}

// ===================== Seller Rating Tests =====================

func (s *RatingCacheTestSuite) TestGetSellerRating_Miss() {
	rating, err := s.cache.GetSellerRating(context.Background(), "s1")

	s.NoError(err)
	s.Nil(rating)
}

func (s *RatingCacheTestSuite) TestSetThenGet() {
	ctx := context.Background()

	// Arrange
	stored, err := s.cache.SetSellerRating(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 3, AvgRating: 4.33}, time.Minute, 0)
	s.Require().NoError(err)
	s.Require().True(stored)

	// Act
	rating, err := s.cache.GetSellerRating(ctx, "s1")

	// Assert
	s.NoError(err)
	s.Require().NotNil(rating)
	s.Equal(int64(3), rating.ReviewCnt)
	s.Equal(4.33, rating.AvgRating)
}

func (s *RatingCacheTestSuite) TestSetSellerRating_Expires() {
	ctx := context.Background()
	s.fill(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 1, AvgRating: 5}, 30*time.Second)

	s.miniRedis.FastForward(31 * time.Second)

	rating, err := s.cache.GetSellerRating(ctx, "s1")
	s.NoError(err)
	s.Nil(rating)
}

func (s *RatingCacheTestSuite) TestInvalidateSellerRating() {
	ctx := context.Background()
	s.fill(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 1, AvgRating: 5}, time.Minute)

	s.NoError(s.cache.InvalidateSellerRating(ctx, "s1"))

	s.False(s.miniRedis.Exists("seller_rating:s1"))
}

func (s *RatingCacheTestSuite) TestInvalidate_BumpsGeneration() {
	ctx := context.Background()

	before, err := s.cache.RatingGeneration(ctx, "s1")
	s.Require().NoError(err)
	s.Equal(int64(0), before)

	s.Require().NoError(s.cache.InvalidateSellerRating(ctx, "s1"))
	s.Require().NoError(s.cache.MarkStale(ctx, "s1"))

	after, err := s.cache.RatingGeneration(ctx, "s1")
	s.NoError(err)
	s.Equal(int64(2), after)
}

func (s *RatingCacheTestSuite) TestSetSellerRating_SkippedAfterInvalidation() {
	ctx := context.Background()

	// Arrange: поколение прочитано до чтения агрегата
	generation, err := s.cache.RatingGeneration(ctx, "s1")
	s.Require().NoError(err)

	// Act: дельта и инвалидация успели раньше записи в кэш
	s.Require().NoError(s.cache.InvalidateSellerRating(ctx, "s1"))
	stored, err := s.cache.SetSellerRating(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 1, AvgRating: 5}, time.Minute, generation)

	// Assert
	s.NoError(err)
	s.False(stored)
	s.False(s.miniRedis.Exists("seller_rating:s1"))

	s.fill(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 1, AvgRating: 3}, time.Minute)
	rating, err := s.cache.GetSellerRating(ctx, "s1")
	s.NoError(err)
	s.Require().NotNil(rating)
	s.Equal(3.0, rating.AvgRating)
}

func (s *RatingCacheTestSuite) TestGetSellerRating_CorruptedValue() {
	s.Require().NoError(s.miniRedis.Set("seller_rating:s1", "not-json"))

	rating, err := s.cache.GetSellerRating(context.Background(), "s1")

	s.Error(err)
	s.Nil(rating)
}

// ===================== Stale Set Tests =====================

func (s *RatingCacheTestSuite) TestMarkStale_DropsCachedValue() {
	ctx := context.Background()
	s.fill(ctx, &entity.SellerRating{SellerID: "s1", ReviewCnt: 1, AvgRating: 5}, time.Minute)

	s.NoError(s.cache.MarkStale(ctx, "s1"))

	s.False(s.miniRedis.Exists("seller_rating:s1"))
	isMember, err := s.miniRedis.SIsMember("seller_rating:stale", "s1")
	s.NoError(err)
	s.True(isMember)
}

func (s *RatingCacheTestSuite) TestPopStale() {
	ctx := context.Background()
	for _, id := range []string{"s1", "s2", "s3", "s1"} {
		s.Require().NoError(s.cache.MarkStale(ctx, id))
	}

	first, err := s.cache.PopStale(ctx, 2)
	s.NoError(err)
	s.Len(first, 2)

	rest, err := s.cache.PopStale(ctx, 10)
	s.NoError(err)
	s.Len(rest, 1)

	s.ElementsMatch([]string{"s1", "s2", "s3"}, append(first, rest...))

	empty, err := s.cache.PopStale(ctx, 10)
	s.NoError(err)
	s.Empty(empty)
}
