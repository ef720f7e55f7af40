package service

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sort"
	"sync"
	"time"

	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"
	"foodmarket/reviews-service/internal/app/reviews/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// In-memory реализации хранилищ для сценарных и конкурентных тестов.
// Каждая операция атомарна так же, как соответствующая операция MongoDB/PostgreSQL.

type fakeReviewRepo struct {
	mu      sync.Mutex
	reviews map[primitive.ObjectID]entity.Review
}

func newFakeReviewRepo() *fakeReviewRepo {
	return &fakeReviewRepo{reviews: make(map[primitive.ObjectID]entity.Review)}
}

func (r *fakeReviewRepo) FindByOrderAndWriter(_ context.Context, orderID, writerID string) (*entity.Review, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rv := range r.reviews {
		if rv.OrderID == orderID && rv.WriterID == writerID {
			found := rv
			return &found, nil
		}
	}
	return nil, repository.ErrReviewNotFound
}

func (r *fakeReviewRepo) Insert(_ context.Context, review *entity.Review) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, rv := range r.reviews {
		if rv.OrderID == review.OrderID && rv.WriterID == review.WriterID {
			return repository.ErrDuplicateReview
		}
	}
	now := time.Now().UTC()
	review.ID = primitive.NewObjectID()
	review.CreatedAt = now
	review.Timestamp = now
	r.reviews[review.ID] = *review
	return nil
}

func (r *fakeReviewRepo) FindByID(_ context.Context, id string) (*entity.Review, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrReviewNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.reviews[objectID]
	if !ok {
		return nil, repository.ErrReviewNotFound
	}
	return &rv, nil
}

func (r *fakeReviewRepo) UpdateFields(_ context.Context, id, writerID string, upd entity.ReviewFieldsUpdate) (*entity.Review, int, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, 0, repository.ErrReviewNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.reviews[objectID]
	if !ok || rv.WriterID != writerID {
		return nil, 0, repository.ErrReviewNotFound
	}
	previous := rv.Rating
	if upd.Rating != nil {
		rv.Rating = *upd.Rating
	}
	if upd.Content != nil {
		rv.Content = *upd.Content
	}
	rv.Timestamp = time.Now().UTC()
	r.reviews[objectID] = rv
	return &rv, previous, nil
}

func (r *fakeReviewRepo) Delete(_ context.Context, id string) (*entity.Review, error) {
	objectID, err := primitive.ObjectIDFromHex(id)
	if err != nil {
		return nil, repository.ErrReviewNotFound
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	rv, ok := r.reviews[objectID]
	if !ok {
		return nil, repository.ErrReviewNotFound
	}
	delete(r.reviews, objectID)
	return &rv, nil
}

// deleteHookReviewRepo выполняет afterDelete сразу после удаления документа
type deleteHookReviewRepo struct {
	*fakeReviewRepo
	afterDelete func()
}

func (r *deleteHookReviewRepo) Delete(ctx context.Context, id string) (*entity.Review, error) {
	deleted, err := r.fakeReviewRepo.Delete(ctx, id)
	if err == nil && r.afterDelete != nil {
		r.afterDelete()
	}
	return deleted, err
}

func (r *fakeReviewRepo) ListBySeller(_ context.Context, sellerID string, limit int) ([]entity.Review, error) {
	return r.list(func(rv entity.Review) bool { return rv.SellerID == sellerID }, limit), nil
}

func (r *fakeReviewRepo) ListByWriter(_ context.Context, writerID string, limit int) ([]entity.Review, error) {
	return r.list(func(rv entity.Review) bool { return rv.WriterID == writerID }, limit), nil
}

func (r *fakeReviewRepo) list(match func(entity.Review) bool, limit int) []entity.Review {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make([]entity.Review, 0)
	for _, rv := range r.reviews {
		if match(rv) {
			result = append(result, rv)
		}
	}
	sort.Slice(result, func(i, j int) bool {
		if !result[i].Timestamp.Equal(result[j].Timestamp) {
			return result[i].Timestamp.After(result[j].Timestamp)
		}
		return result[i].ID.Hex() > result[j].ID.Hex()
	})
	if len(result) > limit {
		result = result[:limit]
	}
	return result
}

func (r *fakeReviewRepo) AggregateBySeller(_ context.Context, sellerID string) (*entity.RatingAggregate, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	agg := &entity.RatingAggregate{}
	for _, rv := range r.reviews {
		if rv.SellerID != sellerID {
			continue
		}
		agg.Count++
		agg.Sum += int64(rv.Rating)
		if rv.Timestamp.After(agg.LastModified) {
			agg.LastModified = rv.Timestamp
		}
	}
	agg.Avg = entity.AverageRating(agg.Count, agg.Sum)
	return agg, nil
}

// age сдвигает timestamp всех отзывов в прошлое
func (r *fakeReviewRepo) age(d time.Duration) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, rv := range r.reviews {
		rv.Timestamp = rv.Timestamp.Add(-d)
		r.reviews[id] = rv
	}
}

type fakeMediaRepo struct {
	mu    sync.Mutex
	media map[primitive.ObjectID]entity.ReviewMedia
}

func newFakeMediaRepo() *fakeMediaRepo {
	return &fakeMediaRepo{media: make(map[primitive.ObjectID]entity.ReviewMedia)}
}

func (r *fakeMediaRepo) ListByReview(_ context.Context, reviewID primitive.ObjectID) ([]entity.ReviewMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.byReview(reviewID), nil
}

func (r *fakeMediaRepo) byReview(reviewID primitive.ObjectID) []entity.ReviewMedia {
	result := make([]entity.ReviewMedia, 0)
	for _, m := range r.media {
		if m.ReviewID == reviewID {
			result = append(result, m)
		}
	}
	sort.Slice(result, func(i, j int) bool { return result[i].Index < result[j].Index })
	return result
}

func (r *fakeMediaRepo) ListByReviews(_ context.Context, reviewIDs []primitive.ObjectID) (map[primitive.ObjectID][]entity.ReviewMedia, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	result := make(map[primitive.ObjectID][]entity.ReviewMedia, len(reviewIDs))
	for _, id := range reviewIDs {
		if items := r.byReview(id); len(items) > 0 {
			result[id] = items
		}
	}
	return result, nil
}

func (r *fakeMediaRepo) Insert(_ context.Context, media *entity.ReviewMedia) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	media.ID = primitive.NewObjectID()
	r.media[media.ID] = *media
	return nil
}

func (r *fakeMediaRepo) DeleteByIDs(_ context.Context, ids []primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, id := range ids {
		delete(r.media, id)
	}
	return nil
}

func (r *fakeMediaRepo) DeleteByReview(_ context.Context, reviewID primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for id, m := range r.media {
		if m.ReviewID == reviewID {
			delete(r.media, id)
		}
	}
	return nil
}

func (r *fakeMediaRepo) Reorder(_ context.Context, reviewID primitive.ObjectID, orderedIDs []primitive.ObjectID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range orderedIDs {
		m, ok := r.media[id]
		if !ok || m.ReviewID != reviewID {
			continue
		}
		m.Index = i
		r.media[id] = m
	}
	return nil
}

func (r *fakeMediaRepo) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.media)
}

// fakeRatingRepo повторяет семантику applyDeltaSQL/overwriteSQL
type fakeRatingRepo struct {
	mu         sync.Mutex
	rows       map[string]entity.SellerRating
	applyCalls int
	failApply  error
	failTouch  error
}

func newFakeRatingRepo() *fakeRatingRepo {
	return &fakeRatingRepo{rows: make(map[string]entity.SellerRating)}
}

func (r *fakeRatingRepo) EnsureSchema(context.Context) error { return nil }

func (r *fakeRatingRepo) Get(_ context.Context, sellerID string) (*entity.SellerRating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row, ok := r.rows[sellerID]
	if !ok {
		return &entity.SellerRating{SellerID: sellerID}, nil
	}
	return &row, nil
}

func (r *fakeRatingRepo) ApplyDelta(_ context.Context, sellerID string, cntDelta, sumDelta int64) (*entity.SellerRating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.applyCalls++
	if r.failApply != nil {
		return nil, r.failApply
	}

	row, ok := r.rows[sellerID]
	if !ok {
		row = entity.SellerRating{SellerID: sellerID, ReviewCnt: max(cntDelta, 0)}
		if cntDelta > 0 {
			row.RatingSum = max(sumDelta, 0)
		}
	} else {
		newCnt := row.ReviewCnt + cntDelta
		if newCnt <= 0 {
			row.RatingSum = 0
		} else {
			row.RatingSum = max(row.RatingSum+sumDelta, 0)
		}
		row.ReviewCnt = max(newCnt, 0)
	}
	row.Version++
	row.UpdatedAt = time.Now().UTC()
	row.AvgRating = entity.AverageRating(row.ReviewCnt, row.RatingSum)
	r.rows[sellerID] = row
	return &row, nil
}

func (r *fakeRatingRepo) Overwrite(_ context.Context, sellerID string, count, sum, expectedVersion int64) (*entity.SellerRating, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row := r.rows[sellerID]
	if row.Version != expectedVersion {
		return nil, repository.ErrRatingVersionConflict
	}
	row = entity.SellerRating{
		SellerID:  sellerID,
		ReviewCnt: count,
		RatingSum: sum,
		AvgRating: entity.AverageRating(count, sum),
		Version:   expectedVersion + 1,
		UpdatedAt: time.Now().UTC(),
	}
	r.rows[sellerID] = row
	return &row, nil
}

func (r *fakeRatingRepo) Touch(_ context.Context, sellerID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.failTouch != nil {
		return r.failTouch
	}
	row, ok := r.rows[sellerID]
	if !ok {
		row = entity.SellerRating{SellerID: sellerID}
	}
	row.Version++
	row.UpdatedAt = time.Now().UTC()
	r.rows[sellerID] = row
	return nil
}

func (r *fakeRatingRepo) set(row entity.SellerRating) {
	r.mu.Lock()
	defer r.mu.Unlock()
	row.AvgRating = entity.AverageRating(row.ReviewCnt, row.RatingSum)
	r.rows[row.SellerID] = row
}

func (r *fakeRatingRepo) calls() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.applyCalls
}

type fakeRatingCache struct {
	mu          sync.Mutex
	ratings     map[string]entity.SellerRating
	generations map[string]int64
	stale       map[string]struct{}
}

func newFakeRatingCache() *fakeRatingCache {
	return &fakeRatingCache{
		ratings:     make(map[string]entity.SellerRating),
		generations: make(map[string]int64),
		stale:       make(map[string]struct{}),
	}
}

func (c *fakeRatingCache) GetSellerRating(_ context.Context, sellerID string) (*entity.SellerRating, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.ratings[sellerID]
	if !ok {
		return nil, nil
	}
	return &r, nil
}

func (c *fakeRatingCache) RatingGeneration(_ context.Context, sellerID string) (int64, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.generations[sellerID], nil
}

func (c *fakeRatingCache) SetSellerRating(_ context.Context, rating *entity.SellerRating, _ time.Duration, generation int64) (bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.generations[rating.SellerID] != generation {
		return false, nil
	}
	c.ratings[rating.SellerID] = *rating
	return true, nil
}

func (c *fakeRatingCache) InvalidateSellerRating(_ context.Context, sellerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.generations[sellerID]++
	delete(c.ratings, sellerID)
	return nil
}

func (c *fakeRatingCache) MarkStale(_ context.Context, sellerID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stale[sellerID] = struct{}{}
	c.generations[sellerID]++
	delete(c.ratings, sellerID)
	return nil
}

func (c *fakeRatingCache) PopStale(_ context.Context, count int) ([]string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	result := make([]string, 0, count)
	for id := range c.stale {
		if len(result) == count {
			break
		}
		result = append(result, id)
		delete(c.stale, id)
	}
	return result, nil
}

func (c *fakeRatingCache) isStale(sellerID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	_, ok := c.stale[sellerID]
	return ok
}

// fakeMediaStore отказывает в загрузке файлов с содержимым "fail"
type fakeMediaStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	deleted []string
}

func newFakeMediaStore() *fakeMediaStore {
	return &fakeMediaStore{objects: make(map[string][]byte)}
}

func (s *fakeMediaStore) Store(_ context.Context, key, _ string, data io.Reader) (string, error) {
	body, err := io.ReadAll(data)
	if err != nil {
		return "", err
	}
	if string(body) == "fail" {
		return "", errors.New("storage unavailable")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.objects[key] = body
	return "http://media.test/" + key, nil
}

func (s *fakeMediaStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.objects[key]; !ok {
		return infrastructure.ErrMediaNotFound
	}
	delete(s.objects, key)
	s.deleted = append(s.deleted, key)
	return nil
}

func (s *fakeMediaStore) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

type fakePublisher struct {
	mu     sync.Mutex
	events []entity.ReviewEvent
	keys   []string
}

func (p *fakePublisher) PublishMessage(_ context.Context, key string, value []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	var event entity.ReviewEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return err
	}
	p.events = append(p.events, event)
	p.keys = append(p.keys, key)
	return nil
}

func (p *fakePublisher) Close() error { return nil }

func (p *fakePublisher) eventTypes() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	types := make([]string, 0, len(p.events))
	for _, e := range p.events {
		types = append(types, e.EventType)
	}
	return types
}
