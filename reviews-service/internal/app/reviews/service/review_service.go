package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/pkg/tracing"
	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"
	"foodmarket/reviews-service/internal/app/reviews/repository"

	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

const (
	DefaultListLimit = 20
	MaxListLimit     = 100

	// время на агрегат и событие после того, как отзыв уже записан
	postCommitTimeout = 10 * time.Second
)

// Limits - ограничения на изображения отзыва
type Limits struct {
	MaxFiles     int
	MaxFileBytes int64
}

func DefaultLimits() Limits {
	return Limits{MaxFiles: 6, MaxFileBytes: 5 * 1024 * 1024}
}

// ReviewService - сценарии жизненного цикла отзыва.
// Координирует репозитории, вложения, агрегат продавца и Kafka.
type ReviewService struct {
	reviewRepo  repository.ReviewRepository
	mediaRepo   repository.MediaRepository
	directory   repository.DirectoryRepository
	attachments *AttachmentManager
	ratings     *RatingAggregator
	publisher   infrastructure.MessagePublisher
	limits      Limits
	tracer      trace.Tracer
}

// NewReviewService создает сервис отзывов.
// directory может быть nil - тогда покупатель заказа не проверяется.
func NewReviewService(
	reviewRepo repository.ReviewRepository,
	mediaRepo repository.MediaRepository,
	directory repository.DirectoryRepository,
	attachments *AttachmentManager,
	ratings *RatingAggregator,
	publisher infrastructure.MessagePublisher,
	limits Limits,
) *ReviewService {
	return &ReviewService{
		reviewRepo:  reviewRepo,
		mediaRepo:   mediaRepo,
		directory:   directory,
		attachments: attachments,
		ratings:     ratings,
		publisher:   publisher,
		limits:      limits,
		tracer:      tracing.Tracer("reviews-service"),
	}
}

// CreateReview создает отзыв на заказ:
// 1. Проверяет поля и файлы
// 2. Проверяет, что автор - покупатель заказа и отзыва ещё нет
// 3. Сохраняет отзыв (уникальный индекс закрывает гонку двух запросов)
// 4. Загружает изображения best-effort
// 5. Применяет дельту к агрегату продавца и публикует REVIEW_CREATED
func (s *ReviewService) CreateReview(ctx context.Context, writerID string, req *entity.CreateReviewRequest, files []entity.UploadFile) (*entity.ReviewWithImages, error) {
	ctx, span := s.tracer.Start(ctx, "ReviewService.CreateReview",
		trace.WithAttributes(attribute.String("order_id", req.OrderID), attribute.String("seller_id", req.SellerID)))
	defer span.End()

	if writerID == "" {
		return nil, ErrUnauthenticated
	}
	if err := validateCreate(req); err != nil {
		return nil, err
	}
	if err := s.validateFiles(0, files); err != nil {
		return nil, err
	}

	if err := s.verifyBuyer(ctx, req.OrderID, writerID); err != nil {
		return nil, err
	}

	_, err := s.reviewRepo.FindByOrderAndWriter(ctx, req.OrderID, writerID)
	switch {
	case err == nil:
		metrics.ReviewsDuplicateRejected.Inc()
		return nil, ErrDuplicateReview
	case !errors.Is(err, repository.ErrReviewNotFound):
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to check existing review: %w", err)
	}

	review := &entity.Review{
		OrderID:  req.OrderID,
		ItemID:   req.ItemID,
		SellerID: req.SellerID,
		WriterID: writerID,
		Rating:   req.Rating,
		Content:  req.Content,
	}

	if err := s.reviewRepo.Insert(ctx, review); err != nil {
		if errors.Is(err, repository.ErrDuplicateReview) {
			metrics.ReviewsDuplicateRejected.Inc()
			return nil, ErrDuplicateReview
		}
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to create review: %w", err)
	}

	log := logger.Ctx(ctx)

	results, err := s.attachments.Attach(ctx, review, files)
	if err != nil {
		log.Error().Err(err).Str("review_id", review.ID.Hex()).Msg("failed to attach review images")
	}
	logAttachmentFailures(ctx, review, results)

	postCtx, cancel := s.postCommitContext(ctx)
	defer cancel()

	if err := s.ratings.ReviewCreated(postCtx, review.SellerID, review.Rating); err != nil {
		log.Error().Err(err).Str("review_id", review.ID.Hex()).Str("seller_id", review.SellerID).Msg("seller rating not updated, flagged for repair")
	}
	s.publishReviewEvent(postCtx, entity.EventReviewCreated, review, 0)

	metrics.RecordReviewCreated(review.Rating)

	return &entity.ReviewWithImages{
		Review: review,
		Images: storedURLs(results),
	}, nil
}

// UpdateReview меняет оценку и/или текст. Только автор может менять отзыв.
// При смене оценки агрегат продавца получает дельту (новая - старая).
func (s *ReviewService) UpdateReview(ctx context.Context, reviewID, writerID string, req *entity.UpdateReviewRequest) (*entity.Review, error) {
	ctx, span := s.tracer.Start(ctx, "ReviewService.UpdateReview", trace.WithAttributes(attribute.String("review_id", reviewID)))
	defer span.End()

	if writerID == "" {
		return nil, ErrUnauthenticated
	}
	if req.Rating != nil && !entity.ValidRating(*req.Rating) {
		return nil, ErrInvalidRating
	}
	if req.Content != nil && utf8.RuneCountInString(*req.Content) > entity.MaxContentLength {
		return nil, invalidField("content", "must be at most 1000 characters")
	}

	review, err := s.authorizedReview(ctx, reviewID, writerID)
	if err != nil {
		return nil, err
	}

	if req.Rating == nil && req.Content == nil {
		return review, nil
	}

	updated, previousRating, err := s.reviewRepo.UpdateFields(ctx, reviewID, writerID, entity.ReviewFieldsUpdate{
		Rating:  req.Rating,
		Content: req.Content,
	})
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return nil, ErrReviewNotFound
		}
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to update review: %w", err)
	}

	postCtx, cancel := s.postCommitContext(ctx)
	defer cancel()

	if updated.Rating != previousRating {
		if err := s.ratings.RatingChanged(postCtx, updated.SellerID, previousRating, updated.Rating); err != nil {
			logger.Ctx(ctx).Error().Err(err).Str("review_id", reviewID).Str("seller_id", updated.SellerID).Msg("seller rating not updated, flagged for repair")
		}
	}
	s.publishReviewEvent(postCtx, entity.EventReviewUpdated, updated, previousRating)

	return updated, nil
}

// ReplaceImages приводит изображения отзыва к keepURLs + новые файлы
func (s *ReviewService) ReplaceImages(ctx context.Context, reviewID, writerID string, keepURLs []string, files []entity.UploadFile) ([]string, error) {
	ctx, span := s.tracer.Start(ctx, "ReviewService.ReplaceImages", trace.WithAttributes(attribute.String("review_id", reviewID)))
	defer span.End()

	if writerID == "" {
		return nil, ErrUnauthenticated
	}
	if err := s.validateFiles(0, files); err != nil {
		return nil, err
	}

	review, err := s.authorizedReview(ctx, reviewID, writerID)
	if err != nil {
		return nil, err
	}

	// в лимит идут только сохраняемые URL, которые ещё есть у отзыва
	current, err := s.attachments.URLs(ctx, review.ID)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to replace review images: %w", err)
	}
	if err := s.validateFiles(countKept(keepURLs, current), files); err != nil {
		return nil, err
	}

	urls, results, err := s.attachments.Reconcile(ctx, review, keepURLs, files)
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to replace review images: %w", err)
	}
	logAttachmentFailures(ctx, review, results)

	return urls, nil
}

// DeleteReview удаляет изображения, сам отзыв и вычитает его из агрегата продавца.
// Оценка для дельты берётся из удалённого документа, поэтому два параллельных
// удаления вычтут отзыв ровно один раз.
func (s *ReviewService) DeleteReview(ctx context.Context, reviewID, writerID string) error {
	ctx, span := s.tracer.Start(ctx, "ReviewService.DeleteReview", trace.WithAttributes(attribute.String("review_id", reviewID)))
	defer span.End()

	if writerID == "" {
		return ErrUnauthenticated
	}

	review, err := s.authorizedReview(ctx, reviewID, writerID)
	if err != nil {
		return err
	}

	if err := s.ratings.ReviewDeleting(ctx, review.SellerID); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to delete review: %w", err)
	}

	if err := s.attachments.DetachAll(ctx, review); err != nil {
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to delete review images: %w", err)
	}

	deleted, err := s.reviewRepo.Delete(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return ErrReviewNotFound
		}
		tracing.RecordError(span, err)
		return fmt.Errorf("failed to delete review: %w", err)
	}

	postCtx, cancel := s.postCommitContext(ctx)
	defer cancel()

	if err := s.ratings.ReviewDeleted(postCtx, deleted.SellerID, deleted.Rating); err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("review_id", reviewID).Str("seller_id", deleted.SellerID).Msg("seller rating not updated, flagged for repair")
	}
	s.publishReviewEvent(postCtx, entity.EventReviewDeleted, deleted, 0)

	metrics.ReviewsDeleted.Inc()
	return nil
}

// ExistsForOrder - есть ли у автора отзыв на заказ
func (s *ReviewService) ExistsForOrder(ctx context.Context, writerID, orderID string) (bool, *string, error) {
	if writerID == "" {
		return false, nil, ErrUnauthenticated
	}
	if orderID == "" {
		return false, nil, invalidField("order_id", "is required")
	}

	review, err := s.reviewRepo.FindByOrderAndWriter(ctx, orderID, writerID)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return false, nil, nil
		}
		return false, nil, fmt.Errorf("failed to check review existence: %w", err)
	}

	id := review.ID.Hex()
	return true, &id, nil
}

// ListBySeller - последние отзывы о продавце с изображениями и именами авторов
func (s *ReviewService) ListBySeller(ctx context.Context, sellerID string, limit int) ([]entity.SellerReview, error) {
	ctx, span := s.tracer.Start(ctx, "ReviewService.ListBySeller", trace.WithAttributes(attribute.String("seller_id", sellerID)))
	defer span.End()

	if sellerID == "" {
		return nil, invalidField("seller_id", "is required")
	}

	reviews, err := s.reviewRepo.ListBySeller(ctx, sellerID, normalizeLimit(limit))
	if err != nil {
		tracing.RecordError(span, err)
		return nil, fmt.Errorf("failed to list seller reviews: %w", err)
	}

	result, err := s.withImages(ctx, reviews)
	if err != nil {
		return nil, err
	}

	names := s.displayNames(ctx, reviews)
	for i := range result {
		result[i].WriterName = names[result[i].WriterID]
	}

	return result, nil
}

// ListMine - отзывы текущего пользователя
func (s *ReviewService) ListMine(ctx context.Context, writerID string, limit int) ([]entity.SellerReview, error) {
	if writerID == "" {
		return nil, ErrUnauthenticated
	}

	reviews, err := s.reviewRepo.ListByWriter(ctx, writerID, normalizeLimit(limit))
	if err != nil {
		return nil, fmt.Errorf("failed to list reviews: %w", err)
	}

	return s.withImages(ctx, reviews)
}

// GetSellerRating - текущий агрегат рейтинга продавца
func (s *ReviewService) GetSellerRating(ctx context.Context, sellerID string) (*entity.SellerRating, error) {
	if sellerID == "" {
		return nil, invalidField("seller_id", "is required")
	}

	rating, err := s.ratings.Get(ctx, sellerID)
	if err != nil {
		return nil, fmt.Errorf("failed to get seller rating: %w", err)
	}
	return rating, nil
}

// authorizedReview загружает отзыв и проверяет, что вызывающий - его автор
func (s *ReviewService) authorizedReview(ctx context.Context, reviewID, writerID string) (*entity.Review, error) {
	review, err := s.reviewRepo.FindByID(ctx, reviewID)
	if err != nil {
		if errors.Is(err, repository.ErrReviewNotFound) {
			return nil, ErrReviewNotFound
		}
		return nil, fmt.Errorf("failed to get review: %w", err)
	}

	if review.WriterID != writerID {
		return nil, ErrForbidden
	}

	return review, nil
}

func (s *ReviewService) verifyBuyer(ctx context.Context, orderID, writerID string) error {
	if s.directory == nil {
		return nil
	}

	buyerID, err := s.directory.GetOrderBuyer(ctx, orderID)
	if err != nil {
		if errors.Is(err, repository.ErrOrderNotFound) {
			return ErrOrderNotFound
		}
		return fmt.Errorf("failed to verify order buyer: %w", err)
	}

	if buyerID != writerID {
		return ErrForbidden
	}
	return nil
}

func (s *ReviewService) withImages(ctx context.Context, reviews []entity.Review) ([]entity.SellerReview, error) {
	ids := make([]primitive.ObjectID, 0, len(reviews))
	for _, r := range reviews {
		ids = append(ids, r.ID)
	}

	media, err := s.mediaRepo.ListByReviews(ctx, ids)
	if err != nil {
		return nil, fmt.Errorf("failed to load review images: %w", err)
	}

	result := make([]entity.SellerReview, 0, len(reviews))
	for _, r := range reviews {
		result = append(result, entity.SellerReview{
			Review: r,
			Images: mediaURLs(media[r.ID]),
		})
	}
	return result, nil
}

// displayNames - имена авторов; при недоступном справочнике список отдаётся без имён
func (s *ReviewService) displayNames(ctx context.Context, reviews []entity.Review) map[string]string {
	if s.directory == nil || len(reviews) == 0 {
		return map[string]string{}
	}

	seen := make(map[string]struct{}, len(reviews))
	ids := make([]string, 0, len(reviews))
	for _, r := range reviews {
		if _, ok := seen[r.WriterID]; ok {
			continue
		}
		seen[r.WriterID] = struct{}{}
		ids = append(ids, r.WriterID)
	}

	names, err := s.directory.GetDisplayNames(ctx, ids)
	if err != nil {
		logger.Ctx(ctx).Warn().Err(err).Msg("failed to load writer display names")
		return map[string]string{}
	}
	return names
}

// postCommitContext не отменяется вместе с запросом: запись уже произошла,
// агрегат и событие должны быть доведены до конца
func (s *ReviewService) postCommitContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), postCommitTimeout)
}

// publishReviewEvent отправляет событие в Kafka. Ошибки только логируются.
func (s *ReviewService) publishReviewEvent(ctx context.Context, eventType string, review *entity.Review, previousRating int) {
	event := entity.ReviewEvent{
		EventType:      eventType,
		ReviewID:       review.ID.Hex(),
		OrderID:        review.OrderID,
		ItemID:         review.ItemID,
		SellerID:       review.SellerID,
		WriterID:       review.WriterID,
		Rating:         review.Rating,
		PreviousRating: previousRating,
		Timestamp:      time.Now().UTC(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		logger.Ctx(ctx).Error().Err(err).Str("event_type", eventType).Msg("failed to marshal review event")
		return
	}

	if err := s.publisher.PublishMessage(ctx, review.SellerID, data); err != nil {
		logger.Ctx(ctx).Warn().Err(err).
			Str("event_type", eventType).
			Str("review_id", event.ReviewID).
			Msg("failed to publish review event")
	}
}

func (s *ReviewService) validateFiles(existing int, files []entity.UploadFile) error {
	if existing+len(files) > s.limits.MaxFiles {
		return invalidField("images", fmt.Sprintf("must contain at most %d files", s.limits.MaxFiles))
	}
	for _, f := range files {
		if f.Size > s.limits.MaxFileBytes {
			return invalidField("images", fmt.Sprintf("file %q exceeds %d bytes", f.Filename, s.limits.MaxFileBytes))
		}
	}
	return nil
}

func validateCreate(req *entity.CreateReviewRequest) error {
	if !entity.ValidRating(req.Rating) {
		return ErrInvalidRating
	}
	if req.OrderID == "" {
		return invalidField("order_id", "is required")
	}
	if req.ItemID == "" {
		return invalidField("item_id", "is required")
	}
	if req.SellerID == "" {
		return invalidField("seller_id", "is required")
	}
	if utf8.RuneCountInString(req.Content) > entity.MaxContentLength {
		return invalidField("content", "must be at most 1000 characters")
	}
	return nil
}

func logAttachmentFailures(ctx context.Context, review *entity.Review, results []entity.AttachmentResult) {
	for _, r := range results {
		if r.Err != nil {
			logger.Ctx(ctx).Warn().Err(r.Err).
				Str("review_id", review.ID.Hex()).
				Str("file", r.Filename).
				Msg("review image skipped")
		}
	}
}

func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}

// countKept - сколько разных keep-URL совпадает с текущими изображениями
func countKept(keepURLs, current []string) int {
	known := make(map[string]struct{}, len(current))
	for _, url := range current {
		known[url] = struct{}{}
	}
	seen := make(map[string]struct{}, len(keepURLs))
	for _, url := range keepURLs {
		if _, ok := known[url]; ok {
			seen[url] = struct{}{}
		}
	}
	return len(seen)
}
