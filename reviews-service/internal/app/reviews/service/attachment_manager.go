package service

import (
	"context"
	"fmt"
	"mime"
	"path/filepath"
	"strings"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"
	"foodmarket/reviews-service/internal/app/reviews/repository"

	"github.com/google/uuid"
	"go.mongodb.org/mongo-driver/bson/primitive"
)

// AttachmentManager ведёт упорядоченный набор изображений отзыва.
// Лимиты на количество и размер файлов проверяет ReviewService до вызова.
type AttachmentManager struct {
	mediaRepo repository.MediaRepository
	store     infrastructure.MediaStore
}

func NewAttachmentManager(mediaRepo repository.MediaRepository, store infrastructure.MediaStore) *AttachmentManager {
	return &AttachmentManager{
		mediaRepo: mediaRepo,
		store:     store,
	}
}

// Attach загружает файлы и добавляет их в конец списка изображений.
// Ошибка отдельного файла попадает в его AttachmentResult, остальные файлы обрабатываются.
// Ошибка возвращается только если не удалось прочитать текущий список.
func (m *AttachmentManager) Attach(ctx context.Context, review *entity.Review, files []entity.UploadFile) ([]entity.AttachmentResult, error) {
	if len(files) == 0 {
		return nil, nil
	}

	current, err := m.mediaRepo.ListByReview(ctx, review.ID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review media: %w", err)
	}

	next := 0
	for _, media := range current {
		if media.Index >= next {
			next = media.Index + 1
		}
	}

	results := make([]entity.AttachmentResult, 0, len(files))
	for _, file := range files {
		media, err := m.storeFile(ctx, review, file, next)
		if err != nil {
			results = append(results, entity.AttachmentResult{Filename: file.Filename, Err: err})
			continue
		}
		results = append(results, entity.AttachmentResult{Filename: file.Filename, URL: media.URL})
		next++
	}

	return results, nil
}

// Reconcile приводит набор изображений к keepURLs + newFiles:
// удаляет строки, чьих URL нет в keepURLs, сохраняет порядок keepURLs,
// дописывает новые файлы в конец и перенумеровывает индексы с нуля.
// URL из keepURLs, которых нет у отзыва, игнорируются.
func (m *AttachmentManager) Reconcile(ctx context.Context, review *entity.Review, keepURLs []string, newFiles []entity.UploadFile) ([]string, []entity.AttachmentResult, error) {
	current, err := m.mediaRepo.ListByReview(ctx, review.ID)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to list review media: %w", err)
	}

	byURL := make(map[string]entity.ReviewMedia, len(current))
	for _, media := range current {
		if _, ok := byURL[media.URL]; !ok {
			byURL[media.URL] = media
		}
	}

	kept := make([]entity.ReviewMedia, 0, len(keepURLs))
	keptIDs := make(map[primitive.ObjectID]struct{}, len(keepURLs))
	for _, url := range keepURLs {
		media, ok := byURL[url]
		if !ok {
			continue
		}
		if _, dup := keptIDs[media.ID]; dup {
			continue
		}
		keptIDs[media.ID] = struct{}{}
		kept = append(kept, media)
	}

	var removed []entity.ReviewMedia
	for _, media := range current {
		if _, ok := keptIDs[media.ID]; !ok {
			removed = append(removed, media)
		}
	}

	if len(removed) > 0 {
		ids := make([]primitive.ObjectID, 0, len(removed))
		for _, media := range removed {
			ids = append(ids, media.ID)
		}
		if err := m.mediaRepo.DeleteByIDs(ctx, ids); err != nil {
			return nil, nil, err
		}
		m.deleteObjects(ctx, review, removed)
	}

	if !isDense(kept) {
		ids := make([]primitive.ObjectID, 0, len(kept))
		for _, media := range kept {
			ids = append(ids, media.ID)
		}
		if err := m.mediaRepo.Reorder(ctx, review.ID, ids); err != nil {
			return nil, nil, err
		}
	}

	urls := make([]string, 0, len(kept)+len(newFiles))
	for _, media := range kept {
		urls = append(urls, media.URL)
	}

	results := make([]entity.AttachmentResult, 0, len(newFiles))
	for _, file := range newFiles {
		media, err := m.storeFile(ctx, review, file, len(urls))
		if err != nil {
			results = append(results, entity.AttachmentResult{Filename: file.Filename, Err: err})
			continue
		}
		results = append(results, entity.AttachmentResult{Filename: file.Filename, URL: media.URL})
		urls = append(urls, media.URL)
	}

	return urls, results, nil
}

// DetachAll удаляет все изображения отзыва. Файлы в хранилище удаляются best-effort.
func (m *AttachmentManager) DetachAll(ctx context.Context, review *entity.Review) error {
	current, err := m.mediaRepo.ListByReview(ctx, review.ID)
	if err != nil {
		return fmt.Errorf("failed to list review media: %w", err)
	}
	if len(current) == 0 {
		return nil
	}

	if err := m.mediaRepo.DeleteByReview(ctx, review.ID); err != nil {
		return err
	}

	m.deleteObjects(ctx, review, current)
	return nil
}

// URLs - URL изображений отзыва по порядку
func (m *AttachmentManager) URLs(ctx context.Context, reviewID primitive.ObjectID) ([]string, error) {
	current, err := m.mediaRepo.ListByReview(ctx, reviewID)
	if err != nil {
		return nil, fmt.Errorf("failed to list review media: %w", err)
	}
	return mediaURLs(current), nil
}

func (m *AttachmentManager) storeFile(ctx context.Context, review *entity.Review, file entity.UploadFile, index int) (*entity.ReviewMedia, error) {
	log := logger.Ctx(ctx)

	key := objectKey(review, file.Filename)

	body, err := file.Open()
	if err != nil {
		metrics.RecordAttachment(false)
		log.Warn().Err(err).Str("review_id", review.ID.Hex()).Str("file", file.Filename).Msg("failed to open upload")
		return nil, fmt.Errorf("%w: %s: %v", ErrAttachmentFailure, file.Filename, err)
	}
	url, err := m.store.Store(ctx, key, contentType(file), body)
	body.Close()
	if err != nil {
		metrics.RecordAttachment(false)
		log.Warn().Err(err).Str("review_id", review.ID.Hex()).Str("file", file.Filename).Msg("failed to store attachment")
		return nil, fmt.Errorf("%w: %s: %v", ErrAttachmentFailure, file.Filename, err)
	}

	media := &entity.ReviewMedia{
		ReviewID: review.ID,
		URL:      url,
		Key:      key,
		Index:    index,
	}
	if err := m.mediaRepo.Insert(ctx, media); err != nil {
		metrics.RecordAttachment(false)
		log.Warn().Err(err).Str("review_id", review.ID.Hex()).Str("file", file.Filename).Msg("failed to save attachment row")
		if delErr := m.store.Delete(ctx, key); delErr != nil {
			log.Warn().Err(delErr).Str("key", key).Msg("failed to remove orphaned media object")
		}
		return nil, fmt.Errorf("%w: %s: %v", ErrAttachmentFailure, file.Filename, err)
	}

	metrics.RecordAttachment(true)
	return media, nil
}

func (m *AttachmentManager) deleteObjects(ctx context.Context, review *entity.Review, media []entity.ReviewMedia) {
	for _, item := range media {
		if item.Key == "" {
			continue
		}
		if err := m.store.Delete(ctx, item.Key); err != nil {
			logger.Ctx(ctx).Warn().Err(err).
				Str("review_id", review.ID.Hex()).
				Str("key", item.Key).
				Msg("failed to delete media object")
		}
	}
}

// objectKey: reviews/{writer}/{review}/{uuid}{ext}
func objectKey(review *entity.Review, filename string) string {
	return fmt.Sprintf("reviews/%s/%s/%s%s",
		review.WriterID, review.ID.Hex(), uuid.NewString(), strings.ToLower(filepath.Ext(filename)))
}

func contentType(file entity.UploadFile) string {
	if file.ContentType != "" {
		return file.ContentType
	}
	if ct := mime.TypeByExtension(strings.ToLower(filepath.Ext(file.Filename))); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

func isDense(media []entity.ReviewMedia) bool {
	for i, item := range media {
		if item.Index != i {
			return false
		}
	}
	return true
}

func mediaURLs(media []entity.ReviewMedia) []string {
	urls := make([]string, 0, len(media))
	for _, item := range media {
		urls = append(urls, item.URL)
	}
	return urls
}

func storedURLs(results []entity.AttachmentResult) []string {
	urls := make([]string, 0, len(results))
	for _, r := range results {
		if r.Err == nil {
			urls = append(urls, r.URL)
		}
	}
	return urls
}
