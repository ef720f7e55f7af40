package handler

import (
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"

	"foodmarket/pkg/logger"
	"foodmarket/reviews-service/internal/app/reviews/entity"
	"foodmarket/reviews-service/internal/app/reviews/service"

	"github.com/gin-gonic/gin"
	"github.com/go-playground/validator/v10"
)

type ReviewHandler struct {
	reviewService service.ReviewServiceInterface
	validator     *validator.Validate
}

func NewReviewHandler(reviewService service.ReviewServiceInterface) *ReviewHandler {
	return &ReviewHandler{
		reviewService: reviewService,
		validator:     validator.New(),
	}
}

// CreateReview - POST /reviews (multipart: поля отзыва + images[])
func (h *ReviewHandler) CreateReview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	var req entity.CreateReviewRequest
	if err := c.ShouldBind(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErrorMessage(c, err)})
		return
	}

	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": formatValidationError(err)})
		return
	}

	files, err := uploadedFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	result, err := h.reviewService.CreateReview(c.Request.Context(), userID, &req, files)
	if err != nil {
		h.respondError(c, err, "Failed to create review")
		return
	}

	c.JSON(http.StatusCreated, result)
}

// UpdateReview - PATCH /reviews/:review_id, JSON {rating?, content?}
func (h *ReviewHandler) UpdateReview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	reviewID := c.Param("review_id")
	if reviewID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Review ID is required"})
		return
	}

	var req entity.UpdateReviewRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": bindErrorMessage(c, err)})
		return
	}

	if err := h.validator.Struct(req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": formatValidationError(err)})
		return
	}

	review, err := h.reviewService.UpdateReview(c.Request.Context(), reviewID, userID, &req)
	if err != nil {
		h.respondError(c, err, "Failed to update review")
		return
	}

	c.JSON(http.StatusOK, review)
}

// ReplaceImages - PUT /reviews/:review_id/images (multipart: keep[] + images[])
func (h *ReviewHandler) ReplaceImages(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	reviewID := c.Param("review_id")
	if reviewID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Review ID is required"})
		return
	}

	files, err := uploadedFiles(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid multipart form"})
		return
	}

	keep := c.PostFormArray("keep[]")
	if len(keep) == 0 {
		keep = c.PostFormArray("keep")
	}

	images, err := h.reviewService.ReplaceImages(c.Request.Context(), reviewID, userID, keep, files)
	if err != nil {
		h.respondError(c, err, "Failed to replace review images")
		return
	}

	c.JSON(http.StatusOK, entity.ImagesResponse{Images: images})
}

// DeleteReview - DELETE /reviews/:review_id
func (h *ReviewHandler) DeleteReview(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	reviewID := c.Param("review_id")
	if reviewID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Review ID is required"})
		return
	}

	if err := h.reviewService.DeleteReview(c.Request.Context(), reviewID, userID); err != nil {
		h.respondError(c, err, "Failed to delete review")
		return
	}

	c.JSON(http.StatusOK, entity.OKResponse{OK: true})
}

// ReviewExists - GET /reviews/exists/:order_id
func (h *ReviewHandler) ReviewExists(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	exists, reviewID, err := h.reviewService.ExistsForOrder(c.Request.Context(), userID, c.Param("order_id"))
	if err != nil {
		h.respondError(c, err, "Failed to check review")
		return
	}

	c.JSON(http.StatusOK, entity.ExistsResponse{Exists: exists, ReviewID: reviewID})
}

// GetSellerReviews - GET /reviews/seller/:seller_id?limit=
func (h *ReviewHandler) GetSellerReviews(c *gin.Context) {
	sellerID := c.Param("seller_id")
	if sellerID == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "Seller ID is required"})
		return
	}

	limit, err := queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	reviews, err := h.reviewService.ListBySeller(c.Request.Context(), sellerID, limit)
	if err != nil {
		h.respondError(c, err, "Failed to get reviews")
		return
	}

	c.JSON(http.StatusOK, entity.SellerReviewListResponse{
		Reviews: reviews,
		Total:   len(reviews),
	})
}

// GetSellerRating - GET /reviews/seller/:seller_id/rating
func (h *ReviewHandler) GetSellerRating(c *gin.Context) {
	rating, err := h.reviewService.GetSellerRating(c.Request.Context(), c.Param("seller_id"))
	if err != nil {
		h.respondError(c, err, "Failed to get seller rating")
		return
	}

	c.JSON(http.StatusOK, rating)
}

// GetMyReviews - GET /reviews/me
func (h *ReviewHandler) GetMyReviews(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
		return
	}

	limit, err := queryLimit(c)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a positive integer"})
		return
	}

	reviews, err := h.reviewService.ListMine(c.Request.Context(), userID, limit)
	if err != nil {
		h.respondError(c, err, "Failed to get reviews")
		return
	}

	c.JSON(http.StatusOK, entity.SellerReviewListResponse{
		Reviews: reviews,
		Total:   len(reviews),
	})
}

// respondError переводит ошибки сервиса в HTTP статусы
func (h *ReviewHandler) respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, service.ErrUnauthenticated):
		c.JSON(http.StatusUnauthorized, gin.H{"error": "Unauthorized"})
	case errors.Is(err, service.ErrInvalidRating), errors.Is(err, service.ErrInvalidInput):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, service.ErrDuplicateReview):
		c.JSON(http.StatusConflict, gin.H{"error": "Review for this order already exists"})
	case errors.Is(err, service.ErrForbidden):
		c.JSON(http.StatusForbidden, gin.H{"error": "Access denied"})
	case errors.Is(err, service.ErrReviewNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Review not found"})
	case errors.Is(err, service.ErrOrderNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "Order not found"})
	default:
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("path", c.FullPath()).Msg(fallback)
		c.JSON(http.StatusInternalServerError, gin.H{"error": fallback})
	}
}

func currentUser(c *gin.Context) (string, bool) {
	userID, exists := c.Get("user_id")
	if !exists {
		return "", false
	}
	userIDStr, ok := userID.(string)
	return userIDStr, ok && userIDStr != ""
}

// uploadedFiles собирает images[] (или images) из multipart-формы.
// Запрос без multipart-тела означает отсутствие файлов.
func uploadedFiles(c *gin.Context) ([]entity.UploadFile, error) {
	form, err := c.MultipartForm()
	if err != nil {
		if errors.Is(err, http.ErrNotMultipart) {
			return nil, nil
		}
		return nil, err
	}

	headers := form.File["images[]"]
	if len(headers) == 0 {
		headers = form.File["images"]
	}

	files := make([]entity.UploadFile, 0, len(headers))
	for _, fh := range headers {
		files = append(files, toUploadFile(fh))
	}
	return files, nil
}

func toUploadFile(fh *multipart.FileHeader) entity.UploadFile {
	return entity.UploadFile{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get("Content-Type"),
		Size:        fh.Size,
		Open: func() (io.ReadCloser, error) {
			f, err := fh.Open()
			if err != nil {
				return nil, err
			}
			return f, nil
		},
	}
}

func queryLimit(c *gin.Context) (int, error) {
	raw := c.Query("limit")
	if raw == "" {
		return 0, nil
	}
	limit, err := strconv.Atoi(raw)
	if err != nil || limit <= 0 {
		return 0, errors.New("invalid limit")
	}
	return limit, nil
}

// bindErrorMessage: нецелая оценка ("abc", "4.5") - та же ошибка, что и оценка вне 1..5
func bindErrorMessage(c *gin.Context, err error) string {
	var typeErr *json.UnmarshalTypeError
	if errors.As(err, &typeErr) && typeErr.Field == "rating" {
		return service.ErrInvalidRating.Error()
	}
	if raw := c.PostForm("rating"); raw != "" {
		if _, convErr := strconv.Atoi(raw); convErr != nil {
			return service.ErrInvalidRating.Error()
		}
	}
	return "Invalid request body"
}

func formatValidationError(err error) string {
	var validationErrors validator.ValidationErrors
	if errors.As(err, &validationErrors) {
		for _, fieldError := range validationErrors {
			switch fieldError.Field() {
			case "Rating":
				return service.ErrInvalidRating.Error()
			case "Content":
				return "content must be at most 1000 characters"
			}
			return fieldError.Field() + " is " + fieldError.Tag()
		}
	}
	return "Validation failed"
}
