package service

import (
	"context"

	"foodmarket/reviews-service/internal/app/reviews/entity"
)

type ReviewServiceInterface interface {
	CreateReview(ctx context.Context, writerID string, req *entity.CreateReviewRequest, files []entity.UploadFile) (*entity.ReviewWithImages, error)
	UpdateReview(ctx context.Context, reviewID, writerID string, req *entity.UpdateReviewRequest) (*entity.Review, error)
	ReplaceImages(ctx context.Context, reviewID, writerID string, keepURLs []string, files []entity.UploadFile) ([]string, error)
	DeleteReview(ctx context.Context, reviewID, writerID string) error
	ExistsForOrder(ctx context.Context, writerID, orderID string) (bool, *string, error)
	ListBySeller(ctx context.Context, sellerID string, limit int) ([]entity.SellerReview, error)
	ListMine(ctx context.Context, writerID string, limit int) ([]entity.SellerReview, error)
	GetSellerRating(ctx context.Context, sellerID string) (*entity.SellerRating, error)
}

// RatingRepairer - то, что нужно фоновой задаче ремонта агрегатов
type RatingRepairer interface {
	PendingRepairs(ctx context.Context, batch int) ([]string, error)
	Repair(ctx context.Context, sellerID string) (RepairResult, error)
	FlagForRepair(ctx context.Context, sellerID string) error
}
