package entity

// CreateReviewRequest - поля multipart-формы POST /reviews
type CreateReviewRequest struct {
	OrderID  string `form:"order_id" validate:"required"`
	ItemID   string `form:"item_id" validate:"required"`
	SellerID string `form:"seller_id" validate:"required"`
	Rating   int    `form:"rating" validate:"required,min=1,max=5"`
	Content  string `form:"content" validate:"max=1000"`
}

// UpdateReviewRequest - частичное обновление, отсутствующие поля не меняются
type UpdateReviewRequest struct {
	Rating  *int    `json:"rating" validate:"omitempty,min=1,max=5"`
	Content *string `json:"content" validate:"omitempty,max=1000"`
}

type OKResponse struct {
	OK bool `json:"ok"`
}

type ImagesResponse struct {
	Images []string `json:"images"`
}

// ExistsResponse - ответ GET /reviews/exists/:order_id, review_id = null если отзыва нет
type ExistsResponse struct {
	Exists   bool    `json:"exists"`
	ReviewID *string `json:"review_id"`
}

type SellerReviewListResponse struct {
	Reviews []SellerReview `json:"reviews"`
	Total   int            `json:"total"`
}
