package entity

import (
	"io"
	"time"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

const (
	MinRating        = 1
	MaxRating        = 5
	MaxContentLength = 1000
)

// Review - отзыв покупателя на заказ.
// Пара (order_id, writer_id) уникальна, это гарантирует индекс в MongoDB.
type Review struct {
	ID        primitive.ObjectID `json:"review_id" bson:"_id,omitempty"`
	OrderID   string             `json:"order_id" bson:"order_id"`
	ItemID    string             `json:"item_id" bson:"item_id"`
	SellerID  string             `json:"seller_id" bson:"seller_id"`
	WriterID  string             `json:"writer_id" bson:"writer_id"`
	Rating    int                `json:"rating" bson:"rating"` // от 1 до 5
	Content   string             `json:"content" bson:"content"`
	CreatedAt time.Time          `json:"created_at" bson:"created_at"`
	Timestamp time.Time          `json:"timestamp" bson:"timestamp"` // время последнего изменения
}

// ReviewMedia - изображение отзыва. Index задаёт порядок показа (с нуля).
type ReviewMedia struct {
	ID       primitive.ObjectID `json:"-" bson:"_id,omitempty"`
	ReviewID primitive.ObjectID `json:"review_id" bson:"review_id"`
	URL      string             `json:"url" bson:"url"`
	Key      string             `json:"-" bson:"key"` // путь в хранилище
	Index    int                `json:"index" bson:"index"`
}

// ReviewFieldsUpdate - частичное обновление отзыва, nil-поля не меняются
type ReviewFieldsUpdate struct {
	Rating  *int
	Content *string
}

// SellerRating - агрегат рейтинга продавца (таблица seller_ratings).
// avg_rating вычисляется в PostgreSQL из review_cnt и rating_sum.
type SellerRating struct {
	SellerID  string    `json:"seller_id" gorm:"column:seller_id;primaryKey"`
	ReviewCnt int64     `json:"review_cnt" gorm:"column:review_cnt"`
	RatingSum int64     `json:"-" gorm:"column:rating_sum"`
	AvgRating float64   `json:"avg_rating" gorm:"column:avg_rating"`
	Version   int64     `json:"-" gorm:"column:version"`
	UpdatedAt time.Time `json:"updated_at" gorm:"column:updated_at"`
}

func (SellerRating) TableName() string {
	return "seller_ratings"
}

// RatingAggregate - count/sum/avg, посчитанные по живым отзывам.
// LastModified - самый свежий timestamp среди них.
type RatingAggregate struct {
	Count        int64     `bson:"count"`
	Sum          int64     `bson:"sum"`
	Avg          float64   `bson:"-"`
	LastModified time.Time `bson:"last_modified"`
}

// UploadFile - загруженный пользователем файл
type UploadFile struct {
	Filename    string
	ContentType string
	Size        int64
	Open        func() (io.ReadCloser, error)
}

// AttachmentResult - итог обработки одного файла.
// Err != nil означает, что файл пропущен, остальные обработаны.
type AttachmentResult struct {
	Filename string
	URL      string
	Err      error
}

// ReviewWithImages - отзыв вместе с упорядоченным списком URL изображений
type ReviewWithImages struct {
	Review *Review  `json:"review"`
	Images []string `json:"images"`
}

// SellerReview - отзыв в выдаче по продавцу
type SellerReview struct {
	Review
	Images     []string `json:"images"`
	WriterName string   `json:"writer_name,omitempty"`
}

const (
	EventReviewCreated = "REVIEW_CREATED"
	EventReviewUpdated = "REVIEW_UPDATED"
	EventReviewDeleted = "REVIEW_DELETED"
)

type ReviewEvent struct {
	EventType      string    `json:"event_type"`
	ReviewID       string    `json:"review_id"`
	OrderID        string    `json:"order_id"`
	ItemID         string    `json:"item_id"`
	SellerID       string    `json:"seller_id"`
	WriterID       string    `json:"writer_id"`
	Rating         int       `json:"rating"`
	PreviousRating int       `json:"previous_rating,omitempty"`
	Timestamp      time.Time `json:"timestamp"`
}
