package service

import (
	"errors"
	"fmt"
)

var (
	ErrUnauthenticated        = errors.New("authentication required")
	ErrInvalidRating          = errors.New("rating must be between 1 and 5")
	ErrInvalidInput           = errors.New("invalid input")
	ErrDuplicateReview        = errors.New("review for this order already exists")
	ErrForbidden              = errors.New("access forbidden")
	ErrReviewNotFound         = errors.New("review not found")
	ErrOrderNotFound          = errors.New("order not found")
	ErrAttachmentFailure      = errors.New("attachment failed")
	ErrAggregateUpdateFailure = errors.New("seller rating update failed")
)

// invalidField - ErrInvalidInput с именем поля в тексте ошибки
func invalidField(field, reason string) error {
	return fmt.Errorf("%w: %s %s", ErrInvalidInput, field, reason)
}
