package entity

import "math"

// AverageRating - среднее с округлением до двух знаков, 0 при отсутствии отзывов
func AverageRating(count, sum int64) float64 {
	if count <= 0 {
		return 0
	}
	return math.Round(float64(sum)/float64(count)*100) / 100
}

// ValidRating проверяет, что оценка в диапазоне 1..5
func ValidRating(rating int) bool {
	return rating >= MinRating && rating <= MaxRating
}
