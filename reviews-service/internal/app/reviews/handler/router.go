package handler

import (
	"net/http"

	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"foodmarket/pkg/logger"
	"foodmarket/pkg/metrics"
	"foodmarket/pkg/tracing"
)

const serviceName = "reviews-service"

// SetupRoutes собирает gin-роутер сервиса отзывов.
// mediaHandler может быть nil, если изображения отдаёт внешнее хранилище.
func SetupRoutes(reviewHandler *ReviewHandler, mediaHandler *MediaHandler, authMiddleware *AuthMiddleware, limiter *RateLimiter) *gin.Engine {
	router := gin.New()
	router.MaxMultipartMemory = 8 << 20

	router.Use(gin.Recovery())
	router.Use(logger.GinLoggerMiddleware())
	router.Use(tracing.GinTracingMiddleware(serviceName))
	router.Use(metrics.GinPrometheusMiddleware(serviceName))

	router.Use(cors.New(cors.Config{
		AllowOrigins:     []string{"https://*", "http://*"},
		AllowWildcard:    true,
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Accept", "Authorization", "Content-Type", "X-Request-ID"},
		ExposeHeaders:    []string{"X-Request-ID"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status":  "ok",
			"service": serviceName,
		})
	})

	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	if mediaHandler != nil {
		router.GET("/media/*key", mediaHandler.GetMedia)
	}

	// публичное чтение
	public := router.Group("/reviews")
	{
		public.GET("/seller/:seller_id", reviewHandler.GetSellerReviews)
		public.GET("/seller/:seller_id/rating", reviewHandler.GetSellerRating)
	}

	reviews := router.Group("/reviews")
	reviews.Use(authMiddleware.Authenticate())
	{
		reviews.GET("/exists/:order_id", reviewHandler.ReviewExists)
		reviews.GET("/me", reviewHandler.GetMyReviews)

		writes := reviews.Group("")
		writes.Use(limiter.Limit())
		{
			writes.POST("", reviewHandler.CreateReview)
			writes.PATCH("/:review_id", reviewHandler.UpdateReview)
			writes.PUT("/:review_id/images", reviewHandler.ReplaceImages)
			writes.DELETE("/:review_id", reviewHandler.DeleteReview)
		}
	}

	return router
}
