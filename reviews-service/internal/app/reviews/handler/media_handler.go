package handler

import (
	"errors"
	"net/http"
	"strings"

	"foodmarket/pkg/logger"
	"foodmarket/reviews-service/internal/app/reviews/infrastructure"

	"github.com/gin-gonic/gin"
)

// MediaHandler отдаёт изображения, которые хранит сам сервис (GridFS)
type MediaHandler struct {
	reader infrastructure.MediaReader
}

func NewMediaHandler(reader infrastructure.MediaReader) *MediaHandler {
	return &MediaHandler{reader: reader}
}

// GetMedia - GET /media/*key
func (h *MediaHandler) GetMedia(c *gin.Context) {
	key := strings.TrimPrefix(c.Param("key"), "/")
	if key == "" {
		c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
		return
	}

	body, contentType, err := h.reader.Open(c.Request.Context(), key)
	if err != nil {
		if errors.Is(err, infrastructure.ErrMediaNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "Media not found"})
			return
		}
		logger.Ctx(c.Request.Context()).Error().Err(err).Str("key", key).Msg("failed to open media")
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to read media"})
		return
	}
	defer body.Close()

	// ключи содержат uuid, содержимое по ключу не меняется
	c.DataFromReader(http.StatusOK, -1, contentType, body, map[string]string{
		"Cache-Control": "public, max-age=31536000, immutable",
	})
}
