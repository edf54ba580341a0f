package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/models"
	"election-service/pkg/logger"
)

func respond(c *gin.Context, status int, message string, data interface{}) {
	c.JSON(status, models.BaseResponse{
		Success:   true,
		Message:   message,
		Data:      data,
		Timestamp: time.Now().Unix(),
		RequestID: c.GetString("request_id"),
	})
}

// respondError maps a core error onto its status. Lockouts also set Retry-After.
func respondError(c *gin.Context, err error) {
	status, info := models.FromError(err)
	if retry := info.RetryAfter(); retry != "" {
		c.Header("Retry-After", retry)
	}

	log := logger.GetLoggerFromContext(c)
	if status >= http.StatusInternalServerError {
		log.WithError(err).Error("Request failed", "path", c.FullPath())
	} else {
		log.Debug("Request rejected", "path", c.FullPath(), "code", info.Code)
	}

	c.JSON(status, models.BaseResponse{
		Success:   false,
		Error:     info,
		Timestamp: time.Now().Unix(),
		RequestID: c.GetString("request_id"),
	})
}

func badRequest(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, models.BaseResponse{
		Success: false,
		Error: &models.ErrorInfo{
			Code:    models.ErrCodeInvalidRequest,
			Message: "Invalid request format",
			Details: map[string]interface{}{"reason": err.Error()},
		},
		Timestamp: time.Now().Unix(),
		RequestID: c.GetString("request_id"),
	})
}
