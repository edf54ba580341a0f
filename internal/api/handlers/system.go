package handlers

import (
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/models"
)

// Version is reported by the health endpoint
var Version = "1.0.0"

// HealthCheck reports database, sweeper and stream status
func HealthCheck(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		resp := models.HealthCheckResponse{
			Status:     "healthy",
			Version:    Version,
			Timestamp:  time.Now().Unix(),
			Components: services.Health(c.Request.Context()),
		}
		status := http.StatusOK
		if resp.Components["database"] != "connected" {
			resp.Status = "unhealthy"
			status = http.StatusServiceUnavailable
		}
		c.JSON(status, resp)
	}
}
