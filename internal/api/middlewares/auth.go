package middlewares

import (
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/models"
	"election-service/internal/domain"
	"election-service/pkg/logger"
)

// Context keys set by AuthRequired
const (
	ContextUserID   = "user_id"
	ContextUserRole = "user_role"
)

// AuthRequired middleware validates JWT tokens
func AuthRequired(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := extractToken(c)
		if token == "" {
			abort(c, http.StatusUnauthorized, models.ErrCodeUnauthorized, "Authorization token required")
			return
		}

		claims, err := services.AuthService().ValidateToken(token)
		if err != nil {
			logger.GetLoggerFromContext(c).SecurityLogger("invalid_token", "", err.Error())
			abort(c, http.StatusUnauthorized, models.ErrCodeInvalidToken, "Invalid or expired token")
			return
		}

		c.Set(ContextUserID, claims.UserID)
		c.Set(ContextUserRole, claims.Role)
		c.Next()
	}
}

// AdminRequired lets through the roles that may administer elections
func AdminRequired() gin.HandlerFunc {
	return RoleRequired(domain.RoleAdmin, domain.RoleOfficer, domain.RoleSystem)
}

// VoterRequired lets through voters and administrators
func VoterRequired() gin.HandlerFunc {
	return RoleRequired(domain.RoleVoter, domain.RoleAdmin, domain.RoleOfficer)
}

// RoleRequired ensures the authenticated user has one of roles
func RoleRequired(roles ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role := c.GetString(ContextUserRole)
		for _, r := range roles {
			if role == r {
				c.Next()
				return
			}
		}
		abort(c, http.StatusForbidden, models.ErrCodeForbidden, "Insufficient role for this operation")
	}
}

// ActorFrom returns the authenticated identity
func ActorFrom(c *gin.Context) domain.Actor {
	return domain.Actor{UserID: c.GetString(ContextUserID), Role: c.GetString(ContextUserRole)}
}

func abort(c *gin.Context, status int, code, message string) {
	c.AbortWithStatusJSON(status, models.BaseResponse{
		Success:   false,
		Error:     &models.ErrorInfo{Code: code, Message: message},
		Timestamp: time.Now().Unix(),
		RequestID: c.GetString("request_id"),
	})
}

// extractToken extracts JWT token from Authorization header
func extractToken(c *gin.Context) string {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return ""
	}

	parts := strings.SplitN(authHeader, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}

	return strings.TrimSpace(parts[1])
}
