package handlers

import (
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/models"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
)

// GetAuditLogs lists audit entries, newest first
func GetAuditLogs(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := auditFilter(c)
		if err != nil {
			badRequest(c, err)
			return
		}

		logs, err := services.AuditLogRepository().GetAuditLogs(c.Request.Context(), filter)
		if err != nil {
			respondError(c, domain.Internal("failed to list audit logs", err))
			return
		}
		respond(c, http.StatusOK, "", models.AuditLogsResponse{
			Logs:       logs,
			Pagination: models.PaginationInfo{Limit: filter.Limit, Offset: filter.Offset, Count: len(logs)},
		})
	}
}

// GetAuditStatistics counts audit entries per action
func GetAuditStatistics(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		filter, err := auditFilter(c)
		if err != nil {
			badRequest(c, err)
			return
		}

		total, actions, err := services.AuditLogRepository().GetAuditStatistics(c.Request.Context(), filter)
		if err != nil {
			respondError(c, domain.Internal("failed to count audit logs", err))
			return
		}
		respond(c, http.StatusOK, "", models.AuditStatisticsResponse{Total: total, Actions: actions})
	}
}

// auditFilter reads action, election_id, actor_id, start_time, end_time (RFC3339),
// limit and offset from the query string
func auditFilter(c *gin.Context) (repositories.AuditFilter, error) {
	f := repositories.AuditFilter{
		Action:     c.Query("action"),
		ElectionID: c.Query("election_id"),
		ActorID:    c.Query("actor_id"),
		Limit:      100,
	}

	for name, dst := range map[string]*int{"limit": &f.Limit, "offset": &f.Offset} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			return f, fmt.Errorf("%s must be a non-negative integer", name)
		}
		*dst = n
	}
	if f.Limit == 0 || f.Limit > 500 {
		f.Limit = 100
	}

	for name, dst := range map[string]**time.Time{"start_time": &f.StartTime, "end_time": &f.EndTime} {
		raw := c.Query(name)
		if raw == "" {
			continue
		}
		t, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return f, fmt.Errorf("%s must be an RFC3339 timestamp", name)
		}
		*dst = &t
	}
	return f, nil
}
