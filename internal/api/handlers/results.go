package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/middlewares"
	"election-service/internal/api/models"
	"election-service/internal/domain"
)

// GetElectionResults returns the current tally, cached while nothing changed
func GetElectionResults(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := services.Results().Calculate(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "", snap)
	}
}

// RecalculateResults forces a fresh tally
func RecalculateResults(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		snap, err := services.Results().Recalculate(c.Request.Context(), middlewares.ActorFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Results recalculated", snap)
	}
}

// PromoteResults certifies the snapshot
func PromoteResults(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.PromoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		snap, err := services.Results().Promote(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("id"), domain.ResultStatus(req.Status))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Results promoted to "+string(snap.Status), snap)
	}
}

// RecountResults verifies every counted vote and retallies
func RecountResults(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		report, err := services.Results().Recount(c.Request.Context(), middlewares.ActorFrom(c), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Recount completed", report)
	}
}
