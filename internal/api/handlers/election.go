package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/middlewares"
	"election-service/internal/api/models"
	"election-service/internal/domain"
)

// GetElectionPhase returns the phase view and the receipt signer address
func GetElectionPhase(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		status, err := services.Phases().Status(c.Request.Context(), c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "", models.PhaseResponse{
			Status:        status,
			SignerAddress: services.SignerAddress(),
		})
	}
}

// CreateElection stores a DRAFT election with its positions and candidates
func CreateElection(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.CreateElectionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		e, err := services.Phases().Create(c.Request.Context(), middlewares.ActorFrom(c), req.Election())
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusCreated, "Election created", e)
	}
}

// TransitionElection applies schedule, activate, complete, cancel or freeze
func TransitionElection(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.TransitionRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		e, err := services.Phases().Transition(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("id"), domain.ElectionAction(req.Action))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Election "+string(e.Status), e)
	}
}

// GetVoterProgress returns the caller's own eligibility and progress
func GetVoterProgress(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		access, err := services.Eligibility().Progress(c.Request.Context(),
			middlewares.ActorFrom(c).UserID, c.Param("id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "", access)
	}
}
