package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/middlewares"
	"election-service/internal/api/models"
	"election-service/internal/domain"
)

// EnrollVoter issues a secret code and grants positions. The plaintext code is in
// the response and delivered to the voter; it cannot be read again.
func EnrollVoter(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.EnrollVoterRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		en, err := services.Enrollment().Register(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("id"), req.VoterID, req.PositionIDs, req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusCreated, "Voter enrolled", en)
	}
}

// ReissueCode replaces the voter's secret code
func ReissueCode(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		en, err := services.Enrollment().Reissue(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("id"), c.Param("voter_id"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Secret code reissued", en)
	}
}

// DeactivateCode blocks the voter's current secret code
func DeactivateCode(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindReason(c)
		if !ok {
			return
		}
		err := services.Codes().Deactivate(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("voter_id"), c.Param("id"), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Secret code deactivated", gin.H{
			"voter_id":    c.Param("voter_id"),
			"election_id": c.Param("id"),
		})
	}
}

type accessChange func(ctx context.Context, actor domain.Actor, voterID, electionID, reason string) (*domain.EligibilityAccess, error)

// SuspendVoter blocks voting until the access is reactivated
func SuspendVoter(services interfaces.Services) gin.HandlerFunc {
	return changeAccess(services.Eligibility().Suspend, "Voter suspended")
}

func ReactivateVoter(services interfaces.Services) gin.HandlerFunc {
	return changeAccess(services.Eligibility().Reactivate, "Voter reactivated")
}

func RevokeVoter(services interfaces.Services) gin.HandlerFunc {
	return changeAccess(services.Eligibility().Revoke, "Voter access revoked")
}

func changeAccess(op accessChange, message string) gin.HandlerFunc {
	return func(c *gin.Context) {
		req, ok := bindReason(c)
		if !ok {
			return
		}
		access, err := op(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("voter_id"), c.Param("id"), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, message, access)
	}
}

// bindReason accepts an empty body
func bindReason(c *gin.Context) (models.ReasonRequest, bool) {
	var req models.ReasonRequest
	if err := c.ShouldBindJSON(&req); err != nil && !errors.Is(err, io.EOF) {
		badRequest(c, err)
		return req, false
	}
	return req, true
}
