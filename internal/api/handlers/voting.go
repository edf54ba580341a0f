package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/middlewares"
	"election-service/internal/api/models"
	"election-service/internal/domain"
	"election-service/internal/voting"
)

// ValidateCode checks the caller's secret code while voting is open. Every call
// counts towards the lockout.
func ValidateCode(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.ValidateCodeRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}
		ctx := c.Request.Context()

		if _, err := services.Phases().Gate(ctx, req.ElectionID); err != nil {
			respondError(c, err)
			return
		}
		_, err := services.Codes().Validate(ctx, middlewares.ActorFrom(c).UserID,
			req.ElectionID, req.PositionID, req.SecretCode)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Secret code accepted", models.CodeValidationResponse{
			Valid:      true,
			ElectionID: req.ElectionID,
			PositionID: req.PositionID,
		})
	}
}

// CastVote records one ballot for the authenticated voter
func CastVote(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.VoteRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		receipt, err := services.Voting().SubmitVote(c.Request.Context(), voting.SubmitVoteRequest{
			VoterID:          middlewares.ActorFrom(c).UserID,
			ElectionID:       req.ElectionID,
			PositionID:       req.PositionID,
			CandidateID:      req.CandidateID,
			IsAbstention:     req.IsAbstention,
			AbstentionReason: req.AbstentionReason,
			SecretCode:       req.SecretCode,
		})
		if err != nil {
			respondError(c, err)
			return
		}

		if receipt.Replayed {
			respond(c, http.StatusOK, "Vote already recorded", receipt)
			return
		}
		respond(c, http.StatusCreated, "Vote cast successfully", receipt)
	}
}

// VerifyReceipt looks a receipt up and checks its signature
func VerifyReceipt(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		check, err := services.Voting().VerifyReceipt(c.Request.Context(), c.Param("hash"))
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "", check)
	}
}

// SetVoteStatus disputes or invalidates a vote
func SetVoteStatus(services interfaces.Services) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req models.VoteStatusRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			badRequest(c, err)
			return
		}

		v, err := services.Voting().SetVoteStatus(c.Request.Context(), middlewares.ActorFrom(c),
			c.Param("id"), domain.VoteStatus(req.Status), req.Reason)
		if err != nil {
			respondError(c, err)
			return
		}
		respond(c, http.StatusOK, "Vote status updated", gin.H{
			"vote_id":     v.ID,
			"election_id": v.ElectionID,
			"position_id": v.PositionID,
			"status":      v.Status,
		})
	}
}
