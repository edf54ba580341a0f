package api

import (
	"github.com/gin-gonic/gin"

	"election-service/internal/api/handlers"
	"election-service/internal/api/interfaces"
	"election-service/internal/api/middlewares"
)

// SetupRoutes configures all API routes with proper middleware
func SetupRoutes(router *gin.Engine, services interfaces.Services) {
	log := services.GetLogger()
	cfg := services.GetConfig()

	// Global middleware
	router.Use(log.RequestLogger())
	router.Use(middlewares.Recovery(log))
	router.Use(log.HTTPLogger())
	router.Use(middlewares.CORS(cfg.API.CORS))
	router.Use(middlewares.Security())
	router.Use(middlewares.RateLimit(middlewares.NewRateLimiter(cfg.API.RateLimit, cfg.API.BurstLimit)))

	// Health check (no auth required)
	router.GET("/health", handlers.HealthCheck(services))

	v1 := router.Group("/api/v1")
	{
		setupPublicRoutes(v1, services)
		setupVoterRoutes(v1, services)
		setupAdminRoutes(v1, services)
	}
}

// setupPublicRoutes configures routes that don't require authentication
func setupPublicRoutes(rg *gin.RouterGroup, services interfaces.Services) {
	rg.GET("/elections/:id/phase", handlers.GetElectionPhase(services))
	rg.GET("/elections/:id/results", handlers.GetElectionResults(services))
	rg.GET("/receipts/:hash", handlers.VerifyReceipt(services))
	rg.GET("/ws/elections/:id/results", handlers.ResultsWebSocket(services))
}

// setupVoterRoutes configures routes acting on the authenticated voter
func setupVoterRoutes(rg *gin.RouterGroup, services interfaces.Services) {
	voter := rg.Group("/")
	voter.Use(middlewares.AuthRequired(services))
	voter.Use(middlewares.VoterRequired())
	{
		voter.POST("/votes/validate-code", handlers.ValidateCode(services))
		voter.POST("/votes", handlers.CastVote(services))
		voter.GET("/elections/:id/progress", handlers.GetVoterProgress(services))
	}
}

// setupAdminRoutes configures admin-only routes
func setupAdminRoutes(rg *gin.RouterGroup, services interfaces.Services) {
	admin := rg.Group("/admin")
	admin.Use(middlewares.AuthRequired(services))
	admin.Use(middlewares.AdminRequired())

	elections := admin.Group("/elections")
	{
		elections.POST("", handlers.CreateElection(services))
		elections.POST("/:id/transition", handlers.TransitionElection(services))

		elections.POST("/:id/voters", handlers.EnrollVoter(services))
		elections.POST("/:id/voters/:voter_id/reissue", handlers.ReissueCode(services))
		elections.POST("/:id/voters/:voter_id/deactivate-code", handlers.DeactivateCode(services))
		elections.POST("/:id/voters/:voter_id/suspend", handlers.SuspendVoter(services))
		elections.POST("/:id/voters/:voter_id/reactivate", handlers.ReactivateVoter(services))
		elections.POST("/:id/voters/:voter_id/revoke", handlers.RevokeVoter(services))

		elections.POST("/:id/results", handlers.RecalculateResults(services))
		elections.POST("/:id/results/promote", handlers.PromoteResults(services))
		elections.POST("/:id/recount", handlers.RecountResults(services))
	}

	admin.POST("/votes/:id/status", handlers.SetVoteStatus(services))

	audit := admin.Group("/audit")
	{
		audit.GET("/logs", handlers.GetAuditLogs(services))
		audit.GET("/statistics", handlers.GetAuditStatistics(services))
	}
}
