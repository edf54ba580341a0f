package interfaces

import (
	"context"

	"election-service/internal/api/stream"
	"election-service/internal/database/repositories"
	"election-service/internal/eligibility"
	"election-service/internal/enrollment"
	"election-service/internal/phase"
	"election-service/internal/results"
	"election-service/internal/secretcode"
	"election-service/internal/voting"
	"election-service/pkg/config"
	"election-service/pkg/logger"
)

// Services defines the interface for API services
type Services interface {
	GetLogger() *logger.Logger
	GetConfig() *config.Config
	AuthService() AuthServiceInterface
	Phases() *phase.Engine
	Codes() *secretcode.Manager
	Eligibility() *eligibility.Tracker
	Enrollment() *enrollment.Service
	Voting() *voting.Recorder
	Results() *results.Engine
	ResultStream() *stream.Hub
	AuditLogRepository() *repositories.AuditLogRepository
	SignerAddress() string
	Health(ctx context.Context) map[string]interface{}
	IsHealthy(ctx context.Context) bool
}
