package api

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"election-service/internal/api/interfaces"
	"election-service/internal/api/stream"
	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/enrollment"
	"election-service/internal/notify"
	"election-service/internal/phase"
	"election-service/internal/receipt"
	"election-service/internal/results"
	"election-service/internal/secretcode"
	"election-service/internal/voting"
	"election-service/internal/worker"
	"election-service/pkg/config"
	"election-service/pkg/logger"
)

// deliveryTimeout bounds one asynchronous notification
const deliveryTimeout = 30 * time.Second

// Services contains all the dependencies for API handlers
type Services struct {
	DB     *database.DB
	Logger *logger.Logger
	Config *config.Config

	authService interfaces.AuthServiceInterface

	phases             *phase.Engine
	codes              *secretcode.Manager
	tracker            *eligibility.Tracker
	enrollment         *enrollment.Service
	voting             *voting.Recorder
	results            *results.Engine
	sweeper            *worker.Sweeper
	hub                *stream.Hub
	signer             *receipt.Signer
	notifier           *notify.Async
	auditLogRepository *repositories.AuditLogRepository

	startedAt time.Time
}

// NewServices wires the election components around db. cache backs the tally
// cache; clock is the time source of every component.
func NewServices(
	db *database.DB,
	cache results.Cache,
	signer *receipt.Signer,
	clock domain.Clock,
	cfg *config.Config,
	log *logger.Logger,
) *Services {
	s := &Services{
		DB:                 db,
		Logger:             log,
		Config:             cfg,
		signer:             signer,
		auditLogRepository: repositories.NewAuditLogRepository(db),
		startedAt:          time.Now(),
	}
	s.authService = s

	recorder := audit.NewRecorder(audit.NewDBSink(s.auditLogRepository), log)
	s.notifier = notify.NewAsync(notify.NewLogDispatcher(log), log, deliveryTimeout)
	s.hub = stream.NewHub(0, log)

	s.phases = phase.NewEngine(db, recorder, clock, log)
	s.tracker = eligibility.NewTracker(db, recorder, clock, log)
	s.codes = secretcode.NewManager(db, s.tracker, recorder, clock, secretcode.OptionsFromConfig(cfg.Voting), log)
	s.results = results.NewEngine(db, cache, signer, recorder, clock, cfg.Results.CacheTTL, log)
	s.results.SetPublisher(s.hub)
	s.enrollment = enrollment.NewService(db, s.codes, s.tracker, s.notifier, recorder, clock, log)
	s.voting = voting.NewRecorder(voting.Deps{
		DB:          db,
		Phases:      s.phases,
		Codes:       s.codes,
		Eligibility: s.tracker,
		Results:     s.results,
		Signer:      signer,
		Notifier:    s.notifier,
		Audit:       recorder,
		Clock:       clock,
		Log:         log,
		LockWait:    cfg.Voting.LockWaitTimeout,
	})
	s.sweeper = worker.NewSweeper(s.phases, s.tracker, s.results, cfg.Worker.SweepInterval, log)

	// a completed, cancelled or frozen election closes its roll and refreshes the tally
	s.phases.OnTerminal(func(ctx context.Context, e *domain.Election) {
		if _, err := s.tracker.ExpireElection(ctx, e.ID); err != nil {
			log.WithError(err).Warning("Expiring voter access failed", "election_id", e.ID)
		}
		if err := s.results.Invalidate(ctx, e.ID); err != nil {
			log.WithError(err).Warning("Invalidating results failed", "election_id", e.ID)
		}
	})

	return s
}

// Start launches the background sweeper when enabled
func (s *Services) Start(ctx context.Context) error {
	s.Logger.Info("Starting API services...")
	if s.Config.Worker.Enabled {
		if err := s.sweeper.Start(ctx); err != nil {
			return fmt.Errorf("start sweeper: %w", err)
		}
	}
	s.Logger.Info("All API services started successfully")
	return nil
}

// Stop halts the sweeper and waits for pending notifications
func (s *Services) Stop() {
	s.Logger.Info("Stopping API services...")
	s.sweeper.Stop()
	s.notifier.Wait()
	s.Logger.Info("All API services stopped")
}

func (s *Services) GetLogger() *logger.Logger {
	return s.Logger
}

func (s *Services) GetConfig() *config.Config {
	return s.Config
}

func (s *Services) AuthService() interfaces.AuthServiceInterface {
	return s.authService
}

func (s *Services) Phases() *phase.Engine {
	return s.phases
}

func (s *Services) Codes() *secretcode.Manager {
	return s.codes
}

func (s *Services) Eligibility() *eligibility.Tracker {
	return s.tracker
}

func (s *Services) Enrollment() *enrollment.Service {
	return s.enrollment
}

func (s *Services) Voting() *voting.Recorder {
	return s.voting
}

func (s *Services) Results() *results.Engine {
	return s.results
}

func (s *Services) ResultStream() *stream.Hub {
	return s.hub
}

func (s *Services) Sweeper() *worker.Sweeper {
	return s.sweeper
}

func (s *Services) AuditLogRepository() *repositories.AuditLogRepository {
	return s.auditLogRepository
}

// SignerAddress is the address receipts are signed with
func (s *Services) SignerAddress() string {
	return s.signer.Address()
}

// IsHealthy checks the database connection
func (s *Services) IsHealthy(ctx context.Context) bool {
	if err := s.DB.PingContext(ctx); err != nil {
		s.Logger.WithError(err).Error("Database health check failed")
		return false
	}
	return true
}

// Health returns component status for the health endpoint
func (s *Services) Health(ctx context.Context) map[string]interface{} {
	dbStatus := "connected"
	if !s.IsHealthy(ctx) {
		dbStatus = "disconnected"
	}
	if s.Config.Worker.Enabled && !s.sweeper.IsRunning() {
		s.Logger.Warning("Sweeper is not running")
	}
	return map[string]interface{}{
		"database": dbStatus,
		"sweeper": map[string]interface{}{
			"enabled": s.Config.Worker.Enabled,
			"running": s.sweeper.IsRunning(),
		},
		"websocket": map[string]interface{}{
			"active_connections": s.hub.ConnectionCount(),
		},
		"signer_address": s.signer.Address(),
		"uptime_seconds": int64(time.Since(s.startedAt).Seconds()),
	}
}

type tokenClaims struct {
	UserID string `json:"user_id"`
	Role   string `json:"role"`
	jwt.RegisteredClaims
}

// ValidateToken verifies an HMAC-signed JWT and returns its claims
func (s *Services) ValidateToken(token string) (*interfaces.Claims, error) {
	secretKey := s.Config.Security.JWTSecret
	if secretKey == "" {
		return nil, errors.New("JWT secret key not configured")
	}

	opts := []jwt.ParserOption{jwt.WithExpirationRequired()}
	if s.Config.Security.JWTIssuer != "" {
		opts = append(opts, jwt.WithIssuer(s.Config.Security.JWTIssuer))
	}

	var claims tokenClaims
	parsedToken, err := jwt.ParseWithClaims(token, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return []byte(secretKey), nil
	}, opts...)
	if err != nil {
		s.Logger.Debug("Token parsing failed", "error", err.Error())
		return nil, fmt.Errorf("invalid token: %w", err)
	}
	if !parsedToken.Valid {
		return nil, errors.New("invalid token")
	}

	userID := claims.UserID
	if userID == "" {
		userID = claims.Subject
	}
	if userID == "" || claims.Role == "" {
		return nil, errors.New("token is missing user_id or role")
	}

	out := &interfaces.Claims{UserID: userID, Role: claims.Role}
	if claims.ExpiresAt != nil {
		out.ExpiresAt = claims.ExpiresAt.Unix()
	}
	return out, nil
}
