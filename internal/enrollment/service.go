// Package enrollment puts voters on an election roll: one secret code, one access
// record and the granted positions, written together.
package enrollment

import (
	"context"
	"strings"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/notify"
	"election-service/internal/secretcode"
	"election-service/pkg/logger"
)

// Enrollment is the outcome of registering or re-issuing. Code is the plaintext,
// shown this once.
type Enrollment struct {
	VoterID      string                    `json:"voter_id"`
	ElectionID   string                    `json:"election_id"`
	SecretCodeID string                    `json:"secret_code_id"`
	Code         string                    `json:"secret_code"`
	Access       *domain.EligibilityAccess `json:"access"`
}

type Service struct {
	db        *database.DB
	elections *repositories.ElectionRepository
	codes     *secretcode.Manager
	tracker   *eligibility.Tracker
	notifier  notify.Dispatcher
	audit     *audit.Recorder
	clock     domain.Clock
	log       *logger.Logger
}

func NewService(
	db *database.DB,
	codes *secretcode.Manager,
	tracker *eligibility.Tracker,
	notifier notify.Dispatcher,
	recorder *audit.Recorder,
	clock domain.Clock,
	log *logger.Logger,
) *Service {
	return &Service{
		db:        db,
		elections: repositories.NewElectionRepository(db),
		codes:     codes,
		tracker:   tracker,
		notifier:  notifier,
		audit:     recorder,
		clock:     clock,
		log:       log.WithComponent("enrollment"),
	}
}

// Register issues the voter's code and grants positionIDs while registration is open.
// A voter that already holds an active code gets a Conflict; use Reissue instead.
func (s *Service) Register(ctx context.Context, actor domain.Actor, electionID, voterID string, positionIDs []string, reason string) (*Enrollment, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	voterID = strings.TrimSpace(voterID)
	if voterID == "" {
		return nil, domain.Validation("voter id is required")
	}
	if len(positionIDs) == 0 {
		return nil, domain.Validation("at least one position is required")
	}
	if strings.TrimSpace(reason) == "" {
		reason = "registered"
	}

	e, err := s.elections.GetByID(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load election", err)
	}
	now := s.clock.Now()
	if !domain.CanRegisterVoters(e, now) {
		return nil, domain.PhaseError(domain.DerivePhase(e, now), e.Status)
	}

	out := &Enrollment{VoterID: voterID, ElectionID: electionID}
	err = s.db.InTx(ctx, func(tx *database.Tx) error {
		plain, code, err := s.codes.GenerateTx(ctx, tx, actor, voterID, electionID)
		if err != nil {
			return err
		}
		out.Code, out.SecretCodeID = plain, code.ID

		if out.Access, err = s.tracker.EnsureAccessTx(ctx, tx, voterID, electionID, code.ID); err != nil {
			return err
		}
		for _, positionID := range positionIDs {
			if out.Access, _, err = s.tracker.GrantTx(ctx, tx, actor, voterID, electionID, positionID, reason); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, domain.Propagate("failed to enroll voter", err)
	}

	s.deliver(ctx, out)
	s.audit.Record(ctx, audit.Event{
		Action:     audit.ActionVoterEnrolled,
		ActorID:    actor.UserID,
		ElectionID: electionID,
		Resource:   "voter:" + voterID,
		Details: map[string]interface{}{
			"secret_code_id": out.SecretCodeID,
			"positions":      positionIDs,
		},
	})
	s.log.Info("Voter enrolled", "election_id", electionID, "voter_id", voterID, "positions", len(positionIDs))
	return out, nil
}

// Reissue replaces a lost or compromised code and relinks the voter's access to it.
// Granted and voted positions are kept.
func (s *Service) Reissue(ctx context.Context, actor domain.Actor, electionID, voterID string) (*Enrollment, error) {
	out := &Enrollment{VoterID: voterID, ElectionID: electionID}
	err := s.db.InTx(ctx, func(tx *database.Tx) error {
		plain, code, err := s.codes.ReissueTx(ctx, tx, actor, voterID, electionID)
		if err != nil {
			return err
		}
		out.Code, out.SecretCodeID = plain, code.ID
		out.Access, err = s.tracker.EnsureAccessTx(ctx, tx, voterID, electionID, code.ID)
		return err
	})
	if err != nil {
		return nil, domain.Propagate("failed to reissue secret code", err)
	}

	s.deliver(ctx, out)
	s.audit.Security(ctx, audit.Event{
		Action:     audit.ActionCodeReissued,
		ActorID:    actor.UserID,
		ElectionID: electionID,
		Resource:   "secret_code:" + out.SecretCodeID,
		Details:    map[string]interface{}{"voter_id": voterID},
	})
	return out, nil
}

func (s *Service) deliver(ctx context.Context, en *Enrollment) {
	if s.notifier == nil {
		return
	}
	if err := s.notifier.DeliverCode(ctx, en.VoterID, en.ElectionID, en.Code); err != nil {
		s.log.WithError(err).Warning("Secret code delivery failed", "election_id", en.ElectionID)
	}
}
