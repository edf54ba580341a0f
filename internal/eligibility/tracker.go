// Package eligibility tracks which positions a voter may vote on and which
// they already voted on.
package eligibility

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/pkg/logger"
)

type Tracker struct {
	db        *database.DB
	access    *repositories.EligibilityRepository
	elections *repositories.ElectionRepository
	audit     *audit.Recorder
	clock     domain.Clock
	log       *logger.Logger
}

func NewTracker(db *database.DB, recorder *audit.Recorder, clock domain.Clock, log *logger.Logger) *Tracker {
	return &Tracker{
		db:        db,
		access:    repositories.NewEligibilityRepository(db),
		elections: repositories.NewElectionRepository(db),
		audit:     recorder,
		clock:     clock,
		log:       log.WithComponent("eligibility"),
	}
}

// EnsureAccess creates the voter's ACTIVE access on first code issue and relinks
// the code on reissue.
func (t *Tracker) EnsureAccess(ctx context.Context, voterID, electionID, secretCodeID string) (*domain.EligibilityAccess, error) {
	var a *domain.EligibilityAccess
	err := t.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		a, err = t.EnsureAccessTx(ctx, tx, voterID, electionID, secretCodeID)
		return err
	})
	if err != nil {
		return nil, domain.Propagate("failed to create voter access", err)
	}
	return a, nil
}

func (t *Tracker) EnsureAccessTx(ctx context.Context, tx *database.Tx, voterID, electionID, secretCodeID string) (*domain.EligibilityAccess, error) {
	repo := t.access.WithTx(tx)
	now := t.clock.Now()

	a, err := repo.Get(ctx, voterID, electionID)
	if errors.Is(err, domain.ErrAccessNotFound) {
		a = &domain.EligibilityAccess{
			ID:           uuid.NewString(),
			VoterID:      voterID,
			ElectionID:   electionID,
			SecretCodeID: secretCodeID,
			Status:       domain.AccessActive,
			CreatedAt:    now,
			UpdatedAt:    now,
		}
		if err := repo.Create(ctx, a); err != nil {
			return nil, err
		}
		return a, nil
	}
	if err != nil {
		return nil, err
	}
	if secretCodeID != "" && a.SecretCodeID != secretCodeID {
		a.SecretCodeID = secretCodeID
		a.UpdatedAt = now
		if err := repo.UpdateSummary(ctx, a); err != nil {
			return nil, err
		}
	}
	return a, nil
}

// Grant makes positionID votable for the voter. Granting an eligible position again
// changes nothing.
func (t *Tracker) Grant(ctx context.Context, actor domain.Actor, voterID, electionID, positionID, reason string) (*domain.EligibilityAccess, error) {
	var (
		a       *domain.EligibilityAccess
		changed bool
	)
	err := t.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		a, changed, err = t.GrantTx(ctx, tx, actor, voterID, electionID, positionID, reason)
		return err
	})
	if err != nil {
		return nil, domain.Propagate("failed to grant eligibility", err)
	}
	if changed {
		t.audit.Record(ctx, grantEvent(actor, a, positionID, reason))
	}
	return a, nil
}

// GrantTx is Grant inside the caller's transaction. It reports whether the position was new.
func (t *Tracker) GrantTx(ctx context.Context, tx *database.Tx, actor domain.Actor, voterID, electionID, positionID, reason string) (*domain.EligibilityAccess, bool, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, false, err
	}
	e, err := t.elections.WithTx(tx).GetByID(ctx, electionID)
	if err != nil {
		return nil, false, err
	}
	if _, ok := e.Position(positionID); !ok {
		return nil, false, domain.Validation("position %s does not belong to election %s", positionID, electionID)
	}

	repo := t.access.WithTx(tx)
	a, err := repo.Get(ctx, voterID, electionID)
	if err != nil {
		return nil, false, err
	}
	if a.Status == domain.AccessRevoked || a.Status == domain.AccessExpired {
		return nil, false, domain.Transition("access", string(a.Status), "grant")
	}

	now := t.clock.Now()
	if !a.Grant(positionID, reason, actor.UserID, now) {
		return a, false, nil
	}
	if err := repo.AddEligiblePosition(ctx, a.ID, a.PositionsEligible[len(a.PositionsEligible)-1]); err != nil {
		return nil, false, err
	}
	a.UpdatedAt = now
	if err := repo.UpdateSummary(ctx, a); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Check returns nil when the voter may vote on positionID, ErrAlreadyVoted or ErrNotEligible otherwise.
func (t *Tracker) Check(ctx context.Context, voterID, electionID, positionID string) error {
	a, err := t.access.Get(ctx, voterID, electionID)
	if errors.Is(err, domain.ErrAccessNotFound) {
		return domain.ErrNotEligible
	}
	if err != nil {
		return domain.Propagate("failed to load voter access", err)
	}
	return check(a, positionID)
}

func check(a *domain.EligibilityAccess, positionID string) error {
	if a.CanVote(positionID) {
		return nil
	}
	if _, voted := a.Voted(positionID); voted {
		return domain.ErrAlreadyVoted
	}
	return domain.NotEligible(a.Status)
}

// CanVote is true iff the access is ACTIVE, positionID is eligible and not yet voted.
func (t *Tracker) CanVote(ctx context.Context, voterID, electionID, positionID string) (bool, error) {
	err := t.Check(ctx, voterID, electionID, positionID)
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, domain.ErrAlreadyVoted), errors.Is(err, domain.ErrNotEligible):
		return false, nil
	}
	return false, err
}

// HasVoted reports whether positionID already carries a vote. Unknown voters have not voted.
func (t *Tracker) HasVoted(ctx context.Context, voterID, electionID, positionID string) (bool, error) {
	a, err := t.access.Get(ctx, voterID, electionID)
	if errors.Is(err, domain.ErrAccessNotFound) {
		return false, nil
	}
	if err != nil {
		return false, domain.Propagate("failed to load voter access", err)
	}
	_, voted := a.Voted(positionID)
	return voted, nil
}

// LockAccess loads the voter's access row for update inside tx and checks that
// positionID is still open. It orders concurrent vote transactions of one voter.
func (t *Tracker) LockAccess(ctx context.Context, tx *database.Tx, voterID, electionID, positionID string) (*domain.EligibilityAccess, error) {
	a, err := t.access.WithTx(tx).Get(ctx, voterID, electionID)
	if errors.Is(err, domain.ErrAccessNotFound) {
		return nil, domain.ErrNotEligible
	}
	if err != nil {
		return nil, err
	}
	if err := check(a, positionID); err != nil {
		return nil, err
	}
	return a, nil
}

// RecordVote marks positionID voted inside the vote transaction. A position that
// already carries a vote is returned untouched with recorded=false.
func (t *Tracker) RecordVote(ctx context.Context, tx *database.Tx, voterID, electionID, positionID, candidateID, voteID string, at time.Time) (a *domain.EligibilityAccess, recorded bool, err error) {
	repo := t.access.WithTx(tx)
	if a, err = repo.Get(ctx, voterID, electionID); err != nil {
		if errors.Is(err, domain.ErrAccessNotFound) {
			return nil, false, domain.ErrNotEligible
		}
		return nil, false, err
	}
	if _, voted := a.Voted(positionID); voted {
		return a, false, nil
	}
	if err := check(a, positionID); err != nil {
		return nil, false, err
	}

	a.RecordVote(positionID, candidateID, voteID, at)
	if err := repo.AddVotedPosition(ctx, a.ID, a.PositionsVoted[len(a.PositionsVoted)-1]); err != nil {
		return nil, false, err
	}
	a.UpdatedAt = at
	if err := repo.UpdateSummary(ctx, a); err != nil {
		return nil, false, err
	}
	return a, true, nil
}

// Suspend blocks voting until the access is reactivated
func (t *Tracker) Suspend(ctx context.Context, actor domain.Actor, voterID, electionID, reason string) (*domain.EligibilityAccess, error) {
	return t.changeStatus(ctx, actor, voterID, electionID, reason, (*domain.EligibilityAccess).Suspend)
}

// Reactivate restores suspended access. Revoked access cannot come back.
func (t *Tracker) Reactivate(ctx context.Context, actor domain.Actor, voterID, electionID, reason string) (*domain.EligibilityAccess, error) {
	return t.changeStatus(ctx, actor, voterID, electionID, reason, (*domain.EligibilityAccess).Reactivate)
}

// Revoke is terminal
func (t *Tracker) Revoke(ctx context.Context, actor domain.Actor, voterID, electionID, reason string) (*domain.EligibilityAccess, error) {
	return t.changeStatus(ctx, actor, voterID, electionID, reason, (*domain.EligibilityAccess).Revoke)
}

func (t *Tracker) changeStatus(
	ctx context.Context,
	actor domain.Actor,
	voterID, electionID, reason string,
	apply func(*domain.EligibilityAccess, string) error,
) (*domain.EligibilityAccess, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	var (
		a    *domain.EligibilityAccess
		from domain.AccessStatus
	)
	err := t.db.InTx(ctx, func(tx *database.Tx) error {
		repo := t.access.WithTx(tx)
		var err error
		if a, err = repo.Get(ctx, voterID, electionID); err != nil {
			return err
		}
		from = a.Status
		if err := apply(a, reason); err != nil {
			return err
		}
		a.UpdatedAt = t.clock.Now()
		return repo.UpdateSummary(ctx, a)
	})
	if err != nil {
		return nil, domain.Propagate("failed to change access status", err)
	}

	t.audit.Security(ctx, audit.Event{
		Action:     audit.ActionAccessStatus,
		ActorID:    actor.UserID,
		ElectionID: electionID,
		Resource:   "access:" + a.ID,
		Details: map[string]interface{}{
			"voter_id": voterID,
			"from":     string(from),
			"to":       string(a.Status),
			"reason":   reason,
		},
	})
	return a, nil
}

// ExpireElection closes every open access of an election. Returns the number expired.
func (t *Tracker) ExpireElection(ctx context.Context, electionID string) (int64, error) {
	n, err := t.access.ExpireByElection(ctx, electionID, t.clock.Now())
	if err != nil {
		return 0, domain.Propagate("failed to expire voter access", err)
	}
	if n > 0 {
		t.log.Info("Voter access expired", "election_id", electionID, "count", n)
		t.audit.Record(ctx, audit.Event{
			Action:     audit.ActionAccessExpired,
			ActorID:    domain.SystemActor.UserID,
			ElectionID: electionID,
			Details:    map[string]interface{}{"count": n},
		})
	}
	return n, nil
}

// Progress returns the voter's access with totals and progress
func (t *Tracker) Progress(ctx context.Context, voterID, electionID string) (*domain.EligibilityAccess, error) {
	a, err := t.access.Get(ctx, voterID, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load voter access", err)
	}
	return a, nil
}

func grantEvent(actor domain.Actor, a *domain.EligibilityAccess, positionID, reason string) audit.Event {
	return audit.Event{
		Action:     audit.ActionAccessGranted,
		ActorID:    actor.UserID,
		ElectionID: a.ElectionID,
		Resource:   "access:" + a.ID,
		Details: map[string]interface{}{
			"voter_id":    a.VoterID,
			"position_id": positionID,
			"reason":      reason,
		},
	}
}
