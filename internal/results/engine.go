// Package results tallies elections and keeps the stored and cached snapshots current.
package results

import (
	"context"
	"errors"
	"time"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/receipt"
	"election-service/pkg/logger"
)

// Result events pushed to subscribers
const (
	EventInvalidated = "results_invalidated"
	EventUpdated     = "results_updated"
)

// DefaultCacheTTL applies when no TTL is configured
const DefaultCacheTTL = 5 * time.Minute

// Publisher pushes result events to live subscribers
type Publisher interface {
	Publish(electionID, event string, payload interface{})
}

// RecountFailure is a vote that failed verification
type RecountFailure struct {
	VoteID string `json:"vote_id"`
	Reason string `json:"reason"`
}

// RecountReport summarises a recount
type RecountReport struct {
	ElectionID string                 `json:"election_id"`
	Checked    int                    `json:"checked"`
	Counted    int                    `json:"counted"`
	Recounted  int                    `json:"recounted"`
	Disputed   int                    `json:"disputed"`
	Failures   []RecountFailure       `json:"failures,omitempty"`
	Snapshot   *domain.ResultSnapshot `json:"snapshot"`
}

type Engine struct {
	db        *database.DB
	elections *repositories.ElectionRepository
	votes     *repositories.VoteRepository
	snapshots *repositories.ResultRepository
	cache     Cache
	signer    *receipt.Signer
	publisher Publisher
	audit     *audit.Recorder
	clock     domain.Clock
	ttl       time.Duration
	log       *logger.Logger
}

func NewEngine(
	db *database.DB,
	cache Cache,
	signer *receipt.Signer,
	recorder *audit.Recorder,
	clock domain.Clock,
	ttl time.Duration,
	log *logger.Logger,
) *Engine {
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return &Engine{
		db:        db,
		elections: repositories.NewElectionRepository(db),
		votes:     repositories.NewVoteRepository(db),
		snapshots: repositories.NewResultRepository(db),
		cache:     cache,
		signer:    signer,
		audit:     recorder,
		clock:     clock,
		ttl:       ttl,
		log:       log.WithComponent("results"),
	}
}

// SetPublisher attaches the live results stream
func (en *Engine) SetPublisher(p Publisher) {
	en.publisher = p
}

func (en *Engine) publish(electionID, event string, payload interface{}) {
	if en.publisher != nil {
		en.publisher.Publish(electionID, event, payload)
	}
}

// Calculate returns the current tally. A cached or stored snapshot is reused while
// its results version matches the election's; promoted snapshots are frozen.
func (en *Engine) Calculate(ctx context.Context, electionID string) (*domain.ResultSnapshot, error) {
	version, err := en.elections.ResultsVersion(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to read results version", err)
	}

	cached, err := en.cache.Get(ctx, electionID)
	if err != nil {
		en.log.WithError(err).Warning("Result cache read failed", "election_id", electionID)
	}
	if cached != nil && (cached.ResultsVersion == version || cached.Status != domain.ResultProvisional) {
		return cached, nil
	}

	stored, err := en.snapshots.Get(ctx, electionID)
	switch {
	case errors.Is(err, domain.ErrResultNotFound):
	case err != nil:
		return nil, domain.Propagate("failed to load result snapshot", err)
	case stored.Status != domain.ResultProvisional || stored.ResultsVersion == version:
		en.store(ctx, stored)
		return stored, nil
	}
	return en.recalculate(ctx, electionID, nil)
}

// recalculate tallies every counted vote and overwrites the snapshot row. Promotion
// fields are carried over from prev.
func (en *Engine) recalculate(ctx context.Context, electionID string, prev *domain.ResultSnapshot) (*domain.ResultSnapshot, error) {
	e, err := en.elections.GetByID(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load election", err)
	}
	votes, err := en.votes.ListByElection(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load votes", err)
	}

	start := time.Now()
	snap := domain.Tally(e, votes, en.clock.Now())
	if prev != nil {
		snap.Status = prev.Status
		snap.PromotedBy = prev.PromotedBy
		snap.PromotedAt = prev.PromotedAt
		if err := en.snapshots.Upsert(ctx, snap); err != nil {
			return nil, domain.Propagate("failed to store result snapshot", err)
		}
	} else {
		written, err := en.snapshots.UpsertProvisional(ctx, snap)
		if err != nil {
			return nil, domain.Propagate("failed to store result snapshot", err)
		}
		if !written {
			// promoted while we were counting
			return en.Snapshot(ctx, electionID)
		}
	}
	en.log.PerformanceLogger("results.tally", time.Since(start), true)
	en.store(ctx, snap)
	en.publish(electionID, EventUpdated, snap)
	return snap, nil
}

func (en *Engine) store(ctx context.Context, snap *domain.ResultSnapshot) {
	if err := en.cache.Set(ctx, snap, en.ttl); err != nil {
		en.log.WithError(err).Warning("Result cache write failed", "election_id", snap.ElectionID)
	}
}

// Invalidate drops the cached tally. The next Calculate re-tallies.
func (en *Engine) Invalidate(ctx context.Context, electionID string) error {
	if err := en.cache.Delete(ctx, electionID); err != nil {
		return domain.Propagate("failed to invalidate result cache", err)
	}
	en.publish(electionID, EventInvalidated, map[string]string{"election_id": electionID})
	return nil
}

// Recalculate forces a fresh tally of a provisional snapshot.
func (en *Engine) Recalculate(ctx context.Context, actor domain.Actor, electionID string) (*domain.ResultSnapshot, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	stored, err := en.snapshots.Get(ctx, electionID)
	switch {
	case errors.Is(err, domain.ErrResultNotFound):
	case err != nil:
		return nil, domain.Propagate("failed to load result snapshot", err)
	case stored.Status != domain.ResultProvisional:
		return nil, domain.Transition("results", string(stored.Status), string(domain.ResultProvisional))
	}
	return en.recalculate(ctx, electionID, nil)
}

// Promote certifies the snapshot. Only elections that stopped accepting ballots
// can be promoted and nothing returns to PROVISIONAL.
func (en *Engine) Promote(ctx context.Context, actor domain.Actor, electionID string, to domain.ResultStatus) (*domain.ResultSnapshot, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	if err := en.requireClosed(ctx, electionID); err != nil {
		return nil, err
	}
	if _, err := en.Calculate(ctx, electionID); err != nil {
		return nil, err
	}

	now := en.clock.Now()
	var (
		snap *domain.ResultSnapshot
		from domain.ResultStatus
	)
	err := en.db.InTx(ctx, func(tx *database.Tx) error {
		repo := en.snapshots.WithTx(tx)
		var err error
		if snap, err = repo.Get(ctx, electionID); err != nil {
			return err
		}
		from = snap.Status
		if !domain.CanPromote(from, to) {
			return domain.Transition("results", string(from), string(to))
		}
		snap.Status = to
		snap.PromotedBy = actor.UserID
		snap.PromotedAt = &now
		return repo.Upsert(ctx, snap)
	})
	if err != nil {
		return nil, domain.Propagate("failed to promote results", err)
	}

	en.store(ctx, snap)
	en.publish(electionID, EventUpdated, snap)
	en.audit.Record(ctx, audit.Event{
		Action:     audit.ActionResultsPromoted,
		ActorID:    actor.UserID,
		ElectionID: electionID,
		Resource:   "results:" + electionID,
		Details:    map[string]interface{}{"from": string(from), "to": string(to)},
	})
	return snap, nil
}

func (en *Engine) requireClosed(ctx context.Context, electionID string) error {
	e, err := en.elections.GetByID(ctx, electionID)
	if err != nil {
		return domain.Propagate("failed to load election", err)
	}
	now := en.clock.Now()
	current := domain.DerivePhase(e, now)
	if domain.CanVote(e, now) || current.Ordinal() < domain.PhaseVoting.Ordinal() {
		return domain.PhaseError(current, e.Status)
	}
	return nil
}

// Recount verifies every stored vote against its hash, chain link and signature.
// Votes that fail are marked DISPUTED and raised as security events; nothing is
// repaired. Verified votes move to COUNTED, or RECOUNTED when already counted.
// A FINAL snapshot with failures becomes CONTESTED; a VERIFIED one cannot be recounted.
func (en *Engine) Recount(ctx context.Context, actor domain.Actor, electionID string) (*RecountReport, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	if err := en.requireClosed(ctx, electionID); err != nil {
		return nil, err
	}
	prev, err := en.snapshots.Get(ctx, electionID)
	if err != nil && !errors.Is(err, domain.ErrResultNotFound) {
		return nil, domain.Propagate("failed to load result snapshot", err)
	}
	if prev != nil && prev.Status == domain.ResultVerified {
		return nil, domain.Transition("results", string(prev.Status), "recount")
	}

	votes, err := en.votes.ListByElection(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load votes", err)
	}
	failures := en.signer.VerifyChains(votes)

	report := &RecountReport{ElectionID: electionID}
	now := en.clock.Now()
	err = en.db.InTx(ctx, func(tx *database.Tx) error {
		repo := en.votes.WithTx(tx)
		for _, v := range votes {
			if !v.Status.Counts() {
				continue
			}
			report.Checked++
			next, reason := domain.VoteCounted, "recount verified"
			if failure, bad := failures[v.ID]; bad {
				next, reason = domain.VoteDisputed, failureReason(failure)
			} else if v.Status == domain.VoteCounted || v.Status == domain.VoteRecounted {
				next = domain.VoteRecounted
			}
			if !domain.CanTransition(v.Status, next) {
				continue
			}
			if err := repo.UpdateStatus(ctx, v.ID, next, reason, now); err != nil {
				return err
			}
			switch next {
			case domain.VoteDisputed:
				report.Disputed++
				report.Failures = append(report.Failures, RecountFailure{VoteID: v.ID, Reason: reason})
			case domain.VoteRecounted:
				report.Recounted++
			default:
				report.Counted++
			}
		}
		return en.elections.WithTx(tx).BumpResultsVersion(ctx, electionID)
	})
	if err != nil {
		return nil, domain.Propagate("failed to record recount", err)
	}

	for _, f := range report.Failures {
		en.audit.Security(ctx, audit.Event{
			Action:     audit.ActionIntegrityViolation,
			ActorID:    actor.UserID,
			ElectionID: electionID,
			Resource:   "vote:" + f.VoteID,
			Details:    map[string]interface{}{"reason": f.Reason},
		})
	}

	if prev != nil && prev.Status == domain.ResultFinal && report.Disputed > 0 {
		prev.Status = domain.ResultContested
	}
	if report.Snapshot, err = en.recalculate(ctx, electionID, prev); err != nil {
		return nil, err
	}

	en.audit.Record(ctx, audit.Event{
		Action:     audit.ActionResultsRecount,
		ActorID:    actor.UserID,
		ElectionID: electionID,
		Resource:   "results:" + electionID,
		Details: map[string]interface{}{
			"checked":   report.Checked,
			"counted":   report.Counted,
			"recounted": report.Recounted,
			"disputed":  report.Disputed,
		},
	})
	en.log.Info("Recount finished", "election_id", electionID, "checked", report.Checked, "disputed", report.Disputed)
	return report, nil
}

func failureReason(err error) string {
	if reason, ok := domain.AsError(err).Details["reason"].(string); ok {
		return reason
	}
	return err.Error()
}

// Snapshot returns the stored snapshot without recalculating
func (en *Engine) Snapshot(ctx context.Context, electionID string) (*domain.ResultSnapshot, error) {
	snap, err := en.snapshots.Get(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load result snapshot", err)
	}
	return snap, nil
}
