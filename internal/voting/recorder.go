// Package voting records ballots. A vote passes the phase gate, the secret code and
// the eligibility check, then is chained, signed and stored in one transaction.
package voting

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/google/uuid"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/notify"
	"election-service/internal/phase"
	"election-service/internal/receipt"
	"election-service/internal/results"
	"election-service/internal/secretcode"
	"election-service/pkg/logger"
)

// SubmitVoteRequest is one ballot for one position
type SubmitVoteRequest struct {
	VoterID          string
	ElectionID       string
	PositionID       string
	CandidateID      string
	IsAbstention     bool
	AbstentionReason string
	SecretCode       string
}

// Receipt is returned to the voter after a vote is stored
type Receipt struct {
	VoteID        string            `json:"vote_id"`
	ElectionID    string            `json:"election_id"`
	PositionID    string            `json:"position_id"`
	ReceiptHash   string            `json:"receipt_hash"`
	Status        domain.VoteStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	ChainHash     string            `json:"chain_hash"`
	Signature     string            `json:"signature"`
	SignerAddress string            `json:"signer_address"`
	Progress      int               `json:"progress"`
	Replayed      bool              `json:"replayed"`
}

// ReceiptCheck is the public view of a receipt. It never names the voter or the choice.
type ReceiptCheck struct {
	ReceiptHash   string            `json:"receipt_hash"`
	ElectionID    string            `json:"election_id"`
	PositionID    string            `json:"position_id"`
	Status        domain.VoteStatus `json:"status"`
	Timestamp     time.Time         `json:"timestamp"`
	SignatureOK   bool              `json:"signature_ok"`
	SignerAddress string            `json:"signer_address"`
}

// Deps are the collaborators of a Recorder
type Deps struct {
	DB          *database.DB
	Phases      *phase.Engine
	Codes       *secretcode.Manager
	Eligibility *eligibility.Tracker
	Results     *results.Engine
	Signer      *receipt.Signer
	Notifier    notify.Dispatcher
	Audit       *audit.Recorder
	Clock       domain.Clock
	Log         *logger.Logger
	// LockWait bounds the wait for a voter's lock. Zero waits as long as ctx allows.
	LockWait time.Duration
}

type Recorder struct {
	db          *database.DB
	votes       *repositories.VoteRepository
	elections   *repositories.ElectionRepository
	phases      *phase.Engine
	codes       *secretcode.Manager
	eligibility *eligibility.Tracker
	results     *results.Engine
	signer      *receipt.Signer
	notifier    notify.Dispatcher
	audit       *audit.Recorder
	clock       domain.Clock
	log         *logger.Logger
	lockWait    time.Duration
	locks       *keyedLocks
}

func NewRecorder(d Deps) *Recorder {
	return &Recorder{
		db:          d.DB,
		votes:       repositories.NewVoteRepository(d.DB),
		elections:   repositories.NewElectionRepository(d.DB),
		phases:      d.Phases,
		codes:       d.Codes,
		eligibility: d.Eligibility,
		results:     d.Results,
		signer:      d.Signer,
		notifier:    d.Notifier,
		audit:       d.Audit,
		clock:       d.Clock,
		log:         d.Log.WithComponent("voting"),
		lockWait:    d.LockWait,
		locks:       newKeyedLocks(),
	}
}

func validateRequest(req *SubmitVoteRequest) error {
	req.CandidateID = strings.TrimSpace(req.CandidateID)
	req.AbstentionReason = strings.TrimSpace(req.AbstentionReason)
	switch {
	case req.VoterID == "":
		return domain.Validation("voter id is required")
	case req.ElectionID == "":
		return domain.Validation("election id is required")
	case req.PositionID == "":
		return domain.Validation("position id is required")
	case strings.TrimSpace(req.SecretCode) == "":
		return domain.Validation("secret code is required")
	}
	if req.IsAbstention {
		if req.CandidateID != "" {
			return domain.Validation("an abstention cannot name a candidate")
		}
		if req.AbstentionReason == "" {
			return domain.Validation("an abstention requires a reason")
		}
		return nil
	}
	if req.CandidateID == "" {
		return domain.Validation("candidate id is required unless abstaining")
	}
	return nil
}

// SubmitVote records one ballot. Repeating an identical ballot returns the original
// receipt with Replayed set; a different ballot for a voted position is AlreadyVoted.
func (r *Recorder) SubmitVote(ctx context.Context, req SubmitVoteRequest) (*Receipt, error) {
	if err := validateRequest(&req); err != nil {
		return nil, err
	}

	gate, err := r.phases.Gate(ctx, req.ElectionID)
	if err != nil {
		return nil, err
	}
	position, ok := gate.Election.Position(req.PositionID)
	if !ok {
		return nil, domain.Validation("position %s is not part of this election", req.PositionID)
	}
	if !req.IsAbstention && !position.HasCandidate(req.CandidateID) {
		return nil, domain.Validation("candidate %s does not stand for %s", req.CandidateID, req.PositionID)
	}

	release, err := r.lock(ctx, req.VoterID, req.ElectionID)
	if err != nil {
		return nil, err
	}
	defer release()

	code, err := r.codes.Validate(ctx, req.VoterID, req.ElectionID, req.PositionID, req.SecretCode)
	if errors.Is(err, domain.ErrAlreadyVoted) {
		return r.replay(ctx, req)
	}
	if err != nil {
		return nil, err
	}
	if err := r.eligibility.Check(ctx, req.VoterID, req.ElectionID, req.PositionID); err != nil {
		if errors.Is(err, domain.ErrAlreadyVoted) {
			return r.replay(ctx, req)
		}
		return nil, err
	}

	// the hash carries microseconds, which every driver stores exactly
	at := gate.At.UTC().Truncate(time.Microsecond)
	salt, err := newSalt()
	if err != nil {
		return nil, domain.Internal("failed to generate vote salt", err)
	}
	v := &domain.Vote{
		ID:               uuid.NewString(),
		ElectionID:       req.ElectionID,
		PositionID:       req.PositionID,
		CandidateID:      req.CandidateID,
		IsAbstention:     req.IsAbstention,
		AbstentionReason: req.AbstentionReason,
		VoterID:          req.VoterID,
		SecretCodeID:     code.ID,
		Status:           domain.VoteCast,
		Salt:             salt,
		Timestamp:        at,
		UpdatedAt:        at,
	}
	v.VoteHash = v.RecomputeHash()
	v.ReceiptHash = domain.ReceiptFromHash(v.VoteHash)

	start := time.Now()
	var access *domain.EligibilityAccess
	for attempt := 1; ; attempt++ {
		access, err = r.store(ctx, v, code.ID)
		if !errors.Is(err, domain.ErrConcurrentVote) || attempt == chainAttempts {
			break
		}
		r.log.Warning("Vote chain link taken concurrently, retrying", "election_id", v.ElectionID, "attempt", attempt)
	}
	if errors.Is(err, domain.ErrAlreadyVoted) {
		return r.replay(ctx, req)
	}
	if err != nil {
		r.log.PerformanceLogger("vote.submit", time.Since(start), false)
		return nil, domain.Propagate("failed to record vote", err)
	}
	r.log.PerformanceLogger("vote.submit", time.Since(start), true)

	r.afterCommit(ctx, v)
	rcpt := r.receiptOf(v)
	rcpt.Progress = access.Progress
	return rcpt, nil
}

// chainAttempts bounds the retries of a vote whose chain link was taken by another instance
const chainAttempts = 3

// store writes v in one transaction. The voter's access row is locked before the
// chain head is read, so concurrent transactions of one voter link in order.
func (r *Recorder) store(ctx context.Context, v *domain.Vote, codeID string) (*domain.EligibilityAccess, error) {
	var access *domain.EligibilityAccess
	err := r.db.InTx(ctx, func(tx *database.Tx) error {
		if _, err := r.eligibility.LockAccess(ctx, tx, v.VoterID, v.ElectionID, v.PositionID); err != nil {
			return err
		}

		votes := r.votes.WithTx(tx)
		seq, prev, err := votes.ChainHead(ctx, v.ElectionID, v.VoterID)
		if err != nil {
			return err
		}
		if err := r.signer.Seal(v, seq, prev); err != nil {
			return err
		}
		if err := votes.Insert(ctx, v); err != nil {
			return err
		}

		a, recorded, err := r.eligibility.RecordVote(ctx, tx, v.VoterID, v.ElectionID, v.PositionID, v.CandidateID, v.ID, v.Timestamp)
		if err != nil {
			return err
		}
		if !recorded {
			return domain.ErrAlreadyVoted
		}
		access = a

		if err := r.codes.AppendUsage(ctx, tx, codeID, v.PositionID, v.CandidateID, v.Timestamp); err != nil {
			return err
		}
		return r.elections.WithTx(tx).BumpResultsVersion(ctx, v.ElectionID)
	})
	return access, err
}

func (r *Recorder) lock(ctx context.Context, voterID, electionID string) (func(), error) {
	if r.lockWait > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.lockWait)
		defer cancel()
	}
	release, err := r.locks.Acquire(ctx, voterID+"|"+electionID)
	if err != nil {
		return nil, domain.Internal("timed out waiting for a concurrent vote of this voter", err)
	}
	return release, nil
}

// afterCommit runs the side effects of a stored vote. None of them can undo it.
func (r *Recorder) afterCommit(ctx context.Context, v *domain.Vote) {
	if err := r.results.Invalidate(ctx, v.ElectionID); err != nil {
		r.log.WithError(err).Warning("Result cache invalidation failed", "election_id", v.ElectionID)
	}
	if r.notifier != nil {
		err := r.notifier.DeliverReceipt(ctx, v.VoterID, notify.ReceiptNotice{
			ElectionID:  v.ElectionID,
			PositionID:  v.PositionID,
			ReceiptHash: v.ReceiptHash,
			CastAt:      v.Timestamp,
		})
		if err != nil {
			r.log.WithError(err).Warning("Receipt delivery failed", "election_id", v.ElectionID)
		}
	}
	r.log.VotingLogger("vote_cast", v.ElectionID, v.ReceiptHash, fmt.Sprintf("position=%s", v.PositionID))
	r.audit.Record(ctx, audit.Event{
		Action:     audit.ActionVoteCast,
		ActorID:    v.VoterID,
		ElectionID: v.ElectionID,
		Resource:   "vote:" + v.ID,
		Details: map[string]interface{}{
			"position_id":  v.PositionID,
			"receipt_hash": v.ReceiptHash,
			"chain_seq":    v.ChainSeq,
		},
	})
}

// replay resolves AlreadyVoted. The stored vote is handed back only when it is the
// same ballot as req.
func (r *Recorder) replay(ctx context.Context, req SubmitVoteRequest) (*Receipt, error) {
	v, err := r.votes.GetCounted(ctx, req.ElectionID, req.VoterID, req.PositionID)
	if errors.Is(err, domain.ErrVoteNotFound) {
		return nil, domain.ErrAlreadyVoted
	}
	if err != nil {
		return nil, domain.Propagate("failed to load recorded vote", err)
	}
	if v.IsAbstention != req.IsAbstention || v.CandidateID != req.CandidateID {
		return nil, domain.ErrAlreadyVoted
	}

	rcpt := r.receiptOf(v)
	rcpt.Replayed = true
	if a, err := r.eligibility.Progress(ctx, req.VoterID, req.ElectionID); err == nil {
		rcpt.Progress = a.Progress
	}
	r.log.Info("Vote replayed", "election_id", v.ElectionID, "position_id", v.PositionID, "receipt", v.ReceiptHash)
	return rcpt, nil
}

func (r *Recorder) receiptOf(v *domain.Vote) *Receipt {
	return &Receipt{
		VoteID:        v.ID,
		ElectionID:    v.ElectionID,
		PositionID:    v.PositionID,
		ReceiptHash:   v.ReceiptHash,
		Status:        v.Status,
		Timestamp:     v.Timestamp,
		ChainHash:     v.ChainHash,
		Signature:     v.Signature,
		SignerAddress: r.signer.Address(),
	}
}

var receiptPattern = regexp.MustCompile(`^[0-9A-F]{16}$`)

// VerifyReceipt looks a receipt up and checks the stored vote still matches its signature.
func (r *Recorder) VerifyReceipt(ctx context.Context, receiptHash string) (*ReceiptCheck, error) {
	receiptHash = strings.ToUpper(strings.TrimSpace(receiptHash))
	if !receiptPattern.MatchString(receiptHash) {
		return nil, domain.Validation("receipt must be %d hex characters", domain.ReceiptLength)
	}
	v, err := r.votes.GetByReceipt(ctx, receiptHash)
	if err != nil {
		return nil, domain.Propagate("failed to load vote", err)
	}
	return &ReceiptCheck{
		ReceiptHash:   v.ReceiptHash,
		ElectionID:    v.ElectionID,
		PositionID:    v.PositionID,
		Status:        v.Status,
		Timestamp:     v.Timestamp,
		SignatureOK:   r.signer.VerifyVote(v, v.PrevChainHash) == nil,
		SignerAddress: r.signer.Address(),
	}, nil
}

// SetVoteStatus lets an admin dispute or invalidate a vote. Either change leaves
// the vote out of the tally.
func (r *Recorder) SetVoteStatus(ctx context.Context, actor domain.Actor, voteID string, status domain.VoteStatus, reason string) (*domain.Vote, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	if status != domain.VoteDisputed && status != domain.VoteInvalid {
		return nil, domain.Validation("a vote can only be marked %s or %s", domain.VoteDisputed, domain.VoteInvalid)
	}
	reason = strings.TrimSpace(reason)
	if reason == "" {
		return nil, domain.Validation("a reason is required")
	}

	now := r.clock.Now()
	var (
		v    *domain.Vote
		from domain.VoteStatus
	)
	err := r.db.InTx(ctx, func(tx *database.Tx) error {
		votes := r.votes.WithTx(tx)
		var err error
		if v, err = votes.GetByID(ctx, voteID); err != nil {
			return err
		}
		from = v.Status
		if !domain.CanTransition(from, status) {
			return domain.Transition("vote", string(from), string(status))
		}
		if err := votes.UpdateStatus(ctx, v.ID, status, reason, now); err != nil {
			return err
		}
		v.Status, v.StatusReason, v.UpdatedAt = status, reason, now
		return r.elections.WithTx(tx).BumpResultsVersion(ctx, v.ElectionID)
	})
	if err != nil {
		return nil, domain.Propagate("failed to change vote status", err)
	}

	if err := r.results.Invalidate(ctx, v.ElectionID); err != nil {
		r.log.WithError(err).Warning("Result cache invalidation failed", "election_id", v.ElectionID)
	}
	r.audit.Security(ctx, audit.Event{
		Action:     audit.ActionVoteStatus,
		ActorID:    actor.UserID,
		ElectionID: v.ElectionID,
		Resource:   "vote:" + v.ID,
		Details:    map[string]interface{}{"from": string(from), "to": string(status), "reason": reason},
	})
	return v, nil
}

func newSalt() (string, error) {
	b := make([]byte, 16)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return hex.EncodeToString(b), nil
}
