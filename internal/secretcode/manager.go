// Package secretcode issues and validates the per-voter election codes and
// enforces the brute-force lockout.
package secretcode

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/pkg/config"
	"election-service/pkg/logger"
)

// Attempt outcomes written to code_attempts
const (
	OutcomeOK           = "ok"
	OutcomeNotFound     = "not_found"
	OutcomeDeactivated  = "deactivated"
	OutcomeLocked       = "locked"
	OutcomeInvalid      = "invalid"
	OutcomeAlreadyVoted = "already_voted"
)

// VoteChecker answers whether a voter already voted on a position
type VoteChecker interface {
	HasVoted(ctx context.Context, voterID, electionID, positionID string) (bool, error)
}

// Options tune the lockout policy
type Options struct {
	MaxAttempts int
	Lockout     time.Duration
	Hasher      Hasher
}

// OptionsFromConfig maps the voting section of the config
func OptionsFromConfig(cfg config.VotingConfig) Options {
	return Options{
		MaxAttempts: cfg.CodeMaxAttempts,
		Lockout:     cfg.LockoutDuration,
		Hasher:      HasherFromConfig(cfg),
	}
}

type Manager struct {
	db        *database.DB
	codes     *repositories.SecretCodeRepository
	elections *repositories.ElectionRepository
	checker   VoteChecker
	audit     *audit.Recorder
	clock     domain.Clock
	opts      Options
	log       *logger.Logger
}

func NewManager(
	db *database.DB,
	checker VoteChecker,
	recorder *audit.Recorder,
	clock domain.Clock,
	opts Options,
	log *logger.Logger,
) *Manager {
	if opts.MaxAttempts <= 0 {
		opts.MaxAttempts = domain.DefaultMaxAttempts
	}
	if opts.Lockout <= 0 {
		opts.Lockout = domain.DefaultLockoutDuration
	}
	if opts.Hasher == (Hasher{}) {
		opts.Hasher = DefaultHasher
	}
	return &Manager{
		db:        db,
		codes:     repositories.NewSecretCodeRepository(db),
		elections: repositories.NewElectionRepository(db),
		checker:   checker,
		audit:     recorder,
		clock:     clock,
		opts:      opts,
		log:       log.WithComponent("secretcode"),
	}
}

// Generate issues a new code. The plaintext is returned once and never stored.
func (m *Manager) Generate(ctx context.Context, actor domain.Actor, voterID, electionID string) (string, *domain.SecretCode, error) {
	var (
		plain string
		code  *domain.SecretCode
	)
	err := m.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		plain, code, err = m.GenerateTx(ctx, tx, actor, voterID, electionID)
		return err
	})
	if err != nil {
		return "", nil, domain.Propagate("failed to issue secret code", err)
	}
	m.audit.Record(ctx, codeEvent(audit.ActionCodeIssued, actor, code, nil))
	return plain, code, nil
}

// GenerateTx issues a code inside the caller's transaction. The caller emits the audit event.
func (m *Manager) GenerateTx(ctx context.Context, tx *database.Tx, actor domain.Actor, voterID, electionID string) (string, *domain.SecretCode, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return "", nil, err
	}
	if strings.TrimSpace(voterID) == "" || strings.TrimSpace(electionID) == "" {
		return "", nil, domain.Validation("voter id and election id are required")
	}
	e, err := m.elections.WithTx(tx).GetByID(ctx, electionID)
	if err != nil {
		return "", nil, err
	}
	if e.Status.IsTerminal() {
		return "", nil, domain.PhaseError(domain.DerivePhase(e, m.clock.Now()), e.Status)
	}
	return m.issue(ctx, m.codes.WithTx(tx), actor, voterID, electionID)
}

func (m *Manager) issue(ctx context.Context, repo *repositories.SecretCodeRepository, actor domain.Actor, voterID, electionID string) (string, *domain.SecretCode, error) {
	plain, err := domain.GenerateCode()
	if err != nil {
		return "", nil, err
	}
	salt, err := newSalt()
	if err != nil {
		return "", nil, err
	}
	now := m.clock.Now()
	code := &domain.SecretCode{
		ID:          uuid.NewString(),
		VoterID:     voterID,
		ElectionID:  electionID,
		CodeHash:    m.opts.Hasher.Hash(plain, salt),
		Salt:        salt,
		MaxAttempts: m.opts.MaxAttempts,
		IsActive:    true,
		IssuedBy:    actor.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := repo.Create(ctx, code); err != nil {
		return "", nil, err
	}
	return plain, code, nil
}

// Validate checks input against the voter's code. Every call leaves a row in
// code_attempts, committed together with the attempt counters before returning.
// Malformed input counts as a wrong code. The returned code is non-nil only on success.
func (m *Manager) Validate(ctx context.Context, voterID, electionID, positionID, input string) (*domain.SecretCode, error) {
	input = domain.NormalizeCode(input)

	// HasVoted runs outside the attempt transaction.
	voted := false
	if positionID != "" && m.checker != nil {
		var err error
		voted, err = m.checker.HasVoted(ctx, voterID, electionID, positionID)
		if err != nil && !errors.Is(err, domain.ErrAccessNotFound) {
			return nil, domain.Propagate("failed to check voting state", err)
		}
	}

	now := m.clock.Now()
	var (
		code    *domain.SecretCode
		outcome string
		result  error
		locked  bool
	)
	err := m.db.InTx(ctx, func(tx *database.Tx) error {
		repo := m.codes.WithTx(tx)
		attempt := &database.CodeAttempt{
			VoterID:     voterID,
			ElectionID:  electionID,
			PositionID:  positionID,
			AttemptedAt: now,
		}

		current, err := repo.GetCurrent(ctx, voterID, electionID)
		if errors.Is(err, domain.ErrSecretCodeNotFound) {
			outcome, result = OutcomeNotFound, domain.ErrSecretCodeNotFound
			attempt.Outcome = outcome
			return repo.RecordAttempt(ctx, attempt)
		}
		if err != nil {
			return err
		}
		code = current
		attempt.SecretCodeID = current.ID

		dirty := false
		switch {
		case !current.IsActive:
			outcome, result = OutcomeDeactivated, domain.ErrSecretCodeDeactivated
		case current.LockedAt(now):
			outcome, result = OutcomeLocked, domain.CodeLocked(*current.LockedUntil, now)
		default:
			dirty = current.ClearExpiredLock(now)
			if !domain.ValidCodeFormat(input) || !m.opts.Hasher.Matches(input, current.Salt, current.CodeHash) {
				locked = current.RegisterFailure(now, m.opts.Lockout)
				dirty = true
				outcome, result = OutcomeInvalid, domain.InvalidCode(current.RemainingAttempts())
				break
			}
			if current.Attempts > 0 || current.IsLocked {
				current.RegisterSuccess()
				dirty = true
			}
			if voted {
				outcome, result = OutcomeAlreadyVoted, domain.ErrAlreadyVoted
			} else {
				outcome = OutcomeOK
			}
		}

		if dirty {
			current.UpdatedAt = now
			if err := repo.UpdateAttemptState(ctx, current); err != nil {
				return err
			}
		}
		attempt.Success = outcome == OutcomeOK
		attempt.Outcome = outcome
		return repo.RecordAttempt(ctx, attempt)
	})
	if err != nil {
		return nil, domain.Propagate("failed to validate secret code", err)
	}

	m.report(ctx, voterID, electionID, positionID, code, outcome, locked)
	if result != nil {
		return nil, result
	}
	return code, nil
}

func (m *Manager) report(ctx context.Context, voterID, electionID, positionID string, code *domain.SecretCode, outcome string, locked bool) {
	actor := domain.Actor{UserID: voterID, Role: domain.RoleVoter}
	details := map[string]interface{}{"position_id": positionID, "outcome": outcome}

	switch outcome {
	case OutcomeOK:
		m.audit.Record(ctx, codeEvent(audit.ActionCodeValidated, actor, code, details))
	case OutcomeInvalid:
		details["attempts"] = code.Attempts
		if locked {
			details["locked_until"] = code.LockedUntil
			m.log.Warning("Secret code locked", "voter_id", voterID, "election_id", electionID, "attempts", code.Attempts)
			m.audit.Security(ctx, codeEvent(audit.ActionCodeLocked, actor, code, details))
			return
		}
		m.audit.Record(ctx, codeEvent(audit.ActionCodeRejected, actor, code, details))
	case OutcomeDeactivated, OutcomeLocked:
		m.audit.Security(ctx, codeEvent(audit.ActionCodeRejected, actor, code, details))
	case OutcomeNotFound:
		m.audit.Record(ctx, audit.Event{
			Action:     audit.ActionCodeRejected,
			ActorID:    voterID,
			ElectionID: electionID,
			Resource:   "voter:" + voterID,
			Details:    details,
		})
	default:
		m.audit.Record(ctx, codeEvent(audit.ActionCodeRejected, actor, code, details))
	}
}

// Deactivate retires the voter's active code. The row is kept for the audit trail.
func (m *Manager) Deactivate(ctx context.Context, actor domain.Actor, voterID, electionID, reason string) error {
	if err := domain.RequirePrivileged(actor); err != nil {
		return err
	}
	var code *domain.SecretCode
	err := m.db.InTx(ctx, func(tx *database.Tx) error {
		repo := m.codes.WithTx(tx)
		var err error
		if code, err = repo.GetCurrent(ctx, voterID, electionID); err != nil {
			return err
		}
		if !code.IsActive {
			return domain.ErrSecretCodeDeactivated
		}
		return repo.Deactivate(ctx, code.ID, m.clock.Now())
	})
	if err != nil {
		return domain.Propagate("failed to deactivate secret code", err)
	}
	m.audit.Security(ctx, codeEvent(audit.ActionCodeDeactivated, actor, code, map[string]interface{}{"reason": reason}))
	return nil
}

// Reissue retires the current code and issues a new one in the same transaction.
func (m *Manager) Reissue(ctx context.Context, actor domain.Actor, voterID, electionID string) (string, *domain.SecretCode, error) {
	var (
		plain string
		code  *domain.SecretCode
	)
	err := m.db.InTx(ctx, func(tx *database.Tx) error {
		var err error
		plain, code, err = m.ReissueTx(ctx, tx, actor, voterID, electionID)
		return err
	})
	if err != nil {
		return "", nil, domain.Propagate("failed to reissue secret code", err)
	}
	m.audit.Record(ctx, codeEvent(audit.ActionCodeReissued, actor, code, nil))
	return plain, code, nil
}

// ReissueTx is Reissue inside the caller's transaction.
func (m *Manager) ReissueTx(ctx context.Context, tx *database.Tx, actor domain.Actor, voterID, electionID string) (string, *domain.SecretCode, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return "", nil, err
	}
	repo := m.codes.WithTx(tx)
	current, err := repo.GetCurrent(ctx, voterID, electionID)
	if err != nil {
		return "", nil, err
	}
	if current.IsActive {
		if err := repo.Deactivate(ctx, current.ID, m.clock.Now()); err != nil {
			return "", nil, err
		}
	}
	return m.GenerateTx(ctx, tx, actor, voterID, electionID)
}

// AppendUsage logs the position a code voted on. Runs inside the vote transaction.
func (m *Manager) AppendUsage(ctx context.Context, tx *database.Tx, codeID, positionID, candidateID string, at time.Time) error {
	return m.codes.WithTx(tx).AppendUsage(ctx, codeID, domain.CodeUsage{
		PositionID:  positionID,
		CandidateID: candidateID,
		UsedAt:      at,
	})
}

// Get returns the voter's current code with its usage log
func (m *Manager) Get(ctx context.Context, voterID, electionID string) (*domain.SecretCode, error) {
	code, err := m.codes.GetCurrent(ctx, voterID, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load secret code", err)
	}
	if code.UsageLog, err = m.codes.ListUsage(ctx, code.ID); err != nil {
		return nil, domain.Propagate("failed to load code usage", err)
	}
	return code, nil
}

// Attempts returns the durable attempt log of a voter
func (m *Manager) Attempts(ctx context.Context, voterID, electionID string) ([]database.CodeAttempt, error) {
	attempts, err := m.codes.ListAttempts(ctx, voterID, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load code attempts", err)
	}
	return attempts, nil
}

func codeEvent(action string, actor domain.Actor, code *domain.SecretCode, details map[string]interface{}) audit.Event {
	return audit.Event{
		Action:     action,
		ActorID:    actor.UserID,
		ElectionID: code.ElectionID,
		Resource:   "secret_code:" + code.ID,
		Details:    details,
	}
}
