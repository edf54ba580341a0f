// Package phase derives election phases from wall-clock time and gates the
// operations each phase allows.
package phase

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/pkg/logger"
)

// Status is the phase view of an election at one instant
type Status struct {
	ElectionID    string                `json:"election_id"`
	Status        domain.ElectionStatus `json:"status"`
	Phase         domain.Phase          `json:"phase"`
	CanVote       bool                  `json:"can_vote"`
	CanRegister   bool                  `json:"can_register"`
	CanNominate   bool                  `json:"can_nominate"`
	CampaignOpen  bool                  `json:"campaign_open"`
	StartDateTime time.Time             `json:"start_date_time"`
	EndDateTime   time.Time             `json:"end_date_time"`
	Now           time.Time             `json:"now"`
}

// Gate is the voting decision taken once at the start of a vote. Whatever
// happens to the clock afterwards, the vote is judged by this snapshot.
type Gate struct {
	Election *domain.Election
	Phase    domain.Phase
	At       time.Time
}

// TerminalHook runs after an election reached a terminal status
type TerminalHook func(ctx context.Context, e *domain.Election)

type Engine struct {
	db        *database.DB
	elections *repositories.ElectionRepository
	audit     *audit.Recorder
	clock     domain.Clock
	log       *logger.Logger

	mu    sync.RWMutex
	hooks []TerminalHook
}

func NewEngine(db *database.DB, recorder *audit.Recorder, clock domain.Clock, log *logger.Logger) *Engine {
	return &Engine{
		db:        db,
		elections: repositories.NewElectionRepository(db),
		audit:     recorder,
		clock:     clock,
		log:       log.WithComponent("phase"),
	}
}

// OnTerminal registers a hook run after complete, cancel or freeze
func (en *Engine) OnTerminal(hook TerminalHook) {
	en.mu.Lock()
	defer en.mu.Unlock()
	en.hooks = append(en.hooks, hook)
}

// Create validates and stores a DRAFT election with its positions and candidates.
func (en *Engine) Create(ctx context.Context, actor domain.Actor, e *domain.Election) (*domain.Election, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	now := en.clock.Now()
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	e.Status = domain.ElectionDraft
	e.ResultsVersion = 0
	e.CreatedBy = actor.UserID
	e.CreatedAt, e.UpdatedAt = now, now
	for i := range e.Positions {
		p := &e.Positions[i]
		p.ElectionID = e.ID
		if p.MaxWinners == 0 {
			p.MaxWinners = 1
		}
		if p.SortOrder == 0 {
			p.SortOrder = i + 1
		}
		if strings.TrimSpace(p.Title) == "" {
			p.Title = p.ID
		}
		for j := range p.Candidates {
			p.Candidates[j].PositionID = p.ID
		}
	}
	if err := e.Validate(); err != nil {
		return nil, err
	}
	e.CurrentPhase = domain.DerivePhase(e, now)

	err := en.db.InTx(ctx, func(tx *database.Tx) error {
		return en.elections.WithTx(tx).Create(ctx, e)
	})
	if err != nil {
		return nil, domain.Propagate("failed to create election", err)
	}

	en.audit.Record(ctx, audit.Event{
		Action:     audit.ActionElectionCreated,
		ActorID:    actor.UserID,
		ElectionID: e.ID,
		Resource:   "election:" + e.ID,
		Details:    map[string]interface{}{"name": e.Name, "positions": len(e.Positions)},
	})
	en.log.Info("Election created", "election_id", e.ID, "phase", e.CurrentPhase)
	return e, nil
}

// Get loads an election with its phase derived for now
func (en *Engine) Get(ctx context.Context, electionID string) (*domain.Election, error) {
	e, err := en.elections.GetByID(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load election", err)
	}
	e.CurrentPhase = domain.DerivePhase(e, en.clock.Now())
	return e, nil
}

// Status recomputes the phase and persists it when it moved.
func (en *Engine) Status(ctx context.Context, electionID string) (*Status, error) {
	e, err := en.elections.GetByID(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load election", err)
	}
	now := en.clock.Now()
	if err := en.refresh(ctx, e, now); err != nil {
		return nil, err
	}
	return statusOf(e, now), nil
}

func statusOf(e *domain.Election, now time.Time) *Status {
	return &Status{
		ElectionID:    e.ID,
		Status:        e.Status,
		Phase:         e.CurrentPhase,
		CanVote:       domain.CanVote(e, now),
		CanRegister:   domain.CanRegisterVoters(e, now),
		CanNominate:   domain.CanNominateCandidates(e, now),
		CampaignOpen:  domain.CampaignOpen(e, now),
		StartDateTime: e.StartDateTime,
		EndDateTime:   e.EndDateTime,
		Now:           now,
	}
}

// refresh stores the derived phase when it differs from the stored one.
func (en *Engine) refresh(ctx context.Context, e *domain.Election, now time.Time) error {
	derived := domain.DerivePhase(e, now)
	if derived == e.CurrentPhase {
		return nil
	}
	if err := en.elections.UpdatePhase(ctx, e.ID, derived, now); err != nil {
		return domain.Propagate("failed to store election phase", err)
	}
	en.log.Info("Election phase changed", "election_id", e.ID, "from", e.CurrentPhase, "to", derived)
	e.CurrentPhase = derived
	e.UpdatedAt = now
	return nil
}

// Gate snapshots the voting decision. It returns a PhaseViolation carrying the
// current phase when ballots are not accepted.
func (en *Engine) Gate(ctx context.Context, electionID string) (*Gate, error) {
	e, err := en.elections.GetByID(ctx, electionID)
	if err != nil {
		return nil, domain.Propagate("failed to load election", err)
	}
	now := en.clock.Now()
	e.CurrentPhase = domain.DerivePhase(e, now)
	if !domain.CanVote(e, now) {
		return nil, domain.PhaseError(e.CurrentPhase, e.Status)
	}
	return &Gate{Election: e, Phase: e.CurrentPhase, At: now}, nil
}

// Transition applies an admin action. Terminal statuses are one way.
func (en *Engine) Transition(ctx context.Context, actor domain.Actor, electionID string, action domain.ElectionAction) (*domain.Election, error) {
	if err := domain.RequirePrivileged(actor); err != nil {
		return nil, err
	}
	now := en.clock.Now()
	var (
		e    *domain.Election
		from domain.ElectionStatus
	)
	err := en.db.InTx(ctx, func(tx *database.Tx) error {
		repo := en.elections.WithTx(tx)
		var err error
		if e, err = repo.GetByID(ctx, electionID); err != nil {
			return err
		}
		from = e.Status
		next, err := domain.NextStatus(from, action)
		if err != nil {
			return err
		}

		// cancel and freeze keep the phase the election was in
		e.CurrentPhase = domain.DerivePhase(e, now)
		e.Status = next
		e.CurrentPhase = domain.DerivePhase(e, now)
		e.UpdatedAt = now
		return repo.UpdateStatus(ctx, e.ID, from, next, e.CurrentPhase, now)
	})
	if err != nil {
		return nil, domain.Propagate("failed to change election status", err)
	}

	en.audit.Record(ctx, audit.Event{
		Action:     audit.ActionElectionTransition,
		ActorID:    actor.UserID,
		ElectionID: e.ID,
		Resource:   "election:" + e.ID,
		Details: map[string]interface{}{
			"action": string(action),
			"from":   string(from),
			"to":     string(e.Status),
			"phase":  string(e.CurrentPhase),
		},
	})
	en.log.Info("Election status changed", "election_id", e.ID, "from", from, "to", e.Status)

	if e.Status.IsTerminal() {
		en.mu.RLock()
		hooks := append([]TerminalHook(nil), en.hooks...)
		en.mu.RUnlock()
		for _, hook := range hooks {
			hook(ctx, e)
		}
	}
	return e, nil
}

// Sweep recomputes the phase of every open election and persists the ones that
// moved. It returns the open elections with their current phase.
func (en *Engine) Sweep(ctx context.Context) ([]domain.Election, int, error) {
	open, err := en.elections.ListByStatus(ctx, domain.ElectionDraft, domain.ElectionScheduled, domain.ElectionActive)
	if err != nil {
		return nil, 0, domain.Propagate("failed to list open elections", err)
	}
	now := en.clock.Now()
	moved := 0
	for i := range open {
		before := open[i].CurrentPhase
		if err := en.refresh(ctx, &open[i], now); err != nil {
			return nil, moved, err
		}
		if open[i].CurrentPhase != before {
			moved++
		}
	}
	return open, moved, nil
}
