package domain

import (
	"strings"
	"time"
)

// ElectionStatus is the administrative status of an election
type ElectionStatus string

const (
	ElectionDraft     ElectionStatus = "DRAFT"
	ElectionScheduled ElectionStatus = "SCHEDULED"
	ElectionActive    ElectionStatus = "ACTIVE"
	ElectionCompleted ElectionStatus = "COMPLETED"
	ElectionCancelled ElectionStatus = "CANCELLED"
	ElectionFrozen    ElectionStatus = "FROZEN"
)

// IsTerminal reports whether no further transition is possible.
func (s ElectionStatus) IsTerminal() bool {
	return s == ElectionCompleted || s == ElectionCancelled || s == ElectionFrozen
}

// Phase is the time-windowed stage of an election
type Phase string

const (
	PhaseRegistration Phase = "REGISTRATION"
	PhaseNomination   Phase = "NOMINATION"
	PhaseCampaign     Phase = "CAMPAIGN"
	PhaseVoting       Phase = "VOTING"
	PhaseResults      Phase = "RESULTS"
	PhaseCompleted    Phase = "COMPLETED"
)

var phaseOrder = map[Phase]int{
	PhaseRegistration: 0,
	PhaseNomination:   1,
	PhaseCampaign:     2,
	PhaseVoting:       3,
	PhaseResults:      4,
	PhaseCompleted:    5,
}

// Ordinal returns the position of the phase in the linear lifecycle.
func (p Phase) Ordinal() int {
	if o, ok := phaseOrder[p]; ok {
		return o
	}
	return -1
}

// Period is a closed time window
type Period struct {
	Start time.Time `json:"start"`
	End   time.Time `json:"end"`
}

// Candidate stands for a position
type Candidate struct {
	ID          string `json:"id"`
	PositionID  string `json:"position_id"`
	Name        string `json:"name"`
	Affiliation string `json:"affiliation,omitempty"`
}

// Position is an office being elected
type Position struct {
	ID         string      `json:"id"`
	ElectionID string      `json:"election_id"`
	Title      string      `json:"title"`
	MaxWinners int         `json:"max_winners"`
	SortOrder  int         `json:"sort_order"`
	Candidates []Candidate `json:"candidates"`
}

// HasCandidate reports whether candidateID stands for this position.
func (p Position) HasCandidate(candidateID string) bool {
	for _, c := range p.Candidates {
		if c.ID == candidateID {
			return true
		}
	}
	return false
}

// Election is the aggregate the phase engine works on
type Election struct {
	ID                   string         `json:"id"`
	Name                 string         `json:"name"`
	Description          string         `json:"description,omitempty"`
	OrganizationID       string         `json:"organization_id,omitempty"`
	Status               ElectionStatus `json:"status"`
	CurrentPhase         Phase          `json:"current_phase"`
	StartDateTime        time.Time      `json:"start_date_time"`
	EndDateTime          time.Time      `json:"end_date_time"`
	RegistrationDeadline *time.Time     `json:"registration_deadline,omitempty"`
	NominationDeadline   *time.Time     `json:"nomination_deadline,omitempty"`
	CampaignPeriod       *Period        `json:"campaign_period,omitempty"`
	Positions            []Position     `json:"positions"`
	ResultsVersion       int64          `json:"results_version"`
	CreatedBy            string         `json:"created_by,omitempty"`
	CreatedAt            time.Time      `json:"created_at"`
	UpdatedAt            time.Time      `json:"updated_at"`
}

// Position looks up a position by id.
func (e *Election) Position(positionID string) (Position, bool) {
	for _, p := range e.Positions {
		if p.ID == positionID {
			return p, true
		}
	}
	return Position{}, false
}

// Duration is the length of the voting window.
func (e *Election) Duration() time.Duration {
	return e.EndDateTime.Sub(e.StartDateTime)
}

// IsActive reports whether ballots are being accepted at now.
func (e *Election) IsActive(now time.Time) bool {
	return CanVote(e, now)
}

// Validate checks the election invariants. It runs before every persist.
func (e *Election) Validate() error {
	if strings.TrimSpace(e.Name) == "" {
		return Validation("election name is required")
	}
	if e.StartDateTime.IsZero() || e.EndDateTime.IsZero() {
		return Validation("start and end date are required")
	}
	if !e.EndDateTime.After(e.StartDateTime) {
		return Validation("end date must be after start date")
	}
	if e.RegistrationDeadline != nil && !e.RegistrationDeadline.Before(e.StartDateTime) {
		return Validation("registration deadline must precede the start date")
	}
	if e.NominationDeadline != nil && !e.NominationDeadline.Before(e.StartDateTime) {
		return Validation("nomination deadline must precede the start date")
	}
	if e.RegistrationDeadline != nil && e.NominationDeadline != nil &&
		e.NominationDeadline.Before(*e.RegistrationDeadline) {
		return Validation("nomination deadline must not precede the registration deadline")
	}
	if cp := e.CampaignPeriod; cp != nil {
		if !cp.End.After(cp.Start) {
			return Validation("campaign end must be after campaign start")
		}
		if cp.End.After(e.StartDateTime) {
			return Validation("campaign period must end before voting starts")
		}
	}

	seen := make(map[string]bool, len(e.Positions))
	for _, p := range e.Positions {
		if strings.TrimSpace(p.ID) == "" {
			return Validation("position id is required")
		}
		if seen[p.ID] {
			return Validation("duplicate position %s", p.ID)
		}
		seen[p.ID] = true
		if p.MaxWinners < 1 {
			return Validation("position %s must elect at least one winner", p.ID)
		}
		candidates := make(map[string]bool, len(p.Candidates))
		for _, c := range p.Candidates {
			if strings.TrimSpace(c.ID) == "" {
				return Validation("candidate id is required on position %s", p.ID)
			}
			if candidates[c.ID] {
				return Validation("duplicate candidate %s on position %s", c.ID, p.ID)
			}
			candidates[c.ID] = true
		}
	}
	return nil
}

// DerivePhase computes the phase for now from the configured deadlines.
// Unset deadlines count as passed, so their phase is skipped, and CAMPAIGN exists
// only when a campaign period is configured. Without one, the last configured
// pre-voting phase holds until voting opens (REGISTRATION when none is set).
// Terminal statuses keep the phase they were frozen in, except COMPLETED which
// forces COMPLETED.
func DerivePhase(e *Election, now time.Time) Phase {
	switch e.Status {
	case ElectionCompleted:
		return PhaseCompleted
	case ElectionCancelled, ElectionFrozen:
		if e.CurrentPhase != "" {
			return e.CurrentPhase
		}
	}

	switch {
	case e.RegistrationDeadline != nil && now.Before(*e.RegistrationDeadline):
		return PhaseRegistration
	case e.NominationDeadline != nil && now.Before(*e.NominationDeadline):
		return PhaseNomination
	case e.CampaignPeriod != nil && now.Before(e.StartDateTime):
		return PhaseCampaign
	case now.Before(e.StartDateTime):
		if e.NominationDeadline != nil {
			return PhaseNomination
		}
		return PhaseRegistration
	case !now.After(e.EndDateTime):
		return PhaseVoting
	default:
		return PhaseResults
	}
}

// CanVote is true only for an ACTIVE election inside its voting window.
func CanVote(e *Election, now time.Time) bool {
	if e.Status != ElectionActive {
		return false
	}
	if now.Before(e.StartDateTime) || now.After(e.EndDateTime) {
		return false
	}
	return DerivePhase(e, now) == PhaseVoting
}

// CanRegisterVoters is true until the registration deadline, always when unset.
func CanRegisterVoters(e *Election, now time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	return e.RegistrationDeadline == nil || now.Before(*e.RegistrationDeadline)
}

// CanNominateCandidates is true until the nomination deadline, always when unset.
func CanNominateCandidates(e *Election, now time.Time) bool {
	if e.Status.IsTerminal() {
		return false
	}
	return e.NominationDeadline == nil || now.Before(*e.NominationDeadline)
}

// CampaignOpen reports whether now falls inside the configured campaign window.
func CampaignOpen(e *Election, now time.Time) bool {
	cp := e.CampaignPeriod
	if cp == nil || e.Status.IsTerminal() {
		return false
	}
	return !now.Before(cp.Start) && now.Before(cp.End)
}

// ElectionAction is an explicit admin transition
type ElectionAction string

const (
	ActionSchedule ElectionAction = "schedule"
	ActionActivate ElectionAction = "activate"
	ActionComplete ElectionAction = "complete"
	ActionCancel   ElectionAction = "cancel"
	ActionFreeze   ElectionAction = "freeze"
)

// NextStatus applies an admin action to a status.
func NextStatus(from ElectionStatus, action ElectionAction) (ElectionStatus, error) {
	if from.IsTerminal() {
		return from, Transition("election", string(from), string(action))
	}
	switch action {
	case ActionSchedule:
		if from == ElectionDraft {
			return ElectionScheduled, nil
		}
	case ActionActivate:
		if from == ElectionDraft || from == ElectionScheduled {
			return ElectionActive, nil
		}
	case ActionComplete:
		if from == ElectionActive {
			return ElectionCompleted, nil
		}
	case ActionCancel:
		return ElectionCancelled, nil
	case ActionFreeze:
		return ElectionFrozen, nil
	default:
		return from, Validation("unknown election action %q", action)
	}
	return from, Transition("election", string(from), string(action))
}
