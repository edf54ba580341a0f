package models

import (
	"time"

	"election-service/internal/domain"
)

// CandidateRequest is a candidate of a new position
type CandidateRequest struct {
	ID          string `json:"id" binding:"required"`
	Name        string `json:"name" binding:"required"`
	Affiliation string `json:"affiliation"`
}

// PositionRequest is a position of a new election
type PositionRequest struct {
	ID         string             `json:"id" binding:"required"`
	Title      string             `json:"title"`
	MaxWinners int                `json:"max_winners" binding:"min=0"`
	Candidates []CandidateRequest `json:"candidates" binding:"required,min=1,dive"`
}

// CreateElectionRequest represents an election creation request
type CreateElectionRequest struct {
	ID                   string            `json:"id"`
	Name                 string            `json:"name" binding:"required"`
	Description          string            `json:"description"`
	OrganizationID       string            `json:"organization_id"`
	StartDateTime        time.Time         `json:"start_date_time" binding:"required"`
	EndDateTime          time.Time         `json:"end_date_time" binding:"required"`
	RegistrationDeadline *time.Time        `json:"registration_deadline"`
	NominationDeadline   *time.Time        `json:"nomination_deadline"`
	CampaignPeriod       *domain.Period    `json:"campaign_period"`
	Positions            []PositionRequest `json:"positions" binding:"required,min=1,dive"`
}

// Election converts the request into the domain aggregate
func (r *CreateElectionRequest) Election() *domain.Election {
	e := &domain.Election{
		ID:                   r.ID,
		Name:                 r.Name,
		Description:          r.Description,
		OrganizationID:       r.OrganizationID,
		StartDateTime:        r.StartDateTime.UTC(),
		EndDateTime:          r.EndDateTime.UTC(),
		RegistrationDeadline: utcPtr(r.RegistrationDeadline),
		NominationDeadline:   utcPtr(r.NominationDeadline),
	}
	if r.CampaignPeriod != nil {
		e.CampaignPeriod = &domain.Period{Start: r.CampaignPeriod.Start.UTC(), End: r.CampaignPeriod.End.UTC()}
	}
	for _, p := range r.Positions {
		pos := domain.Position{ID: p.ID, Title: p.Title, MaxWinners: p.MaxWinners}
		for _, c := range p.Candidates {
			pos.Candidates = append(pos.Candidates, domain.Candidate{ID: c.ID, Name: c.Name, Affiliation: c.Affiliation})
		}
		e.Positions = append(e.Positions, pos)
	}
	return e
}

func utcPtr(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	u := t.UTC()
	return &u
}

// TransitionRequest carries an admin status action
type TransitionRequest struct {
	Action string `json:"action" binding:"required,oneof=schedule activate complete cancel freeze"`
}

// EnrollVoterRequest issues a code and grants positions
type EnrollVoterRequest struct {
	VoterID     string   `json:"voter_id" binding:"required"`
	PositionIDs []string `json:"position_ids" binding:"required,min=1"`
	Reason      string   `json:"reason"`
}

// ReasonRequest is the body of status changes
type ReasonRequest struct {
	Reason string `json:"reason"`
}

// ValidateCodeRequest checks a secret code before voting
type ValidateCodeRequest struct {
	ElectionID string `json:"election_id" binding:"required"`
	PositionID string `json:"position_id"`
	SecretCode string `json:"secret_code" binding:"required"`
}

// VoteRequest represents a ballot for one position. The voter comes from the token.
type VoteRequest struct {
	ElectionID       string `json:"election_id" binding:"required"`
	PositionID       string `json:"position_id" binding:"required"`
	CandidateID      string `json:"candidate_id"`
	IsAbstention     bool   `json:"is_abstention"`
	AbstentionReason string `json:"abstention_reason"`
	SecretCode       string `json:"secret_code" binding:"required"`
}

// PromoteRequest moves a result snapshot to a new certification level
type PromoteRequest struct {
	Status string `json:"status" binding:"required,oneof=FINAL CONTESTED VERIFIED PROVISIONAL"`
}

// VoteStatusRequest flags a vote
type VoteStatusRequest struct {
	Status string `json:"status" binding:"required"`
	Reason string `json:"reason" binding:"required"`
}
