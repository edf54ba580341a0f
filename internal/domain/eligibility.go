package domain

import (
	"math"
	"time"
)

// AccessStatus is the state of a voter's access to an election
type AccessStatus string

const (
	AccessActive    AccessStatus = "ACTIVE"
	AccessSuspended AccessStatus = "SUSPENDED"
	AccessRevoked   AccessStatus = "REVOKED"
	AccessExpired   AccessStatus = "EXPIRED"
)

// EligiblePosition is a grant to vote on one position
type EligiblePosition struct {
	PositionID string    `json:"position_id"`
	Reason     string    `json:"reason,omitempty"`
	VerifiedBy string    `json:"verified_by,omitempty"`
	GrantedAt  time.Time `json:"granted_at"`
}

// VotedPosition records a position already voted on
type VotedPosition struct {
	PositionID  string    `json:"position_id"`
	CandidateID string    `json:"candidate_id,omitempty"`
	VoteID      string    `json:"vote_id"`
	VotedAt     time.Time `json:"voted_at"`
}

// EligibilityAccess tracks which positions a voter may vote on and has voted on.
type EligibilityAccess struct {
	ID                string             `json:"id"`
	VoterID           string             `json:"voter_id"`
	ElectionID        string             `json:"election_id"`
	SecretCodeID      string             `json:"secret_code_id"`
	PositionsEligible []EligiblePosition `json:"positions_eligible"`
	PositionsVoted    []VotedPosition    `json:"positions_voted"`
	TotalEligible     int                `json:"total_eligible"`
	TotalVoted        int                `json:"total_voted"`
	Progress          int                `json:"progress"`
	Status            AccessStatus       `json:"status"`
	StatusReason      string             `json:"status_reason,omitempty"`
	CreatedAt         time.Time          `json:"created_at"`
	UpdatedAt         time.Time          `json:"updated_at"`
}

// IsEligible reports whether positionID was granted.
func (a *EligibilityAccess) IsEligible(positionID string) bool {
	for _, p := range a.PositionsEligible {
		if p.PositionID == positionID {
			return true
		}
	}
	return false
}

// Voted returns the vote record for positionID, if any.
func (a *EligibilityAccess) Voted(positionID string) (VotedPosition, bool) {
	for _, v := range a.PositionsVoted {
		if v.PositionID == positionID {
			return v, true
		}
	}
	return VotedPosition{}, false
}

// CanVote is true iff the access is ACTIVE, positionID is eligible and not yet voted.
func (a *EligibilityAccess) CanVote(positionID string) bool {
	if a.Status != AccessActive || !a.IsEligible(positionID) {
		return false
	}
	_, voted := a.Voted(positionID)
	return !voted
}

// Grant adds positionID to the eligible set. Granting twice is a no-op.
func (a *EligibilityAccess) Grant(positionID, reason, verifiedBy string, at time.Time) bool {
	if a.IsEligible(positionID) {
		return false
	}
	a.PositionsEligible = append(a.PositionsEligible, EligiblePosition{
		PositionID: positionID,
		Reason:     reason,
		VerifiedBy: verifiedBy,
		GrantedAt:  at,
	})
	a.Recompute()
	return true
}

// RecordVote appends a voted position. A position already voted is left untouched.
func (a *EligibilityAccess) RecordVote(positionID, candidateID, voteID string, at time.Time) bool {
	if _, voted := a.Voted(positionID); voted {
		return false
	}
	a.PositionsVoted = append(a.PositionsVoted, VotedPosition{
		PositionID:  positionID,
		CandidateID: candidateID,
		VoteID:      voteID,
		VotedAt:     at,
	})
	a.Recompute()
	return true
}

// Recompute refreshes the derived totals.
func (a *EligibilityAccess) Recompute() {
	a.TotalEligible = len(a.PositionsEligible)
	a.TotalVoted = len(a.PositionsVoted)
	a.Progress = ProgressPercent(a.TotalVoted, a.TotalEligible)
}

// RemainingPositions lists eligible positions without a vote.
func (a *EligibilityAccess) RemainingPositions() []string {
	var out []string
	for _, p := range a.PositionsEligible {
		if _, voted := a.Voted(p.PositionID); !voted {
			out = append(out, p.PositionID)
		}
	}
	return out
}

// ProgressPercent is round(voted/eligible*100), 0 when nothing is eligible.
func ProgressPercent(voted, eligible int) int {
	if eligible <= 0 {
		return 0
	}
	return int(math.Round(float64(voted) / float64(eligible) * 100))
}

// Suspend moves ACTIVE access to SUSPENDED.
func (a *EligibilityAccess) Suspend(reason string) error {
	if a.Status != AccessActive {
		return Transition("access", string(a.Status), string(AccessSuspended))
	}
	a.Status = AccessSuspended
	a.StatusReason = reason
	return nil
}

// Reactivate restores SUSPENDED access. Revoked access is never reactivated.
func (a *EligibilityAccess) Reactivate(reason string) error {
	if a.Status != AccessSuspended {
		return Transition("access", string(a.Status), string(AccessActive))
	}
	a.Status = AccessActive
	a.StatusReason = reason
	return nil
}

// Revoke is terminal.
func (a *EligibilityAccess) Revoke(reason string) error {
	if a.Status == AccessRevoked {
		return Transition("access", string(a.Status), string(AccessRevoked))
	}
	a.Status = AccessRevoked
	a.StatusReason = reason
	return nil
}

// Expire closes ACTIVE or SUSPENDED access once the election is over.
func (a *EligibilityAccess) Expire() bool {
	if a.Status != AccessActive && a.Status != AccessSuspended {
		return false
	}
	a.Status = AccessExpired
	a.StatusReason = "election closed"
	return true
}
