package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var base = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

func scheduledElection() *Election {
	reg := base.Add(24 * time.Hour)
	nom := base.Add(48 * time.Hour)
	return &Election{
		ID:                   "e1",
		Name:                 "Board",
		Status:               ElectionActive,
		RegistrationDeadline: &reg,
		NominationDeadline:   &nom,
		CampaignPeriod:       &Period{Start: nom, End: base.Add(70 * time.Hour)},
		StartDateTime:        base.Add(72 * time.Hour),
		EndDateTime:          base.Add(80 * time.Hour),
		Positions: []Position{
			{ID: "chair", MaxWinners: 1, Candidates: []Candidate{{ID: "a"}, {ID: "b"}}},
		},
	}
}

func TestDerivePhase(t *testing.T) {
	e := scheduledElection()

	tests := []struct {
		name string
		at   time.Time
		want Phase
	}{
		{"before registration deadline", base, PhaseRegistration},
		{"at registration deadline", base.Add(24 * time.Hour), PhaseNomination},
		{"between nomination and start", base.Add(60 * time.Hour), PhaseCampaign},
		{"at start", base.Add(72 * time.Hour), PhaseVoting},
		{"at end", base.Add(80 * time.Hour), PhaseVoting},
		{"after end", base.Add(80*time.Hour + time.Nanosecond), PhaseResults},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, DerivePhase(e, tt.at))
		})
	}
}

func TestDerivePhaseSkipsUnsetDeadlines(t *testing.T) {
	e := scheduledElection()
	e.RegistrationDeadline = nil
	e.NominationDeadline = nil

	assert.Equal(t, PhaseCampaign, DerivePhase(e, base))
}

func TestDerivePhaseWithoutCampaignPeriod(t *testing.T) {
	beforeStart := base.Add(60 * time.Hour)

	tests := []struct {
		name  string
		strip func(e *Election)
		want  Phase
	}{
		{"nomination holds until voting", func(e *Election) {}, PhaseNomination},
		{"registration holds without nomination", func(e *Election) { e.NominationDeadline = nil }, PhaseRegistration},
		{"no deadlines at all", func(e *Election) {
			e.RegistrationDeadline = nil
			e.NominationDeadline = nil
		}, PhaseRegistration},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := scheduledElection()
			e.CampaignPeriod = nil
			tt.strip(e)

			assert.Equal(t, tt.want, DerivePhase(e, beforeStart))
			assert.Equal(t, PhaseVoting, DerivePhase(e, e.StartDateTime))
		})
	}
}

func TestDerivePhaseIsMonotone(t *testing.T) {
	e := scheduledElection()

	noCampaign := scheduledElection()
	noCampaign.CampaignPeriod = nil

	for _, election := range []*Election{e, noCampaign} {
		prev := -1
		for at := base.Add(-time.Hour); at.Before(base.Add(90 * time.Hour)); at = at.Add(17 * time.Minute) {
			ord := DerivePhase(election, at).Ordinal()
			require.GreaterOrEqual(t, ord, prev, "phase went backwards at %s", at)
			prev = ord
		}
	}
}

func TestDerivePhaseTerminalStatuses(t *testing.T) {
	e := scheduledElection()
	e.Status = ElectionCompleted
	assert.Equal(t, PhaseCompleted, DerivePhase(e, base))

	e.Status = ElectionFrozen
	e.CurrentPhase = PhaseVoting
	assert.Equal(t, PhaseVoting, DerivePhase(e, base.Add(100*time.Hour)))
}

func TestCanVote(t *testing.T) {
	e := scheduledElection()
	during := base.Add(75 * time.Hour)

	assert.True(t, CanVote(e, during))
	assert.False(t, CanVote(e, base))
	assert.False(t, CanVote(e, base.Add(81*time.Hour)))

	e.Status = ElectionScheduled
	assert.False(t, CanVote(e, during))
}

func TestDeadlineGates(t *testing.T) {
	e := scheduledElection()

	assert.True(t, CanRegisterVoters(e, base))
	assert.False(t, CanRegisterVoters(e, base.Add(25*time.Hour)))
	assert.True(t, CanNominateCandidates(e, base.Add(25*time.Hour)))
	assert.False(t, CanNominateCandidates(e, base.Add(49*time.Hour)))
	assert.True(t, CampaignOpen(e, base.Add(50*time.Hour)))
	assert.False(t, CampaignOpen(e, base.Add(71*time.Hour)))

	e.RegistrationDeadline = nil
	assert.True(t, CanRegisterVoters(e, base.Add(1000*time.Hour)))
}

func TestElectionValidate(t *testing.T) {
	require.NoError(t, scheduledElection().Validate())

	tests := []struct {
		name   string
		mutate func(e *Election)
	}{
		{"missing name", func(e *Election) { e.Name = " " }},
		{"end before start", func(e *Election) { e.EndDateTime = e.StartDateTime.Add(-time.Minute) }},
		{"registration after start", func(e *Election) {
			late := e.StartDateTime.Add(time.Hour)
			e.RegistrationDeadline = &late
		}},
		{"nomination before registration", func(e *Election) {
			early := e.RegistrationDeadline.Add(-time.Hour)
			e.NominationDeadline = &early
		}},
		{"campaign overlapping voting", func(e *Election) { e.CampaignPeriod.End = e.StartDateTime.Add(time.Minute) }},
		{"duplicate position", func(e *Election) { e.Positions = append(e.Positions, e.Positions[0]) }},
		{"zero winners", func(e *Election) { e.Positions[0].MaxWinners = 0 }},
		{"duplicate candidate", func(e *Election) {
			e.Positions[0].Candidates = append(e.Positions[0].Candidates, Candidate{ID: "a"})
		}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := scheduledElection()
			tt.mutate(e)
			err := e.Validate()
			require.Error(t, err)
			assert.Equal(t, KindValidation, KindOf(err))
		})
	}
}

func TestNextStatus(t *testing.T) {
	next, err := NextStatus(ElectionDraft, ActionSchedule)
	require.NoError(t, err)
	assert.Equal(t, ElectionScheduled, next)

	next, err = NextStatus(ElectionScheduled, ActionActivate)
	require.NoError(t, err)
	assert.Equal(t, ElectionActive, next)

	next, err = NextStatus(ElectionActive, ActionFreeze)
	require.NoError(t, err)
	assert.Equal(t, ElectionFrozen, next)

	_, err = NextStatus(ElectionFrozen, ActionActivate)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = NextStatus(ElectionDraft, ActionComplete)
	assert.ErrorIs(t, err, ErrInvalidTransition)

	_, err = NextStatus(ElectionDraft, ElectionAction("reopen"))
	assert.Equal(t, KindValidation, KindOf(err))
}
