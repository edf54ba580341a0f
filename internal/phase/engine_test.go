package phase_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/internal/audit"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/phase"
	"election-service/internal/testutil"
	"election-service/pkg/logger"
)

const day = 24 * time.Hour

type fixture struct {
	clock  *testutil.FakeClock
	sink   *audit.MemorySink
	engine *phase.Engine
	repo   *repositories.ElectionRepository
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	f := &fixture{clock: testutil.NewFakeClock(testutil.Epoch), sink: &audit.MemorySink{}}
	f.engine = phase.NewEngine(db, audit.NewRecorder(f.sink, logger.NewNop()), f.clock, logger.NewNop())
	f.repo = repositories.NewElectionRepository(db)
	return f
}

// upcoming registers for a day, nominates for a day, campaigns for a day and votes for three.
func upcoming() *domain.Election {
	reg := testutil.Epoch.Add(day)
	nom := testutil.Epoch.Add(2 * day)
	return &domain.Election{
		Name:                 "Board 2026",
		StartDateTime:        testutil.Epoch.Add(3 * day),
		EndDateTime:          testutil.Epoch.Add(6 * day),
		RegistrationDeadline: &reg,
		NominationDeadline:   &nom,
		CampaignPeriod:       &domain.Period{Start: nom, End: testutil.Epoch.Add(3*day - time.Hour)},
		Positions: []domain.Position{
			{ID: "chair", Candidates: []domain.Candidate{{ID: "a", Name: "A"}, {ID: "b", Name: "B"}}},
		},
	}
}

func TestCreate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	e, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)
	assert.NotEmpty(t, e.ID)
	assert.Equal(t, domain.ElectionDraft, e.Status)
	assert.Equal(t, domain.PhaseRegistration, e.CurrentPhase)

	stored, err := f.repo.GetByID(ctx, e.ID)
	require.NoError(t, err)
	require.Len(t, stored.Positions, 1)
	assert.Equal(t, 1, stored.Positions[0].MaxWinners)
	assert.Equal(t, "chair", stored.Positions[0].Candidates[0].PositionID)
	assert.Len(t, f.sink.Events(audit.ActionElectionCreated), 1)

	bad := upcoming()
	bad.EndDateTime = bad.StartDateTime.Add(-time.Hour)
	_, err = f.engine.Create(ctx, testutil.Admin, bad)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.engine.Create(ctx, domain.Actor{UserID: "v", Role: domain.RoleVoter}, upcoming())
	assert.ErrorIs(t, err, domain.ErrForbidden)
}

func TestStatusFollowsTheClock(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionActivate)
	require.NoError(t, err)

	steps := []struct {
		at          time.Duration
		phase       domain.Phase
		canVote     bool
		canRegister bool
		campaign    bool
	}{
		{0, domain.PhaseRegistration, false, true, false},
		{day + time.Hour, domain.PhaseNomination, false, false, false},
		{2*day + time.Hour, domain.PhaseCampaign, false, false, true},
		{3 * day, domain.PhaseVoting, true, false, false},
		{6 * day, domain.PhaseVoting, true, false, false},
		{6*day + time.Second, domain.PhaseResults, false, false, false},
	}
	for _, step := range steps {
		f.clock.Set(testutil.Epoch.Add(step.at))
		st, err := f.engine.Status(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, step.phase, st.Phase, "at %s", step.at)
		assert.Equal(t, step.canVote, st.CanVote, "at %s", step.at)
		assert.Equal(t, step.canRegister, st.CanRegister, "at %s", step.at)
		assert.Equal(t, step.campaign, st.CampaignOpen, "at %s", step.at)

		stored, err := f.repo.GetByID(ctx, e.ID)
		require.NoError(t, err)
		assert.Equal(t, step.phase, stored.CurrentPhase)
	}
}

func TestGate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)

	f.clock.Set(testutil.Epoch.Add(4 * day))
	_, err = f.engine.Gate(ctx, e.ID)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	assert.Equal(t, "VOTING", domain.AsError(err).Details["current_phase"])
	assert.Equal(t, "DRAFT", domain.AsError(err).Details["election_status"])

	_, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionActivate)
	require.NoError(t, err)
	gate, err := f.engine.Gate(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseVoting, gate.Phase)
	assert.Equal(t, f.clock.Now(), gate.At)

	f.clock.Set(testutil.Epoch.Add(7 * day))
	_, err = f.engine.Gate(ctx, e.ID)
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	assert.Equal(t, "RESULTS", domain.AsError(err).Details["current_phase"])

	_, err = f.engine.Gate(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrElectionNotFound)
}

func TestTransitions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	var closed []domain.ElectionStatus
	f.engine.OnTerminal(func(_ context.Context, e *domain.Election) {
		closed = append(closed, e.Status)
	})

	e, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)

	_, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionComplete)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)

	e, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionSchedule)
	require.NoError(t, err)
	assert.Equal(t, domain.ElectionScheduled, e.Status)
	e, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionActivate)
	require.NoError(t, err)
	assert.Equal(t, domain.ElectionActive, e.Status)

	f.clock.Set(testutil.Epoch.Add(7 * day))
	e, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionComplete)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseCompleted, e.CurrentPhase)
	assert.Equal(t, []domain.ElectionStatus{domain.ElectionCompleted}, closed)

	_, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionCancel)
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Len(t, closed, 1)
	assert.Len(t, f.sink.Events(audit.ActionElectionTransition), 3)
}

func TestFreezeKeepsPhase(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	e, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)

	f.clock.Set(testutil.Epoch.Add(day + time.Hour))
	e, err = f.engine.Transition(ctx, testutil.Admin, e.ID, domain.ActionFreeze)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNomination, e.CurrentPhase)

	f.clock.Set(testutil.Epoch.Add(4 * day))
	st, err := f.engine.Status(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseNomination, st.Phase)
	assert.False(t, st.CanVote)
	assert.False(t, st.CanRegister)
}

func TestSweep(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	first, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)
	second, err := f.engine.Create(ctx, testutil.Admin, upcoming())
	require.NoError(t, err)
	_, err = f.engine.Transition(ctx, testutil.Admin, second.ID, domain.ActionCancel)
	require.NoError(t, err)

	open, moved, err := f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Zero(t, moved)
	require.Len(t, open, 1)

	f.clock.Set(testutil.Epoch.Add(7 * day))
	open, moved, err = f.engine.Sweep(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, moved)
	require.Len(t, open, 1)
	assert.Equal(t, first.ID, open[0].ID)
	assert.Equal(t, domain.PhaseResults, open[0].CurrentPhase)

	stored, err := f.repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.PhaseResults, stored.CurrentPhase)
}
