package repositories_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/testutil"
)

func TestElectionRoundTrip(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	seeded := testutil.SeedElection(t, db, nil, testutil.Epoch)

	repo := repositories.NewElectionRepository(db)
	got, err := repo.GetByID(ctx, seeded.ID)
	require.NoError(t, err)

	assert.Equal(t, seeded.Name, got.Name)
	assert.Equal(t, domain.ElectionActive, got.Status)
	assert.True(t, seeded.StartDateTime.Equal(got.StartDateTime))
	require.NotNil(t, got.RegistrationDeadline)
	assert.True(t, seeded.RegistrationDeadline.Equal(*got.RegistrationDeadline))
	require.NotNil(t, got.CampaignPeriod)
	require.Len(t, got.Positions, 3)
	assert.Equal(t, "president", got.Positions[0].ID)
	assert.True(t, got.Positions[0].HasCandidate("cand-b"))

	require.NoError(t, repo.BumpResultsVersion(ctx, seeded.ID))
	version, err := repo.ResultsVersion(ctx, seeded.ID)
	require.NoError(t, err)
	assert.EqualValues(t, 1, version)

	_, err = repo.GetByID(ctx, "missing")
	assert.ErrorIs(t, err, domain.ErrElectionNotFound)
}

func TestListByStatus(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	active := testutil.SeedElection(t, db, nil, testutil.Epoch)
	draft := testutil.NewElection(testutil.Epoch)
	draft.Status = domain.ElectionDraft
	testutil.SeedElection(t, db, draft, testutil.Epoch)

	got, err := repositories.NewElectionRepository(db).ListByStatus(ctx, domain.ElectionActive)
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, active.ID, got[0].ID)
}

func newCode(electionID, voterID string, now time.Time) *domain.SecretCode {
	return &domain.SecretCode{
		ID:          uuid.NewString(),
		VoterID:     voterID,
		ElectionID:  electionID,
		CodeHash:    []byte{1, 2, 3},
		Salt:        []byte{4, 5, 6},
		MaxAttempts: domain.DefaultMaxAttempts,
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

func TestSecretCodeSingleActive(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	e := testutil.SeedElection(t, db, nil, testutil.Epoch)
	repo := repositories.NewSecretCodeRepository(db)

	first := newCode(e.ID, "voter-1", testutil.Epoch)
	require.NoError(t, repo.Create(ctx, first))

	err := repo.Create(ctx, newCode(e.ID, "voter-1", testutil.Epoch))
	assert.ErrorIs(t, err, domain.ErrSecretCodeExists)

	require.NoError(t, repo.Deactivate(ctx, first.ID, testutil.Epoch.Add(time.Minute)))
	second := newCode(e.ID, "voter-1", testutil.Epoch.Add(2*time.Minute))
	require.NoError(t, repo.Create(ctx, second))

	current, err := repo.GetCurrent(ctx, "voter-1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, second.ID, current.ID)
	assert.Equal(t, []byte{1, 2, 3}, current.CodeHash)

	old, err := repo.GetByID(ctx, first.ID)
	require.NoError(t, err)
	assert.False(t, old.IsActive)
	assert.NotNil(t, old.DeactivatedAt)
}

func TestSecretCodeAttemptState(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	e := testutil.SeedElection(t, db, nil, testutil.Epoch)
	repo := repositories.NewSecretCodeRepository(db)

	code := newCode(e.ID, "voter-1", testutil.Epoch)
	require.NoError(t, repo.Create(ctx, code))

	code.RegisterFailure(testutil.Epoch, time.Minute)
	code.RegisterFailure(testutil.Epoch, time.Minute)
	code.RegisterFailure(testutil.Epoch, time.Minute)
	code.UpdatedAt = testutil.Epoch
	require.NoError(t, repo.UpdateAttemptState(ctx, code))

	got, err := repo.GetCurrent(ctx, "voter-1", e.ID)
	require.NoError(t, err)
	assert.Equal(t, 3, got.Attempts)
	assert.True(t, got.IsLocked)
	require.NotNil(t, got.LockedUntil)
	assert.True(t, got.LockedUntil.Equal(testutil.Epoch.Add(time.Minute)))

	require.NoError(t, repo.RecordAttempt(ctx, &database.CodeAttempt{
		SecretCodeID: code.ID, VoterID: "voter-1", ElectionID: e.ID,
		Outcome: "invalid", AttemptedAt: testutil.Epoch,
	}))
	attempts, err := repo.ListAttempts(ctx, "voter-1", e.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.False(t, attempts[0].Success)
}

func newVote(e *domain.Election, voterID, positionID, candidateID string, seq int, now time.Time) *domain.Vote {
	v := &domain.Vote{
		ID:           uuid.NewString(),
		ElectionID:   e.ID,
		PositionID:   positionID,
		CandidateID:  candidateID,
		VoterID:      voterID,
		SecretCodeID: "code",
		Status:       domain.VoteCast,
		Salt:         "salt",
		ChainSeq:     seq,
		ChainHash:    "0xchain",
		Signature:    "0xsig",
		Timestamp:    now,
		UpdatedAt:    now,
	}
	v.VoteHash = v.RecomputeHash()
	v.ReceiptHash = domain.ReceiptFromHash(v.VoteHash)
	return v
}

func TestVoteUniquePerPosition(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	e := testutil.SeedElection(t, db, nil, testutil.Epoch)
	repo := repositories.NewVoteRepository(db)

	first := newVote(e, "voter-1", "president", "cand-a", 1, testutil.Epoch)
	require.NoError(t, repo.Insert(ctx, first))

	err := repo.Insert(ctx, newVote(e, "voter-1", "president", "cand-b", 2, testutil.Epoch))
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	require.NoError(t, repo.Insert(ctx, newVote(e, "voter-1", "secretary", "cand-c", 2, testutil.Epoch)))

	seq, hash, err := repo.ChainHead(ctx, e.ID, "voter-1")
	require.NoError(t, err)
	assert.Equal(t, 2, seq)
	assert.Equal(t, "0xchain", hash)

	got, err := repo.GetByReceipt(ctx, first.ReceiptHash)
	require.NoError(t, err)
	assert.Equal(t, first.ID, got.ID)
	assert.Equal(t, first.VoteHash, got.RecomputeHash())

	// an invalidated vote no longer blocks the position
	require.NoError(t, repo.UpdateStatus(ctx, first.ID, domain.VoteInvalid, "duplicate", testutil.Epoch))
	require.NoError(t, repo.Insert(ctx, newVote(e, "voter-1", "president", "cand-b", 3, testutil.Epoch)))

	counts, err := repo.CountByStatus(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, counts[domain.VoteCast])
	assert.Equal(t, 1, counts[domain.VoteInvalid])
}

func TestVoteChainLinkConflict(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	e := testutil.SeedElection(t, db, nil, testutil.Epoch)
	repo := repositories.NewVoteRepository(db)

	require.NoError(t, repo.Insert(ctx, newVote(e, "voter-1", "president", "cand-a", 1, testutil.Epoch)))

	// another position sealed against the same head
	err := repo.Insert(ctx, newVote(e, "voter-1", "secretary", "cand-c", 1, testutil.Epoch))
	assert.ErrorIs(t, err, domain.ErrConcurrentVote)
	assert.NotErrorIs(t, err, domain.ErrAlreadyVoted)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))

	// the same position collides on the counted index first
	err = repo.Insert(ctx, newVote(e, "voter-1", "president", "cand-b", 2, testutil.Epoch))
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	require.NoError(t, repo.Insert(ctx, newVote(e, "voter-1", "secretary", "cand-c", 2, testutil.Epoch)))
}

func TestResultSnapshotUpsert(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	e := testutil.SeedElection(t, db, nil, testutil.Epoch)
	repo := repositories.NewResultRepository(db)

	_, err := repo.Get(ctx, e.ID)
	assert.ErrorIs(t, err, domain.ErrResultNotFound)

	snap := domain.Tally(e, nil, testutil.Epoch)
	require.NoError(t, repo.Upsert(ctx, snap))

	snap.Status = domain.ResultFinal
	snap.PromotedBy = "admin-1"
	promotedAt := testutil.Epoch.Add(time.Hour)
	snap.PromotedAt = &promotedAt
	require.NoError(t, repo.Upsert(ctx, snap))

	got, err := repo.Get(ctx, e.ID)
	require.NoError(t, err)
	assert.Equal(t, domain.ResultFinal, got.Status)
	assert.Len(t, got.Positions, 3)
	require.NotNil(t, got.PromotedAt)
}

func TestAuditLogFiltering(t *testing.T) {
	db := testutil.SetupTestDB(t)
	ctx := context.Background()
	repo := repositories.NewAuditLogRepository(db)

	for _, action := range []string{"code.issued", "code.issued", "vote.cast"} {
		require.NoError(t, repo.InsertAuditLog(ctx, &database.AuditLog{
			Action: action, ActorID: "admin-1", ElectionID: "e1", CreatedAt: testutil.Epoch,
		}))
	}

	logs, err := repo.GetAuditLogs(ctx, repositories.AuditFilter{Action: "code.issued"})
	require.NoError(t, err)
	assert.Len(t, logs, 2)

	total, counts, err := repo.GetAuditStatistics(ctx, repositories.AuditFilter{ElectionID: "e1"})
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, counts, 2)
	assert.Equal(t, repositories.ActionCount{Action: "code.issued", Count: 2}, counts[0])
}
