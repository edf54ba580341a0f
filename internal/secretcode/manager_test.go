package secretcode_test

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/secretcode"
	"election-service/internal/testutil"
	"election-service/pkg/logger"
)

var testHasher = secretcode.Hasher{Time: 1, MemoryKiB: 1024, Threads: 1}

type votedSet map[string]bool

func (v votedSet) HasVoted(_ context.Context, voterID, _, positionID string) (bool, error) {
	return v[voterID+"/"+positionID], nil
}

type fixture struct {
	db       *database.DB
	clock    *testutil.FakeClock
	sink     *audit.MemorySink
	voted    votedSet
	manager  *secretcode.Manager
	election *domain.Election
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	f := &fixture{
		db:    db,
		clock: testutil.NewFakeClock(testutil.Epoch),
		sink:  &audit.MemorySink{},
		voted: votedSet{},
	}
	f.election = testutil.SeedElection(t, db, nil, testutil.Epoch)
	f.manager = secretcode.NewManager(db, f.voted, audit.NewRecorder(f.sink, logger.NewNop()), f.clock,
		secretcode.Options{MaxAttempts: 3, Lockout: 15 * time.Minute, Hasher: testHasher}, logger.NewNop())
	return f
}

// seedCode stores a code with a known plaintext
func (f *fixture) seedCode(t *testing.T, voterID, plain string) *domain.SecretCode {
	t.Helper()
	salt := []byte("0123456789abcdef")
	now := f.clock.Now()
	code := &domain.SecretCode{
		ID:          uuid.NewString(),
		VoterID:     voterID,
		ElectionID:  f.election.ID,
		CodeHash:    testHasher.Hash(plain, salt),
		Salt:        salt,
		MaxAttempts: 3,
		IsActive:    true,
		IssuedBy:    testutil.Admin.UserID,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	require.NoError(t, repositories.NewSecretCodeRepository(f.db).Create(context.Background(), code))
	return code
}

func TestGenerateAndValidate(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	plain, code, err := f.manager.Generate(ctx, testutil.Admin, "voter-1", f.election.ID)
	require.NoError(t, err)
	assert.True(t, domain.ValidCodeFormat(plain))
	assert.NotContains(t, string(code.CodeHash), plain)
	assert.Len(t, code.Salt, 16)

	got, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", plain)
	require.NoError(t, err)
	assert.Equal(t, code.ID, got.ID)

	lower, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", " "+strings.ToLower(plain))
	require.NoError(t, err)
	assert.Equal(t, code.ID, lower.ID)

	attempts, err := f.manager.Attempts(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 2)
	assert.True(t, attempts[0].Success)
	assert.Equal(t, secretcode.OutcomeOK, attempts[0].Outcome)

	assert.Len(t, f.sink.Events(audit.ActionCodeIssued), 1)
	assert.Len(t, f.sink.Events(audit.ActionCodeValidated), 2)
}

func TestGenerateConflict(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.manager.Generate(ctx, testutil.Admin, "voter-1", f.election.ID)
	require.NoError(t, err)

	_, _, err = f.manager.Generate(ctx, testutil.Admin, "voter-1", f.election.ID)
	assert.ErrorIs(t, err, domain.ErrSecretCodeExists)
	assert.Equal(t, domain.KindConflict, domain.KindOf(err))
}

func TestGenerateRejects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, _, err := f.manager.Generate(ctx, domain.Actor{UserID: "v", Role: domain.RoleVoter}, "voter-1", f.election.ID)
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, _, err = f.manager.Generate(ctx, testutil.Admin, "voter-1", "missing")
	assert.ErrorIs(t, err, domain.ErrElectionNotFound)

	_, _, err = f.manager.Generate(ctx, testutil.Admin, "", f.election.ID)
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
}

func TestLockoutAfterMaxAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCode(t, "voter-1", "AB1234")

	for remaining := 2; remaining >= 0; remaining-- {
		_, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB0000")
		require.ErrorIs(t, err, domain.ErrInvalidSecretCode)
		assert.Equal(t, remaining, domain.AsError(err).Details["attempts_remaining"])
	}

	// correct code, still locked
	_, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	require.ErrorIs(t, err, domain.ErrSecretCodeLocked)
	assert.Equal(t, domain.KindLocked, domain.KindOf(err))
	assert.Equal(t, int64(900), domain.AsError(err).Details["retry_after_seconds"])

	f.clock.Advance(14 * time.Minute)
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	require.ErrorIs(t, err, domain.ErrSecretCodeLocked)
	assert.Equal(t, int64(60), domain.AsError(err).Details["retry_after_seconds"])

	f.clock.Advance(time.Minute)
	code, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	require.NoError(t, err)
	assert.Equal(t, 0, code.Attempts)

	stored, err := f.manager.Get(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Attempts)
	assert.False(t, stored.IsLocked)
	assert.Nil(t, stored.LockedUntil)

	attempts, err := f.manager.Attempts(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 6)
	assert.Equal(t, secretcode.OutcomeLocked, attempts[3].Outcome)
	assert.Equal(t, secretcode.OutcomeOK, attempts[5].Outcome)

	locks := f.sink.Events(audit.ActionCodeLocked)
	require.Len(t, locks, 1)
	assert.Equal(t, audit.SeveritySecurity, locks[0].Severity)
}

func TestSuccessResetsAttempts(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	f.seedCode(t, "voter-1", "AB1234")

	_, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB0000")
	require.Error(t, err)
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "garbage")
	require.ErrorIs(t, err, domain.ErrInvalidSecretCode)

	code, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	require.NoError(t, err)
	assert.Equal(t, 0, code.Attempts)

	// the counter starts over, so two more failures do not lock
	for i := 0; i < 2; i++ {
		_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB0000")
		require.ErrorIs(t, err, domain.ErrInvalidSecretCode)
	}
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	assert.NoError(t, err)
}

func TestValidateFailureOrder(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.manager.Validate(ctx, "nobody", f.election.ID, "president", "AB1234")
	assert.ErrorIs(t, err, domain.ErrSecretCodeNotFound)
	attempts, err := f.manager.Attempts(ctx, "nobody", f.election.ID)
	require.NoError(t, err)
	require.Len(t, attempts, 1)
	assert.Equal(t, secretcode.OutcomeNotFound, attempts[0].Outcome)

	f.seedCode(t, "voter-1", "AB1234")
	f.voted["voter-1/president"] = true
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB1234")
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	// a wrong code is reported before the voting state
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "president", "AB9999")
	assert.ErrorIs(t, err, domain.ErrInvalidSecretCode)

	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "secretary", "AB1234")
	assert.NoError(t, err)

	require.NoError(t, f.manager.Deactivate(ctx, testutil.Admin, "voter-1", f.election.ID, "lost"))
	_, err = f.manager.Validate(ctx, "voter-1", f.election.ID, "secretary", "AB1234")
	assert.ErrorIs(t, err, domain.ErrSecretCodeDeactivated)
	assert.Equal(t, domain.KindSecurity, domain.KindOf(err))

	err = f.manager.Deactivate(ctx, testutil.Admin, "voter-1", f.election.ID, "again")
	assert.ErrorIs(t, err, domain.ErrSecretCodeDeactivated)
}

func TestReissue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	old := f.seedCode(t, "voter-1", "AB1234")

	plain, code, err := f.manager.Reissue(ctx, testutil.Admin, "voter-1", f.election.ID)
	require.NoError(t, err)
	assert.NotEqual(t, old.ID, code.ID)

	got, err := f.manager.Validate(ctx, "voter-1", f.election.ID, "president", plain)
	require.NoError(t, err)
	assert.Equal(t, code.ID, got.ID)

	previous, err := repositories.NewSecretCodeRepository(f.db).GetByID(ctx, old.ID)
	require.NoError(t, err)
	assert.False(t, previous.IsActive)
	assert.NotNil(t, previous.DeactivatedAt)

	_, _, err = f.manager.Reissue(ctx, testutil.Admin, "voter-2", f.election.ID)
	assert.ErrorIs(t, err, domain.ErrSecretCodeNotFound)
}

func TestAppendUsage(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.seedCode(t, "voter-1", "AB1234")

	require.NoError(t, f.db.InTx(ctx, func(tx *database.Tx) error {
		return f.manager.AppendUsage(ctx, tx, code.ID, "president", "cand-a", f.clock.Now())
	}))

	stored, err := f.manager.Get(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	require.Len(t, stored.UsageLog, 1)
	assert.Equal(t, "cand-a", stored.UsageLog[0].CandidateID)
}
