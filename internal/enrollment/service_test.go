package enrollment_test

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/internal/audit"
	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/enrollment"
	"election-service/internal/notify"
	"election-service/internal/secretcode"
	"election-service/internal/testutil"
	"election-service/pkg/logger"
)

type codeInbox struct {
	mu    sync.Mutex
	codes map[string]string
}

func (b *codeInbox) DeliverCode(_ context.Context, voterID, _ string, code string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.codes[voterID] = code
	return nil
}

func (b *codeInbox) DeliverReceipt(context.Context, string, notify.ReceiptNotice) error { return nil }

type fixture struct {
	clock    *testutil.FakeClock
	sink     *audit.MemorySink
	inbox    *codeInbox
	codes    *secretcode.Manager
	tracker  *eligibility.Tracker
	service  *enrollment.Service
	election *domain.Election
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	f := &fixture{
		clock: testutil.NewFakeClock(testutil.Epoch),
		sink:  &audit.MemorySink{},
		inbox: &codeInbox{codes: make(map[string]string)},
	}
	log := logger.NewNop()
	rec := audit.NewRecorder(f.sink, log)

	e := testutil.NewElection(testutil.Epoch)
	deadline := testutil.Epoch.Add(time.Hour)
	e.RegistrationDeadline = &deadline
	f.election = testutil.SeedElection(t, db, e, testutil.Epoch)

	f.tracker = eligibility.NewTracker(db, rec, f.clock, log)
	f.codes = secretcode.NewManager(db, f.tracker, rec, f.clock, secretcode.Options{
		Hasher: secretcode.Hasher{Time: 1, MemoryKiB: 1024, Threads: 1},
	}, log)
	f.service = enrollment.NewService(db, f.codes, f.tracker, f.inbox, rec, f.clock, log)
	return f
}

func TestRegister(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	en, err := f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", []string{"president", "secretary"}, "")
	require.NoError(t, err)
	assert.True(t, domain.ValidCodeFormat(en.Code))
	assert.Equal(t, en.Code, f.inbox.codes["voter-1"])
	assert.Equal(t, en.SecretCodeID, en.Access.SecretCodeID)
	assert.Equal(t, 2, en.Access.TotalEligible)
	assert.Len(t, f.sink.Events(audit.ActionVoterEnrolled), 1)

	code, err := f.codes.Validate(ctx, "voter-1", f.election.ID, "president", en.Code)
	require.NoError(t, err)
	assert.Equal(t, en.SecretCodeID, code.ID)

	ok, err := f.tracker.CanVote(ctx, "voter-1", f.election.ID, "secretary")
	require.NoError(t, err)
	assert.True(t, ok)

	_, err = f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", []string{"treasurer"}, "")
	assert.ErrorIs(t, err, domain.ErrSecretCodeExists)
}

func TestRegisterRollsBack(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", []string{"president", "dean"}, "")
	require.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.codes.Get(ctx, "voter-1", f.election.ID)
	assert.ErrorIs(t, err, domain.ErrSecretCodeNotFound)
	_, err = f.tracker.Progress(ctx, "voter-1", f.election.ID)
	assert.ErrorIs(t, err, domain.ErrAccessNotFound)
	assert.Empty(t, f.inbox.codes)
}

func TestRegisterRejects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	_, err := f.service.Register(ctx, domain.Actor{UserID: "v", Role: domain.RoleVoter}, f.election.ID, "voter-1", []string{"president"}, "")
	assert.ErrorIs(t, err, domain.ErrForbidden)

	_, err = f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", nil, "")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	_, err = f.service.Register(ctx, testutil.Admin, "missing", "voter-1", []string{"president"}, "")
	assert.ErrorIs(t, err, domain.ErrElectionNotFound)

	f.clock.Advance(2 * time.Hour)
	_, err = f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", []string{"president"}, "")
	assert.ErrorIs(t, err, domain.ErrPhaseViolation)
}

func TestReissue(t *testing.T) {
	f := setup(t)
	ctx := context.Background()

	first, err := f.service.Register(ctx, testutil.Admin, f.election.ID, "voter-1", []string{"president"}, "")
	require.NoError(t, err)

	// reissue works after registration closed
	f.clock.Advance(2 * time.Hour)
	second, err := f.service.Reissue(ctx, testutil.Admin, f.election.ID, "voter-1")
	require.NoError(t, err)
	assert.NotEqual(t, first.SecretCodeID, second.SecretCodeID)
	assert.Equal(t, second.SecretCodeID, second.Access.SecretCodeID)
	assert.Equal(t, 1, second.Access.TotalEligible)
	assert.Equal(t, second.Code, f.inbox.codes["voter-1"])

	_, err = f.codes.Validate(ctx, "voter-1", f.election.ID, "president", second.Code)
	assert.NoError(t, err)

	_, err = f.service.Reissue(ctx, testutil.Admin, f.election.ID, "voter-9")
	assert.ErrorIs(t, err, domain.ErrSecretCodeNotFound)
}
