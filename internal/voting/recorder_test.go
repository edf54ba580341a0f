package voting_test

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"election-service/internal/audit"
	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
	"election-service/internal/eligibility"
	"election-service/internal/notify"
	"election-service/internal/phase"
	"election-service/internal/receipt"
	"election-service/internal/results"
	"election-service/internal/secretcode"
	"election-service/internal/testutil"
	"election-service/internal/voting"
	"election-service/pkg/logger"
)

type capturedReceipts struct {
	mu      sync.Mutex
	notices []notify.ReceiptNotice
}

func (c *capturedReceipts) DeliverCode(context.Context, string, string, string) error { return nil }

func (c *capturedReceipts) DeliverReceipt(_ context.Context, _ string, n notify.ReceiptNotice) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notices = append(c.notices, n)
	return nil
}

func (c *capturedReceipts) count() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.notices)
}

type fixture struct {
	db       *database.DB
	clock    *testutil.FakeClock
	sink     *audit.MemorySink
	signer   *receipt.Signer
	codes    *secretcode.Manager
	tracker  *eligibility.Tracker
	results  *results.Engine
	notifier *capturedReceipts
	phases   *phase.Engine
	audit    *audit.Recorder
	recorder *voting.Recorder
	election *domain.Election
}

func setup(t *testing.T) *fixture {
	t.Helper()
	db := testutil.SetupTestDB(t)
	signer, err := receipt.GenerateSigner()
	require.NoError(t, err)

	f := &fixture{
		db:       db,
		clock:    testutil.NewFakeClock(testutil.Epoch),
		sink:     &audit.MemorySink{},
		signer:   signer,
		notifier: &capturedReceipts{},
	}
	log := logger.NewNop()
	rec := audit.NewRecorder(f.sink, log)
	f.election = testutil.SeedElection(t, db, nil, testutil.Epoch)

	f.audit = rec
	f.phases = phase.NewEngine(db, rec, f.clock, log)
	f.tracker = eligibility.NewTracker(db, rec, f.clock, log)
	f.codes = secretcode.NewManager(db, f.tracker, rec, f.clock, secretcode.Options{
		Hasher: secretcode.Hasher{Time: 1, MemoryKiB: 1024, Threads: 1},
	}, log)
	f.results = results.NewEngine(db, results.NewSQLCache(db, f.clock), signer, rec, f.clock, time.Minute, log)
	f.recorder = f.newRecorder()
	return f
}

// newRecorder builds a recorder over the fixture's storage with its own in-process locks,
// the way a second instance of the service would.
func (f *fixture) newRecorder() *voting.Recorder {
	return voting.NewRecorder(voting.Deps{
		DB:          f.db,
		Phases:      f.phases,
		Codes:       f.codes,
		Eligibility: f.tracker,
		Results:     f.results,
		Signer:      f.signer,
		Notifier:    f.notifier,
		Audit:       f.audit,
		Clock:       f.clock,
		Log:         logger.NewNop(),
		LockWait:    5 * time.Second,
	})
}

// enroll issues a code to voterID and grants the given positions
func (f *fixture) enroll(t *testing.T, voterID string, positions ...string) string {
	t.Helper()
	ctx := context.Background()
	plain, code, err := f.codes.Generate(ctx, testutil.Admin, voterID, f.election.ID)
	require.NoError(t, err)
	_, err = f.tracker.EnsureAccess(ctx, voterID, f.election.ID, code.ID)
	require.NoError(t, err)
	for _, p := range positions {
		_, err := f.tracker.Grant(ctx, testutil.Admin, voterID, f.election.ID, p, "member")
		require.NoError(t, err)
	}
	return plain
}

func (f *fixture) ballot(voterID, code, positionID, candidateID string) voting.SubmitVoteRequest {
	return voting.SubmitVoteRequest{
		VoterID:     voterID,
		ElectionID:  f.election.ID,
		PositionID:  positionID,
		CandidateID: candidateID,
		SecretCode:  code,
	}
}

func TestSubmitVote(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president", "secretary", "treasurer")

	first, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	require.NoError(t, err)
	assert.False(t, first.Replayed)
	assert.Equal(t, domain.VoteCast, first.Status)
	assert.Len(t, first.ReceiptHash, domain.ReceiptLength)
	assert.Equal(t, strings.ToUpper(first.ReceiptHash), first.ReceiptHash)
	assert.Equal(t, 33, first.Progress)
	assert.Equal(t, f.signer.Address(), first.SignerAddress)
	assert.True(t, f.signer.Verify(first.ChainHash, first.ReceiptHash, first.Signature))

	// the code is normalised and the chain continues
	second, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", " "+strings.ToLower(code), "secretary", "cand-d"))
	require.NoError(t, err)
	assert.Equal(t, 67, second.Progress)

	votes := repositories.NewVoteRepository(f.db)
	stored, err := votes.GetByID(ctx, second.VoteID)
	require.NoError(t, err)
	assert.Equal(t, 2, stored.ChainSeq)
	assert.Equal(t, first.ChainHash, stored.PrevChainHash)
	assert.NoError(t, f.signer.VerifyVote(stored, first.ChainHash))

	snap, err := f.results.Calculate(ctx, f.election.ID)
	require.NoError(t, err)
	president, _ := snap.Position("president")
	assert.Equal(t, []string{"cand-a"}, president.Winners)
	assert.Equal(t, int64(2), snap.ResultsVersion)

	sc, err := f.codes.Get(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	assert.Len(t, sc.UsageLog, 2)
	assert.Len(t, f.sink.Events(audit.ActionVoteCast), 2)
	for _, e := range f.sink.Events(audit.ActionVoteCast) {
		assert.NotContains(t, e.Details, "candidate_id")
	}
	assert.Equal(t, 2, f.notifier.count())
}

func TestSubmitVoteReplay(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president", "treasurer")

	original, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-b"))
	require.NoError(t, err)

	again, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-b"))
	require.NoError(t, err)
	assert.True(t, again.Replayed)
	assert.Equal(t, original.VoteID, again.VoteID)
	assert.Equal(t, original.ReceiptHash, again.ReceiptHash)
	assert.Equal(t, 50, again.Progress)

	_, err = f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	abstain := f.ballot("voter-1", code, "president", "")
	abstain.IsAbstention, abstain.AbstentionReason = true, "changed my mind"
	_, err = f.recorder.SubmitVote(ctx, abstain)
	assert.ErrorIs(t, err, domain.ErrAlreadyVoted)

	counts, err := repositories.NewVoteRepository(f.db).CountByStatus(ctx, f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.VoteCast])
	assert.Equal(t, 1, f.notifier.count())
}

func TestSubmitVoteRejects(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")
	outsider := f.enroll(t, "voter-2")

	abstainNoReason := f.ballot("voter-1", code, "president", "")
	abstainNoReason.IsAbstention = true
	abstainWithCandidate := f.ballot("voter-1", code, "president", "cand-a")
	abstainWithCandidate.IsAbstention, abstainWithCandidate.AbstentionReason = true, "x"

	cases := []struct {
		name string
		req  voting.SubmitVoteRequest
		want error
	}{
		{"abstention without reason", abstainNoReason, nil},
		{"abstention naming a candidate", abstainWithCandidate, nil},
		{"no candidate", f.ballot("voter-1", code, "president", ""), nil},
		{"no code", f.ballot("voter-1", "", "president", "cand-a"), nil},
		{"candidate of another position", f.ballot("voter-1", code, "president", "cand-c"), nil},
		{"unknown position", f.ballot("voter-1", code, "dean", "cand-a"), nil},
		{"wrong code", f.ballot("voter-1", "ZZ9999", "president", "cand-a"), domain.ErrInvalidSecretCode},
		{"position not granted", f.ballot("voter-1", code, "secretary", "cand-c"), domain.ErrNotEligible},
		{"voter without grants", f.ballot("voter-2", outsider, "president", "cand-a"), domain.ErrNotEligible},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.recorder.SubmitVote(ctx, tc.req)
			require.Error(t, err)
			if tc.want == nil {
				assert.Equal(t, domain.KindValidation, domain.KindOf(err))
				return
			}
			assert.ErrorIs(t, err, tc.want)
		})
	}

	f.clock.Set(f.election.EndDateTime.Add(time.Second))
	_, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	require.ErrorIs(t, err, domain.ErrPhaseViolation)
	assert.Equal(t, "RESULTS", domain.AsError(err).Details["current_phase"])

	counts, err := repositories.NewVoteRepository(f.db).CountByStatus(ctx, f.election.ID)
	require.NoError(t, err)
	assert.Empty(t, counts)
}

func TestSuspendedVoterCannotVote(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")
	_, err := f.tracker.Suspend(ctx, testutil.Admin, "voter-1", f.election.ID, "under review")
	require.NoError(t, err)

	_, err = f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	require.ErrorIs(t, err, domain.ErrNotEligible)
	assert.Equal(t, "SUSPENDED", domain.AsError(err).Details["access_status"])
}

func TestConcurrentIdenticalSubmissions(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")

	const n = 8
	var (
		wg       sync.WaitGroup
		receipts = make([]*voting.Receipt, n)
		errs     = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, receipts[0].ReceiptHash, receipts[i].ReceiptHash)
		if !receipts[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	counts, err := repositories.NewVoteRepository(f.db).CountByStatus(ctx, f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.VoteCast])
}

func TestConcurrentSubmissionsAcrossRecorders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")
	instances := []*voting.Recorder{f.recorder, f.newRecorder()}

	const n = 6
	var (
		wg       sync.WaitGroup
		receipts = make([]*voting.Receipt, n)
		errs     = make([]error, n)
	)
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = instances[i%2].SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
		}(i)
	}
	wg.Wait()

	fresh := 0
	for i := 0; i < n; i++ {
		require.NoError(t, errs[i])
		assert.Equal(t, receipts[0].VoteID, receipts[i].VoteID)
		if !receipts[i].Replayed {
			fresh++
		}
	}
	assert.Equal(t, 1, fresh)

	counts, err := repositories.NewVoteRepository(f.db).CountByStatus(ctx, f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, counts[domain.VoteCast])
}

func TestConcurrentPositionsAcrossRecorders(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president", "secretary")
	instances := []*voting.Recorder{f.recorder, f.newRecorder()}
	ballots := []voting.SubmitVoteRequest{
		f.ballot("voter-1", code, "president", "cand-a"),
		f.ballot("voter-1", code, "secretary", "cand-c"),
	}

	var (
		wg       sync.WaitGroup
		receipts = make([]*voting.Receipt, 2)
		errs     = make([]error, 2)
	)
	for i := range ballots {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			receipts[i], errs[i] = instances[i].SubmitVote(ctx, ballots[i])
		}(i)
	}
	wg.Wait()

	for i := range ballots {
		require.NoError(t, errs[i], "position %s", ballots[i].PositionID)
		assert.False(t, receipts[i].Replayed)
	}
	assert.NotEqual(t, receipts[0].VoteID, receipts[1].VoteID)

	votes, err := repositories.NewVoteRepository(f.db).ListByElection(ctx, f.election.ID)
	require.NoError(t, err)
	require.Len(t, votes, 2)
	assert.Equal(t, 1, votes[0].ChainSeq)
	assert.Equal(t, 2, votes[1].ChainSeq)
	assert.Empty(t, f.signer.VerifyChains(votes))

	progress, err := f.tracker.Progress(ctx, "voter-1", f.election.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, progress.TotalVoted)
	assert.Equal(t, 100, progress.Progress)
}

func TestAbstention(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "treasurer")

	req := f.ballot("voter-1", code, "treasurer", "")
	req.IsAbstention, req.AbstentionReason = true, "  single candidate  "
	rcpt, err := f.recorder.SubmitVote(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, 100, rcpt.Progress)

	stored, err := repositories.NewVoteRepository(f.db).GetByID(ctx, rcpt.VoteID)
	require.NoError(t, err)
	assert.True(t, stored.IsAbstention)
	assert.Equal(t, "single candidate", stored.AbstentionReason)

	snap, err := f.results.Calculate(ctx, f.election.ID)
	require.NoError(t, err)
	treasurer, _ := snap.Position("treasurer")
	assert.Equal(t, 1, treasurer.TotalVotes)
	assert.Equal(t, 1, treasurer.AbstentionCount)
	assert.Empty(t, treasurer.Winners)
}

func TestVerifyReceipt(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")
	rcpt, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	require.NoError(t, err)

	check, err := f.recorder.VerifyReceipt(ctx, strings.ToLower(rcpt.ReceiptHash))
	require.NoError(t, err)
	assert.True(t, check.SignatureOK)
	assert.Equal(t, "president", check.PositionID)
	assert.Equal(t, domain.VoteCast, check.Status)

	_, err = f.recorder.VerifyReceipt(ctx, "not-a-receipt")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))
	_, err = f.recorder.VerifyReceipt(ctx, "0123456789ABCDEF")
	assert.ErrorIs(t, err, domain.ErrVoteNotFound)

	_, err = f.db.ExecContext(ctx, `UPDATE votes SET candidate_id = ? WHERE id = ?`, "cand-b", rcpt.VoteID)
	require.NoError(t, err)
	check, err = f.recorder.VerifyReceipt(ctx, rcpt.ReceiptHash)
	require.NoError(t, err)
	assert.False(t, check.SignatureOK)
}

func TestSetVoteStatus(t *testing.T) {
	f := setup(t)
	ctx := context.Background()
	code := f.enroll(t, "voter-1", "president")
	rcpt, err := f.recorder.SubmitVote(ctx, f.ballot("voter-1", code, "president", "cand-a"))
	require.NoError(t, err)

	_, err = f.recorder.SetVoteStatus(ctx, domain.Actor{UserID: "voter-1", Role: domain.RoleVoter}, rcpt.VoteID, domain.VoteDisputed, "x")
	assert.ErrorIs(t, err, domain.ErrForbidden)
	_, err = f.recorder.SetVoteStatus(ctx, testutil.Admin, rcpt.VoteID, domain.VoteCounted, "x")
	assert.Equal(t, domain.KindValidation, domain.KindOf(err))

	v, err := f.recorder.SetVoteStatus(ctx, testutil.Admin, rcpt.VoteID, domain.VoteDisputed, "duplicate registration")
	require.NoError(t, err)
	assert.Equal(t, domain.VoteDisputed, v.Status)

	snap, err := f.results.Calculate(ctx, f.election.ID)
	require.NoError(t, err)
	president, _ := snap.Position("president")
	assert.Zero(t, president.TotalVotes)

	_, err = f.recorder.SetVoteStatus(ctx, testutil.Admin, rcpt.VoteID, domain.VoteInvalid, "confirmed")
	require.NoError(t, err)
	_, err = f.recorder.SetVoteStatus(ctx, testutil.Admin, rcpt.VoteID, domain.VoteDisputed, "again")
	assert.ErrorIs(t, err, domain.ErrInvalidTransition)
	assert.Len(t, f.sink.Events(audit.ActionVoteStatus), 2)
}
