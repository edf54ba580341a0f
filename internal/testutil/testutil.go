// Package testutil holds shared fixtures for package tests.
package testutil

import (
	"context"
	"database/sql"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/internal/domain"
)

// SetupTestDB opens a private in-memory sqlite database with the schema applied.
// A single connection keeps every statement on the same memory database.
func SetupTestDB(t *testing.T) *database.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:test_%s?mode=memory&cache=shared&_foreign_keys=on&_busy_timeout=5000",
		uuid.NewString())
	sqlDB, err := sql.Open(database.DriverSQLite, dsn)
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)

	db := database.Wrap(sqlDB, database.DriverSQLite)
	require.NoError(t, database.RunMigrations(context.Background(), db))

	t.Cleanup(func() { db.Close() })
	return db
}

// FakeClock is a settable domain.Clock
type FakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func NewFakeClock(now time.Time) *FakeClock {
	return &FakeClock{now: now.UTC()}
}

func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

// Advance moves the clock forward by d
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// Set jumps the clock to t
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = t.UTC()
}

// Epoch is the default fake "now" of the fixtures
var Epoch = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// Admin is a privileged actor for fixtures
var Admin = domain.Actor{UserID: "admin-1", Role: domain.RoleAdmin}

// NewElection builds an ACTIVE election whose voting window contains now.
// Positions: president (cand-a, cand-b), secretary (cand-c, cand-d), treasurer (cand-e).
func NewElection(now time.Time) *domain.Election {
	reg := now.Add(-72 * time.Hour)
	nom := now.Add(-48 * time.Hour)
	e := &domain.Election{
		ID:                   uuid.NewString(),
		Name:                 "Student Union 2026",
		Status:               domain.ElectionActive,
		StartDateTime:        now.Add(-time.Hour),
		EndDateTime:          now.Add(8 * time.Hour),
		RegistrationDeadline: &reg,
		NominationDeadline:   &nom,
		CampaignPeriod:       &domain.Period{Start: nom, End: now.Add(-2 * time.Hour)},
		CreatedBy:            Admin.UserID,
		CreatedAt:            now.Add(-96 * time.Hour),
		UpdatedAt:            now.Add(-96 * time.Hour),
	}
	e.Positions = []domain.Position{
		position(e.ID, "president", 1, 1, "cand-a", "cand-b"),
		position(e.ID, "secretary", 1, 2, "cand-c", "cand-d"),
		position(e.ID, "treasurer", 1, 3, "cand-e"),
	}
	e.CurrentPhase = domain.DerivePhase(e, now)
	return e
}

func position(electionID, id string, maxWinners, order int, candidates ...string) domain.Position {
	p := domain.Position{ID: id, ElectionID: electionID, Title: id, MaxWinners: maxWinners, SortOrder: order}
	for _, c := range candidates {
		p.Candidates = append(p.Candidates, domain.Candidate{ID: c, PositionID: id, Name: c})
	}
	return p
}

// SeedElection stores e, or a fresh NewElection(now) when e is nil.
func SeedElection(t *testing.T, db *database.DB, e *domain.Election, now time.Time) *domain.Election {
	t.Helper()
	if e == nil {
		e = NewElection(now)
	}
	require.NoError(t, db.InTx(context.Background(), func(tx *database.Tx) error {
		return repositories.NewElectionRepository(db).WithTx(tx).Create(context.Background(), e)
	}))
	return e
}
