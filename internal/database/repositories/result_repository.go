package repositories

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"election-service/internal/database"
	"election-service/internal/domain"
)

type ResultRepository struct {
	db database.Executor
}

func NewResultRepository(db *database.DB) *ResultRepository {
	return &ResultRepository{db: db}
}

// WithTx returns a copy bound to tx
func (r *ResultRepository) WithTx(tx *database.Tx) *ResultRepository {
	return &ResultRepository{db: tx}
}

// Upsert writes the whole snapshot row keyed by election id
func (r *ResultRepository) Upsert(ctx context.Context, s *domain.ResultSnapshot) error {
	payload, err := json.Marshal(s.Positions)
	if err != nil {
		return fmt.Errorf("encode result snapshot: %w", err)
	}
	_, err = r.db.ExecContext(ctx, `
        INSERT INTO result_snapshots (election_id, status, results_version, payload, calculated_at, promoted_by, promoted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT (election_id) DO UPDATE SET
            status = excluded.status,
            results_version = excluded.results_version,
            payload = excluded.payload,
            calculated_at = excluded.calculated_at,
            promoted_by = excluded.promoted_by,
            promoted_at = excluded.promoted_at
    `, s.ElectionID, string(s.Status), s.ResultsVersion, string(payload), s.CalculatedAt.UTC(),
		s.PromotedBy, nullTime(s.PromotedAt))
	if err != nil {
		return fmt.Errorf("upsert result snapshot: %w", err)
	}
	return nil
}

// UpsertProvisional writes a PROVISIONAL snapshot unless the stored row was
// promoted in the meantime. Reports whether the row was written.
func (r *ResultRepository) UpsertProvisional(ctx context.Context, s *domain.ResultSnapshot) (bool, error) {
	payload, err := json.Marshal(s.Positions)
	if err != nil {
		return false, fmt.Errorf("encode result snapshot: %w", err)
	}
	res, err := r.db.ExecContext(ctx, `
        INSERT INTO result_snapshots (election_id, status, results_version, payload, calculated_at, promoted_by, promoted_at)
        VALUES (?, ?, ?, ?, ?, '', NULL)
        ON CONFLICT (election_id) DO UPDATE SET
            results_version = excluded.results_version,
            payload = excluded.payload,
            calculated_at = excluded.calculated_at
        WHERE result_snapshots.status = ?
    `, s.ElectionID, string(domain.ResultProvisional), s.ResultsVersion, string(payload), s.CalculatedAt.UTC(),
		string(domain.ResultProvisional))
	if err != nil {
		return false, fmt.Errorf("upsert result snapshot: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n > 0, nil
}

// Get loads the stored snapshot of an election
func (r *ResultRepository) Get(ctx context.Context, electionID string) (*domain.ResultSnapshot, error) {
	var (
		s          domain.ResultSnapshot
		status     string
		payload    string
		promotedAt sql.NullTime
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT election_id, status, results_version, payload, calculated_at, promoted_by, promoted_at
        FROM result_snapshots
        WHERE election_id = ?
    `, electionID).Scan(&s.ElectionID, &status, &s.ResultsVersion, &payload, &s.CalculatedAt,
		&s.PromotedBy, &promotedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrResultNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get result snapshot: %w", err)
	}
	if err := json.Unmarshal([]byte(payload), &s.Positions); err != nil {
		return nil, fmt.Errorf("decode result snapshot: %w", err)
	}
	s.Status = domain.ResultStatus(status)
	s.CalculatedAt = utc(s.CalculatedAt)
	s.PromotedAt = timePtr(promotedAt)
	return &s, nil
}

type ResultCacheRepository struct {
	db database.Executor
}

func NewResultCacheRepository(db *database.DB) *ResultCacheRepository {
	return &ResultCacheRepository{db: db}
}

// Get returns the cached entry, nil when absent
func (r *ResultCacheRepository) Get(ctx context.Context, electionID string) (*database.CachedResult, error) {
	var c database.CachedResult
	err := r.db.QueryRowContext(ctx, `
        SELECT election_id, results_version, payload, expires_at
        FROM result_cache
        WHERE election_id = ?
    `, electionID).Scan(&c.ElectionID, &c.ResultsVersion, &c.Payload, &c.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get cached result: %w", err)
	}
	c.ExpiresAt = utc(c.ExpiresAt)
	return &c, nil
}

// Put replaces the cached entry of an election
func (r *ResultCacheRepository) Put(ctx context.Context, c *database.CachedResult) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO result_cache (election_id, results_version, payload, expires_at)
        VALUES (?, ?, ?, ?)
        ON CONFLICT (election_id) DO UPDATE SET
            results_version = excluded.results_version,
            payload = excluded.payload,
            expires_at = excluded.expires_at
    `, c.ElectionID, c.ResultsVersion, c.Payload, c.ExpiresAt.UTC())
	if err != nil {
		return fmt.Errorf("put cached result: %w", err)
	}
	return nil
}

// Delete drops the cached entry
func (r *ResultCacheRepository) Delete(ctx context.Context, electionID string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM result_cache WHERE election_id = ?`, electionID); err != nil {
		return fmt.Errorf("delete cached result: %w", err)
	}
	return nil
}
