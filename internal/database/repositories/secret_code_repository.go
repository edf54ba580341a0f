package repositories

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"election-service/internal/database"
	"election-service/internal/domain"
)

type SecretCodeRepository struct {
	db database.Executor
}

func NewSecretCodeRepository(db *database.DB) *SecretCodeRepository {
	return &SecretCodeRepository{db: db}
}

// WithTx returns a copy bound to tx
func (r *SecretCodeRepository) WithTx(tx *database.Tx) *SecretCodeRepository {
	return &SecretCodeRepository{db: tx}
}

// Create stores a new code. A second active code for the voter fails with ErrSecretCodeExists.
func (r *SecretCodeRepository) Create(ctx context.Context, c *domain.SecretCode) error {
	query := `
        INSERT INTO secret_codes (id, voter_id, election_id, code_hash, salt, attempts, max_attempts,
                                  is_locked, locked_until, is_active, issued_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		c.ID, c.VoterID, c.ElectionID, hex.EncodeToString(c.CodeHash), hex.EncodeToString(c.Salt),
		c.Attempts, c.MaxAttempts, c.IsLocked, nullTime(c.LockedUntil), c.IsActive, c.IssuedBy,
		c.CreatedAt.UTC(), c.UpdatedAt.UTC())
	if database.IsUniqueViolation(err) {
		return domain.ErrSecretCodeExists
	}
	if err != nil {
		return fmt.Errorf("insert secret code: %w", err)
	}
	return nil
}

const secretCodeColumns = `
        id, voter_id, election_id, code_hash, salt, attempts, max_attempts, is_locked, locked_until,
        is_active, issued_by, created_at, updated_at, deactivated_at`

func scanSecretCode(row rowScanner) (*domain.SecretCode, error) {
	var (
		c                        domain.SecretCode
		codeHash, salt           string
		lockedUntil, deactivated sql.NullTime
	)
	err := row.Scan(&c.ID, &c.VoterID, &c.ElectionID, &codeHash, &salt, &c.Attempts, &c.MaxAttempts,
		&c.IsLocked, &lockedUntil, &c.IsActive, &c.IssuedBy, &c.CreatedAt, &c.UpdatedAt, &deactivated)
	if err != nil {
		return nil, err
	}
	if c.CodeHash, err = hex.DecodeString(codeHash); err != nil {
		return nil, fmt.Errorf("decode code hash: %w", err)
	}
	if c.Salt, err = hex.DecodeString(salt); err != nil {
		return nil, fmt.Errorf("decode salt: %w", err)
	}
	c.LockedUntil = timePtr(lockedUntil)
	c.DeactivatedAt = timePtr(deactivated)
	c.CreatedAt = utc(c.CreatedAt)
	c.UpdatedAt = utc(c.UpdatedAt)
	return &c, nil
}

// GetCurrent returns the active code of the voter or, when none is active, the most
// recently issued one. Inside a postgres transaction the row is locked.
func (r *SecretCodeRepository) GetCurrent(ctx context.Context, voterID, electionID string) (*domain.SecretCode, error) {
	query := `SELECT` + secretCodeColumns + `
        FROM secret_codes
        WHERE voter_id = ? AND election_id = ?
        ORDER BY is_active DESC, created_at DESC
        LIMIT 1` + r.db.ForUpdate()

	c, err := scanSecretCode(r.db.QueryRowContext(ctx, query, voterID, electionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSecretCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secret code: %w", err)
	}
	return c, nil
}

// GetByID loads a code and its usage log
func (r *SecretCodeRepository) GetByID(ctx context.Context, id string) (*domain.SecretCode, error) {
	query := `SELECT` + secretCodeColumns + `
        FROM secret_codes
        WHERE id = ?
    `
	c, err := scanSecretCode(r.db.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrSecretCodeNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get secret code: %w", err)
	}
	if c.UsageLog, err = r.ListUsage(ctx, id); err != nil {
		return nil, err
	}
	return c, nil
}

// UpdateAttemptState persists the brute-force counters of a code
func (r *SecretCodeRepository) UpdateAttemptState(ctx context.Context, c *domain.SecretCode) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE secret_codes
        SET attempts = ?, is_locked = ?, locked_until = ?, updated_at = ?
        WHERE id = ?
    `, c.Attempts, c.IsLocked, nullTime(c.LockedUntil), c.UpdatedAt.UTC(), c.ID)
	if err != nil {
		return fmt.Errorf("update secret code: %w", err)
	}
	return expectOne(res, domain.ErrSecretCodeNotFound)
}

// Deactivate marks a code inactive. The row is kept.
func (r *SecretCodeRepository) Deactivate(ctx context.Context, id string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE secret_codes
        SET is_active = ?, deactivated_at = ?, updated_at = ?
        WHERE id = ? AND is_active = ?
    `, false, at.UTC(), at.UTC(), id, true)
	if err != nil {
		return fmt.Errorf("deactivate secret code: %w", err)
	}
	return expectOne(res, domain.ErrSecretCodeDeactivated)
}

// AppendUsage records the position a code was used for
func (r *SecretCodeRepository) AppendUsage(ctx context.Context, codeID string, usage domain.CodeUsage) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO code_usage (id, secret_code_id, position_id, candidate_id, used_at)
        VALUES (?, ?, ?, ?, ?)
    `, uuid.NewString(), codeID, usage.PositionID, usage.CandidateID, usage.UsedAt.UTC())
	if err != nil {
		return fmt.Errorf("append code usage: %w", err)
	}
	return nil
}

// ListUsage returns the usage log of a code, oldest first
func (r *SecretCodeRepository) ListUsage(ctx context.Context, codeID string) ([]domain.CodeUsage, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT position_id, candidate_id, used_at
        FROM code_usage
        WHERE secret_code_id = ?
        ORDER BY used_at ASC
    `, codeID)
	if err != nil {
		return nil, fmt.Errorf("list code usage: %w", err)
	}
	defer rows.Close()

	var out []domain.CodeUsage
	for rows.Next() {
		var u domain.CodeUsage
		if err := rows.Scan(&u.PositionID, &u.CandidateID, &u.UsedAt); err != nil {
			return nil, fmt.Errorf("scan code usage: %w", err)
		}
		u.UsedAt = utc(u.UsedAt)
		out = append(out, u)
	}
	return out, rows.Err()
}

// RecordAttempt appends to the durable attempt log
func (r *SecretCodeRepository) RecordAttempt(ctx context.Context, a *database.CodeAttempt) error {
	if a.ID == "" {
		a.ID = uuid.NewString()
	}
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO code_attempts (id, secret_code_id, voter_id, election_id, position_id, success, outcome, attempted_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `, a.ID, a.SecretCodeID, a.VoterID, a.ElectionID, a.PositionID, a.Success, a.Outcome, a.AttemptedAt.UTC())
	if err != nil {
		return fmt.Errorf("record code attempt: %w", err)
	}
	return nil
}

// ListAttempts returns the attempt log of a voter, oldest first
func (r *SecretCodeRepository) ListAttempts(ctx context.Context, voterID, electionID string) ([]database.CodeAttempt, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, secret_code_id, voter_id, election_id, position_id, success, outcome, attempted_at
        FROM code_attempts
        WHERE voter_id = ? AND election_id = ?
        ORDER BY attempted_at ASC
    `, voterID, electionID)
	if err != nil {
		return nil, fmt.Errorf("list code attempts: %w", err)
	}
	defer rows.Close()

	var out []database.CodeAttempt
	for rows.Next() {
		var a database.CodeAttempt
		if err := rows.Scan(&a.ID, &a.SecretCodeID, &a.VoterID, &a.ElectionID, &a.PositionID,
			&a.Success, &a.Outcome, &a.AttemptedAt); err != nil {
			return nil, fmt.Errorf("scan code attempt: %w", err)
		}
		a.AttemptedAt = utc(a.AttemptedAt)
		out = append(out, a)
	}
	return out, rows.Err()
}
