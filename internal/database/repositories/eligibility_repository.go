package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"election-service/internal/database"
	"election-service/internal/domain"
)

type EligibilityRepository struct {
	db database.Executor
}

func NewEligibilityRepository(db *database.DB) *EligibilityRepository {
	return &EligibilityRepository{db: db}
}

// WithTx returns a copy bound to tx
func (r *EligibilityRepository) WithTx(tx *database.Tx) *EligibilityRepository {
	return &EligibilityRepository{db: tx}
}

// Create inserts the access row and any positions it already carries
func (r *EligibilityRepository) Create(ctx context.Context, a *domain.EligibilityAccess) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO eligibility_access (id, voter_id, election_id, secret_code_id, total_eligible, total_voted,
                                        progress, status, status_reason, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `, a.ID, a.VoterID, a.ElectionID, a.SecretCodeID, a.TotalEligible, a.TotalVoted,
		a.Progress, string(a.Status), a.StatusReason, a.CreatedAt.UTC(), a.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert eligibility access: %w", err)
	}
	for _, p := range a.PositionsEligible {
		if err := r.AddEligiblePosition(ctx, a.ID, p); err != nil {
			return err
		}
	}
	return nil
}

// Get loads the access of a voter with both position sets
func (r *EligibilityRepository) Get(ctx context.Context, voterID, electionID string) (*domain.EligibilityAccess, error) {
	var (
		a      domain.EligibilityAccess
		status string
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT id, voter_id, election_id, secret_code_id, total_eligible, total_voted, progress,
               status, status_reason, created_at, updated_at
        FROM eligibility_access
        WHERE voter_id = ? AND election_id = ?
    `+r.db.ForUpdate(), voterID, electionID).Scan(&a.ID, &a.VoterID, &a.ElectionID, &a.SecretCodeID,
		&a.TotalEligible, &a.TotalVoted, &a.Progress, &status, &a.StatusReason, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrAccessNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get eligibility access: %w", err)
	}
	a.Status = domain.AccessStatus(status)
	a.CreatedAt = utc(a.CreatedAt)
	a.UpdatedAt = utc(a.UpdatedAt)

	if a.PositionsEligible, err = r.listEligible(ctx, a.ID); err != nil {
		return nil, err
	}
	if a.PositionsVoted, err = r.listVoted(ctx, a.ID); err != nil {
		return nil, err
	}
	return &a, nil
}

func (r *EligibilityRepository) listEligible(ctx context.Context, accessID string) ([]domain.EligiblePosition, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT position_id, reason, verified_by, granted_at
        FROM eligible_positions
        WHERE access_id = ?
        ORDER BY granted_at ASC, position_id ASC
    `, accessID)
	if err != nil {
		return nil, fmt.Errorf("list eligible positions: %w", err)
	}
	defer rows.Close()

	var out []domain.EligiblePosition
	for rows.Next() {
		var p domain.EligiblePosition
		if err := rows.Scan(&p.PositionID, &p.Reason, &p.VerifiedBy, &p.GrantedAt); err != nil {
			return nil, fmt.Errorf("scan eligible position: %w", err)
		}
		p.GrantedAt = utc(p.GrantedAt)
		out = append(out, p)
	}
	return out, rows.Err()
}

func (r *EligibilityRepository) listVoted(ctx context.Context, accessID string) ([]domain.VotedPosition, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT position_id, candidate_id, vote_id, voted_at
        FROM voted_positions
        WHERE access_id = ?
        ORDER BY voted_at ASC, position_id ASC
    `, accessID)
	if err != nil {
		return nil, fmt.Errorf("list voted positions: %w", err)
	}
	defer rows.Close()

	var out []domain.VotedPosition
	for rows.Next() {
		var v domain.VotedPosition
		if err := rows.Scan(&v.PositionID, &v.CandidateID, &v.VoteID, &v.VotedAt); err != nil {
			return nil, fmt.Errorf("scan voted position: %w", err)
		}
		v.VotedAt = utc(v.VotedAt)
		out = append(out, v)
	}
	return out, rows.Err()
}

// AddEligiblePosition inserts a grant
func (r *EligibilityRepository) AddEligiblePosition(ctx context.Context, accessID string, p domain.EligiblePosition) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO eligible_positions (access_id, position_id, reason, verified_by, granted_at)
        VALUES (?, ?, ?, ?, ?)
    `, accessID, p.PositionID, p.Reason, p.VerifiedBy, p.GrantedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert eligible position: %w", err)
	}
	return nil
}

// AddVotedPosition inserts a voted marker. A second marker for the position fails with ErrAlreadyVoted.
func (r *EligibilityRepository) AddVotedPosition(ctx context.Context, accessID string, v domain.VotedPosition) error {
	_, err := r.db.ExecContext(ctx, `
        INSERT INTO voted_positions (access_id, position_id, candidate_id, vote_id, voted_at)
        VALUES (?, ?, ?, ?, ?)
    `, accessID, v.PositionID, v.CandidateID, v.VoteID, v.VotedAt.UTC())
	if database.IsUniqueViolation(err) {
		return domain.ErrAlreadyVoted
	}
	if err != nil {
		return fmt.Errorf("insert voted position: %w", err)
	}
	return nil
}

// UpdateSummary persists the derived totals, status and code link
func (r *EligibilityRepository) UpdateSummary(ctx context.Context, a *domain.EligibilityAccess) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE eligibility_access
        SET secret_code_id = ?, total_eligible = ?, total_voted = ?, progress = ?,
            status = ?, status_reason = ?, updated_at = ?
        WHERE id = ?
    `, a.SecretCodeID, a.TotalEligible, a.TotalVoted, a.Progress,
		string(a.Status), a.StatusReason, a.UpdatedAt.UTC(), a.ID)
	if err != nil {
		return fmt.Errorf("update eligibility access: %w", err)
	}
	return expectOne(res, domain.ErrAccessNotFound)
}

// ExpireByElection closes every ACTIVE or SUSPENDED access of an election
func (r *EligibilityRepository) ExpireByElection(ctx context.Context, electionID string, at time.Time) (int64, error) {
	res, err := r.db.ExecContext(ctx, `
        UPDATE eligibility_access
        SET status = ?, status_reason = ?, updated_at = ?
        WHERE election_id = ? AND status IN (?, ?)
    `, string(domain.AccessExpired), "election closed", at.UTC(), electionID,
		string(domain.AccessActive), string(domain.AccessSuspended))
	if err != nil {
		return 0, fmt.Errorf("expire eligibility access: %w", err)
	}
	return res.RowsAffected()
}
