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

type VoteRepository struct {
	db database.Executor
}

func NewVoteRepository(db *database.DB) *VoteRepository {
	return &VoteRepository{db: db}
}

// WithTx returns a copy bound to tx
func (r *VoteRepository) WithTx(tx *database.Tx) *VoteRepository {
	return &VoteRepository{db: tx}
}

// Insert stores a vote. A second counted vote for the same position fails with
// ErrAlreadyVoted, a taken chain link with ErrConcurrentVote.
func (r *VoteRepository) Insert(ctx context.Context, v *domain.Vote) error {
	query := `
        INSERT INTO votes (id, election_id, position_id, candidate_id, is_abstention, abstention_reason,
                           voter_id, secret_code_id, status, salt, vote_hash, receipt_hash, chain_seq,
                           prev_chain_hash, chain_hash, signature, status_reason, cast_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		v.ID, v.ElectionID, v.PositionID, v.CandidateID, v.IsAbstention, v.AbstentionReason,
		v.VoterID, v.SecretCodeID, string(v.Status), v.Salt, v.VoteHash, v.ReceiptHash, v.ChainSeq,
		v.PrevChainHash, v.ChainHash, v.Signature, v.StatusReason, v.Timestamp.UTC(), v.UpdatedAt.UTC())
	switch {
	case database.UniqueViolationOn(err, "uq_votes_counted", "votes.position_id"):
		return domain.ErrAlreadyVoted
	case database.UniqueViolationOn(err, "uq_votes_chain", "votes.chain_seq"):
		return domain.ErrConcurrentVote
	case err != nil:
		return fmt.Errorf("insert vote: %w", err)
	}
	return nil
}

const voteColumns = `
        id, election_id, position_id, candidate_id, is_abstention, abstention_reason, voter_id,
        secret_code_id, status, salt, vote_hash, receipt_hash, chain_seq, prev_chain_hash, chain_hash,
        signature, status_reason, cast_at, updated_at`

func scanVote(row rowScanner) (*domain.Vote, error) {
	var (
		v      domain.Vote
		status string
	)
	err := row.Scan(&v.ID, &v.ElectionID, &v.PositionID, &v.CandidateID, &v.IsAbstention,
		&v.AbstentionReason, &v.VoterID, &v.SecretCodeID, &status, &v.Salt, &v.VoteHash,
		&v.ReceiptHash, &v.ChainSeq, &v.PrevChainHash, &v.ChainHash, &v.Signature, &v.StatusReason,
		&v.Timestamp, &v.UpdatedAt)
	if err != nil {
		return nil, err
	}
	v.Status = domain.VoteStatus(status)
	v.Timestamp = utc(v.Timestamp)
	v.UpdatedAt = utc(v.UpdatedAt)
	return &v, nil
}

func (r *VoteRepository) getOne(ctx context.Context, where string, args ...interface{}) (*domain.Vote, error) {
	query := `SELECT` + voteColumns + `
        FROM votes
        WHERE ` + where
	v, err := scanVote(r.db.QueryRowContext(ctx, query, args...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrVoteNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get vote: %w", err)
	}
	return v, nil
}

// GetByID retrieves a vote by id
func (r *VoteRepository) GetByID(ctx context.Context, id string) (*domain.Vote, error) {
	return r.getOne(ctx, `id = ?`, id)
}

// GetByReceipt retrieves a vote by its receipt hash
func (r *VoteRepository) GetByReceipt(ctx context.Context, receiptHash string) (*domain.Vote, error) {
	return r.getOne(ctx, `receipt_hash = ? ORDER BY cast_at ASC LIMIT 1`, receiptHash)
}

// GetCounted returns the counted vote of a voter for a position
func (r *VoteRepository) GetCounted(ctx context.Context, electionID, voterID, positionID string) (*domain.Vote, error) {
	return r.getOne(ctx, `election_id = ? AND voter_id = ? AND position_id = ?
          AND status IN (?, ?, ?, ?)`,
		electionID, voterID, positionID,
		string(domain.VoteCast), string(domain.VoteVerified), string(domain.VoteCounted), string(domain.VoteRecounted))
}

// ChainHead returns the last link of the voter's chain in an election, zero values when empty
func (r *VoteRepository) ChainHead(ctx context.Context, electionID, voterID string) (int, string, error) {
	var (
		seq  int
		hash string
	)
	err := r.db.QueryRowContext(ctx, `
        SELECT chain_seq, chain_hash
        FROM votes
        WHERE election_id = ? AND voter_id = ?
        ORDER BY chain_seq DESC
        LIMIT 1
    `, electionID, voterID).Scan(&seq, &hash)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, "", nil
	}
	if err != nil {
		return 0, "", fmt.Errorf("read chain head: %w", err)
	}
	return seq, hash, nil
}

// ListByElection returns every vote of an election grouped by voter chain
func (r *VoteRepository) ListByElection(ctx context.Context, electionID string) ([]domain.Vote, error) {
	rows, err := r.db.QueryContext(ctx, `SELECT`+voteColumns+`
        FROM votes
        WHERE election_id = ?
        ORDER BY voter_id ASC, chain_seq ASC
    `, electionID)
	if err != nil {
		return nil, fmt.Errorf("list votes: %w", err)
	}
	defer rows.Close()

	var votes []domain.Vote
	for rows.Next() {
		v, err := scanVote(rows)
		if err != nil {
			return nil, fmt.Errorf("scan vote: %w", err)
		}
		votes = append(votes, *v)
	}
	return votes, rows.Err()
}

// UpdateStatus moves a vote to a new status
func (r *VoteRepository) UpdateStatus(ctx context.Context, id string, status domain.VoteStatus, reason string, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE votes
        SET status = ?, status_reason = ?, updated_at = ?
        WHERE id = ?
    `, string(status), reason, at.UTC(), id)
	if err != nil {
		return fmt.Errorf("update vote status: %w", err)
	}
	return expectOne(res, domain.ErrVoteNotFound)
}

// CountByStatus returns the number of votes per status for an election
func (r *VoteRepository) CountByStatus(ctx context.Context, electionID string) (map[domain.VoteStatus]int, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT status, COUNT(*)
        FROM votes
        WHERE election_id = ?
        GROUP BY status
    `, electionID)
	if err != nil {
		return nil, fmt.Errorf("count votes: %w", err)
	}
	defer rows.Close()

	counts := make(map[domain.VoteStatus]int)
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			return nil, fmt.Errorf("scan vote count: %w", err)
		}
		counts[domain.VoteStatus(status)] = n
	}
	return counts, rows.Err()
}
