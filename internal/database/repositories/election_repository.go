package repositories

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"election-service/internal/database"
	"election-service/internal/domain"
)

type ElectionRepository struct {
	db database.Executor
}

func NewElectionRepository(db *database.DB) *ElectionRepository {
	return &ElectionRepository{db: db}
}

// WithTx returns a copy bound to tx
func (r *ElectionRepository) WithTx(tx *database.Tx) *ElectionRepository {
	return &ElectionRepository{db: tx}
}

// Create inserts an election with its positions and candidates. Run it inside a transaction.
func (r *ElectionRepository) Create(ctx context.Context, e *domain.Election) error {
	var campaignStart, campaignEnd *time.Time
	if e.CampaignPeriod != nil {
		campaignStart, campaignEnd = &e.CampaignPeriod.Start, &e.CampaignPeriod.End
	}

	query := `
        INSERT INTO elections (id, name, description, organization_id, status, current_phase,
                               start_date_time, end_date_time, registration_deadline, nomination_deadline,
                               campaign_start, campaign_end, results_version, created_by, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query,
		e.ID, e.Name, e.Description, e.OrganizationID, string(e.Status), string(e.CurrentPhase),
		e.StartDateTime.UTC(), e.EndDateTime.UTC(), nullTime(e.RegistrationDeadline), nullTime(e.NominationDeadline),
		nullTime(campaignStart), nullTime(campaignEnd), e.ResultsVersion, e.CreatedBy,
		e.CreatedAt.UTC(), e.UpdatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert election: %w", err)
	}

	for _, p := range e.Positions {
		_, err := r.db.ExecContext(ctx, `
            INSERT INTO positions (election_id, id, title, max_winners, sort_order)
            VALUES (?, ?, ?, ?, ?)
        `, e.ID, p.ID, p.Title, p.MaxWinners, p.SortOrder)
		if err != nil {
			return fmt.Errorf("insert position %s: %w", p.ID, err)
		}
		for _, c := range p.Candidates {
			_, err := r.db.ExecContext(ctx, `
                INSERT INTO candidates (election_id, position_id, id, name, affiliation)
                VALUES (?, ?, ?, ?, ?)
            `, e.ID, p.ID, c.ID, c.Name, c.Affiliation)
			if err != nil {
				return fmt.Errorf("insert candidate %s: %w", c.ID, err)
			}
		}
	}
	return nil
}

const electionColumns = `
        id, name, description, organization_id, status, current_phase, start_date_time, end_date_time,
        registration_deadline, nomination_deadline, campaign_start, campaign_end, results_version,
        created_by, created_at, updated_at`

func scanElection(row rowScanner) (*domain.Election, error) {
	var (
		e                      domain.Election
		status, phase          string
		regDeadline, nomDeadln sql.NullTime
		campStart, campEnd     sql.NullTime
	)
	err := row.Scan(&e.ID, &e.Name, &e.Description, &e.OrganizationID, &status, &phase,
		&e.StartDateTime, &e.EndDateTime, &regDeadline, &nomDeadln, &campStart, &campEnd,
		&e.ResultsVersion, &e.CreatedBy, &e.CreatedAt, &e.UpdatedAt)
	if err != nil {
		return nil, err
	}
	e.Status = domain.ElectionStatus(status)
	e.CurrentPhase = domain.Phase(phase)
	e.StartDateTime = utc(e.StartDateTime)
	e.EndDateTime = utc(e.EndDateTime)
	e.CreatedAt = utc(e.CreatedAt)
	e.UpdatedAt = utc(e.UpdatedAt)
	e.RegistrationDeadline = timePtr(regDeadline)
	e.NominationDeadline = timePtr(nomDeadln)
	if campStart.Valid && campEnd.Valid {
		e.CampaignPeriod = &domain.Period{Start: campStart.Time.UTC(), End: campEnd.Time.UTC()}
	}
	return &e, nil
}

// GetByID loads an election with its positions and candidates
func (r *ElectionRepository) GetByID(ctx context.Context, electionID string) (*domain.Election, error) {
	query := `SELECT` + electionColumns + `
        FROM elections
        WHERE id = ?
    `
	e, err := scanElection(r.db.QueryRowContext(ctx, query, electionID))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.ErrElectionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get election: %w", err)
	}

	if e.Positions, err = r.loadPositions(ctx, electionID); err != nil {
		return nil, err
	}
	return e, nil
}

func (r *ElectionRepository) loadPositions(ctx context.Context, electionID string) ([]domain.Position, error) {
	rows, err := r.db.QueryContext(ctx, `
        SELECT id, title, max_winners, sort_order
        FROM positions
        WHERE election_id = ?
        ORDER BY sort_order ASC, id ASC
    `, electionID)
	if err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}
	var positions []domain.Position
	index := make(map[string]int)
	for rows.Next() {
		p := domain.Position{ElectionID: electionID}
		if err := rows.Scan(&p.ID, &p.Title, &p.MaxWinners, &p.SortOrder); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan position: %w", err)
		}
		index[p.ID] = len(positions)
		positions = append(positions, p)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list positions: %w", err)
	}

	rows, err = r.db.QueryContext(ctx, `
        SELECT position_id, id, name, affiliation
        FROM candidates
        WHERE election_id = ?
        ORDER BY position_id ASC, id ASC
    `, electionID)
	if err != nil {
		return nil, fmt.Errorf("list candidates: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var c domain.Candidate
		if err := rows.Scan(&c.PositionID, &c.ID, &c.Name, &c.Affiliation); err != nil {
			return nil, fmt.Errorf("scan candidate: %w", err)
		}
		if i, ok := index[c.PositionID]; ok {
			positions[i].Candidates = append(positions[i].Candidates, c)
		}
	}
	return positions, rows.Err()
}

// ListByStatus returns election headers without positions, oldest first
func (r *ElectionRepository) ListByStatus(ctx context.Context, statuses ...domain.ElectionStatus) ([]domain.Election, error) {
	if len(statuses) == 0 {
		return nil, nil
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(statuses)), ", ")
	args := make([]interface{}, len(statuses))
	for i, s := range statuses {
		args[i] = string(s)
	}

	query := `SELECT` + electionColumns + `
        FROM elections
        WHERE status IN (` + placeholders + `)
        ORDER BY start_date_time ASC
    `
	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list elections: %w", err)
	}
	defer rows.Close()

	var elections []domain.Election
	for rows.Next() {
		e, err := scanElection(rows)
		if err != nil {
			return nil, fmt.Errorf("scan election: %w", err)
		}
		elections = append(elections, *e)
	}
	return elections, rows.Err()
}

// UpdateStatus persists an admin transition together with the phase it froze in.
// The row must still be in status from, otherwise ErrInvalidTransition is returned.
func (r *ElectionRepository) UpdateStatus(ctx context.Context, electionID string, from, to domain.ElectionStatus, phase domain.Phase, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE elections
        SET status = ?, current_phase = ?, updated_at = ?
        WHERE id = ? AND status = ?
    `, string(to), string(phase), at.UTC(), electionID, string(from))
	if err != nil {
		return fmt.Errorf("update election status: %w", err)
	}
	return expectOne(res, domain.Transition("election", string(from), string(to)))
}

// UpdatePhase stores a recomputed phase
func (r *ElectionRepository) UpdatePhase(ctx context.Context, electionID string, phase domain.Phase, at time.Time) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE elections
        SET current_phase = ?, updated_at = ?
        WHERE id = ?
    `, string(phase), at.UTC(), electionID)
	if err != nil {
		return fmt.Errorf("update election phase: %w", err)
	}
	return expectOne(res, domain.ErrElectionNotFound)
}

// BumpResultsVersion marks cached tallies of the election as stale
func (r *ElectionRepository) BumpResultsVersion(ctx context.Context, electionID string) error {
	res, err := r.db.ExecContext(ctx, `
        UPDATE elections
        SET results_version = results_version + 1
        WHERE id = ?
    `, electionID)
	if err != nil {
		return fmt.Errorf("bump results version: %w", err)
	}
	return expectOne(res, domain.ErrElectionNotFound)
}

// ResultsVersion reads the current results version without loading the election
func (r *ElectionRepository) ResultsVersion(ctx context.Context, electionID string) (int64, error) {
	var version int64
	err := r.db.QueryRowContext(ctx, `SELECT results_version FROM elections WHERE id = ?`, electionID).Scan(&version)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, domain.ErrElectionNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("read results version: %w", err)
	}
	return version, nil
}

func expectOne(res sql.Result, notFound error) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return notFound
	}
	return nil
}
