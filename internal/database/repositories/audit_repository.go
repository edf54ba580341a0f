package repositories

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"election-service/internal/database"
)

type AuditLogRepository struct {
	db database.Executor
}

func NewAuditLogRepository(db *database.DB) *AuditLogRepository {
	return &AuditLogRepository{db: db}
}

// AuditFilter narrows an audit log listing
type AuditFilter struct {
	Action     string
	ElectionID string
	ActorID    string
	StartTime  *time.Time
	EndTime    *time.Time
	Limit      int
	Offset     int
}

// InsertAuditLog inserts a new audit log entry
func (r *AuditLogRepository) InsertAuditLog(ctx context.Context, log *database.AuditLog) error {
	if log.ID == "" {
		log.ID = uuid.NewString()
	}
	if log.Severity == "" {
		log.Severity = "info"
	}
	if log.CreatedAt.IsZero() {
		log.CreatedAt = time.Now().UTC()
	}
	query := `
        INSERT INTO audit_logs (id, action, actor_id, election_id, resource, details, severity, created_at)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?)
    `
	_, err := r.db.ExecContext(ctx, query, log.ID, log.Action, log.ActorID, log.ElectionID,
		log.Resource, log.Details, log.Severity, log.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert audit log: %w", err)
	}
	return nil
}

func (f AuditFilter) where() (string, []interface{}) {
	clause := " WHERE 1=1"
	args := []interface{}{}

	if f.Action != "" {
		clause += " AND action = ?"
		args = append(args, f.Action)
	}
	if f.ElectionID != "" {
		clause += " AND election_id = ?"
		args = append(args, f.ElectionID)
	}
	if f.ActorID != "" {
		clause += " AND actor_id = ?"
		args = append(args, f.ActorID)
	}
	if f.StartTime != nil {
		clause += " AND created_at >= ?"
		args = append(args, f.StartTime.UTC())
	}
	if f.EndTime != nil {
		clause += " AND created_at <= ?"
		args = append(args, f.EndTime.UTC())
	}
	return clause, args
}

// GetAuditLogs retrieves audit logs with pagination and filtering, newest first
func (r *AuditLogRepository) GetAuditLogs(ctx context.Context, f AuditFilter) ([]database.AuditLog, error) {
	if f.Limit <= 0 || f.Limit > 500 {
		f.Limit = 100
	}
	where, args := f.where()
	query := `
        SELECT id, action, actor_id, election_id, resource, details, severity, created_at
        FROM audit_logs` + where + `
        ORDER BY created_at DESC LIMIT ? OFFSET ?`
	args = append(args, f.Limit, f.Offset)

	rows, err := r.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list audit logs: %w", err)
	}
	defer rows.Close()

	var logs []database.AuditLog
	for rows.Next() {
		var log database.AuditLog
		err := rows.Scan(&log.ID, &log.Action, &log.ActorID, &log.ElectionID,
			&log.Resource, &log.Details, &log.Severity, &log.CreatedAt)
		if err != nil {
			return nil, fmt.Errorf("scan audit log: %w", err)
		}
		log.CreatedAt = utc(log.CreatedAt)
		logs = append(logs, log)
	}

	return logs, rows.Err()
}

// ActionCount is one row of the audit statistics
type ActionCount struct {
	Action string `json:"action"`
	Count  int    `json:"count"`
}

// GetAuditStatistics counts audit entries per action
func (r *AuditLogRepository) GetAuditStatistics(ctx context.Context, f AuditFilter) (int, []ActionCount, error) {
	where, args := f.where()

	var total int
	if err := r.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM audit_logs"+where, args...).Scan(&total); err != nil {
		return 0, nil, fmt.Errorf("count audit logs: %w", err)
	}

	rows, err := r.db.QueryContext(ctx, `
        SELECT action, COUNT(*) AS count
        FROM audit_logs`+where+`
        GROUP BY action ORDER BY count DESC, action ASC`, args...)
	if err != nil {
		return 0, nil, fmt.Errorf("count audit actions: %w", err)
	}
	defer rows.Close()

	var counts []ActionCount
	for rows.Next() {
		var c ActionCount
		if err := rows.Scan(&c.Action, &c.Count); err != nil {
			return 0, nil, fmt.Errorf("scan audit action: %w", err)
		}
		counts = append(counts, c)
	}
	return total, counts, rows.Err()
}
