package database

import "time"

// AuditLog represents an audit log entry
type AuditLog struct {
	ID         string    `db:"id" json:"id"`
	Action     string    `db:"action" json:"action"`
	ActorID    string    `db:"actor_id" json:"actor_id"`
	ElectionID string    `db:"election_id" json:"election_id,omitempty"`
	Resource   string    `db:"resource" json:"resource,omitempty"`
	Details    string    `db:"details" json:"details,omitempty"`
	Severity   string    `db:"severity" json:"severity"`
	CreatedAt  time.Time `db:"created_at" json:"created_at"`
}

// CodeAttempt is one secret code validation attempt
type CodeAttempt struct {
	ID           string    `db:"id" json:"id"`
	SecretCodeID string    `db:"secret_code_id" json:"secret_code_id,omitempty"`
	VoterID      string    `db:"voter_id" json:"voter_id"`
	ElectionID   string    `db:"election_id" json:"election_id"`
	PositionID   string    `db:"position_id" json:"position_id,omitempty"`
	Success      bool      `db:"success" json:"success"`
	Outcome      string    `db:"outcome" json:"outcome"`
	AttemptedAt  time.Time `db:"attempted_at" json:"attempted_at"`
}

// CachedResult is a serialised tally held in the result_cache table
type CachedResult struct {
	ElectionID     string    `db:"election_id"`
	ResultsVersion int64     `db:"results_version"`
	Payload        string    `db:"payload"`
	ExpiresAt      time.Time `db:"expires_at"`
}
