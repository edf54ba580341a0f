package database

import (
	"context"
	"fmt"
)

// RunMigrations executes database migrations. Every statement is idempotent
// and valid on both postgres and sqlite.
func RunMigrations(ctx context.Context, db *DB) error {
	migrations := []string{
		createElectionsTable,
		createPositionsTable,
		createCandidatesTable,
		createSecretCodesTable,
		createCodeUsageTable,
		createCodeAttemptsTable,
		createEligibilityAccessTable,
		createEligiblePositionsTable,
		createVotedPositionsTable,
		createVotesTable,
		createResultSnapshotsTable,
		createResultCacheTable,
		createAuditLogsTable,
	}
	migrations = append(migrations, createIndices...)

	for i, migration := range migrations {
		if _, err := db.ExecContext(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	return nil
}

// Database schema definitions
const createElectionsTable = `
CREATE TABLE IF NOT EXISTS elections (
    id VARCHAR(36) PRIMARY KEY,
    name VARCHAR(255) NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    organization_id VARCHAR(64) NOT NULL DEFAULT '',
    status VARCHAR(20) NOT NULL,
    current_phase VARCHAR(20) NOT NULL,
    start_date_time TIMESTAMP NOT NULL,
    end_date_time TIMESTAMP NOT NULL,
    registration_deadline TIMESTAMP NULL,
    nomination_deadline TIMESTAMP NULL,
    campaign_start TIMESTAMP NULL,
    campaign_end TIMESTAMP NULL,
    results_version BIGINT NOT NULL DEFAULT 0,
    created_by VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`

const createPositionsTable = `
CREATE TABLE IF NOT EXISTS positions (
    election_id VARCHAR(36) NOT NULL REFERENCES elections(id),
    id VARCHAR(64) NOT NULL,
    title VARCHAR(255) NOT NULL,
    max_winners INTEGER NOT NULL DEFAULT 1,
    sort_order INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (election_id, id)
);`

const createCandidatesTable = `
CREATE TABLE IF NOT EXISTS candidates (
    election_id VARCHAR(36) NOT NULL,
    position_id VARCHAR(64) NOT NULL,
    id VARCHAR(64) NOT NULL,
    name VARCHAR(255) NOT NULL,
    affiliation VARCHAR(255) NOT NULL DEFAULT '',
    PRIMARY KEY (election_id, position_id, id),
    FOREIGN KEY (election_id, position_id) REFERENCES positions(election_id, id)
);`

const createSecretCodesTable = `
CREATE TABLE IF NOT EXISTS secret_codes (
    id VARCHAR(36) PRIMARY KEY,
    voter_id VARCHAR(64) NOT NULL,
    election_id VARCHAR(36) NOT NULL REFERENCES elections(id),
    code_hash VARCHAR(128) NOT NULL,
    salt VARCHAR(64) NOT NULL,
    attempts INTEGER NOT NULL DEFAULT 0,
    max_attempts INTEGER NOT NULL DEFAULT 3,
    is_locked BOOLEAN NOT NULL DEFAULT FALSE,
    locked_until TIMESTAMP NULL,
    is_active BOOLEAN NOT NULL DEFAULT TRUE,
    issued_by VARCHAR(64) NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    deactivated_at TIMESTAMP NULL
);`

const createCodeUsageTable = `
CREATE TABLE IF NOT EXISTS code_usage (
    id VARCHAR(36) PRIMARY KEY,
    secret_code_id VARCHAR(36) NOT NULL REFERENCES secret_codes(id),
    position_id VARCHAR(64) NOT NULL,
    candidate_id VARCHAR(64) NOT NULL DEFAULT '',
    used_at TIMESTAMP NOT NULL
);`

const createCodeAttemptsTable = `
CREATE TABLE IF NOT EXISTS code_attempts (
    id VARCHAR(36) PRIMARY KEY,
    secret_code_id VARCHAR(36) NOT NULL DEFAULT '',
    voter_id VARCHAR(64) NOT NULL,
    election_id VARCHAR(36) NOT NULL,
    position_id VARCHAR(64) NOT NULL DEFAULT '',
    success BOOLEAN NOT NULL,
    outcome VARCHAR(40) NOT NULL,
    attempted_at TIMESTAMP NOT NULL
);`

const createEligibilityAccessTable = `
CREATE TABLE IF NOT EXISTS eligibility_access (
    id VARCHAR(36) PRIMARY KEY,
    voter_id VARCHAR(64) NOT NULL,
    election_id VARCHAR(36) NOT NULL REFERENCES elections(id),
    secret_code_id VARCHAR(36) NOT NULL DEFAULT '',
    total_eligible INTEGER NOT NULL DEFAULT 0,
    total_voted INTEGER NOT NULL DEFAULT 0,
    progress INTEGER NOT NULL DEFAULT 0,
    status VARCHAR(20) NOT NULL,
    status_reason TEXT NOT NULL DEFAULT '',
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL,
    UNIQUE (voter_id, election_id)
);`

const createEligiblePositionsTable = `
CREATE TABLE IF NOT EXISTS eligible_positions (
    access_id VARCHAR(36) NOT NULL REFERENCES eligibility_access(id),
    position_id VARCHAR(64) NOT NULL,
    reason TEXT NOT NULL DEFAULT '',
    verified_by VARCHAR(64) NOT NULL DEFAULT '',
    granted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (access_id, position_id)
);`

const createVotedPositionsTable = `
CREATE TABLE IF NOT EXISTS voted_positions (
    access_id VARCHAR(36) NOT NULL REFERENCES eligibility_access(id),
    position_id VARCHAR(64) NOT NULL,
    candidate_id VARCHAR(64) NOT NULL DEFAULT '',
    vote_id VARCHAR(36) NOT NULL,
    voted_at TIMESTAMP NOT NULL,
    PRIMARY KEY (access_id, position_id)
);`

const createVotesTable = `
CREATE TABLE IF NOT EXISTS votes (
    id VARCHAR(36) PRIMARY KEY,
    election_id VARCHAR(36) NOT NULL REFERENCES elections(id),
    position_id VARCHAR(64) NOT NULL,
    candidate_id VARCHAR(64) NOT NULL DEFAULT '',
    is_abstention BOOLEAN NOT NULL DEFAULT FALSE,
    abstention_reason TEXT NOT NULL DEFAULT '',
    voter_id VARCHAR(64) NOT NULL,
    secret_code_id VARCHAR(36) NOT NULL,
    status VARCHAR(20) NOT NULL,
    salt VARCHAR(64) NOT NULL,
    vote_hash VARCHAR(64) NOT NULL,
    receipt_hash VARCHAR(16) NOT NULL,
    chain_seq INTEGER NOT NULL,
    prev_chain_hash VARCHAR(66) NOT NULL DEFAULT '',
    chain_hash VARCHAR(66) NOT NULL,
    signature VARCHAR(132) NOT NULL,
    status_reason TEXT NOT NULL DEFAULT '',
    cast_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);`

const createResultSnapshotsTable = `
CREATE TABLE IF NOT EXISTS result_snapshots (
    election_id VARCHAR(36) PRIMARY KEY REFERENCES elections(id),
    status VARCHAR(20) NOT NULL,
    results_version BIGINT NOT NULL,
    payload TEXT NOT NULL,
    calculated_at TIMESTAMP NOT NULL,
    promoted_by VARCHAR(64) NOT NULL DEFAULT '',
    promoted_at TIMESTAMP NULL
);`

const createResultCacheTable = `
CREATE TABLE IF NOT EXISTS result_cache (
    election_id VARCHAR(36) PRIMARY KEY,
    results_version BIGINT NOT NULL,
    payload TEXT NOT NULL,
    expires_at TIMESTAMP NOT NULL
);`

const createAuditLogsTable = `
CREATE TABLE IF NOT EXISTS audit_logs (
    id VARCHAR(36) PRIMARY KEY,
    action VARCHAR(100) NOT NULL,
    actor_id VARCHAR(64) NOT NULL DEFAULT '',
    election_id VARCHAR(36) NOT NULL DEFAULT '',
    resource VARCHAR(255) NOT NULL DEFAULT '',
    details TEXT NOT NULL DEFAULT '',
    severity VARCHAR(20) NOT NULL DEFAULT 'info',
    created_at TIMESTAMP NOT NULL
);`

var createIndices = []string{
	// one active code per voter and election
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_secret_codes_active
        ON secret_codes (voter_id, election_id) WHERE is_active = TRUE`,
	`CREATE INDEX IF NOT EXISTS idx_secret_codes_voter ON secret_codes (voter_id, election_id)`,
	`CREATE INDEX IF NOT EXISTS idx_code_usage_code ON code_usage (secret_code_id)`,
	`CREATE INDEX IF NOT EXISTS idx_code_attempts_voter ON code_attempts (voter_id, election_id, attempted_at)`,
	// one counted vote per voter and position
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_votes_counted
        ON votes (election_id, voter_id, position_id)
        WHERE status IN ('CAST', 'VERIFIED', 'COUNTED', 'RECOUNTED')`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_votes_chain ON votes (election_id, voter_id, chain_seq)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_receipt ON votes (receipt_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_votes_election_status ON votes (election_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_eligibility_election ON eligibility_access (election_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_elections_status ON elections (status)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_action ON audit_logs (action)`,
	`CREATE INDEX IF NOT EXISTS idx_audit_election ON audit_logs (election_id, created_at)`,
}
