package audit

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"election-service/internal/database"
	"election-service/internal/database/repositories"
	"election-service/pkg/logger"
)

// Audit actions
const (
	ActionElectionCreated    = "election.created"
	ActionElectionTransition = "election.transition"
	ActionCodeIssued         = "code.issued"
	ActionCodeValidated      = "code.validated"
	ActionCodeLocked         = "code.locked"
	ActionCodeDeactivated    = "code.deactivated"
	ActionCodeReissued       = "code.reissued"
	ActionCodeRejected       = "code.rejected"
	ActionVoterEnrolled      = "voter.enrolled"
	ActionAccessGranted      = "access.granted"
	ActionAccessStatus       = "access.status"
	ActionAccessExpired      = "access.expired"
	ActionVoteCast           = "vote.cast"
	ActionVoteStatus         = "vote.status"
	ActionResultsPromoted    = "results.promoted"
	ActionResultsRecount     = "results.recount"
	ActionIntegrityViolation = "integrity.violation"
)

// Severities
const (
	SeverityInfo     = "info"
	SeveritySecurity = "security"
)

// Event is one audit record
type Event struct {
	Action     string
	ActorID    string
	ElectionID string
	Resource   string
	Details    map[string]interface{}
	Severity   string
	At         time.Time
}

// Sink persists audit events
type Sink interface {
	Write(ctx context.Context, e Event) error
}

// DBSink writes events to the audit_logs table
type DBSink struct {
	repo *repositories.AuditLogRepository
}

func NewDBSink(repo *repositories.AuditLogRepository) *DBSink {
	return &DBSink{repo: repo}
}

func (s *DBSink) Write(ctx context.Context, e Event) error {
	details := ""
	if len(e.Details) > 0 {
		b, err := json.Marshal(e.Details)
		if err != nil {
			return err
		}
		details = string(b)
	}
	return s.repo.InsertAuditLog(ctx, &database.AuditLog{
		Action:     e.Action,
		ActorID:    e.ActorID,
		ElectionID: e.ElectionID,
		Resource:   e.Resource,
		Details:    details,
		Severity:   e.Severity,
		CreatedAt:  e.At,
	})
}

// MemorySink keeps events in memory
type MemorySink struct {
	mu     sync.Mutex
	events []Event
}

func (s *MemorySink) Write(_ context.Context, e Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, e)
	return nil
}

// Events returns a copy of the recorded events, optionally filtered by action
func (s *MemorySink) Events(action string) []Event {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []Event
	for _, e := range s.events {
		if action == "" || e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// Recorder forwards events to a sink. Sink failures are logged and never returned.
type Recorder struct {
	sink Sink
	log  *logger.Logger
	now  func() time.Time
}

func NewRecorder(sink Sink, log *logger.Logger) *Recorder {
	return &Recorder{
		sink: sink,
		log:  log.WithComponent("audit"),
		now:  func() time.Time { return time.Now().UTC() },
	}
}

// Record writes an informational event
func (r *Recorder) Record(ctx context.Context, e Event) {
	if e.Severity == "" {
		e.Severity = SeverityInfo
	}
	r.log.AuditLogger(e.Action, e.ActorID, e.Resource, "election_id="+e.ElectionID)
	r.write(ctx, e)
}

// Security writes a security event and raises it in the security log
func (r *Recorder) Security(ctx context.Context, e Event) {
	e.Severity = SeveritySecurity
	r.log.SecurityLogger(e.Action, e.ActorID, e.Resource)
	r.write(ctx, e)
}

func (r *Recorder) write(ctx context.Context, e Event) {
	if e.At.IsZero() {
		e.At = r.now()
	}
	if err := r.sink.Write(ctx, e); err != nil {
		r.log.WithError(err).Error("Failed to write audit event", "action", e.Action, "election_id", e.ElectionID)
	}
}
