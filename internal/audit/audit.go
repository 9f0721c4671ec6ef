// Package audit implements the audit event catalog (SPEC_FULL.md
// supplement 5, grounded on original_source's observability/audit_log.py
// and schemas/audit.py AuditEventType enum). Every audit event is
// structured-logged through log/slog with redacted details, matching the
// teacher's cmd/api/main.go logging idiom, and handed to a Sink for
// durable persistence to the audit_events collection (spec §6).
package audit

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/redaction"
)

// EventType is a closed enum of audit-worthy events across the command
// plane, mirroring original_source's AuditEventType.
type EventType string

const (
	EventSessionCreated         EventType = "SESSION_CREATED"
	EventSessionTerminated      EventType = "SESSION_TERMINATED"
	EventAuthFailed             EventType = "AUTH_FAILED"
	EventSubscriptionInactive   EventType = "SUBSCRIPTION_INACTIVE_BLOCK"
	EventPresenceStale          EventType = "PRESENCE_STALE_BLOCK"
	EventExecuteBlocked         EventType = "EXECUTE_BLOCKED"
	EventExecuteCompleted       EventType = "EXECUTE_COMPLETED"
	EventGuardrailBlocked       EventType = "GUARDRAIL_BLOCKED"
	EventQCBlocked              EventType = "QC_BLOCKED"
	EventMIOSigned              EventType = "MIO_SIGNED"
	EventMIOReplayDetected      EventType = "MIO_REPLAY_DETECTED"
	EventCommitTransition       EventType = "COMMIT_TRANSITION"
	EventCommitConflict         EventType = "COMMIT_CONCURRENT_MODIFICATION"
	EventPromptBypassAttempt    EventType = "PROMPT_BYPASS_ATTEMPT"
	EventRateLimitRejected      EventType = "RATE_LIMIT_REJECTED"
	EventCircuitBreakerOpened   EventType = "CIRCUIT_BREAKER_OPENED"
	EventL1L2ConflictRecorded   EventType = "L1_L2_CONFLICT"
)

// Event is one persisted audit record.
type Event struct {
	EventID   string                 `json:"eventID"`
	EventType EventType              `json:"eventType"`
	SessionID string                 `json:"sessionID,omitempty"`
	UserID    string                 `json:"userID,omitempty"`
	Details   map[string]interface{} `json:"details,omitempty"`
	Env       string                 `json:"env"`
	Timestamp time.Time              `json:"timestamp"`
}

// Sink persists audit events durably. internal/storage implements this
// against the audit_events collection (spec §6 indexing requirements:
// compound (sessionID, timestamp desc) and eventType).
type Sink interface {
	SaveAuditEvent(ctx context.Context, e Event) error
}

// Logger records audit events: it structured-logs a redacted view via
// log/slog and, when a Sink is configured, persists the full event.
// Grounded on original_source's log_audit_event combining a DB insert
// with a logger.info call using redact_dict on the details blob.
type Logger struct {
	sink   Sink
	env    string
	logger *slog.Logger
}

// New builds an audit Logger. sink may be nil, in which case events are
// only structured-logged (e.g. in tests or before storage is wired up).
func New(sink Sink, env string, logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{sink: sink, env: env, logger: logger}
}

// Log records one audit event.
func (l *Logger) Log(ctx context.Context, eventType EventType, sessionID, userID string, details map[string]interface{}) {
	e := Event{
		EventID:   uuid.NewString(),
		EventType: eventType,
		SessionID: sessionID,
		UserID:    userID,
		Details:   details,
		Env:       l.env,
		Timestamp: time.Now().UTC(),
	}

	l.logger.Info("audit event",
		"eventType", e.EventType,
		"eventID", e.EventID,
		"sessionID", e.SessionID,
		"userID", e.UserID,
		"details", redaction.Dict(details),
	)

	if l.sink == nil {
		return
	}
	if err := l.sink.SaveAuditEvent(ctx, e); err != nil {
		l.logger.Error("audit: failed to persist event", "eventType", e.EventType, "error", err)
	}
}
