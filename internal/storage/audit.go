package storage

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/sovereign-voice/commandplane/internal/audit"
)

// SaveAuditEvent implements audit.Sink against the audit_events table
// (spec §6: compound index on (sessionID, timestamp desc) and eventType,
// both created by EnsureSchema).
func (s *Store) SaveAuditEvent(ctx context.Context, e audit.Event) error {
	details, err := json.Marshal(e.Details)
	if err != nil {
		return fmt.Errorf("storage: marshal audit details: %w", err)
	}
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO audit_events (event_id, event_type, session_id, user_id, details, env, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)
		ON CONFLICT (event_id) DO NOTHING
	`, e.EventID, e.EventType, e.SessionID, e.UserID, details, e.Env, e.Timestamp)
	if err != nil {
		return fmt.Errorf("storage: save audit event: %w", err)
	}
	return nil
}
