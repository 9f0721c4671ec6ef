package storage

import (
	"context"
	"fmt"
	"time"
)

// SessionRecord is the durable projection of internal/session.Session
// (spec §6: sessions persisted for crash recovery and audit join). Kept
// as its own shape rather than importing internal/session directly, so
// this package never takes a dependency on the in-memory session
// manager's mutex-guarded type.
type SessionRecord struct {
	ID              string
	UserID          string
	DeviceID        string
	Env             string
	ClientVersion   string
	CreatedAt       time.Time
	LastHeartbeatAt time.Time
	HeartbeatSeq    int
	Active          bool
}

// UpsertSession persists the current view of a session.
func (s *Store) UpsertSession(ctx context.Context, r SessionRecord) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO sessions (id, user_id, device_id, env, client_version, created_at, last_heartbeat_at, heartbeat_seq, active)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
		ON CONFLICT (id) DO UPDATE SET
			last_heartbeat_at = $7, heartbeat_seq = $8, active = $9
	`, r.ID, r.UserID, r.DeviceID, r.Env, r.ClientVersion, r.CreatedAt, r.LastHeartbeatAt, r.HeartbeatSeq, r.Active)
	if err != nil {
		return fmt.Errorf("storage: upsert session: %w", err)
	}
	return nil
}

// DeactivateSession marks a session inactive on disconnect.
func (s *Store) DeactivateSession(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE sessions SET active = FALSE WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("storage: deactivate session: %w", err)
	}
	return nil
}
