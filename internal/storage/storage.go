// Package storage is the command plane's Postgres-backed persistence
// layer (spec §6). It implements the small repository interfaces already
// declared by internal/commitsm, internal/dispatch, and internal/audit,
// plus the net-new Mandate lifecycle (SPEC_FULL.md §3, grounded on
// original_source's backend/mandate/store.py) and the prompt-snapshot and
// pipeline-progress supplements.
//
// Grounded on the teacher's internal/database/supabase.go: one client
// struct wrapping a driver handle, typed row structs, and a method per
// table operation. This package is ported to database/sql + lib/pq per
// DESIGN.md Open Question 5 — the teacher's Supabase REST client has no
// compare-and-swap primitive, and spec §4.13 requires one for commit state
// transitions.
package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "github.com/lib/pq"
)

// Store is the command plane's Postgres connection and the receiver for
// every repository method in this package.
type Store struct {
	db *sql.DB
}

// Open connects to Postgres at dsn and verifies the connection with Ping.
// Matches the teacher's NewSupabaseClient fail-fast-on-missing-config
// idiom, adapted to database/sql's lazy-connect driver by pinging
// immediately instead of waiting for the first query to fail.
func Open(dsn string) (*Store, error) {
	if dsn == "" {
		return nil, errors.New("storage: empty DSN")
	}
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("storage: open: %w", err)
	}
	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("storage: ping: %w", err)
	}
	return &Store{db: db}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks connectivity, used by the /health endpoint.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// schema is applied at startup by EnsureSchema. Kept inline rather than as
// migration files, matching the scale of the teacher's repo (no migration
// tool is wired in go.mod).
const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	id               TEXT PRIMARY KEY,
	user_id          TEXT NOT NULL,
	device_id        TEXT NOT NULL,
	env              TEXT NOT NULL,
	client_version   TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	last_heartbeat_at TIMESTAMPTZ NOT NULL,
	heartbeat_seq    INTEGER NOT NULL DEFAULT 0,
	active           BOOLEAN NOT NULL DEFAULT TRUE
);
CREATE INDEX IF NOT EXISTS idx_sessions_user_device ON sessions(user_id, device_id);

CREATE TABLE IF NOT EXISTS tenants (
	tenant_id        TEXT PRIMARY KEY,
	status           TEXT NOT NULL,
	adapter_endpoint TEXT,
	api_key          TEXT
);

CREATE TABLE IF NOT EXISTS commits (
	commit_id        TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	draft_id         TEXT NOT NULL,
	idempotency_key  TEXT NOT NULL UNIQUE,
	state            TEXT NOT NULL,
	intent_summary   TEXT,
	intent           TEXT,
	dimensions       JSONB,
	transitions      JSONB NOT NULL DEFAULT '[]',
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_commits_session ON commits(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS mandates (
	draft_id         TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	user_id          TEXT NOT NULL,
	state            TEXT NOT NULL,
	intent           TEXT,
	dimensions       JSONB,
	skill            TEXT,
	mio_id           TEXT,
	failure_reason   TEXT,
	created_at       TIMESTAMPTZ NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_mandates_session ON mandates(session_id, updated_at DESC);
CREATE INDEX IF NOT EXISTS idx_mandates_user_pending ON mandates(user_id, state, updated_at DESC);

CREATE TABLE IF NOT EXISTS dispatches (
	dispatch_id      TEXT PRIMARY KEY,
	idempotency_key  TEXT NOT NULL UNIQUE,
	mio_id           TEXT NOT NULL,
	session_id       TEXT NOT NULL,
	tenant_id        TEXT NOT NULL,
	action           TEXT NOT NULL,
	status           TEXT NOT NULL,
	latency_ms       DOUBLE PRECISION,
	created_at       TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS audit_events (
	event_id         TEXT PRIMARY KEY,
	event_type       TEXT NOT NULL,
	session_id       TEXT,
	user_id          TEXT,
	details          JSONB,
	env              TEXT,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_audit_session_time ON audit_events(session_id, created_at DESC);
CREATE INDEX IF NOT EXISTS idx_audit_type ON audit_events(event_type);

CREATE TABLE IF NOT EXISTS prompt_snapshots (
	snapshot_id      TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	call_site        TEXT NOT NULL,
	purpose          TEXT NOT NULL,
	rendered_prompt  TEXT NOT NULL,
	created_at       TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_prompt_snapshots_session ON prompt_snapshots(session_id, created_at DESC);

CREATE TABLE IF NOT EXISTS pipeline_progress (
	draft_id         TEXT PRIMARY KEY,
	session_id       TEXT NOT NULL,
	stage_index      INTEGER NOT NULL,
	stage_name       TEXT NOT NULL,
	updated_at       TIMESTAMPTZ NOT NULL
);
`

// EnsureSchema creates every table this package needs if it does not
// already exist. Called once at startup from cmd/gateway, matching the
// teacher's practice of keeping schema creation out of request paths.
func (s *Store) EnsureSchema(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, schema)
	if err != nil {
		return fmt.Errorf("storage: ensure schema: %w", err)
	}
	return nil
}
