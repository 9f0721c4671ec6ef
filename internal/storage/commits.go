package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/sovereign-voice/commandplane/internal/commitsm"
)

// CreateCommit inserts a fresh commit row. A unique-constraint violation
// on idempotency_key means a commit for this (sessionID, draftID) already
// exists; the caller gets it back with found=true instead of an error,
// matching state_machine.py's create_commit idempotency contract.
func (s *Store) CreateCommit(c commitsm.Commit) (commitsm.Commit, bool, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	dims, err := json.Marshal(c.Dimensions)
	if err != nil {
		return commitsm.Commit{}, false, fmt.Errorf("storage: marshal dimensions: %w", err)
	}
	transitions, err := json.Marshal(c.Transitions)
	if err != nil {
		return commitsm.Commit{}, false, fmt.Errorf("storage: marshal transitions: %w", err)
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO commits (commit_id, session_id, draft_id, idempotency_key, state,
			intent_summary, intent, dimensions, transitions, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11)
	`, c.CommitID, c.SessionID, c.DraftID, c.IdempotencyKey, c.State,
		c.IntentSummary, c.Intent, dims, transitions, c.CreatedAt, c.UpdatedAt)

	if isUniqueViolation(err) {
		existing, getErr := s.getCommitByIdempotencyKey(ctx, c.IdempotencyKey)
		if getErr != nil {
			return commitsm.Commit{}, false, getErr
		}
		return existing, true, nil
	}
	if err != nil {
		return commitsm.Commit{}, false, fmt.Errorf("storage: create commit: %w", err)
	}
	return c, false, nil
}

// GetCommit loads one commit by ID.
func (s *Store) GetCommit(commitID string) (commitsm.Commit, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return s.scanCommit(s.db.QueryRowContext(ctx, `
		SELECT commit_id, session_id, draft_id, idempotency_key, state,
			intent_summary, intent, dimensions, transitions, created_at, updated_at
		FROM commits WHERE commit_id = $1
	`, commitID))
}

func (s *Store) getCommitByIdempotencyKey(ctx context.Context, key string) (commitsm.Commit, error) {
	return s.scanCommit(s.db.QueryRowContext(ctx, `
		SELECT commit_id, session_id, draft_id, idempotency_key, state,
			intent_summary, intent, dimensions, transitions, created_at, updated_at
		FROM commits WHERE idempotency_key = $1
	`, key))
}

// TransitionCommit validates the transition against commitsm's table, then
// performs a compare-and-swap update keyed on the commit's current state
// (spec §4.13: "state transitions are atomic"). Zero rows affected means
// another writer raced this one; ErrConcurrentModification is returned
// rather than retried, per commitsm's contract.
func (s *Store) TransitionCommit(commitID string, to commitsm.State, reason string, now time.Time) (commitsm.Commit, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	current, err := s.GetCommit(commitID)
	if err != nil {
		return commitsm.Commit{}, err
	}

	updated, rec, err := current.Advance(to, reason, now)
	if err != nil {
		return commitsm.Commit{}, err
	}
	transitions, err := json.Marshal(updated.Transitions)
	if err != nil {
		return commitsm.Commit{}, fmt.Errorf("storage: marshal transitions: %w", err)
	}

	res, err := s.db.ExecContext(ctx, `
		UPDATE commits SET state = $1, transitions = $2, updated_at = $3
		WHERE commit_id = $4 AND state = $5
	`, updated.State, transitions, now, commitID, current.State)
	if err != nil {
		return commitsm.Commit{}, fmt.Errorf("storage: transition commit: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return commitsm.Commit{}, fmt.Errorf("storage: transition commit rows affected: %w", err)
	}
	if n == 0 {
		return commitsm.Commit{}, commitsm.ErrConcurrentModification
	}
	_ = rec
	return updated, nil
}

// SessionCommits returns a session's commits newest-first, capped at limit.
func (s *Store) SessionCommits(sessionID string, limit int) ([]commitsm.Commit, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_id, session_id, draft_id, idempotency_key, state,
			intent_summary, intent, dimensions, transitions, created_at, updated_at
		FROM commits WHERE session_id = $1 ORDER BY created_at DESC LIMIT $2
	`, sessionID, limit)
	if err != nil {
		return nil, fmt.Errorf("storage: session commits: %w", err)
	}
	defer rows.Close()

	var out []commitsm.Commit
	for rows.Next() {
		c, err := scanCommitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// RecoverPending returns every commit left in a non-terminal state, used
// at startup to resume or fail in-flight commits left over from a crash
// (spec §4.13's crash-recovery note).
func (s *Store) RecoverPending() ([]commitsm.Commit, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	rows, err := s.db.QueryContext(ctx, `
		SELECT commit_id, session_id, draft_id, idempotency_key, state,
			intent_summary, intent, dimensions, transitions, created_at, updated_at
		FROM commits WHERE state NOT IN ($1, $2, $3)
	`, commitsm.StateCompleted, commitsm.StateCancelled, commitsm.StateFailed)
	if err != nil {
		return nil, fmt.Errorf("storage: recover pending: %w", err)
	}
	defer rows.Close()

	var out []commitsm.Commit
	for rows.Next() {
		c, err := scanCommitRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (s *Store) scanCommit(row *sql.Row) (commitsm.Commit, error) {
	c, err := scanCommitRow(row)
	if errors.Is(err, sql.ErrNoRows) {
		return commitsm.Commit{}, fmt.Errorf("storage: commit not found: %w", err)
	}
	return c, err
}

func scanCommitRow(row rowScanner) (commitsm.Commit, error) {
	var c commitsm.Commit
	var dims, transitions []byte
	if err := row.Scan(&c.CommitID, &c.SessionID, &c.DraftID, &c.IdempotencyKey, &c.State,
		&c.IntentSummary, &c.Intent, &dims, &transitions, &c.CreatedAt, &c.UpdatedAt); err != nil {
		return commitsm.Commit{}, err
	}
	if len(dims) > 0 {
		if err := json.Unmarshal(dims, &c.Dimensions); err != nil {
			return commitsm.Commit{}, fmt.Errorf("storage: unmarshal dimensions: %w", err)
		}
	}
	if len(transitions) > 0 {
		if err := json.Unmarshal(transitions, &c.Transitions); err != nil {
			return commitsm.Commit{}, fmt.Errorf("storage: unmarshal transitions: %w", err)
		}
	}
	return c, nil
}
