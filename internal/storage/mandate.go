package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// MandateState is one stage of a mandate's lifecycle from dimension
// extraction through dispatch (SPEC_FULL.md §3, net-new relative to the
// spec's Commit model). Grounded on original_source's
// backend/mandate/store.py MandateState enum — this is the durable,
// crash-safe record of an in-flight inference, distinct from commitsm's
// post-confirmation Commit lifecycle.
type MandateState string

const (
	MandateDimensionsExtracted MandateState = "DIMENSIONS_EXTRACTED"
	MandateGuardrailsPassed    MandateState = "GUARDRAILS_PASSED"
	MandateApprovalPending     MandateState = "APPROVAL_PENDING"
	MandateApproved            MandateState = "APPROVED"
	MandateProvisioning        MandateState = "PROVISIONING"
	MandateDispatched          MandateState = "DISPATCHED"
	MandateCompleted           MandateState = "COMPLETED"
	MandateFailed              MandateState = "FAILED"
)

// mandateTransitions mirrors store.py's _VALID_TRANSITIONS exactly.
var mandateTransitions = map[MandateState]map[MandateState]bool{
	MandateDimensionsExtracted: {MandateGuardrailsPassed: true, MandateApprovalPending: true, MandateFailed: true},
	MandateGuardrailsPassed:    {MandateApprovalPending: true, MandateFailed: true},
	MandateApprovalPending:     {MandateApproved: true, MandateFailed: true},
	MandateApproved:            {MandateProvisioning: true, MandateFailed: true},
	MandateProvisioning:        {MandateDispatched: true, MandateFailed: true},
	MandateDispatched:          {MandateCompleted: true, MandateFailed: true},
}

// resumableMandateStates are kept across a disconnect so the user's
// in-flight intent survives a reconnect (store.py's cleanup_session_mandates
// / get_pending_for_user resumable list).
var resumableMandateStates = map[MandateState]bool{
	MandateApprovalPending:     true,
	MandateDimensionsExtracted: true,
	MandateGuardrailsPassed:    true,
}

// CanTransitionMandate reports whether to is reachable from from.
func CanTransitionMandate(from, to MandateState) bool {
	return mandateTransitions[from][to]
}

// ErrMandateNotFound is returned when no mandate exists for a draft ID.
var ErrMandateNotFound = errors.New("storage: mandate not found")

// ErrInvalidMandateTransition mirrors store.py's transition_state
// returning false on an unrecognized edge — callers get an error instead
// of a bare boolean, fitting this repo's error-return idiom.
var ErrInvalidMandateTransition = errors.New("storage: invalid mandate transition")

// Mandate is one in-flight inferred intent's durable record.
type Mandate struct {
	DraftID        string
	SessionID      string
	UserID         string
	State          MandateState
	Intent         string
	Dimensions     map[string]interface{}
	Skill          string
	MIOID          string
	FailureReason  string
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// SaveMandate is an idempotent upsert keyed on draft_id, matching
// store.py's save_mandate semantics (created_at preserved across updates).
func (s *Store) SaveMandate(ctx context.Context, m Mandate) error {
	dims, err := json.Marshal(m.Dimensions)
	if err != nil {
		return fmt.Errorf("storage: marshal mandate dimensions: %w", err)
	}
	now := time.Now().UTC()
	_, err = s.db.ExecContext(ctx, `
		INSERT INTO mandates (draft_id, session_id, user_id, state, intent, dimensions, skill, mio_id, failure_reason, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$10)
		ON CONFLICT (draft_id) DO UPDATE SET
			state = $4, intent = $5, dimensions = $6, skill = $7, mio_id = $8, failure_reason = $9, updated_at = $10
	`, m.DraftID, m.SessionID, m.UserID, m.State, m.Intent, dims, m.Skill, m.MIOID, m.FailureReason, now)
	if err != nil {
		return fmt.Errorf("storage: save mandate: %w", err)
	}
	return nil
}

// GetMandate retrieves a mandate by draft ID.
func (s *Store) GetMandate(ctx context.Context, draftID string) (Mandate, error) {
	m, err := s.scanMandate(s.db.QueryRowContext(ctx, `
		SELECT draft_id, session_id, user_id, state, intent, dimensions, skill, mio_id, failure_reason, created_at, updated_at
		FROM mandates WHERE draft_id = $1
	`, draftID))
	if errors.Is(err, sql.ErrNoRows) {
		return Mandate{}, ErrMandateNotFound
	}
	return m, err
}

// TransitionMandateState validates and applies a state transition,
// matching store.py's transition_state (read current state, check the
// transition table, update). Returns ErrInvalidMandateTransition rather
// than a bare false, and ErrMandateNotFound when draftID is unknown.
func (s *Store) TransitionMandateState(ctx context.Context, draftID string, to MandateState) error {
	var current MandateState
	if err := s.db.QueryRowContext(ctx, `SELECT state FROM mandates WHERE draft_id = $1`, draftID).Scan(&current); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return ErrMandateNotFound
		}
		return fmt.Errorf("storage: load mandate state: %w", err)
	}
	if !CanTransitionMandate(current, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidMandateTransition, current, to)
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE mandates SET state = $1, updated_at = $2 WHERE draft_id = $3
	`, to, time.Now().UTC(), draftID)
	if err != nil {
		return fmt.Errorf("storage: transition mandate: %w", err)
	}
	return nil
}

// DeleteMandate removes a mandate after successful dispatch (store.py's
// delete_mandate).
func (s *Store) DeleteMandate(ctx context.Context, draftID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM mandates WHERE draft_id = $1`, draftID)
	if err != nil {
		return fmt.Errorf("storage: delete mandate: %w", err)
	}
	return nil
}

// CleanupSessionMandates removes every non-resumable mandate for a
// session, run on disconnect (store.py's cleanup_session_mandates).
// Mandates left in a resumable state survive so GetPendingForUser can
// restore them on reconnect.
func (s *Store) CleanupSessionMandates(ctx context.Context, sessionID string) (int64, error) {
	res, err := s.db.ExecContext(ctx, `
		DELETE FROM mandates WHERE session_id = $1 AND state NOT IN ($2, $3, $4)
	`, sessionID, MandateApprovalPending, MandateDimensionsExtracted, MandateGuardrailsPassed)
	if err != nil {
		return 0, fmt.Errorf("storage: cleanup session mandates: %w", err)
	}
	return res.RowsAffected()
}

// GetPendingForUser finds the most recently updated resumable mandate for
// a user, used to restore in-flight intent state on reconnect (store.py's
// get_pending_for_user).
func (s *Store) GetPendingForUser(ctx context.Context, userID string) (Mandate, bool, error) {
	m, err := s.scanMandate(s.db.QueryRowContext(ctx, `
		SELECT draft_id, session_id, user_id, state, intent, dimensions, skill, mio_id, failure_reason, created_at, updated_at
		FROM mandates
		WHERE user_id = $1 AND state IN ($2, $3, $4)
		ORDER BY updated_at DESC LIMIT 1
	`, userID, MandateApprovalPending, MandateDimensionsExtracted, MandateGuardrailsPassed))
	if errors.Is(err, sql.ErrNoRows) {
		return Mandate{}, false, nil
	}
	if err != nil {
		return Mandate{}, false, err
	}
	return m, true, nil
}

func (s *Store) scanMandate(row *sql.Row) (Mandate, error) {
	var m Mandate
	var dims []byte
	if err := row.Scan(&m.DraftID, &m.SessionID, &m.UserID, &m.State, &m.Intent, &dims,
		&m.Skill, &m.MIOID, &m.FailureReason, &m.CreatedAt, &m.UpdatedAt); err != nil {
		return Mandate{}, err
	}
	if len(dims) > 0 {
		if err := json.Unmarshal(dims, &m.Dimensions); err != nil {
			return Mandate{}, fmt.Errorf("storage: unmarshal mandate dimensions: %w", err)
		}
	}
	return m, nil
}
