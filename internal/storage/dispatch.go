package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/dispatch"
)

// FindDispatch looks up a previously-persisted dispatch by idempotency
// key, implementing dispatch.Repository (spec §4.14: "a duplicate dispatch
// request returns the original result instead of re-executing").
func (s *Store) FindDispatch(ctx context.Context, idempotencyKey string) (dispatch.Record, bool, error) {
	var r dispatch.Record
	err := s.db.QueryRowContext(ctx, `
		SELECT dispatch_id, idempotency_key, mio_id, session_id, tenant_id, action, status, latency_ms, created_at
		FROM dispatches WHERE idempotency_key = $1
	`, idempotencyKey).Scan(&r.DispatchID, &r.IdempotencyKey, &r.MIOID, &r.SessionID,
		&r.TenantID, &r.Action, &r.Status, &r.LatencyMS, &r.Timestamp)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Record{}, false, nil
	}
	if err != nil {
		return dispatch.Record{}, false, fmt.Errorf("storage: find dispatch: %w", err)
	}
	return r, true, nil
}

// SaveDispatch persists a dispatch record. A unique-violation on
// idempotency_key is treated as success: another goroutine won the race
// to record the same dispatch attempt, which is the expected outcome of
// the idempotency guarantee rather than an error.
func (s *Store) SaveDispatch(ctx context.Context, r dispatch.Record) error {
	if r.DispatchID == "" {
		r.DispatchID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO dispatches (dispatch_id, idempotency_key, mio_id, session_id, tenant_id, action, status, latency_ms, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9)
	`, r.DispatchID, r.IdempotencyKey, r.MIOID, r.SessionID, r.TenantID, r.Action, r.Status, r.LatencyMS, r.Timestamp)
	if isUniqueViolation(err) {
		return nil
	}
	if err != nil {
		return fmt.Errorf("storage: save dispatch: %w", err)
	}
	return nil
}

// GetTenant implements dispatch.TenantStore against the tenants table.
func (s *Store) GetTenant(ctx context.Context, tenantID string) (dispatch.Tenant, error) {
	var t dispatch.Tenant
	err := s.db.QueryRowContext(ctx, `
		SELECT tenant_id, status, adapter_endpoint, api_key FROM tenants WHERE tenant_id = $1
	`, tenantID).Scan(&t.TenantID, &t.Status, &t.AdapterEndpoint, &t.APIKey)
	if errors.Is(err, sql.ErrNoRows) {
		return dispatch.Tenant{}, fmt.Errorf("storage: tenant %s: %w", tenantID, sql.ErrNoRows)
	}
	if err != nil {
		return dispatch.Tenant{}, fmt.Errorf("storage: get tenant: %w", err)
	}
	return t, nil
}

// UpsertTenant inserts or updates a tenant registry row (SPEC_FULL.md
// supplement 6: tenant registry with adapter endpoints).
func (s *Store) UpsertTenant(ctx context.Context, t dispatch.Tenant) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO tenants (tenant_id, status, adapter_endpoint, api_key)
		VALUES ($1,$2,$3,$4)
		ON CONFLICT (tenant_id) DO UPDATE SET status = $2, adapter_endpoint = $3, api_key = $4
	`, t.TenantID, t.Status, t.AdapterEndpoint, t.APIKey)
	if err != nil {
		return fmt.Errorf("storage: upsert tenant: %w", err)
	}
	return nil
}
