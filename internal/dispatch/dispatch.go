// Package dispatch implements the execution adapter bridge (spec §4.14):
// the sole path by which a signed Master Intent Object leaves this
// process and causes a side effect in a tenant's downstream system.
// Grounded on original_source's backend/dispatcher/{dispatcher,
// http_client, idempotency}.py, translated from the async httpx + Mongo
// idiom to net/http with a context deadline and a Repository interface
// for idempotency/tenant lookups, matching this repo's internal/audit.Sink
// and internal/commitsm.Repository seams. The wire payload follows
// http_client.py's submit_mio_to_adapter shape (a signed mandate the
// adapter can verify itself), not dispatcher.py's internal
// _translate_mio shorthand.
package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/mio"
)

// httpTimeout matches http_client.py's httpx.AsyncClient(timeout=30.0).
const httpTimeout = 30 * time.Second

// Sentinel errors for spec §4.14's dispatch guardrails. Every one of
// these is fatal to the single dispatch attempt — never retried
// automatically.
var (
	ErrEnvMismatch       = errors.New("dispatch: blocked by environment separation guard")
	ErrMIOInvalid        = errors.New("dispatch: MIO failed verification")
	ErrTenantNotFound    = errors.New("dispatch: tenant not found")
	ErrTenantNotActive   = errors.New("dispatch: tenant not active")
	ErrNoAdapterEndpoint = errors.New("dispatch: no adapter endpoint configured for tenant")
)

// Tenant is the subset of tenant registry fields the dispatcher needs
// (SPEC_FULL.md supplement 6).
type Tenant struct {
	TenantID        string
	Status          string
	AdapterEndpoint string
	APIKey          string
}

const tenantStatusActive = "ACTIVE"

// TenantStore resolves a tenant's dispatch endpoint and status.
// internal/storage implements this against the tenants table.
type TenantStore interface {
	GetTenant(ctx context.Context, tenantID string) (Tenant, error)
}

// Record is a persisted dispatch attempt, keyed by idempotency key so a
// duplicate dispatch request returns the original result instead of
// re-executing (spec §4.14).
type Record struct {
	DispatchID     string
	IdempotencyKey string
	MIOID          string
	SessionID      string
	TenantID       string
	Action         string
	Status         string
	LatencyMS      float64
	Timestamp      time.Time
}

// Repository is the idempotency/persistence seam for dispatch records.
type Repository interface {
	FindDispatch(ctx context.Context, idempotencyKey string) (Record, bool, error)
	SaveDispatch(ctx context.Context, r Record) error
}

// EnvGuard reports whether dispatch is permitted from the current
// deployment environment, grounded on original_source's
// envguard/env_separation.py assert_dispatch_allowed. Injected so
// internal/dispatch stays free of internal/config's import surface.
type EnvGuard func(env string) error

// Verifier performs the full MIO verification pipeline before every
// dispatch attempt (spec §4.14: "re-run VerifyForExecution at the
// dispatch edge, never trust a prior verification result").
type Verifier interface {
	VerifyForExecution(m mio.MasterIntentObject, in mio.VerifyInput) error
}

// Dispatcher is the sole execution adapter bridge.
type Dispatcher struct {
	client     *http.Client
	verifier   Verifier
	tenants    TenantStore
	repo       Repository
	auditLog   *audit.Logger
	envGuard   EnvGuard
	env        string
	dispatchToken string
}

// New builds a Dispatcher. dispatchToken is sent as X-DISPATCH-TOKEN on
// every outbound call.
func New(verifier Verifier, tenants TenantStore, repo Repository, auditLog *audit.Logger, envGuard EnvGuard, env, dispatchToken string) *Dispatcher {
	return &Dispatcher{
		client:        &http.Client{Timeout: httpTimeout},
		verifier:      verifier,
		tenants:       tenants,
		repo:          repo,
		auditLog:      auditLog,
		envGuard:      envGuard,
		env:           env,
		dispatchToken: dispatchToken,
	}
}

// Request carries everything needed to dispatch one signed MIO.
type Request struct {
	MIO       mio.MasterIntentObject
	VerifyIn  mio.VerifyInput
	TenantID  string
}

// adapterMIO is the MIO subset the adapter needs to re-verify the
// signature itself (spec §4.13 step 5).
type adapterMIO struct {
	MIOID       string                 `json:"mioID"`
	ActionClass mio.ActionClass        `json:"actionClass"`
	Params      map[string]interface{} `json:"params"`
	SessionID   string                 `json:"sessionID"`
	ExpiresAt   time.Time              `json:"expiresAt"`
}

// adapterPayload is the wire shape posted to the tenant's adapter
// endpoint: a signed mandate, matching http_client.py's
// submit_mio_to_adapter rather than dispatcher.py's internal
// _translate_mio shorthand (spec §4.13 step 5, §1/§6 "signed mandates
// via HTTPS"). The adapter receives the signature alongside the MIO so
// it can verify the mandate itself instead of trusting the transport.
type adapterPayload struct {
	MIO       adapterMIO `json:"mio"`
	Signature string     `json:"signature"`
	TenantID  string     `json:"tenantID"`
	SessionID string     `json:"sessionID"`
}

// Dispatch runs the full pipeline: env guard, MIO re-verification,
// idempotency lookup, tenant resolution, HTTPS POST, record persistence,
// and audit logging (spec §4.14).
func (d *Dispatcher) Dispatch(ctx context.Context, req Request) (Record, error) {
	start := time.Now()
	mioID := req.MIO.Header.MIOID
	action := req.MIO.Envelope.Action

	if d.envGuard != nil {
		if err := d.envGuard(d.env); err != nil {
			return Record{}, fmt.Errorf("%w: %v", ErrEnvMismatch, err)
		}
	}

	if err := d.verifier.VerifyForExecution(req.MIO, req.VerifyIn); err != nil {
		d.auditLog.Log(ctx, audit.EventExecuteBlocked, req.VerifyIn.SessionID, "", map[string]interface{}{
			"mioID": mioID, "reason": err.Error(),
		})
		return Record{}, fmt.Errorf("%w: %v", ErrMIOInvalid, err)
	}

	idemKey := req.VerifyIn.SessionID + ":" + mioID
	if existing, found, err := d.repo.FindDispatch(ctx, idemKey); err == nil && found {
		return existing, nil
	}

	tenant, err := d.tenants.GetTenant(ctx, req.TenantID)
	if err != nil {
		return Record{}, fmt.Errorf("%w: %v", ErrTenantNotFound, err)
	}
	if tenant.Status != tenantStatusActive {
		return Record{}, fmt.Errorf("%w: status=%s", ErrTenantNotActive, tenant.Status)
	}
	if tenant.AdapterEndpoint == "" {
		return Record{}, ErrNoAdapterEndpoint
	}

	status, err := d.callAdapter(ctx, tenant, req.MIO, req.VerifyIn.SessionID, idemKey)
	latencyMS := float64(time.Since(start).Microseconds()) / 1000.0
	if err != nil {
		status = "failed"
	}

	record := Record{
		DispatchID:     uuid.NewString(),
		IdempotencyKey: idemKey,
		MIOID:          mioID,
		SessionID:      req.VerifyIn.SessionID,
		TenantID:       req.TenantID,
		Action:         action,
		Status:         status,
		LatencyMS:      latencyMS,
		Timestamp:      time.Now().UTC(),
	}
	if saveErr := d.repo.SaveDispatch(ctx, record); saveErr != nil {
		return record, saveErr
	}

	d.auditLog.Log(ctx, audit.EventExecuteCompleted, req.VerifyIn.SessionID, "", map[string]interface{}{
		"mioID": mioID, "action": action, "tenantID": req.TenantID, "latencyMS": latencyMS, "status": status,
	})

	if err != nil {
		return record, err
	}
	return record, nil
}

func (d *Dispatcher) callAdapter(ctx context.Context, tenant Tenant, m mio.MasterIntentObject, sessionID, idemKey string) (string, error) {
	expiresAt := m.Header.Timestamp.Add(time.Duration(m.Header.TTLSeconds) * time.Second)
	payload := adapterPayload{
		MIO: adapterMIO{
			MIOID:       m.Header.MIOID,
			ActionClass: m.Envelope.ActionClass,
			Params:      m.Envelope.Params,
			SessionID:   sessionID,
			ExpiresAt:   expiresAt,
		},
		Signature: m.Proof.Signature,
		TenantID:  tenant.TenantID,
		SessionID: sessionID,
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return "failed", err
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, tenant.AdapterEndpoint, bytes.NewReader(body))
	if err != nil {
		return "failed", err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("X-DISPATCH-TOKEN", d.dispatchToken)
	httpReq.Header.Set("Idempotency-Key", idemKey)

	resp, err := d.client.Do(httpReq)
	if err != nil {
		return "failed", err
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)

	if resp.StatusCode < 400 {
		return "submitted", nil
	}
	return "rejected", fmt.Errorf("adapter rejected dispatch: status=%d", resp.StatusCode)
}
