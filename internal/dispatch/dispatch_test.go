package dispatch

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/mio"
)

type fakeVerifier struct {
	err error
}

func (f fakeVerifier) VerifyForExecution(m mio.MasterIntentObject, in mio.VerifyInput) error {
	return f.err
}

type fakeTenantStore struct {
	tenant Tenant
	err    error
}

func (f fakeTenantStore) GetTenant(ctx context.Context, tenantID string) (Tenant, error) {
	return f.tenant, f.err
}

type fakeRepository struct {
	existing map[string]Record
	saved    []Record
}

func newFakeRepository() *fakeRepository {
	return &fakeRepository{existing: make(map[string]Record)}
}

func (f *fakeRepository) FindDispatch(ctx context.Context, idempotencyKey string) (Record, bool, error) {
	r, ok := f.existing[idempotencyKey]
	return r, ok, nil
}

func (f *fakeRepository) SaveDispatch(ctx context.Context, r Record) error {
	f.saved = append(f.saved, r)
	f.existing[r.IdempotencyKey] = r
	return nil
}

func testRequest(tenantID string) Request {
	return Request{
		MIO: mio.MasterIntentObject{
			Header:   mio.Header{MIOID: "mio-1"},
			Envelope: mio.IntentEnvelope{Action: "send message", Params: map[string]interface{}{"to": "Sam"}},
		},
		VerifyIn: mio.VerifyInput{SessionID: "sess1", DeviceID: "dev1"},
		TenantID: tenantID,
	}
}

func newTestDispatcher(t *testing.T, verifier Verifier, tenants TenantStore, repo Repository, envGuard EnvGuard) *Dispatcher {
	t.Helper()
	auditLog := audit.New(nil, "dev", nil)
	return New(verifier, tenants, repo, auditLog, envGuard, "dev", "dispatch-token")
}

func TestDispatch_BlockedByEnvGuard(t *testing.T) {
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{}, newFakeRepository(), func(env string) error {
		return assertErr("blocked")
	})

	_, err := d.Dispatch(context.Background(), testRequest("t1"))
	assert.ErrorIs(t, err, ErrEnvMismatch)
}

type assertErr string

func (e assertErr) Error() string { return string(e) }

func TestDispatch_BlockedByFailedVerification(t *testing.T) {
	d := newTestDispatcher(t, fakeVerifier{err: mio.ErrExpired}, fakeTenantStore{}, newFakeRepository(), nil)

	_, err := d.Dispatch(context.Background(), testRequest("t1"))
	assert.ErrorIs(t, err, ErrMIOInvalid)
}

func TestDispatch_TenantNotFound(t *testing.T) {
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{err: assertErr("no such tenant")}, newFakeRepository(), nil)

	_, err := d.Dispatch(context.Background(), testRequest("ghost"))
	assert.ErrorIs(t, err, ErrTenantNotFound)
}

func TestDispatch_TenantNotActive(t *testing.T) {
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{tenant: Tenant{TenantID: "t1", Status: "SUSPENDED", AdapterEndpoint: "http://x"}}, newFakeRepository(), nil)

	_, err := d.Dispatch(context.Background(), testRequest("t1"))
	assert.ErrorIs(t, err, ErrTenantNotActive)
}

func TestDispatch_NoAdapterEndpoint(t *testing.T) {
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{tenant: Tenant{TenantID: "t1", Status: tenantStatusActive}}, newFakeRepository(), nil)

	_, err := d.Dispatch(context.Background(), testRequest("t1"))
	assert.ErrorIs(t, err, ErrNoAdapterEndpoint)
}

func TestDispatch_SuccessPostsToAdapterAndSavesRecord(t *testing.T) {
	var gotToken string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotToken = r.Header.Get("X-DISPATCH-TOKEN")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newFakeRepository()
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{tenant: Tenant{TenantID: "t1", Status: tenantStatusActive, AdapterEndpoint: srv.URL}}, repo, nil)

	record, err := d.Dispatch(context.Background(), testRequest("t1"))
	require.NoError(t, err)
	assert.Equal(t, "submitted", record.Status)
	assert.Equal(t, "dispatch-token", gotToken)
	assert.Len(t, repo.saved, 1)
}

func TestDispatch_AdapterRejectionIsRecordedAsFailedButReturnsError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	repo := newFakeRepository()
	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{tenant: Tenant{TenantID: "t1", Status: tenantStatusActive, AdapterEndpoint: srv.URL}}, repo, nil)

	record, err := d.Dispatch(context.Background(), testRequest("t1"))
	assert.Error(t, err)
	assert.Equal(t, "rejected", record.Status)
}

func TestDispatch_IdempotentRequestReturnsExistingRecordWithoutCallingAdapter(t *testing.T) {
	called := false
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	repo := newFakeRepository()
	existing := Record{DispatchID: "d-existing", IdempotencyKey: "sess1:mio-1", Status: "submitted"}
	repo.existing[existing.IdempotencyKey] = existing

	d := newTestDispatcher(t, fakeVerifier{}, fakeTenantStore{tenant: Tenant{TenantID: "t1", Status: tenantStatusActive, AdapterEndpoint: srv.URL}}, repo, nil)

	record, err := d.Dispatch(context.Background(), testRequest("t1"))
	require.NoError(t, err)
	assert.Equal(t, "d-existing", record.DispatchID)
	assert.False(t, called, "adapter must not be re-invoked for an idempotent replay")
}
