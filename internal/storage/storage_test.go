package storage

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-voice/commandplane/internal/audit"
	"github.com/sovereign-voice/commandplane/internal/commitsm"
	"github.com/sovereign-voice/commandplane/internal/dispatch"
)

func newMockStore(t *testing.T) (*Store, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &Store{db: db}, mock
}

func TestUpsertSession_ExecutesUpsert(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectExec("INSERT INTO sessions").
		WithArgs("sess1", "user1", "dev1", "dev", "1.0", now, now, 0, true).
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.UpsertSession(context.Background(), SessionRecord{
		ID: "sess1", UserID: "user1", DeviceID: "dev1", Env: "dev", ClientVersion: "1.0",
		CreatedAt: now, LastHeartbeatAt: now, Active: true,
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDeactivateSession_ExecutesUpdate(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("UPDATE sessions SET active = FALSE").
		WithArgs("sess1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.DeactivateSession(context.Background(), "sess1")
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func commitColumns() []string {
	return []string{"commit_id", "session_id", "draft_id", "idempotency_key", "state",
		"intent_summary", "intent", "dimensions", "transitions", "created_at", "updated_at"}
}

func TestCreateCommit_InsertsFreshRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	c := commitsm.Commit{
		CommitID: "c1", SessionID: "sess1", DraftID: "d1", IdempotencyKey: "sess1:d1",
		State: commitsm.StateDraft, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO commits").WillReturnResult(sqlmock.NewResult(0, 1))

	got, found, err := s.CreateCommit(c)
	require.NoError(t, err)
	assert.False(t, found)
	assert.Equal(t, "c1", got.CommitID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCreateCommit_UniqueViolationReturnsExistingRow(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()
	c := commitsm.Commit{
		CommitID: "c1", SessionID: "sess1", DraftID: "d1", IdempotencyKey: "sess1:d1",
		State: commitsm.StateDraft, CreatedAt: now, UpdatedAt: now,
	}

	mock.ExpectExec("INSERT INTO commits").
		WillReturnError(&pq.Error{Code: "23505"})
	mock.ExpectQuery("SELECT commit_id, session_id, draft_id, idempotency_key, state").
		WithArgs("sess1:d1").
		WillReturnRows(sqlmock.NewRows(commitColumns()).AddRow(
			"c1", "sess1", "d1", "sess1:d1", string(commitsm.StateDraft), "", "", []byte("{}"), []byte("[]"), now, now))

	got, found, err := s.CreateCommit(c)
	require.NoError(t, err)
	assert.True(t, found)
	assert.Equal(t, "c1", got.CommitID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetCommit_NotFoundWrapsSQLErrNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT commit_id, session_id, draft_id, idempotency_key, state").
		WithArgs("ghost").
		WillReturnError(sqlWantedErrNoRows())

	_, err := s.GetCommit("ghost")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionCommit_ZeroRowsAffectedReturnsConcurrentModification(t *testing.T) {
	s, mock := newMockStore(t)
	now := time.Now()

	mock.ExpectQuery("SELECT commit_id, session_id, draft_id, idempotency_key, state").
		WithArgs("c1").
		WillReturnRows(sqlmock.NewRows(commitColumns()).AddRow(
			"c1", "sess1", "d1", "sess1:d1", string(commitsm.StateDraft), "", "", []byte("{}"), []byte("[]"), now, now))

	mock.ExpectExec("UPDATE commits SET state").
		WillReturnResult(sqlmock.NewResult(0, 0))

	_, err := s.TransitionCommit("c1", commitsm.StatePendingConfirmation, "user confirmed", now)
	assert.ErrorIs(t, err, commitsm.ErrConcurrentModification)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestFindDispatch_NotFoundReturnsFalseWithoutError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT dispatch_id, idempotency_key").
		WithArgs("sess1:mio1").
		WillReturnError(sqlWantedErrNoRows())

	_, found, err := s.FindDispatch(context.Background(), "sess1:mio1")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveDispatch_UniqueViolationIsTreatedAsSuccess(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO dispatches").
		WillReturnError(&pq.Error{Code: "23505"})

	err := s.SaveDispatch(context.Background(), dispatch.Record{
		DispatchID: "disp1", IdempotencyKey: "sess1:mio1", MIOID: "mio1",
		SessionID: "sess1", TenantID: "t1", Action: "send message", Status: "submitted",
		Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetTenant_NotFoundWrapsSQLErrNoRows(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT tenant_id, status, adapter_endpoint, api_key").
		WithArgs("ghost").
		WillReturnError(sqlWantedErrNoRows())

	_, err := s.GetTenant(context.Background(), "ghost")
	assert.Error(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveAuditEvent_MarshalsDetailsAndInserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO audit_events").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveAuditEvent(context.Background(), audit.Event{
		EventID: "e1", EventType: audit.EventSessionCreated, SessionID: "sess1",
		Details: map[string]interface{}{"deviceID": "d1"}, Env: "dev", Timestamp: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func sqlWantedErrNoRows() error {
	return sql.ErrNoRows
}
