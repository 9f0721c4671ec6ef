package storage

import (
	"context"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCanTransitionMandate_FollowsValidTable(t *testing.T) {
	assert.True(t, CanTransitionMandate(MandateDimensionsExtracted, MandateGuardrailsPassed))
	assert.True(t, CanTransitionMandate(MandateApprovalPending, MandateApproved))
	assert.False(t, CanTransitionMandate(MandateDimensionsExtracted, MandateDispatched))
}

func TestCanTransitionMandate_TerminalStatesHaveNoOutgoingEdges(t *testing.T) {
	assert.False(t, CanTransitionMandate(MandateCompleted, MandateFailed))
	assert.False(t, CanTransitionMandate(MandateFailed, MandateDimensionsExtracted))
}

func TestGetMandate_NotFoundReturnsSentinelError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT draft_id, session_id, user_id, state, intent, dimensions").
		WithArgs("ghost").
		WillReturnError(sqlWantedErrNoRows())

	_, err := s.GetMandate(context.Background(), "ghost")
	assert.ErrorIs(t, err, ErrMandateNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionMandateState_RejectsInvalidTransition(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM mandates").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(string(MandateCompleted)))

	err := s.TransitionMandateState(context.Background(), "d1", MandateDispatched)
	assert.ErrorIs(t, err, ErrInvalidMandateTransition)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionMandateState_UnknownDraftReturnsNotFound(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM mandates").
		WithArgs("ghost").
		WillReturnError(sqlWantedErrNoRows())

	err := s.TransitionMandateState(context.Background(), "ghost", MandateApproved)
	assert.ErrorIs(t, err, ErrMandateNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestTransitionMandateState_ValidTransitionUpdatesRow(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT state FROM mandates").
		WithArgs("d1").
		WillReturnRows(sqlmock.NewRows([]string{"state"}).AddRow(string(MandateApprovalPending)))
	mock.ExpectExec("UPDATE mandates SET state").
		WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.TransitionMandateState(context.Background(), "d1", MandateApproved)
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetPendingForUser_NoneFoundReturnsFalseWithoutError(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectQuery("SELECT draft_id, session_id, user_id, state, intent, dimensions").
		WithArgs("user1", MandateApprovalPending, MandateDimensionsExtracted, MandateGuardrailsPassed).
		WillReturnError(sqlWantedErrNoRows())

	_, found, err := s.GetPendingForUser(context.Background(), "user1")
	require.NoError(t, err)
	assert.False(t, found)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestSaveMandate_MarshalsDimensionsAndUpserts(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("INSERT INTO mandates").WillReturnResult(sqlmock.NewResult(0, 1))

	err := s.SaveMandate(context.Background(), Mandate{
		DraftID: "d1", SessionID: "sess1", UserID: "user1", State: MandateDimensionsExtracted,
		Dimensions: map[string]interface{}{"who": "Sam"}, CreatedAt: time.Now(), UpdatedAt: time.Now(),
	})
	require.NoError(t, err)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestCleanupSessionMandates_ReturnsRowsAffected(t *testing.T) {
	s, mock := newMockStore(t)
	mock.ExpectExec("DELETE FROM mandates WHERE session_id").
		WithArgs("sess1", MandateApprovalPending, MandateDimensionsExtracted, MandateGuardrailsPassed).
		WillReturnResult(sqlmock.NewResult(0, 3))

	n, err := s.CleanupSessionMandates(context.Background(), "sess1")
	require.NoError(t, err)
	assert.Equal(t, int64(3), n)
	require.NoError(t, mock.ExpectationsWereMet())
}
