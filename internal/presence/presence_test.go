package presence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-voice/commandplane/internal/session"
)

func newTestEngine(t *testing.T, timeout time.Duration) (*Engine, *session.Manager, *session.Session) {
	t.Helper()
	mgr := session.NewManager(time.Hour, time.Hour)
	t.Cleanup(mgr.Stop)
	sess := mgr.Create(session.NewSessionParams{UserID: "u1", DeviceID: "d1", Env: "dev"})
	return NewEngine(mgr, timeout), mgr, sess
}

func TestRecordHeartbeat_UnknownSession(t *testing.T) {
	e, _, _ := newTestEngine(t, time.Second)
	err := e.RecordHeartbeat("nope")
	assert.ErrorIs(t, err, ErrUnknownSession)
}

func TestRecordHeartbeat_InactiveSession(t *testing.T) {
	e, _, sess := newTestEngine(t, time.Second)
	sess.Deactivate()
	err := e.RecordHeartbeat(sess.ID)
	assert.ErrorIs(t, err, ErrInactiveSession)
}

func TestRecordHeartbeat_Success(t *testing.T) {
	e, _, sess := newTestEngine(t, time.Second)
	require.NoError(t, e.RecordHeartbeat(sess.ID))
	assert.Equal(t, 1, sess.Snapshot().HeartbeatSeq)
}

func TestCheckPresence_FreshWithinTimeout(t *testing.T) {
	e, _, sess := newTestEngine(t, 50*time.Millisecond)
	assert.True(t, e.CheckPresence(sess.ID))
}

func TestCheckPresence_StaleAtOrPastTimeout(t *testing.T) {
	e, _, sess := newTestEngine(t, 10*time.Millisecond)
	time.Sleep(15 * time.Millisecond)
	assert.False(t, e.CheckPresence(sess.ID), "age past the threshold must be stale")
}

func TestCheckPresence_UnknownAndInactiveAreStale(t *testing.T) {
	e, _, sess := newTestEngine(t, time.Hour)
	assert.False(t, e.CheckPresence("nope"))

	sess.Deactivate()
	assert.False(t, e.CheckPresence(sess.ID))
}
