package audit

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	events []Event
	err    error
}

func (f *fakeSink) SaveAuditEvent(ctx context.Context, e Event) error {
	f.events = append(f.events, e)
	return f.err
}

func TestLog_PersistsToSinkWithEnvAndTimestamp(t *testing.T) {
	sink := &fakeSink{}
	logger := New(sink, "dev", nil)

	logger.Log(context.Background(), EventSessionCreated, "sess1", "user1", map[string]interface{}{"deviceID": "d1"})

	require.Len(t, sink.events, 1)
	e := sink.events[0]
	assert.Equal(t, EventSessionCreated, e.EventType)
	assert.Equal(t, "sess1", e.SessionID)
	assert.Equal(t, "dev", e.Env)
	assert.NotEmpty(t, e.EventID)
	assert.False(t, e.Timestamp.IsZero())
}

func TestLog_NilSinkDoesNotPanic(t *testing.T) {
	logger := New(nil, "dev", nil)
	assert.NotPanics(t, func() {
		logger.Log(context.Background(), EventAuthFailed, "", "", nil)
	})
}

func TestLog_SinkFailureDoesNotPropagateToCaller(t *testing.T) {
	sink := &fakeSink{err: assertErr{}}
	logger := New(sink, "dev", nil)
	assert.NotPanics(t, func() {
		logger.Log(context.Background(), EventExecuteBlocked, "sess1", "", nil)
	})
}

type assertErr struct{}

func (assertErr) Error() string { return "sink write failed" }
