package gateway

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sovereign-voice/commandplane/internal/replay"
)

func TestValidateTouchToken_EmptyTokenRejected(t *testing.T) {
	v := NewTouchValidator(replay.New())
	ok, reason := v.ValidateTouchToken("", "sess1", "dev1")
	assert.False(t, ok)
	assert.NotEmpty(t, reason)
}

func TestValidateTouchToken_FirstUseAccepted(t *testing.T) {
	v := NewTouchValidator(replay.New())
	ok, _ := v.ValidateTouchToken("tok1", "sess1", "dev1")
	assert.True(t, ok)
}

func TestValidateTouchToken_SecondUseRejected(t *testing.T) {
	v := NewTouchValidator(replay.New())
	ok, _ := v.ValidateTouchToken("tok1", "sess1", "dev1")
	require := assert.New(t)
	require.True(ok)

	ok2, reason := v.ValidateTouchToken("tok1", "sess1", "dev1")
	require.False(ok2)
	require.NotEmpty(reason)
}

func TestValidateTouchToken_SameTokenDifferentSessionIsDistinctHash(t *testing.T) {
	v := NewTouchValidator(replay.New())
	ok1, _ := v.ValidateTouchToken("tok1", "sessA", "dev1")
	ok2, _ := v.ValidateTouchToken("tok1", "sessB", "dev1")
	assert.True(t, ok1)
	assert.True(t, ok2)
}
