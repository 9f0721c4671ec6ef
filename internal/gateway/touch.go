package gateway

import (
	"time"

	"github.com/sovereign-voice/commandplane/internal/replay"
)

// touchTokenTTL bounds how long a touch-event token stays valid for
// single-use enforcement. The client collects the touch immediately before
// sending EXECUTE_REQUEST, so this only needs to cover network latency.
const touchTokenTTL = 2 * time.Minute

// TouchValidator implements mio.TouchValidator on top of the replay store:
// a touch token is valid the first (and only the first) time it is
// presented for a given session and device, within touchTokenTTL.
type TouchValidator struct {
	replay *replay.Store
}

// NewTouchValidator builds a TouchValidator over the given replay store.
func NewTouchValidator(replayStore *replay.Store) *TouchValidator {
	return &TouchValidator{replay: replayStore}
}

// ValidateTouchToken reports whether token is a fresh, unconsumed touch
// proof for sessionID/deviceID. An empty token is never valid.
func (t *TouchValidator) ValidateTouchToken(token, sessionID, deviceID string) (bool, string) {
	if token == "" {
		return false, "missing touch token"
	}
	hash := replay.TouchTokenHash(token + ":" + sessionID + ":" + deviceID)
	if err := t.replay.CheckAndRecord(hash, touchTokenTTL); err != nil {
		return false, "touch token already consumed or expired"
	}
	return true, ""
}
