// Package presence implements the Presence Engine (spec §4.2): heartbeat
// ingress and the freshness check that gates signing and dispatch. It is
// grounded on the teacher's Session.Touch/IsExpired liveness pattern
// (internal/protocol/session.go), narrowed to a single synchronous
// CheckPresence call rather than a background expiry sweep, because spec
// §4.2 calls presence out as a point-in-time gate evaluated on demand.
package presence

import (
	"errors"
	"time"

	"github.com/sovereign-voice/commandplane/internal/session"
)

// ErrUnknownSession is returned when a heartbeat or presence check targets
// a session ID the manager does not know about.
var ErrUnknownSession = errors.New("presence: unknown session")

// ErrInactiveSession is returned when a heartbeat targets a session that
// has already been deactivated.
var ErrInactiveSession = errors.New("presence: session inactive")

// Engine evaluates session freshness against a configured staleness
// threshold.
type Engine struct {
	manager   *session.Manager
	timeout   time.Duration
}

// NewEngine builds a presence Engine over the given session manager.
// timeout is HEARTBEAT_TIMEOUT_S from configuration.
func NewEngine(manager *session.Manager, timeout time.Duration) *Engine {
	return &Engine{manager: manager, timeout: timeout}
}

// RecordHeartbeat updates (lastHeartbeatAt, heartbeatSeq) for an active
// session. Rejects unknown or inactive sessions (spec §4.2).
func (e *Engine) RecordHeartbeat(sessionID string) error {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return ErrUnknownSession
	}
	if !s.Touch() {
		return ErrInactiveSession
	}
	return nil
}

// CheckPresence reports whether sessionID's most recent heartbeat is
// within the staleness threshold. A missing session, an inactive session,
// or a heartbeat age greater than or equal to the threshold is stale
// (spec §253: age exactly at the threshold is stale, one hundredth of a
// second under is fresh).
func (e *Engine) CheckPresence(sessionID string) bool {
	s, err := e.manager.Get(sessionID)
	if err != nil {
		return false
	}
	snap := s.Snapshot()
	if !snap.Active {
		return false
	}
	age := time.Since(snap.LastHeartbeatAt)
	return age < e.timeout
}
