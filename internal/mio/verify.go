package mio

import (
	"errors"
	"time"

	"github.com/sovereign-voice/commandplane/internal/crypto"
	"github.com/sovereign-voice/commandplane/internal/presence"
	"github.com/sovereign-voice/commandplane/internal/replay"
)

// Sentinel verification failures, each corresponding to one of the six
// ordered checks in mio/verify.py's verify_mio_for_execution.
var (
	ErrInvalidSignature   = errors.New("mio: signature invalid")
	ErrExpired            = errors.New("mio: expired")
	ErrReplay             = errors.New("mio: replay detected")
	ErrPresenceStale      = errors.New("mio: heartbeat stale")
	ErrTouchRequired      = errors.New("mio: touch correlation failed")
	ErrBiometricRequired  = errors.New("mio: biometric proof required")
)

// TouchValidator checks a presented touch-event token against the session
// and device it claims to belong to. Implemented by internal/gateway using
// internal/replay.Store.TouchTokenHash for single-use enforcement; kept as
// an interface here so internal/mio never depends on the gateway package.
type TouchValidator interface {
	ValidateTouchToken(token, sessionID, deviceID string) (bool, string)
}

// Verifier runs the complete MIO verification pipeline (spec §4.12).
type Verifier struct {
	signer   *crypto.Signer
	replay   *replay.Store
	presence *presence.Engine
	touch    TouchValidator
}

// NewVerifier builds a Verifier over the given components. touch may be nil
// if no tier-2+ dispatch paths are in use yet (e.g. early-stage wiring);
// any attempt to verify a tier>=2 MIO with a nil validator fails closed.
func NewVerifier(signer *crypto.Signer, replayStore *replay.Store, presenceEngine *presence.Engine, touch TouchValidator) *Verifier {
	return &Verifier{signer: signer, replay: replayStore, presence: presenceEngine, touch: touch}
}

// VerifyInput carries the out-of-band material the pipeline needs beyond
// the MIO itself: the raw signature bytes, the requesting session/device,
// and any touch/biometric proof collected at confirmation time.
type VerifyInput struct {
	Signature      []byte
	SessionID      string
	DeviceID       string
	TouchToken     string
	BiometricProof string
}

// VerifyForExecution runs the six ordered checks from spec §4.12: (1)
// signature, (2) TTL freshness, (3) replay, (4) presence, (5) touch
// correlation at tier>=2, (6) biometric proof at tier==3. It returns the
// first failing check's error; a nil error means the MIO is cleared for
// dispatch.
func (v *Verifier) VerifyForExecution(m MasterIntentObject, in VerifyInput) error {
	payload, err := m.CanonicalJSON()
	if err != nil {
		return ErrInvalidSignature
	}
	if !v.signer.Verify(payload, in.Signature) {
		return ErrInvalidSignature
	}

	ttl := m.Header.TTLSeconds
	if ttl <= 0 {
		ttl = DefaultTTLSeconds
	}
	age := time.Since(m.Header.Timestamp)
	if age >= time.Duration(ttl)*time.Second {
		return ErrExpired
	}

	tokenHash := replay.TokenHash(m.Header.MIOID, in.SessionID, in.DeviceID)
	if err := v.replay.CheckAndRecord(tokenHash, time.Duration(ttl)*2*time.Second); err != nil {
		return ErrReplay
	}

	if !v.presence.CheckPresence(in.SessionID) {
		return ErrPresenceStale
	}

	if m.Envelope.Constraints.Tier >= RiskPhysicalLatch {
		if v.touch == nil {
			return ErrTouchRequired
		}
		ok, _ := v.touch.ValidateTouchToken(in.TouchToken, in.SessionID, in.DeviceID)
		if !ok {
			return ErrTouchRequired
		}
	}

	if m.Envelope.Constraints.Tier >= RiskBiometric {
		if in.BiometricProof == "" {
			return ErrBiometricRequired
		}
	}

	return nil
}
