package mio

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-voice/commandplane/internal/crypto"
)

func sampleMIO() MasterIntentObject {
	return MasterIntentObject{
		Header: Header{
			MIOID:      "mio-1",
			Timestamp:  time.Now().UTC(),
			SignerID:   "gateway",
			TTLSeconds: DefaultTTLSeconds,
		},
		Envelope: IntentEnvelope{
			Action:      "send message to Alex",
			ActionClass: ActionCommSend,
			Params:      map[string]interface{}{"to": "Alex"},
			Constraints: Constraints{Tier: RiskNoLatch},
		},
		Grounding: Grounding{L1Hash: "h1", L2AuditHash: "h2"},
	}
}

func TestCanonicalJSON_ExcludesSignature(t *testing.T) {
	m := sampleMIO()
	m.Proof.Signature = "should-not-appear"

	payload, err := m.CanonicalJSON()
	require.NoError(t, err)
	assert.NotContains(t, string(payload), "should-not-appear")
	assert.NotContains(t, string(payload), "security_proof")
}

func TestCanonicalJSON_Deterministic(t *testing.T) {
	m := sampleMIO()
	a, err := m.CanonicalJSON()
	require.NoError(t, err)
	b, err := m.CanonicalJSON()
	require.NoError(t, err)
	assert.Equal(t, a, b)
}

func TestSign_RoundTripsWithVerify(t *testing.T) {
	signer := crypto.Default()
	m := sampleMIO()

	sig, err := Sign(signer, m)
	require.NoError(t, err)
	require.NotEmpty(t, sig)

	payload, err := m.CanonicalJSON()
	require.NoError(t, err)
	assert.True(t, signer.Verify(payload, sig))
}

func TestSign_TamperedPayloadFailsVerify(t *testing.T) {
	signer := crypto.Default()
	m := sampleMIO()

	sig, err := Sign(signer, m)
	require.NoError(t, err)

	m.Envelope.Action = "send money to Alex"
	payload, err := m.CanonicalJSON()
	require.NoError(t, err)
	assert.False(t, signer.Verify(payload, sig))
}
