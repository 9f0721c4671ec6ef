package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/prompting"
)

func TestVerifier_MockFallbackOnGatewayError(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{}, nil)
	v := NewVerifier(gw)

	// empty session ID forces the gateway call to fail closed.
	verdict := v.Run(context.Background(), "", "u1", "send a message", nil, mio.ActionCommSend, 0.8)
	assert.True(t, verdict.IsMock)
}

func TestVerifier_ParsesResponseAndFlagsDisagreement(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return `{"action_class":"FIN_TRANS","confidence":0.9,"chain_of_logic":"independent re-derivation"}`
	}}, nil)
	v := NewVerifier(gw)

	verdict := v.Run(context.Background(), "s1", "u1", "send money to Alex", nil, mio.ActionCommSend, 0.8)
	assert.False(t, verdict.ShadowAgreesWithL1)
	assert.NotEmpty(t, verdict.Conflicts)
}

func TestVerifier_ParsesResponseAndFlagsAgreement(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return `{"action_class":"COMM_SEND","confidence":0.85,"chain_of_logic":"independent re-derivation"}`
	}}, nil)
	v := NewVerifier(gw)

	verdict := v.Run(context.Background(), "s1", "u1", "send a message to Sam", nil, mio.ActionCommSend, 0.8)
	assert.True(t, verdict.ShadowAgreesWithL1)
	assert.Empty(t, verdict.Conflicts)
}

func TestCheckAgreement_MismatchedActionClass(t *testing.T) {
	ok, reason := CheckAgreement(mio.ActionCommSend, 0.8, L2Verdict{ActionClass: mio.ActionFinTrans, Confidence: 0.8})
	assert.False(t, ok)
	assert.Contains(t, reason, "action class mismatch")
}

func TestCheckAgreement_ConfidenceDeltaTooLarge(t *testing.T) {
	ok, reason := CheckAgreement(mio.ActionCommSend, 0.9, L2Verdict{ActionClass: mio.ActionCommSend, Confidence: 0.6})
	assert.False(t, ok)
	assert.Contains(t, reason, "delta")
}

func TestCheckAgreement_ConfidenceBelowThreshold(t *testing.T) {
	ok, reason := CheckAgreement(mio.ActionCommSend, 0.5, L2Verdict{ActionClass: mio.ActionCommSend, Confidence: 0.5})
	assert.False(t, ok)
	assert.Contains(t, reason, "threshold")
}

func TestCheckAgreement_Agrees(t *testing.T) {
	ok, reason := CheckAgreement(mio.ActionCommSend, 0.8, L2Verdict{ActionClass: mio.ActionCommSend, Confidence: 0.75})
	assert.True(t, ok)
	assert.Contains(t, reason, "verified")
}
