package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sovereign-voice/commandplane/internal/prompting"
)

func TestFragmentAnalyzer_FallsBackOnGatewayError(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{}, nil)
	a := NewFragmentAnalyzer(gw)

	// empty SessionID makes Orchestrator.Build fail closed.
	result := a.Analyze(context.Background(), "", "u1", "send a message to Sam")
	assert.Equal(t, 0.3, result.Confidence)
	assert.Equal(t, []string{"send a message to Sam"}, result.SubIntents)
}

func TestFragmentAnalyzer_FallsBackOnUnparsableResponse(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return "not json"
	}}, nil)
	a := NewFragmentAnalyzer(gw)

	result := a.Analyze(context.Background(), "s1", "u1", "hello there")
	assert.Equal(t, 0.3, result.Confidence)
}

func TestFragmentAnalyzer_ParsesWellFormedResponse(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return `{"subIntents":["send_message"],"dimensionsFound":{"who":"Sam"},"confidence":0.9}`
	}}, nil)
	a := NewFragmentAnalyzer(gw)

	result := a.Analyze(context.Background(), "s1", "u1", "message Sam")
	assert.Equal(t, []string{"send_message"}, result.SubIntents)
	assert.Equal(t, "Sam", result.DimensionsFound["who"])
	assert.Equal(t, 0.9, result.Confidence)
}
