package pipeline

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sovereign-voice/commandplane/internal/prompting"
)

func TestDimensionExtractor_ReturnsFalseOnGatewayError(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{}, nil)
	e := NewDimensionExtractor(gw)
	state := NewDimensionState()

	ok := e.Extract(context.Background(), "", "u1", "send a message", state)
	assert.False(t, ok)
	assert.Equal(t, 0, state.TurnCount)
}

func TestDimensionExtractor_AppliesSuggestionsOnSuccess(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return `{"what":"send a message","urgency":0.6}`
	}}, nil)
	e := NewDimensionExtractor(gw)
	state := NewDimensionState()

	ok := e.Extract(context.Background(), "s1", "u1", "send a message", state)
	assert.True(t, ok)
	assert.Equal(t, "send a message", *state.AState.What)
	assert.Equal(t, 1, state.TurnCount)
}

func TestDimensionExtractor_ReturnsFalseOnUnparsableResponse(t *testing.T) {
	gw := prompting.NewGateway(&prompting.MockProvider{Response: func(a prompting.Artifact) string {
		return "garbage"
	}}, nil)
	e := NewDimensionExtractor(gw)
	state := NewDimensionState()

	ok := e.Extract(context.Background(), "s1", "u1", "send a message", state)
	assert.False(t, ok)
}
