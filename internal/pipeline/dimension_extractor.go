package pipeline

import (
	"context"

	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// DimensionExtractor issues the DIMENSIONS_EXTRACT gateway call and folds
// the result into a session's running DimensionState (spec §4.9). Kept
// distinct from DimensionState itself so the LLM-calling concern and the
// pure EMA bookkeeping concern can be tested independently.
type DimensionExtractor struct {
	gateway *prompting.Gateway
}

// NewDimensionExtractor builds a DimensionExtractor over gateway.
func NewDimensionExtractor(gateway *prompting.Gateway) *DimensionExtractor {
	return &DimensionExtractor{gateway: gateway}
}

// Extract calls the gateway for transcript and applies whatever
// suggestions parse to state. On any gateway or parse failure, it applies
// nothing and returns false — dimensions simply fail to advance that
// turn, never fail the caller.
func (e *DimensionExtractor) Extract(ctx context.Context, sessionID, userID, transcript string, state *DimensionState) bool {
	pctx := prompting.Context{
		Purpose:    prompting.PurposeDimensionsExtract,
		Mode:       prompting.ModeInteractive,
		SessionID:  sessionID,
		UserID:     userID,
		Transcript: transcript,
	}

	raw, _, err := e.gateway.Call(ctx, pctx, "DIMENSION_EXTRACTOR")
	if err != nil {
		return false
	}

	var suggestions map[string]interface{}
	if err := unmarshalJSONLoose(raw, &suggestions); err != nil {
		return false
	}
	state.ApplySuggestions(suggestions)
	return true
}
