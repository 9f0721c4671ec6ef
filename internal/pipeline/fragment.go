// Package pipeline implements the Mandate Inference Pipeline (spec §4.5-
// §4.10): Fragment Analyzer, Hypothesizer (L1), Verifier (L2), QC Sentry,
// Dimension Extractor, and Skill Determiner/Topology. Grounded on
// original_source's backend/{l1/scout.py, l2/sentry.py, qc/sentry.py,
// dimensions/engine.py, skills}.py, with the chained-call-with-graceful-
// degradation orchestration idiom from spec §9's design note and the
// teacher's sequential-stage style in cmd/socket-gateway/main.go.
//
// Every stage that calls an LLM goes through internal/prompting.Gateway,
// which enforces the call-site registry (spec §4.15) — no stage may
// construct a prompt or invoke a provider directly.
package pipeline

import (
	"context"

	"github.com/google/uuid"

	"github.com/sovereign-voice/commandplane/internal/guardrails"
	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// FragmentAnalysis is the Fragment Analyzer's output (spec §4.5).
type FragmentAnalysis struct {
	SubIntents        []string
	DimensionsFound   map[string]string
	DimensionsMissing []string
	Confidence        float64
}

// FragmentAnalyzer issues one bounded LLM call per intent_fragment with
// purpose THOUGHT_TO_INTENT. Designed for ≤500ms; on any failure or parse
// error it returns a low-confidence fallback containing the raw fragment
// text and never raises (spec §4.5).
type FragmentAnalyzer struct {
	gateway *prompting.Gateway
}

// NewFragmentAnalyzer builds a FragmentAnalyzer over gateway.
func NewFragmentAnalyzer(gateway *prompting.Gateway) *FragmentAnalyzer {
	return &FragmentAnalyzer{gateway: gateway}
}

// Analyze runs the fragment analyzer on one utterance fragment. It
// sanitizes the fragment before it is ever embedded in a prompt (spec
// §4.11's input sanitizer applies to "all user text").
func (a *FragmentAnalyzer) Analyze(ctx context.Context, sessionID, userID, fragment string) FragmentAnalysis {
	clean := guardrails.Sanitize(fragment)

	pctx := prompting.Context{
		Purpose:    prompting.PurposeThoughtToIntent,
		Mode:       prompting.ModeInteractive,
		SessionID:  sessionID,
		UserID:     userID,
		Transcript: clean.Text,
	}

	raw, _, err := a.gateway.Call(ctx, pctx, "L1_HYPOTHESIZER")
	if err != nil {
		return fallbackAnalysis(clean.Text)
	}

	parsed, ok := parseFragmentResponse(raw)
	if !ok {
		return fallbackAnalysis(clean.Text)
	}
	return parsed
}

func fallbackAnalysis(rawText string) FragmentAnalysis {
	return FragmentAnalysis{
		SubIntents: []string{rawText},
		Confidence: 0.3,
	}
}

func parseFragmentResponse(raw string) (FragmentAnalysis, bool) {
	var doc struct {
		SubIntents        []string          `json:"subIntents"`
		DimensionsFound   map[string]string `json:"dimensionsFound"`
		DimensionsMissing []string          `json:"dimensionsMissing"`
		Confidence        float64           `json:"confidence"`
	}
	if err := unmarshalJSONLoose(raw, &doc); err != nil {
		return FragmentAnalysis{}, false
	}
	return FragmentAnalysis{
		SubIntents:        doc.SubIntents,
		DimensionsFound:   doc.DimensionsFound,
		DimensionsMissing: doc.DimensionsMissing,
		Confidence:        doc.Confidence,
	}, true
}

// newID is a small helper shared by pipeline stages for generating
// hypothesis/verdict/draft identifiers.
func newID() string { return uuid.NewString() }
