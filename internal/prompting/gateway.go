package prompting

import "context"

// LLMProvider is the black-box text transformer spec.md §1 names as an
// external collaborator: "the LLM provider gateway (treated as a
// black-box text transformer with prompt-artifact and call-site
// validation)". This repo implements only the validation boundary; the
// concrete provider is injected by cmd/gateway.
type LLMProvider interface {
	Complete(ctx context.Context, artifact Artifact) (string, error)
}

// MockProvider returns a canned response without calling any real LLM,
// used when MOCK_LLM=true or no LLM_API_KEY is configured (spec §6 mock
// flags), matching original_source's is_mock_llm()-gated fallback present
// in every pipeline stage.
type MockProvider struct {
	Response func(Artifact) string
}

// Complete returns the configured canned response, or an empty-hypothesis
// JSON document by default.
func (m *MockProvider) Complete(ctx context.Context, artifact Artifact) (string, error) {
	if m.Response != nil {
		return m.Response(artifact), nil
	}
	return `{}`, nil
}

// Gateway is the sole path to the LLM provider (spec §4.15): it builds an
// artifact via an Orchestrator, enforces the call-site registry, invokes
// the provider, and returns the raw text for the caller's stage-specific
// parser. Any violation caught by Orchestrator.Build is a fail-closed
// bypass attempt and is never forwarded to the provider.
type Gateway struct {
	orchestrator *Orchestrator
	provider     LLMProvider
	onBypass     func(callSiteID string, err error)
}

// NewGateway builds a Gateway over provider, using a fresh Orchestrator.
// onBypass, if non-nil, is invoked with every rejected call for audit
// logging (spec §7: "Prompt bypass attempts are fatal for that call
// only... logged to audit").
func NewGateway(provider LLMProvider, onBypass func(callSiteID string, err error)) *Gateway {
	return &Gateway{orchestrator: NewOrchestrator(), provider: provider, onBypass: onBypass}
}

// Call builds a prompt artifact for callSiteID/ctx.Purpose and, if the
// registry accepts it, invokes the provider. Returns the raw response
// text, the constructed Report (for prompt-snapshot persistence), and any
// error — a bypass error means the call never reached the provider.
func (g *Gateway) Call(ctx context.Context, pctx Context, callSiteID string) (string, Report, error) {
	artifact, report, err := g.orchestrator.Build(pctx, callSiteID)
	if err != nil {
		if g.onBypass != nil {
			g.onBypass(callSiteID, err)
		}
		return "", Report{}, err
	}

	text, err := g.provider.Complete(ctx, artifact)
	if err != nil {
		return "", report, err
	}
	return text, report, nil
}
