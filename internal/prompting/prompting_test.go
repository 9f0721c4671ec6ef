package prompting

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOrchestratorBuild_RejectsEmptyContext(t *testing.T) {
	o := NewOrchestrator()
	_, _, err := o.Build(Context{}, "L1_HYPOTHESIZER")
	assert.ErrorIs(t, err, ErrEmptyArtifact)
}

func TestOrchestratorBuild_RejectsUnregisteredCallSite(t *testing.T) {
	o := NewOrchestrator()
	ctx := Context{Purpose: PurposeThoughtToIntent, SessionID: "s1"}
	_, _, err := o.Build(ctx, "NOT_A_REAL_SITE")
	assert.ErrorIs(t, err, ErrUnregisteredCallSite)
}

func TestOrchestratorBuild_RejectsDisallowedPurposeForCallSite(t *testing.T) {
	o := NewOrchestrator()
	ctx := Context{Purpose: PurposeExecute, SessionID: "s1"}
	_, _, err := o.Build(ctx, "L1_HYPOTHESIZER")
	assert.ErrorIs(t, err, ErrPurposeNotAllowed)
}

func TestOrchestratorBuild_AcceptsRegisteredCallSiteWithAllowedPurpose(t *testing.T) {
	o := NewOrchestrator()
	ctx := Context{Purpose: PurposeThoughtToIntent, SessionID: "s1", Transcript: "send a message"}
	artifact, report, err := o.Build(ctx, "L1_HYPOTHESIZER")
	require.NoError(t, err)
	assert.NotEmpty(t, artifact.PromptID)
	assert.Equal(t, "L1_HYPOTHESIZER", report.CallSiteID)
}

func TestShouldInclude_BannedSectionNeverIncludedEvenIfAlsoListedNowhere(t *testing.T) {
	ok, reason := shouldInclude(PurposeThoughtToIntent, SectionTooling)
	assert.False(t, ok)
	assert.Contains(t, reason, "banned")
}

func TestShouldInclude_UnknownPurpose(t *testing.T) {
	ok, reason := shouldInclude(Purpose("NOT_A_PURPOSE"), SectionIdentity)
	assert.False(t, ok)
	assert.Equal(t, "unknown purpose", reason)
}

func TestLookupCallSite_UnknownReturnsError(t *testing.T) {
	_, err := LookupCallSite("GHOST_SITE")
	assert.ErrorIs(t, err, ErrUnregisteredCallSite)
}

func TestComputeHash_DeterministicForSameInput(t *testing.T) {
	sections := []SectionOutput{
		{SectionID: SectionIdentity, Content: "you are the assistant", CacheClass: CacheStable, Included: true, Priority: 1},
		{SectionID: SectionTaskContext, Content: "volatile bit", CacheClass: CacheVolatile, Included: true, Priority: 2},
	}
	a := ComputeHash(sections, CacheStable)
	b := ComputeHash(sections, CacheStable)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, ComputeHash(sections, CacheVolatile))
}

func TestComputeHash_EmptyWhenNoSectionsMatch(t *testing.T) {
	sections := []SectionOutput{{SectionID: SectionIdentity, Content: "x", CacheClass: CacheVolatile, Included: true}}
	assert.Equal(t, "empty", ComputeHash(sections, CacheStable))
}

func TestComputeHash_SemistableFoldsIntoStable(t *testing.T) {
	sections := []SectionOutput{{SectionID: SectionTooling, Content: "tool list", CacheClass: CacheSemistable, Included: true}}
	assert.NotEqual(t, "empty", ComputeHash(sections, CacheStable))
}

func TestGatewayCall_BypassInvokesCallbackAndNeverReachesProvider(t *testing.T) {
	var called bool
	var gotCallSite string
	provider := &MockProvider{Response: func(a Artifact) string {
		t.Fatal("provider must not be invoked on a bypass")
		return ""
	}}
	gw := NewGateway(provider, func(callSiteID string, err error) {
		called = true
		gotCallSite = callSiteID
	})

	_, _, err := gw.Call(context.Background(), Context{Purpose: PurposeExecute, SessionID: "s1"}, "L1_HYPOTHESIZER")
	assert.Error(t, err)
	assert.True(t, called)
	assert.Equal(t, "L1_HYPOTHESIZER", gotCallSite)
}

func TestGatewayCall_SuccessReturnsProviderText(t *testing.T) {
	provider := &MockProvider{Response: func(a Artifact) string { return `{"ok":true}` }}
	gw := NewGateway(provider, nil)

	text, report, err := gw.Call(context.Background(), Context{Purpose: PurposeThoughtToIntent, SessionID: "s1", Transcript: "hi"}, "L1_HYPOTHESIZER")
	require.NoError(t, err)
	assert.Equal(t, `{"ok":true}`, text)
	assert.Equal(t, "L1_HYPOTHESIZER", report.CallSiteID)
}

func TestMockProvider_DefaultsToEmptyJSONObject(t *testing.T) {
	p := &MockProvider{}
	text, err := p.Complete(context.Background(), Artifact{})
	require.NoError(t, err)
	assert.Equal(t, "{}", text)
}
