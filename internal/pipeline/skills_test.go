package pipeline

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sovereign-voice/commandplane/internal/mio"
)

func testCatalog() *SkillCatalog {
	return NewSkillCatalog([]Skill{
		{
			Name: "send_message", Category: "comms", ActionClass: mio.ActionCommSend,
			Triggers: []string{"message", "text", "email"},
			Manifest: ToolManifest{Profile: "comms", Allow: []string{"messaging_api"}},
		},
		{
			Name: "reschedule_event", Category: "calendar", ActionClass: mio.ActionSchedModify,
			Triggers: []string{"reschedule", "move meeting"},
			Manifest: ToolManifest{Profile: "calendar", Allow: []string{"calendar_api"}},
		},
	})
}

func TestSkillCatalog_Match_StrongMatchUsesExisting(t *testing.T) {
	c := testCatalog()
	m := c.Match(mio.ActionCommSend, "send a text message to Sam", []string{"messaging_api"})
	assert.Equal(t, "send_message", m.Skill.Name)
	assert.Equal(t, DecisionUseExisting, m.Decision)
}

func TestSkillCatalog_Match_WeakMatchCreatesNew(t *testing.T) {
	c := testCatalog()
	m := c.Match(mio.ActionFinTrans, "transfer funds internationally", nil)
	assert.Equal(t, DecisionCreateNew, m.Decision)
}

func TestSkillCatalog_Match_PartialMatchAdapts(t *testing.T) {
	c := testCatalog()
	// action class fit (0.5) alone lands in the adapt band.
	m := c.Match(mio.ActionSchedModify, "do something unrelated", nil)
	assert.Equal(t, DecisionAdapt, m.Decision)
}

func TestBuildTopology_SingleAgentIsSequential(t *testing.T) {
	c := testCatalog()
	m := c.Match(mio.ActionCommSend, "send a message", []string{"messaging_api"})
	topo := BuildTopology([]SkillMatch{m})
	require.Len(t, topo.Agents, 1)
	assert.Equal(t, CoordinationSequential, topo.Agents[0].Coordination)
}

func TestBuildTopology_DisjointCategoriesRunParallel(t *testing.T) {
	c := testCatalog()
	m1 := c.Match(mio.ActionCommSend, "send a message", []string{"messaging_api"})
	m2 := c.Match(mio.ActionSchedModify, "reschedule the meeting", []string{"calendar_api"})
	topo := BuildTopology([]SkillMatch{m1, m2})
	require.Len(t, topo.Agents, 2)
	assert.Equal(t, CoordinationParallel, topo.Agents[0].Coordination)
}

func TestBuildTopology_SharedToolForcesHybrid(t *testing.T) {
	shared := []Skill{
		{Name: "a", Category: "comms", Manifest: ToolManifest{Allow: []string{"shared_api"}}},
		{Name: "b", Category: "calendar", Manifest: ToolManifest{Allow: []string{"shared_api"}}},
	}
	matches := []SkillMatch{{Skill: shared[0]}, {Skill: shared[1]}}
	topo := BuildTopology(matches)
	require.Len(t, topo.Agents, 2)
	assert.Equal(t, CoordinationHybrid, topo.Agents[0].Coordination)
}

func TestBuildTopology_EmptyMatchesProducesNoAgents(t *testing.T) {
	topo := BuildTopology(nil)
	assert.Empty(t, topo.Agents)
}
