package pipeline

import (
	"strings"

	"github.com/sovereign-voice/commandplane/internal/mio"
)

// SkillDecision is the classification a mandate action receives against
// the skill library (spec §4.10).
type SkillDecision string

const (
	DecisionUseExisting SkillDecision = "use_existing"
	DecisionAdapt       SkillDecision = "adapt"
	DecisionCreateNew   SkillDecision = "create_new"
)

// Coordination is how a topology's sub-agents relate to one another.
type Coordination string

const (
	CoordinationSequential Coordination = "sequential"
	CoordinationParallel   Coordination = "parallel"
	CoordinationHybrid     Coordination = "hybrid"
)

// ToolManifest declares what a skill is allowed to touch at runtime (spec
// §4.10: "tool-requirement manifest {profile, allow[]}").
type ToolManifest struct {
	Profile string
	Allow   []string
}

// Skill is one catalog entry a mandate action can be matched against.
type Skill struct {
	Name        string
	Category    string
	ActionClass mio.ActionClass
	Triggers    []string
	Manifest    ToolManifest
}

// SkillCatalog is the closed, in-process library of known skills. Unlike
// original_source's skills/determine.py, which asks an LLM to read this
// catalog as free-text reference, spec §4.10 requires the mapping be
// computed deterministically here.
type SkillCatalog struct {
	skills []Skill
}

// NewSkillCatalog builds a catalog over the given skills.
func NewSkillCatalog(skills []Skill) *SkillCatalog {
	return &SkillCatalog{skills: skills}
}

// SkillMatch is one scored candidate for a mandate action.
type SkillMatch struct {
	Skill    Skill
	Score    float64
	Decision SkillDecision
}

// scoreWeights balance the three deterministic signals spec §4.10 names:
// action-class fit, trigger-keyword hits, and skill-set overlap.
const (
	weightActionClassFit = 0.5
	weightTriggerHits    = 0.35
	weightOverlap        = 0.15
)

// Match scores every catalog skill against one mandate action and
// returns the best match with its use_existing/adapt/create_new
// decision. actionText is the action's description used for
// trigger-keyword matching; requestedTools is the tool-set the action
// is believed to need, for skill-set overlap scoring.
func (c *SkillCatalog) Match(actionClass mio.ActionClass, actionText string, requestedTools []string) SkillMatch {
	lower := strings.ToLower(actionText)

	var best SkillMatch
	bestScore := -1.0
	for _, s := range c.skills {
		score := 0.0
		if s.ActionClass == actionClass {
			score += weightActionClassFit
		}

		hits := 0
		for _, trig := range s.Triggers {
			if strings.Contains(lower, strings.ToLower(trig)) {
				hits++
			}
		}
		if len(s.Triggers) > 0 {
			score += weightTriggerHits * (float64(hits) / float64(len(s.Triggers)))
		}

		score += weightOverlap * toolOverlap(s.Manifest.Allow, requestedTools)

		if score > bestScore {
			bestScore = score
			best = SkillMatch{Skill: s, Score: score}
		}
	}

	switch {
	case bestScore >= 0.75:
		best.Decision = DecisionUseExisting
	case bestScore >= 0.4:
		best.Decision = DecisionAdapt
	default:
		best.Decision = DecisionCreateNew
	}
	return best
}

func toolOverlap(have, want []string) float64 {
	if len(want) == 0 {
		return 0
	}
	haveSet := make(map[string]bool, len(have))
	for _, t := range have {
		haveSet[strings.ToLower(t)] = true
	}
	hits := 0
	for _, t := range want {
		if haveSet[strings.ToLower(t)] {
			hits++
		}
	}
	return float64(hits) / float64(len(want))
}

// AgentSpec is one sub-agent in a topology: a group of matched skills
// sharing a category, run under one coordination mode with the rest of
// the topology.
type AgentSpec struct {
	Category     string
	Skills       []SkillMatch
	Coordination Coordination
}

// Topology is the full agent-topology decision for a mandate (spec
// §4.10): 1..N sub-agent specs.
type Topology struct {
	Agents []AgentSpec
}

// BuildTopology groups matches by category into sub-agent specs. A
// topology with only one agent runs sequential; multiple agents whose
// skills share no declared dependency run parallel; anything else (more
// than one agent, any cross-category match sharing a tool in its
// manifest) runs hybrid, matching spec §4.10's closed
// {sequential,parallel,hybrid} set without inventing a fourth mode.
func BuildTopology(matches []SkillMatch) Topology {
	byCategory := make(map[string][]SkillMatch)
	var order []string
	for _, m := range matches {
		cat := m.Skill.Category
		if _, seen := byCategory[cat]; !seen {
			order = append(order, cat)
		}
		byCategory[cat] = append(byCategory[cat], m)
	}

	agents := make([]AgentSpec, 0, len(order))
	for _, cat := range order {
		agents = append(agents, AgentSpec{Category: cat, Skills: byCategory[cat]})
	}

	coordination := CoordinationSequential
	switch {
	case len(agents) == 0:
	case len(agents) == 1:
		coordination = CoordinationSequential
	case sharesAnyTool(agents):
		coordination = CoordinationHybrid
	default:
		coordination = CoordinationParallel
	}
	for i := range agents {
		agents[i].Coordination = coordination
	}
	return Topology{Agents: agents}
}

func sharesAnyTool(agents []AgentSpec) bool {
	seen := make(map[string]bool)
	for _, a := range agents {
		for _, m := range a.Skills {
			for _, tool := range m.Skill.Manifest.Allow {
				key := strings.ToLower(tool)
				if seen[key] {
					return true
				}
				seen[key] = true
			}
		}
	}
	return false
}
