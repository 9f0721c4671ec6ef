// Package prompting implements the Prompt Orchestrator, Policy Engine,
// and Call-Site Registry that gate every LLM invocation in the command
// plane (spec §4.15). It is the sole path to the LLM provider — no other
// package may construct a prompt artifact or call the gateway directly.
// Grounded on original_source's backend/prompting/{types,policy/engine,
// call_sites,hashing,orchestrator}.py, rebuilt as a table-driven, pure-
// function composer in the style internal/circuitbreaker already
// established for this repo (immutable per-name/per-purpose config
// tables, constructed once, consulted on every call).
package prompting

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/google/uuid"
)

// Purpose is the declared reason for an LLM call (spec §4.15). Every call
// must declare one; there is no default.
type Purpose string

const (
	PurposeThoughtToIntent  Purpose = "THOUGHT_TO_INTENT"
	PurposeDimensionsExtract Purpose = "DIMENSIONS_EXTRACT"
	PurposePlan             Purpose = "PLAN"
	PurposeExecute          Purpose = "EXECUTE"
	PurposeVerify           Purpose = "VERIFY"
	PurposeSafetyGate       Purpose = "SAFETY_GATE"
	PurposeSummarize        Purpose = "SUMMARIZE"
	PurposeSubagentTask     Purpose = "SUBAGENT_TASK"
	PurposeMicroQuestion    Purpose = "MICRO_QUESTION"
)

// Mode affects verbosity, refusal style, and explanation depth.
type Mode string

const (
	ModeInteractive Mode = "INTERACTIVE"
	ModeBatch       Mode = "BATCH"
	ModeSilent      Mode = "SILENT"
	ModeAudit       Mode = "AUDIT"
)

// SectionID is a canonical prompt section identifier (spec §4.15's closed
// set). No others are permitted.
type SectionID string

const (
	SectionIdentity            SectionID = "identity"
	SectionPurposeContract     SectionID = "purpose-contract"
	SectionOutputSchema        SectionID = "output-schema"
	SectionTooling             SectionID = "tooling"
	SectionSafetyGuardrails    SectionID = "safety-guardrails"
	SectionTaskContext         SectionID = "task-context"
	SectionMemoryRecall        SectionID = "memory-recall"
	SectionLearnedExamples     SectionID = "learned-examples"
	SectionDimensionsInjected  SectionID = "dimensions-injected"
	SectionConflictsSummary    SectionID = "conflicts-summary"
	SectionRuntimeCapabilities SectionID = "runtime-capabilities"
	SectionSkillsIndex         SectionID = "skills-index"
	SectionWorkspaceBootstrap  SectionID = "workspace-bootstrap"
)

// CacheClass determines which hash bucket a section's content falls into.
type CacheClass string

const (
	CacheStable     CacheClass = "STABLE"
	CacheSemistable CacheClass = "SEMISTABLE"
	CacheVolatile   CacheClass = "VOLATILE"
)

// Message is one role-tagged prompt message.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// SectionOutput is the return type of every section generator.
type SectionOutput struct {
	SectionID     SectionID
	Content       string
	Priority      int
	CacheClass    CacheClass
	TokensEst     int
	Included      bool
	GatingReason  string
}

// Context carries every input needed to build a prompt.
type Context struct {
	Purpose        Purpose
	Mode           Mode
	SessionID      string
	UserID         string
	Env            string
	Transcript     string
	TaskDescription string
	Dimensions     map[string]interface{}
	Conflicts      []string
	AvailableTools []string
	MemorySnippets []string
	UserAdjustments map[string]interface{}
}

// Artifact is the assembled, immutable prompt bundle handed to the LLM
// gateway (spec §4.15).
type Artifact struct {
	PromptID         string
	Purpose          Purpose
	Mode             Mode
	Messages         []Message
	IncludedSections []SectionID
	ExcludedSections []SectionID
	StableHash       string
	VolatileHash     string
	TotalTokensEst   int
	CreatedAt        time.Time
}

// Report is the audit-facing record produced alongside an Artifact.
type Report struct {
	Artifact     Artifact
	CallSiteID   string
	GatingReasons map[SectionID]string
}

// policy is one purpose's immutable section/tool/budget table (spec
// §4.15 Policy engine).
type policy struct {
	required    map[SectionID]bool
	optional    map[SectionID]bool
	banned      map[SectionID]bool
	tokenBudget int
}

func sectionSet(ids ...SectionID) map[SectionID]bool {
	m := make(map[SectionID]bool, len(ids))
	for _, id := range ids {
		m[id] = true
	}
	return m
}

// policies is the locked per-purpose table, grounded on original_source's
// prompting/policy/engine.py _POLICIES.
var policies = map[Purpose]policy{
	PurposeThoughtToIntent: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionTaskContext),
		optional: sectionSet(SectionMemoryRecall, SectionLearnedExamples),
		banned:   sectionSet(SectionTooling, SectionSkillsIndex, SectionWorkspaceBootstrap, SectionSafetyGuardrails),
		tokenBudget: 4096,
	},
	PurposeDimensionsExtract: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionOutputSchema, SectionTaskContext),
		optional: sectionSet(SectionMemoryRecall),
		banned: sectionSet(SectionTooling, SectionSkillsIndex, SectionWorkspaceBootstrap,
			SectionRuntimeCapabilities, SectionDimensionsInjected, SectionConflictsSummary, SectionSafetyGuardrails),
		tokenBudget: 4096,
	},
	PurposePlan: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTaskContext, SectionDimensionsInjected, SectionSafetyGuardrails),
		optional: sectionSet(SectionMemoryRecall, SectionConflictsSummary),
		banned:   sectionSet(SectionTooling),
		tokenBudget: 8192,
	},
	PurposeExecute: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTooling, SectionSafetyGuardrails, SectionTaskContext, SectionDimensionsInjected),
		optional: sectionSet(SectionRuntimeCapabilities, SectionConflictsSummary),
		banned:   sectionSet(SectionMemoryRecall, SectionOutputSchema),
		tokenBudget: 8192,
	},
	PurposeVerify: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTaskContext),
		optional: sectionSet(SectionConflictsSummary, SectionDimensionsInjected, SectionMemoryRecall),
		banned:   sectionSet(SectionTooling, SectionSkillsIndex, SectionSafetyGuardrails),
		tokenBudget: 4096,
	},
	PurposeSafetyGate: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionSafetyGuardrails, SectionTaskContext),
		optional: sectionSet(SectionDimensionsInjected),
		banned:   sectionSet(SectionTooling, SectionSkillsIndex, SectionWorkspaceBootstrap),
		tokenBudget: 2048,
	},
	PurposeSummarize: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTaskContext),
		optional: sectionSet(),
		banned:   sectionSet(SectionTooling, SectionSkillsIndex, SectionSafetyGuardrails),
		tokenBudget: 2048,
	},
	PurposeSubagentTask: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTaskContext),
		optional: sectionSet(SectionTooling, SectionSafetyGuardrails),
		banned:   sectionSet(SectionWorkspaceBootstrap, SectionSkillsIndex),
		tokenBudget: 2048,
	},
	PurposeMicroQuestion: {
		required: sectionSet(SectionIdentity, SectionPurposeContract, SectionTaskContext),
		optional: sectionSet(),
		banned:   sectionSet(SectionTooling, SectionSkillsIndex, SectionWorkspaceBootstrap, SectionSafetyGuardrails),
		tokenBudget: 1024,
	},
}

var ErrUnknownPurpose = errors.New("prompting: no policy defined for purpose")

// shouldInclude reports whether a section should be emitted for purpose,
// and if not, why (spec §4.15: "A section present in bannedSections for a
// purpose may never be emitted even if requested").
func shouldInclude(p Purpose, id SectionID) (bool, string) {
	pol, ok := policies[p]
	if !ok {
		return false, "unknown purpose"
	}
	if pol.banned[id] {
		return false, fmt.Sprintf("banned for purpose %s", p)
	}
	if pol.required[id] || pol.optional[id] {
		return true, ""
	}
	return false, fmt.Sprintf("not in required/optional set for purpose %s", p)
}

// CallSite is a registered code location permitted to invoke the LLM
// gateway under a declared set of purposes (spec §4.15).
type CallSite struct {
	ID               string
	AllowedPurposes  map[Purpose]bool
	Owner            string
	Status           string // active | reserved | deprecated
}

// ErrUnregisteredCallSite and ErrPurposeNotAllowed are fail-closed bypass
// conditions (spec §4.15, §7 PROMPT_BYPASS taxonomy entry).
var (
	ErrUnregisteredCallSite = errors.New("prompting: unregistered LLM call site")
	ErrPurposeNotAllowed    = errors.New("prompting: purpose not allowed for call site")
	ErrEmptyArtifact        = errors.New("prompting: artifact or promptID/messages empty")
)

func allowed(purposes ...Purpose) map[Purpose]bool {
	m := make(map[Purpose]bool, len(purposes))
	for _, p := range purposes {
		m[p] = true
	}
	return m
}

// callSites is the canonical, locked registry (spec §4.15), grounded on
// original_source's prompting/call_sites.py CALL_SITES.
var callSites = map[string]CallSite{
	"L1_HYPOTHESIZER": {
		ID: "L1_HYPOTHESIZER", Owner: "internal/pipeline.Hypothesizer", Status: "active",
		AllowedPurposes: allowed(PurposeThoughtToIntent, PurposeDimensionsExtract),
	},
	"L2_VERIFIER": {
		ID: "L2_VERIFIER", Owner: "internal/pipeline.Verifier", Status: "active",
		AllowedPurposes: allowed(PurposeVerify, PurposeSafetyGate),
	},
	"QC_SENTRY": {
		ID: "QC_SENTRY", Owner: "internal/pipeline.QCSentry", Status: "active",
		AllowedPurposes: allowed(PurposeVerify),
	},
	"GUARDRAILS_CLASSIFIER": {
		ID: "GUARDRAILS_CLASSIFIER", Owner: "internal/guardrails", Status: "active",
		AllowedPurposes: allowed(PurposeSafetyGate),
	},
	"DIMENSION_EXTRACTOR": {
		ID: "DIMENSION_EXTRACTOR", Owner: "internal/pipeline.DimensionExtractor", Status: "active",
		AllowedPurposes: allowed(PurposeDimensionsExtract),
	},
	// internal/pipeline.SkillDeterminer (spec §4.10) is explicitly
	// deterministic — "Scoring combines action-class fit, trigger-keyword
	// hits, and skill-set overlap (deterministic — no LLM)" — so it has no
	// call site here, unlike original_source's LLM-driven skills.library.
	"SUMMARIZER": {
		ID: "SUMMARIZER", Owner: "internal/gateway", Status: "reserved",
		AllowedPurposes: allowed(PurposeSummarize),
	},
	"SUBAGENT_TASK": {
		ID: "SUBAGENT_TASK", Owner: "internal/pipeline", Status: "reserved",
		AllowedPurposes: allowed(PurposeSubagentTask),
	},
}

// LookupCallSite returns a registered call site, or an error if unknown.
func LookupCallSite(id string) (CallSite, error) {
	site, ok := callSites[id]
	if !ok {
		return CallSite{}, ErrUnregisteredCallSite
	}
	return site, nil
}

// SectionGenerator is a pure function (Context) → SectionOutput, per
// spec §9's design note ("Section generators are pure functions").
type SectionGenerator func(ctx Context) SectionOutput

// Snapshotter persists a rendered prompt artifact for audit replay
// (SPEC_FULL.md supplement 2, grounded on original_source's
// backend/prompting/storage/mongo.py save_prompt_snapshot). internal/
// storage implements this against the prompt_snapshots table.
type Snapshotter interface {
	SavePromptSnapshot(ctx context.Context, sessionID, callSiteID string, purpose Purpose, artifact Artifact) error
}

// Orchestrator composes artifacts: gate by policy, invoke generators,
// sort by priority, compute hashes, build the artifact and audit report
// in one pass (spec §9).
type Orchestrator struct {
	generators  map[SectionID]SectionGenerator
	snapshotter Snapshotter
}

// NewOrchestrator builds an Orchestrator with the standard section
// generator set.
func NewOrchestrator() *Orchestrator {
	return &Orchestrator{generators: standardGenerators()}
}

// WithSnapshotter attaches a Snapshotter so every Build call persists its
// artifact. Kept as a separate setter rather than a constructor argument
// so tests can build an Orchestrator without a storage dependency.
func (o *Orchestrator) WithSnapshotter(s Snapshotter) *Orchestrator {
	o.snapshotter = s
	return o
}

// Build constructs a PromptArtifact for callSiteID under ctx.Purpose,
// enforcing the call-site registry in the order spec §4.15 requires:
// (a) non-empty artifact inputs, (b) call-site registered, (c) purpose
// allowed for that call site. Any violation is a fail-closed bypass
// attempt.
func (o *Orchestrator) Build(ctx Context, callSiteID string) (Artifact, Report, error) {
	if ctx.Purpose == "" || ctx.SessionID == "" {
		return Artifact{}, Report{}, ErrEmptyArtifact
	}

	site, err := LookupCallSite(callSiteID)
	if err != nil {
		return Artifact{}, Report{}, err
	}
	if !site.AllowedPurposes[ctx.Purpose] {
		return Artifact{}, Report{}, ErrPurposeNotAllowed
	}

	var outputs []SectionOutput
	for id, gen := range o.generators {
		include, reason := shouldInclude(ctx.Purpose, id)
		out := gen(ctx)
		out.SectionID = id
		out.Included = include
		out.GatingReason = reason
		outputs = append(outputs, out)
	}
	sort.Slice(outputs, func(i, j int) bool { return outputs[i].Priority < outputs[j].Priority })

	var included, excluded []SectionID
	var messages []Message
	totalTokens := 0
	gatingReasons := make(map[SectionID]string)
	for _, out := range outputs {
		if !out.Included {
			excluded = append(excluded, out.SectionID)
			gatingReasons[out.SectionID] = out.GatingReason
			continue
		}
		included = append(included, out.SectionID)
		totalTokens += out.TokensEst
		messages = append(messages, Message{Role: "system", Content: out.Content})
	}

	artifact := Artifact{
		PromptID:         uuid.NewString(),
		Purpose:          ctx.Purpose,
		Mode:             ctx.Mode,
		Messages:         messages,
		IncludedSections: included,
		ExcludedSections: excluded,
		TotalTokensEst:   totalTokens,
		CreatedAt:        time.Now().UTC(),
	}
	artifact.StableHash = ComputeHash(outputs, CacheStable)
	artifact.VolatileHash = ComputeHash(outputs, CacheVolatile)

	if o.snapshotter != nil {
		// Best-effort: a snapshot write failure must never block the
		// pipeline stage waiting on this artifact.
		_ = o.snapshotter.SavePromptSnapshot(context.Background(), ctx.SessionID, callSiteID, ctx.Purpose, artifact)
	}

	return artifact, Report{Artifact: artifact, CallSiteID: callSiteID, GatingReasons: gatingReasons}, nil
}

// ComputeHash computes a deterministic sha256 of every included section
// whose CacheClass matches target, sorted by priority (spec §4.15
// Hashing). Semistable sections are folded into the stable hash's
// companion call the same way original_source's compute_stable_hash
// folds STABLE+SEMISTABLE before signing, because this repo treats
// semistable content (tooling/skills/workspace) as part of the same
// cache key as stable content once a call site is fixed.
func ComputeHash(sections []SectionOutput, target CacheClass) string {
	sorted := make([]SectionOutput, len(sections))
	copy(sorted, sections)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Priority < sorted[j].Priority })

	var parts []string
	for _, s := range sorted {
		if !s.Included {
			continue
		}
		matches := s.CacheClass == target
		if target == CacheStable && s.CacheClass == CacheSemistable {
			matches = true
		}
		if !matches {
			continue
		}
		parts = append(parts, string(s.SectionID)+":"+s.Content)
	}
	if len(parts) == 0 {
		return "empty"
	}
	joined, _ := json.Marshal(parts)
	sum := sha256.Sum256(joined)
	return hex.EncodeToString(sum[:])
}
