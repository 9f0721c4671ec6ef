package pipeline

import (
	"context"
	"strings"

	"github.com/sovereign-voice/commandplane/internal/guardrails"
	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// Hypothesis is one candidate interpretation of an utterance (spec §4.6),
// grounded on original_source's l1/scout.py Hypothesis dataclass. L1
// output is non-authoritative — nothing downstream may dispatch on it
// alone.
type Hypothesis struct {
	Hypothesis            string
	ActionClass           mio.ActionClass
	Confidence             float64
	EvidenceSpans          []EvidenceSpan
	DimensionSuggestions   map[string]interface{}
}

// EvidenceSpan cites the transcript range a hypothesis or QC pass is
// grounded on.
type EvidenceSpan struct {
	Text  string `json:"text"`
	Start int    `json:"start"`
	End   int    `json:"end"`
}

// L1Draft is the Hypothesizer's full output: up to three hypotheses plus
// bookkeeping for audit and prompt-snapshot persistence.
type L1Draft struct {
	DraftID     string
	Hypotheses  []Hypothesis
	Transcript  string
	PromptID    string
	IsMock      bool
}

const maxHypotheses = 3

// Hypothesizer runs the L1 stage (spec §4.6): max 3 hypotheses,
// non-authoritative, one gateway call per finalized draft (not per
// fragment).
type Hypothesizer struct {
	gateway *prompting.Gateway
}

// NewHypothesizer builds a Hypothesizer over gateway.
func NewHypothesizer(gateway *prompting.Gateway) *Hypothesizer {
	return &Hypothesizer{gateway: gateway}
}

// Run produces an L1Draft for transcript. On any gateway error or
// unparsable response it falls back to a single low-confidence
// DRAFT_ONLY hypothesis built from keyword matching, mirroring
// original_source's _mock_l1.
func (h *Hypothesizer) Run(ctx context.Context, sessionID, userID, transcript string) L1Draft {
	clean := guardrails.Sanitize(transcript)

	pctx := prompting.Context{
		Purpose:    prompting.PurposeThoughtToIntent,
		Mode:       prompting.ModeInteractive,
		SessionID:  sessionID,
		UserID:     userID,
		Transcript: clean.Text,
	}

	raw, report, err := h.gateway.Call(ctx, pctx, "L1_HYPOTHESIZER")
	if err != nil {
		return mockL1(clean.Text)
	}

	draft, ok := parseL1Response(raw, clean.Text)
	if !ok {
		return mockL1(clean.Text)
	}
	draft.DraftID = newID()
	draft.PromptID = report.Artifact.PromptID
	return draft
}

func parseL1Response(raw, transcript string) (L1Draft, bool) {
	var doc struct {
		Hypotheses []struct {
			Hypothesis           string                 `json:"hypothesis"`
			ActionClass          string                 `json:"action_class"`
			Confidence           float64                `json:"confidence"`
			EvidenceSpans        []EvidenceSpan         `json:"evidence_spans"`
			DimensionSuggestions map[string]interface{} `json:"dimension_suggestions"`
		} `json:"hypotheses"`
	}
	if err := unmarshalJSONLoose(raw, &doc); err != nil {
		return L1Draft{}, false
	}

	hyps := make([]Hypothesis, 0, maxHypotheses)
	for i, h := range doc.Hypotheses {
		if i >= maxHypotheses {
			break
		}
		ac := mio.ActionClass(h.ActionClass)
		if ac == "" {
			ac = mio.ActionDraftOnly
		}
		hyps = append(hyps, Hypothesis{
			Hypothesis:           h.Hypothesis,
			ActionClass:          ac,
			Confidence:           h.Confidence,
			EvidenceSpans:        h.EvidenceSpans,
			DimensionSuggestions: h.DimensionSuggestions,
		})
	}
	if len(hyps) == 0 {
		return L1Draft{}, false
	}
	return L1Draft{Hypotheses: hyps, Transcript: transcript}, true
}

// mockL1 reproduces original_source's _mock_l1 keyword fallback, used
// when no LLM key is configured or every real call fails.
func mockL1(transcript string) L1Draft {
	lower := strings.ToLower(transcript)
	var hyp Hypothesis

	switch {
	case strings.Contains(lower, "send") && strings.Contains(lower, "message"):
		hyp = Hypothesis{
			Hypothesis:  "user wants to send a message",
			ActionClass: mio.ActionCommSend,
			Confidence:  0.85,
			EvidenceSpans: []EvidenceSpan{{Text: transcript, Start: 0, End: len(transcript)}},
		}
	case strings.Contains(lower, "schedule") || strings.Contains(lower, "meeting"):
		hyp = Hypothesis{
			Hypothesis:  "user wants to schedule something",
			ActionClass: mio.ActionSchedModify,
			Confidence:  0.80,
			EvidenceSpans: []EvidenceSpan{{Text: transcript, Start: 0, End: len(transcript)}},
		}
	default:
		hyp = Hypothesis{
			Hypothesis:  "user is expressing a general request",
			ActionClass: mio.ActionDraftOnly,
			Confidence:  0.5,
		}
	}

	return L1Draft{
		DraftID:    newID(),
		Hypotheses: []Hypothesis{hyp},
		Transcript: transcript,
		IsMock:     true,
	}
}

// Top returns the highest-confidence hypothesis and whether any exist.
func (d L1Draft) Top() (Hypothesis, bool) {
	if len(d.Hypotheses) == 0 {
		return Hypothesis{}, false
	}
	best := d.Hypotheses[0]
	for _, h := range d.Hypotheses[1:] {
		if h.Confidence > best.Confidence {
			best = h
		}
	}
	return best, true
}
