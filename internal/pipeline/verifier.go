package pipeline

import (
	"context"

	"github.com/sovereign-voice/commandplane/internal/mio"
	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// L2Verdict is the Verifier's authoritative, independently-derived
// conclusion (spec §4.7), grounded on original_source's l2/sentry.py
// L2Verdict. Unlike L1, a chain-of-logic trace is required, and L2 runs
// only at draft finalization or execute attempt — never per fragment.
type L2Verdict struct {
	VerdictID           string
	ActionClass         mio.ActionClass
	CanonicalTarget     string
	PrimaryOutcome      string
	RiskTier            mio.RiskTier
	Confidence          float64
	ChainOfLogic        string
	ShadowAgreesWithL1  bool
	Conflicts           []string
	PromptID            string
	IsMock              bool
}

// Verifier runs the L2 stage: shadow derivation that ignores L1 and
// re-derives the intent independently, then checks agreement.
type Verifier struct {
	gateway *prompting.Gateway
}

// NewVerifier builds a Verifier over gateway.
func NewVerifier(gateway *prompting.Gateway) *Verifier {
	return &Verifier{gateway: gateway}
}

// Run derives an L2Verdict for transcript, independent of l1ActionClass
// and l1Confidence except for the final agreement check (spec §4.7/§4.8).
func (v *Verifier) Run(ctx context.Context, sessionID, userID, transcript string, dims map[string]interface{}, l1ActionClass mio.ActionClass, l1Confidence float64) L2Verdict {
	pctx := prompting.Context{
		Purpose:    prompting.PurposeVerify,
		Mode:       prompting.ModeInteractive,
		SessionID:  sessionID,
		UserID:     userID,
		Transcript: transcript,
		Dimensions: dims,
		TaskDescription: "Shadow derivation: independently verify the user's intent from this transcript, ignoring any prior hypothesis.",
	}

	raw, report, err := v.gateway.Call(ctx, pctx, "L2_VERIFIER")
	if err != nil {
		return mockL2()
	}

	verdict, ok := parseL2Response(raw)
	if !ok {
		return L2Verdict{
			VerdictID:     newID(),
			ActionClass:   mio.ActionDraftOnly,
			Confidence:    0.3,
			ChainOfLogic:  "parse failed",
			PromptID:      report.Artifact.PromptID,
		}
	}
	verdict.VerdictID = newID()
	verdict.PromptID = report.Artifact.PromptID
	verdict.ShadowAgreesWithL1 = verdict.ActionClass == l1ActionClass

	agrees, reason := CheckAgreement(l1ActionClass, l1Confidence, verdict)
	if !agrees {
		verdict.Conflicts = append(verdict.Conflicts, reason)
	}
	return verdict
}

func parseL2Response(raw string) (L2Verdict, bool) {
	var doc struct {
		ActionClass     string  `json:"action_class"`
		CanonicalTarget string  `json:"canonical_target"`
		PrimaryOutcome  string  `json:"primary_outcome"`
		RiskTier        int     `json:"risk_tier"`
		Confidence      float64 `json:"confidence"`
		ChainOfLogic    string  `json:"chain_of_logic"`
	}
	if err := unmarshalJSONLoose(raw, &doc); err != nil {
		return L2Verdict{}, false
	}
	ac := mio.ActionClass(doc.ActionClass)
	if ac == "" {
		ac = mio.ActionDraftOnly
	}
	return L2Verdict{
		ActionClass:     ac,
		CanonicalTarget: doc.CanonicalTarget,
		PrimaryOutcome:  doc.PrimaryOutcome,
		RiskTier:        mio.RiskTier(doc.RiskTier),
		Confidence:      doc.Confidence,
		ChainOfLogic:    doc.ChainOfLogic,
	}, true
}

func mockL2() L2Verdict {
	return L2Verdict{
		VerdictID:    newID(),
		ActionClass:  mio.ActionClass("Unknown"),
		Confidence:   0.3,
		ChainOfLogic: "mock: LLM unavailable",
		IsMock:       true,
	}
}

// CheckAgreement implements spec §4.8's L1/L2 conflict resolution rule:
// action classes must match AND the confidence delta must be <= 0.25 AND
// both confidences must be >= 0.55, grounded on original_source's
// check_l1_l2_agreement.
func CheckAgreement(l1Action mio.ActionClass, l1Conf float64, l2 L2Verdict) (bool, string) {
	if l1Action != l2.ActionClass {
		return false, "action class mismatch between L1 and L2"
	}
	delta := l1Conf - l2.Confidence
	if delta < 0 {
		delta = -delta
	}
	if delta > 0.25 {
		return false, "confidence delta exceeds 0.25"
	}
	if l1Conf < 0.55 || l2.Confidence < 0.55 {
		return false, "confidence below 0.55 threshold"
	}
	return true, "L1/L2 agreement verified"
}
