package pipeline

import (
	"context"
	"fmt"

	"github.com/sovereign-voice/commandplane/internal/prompting"
)

// QCSeverity is the severity a QC pass assigns to a finding.
type QCSeverity string

const (
	QCSeverityNone  QCSeverity = "none"
	QCSeverityNudge QCSeverity = "nudge"
	QCSeverityBlock QCSeverity = "block"
)

// QCPass is the result of one adversarial QC check (spec §4.8): persona
// drift, capability leak, or harm projection.
type QCPass struct {
	PassName    string
	Passed      bool
	Severity    QCSeverity
	Reason      string
	CitedSpans  []EvidenceSpan
}

// QCVerdict is the combined result of all three passes.
type QCVerdict struct {
	VerdictID   string
	Passes      []QCPass
	OverallPass bool
	BlockReason string
	PromptID    string
	IsMock      bool
}

// QCSentry runs after L2 and before MIO signing (spec §4.8): the last
// gate an intent crosses before it can become a signable mandate.
type QCSentry struct {
	gateway *prompting.Gateway
}

// NewQCSentry builds a QCSentry over gateway.
func NewQCSentry(gateway *prompting.Gateway) *QCSentry {
	return &QCSentry{gateway: gateway}
}

// QCInput carries the context the three adversarial passes need.
type QCInput struct {
	Transcript     string
	IntentSummary  string
	PersonaSummary string
	SkillRisk      string
	SkillNames     []string
}

// Run executes the three adversarial passes. Any gateway failure or
// unparsable response fails CLOSED — a block verdict, never a pass — per
// spec §4.8's fail-safe rule, distinguishing QC from every other stage's
// fail-open-to-low-confidence default.
func (q *QCSentry) Run(ctx context.Context, sessionID, userID string, in QCInput) QCVerdict {
	pctx := prompting.Context{
		Purpose:    prompting.PurposeVerify,
		Mode:       prompting.ModeInteractive,
		SessionID:  sessionID,
		UserID:     userID,
		Transcript: in.Transcript,
		TaskDescription: fmt.Sprintf(
			"QC adversarial review: intent=%q persona=%q skills=%v risk=%s. Run persona_drift, capability_leak, and harm_projection checks.",
			in.IntentSummary, in.PersonaSummary, in.SkillNames, in.SkillRisk),
	}

	raw, report, err := q.gateway.Call(ctx, pctx, "QC_SENTRY")
	if err != nil {
		return failClosedVerdict(fmt.Sprintf("QC system error: %v", err))
	}

	verdict, ok := parseQCResponse(raw)
	if !ok {
		return failClosedVerdict("QC verification failed: response could not be parsed")
	}
	verdict.VerdictID = newID()
	verdict.PromptID = report.Artifact.PromptID
	return verdict
}

// failClosedVerdict builds the single-pass block verdict QC returns on
// any system failure, mirroring original_source's except-clause fallback.
func failClosedVerdict(reason string) QCVerdict {
	return QCVerdict{
		VerdictID: newID(),
		Passes: []QCPass{{
			PassName: "qc_system",
			Passed:   false,
			Severity: QCSeverityBlock,
			Reason:   reason,
		}},
		OverallPass: false,
		BlockReason: reason,
	}
}

func parseQCResponse(raw string) (QCVerdict, bool) {
	var doc struct {
		Passes []struct {
			PassName   string         `json:"pass_name"`
			Passed     bool           `json:"passed"`
			Severity   string         `json:"severity"`
			Reason     string         `json:"reason"`
			CitedSpans []EvidenceSpan `json:"cited_spans"`
		} `json:"passes"`
	}
	if err := unmarshalJSONLoose(raw, &doc); err != nil {
		return QCVerdict{}, false
	}

	passes := make([]QCPass, 0, len(doc.Passes))
	for _, p := range doc.Passes {
		qp := QCPass{
			PassName:   p.PassName,
			Passed:     p.Passed,
			Severity:   QCSeverity(p.Severity),
			Reason:     p.Reason,
			CitedSpans: p.CitedSpans,
		}
		// Grounding rule (spec §4.8): a block with no cited transcript
		// spans cannot stand, and is downgraded to a nudge.
		if !qp.Passed && qp.Severity == QCSeverityBlock && len(qp.CitedSpans) == 0 {
			qp.Severity = QCSeverityNudge
			qp.Reason += " [downgraded: no span evidence]"
		}
		passes = append(passes, qp)
	}

	overall := true
	blockReason := ""
	for _, p := range passes {
		if !p.Passed && p.Severity == QCSeverityBlock {
			overall = false
			if blockReason == "" {
				blockReason = p.Reason
			}
		}
	}

	return QCVerdict{Passes: passes, OverallPass: overall, BlockReason: blockReason}, true
}
