// Package guardrails implements the Guardrails Engine (spec §4.11) and
// the input sanitizer (SPEC_FULL.md supplement 4). Grounded on
// original_source's guardrails/engine.py (gate ordering, thresholds,
// pattern tables) and guardrails/sanitizer.py (prompt-injection pattern
// list), rebuilt as pure, dependency-free Go functions in the same style
// internal/intent.RouteUtterance already established for this repo.
package guardrails

import (
	"regexp"
	"strings"
)

// Result is a guardrails gate's classification (spec §4.11).
type Result string

const (
	ResultPass     Result = "PASS"
	ResultSilence  Result = "SILENCE"
	ResultClarify  Result = "CLARIFY"
	ResultRefuse   Result = "REFUSE"
	ResultCooldown Result = "COOLDOWN"
)

// Check is the outcome of one guardrails evaluation.
type Check struct {
	Result         Result
	Reason         string
	Nudge          string
	BlockExecution bool
}

// harmPatterns is the closed harm-keyword list (spec §4.11 rule 3),
// matched word-boundary strict per spec to avoid false positives like
// "hackernews" tripping "hack".
var harmPatterns = []string{
	"hack into", "hack the", "hacking", "steal", "illegal", "kill", "attack",
	"exploit", "password", "credentials", "bypass security",
}

// policyPatterns is the closed policy-violation list (spec §4.11 rule 4).
var policyPatterns = []string{
	"send money to myself", "transfer all funds",
	"delete all", "wipe everything", "override safety",
}

// Dimensions carries the B-set values the ambiguity/emotional-load gates
// consult (spec §4.11 rules 1-2, fed by internal/pipeline.StabilityBuffer).
type Dimensions struct {
	Ambiguity     float64
	EmotionalLoad float64
}

// Check runs the Guardrails Engine's ordered gates (spec §4.11: most
// restrictive wins). topConfidence is the L1 hypothesizer's leading
// confidence, used by the low-confidence CLARIFY gate.
func CheckGuardrails(transcript string, dims Dimensions, topConfidence float64, haveTopHypothesis bool) Check {
	if dims.Ambiguity > 0.30 {
		return Check{
			Result:         ResultSilence,
			Reason:         "ambiguity exceeds 30% threshold",
			Nudge:          "I want to make sure I understand correctly. Could you tell me a bit more?",
			BlockExecution: true,
		}
	}

	if dims.EmotionalLoad > 0.70 {
		return Check{
			Result:         ResultCooldown,
			Reason:         "emotional load exceeds stability threshold",
			Nudge:          "Let's take a moment. Would you like to review this before proceeding?",
			BlockExecution: true,
		}
	}

	lower := strings.ToLower(transcript)
	if pat, ok := matchWordBoundary(lower, harmPatterns); ok {
		return Check{
			Result:         ResultRefuse,
			Reason:         "potential harmful intent detected: pattern=" + pat,
			Nudge:          "I can't help with that request. Is there something else I can assist with?",
			BlockExecution: true,
		}
	}

	if pat, ok := matchWordBoundary(lower, policyPatterns); ok {
		return Check{
			Result:         ResultRefuse,
			Reason:         "policy violation detected: pattern=" + pat,
			Nudge:          "That action isn't permitted. How else can I help?",
			BlockExecution: true,
		}
	}

	if haveTopHypothesis && topConfidence < 0.4 {
		return Check{
			Result:         ResultClarify,
			Reason:         "L1 confidence too low",
			Nudge:          "I'm not quite sure what you'd like to do. Could you rephrase that?",
			BlockExecution: true,
		}
	}

	return Check{Result: ResultPass, Reason: "all guardrails passed"}
}

// matchWordBoundary reports whether any phrase in patterns occurs in text
// as a whole-word/phrase match (word-boundary strict, spec §4.11).
func matchWordBoundary(text string, patterns []string) (string, bool) {
	for _, p := range patterns {
		re := boundaryRegexCache(p)
		if re.MatchString(text) {
			return p, true
		}
	}
	return "", false
}

var boundaryCache = make(map[string]*regexp.Regexp)

func boundaryRegexCache(phrase string) *regexp.Regexp {
	if re, ok := boundaryCache[phrase]; ok {
		return re
	}
	re := regexp.MustCompile(`\b` + regexp.QuoteMeta(phrase) + `\b`)
	boundaryCache[phrase] = re
	return re
}

// injectionPatterns strips known prompt-injection attempts before any user
// text is embedded in an LLM prompt (spec §4.11, grounded on
// original_source's guardrails/sanitizer.py _INJECTION_PATTERNS).
var injectionPatterns = []*regexp.Regexp{
	regexp.MustCompile(`(?i)ignore\s+(all\s+)?previous\s+instructions?`),
	regexp.MustCompile(`(?i)forget\s+(all\s+)?previous\s+(instructions?|context)`),
	regexp.MustCompile(`(?i)you\s+are\s+now\s+`),
	regexp.MustCompile(`(?i)new\s+instructions?\s*:`),
	regexp.MustCompile(`(?i)system\s*:\s*`),
	regexp.MustCompile(`(?i)<\s*system\s*>`),
	regexp.MustCompile(`(?i)\[INST\]`),
	regexp.MustCompile(`(?i)\[/INST\]`),
	regexp.MustCompile(`(?i)###\s*(system|instruction|prompt)`),
	regexp.MustCompile(`(?i)act\s+as\s+(if\s+you\s+are\s+)?a\s+different`),
	regexp.MustCompile(`(?i)pretend\s+(you\s+are|to\s+be)`),
	regexp.MustCompile(`(?i)reveal\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)output\s+(your|the)\s+(system\s+)?prompt`),
	regexp.MustCompile(`(?i)what\s+(is|are)\s+your\s+(system\s+)?instructions?`),
}

const maxSanitizedLen = 2000

// SanitizeResult reports whether sanitization altered the text, so the
// caller can log the event (spec §4.11: "detected patterns are replaced
// in-place ... and the event is logged").
type SanitizeResult struct {
	Text      string
	Tripped   bool
	Truncated bool
}

// Sanitize strips known prompt-injection patterns from user text before
// embedding it in any LLM prompt, replacing matches with "[filtered]" and
// truncating overly long input. Never raises — on any pattern or length
// concern, it degrades to returning filtered/truncated text rather than
// failing the caller (spec §4.11).
func Sanitize(text string) SanitizeResult {
	if text == "" {
		return SanitizeResult{Text: text}
	}

	result := text
	tripped := false
	for _, re := range injectionPatterns {
		if re.MatchString(result) {
			result = re.ReplaceAllString(result, "[filtered]")
			tripped = true
		}
	}

	truncated := false
	if len(result) > maxSanitizedLen {
		result = result[:maxSanitizedLen] + "..."
		truncated = true
	}

	return SanitizeResult{Text: result, Tripped: tripped, Truncated: truncated}
}
