// Package intent implements the deterministic Intent Router (spec §4.4):
// a pre-classifier applied to every inbound utterance before it reaches
// the mandate pipeline, so noise, commands, and interruptions never
// pollute the conversation checklist. Grounded verbatim on
// original_source's intent/router.py phrase tables and rule ordering,
// rebuilt as a pure function in the teacher's style of small,
// dependency-free classifier helpers.
package intent

import "strings"

// Route is the classification an utterance receives.
type Route string

const (
	RouteIntentFragment Route = "intent_fragment"
	RouteCommand        Route = "command"
	RouteNoise          Route = "noise"
	RouteInterruption   Route = "interruption"
	RouteModeControl    Route = "mode_control"
)

// Command is a normalized mode-control command.
type Command string

const (
	CommandHold   Command = "HOLD"
	CommandResume Command = "RESUME"
	CommandCancel Command = "CANCEL"
	CommandKill   Command = "KILL"
	CommandNone   Command = "NONE"
)

// Decision is the outcome of routing one utterance.
type Decision struct {
	Route             Route
	Confidence        float64
	NormalizedCommand Command
}

// commandPhrases is the closed phrase → normalized-command table
// (spec §4.4 rule 2), matched verbatim against original_source.
var commandPhrases = map[string]Command{
	"hold":       CommandHold,
	"hold on":    CommandHold,
	"wait":       CommandHold,
	"pause":      CommandHold,
	"one moment": CommandHold,
	"one sec":    CommandHold,
	"hang on":    CommandHold,

	"resume":   CommandResume,
	"continue": CommandResume,
	"go on":    CommandResume,
	"i'm back": CommandResume,
	"im back":  CommandResume,
	"back":     CommandResume,

	"cancel":     CommandCancel,
	"stop":       CommandCancel,
	"forget it":  CommandCancel,
	"never mind": CommandCancel,

	"kill":  CommandKill,
	"abort": CommandKill,
}

// noiseWords is the filler/noise vocabulary (spec §4.4 rule 1).
var noiseWords = map[string]bool{
	"um": true, "uh": true, "hmm": true, "ah": true, "oh": true,
	"okay": true, "ok": true, "yeah": true, "yep": true, "nah": true,
	"no": true, "hey": true, "hi": true, "hello": true,
}

// interruptionPhrases is the closed interruption-phrase set
// (spec §4.4 rule 3).
var interruptionPhrases = map[string]bool{
	"excuse me": true, "sorry": true, "wait wait": true,
	"no no no": true, "stop stop": true,
}

// Route classifies a single utterance per spec §4.4's ordered rules:
// empty/noise first, then closed command set, then interruption phrases,
// and otherwise intent_fragment — the common case for actual speech.
func RouteUtterance(text string) Decision {
	normalized := strings.ToLower(strings.TrimSpace(text))
	words := strings.Fields(normalized)

	if normalized == "" || len(words) == 0 {
		return Decision{Route: RouteNoise, Confidence: 1.0, NormalizedCommand: CommandNone}
	}

	if len(words) == 1 && noiseWords[words[0]] {
		return Decision{Route: RouteNoise, Confidence: 0.95, NormalizedCommand: CommandNone}
	}

	if len(words) <= 2 && allNoise(words) {
		return Decision{Route: RouteNoise, Confidence: 0.9, NormalizedCommand: CommandNone}
	}

	for phrase, cmd := range commandPhrases {
		if normalized == phrase || strings.HasPrefix(normalized, phrase+" ") {
			return Decision{Route: RouteCommand, Confidence: 0.95, NormalizedCommand: cmd}
		}
	}

	if interruptionPhrases[normalized] {
		return Decision{Route: RouteInterruption, Confidence: 0.9, NormalizedCommand: CommandNone}
	}

	return Decision{Route: RouteIntentFragment, Confidence: 0.8, NormalizedCommand: CommandNone}
}

func allNoise(words []string) bool {
	for _, w := range words {
		if !noiseWords[w] {
			return false
		}
	}
	return true
}
