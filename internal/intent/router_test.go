package intent

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRouteUtterance_EmptyIsNoise(t *testing.T) {
	d := RouteUtterance("   ")
	assert.Equal(t, RouteNoise, d.Route)
	assert.Equal(t, CommandNone, d.NormalizedCommand)
}

func TestRouteUtterance_SingleFillerWordIsNoise(t *testing.T) {
	d := RouteUtterance("um")
	assert.Equal(t, RouteNoise, d.Route)
}

func TestRouteUtterance_ShortAllNoisePhraseIsNoise(t *testing.T) {
	d := RouteUtterance("uh okay")
	assert.Equal(t, RouteNoise, d.Route)
}

func TestRouteUtterance_CommandPhraseMapsToNormalizedCommand(t *testing.T) {
	d := RouteUtterance("Hold on")
	assert.Equal(t, RouteCommand, d.Route)
	assert.Equal(t, CommandHold, d.NormalizedCommand)

	d = RouteUtterance("cancel")
	assert.Equal(t, CommandCancel, d.NormalizedCommand)

	d = RouteUtterance("abort")
	assert.Equal(t, CommandKill, d.NormalizedCommand)
}

func TestRouteUtterance_CommandPhraseAsPrefixStillMatches(t *testing.T) {
	d := RouteUtterance("wait a second")
	assert.Equal(t, RouteCommand, d.Route)
	assert.Equal(t, CommandHold, d.NormalizedCommand)
}

func TestRouteUtterance_InterruptionPhrase(t *testing.T) {
	d := RouteUtterance("Excuse me")
	assert.Equal(t, RouteInterruption, d.Route)
}

func TestRouteUtterance_OrdinarySpeechIsIntentFragment(t *testing.T) {
	d := RouteUtterance("send a message to Sam about the meeting")
	assert.Equal(t, RouteIntentFragment, d.Route)
	assert.True(t, d.Confidence > 0)
}

func TestRouteUtterance_CaseAndWhitespaceInsensitive(t *testing.T) {
	d := RouteUtterance("  RESUME  ")
	assert.Equal(t, RouteCommand, d.Route)
	assert.Equal(t, CommandResume, d.NormalizedCommand)
}

func TestRouteUtterance_LongNoisyPhraseIsNotNoise(t *testing.T) {
	d := RouteUtterance(strings.Repeat("um ", 3) + "actually send the email")
	assert.Equal(t, RouteIntentFragment, d.Route)
}
