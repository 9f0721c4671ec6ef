// Package redaction implements the PII/secret scrubbing applied to every
// log line and audit detail blob (spec §4.17). Grounded on
// original_source's observability/redaction.py pattern list and
// structured-walk helper, rebuilt as compiled Go regexps plus a recursive
// map walker in the teacher's plain-stdlib style (no redaction library
// appears anywhere in the pack).
package redaction

import (
	"regexp"
	"strings"
)

type pattern struct {
	re          *regexp.Regexp
	replacement string
}

// patterns is the closed list spec §4.17 requires: email, international
// phone, SSN, bearer/JWT/MongoDB-style URIs, generic secret assignments.
var patterns = []pattern{
	{regexp.MustCompile(`[a-zA-Z0-9_.+-]+@[a-zA-Z0-9-]+\.[a-zA-Z0-9-.]+`), "[REDACTED_EMAIL]"},
	{regexp.MustCompile(`\+?\d[\d\-\s]{8,15}\d`), "[REDACTED_PHONE]"},
	{regexp.MustCompile(`\b\d{3}-\d{2}-\d{4}\b`), "[REDACTED_SSN]"},
	{regexp.MustCompile(`(?i)(api[_-]?key|token|secret|password)[\s:=]+"?'?[A-Za-z0-9_\-.]{20,}"?'?`), "[REDACTED_SECRET]"},
	{regexp.MustCompile(`eyJ[A-Za-z0-9_-]+\.eyJ[A-Za-z0-9_-]+\.[A-Za-z0-9_-]+`), "[REDACTED_JWT]"},
	{regexp.MustCompile(`mongodb(\+srv)?://\S+`), "[REDACTED_MONGO_URI]"},
	{regexp.MustCompile(`(?i)Bearer\s+[A-Za-z0-9_\-.]+`), "[REDACTED_BEARER]"},
}

// sensitiveKeys are map keys whose values are always replaced wholesale,
// regardless of content, by Dict.
var sensitiveKeys = map[string]bool{
	"token": true, "password": true, "secret": true, "api_key": true,
	"jwt": true, "signature": true, "touch_token": true,
	"biometric_proof": true, "dispatch_token": true,
}

// String applies every redaction pattern to text and returns the result.
func String(text string) string {
	result := text
	for _, p := range patterns {
		result = p.re.ReplaceAllString(result, p.replacement)
	}
	return result
}

// Dict walks a nested map (e.g. a JSON-decoded audit detail blob),
// replacing values whose keys match the sensitive-key set and applying
// String to every other string value, matching the teacher's and
// original_source's structured-redaction idiom. Safe to call on a nil or
// empty map.
func Dict(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		if sensitiveKeys[strings.ToLower(k)] {
			out[k] = "[REDACTED]"
			continue
		}
		switch val := v.(type) {
		case map[string]interface{}:
			out[k] = Dict(val)
		case string:
			out[k] = String(val)
		default:
			out[k] = v
		}
	}
	return out
}
