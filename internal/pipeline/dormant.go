package pipeline

import (
	"strings"
	"unicode"
)

// dormantMaxChars is the non-blank character budget below which logs are
// considered empty for triage purposes.
const dormantMaxChars = 20

// IsDormantSentinel reports whether the supplied logs are too empty to
// analyze. Such an incident goes to MONITORING and waits for a webhook to
// deliver the real failure output.
func IsDormantSentinel(logs string) bool {
	if strings.Contains(strings.ToLower(logs), "error") {
		return false
	}
	nonBlank := 0
	for _, r := range logs {
		if !unicode.IsSpace(r) {
			nonBlank++
			if nonBlank >= dormantMaxChars {
				return false
			}
		}
	}
	return true
}
