package agentevents

import "strings"

const (
	phaseResultStart = "---PHASE_RESULT_START---"
	phaseResultEnd   = "---PHASE_RESULT_END---"
)

// ExtractPhaseResult scans assistant text for the last non-empty block
// delimited by the PHASE_RESULT sentinel markers. Phases are instructed to
// wrap their canonical hand-back content in these markers so the pipeline
// can recover a clean result even when the agent also emits exploratory
// narration before or after it. If the agent emits multiple marker pairs
// (e.g. it second-guesses itself mid-turn), the last pair with non-empty
// content wins; an empty pair resets the running result rather than being
// silently skipped, matching the agent's intent to retract prior output.
func ExtractPhaseResult(text string) (string, bool) {
	var lastContent *string
	rest := text
	for {
		startIdx := strings.Index(rest, phaseResultStart)
		if startIdx < 0 {
			break
		}
		afterStart := rest[startIdx+len(phaseResultStart):]
		endIdx := strings.Index(afterStart, phaseResultEnd)
		if endIdx < 0 {
			break
		}
		content := strings.TrimSpace(afterStart[:endIdx])
		if content == "" {
			lastContent = nil
		} else {
			c := content
			lastContent = &c
		}
		rest = afterStart[endIdx+len(phaseResultEnd):]
	}
	if lastContent == nil {
		return "", false
	}
	return *lastContent, true
}
