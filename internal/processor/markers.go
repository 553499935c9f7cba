package processor

import (
	"regexp"
	"strings"
)

// Thought text is the only lifecycle signal the engine gives us, so step
// boundaries are inferred from these textual markers. The matching rules are
// deliberately kept in one place: they are fragile by nature and must be
// swappable without touching registry logic.

var (
	// Anchored: completion texts ("✅ Completed step 1: done") also contain
	// "step N:" and must not be mistaken for announcements.
	stepAnnouncementRe = regexp.MustCompile(`(?i)^\s*step\s+(\d+)(?:\s*/\s*(\d+))?\s*:\s*(.+)`)
	successWordRe      = regexp.MustCompile(`(?i)\b(?:completed|finished)\b`)
	failureWordRe      = regexp.MustCompile(`(?i)\b(?:failed|error)\b`)
	markerPrefixRe     = regexp.MustCompile(`(?i)^[\s✅❌]*(?:(?:completed|finished|failed|error)\b\s*)?(?:step\s+\d+\s*:?\s*)?`)
)

// parseStepAnnouncement extracts the zero-based step index and description
// from a "Step <N>[/<M>]: <description>" thought.
func parseStepAnnouncement(text string) (index int, description string, ok bool) {
	m := stepAnnouncementRe.FindStringSubmatch(text)
	if m == nil {
		return 0, "", false
	}
	n := 0
	for _, c := range m[1] {
		n = n*10 + int(c-'0')
	}
	if n < 1 {
		return 0, "", false
	}
	return n - 1, strings.TrimSpace(m[3]), true
}

func isSuccessMarker(text string) bool {
	return strings.Contains(text, "✅") || successWordRe.MatchString(text)
}

func isFailureMarker(text string) bool {
	return strings.Contains(text, "❌") || failureWordRe.MatchString(text)
}

// cleanMarkerText strips the announcement prefix ("✅ Completed step 2:" and
// variants) so the registry records only the payload text.
func cleanMarkerText(text string) string {
	out := strings.TrimSpace(markerPrefixRe.ReplaceAllString(strings.TrimSpace(text), ""))
	if out == "" {
		return strings.TrimSpace(text)
	}
	return out
}
