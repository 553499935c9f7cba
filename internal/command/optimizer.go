// Package command normalizes operator-supplied natural language into
// imperative browser commands before they reach execution.
package command

import (
	"regexp"
	"strings"
)

var (
	politenessPrefixRe = regexp.MustCompile(`(?i)^(?:please|can you|could you|i want to|i would like to)\s+`)
	trailingForMeRe    = regexp.MustCompile(`(?i)\s+for me\.?$`)
	interrogativeRe    = regexp.MustCompile(`(?i)^(?:can|could|would) you\s+(.+?)\??$`)
)

var actionVerbs = map[string]struct{}{
	"go":       {},
	"navigate": {},
	"visit":    {},
	"open":     {},
	"search":   {},
	"find":     {},
	"click":    {},
	"type":     {},
	"enter":    {},
	"select":   {},
	"check":    {},
	"submit":   {},
}

var implicitNavigationLeads = map[string]struct{}{
	"to":  {},
	"on":  {},
	"at":  {},
	"the": {},
}

// Optimize rewrites a command into imperative form: politeness prefixes and a
// trailing "for me" are stripped, interrogative phrasing is rewritten, and a
// leading "go" is prepended when the text starts with a bare location phrase.
// Pure and total; idempotent on its own output.
func Optimize(command string) string {
	out := strings.TrimSpace(command)
	if out == "" {
		return out
	}

	// Politeness prefixes stack ("Could you please ..."), so strip until stable.
	for {
		next := politenessPrefixRe.ReplaceAllString(out, "")
		if next == out {
			break
		}
		out = next
	}
	out = trailingForMeRe.ReplaceAllString(out, "")
	out = strings.TrimSpace(out)

	if m := interrogativeRe.FindStringSubmatch(out); m != nil {
		out = strings.TrimSpace(m[1])
	}
	out = strings.TrimSpace(strings.TrimSuffix(out, "?"))

	first := strings.ToLower(firstWord(out))
	if first == "" {
		return out
	}
	if _, ok := actionVerbs[first]; ok {
		return out
	}
	if _, ok := implicitNavigationLeads[first]; ok {
		return "go " + out
	}
	return out
}

func firstWord(s string) string {
	if i := strings.IndexAny(s, " \t"); i >= 0 {
		return strings.TrimRight(s[:i], ".,!?")
	}
	return strings.TrimRight(s, ".,!?")
}
