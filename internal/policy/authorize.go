// Package policy screens browser-automation commands before they reach the
// engine and scrubs sensitive data out of narration logs.
package policy

import (
	"regexp"
	"strings"
)

type CommandDecision struct {
	Risk    string
	Blocked bool
	Reason  string
}

var (
	blockedCommandPatterns = []*regexp.Regexp{
		regexp.MustCompile(`(?i)\b(exfiltrate|steal|dump credentials|leak secrets?)\b`),
		regexp.MustCompile(`(?i)\b(print|show|reveal|copy|export)\b.*\b(api[_ -]?key|token|password|secret|cookie|session storage)\b`),
		regexp.MustCompile(`(?i)\b(scrape|harvest)\b.*\b(emails?|credit cards?|personal data)\b`),
	}
	highRiskKeywords = []string{
		"delete my account", "close my account", "delete account",
		"pay", "purchase", "buy", "checkout", "place the order", "place order",
		"transfer", "send money", "wire",
		"unsubscribe everyone", "cancel subscription",
		"change password", "change my password",
	}
	mediumRiskKeywords = []string{
		"submit", "log in", "login", "sign in", "sign up", "register",
		"upload", "post", "publish", "send", "book", "reserve",
	}
)

// DecideCommand classifies a command before execution. Blocked commands never
// reach the engine; risk levels are informational for the event stream.
func DecideCommand(command string) CommandDecision {
	in := strings.ToLower(strings.TrimSpace(command))
	if in == "" {
		return CommandDecision{Risk: "low"}
	}

	for _, re := range blockedCommandPatterns {
		if re.MatchString(in) {
			return CommandDecision{
				Risk:    "blocked",
				Blocked: true,
				Reason:  "Command appears to include credential exfiltration or bulk data harvesting.",
			}
		}
	}

	for _, kw := range highRiskKeywords {
		if strings.Contains(in, kw) {
			return CommandDecision{Risk: "high"}
		}
	}

	for _, kw := range mediumRiskKeywords {
		if strings.Contains(in, kw) {
			return CommandDecision{Risk: "medium"}
		}
	}

	return CommandDecision{Risk: "low"}
}
