package planner

import (
	"regexp"
)

// ParsePreferences reads a free-form user message and reports, per appliance,
// whether it contains "Allow <name> ON during peak hours" (case-insensitive).
func ParsePreferences(msg string, names []string) map[string]bool {
	out := make(map[string]bool, len(names))
	for _, n := range names {
		re := regexp.MustCompile(`(?i)allow\s+` + regexp.QuoteMeta(n) + `\s+on\s+during\s+peak\s+hours`)
		out[n] = re.MatchString(msg)
	}
	return out
}
