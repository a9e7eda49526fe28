// Package directive holds the keyword heuristics that route CEO input
// and infer skill requirements from free text. They are deliberately
// plain functions so routing can be tested and swapped without touching
// the concurrency core.
package directive

import "strings"

// Kind classifies what a CEO directive asks the simulation to do.
type Kind string

const (
	KindPause   Kind = "pause"
	KindResume  Kind = "resume"
	KindStop    Kind = "stop"
	KindSteer   Kind = "steer"
	KindStatus  Kind = "status"
	KindAdjust  Kind = "adjust"
	KindUnknown Kind = "unknown"
)

// Classify maps directive text to a Kind by substring matching, the same
// way the CEO channel historically parsed console input. Unknown text is
// not an error; it is broadcast to agents as free-form steering context.
func Classify(text string) Kind {
	t := strings.ToLower(text)
	switch {
	case strings.Contains(t, "pause"):
		return KindPause
	case strings.Contains(t, "resume") || strings.Contains(t, "continue"):
		return KindResume
	case strings.Contains(t, "stop") || strings.Contains(t, "end") || strings.Contains(t, "quit"):
		return KindStop
	case strings.Contains(t, "steer") || strings.Contains(t, "redirect"):
		return KindSteer
	case strings.Contains(t, "status"):
		return KindStatus
	case strings.Contains(t, "adjust") || strings.Contains(t, "change"):
		return KindAdjust
	default:
		return KindUnknown
	}
}

// skillKeywords maps a skill bucket to the trigger words that imply it.
var skillKeywords = map[string][]string{
	"development":        {"develop", "code", "implement", "program", "build"},
	"design":             {"design", "create", "plan", "architect"},
	"compliance":         {"compliance", "regulation", "legal", "audit", "hipaa"},
	"communication":      {"coordinate", "meet", "discuss", "present", "communicate"},
	"analysis":           {"analyze", "research", "investigate", "study", "evaluate"},
	"project_management": {"manage", "coordinate", "schedule", "plan", "organize"},
}

const (
	inferredSkillLevel = 5
	fallbackSkillLevel = 3
)

// InferSkills derives minimum skill requirements from task text. When no
// keyword matches, the task lands in a generic bucket so it stays
// assignable.
func InferSkills(text string) map[string]int {
	t := strings.ToLower(text)
	skills := map[string]int{}
	for skill, words := range skillKeywords {
		for _, w := range words {
			if strings.Contains(t, w) {
				skills[skill] = inferredSkillLevel
				break
			}
		}
	}
	if len(skills) == 0 {
		skills["general"] = fallbackSkillLevel
	}
	return skills
}
