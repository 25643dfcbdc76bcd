package classify

import (
	"strings"

	types "github.com/yungbote/featurepulse-backend/internal/domain"
)

var priorityLevels = map[string]string{
	"critical":     types.LevelCritical,
	"blocker":      types.LevelCritical,
	"p0":           types.LevelCritical,
	"high":         types.LevelHigh,
	"important":    types.LevelHigh,
	"p1":           types.LevelHigh,
	"medium":       types.LevelMedium,
	"normal":       types.LevelMedium,
	"p2":           types.LevelMedium,
	"low":          types.LevelLow,
	"nice to have": types.LevelLow,
	"p3":           types.LevelLow,
}

var urgencyLevels = map[string]string{
	"critical":  types.LevelCritical,
	"immediate": types.LevelCritical,
	"urgent":    types.LevelHigh,
	"high":      types.LevelHigh,
	"soon":      types.LevelHigh,
	"medium":    types.LevelMedium,
	"normal":    types.LevelMedium,
	"low":       types.LevelLow,
	"someday":   types.LevelLow,
}

// PriorityFromHint maps a free-form hint onto a level; unknown hints are medium.
func PriorityFromHint(hint string) string {
	return lookupLevel(priorityLevels, hint)
}

// UrgencyFromHint maps a free-form hint onto a level; unknown hints are medium.
func UrgencyFromHint(hint string) string {
	return lookupLevel(urgencyLevels, hint)
}

func lookupLevel(table map[string]string, hint string) string {
	if lvl, ok := table[strings.ToLower(strings.TrimSpace(hint))]; ok {
		return lvl
	}
	return types.LevelMedium
}
