package logs

import (
	"strings"

	"github.com/narvanalabs/deploylogs/internal/models"
)

// LevelAll selects every level in FilterByLevel.
const LevelAll = "all"

// Search returns the entries whose message or source contains query,
// case-insensitively. A blank query returns seq itself.
func Search(seq []*models.LogEntry, query string) []*models.LogEntry {
	q := strings.ToLower(strings.TrimSpace(query))
	if q == "" {
		return seq
	}
	out := make([]*models.LogEntry, 0)
	for _, e := range seq {
		if strings.Contains(strings.ToLower(e.Message), q) ||
			strings.Contains(strings.ToLower(e.Source), q) {
			out = append(out, e)
		}
	}
	return out
}

// FilterByLevel returns the entries at exactly the given level.
// "all" or an empty selector returns seq itself; an unknown level matches nothing.
func FilterByLevel(seq []*models.LogEntry, sel string) []*models.LogEntry {
	if sel == "" || strings.EqualFold(sel, LevelAll) {
		return seq
	}
	out := make([]*models.LogEntry, 0)
	level, err := models.ParseLogLevel(sel)
	if err != nil {
		return out
	}
	for _, e := range seq {
		if e.Level == level {
			out = append(out, e)
		}
	}
	return out
}
