package logs

import (
	"slices"

	"github.com/narvanalabs/deploylogs/internal/models"
)

// InsertEntry places e into seq, which must already be ordered by
// (Timestamp, ID). It reports false and returns seq unchanged when an entry
// with the same ID is present.
func InsertEntry(seq []*models.LogEntry, e *models.LogEntry) ([]*models.LogEntry, bool) {
	if e == nil || containsID(seq, e.ID) {
		return seq, false
	}
	i, _ := slices.BinarySearchFunc(seq, e, models.CompareLogEntries)
	return slices.Insert(seq, i, e), true
}

// MergeEntries returns the union by ID of held and incoming, ordered by
// (Timestamp, ID). Entries already held win over incoming ones with the same
// ID. Neither input is modified.
func MergeEntries(held, incoming []*models.LogEntry) []*models.LogEntry {
	seen := make(map[string]struct{}, len(held)+len(incoming))
	out := make([]*models.LogEntry, 0, len(held)+len(incoming))
	for _, group := range [][]*models.LogEntry{held, incoming} {
		for _, e := range group {
			if e == nil {
				continue
			}
			if _, dup := seen[e.ID]; dup {
				continue
			}
			seen[e.ID] = struct{}{}
			out = append(out, e)
		}
	}
	slices.SortFunc(out, models.CompareLogEntries)
	return out
}

func containsID(seq []*models.LogEntry, id string) bool {
	for _, e := range seq {
		if e.ID == id {
			return true
		}
	}
	return false
}
