package logs

import (
	"slices"
	"testing"
	"time"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/narvanalabs/deploylogs/internal/models"
)

// scriptEntries renders the narrated deployment as held entries.
func scriptEntries() []*models.LogEntry {
	steps := DeploymentScript()
	seq := make([]*models.LogEntry, len(steps))
	for i, s := range steps {
		e := s.Entry("dep-1", "proj-1", baseTime.Add(time.Duration(i)*time.Second))
		e.ID = s.Key
		seq[i] = &e
	}
	return seq
}

func TestSearchScenario(t *testing.T) {
	seq := scriptEntries()

	if got := Search(seq, ""); len(got) != len(seq) || &got[0] != &seq[0] {
		t.Error("empty query should return the sequence itself")
	}
	if got := Search(seq, "   "); len(got) != len(seq) {
		t.Error("blank query should return the full sequence")
	}

	got := Search(seq, "build")
	want := []string{"install", "build", "build-warning", "build-success"}
	if len(got) != len(want) {
		t.Fatalf("Search(build) = %v, want %v", ids(got), want)
	}
	for i := range want {
		if got[i].ID != want[i] {
			t.Errorf("Search(build)[%d] = %q, want %q", i, got[i].ID, want[i])
		}
	}

	if got := Search(seq, "CDN"); len(got) != 1 || got[0].ID != "configure" {
		t.Errorf("Search(CDN) = %v, want [configure]", ids(got))
	}
	if got := Search(seq, "nothing matches"); got == nil || len(got) != 0 {
		t.Errorf("Search(no match) = %v, want empty", got)
	}
}

func TestFilterByLevel(t *testing.T) {
	seq := scriptEntries()

	tests := []struct {
		sel  string
		want int
	}{
		{"all", 10},
		{"ALL", 10},
		{"", 10},
		{"info", 6},
		{"success", 3},
		{"warn", 1},
		{"warning", 1},
		{"error", 0},
		{"debug", 0},
		{"fatal", 0},
	}
	for _, tt := range tests {
		if got := FilterByLevel(seq, tt.sel); len(got) != tt.want {
			t.Errorf("FilterByLevel(%q) = %d entries, want %d", tt.sel, len(got), tt.want)
		}
	}
	if got := FilterByLevel(seq, "all"); &got[0] != &seq[0] {
		t.Error(`"all" should return the sequence itself`)
	}
}

// **Feature: deployment-logs, Property 6: Search and filter are pure projections**
// For any query, Search returns a subsequence of its input in the same order
// and leaves the input untouched; every level's filter partitions the input.
func TestQueryPurity(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 100
	properties := gopter.NewProperties(parameters)

	properties.Property("search yields an ordered subsequence", prop.ForAll(
		func(query string) bool {
			seq := scriptEntries()
			before := ids(seq)
			got := Search(seq, query)
			j := 0
			for _, e := range got {
				for j < len(seq) && seq[j] != e {
					j++
				}
				if j == len(seq) {
					return false
				}
			}
			return slices.Equal(before, ids(seq))
		},
		gen.AlphaString(),
	))

	properties.Property("level filters partition the sequence", prop.ForAll(
		func(n int) bool {
			seq := scriptEntries()[:n]
			total := 0
			for _, l := range models.LogLevels {
				total += len(FilterByLevel(seq, string(l)))
			}
			return total == len(seq)
		},
		gen.IntRange(0, 10),
	))

	properties.TestingRun(t)
}
