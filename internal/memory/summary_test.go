package memory

import (
	"reflect"
	"testing"
)

func TestExtractKeywords_FrequencyOrder(t *testing.T) {
	t.Parallel()

	texts := []string{
		"postgres replication lag on postgres primary",
		"postgres failover and replication",
	}
	got := ExtractKeywords(texts, 5)
	if len(got) == 0 {
		t.Fatal("expected keywords")
	}
	if got[0] != "postgres" {
		t.Errorf("most frequent keyword first: got %q", got[0])
	}
}

func TestExtractKeywords_FiltersStopwordsAndShortTokens(t *testing.T) {
	t.Parallel()

	got := ExtractKeywords([]string{"the and for a is of deployment"}, 5)
	if !reflect.DeepEqual(got, []string{"deployment"}) {
		t.Errorf("got %v, want [deployment]", got)
	}
}

func TestExtractKeywords_DeterministicTieBreak(t *testing.T) {
	t.Parallel()

	// All words appear once: ties resolve alphabetically, every run.
	texts := []string{"zebra mango apple"}
	want := []string{"apple", "mango", "zebra"}
	for run := 0; run < 10; run++ {
		if got := ExtractKeywords(texts, 5); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: got %v, want %v", run, got, want)
		}
	}
}

func TestExtractKeywords_Limit(t *testing.T) {
	t.Parallel()

	got := ExtractKeywords([]string{"alpha beta gamma delta epsilon zeta"}, 3)
	if len(got) != 3 {
		t.Errorf("got %d keywords, want 3", len(got))
	}
	if ExtractKeywords([]string{"alpha"}, 0) != nil {
		t.Error("limit 0 must return nil")
	}
}

func TestMergeKeywords_FreshWinsAndCaps(t *testing.T) {
	t.Parallel()

	old := []string{"one", "two", "three", "four"}
	fresh := []string{"five", "two", "six"}

	got := mergeKeywords(old, fresh)
	if len(got) != 5 {
		t.Fatalf("got %d keywords, want cap of 5", len(got))
	}
	if got[0] != "five" || got[1] != "two" || got[2] != "six" {
		t.Errorf("fresh keywords must lead: got %v", got)
	}
	seen := map[string]bool{}
	for _, w := range got {
		if seen[w] {
			t.Errorf("duplicate keyword %q", w)
		}
		seen[w] = true
	}
}
