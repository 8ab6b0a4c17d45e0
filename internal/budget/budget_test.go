package budget

import (
	"strings"
	"testing"

	"github.com/atelier-ai/chatd/internal/llm"
)

func TestEstimate(t *testing.T) {
	t.Parallel()

	cases := []struct {
		in   string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{strings.Repeat("x", 400), 100},
	}
	for _, tc := range cases {
		if got := Estimate(tc.in); got != tc.want {
			t.Errorf("Estimate(%d chars) = %d, want %d", len(tc.in), got, tc.want)
		}
	}
}

func TestEstimateMessages_IncludesOverhead(t *testing.T) {
	t.Parallel()

	msgs := []llm.Message{
		{Role: llm.RoleUser, Content: strings.Repeat("x", 40)},
	}
	// 4 overhead + 1 role + 10 content.
	if got := EstimateMessages(msgs); got != 15 {
		t.Errorf("got %d, want 15", got)
	}
}

func TestTrimHistory_FitsUntouched(t *testing.T) {
	t.Parallel()

	history := []llm.Message{
		{Role: llm.RoleUser, Content: "hello"},
		{Role: llm.RoleAssistant, Content: "hi"},
	}
	got := TrimHistory(nil, history, 1000)
	if len(got) != 2 {
		t.Errorf("expected history untouched, got %d messages", len(got))
	}
}

func TestTrimHistory_DropsOldestFirst(t *testing.T) {
	t.Parallel()

	big := strings.Repeat("x", 400) // 100 tokens + overhead each
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "oldest " + big},
		{Role: llm.RoleAssistant, Content: "middle " + big},
		{Role: llm.RoleUser, Content: "newest " + big},
	}

	got := TrimHistory(nil, history, 250)
	if len(got) != 2 {
		t.Fatalf("expected 2 surviving messages, got %d", len(got))
	}
	if !strings.HasPrefix(got[0].Content, "middle") {
		t.Errorf("oldest message should be dropped first, kept %q", got[0].Content[:6])
	}
}

func TestTrimHistory_FixedNeverDropped(t *testing.T) {
	t.Parallel()

	fixed := []llm.Message{
		{Role: llm.RoleSystem, Content: strings.Repeat("s", 4000)},
	}
	history := []llm.Message{
		{Role: llm.RoleUser, Content: "turn"},
	}

	// Fixed alone busts the budget; all history goes, fixed is untouched.
	got := TrimHistory(fixed, history, 100)
	if len(got) != 0 {
		t.Errorf("expected empty history, got %d", len(got))
	}
	if fixed[0].Content == "" {
		t.Error("fixed messages must never be modified")
	}
}
