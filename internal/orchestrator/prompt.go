package orchestrator

import (
	"fmt"
	"strings"

	"github.com/atelier-ai/chatd/internal/budget"
	"github.com/atelier-ai/chatd/internal/llm"
	"github.com/atelier-ai/chatd/internal/memory"
	"github.com/atelier-ai/chatd/internal/plugin"
)

// systemPreamble is the fixed instruction opening every prompt.
const systemPreamble = `You are a helpful assistant. Answer using the provided context when it is relevant. If the context does not cover the question, say so rather than inventing details. Be concise.`

// buildMessages assembles the model prompt: a system message carrying the
// preamble, retrieved chunks labeled by filename, and plugin outcomes,
// followed by recent history and the current user turn. History is trimmed
// oldest-first to fit the token budget.
func buildMessages(input string, history memory.Context, sources []Source, pluginResults []plugin.Result) []llm.Message {
	var sys strings.Builder
	sys.WriteString(systemPreamble)

	if history.Summary != nil {
		sum := history.Summary
		sys.WriteString(fmt.Sprintf(
			"\n\nEarlier in this conversation (%d user and %d assistant messages, since summarized)",
			sum.UserTurns, sum.AssistantTurns))
		if len(sum.Keywords) > 0 {
			sys.WriteString(" the discussion covered: " + strings.Join(sum.Keywords, ", "))
		}
		sys.WriteString(".")
	}

	if len(sources) > 0 {
		sys.WriteString("\n\nContext from the knowledge base:")
		for _, s := range sources {
			label := s.Filename
			if s.Section != "" {
				label += " — " + s.Section
			}
			sys.WriteString(fmt.Sprintf("\n\n[%s]\n%s", label, s.Text))
		}
	}

	if lines := pluginLines(pluginResults); len(lines) > 0 {
		sys.WriteString("\n\nTool results:")
		for _, l := range lines {
			sys.WriteString("\n- " + l)
		}
	}

	fixed := []llm.Message{
		{Role: llm.RoleSystem, Content: sys.String()},
		{Role: llm.RoleUser, Content: input},
	}

	turns := make([]llm.Message, 0, len(history.Messages))
	for _, m := range history.Messages {
		turns = append(turns, llm.Message{Role: llm.Role(m.Role), Content: m.Content})
	}
	turns = budget.TrimHistory(fixed, turns, budget.DefaultMaxContextTokens)

	out := make([]llm.Message, 0, len(turns)+2)
	out = append(out, fixed[0])
	out = append(out, turns...)
	out = append(out, fixed[1])
	return out
}

// pluginLines renders one line per successful plugin result. Failures are
// reported to the caller in the result envelope, not to the model.
func pluginLines(results []plugin.Result) []string {
	var lines []string
	for _, r := range results {
		if r.Success && r.Summary != "" {
			lines = append(lines, fmt.Sprintf("%s: %s", r.Plugin, r.Summary))
		}
	}
	return lines
}
