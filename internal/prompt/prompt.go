// Package prompt renders the system/user instruction pair for an agent's turn.
package prompt

import (
	"bytes"
	"fmt"
	"strings"
	"text/template"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/persona"
)

// Pair is a rendered system/user instruction pair.
type Pair struct {
	System string
	User   string
}

// structureInstructions is appended to every system prompt, builtin or custom.
// The parser enforces this schema strictly and offers no fallback inference,
// so the model has to see the exact shape it must produce.
const structureInstructions = `
You MUST answer with a single JSON object inside a fenced code block, exactly
matching this schema:

` + "```json" + `
{
  "position": "<one of the allowed positions>",
  "confidence": 0.0,
  "reactCycle": {
    "initialThought": "<your starting hypothesis, 20-2000 characters>",
    "actions": [{"type": "<action type>", "query": "<what you did>", "result": "<what you found>"}],
    "observations": ["<observation>"],
    "synthesisThought": "<how the evidence leads to your position, 20-2000 characters>",
    "evidence": [{"type": "link|data|citation", "title": "<title>", "url": "", "content": ""}]
  },
  "reasoning": "<short plain-text summary of your reasoning>"
}
` + "```" + `

Constraints:
- confidence is a number between 0 and 1
- actions: between 1 and 10 entries, each with type, query and result
- observations: between 1 and 20 entries
- evidence: between 1 and 10 entries, each with a type of link, data or citation, and a title
- no fields outside the schema, no commentary outside the code block`

const userTemplate = `Question: {{.Title}}
{{- if .Description}}
Description: {{.Description}}
{{- end}}
Category: {{.Category}}
Type: {{.Type}}
{{- if .Deadline}}
Resolution deadline: {{.Deadline}}
{{- end}}
Allowed positions: {{.Positions}}

This is debate round {{.Round}}.
{{- if .History}}

Arguments from previous rounds:
{{.History}}
Consider the prior arguments above. Respond to the strongest points made so far
and state where and why you agree or disagree.
{{- end}}

Take a position on the question and show your work as instructed.`

// Builder renders prompts. It is stateless; the zero value is usable.
type Builder struct{}

// New creates a prompt builder.
func New() *Builder {
	return &Builder{}
}

// Build renders the instruction pair for one agent's turn in one round.
// Prior arguments are included from round 2 onward.
func (b *Builder) Build(agent *core.AgentContext, q *core.Question, roundNumber int, prior []*core.Argument) (Pair, error) {
	system, err := b.systemPrompt(agent)
	if err != nil {
		return Pair{}, err
	}

	data := map[string]any{
		"Title":       q.Title,
		"Description": q.Description,
		"Category":    q.Category,
		"Type":        string(q.Type),
		"Positions":   strings.Join(q.AllowedPositions(), ", "),
		"Round":       roundNumber,
		"History":     "",
	}
	if q.Deadline != nil {
		data["Deadline"] = q.Deadline.Format("2006-01-02")
	}
	if roundNumber > 1 && len(prior) > 0 {
		data["History"] = renderHistory(prior)
	}

	tmpl, err := template.New("user").Parse(userTemplate)
	if err != nil {
		return Pair{}, fmt.Errorf("failed to parse user template: %w", err)
	}
	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return Pair{}, fmt.Errorf("failed to render user prompt: %w", err)
	}

	return Pair{System: system, User: buf.String()}, nil
}

// neutralSystemPrompt covers agents configured without a personality.
const neutralSystemPrompt = `You are a careful forecaster. Weigh the available
evidence on its merits, consider base rates, and state your uncertainty honestly.`

// systemPrompt selects the custom prompt verbatim or the personality block,
// and suffixes the structural instructions either way.
func (b *Builder) systemPrompt(agent *core.AgentContext) (string, error) {
	if agent.CustomPrompt != "" {
		return agent.CustomPrompt + "\n" + structureInstructions, nil
	}
	if agent.Personality == "" {
		return neutralSystemPrompt + "\n" + structureInstructions, nil
	}

	def, err := persona.Get(persona.Personality(agent.Personality))
	if err != nil {
		return "", fmt.Errorf("failed to resolve personality for agent %s: %w", agent.ID, err)
	}

	return fmt.Sprintf("%s\n\nConfidence guidance: %s\n%s",
		def.SystemPrompt, def.ConfidenceHint, structureInstructions), nil
}

// renderHistory formats every prior argument for later-round context.
func renderHistory(prior []*core.Argument) string {
	var sb strings.Builder
	for _, a := range prior {
		sb.WriteString(fmt.Sprintf("\n--- %s (round %d) ---\n", a.AgentName, a.RoundNumber))
		sb.WriteString(fmt.Sprintf("Position: %s (confidence %.2f)\n", a.Position, a.Confidence))
		if a.Reasoning != "" {
			sb.WriteString(fmt.Sprintf("Reasoning: %s\n", a.Reasoning))
		}
		if a.Cycle != nil && len(a.Cycle.Evidence) > 0 {
			sb.WriteString("Evidence:\n")
			for _, ev := range a.Cycle.Evidence {
				sb.WriteString(fmt.Sprintf("  - [%s] %s\n", ev.Type, ev.Title))
			}
		}
	}
	return sb.String()
}
