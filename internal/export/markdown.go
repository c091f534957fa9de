package export

import (
	"fmt"
	"io"
	"strings"
)

// MarkdownExporter exports debate reports to Markdown format.
type MarkdownExporter struct{}

// Export writes the report as Markdown.
func (e *MarkdownExporter) Export(report *Report, w io.Writer) error {
	var sb strings.Builder
	q := report.Question

	// Title
	sb.WriteString(fmt.Sprintf("# %s\n\n", q.Title))

	// Metadata
	sb.WriteString("## Question\n\n")
	sb.WriteString(fmt.Sprintf("- **ID:** `%s`\n", q.ID))
	sb.WriteString(fmt.Sprintf("- **Type:** %s\n", q.Type))
	if q.Category != "" {
		sb.WriteString(fmt.Sprintf("- **Category:** %s\n", q.Category))
	}
	sb.WriteString(fmt.Sprintf("- **Created:** %s\n", q.CreatedAt.Format("January 2, 2006 at 3:04 PM")))
	if q.Deadline != nil {
		sb.WriteString(fmt.Sprintf("- **Deadline:** %s\n", q.Deadline.Format("January 2, 2006 at 3:04 PM")))
	}
	if q.Description != "" {
		sb.WriteString("\n")
		sb.WriteString(q.Description)
		sb.WriteString("\n")
	}
	sb.WriteString("\n")

	// Outcome
	if final := report.outcome(); final != nil {
		sb.WriteString("## Outcome\n\n")
		sb.WriteString(fmt.Sprintf("- **Terminated:** %s\n", final.TerminationReason))
		sb.WriteString(fmt.Sprintf("- **Rounds:** %d\n", final.Number))
		sb.WriteString(fmt.Sprintf("- **Consensus score:** %.2f\n", final.ConsensusScore))
		sb.WriteString(fmt.Sprintf("- **Average confidence:** %.2f\n", final.AvgConfidence))
		if final.EndedAt != nil && len(report.Rounds) > 0 {
			sb.WriteString(fmt.Sprintf("- **Duration:** %s\n", formatDuration(report.Rounds[0].StartedAt, *final.EndedAt)))
		}
		sb.WriteString("\n")
	}

	// Rounds
	sb.WriteString("## Debate\n\n")

	grouped := report.argumentsByRound()
	if len(report.Rounds) == 0 {
		sb.WriteString("*No rounds recorded.*\n\n")
	}

	for _, round := range report.Rounds {
		sb.WriteString(fmt.Sprintf("### Round %d\n\n", round.Number))

		args := grouped[round.Number]
		if len(args) == 0 {
			sb.WriteString("*No arguments recorded.*\n\n")
		}
		for _, arg := range args {
			sb.WriteString(fmt.Sprintf("#### %s — %s (confidence %.2f)\n\n", arg.AgentName, arg.Position, arg.Confidence))
			if arg.Reasoning != "" {
				sb.WriteString(arg.Reasoning)
				sb.WriteString("\n\n")
			}
			if arg.Cycle != nil && len(arg.Cycle.Evidence) > 0 {
				sb.WriteString("**Evidence:**\n\n")
				for _, ev := range arg.Cycle.Evidence {
					if ev.URL != "" {
						sb.WriteString(fmt.Sprintf("- [%s](%s) *(%s)*\n", ev.Title, ev.URL, ev.Type))
					} else {
						sb.WriteString(fmt.Sprintf("- %s *(%s)*\n", ev.Title, ev.Type))
					}
				}
				sb.WriteString("\n")
			}
			sb.WriteString("---\n\n")
		}

		if !round.Open() {
			sb.WriteString(fmt.Sprintf("**Round summary:** consensus %.2f, average confidence %.2f", round.ConsensusScore, round.AvgConfidence))
			if len(round.Distribution) > 0 {
				sb.WriteString(", positions ")
				sb.WriteString(formatDistribution(round.Distribution))
			}
			if round.Final {
				sb.WriteString(fmt.Sprintf(" — **debate concluded (%s)**", round.TerminationReason))
			}
			sb.WriteString("\n\n")
		}
	}

	// Footer
	sb.WriteString("---\n\n")
	sb.WriteString("*Exported from consilium*\n")

	_, err := w.Write([]byte(sb.String()))
	return err
}

// FileExtension returns the file extension for Markdown.
func (e *MarkdownExporter) FileExtension() string {
	return "md"
}

func formatDistribution(distribution map[string]int) string {
	parts := make([]string, 0, len(distribution))
	for _, pos := range sortedKeys(distribution) {
		parts = append(parts, fmt.Sprintf("%s: %d", pos, distribution[pos]))
	}
	return strings.Join(parts, ", ")
}
