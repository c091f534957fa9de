// Package export renders a question's debate history to various formats.
package export

import (
	"fmt"
	"io"
	"sort"
	"strings"
	"time"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/storage"
)

// Format represents an export format.
type Format string

const (
	FormatMarkdown Format = "markdown"
	FormatPDF      Format = "pdf"
	FormatJSON     Format = "json"
)

// Report is the full exportable view of one question's debate.
type Report struct {
	Question  *core.Question     `json:"question"`
	Rounds    []*core.DebateRound `json:"rounds"`
	Arguments []*core.Argument   `json:"arguments"`
}

// BuildReport assembles a report from storage.
func BuildReport(store storage.Storage, questionID string) (*Report, error) {
	question, err := store.GetQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	arguments, err := store.GetArgumentsByQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load arguments: %w", err)
	}

	var rounds []*core.DebateRound
	for n := 1; ; n++ {
		round, err := store.GetRound(questionID, n)
		if err != nil {
			break
		}
		rounds = append(rounds, round)
	}

	return &Report{Question: question, Rounds: rounds, Arguments: arguments}, nil
}

// Exporter defines the interface for exporting debate reports.
type Exporter interface {
	Export(report *Report, w io.Writer) error
	FileExtension() string
}

// GetExporter returns an exporter for the given format.
func GetExporter(format Format) (Exporter, error) {
	switch format {
	case FormatMarkdown:
		return &MarkdownExporter{}, nil
	case FormatPDF:
		return &PDFExporter{}, nil
	case FormatJSON:
		return &JSONExporter{}, nil
	default:
		return nil, fmt.Errorf("unsupported export format: %s", format)
	}
}

// GenerateFilename creates a filename for the export.
func GenerateFilename(question *core.Question, ext string) string {
	title := question.Title
	if len(title) > 50 {
		title = title[:50]
	}

	replacer := strings.NewReplacer(
		" ", "_",
		"/", "-",
		"\\", "-",
		":", "-",
		"*", "",
		"?", "",
		"\"", "",
		"<", "",
		">", "",
		"|", "",
	)
	title = replacer.Replace(title)

	timestamp := question.CreatedAt.Format("20060102")
	return fmt.Sprintf("debate_%s_%s.%s", timestamp, title, ext)
}

// argumentsByRound groups a report's arguments by round number.
func (r *Report) argumentsByRound() map[int][]*core.Argument {
	grouped := make(map[int][]*core.Argument)
	for _, a := range r.Arguments {
		grouped[a.RoundNumber] = append(grouped[a.RoundNumber], a)
	}
	return grouped
}

// outcome returns the final round when the debate concluded.
func (r *Report) outcome() *core.DebateRound {
	for _, round := range r.Rounds {
		if round.Final {
			return round
		}
	}
	return nil
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Helper to format duration
func formatDuration(start, end time.Time) string {
	d := end.Sub(start)
	if d < time.Minute {
		return fmt.Sprintf("%d seconds", int(d.Seconds()))
	}
	if d < time.Hour {
		return fmt.Sprintf("%d minutes", int(d.Minutes()))
	}
	return fmt.Sprintf("%.1f hours", d.Hours())
}
