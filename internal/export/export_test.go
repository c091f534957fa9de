package export

import (
	"bytes"
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/storage"
)

func sampleReport() *Report {
	created := time.Date(2026, 3, 10, 9, 0, 0, 0, time.UTC)
	ended := created.Add(3 * time.Minute)

	q := &core.Question{
		ID:        "q-12345678",
		Title:     "Will the measure pass?",
		Category:  "politics",
		Type:      core.QuestionBinary,
		CreatedAt: created,
	}
	round := &core.DebateRound{
		ID:                "r-1",
		QuestionID:        q.ID,
		Number:            1,
		AgentIDs:          []string{"a-1", "a-2"},
		StartedAt:         created,
		EndedAt:           &ended,
		ConsensusScore:    1.0,
		Distribution:      map[string]int{"YES": 2},
		AvgConfidence:     0.85,
		Final:             true,
		TerminationReason: core.ReasonConsensus,
	}
	args := []*core.Argument{
		{
			ID: "arg-1", RoundID: "r-1", QuestionID: q.ID, AgentID: "a-1",
			AgentName: "Skeptic", RoundNumber: 1, Position: "YES", Confidence: 0.8,
			Reasoning: "Polling margins are wide enough.",
			Cycle: &core.ReactCycle{
				InitialThought:   "Polling suggests a comfortable margin.",
				Actions:          []core.ReactAction{{Type: "search", Query: "polls", Result: "58% in favor"}},
				Observations:     []string{"Support is stable across polls."},
				SynthesisThought: "The margin exceeds historical polling error.",
				Evidence:         []core.Evidence{{Type: core.EvidenceLink, Title: "Poll tracker", URL: "https://example.com/polls"}},
			},
			CreatedAt: created.Add(time.Minute),
		},
		{
			ID: "arg-2", RoundID: "r-1", QuestionID: q.ID, AgentID: "a-2",
			AgentName: "Optimist", RoundNumber: 1, Position: "YES", Confidence: 0.9,
			Reasoning: "Momentum favors passage.", CreatedAt: created.Add(2 * time.Minute),
		},
	}
	return &Report{Question: q, Rounds: []*core.DebateRound{round}, Arguments: args}
}

func TestMarkdownExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&MarkdownExporter{}).Export(sampleReport(), &buf))
	out := buf.String()

	assert.Contains(t, out, "# Will the measure pass?")
	assert.Contains(t, out, "### Round 1")
	assert.Contains(t, out, "Skeptic — YES (confidence 0.80)")
	assert.Contains(t, out, "[Poll tracker](https://example.com/polls)")
	assert.Contains(t, out, "debate concluded (CONSENSUS)")
	assert.Contains(t, out, "YES: 2")
}

func TestJSONExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&JSONExporter{}).Export(sampleReport(), &buf))

	var decoded Report
	require.NoError(t, json.Unmarshal(buf.Bytes(), &decoded))
	assert.Equal(t, "q-12345678", decoded.Question.ID)
	require.Len(t, decoded.Rounds, 1)
	assert.True(t, decoded.Rounds[0].Final)
	assert.Len(t, decoded.Arguments, 2)
}

func TestPDFExport(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, (&PDFExporter{}).Export(sampleReport(), &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestPDFExportShortQuestionID(t *testing.T) {
	report := sampleReport()
	report.Question.ID = "q1"
	for _, r := range report.Rounds {
		r.QuestionID = "q1"
	}
	for _, a := range report.Arguments {
		a.QuestionID = "q1"
	}

	var buf bytes.Buffer
	require.NoError(t, (&PDFExporter{}).Export(report, &buf))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("%PDF")))
}

func TestGetExporter(t *testing.T) {
	for _, format := range []Format{FormatMarkdown, FormatJSON, FormatPDF} {
		e, err := GetExporter(format)
		require.NoError(t, err)
		assert.NotEmpty(t, e.FileExtension())
	}

	_, err := GetExporter("xml")
	assert.Error(t, err)
}

func TestGenerateFilename(t *testing.T) {
	q := sampleReport().Question
	name := GenerateFilename(q, "md")
	assert.Equal(t, "debate_20260310_Will_the_measure_pass.md", name)
}

func TestBuildReport(t *testing.T) {
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	defer store.Close()

	sample := sampleReport()
	require.NoError(t, store.CreateQuestion(sample.Question))
	require.NoError(t, store.CreateRound(sample.Rounds[0]))
	for _, a := range sample.Arguments {
		require.NoError(t, store.AddArgument(a))
	}

	report, err := BuildReport(store, sample.Question.ID)
	require.NoError(t, err)
	assert.Equal(t, sample.Question.Title, report.Question.Title)
	require.Len(t, report.Rounds, 1)
	assert.Len(t, report.Arguments, 2)
}
