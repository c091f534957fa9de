package react

import (
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altwn/consilium/internal/core"
)

func binaryQuestion() *core.Question {
	return &core.Question{ID: "q1", Title: "Will it rain?", Type: core.QuestionBinary}
}

func validCycle() *core.ReactCycle {
	return &core.ReactCycle{
		InitialThought: "Rain seems likely given the satellite imagery trends.",
		Actions: []core.ReactAction{
			{Type: "search", Query: "weather radar", Result: "storm cell approaching"},
		},
		Observations:     []string{"Pressure dropping steadily"},
		SynthesisThought: "The approaching storm cell makes rain the most probable outcome.",
		Evidence: []core.Evidence{
			{Type: core.EvidenceData, Title: "Radar snapshot"},
		},
	}
}

func validPayload() string {
	return `{
		"position": "YES",
		"confidence": 0.8,
		"reasoning": "Storm inbound.",
		"reactCycle": {
			"initialThought": "Rain seems likely given the satellite imagery trends.",
			"actions": [{"type": "search", "query": "weather radar", "result": "storm cell approaching"}],
			"observations": ["Pressure dropping steadily"],
			"synthesisThought": "The approaching storm cell makes rain the most probable outcome.",
			"evidence": [{"type": "data", "title": "Radar snapshot"}]
		}
	}`
}

func TestExtract(t *testing.T) {
	tests := []struct {
		name    string
		text    string
		want    string
		wantErr bool
	}{
		{
			name: "fenced json block",
			text: "Here is my answer:\n```json\n{\"position\": \"YES\"}\n```\nDone.",
			want: `{"position": "YES"}`,
		},
		{
			name: "fenced block without language tag",
			text: "```\n{\"a\": 1}\n```",
			want: `{"a": 1}`,
		},
		{
			name: "bare object in prose",
			text: `I think {"position": "NO", "nested": {"x": 1}} covers it.`,
			want: `{"position": "NO", "nested": {"x": 1}}`,
		},
		{
			name: "braces inside strings",
			text: `{"note": "a { tricky } string", "ok": true}`,
			want: `{"note": "a { tricky } string", "ok": true}`,
		},
		{
			name:    "no object at all",
			text:    "I refuse to answer in the requested format.",
			wantErr: true,
		},
		{
			name:    "unbalanced object",
			text:    `{"position": "YES"`,
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Extract(tt.text)
			if tt.wantErr {
				var perr *ParseError
				require.ErrorAs(t, err, &perr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseMalformedJSON(t *testing.T) {
	_, err := Parse("```json\n{\"position\": }\n```")
	var perr *ParseError
	require.ErrorAs(t, err, &perr)
}

func TestParseAndValidateSuccess(t *testing.T) {
	text := "Reasoning first.\n```json\n" + validPayload() + "\n```"

	resp, err := ParseAndValidate(text, binaryQuestion())
	require.NoError(t, err)
	assert.Equal(t, "YES", resp.Position)
	assert.InDelta(t, 0.8, resp.Confidence, 1e-9)
	require.NotNil(t, resp.Cycle)
	assert.Len(t, resp.Cycle.Actions, 1)
}

func TestValidateNormalizesPositionCase(t *testing.T) {
	resp := &core.AgentResponse{Position: "yes", Confidence: 0.5, Cycle: validCycle()}
	require.NoError(t, Validate(resp, binaryQuestion()))
	assert.Equal(t, "YES", resp.Position)
}

func TestValidateViolations(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(r *core.AgentResponse)
		want   string
	}{
		{
			name:   "position outside vocabulary",
			mutate: func(r *core.AgentResponse) { r.Position = "MAYBE" },
			want:   "not in allowed vocabulary",
		},
		{
			name:   "confidence above one",
			mutate: func(r *core.AgentResponse) { r.Confidence = 1.2 },
			want:   "outside [0,1]",
		},
		{
			name:   "negative confidence",
			mutate: func(r *core.AgentResponse) { r.Confidence = -0.1 },
			want:   "outside [0,1]",
		},
		{
			name:   "missing cycle",
			mutate: func(r *core.AgentResponse) { r.Cycle = nil },
			want:   "reactCycle is missing",
		},
		{
			name:   "short hypothesis",
			mutate: func(r *core.AgentResponse) { r.Cycle.InitialThought = "too short" },
			want:   "initialThought length",
		},
		{
			name:   "zero actions",
			mutate: func(r *core.AgentResponse) { r.Cycle.Actions = nil },
			want:   "actions count 0",
		},
		{
			name: "action missing result",
			mutate: func(r *core.AgentResponse) {
				r.Cycle.Actions = []core.ReactAction{{Type: "search", Query: "x"}}
			},
			want: "must have type, query and result",
		},
		{
			name:   "zero observations",
			mutate: func(r *core.AgentResponse) { r.Cycle.Observations = nil },
			want:   "observations count 0",
		},
		{
			name:   "zero evidence",
			mutate: func(r *core.AgentResponse) { r.Cycle.Evidence = nil },
			want:   "evidence count 0",
		},
		{
			name: "bad evidence type",
			mutate: func(r *core.AgentResponse) {
				r.Cycle.Evidence = []core.Evidence{{Type: "rumor", Title: "Heard it somewhere"}}
			},
			want: "invalid type",
		},
		{
			name: "evidence without title",
			mutate: func(r *core.AgentResponse) {
				r.Cycle.Evidence = []core.Evidence{{Type: core.EvidenceLink}}
			},
			want: "missing a title",
		},
		{
			name: "too many observations",
			mutate: func(r *core.AgentResponse) {
				r.Cycle.Observations = make([]string, 21)
				for i := range r.Cycle.Observations {
					r.Cycle.Observations[i] = fmt.Sprintf("obs %d", i)
				}
			},
			want: "observations count 21",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			resp := &core.AgentResponse{Position: "YES", Confidence: 0.6, Cycle: validCycle()}
			tt.mutate(resp)

			verr := Validate(resp, binaryQuestion())
			var v *ValidationError
			require.ErrorAs(t, verr, &v)
			assert.Contains(t, verr.Error(), tt.want)
		})
	}
}

func TestValidateCollectsAllViolations(t *testing.T) {
	resp := &core.AgentResponse{Position: "MAYBE", Confidence: 2, Cycle: nil}
	verr := Validate(resp, binaryQuestion())

	var v *ValidationError
	require.True(t, errors.As(verr, &v))
	assert.Len(t, v.Violations, 3)
}

func TestValidateMultipleChoiceUsesOptions(t *testing.T) {
	q := &core.Question{
		ID:      "q2",
		Type:    core.QuestionMultipleChoice,
		Options: []string{"Alpha", "Beta"},
	}

	resp := &core.AgentResponse{Position: "beta", Confidence: 0.6, Cycle: validCycle()}
	require.NoError(t, Validate(resp, q))
	assert.Equal(t, "BETA", resp.Position)

	resp2 := &core.AgentResponse{Position: "GAMMA", Confidence: 0.6, Cycle: validCycle()}
	assert.Error(t, Validate(resp2, q))
}

func TestValidateHighConfidenceAcceptedWithWarning(t *testing.T) {
	resp := &core.AgentResponse{Position: "NO", Confidence: 0.99, Cycle: validCycle()}
	assert.NoError(t, Validate(resp, binaryQuestion()))
}

func TestExtractPrefersFencedBlockOverBareObject(t *testing.T) {
	text := `{"decoy": true} and then the real answer

` + "```json\n" + strings.TrimSpace(validPayload()) + "\n```"
	got, extractErr := Extract(text)
	require.NoError(t, extractErr)
	assert.Contains(t, got, "reactCycle")
	assert.NotContains(t, got, "decoy")
}
