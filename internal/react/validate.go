package react

import (
	"fmt"
	"log/slog"

	"github.com/altwn/consilium/internal/core"
)

// Field bounds for a reasoning cycle.
const (
	MinThoughtLen   = 20
	MaxThoughtLen   = 2000
	MinActions      = 1
	MaxActions      = 10
	MinObservations = 1
	MaxObservations = 20
	MinEvidence     = 1
	MaxEvidence     = 10

	// highConfidenceWarn is a soft bound: values above it are accepted but logged.
	highConfidenceWarn = 0.95
)

// Validate checks a parsed response field-by-field against the reasoning-cycle
// invariants. Partial acceptance is not permitted; every violation is collected
// so the failure message names all of them. On success the response's position
// is normalized to the canonical vocabulary spelling.
func Validate(resp *core.AgentResponse, q *core.Question) error {
	var violations []string

	pos, ok := q.NormalizePosition(resp.Position)
	if !ok {
		violations = append(violations, fmt.Sprintf(
			"position %q not in allowed vocabulary %v for %s question",
			resp.Position, q.AllowedPositions(), q.Type))
	}

	if resp.Confidence < 0 || resp.Confidence > 1 {
		violations = append(violations, fmt.Sprintf("confidence %.3f outside [0,1]", resp.Confidence))
	} else if resp.Confidence > highConfidenceWarn {
		slog.Warn("Unusually high confidence in agent response",
			"question_id", q.ID, "confidence", resp.Confidence)
	}

	if resp.Cycle == nil {
		violations = append(violations, "reactCycle is missing")
	} else {
		violations = append(violations, validateCycle(resp.Cycle)...)
	}

	if len(violations) > 0 {
		return &ValidationError{Violations: violations}
	}

	resp.Position = pos
	return nil
}

func validateCycle(c *core.ReactCycle) []string {
	var violations []string

	if l := len(c.InitialThought); l < MinThoughtLen || l > MaxThoughtLen {
		violations = append(violations, fmt.Sprintf(
			"initialThought length %d outside [%d,%d]", l, MinThoughtLen, MaxThoughtLen))
	}
	if l := len(c.SynthesisThought); l < MinThoughtLen || l > MaxThoughtLen {
		violations = append(violations, fmt.Sprintf(
			"synthesisThought length %d outside [%d,%d]", l, MinThoughtLen, MaxThoughtLen))
	}

	if n := len(c.Actions); n < MinActions || n > MaxActions {
		violations = append(violations, fmt.Sprintf(
			"actions count %d outside [%d,%d]", n, MinActions, MaxActions))
	}
	for i, a := range c.Actions {
		if a.Type == "" || a.Query == "" || a.Result == "" {
			violations = append(violations, fmt.Sprintf(
				"action %d must have type, query and result", i+1))
		}
	}

	if n := len(c.Observations); n < MinObservations || n > MaxObservations {
		violations = append(violations, fmt.Sprintf(
			"observations count %d outside [%d,%d]", n, MinObservations, MaxObservations))
	}

	if n := len(c.Evidence); n < MinEvidence || n > MaxEvidence {
		violations = append(violations, fmt.Sprintf(
			"evidence count %d outside [%d,%d]", n, MinEvidence, MaxEvidence))
	}
	for i, ev := range c.Evidence {
		switch ev.Type {
		case core.EvidenceLink, core.EvidenceData, core.EvidenceCitation:
		default:
			violations = append(violations, fmt.Sprintf(
				"evidence %d has invalid type %q", i+1, ev.Type))
		}
		if ev.Title == "" {
			violations = append(violations, fmt.Sprintf("evidence %d is missing a title", i+1))
		}
	}

	return violations
}
