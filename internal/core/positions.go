package core

import "strings"

// Position vocabularies by question type. Multiple-choice questions use their
// own option list instead.
var (
	binaryPositions  = []string{"YES", "NO", "NEUTRAL"}
	factualPositions = []string{"TRUE", "FALSE", "UNVERIFIED"}
	numericPositions = []string{"INCREASE", "DECREASE", "STABLE"}
)

// AllowedPositions returns the valid position vocabulary for a question.
func (q *Question) AllowedPositions() []string {
	switch q.Type {
	case QuestionBinary:
		return binaryPositions
	case QuestionFactualClaim:
		return factualPositions
	case QuestionNumericSeries:
		return numericPositions
	case QuestionMultipleChoice:
		opts := make([]string, len(q.Options))
		for i, o := range q.Options {
			opts[i] = strings.ToUpper(o)
		}
		return opts
	default:
		return nil
	}
}

// ValidPosition reports whether pos belongs to the question's vocabulary.
// Comparison is case-insensitive.
func (q *Question) ValidPosition(pos string) bool {
	upper := strings.ToUpper(strings.TrimSpace(pos))
	for _, p := range q.AllowedPositions() {
		if p == upper {
			return true
		}
	}
	return false
}

// NormalizePosition maps a raw position string onto the canonical vocabulary
// spelling. The boolean is false when the position is not in the vocabulary.
func (q *Question) NormalizePosition(pos string) (string, bool) {
	upper := strings.ToUpper(strings.TrimSpace(pos))
	for _, p := range q.AllowedPositions() {
		if p == upper {
			return p, true
		}
	}
	return "", false
}
