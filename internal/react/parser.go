// Package react converts raw model text into validated reasoning cycles.
//
// The package is the single parsing boundary against unreliable text
// generators: it returns typed parse and validation errors so callers can
// distinguish "sample the model again" from "reject this answer for good".
package react

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/altwn/consilium/internal/core"
)

// ParseError means the text could not be turned into structured data at all.
// Retryable for managed agents: a fresh sampling attempt may succeed.
type ParseError struct {
	Message string
	Err     error
}

func (e *ParseError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("parse error: %s: %v", e.Message, e.Err)
	}
	return fmt.Sprintf("parse error: %s", e.Message)
}

func (e *ParseError) Unwrap() error { return e.Err }

// ValidationError means structured data was extracted but violates the
// reasoning-cycle invariants. Any single violation fails the whole response.
type ValidationError struct {
	Violations []string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("validation failed: %s", strings.Join(e.Violations, "; "))
}

var fencedBlock = regexp.MustCompile("(?s)```(?:json)?\\s*(\\{.*?\\})\\s*```")

// Extract locates the structured payload in raw model text. A fenced code
// block wins; otherwise the first balanced brace-delimited object anywhere in
// the text is used.
func Extract(text string) (string, error) {
	if m := fencedBlock.FindStringSubmatch(text); m != nil {
		return m[1], nil
	}

	start := strings.IndexByte(text, '{')
	if start < 0 {
		return "", &ParseError{Message: "no JSON object found in response"}
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		switch {
		case escaped:
			escaped = false
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case !inString && c == '{':
			depth++
		case !inString && c == '}':
			depth--
			if depth == 0 {
				return text[start : i+1], nil
			}
		}
	}

	return "", &ParseError{Message: "unbalanced JSON object in response"}
}

// Parse extracts and unmarshals the structured payload from raw model text.
func Parse(text string) (*core.AgentResponse, error) {
	payload, err := Extract(text)
	if err != nil {
		return nil, err
	}

	var resp core.AgentResponse
	if err := json.Unmarshal([]byte(payload), &resp); err != nil {
		return nil, &ParseError{Message: "malformed JSON payload", Err: err}
	}

	return &resp, nil
}

// ParseAndValidate is the full boundary: raw text in, validated response out.
func ParseAndValidate(text string, q *core.Question) (*core.AgentResponse, error) {
	resp, err := Parse(text)
	if err != nil {
		return nil, err
	}
	if err := Validate(resp, q); err != nil {
		return nil, err
	}
	return resp, nil
}
