// Package executor runs one agent against one question and returns a typed result.
//
// There are exactly two production implementations: Managed (the platform
// invokes the hosted model itself) and Webhook (the platform calls the
// participant's endpoint). Callers obtain an Executor from New and never
// branch on the agent's mode themselves.
package executor

import (
	"context"
	"fmt"
	"time"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/llm"
	"github.com/altwn/consilium/internal/prompt"
)

// Executor is the capability of producing a position for a question.
type Executor interface {
	// Execute runs the agent. Failures are reported inside the result, never
	// as a Go error: an agent failing is data, not a fault of the caller.
	Execute(ctx context.Context, req *core.QuestionRequest) *core.ExecutionResult

	// Validate checks the executor's configuration without making any calls.
	Validate() error
}

// Deps carries the collaborators executors need.
type Deps struct {
	LLM     llm.Client
	Prompts *prompt.Builder
}

// New selects the executor implementation for an agent's execution mode.
func New(agent *core.AgentContext, deps Deps) (Executor, error) {
	switch agent.Mode {
	case core.ModeManaged:
		return NewManaged(agent, deps.LLM, deps.Prompts), nil
	case core.ModeWebhook:
		return NewWebhook(agent), nil
	default:
		return nil, fmt.Errorf("unknown execution mode %q for agent %s", agent.Mode, agent.ID)
	}
}

// failure builds the error half of an ExecutionResult.
func failure(code core.ErrorCode, msg string, meta core.ExecutionMeta) *core.ExecutionResult {
	return &core.ExecutionResult{
		Success: false,
		Error:   &core.ExecutionError{Code: code, Message: msg},
		Meta:    meta,
	}
}

// success builds the success half of an ExecutionResult.
func success(resp *core.AgentResponse, meta core.ExecutionMeta) *core.ExecutionResult {
	return &core.ExecutionResult{Success: true, Response: resp, Meta: meta}
}

// sleepBackoff waits for the exponential backoff of the given attempt
// (1-based retry count), honoring context cancellation.
func sleepBackoff(ctx context.Context, base time.Duration, retry int) error {
	d := base << (retry - 1)
	select {
	case <-time.After(d):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
