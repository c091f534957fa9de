package executor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/llm"
	"github.com/altwn/consilium/internal/prompt"
	"github.com/altwn/consilium/internal/react"
)

const (
	managedMaxAttempts = 3
	managedBackoffBase = time.Second
	managedMaxTokens   = 4096
)

// Managed invokes the hosted language model on the agent's behalf and parses
// the raw text through the react boundary. Transport and parse failures are
// both retried: a fresh sampling attempt may produce a valid answer.
type Managed struct {
	agent   *core.AgentContext
	client  llm.Client
	prompts *prompt.Builder

	// backoffBase is overridable in tests.
	backoffBase time.Duration
}

// NewManaged creates the managed-mode executor for one agent.
func NewManaged(agent *core.AgentContext, client llm.Client, prompts *prompt.Builder) *Managed {
	return &Managed{
		agent:       agent,
		client:      client,
		prompts:     prompts,
		backoffBase: managedBackoffBase,
	}
}

// Validate checks credentials and model configuration.
func (m *Managed) Validate() error {
	if m.agent.APIKey == "" {
		return fmt.Errorf("agent %s: missing API key", m.agent.ID)
	}
	if m.agent.Model == "" {
		return fmt.Errorf("agent %s: missing model identifier", m.agent.ID)
	}
	return nil
}

// Execute renders the prompt, calls the backend and parses the output,
// retrying up to the attempt bound with exponential backoff.
func (m *Managed) Execute(ctx context.Context, req *core.QuestionRequest) *core.ExecutionResult {
	start := time.Now()
	meta := core.ExecutionMeta{}

	if err := m.Validate(); err != nil {
		meta.Elapsed = time.Since(start)
		return failure(core.CodeInitializationError, err.Error(), meta)
	}

	pair, err := m.prompts.Build(m.agent, req.Question, req.RoundNumber, req.PriorArguments)
	if err != nil {
		meta.Elapsed = time.Since(start)
		return failure(core.CodeInitializationError, err.Error(), meta)
	}

	var lastCode core.ErrorCode
	var lastErr error

	for attempt := 1; attempt <= managedMaxAttempts; attempt++ {
		meta.Attempts = attempt
		if attempt > 1 {
			if err := sleepBackoff(ctx, m.backoffBase, attempt-1); err != nil {
				meta.Elapsed = time.Since(start)
				return failure(lastCode, lastErr.Error(), meta)
			}
			slog.Debug("Retrying managed execution",
				"agent_id", m.agent.ID, "attempt", attempt, "last_error", lastErr)
		}

		completion, err := m.client.Complete(ctx, llm.CompletionRequest{
			System:      pair.System,
			User:        pair.User,
			Model:       m.agent.Model,
			Temperature: m.agent.Temperature,
			MaxTokens:   managedMaxTokens,
			APIKey:      m.agent.APIKey,
		})
		if err != nil {
			lastCode, lastErr = core.CodeLLMAPIError, err
			continue
		}

		meta.InputTokens += completion.InputTokens
		meta.OutputTokens += completion.OutputTokens

		resp, err := react.ParseAndValidate(completion.Text, req.Question)
		if err != nil {
			// Both parse and validation failures get a fresh sample.
			lastCode, lastErr = core.CodeParseError, err
			var verr *react.ValidationError
			if errors.As(err, &verr) {
				slog.Debug("Managed response failed validation",
					"agent_id", m.agent.ID, "violations", verr.Violations)
			}
			continue
		}

		meta.Elapsed = time.Since(start)
		return success(resp, meta)
	}

	meta.Elapsed = time.Since(start)
	return failure(lastCode, fmt.Sprintf("failed after %d attempts: %v", managedMaxAttempts, lastErr), meta)
}
