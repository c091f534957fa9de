package executor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/react"
)

const (
	webhookTimeout     = 30 * time.Second
	webhookMaxAttempts = 3 // 1 call + 2 retries
	webhookBackoffBase = time.Second
)

// webhookEnvelope is the JSON body POSTed to the participant's endpoint.
type webhookEnvelope struct {
	QuestionID        string            `json:"questionId"`
	Title             string            `json:"title"`
	Description       string            `json:"description"`
	Category          string            `json:"category"`
	Deadline          *time.Time        `json:"deadline,omitempty"`
	RoundNumber       int               `json:"roundNumber"`
	ExistingArguments []webhookArgument `json:"existingArguments"`
	Metadata          webhookMetadata   `json:"metadata"`
}

type webhookArgument struct {
	AgentName   string  `json:"agentName"`
	RoundNumber int     `json:"roundNumber"`
	Position    string  `json:"position"`
	Confidence  float64 `json:"confidence"`
	Reasoning   string  `json:"reasoning,omitempty"`
}

type webhookMetadata struct {
	QuestionType     string   `json:"questionType"`
	AllowedPositions []string `json:"allowedPositions"`
}

// webhookReply is the JSON body the remote agent must answer with.
type webhookReply struct {
	Position        string           `json:"position"`
	Confidence      float64          `json:"confidence"`
	ReactCycle      *core.ReactCycle `json:"reactCycle"`
	Reasoning       string           `json:"reasoning,omitempty"`
	ExecutionTimeMs int64            `json:"executionTimeMs,omitempty"`
}

// Webhook calls a participant-supplied endpoint with a bearer token. The
// remote party controls correctness, so a malformed reply is a contract
// violation and is never retried; only transport faults are.
type Webhook struct {
	agent  *core.AgentContext
	client *resty.Client

	backoffBase time.Duration
}

// NewWebhook creates the bring-your-own-agent executor.
func NewWebhook(agent *core.AgentContext) *Webhook {
	client := resty.New()
	client.SetTimeout(webhookTimeout)

	return &Webhook{
		agent:       agent,
		client:      client,
		backoffBase: webhookBackoffBase,
	}
}

// Validate checks the registered endpoint and token.
func (w *Webhook) Validate() error {
	if w.agent.WebhookURL == "" {
		return fmt.Errorf("agent %s: missing webhook URL", w.agent.ID)
	}
	u, err := url.Parse(w.agent.WebhookURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("agent %s: malformed webhook URL %q", w.agent.ID, w.agent.WebhookURL)
	}
	if w.agent.WebhookToken == "" {
		return fmt.Errorf("agent %s: missing webhook bearer token", w.agent.ID)
	}
	return nil
}

// Execute POSTs the question envelope and validates the structured reply
// against the same rules as a parsed reasoning cycle.
func (w *Webhook) Execute(ctx context.Context, req *core.QuestionRequest) *core.ExecutionResult {
	start := time.Now()
	meta := core.ExecutionMeta{}

	if err := w.Validate(); err != nil {
		meta.Elapsed = time.Since(start)
		return failure(core.CodeInvalidConfiguration, err.Error(), meta)
	}

	envelope := w.buildEnvelope(req)

	var lastCode core.ErrorCode
	var lastErr error

	for attempt := 1; attempt <= webhookMaxAttempts; attempt++ {
		meta.Attempts = attempt
		if attempt > 1 {
			if err := sleepBackoff(ctx, w.backoffBase, attempt-1); err != nil {
				meta.Elapsed = time.Since(start)
				return failure(lastCode, lastErr.Error(), meta)
			}
		}

		resp, err := w.client.R().
			SetContext(ctx).
			SetAuthToken(w.agent.WebhookToken).
			SetBody(envelope).
			Post(w.agent.WebhookURL)
		if err != nil {
			code := core.CodeWebhookError
			if errors.Is(err, context.DeadlineExceeded) || isTimeout(err) {
				code = core.CodeTimeout
			}
			lastCode, lastErr = code, err
			continue
		}
		if resp.IsError() {
			lastCode = core.CodeWebhookError
			lastErr = fmt.Errorf("endpoint returned status %d", resp.StatusCode())
			continue
		}

		// A 2xx body that does not decode is a contract violation like an
		// invalid position: the remote party controls correctness, so it is
		// failed immediately rather than retried.
		var reply webhookReply
		if err := json.Unmarshal(resp.Body(), &reply); err != nil {
			meta.Elapsed = time.Since(start)
			return failure(core.CodeInvalidConfiguration,
				fmt.Sprintf("endpoint returned a malformed body: %v", err), meta)
		}

		agentResp := &core.AgentResponse{
			Position:   reply.Position,
			Confidence: reply.Confidence,
			Reasoning:  reply.Reasoning,
			Cycle:      reply.ReactCycle,
		}
		if err := react.Validate(agentResp, req.Question); err != nil {
			// Contract violation, not a transient fault: fail immediately.
			meta.Elapsed = time.Since(start)
			return failure(core.CodeInvalidConfiguration, err.Error(), meta)
		}

		meta.Elapsed = time.Since(start)
		return success(agentResp, meta)
	}

	meta.Elapsed = time.Since(start)
	return failure(lastCode, fmt.Sprintf("failed after %d attempts: %v", webhookMaxAttempts, lastErr), meta)
}

func (w *Webhook) buildEnvelope(req *core.QuestionRequest) webhookEnvelope {
	args := make([]webhookArgument, 0, len(req.PriorArguments))
	for _, a := range req.PriorArguments {
		args = append(args, webhookArgument{
			AgentName:   a.AgentName,
			RoundNumber: a.RoundNumber,
			Position:    a.Position,
			Confidence:  a.Confidence,
			Reasoning:   a.Reasoning,
		})
	}

	return webhookEnvelope{
		QuestionID:        req.Question.ID,
		Title:             req.Question.Title,
		Description:       req.Question.Description,
		Category:          req.Question.Category,
		Deadline:          req.Question.Deadline,
		RoundNumber:       req.RoundNumber,
		ExistingArguments: args,
		Metadata: webhookMetadata{
			QuestionType:     string(req.Question.Type),
			AllowedPositions: req.Question.AllowedPositions(),
		},
	}
}

// isTimeout reports whether err carries a net timeout.
func isTimeout(err error) bool {
	var t interface{ Timeout() bool }
	return errors.As(err, &t) && t.Timeout()
}
