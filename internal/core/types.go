// Package core contains the core domain types for consilium.
package core

import (
	"time"
)

// QuestionType determines the valid position vocabulary for a question.
type QuestionType string

const (
	QuestionBinary         QuestionType = "binary"
	QuestionMultipleChoice QuestionType = "multiple_choice"
	QuestionNumericSeries  QuestionType = "numeric_series"
	QuestionFactualClaim   QuestionType = "factual_claim"
)

// Question is a forecasting prediction or factual claim under debate.
// Owned by the surrounding application; the engine only reads it.
type Question struct {
	ID          string       `json:"id"`
	Title       string       `json:"title"`
	Description string       `json:"description"`
	Category    string       `json:"category"`
	Type        QuestionType `json:"type"`
	// Options holds the allowed positions for multiple-choice questions.
	Options    []string   `json:"options,omitempty"`
	Deadline   *time.Time `json:"deadline,omitempty"`
	ResolvedBy string     `json:"resolved_by,omitempty"` // admin id when administratively resolved
	CreatedAt  time.Time  `json:"created_at"`
}

// AdminResolved reports whether an administrator has already resolved the question.
func (q *Question) AdminResolved() bool {
	return q.ResolvedBy != ""
}

// ExecutionMode selects how an agent's positions are produced.
type ExecutionMode string

const (
	// ModeManaged means the platform invokes a hosted language model itself.
	ModeManaged ExecutionMode = "managed"
	// ModeWebhook means the platform calls a participant-supplied endpoint.
	ModeWebhook ExecutionMode = "webhook"
)

// AgentContext describes one debate participant. Immutable during a round.
type AgentContext struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Mode        ExecutionMode `json:"mode"`
	Personality string        `json:"personality,omitempty"`
	// CustomPrompt, when non-empty, replaces the personality instruction block.
	CustomPrompt string  `json:"custom_prompt,omitempty"`
	Temperature  float64 `json:"temperature"` // sampling temperature in [0,1]
	Model        string  `json:"model"`
	// MinConfidence is the agent's contribution floor: results below it are
	// recorded as skipped for the round, not persisted as arguments.
	MinConfidence float64 `json:"min_confidence"`

	// Managed mode credentials.
	APIKey string `json:"-"`
	// Webhook mode credentials.
	WebhookURL   string `json:"webhook_url,omitempty"`
	WebhookToken string `json:"-"`

	Active     bool     `json:"active"`
	Categories []string `json:"categories,omitempty"` // empty = all categories
	// AutoParticipate marks agents that post on their own in free-form discussions.
	AutoParticipate bool      `json:"auto_participate"`
	CreatedAt       time.Time `json:"created_at"`
}

// TerminationReason explains why a debate stopped.
type TerminationReason string

const (
	ReasonAdminResolved TerminationReason = "ADMIN_RESOLVED"
	ReasonDeadline      TerminationReason = "DEADLINE"
	ReasonMaxRounds     TerminationReason = "MAX_ROUNDS"
	ReasonConsensus     TerminationReason = "CONSENSUS"
	ReasonStalemate     TerminationReason = "STALEMATE"
)

// DebateRound is one bounded cycle of concurrent agent execution against a question.
// Exactly one round per question may be open (non-final) at a time.
type DebateRound struct {
	ID         string     `json:"id"`
	QuestionID string     `json:"question_id"`
	Number     int        `json:"number"` // 1-based, contiguous per question
	AgentIDs   []string   `json:"agent_ids"`
	StartedAt  time.Time  `json:"started_at"`
	EndedAt    *time.Time `json:"ended_at,omitempty"`

	// Snapshot taken at closure, computed from this round's arguments only.
	ConsensusScore float64        `json:"consensus_score"`
	Distribution   map[string]int `json:"distribution,omitempty"`
	AvgConfidence  float64        `json:"avg_confidence"`

	Final             bool              `json:"final"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	// FreeForm rounds never close and never reach the consensus detector.
	FreeForm bool `json:"free_form"`

	// Config is the termination policy fixed when the debate started; it is
	// carried forward unchanged to every subsequent round.
	Config DebateConfig `json:"config"`
}

// Open reports whether the round is still accepting arguments.
func (r *DebateRound) Open() bool {
	return r.EndedAt == nil
}

// ReactAction is one discrete step an agent claims to have taken.
type ReactAction struct {
	Type   string `json:"type"`
	Query  string `json:"query"`
	Result string `json:"result"`
}

// EvidenceType tags a piece of supporting evidence.
type EvidenceType string

const (
	EvidenceLink     EvidenceType = "link"
	EvidenceData     EvidenceType = "data"
	EvidenceCitation EvidenceType = "citation"
)

// Evidence is one supporting item in a reasoning cycle.
type Evidence struct {
	Type    EvidenceType `json:"type"`
	Title   string       `json:"title"`
	URL     string       `json:"url,omitempty"`
	Content string       `json:"content,omitempty"`
}

// ReactCycle is the structured hypothesis->actions->observations->synthesis->evidence
// artifact every argument must carry. Bounds are enforced by the react package; an
// argument is never created from a cycle that fails validation.
type ReactCycle struct {
	InitialThought   string        `json:"initialThought"`   // 20-2000 chars
	Actions          []ReactAction `json:"actions"`          // 1-10
	Observations     []string      `json:"observations"`     // 1-20
	SynthesisThought string        `json:"synthesisThought"` // 20-2000 chars
	Evidence         []Evidence    `json:"evidence"`         // 1-10
}

// Argument is one agent's position in one round, backed by a validated ReactCycle.
type Argument struct {
	ID          string      `json:"id"`
	RoundID     string      `json:"round_id"`
	QuestionID  string      `json:"question_id"`
	AgentID     string      `json:"agent_id"`
	AgentName   string      `json:"agent_name"`
	RoundNumber int         `json:"round_number"`
	Position    string      `json:"position"`
	Confidence  float64     `json:"confidence"` // in [0,1]
	Reasoning   string      `json:"reasoning"`
	Cycle       *ReactCycle `json:"react_cycle,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// AgentResponse is the validated payload an executor returns on success.
type AgentResponse struct {
	Position   string      `json:"position"`
	Confidence float64     `json:"confidence"`
	Reasoning  string      `json:"reasoning,omitempty"`
	Cycle      *ReactCycle `json:"reactCycle"`
}

// ErrorCode classifies executor failures.
type ErrorCode string

const (
	CodeLLMAPIError          ErrorCode = "LLM_API_ERROR"
	CodeParseError           ErrorCode = "PARSE_ERROR"
	CodeInitializationError  ErrorCode = "INITIALIZATION_ERROR"
	CodeInvalidConfiguration ErrorCode = "INVALID_CONFIGURATION"
	CodeWebhookError         ErrorCode = "WEBHOOK_ERROR"
	CodeTimeout              ErrorCode = "TIMEOUT"
)

// ExecutionError is the typed failure half of an ExecutionResult.
type ExecutionError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// ExecutionMeta always accompanies a result, success or failure.
type ExecutionMeta struct {
	Elapsed      time.Duration `json:"elapsed"`
	Attempts     int           `json:"attempts"`
	InputTokens  int           `json:"input_tokens,omitempty"`
	OutputTokens int           `json:"output_tokens,omitempty"`
}

// ExecutionResult is transient and never persisted directly.
type ExecutionResult struct {
	Success  bool            `json:"success"`
	Response *AgentResponse  `json:"response,omitempty"`
	Error    *ExecutionError `json:"error,omitempty"`
	Meta     ExecutionMeta   `json:"metadata"`
}

// QuestionRequest is the unit of work handed to an executor: everything an
// agent needs to produce a position for one round.
type QuestionRequest struct {
	Question    *Question
	Agent       *AgentContext
	RoundNumber int
	// PriorArguments is the full cross-round history, ordered by creation time.
	PriorArguments []*Argument
}

// RoundStats summarizes one round's successful arguments.
type RoundStats struct {
	Distribution   map[string]int `json:"distribution"`
	AvgConfidence  float64        `json:"avg_confidence"`
	ConsensusScore float64        `json:"consensus_score"`
	ArgumentCount  int            `json:"argument_count"`
	FailureCount   int            `json:"failure_count"`
	SkippedCount   int            `json:"skipped_count"` // below min-confidence, not a fault
}

// RoundResult is returned to the orchestrator's caller after a round executes.
type RoundResult struct {
	RoundID           string            `json:"round_id"`
	RoundNumber       int               `json:"round_number"`
	Stats             RoundStats        `json:"stats"`
	ShouldTerminate   bool              `json:"should_terminate"`
	TerminationReason TerminationReason `json:"termination_reason,omitempty"`
	NextRoundNumber   int               `json:"next_round_number,omitempty"`
}

// DebateStatus is the caller-facing view of a question's debate.
type DebateStatus struct {
	QuestionID   string            `json:"question_id"`
	Status       string            `json:"status"` // "none", "open", "complete"
	CurrentRound int               `json:"current_round"`
	Consensus    float64           `json:"consensus"`
	IsComplete   bool              `json:"is_complete"`
	Reason       TerminationReason `json:"reason,omitempty"`
}

// DebateConfig tunes a debate's termination policy.
type DebateConfig struct {
	MaxRounds          int     `json:"max_rounds"`
	ConsensusThreshold float64 `json:"consensus_threshold"`
	StabilityThreshold float64 `json:"stability_threshold"`
	MinAgents          int     `json:"min_agents"`
}

// Defaults for DebateConfig.
const (
	DefaultMaxRounds          = 10
	DefaultConsensusThreshold = 0.75
	DefaultStabilityThreshold = 0.05
	DefaultMinAgents          = 2
)

// WithDefaults fills zero fields with the default policy values.
func (c DebateConfig) WithDefaults() DebateConfig {
	if c.MaxRounds <= 0 {
		c.MaxRounds = DefaultMaxRounds
	}
	if c.ConsensusThreshold <= 0 {
		c.ConsensusThreshold = DefaultConsensusThreshold
	}
	if c.StabilityThreshold <= 0 {
		c.StabilityThreshold = DefaultStabilityThreshold
	}
	if c.MinAgents <= 0 {
		c.MinAgents = DefaultMinAgents
	}
	return c
}
