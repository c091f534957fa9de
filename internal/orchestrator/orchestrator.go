// Package orchestrator coordinates debate rounds: it fans execution out to
// every eligible agent, aggregates the outcomes, persists arguments, and asks
// the consensus detector whether the debate is over.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/altwn/consilium/internal/consensus"
	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/executor"
	"github.com/altwn/consilium/internal/metrics"
	"github.com/altwn/consilium/internal/storage"
)

var (
	// ErrDebateAlreadyStarted is returned when a debate exists for the question.
	ErrDebateAlreadyStarted = errors.New("debate already started for this question")
	// ErrDebateComplete is returned when the question's debate reached a final round.
	ErrDebateComplete = errors.New("debate is already complete")
	// ErrRoundClosed is returned when the requested round has already been closed.
	ErrRoundClosed = errors.New("round is already closed")
	// ErrNotEnoughAgents is returned when the roster is below the configured minimum.
	ErrNotEnoughAgents = errors.New("not enough eligible agents")
	// ErrQuestionResolved is returned when starting a debate on an admin-resolved question.
	ErrQuestionResolved = errors.New("question has been administratively resolved")
	// ErrFreeFormRound is returned when round execution is requested on a discussion.
	ErrFreeFormRound = errors.New("free-form discussions are not executed in rounds")
)

// Orchestrator drives the per-question round state machine.
type Orchestrator struct {
	store    storage.Storage
	deps     executor.Deps
	defaults core.DebateConfig
	logger   *slog.Logger

	// newExecutor is swappable in tests.
	newExecutor func(*core.AgentContext, executor.Deps) (executor.Executor, error)
	now         func() time.Time

	// questionLocks serializes round execution per question. Duplicate
	// triggers (e.g. scheduler ticks racing an interactive call) queue here;
	// the loser then observes the closed round and is rejected instead of
	// persisting a second argument set.
	mu            sync.Mutex
	questionLocks map[string]*sync.Mutex
}

// New creates an orchestrator. The config supplies policy defaults for debates
// started without explicit overrides.
func New(store storage.Storage, deps executor.Deps, defaults core.DebateConfig, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		store:         store,
		deps:          deps,
		defaults:      defaults.WithDefaults(),
		logger:        logger,
		newExecutor:   executor.New,
		now:           time.Now,
		questionLocks: make(map[string]*sync.Mutex),
	}
}

// lockQuestion acquires the question's execution lock, creating it on first
// use, and returns the unlock function.
func (o *Orchestrator) lockQuestion(questionID string) func() {
	o.mu.Lock()
	l, ok := o.questionLocks[questionID]
	if !ok {
		l = &sync.Mutex{}
		o.questionLocks[questionID] = l
	}
	o.mu.Unlock()

	l.Lock()
	return l.Unlock
}

// StartResult describes the round opened by StartDebate or StartDiscussion.
type StartResult struct {
	RoundID     string `json:"round_id"`
	RoundNumber int    `json:"round_number"`
	AgentCount  int    `json:"agent_count"`
}

// StartDebate opens round 1 for a question. If agentIDs is empty the roster is
// selected from active agents matching the question's category. Config fields
// left at zero fall back to the orchestrator's defaults.
func (o *Orchestrator) StartDebate(ctx context.Context, questionID string, agentIDs []string, cfg core.DebateConfig) (*StartResult, error) {
	question, err := o.store.GetQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}
	if question.AdminResolved() {
		return nil, ErrQuestionResolved
	}

	if cfg.MaxRounds <= 0 {
		cfg.MaxRounds = o.defaults.MaxRounds
	}
	if cfg.ConsensusThreshold <= 0 {
		cfg.ConsensusThreshold = o.defaults.ConsensusThreshold
	}
	if cfg.StabilityThreshold <= 0 {
		cfg.StabilityThreshold = o.defaults.StabilityThreshold
	}
	if cfg.MinAgents <= 0 {
		cfg.MinAgents = o.defaults.MinAgents
	}

	agents, err := o.resolveRoster(question, agentIDs, storage.AgentFilter{
		ActiveOnly: true,
		Category:   question.Category,
	})
	if err != nil {
		return nil, err
	}
	if len(agents) < cfg.MinAgents {
		return nil, fmt.Errorf("%w: have %d, need %d", ErrNotEnoughAgents, len(agents), cfg.MinAgents)
	}

	if latest, err := o.store.GetLatestRound(questionID); err == nil {
		if latest.Final {
			return nil, ErrDebateComplete
		}
		return nil, ErrDebateAlreadyStarted
	} else if !errors.Is(err, storage.ErrNotFound) {
		return nil, fmt.Errorf("failed to check existing rounds: %w", err)
	}

	round := &core.DebateRound{
		ID:         core.GenerateID(),
		QuestionID: questionID,
		Number:     1,
		AgentIDs:   agentKeys(agents),
		StartedAt:  o.now(),
		Config:     cfg,
	}
	if err := o.store.CreateRound(round); err != nil {
		if errors.Is(err, storage.ErrOpenRoundExists) {
			return nil, ErrDebateAlreadyStarted
		}
		return nil, fmt.Errorf("failed to open round 1: %w", err)
	}

	o.logger.Info("debate started",
		"question_id", questionID,
		"round_id", round.ID,
		"agents", len(agents))

	return &StartResult{RoundID: round.ID, RoundNumber: 1, AgentCount: len(agents)}, nil
}

// ExecuteRound runs one open round to completion: every eligible agent
// executes concurrently, successful arguments are persisted, and the round is
// closed with a consensus verdict. Re-invoking it for a closed round is
// rejected rather than creating a second set of arguments.
func (o *Orchestrator) ExecuteRound(ctx context.Context, questionID string, roundNumber int) (*core.RoundResult, error) {
	unlock := o.lockQuestion(questionID)
	defer unlock()

	question, err := o.store.GetQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	round, err := o.store.GetRound(questionID, roundNumber)
	if err != nil {
		return nil, fmt.Errorf("failed to load round %d: %w", roundNumber, err)
	}
	if round.FreeForm {
		return nil, ErrFreeFormRound
	}
	if !round.Open() {
		return nil, ErrRoundClosed
	}

	agents, err := o.store.GetAgents(round.AgentIDs)
	if err != nil {
		return nil, fmt.Errorf("failed to load agents: %w", err)
	}
	if len(agents) == 0 {
		return nil, ErrNotEnoughAgents
	}

	prior, err := o.store.GetArgumentsByQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior arguments: %w", err)
	}

	// Agents that already argued in this round (a previous attempt that failed
	// partway) are not executed again.
	argued := make(map[string]bool)
	var arguments []*core.Argument
	for _, a := range prior {
		if a.RoundID == round.ID {
			argued[a.AgentID] = true
			arguments = append(arguments, a)
		}
	}

	var pending []*core.AgentContext
	for _, agent := range agents {
		if !argued[agent.ID] {
			pending = append(pending, agent)
		}
	}

	outcomes := o.fanOut(ctx, question, round, pending, prior)

	stats := core.RoundStats{Distribution: map[string]int{}}
	for _, arg := range arguments {
		stats.Distribution[arg.Position]++
	}

	for _, out := range outcomes {
		mode := string(out.agent.Mode)
		switch {
		case !out.result.Success:
			stats.FailureCount++
			metrics.AgentExecution(mode, metrics.OutcomeFailure, out.result.Meta.Elapsed)
			o.logger.Warn("agent failed",
				"question_id", questionID,
				"round", roundNumber,
				"agent_id", out.agent.ID,
				"code", out.result.Error.Code,
				"error", out.result.Error.Message,
				"attempts", out.result.Meta.Attempts)

		case out.result.Response.Confidence < out.agent.MinConfidence:
			stats.SkippedCount++
			metrics.AgentExecution(mode, metrics.OutcomeSkipped, out.result.Meta.Elapsed)
			o.logger.Info("agent below confidence floor",
				"question_id", questionID,
				"round", roundNumber,
				"agent_id", out.agent.ID,
				"confidence", out.result.Response.Confidence,
				"floor", out.agent.MinConfidence)

		default:
			arg := o.buildArgument(question, round, out.agent, out.result.Response)
			if err := o.store.AddArgument(arg); err != nil {
				// Persistence failures abort the round without closing it, so
				// the whole round can be retried.
				return nil, fmt.Errorf("failed to persist argument for agent %s: %w", out.agent.ID, err)
			}
			arguments = append(arguments, arg)
			stats.Distribution[arg.Position]++
			metrics.AgentExecution(mode, metrics.OutcomeSuccess, out.result.Meta.Elapsed)
		}
	}

	stats.ArgumentCount = len(arguments)
	stats.AvgConfidence = averageConfidence(arguments)
	stats.ConsensusScore = consensus.Score(stats.Distribution)

	verdict := consensus.Evaluate(consensus.Input{
		RoundNumber:       roundNumber,
		Distribution:      stats.Distribution,
		AvgConfidence:     stats.AvgConfidence,
		PrevAvgConfidence: o.previousConfidence(questionID, roundNumber),
		Deadline:          question.Deadline,
		Now:               o.now(),
		AdminResolved:     question.AdminResolved(),
	}, consensus.Config{
		MaxRounds:          round.Config.MaxRounds,
		ConsensusThreshold: round.Config.ConsensusThreshold,
		StabilityThreshold: round.Config.StabilityThreshold,
	})

	ended := o.now()
	round.EndedAt = &ended
	round.ConsensusScore = verdict.ConsensusScore
	round.Distribution = stats.Distribution
	round.AvgConfidence = stats.AvgConfidence
	round.Final = verdict.Terminate
	round.TerminationReason = verdict.Reason
	if err := o.store.CloseRound(round); err != nil {
		return nil, fmt.Errorf("failed to close round %d: %w", roundNumber, err)
	}

	metrics.RoundExecuted()

	result := &core.RoundResult{
		RoundID:           round.ID,
		RoundNumber:       roundNumber,
		Stats:             stats,
		ShouldTerminate:   verdict.Terminate,
		TerminationReason: verdict.Reason,
	}

	if verdict.Terminate {
		metrics.DebateConcluded(string(verdict.Reason))
		o.logger.Info("debate concluded",
			"question_id", questionID,
			"round", roundNumber,
			"reason", verdict.Reason,
			"consensus", verdict.ConsensusScore)
		return result, nil
	}

	next := &core.DebateRound{
		ID:         core.GenerateID(),
		QuestionID: questionID,
		Number:     roundNumber + 1,
		AgentIDs:   round.AgentIDs,
		StartedAt:  o.now(),
		Config:     round.Config,
	}
	if err := o.store.CreateRound(next); err != nil {
		return nil, fmt.Errorf("failed to open round %d: %w", roundNumber+1, err)
	}
	result.NextRoundNumber = next.Number

	o.logger.Info("round complete",
		"question_id", questionID,
		"round", roundNumber,
		"arguments", stats.ArgumentCount,
		"failures", stats.FailureCount,
		"skipped", stats.SkippedCount,
		"consensus", verdict.ConsensusScore,
		"next_round", next.Number)

	return result, nil
}

// GetStatus reports a question's debate state for callers.
func (o *Orchestrator) GetStatus(questionID string) (*core.DebateStatus, error) {
	if _, err := o.store.GetQuestion(questionID); err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	latest, err := o.store.GetLatestRound(questionID)
	if errors.Is(err, storage.ErrNotFound) {
		return &core.DebateStatus{QuestionID: questionID, Status: "none"}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load latest round: %w", err)
	}

	status := &core.DebateStatus{
		QuestionID:   questionID,
		CurrentRound: latest.Number,
		Consensus:    latest.ConsensusScore,
	}
	if latest.Final {
		status.Status = "complete"
		status.IsComplete = true
		status.Reason = latest.TerminationReason
		return status, nil
	}

	status.Status = "open"
	// An open round has no snapshot yet; report the last closed round's score.
	if latest.Open() && latest.Number > 1 {
		if prev, err := o.store.GetRound(questionID, latest.Number-1); err == nil {
			status.Consensus = prev.ConsensusScore
		}
	}
	return status, nil
}

// ResetRound deletes the open round's arguments so the round can be re-run
// from scratch.
func (o *Orchestrator) ResetRound(ctx context.Context, questionID string) error {
	unlock := o.lockQuestion(questionID)
	defer unlock()

	round, err := o.store.GetOpenRound(questionID)
	if err != nil {
		return fmt.Errorf("failed to load open round: %w", err)
	}
	if err := o.store.DeleteArgumentsByRound(round.ID); err != nil {
		return fmt.Errorf("failed to reset round %d: %w", round.Number, err)
	}
	o.logger.Info("round reset", "question_id", questionID, "round", round.Number)
	return nil
}

type outcome struct {
	agent  *core.AgentContext
	result *core.ExecutionResult
}

// fanOut runs one executor per agent concurrently and waits for every outcome.
// One agent's failure or slowness never cancels the others.
func (o *Orchestrator) fanOut(ctx context.Context, question *core.Question, round *core.DebateRound, agents []*core.AgentContext, prior []*core.Argument) []outcome {
	resultChan := make(chan outcome, len(agents))

	for _, agent := range agents {
		go func(agent *core.AgentContext) {
			exec, err := o.newExecutor(agent, o.deps)
			if err != nil {
				resultChan <- outcome{agent: agent, result: &core.ExecutionResult{
					Success: false,
					Error:   &core.ExecutionError{Code: core.CodeInvalidConfiguration, Message: err.Error()},
				}}
				return
			}

			result := exec.Execute(ctx, &core.QuestionRequest{
				Question:       question,
				Agent:          agent,
				RoundNumber:    round.Number,
				PriorArguments: prior,
			})
			resultChan <- outcome{agent: agent, result: result}
		}(agent)
	}

	outcomes := make([]outcome, 0, len(agents))
	for i := 0; i < len(agents); i++ {
		outcomes = append(outcomes, <-resultChan)
	}
	return outcomes
}

func (o *Orchestrator) buildArgument(question *core.Question, round *core.DebateRound, agent *core.AgentContext, resp *core.AgentResponse) *core.Argument {
	return &core.Argument{
		ID:          core.GenerateID(),
		RoundID:     round.ID,
		QuestionID:  question.ID,
		AgentID:     agent.ID,
		AgentName:   agent.Name,
		RoundNumber: round.Number,
		Position:    resp.Position,
		Confidence:  resp.Confidence,
		Reasoning:   resp.Reasoning,
		Cycle:       resp.Cycle,
		CreatedAt:   o.now(),
	}
}

// previousConfidence returns the prior round's stored average confidence, or
// nil for round 1 or when the prior round cannot be read.
func (o *Orchestrator) previousConfidence(questionID string, roundNumber int) *float64 {
	if roundNumber <= 1 {
		return nil
	}
	prev, err := o.store.GetRound(questionID, roundNumber-1)
	if err != nil {
		return nil
	}
	v := prev.AvgConfidence
	return &v
}

// resolveRoster returns the explicit agents when ids are given, otherwise the
// stored roster matching the filter.
func (o *Orchestrator) resolveRoster(question *core.Question, agentIDs []string, filter storage.AgentFilter) ([]*core.AgentContext, error) {
	if len(agentIDs) > 0 {
		agents, err := o.store.GetAgents(agentIDs)
		if err != nil {
			return nil, fmt.Errorf("failed to load agents: %w", err)
		}
		active := agents[:0]
		for _, a := range agents {
			if a.Active {
				active = append(active, a)
			}
		}
		return active, nil
	}

	agents, err := o.store.ListAgents(filter)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

func agentKeys(agents []*core.AgentContext) []string {
	ids := make([]string, len(agents))
	for i, a := range agents {
		ids[i] = a.ID
	}
	return ids
}

func averageConfidence(arguments []*core.Argument) float64 {
	if len(arguments) == 0 {
		return 0
	}
	sum := 0.0
	for _, a := range arguments {
		sum += a.Confidence
	}
	return sum / float64(len(arguments))
}
