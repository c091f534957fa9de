package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/metrics"
	"github.com/altwn/consilium/internal/storage"
)

var (
	// ErrNotFreeForm is returned when a contribution targets a structured debate.
	ErrNotFreeForm = errors.New("question is running a structured debate, not a discussion")
	// ErrBelowMinConfidence is returned when an agent's contribution falls under
	// its own floor. This is a business rule, not a fault.
	ErrBelowMinConfidence = errors.New("contribution below the agent's minimum confidence")
	// ErrAgentNotEligible is returned when the agent is inactive or not on the roster.
	ErrAgentNotEligible = errors.New("agent is not eligible for this discussion")
)

// StartDiscussion opens the single free-form round for a question. The round
// never closes and never reaches the consensus detector. When agentIDs is
// empty the roster is the active auto-participating agents for the question's
// category.
func (o *Orchestrator) StartDiscussion(ctx context.Context, questionID string, agentIDs []string) (*StartResult, error) {
	question, err := o.store.GetQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	agents, err := o.resolveRoster(question, agentIDs, storage.AgentFilter{
		ActiveOnly:          true,
		Category:            question.Category,
		AutoParticipateOnly: true,
	})
	if err != nil {
		return nil, err
	}
	if len(agents) == 0 {
		return nil, ErrNotEnoughAgents
	}

	round := &core.DebateRound{
		ID:         core.GenerateID(),
		QuestionID: questionID,
		Number:     1,
		AgentIDs:   agentKeys(agents),
		StartedAt:  o.now(),
		FreeForm:   true,
	}
	if err := o.store.CreateRound(round); err != nil {
		if errors.Is(err, storage.ErrOpenRoundExists) {
			return nil, ErrDebateAlreadyStarted
		}
		return nil, fmt.Errorf("failed to open discussion: %w", err)
	}

	o.logger.Info("discussion started",
		"question_id", questionID,
		"round_id", round.ID,
		"agents", len(agents))

	return &StartResult{RoundID: round.ID, RoundNumber: 1, AgentCount: len(agents)}, nil
}

// PostContribution executes one agent against an open discussion and appends
// its argument. Agents post independently; there is no cross-agent blocking
// and an agent may contribute more than once.
func (o *Orchestrator) PostContribution(ctx context.Context, questionID, agentID string) (*core.Argument, error) {
	question, err := o.store.GetQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load question: %w", err)
	}

	round, err := o.store.GetOpenRound(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load open round: %w", err)
	}
	if !round.FreeForm {
		return nil, ErrNotFreeForm
	}

	agent, err := o.store.GetAgent(agentID)
	if err != nil {
		return nil, fmt.Errorf("failed to load agent: %w", err)
	}
	if !agent.Active || !onRoster(round.AgentIDs, agentID) {
		return nil, ErrAgentNotEligible
	}

	prior, err := o.store.GetArgumentsByQuestion(questionID)
	if err != nil {
		return nil, fmt.Errorf("failed to load prior arguments: %w", err)
	}

	exec, err := o.newExecutor(agent, o.deps)
	if err != nil {
		return nil, fmt.Errorf("failed to build executor: %w", err)
	}

	result := exec.Execute(ctx, &core.QuestionRequest{
		Question:       question,
		Agent:          agent,
		RoundNumber:    round.Number,
		PriorArguments: prior,
	})
	mode := string(agent.Mode)
	if !result.Success {
		metrics.AgentExecution(mode, metrics.OutcomeFailure, result.Meta.Elapsed)
		return nil, fmt.Errorf("agent execution failed (%s): %s", result.Error.Code, result.Error.Message)
	}
	if result.Response.Confidence < agent.MinConfidence {
		metrics.AgentExecution(mode, metrics.OutcomeSkipped, result.Meta.Elapsed)
		return nil, ErrBelowMinConfidence
	}

	arg := o.buildArgument(question, round, agent, result.Response)
	if err := o.store.AddArgument(arg); err != nil {
		return nil, fmt.Errorf("failed to persist contribution: %w", err)
	}
	metrics.AgentExecution(mode, metrics.OutcomeSuccess, result.Meta.Elapsed)

	o.logger.Info("contribution posted",
		"question_id", questionID,
		"agent_id", agentID,
		"position", arg.Position,
		"confidence", arg.Confidence)

	return arg, nil
}

func onRoster(ids []string, id string) bool {
	for _, v := range ids {
		if v == id {
			return true
		}
	}
	return false
}
