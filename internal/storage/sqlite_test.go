package storage

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altwn/consilium/internal/core"
)

func newTestStorage(t *testing.T) *SQLiteStorage {
	t.Helper()
	s, err := NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, s.Initialize())
	t.Cleanup(func() { s.Close() })
	return s
}

func testQuestion() *core.Question {
	return &core.Question{
		ID:          core.GenerateID(),
		Title:       "Will the central bank raise rates in Q4?",
		Description: "Considering the latest inflation prints.",
		Category:    "economics",
		Type:        core.QuestionBinary,
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func testAgent(mode core.ExecutionMode) *core.AgentContext {
	return &core.AgentContext{
		ID:          core.GenerateID(),
		Name:        "Analyst",
		Mode:        mode,
		Personality: "data_analyst",
		Temperature: 0.7,
		Model:       "gpt-4o-mini",
		APIKey:      "sk-test",
		Active:      true,
		Categories:  []string{"economics"},
		CreatedAt:   time.Now().UTC().Truncate(time.Second),
	}
}

func TestQuestionRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	deadline := time.Now().UTC().Add(48 * time.Hour).Truncate(time.Second)
	q.Deadline = &deadline
	require.NoError(t, s.CreateQuestion(q))

	got, err := s.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, q.Title, got.Title)
	assert.Equal(t, core.QuestionBinary, got.Type)
	require.NotNil(t, got.Deadline)
	assert.True(t, got.Deadline.Equal(deadline))
	assert.False(t, got.AdminResolved())

	got.ResolvedBy = "admin-1"
	require.NoError(t, s.UpdateQuestion(got))

	got, err = s.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.True(t, got.AdminResolved())
}

func TestGetQuestionNotFound(t *testing.T) {
	s := newTestStorage(t)

	_, err := s.GetQuestion("missing")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestQuestionOptionsRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	q.Type = core.QuestionMultipleChoice
	q.Options = []string{"Alpha", "Beta", "Gamma"}
	require.NoError(t, s.CreateQuestion(q))

	got, err := s.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"Alpha", "Beta", "Gamma"}, got.Options)
}

func TestListQuestionsOrder(t *testing.T) {
	s := newTestStorage(t)

	old := testQuestion()
	old.CreatedAt = time.Now().UTC().Add(-time.Hour)
	require.NoError(t, s.CreateQuestion(old))
	recent := testQuestion()
	require.NoError(t, s.CreateQuestion(recent))

	list, err := s.ListQuestions(10, 0)
	require.NoError(t, err)
	require.Len(t, list, 2)
	assert.Equal(t, recent.ID, list[0].ID)
	assert.Equal(t, old.ID, list[1].ID)
}

func TestAgentRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	a := testAgent(core.ModeManaged)
	require.NoError(t, s.CreateAgent(a))

	got, err := s.GetAgent(a.ID)
	require.NoError(t, err)
	assert.Equal(t, a.Name, got.Name)
	assert.Equal(t, core.ModeManaged, got.Mode)
	assert.Equal(t, "sk-test", got.APIKey)
	assert.Equal(t, []string{"economics"}, got.Categories)
}

func TestGetAgentsSkipsMissing(t *testing.T) {
	s := newTestStorage(t)

	a := testAgent(core.ModeManaged)
	require.NoError(t, s.CreateAgent(a))

	agents, err := s.GetAgents([]string{a.ID, "missing"})
	require.NoError(t, err)
	require.Len(t, agents, 1)
	assert.Equal(t, a.ID, agents[0].ID)
}

func TestListAgentsFilter(t *testing.T) {
	s := newTestStorage(t)

	active := testAgent(core.ModeManaged)
	require.NoError(t, s.CreateAgent(active))

	inactive := testAgent(core.ModeManaged)
	inactive.Active = false
	require.NoError(t, s.CreateAgent(inactive))

	generalist := testAgent(core.ModeWebhook)
	generalist.Categories = nil
	generalist.AutoParticipate = true
	require.NoError(t, s.CreateAgent(generalist))

	all, err := s.ListAgents(AgentFilter{})
	require.NoError(t, err)
	assert.Len(t, all, 3)

	actives, err := s.ListAgents(AgentFilter{ActiveOnly: true})
	require.NoError(t, err)
	assert.Len(t, actives, 2)

	// Agents with no category list match every category.
	sports, err := s.ListAgents(AgentFilter{Category: "sports"})
	require.NoError(t, err)
	require.Len(t, sports, 1)
	assert.Equal(t, generalist.ID, sports[0].ID)

	econ, err := s.ListAgents(AgentFilter{Category: "ECONOMICS"})
	require.NoError(t, err)
	assert.Len(t, econ, 3)

	auto, err := s.ListAgents(AgentFilter{AutoParticipateOnly: true})
	require.NoError(t, err)
	require.Len(t, auto, 1)
	assert.Equal(t, generalist.ID, auto[0].ID)
}

func openRound(q *core.Question, number int, agentIDs []string) *core.DebateRound {
	return &core.DebateRound{
		ID:         core.GenerateID(),
		QuestionID: q.ID,
		Number:     number,
		AgentIDs:   agentIDs,
		StartedAt:  time.Now().UTC(),
	}
}

func TestSingleOpenRoundInvariant(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))

	r1 := openRound(q, 1, []string{"a1", "a2"})
	require.NoError(t, s.CreateRound(r1))

	// A second open round for the same question must lose the race.
	r2 := openRound(q, 2, []string{"a1", "a2"})
	err := s.CreateRound(r2)
	assert.ErrorIs(t, err, ErrOpenRoundExists)

	// Closing the first round frees the slot.
	now := time.Now().UTC()
	r1.EndedAt = &now
	r1.ConsensusScore = 0.5
	r1.Distribution = map[string]int{"YES": 1, "NO": 1}
	r1.AvgConfidence = 0.65
	require.NoError(t, s.CloseRound(r1))
	require.NoError(t, s.CreateRound(r2))

	// Other questions are unaffected.
	other := testQuestion()
	require.NoError(t, s.CreateQuestion(other))
	require.NoError(t, s.CreateRound(openRound(other, 1, []string{"a1"})))
}

func TestCloseRoundIdempotence(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))
	r := openRound(q, 1, []string{"a1"})
	require.NoError(t, s.CreateRound(r))

	now := time.Now().UTC()
	r.EndedAt = &now
	r.Final = true
	r.TerminationReason = core.ReasonConsensus
	require.NoError(t, s.CloseRound(r))

	// Second close is rejected: the round is no longer open.
	err := s.CloseRound(r)
	assert.ErrorIs(t, err, ErrNotFound)

	got, err := s.GetRound(q.ID, 1)
	require.NoError(t, err)
	assert.False(t, got.Open())
	assert.True(t, got.Final)
	assert.Equal(t, core.ReasonConsensus, got.TerminationReason)
}

func TestGetOpenAndLatestRound(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))

	_, err := s.GetOpenRound(q.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = s.GetLatestRound(q.ID)
	assert.ErrorIs(t, err, ErrNotFound)

	r1 := openRound(q, 1, []string{"a1"})
	require.NoError(t, s.CreateRound(r1))
	now := time.Now().UTC()
	r1.EndedAt = &now
	require.NoError(t, s.CloseRound(r1))

	r2 := openRound(q, 2, []string{"a1"})
	require.NoError(t, s.CreateRound(r2))

	open, err := s.GetOpenRound(q.ID)
	require.NoError(t, err)
	assert.Equal(t, r2.ID, open.ID)
	assert.Equal(t, []string{"a1"}, open.AgentIDs)

	latest, err := s.GetLatestRound(q.ID)
	require.NoError(t, err)
	assert.Equal(t, 2, latest.Number)
}

func testArgument(q *core.Question, r *core.DebateRound, agentID string) *core.Argument {
	return &core.Argument{
		ID:          core.GenerateID(),
		RoundID:     r.ID,
		QuestionID:  q.ID,
		AgentID:     agentID,
		AgentName:   "Analyst",
		RoundNumber: r.Number,
		Position:    "YES",
		Confidence:  0.8,
		Reasoning:   "Leading indicators point up.",
		Cycle: &core.ReactCycle{
			InitialThought: "The question hinges on recent macro data.",
			Actions: []core.ReactAction{
				{Type: "search", Query: "cpi print", Result: "3.1% yoy"},
			},
			Observations:     []string{"Inflation is above target."},
			SynthesisThought: "Rate pressure remains, so a hike is likely.",
			Evidence: []core.Evidence{
				{Type: core.EvidenceData, Title: "CPI release", Content: "3.1%"},
			},
		},
		CreatedAt: time.Now().UTC(),
	}
}

func TestArgumentRoundTrip(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))
	r := openRound(q, 1, []string{"a1"})
	require.NoError(t, s.CreateRound(r))

	arg := testArgument(q, r, "a1")
	require.NoError(t, s.AddArgument(arg))

	list, err := s.GetArgumentsByRound(r.ID)
	require.NoError(t, err)
	require.Len(t, list, 1)
	got := list[0]
	assert.Equal(t, "YES", got.Position)
	assert.InDelta(t, 0.8, got.Confidence, 1e-9)
	require.NotNil(t, got.Cycle)
	assert.Equal(t, "The question hinges on recent macro data.", got.Cycle.InitialThought)
	require.Len(t, got.Cycle.Evidence, 1)
	assert.Equal(t, core.EvidenceData, got.Cycle.Evidence[0].Type)
}

func TestRepeatedContributionsAllowed(t *testing.T) {
	// Free-form rounds accept multiple arguments from the same agent; the
	// one-position-per-agent rule for structured rounds lives in the orchestrator.
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))
	r := openRound(q, 1, []string{"a1"})
	r.FreeForm = true
	require.NoError(t, s.CreateRound(r))

	require.NoError(t, s.AddArgument(testArgument(q, r, "a1")))
	require.NoError(t, s.AddArgument(testArgument(q, r, "a1")))

	list, err := s.GetArgumentsByRound(r.ID)
	require.NoError(t, err)
	assert.Len(t, list, 2)
}

func TestGetArgumentsByQuestionOrdered(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))

	r1 := openRound(q, 1, []string{"a1", "a2"})
	require.NoError(t, s.CreateRound(r1))
	first := testArgument(q, r1, "a1")
	first.CreatedAt = time.Now().UTC().Add(-2 * time.Minute)
	require.NoError(t, s.AddArgument(first))
	second := testArgument(q, r1, "a2")
	second.CreatedAt = time.Now().UTC().Add(-time.Minute)
	require.NoError(t, s.AddArgument(second))

	now := time.Now().UTC()
	r1.EndedAt = &now
	require.NoError(t, s.CloseRound(r1))
	r2 := openRound(q, 2, []string{"a1"})
	require.NoError(t, s.CreateRound(r2))
	third := testArgument(q, r2, "a1")
	require.NoError(t, s.AddArgument(third))

	all, err := s.GetArgumentsByQuestion(q.ID)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, first.ID, all[0].ID)
	assert.Equal(t, second.ID, all[1].ID)
	assert.Equal(t, third.ID, all[2].ID)
}

func TestDeleteArgumentsByRound(t *testing.T) {
	s := newTestStorage(t)

	q := testQuestion()
	require.NoError(t, s.CreateQuestion(q))
	r := openRound(q, 1, []string{"a1", "a2"})
	require.NoError(t, s.CreateRound(r))
	require.NoError(t, s.AddArgument(testArgument(q, r, "a1")))
	require.NoError(t, s.AddArgument(testArgument(q, r, "a2")))

	require.NoError(t, s.DeleteArgumentsByRound(r.ID))

	list, err := s.GetArgumentsByRound(r.ID)
	require.NoError(t, err)
	assert.Empty(t, list)
}
