package handlers

import (
	"bytes"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/executor"
	"github.com/altwn/consilium/internal/orchestrator"
	"github.com/altwn/consilium/internal/storage"
)

func newTestServer(t *testing.T) (*httptest.Server, storage.Storage) {
	t.Helper()
	store, err := storage.NewSQLiteStorage(filepath.Join(t.TempDir(), "test.db"))
	require.NoError(t, err)
	require.NoError(t, store.Initialize())
	t.Cleanup(func() { store.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	orch := orchestrator.New(store, executor.Deps{}, core.DebateConfig{}, logger)
	srv := httptest.NewServer(New(orch, store).Router())
	t.Cleanup(srv.Close)
	return srv, store
}

func postJSON(t *testing.T, url string, body any) *http.Response {
	t.Helper()
	data, err := json.Marshal(body)
	require.NoError(t, err)
	resp, err := http.Post(url, "application/json", bytes.NewReader(data))
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func createQuestion(t *testing.T, srv *httptest.Server) core.Question {
	resp := postJSON(t, srv.URL+"/api/questions", map[string]any{
		"title":    "Will it rain tomorrow?",
		"category": "weather",
		"type":     "binary",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[core.Question](t, resp)
}

func createAgent(t *testing.T, srv *httptest.Server, name string) core.AgentContext {
	resp := postJSON(t, srv.URL+"/api/agents", map[string]any{
		"name":        name,
		"mode":        "managed",
		"model":       "gpt-4o-mini",
		"api_key":     "sk-test",
		"temperature": 0.7,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[core.AgentContext](t, resp)
}

func TestCreateAndGetQuestion(t *testing.T) {
	srv, _ := newTestServer(t)

	q := createQuestion(t, srv)
	assert.NotEmpty(t, q.ID)
	assert.Equal(t, core.QuestionBinary, q.Type)

	resp, err := http.Get(srv.URL + "/api/questions/" + q.ID)
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[core.Question](t, resp)
	assert.Equal(t, q.Title, got.Title)
}

func TestCreateQuestionValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	resp := postJSON(t, srv.URL+"/api/questions", map[string]any{"title": "", "type": "binary"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/questions", map[string]any{"title": "x", "type": "essay"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/questions", map[string]any{
		"title": "Pick one", "type": "multiple_choice", "options": []string{"only"},
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestGetQuestionNotFound(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/questions/missing")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestResolveQuestion(t *testing.T) {
	srv, store := newTestServer(t)
	q := createQuestion(t, srv)

	resp := postJSON(t, srv.URL+"/api/questions/"+q.ID+"/resolve", map[string]any{"resolved_by": "admin-1"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[core.Question](t, resp)
	assert.Equal(t, "admin-1", got.ResolvedBy)

	stored, err := store.GetQuestion(q.ID)
	require.NoError(t, err)
	assert.True(t, stored.AdminResolved())

	// Resolving twice conflicts.
	resp = postJSON(t, srv.URL+"/api/questions/"+q.ID+"/resolve", map[string]any{"resolved_by": "admin-2"})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	// A resolved question cannot start a debate.
	createAgent(t, srv, "A")
	createAgent(t, srv, "B")
	resp = postJSON(t, srv.URL+"/api/questions/"+q.ID+"/debate", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestCreateAgent(t *testing.T) {
	srv, _ := newTestServer(t)

	a := createAgent(t, srv, "Analyst")
	assert.NotEmpty(t, a.ID)
	assert.True(t, a.Active)
	// Credentials never appear in responses.
	assert.Empty(t, a.APIKey)
}

func TestCreateAgentValidation(t *testing.T) {
	srv, _ := newTestServer(t)

	cases := []map[string]any{
		{"name": "", "mode": "managed", "model": "m", "api_key": "k"},
		{"name": "x", "mode": "telepathy"},
		{"name": "x", "mode": "managed"}, // missing credentials
		{"name": "x", "mode": "webhook"}, // missing url+token
		{"name": "x", "mode": "managed", "model": "m", "api_key": "k", "personality": "pessimist"},
		{"name": "x", "mode": "managed", "model": "m", "api_key": "k", "temperature": 1.5},
	}
	for _, body := range cases {
		resp := postJSON(t, srv.URL+"/api/agents", body)
		assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "body: %v", body)
		resp.Body.Close()
	}
}

func TestListPersonas(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/api/personas")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	defs := decode[[]map[string]any](t, resp)
	assert.Len(t, defs, 6)
}

func TestStartDebateAndStatus(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createQuestion(t, srv)
	a1 := createAgent(t, srv, "A")
	a2 := createAgent(t, srv, "B")

	resp := postJSON(t, srv.URL+"/api/questions/"+q.ID+"/debate", map[string]any{
		"agent_ids": []string{a1.ID, a2.ID},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	start := decode[orchestrator.StartResult](t, resp)
	assert.Equal(t, 1, start.RoundNumber)
	assert.Equal(t, 2, start.AgentCount)

	// Duplicate start conflicts.
	resp = postJSON(t, srv.URL+"/api/questions/"+q.ID+"/debate", map[string]any{})
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	resp.Body.Close()

	statusResp, err := http.Get(srv.URL + "/api/questions/" + q.ID + "/status")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, statusResp.StatusCode)
	status := decode[core.DebateStatus](t, statusResp)
	assert.Equal(t, "open", status.Status)
	assert.Equal(t, 1, status.CurrentRound)
}

func TestStartDebateNotEnoughAgents(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createQuestion(t, srv)

	resp := postJSON(t, srv.URL+"/api/questions/"+q.ID+"/debate", map[string]any{})
	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	resp.Body.Close()
}

func TestExecuteRoundBadNumber(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createQuestion(t, srv)

	resp := postJSON(t, srv.URL+"/api/questions/"+q.ID+"/rounds/zero/execute", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = postJSON(t, srv.URL+"/api/questions/"+q.ID+"/rounds/4/execute", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func TestListArgumentsEmpty(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createQuestion(t, srv)

	resp, err := http.Get(srv.URL + "/api/questions/" + q.ID + "/arguments")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	args := decode[[]core.Argument](t, resp)
	assert.Empty(t, args)
}

func TestExportEndpoint(t *testing.T) {
	srv, _ := newTestServer(t)
	q := createQuestion(t, srv)

	resp, err := http.Get(srv.URL + "/api/questions/" + q.ID + "/export/markdown")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Contains(t, resp.Header.Get("Content-Disposition"), "attachment")
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Contains(t, string(body), "# Will it rain tomorrow?")

	resp, err = http.Get(srv.URL + "/api/questions/" + q.ID + "/export/xml")
	require.NoError(t, err)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestHealthAndMetrics(t *testing.T) {
	srv, _ := newTestServer(t)

	resp, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp, err = http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()
}
