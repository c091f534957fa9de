// Package handlers provides the HTTP API for debates, discussions, and agents.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/altwn/consilium/internal/core"
	"github.com/altwn/consilium/internal/export"
	"github.com/altwn/consilium/internal/orchestrator"
	"github.com/altwn/consilium/internal/persona"
	"github.com/altwn/consilium/internal/storage"
)

// Handler holds dependencies for HTTP handlers.
type Handler struct {
	orchestrator *orchestrator.Orchestrator
	storage      storage.Storage
}

// New creates a new Handler.
func New(orch *orchestrator.Orchestrator, store storage.Storage) *Handler {
	return &Handler{orchestrator: orch, storage: store}
}

// Router builds the chi router with all routes registered.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Route("/api", func(r chi.Router) {
		r.Get("/questions", h.handleListQuestions)
		r.Post("/questions", h.handleCreateQuestion)
		r.Get("/questions/{id}", h.handleGetQuestion)
		r.Post("/questions/{id}/resolve", h.handleResolveQuestion)

		r.Post("/questions/{id}/debate", h.handleStartDebate)
		r.Post("/questions/{id}/rounds/{number}/execute", h.handleExecuteRound)
		r.Post("/questions/{id}/rounds/reset", h.handleResetRound)
		r.Get("/questions/{id}/status", h.handleDebateStatus)
		r.Get("/questions/{id}/arguments", h.handleListArguments)

		r.Post("/questions/{id}/discussion", h.handleStartDiscussion)
		r.Post("/questions/{id}/contributions", h.handlePostContribution)

		r.Get("/agents", h.handleListAgents)
		r.Post("/agents", h.handleCreateAgent)
		r.Get("/agents/{id}", h.handleGetAgent)
		r.Get("/personas", h.handleListPersonas)

		r.Get("/questions/{id}/export/{format}", h.handleExport)
	})

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	return r
}

// Question handlers

func (h *Handler) handleListQuestions(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))
	if limit <= 0 {
		limit = 20
	}

	questions, err := h.storage.ListQuestions(limit, offset)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if questions == nil {
		questions = []*core.Question{}
	}
	h.json(w, http.StatusOK, questions)
}

func (h *Handler) handleCreateQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Title       string     `json:"title"`
		Description string     `json:"description"`
		Category    string     `json:"category"`
		Type        string     `json:"type"`
		Options     []string   `json:"options"`
		Deadline    *time.Time `json:"deadline"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Title) == "" {
		h.jsonError(w, "title is required", http.StatusBadRequest)
		return
	}

	qType := core.QuestionType(req.Type)
	switch qType {
	case core.QuestionBinary, core.QuestionMultipleChoice, core.QuestionNumericSeries, core.QuestionFactualClaim:
	default:
		h.jsonError(w, "invalid question type", http.StatusBadRequest)
		return
	}
	if qType == core.QuestionMultipleChoice && len(req.Options) < 2 {
		h.jsonError(w, "multiple-choice questions need at least 2 options", http.StatusBadRequest)
		return
	}

	question := &core.Question{
		ID:          core.GenerateID(),
		Title:       strings.TrimSpace(req.Title),
		Description: strings.TrimSpace(req.Description),
		Category:    strings.TrimSpace(req.Category),
		Type:        qType,
		Options:     req.Options,
		Deadline:    req.Deadline,
		CreatedAt:   time.Now(),
	}
	if err := h.storage.CreateQuestion(question); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusCreated, question)
}

func (h *Handler) handleGetQuestion(w http.ResponseWriter, r *http.Request) {
	question, err := h.storage.GetQuestion(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		h.jsonError(w, "question not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusOK, question)
}

func (h *Handler) handleResolveQuestion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ResolvedBy string `json:"resolved_by"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.ResolvedBy) == "" {
		h.jsonError(w, "resolved_by is required", http.StatusBadRequest)
		return
	}

	question, err := h.storage.GetQuestion(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		h.jsonError(w, "question not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if question.AdminResolved() {
		h.jsonError(w, "question is already resolved", http.StatusConflict)
		return
	}

	// The next executed round terminates with ADMIN_RESOLVED.
	question.ResolvedBy = strings.TrimSpace(req.ResolvedBy)
	if err := h.storage.UpdateQuestion(question); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusOK, question)
}

// Debate handlers

func (h *Handler) handleStartDebate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentIDs []string          `json:"agent_ids"`
		Config   core.DebateConfig `json:"config"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	result, err := h.orchestrator.StartDebate(r.Context(), chi.URLParam(r, "id"), req.AgentIDs, req.Config)
	if err != nil {
		h.jsonError(w, err.Error(), startErrorStatus(err))
		return
	}
	h.json(w, http.StatusCreated, result)
}

func (h *Handler) handleExecuteRound(w http.ResponseWriter, r *http.Request) {
	number, err := strconv.Atoi(chi.URLParam(r, "number"))
	if err != nil || number < 1 {
		h.jsonError(w, "invalid round number", http.StatusBadRequest)
		return
	}

	result, err := h.orchestrator.ExecuteRound(r.Context(), chi.URLParam(r, "id"), number)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrRoundClosed):
			h.jsonError(w, err.Error(), http.StatusConflict)
		case errors.Is(err, orchestrator.ErrFreeFormRound):
			h.jsonError(w, err.Error(), http.StatusBadRequest)
		case errors.Is(err, storage.ErrNotFound):
			h.jsonError(w, err.Error(), http.StatusNotFound)
		default:
			h.jsonError(w, err.Error(), http.StatusInternalServerError)
		}
		return
	}
	h.json(w, http.StatusOK, result)
}

func (h *Handler) handleResetRound(w http.ResponseWriter, r *http.Request) {
	if err := h.orchestrator.ResetRound(r.Context(), chi.URLParam(r, "id")); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleDebateStatus(w http.ResponseWriter, r *http.Request) {
	status, err := h.orchestrator.GetStatus(chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.jsonError(w, err.Error(), http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusOK, status)
}

func (h *Handler) handleListArguments(w http.ResponseWriter, r *http.Request) {
	arguments, err := h.storage.GetArgumentsByQuestion(chi.URLParam(r, "id"))
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if arguments == nil {
		arguments = []*core.Argument{}
	}
	h.json(w, http.StatusOK, arguments)
}

// Discussion handlers

func (h *Handler) handleStartDiscussion(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentIDs []string `json:"agent_ids"`
	}
	if r.ContentLength > 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			h.jsonError(w, err.Error(), http.StatusBadRequest)
			return
		}
	}

	result, err := h.orchestrator.StartDiscussion(r.Context(), chi.URLParam(r, "id"), req.AgentIDs)
	if err != nil {
		h.jsonError(w, err.Error(), startErrorStatus(err))
		return
	}
	h.json(w, http.StatusCreated, result)
}

func (h *Handler) handlePostContribution(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AgentID string `json:"agent_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if req.AgentID == "" {
		h.jsonError(w, "agent_id is required", http.StatusBadRequest)
		return
	}

	arg, err := h.orchestrator.PostContribution(r.Context(), chi.URLParam(r, "id"), req.AgentID)
	if err != nil {
		switch {
		case errors.Is(err, orchestrator.ErrNotFreeForm),
			errors.Is(err, orchestrator.ErrAgentNotEligible),
			errors.Is(err, orchestrator.ErrBelowMinConfidence):
			h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
		case errors.Is(err, storage.ErrNotFound):
			h.jsonError(w, err.Error(), http.StatusNotFound)
		default:
			h.jsonError(w, err.Error(), http.StatusBadGateway)
		}
		return
	}
	h.json(w, http.StatusCreated, arg)
}

// Agent handlers

func (h *Handler) handleListAgents(w http.ResponseWriter, r *http.Request) {
	filter := storage.AgentFilter{
		ActiveOnly:          r.URL.Query().Get("active") == "true",
		Category:            r.URL.Query().Get("category"),
		AutoParticipateOnly: r.URL.Query().Get("auto") == "true",
	}
	agents, err := h.storage.ListAgents(filter)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	if agents == nil {
		agents = []*core.AgentContext{}
	}
	h.json(w, http.StatusOK, agents)
}

func (h *Handler) handleCreateAgent(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name            string   `json:"name"`
		Mode            string   `json:"mode"`
		Personality     string   `json:"personality"`
		CustomPrompt    string   `json:"custom_prompt"`
		Temperature     float64  `json:"temperature"`
		Model           string   `json:"model"`
		MinConfidence   float64  `json:"min_confidence"`
		APIKey          string   `json:"api_key"`
		WebhookURL      string   `json:"webhook_url"`
		WebhookToken    string   `json:"webhook_token"`
		Categories      []string `json:"categories"`
		AutoParticipate bool     `json:"auto_participate"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}
	if strings.TrimSpace(req.Name) == "" {
		h.jsonError(w, "name is required", http.StatusBadRequest)
		return
	}

	mode := core.ExecutionMode(req.Mode)
	switch mode {
	case core.ModeManaged:
		if req.APIKey == "" || req.Model == "" {
			h.jsonError(w, "managed agents need api_key and model", http.StatusBadRequest)
			return
		}
	case core.ModeWebhook:
		if req.WebhookURL == "" || req.WebhookToken == "" {
			h.jsonError(w, "webhook agents need webhook_url and webhook_token", http.StatusBadRequest)
			return
		}
	default:
		h.jsonError(w, "invalid execution mode", http.StatusBadRequest)
		return
	}

	if req.Personality != "" && !persona.Personality(req.Personality).Valid() {
		h.jsonError(w, "unknown personality", http.StatusBadRequest)
		return
	}
	if req.Temperature < 0 || req.Temperature > 1 {
		h.jsonError(w, "temperature must be in [0,1]", http.StatusBadRequest)
		return
	}

	agent := &core.AgentContext{
		ID:              core.GenerateID(),
		Name:            strings.TrimSpace(req.Name),
		Mode:            mode,
		Personality:     req.Personality,
		CustomPrompt:    req.CustomPrompt,
		Temperature:     req.Temperature,
		Model:           req.Model,
		MinConfidence:   req.MinConfidence,
		APIKey:          req.APIKey,
		WebhookURL:      req.WebhookURL,
		WebhookToken:    req.WebhookToken,
		Active:          true,
		Categories:      req.Categories,
		AutoParticipate: req.AutoParticipate,
		CreatedAt:       time.Now(),
	}
	if err := h.storage.CreateAgent(agent); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusCreated, agent)
}

func (h *Handler) handleGetAgent(w http.ResponseWriter, r *http.Request) {
	agent, err := h.storage.GetAgent(chi.URLParam(r, "id"))
	if errors.Is(err, storage.ErrNotFound) {
		h.jsonError(w, "agent not found", http.StatusNotFound)
		return
	}
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}
	h.json(w, http.StatusOK, agent)
}

func (h *Handler) handleListPersonas(w http.ResponseWriter, r *http.Request) {
	defs := make([]*persona.Definition, 0, len(persona.All()))
	for _, p := range persona.All() {
		def, err := persona.Get(p)
		if err != nil {
			continue
		}
		defs = append(defs, def)
	}
	h.json(w, http.StatusOK, defs)
}

// Export handler

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format := export.Format(chi.URLParam(r, "format"))
	exporter, err := export.GetExporter(format)
	if err != nil {
		h.jsonError(w, err.Error(), http.StatusBadRequest)
		return
	}

	report, err := export.BuildReport(h.storage, chi.URLParam(r, "id"))
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			h.jsonError(w, "question not found", http.StatusNotFound)
			return
		}
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
		return
	}

	filename := export.GenerateFilename(report.Question, exporter.FileExtension())
	w.Header().Set("Content-Disposition", "attachment; filename=\""+filename+"\"")
	switch format {
	case export.FormatJSON:
		w.Header().Set("Content-Type", "application/json")
	case export.FormatPDF:
		w.Header().Set("Content-Type", "application/pdf")
	default:
		w.Header().Set("Content-Type", "text/markdown; charset=utf-8")
	}

	if err := exporter.Export(report, w); err != nil {
		h.jsonError(w, err.Error(), http.StatusInternalServerError)
	}
}

// startErrorStatus maps start-debate failures to HTTP status codes.
func startErrorStatus(err error) int {
	switch {
	case errors.Is(err, orchestrator.ErrDebateAlreadyStarted),
		errors.Is(err, orchestrator.ErrDebateComplete):
		return http.StatusConflict
	case errors.Is(err, orchestrator.ErrNotEnoughAgents),
		errors.Is(err, orchestrator.ErrQuestionResolved):
		return http.StatusUnprocessableEntity
	case errors.Is(err, storage.ErrNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func (h *Handler) json(w http.ResponseWriter, code int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(data)
}

func (h *Handler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}
