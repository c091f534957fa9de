package storage

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/mattn/go-sqlite3"

	"github.com/altwn/consilium/internal/core"
)

// SQLiteStorage implements Storage using SQLite.
type SQLiteStorage struct {
	db   *sql.DB
	path string
}

var _ Storage = (*SQLiteStorage)(nil)

// NewSQLiteStorage opens (and creates if needed) the database at dbPath.
func NewSQLiteStorage(dbPath string) (*SQLiteStorage, error) {
	dir := filepath.Dir(dbPath)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if err := db.Ping(); err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLiteStorage{db: db, path: dbPath}, nil
}

// Initialize creates the database schema.
func (s *SQLiteStorage) Initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS questions (
		id TEXT PRIMARY KEY,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		category TEXT NOT NULL DEFAULT '',
		type TEXT NOT NULL,
		options_json TEXT,
		deadline DATETIME,
		resolved_by TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS agents (
		id TEXT PRIMARY KEY,
		name TEXT NOT NULL,
		mode TEXT NOT NULL,
		personality TEXT NOT NULL DEFAULT '',
		custom_prompt TEXT NOT NULL DEFAULT '',
		temperature REAL NOT NULL DEFAULT 0.7,
		model TEXT NOT NULL DEFAULT '',
		min_confidence REAL NOT NULL DEFAULT 0,
		api_key TEXT NOT NULL DEFAULT '',
		webhook_url TEXT NOT NULL DEFAULT '',
		webhook_token TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		categories_json TEXT,
		auto_participate INTEGER NOT NULL DEFAULT 0,
		created_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS rounds (
		id TEXT PRIMARY KEY,
		question_id TEXT NOT NULL,
		number INTEGER NOT NULL,
		agent_ids_json TEXT NOT NULL,
		started_at DATETIME NOT NULL,
		ended_at DATETIME,
		consensus_score REAL NOT NULL DEFAULT 0,
		distribution_json TEXT,
		avg_confidence REAL NOT NULL DEFAULT 0,
		final INTEGER NOT NULL DEFAULT 0,
		termination_reason TEXT NOT NULL DEFAULT '',
		free_form INTEGER NOT NULL DEFAULT 0,
		config_json TEXT,
		FOREIGN KEY (question_id) REFERENCES questions(id) ON DELETE CASCADE,
		UNIQUE (question_id, number)
	);

	-- Single-writer guarantee for the one-open-round invariant: inserting a
	-- second open round for the same question violates this index.
	CREATE UNIQUE INDEX IF NOT EXISTS idx_rounds_one_open
		ON rounds(question_id) WHERE ended_at IS NULL;

	CREATE TABLE IF NOT EXISTS arguments (
		id TEXT PRIMARY KEY,
		round_id TEXT NOT NULL,
		question_id TEXT NOT NULL,
		agent_id TEXT NOT NULL,
		agent_name TEXT NOT NULL DEFAULT '',
		round_number INTEGER NOT NULL,
		position TEXT NOT NULL,
		confidence REAL NOT NULL,
		reasoning TEXT NOT NULL DEFAULT '',
		cycle_json TEXT,
		created_at DATETIME NOT NULL,
		FOREIGN KEY (round_id) REFERENCES rounds(id) ON DELETE CASCADE
	);

	CREATE INDEX IF NOT EXISTS idx_rounds_question_id ON rounds(question_id);
	CREATE INDEX IF NOT EXISTS idx_arguments_round_id ON arguments(round_id);
	CREATE INDEX IF NOT EXISTS idx_arguments_question_created
		ON arguments(question_id, created_at);
	`

	if _, err := s.db.Exec(schema); err != nil {
		return fmt.Errorf("failed to create schema: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteStorage) Close() error {
	return s.db.Close()
}

// isUniqueViolation reports whether err is a SQLite uniqueness failure.
func isUniqueViolation(err error) bool {
	var serr sqlite3.Error
	if errors.As(err, &serr) {
		return serr.Code == sqlite3.ErrConstraint &&
			(serr.ExtendedCode == sqlite3.ErrConstraintUnique ||
				serr.ExtendedCode == sqlite3.ErrConstraintPrimaryKey)
	}
	return false
}

// CreateQuestion inserts a question.
func (s *SQLiteStorage) CreateQuestion(q *core.Question) error {
	options, err := marshalJSON(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	_, err = s.db.Exec(`
	INSERT INTO questions (id, title, description, category, type, options_json, deadline, resolved_by, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		q.ID, q.Title, q.Description, q.Category, string(q.Type), options, q.Deadline, q.ResolvedBy, q.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert question: %w", err)
	}
	return nil
}

// GetQuestion retrieves a question by id.
func (s *SQLiteStorage) GetQuestion(id string) (*core.Question, error) {
	row := s.db.QueryRow(`
	SELECT id, title, description, category, type, options_json, deadline, resolved_by, created_at
	FROM questions WHERE id = ?`, id)

	var q core.Question
	var qType string
	var options sql.NullString
	var deadline sql.NullTime
	err := row.Scan(&q.ID, &q.Title, &q.Description, &q.Category, &qType, &options, &deadline, &q.ResolvedBy, &q.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get question: %w", err)
	}

	q.Type = core.QuestionType(qType)
	if err := unmarshalJSON(options, &q.Options); err != nil {
		return nil, fmt.Errorf("failed to unmarshal options: %w", err)
	}
	if deadline.Valid {
		t := deadline.Time
		q.Deadline = &t
	}
	return &q, nil
}

// UpdateQuestion rewrites a question's mutable fields.
func (s *SQLiteStorage) UpdateQuestion(q *core.Question) error {
	options, err := marshalJSON(q.Options)
	if err != nil {
		return fmt.Errorf("failed to marshal options: %w", err)
	}

	res, err := s.db.Exec(`
	UPDATE questions SET title = ?, description = ?, category = ?, type = ?, options_json = ?, deadline = ?, resolved_by = ?
	WHERE id = ?`,
		q.Title, q.Description, q.Category, string(q.Type), options, q.Deadline, q.ResolvedBy, q.ID)
	if err != nil {
		return fmt.Errorf("failed to update question: %w", err)
	}
	return checkAffected(res)
}

// ListQuestions returns questions ordered by creation time, newest first.
func (s *SQLiteStorage) ListQuestions(limit, offset int) ([]*core.Question, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
	SELECT id, title, description, category, type, options_json, deadline, resolved_by, created_at
	FROM questions ORDER BY created_at DESC LIMIT ? OFFSET ?`, limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list questions: %w", err)
	}
	defer rows.Close()

	var questions []*core.Question
	for rows.Next() {
		var q core.Question
		var qType string
		var options sql.NullString
		var deadline sql.NullTime
		if err := rows.Scan(&q.ID, &q.Title, &q.Description, &q.Category, &qType, &options, &deadline, &q.ResolvedBy, &q.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan question: %w", err)
		}
		q.Type = core.QuestionType(qType)
		if err := unmarshalJSON(options, &q.Options); err != nil {
			return nil, err
		}
		if deadline.Valid {
			t := deadline.Time
			q.Deadline = &t
		}
		questions = append(questions, &q)
	}
	return questions, rows.Err()
}

// CreateAgent inserts an agent context.
func (s *SQLiteStorage) CreateAgent(a *core.AgentContext) error {
	categories, err := marshalJSON(a.Categories)
	if err != nil {
		return fmt.Errorf("failed to marshal categories: %w", err)
	}

	_, err = s.db.Exec(`
	INSERT INTO agents (id, name, mode, personality, custom_prompt, temperature, model, min_confidence,
		api_key, webhook_url, webhook_token, active, categories_json, auto_participate, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.Name, string(a.Mode), a.Personality, a.CustomPrompt, a.Temperature, a.Model, a.MinConfidence,
		a.APIKey, a.WebhookURL, a.WebhookToken, a.Active, categories, a.AutoParticipate, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert agent: %w", err)
	}
	return nil
}

const agentColumns = `id, name, mode, personality, custom_prompt, temperature, model, min_confidence,
	api_key, webhook_url, webhook_token, active, categories_json, auto_participate, created_at`

func scanAgent(scanner interface{ Scan(...any) error }) (*core.AgentContext, error) {
	var a core.AgentContext
	var mode string
	var categories sql.NullString
	err := scanner.Scan(&a.ID, &a.Name, &mode, &a.Personality, &a.CustomPrompt, &a.Temperature, &a.Model,
		&a.MinConfidence, &a.APIKey, &a.WebhookURL, &a.WebhookToken, &a.Active, &categories, &a.AutoParticipate, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	a.Mode = core.ExecutionMode(mode)
	if err := unmarshalJSON(categories, &a.Categories); err != nil {
		return nil, err
	}
	return &a, nil
}

// GetAgent retrieves one agent by id.
func (s *SQLiteStorage) GetAgent(id string) (*core.AgentContext, error) {
	row := s.db.QueryRow(`SELECT `+agentColumns+` FROM agents WHERE id = ?`, id)
	a, err := scanAgent(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get agent: %w", err)
	}
	return a, nil
}

// GetAgents retrieves agents by ids, skipping missing entries.
func (s *SQLiteStorage) GetAgents(ids []string) ([]*core.AgentContext, error) {
	if len(ids) == 0 {
		return nil, nil
	}

	placeholders := strings.Repeat("?,", len(ids))
	placeholders = placeholders[:len(placeholders)-1]
	args := make([]any, len(ids))
	for i, id := range ids {
		args[i] = id
	}

	rows, err := s.db.Query(`SELECT `+agentColumns+` FROM agents WHERE id IN (`+placeholders+`)`, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to get agents: %w", err)
	}
	defer rows.Close()

	var agents []*core.AgentContext
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

// ListAgents returns the roster matching the filter.
func (s *SQLiteStorage) ListAgents(filter AgentFilter) ([]*core.AgentContext, error) {
	query := `SELECT ` + agentColumns + ` FROM agents WHERE 1=1`
	var args []any
	if filter.ActiveOnly {
		query += ` AND active = 1`
	}
	if filter.AutoParticipateOnly {
		query += ` AND auto_participate = 1`
	}
	query += ` ORDER BY created_at`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []*core.AgentContext
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan agent: %w", err)
		}
		// Category filtering happens here: an empty category list means the
		// agent participates in every category.
		if filter.Category != "" && len(a.Categories) > 0 && !containsFold(a.Categories, filter.Category) {
			continue
		}
		agents = append(agents, a)
	}
	return agents, rows.Err()
}

func containsFold(list []string, v string) bool {
	for _, s := range list {
		if strings.EqualFold(s, v) {
			return true
		}
	}
	return false
}

// CreateRound inserts a round. The partial unique index on open rounds makes
// this the mutual-exclusion point for concurrent round-opening attempts.
func (s *SQLiteStorage) CreateRound(r *core.DebateRound) error {
	agentIDs, err := marshalJSON(r.AgentIDs)
	if err != nil {
		return fmt.Errorf("failed to marshal agent ids: %w", err)
	}
	distribution, err := marshalJSON(r.Distribution)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}
	config, err := marshalJSON(r.Config)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	_, err = s.db.Exec(`
	INSERT INTO rounds (id, question_id, number, agent_ids_json, started_at, ended_at,
		consensus_score, distribution_json, avg_confidence, final, termination_reason, free_form, config_json)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.QuestionID, r.Number, agentIDs, r.StartedAt, r.EndedAt,
		r.ConsensusScore, distribution, r.AvgConfidence, r.Final, string(r.TerminationReason), r.FreeForm, config)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrOpenRoundExists
		}
		return fmt.Errorf("failed to insert round: %w", err)
	}
	return nil
}

const roundColumns = `id, question_id, number, agent_ids_json, started_at, ended_at,
	consensus_score, distribution_json, avg_confidence, final, termination_reason, free_form, config_json`

func scanRound(scanner interface{ Scan(...any) error }) (*core.DebateRound, error) {
	var r core.DebateRound
	var agentIDs, distribution, config sql.NullString
	var endedAt sql.NullTime
	var reason string
	err := scanner.Scan(&r.ID, &r.QuestionID, &r.Number, &agentIDs, &r.StartedAt, &endedAt,
		&r.ConsensusScore, &distribution, &r.AvgConfidence, &r.Final, &reason, &r.FreeForm, &config)
	if err != nil {
		return nil, err
	}
	if err := unmarshalJSON(agentIDs, &r.AgentIDs); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(distribution, &r.Distribution); err != nil {
		return nil, err
	}
	if err := unmarshalJSON(config, &r.Config); err != nil {
		return nil, err
	}
	if endedAt.Valid {
		t := endedAt.Time
		r.EndedAt = &t
	}
	r.TerminationReason = core.TerminationReason(reason)
	return &r, nil
}

// GetRound retrieves one round by question and number.
func (s *SQLiteStorage) GetRound(questionID string, number int) (*core.DebateRound, error) {
	row := s.db.QueryRow(`SELECT `+roundColumns+` FROM rounds WHERE question_id = ? AND number = ?`,
		questionID, number)
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get round: %w", err)
	}
	return r, nil
}

// GetOpenRound retrieves the question's open round, if any.
func (s *SQLiteStorage) GetOpenRound(questionID string) (*core.DebateRound, error) {
	row := s.db.QueryRow(`SELECT `+roundColumns+` FROM rounds WHERE question_id = ? AND ended_at IS NULL`,
		questionID)
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get open round: %w", err)
	}
	return r, nil
}

// GetLatestRound retrieves the question's highest-numbered round.
func (s *SQLiteStorage) GetLatestRound(questionID string) (*core.DebateRound, error) {
	row := s.db.QueryRow(`SELECT `+roundColumns+` FROM rounds WHERE question_id = ? ORDER BY number DESC LIMIT 1`,
		questionID)
	r, err := scanRound(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get latest round: %w", err)
	}
	return r, nil
}

// CloseRound writes the round's closure snapshot. Guarded so an already-closed
// round cannot be closed twice.
func (s *SQLiteStorage) CloseRound(r *core.DebateRound) error {
	distribution, err := marshalJSON(r.Distribution)
	if err != nil {
		return fmt.Errorf("failed to marshal distribution: %w", err)
	}

	res, err := s.db.Exec(`
	UPDATE rounds SET ended_at = ?, consensus_score = ?, distribution_json = ?, avg_confidence = ?,
		final = ?, termination_reason = ?
	WHERE id = ? AND ended_at IS NULL`,
		r.EndedAt, r.ConsensusScore, distribution, r.AvgConfidence,
		r.Final, string(r.TerminationReason), r.ID)
	if err != nil {
		return fmt.Errorf("failed to close round: %w", err)
	}
	return checkAffected(res)
}

// AddArgument inserts an argument with its reasoning cycle.
func (s *SQLiteStorage) AddArgument(a *core.Argument) error {
	cycle, err := marshalJSON(a.Cycle)
	if err != nil {
		return fmt.Errorf("failed to marshal react cycle: %w", err)
	}

	_, err = s.db.Exec(`
	INSERT INTO arguments (id, round_id, question_id, agent_id, agent_name, round_number,
		position, confidence, reasoning, cycle_json, created_at)
	VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		a.ID, a.RoundID, a.QuestionID, a.AgentID, a.AgentName, a.RoundNumber,
		a.Position, a.Confidence, a.Reasoning, cycle, a.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to insert argument: %w", err)
	}
	return nil
}

const argumentColumns = `id, round_id, question_id, agent_id, agent_name, round_number,
	position, confidence, reasoning, cycle_json, created_at`

func scanArgument(scanner interface{ Scan(...any) error }) (*core.Argument, error) {
	var a core.Argument
	var cycle sql.NullString
	err := scanner.Scan(&a.ID, &a.RoundID, &a.QuestionID, &a.AgentID, &a.AgentName, &a.RoundNumber,
		&a.Position, &a.Confidence, &a.Reasoning, &cycle, &a.CreatedAt)
	if err != nil {
		return nil, err
	}
	if cycle.Valid && cycle.String != "" && cycle.String != "null" {
		a.Cycle = &core.ReactCycle{}
		if err := json.Unmarshal([]byte(cycle.String), a.Cycle); err != nil {
			return nil, fmt.Errorf("failed to unmarshal react cycle: %w", err)
		}
	}
	return &a, nil
}

func (s *SQLiteStorage) queryArguments(query string, args ...any) ([]*core.Argument, error) {
	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query arguments: %w", err)
	}
	defer rows.Close()

	var arguments []*core.Argument
	for rows.Next() {
		a, err := scanArgument(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan argument: %w", err)
		}
		arguments = append(arguments, a)
	}
	return arguments, rows.Err()
}

// GetArgumentsByRound returns a round's arguments ordered by creation time.
func (s *SQLiteStorage) GetArgumentsByRound(roundID string) ([]*core.Argument, error) {
	return s.queryArguments(`SELECT `+argumentColumns+` FROM arguments WHERE round_id = ? ORDER BY created_at`, roundID)
}

// GetArgumentsByQuestion returns all of a question's arguments ordered by creation time.
func (s *SQLiteStorage) GetArgumentsByQuestion(questionID string) ([]*core.Argument, error) {
	return s.queryArguments(`SELECT `+argumentColumns+` FROM arguments WHERE question_id = ? ORDER BY created_at`, questionID)
}

// DeleteArgumentsByRound removes every argument of a round.
func (s *SQLiteStorage) DeleteArgumentsByRound(roundID string) error {
	if _, err := s.db.Exec(`DELETE FROM arguments WHERE round_id = ?`, roundID); err != nil {
		return fmt.Errorf("failed to delete arguments: %w", err)
	}
	return nil
}

// marshalJSON encodes v, mapping nil-ish values to NULL.
func marshalJSON(v any) (any, error) {
	if v == nil {
		return nil, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	if string(data) == "null" {
		return nil, nil
	}
	return string(data), nil
}

// unmarshalJSON decodes a nullable JSON column into out.
func unmarshalJSON(col sql.NullString, out any) error {
	if !col.Valid || col.String == "" || col.String == "null" {
		return nil
	}
	return json.Unmarshal([]byte(col.String), out)
}

// checkAffected maps zero-row updates to ErrNotFound.
func checkAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}
