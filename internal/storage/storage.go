// Package storage provides persistence for questions, agents, rounds and arguments.
package storage

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/altwn/consilium/internal/core"
)

// Sentinel errors. ErrOpenRoundExists is how the single-open-round invariant
// surfaces: the database refuses a second open round for the same question,
// so concurrent triggers lose the race instead of duplicating a round.
var (
	ErrNotFound        = errors.New("not found")
	ErrOpenRoundExists = errors.New("an open round already exists for this question")
	ErrDuplicate       = errors.New("record already exists")
)

// AgentFilter narrows roster queries.
type AgentFilter struct {
	// ActiveOnly excludes deactivated agents.
	ActiveOnly bool
	// Category keeps agents whose category list is empty or contains it.
	Category string
	// AutoParticipateOnly keeps agents that post on their own in discussions.
	AutoParticipateOnly bool
}

// Storage defines the persistence contract the orchestration core requires.
type Storage interface {
	// Initialize sets up the schema.
	Initialize() error
	Close() error

	// Question operations.
	CreateQuestion(q *core.Question) error
	GetQuestion(id string) (*core.Question, error)
	UpdateQuestion(q *core.Question) error
	ListQuestions(limit, offset int) ([]*core.Question, error)

	// Agent roster operations.
	CreateAgent(a *core.AgentContext) error
	GetAgent(id string) (*core.AgentContext, error)
	GetAgents(ids []string) ([]*core.AgentContext, error)
	ListAgents(filter AgentFilter) ([]*core.AgentContext, error)

	// Round operations. CreateRound returns ErrOpenRoundExists when the
	// question already has an open round.
	CreateRound(r *core.DebateRound) error
	GetRound(questionID string, number int) (*core.DebateRound, error)
	GetOpenRound(questionID string) (*core.DebateRound, error)
	GetLatestRound(questionID string) (*core.DebateRound, error)
	// CloseRound writes the closure snapshot (end timestamp, statistics,
	// final flag, reason) exactly once.
	CloseRound(r *core.DebateRound) error

	// Argument operations.
	AddArgument(a *core.Argument) error
	GetArgumentsByRound(roundID string) ([]*core.Argument, error)
	// GetArgumentsByQuestion returns all arguments ordered by creation time.
	GetArgumentsByQuestion(questionID string) ([]*core.Argument, error)
	// DeleteArgumentsByRound supports the cleanup/reset operation that
	// deletes and regenerates an entire round's arguments.
	DeleteArgumentsByRound(roundID string) error
}

// DefaultDBPath returns the default database location.
func DefaultDBPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return "consilium.db"
	}
	return filepath.Join(home, ".consilium", "consilium.db")
}
