package executor

import (
	"context"
	"time"

	"github.com/altwn/consilium/internal/core"
)

// Mock is a scripted executor for tests and local development.
type Mock struct {
	// Results are returned in order; the last one repeats.
	Results []*core.ExecutionResult
	// Delay simulates backend latency per call.
	Delay time.Duration
	// ValidateErr is returned from Validate when set.
	ValidateErr error

	calls int
}

// MockSuccess builds a mock that always returns the given response.
func MockSuccess(resp *core.AgentResponse) *Mock {
	return &Mock{Results: []*core.ExecutionResult{success(resp, core.ExecutionMeta{Attempts: 1})}}
}

// MockFailure builds a mock that always fails with the given code.
func MockFailure(code core.ErrorCode, msg string) *Mock {
	return &Mock{Results: []*core.ExecutionResult{failure(code, msg, core.ExecutionMeta{Attempts: 1})}}
}

// Validate implements Executor.
func (m *Mock) Validate() error { return m.ValidateErr }

// Execute implements Executor.
func (m *Mock) Execute(ctx context.Context, req *core.QuestionRequest) *core.ExecutionResult {
	if m.Delay > 0 {
		select {
		case <-time.After(m.Delay):
		case <-ctx.Done():
			return failure(core.CodeTimeout, ctx.Err().Error(), core.ExecutionMeta{Attempts: 1})
		}
	}

	idx := m.calls
	if idx >= len(m.Results) {
		idx = len(m.Results) - 1
	}
	m.calls++

	if len(m.Results) == 0 {
		return failure(core.CodeInvalidConfiguration, "mock executor has no scripted results", core.ExecutionMeta{})
	}
	return m.Results[idx]
}

// Calls returns how many times Execute ran.
func (m *Mock) Calls() int { return m.calls }
