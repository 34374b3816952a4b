package scheduler

import (
	"context"

	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

type MockOracle struct {
	Answer   string
	Err      error
	Calls    int
	Eligible []string
}

func (m *MockOracle) Choose(ctx context.Context, history []transcript.Message, eligible []string) (string, error) {
	m.Calls++
	m.Eligible = eligible
	return m.Answer, m.Err
}

type MockLLM struct {
	Response   string
	Err        error
	LastPrompt string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.LastPrompt = prompt
	return m.Response, m.Err
}
