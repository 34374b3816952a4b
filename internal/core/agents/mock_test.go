package agents

import (
	"context"

	"github.com/agenthands/tsgcopilot/internal/knowledge"
)

type MockLLM struct {
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	m.Prompts = append(m.Prompts, prompt)
	if m.Err != nil {
		return "", m.Err
	}
	if len(m.ResponseQueue) > 0 {
		resp := m.ResponseQueue[0]
		m.ResponseQueue = m.ResponseQueue[1:]
		return resp, nil
	}
	return m.Response, nil
}

func (m *MockLLM) LastPrompt() string {
	if len(m.Prompts) == 0 {
		return ""
	}
	return m.Prompts[len(m.Prompts)-1]
}

type MockSearch struct {
	IDs     []string
	Err     error
	Queries []knowledge.Query
}

func (m *MockSearch) Search(ctx context.Context, q knowledge.Query) ([]string, error) {
	m.Queries = append(m.Queries, q)
	if m.Err != nil {
		return nil, m.Err
	}
	return m.IDs, nil
}

type MockReranker struct {
	Order []int
	Err   error
}

func (m *MockReranker) Rank(ctx context.Context, query string, documents []string) ([]int, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	return m.Order, nil
}
