package core

import (
	"context"
	"sync"
)

type MockLLM struct {
	mu            sync.Mutex
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
	// OnGenerate runs before each call, outside the lock.
	OnGenerate func()
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
	if m.OnGenerate != nil {
		m.OnGenerate()
	}
	m.mu.Lock()
	defer m.mu.Unlock()
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

func (m *MockLLM) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.Prompts)
}

// Queue appends responses for the next calls.
func (m *MockLLM) Queue(responses ...string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.ResponseQueue = append(m.ResponseQueue, responses...)
}
