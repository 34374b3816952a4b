package knowledge

import (
	"context"
	"strings"
	"sync"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type MockDriver struct {
	mu            sync.Mutex
	QueryExecuted []string
	QueryParams   []map[string]interface{}
	MockResult    neo4j.EagerResult
	Err           error
	Indexed       bool
}

func (m *MockDriver) ExecuteQuery(ctx context.Context, query string, params map[string]interface{}) (neo4j.EagerResult, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.QueryExecuted = append(m.QueryExecuted, query)
	m.QueryParams = append(m.QueryParams, params)
	if m.Err != nil {
		return neo4j.EagerResult{}, m.Err
	}
	return m.MockResult, nil
}

func (m *MockDriver) BuildIndices(ctx context.Context) error {
	m.Indexed = true
	return nil
}

func (m *MockDriver) Close(ctx context.Context) error {
	return nil
}

// ParamsFor returns the parameters of every executed query containing marker.
func (m *MockDriver) ParamsFor(marker string) []map[string]interface{} {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []map[string]interface{}
	for i, q := range m.QueryExecuted {
		if strings.Contains(q, marker) {
			out = append(out, m.QueryParams[i])
		}
	}
	return out
}

type MockEmbedder struct {
	Vectors map[string][]float32
	Vector  []float32
	Err     error
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if m.Err != nil {
		return nil, m.Err
	}
	if v, ok := m.Vectors[text]; ok {
		return v, nil
	}
	return m.Vector, nil
}

type MockLLM struct {
	mu            sync.Mutex
	Response      string
	ResponseQueue []string
	Err           error
	Prompts       []string
}

func (m *MockLLM) Generate(ctx context.Context, prompt string) (string, error) {
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

func record(keys []string, values ...any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}
