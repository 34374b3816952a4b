package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/tsgcopilot/internal/core"
)

type MockEngine struct {
	Response    *core.Response
	Err         error
	Asked       []string
	Queries     []string
	Abandoned   []string
	Interrupted []string
}

func (m *MockEngine) Ask(ctx context.Context, id, query string) (*core.Response, error) {
	m.Asked = append(m.Asked, id)
	m.Queries = append(m.Queries, query)
	return m.Response, m.Err
}

func (m *MockEngine) Abandon(ctx context.Context, id string) error {
	m.Abandoned = append(m.Abandoned, id)
	return m.Err
}

func (m *MockEngine) Interrupt(id string) error {
	m.Interrupted = append(m.Interrupted, id)
	return m.Err
}

func init() {
	gin.SetMode(gin.TestMode)
}

func do(r http.Handler, method, path, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAsk(t *testing.T) {
	engine := &MockEngine{Response: &core.Response{Prompt: "Results should be outputted.", Response: "1. df -h", Title: "Guide-A"}}
	r := NewServer(engine, nil).SetupRouter()

	w := do(r, http.MethodPost, "/api/tsg_copilot", `{"conversation_id": "c-1", "query": "disk is full"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, map[string]string{
		"conversation_id": "c-1",
		"prompt":          "Results should be outputted.",
		"response":        "1. df -h",
		"title":           "Guide-A",
	}, got)
	assert.Equal(t, []string{"c-1"}, engine.Asked)
	assert.Equal(t, []string{"disk is full"}, engine.Queries)
}

func TestAskAssignsConversationID(t *testing.T) {
	engine := &MockEngine{Response: &core.Response{}}
	r := NewServer(engine, nil).SetupRouter()

	w := do(r, http.MethodPost, "/api/tsg_copilot", `{"query": "hello"}`)
	require.Equal(t, http.StatusOK, w.Code)

	var got AskResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	_, err := uuid.Parse(got.ConversationID)
	assert.NoError(t, err)
	assert.Equal(t, []string{got.ConversationID}, engine.Asked)
}

func TestAskBadRequest(t *testing.T) {
	engine := &MockEngine{}
	r := NewServer(engine, nil).SetupRouter()

	for _, body := range []string{`{"conversation_id": "c-1"}`, `not json`} {
		w := do(r, http.MethodPost, "/api/tsg_copilot", body)
		assert.Equal(t, http.StatusBadRequest, w.Code, body)
	}
	assert.Empty(t, engine.Asked)
}

func TestAskInternalFailure(t *testing.T) {
	engine := &MockEngine{
		Response: &core.Response{Prompt: "Something went wrong."},
		Err:      core.ErrInternal,
	}
	r := NewServer(engine, nil).SetupRouter()

	w := do(r, http.MethodPost, "/api/tsg_copilot", `{"conversation_id": "c-2", "query": "hi"}`)
	require.Equal(t, http.StatusInternalServerError, w.Code)

	var got map[string]string
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "Something went wrong.", got["prompt"])
	assert.Equal(t, "c-2", got["conversation_id"])
	assert.NotContains(t, w.Body.String(), core.ErrInternal.Error())
}

func TestAbandon(t *testing.T) {
	engine := &MockEngine{}
	r := NewServer(engine, nil).SetupRouter()

	w := do(r, http.MethodDelete, "/api/tsg_copilot/c-3", "")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, []string{"c-3"}, engine.Abandoned)

	engine.Err = errors.New("db locked")
	w = do(r, http.MethodDelete, "/api/tsg_copilot/c-3", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestInterrupt(t *testing.T) {
	engine := &MockEngine{}
	r := NewServer(engine, nil).SetupRouter()

	w := do(r, http.MethodPost, "/api/tsg_copilot/c-4/interrupt", "")
	assert.Equal(t, http.StatusAccepted, w.Code)
	assert.Equal(t, []string{"c-4"}, engine.Interrupted)

	engine.Err = fmt.Errorf("%w: c-4", core.ErrNotRunning)
	w = do(r, http.MethodPost, "/api/tsg_copilot/c-4/interrupt", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	engine.Err = errors.New("boom")
	w = do(r, http.MethodPost, "/api/tsg_copilot/c-4/interrupt", "")
	assert.Equal(t, http.StatusInternalServerError, w.Code)
}

func TestHealth(t *testing.T) {
	w := do(NewServer(&MockEngine{}, nil).SetupRouter(), http.MethodGet, "/healthz", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status": "ok"}`, w.Body.String())
}

func TestListenAndServeStopsOnCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	err := NewServer(&MockEngine{}, nil).ListenAndServe(ctx, "127.0.0.1:0")
	assert.NoError(t, err)
}
