package core

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/core/scheduler"
	"github.com/agenthands/tsgcopilot/internal/incident"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/session"
)

func guideTable() *knowledge.Table {
	return knowledge.NewTable(
		&model.Node{ID: "a1", Type: "steps", Title: "Guide-A", Intent: "check disk usage", Action: "df -h <path>", Output: "-If **full**, then **clean files** [CONTINUE]", DefaultParameters: model.Params{"<path>": "/var"}, IsFirst: "Yes", Monitor: "m-disk"},
		&model.Node{ID: "a2", Type: "steps", Title: "Guide-A", Intent: "clean files", Action: "rm -rf /tmp/*", IsFirst: "No", Monitor: "m-disk"},
		&model.Node{ID: "b1", Type: "steps", Title: "Guide-B", Intent: "restart service", Action: "systemctl restart x", IsFirst: "Yes", Monitor: "m-svc"},
	)
}

func newCopilot(t *testing.T, cfg *config.Config, mock *MockLLM, store session.Store) *Copilot {
	t.Helper()
	table := guideTable()
	c, err := New(cfg, Deps{
		LLM:    mock,
		Search: knowledge.NewTableRetriever(table, nil),
		Table:  table,
		Incidents: incident.NewStatic(model.Incident{
			ID: "12345", Title: "Disk full on node-7", Summary: "node-7 disk usage above 95%", MonitorID: "m-disk",
			Start: time.Date(2024, 3, 1, 10, 0, 0, 0, time.UTC),
		}),
		Sessions: store,
	}, nil)
	require.NoError(t, err)
	return c
}

func TestAskIncidentScenario(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)
	ctx := context.Background()

	mock.Queue(
		`{"DECISION": "NEW_INCIDENT", "NEXT": "node_retrieve_agent", "IncidentId": "12345", "TOKEN": "[CONTINUE]", "RESPONSE": "Looking up the incident."}`,
		`{"DECISION": "RELATED", "NEXT": "planner_agent", "QUERY": "Disk full on node-7", "RESPONSE": "check disk usage"}`,
		`{"RESPONSE": "1. Run df -h /var on node-7."}`,
	)
	resp, err := c.Ask(ctx, "conv-1", "IncidentId 12345")
	require.NoError(t, err)
	assert.Equal(t, &Response{
		Prompt:   cfg.Prompts.Notices.Awaiting,
		Response: "1. Run df -h /var on node-7.",
		Title:    "Guide-A",
	}, resp)
	assert.Equal(t, 3, mock.Calls())

	st, err := store.Get(ctx, "conv-1")
	require.NoError(t, err)
	var authors []string
	for _, m := range st.Transcript.Messages {
		authors = append(authors, m.Author)
	}
	assert.Equal(t, []string{
		"user_proxy",
		"intent_understanding_agent",
		"node_retrieve_agent",
		"intent_understanding_agent",
		"planner_agent",
	}, authors)
	require.NotNil(t, st.Anchor)
	assert.Equal(t, "a1", st.Anchor.ID)
	assert.Contains(t, st.Anchor.IncidentDetails, "Disk full on node-7")
	assert.Equal(t, "user_proxy", st.Awaiting)

	// the follow-up continues in the same guide
	mock.Queue(
		`{"DECISION": "MATCHED", "NEXT": "node_retrieve_agent", "QUERY": "clean files", "TOKEN": "[CONTINUE]", "RESPONSE": "Moving on."}`,
		`[{"INDEX": 0, "INTENT": "clean files", "EXPLANATION": "next step of the disk guide"}]`,
		`{"DECISION": "RELATED", "NEXT": "planner_agent", "QUERY": "clean files", "RESPONSE": "clean files"}`,
		`{"RESPONSE": "2. Remove temporary files."}`,
	)
	resp, err = c.Ask(ctx, "conv-1", "the disk is full, what next?")
	require.NoError(t, err)
	assert.Equal(t, &Response{
		Prompt:   cfg.Prompts.Notices.Awaiting,
		Response: "2. Remove temporary files.",
		Title:    "Guide-A",
	}, resp)

	// a step from another guide under CONTINUE is rejected
	mock.Queue(
		`{"DECISION": "MATCHED", "NEXT": "node_retrieve_agent", "QUERY": "restart service", "TOKEN": "[CONTINUE]", "RESPONSE": "Checking."}`,
		`[{"INDEX": 0, "EXPLANATION": "service restart"}]`,
		`{"DECISION": "MITIGATED", "NEXT": "user_proxy", "RESPONSE": "Please contact the on-call engineers."}`,
	)
	resp, err = c.Ask(ctx, "conv-1", "now the service is down")
	require.NoError(t, err)
	assert.Equal(t, &Response{
		Prompt:   cfg.Prompts.Notices.ContinueRejected,
		Response: "Please contact the on-call engineers.",
		Title:    "",
	}, resp)

	st, err = store.Get(ctx, "conv-1")
	require.NoError(t, err)
	assert.Nil(t, st.Anchor)
	assert.Equal(t, 1, store.Len())
}

func TestAskQueryAcceptedWithoutAnchor(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{}
	c := newCopilot(t, cfg, mock, nil)

	mock.Queue(
		`{"DECISION": "NEW_QUERY", "NEXT": "node_retrieve_agent", "QUERY": "restart service", "TOKEN": "[CONTINUE]", "RESPONSE": "Searching."}`,
		`[{"INDEX": 0, "EXPLANATION": "restart"}]`,
		`{"DECISION": "RELATED", "NEXT": "planner_agent", "QUERY": "restart service", "RESPONSE": "restart service"}`,
		`not a plan`,
	)
	resp, err := c.Ask(context.Background(), "conv-q", "how do I restart the service")
	require.NoError(t, err)
	assert.Equal(t, "Guide-B", resp.Title)
	assert.Equal(t, "restart service\n\nsystemctl restart x", resp.Response, "planner falls back to the rendered step")
}

func TestAskEscalationDiscardsSession(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)

	mock.Queue(`{"DECISION": "MATCHED", "NEXT": "node_retrieve_agent", "QUERY": "fixed", "TOKEN": "[MITIGATE]", "RESPONSE": "Glad it is fixed."}`)
	resp, err := c.Ask(context.Background(), "conv-2", "it works again")
	require.NoError(t, err)
	assert.Equal(t, &Response{Prompt: cfg.Prompts.Notices.Mitigated, Response: "Glad it is fixed."}, resp)
	assert.Equal(t, 0, store.Len())
}

func TestAskCompletionDiscardsSession(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{Response: `{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "Hi."}`}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)
	ctx := context.Background()

	_, err := c.Ask(ctx, "conv-3", "hello")
	require.NoError(t, err)
	assert.Equal(t, 1, store.Len())

	resp, err := c.Ask(ctx, "conv-3", "exit")
	require.NoError(t, err)
	assert.Equal(t, cfg.Prompts.Notices.Completed, resp.Prompt)
	assert.Equal(t, "Hi.", resp.Response, "the user's exit is not echoed back")
	assert.Equal(t, 0, store.Len())
	assert.Equal(t, 1, mock.Calls())
}

func TestAskRoundBudgetCarriesAcrossRequests(t *testing.T) {
	cfg := config.Default()
	cfg.Session.MaxRounds = 3
	mock := &MockLLM{Response: `{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "Hi."}`}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)
	ctx := context.Background()

	resp, err := c.Ask(ctx, "conv-4", "hello")
	require.NoError(t, err)
	assert.Equal(t, cfg.Prompts.Notices.Awaiting, resp.Prompt)

	// user_proxy is the third delivered turn; the budget is spent before intent
	resp, err = c.Ask(ctx, "conv-4", "hello again")
	require.NoError(t, err)
	assert.Equal(t, cfg.Prompts.Notices.Completed, resp.Prompt)
	assert.Equal(t, "Hi.", resp.Response, "the answer is the copilot's last words")
	assert.Equal(t, 0, store.Len())
}

func TestAskNoEligibleSpeakerIsInternal(t *testing.T) {
	cfg := config.Default()
	cfg.Graph = config.GraphConfig{
		Nodes: []config.ParticipantConfig{
			{Name: "user_proxy", Role: "human-proxy", Entry: true},
			{Name: "intent_understanding_agent", Role: "router"},
		},
		Edges: []config.EdgeConfig{{From: "user_proxy", To: "intent_understanding_agent"}},
	}
	mock := &MockLLM{Response: `{"DECISION": "NOT_RELATED", "RESPONSE": "Hi."}`}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)

	resp, err := c.Ask(context.Background(), "conv-5", "hello")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInternal)
	assert.ErrorIs(t, err, scheduler.ErrNoEligibleSpeaker)
	assert.Equal(t, &Response{Prompt: cfg.Prompts.Notices.Failed}, resp)
	assert.Equal(t, 0, store.Len())
}

func TestAskAbsorbsModelFailures(t *testing.T) {
	cfg := config.Default()
	c := newCopilot(t, cfg, &MockLLM{Err: errors.New("503 overloaded")}, nil)

	resp, err := c.Ask(context.Background(), "conv-6", "disk is full")
	require.NoError(t, err)
	assert.Equal(t, cfg.Prompts.Notices.Awaiting, resp.Prompt)
	assert.Equal(t, cfg.Prompts.Notices.Failed, resp.Response)
}

func TestAskCancelledKeepsSavedSession(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{Response: `{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "Hi."}`}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)

	_, err := c.Ask(context.Background(), "conv-c", "hello")
	require.NoError(t, err)

	// the client goes away while the router is thinking
	ctx, cancel := context.WithCancel(context.Background())
	mock.OnGenerate = cancel
	resp, err := c.Ask(ctx, "conv-c", "hello again")
	require.Error(t, err)
	assert.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrInternal)
	assert.Equal(t, cfg.Prompts.Notices.Failed, resp.Prompt)

	st, err := store.Get(context.Background(), "conv-c")
	require.NoError(t, err)
	assert.Len(t, st.Transcript.Messages, 2)
	assert.Equal(t, 2, st.Rounds)

	mock.OnGenerate = nil
	_, err = c.Ask(context.Background(), "conv-c", "hello again")
	require.NoError(t, err)
	st, err = store.Get(context.Background(), "conv-c")
	require.NoError(t, err)
	assert.Len(t, st.Transcript.Messages, 4)
}

func TestInterruptHandsBackToUser(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)

	var interruptErr error
	mock.OnGenerate = func() { interruptErr = c.Interrupt("conv-i") }
	mock.Queue(
		`{"DECISION": "NEW_QUERY", "NEXT": "node_retrieve_agent", "QUERY": "restart service", "TOKEN": "[CONTINUE]", "RESPONSE": "Searching."}`,
	)
	resp, err := c.Ask(context.Background(), "conv-i", "how do I restart the service")
	require.NoError(t, err)
	require.NoError(t, interruptErr)

	assert.Equal(t, cfg.Prompts.Notices.Awaiting, resp.Prompt)
	assert.Equal(t, "Searching.", resp.Response)
	assert.Equal(t, 1, mock.Calls(), "the retriever never ran")

	st, err := store.Get(context.Background(), "conv-i")
	require.NoError(t, err)
	assert.Len(t, st.Transcript.Messages, 2)
	assert.Equal(t, "user_proxy", st.Awaiting)

	assert.ErrorIs(t, c.Interrupt("conv-i"), ErrNotRunning)
}

func TestAskResumesFromPersistedState(t *testing.T) {
	cfg := config.Default()
	store, err := session.NewSQLiteStore(filepath.Join(t.TempDir(), "sessions.db"), nil)
	require.NoError(t, err)
	defer store.Close()
	ctx := context.Background()

	mock := &MockLLM{}
	mock.Queue(
		`{"DECISION": "NEW_INCIDENT", "NEXT": "node_retrieve_agent", "IncidentId": "12345", "RESPONSE": "Looking."}`,
		`{"DECISION": "RELATED", "NEXT": "planner_agent", "QUERY": "disk", "RESPONSE": "disk"}`,
		`{"RESPONSE": "plan"}`,
	)
	_, err = newCopilot(t, cfg, mock, store).Ask(ctx, "conv-7", "IncidentId 12345")
	require.NoError(t, err)

	// a fresh engine over the same store picks up the anchor
	mock2 := &MockLLM{}
	mock2.Queue(
		`{"DECISION": "REFINE", "NEXT": "planner_agent", "RESPONSE": "use /data instead of /var"}`,
		`{"RESPONSE": "1. Run df -h /data."}`,
	)
	resp, err := newCopilot(t, cfg, mock2, store).Ask(ctx, "conv-7", "the path is /data")
	require.NoError(t, err)
	assert.Equal(t, "1. Run df -h /data.", resp.Response)
	assert.Equal(t, "Guide-A", resp.Title)
	assert.Contains(t, mock2.Prompts[0], "User: IncidentId 12345")
}

func TestAskSerializesPerConversation(t *testing.T) {
	cfg := config.Default()
	mock := &MockLLM{Response: `{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "Hi."}`}
	store := session.NewMemoryStore()
	c := newCopilot(t, cfg, mock, store)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, err := c.Ask(ctx, fmt.Sprintf("conv-%d", i%2), "hello")
			assert.NoError(t, err)
		}(i)
	}
	wg.Wait()

	for _, id := range []string{"conv-0", "conv-1"} {
		st, err := store.Get(ctx, id)
		require.NoError(t, err)
		assert.Len(t, st.Transcript.Messages, 8, id)
	}
}

func TestAbandon(t *testing.T) {
	store := session.NewMemoryStore()
	c := newCopilot(t, config.Default(), &MockLLM{Response: `{"DECISION": "NOT_RELATED", "NEXT": "user_proxy", "RESPONSE": "Hi."}`}, store)
	ctx := context.Background()

	_, err := c.Ask(ctx, "conv-8", "hello")
	require.NoError(t, err)
	require.NoError(t, c.Abandon(ctx, "conv-8"))
	assert.Equal(t, 0, store.Len())
}

func TestNewRejectsUnknownRole(t *testing.T) {
	cfg := config.Default()
	cfg.Graph.Nodes = append(cfg.Graph.Nodes, config.ParticipantConfig{Name: "wizard", Role: "wizard"})
	cfg.Graph.Edges = append(cfg.Graph.Edges, config.EdgeConfig{From: "user_proxy", To: "wizard"})
	_, err := New(cfg, Deps{}, nil)
	assert.ErrorIs(t, err, config.ErrInvalid)
}
