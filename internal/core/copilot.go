// Package core assembles the troubleshooting dialogue and serves one
// request cycle per call.
package core

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/agents"
	"github.com/agenthands/tsgcopilot/internal/core/continuity"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/scheduler"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/incident"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/llm"
	"github.com/agenthands/tsgcopilot/internal/session"
)

var (
	// ErrInternal marks runs that failed for reasons the user cannot fix.
	ErrInternal = errors.New("internal failure")
	// ErrNotRunning is returned when interrupting a conversation with no
	// request in flight.
	ErrNotRunning = errors.New("conversation is not running")
)

// Response is what the transport returns for one request cycle.
type Response struct {
	Prompt   string `json:"prompt"`
	Response string `json:"response"`
	Title    string `json:"title"`
}

// Deps are the external collaborators of the engine.
type Deps struct {
	LLM       llm.LLMClient
	Search    knowledge.Retriever
	Table     *knowledge.Table
	Reranker  llm.RerankerClient
	Incidents incident.Lookup
	Sessions  session.Store
}

type Copilot struct {
	Controller *dialogue.Controller
	Sessions   session.Store
	Classifier *transcript.Classifier
	Prompts    config.Prompts
	locks      *session.KeyedMutex
	log        *zap.Logger

	mu      sync.Mutex
	running map[string]*dialogue.Session
}

// New wires the scheduler, the participants and the controller described by
// cfg.
func New(cfg *config.Config, deps Deps, log *zap.Logger) (*Copilot, error) {
	if log == nil {
		log = zap.NewNop()
	}
	graph, err := scheduler.FromConfig(cfg.Graph)
	if err != nil {
		return nil, err
	}

	var oracle scheduler.Oracle
	if deps.LLM != nil {
		oracle = scheduler.NewLLMOracle(deps.LLM, cfg.Prompts.SpeakerSelection)
	}
	sched := scheduler.New(graph, oracle, cfg.Session.Seed, log.Named("scheduler"))

	participants, err := agents.Build(cfg.Graph.Nodes, agents.Deps{
		LLM:       deps.LLM,
		Search:    deps.Search,
		Table:     deps.Table,
		Reranker:  deps.Reranker,
		Incidents: deps.Incidents,
		Prompts:   cfg.Prompts,
		NResults:  cfg.Knowledge.NResults,
		Logger:    log.Named("agents"),
	})
	if err != nil {
		return nil, err
	}

	ctrl, err := dialogue.NewController(sched, participants, dialogue.Options{
		MaxRounds: cfg.Session.MaxRounds,
		Fallback:  cfg.Session.Fallback,
		Logger:    log.Named("dialogue"),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", config.ErrInvalid, err)
	}

	store := deps.Sessions
	if store == nil {
		store = session.NewMemoryStore()
	}
	return &Copilot{
		Controller: ctrl,
		Sessions:   store,
		Classifier: transcript.NewClassifier(cfg.Memory),
		Prompts:    cfg.Prompts,
		locks:      session.NewKeyedMutex(),
		log:        log,
		running:    make(map[string]*dialogue.Session),
	}, nil
}

// Ask runs one request cycle for the conversation. Unknown ids start a new
// session. Sessions that complete, escalate or fail are discarded; a
// cancelled request leaves the last saved state untouched.
func (c *Copilot) Ask(ctx context.Context, id, query string) (*Response, error) {
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return nil, err
	}
	defer unlock()

	s, err := c.load(ctx, id)
	if err != nil {
		return nil, err
	}
	start := s.Transcript.Len()
	s.Submit(query)

	c.track(id, s)
	out := c.Controller.Run(ctx, s)
	c.untrack(id)

	resp := c.respond(s, out, start)
	c.log.Info("request cycle finished",
		zap.String("conversation", id),
		zap.Stringer("outcome", out.Kind),
		zap.String("reason", out.Reason),
		zap.Int("rounds", s.Rounds))

	if out.Kind == dialogue.Failed && cancelled(out.Err) {
		return resp, fmt.Errorf("%s: %w", out.Reason, out.Err)
	}
	if out.Kind == dialogue.Continuing {
		if err := c.Sessions.Put(ctx, s.State()); err != nil {
			return nil, fmt.Errorf("save session %s: %w", id, err)
		}
		return resp, nil
	}

	if err := c.Sessions.Delete(ctx, id); err != nil {
		c.log.Warn("failed to discard session", zap.String("conversation", id), zap.Error(err))
	}
	if out.Kind == dialogue.Failed {
		return resp, fmt.Errorf("%w: %s: %w", ErrInternal, out.Reason, out.Err)
	}
	return resp, nil
}

// Abandon drops the conversation's state.
func (c *Copilot) Abandon(ctx context.Context, id string) error {
	unlock, err := c.locks.Lock(ctx, id)
	if err != nil {
		return err
	}
	defer unlock()
	return c.Sessions.Delete(ctx, id)
}

// Interrupt asks the in-flight request of the conversation to hand control
// to the fallback participant before its next turn.
func (c *Copilot) Interrupt(id string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.running[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotRunning, id)
	}
	s.Interrupt()
	c.log.Info("interrupt requested", zap.String("conversation", id))
	return nil
}

func (c *Copilot) track(id string, s *dialogue.Session) {
	c.mu.Lock()
	c.running[id] = s
	c.mu.Unlock()
}

func (c *Copilot) untrack(id string) {
	c.mu.Lock()
	delete(c.running, id)
	c.mu.Unlock()
}

func cancelled(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

func (c *Copilot) load(ctx context.Context, id string) (*dialogue.Session, error) {
	st, err := c.Sessions.Get(ctx, id)
	switch {
	case errors.Is(err, session.ErrNotFound):
		c.log.Debug("new session", zap.String("conversation", id))
		return dialogue.NewSession(id, c.Classifier), nil
	case err != nil:
		return nil, fmt.Errorf("load session %s: %w", id, err)
	}
	return dialogue.Restore(*st, c.Classifier), nil
}

func (c *Copilot) respond(s *dialogue.Session, out dialogue.Outcome, start int) *Response {
	notices := c.Prompts.Notices
	title := ""
	if anchor := s.Continuity.Anchor(); anchor != nil {
		title = anchor.Title
	}
	answer := c.answer(s)

	switch out.Kind {
	case dialogue.Completed:
		return &Response{Prompt: notices.Completed, Response: answer, Title: title}
	case dialogue.Escalated:
		return &Response{Prompt: notices.Mitigated, Response: answer}
	case dialogue.Failed:
		return &Response{Prompt: notices.Failed}
	}

	prompt := notices.Awaiting
	if notice, ok := rejection(s.Transcript.Messages()[start:]); ok {
		prompt = notice
	}
	return &Response{Prompt: prompt, Response: answer, Title: title}
}

// rejection returns the notice of the latest retrieval verdict when that
// verdict was not an acceptance.
func rejection(msgs []transcript.Message) (string, bool) {
	for i := len(msgs) - 1; i >= 0; i-- {
		p := msgs[i].Content
		v := p.String(transcript.KeyVerdict)
		if v == "" {
			continue
		}
		if v == continuity.Accepted.String() {
			return "", false
		}
		notice := p.String(transcript.KeyNoInfo)
		return notice, notice != ""
	}
	return "", false
}

// answer is the text of the latest message not spoken for the user.
func (c *Copilot) answer(s *dialogue.Session) string {
	msgs := s.Transcript.Messages()
	for i := len(msgs) - 1; i >= 0; i-- {
		if c.Classifier.IsUser(msgs[i].Author) {
			continue
		}
		return answerText(msgs[i].Content)
	}
	return ""
}

func answerText(p transcript.Payload) string {
	for _, key := range []string{transcript.KeyResponse, transcript.KeyNoInfo, transcript.KeyText} {
		if s := p.String(key); s != "" {
			return s
		}
	}
	return ""
}
