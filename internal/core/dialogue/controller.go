// Package dialogue drives a multi-participant conversation turn by turn
// until it pauses, completes, escalates, or fails.
package dialogue

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/core/continuity"
	"github.com/agenthands/tsgcopilot/internal/core/scheduler"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

var ErrInterrupted = errors.New("dialogue interrupted without an eligible fallback")

type Kind int

const (
	// Continuing means the run paused waiting for a participant, usually
	// the human proxy.
	Continuing Kind = iota
	Completed
	Escalated
	Failed
)

func (k Kind) String() string {
	switch k {
	case Continuing:
		return "continuing"
	case Completed:
		return "completed"
	case Escalated:
		return "escalated"
	case Failed:
		return "failed"
	}
	return "unknown"
}

// Outcome is the tagged result of a run.
type Outcome struct {
	Kind Kind
	// Last is the final transcript message when the transcript is not empty.
	Last    transcript.Message
	HasLast bool
	Reason  string
	Err     error
}

type Options struct {
	MaxRounds int
	// Fallback takes over on interruption when eligible.
	Fallback string
	Logger   *zap.Logger
}

type Controller struct {
	scheduler *scheduler.Scheduler
	agents    map[string]Agent
	live      []string
	routers   map[string]bool
	maxRounds int
	fallback  string
	log       *zap.Logger
}

// NewController registers the participants. Every agent must be a vertex of
// the scheduler's graph; vertices without an agent are never eligible.
func NewController(sched *scheduler.Scheduler, agents []Agent, opts Options) (*Controller, error) {
	if opts.MaxRounds < 1 {
		return nil, fmt.Errorf("dialogue: max rounds must be positive, got %d", opts.MaxRounds)
	}
	log := opts.Logger
	if log == nil {
		log = zap.NewNop()
	}

	c := &Controller{
		scheduler: sched,
		agents:    make(map[string]Agent, len(agents)),
		routers:   make(map[string]bool),
		maxRounds: opts.MaxRounds,
		fallback:  opts.Fallback,
		log:       log,
	}
	for _, a := range agents {
		p := a.Profile()
		if !sched.Graph().Has(p.Name) {
			return nil, fmt.Errorf("dialogue: participant %q is not in the transition graph", p.Name)
		}
		if _, dup := c.agents[p.Name]; dup {
			return nil, fmt.Errorf("dialogue: duplicate participant %q", p.Name)
		}
		c.agents[p.Name] = a
		c.live = append(c.live, p.Name)
		if p.Role == RoleRouter {
			c.routers[p.Name] = true
		}
	}
	if c.fallback != "" {
		if _, ok := c.agents[c.fallback]; !ok {
			return nil, fmt.Errorf("dialogue: fallback %q is not a registered participant", c.fallback)
		}
	}
	return c, nil
}

func (c *Controller) MaxRounds() int { return c.maxRounds }

// Run steps the session until the run stops.
func (c *Controller) Run(ctx context.Context, s *Session) Outcome {
	for {
		if out, done := c.Step(ctx, s); done {
			return out
		}
	}
}

// Step performs at most one turn. done is false when a reply was appended
// and the run should go on.
func (c *Controller) Step(ctx context.Context, s *Session) (Outcome, bool) {
	last, hasLast := s.Transcript.Last()
	stop := func(kind Kind, reason string, err error) (Outcome, bool) {
		return Outcome{Kind: kind, Last: last, HasLast: hasLast, Reason: reason, Err: err}, true
	}

	if hasLast {
		if IsTerminal(last) {
			return stop(Completed, "termination requested", nil)
		}
		if c.routers[last.Author] && last.Content.Token() != "" &&
			continuity.ParseToken(last.Content.Token()) == continuity.Mitigate {
			return stop(Escalated, "mitigation signalled", nil)
		}
	}
	if s.Rounds >= c.maxRounds {
		return stop(Completed, "round budget exhausted", nil)
	}
	if err := ctx.Err(); err != nil {
		return stop(Failed, "cancelled", err)
	}

	speaker, err := c.nextSpeaker(ctx, s)
	if err != nil {
		return stop(Failed, "speaker selection failed", err)
	}

	c.log.Debug("turn",
		zap.String("session", s.ID),
		zap.String("speaker", speaker),
		zap.Int("round", s.Rounds))

	payload, err := c.agents[speaker].Reply(ctx, Turn{Session: s, Inbound: last, HasInbound: hasLast})
	if err != nil {
		return stop(Failed, "reply failed", fmt.Errorf("%s: %w", speaker, err))
	}
	if payload == nil {
		s.Awaiting = speaker
		return stop(Continuing, "awaiting "+speaker, nil)
	}

	msg, err := s.Transcript.Append(transcript.Message{Author: speaker, Content: payload})
	if err != nil {
		return stop(Failed, "append failed", err)
	}
	s.Transcript.DeriveMemory(msg)
	s.Rounds++
	s.UpdatedAt = time.Now().UTC()
	return Outcome{}, false
}

func (c *Controller) nextSpeaker(ctx context.Context, s *Session) (string, error) {
	if s.takeInterrupt() {
		eligible := c.scheduler.Eligible(s.Cursor.Previous, c.live)
		for _, name := range eligible {
			if name == c.fallback {
				s.Awaiting = ""
				s.Cursor.Previous = name
				c.log.Info("interrupted, handing over to fallback",
					zap.String("session", s.ID),
					zap.String("fallback", name))
				return name, nil
			}
		}
		return "", ErrInterrupted
	}

	if s.Awaiting != "" {
		speaker := s.Awaiting
		s.Awaiting = ""
		return speaker, nil
	}

	return c.scheduler.SelectNext(ctx, &s.Cursor, s.Transcript.Messages(), c.live)
}

// IsTerminal reports whether msg ends the conversation.
func IsTerminal(msg transcript.Message) bool {
	if msg.Content.Terminate() {
		return true
	}
	text := msg.Content.Text()
	return strings.Contains(text, "TERMINATE") || strings.EqualFold(strings.TrimSpace(text), "exit")
}
