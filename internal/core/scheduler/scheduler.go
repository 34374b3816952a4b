// Package scheduler picks the next speaker of a dialogue within the
// constraints of a transition graph.
package scheduler

import (
	"context"
	"errors"
	"math/rand/v2"
	"regexp"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/core/transcript"
)

var ErrNoEligibleSpeaker = errors.New("no eligible speaker")

// Cursor remembers the previous speaker of a session.
type Cursor struct {
	Previous string `json:"previous"`
}

// Oracle proposes a speaker given the conversation so far. The answer is
// free text and is matched against the eligible names.
type Oracle interface {
	Choose(ctx context.Context, history []transcript.Message, eligible []string) (string, error)
}

type Scheduler struct {
	graph  *Graph
	oracle Oracle
	log    *zap.Logger

	mu  sync.Mutex
	rng *rand.Rand
}

// New creates a scheduler. oracle may be nil, in which case selection
// falls through to the random choice.
func New(graph *Graph, oracle Oracle, seed int64, log *zap.Logger) *Scheduler {
	if log == nil {
		log = zap.NewNop()
	}
	return &Scheduler{
		graph:  graph,
		oracle: oracle,
		log:    log,
		rng:    rand.New(rand.NewPCG(uint64(seed), uint64(seed)>>1|1)),
	}
}

func (s *Scheduler) Graph() *Graph { return s.graph }

// Eligible returns the participants that may speak after previous. An
// empty previous means the dialogue has not started. live restricts the
// result to participants present in the session; nil means all.
func (s *Scheduler) Eligible(previous string, live []string) []string {
	var candidates []string
	if previous == "" {
		candidates = s.graph.Entries()
	} else {
		candidates = s.graph.Successors(previous)
	}
	if live == nil {
		return candidates
	}
	out := candidates[:0]
	for _, c := range candidates {
		if contains(live, c) {
			out = append(out, c)
		}
	}
	return out
}

// SelectNext chooses the next speaker and records it on the cursor.
//
// An explicit next hint on the last message wins when it names an
// eligible participant. Otherwise the oracle is asked once the history has
// more than one message, and its answer counts only if it names exactly one
// eligible participant. The fallback is a uniform random pick.
func (s *Scheduler) SelectNext(ctx context.Context, cursor *Cursor, history []transcript.Message, live []string) (string, error) {
	eligible := s.Eligible(cursor.Previous, live)
	if len(eligible) == 0 {
		return "", ErrNoEligibleSpeaker
	}

	chosen := s.choose(ctx, eligible, history)
	cursor.Previous = chosen
	return chosen, nil
}

func (s *Scheduler) choose(ctx context.Context, eligible []string, history []transcript.Message) string {
	if n := len(history); n > 0 {
		if hint := history[n-1].Content.Next(); hint != "" && contains(eligible, hint) {
			return hint
		}
	}

	if len(eligible) == 1 {
		return eligible[0]
	}

	if s.oracle != nil && len(history) > 1 {
		answer, err := s.oracle.Choose(ctx, history, eligible)
		if err != nil {
			s.log.Warn("speaker oracle failed", zap.Error(err))
		} else if mentioned := Mentioned(answer, eligible); len(mentioned) == 1 {
			return mentioned[0]
		} else {
			s.log.Debug("speaker oracle answer unusable",
				zap.String("answer", answer),
				zap.Strings("mentioned", mentioned))
		}
	}

	s.mu.Lock()
	idx := s.rng.IntN(len(eligible))
	s.mu.Unlock()
	return eligible[idx]
}

// Mentioned returns the eligible names found in answer, either as the
// whole trimmed answer or on word boundaries.
func Mentioned(answer string, eligible []string) []string {
	trimmed := strings.Trim(strings.TrimSpace(answer), "\"'`.")
	for _, name := range eligible {
		if trimmed == name {
			return []string{name}
		}
	}

	var found []string
	for _, name := range eligible {
		re := regexp.MustCompile(`(^|\W)` + regexp.QuoteMeta(name) + `(\W|$)`)
		if re.MatchString(answer) {
			found = append(found, name)
		}
	}
	return found
}
