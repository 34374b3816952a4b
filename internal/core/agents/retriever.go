package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/common"
	"github.com/agenthands/tsgcopilot/internal/core/continuity"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/incident"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

const defaultNResults = 5

type selection struct {
	Index             *int       `json:"INDEX"`
	Intent            flexString `json:"INTENT"`
	Explanation       flexString `json:"EXPLANATION"`
	RephrasedQuery    flexString `json:"REPHRASED_QUERY"`
	NoInfoExplanation flexString `json:"NO_INFO_EXPLANATION"`
}

// Retriever finds the guide step for a routed query or incident and checks
// it against the session anchor before handing it on.
type Retriever struct {
	profile   dialogue.Profile
	Search    knowledge.Retriever
	Table     *knowledge.Table
	LLM       llm.LLMClient
	Reranker  llm.RerankerClient
	Incidents incident.Lookup
	Prompts   config.Prompts
	NResults  int
	log       *zap.Logger
}

func NewRetriever(p dialogue.Profile, search knowledge.Retriever, table *knowledge.Table, client llm.LLMClient, prompts config.Prompts, log *zap.Logger) *Retriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &Retriever{
		profile:  p,
		Search:   search,
		Table:    table,
		LLM:      client,
		Prompts:  prompts,
		NResults: defaultNResults,
		log:      log,
	}
}

func (r *Retriever) Profile() dialogue.Profile { return r.profile }

func (r *Retriever) Reply(ctx context.Context, turn dialogue.Turn) (transcript.Payload, error) {
	in := turn.Inbound.Content
	switch {
	case in.Has(transcript.KeyQuery):
		return r.answerQuery(ctx, turn.Session, in.String(transcript.KeyQuery), in.Token()), nil
	case in.Has(transcript.KeyIncidentID):
		return r.answerIncident(ctx, turn.Session, in.String(transcript.KeyIncidentID)), nil
	}
	return noInfo(r.Prompts.Notices.NoMatch, ""), nil
}

func (r *Retriever) answerQuery(ctx context.Context, s *dialogue.Session, query, token string) transcript.Payload {
	nodes := r.search(ctx, knowledge.Query{Text: query, Limit: r.NResults})
	if len(nodes) == 0 {
		s.Continuity.Reset()
		return noInfo(r.Prompts.Notices.NoMatch, "")
	}
	nodes = r.rerank(ctx, query, nodes)

	sel := r.choose(ctx, query, nodes)
	if sel.Index == nil {
		s.Continuity.Reset()
		if continuity.ParseToken(token) == continuity.Mitigate {
			return noInfo(r.Prompts.Notices.Mitigated, continuity.Resolved.String())
		}
		return transcript.Payload{
			transcript.KeyNoInfo:            string(sel.NoInfoExplanation),
			transcript.KeyNoInfoExplanation: string(sel.NoInfoExplanation),
		}
	}

	res := s.Continuity.Validate(nodes[*sel.Index], continuity.ParseToken(token))
	r.log.Debug("retrieval validated",
		zap.String("session", s.ID),
		zap.String("title", nodes[*sel.Index].Title),
		zap.Stringer("verdict", res.Verdict))

	switch res.Verdict {
	case continuity.Resolved:
		return noInfo(r.Prompts.Notices.Mitigated, res.Verdict.String())
	case continuity.InconsistentContinue:
		return noInfo(r.Prompts.Notices.ContinueRejected, res.Verdict.String())
	case continuity.InconsistentCross:
		return noInfo(r.Prompts.Notices.CrossRejected, res.Verdict.String())
	}

	explanation := string(sel.Explanation)
	if sel.RephrasedQuery != "" {
		explanation += "\nRephrased query: " + string(sel.RephrasedQuery)
	}
	return transcript.Payload{
		transcript.KeyInfo:        res.Node,
		transcript.KeyExplanation: explanation,
		transcript.KeyQuery:       query,
		transcript.KeyVerdict:     res.Verdict.String(),
	}
}

// answerIncident anchors the session on the first step of the guide for the
// incident's monitor.
func (r *Retriever) answerIncident(ctx context.Context, s *dialogue.Session, id string) transcript.Payload {
	if r.Incidents == nil {
		return noInfo(r.Prompts.Notices.UnknownIncident, "")
	}
	inc, err := r.Incidents.Get(ctx, id)
	if err != nil {
		r.log.Warn("incident lookup failed", zap.String("incident", id), zap.Error(err))
		return noInfo(r.Prompts.Notices.UnknownIncident, "")
	}

	query := inc.Title + "\n" + inc.Summary
	nodes := r.search(ctx, knowledge.Query{
		Text:   query,
		Filter: knowledge.Filter{Monitor: inc.MonitorID, FirstOnly: true},
		Limit:  r.NResults,
	})
	if len(nodes) == 0 {
		return noInfo(r.Prompts.Notices.NoMatch, "")
	}

	node := nodes[0]
	node.IncidentDetails = inc.Details()
	s.Continuity.Rebase(node)
	return transcript.Payload{
		transcript.KeyInfo:       node,
		transcript.KeyQuery:      fmt.Sprintf("Incident %s: %s", inc.ID, inc.Title),
		transcript.KeyIncidentID: inc.ID,
		transcript.KeyVerdict:    continuity.Accepted.String(),
	}
}

func (r *Retriever) search(ctx context.Context, q knowledge.Query) []*model.Node {
	ids, err := r.Search.Search(ctx, q)
	if err != nil {
		r.log.Warn("guide search failed", zap.String("query", q.Text), zap.Error(err))
		return nil
	}
	return r.Table.Resolve(ids)
}

func (r *Retriever) rerank(ctx context.Context, query string, nodes []*model.Node) []*model.Node {
	if r.Reranker == nil || len(nodes) < 2 {
		return nodes
	}
	docs := make([]string, len(nodes))
	for i, n := range nodes {
		docs[i] = n.Document()
	}
	order, err := r.Reranker.Rank(ctx, query, docs)
	if err != nil || len(order) != len(nodes) {
		return nodes
	}
	out := make([]*model.Node, len(nodes))
	for i, idx := range order {
		if idx < 0 || idx >= len(nodes) {
			return nodes
		}
		out[i] = nodes[idx]
	}
	return out
}

// choose asks the model which candidate answers the query. Any unusable
// answer selects the top candidate.
func (r *Retriever) choose(ctx context.Context, query string, nodes []*model.Node) selection {
	top := 0
	fallback := selection{Index: &top}
	if r.LLM == nil {
		return fallback
	}

	var list strings.Builder
	for i, n := range nodes {
		fmt.Fprintf(&list, "%d: %s\n", i, nodeJSON(n))
	}
	resp, err := r.LLM.Generate(ctx, fmt.Sprintf(r.Prompts.Retrieve, query, list.String()))
	if err != nil {
		r.log.Warn("candidate selection failed, using top result", zap.Error(err))
		return fallback
	}

	picks, err := common.ParseJSONList[selection](resp)
	if err != nil || len(picks) == 0 {
		r.log.Warn("unusable selection, using top result", zap.String("response", resp), zap.Error(err))
		return fallback
	}
	sel := picks[0]
	switch {
	case sel.Index != nil && *sel.Index >= 0 && *sel.Index < len(nodes):
		return sel
	case sel.Index == nil && sel.NoInfoExplanation != "":
		return sel
	}
	return fallback
}
