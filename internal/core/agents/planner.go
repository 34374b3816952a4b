package agents

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/common"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

type planAnswer struct {
	Response flexString `json:"RESPONSE"`
}

// Planner turns the anchored guide step into concrete instructions.
type Planner struct {
	profile dialogue.Profile
	LLM     llm.LLMClient
	Prompts config.Prompts
	log     *zap.Logger
}

func NewPlanner(p dialogue.Profile, client llm.LLMClient, prompts config.Prompts, log *zap.Logger) *Planner {
	if log == nil {
		log = zap.NewNop()
	}
	return &Planner{profile: p, LLM: client, Prompts: prompts, log: log}
}

func (a *Planner) Profile() dialogue.Profile { return a.profile }

func (a *Planner) Reply(ctx context.Context, turn dialogue.Turn) (transcript.Payload, error) {
	in := turn.Inbound.Content
	anchor := turn.Session.Continuity.Anchor()

	var (
		query string
		info  string
		node  *model.Node
	)
	switch in.String(transcript.KeyDecision) {
	case DecisionRelated:
		// the stored node, not the router's retelling of it
		query = in.String(transcript.KeyQuery)
		node = anchor
		info = nodeJSON(anchor)
	case DecisionRefine:
		query = in.String(transcript.KeyResponse)
	default:
		query = in.String(transcript.KeyQuery)
		info, node = infoText(in)
		if info == "" {
			info = in.String(transcript.KeyResponse)
		}
	}
	if query == "" {
		query = inboundQuery(in)
	}

	prompt := a.Prompts.Planner + "\n" + fmt.Sprintf(a.Prompts.Exchange, query, info, turn.Session.Memory())
	plan := a.generate(ctx, prompt)
	if plan == "" {
		if node == nil {
			node = anchor
		}
		plan = a.substitute(node)
	}

	title := ""
	if anchor != nil {
		title = anchor.Title
	}
	return transcript.Payload{
		transcript.KeyResponse: plan,
		transcript.KeyTitle:    title,
	}, nil
}

func (a *Planner) generate(ctx context.Context, prompt string) string {
	resp, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		a.log.Warn("plan generation failed, using default parameters", zap.Error(err))
		return ""
	}
	ans, err := common.ParseJSON[planAnswer](resp)
	if err != nil || ans.Response == "" {
		a.log.Warn("unusable plan, using default parameters", zap.String("response", resp), zap.Error(err))
		return ""
	}
	return string(ans.Response)
}

// substitute renders the node with its default parameters when the model
// cannot produce a plan.
func (a *Planner) substitute(node *model.Node) string {
	if node == nil {
		return a.Prompts.Notices.Failed
	}
	return node.Render()
}
