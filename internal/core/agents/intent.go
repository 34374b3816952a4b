package agents

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/common"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

// Router decisions.
const (
	DecisionNewIncident = "NEW_INCIDENT"
	DecisionNewQuery    = "NEW_QUERY"
	DecisionNotRelated  = "NOT_RELATED"
	DecisionMatched     = "MATCHED"
	DecisionRefine      = "REFINE"
	DecisionRelated     = "RELATED"
	DecisionMitigated   = "MITIGATED"
)

type intentAnswer struct {
	Decision   flexString `json:"DECISION"`
	Next       flexString `json:"NEXT"`
	Query      flexString `json:"QUERY"`
	Token      flexString `json:"TOKEN"`
	Response   flexString `json:"RESPONSE"`
	IncidentID flexString `json:"IncidentId"`
}

// Intent classifies each inbound message and routes it with a decision.
type Intent struct {
	profile dialogue.Profile
	LLM     llm.LLMClient
	Prompts config.Prompts
	// Fallback receives the turn when the model gives no usable answer.
	Fallback string
	log      *zap.Logger
}

func NewIntent(p dialogue.Profile, client llm.LLMClient, prompts config.Prompts, fallback string, log *zap.Logger) *Intent {
	if log == nil {
		log = zap.NewNop()
	}
	return &Intent{profile: p, LLM: client, Prompts: prompts, Fallback: fallback, log: log}
}

func (a *Intent) Profile() dialogue.Profile { return a.profile }

func (a *Intent) Reply(ctx context.Context, turn dialogue.Turn) (transcript.Payload, error) {
	in := turn.Inbound.Content
	query := inboundQuery(in)
	info, _ := infoText(in)
	noInfo := in.String(transcript.KeyNoInfo)
	history := turn.Session.Memory()
	memLen := len(turn.Session.Transcript.Entries())

	instructions, slot := a.variant(info, noInfo, history, memLen)
	prompt := a.Prompts.IntentSystem + instructions + "\n" + fmt.Sprintf(a.Prompts.Exchange, query, slot, history)

	resp, err := a.LLM.Generate(ctx, prompt)
	if err != nil {
		a.log.Warn("intent generation failed", zap.Error(err))
		return a.fallback(), nil
	}
	ans, err := common.ParseJSON[intentAnswer](resp)
	if err != nil || ans.Decision == "" {
		a.log.Warn("unusable intent answer", zap.String("response", resp), zap.Error(err))
		return a.fallback(), nil
	}

	out := transcript.Payload{
		transcript.KeyDecision: strings.ToUpper(strings.TrimSpace(string(ans.Decision))),
		transcript.KeyResponse: string(ans.Response),
	}
	if ans.Next != "" {
		out[transcript.KeyNext] = strings.TrimSpace(string(ans.Next))
	}
	if ans.Query != "" {
		out[transcript.KeyQuery] = string(ans.Query)
	}
	if ans.Token != "" {
		out[transcript.KeyToken] = strings.TrimSpace(string(ans.Token))
	}
	if ans.IncidentID != "" {
		out[transcript.KeyIncidentID] = strings.TrimSpace(string(ans.IncidentID))
	}
	return out, nil
}

// variant picks the instructions for the inbound message and the text
// placed in the info slot.
func (a *Intent) variant(info, noInfo, history string, memLen int) (string, string) {
	switch {
	case info == "" && noInfo == "" && memLen == 1:
		return a.Prompts.IntentNewQuery, info
	case info == "" && noInfo != "":
		return a.Prompts.IntentIrrelevant, noInfo
	case info == "" && history != "":
		return a.Prompts.IntentJudgeQuery, info
	case info != "":
		return a.Prompts.IntentJudgeInfo, info
	}
	return a.Prompts.IntentNewQuery, info
}

func (a *Intent) fallback() transcript.Payload {
	out := transcript.Payload{
		transcript.KeyDecision: DecisionNotRelated,
		transcript.KeyResponse: a.Prompts.Notices.Failed,
	}
	if a.Fallback != "" {
		out[transcript.KeyNext] = a.Fallback
	}
	return out
}
