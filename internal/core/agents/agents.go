// Package agents implements the dialogue participants: the human proxy, the
// intent router, the guide retriever and the planner.
package agents

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/dialogue"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/core/transcript"
	"github.com/agenthands/tsgcopilot/internal/incident"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

// Deps are the collaborators shared by the participants.
type Deps struct {
	LLM       llm.LLMClient
	Search    knowledge.Retriever
	Table     *knowledge.Table
	Reranker  llm.RerankerClient
	Incidents incident.Lookup
	Prompts   config.Prompts
	NResults  int
	Logger    *zap.Logger
}

// Build creates one participant per configured graph node.
func Build(nodes []config.ParticipantConfig, deps Deps) ([]dialogue.Agent, error) {
	log := deps.Logger
	if log == nil {
		log = zap.NewNop()
	}

	var human string
	for _, n := range nodes {
		if dialogue.Role(n.Role) == dialogue.RoleHumanProxy {
			human = n.Name
			break
		}
	}

	out := make([]dialogue.Agent, 0, len(nodes))
	for _, n := range nodes {
		p := dialogue.Profile{Name: n.Name, Role: dialogue.Role(n.Role), Display: n.Display}
		named := log.With(zap.String("agent", n.Name))
		switch p.Role {
		case dialogue.RoleHumanProxy:
			out = append(out, NewUserProxy(p))
		case dialogue.RoleRouter:
			out = append(out, NewIntent(p, deps.LLM, deps.Prompts, human, named))
		case dialogue.RoleRetriever:
			r := NewRetriever(p, deps.Search, deps.Table, deps.LLM, deps.Prompts, named)
			r.Reranker = deps.Reranker
			r.Incidents = deps.Incidents
			if deps.NResults > 0 {
				r.NResults = deps.NResults
			}
			out = append(out, r)
		case dialogue.RolePlanner:
			out = append(out, NewPlanner(p, deps.LLM, deps.Prompts, named))
		default:
			return nil, fmt.Errorf("%w: participant %q has unsupported role %q", config.ErrInvalid, n.Name, n.Role)
		}
	}
	return out, nil
}

// flexString decodes a JSON string, number or object into text. Models
// sometimes answer a string field with a nested object.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexString(s)
		return nil
	}
	if string(data) == "null" {
		*f = ""
		return nil
	}
	*f = flexString(strings.TrimSpace(string(data)))
	return nil
}

// infoText renders inbound info for a prompt: nodes as guide JSON, anything
// else as text.
func infoText(p transcript.Payload) (string, *model.Node) {
	if n, ok := p.Node(transcript.KeyInfo); ok {
		return nodeJSON(n), n
	}
	return p.String(transcript.KeyInfo), nil
}

func nodeJSON(n *model.Node) string {
	if n == nil {
		return ""
	}
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	// placeholders such as <path> must reach the model verbatim
	enc.SetEscapeHTML(false)
	if err := enc.Encode(n); err != nil {
		return n.Document()
	}
	return strings.TrimSpace(buf.String())
}

// inboundQuery returns the query an inbound payload asks about. User turns
// carry it as free text.
func inboundQuery(p transcript.Payload) string {
	if q := p.String(transcript.KeyQuery); q != "" {
		return q
	}
	query, _ := transcript.SplitUserContent(p.Text())
	return query
}

func noInfo(text string, verdict string) transcript.Payload {
	p := transcript.Payload{transcript.KeyNoInfo: text}
	if verdict != "" {
		p[transcript.KeyVerdict] = verdict
	}
	return p
}
