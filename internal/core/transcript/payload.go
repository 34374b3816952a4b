package transcript

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/agenthands/tsgcopilot/internal/core/model"
)

// Payload keys shared by every participant.
const (
	KeyText              = "text"
	KeyNext              = "next"
	KeyToken             = "token"
	KeyTerminate         = "terminate"
	KeyDecision          = "decision"
	KeyQuery             = "query"
	KeyResponse          = "response"
	KeyInfo              = "info"
	KeyNoInfo            = "no_info"
	KeyNoInfoExplanation = "no_info_explanation"
	KeyExplanation       = "explanation"
	KeyIncidentID        = "incident_id"
	KeyTitle             = "title"
	KeyVerdict           = "verdict"
)

// Payload is the structured content of a turn message: a free-text field
// plus optional routing and domain fields.
type Payload map[string]any

// Text builds a payload holding only free text.
func Text(s string) Payload {
	return Payload{KeyText: s}
}

// String returns the value under key when it is a string.
func (p Payload) String(key string) string {
	if p == nil {
		return ""
	}
	switch v := p[key].(type) {
	case string:
		return v
	case fmt.Stringer:
		return v.String()
	}
	return ""
}

// Has reports whether key holds a non-empty value.
func (p Payload) Has(key string) bool {
	v, ok := p[key]
	if !ok || v == nil {
		return false
	}
	if s, isString := v.(string); isString {
		return strings.TrimSpace(s) != ""
	}
	return true
}

func (p Payload) Text() string  { return p.String(KeyText) }
func (p Payload) Next() string  { return p.String(KeyNext) }
func (p Payload) Token() string { return p.String(KeyToken) }

func (p Payload) Terminate() bool {
	b, _ := p[KeyTerminate].(bool)
	return b
}

// Node decodes a node stored under key. Values that went through a JSON
// round trip come back as plain maps.
func (p Payload) Node(key string) (*model.Node, bool) {
	switch v := p[key].(type) {
	case *model.Node:
		return v, v != nil
	case model.Node:
		return &v, true
	case map[string]any:
		data, err := json.Marshal(v)
		if err != nil {
			return nil, false
		}
		var n model.Node
		if err := json.Unmarshal(data, &n); err != nil {
			return nil, false
		}
		return &n, true
	}
	return nil, false
}

// Clone returns a shallow copy.
func (p Payload) Clone() Payload {
	out := make(Payload, len(p))
	for k, v := range p {
		out[k] = v
	}
	return out
}

// Summary renders the payload for display and oracle prompts.
func (p Payload) Summary() string {
	for _, key := range []string{KeyResponse, KeyText, KeyQuery, KeyNoInfo, KeyNoInfoExplanation} {
		if s := p.String(key); s != "" {
			return s
		}
	}
	if n, ok := p.Node(KeyInfo); ok {
		return n.Title + ": " + n.Intent
	}
	data, err := json.Marshal(p)
	if err != nil {
		return ""
	}
	return string(data)
}
