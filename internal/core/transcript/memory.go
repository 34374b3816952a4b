package transcript

import (
	"strings"

	"github.com/agenthands/tsgcopilot/internal/config"
)

const (
	delimQuery    = "<USER_QUERY>:\n"
	delimInfo     = "<INFO>:\n"
	delimResponse = "<RESPONSE>:\n"
)

// Classifier decides which memory entry, if any, a message produces.
// The user, excluded and one-way sets are disjoint by construction: a name
// is checked against them in that order.
type Classifier struct {
	user     map[string]bool
	excluded map[string]bool
	oneWay   map[string]bool

	UserLabel      string
	AssistantLabel string
	RetrievalLabel string
}

func NewClassifier(cfg config.MemoryConfig) *Classifier {
	c := &Classifier{
		user:           toSet(cfg.User),
		excluded:       toSet(cfg.Exclude),
		oneWay:         toSet(cfg.OneWay),
		UserLabel:      cfg.UserLabel,
		AssistantLabel: cfg.AssistantLabel,
		RetrievalLabel: cfg.RetrievalLabel,
	}
	if c.UserLabel == "" {
		c.UserLabel = "User"
	}
	if c.AssistantLabel == "" {
		c.AssistantLabel = "Assistant"
	}
	if c.RetrievalLabel == "" {
		c.RetrievalLabel = "Node Retrieval"
	}
	return c
}

func toSet(names []string) map[string]bool {
	m := make(map[string]bool, len(names))
	for _, n := range names {
		m[n] = true
	}
	return m
}

func (c *Classifier) IsUser(name string) bool     { return c.user[name] }
func (c *Classifier) IsExcluded(name string) bool { return c.excluded[name] }
func (c *Classifier) IsOneWay(name string) bool   { return c.oneWay[name] }

// Classify returns the memory entry for msg.
func (c *Classifier) Classify(msg Message) (Entry, bool) {
	switch {
	case c.user[msg.Author]:
		query, info := SplitUserContent(userText(msg.Content))
		if query == "" {
			return Entry{}, false
		}
		return Entry{Utterance: c.UserLabel + ": " + query, SideInfo: info}, true

	case c.excluded[msg.Author]:
		return Entry{}, false

	case c.oneWay[msg.Content.Next()]:
		// messages handed to a one-way participant become retrieval context
		for _, key := range []string{KeyResponse, KeyNoInfoExplanation} {
			if v := strings.TrimSpace(msg.Content.String(key)); v != "" {
				return Entry{Utterance: c.RetrievalLabel + ": " + v}, true
			}
		}
		return Entry{}, false
	}

	response := strings.TrimSpace(msg.Content.String(KeyResponse))
	if response == "" {
		response = strings.TrimSpace(msg.Content.Text())
	}
	if response == "" {
		return Entry{}, false
	}
	return Entry{Utterance: c.AssistantLabel + ": " + response}, true
}

func userText(p Payload) string {
	if t := p.Text(); t != "" {
		return t
	}
	return p.String(KeyQuery)
}

// SplitUserContent separates a delimited user message into the query and
// the side information. Content without the query delimiter is the query.
func SplitUserContent(content string) (query, info string) {
	idx := strings.Index(content, delimQuery)
	if idx == -1 {
		return strings.TrimSpace(content), ""
	}
	rest := content[idx+len(delimQuery):]
	query, after, found := strings.Cut(rest, delimInfo)
	if !found {
		query, _, _ = strings.Cut(rest, delimResponse)
		return strings.TrimSpace(query), ""
	}
	info, _, _ = strings.Cut(after, delimResponse)
	return strings.TrimSpace(query), strings.TrimSpace(info)
}

// joinUserContent is the inverse of SplitUserContent.
func joinUserContent(query, info string) string {
	return delimQuery + query + "\n" + delimInfo + info + "\n" + delimResponse
}
