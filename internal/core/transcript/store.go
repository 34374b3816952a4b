package transcript

import (
	"errors"
	"strings"
	"time"
)

var ErrEmptyAuthor = errors.New("transcript: message author is empty")

// Message is one turn. Seq is assigned by the store on append.
type Message struct {
	Author    string    `json:"author"`
	Content   Payload   `json:"content"`
	Seq       int       `json:"seq"`
	CreatedAt time.Time `json:"created_at"`
}

// Entry is one line of conversational memory.
type Entry struct {
	Utterance string `json:"utterance"`
	SideInfo  string `json:"side_info,omitempty"`
}

// Snapshot is the persisted form of a store.
type Snapshot struct {
	Messages []Message `json:"messages"`
	Memory   []Entry   `json:"memory"`
}

// Store keeps the append-only transcript and the memory derived from it.
// It is not safe for concurrent use; sessions serialize access.
type Store struct {
	classifier *Classifier
	messages   []Message
	memory     []Entry
	Now        func() time.Time
}

func NewStore(classifier *Classifier) *Store {
	return &Store{
		classifier: classifier,
		Now:        time.Now,
	}
}

// Append adds msg at the tail and returns it with its sequence index set.
func (s *Store) Append(msg Message) (Message, error) {
	if strings.TrimSpace(msg.Author) == "" {
		return Message{}, ErrEmptyAuthor
	}
	if msg.Content == nil {
		msg.Content = Payload{}
	}
	msg.Seq = len(s.messages)
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = s.Now().UTC()
	}
	s.messages = append(s.messages, msg)
	return msg, nil
}

// DeriveMemory classifies msg and appends the resulting entry, if any.
func (s *Store) DeriveMemory(msg Message) (Entry, bool) {
	entry, ok := s.classifier.Classify(msg)
	if !ok {
		return Entry{}, false
	}
	s.memory = append(s.memory, entry)
	return entry, true
}

// RenderMemory joins the memory into a single context block, oldest first.
func (s *Store) RenderMemory() string {
	lines := make([]string, len(s.memory))
	for i, e := range s.memory {
		lines[i] = e.Utterance
	}
	return strings.Join(lines, "\n")
}

func (s *Store) Len() int { return len(s.messages) }

func (s *Store) Last() (Message, bool) {
	if len(s.messages) == 0 {
		return Message{}, false
	}
	return s.messages[len(s.messages)-1], true
}

func (s *Store) Messages() []Message {
	out := make([]Message, len(s.messages))
	copy(out, s.messages)
	return out
}

func (s *Store) Entries() []Entry {
	out := make([]Entry, len(s.memory))
	copy(out, s.memory)
	return out
}

func (s *Store) Snapshot() Snapshot {
	return Snapshot{Messages: s.Messages(), Memory: s.Entries()}
}

func (s *Store) Restore(snap Snapshot) {
	s.messages = append([]Message(nil), snap.Messages...)
	s.memory = append([]Entry(nil), snap.Memory...)
}
