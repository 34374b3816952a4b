// Package knowledge holds the troubleshooting-guide node table and the
// retrievers that search it.
package knowledge

import (
	"context"
	"errors"
	"sync"

	"github.com/google/uuid"

	"github.com/agenthands/tsgcopilot/internal/core/model"
)

var ErrNoGuides = errors.New("no guide nodes found")

// nodeNamespace seeds deterministic node ids so re-ingesting a guide updates
// the same graph nodes.
var nodeNamespace = uuid.MustParse("6f1c1bde-6a3f-4f55-9d55-2b1a4c0e7d21")

// Filter narrows a search. Zero value matches every node.
type Filter struct {
	Monitor   string
	FirstOnly bool
}

func (f Filter) Match(n *model.Node) bool {
	if f.Monitor != "" && n.Monitor != f.Monitor {
		return false
	}
	if f.FirstOnly && !n.First() {
		return false
	}
	return true
}

type Query struct {
	Text   string
	Filter Filter
	Limit  int
}

// Retriever returns node ids ordered by relevance. Ids resolve through the
// Table the retriever was built over.
type Retriever interface {
	Search(ctx context.Context, q Query) ([]string, error)
}

// NodeID derives a stable id from a node's content.
func NodeID(n *model.Node) string {
	key := n.Title + "\x00" + n.Type + "\x00" + n.Intent + "\x00" + n.Action
	return uuid.NewSHA1(nodeNamespace, []byte(key)).String()
}

// Table is the in-process node table. Safe for concurrent use.
type Table struct {
	mu      sync.RWMutex
	nodes   map[string]*model.Node
	order   []string
	version uint64
}

func NewTable(nodes ...*model.Node) *Table {
	t := &Table{nodes: make(map[string]*model.Node)}
	for _, n := range nodes {
		t.Add(n)
	}
	return t
}

// Add stores a copy of n, assigning an id when it has none, and returns the id.
func (t *Table) Add(n *model.Node) string {
	c := n.Clone()
	if c.ID == "" {
		c.ID = NodeID(c)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if _, ok := t.nodes[c.ID]; !ok {
		t.order = append(t.order, c.ID)
	}
	t.nodes[c.ID] = c
	t.version++
	return c.ID
}

// Get returns a copy of the node.
func (t *Table) Get(id string) (*model.Node, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	n, ok := t.nodes[id]
	if !ok {
		return nil, false
	}
	return n.Clone(), true
}

// Resolve maps ids to nodes, skipping unknown ids.
func (t *Table) Resolve(ids []string) []*model.Node {
	out := make([]*model.Node, 0, len(ids))
	for _, id := range ids {
		if n, ok := t.Get(id); ok {
			out = append(out, n)
		}
	}
	return out
}

// Nodes returns copies of all nodes in insertion order.
func (t *Table) Nodes() []*model.Node {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]*model.Node, 0, len(t.order))
	for _, id := range t.order {
		out = append(out, t.nodes[id].Clone())
	}
	return out
}

// Version changes on every Add.
func (t *Table) Version() uint64 {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.version
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.order)
}
