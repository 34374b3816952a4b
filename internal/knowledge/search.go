package knowledge

import (
	"context"
	"sync"

	"go.uber.org/zap"
)

// TableRetriever searches the in-process node table through a full-text
// index. The index is rebuilt when the table changes.
type TableRetriever struct {
	Table *Table
	log   *zap.Logger

	mu      sync.Mutex
	index   *Index
	version uint64
	synced  bool
}

func NewTableRetriever(table *Table, log *zap.Logger) *TableRetriever {
	if log == nil {
		log = zap.NewNop()
	}
	return &TableRetriever{Table: table, log: log}
}

func (r *TableRetriever) Search(ctx context.Context, q Query) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.sync(ctx); err != nil {
		return nil, err
	}
	hits, err := r.index.Search(ctx, q)
	if err != nil {
		return nil, err
	}

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ID)
	}
	r.log.Debug("table search", zap.String("query", q.Text), zap.Int("hits", len(ids)))
	return ids, nil
}

func (r *TableRetriever) sync(ctx context.Context) error {
	if r.index == nil {
		idx, err := NewIndex(ctx)
		if err != nil {
			return err
		}
		r.index = idx
	}
	v := r.Table.Version()
	if r.synced && v == r.version {
		return nil
	}
	if err := r.index.Reset(ctx, r.Table.Nodes()); err != nil {
		return err
	}
	r.version, r.synced = v, true
	r.log.Debug("indexed guide nodes", zap.Int("count", r.Table.Len()))
	return nil
}

// Close releases the index.
func (r *TableRetriever) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.index == nil {
		return nil
	}
	err := r.index.Close()
	r.index, r.synced = nil, false
	return err
}
