package knowledge

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"sort"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

// vectorWeight is the share of the vector score in the hybrid ranking.
const vectorWeight = 0.7

// GraphRetriever searches guide nodes stored in Memgraph. Candidates are
// filtered in Cypher and ranked in process by cosine similarity blended with
// their bm25 keyword score.
type GraphRetriever struct {
	Driver   driver.GraphDriver
	Embedder llm.EmbedderClient
	// Concurrency bounds the embedding calls for candidates stored without
	// an embedding.
	Concurrency int
	log         *zap.Logger
}

func NewGraphRetriever(d driver.GraphDriver, embedder llm.EmbedderClient, concurrency int, log *zap.Logger) *GraphRetriever {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &GraphRetriever{Driver: d, Embedder: embedder, Concurrency: concurrency, log: log}
}

type scored struct {
	id    string
	score float64
}

func (r *GraphRetriever) Search(ctx context.Context, q Query) ([]string, error) {
	var queryVector []float32
	if r.Embedder != nil && q.Text != "" {
		vec, err := r.Embedder.Embed(ctx, q.Text)
		if err != nil {
			r.log.Warn("query embedding failed, using keyword score only", zap.Error(err))
		} else {
			queryVector = vec
		}
	}

	params := map[string]interface{}{
		"monitor":    q.Filter.Monitor,
		"first_only": q.Filter.FirstOnly,
	}
	result, err := r.Driver.ExecuteQuery(ctx, driver.SearchGuideNodesQuery, params)
	if err != nil {
		return nil, fmt.Errorf("search guide nodes: %w", err)
	}

	var nodes []*model.Node
	var vectors [][]float32
	for _, rec := range result.Records {
		id := recordString(rec, "uuid")
		if id == "" {
			continue
		}
		nodes = append(nodes, &model.Node{
			ID:     id,
			Title:  recordString(rec, "title"),
			Intent: recordString(rec, "intent"),
			Action: recordString(rec, "action"),
		})
		emb, _ := rec.Get("embedding")
		vectors = append(vectors, toFloat32s(emb))
	}
	if len(queryVector) > 0 {
		r.embedMissing(ctx, nodes, vectors)
	}
	keyword := r.keywordScores(ctx, q.Text, nodes)

	hits := make([]scored, len(nodes))
	for i, n := range nodes {
		score := keyword[n.ID]
		if len(queryVector) > 0 && len(vectors[i]) > 0 {
			score = vectorWeight*Cosine(queryVector, vectors[i]) + (1-vectorWeight)*score
		}
		hits[i] = scored{id: n.ID, score: score}
	}
	sort.SliceStable(hits, func(i, j int) bool { return hits[i].score > hits[j].score })

	ids := make([]string, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.id)
	}
	if q.Limit > 0 && len(ids) > q.Limit {
		ids = ids[:q.Limit]
	}
	return ids, nil
}

// embedMissing fills in vectors for candidates ingested without an
// embedder. Failed embeddings stay empty and rank on keywords alone.
func (r *GraphRetriever) embedMissing(ctx context.Context, nodes []*model.Node, vectors [][]float32) {
	var g errgroup.Group
	g.SetLimit(r.Concurrency)
	for i, n := range nodes {
		if len(vectors[i]) > 0 {
			continue
		}
		g.Go(func() error {
			vec, err := r.Embedder.Embed(ctx, n.Document())
			if err != nil {
				r.log.Debug("candidate embedding failed", zap.String("uuid", n.ID), zap.Error(err))
				return nil
			}
			vectors[i] = vec
			return nil
		})
	}
	_ = g.Wait()
}

// keywordScores ranks the candidates in a throwaway full-text index.
func (r *GraphRetriever) keywordScores(ctx context.Context, text string, nodes []*model.Node) map[string]float64 {
	scores := make(map[string]float64, len(nodes))
	if text == "" || len(nodes) == 0 {
		return scores
	}
	idx, err := NewIndex(ctx)
	if err != nil {
		r.log.Warn("keyword index unavailable", zap.Error(err))
		return scores
	}
	defer func() { _ = idx.Close() }()

	if err := idx.Reset(ctx, nodes); err != nil {
		r.log.Warn("keyword indexing failed", zap.Error(err))
		return scores
	}
	hits, err := idx.Search(ctx, Query{Text: text})
	if err != nil {
		r.log.Warn("keyword search failed", zap.Error(err))
		return scores
	}
	for _, h := range hits {
		scores[h.ID] = h.Score
	}
	return scores
}

// Hydrate loads every stored guide node into a new table.
func (r *GraphRetriever) Hydrate(ctx context.Context) (*Table, error) {
	result, err := r.Driver.ExecuteQuery(ctx, driver.GetGuideNodesQuery, nil)
	if err != nil {
		return nil, fmt.Errorf("load guide nodes: %w", err)
	}

	table := NewTable()
	for _, rec := range result.Records {
		n := &model.Node{
			ID:      recordString(rec, "uuid"),
			Type:    recordString(rec, "type"),
			Title:   recordString(rec, "title"),
			Intent:  recordString(rec, "intent"),
			Action:  recordString(rec, "action"),
			Output:  recordString(rec, "output"),
			Monitor: recordString(rec, "monitor"),
			IsFirst: "No",
		}
		if first, _ := rec.Get("is_first"); first == true {
			n.IsFirst = "Yes"
		}
		if raw := recordString(rec, "default_parameters"); raw != "" {
			var p model.Params
			if err := json.Unmarshal([]byte(raw), &p); err != nil {
				r.log.Warn("bad default parameters", zap.String("uuid", n.ID), zap.Error(err))
			} else {
				n.DefaultParameters = p
			}
		}
		table.Add(n)
	}
	if table.Len() == 0 {
		return nil, ErrNoGuides
	}
	r.log.Info("loaded guide nodes from graph", zap.Int("count", table.Len()))
	return table, nil
}

func recordString(rec *neo4j.Record, key string) string {
	v, _ := rec.Get(key)
	s, _ := v.(string)
	return s
}

func toFloat32s(v any) []float32 {
	switch vec := v.(type) {
	case []float32:
		return vec
	case []float64:
		out := make([]float32, len(vec))
		for i, f := range vec {
			out[i] = float32(f)
		}
		return out
	case []any:
		out := make([]float32, 0, len(vec))
		for _, e := range vec {
			switch f := e.(type) {
			case float64:
				out = append(out, float32(f))
			case float32:
				out = append(out, f)
			case int64:
				out = append(out, float32(f))
			default:
				return nil
			}
		}
		return out
	}
	return nil
}

// Cosine returns the cosine similarity of a and b, or 0 when the lengths
// differ or either vector is zero.
func Cosine(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return dot / (math.Sqrt(na) * math.Sqrt(nb))
}
