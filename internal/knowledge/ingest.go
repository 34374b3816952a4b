package knowledge

import (
	"context"
	"encoding/json"
	"fmt"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

// Ingester writes guide nodes and their embeddings into the graph.
type Ingester struct {
	Driver      driver.GraphDriver
	Embedder    llm.EmbedderClient
	Concurrency int
	log         *zap.Logger
}

func NewIngester(d driver.GraphDriver, embedder llm.EmbedderClient, concurrency int, log *zap.Logger) *Ingester {
	if log == nil {
		log = zap.NewNop()
	}
	if concurrency < 1 {
		concurrency = 1
	}
	return &Ingester{Driver: d, Embedder: embedder, Concurrency: concurrency, log: log}
}

// Ingest saves every node, then links consecutive steps sharing a title.
// Returns the ids in input order.
func (i *Ingester) Ingest(ctx context.Context, nodes []*model.Node) ([]string, error) {
	if err := i.Driver.BuildIndices(ctx); err != nil {
		return nil, fmt.Errorf("build indices: %w", err)
	}

	ids := make([]string, len(nodes))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(i.Concurrency)
	for idx, n := range nodes {
		g.Go(func() error {
			id, err := i.save(gctx, n)
			if err != nil {
				return fmt.Errorf("save %q: %w", n.Title, err)
			}
			ids[idx] = id
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for k := 1; k < len(nodes); k++ {
		prev, cur := nodes[k-1], nodes[k]
		if prev.Title != cur.Title || prev.Type != "steps" || cur.Type != "steps" {
			continue
		}
		params := map[string]interface{}{"source_uuid": ids[k-1], "target_uuid": ids[k]}
		if _, err := i.Driver.ExecuteQuery(ctx, driver.LinkGuideStepsQuery, params); err != nil {
			return nil, fmt.Errorf("link steps of %q: %w", cur.Title, err)
		}
	}

	i.log.Info("ingested guide nodes", zap.Int("count", len(nodes)))
	return ids, nil
}

func (i *Ingester) save(ctx context.Context, n *model.Node) (string, error) {
	id := n.ID
	if id == "" {
		id = NodeID(n)
	}

	var embedding []float32
	if i.Embedder != nil {
		emb, err := i.Embedder.Embed(ctx, n.Document())
		if err != nil {
			i.log.Warn("embedding failed, node stored without vector", zap.String("title", n.Title), zap.Error(err))
		} else {
			embedding = emb
		}
	}

	params := map[string]interface{}{
		"uuid":               id,
		"type":               n.Type,
		"title":              n.Title,
		"intent":             n.Intent,
		"action":             n.Action,
		"output":             n.Output,
		"default_parameters": "",
		"monitor":            n.Monitor,
		"is_first":           n.First(),
		"embedding":          embedding,
	}
	if len(n.DefaultParameters) > 0 {
		raw, err := json.Marshal(n.DefaultParameters)
		if err != nil {
			return "", err
		}
		params["default_parameters"] = string(raw)
	}

	if _, err := i.Driver.ExecuteQuery(ctx, driver.SaveGuideNodeQuery, params); err != nil {
		return "", err
	}
	return id, nil
}
