package main

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core"
	"github.com/agenthands/tsgcopilot/internal/driver"
	"github.com/agenthands/tsgcopilot/internal/incident"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/llm"
	"github.com/agenthands/tsgcopilot/internal/session"
)

const defaultConfigPath = "config/config.toml"

// loadConfig reads the config file when one is given or present, then
// applies environment overrides.
func loadConfig() (*config.Config, error) {
	path := configPath
	if path == "" {
		path = os.Getenv("CONFIG_PATH")
	}
	if path == "" {
		if _, err := os.Stat(defaultConfigPath); err == nil {
			path = defaultConfigPath
		}
	}

	cfg := config.Default()
	if path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
		logger.Debug("loaded config", zap.String("path", path))
	}
	cfg.ApplyEnv()
	return cfg, nil
}

// engine holds the copilot and the resources it must release.
type engine struct {
	cfg      *config.Config
	copilot  *core.Copilot
	sessions session.Store
	driver   *driver.MemgraphDriver
	index    *knowledge.TableRetriever
}

func (e *engine) Close(ctx context.Context) {
	if e.index != nil {
		if err := e.index.Close(); err != nil {
			logger.Warn("failed to close guide index", zap.Error(err))
		}
	}
	if e.sessions != nil {
		if err := e.sessions.Close(); err != nil {
			logger.Warn("failed to close session store", zap.Error(err))
		}
	}
	if e.driver != nil {
		if err := e.driver.Close(ctx); err != nil {
			logger.Warn("failed to close memgraph driver", zap.Error(err))
		}
	}
}

func buildEngine(ctx context.Context) (*engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	gen, emb, err := llm.NewClient(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		return nil, fmt.Errorf("failed to initialize LLM client: %w", err)
	}

	e := &engine{cfg: cfg}
	deps := core.Deps{LLM: gen}

	switch cfg.Knowledge.Backend {
	case "graph":
		d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger.Named("memgraph"))
		if err != nil {
			return nil, fmt.Errorf("failed to connect to Memgraph: %w", err)
		}
		e.driver = d
		graph := knowledge.NewGraphRetriever(d, emb, cfg.Concurrency.BulkSearch, logger.Named("knowledge"))
		table, err := graph.Hydrate(ctx)
		if err != nil {
			_ = d.Close(ctx)
			return nil, fmt.Errorf("failed to load guide nodes: %w", err)
		}
		deps.Search, deps.Table = graph, table
		deps.Incidents = incident.NewGraphLookup(d)

	default:
		table, err := knowledge.LoadTable(cfg.Knowledge.TSGPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load guides from %s: %w", cfg.Knowledge.TSGPath, err)
		}
		e.index = knowledge.NewTableRetriever(table, logger.Named("knowledge"))
		deps.Search, deps.Table = e.index, table
		deps.Incidents = incident.NewStatic()
	}
	logger.Info("knowledge base ready",
		zap.String("backend", cfg.Knowledge.Backend),
		zap.Int("nodes", deps.Table.Len()))

	if cfg.Knowledge.Rerank {
		deps.Reranker = llm.NewSimpleLLMReranker(gen)
	}

	store, err := session.New(cfg.Session, logger.Named("session"))
	if err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.sessions = store
	deps.Sessions = store

	copilot, err := core.New(cfg, deps, logger.Named("copilot"))
	if err != nil {
		e.Close(ctx)
		return nil, err
	}
	e.copilot = copilot
	return e, nil
}
