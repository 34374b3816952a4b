package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/agenthands/tsgcopilot/internal/config"
	"github.com/agenthands/tsgcopilot/internal/core/model"
	"github.com/agenthands/tsgcopilot/internal/driver"
	"github.com/agenthands/tsgcopilot/internal/knowledge"
	"github.com/agenthands/tsgcopilot/internal/llm"
)

var (
	ingestPath     string
	ingestMarkdown bool
	ingestUseLLM   bool
	ingestOut      string
	ingestMonitors map[string]string
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Load troubleshooting guides into the knowledge graph",
	Long: `Load guide element files (.json, .yaml) or markdown guides into Memgraph.

With --markdown each .md file becomes one guide titled after the file name.
With --out the nodes are written to a guide element file instead, ready for
the in-process table backend.`,
	RunE: runIngest,
}

func init() {
	ingestCmd.Flags().StringVarP(&ingestPath, "path", "p", "", "Guide file or directory (default: knowledge.tsg_path)")
	ingestCmd.Flags().BoolVar(&ingestMarkdown, "markdown", false, "Convert markdown guides")
	ingestCmd.Flags().BoolVar(&ingestUseLLM, "llm", true, "Use the LLM to split markdown guides into elements")
	ingestCmd.Flags().StringVarP(&ingestOut, "out", "o", "", "Write nodes to this JSON file instead of Memgraph")
	ingestCmd.Flags().StringToStringVar(&ingestMonitors, "monitor", nil, "Guide title to monitor id, e.g. --monitor disk-full=m-123")
	rootCmd.AddCommand(ingestCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := context.Background()
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	path := ingestPath
	if path == "" {
		path = cfg.Knowledge.TSGPath
	}
	if path == "" {
		return fmt.Errorf("%w: no guide path given", config.ErrInvalid)
	}

	gen, emb, err := llm.NewClient(ctx, cfg.LLM, logger.Named("llm"))
	if err != nil {
		logger.Warn("LLM unavailable, continuing without it", zap.Error(err))
		gen, emb = nil, nil
	}

	var nodes []*model.Node
	if ingestMarkdown {
		nodes, err = convertMarkdown(ctx, cfg, gen, path)
	} else {
		nodes, err = knowledge.Load(path)
	}
	if err != nil {
		return err
	}
	logger.Info("guides loaded", zap.String("path", path), zap.Int("nodes", len(nodes)))

	if ingestOut != "" {
		return writeNodes(ingestOut, nodes)
	}

	d, err := driver.NewMemgraphDriver(ctx, cfg.Memgraph.URI, cfg.Memgraph.User, cfg.Memgraph.Password, logger.Named("memgraph"))
	if err != nil {
		return fmt.Errorf("failed to connect to Memgraph: %w", err)
	}
	defer d.Close(ctx)

	ids, err := knowledge.NewIngester(d, emb, cfg.Concurrency.BulkIngest, logger.Named("ingest")).Ingest(ctx, nodes)
	if err != nil {
		return err
	}
	logger.Info("guides ingested", zap.Int("nodes", len(ids)))
	return nil
}

func convertMarkdown(ctx context.Context, cfg *config.Config, gen llm.LLMClient, path string) ([]*model.Node, error) {
	files, err := markdownFiles(path)
	if err != nil {
		return nil, err
	}

	r := knowledge.NewReformulator(gen, cfg.Prompts, cfg.Concurrency.BulkIngest, logger.Named("reformulate"))
	for title, monitor := range ingestMonitors {
		r.Monitors[title] = monitor
	}

	var out []*model.Node
	for _, f := range files {
		data, err := os.ReadFile(f)
		if err != nil {
			return nil, fmt.Errorf("read %s: %w", f, err)
		}
		name := strings.TrimSuffix(filepath.Base(f), filepath.Ext(f))
		nodes, err := r.Convert(ctx, name, string(data), ingestUseLLM)
		if err != nil {
			return nil, err
		}
		logger.Debug("guide converted", zap.String("guide", name), zap.Int("nodes", len(nodes)))
		out = append(out, nodes...)
	}
	return out, nil
}

func markdownFiles(path string) ([]string, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return []string{path}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, err
	}
	var files []string
	for _, e := range entries {
		if !e.IsDir() && strings.EqualFold(filepath.Ext(e.Name()), ".md") {
			files = append(files, filepath.Join(path, e.Name()))
		}
	}
	if len(files) == 0 {
		return nil, fmt.Errorf("%w: no markdown files in %s", knowledge.ErrNoGuides, path)
	}
	sort.Strings(files)
	return files, nil
}

func writeNodes(path string, nodes []*model.Node) error {
	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetIndent("", "  ")
	enc.SetEscapeHTML(false)
	if err := enc.Encode(nodes); err != nil {
		return err
	}
	if err := os.WriteFile(path, buf.Bytes(), 0o644); err != nil {
		return fmt.Errorf("write %s: %w", path, err)
	}
	logger.Info("guide elements written", zap.String("path", path), zap.Int("nodes", len(nodes)))
	return nil
}
