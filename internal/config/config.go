package config

import (
	"errors"
	"fmt"
	"os"
	"strings"

	"github.com/pelletier/go-toml/v2"
)

// ErrInvalid marks configuration problems that must stop startup.
var ErrInvalid = errors.New("invalid configuration")

type LLMConfig struct {
	Provider       string `toml:"provider"`
	Model          string `toml:"model"`
	EmbeddingModel string `toml:"embedding_model"`
	APIKey         string `toml:"api_key"`
	BaseURL        string `toml:"base_url"`
	JSONMode       bool   `toml:"json_mode"`
	MaxRetries     int    `toml:"max_retries"`
	MaxTokens      int    `toml:"max_tokens"`
}

type MemgraphConfig struct {
	URI      string `toml:"uri"`
	User     string `toml:"user"`
	Password string `toml:"password"`
}

type KnowledgeConfig struct {
	// Backend is "graph" (Memgraph) or "table" (in-process keyword search).
	Backend  string `toml:"backend"`
	TSGPath  string `toml:"tsg_path"`
	NResults int    `toml:"n_results"`
	Rerank   bool   `toml:"rerank"`
}

type SessionConfig struct {
	MaxRounds  int    `toml:"max_rounds"`
	Seed       int64  `toml:"seed"`
	Store      string `toml:"store"`
	DBPath     string `toml:"db_path"`
	TTLMinutes int    `toml:"ttl_minutes"`
	// Fallback receives control when a turn is interrupted.
	Fallback string `toml:"fallback"`
}

type ServerConfig struct {
	Port string `toml:"port"`
}

type ConcurrencyConfig struct {
	BulkIngest int `toml:"bulk_ingest"`
	BulkSearch int `toml:"bulk_search"`
}

type ParticipantConfig struct {
	Name    string `toml:"name"`
	Role    string `toml:"role"`
	Display string `toml:"display"`
	Entry   bool   `toml:"entry"`
}

type EdgeConfig struct {
	From string `toml:"from"`
	To   string `toml:"to"`
}

type GraphConfig struct {
	Nodes []ParticipantConfig `toml:"nodes"`
	Edges []EdgeConfig        `toml:"edges"`
}

// MemoryConfig partitions authors for memory derivation.
type MemoryConfig struct {
	User           []string `toml:"user"`
	Exclude        []string `toml:"exclude"`
	OneWay         []string `toml:"one_way"`
	UserLabel      string   `toml:"user_label"`
	AssistantLabel string   `toml:"assistant_label"`
	RetrievalLabel string   `toml:"retrieval_label"`
}

type Config struct {
	LLM         LLMConfig         `toml:"llm"`
	Memgraph    MemgraphConfig    `toml:"memgraph"`
	Knowledge   KnowledgeConfig   `toml:"knowledge"`
	Session     SessionConfig     `toml:"session"`
	Server      ServerConfig      `toml:"server"`
	Concurrency ConcurrencyConfig `toml:"concurrency"`
	Graph       GraphConfig       `toml:"graph"`
	Memory      MemoryConfig      `toml:"memory"`
	Prompts     Prompts           `toml:"prompts"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file '%s': %w", path, err)
	}

	var cfg Config
	if err := toml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse TOML: %w", err)
	}

	cfg.fillDefaults()
	return &cfg, nil
}

// Default returns the stock four-participant troubleshooting setup.
func Default() *Config {
	cfg := &Config{}
	cfg.fillDefaults()
	return cfg
}

func (c *Config) fillDefaults() {
	if c.LLM.Provider == "" {
		c.LLM.Provider = "ollama"
		if c.LLM.Model == "" {
			c.LLM.Model = "gpt-oss:latest"
		}
		if c.LLM.BaseURL == "" {
			c.LLM.BaseURL = "http://localhost:11434"
		}
	}
	if c.LLM.MaxRetries == 0 {
		c.LLM.MaxRetries = 3
	}
	if c.LLM.MaxTokens == 0 {
		c.LLM.MaxTokens = 2048
	}
	if c.Memgraph.URI == "" {
		c.Memgraph.URI = "bolt://localhost:7687"
	}
	if c.Knowledge.Backend == "" {
		c.Knowledge.Backend = "table"
	}
	if c.Knowledge.NResults == 0 {
		c.Knowledge.NResults = 5
	}
	if c.Session.MaxRounds == 0 {
		c.Session.MaxRounds = 50
	}
	if c.Session.Seed == 0 {
		c.Session.Seed = 45
	}
	if c.Session.Store == "" {
		c.Session.Store = "memory"
	}
	if c.Session.DBPath == "" {
		c.Session.DBPath = "sessions.db"
	}
	if c.Session.TTLMinutes == 0 {
		c.Session.TTLMinutes = 24 * 60
	}
	if c.Server.Port == "" {
		c.Server.Port = "8080"
	}
	if c.Concurrency.BulkIngest == 0 {
		c.Concurrency.BulkIngest = 4
	}
	if c.Concurrency.BulkSearch == 0 {
		c.Concurrency.BulkSearch = 4
	}
	if len(c.Graph.Nodes) == 0 {
		c.Graph = defaultGraph()
	}
	if c.Session.Fallback == "" {
		for _, n := range c.Graph.Nodes {
			if n.Role == "human-proxy" {
				c.Session.Fallback = n.Name
				break
			}
		}
	}
	if len(c.Memory.User) == 0 && len(c.Memory.Exclude) == 0 && len(c.Memory.OneWay) == 0 {
		c.Memory.User = []string{"user_proxy", "chat_manager"}
		c.Memory.Exclude = []string{"node_retrieve_agent"}
		c.Memory.OneWay = []string{"planner_agent"}
	}
	if c.Memory.UserLabel == "" {
		c.Memory.UserLabel = "User"
	}
	if c.Memory.AssistantLabel == "" {
		c.Memory.AssistantLabel = "TSG Copilot"
	}
	if c.Memory.RetrievalLabel == "" {
		c.Memory.RetrievalLabel = "Node Retrieval"
	}
	c.Prompts.fillDefaults()
}

func defaultGraph() GraphConfig {
	return GraphConfig{
		Nodes: []ParticipantConfig{
			{Name: "user_proxy", Role: "human-proxy", Display: "user proxy", Entry: true},
			{Name: "node_retrieve_agent", Role: "retriever", Display: "node retrieve agent"},
			{Name: "intent_understanding_agent", Role: "router", Display: "intent understanding agent"},
			{Name: "planner_agent", Role: "planner", Display: "planner agent"},
		},
		Edges: []EdgeConfig{
			{From: "user_proxy", To: "intent_understanding_agent"},
			{From: "intent_understanding_agent", To: "user_proxy"},
			{From: "intent_understanding_agent", To: "node_retrieve_agent"},
			{From: "node_retrieve_agent", To: "intent_understanding_agent"},
			{From: "intent_understanding_agent", To: "planner_agent"},
			{From: "planner_agent", To: "user_proxy"},
		},
	}
}

// ApplyEnv overrides file values with environment variables when set.
func (c *Config) ApplyEnv() {
	overrides := map[string]*string{
		"LLM_PROVIDER":        &c.LLM.Provider,
		"LLM_MODEL":           &c.LLM.Model,
		"LLM_EMBEDDING_MODEL": &c.LLM.EmbeddingModel,
		"LLM_API_KEY":         &c.LLM.APIKey,
		"LLM_BASE_URL":        &c.LLM.BaseURL,
		"MEMGRAPH_URI":        &c.Memgraph.URI,
		"MEMGRAPH_USER":       &c.Memgraph.User,
		"MEMGRAPH_PASSWORD":   &c.Memgraph.Password,
		"TSG_PATH":            &c.Knowledge.TSGPath,
		"KNOWLEDGE_BACKEND":   &c.Knowledge.Backend,
		"SESSION_STORE":       &c.Session.Store,
		"SESSION_DB_PATH":     &c.Session.DBPath,
		"PORT":                &c.Server.Port,
	}
	for key, field := range overrides {
		if v := os.Getenv(key); v != "" {
			*field = v
		}
	}
}

// Validate reports settings that would make the engine unusable.
func (c *Config) Validate() error {
	var errs []error

	switch strings.ToLower(c.LLM.Provider) {
	case "openai", "ollama", "gemini", "claude":
	default:
		errs = append(errs, fmt.Errorf("%w: unsupported llm provider %q", ErrInvalid, c.LLM.Provider))
	}
	switch c.Knowledge.Backend {
	case "graph", "table":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown knowledge backend %q", ErrInvalid, c.Knowledge.Backend))
	}
	if c.Knowledge.TSGPath == "" && c.Knowledge.Backend == "table" {
		errs = append(errs, fmt.Errorf("%w: knowledge.tsg_path is required", ErrInvalid))
	}
	switch c.Session.Store {
	case "memory", "sqlite":
	default:
		errs = append(errs, fmt.Errorf("%w: unknown session store %q", ErrInvalid, c.Session.Store))
	}
	if c.Session.MaxRounds < 1 {
		errs = append(errs, fmt.Errorf("%w: session.max_rounds must be positive", ErrInvalid))
	}

	names := make(map[string]bool, len(c.Graph.Nodes))
	for _, n := range c.Graph.Nodes {
		names[n.Name] = true
	}
	if c.Session.Fallback != "" && !names[c.Session.Fallback] {
		errs = append(errs, fmt.Errorf("%w: fallback participant %q is not declared", ErrInvalid, c.Session.Fallback))
	}
	for _, group := range [][]string{c.Memory.Exclude, c.Memory.OneWay} {
		for _, name := range group {
			if !names[name] {
				errs = append(errs, fmt.Errorf("%w: memory participant %q is not declared", ErrInvalid, name))
			}
		}
	}

	return errors.Join(errs...)
}
