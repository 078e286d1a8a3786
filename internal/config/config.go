package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"corpus-rag/internal/models"
)

type LogConfig struct {
	Level  string `yaml:"level"`
	Pretty bool   `yaml:"pretty"`
}

// RAGConfig holds chunking and retrieval parameters.
type RAGConfig struct {
	ChunkSize     int    `yaml:"chunk_size"`
	ChunkOverlap  int    `yaml:"chunk_overlap"`
	ChunkUnit     string `yaml:"chunk_unit"`
	KInitial      int    `yaml:"k_initial"`
	TopN          int    `yaml:"top_n"`
	RerankPool    int    `yaml:"rerank_pool"`
	MaxExpansions int    `yaml:"max_expansions"`
	Workers       int    `yaml:"workers"`
}

// LLMConfig configures a model endpoint used for embedding or generation.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`
	BaseURL     string        `yaml:"base_url"`
	Key         string        `yaml:"key"`
	Model       string        `yaml:"model"`
	Dimension   int           `yaml:"dimension"`
	BatchSize   int           `yaml:"batch_size"`
	Temperature float64       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"`
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
}

type ExpanderConfig struct {
	Type string `yaml:"type"`
}

type RerankerConfig struct {
	Type       string        `yaml:"type"`
	BaseURL    string        `yaml:"base_url"`
	Model      string        `yaml:"model"`
	Timeout    time.Duration `yaml:"timeout"`
	MaxRetries int           `yaml:"max_retries"`
}

type IndexConfig struct {
	Backend       string `yaml:"backend"`
	Path          string `yaml:"path"`
	Collection    string `yaml:"collection"`
	Metric        string `yaml:"metric"`
	EncryptionKey string `yaml:"encryption_key"`
}

type DatabaseConfig struct {
	URL    string `yaml:"url"`
	Key    string `yaml:"key"`
	Driver string `yaml:"driver"`
	Table  string `yaml:"table"`
	Debug  bool   `yaml:"debug"`
}

type CacheConfig struct {
	Path string `yaml:"path"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
}

type EvaluationConfig struct {
	Workers          int     `yaml:"workers"`
	MaxQuestions     int     `yaml:"max_questions"`
	MaxDocs          int     `yaml:"max_docs"`
	SupportThreshold float64 `yaml:"support_threshold"`
	Output           string  `yaml:"output"`
}

type Config struct {
	Log          LogConfig        `yaml:"log"`
	RAG          RAGConfig        `yaml:"rag"`
	EmbedLLM     LLMConfig        `yaml:"embed_llm"`
	InferenceLLM LLMConfig        `yaml:"inference_llm"`
	Expander     ExpanderConfig   `yaml:"expander"`
	Reranker     RerankerConfig   `yaml:"reranker"`
	Index        IndexConfig      `yaml:"index"`
	Database     DatabaseConfig   `yaml:"database"`
	Cache        CacheConfig      `yaml:"cache"`
	Server       ServerConfig     `yaml:"server"`
	Evaluation   EvaluationConfig `yaml:"evaluation"`
}

const (
	defaultChunkSize    = 512
	defaultChunkOverlap = 50
	defaultKInitial     = 10
	defaultTopN         = 5
	defaultRerankPool   = 20
	maxRerankPool       = 100
	defaultExpansions   = 3
	defaultWorkers      = 4
	defaultTimeout      = 30 * time.Second
	defaultMaxRetries   = 3
)

// LoadConfig reads the YAML file at path, expands ${VAR} references from the
// environment, applies defaults and validates the result.
// A missing file yields the defaults.
func LoadConfig(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			cfg := Default()
			return cfg, cfg.Validate()
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}
	return Parse(data)
}

// Parse decodes YAML config bytes.
func Parse(data []byte) (*Config, error) {
	cfg := Default()
	if err := yaml.Unmarshal([]byte(os.ExpandEnv(string(data))), cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", models.ErrInvalidConfig, err)
	}
	applyDefaults(cfg)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Default returns a config that runs fully offline: local embedder, lexical
// reranker, in-memory index.
func Default() *Config {
	return &Config{
		Log: LogConfig{Level: "info", Pretty: true},
		RAG: RAGConfig{
			ChunkSize:     defaultChunkSize,
			ChunkOverlap:  defaultChunkOverlap,
			ChunkUnit:     "rune",
			KInitial:      defaultKInitial,
			TopN:          defaultTopN,
			RerankPool:    defaultRerankPool,
			MaxExpansions: defaultExpansions,
			Workers:       defaultWorkers,
		},
		EmbedLLM: LLMConfig{
			Provider:   "local",
			Model:      "hash-bow",
			Dimension:  512,
			BatchSize:  32,
			Timeout:    defaultTimeout,
			MaxRetries: defaultMaxRetries,
		},
		InferenceLLM: LLMConfig{
			Provider:    "ollama",
			BaseURL:     "http://localhost:11434",
			Model:       "mistral",
			Temperature: 0.1,
			MaxTokens:   512,
			Timeout:     60 * time.Second,
			MaxRetries:  defaultMaxRetries,
		},
		Expander: ExpanderConfig{Type: "synonym"},
		Reranker: RerankerConfig{Type: "lexical", Timeout: defaultTimeout, MaxRetries: defaultMaxRetries},
		Index: IndexConfig{
			Backend:    "memory",
			Path:       "./data/vector_store",
			Collection: "documents",
			Metric:     "cosine",
		},
		Database: DatabaseConfig{Driver: "pgdriver", Table: "rag_chunks"},
		Server:   ServerConfig{Addr: ":8080"},
		Evaluation: EvaluationConfig{
			Workers:          defaultWorkers,
			MaxQuestions:     50,
			MaxDocs:          100,
			SupportThreshold: 0.5,
			Output:           "./data/evaluation",
		},
	}
}

func applyDefaults(cfg *Config) {
	if cfg.RAG.ChunkUnit == "" {
		cfg.RAG.ChunkUnit = "rune"
	}
	if cfg.RAG.Workers <= 0 {
		cfg.RAG.Workers = defaultWorkers
	}
	if cfg.RAG.RerankPool == 0 {
		cfg.RAG.RerankPool = defaultRerankPool
	}
	for _, llm := range []*LLMConfig{&cfg.EmbedLLM, &cfg.InferenceLLM} {
		if llm.Timeout == 0 {
			llm.Timeout = defaultTimeout
		}
		if llm.BatchSize == 0 {
			llm.BatchSize = 32
		}
		if llm.MaxTokens == 0 {
			llm.MaxTokens = 512
		}
	}
	if cfg.Reranker.Timeout == 0 {
		cfg.Reranker.Timeout = defaultTimeout
	}
	if cfg.Index.Metric == "" {
		cfg.Index.Metric = "cosine"
	}
	if cfg.Index.Collection == "" {
		cfg.Index.Collection = "documents"
	}
	if cfg.Evaluation.Workers <= 0 {
		cfg.Evaluation.Workers = defaultWorkers
	}
	if cfg.Evaluation.SupportThreshold == 0 {
		cfg.Evaluation.SupportThreshold = 0.5
	}
}

// Validate checks every enumerated field and returns ErrInvalidConfig on the
// first violation.
func (c *Config) Validate() error {
	invalid := func(format string, args ...any) error {
		return fmt.Errorf("%w: %s", models.ErrInvalidConfig, fmt.Sprintf(format, args...))
	}
	r := c.RAG
	if r.ChunkSize <= 0 {
		return invalid("chunk_size must be > 0, got %d", r.ChunkSize)
	}
	if r.ChunkOverlap < 0 || r.ChunkOverlap >= r.ChunkSize {
		return invalid("chunk_overlap must be in [0, chunk_size), got %d", r.ChunkOverlap)
	}
	switch r.ChunkUnit {
	case "rune", "word", "sentence":
	default:
		return invalid("unknown chunk_unit %q", r.ChunkUnit)
	}
	if r.KInitial < 1 {
		return invalid("k_initial must be >= 1, got %d", r.KInitial)
	}
	if r.TopN < 0 {
		return invalid("top_n must be >= 0, got %d", r.TopN)
	}
	if r.RerankPool < 0 || r.RerankPool > maxRerankPool {
		return invalid("rerank_pool must be in [0, %d], got %d", maxRerankPool, r.RerankPool)
	}
	if r.MaxExpansions < 1 {
		return invalid("max_expansions must be >= 1, got %d", r.MaxExpansions)
	}

	switch c.EmbedLLM.Provider {
	case "local":
		if c.EmbedLLM.Dimension <= 0 {
			return invalid("embed_llm.dimension must be > 0 for the local provider")
		}
	case "ollama", "openai_compatible", "openai":
		if c.EmbedLLM.Model == "" {
			return invalid("embed_llm.model is required")
		}
	default:
		return invalid("unknown embed_llm.provider %q", c.EmbedLLM.Provider)
	}
	switch c.InferenceLLM.Provider {
	case "ollama", "openai_compatible", "openai":
	default:
		return invalid("unknown inference_llm.provider %q", c.InferenceLLM.Provider)
	}
	for name, llm := range map[string]LLMConfig{"embed_llm": c.EmbedLLM, "inference_llm": c.InferenceLLM} {
		if llm.Timeout < 0 {
			return invalid("%s.timeout must be >= 0", name)
		}
		if llm.MaxRetries < 0 {
			return invalid("%s.max_retries must be >= 0", name)
		}
		if llm.Temperature < 0 || llm.Temperature > 2 {
			return invalid("%s.temperature must be in [0, 2]", name)
		}
	}

	switch c.Expander.Type {
	case "none", "synonym", "llm":
	default:
		return invalid("unknown expander.type %q", c.Expander.Type)
	}
	switch c.Reranker.Type {
	case "none", "lexical", "llm":
	case "tei":
		if c.Reranker.BaseURL == "" {
			return invalid("reranker.base_url is required for tei")
		}
	default:
		return invalid("unknown reranker.type %q", c.Reranker.Type)
	}

	switch c.Index.Backend {
	case "memory", "chromem":
	case "pgvector":
		if c.Database.URL == "" {
			return invalid("database.url is required for the pgvector backend")
		}
		switch c.Database.Driver {
		case "pgdriver", "postgres":
		default:
			return invalid("unknown database.driver %q", c.Database.Driver)
		}
	default:
		return invalid("unknown index.backend %q", c.Index.Backend)
	}
	switch c.Index.Metric {
	case "cosine", "dot":
	default:
		return invalid("unknown index.metric %q", c.Index.Metric)
	}
	if k := c.Index.EncryptionKey; k != "" && len(k) != 32 {
		return invalid("index.encryption_key must be 32 bytes")
	}
	if t := c.Evaluation.SupportThreshold; t <= 0 || t > 1 {
		return invalid("evaluation.support_threshold must be in (0, 1]")
	}
	return nil
}
