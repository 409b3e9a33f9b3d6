// Package config holds the typed configuration for the search engine.
// There is no file-loading layer here — the caller builds a Config (see
// NewConfig for defaults) and Load applies environment overrides on top.
package config

import (
	"fmt"
	"math"
	"os"
	"runtime"
	"strconv"
	"strings"
	"time"
)

// Config is the complete engine configuration: where the store lives, how
// to reach the embedding/chat/rerank endpoints, and the tuning knobs for
// search, contextualization, and indexing concurrency.
type Config struct {
	StorePath string

	Search     SearchConfig
	Embeddings EmbeddingsConfig
	Contextual ContextualConfig
	Expansion  ExpansionConfig
	Rerank     RerankConfig
	Indexing   IndexingConfig
	LogLevel   string
}

// LLMSlot describes one chat/completion endpoint used by the
// contextualizer, query expander, or any future LLM-backed component.
type LLMSlot struct {
	Endpoint    string
	Model       string
	APIKey      string
	Parallelism int
}

// SearchConfig tunes the hybrid searcher: subquery weights, RRF fusion,
// and the original-query BM25/semantic blend.
type SearchConfig struct {
	// Subquery weights (spec.md §4.7).
	OriginalWeight float64
	LexWeight      float64
	VecWeight      float64
	HydeWeight     float64

	// RRFConstant is the fusion smoothing parameter (k), applied to every
	// non-original variant's weighted contribution.
	RRFConstant int

	// BM25CandidateCap bounds how many FTS rows are pulled per query
	// before fusion; VectorCandidateMultiplier expands the vector search
	// cap beyond that to seed RRF (spec.md §4.7).
	BM25CandidateCap          int
	VectorCandidateMultiplier int

	// BlendBM25Weight and BlendSemanticWeight combine to the original
	// query's min-max normalized BM25/semantic scores; they should sum
	// to 1.0.
	BlendBM25Weight      float64
	BlendSemanticWeight  float64

	// TopRankBonusRank0 and TopRankBonusRank2 reward the original query's
	// best retrieval rank (rank 0, and rank <= 2 respectively).
	TopRankBonusRank0 float64
	TopRankBonusRank2 float64

	// TopK is the number of fused results returned to the caller (and fed
	// to the reranker, if enabled).
	TopK int
}

// EmbeddingsConfig configures the embedding client.
type EmbeddingsConfig struct {
	Endpoint string
	APIKey   string

	// Dimensions is the embedding width D; 0 means auto-detect from the
	// first successful response.
	Dimensions int

	BatchSize            int
	MaxConcurrentBatches int

	// CooldownEveryBatches and CooldownDuration implement the periodic
	// pause that lets upstream rate limits reset (spec.md §4.2).
	CooldownEveryBatches int
	CooldownDuration     time.Duration

	CacheSize int
}

// ContextualConfig configures the contextualizer's LLM slots.
type ContextualConfig struct {
	Enabled bool
	Slots   []LLMSlot

	// BatchSize is the default per-slot batch size (spec.md §4.4).
	BatchSize int

	// MaxDocTokens bounds the document excerpt included in the prompt.
	MaxDocTokens int
}

// ExpansionConfig configures the LLM-based query expander.
type ExpansionConfig struct {
	Enabled  bool
	Endpoint string
	Model    string
	APIKey   string

	CacheSize int
}

// RerankConfig configures the cross-encoder reranker.
type RerankConfig struct {
	Enabled  bool
	Endpoint string
	APIKey   string

	// SubmodelWeights blends per-submodel scores when the rerank endpoint
	// returns them (spec.md §4.8 defaults: bge 0.5, qwen 0.3, gemma 0.2).
	BGEWeight   float64
	QwenWeight  float64
	GemmaWeight float64
}

// SourceConfig names one root directory the indexer scans into a
// collection, with its own ignore patterns.
type SourceConfig struct {
	Collection string
	Root       string
	Ignore     []string
}

// IndexingConfig configures the indexer's sources and concurrency.
type IndexingConfig struct {
	Sources []SourceConfig

	ScanConcurrency          int
	ContextualizeConcurrency int
}

// NewConfig returns a Config populated with sensible defaults.
func NewConfig() *Config {
	return &Config{
		StorePath: defaultStorePath(),
		Search: SearchConfig{
			OriginalWeight:            4.0,
			LexWeight:                 0.5,
			VecWeight:                 0.5,
			HydeWeight:                0.25,
			RRFConstant:               60,
			BM25CandidateCap:          300,
			VectorCandidateMultiplier: 4,
			BlendBM25Weight:           0.6,
			BlendSemanticWeight:       0.4,
			TopRankBonusRank0:         0.05,
			TopRankBonusRank2:         0.02,
			TopK:                      20,
		},
		Embeddings: EmbeddingsConfig{
			Endpoint:             "http://localhost:11434/api/embed",
			Dimensions:           0,
			BatchSize:            50,
			MaxConcurrentBatches: 2,
			CooldownEveryBatches: 300,
			CooldownDuration:     60 * time.Second,
			CacheSize:            200,
		},
		Contextual: ContextualConfig{
			Enabled:      true,
			Slots:        nil,
			BatchSize:    100,
			MaxDocTokens: 4000,
		},
		Expansion: ExpansionConfig{
			Enabled:   true,
			CacheSize: 200,
		},
		Rerank: RerankConfig{
			Enabled:     true,
			BGEWeight:   0.5,
			QwenWeight:  0.3,
			GemmaWeight: 0.2,
		},
		Indexing: IndexingConfig{
			ScanConcurrency:          50,
			ContextualizeConcurrency: 20,
		},
		LogLevel: "info",
	}
}

// defaultStorePath returns the default location for the store file.
func defaultStorePath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return ".memory/store.db"
	}
	return home + "/.memory/store.db"
}

// Load returns a default Config with environment overrides applied and
// validated.
func Load() (*Config, error) {
	cfg := NewConfig()
	cfg.applyEnvOverrides()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// applyEnvOverrides applies the MEMORY_* environment variables documented
// in spec.md §6. MEMORY_LLM_API_KEY cascades into every configured LLM
// slot: the contextualizer's slots, the query expander's chat endpoint,
// the reranker's endpoint, and the embedding endpoint.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("MEMORY_EMBEDDING_ENDPOINT"); v != "" {
		c.Embeddings.Endpoint = v
	}

	llmEndpoint := os.Getenv("MEMORY_LLM_ENDPOINT")
	llmModel := os.Getenv("MEMORY_LLM_MODEL")
	llmAPIKey := os.Getenv("MEMORY_LLM_API_KEY")

	if llmEndpoint != "" || llmModel != "" {
		if len(c.Contextual.Slots) == 0 {
			c.Contextual.Slots = []LLMSlot{{Parallelism: defaultSlotParallelism()}}
		}
		for i := range c.Contextual.Slots {
			if llmEndpoint != "" {
				c.Contextual.Slots[i].Endpoint = llmEndpoint
			}
			if llmModel != "" {
				c.Contextual.Slots[i].Model = llmModel
			}
		}
		if llmEndpoint != "" {
			c.Expansion.Endpoint = llmEndpoint
		}
		if llmModel != "" {
			c.Expansion.Model = llmModel
		}
	}

	if llmAPIKey != "" {
		for i := range c.Contextual.Slots {
			c.Contextual.Slots[i].APIKey = llmAPIKey
		}
		c.Expansion.APIKey = llmAPIKey
		c.Rerank.APIKey = llmAPIKey
		c.Embeddings.APIKey = llmAPIKey
	}

	if v := os.Getenv("MEMORY_SEARCH_DISABLE_RERANK"); v != "" {
		if truthy(v) {
			c.Rerank.Enabled = false
		}
	}

	if v := os.Getenv("MEMORY_LOG_LEVEL"); v != "" {
		c.LogLevel = strings.ToLower(v)
	}

	if v := os.Getenv("MEMORY_STORE_PATH"); v != "" {
		c.StorePath = v
	}

	if v := os.Getenv("MEMORY_INDEX_WORKERS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			c.Indexing.ScanConcurrency = n
		}
	}
}

func truthy(v string) bool {
	switch strings.ToLower(strings.TrimSpace(v)) {
	case "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Validate checks invariants the rest of the engine assumes hold.
func (c *Config) Validate() error {
	if c.StorePath == "" {
		return fmt.Errorf("store path must not be empty")
	}

	sum := c.Search.BlendBM25Weight + c.Search.BlendSemanticWeight
	if math.Abs(sum-1.0) > 0.01 {
		return fmt.Errorf("search.blend_bm25_weight + blend_semantic_weight must equal 1.0, got %.2f", sum)
	}

	if c.Search.TopK <= 0 {
		return fmt.Errorf("search.top_k must be positive, got %d", c.Search.TopK)
	}
	if c.Search.RRFConstant <= 0 {
		return fmt.Errorf("search.rrf_constant must be positive, got %d", c.Search.RRFConstant)
	}

	if c.Embeddings.BatchSize <= 0 || c.Embeddings.BatchSize > 50 {
		return fmt.Errorf("embeddings.batch_size must be in (0, 50], got %d", c.Embeddings.BatchSize)
	}
	if c.Embeddings.MaxConcurrentBatches <= 0 {
		return fmt.Errorf("embeddings.max_concurrent_batches must be positive, got %d", c.Embeddings.MaxConcurrentBatches)
	}

	validLevels := map[string]bool{"debug": true, "info": true, "warn": true, "error": true, "silent": true}
	if !validLevels[strings.ToLower(c.LogLevel)] {
		return fmt.Errorf("log_level must be one of debug|info|warn|error|silent, got %s", c.LogLevel)
	}

	return nil
}

// defaultSlotParallelism is used when a slot doesn't specify one.
func defaultSlotParallelism() int {
	n := runtime.NumCPU()
	if n < 2 {
		return 2
	}
	if n > 8 {
		return 8
	}
	return n
}
