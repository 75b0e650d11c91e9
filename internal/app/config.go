package app

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/markoz2707/opzmanager/internal/logger"
	"github.com/markoz2707/opzmanager/internal/utils"
)

// Config carries every tunable the ingestion and matching core consumes.
// Values come from an optional YAML file (CONFIG_PATH) overridden by env vars.
type Config struct {
	// Chunking
	ChunkSize    int `yaml:"chunk_size"`
	ChunkOverlap int `yaml:"chunk_overlap"`

	// Embeddings
	EmbedProvider   string `yaml:"embed_provider"` // openai | ollama
	EmbedBatchSize  int    `yaml:"embed_batch_size"`
	EmbedDimension  int    `yaml:"embed_dimension"`
	EmbedMaxRetries int    `yaml:"embed_max_retries"`

	// Reasoning
	ReasoningProvider    string  `yaml:"reasoning_provider"` // openai | ollama
	ReasoningMaxTokens   int     `yaml:"reasoning_max_tokens"`
	ReasoningTemperature float64 `yaml:"reasoning_temperature"`

	// Ingestion queue
	QueueCapacity    int `yaml:"queue_capacity"`
	QueueItemDelayMS int `yaml:"queue_item_delay_ms"`

	// Matching
	MatchScoreThreshold float64 `yaml:"match_score_threshold"`
	MatchResultLimit    int     `yaml:"match_result_limit"`
	MatchContextTopK    int     `yaml:"match_context_top_k"`

	// Storage
	StorageDir string `yaml:"storage_dir"`
	RedisAddr  string `yaml:"redis_addr"`
}

func defaultConfig() Config {
	return Config{
		ChunkSize:            1000,
		ChunkOverlap:         200,
		EmbedProvider:        "openai",
		EmbedBatchSize:       20,
		EmbedDimension:       1536,
		EmbedMaxRetries:      5,
		ReasoningProvider:    "openai",
		ReasoningMaxTokens:   2000,
		ReasoningTemperature: 0.1,
		QueueCapacity:        256,
		QueueItemDelayMS:     500,
		MatchScoreThreshold:  0.10,
		MatchResultLimit:     5,
		MatchContextTopK:     3,
		StorageDir:           "./data/uploads",
	}
}

func LoadConfig(log *logger.Logger) (Config, error) {
	cfg := defaultConfig()

	if path := os.Getenv("CONFIG_PATH"); path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return cfg, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config file: %w", err)
		}
	}

	cfg.ChunkSize = utils.GetEnvAsInt("CHUNK_SIZE", cfg.ChunkSize, log)
	cfg.ChunkOverlap = utils.GetEnvAsInt("CHUNK_OVERLAP", cfg.ChunkOverlap, log)
	cfg.EmbedProvider = utils.GetEnv("EMBED_PROVIDER", cfg.EmbedProvider, log)
	cfg.EmbedBatchSize = utils.GetEnvAsInt("EMBED_BATCH_SIZE", cfg.EmbedBatchSize, log)
	cfg.EmbedDimension = utils.GetEnvAsInt("EMBED_DIMENSION", cfg.EmbedDimension, log)
	cfg.EmbedMaxRetries = utils.GetEnvAsInt("EMBED_MAX_RETRIES", cfg.EmbedMaxRetries, log)
	cfg.ReasoningProvider = utils.GetEnv("REASONING_PROVIDER", cfg.ReasoningProvider, log)
	cfg.ReasoningMaxTokens = utils.GetEnvAsInt("REASONING_MAX_TOKENS", cfg.ReasoningMaxTokens, log)
	cfg.ReasoningTemperature = utils.GetEnvAsFloat("REASONING_TEMPERATURE", cfg.ReasoningTemperature, log)
	cfg.QueueCapacity = utils.GetEnvAsInt("QUEUE_CAPACITY", cfg.QueueCapacity, log)
	cfg.QueueItemDelayMS = utils.GetEnvAsInt("QUEUE_ITEM_DELAY_MS", cfg.QueueItemDelayMS, log)
	cfg.MatchScoreThreshold = utils.GetEnvAsFloat("MATCH_SCORE_THRESHOLD", cfg.MatchScoreThreshold, log)
	cfg.MatchResultLimit = utils.GetEnvAsInt("MATCH_RESULT_LIMIT", cfg.MatchResultLimit, log)
	cfg.MatchContextTopK = utils.GetEnvAsInt("MATCH_CONTEXT_TOP_K", cfg.MatchContextTopK, log)
	cfg.StorageDir = utils.GetEnv("STORAGE_DIR", cfg.StorageDir, log)
	cfg.RedisAddr = utils.GetEnv("REDIS_ADDR", cfg.RedisAddr, log)

	return cfg, nil
}
