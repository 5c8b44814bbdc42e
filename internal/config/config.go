package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"

	"ragqa/internal/validation"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL     string `yaml:"base_url" validate:"required,url"`
	APIKeyEnv   string `yaml:"api_key_env" validate:"required"`
	Model       string `yaml:"model" validate:"required"`
	Dimension   int    `yaml:"dimension" validate:"gt=0"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gt=0"`
	BatchSize   int    `yaml:"batch_size" validate:"gt=0"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type      string                `yaml:"type" validate:"oneof=hashing openai"`
	Dimension int                   `yaml:"dimension" validate:"gt=0"`
	OpenAI    *OpenAIEmbedderConfig `yaml:"openai,omitempty" validate:"required_if=Type openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size" validate:"gt=0"`
	Overlap int `yaml:"overlap" validate:"gte=0,ltfield=Size"`
}

// RemoteExtractorConfig points at a question-answering inference endpoint.
type RemoteExtractorConfig struct {
	URL         string `yaml:"url" validate:"required,url"`
	TimeoutSecs int    `yaml:"timeout_secs" validate:"gt=0"`
}

// ExtractorConfig selects and configures the answer extractor.
type ExtractorConfig struct {
	Type             string                 `yaml:"type" validate:"oneof=lexical remote"`
	MaxContextLength int                    `yaml:"max_context_length" validate:"gt=0"`
	MaxAnswerLength  int                    `yaml:"max_answer_length" validate:"gt=0"`
	MinScore         float64                `yaml:"min_score" validate:"gte=0,lte=1"`
	Remote           *RemoteExtractorConfig `yaml:"remote,omitempty" validate:"required_if=Type remote,omitempty"`
}

// RetrievalConfig tunes search and answer acceptance.
type RetrievalConfig struct {
	TopK                int     `yaml:"top_k" validate:"gt=0"`
	SimilarityThreshold float64 `yaml:"similarity_threshold" validate:"gte=-1,lte=1"`
	AcceptanceThreshold float64 `yaml:"acceptance_threshold" validate:"gte=0,lte=1"`
}

// ProviderConfig configures one external source.
type ProviderConfig struct {
	Name      string  `yaml:"name" validate:"oneof=wikipedia arxiv pubmed stackexchange stackoverflow openlibrary osm openstreetmap"`
	BaseURL   string  `yaml:"base_url,omitempty" validate:"omitempty,url"`
	Limit     int     `yaml:"limit" validate:"gte=0"`
	RateLimit float64 `yaml:"rate_limit" validate:"gte=0"`
	Site      string  `yaml:"site,omitempty"`
}

// FallbackConfig configures the fetch from external sources.
type FallbackConfig struct {
	Enabled       bool             `yaml:"enabled"`
	Providers     []ProviderConfig `yaml:"providers" validate:"dive"`
	TimeoutSecs   int              `yaml:"timeout_secs" validate:"gt=0"`
	MaxCandidates int              `yaml:"max_candidates" validate:"gte=0"`
	UserAgent     string           `yaml:"user_agent"`
	PreloadTopics []string         `yaml:"preload_topics" validate:"dive,required"`
}

// StoreConfig locates the SQLite knowledge base.
type StoreConfig struct {
	Path string `yaml:"path" validate:"required"`
}

// MemoryConfig sizes the conversation memory.
type MemoryConfig struct {
	Capacity int `yaml:"capacity" validate:"gt=0"`
}

// CacheConfig sizes the embedding cache. Zero disables it.
type CacheConfig struct {
	EmbeddingMB int `yaml:"embedding_mb" validate:"gte=0"`
}

// ServerConfig configures the HTTP API.
type ServerConfig struct {
	Addr          string   `yaml:"addr" validate:"required"`
	MaxConcurrent int      `yaml:"max_concurrent" validate:"gt=0"`
	CORSOrigins   []string `yaml:"cors_origins"`
}

// LoggingConfig configures zap.
type LoggingConfig struct {
	Level string `yaml:"level" validate:"oneof=debug info warn error"`
	JSON  bool   `yaml:"json"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Chunker   ChunkerConfig   `yaml:"chunker"`
	Embedder  EmbedderConfig  `yaml:"embedder"`
	Extractor ExtractorConfig `yaml:"extractor"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Fallback  FallbackConfig  `yaml:"fallback"`
	Store     StoreConfig     `yaml:"store"`
	Memory    MemoryConfig    `yaml:"memory"`
	Cache     CacheConfig     `yaml:"cache"`
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// Load reads a config from a specified path. Keys missing from the file keep
// their defaults. If the file does not exist, returns defaults.
func Load(path string) (*AppConfig, error) {
	cfg := defaultConfig()
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return cfg, nil
		}
		return nil, err
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse %s: %w", path, err)
	}
	applyConfigDefaults(cfg)
	if err := validation.Struct(cfg); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/ragqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/ragqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := defaultConfig()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "ragqa", "config.yaml"), nil
}

func defaultConfig() *AppConfig {
	return &AppConfig{
		Chunker:  ChunkerConfig{Size: 500, Overlap: 50},
		Embedder: EmbedderConfig{Type: "hashing", Dimension: 384},
		Extractor: ExtractorConfig{
			Type:             "lexical",
			MaxContextLength: 4000,
			MaxAnswerLength:  200,
			MinScore:         0.01,
		},
		Retrieval: RetrievalConfig{TopK: 3, SimilarityThreshold: 0.3, AcceptanceThreshold: 0.3},
		Fallback: FallbackConfig{
			Enabled: true,
			Providers: []ProviderConfig{
				{Name: "wikipedia", Limit: 3, RateLimit: 1},
				{Name: "stackexchange", Limit: 3, RateLimit: 1},
			},
			TimeoutSecs: 15,
		},
		Store:   StoreConfig{Path: "ragqa.db"},
		Memory:  MemoryConfig{Capacity: 1000},
		Cache:   CacheConfig{EmbeddingMB: 64},
		Server:  ServerConfig{Addr: ":8080", MaxConcurrent: 8, CORSOrigins: []string{"*"}},
		Logging: LoggingConfig{Level: "info"},
	}
}

func applyConfigDefaults(cfg *AppConfig) {
	if cfg.Embedder.Type == "openai" {
		if cfg.Embedder.OpenAI == nil {
			cfg.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := cfg.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.Dimension == 0 {
			o.Dimension = 1536
		}
		if o.TimeoutSecs == 0 {
			o.TimeoutSecs = 30
		}
		if o.BatchSize == 0 {
			o.BatchSize = 32
		}
	}
	if cfg.Extractor.Type == "remote" && cfg.Extractor.Remote != nil && cfg.Extractor.Remote.TimeoutSecs == 0 {
		cfg.Extractor.Remote.TimeoutSecs = 30
	}
}
