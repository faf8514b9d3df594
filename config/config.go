// Package config loads runtime configuration and bot definitions.
//
// Runtime configuration comes from a YAML file overlaid with
// DIALOGKIT_* environment variables. Bot definitions (states, rules,
// topics) are TOML files, one per bot type, validated at load time.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	yamlv3 "gopkg.in/yaml.v3"
)

const envPrefix = "DIALOGKIT_"

// Config is the runtime configuration.
type Config struct {
	LogLevel string `koanf:"log_level" yaml:"log_level"`
	BotsDir  string `koanf:"bots_dir" yaml:"bots_dir"`

	Store     StoreConfig     `koanf:"store" yaml:"store"`
	LLM       LLMConfig       `koanf:"llm" yaml:"llm"`
	Embedding EmbeddingConfig `koanf:"embedding" yaml:"embedding"`
	Session   SessionConfig   `koanf:"session" yaml:"session"`
	Retrieval RetrievalConfig `koanf:"retrieval" yaml:"retrieval"`
}

// StoreConfig selects the session context persistence backend.
type StoreConfig struct {
	// Backend is "memory" or "nats".
	Backend string `koanf:"backend" yaml:"backend"`

	// NATSURL and Bucket configure the nats backend.
	NATSURL string `koanf:"nats_url" yaml:"nats_url"`
	Bucket  string `koanf:"bucket" yaml:"bucket"`
}

// LLMConfig configures the chat completion provider used for
// extraction, classification and summarization.
type LLMConfig struct {
	Provider  string `koanf:"provider" yaml:"provider"`
	Model     string `koanf:"model" yaml:"model"`
	APIKey    string `koanf:"api_key" yaml:"api_key"`
	MaxTokens int    `koanf:"max_tokens" yaml:"max_tokens"`
	BaseURL   string `koanf:"base_url" yaml:"base_url"`
}

// EmbeddingConfig configures the embedding provider.
type EmbeddingConfig struct {
	// Provider is "openai", "ollama" or "mock".
	Provider string `koanf:"provider" yaml:"provider"`
	Model    string `koanf:"model" yaml:"model"`
	APIKey   string `koanf:"api_key" yaml:"api_key"`
	BaseURL  string `koanf:"base_url" yaml:"base_url"`
}

// SessionConfig tunes the session context store.
type SessionConfig struct {
	MaxMessages int           `koanf:"max_messages" yaml:"max_messages"`
	TTL         time.Duration `koanf:"ttl" yaml:"ttl"`
}

// RetrievalConfig tunes the retrieval coordinator and its sources.
type RetrievalConfig struct {
	KeywordWeight float64       `koanf:"keyword_weight" yaml:"keyword_weight"`
	TopK          int           `koanf:"top_k" yaml:"top_k"`
	SourceTimeout time.Duration `koanf:"source_timeout" yaml:"source_timeout"`
	CacheTTL      time.Duration `koanf:"cache_ttl" yaml:"cache_ttl"`

	// KeywordIndexPath is the bleve index location. Empty keeps the
	// index in memory.
	KeywordIndexPath string `koanf:"keyword_index_path" yaml:"keyword_index_path"`

	// StructuredDSN is the SQLite data source for the structured
	// source. Empty disables it.
	StructuredDSN string `koanf:"structured_dsn" yaml:"structured_dsn"`
}

// Default returns the configuration used when no file or overrides
// are present.
func Default() *Config {
	return &Config{
		LogLevel: "info",
		BotsDir:  "bots",
		Store:    StoreConfig{Backend: "memory", Bucket: "dialogkit-sessions"},
		LLM: LLMConfig{
			Provider:  "anthropic",
			MaxTokens: 1024,
		},
		Embedding: EmbeddingConfig{Provider: "mock"},
		Session:   SessionConfig{MaxMessages: 100},
		Retrieval: RetrievalConfig{
			KeywordWeight: 0.3,
			TopK:          5,
			SourceTimeout: 3 * time.Second,
			CacheTTL:      5 * time.Minute,
		},
	}
}

// Load reads configuration from the given YAML file, then overlays
// environment variable overrides (DIALOGKIT_*). A missing file is not
// an error; defaults plus the environment apply.
func Load(path string) (*Config, error) {
	k := koanf.New(".")
	cfg := Default()

	if _, err := os.Stat(path); err == nil {
		if err := k.Load(file.Provider(path), yaml.Parser()); err != nil {
			return nil, fmt.Errorf("reading config %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("accessing config %s: %w", path, err)
	}

	// Double underscore nests: DIALOGKIT_STORE__BACKEND -> store.backend,
	// DIALOGKIT_LOG_LEVEL -> log_level.
	if err := k.Load(env.Provider(envPrefix, ".", func(s string) string {
		return strings.ReplaceAll(strings.ToLower(strings.TrimPrefix(s, envPrefix)), "__", ".")
	}), nil); err != nil {
		return nil, fmt.Errorf("loading env overrides: %w", err)
	}

	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("unmarshalling config: %w", err)
	}
	return cfg, nil
}

// Save writes the configuration as YAML.
func (c *Config) Save(path string) error {
	data, err := yamlv3.Marshal(c)
	if err != nil {
		return fmt.Errorf("marshalling config: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("writing config to %s: %w", path, err)
	}
	return nil
}

var validBackends = map[string]bool{"memory": true, "nats": true}
var validLLMProviders = map[string]bool{"anthropic": true, "openai": true, "google": true}
var validEmbedders = map[string]bool{"openai": true, "ollama": true, "mock": true}

// Validate checks that the configuration contains valid values.
func (c *Config) Validate() error {
	if !validBackends[c.Store.Backend] {
		return fmt.Errorf("invalid store backend %q: must be memory or nats", c.Store.Backend)
	}
	if c.Store.Backend == "nats" && c.Store.NATSURL == "" {
		return fmt.Errorf("store.nats_url is required for the nats backend")
	}
	if c.LLM.Provider != "" && !validLLMProviders[c.LLM.Provider] {
		return fmt.Errorf("invalid llm provider %q: must be one of anthropic, openai, google", c.LLM.Provider)
	}
	if c.Embedding.Provider != "" && !validEmbedders[c.Embedding.Provider] {
		return fmt.Errorf("invalid embedding provider %q: must be one of openai, ollama, mock", c.Embedding.Provider)
	}
	if c.Session.MaxMessages < 0 {
		return fmt.Errorf("session.max_messages must be non-negative")
	}
	if c.Retrieval.KeywordWeight < 0 || c.Retrieval.KeywordWeight > 1 {
		return fmt.Errorf("retrieval.keyword_weight must be in [0,1]")
	}
	if c.Retrieval.TopK < 0 {
		return fmt.Errorf("retrieval.top_k must be non-negative")
	}
	return nil
}
