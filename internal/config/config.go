// Package config loads the settings shared by every component.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration
type Config struct {
	LLM        LLMConfig        `yaml:"llm"`
	Embedding  EmbeddingConfig  `yaml:"embedding"`
	Retrieval  RetrievalConfig  `yaml:"retrieval"`
	Links      LinksConfig      `yaml:"links"`
	Guardrails GuardrailsConfig `yaml:"guardrails"`
	Server     ServerConfig     `yaml:"server"`
	Logging    LoggingConfig    `yaml:"logging"`
}

// LLMConfig configures the OpenAI-compatible proxy used for generation and guardrails
type LLMConfig struct {
	ProxyURL             string  `yaml:"proxy_url"`
	APIKey               string  `yaml:"api_key"`
	Model                string  `yaml:"model"`
	CompletionModel      string  `yaml:"completion_model"`
	ResponsesModel       string  `yaml:"responses_model"`
	UseResponsesAPI      bool    `yaml:"use_responses_api"`
	Temperature          float64 `yaml:"temperature"`
	MaxTokens            int     `yaml:"max_tokens"`
	MaxTurns             int     `yaml:"max_turns"`
	EnableUsageReporting bool    `yaml:"enable_usage_reporting"`
	Timeout              string  `yaml:"timeout"`
}

// EmbeddingConfig configures query embedding
type EmbeddingConfig struct {
	Provider   string `yaml:"provider"` // proxy, genai
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions"`
	GenAIKey   string `yaml:"genai_api_key"`
	GenAIModel string `yaml:"genai_model"`
}

// RetrievalConfig configures the semantic search backend
type RetrievalConfig struct {
	Backend        string  `yaml:"backend"` // qdrant, sqlite, memory
	QdrantURL      string  `yaml:"qdrant_url"`
	Collection     string  `yaml:"collection"`
	DatabasePath   string  `yaml:"database_path"`
	Limit          int     `yaml:"limit"`
	ScoreThreshold float64 `yaml:"score_threshold"`
	Timeout        string  `yaml:"timeout"`
}

// LinksConfig configures the link-generation service
type LinksConfig struct {
	BaseURL string `yaml:"base_url"`
	Timeout string `yaml:"timeout"`
}

// GuardrailsConfig configures the guardrail sub-agents
type GuardrailsConfig struct {
	Timeout string `yaml:"timeout"`
}

// ServerConfig configures the HTTP server
type ServerConfig struct {
	Addr string `yaml:"addr"`
}

// LoggingConfig configures logging
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error
}

// Retrieval backends
const (
	BackendQdrant = "qdrant"
	BackendSQLite = "sqlite"
	BackendMemory = "memory"
)

// Embedding providers
const (
	ProviderProxy = "proxy"
	ProviderGenAI = "genai"
)

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	home, _ := os.UserHomeDir()

	return &Config{
		LLM: LLMConfig{
			ProxyURL:             "http://llm-proxy:4000",
			Model:                "gpt-4.1",
			CompletionModel:      "lm_studio/qwen3-coder-30b",
			ResponsesModel:       "lm_studio/gpt-oss-20b",
			UseResponsesAPI:      true,
			Temperature:          0.1,
			MaxTokens:            1000,
			MaxTurns:             8,
			EnableUsageReporting: true,
			Timeout:              "120s",
		},
		Embedding: EmbeddingConfig{
			Provider:   ProviderProxy,
			Model:      "lm_studio/text-embedding-qwen3-embedding-8b",
			Dimensions: 4096,
			GenAIModel: "gemini-embedding-001",
		},
		Retrieval: RetrievalConfig{
			Backend:      BackendQdrant,
			QdrantURL:    "http://qdrant:6333",
			Collection:   "app_actions_collection",
			DatabasePath: filepath.Join(home, ".notes", "index.db"),
			Limit:        5,
			Timeout:      "5s",
		},
		Links: LinksConfig{
			BaseURL: "http://tidy-mcp:8000",
			Timeout: "10s",
		},
		Guardrails: GuardrailsConfig{
			Timeout: "60s",
		},
		Server: ServerConfig{
			Addr: ":8080",
		},
		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(data, cfg); err != nil {
				return nil, fmt.Errorf("parse config: %w", err)
			}
		case os.IsNotExist(err):
			// defaults
		default:
			return nil, fmt.Errorf("read config: %w", err)
		}
	}

	cfg.applyEnvOverrides()

	return cfg, nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if key := os.Getenv("OPENAI_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	// proxy key wins over the generic one
	if key := os.Getenv("LITELLM_API_KEY"); key != "" {
		c.LLM.APIKey = key
	}
	if url := os.Getenv("LITELLM_PROXY_URL"); url != "" {
		c.LLM.ProxyURL = url
	}
	if model := os.Getenv("OPENAI_MODEL"); model != "" {
		c.LLM.Model = model
	}
	if v := os.Getenv("USE_RESPONSES_API"); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			c.LLM.UseResponsesAPI = b
		}
	}

	if key := os.Getenv("GEMINI_API_KEY"); key != "" {
		c.Embedding.GenAIKey = key
	}

	if url := os.Getenv("QDRANT_URL"); url != "" {
		c.Retrieval.QdrantURL = url
	}
	if name := os.Getenv("QDRANT_COLLECTION"); name != "" {
		c.Retrieval.Collection = name
	}
	if path := os.Getenv("NOTES_DB"); path != "" {
		c.Retrieval.DatabasePath = path
	}

	if url := os.Getenv("TIDY_MCP_URL"); url != "" {
		c.Links.BaseURL = url
	}
}

// ActiveModel returns the model used for the configured API variant
func (c *Config) ActiveModel() string {
	if c.LLM.UseResponsesAPI {
		return c.LLM.ResponsesModel
	}
	return c.LLM.CompletionModel
}

// GetGenerationTimeout returns the generation call timeout.
func (c *Config) GetGenerationTimeout() time.Duration {
	return parseDuration(c.LLM.Timeout, 120*time.Second)
}

// GetGuardrailTimeout returns the guardrail sub-agent timeout.
func (c *Config) GetGuardrailTimeout() time.Duration {
	return parseDuration(c.Guardrails.Timeout, 60*time.Second)
}

// GetRetrievalTimeout returns the semantic search timeout.
func (c *Config) GetRetrievalTimeout() time.Duration {
	return parseDuration(c.Retrieval.Timeout, 5*time.Second)
}

// GetLinkTimeout returns the link service timeout.
func (c *Config) GetLinkTimeout() time.Duration {
	return parseDuration(c.Links.Timeout, 10*time.Second)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d <= 0 {
		return fallback
	}
	return d
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.LLM.ProxyURL == "" {
		return fmt.Errorf("llm proxy url not configured (set LITELLM_PROXY_URL)")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		return fmt.Errorf("invalid temperature: %v (valid: 0-2)", c.LLM.Temperature)
	}
	if c.LLM.MaxTokens < 1 {
		return fmt.Errorf("invalid max_tokens: %d", c.LLM.MaxTokens)
	}
	if c.LLM.MaxTurns < 1 {
		return fmt.Errorf("invalid max_turns: %d", c.LLM.MaxTurns)
	}
	if c.Retrieval.Limit < 1 {
		return fmt.Errorf("invalid retrieval limit: %d", c.Retrieval.Limit)
	}

	switch c.Retrieval.Backend {
	case BackendQdrant, BackendSQLite, BackendMemory:
	default:
		return fmt.Errorf("invalid retrieval backend: %s (valid: %v)", c.Retrieval.Backend,
			[]string{BackendQdrant, BackendSQLite, BackendMemory})
	}

	switch c.Embedding.Provider {
	case ProviderProxy:
	case ProviderGenAI:
		if c.Embedding.GenAIKey == "" {
			return fmt.Errorf("genai embedding provider requires GEMINI_API_KEY")
		}
	default:
		return fmt.Errorf("invalid embedding provider: %s (valid: %v)", c.Embedding.Provider,
			[]string{ProviderProxy, ProviderGenAI})
	}

	return nil
}
