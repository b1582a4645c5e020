package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the annotator.
type Config struct {
	Chunking ChunkingConfig `yaml:"chunking"`
	LLM      LLMConfig      `yaml:"llm"`
	Cache    CacheConfig    `yaml:"cache"`
	Dedupe   DedupeConfig   `yaml:"dedupe"`
	Repair   RepairConfig   `yaml:"repair"`
	Export   ExportConfig   `yaml:"export"`
	Pricing  PricingConfig  `yaml:"pricing"`
	Logging  LoggingConfig  `yaml:"logging"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// ChunkingConfig holds document windowing configuration. Sizes count code points.
type ChunkingConfig struct {
	Size     int `yaml:"size"`
	Overlap  int `yaml:"overlap"`
	Lookback int `yaml:"lookback"` // how far back from a hard cut to look for a sentence end
}

// LLMConfig holds model invocation configuration.
type LLMConfig struct {
	Provider    string        `yaml:"provider"`    // "openai", "mock"
	Model       string        `yaml:"model"`       // e.g., "gpt-4o-mini"
	APIKeyEnv   string        `yaml:"api_key_env"` // Environment variable for API key
	BaseURL     string        `yaml:"base_url"`    // OpenAI-compatible endpoint, empty for api.openai.com
	Temperature float32       `yaml:"temperature"`
	MaxTokens   int           `yaml:"max_tokens"` // 0 derives a value from the chunk size
	Timeout     time.Duration `yaml:"timeout"`
	MaxRetries  int           `yaml:"max_retries"`
	Concurrency int           `yaml:"concurrency"`
}

// CacheConfig holds LLM response cache configuration.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	TTL      time.Duration `yaml:"ttl"`
	Capacity uint64        `yaml:"capacity"`
}

// DedupeConfig holds the overlap-merge heuristic.
type DedupeConfig struct {
	OverlapRatio float64 `yaml:"overlap_ratio"`
}

// RepairConfig holds offset repair configuration.
type RepairConfig struct {
	Strategy string `yaml:"strategy"` // "closest" or "first"
	Fuzzy    bool   `yaml:"fuzzy"`
}

// ExportConfig holds export configuration.
type ExportConfig struct {
	Format          string `yaml:"format"` // "json", "csv", "conll"
	IncludeMetadata bool   `yaml:"include_metadata"`
}

// PricingConfig holds per-1K-token prices.
type PricingConfig struct {
	DefaultModel string                `yaml:"default_model"`
	Models       map[string]ModelPrice `yaml:"models"`
}

// ModelPrice is the USD cost per 1K tokens.
type ModelPrice struct {
	Input  float64 `yaml:"input"`
	Output float64 `yaml:"output"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // "console" or "json"
}

// MetricsConfig holds metrics export configuration.
type MetricsConfig struct {
	Textfile string `yaml:"textfile"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Chunking: ChunkingConfig{
			Size:     1000,
			Overlap:  200,
			Lookback: 100,
		},
		LLM: LLMConfig{
			Provider:    "openai",
			Model:       "gpt-4o-mini",
			APIKeyEnv:   "OPENAI_API_KEY",
			Temperature: 0.1,
			MaxTokens:   0,
			Timeout:     120 * time.Second,
			MaxRetries:  0,
			Concurrency: 1,
		},
		Cache: CacheConfig{
			Enabled:  false,
			TTL:      30 * time.Minute,
			Capacity: 1024,
		},
		Dedupe: DedupeConfig{
			OverlapRatio: 0.8,
		},
		Repair: RepairConfig{
			Strategy: "closest",
			Fuzzy:    false,
		},
		Export: ExportConfig{
			Format:          "json",
			IncludeMetadata: true,
		},
		Pricing: PricingConfig{
			DefaultModel: "gpt-4",
			Models: map[string]ModelPrice{
				"gpt-4":           {Input: 0.01, Output: 0.03},
				"gpt-4-turbo":     {Input: 0.01, Output: 0.03},
				"gpt-4o":          {Input: 0.005, Output: 0.015},
				"gpt-4o-mini":     {Input: 0.00015, Output: 0.0006},
				"gpt-3.5-turbo":   {Input: 0.0015, Output: 0.002},
				"claude-3-haiku":  {Input: 0.00025, Output: 0.00125},
				"claude-3-sonnet": {Input: 0.003, Output: 0.015},
				"claude-3-opus":   {Input: 0.015, Output: 0.075},
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "console",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return cfg, nil // Return defaults if no config file
		}
		return nil, err
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// LoadFromDir loads configuration from a directory (looks for annotator.yaml).
func LoadFromDir(dir string) (*Config, error) {
	path := filepath.Join(dir, "annotator.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	path = filepath.Join(dir, ".annotator", "config.yaml")
	if _, err := os.Stat(path); err == nil {
		return Load(path)
	}

	return DefaultConfig(), nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0644)
}

// Validate checks settings that would otherwise fail deep inside a run.
func (c *Config) Validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, %d), got %d", c.Chunking.Size, c.Chunking.Overlap)
	}
	if c.LLM.Concurrency < 1 {
		return fmt.Errorf("llm.concurrency must be at least 1, got %d", c.LLM.Concurrency)
	}
	if c.LLM.MaxRetries < 0 {
		return fmt.Errorf("llm.max_retries must not be negative, got %d", c.LLM.MaxRetries)
	}
	switch c.Repair.Strategy {
	case "closest", "first":
	default:
		return fmt.Errorf("unknown repair strategy: %s", c.Repair.Strategy)
	}
	switch c.Export.Format {
	case "json", "csv", "conll":
	default:
		return fmt.Errorf("unknown export format: %s", c.Export.Format)
	}
	if c.Dedupe.OverlapRatio <= 0 || c.Dedupe.OverlapRatio > 1 {
		return fmt.Errorf("dedupe.overlap_ratio must be in (0, 1], got %f", c.Dedupe.OverlapRatio)
	}
	return nil
}

// EffectiveMaxTokens returns the configured completion budget, or a value
// derived from the chunk size when none is set.
func (c *Config) EffectiveMaxTokens() int {
	if c.LLM.MaxTokens > 0 {
		return c.LLM.MaxTokens
	}
	return RecommendedMaxTokens(c.Chunking.Size)
}

// RecommendedMaxTokens returns a completion budget that comfortably holds the
// entity list for a chunk of the given size.
func RecommendedMaxTokens(chunkSize int) int {
	switch {
	case chunkSize <= 500:
		return 300
	case chunkSize <= 1000:
		return 400
	case chunkSize <= 2000:
		return 1000
	case chunkSize <= 3000:
		return 1400
	default:
		return 1800
	}
}

// StorePath returns the path to the annotation database.
func StorePath(dir string) string {
	return filepath.Join(dir, ".annotator", "annotations.db")
}

// EnsureDataDir ensures the .annotator directory exists.
func EnsureDataDir(dir string) error {
	return os.MkdirAll(filepath.Join(dir, ".annotator"), 0755)
}
