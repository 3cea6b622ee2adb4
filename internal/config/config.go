package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// #region types

// Config is the full process configuration.
type Config struct {
	Store       StoreConfig     `yaml:"store"`
	Embedding   EmbeddingConfig `yaml:"embedding"`
	Reasoning   ReasoningConfig `yaml:"reasoning"`
	OpenAI      OpenAIConfig    `yaml:"openai"`
	Codec       CodecConfig     `yaml:"codec"`
	Retrieval   RetrievalConfig `yaml:"retrieval"`
	Scoring     ScoringConfig   `yaml:"scoring"`
	Retry       RetryConfig     `yaml:"retry"`
	RateLimit   RateLimitConfig `yaml:"rate_limit"`
	Metrics     MetricsConfig   `yaml:"metrics"`
	DecisionLog string          `yaml:"decision_log"` // "" = off, "-" = stderr, else a file path
}

type StoreConfig struct {
	Path      string `yaml:"path"`
	Dimension int    `yaml:"dimension"` // 0 = probe the embedder once at startup
}

type EmbeddingConfig struct {
	Provider string        `yaml:"provider"` // openai | codec | hash (offline, shared words only)
	Model    string        `yaml:"model"`
	Timeout  time.Duration `yaml:"timeout"`
}

type ReasoningConfig struct {
	Provider    string        `yaml:"provider"` // openai | codec
	Model       string        `yaml:"model"`
	Timeout     time.Duration `yaml:"timeout"`
	Temperature float64       `yaml:"temperature"`
}

type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type CodecConfig struct {
	Addr string `yaml:"addr"`
}

type RetrievalConfig struct {
	TopK          int     `yaml:"top_k"`
	MinSimilarity float64 `yaml:"min_similarity"`
	MaxPolicyLen  int     `yaml:"max_policy_len"`
}

type ScoringConfig struct {
	NonCompliantMax float64 `yaml:"non_compliant_max"`
	CompliantMin    float64 `yaml:"compliant_min"`
	HighSeverity    float64 `yaml:"high_severity"`
	ExtraWeight     float64 `yaml:"extra_weight"`
}

type RetryConfig struct {
	Attempts         int           `yaml:"attempts"`
	BaseDelay        time.Duration `yaml:"base_delay"`
	MaxDelay         time.Duration `yaml:"max_delay"`
	MalformedRetries int           `yaml:"malformed_retries"`
}

type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"` // 0 = unlimited
	Burst int     `yaml:"burst"`
}

type MetricsConfig struct {
	Addr string `yaml:"addr"` // "" = no listener
}

// #endregion types

// #region defaults

// Default returns the configuration used when no file is given.
func Default() Config {
	return Config{
		Store: StoreConfig{Path: "compliance.db"},
		Embedding: EmbeddingConfig{
			Provider: "openai",
			Model:    "text-embedding-3-small",
			Timeout:  15 * time.Second,
		},
		Reasoning: ReasoningConfig{
			Provider: "openai",
			Model:    "gpt-4o-mini",
			Timeout:  30 * time.Second,
		},
		OpenAI:    OpenAIConfig{BaseURL: "https://api.openai.com/v1"},
		Codec:     CodecConfig{Addr: "localhost:50051"},
		Retrieval: RetrievalConfig{TopK: 5, MinSimilarity: 0.2},
		Scoring: ScoringConfig{
			NonCompliantMax: 4.0,
			CompliantMin:    7.0,
			HighSeverity:    6.0,
			ExtraWeight:     0.5,
		},
		Retry: RetryConfig{
			Attempts:         3,
			BaseDelay:        time.Second,
			MaxDelay:         8 * time.Second,
			MalformedRetries: 1,
		},
	}
}

// #endregion defaults

// #region load

// Load reads path (if non-empty) over the defaults, applies environment
// overrides and validates the result.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
		dec := yaml.NewDecoder(strings.NewReader(os.ExpandEnv(string(data))))
		dec.KnownFields(true)
		if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// applyEnv overrides selected fields from the environment.
func (c *Config) applyEnv() error {
	c.Store.Path = envOr("COMPLIANCE_DB", c.Store.Path)
	c.Embedding.Provider = envOr("COMPLIANCE_EMBEDDING_PROVIDER", c.Embedding.Provider)
	c.Reasoning.Provider = envOr("COMPLIANCE_REASONING_PROVIDER", c.Reasoning.Provider)
	c.OpenAI.APIKey = envOr("OPENAI_API_KEY", c.OpenAI.APIKey)
	c.OpenAI.BaseURL = envOr("OPENAI_BASE_URL", c.OpenAI.BaseURL)
	c.Codec.Addr = envOr("CODEC_ADDR", c.Codec.Addr)
	c.Metrics.Addr = envOr("COMPLIANCE_METRICS_ADDR", c.Metrics.Addr)

	if v := os.Getenv("COMPLIANCE_TOP_K"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("COMPLIANCE_TOP_K: %w", err)
		}
		c.Retrieval.TopK = n
	}
	if v := os.Getenv("COMPLIANCE_MIN_SIMILARITY"); v != "" {
		f, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("COMPLIANCE_MIN_SIMILARITY: %w", err)
		}
		c.Retrieval.MinSimilarity = f
	}
	return nil
}

func envOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// #endregion load

// #region validate

// Validate reports every invalid field at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Store.Path == "" {
		add("store.path is required")
	}
	if c.Store.Dimension < 0 {
		add("store.dimension must be >= 0, got %d", c.Store.Dimension)
	}

	switch c.Embedding.Provider {
	case "hash", "openai", "codec":
	default:
		add("embedding.provider must be hash, openai or codec, got %q", c.Embedding.Provider)
	}
	switch c.Reasoning.Provider {
	case "openai", "codec":
	default:
		add("reasoning.provider must be openai or codec, got %q", c.Reasoning.Provider)
	}
	if c.Embedding.Timeout < 0 || c.Reasoning.Timeout < 0 {
		add("timeouts must be >= 0")
	}
	if c.uses("openai") && c.OpenAI.BaseURL == "" {
		add("openai.base_url is required")
	}
	if c.uses("codec") && c.Codec.Addr == "" {
		add("codec.addr is required")
	}

	if c.Retrieval.TopK < 1 {
		add("retrieval.top_k must be >= 1, got %d", c.Retrieval.TopK)
	}
	if c.Retrieval.MinSimilarity < 0 || c.Retrieval.MinSimilarity > 1 {
		add("retrieval.min_similarity must be in [0,1], got %v", c.Retrieval.MinSimilarity)
	}
	if c.Retrieval.MaxPolicyLen < 0 {
		add("retrieval.max_policy_len must be >= 0")
	}

	s := c.Scoring
	if s.NonCompliantMax < 0 || s.CompliantMin > 10 || s.NonCompliantMax >= s.CompliantMin {
		add("scoring thresholds must satisfy 0 <= non_compliant_max < compliant_min <= 10, got %v/%v",
			s.NonCompliantMax, s.CompliantMin)
	}
	if s.ExtraWeight < 0 {
		add("scoring.extra_weight must be >= 0")
	}

	if c.Retry.Attempts < 1 {
		add("retry.attempts must be >= 1, got %d", c.Retry.Attempts)
	}
	if c.Retry.BaseDelay <= 0 {
		add("retry.base_delay must be > 0")
	}
	if c.Retry.MaxDelay < 0 {
		add("retry.max_delay must be >= 0")
	}
	if c.Retry.MalformedRetries < 0 {
		add("retry.malformed_retries must be >= 0")
	}

	if c.RateLimit.RPS < 0 {
		add("rate_limit.rps must be >= 0")
	}
	if c.RateLimit.RPS > 0 && c.RateLimit.Burst < 1 {
		add("rate_limit.burst must be >= 1 when rps is set")
	}

	if len(errs) > 0 {
		return fmt.Errorf("invalid config: %w", errors.Join(errs...))
	}
	return nil
}

func (c Config) uses(provider string) bool {
	return c.Embedding.Provider == provider || c.Reasoning.Provider == provider
}

// #endregion validate
