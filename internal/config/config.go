// Package config loads the tunables for the dual-loop state-tracking
// engine from a YAML file plus environment overrides.
package config

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ThresholdsConfig fixes the similarity bands used by the state tracker's
// confidence classification and its consistency limits. MinimalFloor is
// carried here but not read: the matcher's minimal filter is a fixed
// observation length, and it returns its best candidate at any similarity.
type ThresholdsConfig struct {
	High          float64 `yaml:"high"`
	Medium        float64 `yaml:"medium"`
	Low           float64 `yaml:"low"`
	MinimalFloor  float64 `yaml:"minimal_floor"`
	MaxForwardJump int    `yaml:"max_forward_jump"`
	MaxConsecutiveLow int `yaml:"max_consecutive_low"`
}

// WindowConfig configures the sliding-window memory (C4).
type WindowConfig struct {
	Capacity int `yaml:"capacity"`
}

// KnowledgeConfig configures the task knowledge store (C1).
type KnowledgeConfig struct {
	Dir string `yaml:"dir"`
}

// EmbeddingConfig configures the embedding backend used by C2.
type EmbeddingConfig struct {
	Backend   string        `yaml:"backend"` // "http" | "deterministic"
	BaseURL   string        `yaml:"base_url"`
	Path      string        `yaml:"path"`
	Model     string        `yaml:"model"`
	APIHeader string        `yaml:"api_header"`
	APIKey    string        `yaml:"api_key"`
	Dimension int           `yaml:"dimension"`
	Timeout   time.Duration `yaml:"timeout"`
	CacheDir  string        `yaml:"cache_dir"`
}

// VectorStoreConfig selects and configures the nearest-neighbour backend
// used by C2. "memory" is the mandated exact-cosine backend; "qdrant" is
// an optional accelerator that must agree with it on top-1 at this scale.
type VectorStoreConfig struct {
	Backend    string `yaml:"backend"` // "memory" | "qdrant"
	QdrantDSN  string `yaml:"qdrant_dsn"`
	Collection string `yaml:"collection"`
	Metric     string `yaml:"metric"`
}

// RedisConfig configures an optional accelerator tier for the embedding
// disk cache. Disabled by default; the disk cache alone satisfies Boundary 5.
type RedisConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// ClassifierConfig holds the query classifier (C6) locale setting. The
// classifier does not read it: its second locale is always Spanish.
type ClassifierConfig struct {
	SecondLocale string `yaml:"second_locale"` // e.g. "es"
}

// VLMConfig configures the fallback VLM client (C9).
type VLMConfig struct {
	Provider           string        `yaml:"provider"` // "anthropic" | "openai"
	Model              string        `yaml:"model"`
	APIKey             string        `yaml:"api_key"`
	BaseURL            string        `yaml:"base_url"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	FailureThreshold   int           `yaml:"failure_threshold"`
	FailureWindow      time.Duration `yaml:"failure_window"`
	CooldownPeriod     time.Duration `yaml:"cooldown_period"`
}

// SubconsciousConfig configures the background observation loop's pacing.
type SubconsciousConfig struct {
	Period time.Duration `yaml:"period"`
}

// TelemetryConfig controls whether OpenTelemetry metrics are wired up.
type TelemetryConfig struct {
	Enabled bool   `yaml:"enabled"`
	Scope   string `yaml:"scope"`
}

// LoggingConfig controls the process logger.
type LoggingConfig struct {
	Level string `yaml:"level"`
	Path  string `yaml:"path"`
}

// Config is the top-level configuration for the engine.
type Config struct {
	Knowledge    KnowledgeConfig     `yaml:"knowledge"`
	Embedding    EmbeddingConfig     `yaml:"embedding"`
	VectorStore  VectorStoreConfig   `yaml:"vector_store"`
	Redis        RedisConfig         `yaml:"redis"`
	Thresholds   ThresholdsConfig    `yaml:"thresholds"`
	Window       WindowConfig        `yaml:"window"`
	Classifier   ClassifierConfig    `yaml:"classifier"`
	VLM          VLMConfig           `yaml:"vlm"`
	Subconscious SubconsciousConfig  `yaml:"subconscious"`
	Telemetry    TelemetryConfig     `yaml:"telemetry"`
	Logging      LoggingConfig       `yaml:"logging"`
}

// Default returns the configuration fixed by the spec's Open Questions
// resolution: T_HIGH=0.70, T_MEDIUM=0.40, T_LOW=0.15, MINIMAL_FLOOR=0.15,
// max_forward_jump=3, max_consecutive_low=5, window capacity 50.
func Default() Config {
	return Config{
		Knowledge: KnowledgeConfig{Dir: "./tasks"},
		Embedding: EmbeddingConfig{
			Backend:   "deterministic",
			Path:      "/v1/embeddings",
			Model:     "local-embedding-v1",
			APIHeader: "Authorization",
			Dimension: 384,
			Timeout:   1 * time.Second,
			CacheDir:  "./.cache/embeddings",
		},
		VectorStore: VectorStoreConfig{Backend: "memory", Metric: "cosine"},
		Redis:       RedisConfig{Enabled: false, Addr: "127.0.0.1:6379"},
		Thresholds: ThresholdsConfig{
			High: 0.70, Medium: 0.40, Low: 0.15, MinimalFloor: 0.15,
			MaxForwardJump: 3, MaxConsecutiveLow: 5,
		},
		Window:     WindowConfig{Capacity: 50},
		Classifier: ClassifierConfig{SecondLocale: "es"},
		VLM: VLMConfig{
			Provider:         "anthropic",
			Timeout:          10 * time.Second,
			MaxRetries:       2,
			FailureThreshold: 5,
			FailureWindow:    60 * time.Second,
			CooldownPeriod:   30 * time.Second,
		},
		Subconscious: SubconsciousConfig{Period: 3 * time.Second},
		Telemetry:    TelemetryConfig{Enabled: false, Scope: "taskloop"},
		Logging:      LoggingConfig{Level: "info"},
	}
}

// Load reads a YAML config file layered over Default(), applying a .env
// file (if present) and environment variable overrides for secrets.
func Load(path string) (Config, error) {
	cfg := Default()

	_ = godotenv.Load() // best-effort; absence is not an error

	if path != "" {
		b, err := os.ReadFile(path)
		switch {
		case err == nil:
			if err := yaml.Unmarshal(b, &cfg); err != nil {
				return cfg, fmt.Errorf("parse config %q: %w", path, err)
			}
		case !os.IsNotExist(err):
			return cfg, fmt.Errorf("read config %q: %w", path, err)
		}
	}

	if v := os.Getenv("EMBEDDING_API_KEY"); v != "" {
		cfg.Embedding.APIKey = v
	}
	if v := os.Getenv("VLM_API_KEY"); v != "" {
		cfg.VLM.APIKey = v
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// Validate rejects configurations that would make the engine's invariants
// unenforceable.
func (c Config) Validate() error {
	if c.Thresholds.High <= c.Thresholds.Medium || c.Thresholds.Medium <= c.Thresholds.Low {
		return fmt.Errorf("config: thresholds must satisfy high > medium > low")
	}
	if c.Window.Capacity <= 0 {
		return fmt.Errorf("config: window.capacity must be positive")
	}
	if c.Thresholds.MaxForwardJump < 0 {
		return fmt.Errorf("config: thresholds.max_forward_jump must be non-negative")
	}
	return nil
}
