// Package config handles engine configuration.
//
// Configuration loads from an optional YAML file and from environment
// variables prefixed MIXMETRIC_, with the environment taking precedence so
// deployments can override a checked-in file without editing it.
//
// Example:
//
//	cfg, err := config.Load("mixmetric.yaml")
//	if err != nil {
//		log.Fatal(err)
//	}
//	if err := cfg.Validate(); err != nil {
//		log.Fatalf("invalid config: %v", err)
//	}
//
// Environment Variables:
//   - MIXMETRIC_METRIC_DECAY=0.5
//   - MIXMETRIC_METRIC_MAX_DISTANCE=8
//   - MIXMETRIC_SOLVER_EXACT_SUPPORT_LIMIT=64
//   - MIXMETRIC_VECTORIZER_LENIENT=true
//   - MIXMETRIC_LEARNER_SMOOTHING=1.0
//   - MIXMETRIC_KNN_CACHE_SIZE=16384
//   - MIXMETRIC_SNAPSHOT_DIR=./data/mixmetric
package config

import (
	"fmt"
	"os"
	"strconv"

	"gopkg.in/yaml.v3"
)

// Config holds all engine configuration.
type Config struct {
	Metric     MetricConfig     `yaml:"metric"`
	Solver     SolverConfig     `yaml:"solver"`
	Vectorizer VectorizerConfig `yaml:"vectorizer"`
	Learner    LearnerConfig    `yaml:"learner"`
	KNN        KNNConfig        `yaml:"knn"`
	Snapshot   SnapshotConfig   `yaml:"snapshot"`
}

// MetricConfig tunes the hierarchy distance.
type MetricConfig struct {
	// Decay is the per-level edge weight multiplier in (0, 1].
	Decay float64 `yaml:"decay"`

	// MaxDistance is reported between disconnected ingredients.
	MaxDistance float64 `yaml:"max_distance"`
}

// SolverConfig tunes the transport solver.
type SolverConfig struct {
	// ExactSupportLimit caps the support size solved exactly; larger
	// supports use the flagged greedy fallback.
	ExactSupportLimit int `yaml:"exact_support_limit"`
}

// VectorizerConfig tunes recipe vectorization.
type VectorizerConfig struct {
	// Lenient skips unusable recipes during batch vectorization instead of
	// failing the batch.
	Lenient bool `yaml:"lenient"`
}

// LearnerConfig tunes the substitution learner.
type LearnerConfig struct {
	// Smoothing is the Laplace pseudo-count.
	Smoothing float64 `yaml:"smoothing"`
}

// KNNConfig tunes the similarity engine.
type KNNConfig struct {
	// CacheSize bounds the pairwise distance memo.
	CacheSize int `yaml:"cache_size"`
}

// SnapshotConfig tunes the snapshot store.
type SnapshotConfig struct {
	Dir        string `yaml:"dir"`
	InMemory   bool   `yaml:"in_memory"`
	SyncWrites bool   `yaml:"sync_writes"`
}

// Default returns the built-in defaults.
func Default() Config {
	return Config{
		Metric:     MetricConfig{Decay: 0.5, MaxDistance: 8},
		Solver:     SolverConfig{ExactSupportLimit: 64},
		Vectorizer: VectorizerConfig{Lenient: false},
		Learner:    LearnerConfig{Smoothing: 1},
		KNN:        KNNConfig{CacheSize: 16384},
		Snapshot:   SnapshotConfig{Dir: "./data/mixmetric"},
	}
}

// Load builds a Config from defaults, then the YAML file at path (skipped
// when path is empty), then environment overrides.
func Load(path string) (Config, error) {
	cfg := Default()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("config: read %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	return cfg, nil
}

// LoadFromEnv builds a Config from defaults plus environment overrides.
func LoadFromEnv() Config {
	cfg := Default()
	cfg.applyEnv()
	return cfg
}

func (c *Config) applyEnv() {
	envFloat("MIXMETRIC_METRIC_DECAY", &c.Metric.Decay)
	envFloat("MIXMETRIC_METRIC_MAX_DISTANCE", &c.Metric.MaxDistance)
	envInt("MIXMETRIC_SOLVER_EXACT_SUPPORT_LIMIT", &c.Solver.ExactSupportLimit)
	envBool("MIXMETRIC_VECTORIZER_LENIENT", &c.Vectorizer.Lenient)
	envFloat("MIXMETRIC_LEARNER_SMOOTHING", &c.Learner.Smoothing)
	envInt("MIXMETRIC_KNN_CACHE_SIZE", &c.KNN.CacheSize)
	envString("MIXMETRIC_SNAPSHOT_DIR", &c.Snapshot.Dir)
	envBool("MIXMETRIC_SNAPSHOT_IN_MEMORY", &c.Snapshot.InMemory)
	envBool("MIXMETRIC_SNAPSHOT_SYNC_WRITES", &c.Snapshot.SyncWrites)
}

// Validate checks value ranges. Call before handing the config to the
// engine.
func (c Config) Validate() error {
	if c.Metric.Decay <= 0 || c.Metric.Decay > 1 {
		return fmt.Errorf("config: metric.decay must be in (0, 1], got %v", c.Metric.Decay)
	}
	if c.Metric.MaxDistance <= 0 {
		return fmt.Errorf("config: metric.max_distance must be positive, got %v", c.Metric.MaxDistance)
	}
	if c.Solver.ExactSupportLimit <= 0 {
		return fmt.Errorf("config: solver.exact_support_limit must be positive, got %d", c.Solver.ExactSupportLimit)
	}
	if c.Learner.Smoothing <= 0 {
		return fmt.Errorf("config: learner.smoothing must be positive, got %v", c.Learner.Smoothing)
	}
	if c.KNN.CacheSize <= 0 {
		return fmt.Errorf("config: knn.cache_size must be positive, got %d", c.KNN.CacheSize)
	}
	return nil
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envBool(key string, dst *bool) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseBool(v); err == nil {
			*dst = parsed
		}
	}
}

func envInt(key string, dst *int) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.Atoi(v); err == nil {
			*dst = parsed
		}
	}
}

func envFloat(key string, dst *float64) {
	if v := os.Getenv(key); v != "" {
		if parsed, err := strconv.ParseFloat(v, 64); err == nil {
			*dst = parsed
		}
	}
}
