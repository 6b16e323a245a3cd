// Package config loads simfinder settings from YAML
package config

import (
	"errors"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"simfinder/engine"
	"simfinder/extractor"
	"simfinder/featurecache"
	"simfinder/scheduler"
	"simfinder/similarity"
)

const (
	BackendAuto = "auto"
	BackendCPU  = "cpu"

	DefaultThumbnailSize = 512
)

// EngineConfig holds the scan engine settings
type EngineConfig struct {
	MaxInFlight          int     `yaml:"max_in_flight"`
	Workers              int     `yaml:"workers"`
	SimilarityThreshold  float64 `yaml:"similarity_threshold"`
	GroupingThreshold    float64 `yaml:"grouping_threshold"`
	IncrementalThreshold int     `yaml:"incremental_threshold"`
	CacheMaxEntries      int     `yaml:"cache_max_entries"`
	CacheMaxBytes        int64   `yaml:"cache_max_bytes"`
	BatchMemoryBudget    int64   `yaml:"batch_memory_budget"`
	ThumbnailSize        int     `yaml:"thumbnail_size"`
	Backend              string  `yaml:"backend"`
}

// Config is the top-level configuration file. An empty Database selects
// simfinder.db next to the executable.
type Config struct {
	Database string       `yaml:"database"`
	LogFile  string       `yaml:"log_file"`
	Debug    bool         `yaml:"debug"`
	Engine   EngineConfig `yaml:"engine"`
}

// Default returns the built-in configuration
func Default() *Config {
	return &Config{
		LogFile: "simfinder.log",
		Engine: EngineConfig{
			MaxInFlight:          extractor.DefaultMaxInFlight,
			SimilarityThreshold:  similarity.DefaultThreshold,
			GroupingThreshold:    engine.DefaultGroupingThreshold,
			IncrementalThreshold: scheduler.DefaultIncrementalThreshold,
			CacheMaxEntries:      featurecache.DefaultMaxEntries,
			CacheMaxBytes:        featurecache.DefaultMaxBytes,
			ThumbnailSize:        DefaultThumbnailSize,
			Backend:              BackendAuto,
		},
	}
}

// Load reads path over the defaults. A missing file yields the defaults.
func Load(path string) (*Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return cfg, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read config %s: %w", path, err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Validate rejects out-of-range values
func (c *Config) Validate() error {
	e := c.Engine
	if e.SimilarityThreshold < 0 || e.SimilarityThreshold > 1 {
		return fmt.Errorf("similarity_threshold %v outside [0,1]", e.SimilarityThreshold)
	}
	if e.GroupingThreshold <= 0 || e.GroupingThreshold > 1 {
		return fmt.Errorf("grouping_threshold %v outside (0,1]", e.GroupingThreshold)
	}
	if e.MaxInFlight < 0 || e.Workers < 0 || e.IncrementalThreshold < 0 ||
		e.CacheMaxEntries < 0 || e.CacheMaxBytes < 0 || e.BatchMemoryBudget < 0 || e.ThumbnailSize < 0 {
		return errors.New("engine limits must not be negative")
	}
	switch e.Backend {
	case "", BackendAuto, BackendCPU:
	default:
		return fmt.Errorf("unknown backend %q", e.Backend)
	}
	return nil
}

// EngineOptions converts the engine block into engine.Options
func (c *Config) EngineOptions() engine.Options {
	return engine.Options{
		GroupingThreshold:    c.Engine.GroupingThreshold,
		IncrementalThreshold: c.Engine.IncrementalThreshold,
		MaxInFlight:          c.Engine.MaxInFlight,
		Workers:              c.Engine.Workers,
		CacheMaxEntries:      c.Engine.CacheMaxEntries,
		CacheMaxBytes:        c.Engine.CacheMaxBytes,
		BatchMemoryBudget:    c.Engine.BatchMemoryBudget,
		ForceCPU:             c.Engine.Backend == BackendCPU,
	}
}

// Save writes the configuration as YAML
func (c *Config) Save(path string) error {
	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}
