// Package config loads and validates the sentinel daemon's YAML
// configuration and whitelist files. Both are fatal-at-startup: a
// malformed or out-of-range document stops the daemon before it ever
// touches /proc.
package config

import (
	"fmt"
	"os"
	"runtime"

	"gopkg.in/yaml.v3"

	"github.com/baikal/sentinel/internal/analyzer"
	"github.com/baikal/sentinel/internal/whitelist"
)

// L3 holds the L3-verification tier's budget and network knobs.
type L3 struct {
	MaxPolls             int    `yaml:"max_polls"`
	PollIntervalSeconds  int    `yaml:"poll_interval_seconds"`
	BlockHeaderEndpoint  string `yaml:"block_header_endpoint"`
}

// Config is the daemon's full configuration document.
type Config struct {
	SamplingIntervalSeconds int              `yaml:"sampling_interval_seconds"`
	TimeWindowSeconds       int              `yaml:"time_window_seconds"`
	Decision                decisionSection  `yaml:"decision"`
	Metrics                 analyzer.RuleSet `yaml:"metrics"`
	L3                      L3               `yaml:"l3"`
	WorkerPoolSize          int              `yaml:"worker_pool_size"`
}

// decisionSection mirrors analyzer.DecisionRule's YAML shape at the
// document's top level, per spec.md §6 ("decision.warning_threshold"
// etc. are siblings of "metrics", not nested under it).
type decisionSection struct {
	WarningThreshold         int `yaml:"warning_threshold"`
	CriticalThreshold        int `yaml:"critical_threshold"`
	MinCategoriesForCritical int `yaml:"min_categories_for_critical"`
}

// Defaults returns the built-in configuration used when no config
// file is supplied, matching the analyzer's own defaults plus the
// L3 budget and worker pool sizing this expansion adds.
func Defaults() Config {
	rules := analyzer.Defaults()
	return Config{
		SamplingIntervalSeconds: 5,
		TimeWindowSeconds:       60,
		Decision: decisionSection{
			WarningThreshold:         rules.Decision.WarningThreshold,
			CriticalThreshold:        rules.Decision.CriticalThreshold,
			MinCategoriesForCritical: rules.Decision.MinCategoriesForCritical,
		},
		Metrics: rules,
		L3: L3{
			MaxPolls:            15,
			PollIntervalSeconds: 60,
			BlockHeaderEndpoint: "",
		},
		WorkerPoolSize: runtime.NumCPU(),
	}
}

// Load reads and validates a YAML config document from path. An empty
// path returns Defaults() unchanged.
func Load(path string) (Config, error) {
	cfg := Defaults()
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("config: read %s: %w", path, err)
	}

	// Decode over the defaults so an omitted section keeps its default
	// value rather than zeroing out.
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("config: parse %s: %w", path, err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("config: %s: %w", path, err)
	}

	// analyzer.RuleSet may have been only partially overridden by the
	// document; re-merge the Decision section into the rule set the
	// analyzer actually consumes.
	cfg.Metrics.Decision = analyzer.DecisionRule{
		WarningThreshold:         cfg.Decision.WarningThreshold,
		CriticalThreshold:        cfg.Decision.CriticalThreshold,
		MinCategoriesForCritical: cfg.Decision.MinCategoriesForCritical,
	}

	return cfg, nil
}

// Validate rejects configuration outside its documented ranges.
func (c Config) Validate() error {
	if c.SamplingIntervalSeconds < 1 {
		return fmt.Errorf("sampling_interval_seconds must be >= 1, got %d", c.SamplingIntervalSeconds)
	}
	if c.TimeWindowSeconds < 1 {
		return fmt.Errorf("time_window_seconds must be >= 1, got %d", c.TimeWindowSeconds)
	}
	if c.L3.MaxPolls < 1 {
		return fmt.Errorf("l3.max_polls must be >= 1, got %d", c.L3.MaxPolls)
	}
	if c.L3.PollIntervalSeconds < 1 {
		return fmt.Errorf("l3.poll_interval_seconds must be >= 1, got %d", c.L3.PollIntervalSeconds)
	}
	if c.WorkerPoolSize < 1 {
		return fmt.Errorf("worker_pool_size must be >= 1, got %d", c.WorkerPoolSize)
	}
	return nil
}

// LoadWhitelist reads and decodes a whitelist YAML document. An empty
// path returns an empty (always-miss) whitelist configuration.
func LoadWhitelist(path string) (whitelist.Config, error) {
	var cfg whitelist.Config
	if path == "" {
		return cfg, nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return whitelist.Config{}, fmt.Errorf("whitelist: read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return whitelist.Config{}, fmt.Errorf("whitelist: parse %s: %w", path, err)
	}
	return cfg, nil
}
