// Package config loads and validates the project configuration consumed
// by the Poltergeist core. The core itself never reads files directly —
// every component downstream of Load receives an already-parsed *Config.
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/poltergeist/poltergeist/internal/types"
	"gopkg.in/yaml.v3"
)

// ProjectType is an informational field describing the dominant toolchain
// of the watched project; it has no behavioral effect on the core.
type ProjectType string

const (
	ProjectSwift  ProjectType = "swift"
	ProjectNode   ProjectType = "node"
	ProjectGo     ProjectType = "go"
	ProjectCMake  ProjectType = "cmake"
	ProjectMixed  ProjectType = "mixed"
	ProjectCustom ProjectType = "custom"
)

// SchedulingConfig tunes the scheduler's parallelism and the priority
// engine's recency/focus behavior.
type SchedulingConfig struct {
	Parallelization         int     `json:"parallelization,omitempty"`
	FocusDetectionWindowMS  int     `json:"focusDetectionWindow,omitempty"`
	PriorityDecayTimeMS     int     `json:"priorityDecayTime,omitempty"`
	BuildTimeoutMultiplier  float64 `json:"buildTimeoutMultiplier,omitempty"`
}

// NotifierConfig tunes the file-watch backend.
type NotifierConfig struct {
	UseDefaultExclusions bool     `json:"useDefaultExclusions"`
	ExcludeDirs          []string `json:"excludeDirs,omitempty"`
	MaxFileEvents        int      `json:"maxFileEvents,omitempty"`
	RecrawlThreshold     int      `json:"recrawlThreshold,omitempty"`
}

// LoggingConfig tunes the ambient logger.
type LoggingConfig struct {
	Level string `json:"level,omitempty"`
	File  string `json:"file,omitempty"`
}

// Config is the top-level project configuration. Targets is kept as raw
// JSON so each entry can be decoded independently with types.ParseTarget.
type Config struct {
	Version     string            `json:"version"`
	ProjectType ProjectType       `json:"projectType,omitempty"`
	Targets     []json.RawMessage `json:"targets"`
	Scheduling  SchedulingConfig  `json:"scheduling,omitempty"`
	Notifier    NotifierConfig    `json:"notifier,omitempty"`
	Logging     LoggingConfig     `json:"logging,omitempty"`
}

const schemaVersion = "1.0"

// Load reads a config file from path, trying JSON first and falling back
// to YAML (normalized to JSON so the RawMessage-typed Targets field still
// decodes correctly), then validates it.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}

	var cfg Config
	if jsonErr := json.Unmarshal(data, &cfg); jsonErr != nil {
		var generic map[string]any
		if yamlErr := yaml.Unmarshal(data, &generic); yamlErr != nil {
			return nil, fmt.Errorf("parse config %s as JSON (%v) or YAML (%w)", path, jsonErr, yamlErr)
		}
		normalized, err := json.Marshal(generic)
		if err != nil {
			return nil, fmt.Errorf("normalize yaml config %s: %w", path, err)
		}
		if err := json.Unmarshal(normalized, &cfg); err != nil {
			return nil, fmt.Errorf("decode normalized config %s: %w", path, err)
		}
	}

	if err := Validate(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// Validate checks schema version, target-list shape, and per-target
// parseability/uniqueness.
func Validate(cfg *Config) error {
	if cfg.Version != schemaVersion {
		return fmt.Errorf("unsupported config version %q, expected %q", cfg.Version, schemaVersion)
	}
	if len(cfg.Targets) == 0 {
		return fmt.Errorf("config has no targets")
	}

	seen := make(map[string]bool, len(cfg.Targets))
	for i, raw := range cfg.Targets {
		target, err := types.ParseTarget(raw)
		if err != nil {
			return fmt.Errorf("target[%d]: %w", i, err)
		}
		if seen[target.Name] {
			return fmt.Errorf("duplicate target name %q", target.Name)
		}
		seen[target.Name] = true
	}
	return nil
}

// ParsedTargets decodes every target entry, skipping (and returning)
// those that fail to parse rather than aborting the whole list.
func (c *Config) ParsedTargets() ([]*types.Target, []error) {
	targets := make([]*types.Target, 0, len(c.Targets))
	var errs []error
	for i, raw := range c.Targets {
		t, err := types.ParseTarget(raw)
		if err != nil {
			errs = append(errs, fmt.Errorf("target[%d]: %w", i, err))
			continue
		}
		targets = append(targets, t)
	}
	return targets, errs
}

// FindTarget returns the named target, or nil if absent.
func (c *Config) FindTarget(name string) *types.Target {
	targets, _ := c.ParsedTargets()
	for _, t := range targets {
		if t.Name == name {
			return t
		}
	}
	return nil
}

// DiscoverPath searches root for a poltergeist.config.{json,yaml,yml} file.
func DiscoverPath(root string) (string, error) {
	candidates := []string{"poltergeist.config.json", "poltergeist.config.yaml", "poltergeist.config.yml"}
	for _, name := range candidates {
		p := filepath.Join(root, name)
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}
	return "", fmt.Errorf("no poltergeist.config.{json,yaml,yml} found under %s (tried: %s)", root, strings.Join(candidates, ", "))
}
